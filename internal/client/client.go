package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/irpekek/broadcast-server/internal/domain"
)

const (
	writeWait        = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	unregisterWait   = 5 * time.Second

	takenNotice        = "Username already taken"
	disconnectedNotice = "Disconnected from server"
)

// errRemoteClosed ends a session the server closed.
var errRemoteClosed = errors.New("server closed the connection")

type Client struct {
	username  string
	url       string
	directory domain.UserDirectory
	clock     clockwork.Clock
	grace     time.Duration

	in  io.Reader
	out io.Writer

	dialer  *websocket.Dialer
	writeMu sync.Mutex
	leaving atomic.Bool
}

// New builds a client for username that dials url. Lines are read from in; received
// messages and notices are written to out. grace is how long the client lingers after
// sending its close so the server can acknowledge it.
func New(username, url string, directory domain.UserDirectory, clock clockwork.Clock, grace time.Duration, in io.Reader, out io.Writer) *Client {
	return &Client{
		username:  username,
		url:       url,
		directory: directory,
		clock:     clock,
		grace:     grace,
		in:        in,
		out:       out,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Run logs in, connects and relays until ctx is cancelled or the server goes away.
// Cancelling ctx is the local termination signal: the client leaves gracefully and
// Run returns nil. A taken username returns domain.ErrUsernameTaken without connecting.
func (c *Client) Run(ctx context.Context) error {
	if err := c.login(ctx); err != nil {
		return err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		slog.Error("Connection error", "url", c.url, "error", err)
		_, _ = fmt.Fprintln(c.out, disconnectedNotice)
		c.unregister(ctx)
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	defer func() { _ = conn.Close() }()

	slog.Debug("Connected to server", "url", c.url, "username", c.username)

	readerDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(readerDone)
		return c.readLoop(conn)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() == nil {
			return nil
		}
		c.leave(ctx, conn, readerDone)
		return nil
	})

	// Console reads cannot be interrupted; the goroutine ends with the input or the process.
	go c.inputLoop(conn)

	err = g.Wait()
	if errors.Is(err, errRemoteClosed) {
		c.unregister(ctx)
		return nil
	}
	return err
}

func (c *Client) login(ctx context.Context) error {
	taken, err := c.directory.Exists(ctx, c.username)
	if err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if taken {
		_, _ = fmt.Fprintln(c.out, takenNotice)
		return domain.ErrUsernameTaken
	}

	if _, err := c.directory.Register(ctx, c.username); err != nil {
		return fmt.Errorf("failed to register username: %w", err)
	}
	return nil
}

// dial makes a single connection attempt. Failures are terminal for the session.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Client) unregister(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unregisterWait)
	defer cancel()

	if err := c.directory.Unregister(ctx, c.username); err != nil {
		slog.Warn("Failed to unregister username", "username", c.username, "error", err)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.leaving.Load() {
				return nil
			}
			_, _ = fmt.Fprintln(c.out, disconnectedNotice)

			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				slog.Debug("Server closed connection", "code", ce.Code, "reason", ce.Text)
				return errRemoteClosed
			}
			slog.Error("Connection error", "error", err)
			return fmt.Errorf("connection error: %w", err)
		}

		switch result := domain.ParseChatMessage(data).(type) {
		case domain.Parsed:
			_, _ = fmt.Fprintf(c.out, "%s : %s\n", result.Message.User, result.Message.Message)
		case domain.Malformed:
			slog.Debug("Ignoring malformed frame", "reason", result.Reason)
		}
	}
}

func (c *Client) inputLoop(conn *websocket.Conn) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if c.leaving.Load() {
			return
		}

		data, err := domain.NewChatMessage(c.username, scanner.Text()).Encode()
		if err != nil {
			slog.Error("Failed to encode message", "error", err)
			continue
		}
		if err := c.write(conn, websocket.TextMessage, data); err != nil {
			slog.Debug("Stopped sending input", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Failed to read input", "error", err)
	}
}

// leave releases the username, tells the server who left and closes with the
// disconnect code. It lingers for the grace delay unless the server acknowledges sooner.
func (c *Client) leave(ctx context.Context, conn *websocket.Conn, readerDone <-chan struct{}) {
	c.leaving.Store(true)
	c.unregister(ctx)

	notice, err := domain.DisconnectNotice(c.username).Encode()
	if err != nil {
		slog.Error("Failed to encode disconnect notice", "error", err)
		return
	}
	if err := c.write(conn, websocket.TextMessage, notice); err != nil {
		slog.Debug("Failed to send disconnect notice", "error", err)
	}
	closeFrame := websocket.FormatCloseMessage(domain.DisconnectCloseCode, string(notice))
	if err := c.write(conn, websocket.CloseMessage, closeFrame); err != nil {
		slog.Debug("Failed to send close frame", "error", err)
	}

	timer := c.clock.NewTimer(c.grace)
	defer timer.Stop()

	select {
	case <-timer.Chan():
	case <-readerDone:
	}
	_ = conn.Close()
}

func (c *Client) write(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(c.clock.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}
