package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
)

var ErrConnClosed = errors.New("connection is not open")

// State is the liveness state of a connection.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is a connection as seen by the registry and the relay.
type Peer interface {
	ID() uuid.UUID
	State() State
	// Send queues data for delivery. It never blocks on the network.
	Send(data []byte) error
	// Close queues a close frame behind any pending data.
	Close(code int, reason string)
}

// Conn owns one WebSocket connection and its writer goroutine.
// Outbound frames are kept in an unbounded FIFO; a slow peer is never evicted.
type Conn struct {
	id         uuid.UUID
	connection *websocket.Conn

	// clock drives the ping ticker only; socket deadlines are enforced by the network stack.
	clock    clockwork.Clock
	pongWait time.Duration

	mu         sync.Mutex
	state      State
	queue      [][]byte
	closeFrame []byte

	wakeChannel chan struct{}
	stopChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewConn wraps an upgraded connection and starts its writer.
// The caller keeps ownership of reading and must call Stop once the read side ends.
func NewConn(connection *websocket.Conn, clock clockwork.Clock) *Conn {
	return newConn(connection, clock, pongDeadline)
}

func newConn(connection *websocket.Conn, clock clockwork.Clock, pongWait time.Duration) *Conn {
	c := &Conn{
		id:          uuid.New(),
		connection:  connection,
		clock:       clock,
		pongWait:    pongWait,
		state:       StateOpen,
		wakeChannel: make(chan struct{}, 1),
		stopChannel: make(chan struct{}),
	}
	c.configurePongHandler()
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Conn) ID() uuid.UUID { return c.id }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.queue = append(c.queue, data)
	c.mu.Unlock()

	c.wake()
	return nil
}

func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.closeFrame = websocket.FormatCloseMessage(code, reason)
	c.mu.Unlock()

	c.wake()
}

// Stop marks the connection closed, releases the socket and waits for the writer to exit.
// Frames still queued are discarded. Safe to call more than once.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.queue = nil
		c.mu.Unlock()

		close(c.stopChannel)
		_ = c.connection.Close()
	})
	c.wg.Wait()
}

func (c *Conn) wake() {
	select {
	case c.wakeChannel <- struct{}{}:
	default:
	}
}

func (c *Conn) run() {
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.wg.Done()

	for {
		select {
		case <-c.wakeChannel:
			if !c.flush() {
				return
			}
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Ping failed", "connection_id", c.id.String(), "error", err)
				c.markClosed()
				return
			}
		case <-c.stopChannel:
			return
		}
	}
}

// flush drains the queue and, once it is empty, writes a pending close frame.
// Returns false when the writer should exit.
func (c *Conn) flush() bool {
	for {
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		closeFrame := c.closeFrame
		closed := c.state == StateClosed
		c.mu.Unlock()

		if closed {
			return false
		}

		if len(batch) == 0 {
			if closeFrame == nil {
				return true
			}
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.CloseMessage, closeFrame); err != nil {
				slog.Debug("Failed to write close frame", "connection_id", c.id.String(), "error", err)
			}
			c.markClosed()
			_ = c.connection.Close()
			return false
		}

		for _, msg := range batch {
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				// The read side observes the broken socket and drives the close.
				slog.Warn("Failed to write message", "connection_id", c.id.String(), "error", err)
				c.markClosed()
				return false
			}
		}
	}
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.state = StateClosed
	c.queue = nil
	c.mu.Unlock()
}

func (c *Conn) configurePongHandler() {
	c.updateReadDeadline()
	c.connection.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

func (c *Conn) updateWriteDeadline() {
	_ = c.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (c *Conn) updateReadDeadline() {
	_ = c.connection.SetReadDeadline(time.Now().Add(c.pongWait))
}
