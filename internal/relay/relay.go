package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/irpekek/broadcast-server/internal/adapter/metrics"
	"github.com/irpekek/broadcast-server/internal/domain"
	"github.com/irpekek/broadcast-server/internal/registry"
)

const shutdownReason = "Server shutting down"

type connectionRegistry interface {
	Add(peer registry.Peer) error
	Remove(peer registry.Peer) bool
	ForEach(visitor func(registry.Peer))
	CloseAll(code int, reason string) int
}

type Relay struct {
	registry  connectionRegistry
	directory domain.UserDirectory
	metrics   *metrics.RelayMetrics
	clock     clockwork.Clock
	grace     time.Duration
	stopping  atomic.Bool

	greeting []byte
	pong     []byte
}

// New builds a relay. metrics may be nil. grace is how long Shutdown waits after the
// close sweep so close frames can flush.
func New(reg connectionRegistry, directory domain.UserDirectory, m *metrics.RelayMetrics, clock clockwork.Clock, grace time.Duration) *Relay {
	return &Relay{
		registry:  reg,
		directory: directory,
		metrics:   m,
		clock:     clock,
		grace:     grace,
		greeting:  mustEncode(domain.ServerMessage(domain.GreetingText)),
		pong:      mustEncode(domain.ServerMessage(domain.PongText)),
	}
}

// Open registers a connection whose handshake completed and greets it.
// Returns domain.ErrRelayStopped once shutdown has begun; the caller must then drop the connection.
func (r *Relay) Open(ctx context.Context, peer registry.Peer) error {
	if r.stopping.Load() {
		return domain.ErrRelayStopped
	}

	if err := r.registry.Add(peer); err != nil {
		if errors.Is(err, registry.ErrRegistrySealed) || errors.Is(err, registry.ErrRegistryStopped) {
			return domain.ErrRelayStopped
		}
		return fmt.Errorf("failed to register connection: %w", err)
	}

	slog.InfoContext(ctx, "Client connected")
	r.send(ctx, peer, r.greeting)
	return nil
}

// Close removes a connection after its transport closed or failed.
// closeErr is whatever ended the read side; a peer close reason is logged.
func (r *Relay) Close(ctx context.Context, peer registry.Peer, closeErr error) {
	r.registry.Remove(peer)

	var ce *websocket.CloseError
	if errors.As(closeErr, &ce) {
		slog.InfoContext(ctx, "Client disconnected", "code", ce.Code, "reason", ce.Text)
		return
	}
	if closeErr != nil && !r.stopping.Load() {
		slog.WarnContext(ctx, "Client connection lost", "error", closeErr)
		return
	}
	slog.InfoContext(ctx, "Client disconnected")
}

// Handle processes one inbound text frame from peer.
func (r *Relay) Handle(ctx context.Context, peer registry.Peer, payload []byte) {
	switch result := domain.ParseChatMessage(payload).(type) {
	case domain.Malformed:
		slog.DebugContext(ctx, "Dropping malformed frame", "reason", result.Reason, "size", len(payload))
		if r.metrics != nil {
			r.metrics.MalformedDropped.Inc()
		}
	case domain.Parsed:
		if result.Message.IsPing() {
			r.send(ctx, peer, r.pong)
			if r.metrics != nil {
				r.metrics.PingsAnswered.Inc()
			}
			return
		}
		r.broadcast(ctx, result.Message)
	}
}

func (r *Relay) broadcast(ctx context.Context, msg domain.ChatMessage) {
	if r.stopping.Load() {
		return
	}

	data, err := msg.Encode()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode broadcast", "error", err)
		return
	}

	r.registry.ForEach(func(peer registry.Peer) {
		r.send(ctx, peer, data)
	})

	if r.metrics != nil {
		r.metrics.MessagesBroadcast.Inc()
	}
	slog.DebugContext(ctx, "Message broadcast", "user", msg.User)
}

// send queues data on peer. A peer that is no longer open is skipped, not an error.
func (r *Relay) send(ctx context.Context, peer registry.Peer, data []byte) {
	if err := peer.Send(data); err != nil {
		slog.DebugContext(ctx, "Skipping send to closed connection", "target_connection_id", peer.ID().String(), "error", err)
		if r.metrics != nil {
			r.metrics.SendFailures.Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.FramesQueued.Inc()
	}
}

// Shutdown closes every open connection, clears the user directory and waits the grace
// delay so in-flight closes flush. Later calls are no-ops. A directory failure is logged
// and does not stop the sequence.
func (r *Relay) Shutdown(ctx context.Context) {
	if !r.stopping.CompareAndSwap(false, true) {
		return
	}

	closed := r.registry.CloseAll(websocket.CloseNormalClosure, shutdownReason)
	slog.InfoContext(ctx, "Closed client connections", "connections", closed)

	if err := r.directory.ClearAll(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to clear user directory", "error", err)
	}

	timer := r.clock.NewTimer(r.grace)
	defer timer.Stop()

	select {
	case <-timer.Chan():
	case <-ctx.Done():
		slog.WarnContext(ctx, "Shutdown grace period cut short", "error", ctx.Err())
	}

	slog.InfoContext(ctx, "Server shutdown")
}

func mustEncode(msg domain.ChatMessage) []byte {
	data, err := msg.Encode()
	if err != nil {
		panic(err)
	}
	return data
}
