package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/irpekek/broadcast-server/internal/domain"
	"github.com/irpekek/broadcast-server/internal/platform/correlation"
	"github.com/irpekek/broadcast-server/internal/registry"
)

const maxFrameSize = 1 << 20

// handleRelay upgrades the request and pumps inbound frames into the relay until the
// connection ends. Plain HTTP requests are answered with 501.
func (s *Server) handleRelay(c echo.Context) error {
	req := c.Request()
	if !websocket.IsWebSocketUpgrade(req) {
		return c.String(http.StatusNotImplemented, http.StatusText(http.StatusNotImplemented))
	}

	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		s.metrics.WebSocket.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("WebSocket connection rejected", "remote_ip", ip, "reason", reason)
		return c.JSON(reason.Status(), map[string]string{"error": string(reason)})
	}
	defer s.limits.Release(ip)

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.metrics.WebSocket.ConnectionsRejected.WithLabelValues("handshake").Inc()
		slog.Debug("WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}
	ws.SetReadLimit(maxFrameSize)

	conn := registry.NewConn(ws, s.clock)
	ctx := correlation.WithConnectionID(req.Context(), conn.ID().String())

	if err := s.relay.Open(ctx, conn); err != nil {
		reason := "open_failed"
		if errors.Is(err, domain.ErrRelayStopped) {
			reason = "shutdown"
		}
		s.metrics.WebSocket.ConnectionsRejected.WithLabelValues(reason).Inc()
		slog.InfoContext(ctx, "Refusing connection", "remote_ip", ip, "error", err)

		conn.Close(websocket.CloseGoingAway, "Server shutting down")
		_ = drain(ws)
		conn.Stop()
		return nil
	}

	s.metrics.WebSocket.ConnectionsTotal.Inc()
	s.metrics.WebSocket.ActiveConnections.Inc()
	openedAt := s.clock.Now()
	defer func() {
		s.metrics.WebSocket.ActiveConnections.Dec()
		s.metrics.WebSocket.ConnectionDuration.Observe(s.clock.Since(openedAt).Seconds())
	}()

	err = s.readPump(ctx, ws, conn)
	conn.Stop()
	s.relay.Close(ctx, conn, err)
	return nil
}

// readPump hands every inbound data frame to the relay and returns the error that
// ended the read side.
func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, conn *registry.Conn) error {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		s.relay.Handle(ctx, conn, payload)
	}
}

// drain reads until the peer or the writer ends the connection, so control frames
// such as the close acknowledgement are processed.
func drain(ws *websocket.Conn) error {
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return err
		}
	}
}
