package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/irpekek/broadcast-server/internal/adapter/metrics"
	"github.com/irpekek/broadcast-server/internal/platform/config"
	"github.com/irpekek/broadcast-server/internal/registry"
)

type relayService interface {
	Open(ctx context.Context, peer registry.Peer) error
	Close(ctx context.Context, peer registry.Peer, closeErr error)
	Handle(ctx context.Context, peer registry.Peer, payload []byte)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	relay    relayService
	upgrader websocket.Upgrader
	limits   *ConnectionLimits

	metrics *metrics.Metrics

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the relay endpoint and the operational routes. /metrics serves m.
func NewServer(cfg *config.Config, relay relayService, clock clockwork.Clock, m *metrics.Metrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:   e,
		config: cfg,
		clock:  clock,
		relay:  relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		},
		limits:       NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionsPerSecond, cfg.ConnectionBurst, clock),
		metrics:      m,
		healthChecks: healthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "addr", s.config.Addr())
	if err := s.echo.Start(s.config.Addr()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests. Upgraded connections are hijacked and are not
// waited for; the relay closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}
