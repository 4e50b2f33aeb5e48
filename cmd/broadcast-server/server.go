package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/irpekek/broadcast-server/internal/adapter/httpserver"
	"github.com/irpekek/broadcast-server/internal/adapter/metrics"
	"github.com/irpekek/broadcast-server/internal/directory"
	"github.com/irpekek/broadcast-server/internal/platform/config"
	"github.com/irpekek/broadcast-server/internal/platform/logging"
	"github.com/irpekek/broadcast-server/internal/platform/version"
	"github.com/irpekek/broadcast-server/internal/registry"
	"github.com/irpekek/broadcast-server/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func runServer(ctx context.Context, cfg *config.Config) int {
	clock := clockwork.NewRealClock()

	logging.InitLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "addr", cfg.Addr(), "version", version.Get().String())

	dir := directory.NewFileStore(cfg.DirectoryPath)
	reg := registry.New(clock)
	m := metrics.New()
	chatRelay := relay.New(reg, dir, m.Relay, clock, cfg.ShutdownGrace)

	srv := httpserver.NewServer(cfg, chatRelay, clock, m, healthChecks(reg, dir))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, cleaning up...")
	case err := <-serveErr:
		slog.Error("Server error", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	chatRelay.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	reg.Stop()

	return exitCode
}

func healthChecks(reg *registry.Registry, dir *directory.FileStore) []httpserver.HealthCheck {
	return []httpserver.HealthCheck{
		{
			Name: "registry",
			Check: func(context.Context) error {
				if reg.Len() < 0 {
					return errors.New("registry not responding")
				}
				return nil
			},
		},
		{
			Name: "directory",
			Check: func(ctx context.Context) error {
				_, err := dir.Users(ctx)
				return err
			},
		},
	}
}
