package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/irpekek/broadcast-server/internal/client"
	"github.com/irpekek/broadcast-server/internal/directory"
	"github.com/irpekek/broadcast-server/internal/domain"
	"github.com/irpekek/broadcast-server/internal/platform/config"
	"github.com/irpekek/broadcast-server/internal/platform/logging"
)

func runClient(ctx context.Context, cfg *config.Config, username string) int {
	// Chat output owns stdout.
	logging.InitLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	dir := directory.NewFileStore(cfg.DirectoryPath)
	c := client.New(username, cfg.WebSocketURL(), dir, clockwork.NewRealClock(), cfg.ShutdownGrace, os.Stdin, os.Stdout)

	return clientExitCode(c.Run(ctx))
}

// clientExitCode maps a finished session to the process exit code. A taken
// username was already reported to the user and is a normal exit.
func clientExitCode(err error) int {
	if err == nil || errors.Is(err, domain.ErrUsernameTaken) {
		return 0
	}
	slog.Error("Client error", "error", err)
	return 1
}
