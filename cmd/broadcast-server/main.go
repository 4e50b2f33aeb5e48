package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/irpekek/broadcast-server/internal/platform/config"
)

const usernamePrompt = "Please input username"

func main() {
	if len(os.Args) < 2 {
		return
	}

	if code := run(os.Args[1:]); code != 0 {
		os.Exit(code)
	}
}

// run dispatches the subcommand. Unknown commands do nothing.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "start":
		return runServer(ctx, setupConfig())
	case "connect":
		if len(args) < 2 || args[1] == "" {
			fmt.Println(usernamePrompt)
			return 0
		}
		return runClient(ctx, setupConfig(), args[1])
	}
	return 0
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
