package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Host      string `env:"HOST" default:"localhost"`
	Port      string `env:"PORT" default:"5000"`
	AppURL    string `env:"APP_URL" default:"http://localhost:5000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	DirectoryPath string        `env:"DIRECTORY_PATH" default:"connected-clients.json"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" default:"1s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionsPerSecond    float64 `env:"CONNECTIONS_PER_SECOND" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Addr is the host:port the server listens on and the client dials.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// WebSocketURL is the relay endpoint as seen by the client.
func (c *Config) WebSocketURL() string {
	return "ws://" + c.Addr() + "/"
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv != "production"
}

func validate(cfg *Config) error {
	if cfg.Host == "" {
		return errors.New("HOST is required")
	}

	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}

	if cfg.DirectoryPath == "" {
		return errors.New("DIRECTORY_PATH is required")
	}
	if cfg.ShutdownGrace < 0 {
		return errors.New("SHUTDOWN_GRACE must not be negative")
	}

	positive := map[string]float64{
		"MAX_WEBSOCKET_CONNECTIONS": float64(cfg.MaxWebSocketConnections),
		"MAX_CONNECTIONS_PER_IP":    float64(cfg.MaxConnectionsPerIP),
		"CONNECTIONS_PER_SECOND":    cfg.ConnectionsPerSecond,
		"CONNECTION_BURST":          float64(cfg.ConnectionBurst),
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}
