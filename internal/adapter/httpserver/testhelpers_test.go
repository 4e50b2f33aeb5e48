package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/irpekek/broadcast-server/internal/adapter/metrics"
	"github.com/irpekek/broadcast-server/internal/directory"
	"github.com/irpekek/broadcast-server/internal/platform/config"
	"github.com/irpekek/broadcast-server/internal/registry"
	"github.com/irpekek/broadcast-server/internal/relay"
)

const greeting = `{"user":"server","message":"Connected to server"}`

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "development",
		Host:                    "127.0.0.1",
		Port:                    "5000",
		AppURL:                  "http://localhost:5000",
		LogLevel:                "info",
		LogFormat:               "text",
		ShutdownGrace:           10 * time.Millisecond,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     100,
		ConnectionsPerSecond:    1000,
		ConnectionBurst:         1000,
	}
}

type testEnv struct {
	server    *Server
	relay     *relay.Relay
	registry  *registry.Registry
	directory *directory.FileStore
	http      *httptest.Server
	wsURL     string
}

type envOption func(cfg *config.Config, checks *[]HealthCheck)

func withConfig(fn func(cfg *config.Config)) envOption {
	return func(cfg *config.Config, _ *[]HealthCheck) { fn(cfg) }
}

func withHealthChecks(hcs ...HealthCheck) envOption {
	return func(_ *config.Config, checks *[]HealthCheck) { *checks = append(*checks, hcs...) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := testConfig()
	cfg.DirectoryPath = filepath.Join(t.TempDir(), "connected-clients.json")
	var checks []HealthCheck
	for _, opt := range opts {
		opt(cfg, &checks)
	}

	clock := clockwork.NewRealClock()
	reg := registry.New(clock)
	t.Cleanup(reg.Stop)

	dir := directory.NewFileStore(cfg.DirectoryPath)
	m := metrics.New()
	r := relay.New(reg, dir, m.Relay, clock, cfg.ShutdownGrace)

	srv := NewServer(cfg, r, clock, m, checks)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:    srv,
		relay:     r,
		registry:  reg,
		directory: dir,
		http:      ts,
		wsURL:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/",
	}
}

// connect dials the relay and consumes the greeting.
func (e *testEnv) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := e.dial(t)
	require.Equal(t, greeting, readFrame(t, conn))
	return conn
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialRejected expects the handshake to be refused and returns the HTTP status.
func (e *testEnv) dialRejected(t *testing.T, header http.Header) int {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func writeFrame(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

// readClose reads until the connection ends and returns the close error.
func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected close error, got %v", err)
		return ce
	}
}

func healthOK(_ context.Context) error { return nil }
