package httpserver

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irpekek/broadcast-server/internal/domain"
	"github.com/irpekek/broadcast-server/internal/platform/config"
)

func TestRelay_PlainHTTPNotImplemented(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodPost, "/"},
		{http.MethodGet, "/chat"},
		{http.MethodPut, "/some/deep/path"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), tc.method, env.http.URL+tc.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
		})
	}
}

func TestRelay_GreetsNewConnection(t *testing.T) {
	env := newTestEnv(t)

	env.connect(t)

	assert.Equal(t, 1, env.registry.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.metrics.WebSocket.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.metrics.WebSocket.ConnectionsTotal))
}

func TestRelay_UpgradeOnAnyPath(t *testing.T) {
	env := newTestEnv(t)

	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL+"anything", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	assert.Equal(t, greeting, readFrame(t, conn))
}

func TestRelay_PingAnsweredOnlyToSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t)
	bob := env.connect(t)

	writeFrame(t, alice, `{"user":"alice","message":"ping"}`)
	writeFrame(t, alice, `{"user":"alice","message":"after ping"}`)

	assert.Equal(t, `{"user":"server","message":"pong"}`, readFrame(t, alice))
	assert.Equal(t, `{"user":"alice","message":"after ping"}`, readFrame(t, alice))
	// Bob's first frame is the broadcast; the pong never reached him.
	assert.Equal(t, `{"user":"alice","message":"after ping"}`, readFrame(t, bob))
}

func TestRelay_BroadcastReachesAllIncludingSender(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t)
	bob := env.connect(t)
	carol := env.connect(t)

	writeFrame(t, alice, `{"user":"alice","message":"hello"}`)

	for _, conn := range []*websocket.Conn{alice, bob, carol} {
		assert.Equal(t, `{"user":"alice","message":"hello"}`, readFrame(t, conn))
	}
}

func TestRelay_PreservesPerSenderOrder(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t)
	bob := env.connect(t)

	for i := range 50 {
		writeFrame(t, alice, `{"user":"alice","message":"`+strings.Repeat("x", i)+`"}`)
	}
	for i := range 50 {
		assert.Equal(t, `{"user":"alice","message":"`+strings.Repeat("x", i)+`"}`, readFrame(t, bob))
	}
}

func TestRelay_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t)
	bob := env.connect(t)

	writeFrame(t, alice, `not json`)
	writeFrame(t, alice, `{"foo":1}`)
	writeFrame(t, alice, `{"user":"alice","message":"still here"}`)

	assert.Equal(t, `{"user":"alice","message":"still here"}`, readFrame(t, alice))
	assert.Equal(t, `{"user":"alice","message":"still here"}`, readFrame(t, bob))
	assert.Equal(t, 2, env.registry.Len())
}

func TestRelay_ClientLeaveRemovesConnection(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t)
	bob := env.connect(t)

	notice := `{"user":"alice","message":"Disconnected"}`
	writeFrame(t, alice, notice)
	require.NoError(t, alice.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(domain.DisconnectCloseCode, notice)))

	assert.Equal(t, notice, readFrame(t, bob))
	require.Eventually(t, func() bool { return env.registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.server.metrics.WebSocket.ActiveConnections) == 1
	}, 2*time.Second, 10*time.Millisecond)

	writeFrame(t, bob, `{"user":"bob","message":"anyone?"}`)
	assert.Equal(t, `{"user":"bob","message":"anyone?"}`, readFrame(t, bob))
}

func TestRelay_ShutdownClosesEveryone(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.directory.Register(context.Background(), "alice")
	require.NoError(t, err)

	conns := []*websocket.Conn{env.connect(t), env.connect(t), env.connect(t)}

	env.relay.Shutdown(context.Background())

	for _, conn := range conns {
		ce := readClose(t, conn)
		assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
		assert.Equal(t, "Server shutting down", ce.Text)
	}
	assert.Equal(t, 0, env.registry.Len())

	exists, err := env.directory.Exists(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, exists, "directory cleared on shutdown")

	// Late arrivals are turned away without a greeting.
	late := env.dial(t)
	ce := readClose(t, late)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.metrics.WebSocket.ConnectionsRejected.WithLabelValues("shutdown")))
	assert.Equal(t, 0, env.registry.Len())
}

func TestRelay_PerIPLimit(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *config.Config) { cfg.MaxConnectionsPerIP = 1 }))

	env.connect(t)
	status := env.dialRejected(t, nil)

	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.metrics.WebSocket.ConnectionsRejected.WithLabelValues("per_ip_limit")))
}

func TestRelay_GlobalLimit(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *config.Config) { cfg.MaxWebSocketConnections = 1 }))

	env.connect(t)
	status := env.dialRejected(t, nil)

	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.metrics.WebSocket.ConnectionsRejected.WithLabelValues("global_limit")))
}

func TestRelay_SlotReleasedOnDisconnect(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *config.Config) { cfg.MaxWebSocketConnections = 1 }))

	first := env.connect(t)
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return env.server.limits.Current() == 0 }, 2*time.Second, 10*time.Millisecond)

	env.connect(t)
}

func TestRelay_RateLimit(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *config.Config) {
		cfg.ConnectionsPerSecond = 0.001
		cfg.ConnectionBurst = 1
	}))

	env.connect(t)
	status := env.dialRejected(t, nil)

	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.metrics.WebSocket.ConnectionsRejected.WithLabelValues("rate_limit")))
}

func TestRelay_ForeignOriginRejected(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *config.Config) { cfg.AppEnv = "production" }))

	status := env.dialRejected(t, http.Header{"Origin": []string{"https://evil.example"}})

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 0, env.registry.Len())
}
