package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/chesslive/game/config"
	"github.com/wricardo/mcp-training/chesslive/game/engine"
)

func TestConstants(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.Equal(t, "Chess Live Server", AppName)
}

// parseConfig runs a command carrying the server flags and returns the
// resolved config.
func parseConfig(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	var cfg config.Config
	var cfgErr error
	cmd := &cli.Command{
		Name:  "chesslive",
		Flags: serverFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, cfgErr = configFromCommand(cmd)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"chesslive"}, args...)))
	return cfg, cfgErr
}

func TestFlagDefaults(t *testing.T) {
	cfg, err := parseConfig(t)
	require.NoError(t, err)

	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, engine.DefaultDepth, cfg.Engine.Depth)
	assert.False(t, cfg.IdleSweepEnabled())
}

func TestFlagOverrides(t *testing.T) {
	cfg, err := parseConfig(t,
		"--port", "9090",
		"--engine-timeout", "3s",
		"--session-idle-timeout", "30m",
		"--inbound-rate", "5",
	)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, 5.0, cfg.InboundRate)
	assert.True(t, cfg.IdleSweepEnabled())
}

func TestEnvironmentSources(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("STOCKFISH_PATH", "/opt/stockfish")
	t.Setenv("NGROK_AUTH_TOKEN", "tok")

	cfg, err := parseConfig(t)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "/opt/stockfish", cfg.Engine.Path)
	assert.Equal(t, "tok", cfg.Ngrok.AuthToken)
}

func TestInvalidConfig(t *testing.T) {
	_, err := parseConfig(t, "--ngrok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AuthToken")

	_, err = parseConfig(t, "--engine-depth", "0")
	assert.Error(t, err)
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	logger, err := newLogger(false, path)
	require.NoError(t, err)
	logger.Info("hello", zap.String("session_id", "g1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"g1"`)
}

func newTestApplication(t *testing.T) *application {
	t.Helper()
	a, err := newApplication(config.Default(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.engine.Close)
	return a
}

func TestApplicationHandler(t *testing.T) {
	a := newTestApplication(t)
	handler := a.handler("http://example.invalid")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/sessions/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/api/bet", strings.NewReader(`{"amount": 5, "player_id": "p1"}`)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "not configured")
}

func TestMCPEndpoint(t *testing.T) {
	a := newTestApplication(t)
	handler := a.handler("http://example.invalid")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/mcp", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/mcp", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.EqualValues(t, 1, resp["id"])
	assert.Nil(t, resp["error"])
}

func TestSweepIdleSessionsStopsOnCancel(t *testing.T) {
	a := newTestApplication(t)
	a.cfg.SessionIdleTimeout = time.Millisecond
	a.cfg.SweepInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.sweepIdleSessions(ctx)
		close(done)
	}()

	_, err := a.service.JoinSession(context.Background(), "g1", "A")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := a.service.GetSession(context.Background(), "g1")
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
