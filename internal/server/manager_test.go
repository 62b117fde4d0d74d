package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0" // ephemeral port
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestManager_StartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	})
	m := NewManager(handler, testConfig(), zap.NewNop())

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	// Second start on the same manager is rejected.
	require.Error(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())

	// Shutdown is idempotent.
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdownFails(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))
	require.Error(t, m.Start())
}

func TestManager_ListenFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "256.256.256.256:0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	require.Error(t, m.Start())
}
