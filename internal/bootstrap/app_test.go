package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-codespace/internal/hub"
	memorystate "collab-codespace/internal/infra/state/memory"
	"collab-codespace/internal/registry"
	"collab-codespace/internal/service"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"ROOM_CAPACITY", "SNAPSHOT_TTL", "ENFORCE_RUN_AUTHORITY", "INDEX_PRUNE_SCHEDULE", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, registry.DefaultCapacity, cfg.RoomCapacity)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotTTL)
	assert.False(t, cfg.EnforceRunAuth)
	assert.Equal(t, "@every 30m", cfg.PruneSchedule)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ROOM_CAPACITY", "4")
	t.Setenv("SNAPSHOT_TTL", "2h")
	t.Setenv("ENFORCE_RUN_AUTHORITY", "true")
	t.Setenv("LOG_LEVEL", "verbose")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.RoomCapacity)
	assert.Equal(t, 2*time.Hour, cfg.SnapshotTTL)
	assert.True(t, cfg.EnforceRunAuth)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("ROOM_CAPACITY", "many")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("ROOM_CAPACITY", "0")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("ROOM_CAPACITY", "")
	t.Setenv("EXECUTION_TIMEOUT", "soon")
	_, err = LoadConfig()
	assert.Error(t, err)
}

type staticBackend string

func (s staticBackend) Backend() string { return string(s) }

type staticExecutor struct{}

func (staticExecutor) Execute(context.Context, string, string) (string, error) { return "ok", nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &Config{
		AppEnv:          "test",
		KeyPrefix:       "cs:",
		CORSOrigin:      "http://example.test",
		RateLimitMax:    10,
		RateLimitWindow: time.Second,
	}
	conns := registry.NewConnections()
	h := hub.NewHub(conns, registry.NewDirectory(conns, 2),
		service.NewCodespaceService(memorystate.NewMemoryStore(), time.Hour), hub.Options{})
	log := logrus.New()
	log.SetOutput(httptest.NewRecorder())
	return NewRouter(cfg, log, client, h, staticBackend("primary"), staticExecutor{})
}

func TestRouter_Routes(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong","store":"primary","rooms":0,"connections":0}`, w.Body.String())
	assert.Equal(t, "http://example.test", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodOptions, "/run-code", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/run-code", nil)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
