package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fixedStats struct{ rooms, connections int }

func (f fixedStats) Stats() (int, int) { return f.rooms, f.connections }

type fixedBackend string

func (f fixedBackend) Backend() string { return string(f) }

func TestPing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ping", NewHealthHandler(fixedStats{rooms: 2, connections: 5}, fixedBackend("fallback")).Ping)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong","store":"fallback","rooms":2,"connections":5}`, w.Body.String())
}

func TestNewHealthHandler_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewHealthHandler(nil, fixedBackend("primary")) })
}
