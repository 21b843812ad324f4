// Package integration runs the hub end to end: real HTTP server, real
// WebSocket connections, the full registry/session/gateway stack.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/agenthub/internal/api"
	"github.com/agenthub/agenthub/internal/common/config"
	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/internal/events/bus"
	"github.com/agenthub/agenthub/internal/gateway"
	"github.com/agenthub/agenthub/internal/registry"
	"github.com/agenthub/agenthub/internal/session"
)

// hubServer is a fully wired hub running on an httptest listener.
type hubServer struct {
	t        *testing.T
	server   *httptest.Server
	registry *registry.Registry
	sessions *session.Manager
}

func newHubServer(t *testing.T) *hubServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stderr",
	})
	require.NoError(t, err)

	cfg := config.HubConfig{
		RegisterTimeout: 5,
		LivenessTimeout: 30,
		SendBuffer:      64,
		DefaultPlatform: "linux",
	}

	eventBus := bus.NewMemoryEventBus(log)
	reg := registry.NewRegistry(nil, log)
	sessions := session.NewManager(nil, reg, eventBus, 0, log)
	gw := gateway.New(reg, sessions, eventBus, cfg, log)

	router := gin.New()
	router.GET("/ws", gw.HandleConnection)
	api.SetupRoutes(router.Group("/api"), reg, sessions, eventBus, cfg, log)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		sessions.Shutdown()
		server.Close()
	})

	return &hubServer{
		t:        t,
		server:   server,
		registry: reg,
		sessions: sessions,
	}
}

// postJSON posts a JSON body and decodes the JSON response.
func (h *hubServer) postJSON(path string, body any) (int, map[string]any) {
	h.t.Helper()

	data, err := json.Marshal(body)
	require.NoError(h.t, err)

	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(h.t, err)
	defer resp.Body.Close()

	return resp.StatusCode, decodeBody(h.t, resp)
}

// getJSON fetches a path and decodes the JSON response.
func (h *hubServer) getJSON(path string) (int, map[string]any) {
	h.t.Helper()

	resp, err := http.Get(h.server.URL + path)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	return resp.StatusCode, decodeBody(h.t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body),
		fmt.Sprintf("undecodable response body for %s", resp.Request.URL))
	return body
}
