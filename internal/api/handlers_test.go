package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/agenthub/internal/common/config"
	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/internal/registry"
	"github.com/agenthub/agenthub/internal/session"
	"github.com/agenthub/agenthub/pkg/protocol"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (f *fakeTransport) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) taskEnds() []*protocol.TaskEnd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ends []*protocol.TaskEnd
	for _, m := range f.sent {
		if end, ok := m.(*protocol.TaskEnd); ok {
			ends = append(ends, end)
		}
	}
	return ends
}

type scriptedRunner struct {
	run func(ctx context.Context, s *session.Session) (map[string]any, error)
}

func (r *scriptedRunner) Run(ctx context.Context, s *session.Session) (map[string]any, error) {
	return r.run(ctx, s)
}

func runnerFor(fn func(ctx context.Context, s *session.Session) (map[string]any, error)) map[string]session.RunnerFactory {
	return map[string]session.RunnerFactory{
		"linux": func() session.Runner { return &scriptedRunner{run: fn} },
	}
}

func newTestRouter(t *testing.T, runners map[string]session.RunnerFactory) (*gin.Engine, *registry.Registry, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := newTestLogger(t)
	reg := registry.NewRegistry(nil, log)
	mgr := session.NewManager(runners, reg, nil, 0, log)
	cfg := config.HubConfig{DefaultPlatform: "linux"}

	router := gin.New()
	SetupRoutes(router.Group("/api"), reg, mgr, nil, cfg, log)
	return router, reg, mgr
}

func addDevice(reg *registry.Registry, id string) *fakeTransport {
	ft := &fakeTransport{}
	reg.Add(&registry.Client{
		ID:        id,
		Type:      protocol.ClientTypeDevice,
		Platform:  "linux",
		Transport: ft,
	})
	return ft
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDispatch_Validation(t *testing.T) {
	router, _, _ := newTestRouter(t, session.DefaultRunners())

	tests := []struct {
		name   string
		body   string
		code   int
		detail string
	}{
		{"missing client id", `{"request":"do it"}`, http.StatusBadRequest, "Empty client ID"},
		{"missing request", `{"client_id":"dev-A"}`, http.StatusBadRequest, "Empty task content"},
		{"malformed body", `{not json`, http.StatusBadRequest, "Empty client ID"},
		{"empty body", ``, http.StatusBadRequest, "Empty client ID"},
		{"client offline", `{"client_id":"dev-A","request":"do it"}`, http.StatusNotFound, "Client not online"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/dispatch", tt.body)
			assert.Equal(t, tt.code, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.detail, resp.Detail)
		})
	}
}

func TestDispatch_ConstellationIsNotATarget(t *testing.T) {
	router, reg, _ := newTestRouter(t, session.DefaultRunners())
	reg.Add(&registry.Client{
		ID:        "orc-1",
		Type:      protocol.ClientTypeConstellation,
		Transport: &fakeTransport{},
	})

	rec := doJSON(t, router, http.MethodPost, "/api/dispatch", `{"client_id":"orc-1","request":"do it"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Client not online", resp.Detail)
}

func TestDispatch_RunsTaskToCompletion(t *testing.T) {
	router, reg, mgr := newTestRouter(t, runnerFor(func(ctx context.Context, s *session.Session) (map[string]any, error) {
		return map[string]any{"output": "done"}, nil
	}))
	ft := addDevice(reg, "dev-A")

	rec := doJSON(t, router, http.MethodPost, "/api/dispatch",
		`{"client_id":"dev-A","request":"do it","task_name":"job-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dispatched", resp.Status)
	assert.Equal(t, "job-1", resp.TaskName)
	assert.Equal(t, "dev-A", resp.ClientID)
	assert.NotEmpty(t, resp.SessionID)

	require.Eventually(t, func() bool {
		_, ok := mgr.GetResultByTask("job-1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// The executing device is told the task ended
	require.Eventually(t, func() bool {
		return len(ft.taskEnds()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	end := ft.taskEnds()[0]
	assert.Equal(t, resp.SessionID, end.SessionID)
	assert.Equal(t, protocol.TaskStatusCompleted, end.Status)
}

func TestDispatch_GeneratesTaskNameAndFreshSession(t *testing.T) {
	router, reg, _ := newTestRouter(t, runnerFor(func(ctx context.Context, s *session.Session) (map[string]any, error) {
		return nil, nil
	}))
	addDevice(reg, "dev-A")

	first := doJSON(t, router, http.MethodPost, "/api/dispatch", `{"client_id":"dev-A","request":"do it"}`)
	second := doJSON(t, router, http.MethodPost, "/api/dispatch", `{"client_id":"dev-A","request":"do it"}`)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b DispatchResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))

	assert.NotEmpty(t, a.TaskName)
	assert.NotEqual(t, a.TaskName, b.TaskName)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.NotEqual(t, a.SessionID, a.TaskName, "session ids are independent of task names")
}

func TestTaskResult_PendingUntilDone(t *testing.T) {
	release := make(chan struct{})
	router, reg, _ := newTestRouter(t, runnerFor(func(ctx context.Context, s *session.Session) (map[string]any, error) {
		<-release
		return map[string]any{"output": "finished"}, nil
	}))
	addDevice(reg, "dev-A")

	// Unknown task names are pending, not 404
	rec := doJSON(t, router, http.MethodGet, "/api/task_result/never-heard-of-it", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending TaskResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, "pending", pending.Status)
	assert.Nil(t, pending.Result)

	doJSON(t, router, http.MethodPost, "/api/dispatch",
		`{"client_id":"dev-A","request":"do it","task_name":"job-1"}`)

	rec = doJSON(t, router, http.MethodGet, "/api/task_result/job-1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, "pending", pending.Status)

	close(release)
	require.Eventually(t, func() bool {
		rec := doJSON(t, router, http.MethodGet, "/api/task_result/job-1", "")
		var resp TaskResultResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Status == "done"
	}, 2*time.Second, 5*time.Millisecond)

	rec = doJSON(t, router, http.MethodGet, "/api/task_result/job-1", "")
	var done TaskResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, map[string]any{"output": "finished"}, done.Result)
}

func TestListClients(t *testing.T) {
	router, reg, _ := newTestRouter(t, session.DefaultRunners())

	rec := doJSON(t, router, http.MethodGet, "/api/clients", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty ClientsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Empty(t, empty.OnlineClients)

	addDevice(reg, "dev-B")
	addDevice(reg, "dev-A")

	rec = doJSON(t, router, http.MethodGet, "/api/clients", "")
	var resp ClientsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"dev-A", "dev-B"}, resp.OnlineClients)
}

func TestHealth(t *testing.T) {
	router, reg, _ := newTestRouter(t, session.DefaultRunners())
	addDevice(reg, "dev-A")

	rec := doJSON(t, router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, []string{"dev-A"}, resp.OnlineClients)
}
