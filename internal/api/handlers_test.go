package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/internal/bridge"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/broadcast"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/engine"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/gateway"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/ratelimit"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/session"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/store"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/tabs"
	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

type apiFixture struct {
	router   *mux.Router
	sessions *session.Manager
	stop     context.CancelFunc
}

// newAPIFixture wires the full stack against a stubbed planning server.
// No page agents are connected, so tab resolution fails fast.
func newAPIFixture(t *testing.T, limiter *ratelimit.Limiter) *apiFixture {
	t.Helper()
	logger := zap.NewNop()

	planner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tasks/create":
			json.NewEncoder(w).Encode(models.TaskCreateResponse{TaskID: "task-api-1", Status: "ok"})
		case "/tasks/update":
			json.NewEncoder(w).Encode(models.DOMUpdateResponse{
				Status: "ok",
				Result: &models.PlanResult{Actions: []models.Action{{"type": "click"}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(planner.Close)

	st, err := store.New(t.TempDir(), logger)
	require.NoError(t, err)

	tasks := gateway.NewClient(planner.URL, time.Second, logger)
	bus := broadcast.New(logger)
	hub := bridge.NewHub(logger)
	br := bridge.New(hub, logger, bridge.WithRetry(1, time.Millisecond), bridge.WithProbeTiming(10*time.Millisecond, 0))
	locator := tabs.NewLocator(hub, logger, tabs.WithRetry(1, time.Millisecond, 1))
	sessions := session.NewManager(tasks, st, bus, hub, logger)
	eng := engine.New(sessions, locator, br, st, bus, logger,
		engine.WithTiming(time.Millisecond, time.Millisecond, 100*time.Millisecond))

	runCtx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)

	h := NewHandler(runCtx, sessions, eng, br, hub, locator, st, bus, tasks, logger)
	return &apiFixture{router: h.SetupRoutes(limiter), sessions: sessions, stop: stop}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStartTask(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	rec := f.do(t, http.MethodPost, "/v1/tasks", map[string]string{"task": "find the cheapest flight"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "task-api-1", body["task_id"])
}

func TestStartTaskRequiresTask(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	rec := f.do(t, http.MethodPost, "/v1/tasks", map[string]string{"task": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestPauseWithoutSessionIsNoOp(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	rec := f.do(t, http.MethodPost, "/v1/tasks/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStopClearsSession(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	rec := f.do(t, http.MethodPost, "/v1/tasks", map[string]string{"task": "check order status"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/tasks/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := f.sessions.Snapshot()
	assert.False(t, ok, "session cleared after stop")

	rec = f.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotContains(t, body, "session")
}

func TestStatusShape(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	rec := f.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body, "running")
	assert.Contains(t, body, "iterations")
	assert.Contains(t, body, "processingStatus")
	assert.Contains(t, body, "isDone")
}

func TestExecuteActionsWithoutAgents(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	rec := f.do(t, http.MethodPost, "/v1/actions", models.ExecuteActionsPayload{
		Actions: []models.Action{{"type": "click", "selector": "#submit"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestForwardUpdateRequiresActiveSession(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	rec := f.do(t, http.MethodPost, "/v1/updates", models.DOMUpdateRequest{TaskID: "task-stale"})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestForwardUpdateReturnsPlan(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	// Start through the manager so no engine loop races the session away
	taskID, err := f.sessions.Start(context.Background(), "book a table")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/updates", models.DOMUpdateRequest{TaskID: taskID, Iterations: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.DOMUpdateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result)
	assert.Len(t, resp.Result.Actions, 1)
}

func TestToggleSidebarFlips(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	rec := f.do(t, http.MethodPost, "/v1/sidebar/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["isMinimized"])

	rec = f.do(t, http.MethodPost, "/v1/sidebar/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["isMinimized"])
}

func TestCommandRateLimit(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(60, 1))

	rec := f.do(t, http.MethodPost, "/v1/tasks/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/tasks/pause", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])

	// Status polling stays unthrottled
	rec = f.do(t, http.MethodGet, "/v1/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t, ratelimit.NewLimiter(600, 100))

	req := httptest.NewRequest(http.MethodOptions, "/v1/sidebar/toggle", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
