package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/internal/bridge"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/broadcast"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/engine"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/gateway"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/session"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/store"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/tabs"
	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

const actionDispatchTimeout = 120 * time.Second

// Handler holds dependencies for the control API
type Handler struct {
	sessions *session.Manager
	engine   *engine.Engine
	bridge   *bridge.Bridge
	hub      *bridge.Hub
	locator  *tabs.Locator
	store    *store.Store
	bus      *broadcast.Broadcaster
	tasks    *gateway.Client
	logger   *zap.Logger

	// baseCtx outlives individual requests; engine loops started from
	// a request must not die with it
	baseCtx context.Context
}

// NewHandler creates the control API handler
func NewHandler(baseCtx context.Context, sessions *session.Manager, eng *engine.Engine, br *bridge.Bridge, hub *bridge.Hub, locator *tabs.Locator, st *store.Store, bus *broadcast.Broadcaster, tasks *gateway.Client, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		engine:   eng,
		bridge:   br,
		hub:      hub,
		locator:  locator,
		store:    st,
		bus:      bus,
		tasks:    tasks,
		logger:   logger,
		baseCtx:  baseCtx,
	}
}

// StartTask handles POST /v1/tasks
func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	taskID, err := h.sessions.Start(r.Context(), req.Task)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.engine.Begin(h.baseCtx)

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"task_id": taskID,
	})
}

// PauseTask handles POST /v1/tasks/pause
func (h *Handler) PauseTask(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Pause(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ResumeTask handles POST /v1/tasks/resume
func (h *Handler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Resume(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The loop normally survives a pause, but restart it if it exited
	if _, ok := h.sessions.Snapshot(); ok {
		h.engine.Begin(h.baseCtx)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// StopTask handles POST /v1/tasks/stop
func (h *Handler) StopTask(w http.ResponseWriter, r *http.Request) {
	finalStatus := models.StatusIdle
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Status != "" {
		finalStatus = models.SessionStatus(req.Status)
	}

	if err := h.sessions.Stop(r.Context(), finalStatus); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.hub.NotifyAll(r.Context(), models.BridgeMessage{Type: models.MsgStopAutomation})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ResetWorkflow handles POST /v1/tasks/reset
func (h *Handler) ResetWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GetStatus handles GET /v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"running":          h.engine.Running(),
		"iterations":       h.engine.Iterations(),
		"processingStatus": h.engine.Processing(),
		"isDone":           h.engine.Done(),
	}
	if sess, ok := h.sessions.Snapshot(); ok {
		status["session"] = sess
	}
	if pending, ok := h.engine.PendingUpdate(); ok {
		status["currentUpdate"] = pending
	}
	writeJSON(w, http.StatusOK, status)
}

// ExecuteActions handles POST /v1/actions: direct action dispatch,
// bypassing DOM capture
func (h *Handler) ExecuteActions(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteActionsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "actions are required")
		return
	}

	tab, err := h.locator.Resolve(r.Context())
	if err != nil {
		if errors.Is(err, tabs.ErrInvalidURL) {
			writeError(w, http.StatusConflict, "current tab cannot be automated: "+tab.URL)
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	msg, err := models.NewBridgeMessage(models.MsgExecuteActions, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), actionDispatchTimeout)
	defer cancel()

	resp, err := h.bridge.Deliver(ctx, tab.ID, msg)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": resp.Success,
		"results": resp.Results,
	})
}

// ForwardUpdate handles POST /v1/updates: a page agent posts one DOM
// capture and gets back the server's plan for it. Captures for a task
// that is no longer active are discarded.
func (h *Handler) ForwardUpdate(w http.ResponseWriter, r *http.Request) {
	var req models.DOMUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	sess, ok := h.sessions.Snapshot()
	if !ok || sess.TaskID != req.TaskID {
		writeError(w, http.StatusGone, "no active session for task "+req.TaskID)
		return
	}

	resp, err := h.tasks.SendUpdate(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ToggleSidebar handles POST /v1/sidebar/toggle
func (h *Handler) ToggleSidebar(w http.ResponseWriter, r *http.Request) {
	var minimized bool
	if err := h.store.Get(r.Context(), store.KeyIsMinimized, &minimized); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	minimized = !minimized

	if err := h.store.Set(r.Context(), store.KeyIsMinimized, minimized); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.hub.NotifyAll(r.Context(), models.BridgeMessage{Type: models.MsgToggleSidebar})

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "isMinimized": minimized})
}

// SetSidebarState handles POST /v1/sidebar/state
func (h *Handler) SetSidebarState(w http.ResponseWriter, r *http.Request) {
	var req models.SidebarStatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.store.Set(r.Context(), store.KeySidePanelState, req); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msg, err := models.NewBridgeMessage(models.MsgUpdateSidebar, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.hub.NotifyAll(r.Context(), msg)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError always answers with a decodable failure body so a waiting
// caller is never left hanging on an opaque status line
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
