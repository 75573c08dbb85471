package api

import (
	"github.com/gorilla/mux"

	"github.com/SohamRatnaparkhi/navigator-ai/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(limiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Command endpoints (rate limited)
	commands := api.PathPrefix("").Subrouter()
	commands.Use(RateLimitMiddleware(limiter))
	commands.HandleFunc("/tasks", h.StartTask).Methods("POST")
	commands.HandleFunc("/tasks/pause", h.PauseTask).Methods("POST")
	commands.HandleFunc("/tasks/resume", h.ResumeTask).Methods("POST")
	commands.HandleFunc("/tasks/stop", h.StopTask).Methods("POST")
	commands.HandleFunc("/tasks/reset", h.ResetWorkflow).Methods("POST")
	commands.HandleFunc("/actions", h.ExecuteActions).Methods("POST")

	// Status endpoint (not rate limited - frequent polling)
	api.HandleFunc("/status", h.GetStatus).Methods("GET")

	// Agent traffic (not rate limited - one POST per iteration)
	api.HandleFunc("/updates", h.ForwardUpdate).Methods("POST")

	// Sidebar state
	api.HandleFunc("/sidebar/toggle", h.ToggleSidebar).Methods("POST", "OPTIONS")
	api.HandleFunc("/sidebar/state", h.SetSidebarState).Methods("POST", "OPTIONS")

	// Websocket endpoints: inbound page agents and the UI event stream
	api.HandleFunc("/agent/ws", h.hub.HandleAgent).Methods("GET")
	api.HandleFunc("/events/ws", h.HandleEvents).Methods("GET")

	r.Use(corsMiddleware)
	r.Use(RecoverMiddleware(h.logger))

	return r
}
