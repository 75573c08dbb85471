package models

import "encoding/json"

// Action is one automation step planned by the reasoning server. The
// control plane transports it opaquely; only the page-side executor
// interprets the fields.
type Action map[string]any

// ActionResult reports the outcome of one dispatched action
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// TaskCreateRequest is the payload for POST /tasks/create
type TaskCreateRequest struct {
	Task string `json:"task"`
}

// TaskCreateResponse is the reasoning server's reply to task creation
type TaskCreateResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// DOMUpdateRequest is the payload for POST /tasks/update: the captured
// page, accumulated action results since the last update, and the tab
// landscape the server plans against.
type DOMUpdateRequest struct {
	TaskID     string          `json:"task_id"`
	DOMData    json.RawMessage `json:"dom_data,omitempty"`
	Structure  json.RawMessage `json:"structure,omitempty"`
	Result     []ActionResult  `json:"result,omitempty"`
	Iterations int             `json:"iterations"`
	DOMString  string          `json:"dom_string,omitempty"`
	Tabs       []Tab           `json:"tabs,omitempty"`
	ActiveTab  *Tab            `json:"active_tab,omitempty"`
}

// PlanResult carries the server's next action plan and completion flag
type PlanResult struct {
	Actions []Action `json:"actions,omitempty"`
	IsDone  bool     `json:"is_done,omitempty"`
}

// DOMUpdateResponse is the reasoning server's reply to a DOM update
type DOMUpdateResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  *PlanResult `json:"result,omitempty"`
}
