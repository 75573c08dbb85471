package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message types understood by the page agent
const (
	MsgPing             = "ping"
	MsgSingleDOMProcess = "singleDOMProcess"
	MsgExecuteActions   = "executeActions"
	MsgToggleSidebar    = "toggleSidebar"
	MsgUpdateSidebar    = "updateSidebarState"
	MsgResetWorkflow    = "resetWorkflow"
	MsgStopAutomation   = "stopAutomation"
)

// BridgeMessage is the envelope delivered to the page agent. The ID
// correlates the reply on a shared connection.
type BridgeMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewBridgeMessage builds an envelope with a fresh correlation ID
func NewBridgeMessage(msgType string, payload any) (BridgeMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return BridgeMessage{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		raw = data
	}
	return BridgeMessage{ID: uuid.NewString(), Type: msgType, Payload: raw}, nil
}

// BridgeResponse is the page agent's reply to a BridgeMessage
type BridgeResponse struct {
	ID      string         `json:"id"`
	Success bool           `json:"success"`
	IsDone  bool           `json:"isDone,omitempty"`
	Error   string         `json:"error,omitempty"`
	Results []ActionResult `json:"results,omitempty"`
}

// SingleDOMProcessPayload asks the page agent for one full capture,
// server round trip, and action-execution cycle
type SingleDOMProcessPayload struct {
	TaskID string `json:"task_id"`
}

// ExecuteActionsPayload dispatches actions directly, bypassing capture
type ExecuteActionsPayload struct {
	Actions []Action `json:"actions"`
}

// SidebarStatePayload carries the sidebar open/closed state
type SidebarStatePayload struct {
	IsOpen bool `json:"isOpen"`
}
