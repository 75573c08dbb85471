package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// msgReinject asks a connected agent to re-initialize its page hooks
const msgReinject = "reinject"

// agentFrame is the wire shape of everything an agent sends upstream:
// either a reply to a BridgeMessage (ID set) or a tab announcement
// (Type == "tab").
type agentFrame struct {
	Type    string                `json:"type,omitempty"`
	Tab     *models.Tab           `json:"tab,omitempty"`
	ID      string                `json:"id,omitempty"`
	Success bool                  `json:"success"`
	IsDone  bool                  `json:"isDone,omitempty"`
	Error   string                `json:"error,omitempty"`
	Results []models.ActionResult `json:"results,omitempty"`
}

// agentConn is one connected page agent. Writes are mutex-serialized;
// replies are routed to waiters by correlation ID.
type agentConn struct {
	tab     models.Tab
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending sync.Map // message ID -> chan models.BridgeResponse
}

func (c *agentConn) send(msg models.BridgeMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub accepts inbound page-agent websocket connections and implements
// both the bridge Transport and the tab-locator Browser view over the
// connected tabs.
type Hub struct {
	mu     sync.RWMutex
	agents map[int]*agentConn // tab ID -> connection
	logger *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		agents: make(map[int]*agentConn),
		logger: logger,
	}
}

// HandleAgent upgrades an agent connection and serves it until it closes.
// The agent identifies its tab with an initial tab announcement frame.
func (h *Hub) HandleAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade agent connection", zap.Error(err))
		return
	}
	defer conn.Close()

	// First frame must announce the tab
	var first agentFrame
	if err := conn.ReadJSON(&first); err != nil || first.Type != "tab" || first.Tab == nil {
		h.logger.Warn("agent connection without tab announcement", zap.Error(err))
		return
	}

	agent := &agentConn{tab: *first.Tab, conn: conn}

	h.mu.Lock()
	if old, ok := h.agents[agent.tab.ID]; ok {
		old.conn.Close()
	}
	h.agents[agent.tab.ID] = agent
	h.mu.Unlock()

	h.logger.Info("page agent connected",
		zap.Int("tab", agent.tab.ID),
		zap.String("url", agent.tab.URL))

	h.readLoop(agent)

	h.mu.Lock()
	if h.agents[agent.tab.ID] == agent {
		delete(h.agents, agent.tab.ID)
	}
	h.mu.Unlock()

	h.logger.Info("page agent disconnected", zap.Int("tab", agent.tab.ID))
}

func (h *Hub) readLoop(agent *agentConn) {
	for {
		var frame agentFrame
		if err := agent.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("agent read error", zap.Int("tab", agent.tab.ID), zap.Error(err))
			}
			return
		}

		switch {
		case frame.Type == "tab" && frame.Tab != nil:
			// Navigation or focus change within the tab
			h.mu.Lock()
			agent.tab = *frame.Tab
			h.mu.Unlock()

		case frame.ID != "":
			if waiter, ok := agent.pending.LoadAndDelete(frame.ID); ok {
				waiter.(chan models.BridgeResponse) <- models.BridgeResponse{
					ID:      frame.ID,
					Success: frame.Success,
					IsDone:  frame.IsDone,
					Error:   frame.Error,
					Results: frame.Results,
				}
			}
		}
	}
}

// Send delivers one message to the agent in tabID and waits for the
// correlated reply or context expiry
func (h *Hub) Send(ctx context.Context, tabID int, msg models.BridgeMessage) (models.BridgeResponse, error) {
	h.mu.RLock()
	agent, ok := h.agents[tabID]
	h.mu.RUnlock()

	if !ok {
		return models.BridgeResponse{}, ErrAgentUnavailable
	}

	waiter := make(chan models.BridgeResponse, 1)
	agent.pending.Store(msg.ID, waiter)
	defer agent.pending.Delete(msg.ID)

	if err := agent.send(msg); err != nil {
		return models.BridgeResponse{}, fmt.Errorf("failed to send to agent: %w", err)
	}

	select {
	case resp := <-waiter:
		return resp, nil
	case <-ctx.Done():
		return models.BridgeResponse{}, ctx.Err()
	}
}

// Inject asks the agent in tabID to re-initialize its page hooks. The
// page agent itself lives in the extension; the hub can only prompt a
// reconnected agent to rebuild page-side state.
func (h *Hub) Inject(ctx context.Context, tabID int) error {
	h.mu.RLock()
	agent, ok := h.agents[tabID]
	h.mu.RUnlock()

	if !ok {
		return ErrAgentUnavailable
	}

	payload, _ := json.Marshal(map[string]int{"tabId": tabID})
	return agent.send(models.BridgeMessage{
		ID:      fmt.Sprintf("reinject-%d-%d", tabID, time.Now().UnixNano()),
		Type:    msgReinject,
		Payload: payload,
	})
}

// NotifyAll sends a fire-and-forget control message to every connected
// agent. Failures are logged and swallowed.
func (h *Hub) NotifyAll(ctx context.Context, msg models.BridgeMessage) {
	h.mu.RLock()
	agents := make([]*agentConn, 0, len(h.agents))
	for _, agent := range h.agents {
		agents = append(agents, agent)
	}
	h.mu.RUnlock()

	for _, agent := range agents {
		if err := agent.send(msg); err != nil {
			h.logger.Debug("broadcast to agent failed",
				zap.Int("tab", agent.tab.ID),
				zap.Error(err))
		}
	}
}

// ActiveTab returns the connected tab flagged active
func (h *Hub) ActiveTab(ctx context.Context) (models.Tab, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, agent := range h.agents {
		if agent.tab.Active {
			return agent.tab, nil
		}
	}
	return models.Tab{}, fmt.Errorf("no active tab connected")
}

// Tabs lists every connected tab, ordered by tab ID
func (h *Hub) Tabs(ctx context.Context) ([]models.Tab, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tabs := make([]models.Tab, 0, len(h.agents))
	for _, agent := range h.agents {
		tabs = append(tabs, agent.tab)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs, nil
}
