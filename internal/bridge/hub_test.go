package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

// fakeAgent connects to the hub like a page agent would: announce the
// tab, then echo successful replies to every message
func fakeAgent(t *testing.T, url string, tab models.Tab) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "tab", "tab": tab}))
	return conn
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleAgent))
	t.Cleanup(srv.Close)
	return hub, srv
}

func waitForTabs(t *testing.T, hub *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tabs, _ := hub.Tabs(context.Background())
		if len(tabs) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never saw %d connected tabs", n)
}

func TestHubTracksConnectedTabs(t *testing.T) {
	hub, srv := newHubServer(t)

	c1 := fakeAgent(t, srv.URL, models.Tab{ID: 1, URL: "https://a.example", Active: false})
	defer c1.Close()
	c2 := fakeAgent(t, srv.URL, models.Tab{ID: 2, URL: "https://b.example", Active: true})
	defer c2.Close()

	waitForTabs(t, hub, 2)

	tabs, err := hub.Tabs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{tabs[0].ID, tabs[1].ID})

	active, err := hub.ActiveTab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, active.ID)
}

func TestHubSendRoundTrip(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := fakeAgent(t, srv.URL, models.Tab{ID: 7, URL: "https://example.com", Active: true})
	defer conn.Close()
	waitForTabs(t, hub, 1)

	// Echo loop: reply success to whatever arrives
	go func() {
		for {
			var msg models.BridgeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			conn.WriteJSON(models.BridgeResponse{ID: msg.ID, Success: true, IsDone: true})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := hub.Send(ctx, 7, models.BridgeMessage{ID: "m1", Type: models.MsgSingleDOMProcess})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.IsDone)
}

func TestHubSendToUnknownTab(t *testing.T) {
	hub, _ := newHubServer(t)

	_, err := hub.Send(context.Background(), 42, models.BridgeMessage{ID: "m1", Type: models.MsgPing})
	assert.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestHubSendTimesOutWithoutReply(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := fakeAgent(t, srv.URL, models.Tab{ID: 3, URL: "https://example.com", Active: true})
	defer conn.Close()
	waitForTabs(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := hub.Send(ctx, 3, models.BridgeMessage{ID: "m1", Type: models.MsgPing})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHubTabAnnouncementUpdatesURL(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := fakeAgent(t, srv.URL, models.Tab{ID: 5, URL: "https://before.example", Active: true})
	defer conn.Close()
	waitForTabs(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "tab",
		"tab":  models.Tab{ID: 5, URL: "https://after.example", Active: true},
	}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tab, err := hub.ActiveTab(context.Background())
		if err == nil && tab.URL == "https://after.example" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("hub never observed the navigation")
}
