package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/trading-dashboard/internal/alert"
	"github.com/trogers1052/trading-dashboard/internal/feed"
	"github.com/trogers1052/trading-dashboard/internal/logger"
)

func dialHub(t *testing.T, hub *Hub, snapshot func() []StreamEvent) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, snapshot)
	}))
	t.Cleanup(server.Close)
	t.Cleanup(hub.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) StreamEvent {
	t.Helper()
	var ev StreamEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_ChangeDuringSnapshotFollowsIt(t *testing.T) {
	hub := NewHub(logger.Discard())

	conn := dialHub(t, hub, func() []StreamEvent {
		// A change published after registration but before the snapshot is sent
		hub.Broadcast(AlertEvent(alert.Alert{ID: "a1", Message: "Pozycja AAPL zamknięta!"}, true))
		return []StreamEvent{FeedEvent(feed.FeedState{Key: "positions", Sequence: 1})}
	})

	first := readEvent(t, conn)
	assert.Equal(t, EventFeed, first.Type)
	require.NotNil(t, first.Feed)
	assert.Equal(t, "positions", first.Feed.Key)

	second := readEvent(t, conn)
	assert.Equal(t, EventAlert, second.Type)
	require.NotNil(t, second.Alert)
	assert.Equal(t, "a1", second.Alert.ID)
}

func TestHub_BroadcastAfterConnect(t *testing.T) {
	hub := NewHub(logger.Discard())
	conn := dialHub(t, hub, nil)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(FeedEvent(feed.FeedState{Key: "equity", Sequence: 4}))

	ev := readEvent(t, conn)
	assert.Equal(t, EventFeed, ev.Type)
	require.NotNil(t, ev.Feed)
	assert.Equal(t, uint64(4), ev.Feed.Sequence)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(logger.Discard())
	conn := dialHub(t, hub, nil)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
