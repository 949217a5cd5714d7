package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBroadcaster_StampAddsSequence(t *testing.T) {
	broadcaster := NewEventBroadcaster(NewClientRegistry(), zerolog.Nop())

	first := broadcaster.Stamp(EventMessage{Event: "chat.delta"})
	second := broadcaster.Stamp(EventMessage{Event: "chat.done"})
	kept := broadcaster.Stamp(EventMessage{Event: "chat.done", Seq: 99, Timestamp: 5})

	assert.Equal(t, "event", first.Type)
	assert.NotZero(t, first.Seq)
	assert.NotZero(t, first.Timestamp)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, int64(99), kept.Seq)
	assert.Equal(t, int64(5), kept.Timestamp)
}

func TestEventBroadcaster_BroadcastAssignsTypeAndSequence(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{
		ID:   "client-1",
		Conn: serverConn,
	})

	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())
	assert.Equal(t, 1, broadcaster.Broadcast("sessions.changed", map[string]interface{}{"action": "created"}))

	var event EventMessage
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientConn.ReadJSON(&event))

	assert.Equal(t, "event", event.Type)
	assert.Equal(t, "sessions.changed", event.Event)
	assert.Equal(t, map[string]interface{}{"action": "created"}, event.Data)
	assert.NotZero(t, event.Seq)
	assert.NotZero(t, event.Timestamp)
}

func TestClientRegistry_Audience(t *testing.T) {
	registry := NewClientRegistry()
	registry.Add(&Client{ID: "all"})
	registry.Add(&Client{ID: "watcher"})
	registry.Add(&Client{ID: "other"})

	require.True(t, registry.Watch("watcher", "s1"))
	require.True(t, registry.Watch("other", "s2"))
	assert.False(t, registry.Watch("ghost", "s1"))

	ids := func(clients []*Client) []string {
		var out []string
		for _, c := range clients {
			out = append(out, c.ID)
		}
		return out
	}

	tests := []struct {
		session string
		want    []string
	}{
		{"s1", []string{"all", "watcher"}},
		{"s2", []string{"all", "other"}},
		{"s3", []string{"all"}},
	}
	for _, tt := range tests {
		t.Run(tt.session, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, ids(registry.Audience(tt.session)))
		})
	}

	t.Run("unwatch widens again", func(t *testing.T) {
		assert.True(t, registry.Unwatch("other", "s2"))
		assert.False(t, registry.Unwatch("other", "s2"))
		assert.ElementsMatch(t, []string{"all", "other", "watcher"}, ids(registry.Audience("s3")))
	})

	t.Run("forget session", func(t *testing.T) {
		registry.ForgetSession("s1")
		assert.Empty(t, registry.watchers)
		assert.ElementsMatch(t, []string{"all", "other", "watcher"}, ids(registry.Audience("s1")))
	})

	t.Run("remove drops watches", func(t *testing.T) {
		require.True(t, registry.Watch("watcher", "s4"))
		assert.True(t, registry.Remove("watcher"))
		assert.False(t, registry.Remove("watcher"))
		assert.NotContains(t, registry.watchers, "s4")
	})
}

func TestClientRegistry_Snapshot(t *testing.T) {
	registry := NewClientRegistry()
	now := time.Now()
	registry.Add(&Client{ID: "old", ConnectedAt: now.Add(-time.Hour), LastActivity: now.Add(-10 * time.Minute)})
	registry.Add(&Client{ID: "new", ConnectedAt: now, LastActivity: now})
	registry.Watch("new", "b")
	registry.Watch("new", "a")

	infos := registry.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, "old", infos[0].ID)
	assert.True(t, infos[0].Idle)
	assert.Empty(t, infos[0].Watching)
	assert.Equal(t, "new", infos[1].ID)
	assert.False(t, infos[1].Idle)
	assert.Equal(t, []string{"a", "b"}, infos[1].Watching)

	registry.Touch("old")
	assert.False(t, registry.Snapshot()[0].Idle)
}

func TestEventBroadcaster_NotifySkipsOtherWatchers(t *testing.T) {
	watchConn, watchPeer, cleanupWatch := websocketConnPair(t)
	defer cleanupWatch()
	allConn, allPeer, cleanupAll := websocketConnPair(t)
	defer cleanupAll()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "watcher", Conn: watchConn})
	registry.Add(&Client{ID: "all", Conn: allConn})
	require.True(t, registry.Watch("watcher", "s1"))

	broadcaster := NewEventBroadcaster(registry, zerolog.Nop())
	assert.Equal(t, 1, broadcaster.Notify("s2", "sessions.changed", map[string]interface{}{"session_id": "s2"}))
	assert.Equal(t, 2, broadcaster.Notify("s1", "sessions.changed", map[string]interface{}{"session_id": "s1"}))

	var event EventMessage
	require.NoError(t, watchPeer.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, watchPeer.ReadJSON(&event))
	assert.Equal(t, map[string]interface{}{"session_id": "s1"}, event.Data, "first frame is the watched session")

	for _, want := range []string{"s2", "s1"} {
		require.NoError(t, allPeer.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, allPeer.ReadJSON(&event))
		assert.Equal(t, want, event.Data.(map[string]interface{})["session_id"])
	}
}

func websocketConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConnCh:
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server websocket connection")
	}

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}

	return serverConn, clientConn, cleanup
}
