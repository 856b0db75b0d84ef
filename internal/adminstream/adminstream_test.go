package adminstream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gateway/internal/events"
)

func TestHubRegisterBroadcastUnregister(t *testing.T) {
	hub := New(nil)
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(events.Event{Kind: events.Close, ConnID: "abc123"})

	var le LifecycleEvent
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&le))
	assert.Equal(t, "Close", le.Kind)
	assert.Equal(t, "abc123", le.ConnID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	hub := New(nil)
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Publish(events.Event{Kind: events.Process})
	}
	// One more publish with nothing draining the channel must not block.
	done := make(chan struct{})
	go func() {
		hub.Publish(events.Event{Kind: events.Process})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}
