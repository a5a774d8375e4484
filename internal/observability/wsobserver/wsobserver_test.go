package wsobserver

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastDeliversToSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):] + "?runId=run-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the server goroutine a moment to register the subscription
	// before broadcasting, since ServeHTTP registers synchronously but the
	// dial handshake completes from the client's perspective first.
	time.Sleep(20 * time.Millisecond)

	hub.Broadcast(Event{RunID: "run-1", NodeID: "agent", Type: "node.finished"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(msg, &got))
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, "node.finished", got.Type)
}

func TestHub_BroadcastIgnoresOtherRuns(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):] + "?runId=run-a"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	hub.Broadcast(Event{RunID: "run-b", Type: "node.finished"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}
