// Package wsobserver fans execution events out to WebSocket subscribers,
// one hub per process, subscriptions keyed by run id.
//
// Grounded on the teacher's internal/infrastructure/websocket/hub.go and
// client.go: register/unregister channels, per-subscription indexes, a
// buffered send that drops events for a slow client rather than blocking the
// run.
package wsobserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one message broadcast to every subscriber of a run.
type Event struct {
	RunID  string `json:"runId"`
	NodeID string `json:"nodeId,omitempty"`
	Type   string `json:"type"`
	Data   any    `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks every connected client, indexed by the run id it subscribed
// to, and fans Broadcast calls out to all matching clients.
type Hub struct {
	mu      sync.RWMutex
	byRunID map[string]map[*client]bool
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{byRunID: make(map[string]map[*client]bool), log: log}
}

// ServeHTTP upgrades the connection and subscribes it to the run id given
// in the "runId" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	if h.byRunID[runID] == nil {
		h.byRunID[runID] = make(map[*client]bool)
	}
	h.byRunID[runID][c] = true
	h.mu.Unlock()

	go h.writePump(runID, c)
	go h.readPump(runID, c)
}

func (h *Hub) readPump(runID string, c *client) {
	defer h.unregister(runID, c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(runID string, c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister(runID, c)
			return
		}
	}
}

func (h *Hub) unregister(runID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.byRunID[runID]; ok {
		if _, ok := subs[c]; ok {
			delete(subs, c)
			close(c.send)
		}
	}
}

// Broadcast sends evt to every client subscribed to evt.RunID. For a client
// whose send buffer is full the event is dropped (the client stays
// subscribed) rather than allowed to block the workflow run that produced it.
func (h *Hub) Broadcast(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.mu.RLock()
	subs := h.byRunID[evt.RunID]
	targets := make([]*client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			h.log.Debug().Str("runId", evt.RunID).Msg("dropping event for slow websocket subscriber")
		}
	}
}
