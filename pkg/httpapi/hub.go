package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ocx/gridguardian/pkg/eventbus"
)

// ChannelHub fans out one event bus channel to every connected websocket
// client. Adapted from the teacher's websocket.DAGStreamer
// register/unregister/broadcast hub, generalized from one fixed DAG
// stream to any eventbus.Bus channel and from an allow-all CheckOrigin to
// the server's configured origin allow-list.
type ChannelHub struct {
	channel string
	sub     chan eventbus.Message

	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewChannelHub subscribes to channel on bus and prepares a websocket hub
// to broadcast every message it receives. originAllowed gates the
// upgrade's CheckOrigin check.
func NewChannelHub(bus *eventbus.Bus, channel string, originAllowed func(string) bool) *ChannelHub {
	return &ChannelHub{
		channel:    channel,
		sub:        bus.Subscribe(channel),
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

// Run drains the bus subscription and the hub's register/unregister
// channels until the subscription closes. Intended to run in its own
// goroutine for the lifetime of the process.
func (h *ChannelHub) Run() {
	for {
		select {
		case client, ok := <-h.register:
			if !ok {
				return
			}
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()

		case msg, ok := <-h.sub:
			if !ok {
				return
			}
			h.mu.RLock()
			for client := range h.clients {
				if err := client.WriteJSON(msg.Payload); err != nil {
					slog.Warn("httpapi: websocket write failed, dropping client", "channel", h.channel, "error", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades the connection and registers it with the hub.
// The read loop exists purely to notice disconnects; this channel is
// server→client only.
func (h *ChannelHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("httpapi: websocket upgrade failed", "channel", h.channel, "error", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
