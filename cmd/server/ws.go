package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/docpipe/docpipe/queue"
)

// broadcaster fans deletion job updates out to websocket clients. A slow or
// dead client is dropped rather than blocking the others.
type broadcaster struct {
	updates <-chan queue.Update

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newBroadcaster(updates <-chan queue.Update) *broadcaster {
	return &broadcaster{
		updates: updates,
		clients: make(map[*websocket.Conn]bool),
	}
}

func (b *broadcaster) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for conn := range b.clients {
				conn.Close()
			}
			b.clients = make(map[*websocket.Conn]bool)
			b.mu.Unlock()
			return
		case update, ok := <-b.updates:
			if !ok {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				slog.Error("marshaling job update", "error", err)
				continue
			}
			b.mu.Lock()
			for conn := range b.clients {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					conn.Close()
					delete(b.clients, conn)
				}
			}
			b.mu.Unlock()
		}
	}
}

func (b *broadcaster) register(conn *websocket.Conn) {
	b.mu.Lock()
	b.clients[conn] = true
	total := len(b.clients)
	b.mu.Unlock()
	slog.Info("websocket client connected", "total", total)
}

func (b *broadcaster) unregister(conn *websocket.Conn) {
	b.mu.Lock()
	if b.clients[conn] {
		delete(b.clients, conn)
		conn.Close()
	}
	total := len(b.clients)
	b.mu.Unlock()
	slog.Info("websocket client disconnected", "remaining", total)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GET /v1/deletions/updates
func (h *handler) handleDeletionUpdates(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	h.broadcaster.register(conn)

	// Read loop only detects disconnection; clients send nothing we use.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.broadcaster.unregister(conn)
				return
			}
		}
	}()
}
