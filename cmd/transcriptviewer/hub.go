package main

import (
	"encoding/json"
	"log"
	"sync"
)

// viewerEvent is one Kafka record forwarded to browsers.
type viewerEvent struct {
	Topic   string          `json:"topic"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// viewer is a connected browser. Only the hub goroutine calls send.
type viewer interface {
	WriteJSON(v any) error
	Close() error
}

// Hub fans Kafka events out to connected viewers.
type Hub struct {
	clients    map[viewer]bool
	broadcast  chan viewerEvent
	register   chan viewer
	unregister chan viewer
	quit       chan struct{}

	mu    sync.RWMutex
	count int
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[viewer]bool),
		broadcast:  make(chan viewerEvent, 100),
		register:   make(chan viewer),
		unregister: make(chan viewer),
		quit:       make(chan struct{}),
	}
}

// run owns the client set. It returns when stop is called.
func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
			h.setCount(len(h.clients))
			log.Printf("Viewer connected. Total: %d", len(h.clients))

		case conn := <-h.unregister:
			if h.clients[conn] {
				delete(h.clients, conn)
				conn.Close()
				h.setCount(len(h.clients))
				log.Printf("Viewer disconnected. Total: %d", len(h.clients))
			}

		case event := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Printf("Write error: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.setCount(len(h.clients))

		case <-h.quit:
			for conn := range h.clients {
				conn.Close()
			}
			return
		}
	}
}

func (h *Hub) stop() {
	close(h.quit)
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// clientCount returns the number of connected viewers.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
