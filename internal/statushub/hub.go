// Package statushub broadcasts config-reload status snapshots to admin
// websocket subscribers (spec §4.9, §5: "single-producer-many-consumer
// with a bounded queue per subscriber; producers use non-blocking offer").
package statushub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Snapshot describes the outcome of one config reload attempt, broadcast
// to every connected subscriber.
type Snapshot struct {
	At            time.Time `json:"at"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	ProviderCount int       `json:"provider_count"`
	Changes       []string  `json:"changes,omitempty"`
}

const subscriberQueueSize = 16

// Hub fans out Snapshots to any number of websocket subscribers. The zero
// value is not usable; use New.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Snapshot]struct{}
	upgrader    websocket.Upgrader
}

// New builds an empty Hub. origin checking is left permissive (gin's
// AuthMiddleware already gates admin routes).
func New() *Hub {
	return &Hub{
		subscribers: make(map[chan Snapshot]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast offers snap to every subscriber without blocking; a
// subscriber whose queue is full simply misses this snapshot (spec §5).
func (h *Hub) Broadcast(snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- snap:
		default:
			log.WithField("component", "statushub").Warn("dropping status snapshot for slow subscriber")
		}
	}
}

func (h *Hub) subscribe() chan Snapshot {
	ch := make(chan Snapshot, subscriberQueueSize)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Snapshot) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
	close(ch)
}

// ServeWS upgrades the connection and streams Snapshots to it until the
// client disconnects or the connection errors.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("statushub: websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// A reader goroutine is required so gorilla/websocket processes
	// control frames (ping/close) and notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
