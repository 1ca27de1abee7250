package api

import (
	"net/http"
	"sync"
	"time"

	"rcie/internal"

	"github.com/gin-contrib/sse"
)

// Event is one server-sent workflow notification
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventHub fans workflow events out to connected SSE clients. Slow clients
// miss events rather than blocking the publisher.
type EventHub struct {
	clients    map[chan Event]bool
	clientsMu  sync.RWMutex
	register   chan chan Event
	unregister chan chan Event
	broadcast  chan Event
	done       chan struct{}
	closeOnce  sync.Once

	logger       *internal.Logger
	pingInterval time.Duration
}

// NewEventHub creates a hub and starts its dispatch loop. Call Close to stop it.
func NewEventHub(logger *internal.Logger) *EventHub {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	hub := &EventHub{
		clients:      make(map[chan Event]bool),
		register:     make(chan chan Event, 10),
		unregister:   make(chan chan Event, 10),
		broadcast:    make(chan Event, 100),
		done:         make(chan struct{}),
		logger:       logger,
		pingInterval: 30 * time.Second,
	}

	go hub.run()
	return hub
}

// Close stops the dispatch loop. Open streams end on their next event.
func (h *EventHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.done:
			h.clientsMu.Lock()
			for ch := range h.clients {
				close(ch)
			}
			h.clients = map[chan Event]bool{}
			h.clientsMu.Unlock()
			return

		case ch := <-h.register:
			h.clientsMu.Lock()
			h.clients[ch] = true
			h.logger.Debug("[SSE] client registered (total clients: %d)", len(h.clients))
			h.clientsMu.Unlock()

		case ch := <-h.unregister:
			h.clientsMu.Lock()
			if h.clients[ch] {
				delete(h.clients, ch)
				close(ch)
				h.logger.Debug("[SSE] client unregistered (remaining clients: %d)", len(h.clients))
			}
			h.clientsMu.Unlock()

		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for ch := range h.clients {
				select {
				case ch <- event:
				default:
					h.logger.Warn("[SSE] client channel full, skipping %s event", event.Type)
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Publish queues an event for every connected client. It never blocks.
func (h *EventHub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("[SSE] broadcast channel full, dropping %s event", event.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeHTTP streams events until the client disconnects or the hub closes.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 10)
	select {
	case h.register <- ch:
	case <-h.done:
		http.Error(w, "event hub closed", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		select {
		case h.unregister <- ch:
		case <-h.done:
		}
	}()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			if err := sse.Encode(w, sse.Event{Event: event.Type, Data: event}); err != nil {
				h.logger.Error("[SSE] failed to encode %s event: %v", event.Type, err)
				continue
			}
			flusher.Flush()

		case now := <-ticker.C:
			ping := sse.Event{Event: "ping", Data: map[string]string{"timestamp": now.Format(time.RFC3339)}}
			if err := sse.Encode(w, ping); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}
