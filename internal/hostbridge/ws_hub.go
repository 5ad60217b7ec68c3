package hostbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"nbisland/internal/kernel"
	"nbisland/internal/notebook"
	"nbisland/internal/protocol"
)

const (
	TopicState     = "notebook.state"
	TopicAlert     = "kernel.alert"
	TopicQuery     = "query.replace"
	TopicLifecycle = "kernel.lifecycle"
)

// Event is pushed to every connected rendering client.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSHub fans events out to the host page. Publishing never blocks the
// caller: events go through a bounded queue and are dropped when it is
// full.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	seq     atomic.Uint64
	queue   chan []byte
	dropped atomic.Uint64
	logger  *slog.Logger

	queryMu   sync.RWMutex
	lastQuery string
}

func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WSHub{
		clients: map[*websocket.Conn]struct{}{},
		queue:   make(chan []byte, 256),
		logger:  logger,
	}
}

func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) Dropped() uint64 { return h.dropped.Load() }

// Publish queues one event. It reports false when the event was dropped.
func (h *WSHub) Publish(topic string, payload any) bool {
	evt := Event{
		ID:      fmt.Sprintf("evt_%d", h.seq.Add(1)),
		Type:    "event",
		Op:      topic,
		Payload: protocol.MustRaw(payload),
	}
	msg, err := json.Marshal(evt)
	if err != nil {
		return false
	}
	select {
	case h.queue <- msg:
		return true
	default:
		h.dropped.Add(1)
		h.logger.Warn("host event dropped", "topic", topic)
		return false
	}
}

// Run writes queued events to clients until ctx ends.
func (h *WSHub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-h.queue:
			h.broadcast(msg)
		}
	}
}

func (h *WSHub) broadcast(msg []byte) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		_ = c.Write(ctx, websocket.MessageText, msg)
		cancel()
	}
}

// Notify implements the dispatcher's alert sink.
func (h *WSHub) Notify(a protocol.Alert) {
	h.Publish(TopicAlert, map[string]any{
		"kind":        string(a.Kind),
		"title":       a.Title,
		"description": a.Description,
		"variant":     a.Variant,
		"packages":    a.Packages,
	})
}

// ReplaceQuery implements the query-string host.
func (h *WSHub) ReplaceQuery(encoded string) {
	h.queryMu.Lock()
	h.lastQuery = encoded
	h.queryMu.Unlock()
	h.Publish(TopicQuery, map[string]any{"query": encoded})
}

func (h *WSHub) LastQuery() string {
	h.queryMu.RLock()
	defer h.queryMu.RUnlock()
	return h.lastQuery
}

// PublishState is subscribed to the notebook store.
func (h *WSHub) PublishState(s notebook.State) {
	h.Publish(TopicState, s)
}

func (h *WSHub) PublishLifecycle(from, to kernel.State) {
	h.Publish(TopicLifecycle, map[string]any{"from": from.String(), "to": to.String()})
}
