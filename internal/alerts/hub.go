package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
)

// HubConfig bounds per-client buffering.
type HubConfig struct {
	QueueSize      int
	WriteTimeout   time.Duration
	OriginPatterns []string
}

// Hub fans events out to websocket observers. Each client has a bounded
// queue; when it is full the event is dropped for that client only.
type Hub struct {
	cfg HubConfig

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool

	dropped atomic.Int64
}

type subscriber struct {
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Hub{cfg: cfg, clients: map[*subscriber]struct{}{}}
}

// Publish never blocks.
func (h *Hub) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		observ.Error("hub_encode_failed", err, map[string]any{"kind": string(e.Kind)})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			observ.IncCounter("observer_dropped_total", map[string]string{"kind": string(e.Kind)})
		}
	}
}

// Clients reports connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped reports events discarded for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &subscriber{send: make(chan []byte, h.cfg.QueueSize)}
	h.clients[c] = struct{}{}
	observ.SetGauge("observer_clients", float64(len(h.clients)), nil)
	return c, true
}

func (h *Hub) unsubscribe(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	observ.SetGauge("observer_clients", float64(len(h.clients)), nil)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// ServeHTTP upgrades the request and streams events until the client
// goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		observ.Warn("hub_accept_failed", map[string]any{"error": err.Error(), "remote": r.RemoteAddr})
		return
	}
	c, ok := h.subscribe()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unsubscribe(c)

	// observers only listen; CloseRead handles pings and close frames
	ctx := conn.CloseRead(r.Context())
	observ.Log("hub_client_connected", map[string]any{"remote": r.RemoteAddr})

	for {
		select {
		case <-ctx.Done():
			observ.Log("hub_client_gone", map[string]any{"remote": r.RemoteAddr})
			return
		case data, open := <-c.send:
			if !open {
				conn.Close(websocket.StatusGoingAway, "hub closed")
				return
			}
			if err := h.write(ctx, conn, data); err != nil {
				observ.Warn("hub_write_failed", map[string]any{"error": err.Error(), "remote": r.RemoteAddr})
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
