// Package ws fans refresh notifications out to WebSocket subscribers.
// Clients receive one lightweight event per completed refresh cycle and
// are expected to pull full rows from the JSON endpoints.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"barometer/internal/domain/analytics"
	"barometer/internal/metrics"
	"barometer/pkg/logger"
)

const (
	// writeWait bounds a single frame write; a client that cannot take a
	// frame within it is dropped on the next send attempt
	writeWait = 10 * time.Second

	// clientBuffer is the per-client outbound queue. A client lagging by
	// this many refresh events is considered dead.
	clientBuffer = 8
)

// refreshEvent is the wire shape of one refresh notification. Rows carries
// the per-dataset row counts of the new snapshot.
type refreshEvent struct {
	Event      string         `json:"event"`
	AsOf       time.Time      `json:"as_of"`
	ComputedAt time.Time      `json:"computed_at"`
	Rows       map[string]int `json:"rows"`
}

// Hub owns the client set. Registration, disconnects and broadcasts are
// all serialized through Run, so no shared state needs locking.
type Hub struct {
	clients    map[*client]struct{}
	count      atomic.Int64
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader
	log        *logger.Logger
}

// NewHub creates a hub; Run must be started for clients to connect
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.With("component", "ws"),
	}
}

// Run processes hub events until ctx is done, then disconnects every
// client. Blocks; meant to be started as a goroutine next to the server.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.publishCount()
			h.log.Infow("WebSocket hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.publishCount()
			h.log.Debugw("WebSocket client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.publishCount()
				h.log.Debugw("WebSocket client disconnected", "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer; drop it rather than stall the fan-out
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.publishCount()
		}
	}
}

// ClientCount reports the connected client count as of the last hub event
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) publishCount() {
	n := len(h.clients)
	h.count.Store(int64(n))
	metrics.WebSocketClients.Set(float64(n))
}

// BroadcastRefresh encodes one refresh event and queues it for every
// connected client. Implements the refresh worker's Broadcaster; never
// blocks the refresh cycle.
func (h *Hub) BroadcastRefresh(snap *analytics.Snapshot) {
	event := refreshEvent{
		Event:      "refresh",
		AsOf:       snap.ObservedTo,
		ComputedAt: snap.ComputedAt,
		Rows: map[string]int{
			"moving_averages":   len(snap.MovingAverages),
			"hourly_changes":    len(snap.HourlyChanges),
			"volume_ranks":      len(snap.VolumeRanks),
			"cap_trends":        len(snap.CapTrends),
			"correlation_pairs": snap.Correlations.PairCount(),
			"anomalies":         len(snap.Anomalies),
			"market_health":     len(snap.Health),
		},
	}

	msg, err := json.Marshal(event)
	if err != nil {
		h.log.Errorw("Failed to encode refresh event", "error", err)
		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.log.Warnw("Broadcast queue full, dropping refresh event")
	}
}

// HandleWS upgrades the request and hands the connection to the hub
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump discards inbound frames; the protocol is push-only. Its real
// job is noticing the peer went away.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	// send closed by the hub: say goodbye properly
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
