// Package realtime streams decisions to dashboards over WebSocket.
//
// Clients connect to /v1/stream and receive every decision by default. A
// client narrows its feed by sending a Subscription as a JSON text message
// at any time, e.g. {"decisions":["BLOCK"],"minRiskScore":70}.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/fraudgate/internal/events"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/metrics"
)

// ErrBroadcastFull is returned by Emit when the hub cannot keep up.
var ErrBroadcastFull = errors.New("realtime: broadcast channel full")

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Subscription filters a client's feed. Zero values match everything.
type Subscription struct {
	Decisions    []fraud.Action    `json:"decisions"`
	Severities   []events.Severity `json:"severities"`
	Parties      []string          `json:"parties"` // sender or receiver ids
	MinRiskScore int               `json:"minRiskScore"`
	MinAmount    float64           `json:"minAmount"`
}

// Matches reports whether ev passes the filter.
func (s Subscription) Matches(ev *events.DecisionEvent) bool {
	if len(s.Decisions) > 0 && !slices.Contains(s.Decisions, ev.Decision) {
		return false
	}
	if len(s.Severities) > 0 && !slices.Contains(s.Severities, ev.Severity) {
		return false
	}
	if len(s.Parties) > 0 &&
		!slices.Contains(s.Parties, ev.SenderID) && !slices.Contains(s.Parties, ev.ReceiverID) {
		return false
	}
	if ev.RiskScore < s.MinRiskScore {
		return false
	}
	if s.MinAmount > 0 && ev.Amount < s.MinAmount {
		return false
	}
	return true
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 1000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *events.DecisionEvent
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *events.DecisionEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveStreamClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveStreamClients.Set(float64(n))
			h.logger.Debug("stream client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveStreamClients.Set(float64(n))
			h.logger.Debug("stream client disconnected", "total", n)

		case ev := <-h.broadcast:
			h.totalEvents.Add(1)
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				client.mu.RLock()
				match := client.sub.Matches(ev)
				client.mu.RUnlock()
				if !match {
					continue
				}
				select {
				case client.send <- payload:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Emit queues ev for broadcast without blocking. It lets the hub act as an
// event sink for the audit pipeline.
func (h *Hub) Emit(_ context.Context, ev events.DecisionEvent) error {
	select {
	case h.broadcast <- &ev:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// Close is a no-op; the hub stops when Run's context is cancelled.
func (h *Hub) Close() error { return nil }

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads subscription updates and pongs.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			break
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
