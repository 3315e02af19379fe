// Package feed streams layer summaries to browsers over WebSocket.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"layer-monitor/internal/defect"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message types sent to clients.
const (
	TypeSnapshot = "snapshot"
	TypeLayer    = "layer"
)

// Message is one frame pushed to clients.
type Message struct {
	Type      string                `json:"type"`
	Summaries []defect.LayerSummary `json:"summaries"`
}

// Hub fans layer summaries out to connected WebSocket clients and keeps the
// job history for late joiners.
type Hub struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[int64]*client
	history []defect.LayerSummary
	nextID  atomic.Int64

	srv *http.Server
}

// NewHub creates an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:     log.WithField("component", "feed"),
		clients: make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves /ws (live feed) and /summaries (JSON history).
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/summaries", h.handleSummaries)
	return mux
}

// Start serves the hub on addr until Close.
func (h *Hub) Start(addr string) error {
	h.mu.Lock()
	h.srv = &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}
	srv := h.srv
	h.mu.Unlock()

	h.log.WithField("addr", addr).Info("feed listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Record appends sum to the history and pushes it to every client.
func (h *Hub) Record(_ context.Context, sum defect.LayerSummary) error {
	h.mu.Lock()
	h.history = append(h.history, sum)
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	msg := Message{Type: TypeLayer, Summaries: []defect.LayerSummary{sum}}
	for _, c := range clients {
		c.send(msg)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops the server if started.
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[int64]*client)
	srv := h.srv
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

func (h *Hub) snapshot() []defect.LayerSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]defect.LayerSummary, len(h.history))
	copy(out, h.history)
	return out
}

func (h *Hub) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.snapshot()); err != nil {
		h.log.WithError(err).Warn("encode summaries")
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:     h.nextID.Add(1),
		conn:   conn,
		sendCh: make(chan Message, 64),
		done:   make(chan struct{}),
		log:    h.log,
	}

	h.mu.Lock()
	h.clients[c.id] = c
	c.send(Message{Type: TypeSnapshot, Summaries: append([]defect.LayerSummary{}, h.history...)})
	h.mu.Unlock()

	h.log.WithField("client", c.id).Debug("client connected")

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.log.WithField("client", c.id).Debug("client disconnected")
}

type client struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan Message
	done   chan struct{}
	once   sync.Once
	log    logrus.FieldLogger
}

// send drops the message when the client is too slow.
func (c *client) send(msg Message) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.log.WithField("client", c.id).Warn("dropping message, send buffer full")
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards inbound frames and returns when the peer goes away.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.WithError(err).Debug("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
