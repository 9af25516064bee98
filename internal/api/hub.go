package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"vaultbridge.mini/vb/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientQueueLen = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub streams committed bridge events to websocket clients. Slow clients
// miss events rather than stall the node.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]chan []byte
	closed  bool
	log     *logrus.Entry
}

var _ events.Sink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(log *logrus.Entry) *Hub {
	return &Hub{clients: make(map[string]chan []byte), log: log}
}

func (h *Hub) Name() string { return "websocket" }

// Publish sends each envelope as one text frame to every connected client.
func (h *Hub) Publish(_ context.Context, batch []events.Envelope) error {
	if len(batch) == 0 {
		return nil
	}
	frames := make([][]byte, 0, len(batch))
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		frames = append(frames, data)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		for _, f := range frames {
			select {
			case ch <- f:
			default:
				h.log.WithField("client", id).Debug("client queue full, dropping event")
			}
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register() (string, chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, false
	}
	id := uuid.NewString()
	ch := make(chan []byte, clientQueueLen)
	h.clients[id] = ch
	return id, ch, true
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
}

// @Title: Event Stream
// @Route: GET /api/events
// @Description: Websocket stream of committed bridge events
// @Response: {"height": 5, "tx_hash": "...", "index": 0, "name": "SendToLiquidityEvent", "data": {...}}
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	id, ch, ok := h.register()
	if !ok {
		return
	}
	defer h.unregister(id)
	log := h.log.WithField("client", id)
	log.Info("event stream client connected")

	// The read loop services control frames and notices the peer leaving.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Info("event stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
