package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/tempo"
)

const (
	writeWait  = time.Second
	sendBuffer = 16
)

// Envelope wraps every document sent to WebSocket clients.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans documents out to WebSocket clients. A client that cannot keep up
// is disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	status  []byte
}

// NewHub returns an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log.WithField("component", "ws"),
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler serving /ws and /api/status.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/api/status", h.serveStatus)
	return mux
}

// PublishBPM sends a BPM update to all clients.
func (h *Hub) PublishBPM(u tempo.Update) {
	h.broadcast(TopicBPM, u)
}

// PublishAudio sends a detector snapshot to all clients.
func (h *Hub) PublishAudio(t beat.Telemetry) {
	h.broadcast(TopicAudio, t)
}

// PublishStatus sends a status document to all clients and keeps it for
// /api/status.
func (h *Hub) PublishStatus(s Status) {
	b, err := json.Marshal(s)
	if err != nil {
		h.log.WithError(err).Error("could not encode status")
		return
	}
	h.mu.Lock()
	h.status = b
	h.mu.Unlock()
	h.send(TopicStatus, b)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(kind string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).WithField("type", kind).Error("could not encode")
		return
	}
	h.send(kind, b)
}

func (h *Hub) send(kind string, data []byte) {
	msg, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.drop(c)
		}
	}
}

// drop removes c. The caller holds the lock.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("could not upgrade")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.WithField("remote", r.RemoteAddr).Info("client connected")

	go h.write(c)

	// Nothing is expected from clients; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	h.drop(c)
	h.mu.Unlock()
	h.log.WithField("remote", r.RemoteAddr).Info("client disconnected")
}

func (h *Hub) write(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) serveStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	b := h.status
	h.mu.Unlock()

	if b == nil {
		http.Error(w, "no status yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
