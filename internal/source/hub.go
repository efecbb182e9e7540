package source

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lagless/engine/internal/event"
	"github.com/lagless/engine/internal/world"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// detectMsg is one inbound detection from the vision pipeline. Coordinates
// are normalized to [0,1]; ts is the capture timestamp in logical seconds,
// which trails delivery by the pipeline's processing latency.
type detectMsg struct {
	Type string  `json:"type"` // "hit" or "miss"
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	TS   float64 `json:"ts"`
}

// Hub accepts websocket connections from detector clients and viewers.
// Inbound detections land in a buffered channel the game loop drains once
// per frame; outbound state frames are broadcast to every connection.
type Hub struct {
	log          *zap.Logger
	events       chan event.Event
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewHub(queueSize int, writeTimeout time.Duration, log *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		log:          log,
		events:       make(chan event.Event, queueSize),
		writeTimeout: writeTimeout,
		clients:      make(map[*websocket.Conn]bool),
	}
}

// Drain returns every event received since the last call, without blocking.
func (h *Hub) Drain() []event.Event {
	var out []event.Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Push injects an event directly, bypassing the websocket path. Used by
// local input and tests.
func (h *Hub) Push(ev event.Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Warn("event queue full, dropping detection", zap.Float64("ts", ev.Timestamp))
	}
}

// ServeWS upgrades one connection and reads detections until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		h.log.Info("client disconnected", zap.String("remote", conn.RemoteAddr().String()))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m detectMsg
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		var kind event.Kind
		switch m.Type {
		case "hit":
			kind = event.KindHit
		case "miss":
			kind = event.KindMiss
		default:
			continue
		}
		h.Push(event.Event{
			Kind:      kind,
			Pos:       world.Vec2{X: clamp01(m.X), Y: clamp01(m.Y)},
			Timestamp: m.TS,
		})
	}
}

// Broadcast sends one JSON message to every connected client. Connections
// that fail to write are dropped.
func (h *Hub) Broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if h.writeTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		}
		if err := conn.WriteJSON(v); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
