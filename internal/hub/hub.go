// Package hub fans out state-change notifications to live viewer
// connections. Publishing never blocks on a slow or disconnected viewer:
// each viewer owns a bounded FIFO queue and a single writer goroutine.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Morgan141414/ViewPersonal/internal/event"
	"github.com/Morgan141414/ViewPersonal/internal/metrics"
)

// Message types multiplexed over the presence topic.
const (
	TypePresenceEvent   = "presence.event"
	TypeComplianceZone  = "compliance.zone"
	TypeComplianceZones = "compliance.zones"
	TypeResyncRequired  = "resync-required"
)

// Message is the JSON frame sent to viewers.
type Message struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Data    any    `json:"data,omitempty"`
}

// NewMessage stamps the schema version onto an outbound frame.
func NewMessage(typ string, data any) Message {
	return Message{Type: typ, Version: event.SchemaVersion, Data: data}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Viewer is one subscribed connection.
type Viewer struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan Message
	needResync atomic.Bool
	closeOnce  sync.Once
}

// Hub manages the set of live viewers.
type Hub struct {
	queueSize int
	log       *slog.Logger

	mu      sync.RWMutex
	viewers map[*Viewer]struct{}
}

// New creates a Hub whose viewers buffer up to queueSize outbound messages.
func New(queueSize int, log *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		queueSize: queueSize,
		log:       log,
		viewers:   make(map[*Viewer]struct{}),
	}
}

// Register attaches a websocket connection as a viewer and starts its reader
// and writer goroutines. The viewer is removed on any read/write error,
// close, or missed heartbeat, without affecting other viewers.
func (h *Hub) Register(conn *websocket.Conn) *Viewer {
	v := &Viewer{
		hub:  h,
		conn: conn,
		send: make(chan Message, h.queueSize),
	}
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	n := len(h.viewers)
	h.mu.Unlock()
	metrics.ViewersConnected.Set(float64(n))
	h.log.Info("viewer connected", "viewers", n)

	go v.writeLoop()
	go v.readLoop()
	return v
}

func (h *Hub) remove(v *Viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v]
	delete(h.viewers, v)
	n := len(h.viewers)
	h.mu.Unlock()
	if ok {
		metrics.ViewersConnected.Set(float64(n))
		h.log.Info("viewer disconnected", "viewers", n)
	}
}

// ViewerCount returns the number of live viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Publish enqueues msg for every viewer. When a viewer's queue is full the
// oldest queued message is dropped and the viewer is flagged for a
// resync-required marker; the publisher is never blocked and never sees
// consumer failures.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers {
		v.enqueue(msg)
	}
}

// Send enqueues a message for this viewer only (used to seed a fresh
// connection with a snapshot). Same non-blocking semantics as Publish.
func (v *Viewer) Send(msg Message) {
	v.enqueue(msg)
}

func (v *Viewer) enqueue(msg Message) {
	for {
		select {
		case v.send <- msg:
			return
		default:
		}
		// Queue full: drop the oldest queued message to make room, and make
		// sure the viewer learns it must pull a full snapshot.
		select {
		case <-v.send:
			metrics.ViewerMessagesDropped.Inc()
			if v.needResync.CompareAndSwap(false, true) {
				metrics.ResyncSignals.Inc()
			}
		default:
		}
	}
}

// writeLoop is the single writer for the connection; per-viewer delivery is
// therefore FIFO in publish order.
func (v *Viewer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.Close()
	}()
	for {
		select {
		case msg, ok := <-v.send:
			if !ok {
				return
			}
			if v.needResync.CompareAndSwap(true, false) {
				v.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := v.conn.WriteJSON(NewMessage(TypeResyncRequired, nil)); err != nil {
					return
				}
			}
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains inbound frames (viewers are subscribe-only) and enforces
// the heartbeat deadline.
func (v *Viewer) readLoop() {
	defer v.Close()
	v.conn.SetReadLimit(4096)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close detaches the viewer and closes the underlying connection. Safe to
// call from multiple goroutines.
func (v *Viewer) Close() {
	v.closeOnce.Do(func() {
		v.hub.remove(v)
		v.conn.Close()
	})
}
