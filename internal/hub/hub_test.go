package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// queueViewer builds a detached viewer so queue semantics can be tested
// without a live connection. No writer goroutine drains the channel, which
// models a stalled consumer.
func queueViewer(h *Hub, depth int) *Viewer {
	v := &Viewer{hub: h, send: make(chan Message, depth)}
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	h.mu.Unlock()
	return v
}

func TestPublishNeverBlocksOnStalledViewer(t *testing.T) {
	h := New(2, nil)
	v := queueViewer(h, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Publish(NewMessage(TypePresenceEvent, i))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled viewer")
	}

	if !v.needResync.Load() {
		t.Error("overflowed viewer not flagged for resync")
	}
	if got := len(v.send); got != 2 {
		t.Errorf("queue holds %d messages, want capped at 2", got)
	}
}

func TestEnqueueDropsOldestKeepsFIFO(t *testing.T) {
	h := New(2, nil)
	v := queueViewer(h, 2)

	for i := 1; i <= 4; i++ {
		v.Send(NewMessage(TypePresenceEvent, i))
	}

	// The two newest survive, in publish order.
	first := <-v.send
	second := <-v.send
	if first.Data != 3 || second.Data != 4 {
		t.Errorf("queue = %v, %v; want 3, 4", first.Data, second.Data)
	}
}

func TestNewMessageStampsVersion(t *testing.T) {
	msg := NewMessage(TypeComplianceZone, nil)
	if msg.Version == "" || !strings.HasPrefix(msg.Version, "1.") {
		t.Errorf("version = %q, want 1.x", msg.Version)
	}
	if msg.Type != TypeComplianceZone {
		t.Errorf("type = %q", msg.Type)
	}
}

func TestViewerCountTracksRegistration(t *testing.T) {
	h := New(4, nil)
	if h.ViewerCount() != 0 {
		t.Fatalf("fresh hub count = %d", h.ViewerCount())
	}
	v := queueViewer(h, 4)
	if h.ViewerCount() != 1 {
		t.Fatalf("count after register = %d", h.ViewerCount())
	}
	h.remove(v)
	if h.ViewerCount() != 0 {
		t.Fatalf("count after remove = %d", h.ViewerCount())
	}
	// Removing twice is harmless.
	h.remove(v)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Register(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishDeliversToLiveViewer(t *testing.T) {
	h := New(8, nil)
	conn := dialTestHub(t, h)

	// Registration is asynchronous with respect to the dial returning.
	deadline := time.Now().Add(2 * time.Second)
	for h.ViewerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := NewMessage(TypePresenceEvent, map[string]any{"subject": "emp-1"})
	h.Publish(want)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Type != TypePresenceEvent || got.Version != want.Version {
		t.Errorf("frame = %+v", got)
	}
}

func TestDisconnectedViewerIsRemoved(t *testing.T) {
	h := New(8, nil)
	conn := dialTestHub(t, h)

	deadline := time.Now().Add(2 * time.Second)
	for h.ViewerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.ViewerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed viewer still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Publishing to an empty hub is a no-op.
	h.Publish(NewMessage(TypePresenceEvent, nil))
}
