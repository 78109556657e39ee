package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// testServer is a minimal websocket endpoint that records inbound frames and
// can push frames to the connected client.
type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan []byte
	paths    chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		received: make(chan []byte, 16),
		paths:    make(chan string, 16),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.received <- data
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) push(t *testing.T, msg models.Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) == 0 {
		t.Fatal("No connected client")
	}
	if err := ts.conns[len(ts.conns)-1].WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
}

func newTestManager(url string) *Manager {
	return NewManager(url, 2*time.Second, Backoff{
		Base:       10 * time.Millisecond,
		Cap:        50 * time.Millisecond,
		MaxRetries: 3,
	})
}

func TestSendWhileClosed(t *testing.T) {
	m := newTestManager("ws://localhost:1")

	err := m.Send(models.Message{SenderID: 1, RecipientID: 2, Content: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if m.State() != StateClosed {
		t.Errorf("Expected state closed, got %v", m.State())
	}
}

func TestCloseIdempotent(t *testing.T) {
	m := newTestManager("ws://localhost:1")

	m.Close()
	m.Close()
	if m.State() != StateClosed {
		t.Errorf("Expected state closed after double close, got %v", m.State())
	}
}

func TestOpenAddressesByUsername(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts.wsURL())
	defer m.Close()

	identity := models.Identity{UserID: 1, Username: "alice", Token: "tok"}
	if err := m.Open(context.Background(), identity); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if m.State() != StateOpen {
		t.Fatalf("Expected state open, got %v", m.State())
	}

	select {
	case path := <-ts.paths:
		if path != "/ws/alice" {
			t.Errorf("Expected path /ws/alice, got %s", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Server never saw the connection")
	}
}

func TestOpenFailureTransitionsToErroring(t *testing.T) {
	m := newTestManager("ws://127.0.0.1:1")

	err := m.Open(context.Background(), models.Identity{UserID: 1, Username: "alice"})
	if err == nil {
		t.Fatal("Expected dial error")
	}
	if m.State() != StateErroring {
		t.Errorf("Expected state erroring, got %v", m.State())
	}

	// Explicit close leaves Erroring for Closed.
	m.Close()
	if m.State() != StateClosed {
		t.Errorf("Expected state closed, got %v", m.State())
	}
}

func TestSendTransmitsFlatRecord(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts.wsURL())
	defer m.Close()

	if err := m.Open(context.Background(), models.Identity{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	msg := models.Message{ID: 999, SenderID: 1, RecipientID: 2, Content: "hello bob"}
	if err := m.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case data := <-ts.received:
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if frame["sender_id"].(float64) != 1 || frame["recipient_id"].(float64) != 2 || frame["content"] != "hello bob" {
			t.Errorf("Unexpected frame: %v", frame)
		}
		// Local ids never go over the wire.
		if _, ok := frame["id"]; ok {
			t.Error("Wire frame must not carry the local id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Server never received the frame")
	}
}

func TestInboundDeliveredInArrivalOrder(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts.wsURL())
	defer m.Close()

	got := make(chan models.Message, 16)
	m.OnMessage(func(msg models.Message) { got <- msg })

	if err := m.Open(context.Background(), models.Identity{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ts.push(t, models.Message{ID: 1, SenderID: 2, RecipientID: 1, Content: "one"})
	ts.push(t, models.Message{ID: 2, SenderID: 2, RecipientID: 1, Content: "two"})
	ts.push(t, models.Message{ID: 3, SenderID: 2, RecipientID: 1, Content: "three"})

	want := []string{"one", "two", "three"}
	for i, content := range want {
		select {
		case msg := <-got:
			if msg.Content != content {
				t.Errorf("Frame %d: expected %q, got %q", i, content, msg.Content)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Frame %d never delivered", i)
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts.wsURL())

	if err := m.Open(context.Background(), models.Identity{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	m.Close()

	err := m.Send(models.Message{SenderID: 1, RecipientID: 2, Content: "late"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected after close, got %v", err)
	}
}

func TestStateTransitions(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts.wsURL())

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := m.Open(context.Background(), models.Identity{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	m.Close()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateOpen, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("Expected transitions %v, got %v", want, states)
		}
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts.wsURL())
	defer m.Close()

	if err := m.Open(context.Background(), models.Identity{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	<-ts.paths

	// Drop the server side; the manager should dial back in on its own.
	ts.mu.Lock()
	ts.conns[0].Close()
	ts.mu.Unlock()

	select {
	case path := <-ts.paths:
		if path != "/ws/alice" {
			t.Errorf("Expected reconnect to /ws/alice, got %s", path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Never reconnected")
	}

	deadline := time.Now().Add(3 * time.Second)
	for m.State() != StateOpen {
		if time.Now().After(deadline) {
			t.Fatalf("Expected state open after reconnect, got %v", m.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseDuringHandshakeStaysClosed(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager("ws"+strings.TrimPrefix(srv.URL, "http"), 5*time.Second, Backoff{
		Base:       10 * time.Millisecond,
		Cap:        50 * time.Millisecond,
		MaxRetries: 0,
	})

	opened := make(chan error, 1)
	go func() {
		opened <- m.Open(context.Background(), models.Identity{UserID: 1, Username: "alice"})
	}()
	<-entered

	// Logout lands while the handshake is still being held by the server.
	m.Close()
	close(release)

	select {
	case <-opened:
	case <-time.After(3 * time.Second):
		t.Fatal("Open never returned")
	}

	// The late dial must be discarded, not installed over the close.
	if m.State() != StateClosed {
		t.Fatalf("Expected state closed after close during handshake, got %v", m.State())
	}
	if err := m.Send(models.Message{SenderID: 1, RecipientID: 2, Content: "late"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
}

func TestStateHandlerMayReenterManager(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts.wsURL())

	var mu sync.Mutex
	var seen []State
	m.OnStateChange(func(s State) {
		// Reading back through the public surface must not deadlock.
		got := m.State()
		mu.Lock()
		seen = append(seen, got)
		mu.Unlock()
	})

	if err := m.Open(context.Background(), models.Identity{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	m.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("Expected 3 transitions observed, got %v", seen)
	}
	if seen[len(seen)-1] != StateClosed {
		t.Errorf("Expected final observed state closed, got %v", seen[len(seen)-1])
	}
}
