package statusws

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user-none/emubridge/logging"
	"github.com/user-none/emubridge/session"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func waitClients(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", b.ClientCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBroadcaster_Publish(t *testing.T) {
	b := NewBroadcaster(logging.New(io.Discard))
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	defer b.Close()

	conn := dial(t, srv)
	waitClients(t, b, 1)

	b.Publish(session.StatusEvent{SessionID: 7, From: session.Starting, To: session.Started, Reason: "spawned"})
	m := readMessage(t, conn)
	if m.Type != MsgStatus {
		t.Fatalf("type = %q", m.Type)
	}
	if m.Payload.SessionID != 7 || m.Payload.From != "starting" || m.Payload.To != "started" || m.Payload.Reason != "spawned" {
		t.Errorf("payload = %+v", m.Payload)
	}
}

func TestBroadcaster_SnapshotOnConnect(t *testing.T) {
	b := NewBroadcaster(logging.New(io.Discard))
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	defer b.Close()

	b.Publish(session.StatusEvent{SessionID: 3, From: session.Started, To: session.Running})

	conn := dial(t, srv)
	m := readMessage(t, conn)
	if m.Type != MsgSnapshot || m.Payload.To != "running" {
		t.Errorf("snapshot = %+v", m)
	}
}

func TestBroadcaster_RemoveOnDisconnect(t *testing.T) {
	b := NewBroadcaster(logging.New(io.Discard))
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, b, 1)
	conn.Close()
	waitClients(t, b, 0)
}

func TestSameHost(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8080", true},
		{"https://localhost", true},
		{"http://evil.example", false},
		{"file://", false},
	}
	for _, tt := range tests {
		r, _ := http.NewRequest("GET", "http://localhost:9000/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := sameHost(r); got != tt.want {
			t.Errorf("sameHost(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
