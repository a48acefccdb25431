package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func echo(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

func TestWebsocketDialer_RoundTrip(t *testing.T) {
	server := mockWSServer(t, echo)
	defer server.Close()

	d := NewWebsocketDialer(DefaultTransportConfig(), nil)
	conn, err := d.Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage([]byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(data) != `{"type":"subscribe"}` {
		t.Errorf("ReadMessage = %s, want echo", data)
	}
}

func TestWebsocketDialer_Headers(t *testing.T) {
	got := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	cfg := DefaultTransportConfig()
	cfg.Header = http.Header{"X-Api-Key": []string{"secret"}}
	conn, err := NewWebsocketDialer(cfg, nil).Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn.Close()

	h := <-got
	if h.Get("X-Api-Key") != "secret" {
		t.Errorf("X-Api-Key = %q, want secret", h.Get("X-Api-Key"))
	}
	if h.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q, want application/json", h.Get("Accept"))
	}
}

func TestWebsocketDialer_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewWebsocketDialer(DefaultTransportConfig(), nil).Dial(context.Background(), wsURL(server))
	if err == nil {
		t.Fatal("expected error for rejected handshake")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %v, want status code in message", err)
	}
}

func TestWebsocketConn_CloseIsIdempotent(t *testing.T) {
	server := mockWSServer(t, echo)
	defer server.Close()

	conn, err := NewWebsocketDialer(DefaultTransportConfig(), nil).Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage after Close should fail")
	}
}

func TestWebsocketConn_ConcurrentWrites(t *testing.T) {
	var received atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	})
	defer server.Close()

	conn, err := NewWebsocketDialer(DefaultTransportConfig(), nil).Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := conn.WriteMessage([]byte("x")); err != nil {
					t.Errorf("WriteMessage failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return received.Load() == 100 }, "100 frames")
}

// The manager reconnects over a real socket after the server drops it, and
// runs OnConnected again before reading from the new connection.
func TestManager_ReconnectsOverWebsocket(t *testing.T) {
	var accepted atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if accepted.Add(1) == 1 {
			return // Drop the first connection immediately.
		}
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		echo(conn)
	})
	defer server.Close()

	var mu sync.Mutex
	var events []string
	hooks := Hooks{
		OnConnected: func(Generation) {
			mu.Lock()
			events = append(events, "connected")
			mu.Unlock()
		},
		OnMessage: func(data []byte) {
			mu.Lock()
			events = append(events, string(data))
			mu.Unlock()
		},
	}

	cfg := Config{
		URL:               wsURL(server),
		ReconnectBaseWait: 5 * time.Millisecond,
		ReconnectMaxWait:  20 * time.Millisecond,
		MaxAttempts:       5,
		HandshakeTimeout:  time.Second,
	}
	m := NewManager(cfg, NewWebsocketDialer(DefaultTransportConfig(), nil), hooks, nil)
	m.Connect()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 3
	}, "reconnect and greeting")

	m.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"connected", "connected", "hello"}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want prefix %v", events, want)
		}
	}
	if m.Stats().Reconnects < 1 {
		t.Errorf("Reconnects = %d, want >= 1", m.Stats().Reconnects)
	}
}
