package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentstream/realtime/internal/ws"
)

// echoServer is a test WebSocket endpoint that records every frame it
// receives, per connection.
type echoServer struct {
	server *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	received [][]string // frames per connection, in arrival order
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()

	es := &echoServer{}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	es.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}

		es.mu.Lock()
		es.conns = append(es.conns, conn)
		es.received = append(es.received, nil)
		idx := len(es.received) - 1
		es.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			es.mu.Lock()
			es.received[idx] = append(es.received[idx], string(data))
			es.mu.Unlock()
		}
	}))

	return es
}

func (es *echoServer) url() string {
	return "ws" + strings.TrimPrefix(es.server.URL, "http")
}

func (es *echoServer) connCount() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.conns)
}

// framesOn returns the decoded frames the server saw on connection i.
func (es *echoServer) framesOn(t *testing.T, i int) []ws.Message {
	t.Helper()
	es.mu.Lock()
	defer es.mu.Unlock()
	if i >= len(es.received) {
		return nil
	}
	out := make([]ws.Message, 0, len(es.received[i]))
	for _, raw := range es.received[i] {
		msg, err := ws.DecodeMessage([]byte(raw))
		if err != nil {
			t.Fatalf("server received undecodable frame %q: %v", raw, err)
		}
		out = append(out, msg)
	}
	return out
}

// closeConn force-closes server connection i to simulate a transport failure.
func (es *echoServer) closeConn(i int) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if i < len(es.conns) {
		es.conns[i].Close()
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconnectDelayIsLinearlyCapped(t *testing.T) {
	base := 5 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 15 * time.Second},
		{4, 15 * time.Second},
		{5, 15 * time.Second},
		{0, 5 * time.Second}, // degenerate input treated as the first attempt
	}

	for _, tc := range cases {
		if got := reconnectDelay(base, tc.attempt); got != tc.want {
			t.Errorf("attempt %d: got %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestSendWhileDisconnectedQueues(t *testing.T) {
	m := New(Config{URL: "ws://127.0.0.1:1", AutoReconnect: false}, Callbacks{}, nil)

	if err := m.Send(ws.NewPingMessage(), false); err != nil {
		t.Fatalf("offline send failed: %v", err)
	}
	if err := m.Send(ws.NewPingMessage(), false); err != nil {
		t.Fatalf("offline send failed: %v", err)
	}

	if n := m.PendingCount(); n != 2 {
		t.Errorf("expected 2 pending frames, got %d", n)
	}
	if m.IsConnected() {
		t.Error("manager reports connected without a socket")
	}
}

func TestConnectFlushesPendingInOrder(t *testing.T) {
	es := newEchoServer(t)
	defer es.server.Close()

	m := New(Config{URL: es.url(), AutoReconnect: false}, Callbacks{}, nil)
	defer m.Close()

	// Two bulk messages, then a priority one: the flush must send the
	// priority frame first, then the bulk backlog in FIFO order.
	bulk1, _ := ws.NewAgentStatusMessage("agent-1", "idle", "")
	bulk2, _ := ws.NewAgentStatusMessage("agent-2", "idle", "")
	if err := m.Send(bulk1, false); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := m.Send(bulk2, false); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := m.Send(ws.NewPingMessage(), true); err != nil {
		t.Fatalf("priority send failed: %v", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(es.framesOn(t, 0)) >= 3
	})

	got := es.framesOn(t, 0)
	if got[0].Type != ws.MessageTypePing {
		t.Errorf("priority frame not flushed first: %s", got[0].Type)
	}
	if got[1].Topic != "agent-1" || got[2].Topic != "agent-2" {
		t.Errorf("bulk backlog out of order: %s, %s", got[1].Topic, got[2].Topic)
	}
	if m.PendingCount() != 0 {
		t.Errorf("pending queue not emptied: %d", m.PendingCount())
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	es := newEchoServer(t)
	defer es.server.Close()

	m := New(Config{URL: es.url(), AutoReconnect: false}, Callbacks{}, nil)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, 2*time.Second, m.IsConnected)

	// Further calls leave the existing connection in place.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("repeat connect failed: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("repeat connect failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := es.connCount(); n != 1 {
		t.Errorf("expected 1 physical connection, got %d", n)
	}
}

func TestAdmissionParamsOnDialURL(t *testing.T) {
	var gotQuery string
	var mu sync.Mutex

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotQuery = r.URL.RawQuery
		mu.Unlock()
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
	defer server.Close()

	m := New(Config{
		URL:           "ws" + strings.TrimPrefix(server.URL, "http"),
		ClientID:      "dashboard-7",
		Token:         "tok",
		AutoReconnect: false,
	}, Callbacks{}, nil)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	mu.Lock()
	query := gotQuery
	mu.Unlock()
	if !strings.Contains(query, "client_id=dashboard-7") || !strings.Contains(query, "token=tok") {
		t.Errorf("admission params missing from dial URL: %q", query)
	}
}

func TestReconnectReassertsSubscriptions(t *testing.T) {
	es := newEchoServer(t)
	defer es.server.Close()

	opened := make(chan struct{}, 8)
	m := New(Config{
		URL:               es.url(),
		AutoReconnect:     true,
		ReconnectInterval: 10 * time.Millisecond,
	}, Callbacks{
		OnOpen: func() { opened <- struct{}{} },
	}, nil)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	<-opened

	if err := m.Subscribe("agent-1"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(es.framesOn(t, 0)) >= 1
	})

	// Kill the first connection; the manager must come back and re-subscribe
	// without being asked.
	es.closeConn(0)

	select {
	case <-opened:
	case <-time.After(3 * time.Second):
		t.Fatal("manager did not reconnect")
	}

	waitFor(t, 2*time.Second, func() bool {
		frames := es.framesOn(t, 1)
		return len(frames) >= 1
	})

	frames := es.framesOn(t, 1)
	if frames[0].Type != ws.MessageTypeSubscribe || frames[0].SubscriptionTopic() != "agent-1" {
		t.Errorf("first frame after reconnect should re-assert the subscription, got %+v", frames[0])
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	closed := make(chan struct{})
	var errs int
	var mu sync.Mutex

	// Nothing listens here; every dial fails fast.
	m := New(Config{
		URL:                  "ws://127.0.0.1:1",
		AutoReconnect:        true,
		ReconnectInterval:    time.Millisecond,
		MaxReconnectAttempts: 3,
	}, Callbacks{
		OnError: func(err error) {
			mu.Lock()
			errs++
			mu.Unlock()
		},
		OnClose: func() { close(closed) },
	}, nil)
	defer m.Close()

	m.Connect(context.Background())

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("OnClose never fired")
	}

	// Initial dial plus three retries, each reporting its failure.
	mu.Lock()
	gotErrs := errs
	mu.Unlock()
	if gotErrs != 4 {
		t.Errorf("expected 4 error callbacks, got %d", gotErrs)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	es := newEchoServer(t)
	defer es.server.Close()

	m := New(Config{
		URL:               es.url(),
		AutoReconnect:     true,
		ReconnectInterval: 10 * time.Millisecond,
	}, Callbacks{}, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, 2*time.Second, m.IsConnected)

	if err := m.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := m.Send(ws.NewPingMessage(), false); err != ErrManagerClosed {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
	if err := m.Subscribe("agent-1"); err != ErrManagerClosed {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}

	// No reconnect may sneak in after Close.
	time.Sleep(100 * time.Millisecond)
	if m.IsConnected() {
		t.Error("manager reconnected after Close")
	}
	if n := es.connCount(); n != 1 {
		t.Errorf("expected 1 connection ever, got %d", n)
	}

	// Close is idempotent.
	if err := m.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestHeartbeatSendsPings(t *testing.T) {
	es := newEchoServer(t)
	defer es.server.Close()

	m := New(Config{
		URL:               es.url(),
		AutoReconnect:     false,
		HeartbeatInterval: 30 * time.Millisecond,
	}, Callbacks{}, nil)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, msg := range es.framesOn(t, 0) {
			if msg.Type == ws.MessageTypePing {
				return true
			}
		}
		return false
	})
}

func TestOnMessageDeliversDecodedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msg, _ := ws.NewAgentStatusMessage("agent-5", "active", "")
		data, _ := msg.Encode()
		conn.WriteMessage(websocket.TextMessage, data)

		// A frame outside the vocabulary must still reach the callback raw.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	type delivery struct {
		msg ws.Message
		raw string
	}
	deliveries := make(chan delivery, 8)

	m := New(Config{
		URL:           "ws" + strings.TrimPrefix(server.URL, "http"),
		AutoReconnect: false,
	}, Callbacks{
		OnMessage: func(msg ws.Message, raw []byte) {
			deliveries <- delivery{msg: msg, raw: string(raw)}
		},
	}, nil)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	select {
	case d := <-deliveries:
		if d.msg.Type != ws.MessageTypeAgentStatus || d.msg.Topic != "agent-5" {
			t.Errorf("first delivery wrong: %+v", d.msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decoded frame never delivered")
	}

	select {
	case d := <-deliveries:
		if d.msg.Type != "" {
			t.Errorf("unknown frame should arrive with a zero envelope, got %+v", d.msg)
		}
		if !strings.Contains(d.raw, "mystery") {
			t.Errorf("raw frame not passed through: %q", d.raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("raw frame never delivered")
	}
}
