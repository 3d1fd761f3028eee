package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/linnemanlabs/go-core/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// wsServer accepts websocket connections and runs serve on each.
type wsServer struct {
	*httptest.Server
	connects atomic.Int32
	tokens   chan string
}

func newWSServer(t *testing.T, serve func(conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{tokens: make(chan string, 16)}
	up := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/" {
			http.NotFound(w, r)
			return
		}
		select {
		case s.tokens <- r.URL.Query().Get("bearer"):
		default:
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		s.connects.Add(1)
		serve(conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// drain reads until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func startClient(t *testing.T, opts Options, h Handler) (*Client, func()) {
	t.Helper()
	opts.Logger = log.Nop()
	c, err := New(opts, h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
	return c, stop
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_DispatchesMessages(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"model_updated","model":"worksites","id":7}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		drain(conn)
	})

	got := make(chan Message, 4)
	_, stop := startClient(t, Options{BaseURL: srv.wsURL(), Path: "/ws/", Token: "a b&c"}, func(_ context.Context, m Message) {
		got <- m
	})
	defer stop()

	first := <-got
	if first.Type != "model_updated" {
		t.Errorf("Type = %q", first.Type)
	}
	var body struct {
		Model string `json:"model"`
		ID    int64  `json:"id"`
	}
	if err := json.Unmarshal(first.Raw, &body); err != nil || body.Model != "worksites" || body.ID != 7 {
		t.Errorf("Raw = %s (%v)", first.Raw, err)
	}
	// the undecodable frame is skipped
	if second := <-got; second.Type != "ping" {
		t.Errorf("second Type = %q, want ping", second.Type)
	}
	if tok := <-srv.tokens; tok != "a b&c" {
		t.Errorf("bearer = %q, want a b&c", tok)
	}
}

func TestRun_ReconnectsAfterClose(t *testing.T) {
	t.Parallel()

	srv := newWSServer(t, func(conn *websocket.Conn) {
		// drop the client straight away
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"), time.Now().Add(time.Second))
	})

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	_, stop := startClient(t, Options{
		BaseURL:        srv.wsURL(),
		Path:           "/ws/",
		ReconnectDelay: 10 * time.Millisecond,
		Hooks:          m.Hooks(),
	}, func(context.Context, Message) {})

	waitFor(t, "three connections", func() bool { return srv.connects.Load() >= 3 })
	stop()

	if v := testutil.ToFloat64(m.ConnectsTotal); v < 3 {
		t.Errorf("connects metric = %v, want >= 3", v)
	}
}

func TestRun_RetriesDialFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, stop := startClient(t, Options{
		BaseURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Path:           "/ws/",
		ReconnectDelay: 5 * time.Millisecond,
	}, func(context.Context, Message) {})

	waitFor(t, "repeated dials", func() bool { return attempts.Load() >= 3 })
	stop()
}

func TestSend(t *testing.T) {
	t.Parallel()

	received := make(chan string, 1)
	srv := newWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
		drain(conn)
	})

	c, stop := startClient(t, Options{BaseURL: srv.wsURL(), Path: "/ws/"}, func(context.Context, Message) {})
	defer stop()

	waitFor(t, "connection", c.Connected)
	if err := c.Send(map[string]any{"type": "subscribe", "incident": 151}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-received:
		if got != `{"incident":151,"type":"subscribe"}`+"\n" {
			t.Errorf("server got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the message")
	}
}

func TestSend_NotConnected(t *testing.T) {
	t.Parallel()

	c, err := New(Options{BaseURL: "ws://127.0.0.1:1"}, func(context.Context, Message) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Send("hi"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send err = %v, want ErrNotConnected", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	h := func(context.Context, Message) {}
	tests := []struct {
		name    string
		opts    Options
		handler Handler
	}{
		{"nil handler", Options{BaseURL: "wss://api.example.org"}, nil},
		{"http scheme", Options{BaseURL: "https://api.example.org"}, h},
		{"empty url", Options{}, h},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.opts, tt.handler); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_URLShape(t *testing.T) {
	t.Parallel()

	c, err := New(Options{BaseURL: "wss://socket.crisiscleanup.org/", Path: "/ws/", Token: "t0k"}, func(context.Context, Message) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.url != "wss://socket.crisiscleanup.org/ws/?bearer=t0k" {
		t.Errorf("url = %q", c.url)
	}
}
