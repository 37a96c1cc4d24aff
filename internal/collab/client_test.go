package collab

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "coedit/contracts/collab/v1"

	"github.com/coder/websocket"
)

// stubServer is a scriptable websocket endpoint for driving the transport
// through its failure modes: refusing upgrades, closing with specific codes,
// or replaying canned frames.
type stubServer struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	dials  int
	refuse bool
	script func(ctx context.Context, conn *websocket.Conn, dial int)
}

func newStubServer(t *testing.T, script func(ctx context.Context, conn *websocket.Conn, dial int)) *stubServer {
	t.Helper()

	s := &stubServer{t: t, script: script}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.dials++
		dial := s.dials
		refuse := s.refuse
		sc := s.script
		s.mu.Unlock()

		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()

		if sc != nil {
			sc(r.Context(), conn, dial)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *stubServer) SetRefuse(v bool) {
	s.mu.Lock()
	s.refuse = v
	s.mu.Unlock()
}

func (s *stubServer) SetScript(sc func(ctx context.Context, conn *websocket.Conn, dial int)) {
	s.mu.Lock()
	s.script = sc
	s.mu.Unlock()
}

// ---- script helpers ----

func writeServerFrame(ctx context.Context, conn *websocket.Conn, f v1.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func holdOpen(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// ---- client helpers ----

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, s *stubServer, mutate func(*Config)) (*Client, chan ConnectionState) {
	t.Helper()

	cfg := Config{
		BaseURL:           s.srv.URL,
		BackoffBase:       20 * time.Millisecond,
		BackoffCap:        200 * time.Millisecond,
		MaxAttempts:       5,
		HeartbeatInterval: time.Hour, // silenced unless a test opts in
		DialTimeout:       2 * time.Second,
		WriteTimeout:      2 * time.Second,
		Logger:            discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewClient(cfg, "doc-1", v1.Identity{UserID: "u-1", UserName: "Ada"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)

	ch := make(chan ConnectionState, 256)
	c.SetHandlers(Handlers{OnStateChange: func(s ConnectionState) {
		select {
		case ch <- s:
		default:
		}
	}})
	return c, ch
}

func waitStatus(t *testing.T, ch chan ConnectionState, want Status, timeout time.Duration) ConnectionState {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case s := <-ch:
			if s.Status == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status=%q", want)
		}
	}
}

func waitSnapshot(t *testing.T, ch chan ConnectionState, pred func(ConnectionState) bool, timeout time.Duration) ConnectionState {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case s := <-ch:
			if pred(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot condition")
		}
	}
}

// ---- tests ----

func TestConnectIdempotent(t *testing.T) {
	t.Parallel()

	s := newStubServer(t, func(ctx context.Context, conn *websocket.Conn, _ int) {
		holdOpen(ctx, conn)
	})
	c, ch := newTestClient(t, s, nil)

	c.Connect()
	c.Connect() // duplicate while connecting
	waitStatus(t, ch, StatusConnected, 3*time.Second)
	c.Connect() // duplicate while connected

	time.Sleep(100 * time.Millisecond)
	if got := s.Dials(); got != 1 {
		t.Fatalf("dials=%d want=1", got)
	}
}

func TestAuthFailureIsTerminal(t *testing.T) {
	t.Parallel()

	s := newStubServer(t, func(_ context.Context, conn *websocket.Conn, _ int) {
		_ = conn.Close(websocket.StatusCode(v1.CloseAuthFailure), "authentication rejected")
	})
	c, ch := newTestClient(t, s, nil)

	c.Connect()
	snap := waitStatus(t, ch, StatusError, 3*time.Second)
	if snap.Err != authFailureMessage {
		t.Fatalf("error message: got=%q want=%q", snap.Err, authFailureMessage)
	}
	if snap.Connected {
		t.Fatal("error snapshot must not report connected")
	}

	// Several backoff bases later there must still be exactly one dial:
	// auth failure never auto-retries.
	time.Sleep(200 * time.Millisecond)
	if got := s.Dials(); got != 1 {
		t.Fatalf("dials=%d want=1 (auth failure retried)", got)
	}
}

func TestRosterReplacement(t *testing.T) {
	t.Parallel()

	s := newStubServer(t, func(ctx context.Context, conn *websocket.Conn, _ int) {
		_ = writeServerFrame(ctx, conn, v1.Frame{Type: v1.TypeConnected, Users: []v1.Presence{
			{ID: "a", Name: "A"}, {ID: "b", Name: "B"},
		}})
		_ = writeServerFrame(ctx, conn, v1.Frame{Type: v1.TypeAwareness, Users: []v1.Presence{
			{ID: "b", Name: "B"}, {ID: "c", Name: "C"},
		}})
		holdOpen(ctx, conn)
	})
	c, ch := newTestClient(t, s, nil)

	c.Connect()
	snap := waitSnapshot(t, ch, func(s ConnectionState) bool {
		return len(s.Collaborators) == 2 && s.Collaborators[0].ID == "b"
	}, 3*time.Second)

	// Replacement, not merge: "a" is gone, order is the server's.
	if snap.Collaborators[0].ID != "b" || snap.Collaborators[1].ID != "c" {
		t.Fatalf("roster=%v want=[b c]", snap.Collaborators)
	}
	for _, p := range snap.Collaborators {
		if p.Color != ColorFor(p.ID) {
			t.Fatalf("presence %q color=%q want=%q", p.ID, p.Color, ColorFor(p.ID))
		}
	}
}

func TestReconnectFlow(t *testing.T) {
	t.Parallel()

	s := newStubServer(t, func(ctx context.Context, conn *websocket.Conn, dial int) {
		if dial == 1 {
			_ = writeServerFrame(ctx, conn, v1.Frame{Type: v1.TypeConnected, Users: nil})
			time.Sleep(30 * time.Millisecond)
			_ = conn.CloseNow() // abrupt, no close frame
			return
		}
		holdOpen(ctx, conn)
	})
	c, ch := newTestClient(t, s, nil)

	c.Connect()
	waitStatus(t, ch, StatusConnected, 3*time.Second)
	waitStatus(t, ch, StatusDisconnected, 3*time.Second)
	waitStatus(t, ch, StatusConnecting, 3*time.Second)
	waitStatus(t, ch, StatusConnected, 3*time.Second)

	if got := s.Dials(); got != 2 {
		t.Fatalf("dials=%d want=2", got)
	}
}

func TestRetryExhaustionThenManualReconnect(t *testing.T) {
	t.Parallel()

	s := newStubServer(t, nil)
	s.SetRefuse(true)
	c, ch := newTestClient(t, s, func(cfg *Config) {
		cfg.MaxAttempts = 2
		cfg.BackoffBase = 10 * time.Millisecond
	})

	c.Connect()
	snap := waitStatus(t, ch, StatusError, 3*time.Second)
	if snap.Err != retryExhaustedMessage {
		t.Fatalf("error message: got=%q want=%q", snap.Err, retryExhaustedMessage)
	}
	// Initial dial plus two retries.
	if got := s.Dials(); got != 3 {
		t.Fatalf("dials=%d want=3", got)
	}

	s.SetRefuse(false)
	s.SetScript(func(ctx context.Context, conn *websocket.Conn, _ int) {
		holdOpen(ctx, conn)
	})

	c.Reconnect()
	snap = waitStatus(t, ch, StatusConnecting, time.Second)
	if snap.Err != "" {
		t.Fatalf("reconnect must clear error, got=%q", snap.Err)
	}
	waitStatus(t, ch, StatusConnected, 3*time.Second)
}

func TestCloseCancelsScheduledRetry(t *testing.T) {
	t.Parallel()

	s := newStubServer(t, nil)
	s.SetRefuse(true)
	c, ch := newTestClient(t, s, func(cfg *Config) {
		cfg.BackoffBase = 100 * time.Millisecond
	})

	c.Connect()
	waitStatus(t, ch, StatusDisconnected, 3*time.Second)
	c.Close()

	// The scheduled retry must fire as a no-op.
	time.Sleep(300 * time.Millisecond)
	if got := s.Dials(); got != 1 {
		t.Fatalf("dials=%d want=1 (retry survived Close)", got)
	}
}

func TestSendWhileNotConnectedIsSilent(t *testing.T) {
	t.Parallel()

	s := newStubServer(t, nil)
	c, _ := newTestClient(t, s, nil)

	// Never connected: must not panic, must not dial.
	c.SendUpdate(json.RawMessage(`{"op":"x"}`))
	c.SendAwareness(&v1.Range{Anchor: 1, Head: 2}, nil)
	if got := c.State().Status; got != StatusIdle {
		t.Fatalf("status=%q want=%q", got, StatusIdle)
	}
	if got := s.Dials(); got != 0 {
		t.Fatalf("dials=%d want=0", got)
	}

	c.Close()
	c.SendUpdate(json.RawMessage(`{"op":"y"}`)) // after teardown, still silent
}

func TestHeartbeatPings(t *testing.T) {
	t.Parallel()

	var pings atomic.Int64
	s := newStubServer(t, func(ctx context.Context, conn *websocket.Conn, _ int) {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f v1.Frame
			if json.Unmarshal(data, &f) != nil {
				continue
			}
			if f.Type == v1.TypePing {
				pings.Add(1)
				_ = writeServerFrame(ctx, conn, v1.Frame{Type: v1.TypePong})
			}
		}
	})
	c, ch := newTestClient(t, s, func(cfg *Config) {
		cfg.HeartbeatInterval = 25 * time.Millisecond
	})

	c.Connect()
	waitStatus(t, ch, StatusConnected, 3*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for pings.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pings=%d want>=2", pings.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Pongs are liveness-only: the connection must still be up.
	if got := c.State().Status; got != StatusConnected {
		t.Fatalf("status=%q want=%q", got, StatusConnected)
	}

	c.Close()
	before := pings.Load()
	time.Sleep(100 * time.Millisecond)
	if pings.Load() != before {
		t.Fatalf("heartbeat survived Close: pings %d -> %d", before, pings.Load())
	}
}

func TestMalformedFrameDoesNotKillDispatch(t *testing.T) {
	t.Parallel()

	s := newStubServer(t, func(ctx context.Context, conn *websocket.Conn, _ int) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{not json`))
		_ = writeServerFrame(ctx, conn, v1.Frame{Type: v1.TypeConnected, Users: []v1.Presence{{ID: "a", Name: "A"}}})
		holdOpen(ctx, conn)
	})
	c, ch := newTestClient(t, s, nil)

	c.Connect()
	snap := waitSnapshot(t, ch, func(s ConnectionState) bool {
		return len(s.Collaborators) == 1
	}, 3*time.Second)

	if snap.Status != StatusConnected {
		t.Fatalf("status=%q want=%q after malformed frame", snap.Status, StatusConnected)
	}
}

func TestSyncAndUpdatePayloadsForwardedOpaque(t *testing.T) {
	t.Parallel()

	const syncPayload = `{"state":[1,2,3]}`
	const updatePayload = `{"delta":"q"}`

	s := newStubServer(t, func(ctx context.Context, conn *websocket.Conn, _ int) {
		_ = writeServerFrame(ctx, conn, v1.Frame{Type: v1.TypeSync, Data: json.RawMessage(syncPayload)})
		_ = writeServerFrame(ctx, conn, v1.Frame{Type: v1.TypeUpdate, Data: json.RawMessage(updatePayload)})
		holdOpen(ctx, conn)
	})
	c, ch := newTestClient(t, s, nil)

	syncCh := make(chan string, 1)
	updateCh := make(chan string, 1)
	c.SetHandlers(Handlers{
		OnSync:   func(d json.RawMessage) { syncCh <- string(d) },
		OnUpdate: func(d json.RawMessage) { updateCh <- string(d) },
		OnStateChange: func(s ConnectionState) {
			select {
			case ch <- s:
			default:
			}
		},
	})

	c.Connect()
	waitStatus(t, ch, StatusConnected, 3*time.Second)

	select {
	case got := <-syncCh:
		if got != syncPayload {
			t.Fatalf("sync payload: got=%q want=%q", got, syncPayload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync payload never delivered")
	}

	select {
	case got := <-updateCh:
		if got != updatePayload {
			t.Fatalf("update payload: got=%q want=%q", got, updatePayload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update payload never delivered")
	}
}
