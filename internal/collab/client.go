// Package collab implements the client side of the coedit realtime
// collaboration protocol: a websocket transport with reconnect/backoff and
// heartbeat, plus a session façade that binds the transport to a host
// lifecycle.
//
// The transport never interprets sync/update payloads; it hands opaque
// blobs to the configured handlers so the document model stays decoupled.
package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	v1 "coedit/contracts/collab/v1"
	"coedit/internal/ids"

	"github.com/coder/websocket"
)

// Config tunes the transport. Zero values fall back to package defaults.
type Config struct {
	// BaseURL is the API root, e.g. "wss://host/api" or "https://host/api".
	BaseURL string

	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxAttempts       int
	// Jitter randomizes reconnect delays to spread mass reconnects.
	// Off by default so the documented min(base*2^attempt, cap) schedule holds.
	Jitter bool

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	return c
}

// Handlers are the host-supplied callbacks. They may be swapped at any time
// via SetHandlers; the transport always dispatches to the latest set.
type Handlers struct {
	// OnSync receives an opaque initial-state payload.
	OnSync func(json.RawMessage)
	// OnUpdate receives an opaque incremental-change payload.
	OnUpdate func(json.RawMessage)
	// OnStateChange receives a snapshot after every status or roster change.
	OnStateChange func(ConnectionState)
}

// Client maintains at most one live websocket per document session.
//
// Design notes:
//   - All state lives behind mu; every transition goes through
//     transitionLocked so status and derived flags cannot drift apart.
//   - Each dial gets an epoch; callbacks from a superseded connection
//     (stale read loops, fired retry timers) check the epoch and become
//     no-ops instead of reviving a torn-down session.
//   - Close is terminal and idempotent.
type Client struct {
	cfg       Config
	log       *slog.Logger
	metrics   *Metrics
	url       string
	sessionID string

	handlers atomic.Pointer[Handlers]

	mu         sync.Mutex
	status     Status
	errMsg     string
	roster     []v1.Presence
	conn       *websocket.Conn
	connCancel context.CancelFunc
	epoch      uint64
	attempt    int
	retry      *time.Timer
	sched      *retrySchedule
	closed     bool
}

// NewClient constructs a transport for one document session. The identity
// token is derived once here and never re-parsed by the client.
func NewClient(cfg Config, documentID string, identity v1.Identity) (*Client, error) {
	cfg = cfg.withDefaults()

	url, err := v1.SessionURL(cfg.BaseURL, documentID, identity.Token())
	if err != nil {
		return nil, err
	}

	sessionID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		log:       cfg.Logger.With("session_id", sessionID, "document_id", documentID),
		metrics:   cfg.Metrics,
		url:       url,
		sessionID: sessionID,
		status:    StatusIdle,
		sched:     newRetrySchedule(cfg.BackoffBase, cfg.BackoffCap, cfg.Jitter),
	}
	c.handlers.Store(&Handlers{})
	return c, nil
}

// SessionID returns the client-local session instance id (for logs only).
func (c *Client) SessionID() string { return c.sessionID }

// SetHandlers swaps the dispatch targets without touching the connection.
func (c *Client) SetHandlers(h Handlers) {
	c.handlers.Store(&h)
}

// State returns the current connection snapshot.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Connect starts a dial unless one is already in flight or established.
// It returns immediately; the outcome arrives via OnStateChange.
// From the error state only Reconnect resumes.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || (c.status != StatusIdle && c.status != StatusDisconnected) {
		c.mu.Unlock()
		return
	}
	c.stopRetryLocked()
	c.epoch++
	epoch := c.epoch
	snap := c.transitionLocked(StatusConnecting, c.errMsg)
	c.mu.Unlock()

	c.notify(snap)
	go c.dial(epoch)
}

// Reconnect clears the error state, cancels any pending scheduled retry,
// resets the attempt counter, and dials immediately.
func (c *Client) Reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopRetryLocked()
	c.attempt = 0
	c.sched.reset()
	c.errMsg = ""
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		return
	}
	c.status = StatusIdle
	c.mu.Unlock()

	c.Connect()
}

// Close tears the session down permanently: timers cleared, socket closed,
// and any in-flight async callback turned into a no-op.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopRetryLocked()
	conn := c.detachConnLocked()
	c.roster = nil
	snap := c.transitionLocked(StatusDisconnected, c.errMsg)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	c.metrics.ConnectedFlag.Set(0)
	c.notify(snap)
	c.log.Info("collab.session.closed")
}

// ---- outbound ----

// Send serializes a frame and writes it if the socket is currently open.
// Otherwise the frame is silently dropped: the client offers at-most-once
// delivery and never queues while disconnected.
func (c *Client) Send(f v1.Frame) {
	c.mu.Lock()
	conn := c.conn
	open := !c.closed && c.status == StatusConnected && conn != nil
	c.mu.Unlock()

	if !open {
		c.metrics.DroppedSends.Inc()
		c.log.Debug("collab.send.drop", "type", f.Type)
		return
	}

	b, err := json.Marshal(f)
	if err != nil {
		c.log.Warn("collab.send.marshal_fail", "type", f.Type, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		// The read loop sees the same failure and owns the state transition.
		c.log.Debug("collab.send.fail", "type", f.Type, "err", err)
	}
}

// SendSync sends an opaque document state transfer.
func (c *Client) SendSync(data json.RawMessage) {
	c.Send(v1.Frame{Type: v1.TypeSync, Data: data})
}

// SendUpdate sends an opaque incremental document change.
func (c *Client) SendUpdate(data json.RawMessage) {
	c.Send(v1.Frame{Type: v1.TypeUpdate, Data: data})
}

// SendAwareness publishes the local cursor and selection.
func (c *Client) SendAwareness(cursor, selection *v1.Range) {
	c.Send(v1.Frame{Type: v1.TypeAwareness, Cursor: cursor, Selection: selection})
}

// ---- connection lifecycle ----

func (c *Client) dial(epoch uint64) {
	c.metrics.DialAttempts.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	cancel()

	if err != nil {
		c.log.Info("collab.dial.fail", "err", err)
		c.mu.Lock()
		if c.closed || epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		snap := c.scheduleRetryLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "stale dial")
		return
	}
	connCtx, connCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCancel = connCancel
	c.attempt = 0
	c.sched.reset()
	snap := c.transitionLocked(StatusConnected, "")
	c.mu.Unlock()

	c.metrics.ConnectedFlag.Set(1)
	c.log.Info("collab.connected")
	c.notify(snap)

	go c.readLoop(connCtx, epoch, conn)
	go c.heartbeat(connCtx)
}

func (c *Client) readLoop(ctx context.Context, epoch uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.readFailed(epoch, err)
			return
		}
		c.handleFrame(epoch, data)
	}
}

func (c *Client) readFailed(epoch uint64, err error) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	conn := c.detachConnLocked()

	var snap ConnectionState
	if int(websocket.CloseStatus(err)) == v1.CloseAuthFailure {
		c.metrics.AuthFailures.Inc()
		snap = c.failLocked(authFailureMessage)
	} else {
		snap = c.scheduleRetryLocked()
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.CloseNow()
	}
	c.metrics.ConnectedFlag.Set(0)
	c.log.Info("collab.read.closed", "close_status", int(websocket.CloseStatus(err)), "err", err)
	c.notify(snap)
}

func (c *Client) heartbeat(ctx context.Context) {
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Send(v1.Frame{Type: v1.TypePing})
		}
	}
}

// scheduleRetryLocked arms the backoff timer for the next attempt, or moves
// to the error state once the attempt budget is spent.
func (c *Client) scheduleRetryLocked() ConnectionState {
	if c.attempt >= c.cfg.MaxAttempts {
		return c.failLocked(retryExhaustedMessage)
	}

	delay := c.sched.next()
	c.attempt++
	c.metrics.Reconnects.Inc()
	c.retry = time.AfterFunc(delay, c.retryFire)
	c.log.Info("collab.reconnect.scheduled", "attempt", c.attempt, "delay_ms", delay.Milliseconds())
	return c.transitionLocked(StatusDisconnected, c.errMsg)
}

func (c *Client) retryFire() {
	c.mu.Lock()
	if c.closed || c.status != StatusDisconnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Connect()
}

func (c *Client) failLocked(msg string) ConnectionState {
	c.stopRetryLocked()
	return c.transitionLocked(StatusError, msg)
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// detachConnLocked cancels the connection context and releases the socket
// without closing it; the caller closes outside the lock.
func (c *Client) detachConnLocked() *websocket.Conn {
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	conn := c.conn
	c.conn = nil
	return conn
}

// ---- inbound dispatch ----

func (c *Client) handleFrame(epoch uint64, data []byte) {
	var f v1.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.metrics.FramesIn.WithLabelValues("malformed").Inc()
		c.log.Warn("collab.frame.malformed", "err", err)
		return
	}
	c.metrics.FramesIn.WithLabelValues(f.Type).Inc()

	switch f.Type {
	case v1.TypeConnected, v1.TypeAwareness:
		c.replaceRoster(epoch, f.Users)

	case v1.TypeSync:
		if h := c.handlers.Load(); h.OnSync != nil {
			h.OnSync(f.Data)
		}

	case v1.TypeUpdate:
		if h := c.handlers.Load(); h.OnUpdate != nil {
			h.OnUpdate(f.Data)
		}

	case v1.TypePong:
		// Liveness confirmation only; no state change.

	case v1.TypeError:
		c.log.Warn("collab.server.error", "message", f.Message)

	default:
		// Unknown types are forward-compatibility room, not an error.
	}
}

// replaceRoster swaps the whole roster; per-field merging is the server's job.
func (c *Client) replaceRoster(epoch uint64, users []v1.Presence) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.roster = colorize(users)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// ---- state plumbing ----

func (c *Client) transitionLocked(s Status, errMsg string) ConnectionState {
	c.status = s
	c.errMsg = errMsg
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() ConnectionState {
	return snapshot(c.status, c.roster, c.errMsg)
}

func (c *Client) notify(s ConnectionState) {
	if h := c.handlers.Load(); h.OnStateChange != nil {
		h.OnStateChange(s)
	}
}
