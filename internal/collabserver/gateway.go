package collabserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	v1 "coedit/contracts/collab/v1"
	"coedit/internal/ids"

	"github.com/coder/websocket"
)

// Options tune the gateway; zero values fall back to package defaults.
type Options struct {
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int
	RateEvents      int
	RateWindow      time.Duration
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadIdleTimeout <= 0 {
		o.ReadIdleTimeout = defaultReadIdle
	}
	if o.SendQueueSize < minSendQueueSize {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.RateEvents <= 0 {
		o.RateEvents = defaultRateEvents
	}
	if o.RateWindow <= 0 {
		o.RateWindow = defaultRateWindow
	}
	return o
}

// Gateway is the WebSocket entrypoint for coedit document sessions.
//
// It authenticates the identity token, joins the member to its document
// room, relays sync/update frames, and maintains the roster.
type Gateway struct {
	log  *slog.Logger
	hub  *Hub
	opts Options
}

// NewGateway constructs a gateway. When hub is nil an empty one is created.
func NewGateway(log *slog.Logger, hub *Hub, opts Options) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	return &Gateway{log: log, hub: hub, opts: opts.withDefaults()}
}

// Hub exposes the room registry (tests, metrics).
func (g *Gateway) Hub() *Hub { return g.hub }

// Register mounts the session endpoint on mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /collaboration/ws/{document}", g.HandleWS)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the loop.
//
// Authentication rejections happen AFTER the upgrade, via close code 4001,
// so clients can distinguish them from transport failures.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(r.PathValue("document"))
	if documentID == "" {
		http.Error(w, "missing document id", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Dev server: browser origin policy is the production gateway's job.
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	identity, err := v1.ParseIdentityToken(r.URL.Query().Get("token"))
	if err != nil {
		g.log.Info("ws.reject.token", "document_id", documentID, "err", err)
		_ = conn.Close(websocket.StatusCode(v1.CloseAuthFailure), "authentication rejected")
		return
	}

	sessionID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}

	member := NewMember(sessionID, v1.Presence{
		ID:         identity.UserID,
		Name:       identity.UserName,
		Email:      identity.UserEmail,
		LastActive: time.Now().UnixMilli(),
	}, g.opts.SendQueueSize)

	room := g.hub.GetOrCreateRoom(documentID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close member.Send.
	// Membership removal happens before member.Close so broadcasters stay safe.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			room.Leave(sessionID)
			_ = conn.Close(code, reason)
			cancel()
			room.BroadcastRoster()
		})
	}

	room.Join(member)

	// Initial roster goes to the joiner as "connected"; everyone else sees
	// the change as a replacement "awareness" roster.
	g.enqueue(ctx, member, v1.Frame{Type: v1.TypeConnected, Users: room.Roster()})
	room.Relay(sessionID, v1.Frame{Type: v1.TypeAwareness, Users: room.Roster()})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-member.Done():
				return
			case f := <-member.Send:
				if err := writeFrame(ctx, conn, f, g.opts.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	rl := NewRateLimiter(g.opts.RateEvents, g.opts.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.opts.ReadIdleTimeout)
		f, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.enqueue(ctx, member, errorFrame("invalid JSON"))
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.enqueue(ctx, member, errorFrame("too many frames"))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := f.ValidateInbound(); err != nil {
			g.enqueue(ctx, member, errorFrame(err.Error()))
			continue readLoop
		}

		switch f.Type {
		case v1.TypePing:
			g.enqueue(ctx, member, v1.Frame{Type: v1.TypePong})

		case v1.TypeSync, v1.TypeUpdate:
			room.Relay(sessionID, v1.Frame{Type: f.Type, Data: f.Data})

		case v1.TypeAwareness:
			room.UpdatePresence(sessionID, f.Cursor, f.Selection, now)
			room.BroadcastRoster()
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
}

// enqueue offers a frame to one member without blocking.
func (g *Gateway) enqueue(ctx context.Context, m *Member, f v1.Frame) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.Done():
		return false
	case m.Send <- f:
		return true
	default:
		return false
	}
}

func errorFrame(msg string) v1.Frame {
	return v1.Frame{Type: v1.TypeError, Message: msg}
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) (v1.Frame, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Frame{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Frame{}, errors.New("unsupported message type")
	}
	var f v1.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return v1.Frame{}, err
	}
	return f, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, f v1.Frame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}
