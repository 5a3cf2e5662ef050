// Package wslistener implements the WS Listener (spec §4.4): upgrading
// inbound HTTP requests at /ws to WebSocket connections, wiring each one
// to a wssession.Session, and running the close/linger/erase protocol.
//
// WebSocket framing is delegated entirely to github.com/coder/websocket —
// spec §1 places frame parsing out of scope as an external collaborator —
// grounded via the adjacent example pack's dependency fingerprint (see
// DESIGN.md). The upgrade/serve wiring otherwise follows the teacher's
// internal/adapter/inbound/http/transport.go Start/mux shape.
//
// The spec's design notes call for a recursive mutex because closing a
// session can be invoked both top-down (a sweep closes every session) and
// bottom-up (a session's own disconnect closure calls back into the
// listener). Go's sync.Mutex has no reentrant variant, and emulating one
// is its own hazard, so this Listener sidesteps the need for reentrancy
// entirely: a sweep snapshots the registry under the lock, releases it,
// then closes each session — so the per-session close path always
// acquires the lock fresh rather than nesting inside an already-held one.
package wslistener

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/rhymu8354/alfred/internal/domain/clock"
	"github.com/rhymu8354/alfred/internal/domain/wssession"
	"github.com/rhymu8354/alfred/internal/port/outbound"
)

// wsConn is the subset of *websocket.Conn this package depends on, so
// tests can substitute a fake instead of performing a real HTTP upgrade.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// acceptFunc performs the server-side WS handshake. The production value
// is websocket.Accept itself; *websocket.Conn already satisfies wsConn.
type acceptFunc func(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (wsConn, error)

func defaultAccept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (wsConn, error) {
	return websocket.Accept(w, r, opts)
}

// RoleLookup resolves an auth identifier's roles from the Store, per
// wssession.RoleLookup.
type RoleLookup = wssession.RoleLookup

// entry is one registered session's listener-owned bookkeeping.
type entry struct {
	session    *wssession.Session
	conn       wsConn
	generation uint64
	closedOnce sync.Once
}

// Listener upgrades /ws requests and owns the registry of live sessions,
// keyed by an opaque identity assigned at accept time.
type Listener struct {
	mu         sync.Mutex
	sessions   map[string]*entry
	generation uint64

	clk           clock.Clock
	authTimeout   time.Duration
	closeLinger   time.Duration
	maxFrameSize  int64
	roles         RoleLookup
	validator     outbound.OAuthValidator
	logger        *slog.Logger
	accept        acceptFunc
	onSessionOpen func()
	onSessionDrop func()
	onAuthOutcome func(outcome string)
}

// Config bundles the construction parameters derived from Configuration
// (spec §6): WebSocketMaxFrameSize, WebSocketAuthenticationTimeout,
// WebSocketCloseLinger.
type Config struct {
	MaxFrameSize          int64
	AuthenticationTimeout time.Duration
	CloseLinger           time.Duration
}

// New builds a Listener. onSessionOpen/onSessionDrop, if non-nil, back
// the alfred_active_sessions gauge.
func New(clk clock.Clock, cfg Config, roles RoleLookup, validator outbound.OAuthValidator, logger *slog.Logger, onSessionOpen, onSessionDrop func()) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		sessions:      make(map[string]*entry),
		clk:           clk,
		authTimeout:   cfg.AuthenticationTimeout,
		closeLinger:   cfg.CloseLinger,
		maxFrameSize:  cfg.MaxFrameSize,
		roles:         roles,
		validator:     validator,
		logger:        logger,
		accept:        defaultAccept,
		onSessionOpen: onSessionOpen,
		onSessionDrop: onSessionDrop,
	}
}

// ServeHTTP upgrades the request to a WebSocket connection. If the
// handshake fails and no response status has been written yet, it answers
// 426 Upgrade Required with an Upgrade: websocket header, per spec §4.4.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusInterceptor{ResponseWriter: w}

	opts := &websocket.AcceptOptions{}
	conn, err := l.accept(rec, r, opts)
	if err != nil {
		if !rec.wroteStatus {
			w.Header().Set("Upgrade", "websocket")
			w.WriteHeader(http.StatusUpgradeRequired)
		}
		l.logger.Warn("WS upgrade failed", "error", err)
		return
	}

	if l.maxFrameSize > 0 {
		conn.(interface{ SetReadLimit(int64) }).SetReadLimit(l.maxFrameSize)
	}

	l.registerAndServe(r.Context(), conn)
}

// statusInterceptor tracks whether the wrapped handler already committed
// a response status, so ServeHTTP knows whether it is still free to
// substitute spec §4.4's 426 response.
type statusInterceptor struct {
	http.ResponseWriter
	wroteStatus bool
}

func (s *statusInterceptor) WriteHeader(code int) {
	s.wroteStatus = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusInterceptor) Write(b []byte) (int, error) {
	s.wroteStatus = true
	return s.ResponseWriter.Write(b)
}

func (l *Listener) registerAndServe(ctx context.Context, conn wsConn) {
	l.mu.Lock()
	id := l.nextIdentity()
	gen := l.generation
	l.mu.Unlock()

	var ent *entry
	var sess *wssession.Session

	send := func(payload []byte) error {
		return conn.Write(ctx, websocket.MessageText, payload)
	}
	closeFn := func(code int, reason string) {
		l.closeByID(id, gen, websocket.StatusCode(code), reason)
	}

	sess = wssession.New(l.clk, l.authTimeout, l.roles, l.validator, send, closeFn, l.logger)
	l.mu.Lock()
	onAuthOutcome := l.onAuthOutcome
	l.mu.Unlock()
	if onAuthOutcome != nil {
		sess.OnAuthOutcome(onAuthOutcome)
	}
	ent = &entry{session: sess, conn: conn, generation: gen}

	l.mu.Lock()
	l.sessions[id] = ent
	l.mu.Unlock()

	if l.onSessionOpen != nil {
		l.onSessionOpen()
	}
	sess.OnOpened()

	l.readLoop(ctx, id, gen, conn, sess)
}

// nextIdentity mints an opaque per-connection key for the session
// registry map, distinct from the "key:"/"twitch:" identifiers
// authentication assigns. google/uuid keeps this collision-free across
// restarts without the listener tracking a counter itself.
func (l *Listener) nextIdentity() string {
	return "ws-" + uuid.NewString()
}

// readLoop delivers inbound frames to the session in order, per spec §5's
// per-session ordering guarantee. It returns once the connection is
// closed, from either side.
func (l *Listener) readLoop(ctx context.Context, id string, gen uint64, conn wsConn, sess *wssession.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			l.closeByID(id, gen, websocket.StatusNoStatusRcvd, "connection closed")
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		sess.HandleText(data)
	}
}

// closeByID runs the close protocol for the session at id if its
// generation still matches: once per entry, it closes the WS, reports the
// drop, and schedules an erase at now + closeLinger. The registry entry
// stays in place, unchanged, until that erase; the Session itself is not
// notified of the close, only destroyed when the erase runs.
func (l *Listener) closeByID(id string, gen uint64, code websocket.StatusCode, reason string) {
	l.mu.Lock()
	ent, ok := l.sessions[id]
	if !ok || ent.generation != gen {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	ent.closedOnce.Do(func() {
		_ = ent.conn.Close(code, reason)
		if l.onSessionDrop != nil {
			l.onSessionDrop()
		}
		l.clk.AfterFunc(l.closeLinger, func() {
			l.eraseByID(id, gen)
		})
	})
}

func (l *Listener) eraseByID(id string, gen uint64) {
	l.mu.Lock()
	ent, ok := l.sessions[id]
	if ok && ent.generation == gen {
		delete(l.sessions, id)
	}
	l.mu.Unlock()
	if ok {
		ent.session.Destroy()
	}
}

// DemobilizeAll closes every live session, the way Store.Demobilize needs
// to stop all WS activity. It snapshots the registry under the lock and
// closes outside of it, so the per-session close path above never nests
// inside this call's own lock acquisition.
func (l *Listener) DemobilizeAll() {
	type liveSession struct {
		id  string
		gen uint64
	}

	l.mu.Lock()
	l.generation++
	snapshot := make([]liveSession, 0, len(l.sessions))
	for id, ent := range l.sessions {
		snapshot = append(snapshot, liveSession{id, ent.generation})
	}
	l.mu.Unlock()

	for _, s := range snapshot {
		l.closeByID(s.id, s.gen, websocket.StatusServiceRestart, "server shutting down")
	}
}

// OnAuthOutcome registers a callback invoked once per completed
// authentication attempt across every session this Listener opens,
// with outcome one of "ok", "error", or "timeout" — backing the
// alfred_ws_auth_total{outcome} counter.
func (l *Listener) OnAuthOutcome(fn func(outcome string)) {
	l.mu.Lock()
	l.onAuthOutcome = fn
	l.mu.Unlock()
}

// SessionCount reports the number of registered (not necessarily
// authenticated) sessions, for the alfred_active_sessions gauge.
func (l *Listener) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
