// Package wssession implements the WS Session state machine: the
// Opened/AwaitingAuth/Authenticated/Closing/Dropped lifecycle, the
// Authenticate message handling (key and Twitch OAuth shapes), and the
// outbound-transaction bookkeeping for in-flight OAuth validation calls.
// WebSocket framing itself belongs to the adapter in
// internal/adapter/inbound/wslistener; this package only ever sees
// already-decoded text frames and a SendFunc/CloseFunc pair to talk back.
//
// The identifier-generation idiom (random, opaque, set-collapsed) follows
// internal/domain/session/session.go's GenerateSessionID, adapted from a
// single random session token to the two synthetic identifier shapes
// spec §4.3 names: "key:<opaque>" and "twitch:<user_id>".
package wssession

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhymu8354/alfred/internal/domain/access"
	"github.com/rhymu8354/alfred/internal/domain/clock"
	"github.com/rhymu8354/alfred/internal/port/outbound"
)

var tracer = otel.Tracer("github.com/rhymu8354/alfred/internal/domain/wssession")

// State is a position in the WS Session lifecycle.
type State int

const (
	Opened State = iota
	AwaitingAuth
	Authenticated
	Closing
	Dropped
)

func (s State) String() string {
	switch s {
	case Opened:
		return "Opened"
	case AwaitingAuth:
		return "AwaitingAuth"
	case Authenticated:
		return "Authenticated"
	case Closing:
		return "Closing"
	case Dropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// RoleLookup resolves the roles listed in the store under Roles[identifier],
// the way Store.Get(["Roles"], admin) does in spec §4.3 — a narrow seam so
// this package never imports internal/domain/store directly and stays
// testable with a fake.
type RoleLookup interface {
	Roles(identifier string) ([]string, bool)
}

// SendFunc delivers an encoded text frame to the client.
type SendFunc func(payload []byte) error

// CloseFunc closes the underlying WS connection with the given close code
// and reason text.
type CloseFunc func(code int, reason string)

const closeCodeNoStatus = 1005

// Session is one WebSocket client's authentication and dispatch state.
// Exactly one goroutine at a time should call HandleText; the auth-timeout
// callback and the outbound-transaction completion path run on other
// goroutines and acquire mu themselves.
type Session struct {
	mu    sync.Mutex
	state State

	clk         clock.Clock
	authTimeout time.Duration
	roles       RoleLookup
	validator   outbound.OAuthValidator
	send        SendFunc
	close       CloseFunc
	logger      *slog.Logger

	identifiers map[string]struct{}
	heldRoles   access.RoleSet

	authTimerCancel clock.Cancel
	nextTxnID       uint64
	liveTxns        map[uint64]trace.Span
	destroyed       bool

	authOutcome func(outcome string)
}

// OnAuthOutcome registers a callback invoked once per completed
// authentication attempt, with outcome one of "ok", "error", or
// "timeout" — the way Store.OnSave lets a caller observe completions
// without the domain type depending on Prometheus. Backs the
// alfred_ws_auth_total{outcome} counter.
func (s *Session) OnAuthOutcome(fn func(outcome string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authOutcome = fn
}

func (s *Session) reportAuthOutcome(outcome string) {
	s.mu.Lock()
	fn := s.authOutcome
	s.mu.Unlock()
	if fn != nil {
		fn(outcome)
	}
}

// New constructs a Session in state Opened. Call OnOpened once the caller
// is ready to start the authentication clock.
func New(clk clock.Clock, authTimeout time.Duration, roles RoleLookup, validator outbound.OAuthValidator, send SendFunc, closeFn CloseFunc, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		state:       Opened,
		clk:         clk,
		authTimeout: authTimeout,
		roles:       roles,
		validator:   validator,
		send:        send,
		close:       closeFn,
		logger:      logger,
		identifiers: make(map[string]struct{}),
		heldRoles:   access.RoleSet{},
		liveTxns:    make(map[uint64]trace.Span),
	}
}

// OnOpened transitions Opened -> AwaitingAuth and arms the authentication
// timeout.
func (s *Session) OnOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Opened {
		return
	}
	s.state = AwaitingAuth
	s.authTimerCancel = s.clk.AfterFunc(s.authTimeout, s.onAuthTimeout)
}

// Roles returns the roles the caller currently holds, a snapshot safe to
// read without the session's own lock.
func (s *Session) Roles() access.RoleSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldRoles.Clone()
}

// Authenticated reports whether the session has completed authentication.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Authenticated
}

// inboundMessage is the wire shape of every text frame this session
// accepts. Unrecognised fields are simply absent from the decode.
type inboundMessage struct {
	Type   string  `json:"type"`
	Key    *string `json:"key"`
	Twitch *string `json:"twitch"`
}

// HandleText dispatches one inbound text frame. Malformed frames (not a
// JSON object, or missing "type") close the session; unknown types reply
// with an Error message but stay open.
func (s *Session) HandleText(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		s.emitErrorAndClose("malformed message received")
		return
	}

	switch msg.Type {
	case "Authenticate":
		s.handleAuthenticate(msg)
	default:
		s.sendError(fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (s *Session) handleAuthenticate(msg inboundMessage) {
	_, span := tracer.Start(context.Background(), "wssession.Authenticate")

	s.mu.Lock()
	if s.state == Authenticated {
		s.mu.Unlock()
		s.emitErrorAndClose("already authenticated")
		span.SetStatus(codes.Error, "already authenticated")
		span.End()
		return
	}
	if s.state != AwaitingAuth {
		s.mu.Unlock()
		span.End()
		return
	}
	s.mu.Unlock()

	switch {
	case msg.Key != nil:
		s.completeAuthByIdentifier("key:" + *msg.Key)
		if !s.Authenticated() {
			span.SetStatus(codes.Error, "unknown credential")
		}
		span.End()
	case msg.Twitch != nil:
		// The span outlives this call; authenticateTwitch/completeTwitchTxn
		// end it once the outbound validation transaction resolves.
		s.authenticateTwitch(*msg.Twitch, span)
	default:
		s.emitErrorAndClose("malformed message received")
		span.SetStatus(codes.Error, "malformed message received")
		span.End()
	}
}

// completeAuthByIdentifier looks identifier up in the Roles table (per
// spec §4.3's "Role/Identifier acquisition") and transitions to
// Authenticated on success, or errors and closes when the identifier is
// unknown.
func (s *Session) completeAuthByIdentifier(identifier string) {
	roleNames, ok := s.roles.Roles(identifier)
	if !ok {
		s.emitErrorAndClose("unknown credential")
		s.reportAuthOutcome("error")
		return
	}

	s.mu.Lock()
	if s.state != AwaitingAuth {
		s.mu.Unlock()
		return
	}
	s.addIdentifierLocked(identifier, roleNames)
	if s.authTimerCancel != nil {
		s.authTimerCancel()
		s.authTimerCancel = nil
	}
	s.state = Authenticated
	s.sendLocked(map[string]any{"type": "Authenticated"})
	s.mu.Unlock()
	s.reportAuthOutcome("ok")
}

func (s *Session) addIdentifierLocked(identifier string, roleNames []string) {
	s.identifiers[identifier] = struct{}{}
	s.heldRoles = s.heldRoles.Union(access.NewRoleSet(roleNames...))
}

// authenticateTwitch validates token against the outbound OAuth provider.
// The call runs off the session goroutine (spec §4.3/§5: outbound HTTP
// returns immediately, completion is a separate dispatched event) and its
// completion callback re-acquires the session lock, finding no session to
// update (and logging an abandoned transaction) if the session has
// already been destroyed.
func (s *Session) authenticateTwitch(token string, span trace.Span) {
	s.mu.Lock()
	txnID := s.nextTxnID
	s.nextTxnID++
	s.liveTxns[txnID] = span
	s.mu.Unlock()

	go func() {
		subject, err := s.validator.Validate(token)
		s.completeTwitchTxn(txnID, subject, err)
	}()
}

func (s *Session) completeTwitchTxn(txnID uint64, subject string, err error) {
	s.mu.Lock()
	span, live := s.liveTxns[txnID]
	if s.destroyed {
		s.mu.Unlock()
		s.logger.Info("abandoned outbound transaction on destroyed session", "txn", txnID)
		if live {
			span.SetStatus(codes.Error, "session destroyed before transaction completed")
			span.End()
		}
		return
	}
	if !live {
		s.mu.Unlock()
		return
	}
	delete(s.liveTxns, txnID)
	s.mu.Unlock()

	if err != nil {
		s.emitErrorAndClose("Twitch validation failed")
		s.reportAuthOutcome("error")
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	s.completeAuthByIdentifier("twitch:" + subject)
	if !s.Authenticated() {
		span.SetStatus(codes.Error, "unknown credential")
	}
	span.End()
}

func (s *Session) onAuthTimeout() {
	s.mu.Lock()
	if s.state != AwaitingAuth {
		s.mu.Unlock()
		return
	}
	s.authTimerCancel = nil
	s.mu.Unlock()

	s.sendError("Authentication timeout")
	s.transitionToClosing(closeCodeNoStatus, "Authentication timeout")
	s.reportAuthOutcome("timeout")
}

func (s *Session) emitErrorAndClose(message string) {
	s.sendError(message)
	s.transitionToClosing(closeCodeNoStatus, message)
}

// transitionToClosing moves the session to Closing and invokes the
// listener's close delegate with the session lock released, per spec §5
// ("disconnect paths release the session lock before invoking the
// listener's close delegate").
func (s *Session) transitionToClosing(code int, reason string) {
	s.mu.Lock()
	if s.state == Closing || s.state == Dropped {
		s.mu.Unlock()
		return
	}
	s.state = Closing
	s.mu.Unlock()

	s.close(code, reason)
}

// Destroy marks the session as gone, so any outbound transaction that
// completes afterward is abandoned rather than applied. Called by the
// listener once the close-linger window elapses and the session record is
// erased.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.state = Dropped
}

func (s *Session) sendError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(map[string]any{"type": "Error", "message": message})
}

func (s *Session) sendLocked(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode outbound message", "error", err)
		return
	}
	if err := s.send(data); err != nil {
		s.logger.Warn("failed to send outbound message", "error", err)
	}
}
