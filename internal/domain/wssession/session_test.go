package wssession

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/rhymu8354/alfred/internal/domain/clock"
)

// fakeClock is a manually-advanced clock.Clock sufficient for exercising a
// single armed timer at a time, which is all a Session ever needs.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	deadline time.Time
	fn       func()
	armed    bool
	canceled bool
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) clock.Cancel {
	c.mu.Lock()
	c.deadline = c.now.Add(d)
	c.fn = fn
	c.armed = true
	c.canceled = false
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.canceled = true
	}
}

func (c *fakeClock) Advance(t time.Time) {
	c.mu.Lock()
	c.now = t
	fire := c.armed && !c.canceled && !c.deadline.After(t)
	fn := c.fn
	if fire {
		c.armed = false
	}
	c.mu.Unlock()
	if fire {
		fn()
	}
}

type fakeRoles struct {
	table map[string][]string
}

func (f fakeRoles) Roles(identifier string) ([]string, bool) {
	r, ok := f.table[identifier]
	return r, ok
}

type fakeValidator struct {
	subject string
	err     error
	release chan struct{}
}

func (f fakeValidator) Validate(string) (string, error) {
	if f.release != nil {
		<-f.release
	}
	return f.subject, f.err
}

type recorder struct {
	mu     sync.Mutex
	sent   []map[string]any
	closed bool
	code   int
	reason string
}

func (r *recorder) send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(payload, &m)
	r.sent = append(r.sent, m)
	return nil
}

func (r *recorder) close(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.code = code
	r.reason = reason
}

func (r *recorder) lastMessage() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

// TestSession_AuthenticateByKey exercises Scenario 5: a valid key
// credential transitions the session to Authenticated and grants the
// listed role.
func TestSession_AuthenticateByKey(t *testing.T) {
	rec := &recorder{}
	roles := fakeRoles{table: map[string][]string{"key:abc": {"editor"}}}
	s := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, roles, fakeValidator{}, rec.send, rec.close, nil)
	s.OnOpened()

	s.HandleText([]byte(`{"type":"Authenticate","key":"abc"}`))

	if !s.Authenticated() {
		t.Fatal("session not Authenticated after valid key")
	}
	if _, ok := s.Roles()["editor"]; !ok {
		t.Errorf("Roles() = %v, want to include editor", s.Roles())
	}
	if got := rec.lastMessage(); got["type"] != "Authenticated" {
		t.Errorf("last message = %v, want type Authenticated", got)
	}
	if rec.closed {
		t.Error("session closed after successful authentication")
	}
}

func TestSession_AuthenticateByUnknownKey_ErrorsAndCloses(t *testing.T) {
	rec := &recorder{}
	roles := fakeRoles{table: map[string][]string{}}
	s := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, roles, fakeValidator{}, rec.send, rec.close, nil)
	s.OnOpened()

	s.HandleText([]byte(`{"type":"Authenticate","key":"nope"}`))

	if s.Authenticated() {
		t.Fatal("session Authenticated with unknown key")
	}
	if !rec.closed {
		t.Error("session not closed after unknown credential")
	}
}

func TestSession_AuthenticateByTwitch_Success(t *testing.T) {
	rec := &recorder{}
	roles := fakeRoles{table: map[string][]string{"twitch:12345": {"viewer"}}}
	validator := fakeValidator{subject: "12345"}
	s := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, roles, validator, rec.send, rec.close, nil)
	s.OnOpened()

	s.HandleText([]byte(`{"type":"Authenticate","twitch":"sometoken"}`))

	deadline := time.Now().Add(time.Second)
	for !s.Authenticated() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.Authenticated() {
		t.Fatal("session never reached Authenticated after Twitch validation")
	}
	if _, ok := s.Roles()["viewer"]; !ok {
		t.Errorf("Roles() = %v, want to include viewer", s.Roles())
	}
}

// TestSession_UnknownMessageType_DoesNotClose exercises P8.
func TestSession_UnknownMessageType_DoesNotClose(t *testing.T) {
	rec := &recorder{}
	s := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, fakeRoles{table: map[string][]string{}}, fakeValidator{}, rec.send, rec.close, nil)
	s.OnOpened()

	s.HandleText([]byte(`{"type":"Frobnicate"}`))

	if rec.closed {
		t.Error("unknown message type closed the session")
	}
	if got := rec.lastMessage(); got["type"] != "Error" {
		t.Errorf("last message = %v, want type Error", got)
	}
}

// TestSession_MalformedMessage_AlwaysCloses exercises P8.
func TestSession_MalformedMessage_AlwaysCloses(t *testing.T) {
	rec := &recorder{}
	s := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, fakeRoles{table: map[string][]string{}}, fakeValidator{}, rec.send, rec.close, nil)
	s.OnOpened()

	s.HandleText([]byte(`not json`))

	if !rec.closed {
		t.Error("malformed message did not close the session")
	}
}

// TestSession_AuthTimeout exercises P7/Scenario 6: a session that never
// authenticates is disconnected once the auth timer fires.
func TestSession_AuthTimeout(t *testing.T) {
	rec := &recorder{}
	clk := newFakeClock(time.Unix(0, 0))
	s := New(clk, 5*time.Second, fakeRoles{table: map[string][]string{}}, fakeValidator{}, rec.send, rec.close, nil)
	s.OnOpened()

	clk.Advance(time.Unix(5, 0))

	if !rec.closed {
		t.Fatal("session not closed after auth timeout")
	}
	if rec.code != closeCodeNoStatus {
		t.Errorf("close code = %d, want %d", rec.code, closeCodeNoStatus)
	}
	if got := rec.lastMessage(); got["message"] != "Authentication timeout" {
		t.Errorf("last message = %v, want Authentication timeout", got)
	}
}

func TestSession_OnAuthOutcome_ReportsOkErrorAndTimeout(t *testing.T) {
	var outcomes []string
	record := func(outcome string) { outcomes = append(outcomes, outcome) }

	rec := &recorder{}
	roles := fakeRoles{table: map[string][]string{"key:abc": {"editor"}}}
	ok := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, roles, fakeValidator{}, rec.send, rec.close, nil)
	ok.OnAuthOutcome(record)
	ok.OnOpened()
	ok.HandleText([]byte(`{"type":"Authenticate","key":"abc"}`))

	bad := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, fakeRoles{table: map[string][]string{}}, fakeValidator{}, rec.send, rec.close, nil)
	bad.OnAuthOutcome(record)
	bad.OnOpened()
	bad.HandleText([]byte(`{"type":"Authenticate","key":"nope"}`))

	clk := newFakeClock(time.Unix(0, 0))
	late := New(clk, 5*time.Second, fakeRoles{table: map[string][]string{}}, fakeValidator{}, rec.send, rec.close, nil)
	late.OnAuthOutcome(record)
	late.OnOpened()
	clk.Advance(time.Unix(5, 0))

	want := []string{"ok", "error", "timeout"}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", outcomes, want)
	}
	for i, w := range want {
		if outcomes[i] != w {
			t.Errorf("outcomes[%d] = %q, want %q", i, outcomes[i], w)
		}
	}
}

func TestSession_ReauthenticationOnAuthenticatedSession_Closes(t *testing.T) {
	rec := &recorder{}
	roles := fakeRoles{table: map[string][]string{"key:abc": {"editor"}}}
	s := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, roles, fakeValidator{}, rec.send, rec.close, nil)
	s.OnOpened()
	s.HandleText([]byte(`{"type":"Authenticate","key":"abc"}`))
	rec.mu.Lock()
	rec.closed = false
	rec.mu.Unlock()

	s.HandleText([]byte(`{"type":"Authenticate","key":"abc"}`))

	if !rec.closed {
		t.Error("reauthentication on an authenticated session did not close it")
	}
}

func TestSession_OutboundTransactionAbandonedAfterDestroy(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	roles := fakeRoles{table: map[string][]string{"twitch:1": {"viewer"}}}
	release := make(chan struct{})
	validator := fakeValidator{subject: "1", release: release}
	s := New(newFakeClock(time.Unix(0, 0)), 30*time.Second, roles, validator, rec.send, rec.close, nil)
	s.OnOpened()

	s.HandleText([]byte(`{"type":"Authenticate","twitch":"tok"}`))
	s.Destroy()
	close(release)
	time.Sleep(20 * time.Millisecond)

	if s.Authenticated() {
		t.Error("destroyed session became Authenticated from an abandoned transaction")
	}
}
