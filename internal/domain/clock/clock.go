// Package clock provides the monotonic wall-time source and scheduler the
// Store uses to coalesce saves and the WS session engine uses to arm
// authentication timeouts and close-linger erasure. Both are thin wrappers
// over the standard library's time package — the out-of-scope "OS wall
// clock" the top-level spec names — but give the domain code a seam to
// fake time in tests.
package clock

import "time"

// Clock is the monotonic time source a Store or Session is bound to.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run once, as close as possible to when
	// d has elapsed, and returns a handle that cancels it.
	AfterFunc(d time.Duration, fn func()) Cancel
}

// Cancel stops a scheduled callback. Calling it after the callback has
// already fired, or more than once, is a no-op.
type Cancel func()

// System is the production Clock, backed by time.Now and time.AfterFunc.
type System struct{}

// New returns the production system clock.
func New() System { return System{} }

func (System) Now() time.Time { return time.Now() }

func (System) AfterFunc(d time.Duration, fn func()) Cancel {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
