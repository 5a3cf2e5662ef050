// Package store implements the Store component: it owns the document
// tree, serves role-projected reads through the access engine, maintains
// the path-keyed subscription registry, and coalesces writes to the
// backing file behind a single mutex. The concurrency shape (one mutex
// guarding a small field cluster, a cleanup/cancel closure per
// registration) follows the teacher's
// internal/adapter/outbound/memory.MemorySessionStore.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rhymu8354/alfred/internal/domain/access"
	"github.com/rhymu8354/alfred/internal/domain/clock"
	"github.com/rhymu8354/alfred/internal/domain/document"
	"github.com/rhymu8354/alfred/internal/port/outbound"
)

// subscription is one registered Subscribe call.
type subscription struct {
	token    uint64
	path     []string
	held     access.RoleSet
	onUpdate func(document.Value)
}

// Store is the single in-memory document tree plus its save scheduler and
// subscription registry. A Store built by New starts un-mobilized; call
// Mobilize before Get/Subscribe/ScheduleSave do anything useful.
type Store struct {
	logger *slog.Logger

	mu           sync.Mutex
	tree         document.Value
	persister    outbound.Persister
	clock        clock.Clock
	mobilized    bool
	generation   uint64
	dirty        bool
	saving       bool
	nextSaveTime time.Time
	minInterval  time.Duration
	cancelSave   clock.Cancel

	subscribers map[uint64][]*subscription
	nextToken   uint64
	pathHash    func(path []string) uint64

	onSave func(duration time.Duration, err error)
}

// New creates an un-mobilized Store bound to persister for loads and
// saves.
func New(persister outbound.Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:      logger,
		persister:   persister,
		subscribers: make(map[uint64][]*subscription),
		pathHash:    hashPath,
	}
}

// OnSave registers a callback invoked after every attempted background
// save, for metrics/tracing instrumentation. Not required for correct
// operation.
func (s *Store) OnSave(fn func(duration time.Duration, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSave = fn
}

// Mobilize loads the backing document, reads Configuration.MinSaveInterval
// (default 60s), binds clk as the time source, and marks the Store ready.
// Idempotent: calling Mobilize while already mobilized is a no-op that
// returns true.
func (s *Store) Mobilize(clk clock.Clock) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mobilized {
		return true
	}

	tree, err := s.persister.Load()
	if err != nil {
		s.logger.Error("store load failed", "error", err)
		return false
	}

	s.tree = tree
	s.clock = clk
	s.minInterval = minSaveInterval(tree)
	s.mobilized = true
	s.generation++
	s.dirty = false
	s.saving = false
	s.nextSaveTime = clk.Now()
	return true
}

// Demobilize cancels any pending save, clears dirty state, detaches the
// clock, and marks the Store un-mobilized. Safe to call on an
// un-mobilized Store.
func (s *Store) Demobilize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demobilizeLocked()
}

func (s *Store) demobilizeLocked() {
	if s.cancelSave != nil {
		s.cancelSave()
		s.cancelSave = nil
	}
	s.dirty = false
	s.saving = false
	s.clock = nil
	s.mobilized = false
}

// Get runs the access engine over the current tree under lock and
// returns the role-projected result.
func (s *Store) Get(path []string, held access.RoleSet) document.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mobilized {
		return document.Null
	}
	return access.Get(s.tree, path, held)
}

// Subscribe registers onUpdate to be informed of the current projection at
// path for held. The initial projection is delivered synchronously,
// before Subscribe returns, but with the Store's lock released so
// onUpdate may safely call back into the Store. The returned cancel
// closure erases the registration; calling it more than once is a no-op.
func (s *Store) Subscribe(path []string, held access.RoleSet, onUpdate func(document.Value)) func() {
	s.mu.Lock()
	if !s.mobilized {
		s.mu.Unlock()
		return func() {}
	}

	bucket := s.pathHash(path)
	token := s.nextToken
	s.nextToken++

	sub := &subscription{token: token, path: path, held: held, onUpdate: onUpdate}
	s.subscribers[bucket] = append(s.subscribers[bucket], sub)

	initial := access.Get(s.tree, path, held)
	s.mu.Unlock()

	onUpdate(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.removeSubscription(bucket, token)
		})
	}
}

func (s *Store) removeSubscription(bucket, token uint64) {
	subs := s.subscribers[bucket]
	for i, sub := range subs {
		if sub.token == token {
			s.subscribers[bucket] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subscribers[bucket]) == 0 {
		delete(s.subscribers, bucket)
	}
}

// SubscriberCount reports the number of live subscriptions, for the
// alfred_active_subscriptions gauge.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, subs := range s.subscribers {
		n += len(subs)
	}
	return n
}

// ScheduleSave arms the coalesced save timer per spec §4.2: if a save is
// already armed, it just marks dirty and returns. Otherwise it captures
// the current generation, schedules Save at max(nextSaveTime, now), and
// immediately advances nextSaveTime by minInterval so bursty callers
// cannot push saves closer together than minInterval apart.
func (s *Store) ScheduleSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleSaveLocked()
}

func (s *Store) scheduleSaveLocked() {
	if !s.mobilized {
		return
	}
	if s.saving {
		s.dirty = true
		return
	}

	now := s.clock.Now()
	next := s.nextSaveTime
	if next.Before(now) {
		next = now
	}

	s.saving = true
	s.dirty = false
	gen := s.generation

	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.cancelSave = s.clock.AfterFunc(delay, func() { s.runScheduledSave(gen) })
	s.nextSaveTime = next.Add(s.minInterval)
}

func (s *Store) runScheduledSave(gen uint64) {
	s.mu.Lock()
	if !s.mobilized || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	start := time.Now()
	err := s.Save()
	if fn := s.onSaveCallback(); fn != nil {
		fn(time.Since(start), err)
	}
}

func (s *Store) onSaveCallback() func(time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onSave
}

// Save writes the current document to the backing file, clears saving,
// and re-arms ScheduleSave if a write arrived while this save was in
// flight.
func (s *Store) Save() error {
	s.mu.Lock()
	if !s.mobilized {
		s.mu.Unlock()
		return nil
	}
	tree := s.tree
	s.mu.Unlock()

	err := s.persister.Save(tree)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if !s.mobilized {
		return err
	}
	if s.dirty {
		s.scheduleSaveLocked()
	}
	return err
}

// hashPath buckets a path slice with xxhash, avoiding repeated
// string-slice comparisons on the subscriber registry's hot path.
func hashPath(path []string) uint64 {
	d := xxhash.New()
	for _, p := range path {
		_, _ = d.Write([]byte(p))
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// minSaveInterval reads Configuration.MinSaveInterval from tree, per
// spec §6, defaulting to 60 seconds when absent, zero, or malformed.
func minSaveInterval(tree document.Value) time.Duration {
	v := tree.Get("Configuration").Get("MinSaveInterval")
	if v.Kind != document.KindNumber || v.Number <= 0 {
		return 60 * time.Second
	}
	return time.Duration(v.Number * float64(time.Second))
}

// Roles implements wssession.RoleLookup against the top-level "Roles" key
// (spec §6: an object mapping identifier to an array of role strings). ok
// is false if the Store isn't mobilized or identifier has no entry.
func (s *Store) Roles(identifier string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mobilized {
		return nil, false
	}
	v := s.tree.Get("Roles").Get(identifier)
	if v.Kind != document.KindArray {
		return nil, false
	}
	roles := make([]string, 0, len(v.Array))
	for _, item := range v.Array {
		if item.Kind == document.KindString {
			roles = append(roles, item.String)
		}
	}
	return roles, true
}

// Mobilized reports whether the Store is currently mobilized, for the
// /healthz liveness check.
func (s *Store) Mobilized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mobilized
}
