// Package session keeps every part of the front end in agreement about who is
// signed in.
//
// THE PROBLEM:
// Several independent UI pieces (the header's auth status, each comment
// panel, the sign-in prompt) all need the current session. The session itself
// is owned by an external auth service and can change at any moment: a token
// refresh, a sign-out in another process, an OAuth redirect completing.
//
// THE SOLUTION:
// One Store per process, created in main and handed to every consumer. The
// Store fetches the session once, then mirrors the auth service's change
// notifications. Consumers Subscribe and are called back with every new value.
//
//	auth service ──change events──▶ Store ──notify──▶ header, panels, ...
//	                                  ▲
//	       comment panel ──Session()──┘  (read-only, to authorize a write)
//
// Only the Store writes the stored value, and only inside its notify path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sakif/blog/internal/model"
)

// ErrAlreadyInitialized is returned by a second call to Initialize.
var ErrAlreadyInitialized = errors.New("session: store already initialized")

// AuthService is the capability the Store needs from the external auth
// provider. It is injected at construction so tests can pass a fake.
type AuthService interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*model.Session, error)
	// OnAuthStateChange registers fn for every future session change and
	// returns a function that removes the registration.
	OnAuthStateChange(fn func(event model.AuthEvent, s *model.Session)) (unsubscribe func())
	// SignOut ends the session. The resulting change arrives through
	// OnAuthStateChange like any other.
	SignOut(ctx context.Context) error
}

// Listener receives a private copy of the session (nil = signed out).
type Listener func(s *model.Session)

// State is the coarse auth state derived from the stored session.
type State int

const (
	// StateUnknown lasts from construction until the first fetch resolves
	// or the first change event arrives.
	StateUnknown State = iota
	StateSignedOut
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed-out"
	case StateSignedIn:
		return "signed-in"
	default:
		return "unknown"
	}
}

// Store is the single source of truth for the visitor's session.
//
// Construct exactly one per process with New, call Initialize once at
// startup, and pass the *Store to every consumer.
type Store struct {
	auth   AuthService
	logger *slog.Logger

	mu          sync.Mutex
	current     *model.Session
	state       State
	version     uint64 // bumped on every stored change
	initialized bool
	sawEvent    bool // a change event arrived; a slower initial fetch must not overwrite it
	subs        []*subscriber
	unregister  func()
}

// subscriber wraps one Listener.
//
// mu guards the bookkeeping only and is never held while fn runs, so a
// listener may call back into the Store (or into the auth service, which
// calls the Store) from inside its callback.
//
// At most one goroutine drains a subscriber at a time. A delivery that
// arrives while fn is running, from another goroutine or from fn itself,
// just records itself as pending; the draining call hands it over once fn
// returns. Only versions newer than the last accepted one are recorded, so
// a listener never goes back in time and always ends on the latest value.
type subscriber struct {
	fn     Listener
	closed atomic.Bool

	mu         sync.Mutex
	seen       uint64 // newest version accepted
	accepted   bool
	pending    *model.Session
	hasPending bool
	draining   bool
}

// New creates a Store around the given auth capability.
func New(auth AuthService, logger *slog.Logger) *Store {
	return &Store{
		auth:   auth,
		logger: logger,
	}
}

// Initialize fetches the current session and starts mirroring changes.
//
// The change callback is registered before the fetch is issued, so an event
// that lands while the fetch is in flight is never lost; if one does land,
// the fetch result is discarded as older.
//
// A failing fetch is logged and treated as signed out: anonymous browsing
// must not depend on the auth service being up. Initialize therefore only
// fails when called twice.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.initialized = true
	s.mu.Unlock()

	unregister := s.auth.OnAuthStateChange(s.handleChange)

	s.mu.Lock()
	s.unregister = unregister
	s.mu.Unlock()

	sess, err := s.auth.GetSession(ctx)
	if err != nil {
		s.logger.Warn("session: initial fetch failed, continuing signed out",
			slog.String("error", err.Error()),
		)
		sess = nil
	}

	s.mu.Lock()
	if s.sawEvent {
		s.mu.Unlock()
		s.logger.Debug("session: change event arrived during initial fetch, keeping it")
		return nil
	}
	s.apply(model.EventInitialSession, sess)
	return nil
}

// handleChange is the callback registered with the auth service.
func (s *Store) handleChange(event model.AuthEvent, sess *model.Session) {
	s.mu.Lock()
	s.sawEvent = true
	s.apply(event, sess)
}

// apply stores sess if it differs from the current value and fans it out.
// It must be called with s.mu held and releases it before calling listeners.
func (s *Store) apply(event model.AuthEvent, sess *model.Session) {
	next := sess.Clone()
	if next == nil {
		s.state = StateSignedOut
	} else {
		s.state = StateSignedIn
	}

	if s.current.Equal(next) {
		s.mu.Unlock()
		s.logger.Debug("session: change ignored, value unchanged", slog.String("event", string(event)))
		return
	}

	s.current = next
	s.version++
	version := s.version
	subs := make([]*subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	s.logger.Info("session changed",
		slog.String("event", string(event)),
		slog.String("state", stateOf(next).String()),
	)

	// Subscription order is preserved because s.subs is append-only apart
	// from removals.
	for _, sub := range subs {
		sub.deliver(next, version)
	}
}

// Subscribe registers l. It is called synchronously with the current value
// before Subscribe returns, and again on every change. The returned function
// unsubscribes; calling it more than once is harmless.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	sub := &subscriber{fn: l}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	current, version := s.current, s.version
	s.mu.Unlock()

	sub.deliver(current, version)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(sub) })
	}
}

func (s *Store) remove(target *subscriber) {
	target.closed.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == target {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Session returns a copy of the last known session, nil when signed out or
// not yet known. It never blocks on the network.
func (s *Store) Session() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// State reports whether the session is known, and if so whether someone is
// signed in.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SignOut asks the auth service to end the session.
//
// The stored value is not touched here. The sign-out reaches subscribers
// through the regular change path, possibly after SignOut has returned.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("session: signing out: %w", err)
	}
	return nil
}

// Close stops mirroring the auth service. Subscribers keep the last value.
func (s *Store) Close() {
	s.mu.Lock()
	unregister := s.unregister
	s.unregister = nil
	s.mu.Unlock()

	if unregister != nil {
		unregister()
	}
}

func (sub *subscriber) deliver(sess *model.Session, version uint64) {
	sub.mu.Lock()
	if sub.closed.Load() || (sub.accepted && version <= sub.seen) {
		sub.mu.Unlock()
		return
	}
	sub.seen = version
	sub.accepted = true
	sub.pending = sess
	sub.hasPending = true
	if sub.draining {
		sub.mu.Unlock()
		return
	}
	sub.draining = true

	for sub.hasPending && !sub.closed.Load() {
		next := sub.pending
		sub.pending, sub.hasPending = nil, false
		sub.mu.Unlock()

		sub.fn(next.Clone())

		sub.mu.Lock()
	}
	sub.pending, sub.hasPending = nil, false
	sub.draining = false
	sub.mu.Unlock()
}

func stateOf(s *model.Session) State {
	if s == nil {
		return StateSignedOut
	}
	return StateSignedIn
}
