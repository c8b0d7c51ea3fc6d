// Package session tracks client conversations for the streaming HTTP
// transport. Sessions are created server-side on initialize, looked up on
// every subsequent call carrying the session header, and evicted either
// explicitly or by an idle-timeout sweep.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for identifiers the store has never issued or has
// already evicted. An evicted id behaves identically to one never issued.
var ErrNotFound = errors.New("session: not found")

// ErrStreamOpen is returned by AttachStream when the session already has an
// open server-push stream. At most one stream may be open per session.
var ErrStreamOpen = errors.New("session: event stream already open")

// Session is one logical client conversation. The identifier is opaque,
// generated server-side, and never client-supplied.
type Session struct {
	id        string
	createdAt time.Time

	mu         sync.Mutex
	lastActive time.Time
	events     chan []byte
	streamOpen bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive returns the last-activity timestamp.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// touch updates the last-activity timestamp.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// AttachStream claims the session's single server-push stream and returns
// the channel events are delivered on. DetachStream must be called when the
// consumer goes away.
func (s *Session) AttachStream() (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamOpen {
		return nil, ErrStreamOpen
	}
	s.streamOpen = true
	return s.events, nil
}

// DetachStream releases the stream claim.
func (s *Session) DetachStream() {
	s.mu.Lock()
	s.streamOpen = false
	s.mu.Unlock()
}

// Publish queues an event for the session's server-push stream. When the
// buffer is full the oldest queued event is dropped; a slow or absent
// consumer must not grow server memory without bound. Returns false when an
// event was dropped to make room.
func (s *Session) Publish(event []byte) bool {
	dropped := false
	for {
		select {
		case s.events <- event:
			return !dropped
		default:
		}
		select {
		case <-s.events:
			dropped = true
		default:
		}
	}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIdleTimeout sets how long a session may sit idle before the sweep
// evicts it.
func WithIdleTimeout(d time.Duration) StoreOption {
	return func(st *Store) {
		if d > 0 {
			st.idleTimeout = d
		}
	}
}

// WithSweepInterval sets the cadence of the idle sweep.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(st *Store) {
		if d > 0 {
			st.sweepInterval = d
		}
	}
}

// WithEventBuffer sets the per-session server-push event buffer.
func WithEventBuffer(n int) StoreOption {
	return func(st *Store) {
		if n > 0 {
			st.eventBuffer = n
		}
	}
}

// Store is the keyed lifecycle store for streaming HTTP sessions. All
// operations are safe under concurrent access; identifiers are uuids, so
// concurrent Create calls never collide.
type Store struct {
	idleTimeout   time.Duration
	sweepInterval time.Duration
	eventBuffer   int
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore creates a session store and starts its idle sweep.
func NewStore(opts ...StoreOption) *Store {
	st := &Store{
		idleTimeout:   30 * time.Minute,
		sweepInterval: time.Minute,
		eventBuffer:   16,
		now:           time.Now,
		sessions:      make(map[string]*Session),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(st)
	}

	go st.sweepLoop()
	return st
}

// Create generates a fresh identifier and inserts an empty session.
func (st *Store) Create() *Session {
	now := st.now()
	s := &Session{
		id:         uuid.NewString(),
		createdAt:  now,
		lastActive: now,
		events:     make(chan []byte, st.eventBuffer),
	}

	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()
	return s
}

// Get looks up a session by identifier.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Touch updates a session's last-activity timestamp.
func (st *Store) Touch(id string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	s.touch(st.now())
	return nil
}

// Delete removes a session. Subsequent lookups of the identifier return
// ErrNotFound.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(st.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Close stops the idle sweep.
func (st *Store) Close() {
	st.stopOnce.Do(func() { close(st.stop) })
}

func (st *Store) sweepLoop() {
	ticker := time.NewTicker(st.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.sweep()
		}
	}
}

// sweep removes sessions idle beyond the configured threshold.
func (st *Store) sweep() {
	cutoff := st.now().Add(-st.idleTimeout)

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		if s.LastActive().Before(cutoff) {
			delete(st.sessions, id)
		}
	}
}
