package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ShutdownManager coordinates draining across the gateway's transports.
// While it is draining, plain HTTP and streaming HTTP reject new calls with
// 503, open event streams are closed, and the WebSocket transport stops
// accepting upgrades and closes its connections. In-flight work is counted
// through TrackRequest/CompleteRequest; Shutdown waits for the count to
// reach zero.
type ShutdownManager struct {
	timeout time.Duration
	delay   time.Duration
	notify  func(error)

	inFlight atomic.Int64
	idle     chan struct{}

	drainOnce sync.Once
	drain     chan struct{}

	doneOnce sync.Once
	done     chan struct{}
}

// ShutdownOption configures a ShutdownManager.
type ShutdownOption func(*ShutdownManager)

// WithDrainTimeout bounds how long Shutdown waits for in-flight work.
func WithDrainTimeout(d time.Duration) ShutdownOption {
	return func(sm *ShutdownManager) {
		if d > 0 {
			sm.timeout = d
		}
	}
}

// WithDrainDelay inserts a pause before draining begins, giving load
// balancers time to take the instance out of rotation.
func WithDrainDelay(d time.Duration) ShutdownOption {
	return func(sm *ShutdownManager) {
		sm.delay = d
	}
}

// WithDrainNotify registers a callback invoked when draining finishes, with
// the timeout error if in-flight work was abandoned.
func WithDrainNotify(fn func(error)) ShutdownOption {
	return func(sm *ShutdownManager) {
		sm.notify = fn
	}
}

// NewShutdownManager creates a shutdown manager. Share one instance across
// every transport that should drain together.
func NewShutdownManager(opts ...ShutdownOption) *ShutdownManager {
	sm := &ShutdownManager{
		timeout: 30 * time.Second,
		idle:    make(chan struct{}, 1),
		drain:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// IsDraining reports whether draining has begun.
func (sm *ShutdownManager) IsDraining() bool {
	select {
	case <-sm.drain:
		return true
	default:
		return false
	}
}

// Draining returns a channel closed when draining begins. Long-lived
// handlers select on it to wind down early.
func (sm *ShutdownManager) Draining() <-chan struct{} {
	return sm.drain
}

// InFlight returns the number of tracked in-flight units.
func (sm *ShutdownManager) InFlight() int64 {
	return sm.inFlight.Load()
}

// TrackRequest registers one in-flight unit. It returns false once draining
// has begun; the caller must then reject the work and skip CompleteRequest.
func (sm *ShutdownManager) TrackRequest() bool {
	if sm.IsDraining() {
		return false
	}
	sm.inFlight.Add(1)
	return true
}

// CompleteRequest releases one in-flight unit.
func (sm *ShutdownManager) CompleteRequest() {
	if sm.inFlight.Add(-1) > 0 {
		return
	}
	select {
	case sm.idle <- struct{}{}:
	default:
	}
}

// Shutdown begins draining and blocks until in-flight work completes, the
// drain timeout elapses, or ctx is canceled.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	if sm.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sm.delay):
		}
	}

	sm.drainOnce.Do(func() { close(sm.drain) })

	timer := time.NewTimer(sm.timeout)
	defer timer.Stop()

	var err error
wait:
	for sm.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break wait
		case <-timer.C:
			err = context.DeadlineExceeded
			break wait
		case <-sm.idle:
			// Re-check the count; the signal is a hint, not a guarantee.
		}
	}

	sm.doneOnce.Do(func() { close(sm.done) })
	if sm.notify != nil {
		sm.notify(err)
	}
	return err
}

// Done returns a channel closed once draining has finished.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}
