// Package clock abstracts time for the identity layer.
//
// Two notions of time are kept apart on purpose:
//
//   - Wall time ([Clock.Now]) feeds anything that is persisted or compared
//     against externally-issued timestamps: session creation, token
//     issued-at, identity-token claim checks.
//   - Monotonic time ([Clock.Mono]) feeds in-process deadlines such as the
//     key cache's expiry and retry-at instants, which must not jump when
//     the wall clock is adjusted.
//
// Production code uses [System]; tests use [Fake] to step through refresh
// and expiry scenarios without sleeping.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock provides wall time, monotonic time, and interruptible sleep.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// Mono returns a monotonic reading measured from an arbitrary but
	// fixed origin. Readings are comparable with each other only.
	Mono() time.Duration

	// SleepUntil blocks until the monotonic reading reaches deadline or
	// the context is done, whichever comes first. It returns ctx.Err()
	// when interrupted and nil when the deadline was reached.
	SleepUntil(ctx context.Context, deadline time.Duration) error
}

// ---- System clock ----

// System is the production Clock backed by the runtime's clocks.
type System struct {
	origin time.Time
}

// NewSystem returns a System clock. The monotonic origin is fixed at
// construction time.
func NewSystem() *System {
	return &System{origin: time.Now()}
}

// Now returns the current wall-clock time.
func (s *System) Now() time.Time {
	return time.Now()
}

// Mono returns the elapsed monotonic time since construction.
func (s *System) Mono() time.Duration {
	return time.Since(s.origin)
}

// SleepUntil blocks until Mono() reaches deadline or ctx is done.
func (s *System) SleepUntil(ctx context.Context, deadline time.Duration) error {
	remaining := deadline - s.Mono()
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Clock = (*System)(nil)

// ---- Fake clock ----

// Fake is a manually-advanced Clock for tests. Advance moves both the
// wall and monotonic readings and releases any SleepUntil waiters whose
// deadline has been reached.
type Fake struct {
	mu      sync.Mutex
	wall    time.Time
	mono    time.Duration
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Duration
	ch       chan struct{}
}

// NewFake returns a Fake clock starting at the given wall time with a
// zero monotonic reading.
func NewFake(start time.Time) *Fake {
	return &Fake{wall: start}
}

// Now returns the fake wall time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wall
}

// Mono returns the fake monotonic reading.
func (f *Fake) Mono() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mono
}

// SleepUntil blocks until Advance moves the monotonic reading past
// deadline or ctx is done.
func (f *Fake) SleepUntil(ctx context.Context, deadline time.Duration) error {
	f.mu.Lock()
	if f.mono >= deadline {
		f.mu.Unlock()
		return nil
	}
	w := &fakeWaiter{deadline: deadline, ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

// Advance moves both clocks forward by d and wakes eligible sleepers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.wall = f.wall.Add(d)
	f.mono += d

	remaining := f.waiters[:0]
	var woken []*fakeWaiter
	for _, w := range f.waiters {
		if f.mono >= w.deadline {
			woken = append(woken, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
	f.mu.Unlock()

	for _, w := range woken {
		close(w.ch)
	}
}

// BlockUntilWaiters blocks until at least n goroutines are parked in
// SleepUntil. Tests use it to make sure the loop under test is asleep
// before advancing the clock.
func (f *Fake) BlockUntilWaiters(n int) {
	for {
		f.mu.Lock()
		count := len(f.waiters)
		f.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// SetWall sets the wall time without touching the monotonic reading.
// Useful for simulating wall-clock adjustments.
func (f *Fake) SetWall(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wall = t
}

var _ Clock = (*Fake)(nil)
