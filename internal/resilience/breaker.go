// Package resilience provides reliability patterns for agent dispatch.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting dispatches.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State reports the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker implements a circuit breaker protecting agent dispatch.
// It tracks consecutive failures and opens the circuit when a threshold is
// reached, rejecting dispatches until a timeout elapses. OnTrip fires once
// per closed-to-open transition so callers can emit a system signal and
// persist the tripped flag.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	onTrip      func(failures int)
	onReset     func()
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// OnTrip registers a callback invoked (outside the lock) each time the
// breaker transitions to open.
func (b *Breaker) OnTrip(fn func(failures int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = fn
}

// OnReset registers a callback invoked (outside the lock) each time the
// breaker transitions back to closed after having been open.
func (b *Breaker) OnReset(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = fn
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	var notify func()
	if err != nil {
		notify = b.onFailure()
	} else {
		notify = b.onSuccess()
	}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}

	return err
}

// State returns the current breaker position, accounting for timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset force-closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	wasOpen := b.state != StateClosed
	b.state = StateClosed
	b.failures = 0
	notify := b.onReset
	b.mu.Unlock()

	if wasOpen && notify != nil {
		notify()
	}
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return false
}

// onFailure must be called with b.mu held. Returns a trip notification to
// run after the lock is released, or nil.
func (b *Breaker) onFailure() func() {
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		wasClosed := b.state != StateOpen
		b.state = StateOpen
		b.openedAt = b.now()
		if wasClosed && b.onTrip != nil {
			fn := b.onTrip
			n := b.failures
			return func() { fn(n) }
		}
	}
	return nil
}

// onSuccess must be called with b.mu held. Returns a reset notification to
// run after the lock is released, or nil.
func (b *Breaker) onSuccess() func() {
	wasOpen := b.state != StateClosed
	b.failures = 0
	b.state = StateClosed
	if wasOpen && b.onReset != nil {
		return b.onReset
	}
	return nil
}
