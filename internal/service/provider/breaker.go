package provider

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without any network I/O while the breaker is
// open; callers go straight to the fallback scorer, which bounds pipeline
// latency when the provider is down.
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker opens after a run of consecutive failures and half-opens
// after the cooldown, letting a single trial call through.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         breakerState
	failures      int
	maxFailures   int
	cooldown      time.Duration
	openedAt      time.Time
	trialInFlight bool
	now           func() time.Time
}

func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. In half-open state only one
// trial call is admitted at a time.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = breakerHalfOpen
		cb.trialInFlight = true
		return nil
	default: // half-open
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	}
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = breakerClosed
	cb.failures = 0
	cb.trialInFlight = false
}

// Cancel releases an admitted call that never reached the provider, such as
// one rejected by the rate limiter. State and the failure run are preserved;
// in half-open the trial slot goes back up for grabs, and only a real
// Success closes the circuit.
func (cb *CircuitBreaker) Cancel() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false
	if cb.state == breakerHalfOpen {
		cb.state = breakerOpen
		cb.openedAt = cb.now()
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = breakerOpen
		cb.openedAt = cb.now()
	}
}

// Open reports whether calls are currently rejected.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == breakerOpen && cb.now().Sub(cb.openedAt) < cb.cooldown
}
