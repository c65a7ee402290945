package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(maxFailures int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(maxFailures, cooldown)
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return clock }
	return cb, &clock
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := testBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.Failure()
	}

	assert.True(t, cb.Open())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	cb, _ := testBreaker(3, time.Minute)

	cb.Failure()
	cb.Failure()
	cb.Success()
	cb.Failure()
	cb.Failure()

	assert.False(t, cb.Open(), "non-consecutive failures must not trip the breaker")
	assert.NoError(t, cb.Allow())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	cb, clock := testBreaker(1, time.Minute)

	cb.Failure()
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	*clock = clock.Add(time.Minute)

	require.NoError(t, cb.Allow(), "cooldown elapsed, one trial call goes through")
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "only one trial at a time in half-open")
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	cb, clock := testBreaker(1, time.Minute)

	cb.Failure()
	*clock = clock.Add(time.Minute)
	require.NoError(t, cb.Allow())

	cb.Failure()

	assert.True(t, cb.Open())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	// a full new cooldown starts from the reopening
	*clock = clock.Add(30 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	*clock = clock.Add(30 * time.Second)
	assert.NoError(t, cb.Allow())
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	cb, clock := testBreaker(1, time.Minute)

	cb.Failure()
	*clock = clock.Add(time.Minute)
	require.NoError(t, cb.Allow())

	cb.Success()

	assert.False(t, cb.Open())
	assert.NoError(t, cb.Allow())
	assert.NoError(t, cb.Allow())
}

func TestBreakerCancelReleasesTrialWithoutClosing(t *testing.T) {
	cb, clock := testBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		cb.Failure()
	}
	*clock = clock.Add(time.Minute)
	require.NoError(t, cb.Allow(), "cooldown elapsed, trial admitted")

	cb.Cancel()

	require.NoError(t, cb.Allow(), "a cancelled trial frees the slot for the next caller")
	cb.Failure()

	// were the circuit closed, a single failure out of three would not trip
	// it; half-open means one failed trial reopens immediately
	assert.True(t, cb.Open())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestRateLimiterFixedWindow(t *testing.T) {
	rl := NewRateLimiter(2)
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	require.NoError(t, rl.Take("key-a"))
	require.NoError(t, rl.Take("key-a"))
	assert.ErrorIs(t, rl.Take("key-a"), ErrRateLimited)

	assert.NoError(t, rl.Take("key-b"), "keys have independent budgets")

	clock = clock.Add(time.Minute)
	assert.NoError(t, rl.Take("key-a"), "a fresh window resets the budget")
}

func TestRateLimiterZeroLimitDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Take("key-a"))
	}
}
