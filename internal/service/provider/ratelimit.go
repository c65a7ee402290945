package provider

import (
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("provider rate limit exceeded for key")

// RateLimiter enforces a fixed-window per-key call budget
// (rate_limit_per_minute). A zero limit disables limiting.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit:   perMinute,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (rl *RateLimiter) Take(key string) error {
	if rl.limit <= 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.windows[key]
	if w == nil || now.Sub(w.start) >= time.Minute {
		rl.windows[key] = &window{start: now, count: 1}
		return nil
	}
	if w.count >= rl.limit {
		return ErrRateLimited
	}
	w.count++
	return nil
}
