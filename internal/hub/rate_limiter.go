package hub

import (
	"sync"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
)

// RateLimiter allows at most limit publishes per party in any interval.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PartyID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.PartyID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(party domain.PartyID) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[party]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[party] = fresh
		return false
	}
	rl.history[party] = append(fresh, now)
	return true
}

// Forget drops the history of a party that disconnected.
func (rl *RateLimiter) Forget(party domain.PartyID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, party)
}
