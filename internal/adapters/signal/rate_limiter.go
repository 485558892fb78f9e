package signal

import (
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimiter allows each participant limit messages per interval, with
// bursts of up to limit.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.ParticipantID]*rate.Limiter
	every    rate.Limit
	burst    int
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 {
		return &RateLimiter{every: rate.Inf}
	}
	return &RateLimiter{
		limiters: make(map[domain.ParticipantID]*rate.Limiter),
		every:    rate.Every(interval / time.Duration(limit)),
		burst:    limit,
	}
}

func (rl *RateLimiter) Allow(pid domain.ParticipantID) bool {
	if rl.every == rate.Inf {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.limiters[pid]
	if !ok {
		lim = rate.NewLimiter(rl.every, rl.burst)
		rl.limiters[pid] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

func (rl *RateLimiter) Forget(pid domain.ParticipantID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, pid)
}
