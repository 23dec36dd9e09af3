package daemon

import (
	"sync"
	"time"
)

// RateLimiter bounds how fast a single peer IP can churn through
// handover registrations, a sliding window kept in memory (the daemon
// has no other peer identity to key on before a session exists).
//
// Adapted from the teacher's internal/ipc.RateLimiter, which keyed the
// same sliding-window scheme by local UID for IPC connections; this
// keys by peer IP string instead, since a handover client has no UID
// until a session is established.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration

	mu          sync.Mutex
	attempts    map[string][]time.Time
	lastCleanup time.Time
}

const cleanupInterval = 5 * time.Minute

// NewRateLimiter creates a rate limiter allowing maxAttempts registrations
// per peer IP within window.
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether peerIP may register another pending client, and
// if so records the attempt.
func (r *RateLimiter) Allow(peerIP string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	if now.Sub(r.lastCleanup) > cleanupInterval {
		for ip, times := range r.attempts {
			allExpired := true
			for _, t := range times {
				if t.After(cutoff) {
					allExpired = false
					break
				}
			}
			if allExpired {
				delete(r.attempts, ip)
			}
		}
		r.lastCleanup = now
	}

	existing := r.attempts[peerIP]
	pruned := make([]time.Time, 0, len(existing))
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= r.maxAttempts {
		r.attempts[peerIP] = pruned
		return false
	}

	r.attempts[peerIP] = append(pruned, now)
	return true
}

// Reset clears all rate-limit state.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = make(map[string][]time.Time)
}
