package rate

import (
	"sync"
	"time"
)

const sweepEvery = time.Minute

type entry struct {
	hits    int
	resetAt time.Time
}

// Limiter counts requests per key in fixed windows, entirely in
// memory. Keys combine the route with the caller's IP, so one noisy
// client cannot exhaust a route for everyone. Expired entries are
// swept while the lock is already held.
type Limiter struct {
	mu        sync.Mutex
	windows   map[string]entry
	nextSweep time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		windows:   map[string]entry{},
		nextSweep: time.Now().UTC().Add(sweepEvery),
	}
}

// Allow records one request against key and reports whether it still
// fits inside limit for the current window.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, e := range l.windows {
			if now.After(e.resetAt) {
				delete(l.windows, k)
			}
		}
		l.nextSweep = now.Add(sweepEvery)
	}

	e, ok := l.windows[key]
	if !ok || !now.Before(e.resetAt) {
		l.windows[key] = entry{hits: 1, resetAt: now.Add(window)}
		return true
	}
	if e.hits >= limit {
		return false
	}
	e.hits++
	l.windows[key] = e
	return true
}
