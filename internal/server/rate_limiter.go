// Package server implements token bucket rate limiting for connections and
// datagram endpoints so one noisy peer cannot monopolise the dispatcher.
package server

import (
	"sync"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(capacity) / interval.Seconds()
	if perSecond <= 0 {
		perSecond = float64(capacity)
	}

	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), capacity)}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}

// endpointLimiter keeps one bucket per endpoint for transports without
// connections. Entries idle for longer than idleAfter are pruned once the
// table grows past maxEntries.
type endpointLimiter struct {
	mu         sync.Mutex
	entries    map[domain.Endpoint]*limiterEntry
	capacity   int
	interval   time.Duration
	maxEntries int
	idleAfter  time.Duration
	now        func() time.Time
}

type limiterEntry struct {
	limiter  *rateLimiter
	lastSeen time.Time
}

func newEndpointLimiter(cfg RateLimitConfig, maxEntries int) *endpointLimiter {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &endpointLimiter{
		entries:    make(map[domain.Endpoint]*limiterEntry),
		capacity:   cfg.Burst,
		interval:   cfg.RefillInterval,
		maxEntries: maxEntries,
		idleAfter:  10 * cfg.RefillInterval,
		now:        time.Now,
	}
}

func (l *endpointLimiter) allow(ep domain.Endpoint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[ep]
	if !ok {
		if len(l.entries) >= l.maxEntries {
			l.prune(now)
		}
		entry = &limiterEntry{limiter: newRateLimiter(l.capacity, l.interval)}
		l.entries[ep] = entry
	}
	entry.lastSeen = now
	return entry.limiter.allow()
}

func (l *endpointLimiter) prune(now time.Time) {
	for ep, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idleAfter {
			delete(l.entries, ep)
		}
	}
}
