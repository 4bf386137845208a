package queue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter paces job dispatch per queue so a backlog drains at a steady
// rate instead of slamming the reasoning provider or the database.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter with the given per-queue defaults.
// A rate of zero or less disables pacing.
func NewLimiter(perSecond float64, burst int) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait blocks until the queue's limiter clears a dispatch slot
func (l *Limiter) Wait(ctx context.Context, queue string) error {
	return l.limiterFor(queue).Wait(ctx)
}

// Allow reports whether a dispatch slot is available right now
func (l *Limiter) Allow(queue string) bool {
	return l.limiterFor(queue).Allow()
}

// SetQueueRate overrides the pacing for one queue
func (l *Limiter) SetQueueRate(queue string, perSecond float64, burst int) {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = l.defaultBurst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[queue] = rate.NewLimiter(limit, burst)
}

func (l *Limiter) limiterFor(queue string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[queue]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring the write lock
	if limiter, exists := l.limiters[queue]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[queue] = limiter
	return limiter
}
