package ratelimit

import (
	"context"
	"sync"
	"time"

	"evalpipe/internal/domain"
)

type memoryLimiter struct {
	mu      sync.Mutex
	counts  map[string]*memoryCounter
	maxKeys int
	now     func() time.Time
}

type memoryCounter struct {
	count   int
	resetAt time.Time
}

type MemoryLimiterConfig struct {
	MaxKeys int
}

// NewMemoryLimiter builds a single-process rate limiter, used when no
// Redis URL is configured. State does not survive process restart and
// is not shared across replicas.
func NewMemoryLimiter(cfg MemoryLimiterConfig) domain.RateLimiter {
	return &memoryLimiter{
		counts:  make(map[string]*memoryCounter),
		maxKeys: cfg.MaxKeys,
		now:     time.Now,
	}
}

func (m *memoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	counter, ok := m.counts[key]
	if !ok || now.After(counter.resetAt) {
		if !ok && m.maxKeys > 0 && len(m.counts) >= m.maxKeys {
			m.evictOldest()
		}
		counter = &memoryCounter{count: 0, resetAt: now.Add(window)}
		m.counts[key] = counter
	}
	counter.count++

	remaining := limit - counter.count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   counter.count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   counter.resetAt,
	}, nil
}

// evictOldest drops one entry at random-ish (map iteration order) when
// the tracked-key cap is reached, trading exactness for a bounded
// memory footprint.
func (m *memoryLimiter) evictOldest() {
	for k := range m.counts {
		delete(m.counts, k)
		return
	}
}
