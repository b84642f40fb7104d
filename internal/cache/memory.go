package cache

import (
	"context"
	"sync"
	"time"
)

type summaryEntry struct {
	value     string
	createdAt time.Time
}

// MemorySummaryCache keeps summaries in process memory. Expired entries are
// pruned on each access.
type MemorySummaryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]summaryEntry
}

func NewMemorySummaryCache(ttl time.Duration) *MemorySummaryCache {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	return &MemorySummaryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]summaryEntry),
	}
}

func (c *MemorySummaryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemorySummaryCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.entries[key] = summaryEntry{value: value, createdAt: c.now()}
	return nil
}

func (c *MemorySummaryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemorySummaryCache) pruneLocked() {
	cutoff := c.now().Add(-c.ttl)
	for key, entry := range c.entries {
		if !entry.createdAt.After(cutoff) {
			delete(c.entries, key)
		}
	}
}

// MemoryRateLimiter allows at most limit requests per caller within a
// sliding window.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls map[string][]time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &MemoryRateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		calls:  make(map[string][]time.Time),
	}
}

// Allow records the request and reports whether it fits in the window.
// Rejected requests are not recorded.
func (l *MemoryRateLimiter) Allow(_ context.Context, caller string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	for key, times := range l.calls {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.calls, key)
			continue
		}
		l.calls[key] = kept
	}

	if len(l.calls[caller]) >= l.limit {
		return false, nil
	}
	l.calls[caller] = append(l.calls[caller], now)
	return true, nil
}
