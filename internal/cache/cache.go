// Package cache memoizes aggregation results with per-operation TTLs.
package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ytakeda/staffwatch/internal/metrics"
	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Config holds the per-operation TTLs.
type Config struct {
	CurrentTTL time.Duration
	HistoryTTL time.Duration
	RollupTTL  time.Duration
}

// Operation names used as cache key prefixes and TTL classes.
const (
	OpCurrent = "current"
	OpHistory = "history"
	OpNames   = "names"
	OpHourly  = "hourly"
	OpArea    = "area"
	OpDaily   = "daily"
	OpGenre   = "genre"
	OpPopular = "popular"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL memoization layer over the aggregation engine. Concurrent
// lookups of the same cold key are coalesced into a single compute; a
// failed compute is never stored.
type Cache struct {
	cfg   Config
	clock staffing.Clock

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

// New constructs a Cache.
func New(cfg Config, clock staffing.Clock) *Cache {
	if cfg.CurrentTTL <= 0 {
		cfg.CurrentTTL = 60 * time.Second
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = 5 * time.Minute
	}
	if cfg.RollupTTL <= 0 {
		cfg.RollupTTL = 10 * time.Minute
	}
	return &Cache{
		cfg:     cfg,
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// Key builds a stable cache key from an operation and its parameters.
// Parameter order does not matter.
func Key(op string, params map[string]string) string {
	if len(params) == 0 {
		return op
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(op)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Do returns the cached value for key, computing it at most once among
// concurrent callers when absent or expired.
func (c *Cache) Do(ctx context.Context, op, key string, compute func(context.Context) (any, error)) (any, error) {
	if v, ok := c.lookup(key); ok {
		metrics.ObserveCache(op, "hit")
		return v, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have stored the value while this one
		// was waiting on the flight lock.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.storeEntry(op, key, v)
		return v, nil
	})
	if err != nil {
		metrics.ObserveCache(op, "error")
		return nil, err
	}
	if shared {
		metrics.ObserveCache(op, "coalesced")
	} else {
		metrics.ObserveCache(op, "miss")
	}
	return v, nil
}

// Refresh drops one key so the next lookup recomputes.
func (c *Cache) Refresh(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry. The orchestrator calls this after each
// crawl cycle so readers never see stale data longer than one cycle.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len reports the number of live entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.clock.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) storeEntry(op, key string, v any) {
	c.mu.Lock()
	c.entries[key] = entry{value: v, expiresAt: c.clock.Now().Add(c.ttlFor(op))}
	c.mu.Unlock()
}

func (c *Cache) ttlFor(op string) time.Duration {
	switch op {
	case OpCurrent:
		return c.cfg.CurrentTTL
	case OpHistory:
		return c.cfg.HistoryTTL
	default:
		return c.cfg.RollupTTL
	}
}
