package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"broker-governor/internal/logger"
	"broker-governor/internal/types"
)

// ErrUnavailable marks a fetch that failed. The caller has no data for now;
// the failure is not retried.
var ErrUnavailable = errors.New("cache: no data available")

// Limiter is the quota gate consulted before every miss-fill.
type Limiter interface {
	CheckAndConsume(c types.Category) bool
}

type entryKey struct {
	category types.Category
	key      string
}

type entry struct {
	storedAt time.Time
	value    any
}

// ResultCache holds the latest successful result per (category, key).
// Entries are overwritten on every fetch and only removed by the periodic
// sweep, which clears everything at once.
type ResultCache struct {
	limiter Limiter

	mu      sync.RWMutex
	entries map[entryKey]entry

	defaultTTL    time.Duration
	backoff       time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

type Option func(*ResultCache)

// WithDefaultTTL sets the freshness window used when a call passes none.
func WithDefaultTTL(d time.Duration) Option {
	return func(rc *ResultCache) { rc.defaultTTL = d }
}

// WithBackoff sets the wait between attempts while the quota is exhausted.
func WithBackoff(d time.Duration) Option {
	return func(rc *ResultCache) { rc.backoff = d }
}

func WithSweepInterval(d time.Duration) Option {
	return func(rc *ResultCache) { rc.sweepInterval = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(rc *ResultCache) { rc.now = now }
}

func New(limiter Limiter, opts ...Option) *ResultCache {
	rc := &ResultCache{
		limiter:       limiter,
		entries:       make(map[entryKey]entry),
		defaultTTL:    time.Second,
		backoff:       time.Minute,
		sweepInterval: 2 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

type fetchConfig struct {
	ttl time.Duration
}

type FetchOption func(*fetchConfig)

// WithTTL sets how long a stored result is served instead of fetching.
func WithTTL(d time.Duration) FetchOption {
	return func(fc *fetchConfig) { fc.ttl = d }
}

// GetOrFetch returns the result of fetch for (category, key). An entry younger
// than the ttl is returned as is. Otherwise the rate limiter is consulted; with
// no quota left it waits for the backoff interval and tries again until ctx is
// done. A failed fetch is logged and reported as ErrUnavailable.
func GetOrFetch[T any](ctx context.Context, rc *ResultCache, category types.Category, key string, fetch func(context.Context) (T, error), opts ...FetchOption) (T, error) {
	var zero T

	fc := fetchConfig{ttl: rc.defaultTTL}
	for _, opt := range opts {
		opt(&fc)
	}

	// A fresh entry is served without spending quota.
	if v, ok := lookup[T](rc, category, key, fc.ttl); ok {
		return v, nil
	}

	for attempt := 1; ; attempt++ {
		if rc.limiter.CheckAndConsume(category) {
			break
		}
		logger.Quota(ctx, category.String(), false, "key", key, "attempt", attempt)

		if v, ok := lookup[T](rc, category, key, fc.ttl); ok {
			return v, nil
		}

		logger.Debug(ctx, "Quota exhausted with no fresh entry, backing off",
			"category", category.String(), "key", key, "backoff", rc.backoff.String(), "attempt", attempt)

		timer := time.NewTimer(rc.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	op := logger.StartOperation(ctx, "cache.fetch", "category", category.String(), "key", key)
	v, err := safeFetch(op.Context(), fetch)
	if err != nil {
		op.EndWithError(err)
		return zero, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, category, key, err)
	}
	op.End()

	rc.store(category, key, v)
	return v, nil
}

func safeFetch[T any](ctx context.Context, fetch func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return fetch(ctx)
}

// lookup returns the stored value if it is younger than ttl and of type T.
func lookup[T any](rc *ResultCache, category types.Category, key string, ttl time.Duration) (T, bool) {
	var zero T

	rc.mu.RLock()
	e, ok := rc.entries[entryKey{category, key}]
	rc.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !rc.now().Before(e.storedAt.Add(ttl)) {
		return zero, false
	}
	v, ok := e.value.(T)
	return v, ok
}

func (rc *ResultCache) store(category types.Category, key string, value any) {
	rc.mu.Lock()
	rc.entries[entryKey{category, key}] = entry{storedAt: rc.now(), value: value}
	rc.mu.Unlock()
}

// Clear drops every entry.
func (rc *ResultCache) Clear() {
	rc.mu.Lock()
	rc.entries = make(map[entryKey]entry)
	rc.mu.Unlock()
}

func (rc *ResultCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.entries)
}

// Run clears the cache every sweep interval until ctx is done.
func (rc *ResultCache) Run(ctx context.Context) {
	ticker := time.NewTicker(rc.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.Clear()
		}
	}
}
