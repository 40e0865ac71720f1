package ratelimit

import (
	"context"
	"sync"
	"time"

	"broker-governor/internal/logger"
	"broker-governor/internal/store"
	"broker-governor/internal/types"
)

// Quota is a fixed-window counter. Count never exceeds Limit.
type Quota struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

func (q Quota) available() bool {
	return q.Count < q.Limit
}

// Limits configures a RateLimiter.
type Limits struct {
	Global         int
	GlobalWindow   time.Duration
	Categories     [types.CategoryCount]int
	CategoryWindow time.Duration
}

// DefaultLimits mirrors the broker's published quotas.
func DefaultLimits() Limits {
	return LimitsFromConfig(store.Default())
}

func LimitsFromConfig(cfg store.Config) Limits {
	l := Limits{
		Global:         cfg.Limits.Global.Limit,
		GlobalWindow:   cfg.Limits.Global.Window,
		CategoryWindow: cfg.Limits.CategoryWindow,
	}
	for _, c := range types.Categories() {
		l.Categories[c] = cfg.CategoryLimit(c)
	}
	return l
}

// RateLimiter implements fixed-window quota accounting: one global counter and
// one counter per category. Counters reset on a timer, not per request.
type RateLimiter struct {
	mu         sync.Mutex
	global     Quota
	categories [types.CategoryCount]Quota

	globalWindow   time.Duration
	categoryWindow time.Duration
}

func New(limits Limits) *RateLimiter {
	rl := &RateLimiter{
		global:         Quota{Limit: limits.Global},
		globalWindow:   limits.GlobalWindow,
		categoryWindow: limits.CategoryWindow,
	}
	for i, limit := range limits.Categories {
		rl.categories[i] = Quota{Limit: limit}
	}
	return rl
}

// CheckAndConsume increments the global and category counters iff both are
// below their limits. A false result means retry later.
func (rl *RateLimiter) CheckAndConsume(c types.Category) bool {
	if !c.Valid() {
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.global.available() || !rl.categories[c].available() {
		return false
	}
	rl.global.Count++
	rl.categories[c].Count++
	return true
}

func (rl *RateLimiter) ResetGlobal() {
	rl.mu.Lock()
	rl.global.Count = 0
	rl.mu.Unlock()
}

func (rl *RateLimiter) ResetCategories() {
	rl.mu.Lock()
	for i := range rl.categories {
		rl.categories[i].Count = 0
	}
	rl.mu.Unlock()
}

// Run resets the windows on their cadence until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	globalTicker := time.NewTicker(rl.globalWindow)
	defer globalTicker.Stop()
	categoryTicker := time.NewTicker(rl.categoryWindow)
	defer categoryTicker.Stop()

	logger.Info(ctx, "Rate limiter windows started",
		"global_window", rl.globalWindow.String(),
		"category_window", rl.categoryWindow.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-globalTicker.C:
			rl.ResetGlobal()
		case <-categoryTicker.C:
			rl.ResetCategories()
		}
	}
}

// Usage is a point-in-time copy of all counters.
type Usage struct {
	Global     Quota                    `json:"global"`
	Categories map[types.Category]Quota `json:"categories"`
}

func (rl *RateLimiter) Snapshot() Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u := Usage{
		Global:     rl.global,
		Categories: make(map[types.Category]Quota, types.CategoryCount),
	}
	for i, q := range rl.categories {
		u.Categories[types.Category(i)] = q
	}
	return u
}
