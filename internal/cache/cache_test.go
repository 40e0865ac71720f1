package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"broker-governor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLimiter grants a fixed number of calls.
type stubLimiter struct {
	mu        sync.Mutex
	remaining int
}

func (l *stubLimiter) CheckAndConsume(types.Category) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remaining <= 0 {
		return false
	}
	l.remaining--
	return true
}

func (l *stubLimiter) grant(n int) {
	l.mu.Lock()
	l.remaining += n
	l.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFetchStoresAndOverwrites(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rc := New(&stubLimiter{remaining: 10}, WithClock(clock.Now))
	ctx := context.Background()

	v, err := GetOrFetch(ctx, rc, types.CategoryOrders, "acc-1", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(time.Second)

	v, err = GetOrFetch(ctx, rc, types.CategoryOrders, "acc-1", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, rc.Len())
}

func TestIdempotentWithinTTL(t *testing.T) {
	limiter := &stubLimiter{remaining: 10}
	rc := New(limiter)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		return "portfolio", nil
	}

	a, err := GetOrFetch(ctx, rc, types.CategoryOperations, "acc-1", fetch)
	require.NoError(t, err)
	b, err := GetOrFetch(ctx, rc, types.CategoryOperations, "acc-1", fetch)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 9, limiter.remaining)
}

func TestServesFreshEntryWhenQuotaExhausted(t *testing.T) {
	limiter := &stubLimiter{remaining: 1}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rc := New(limiter, WithClock(clock.Now), WithBackoff(time.Hour))
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"INFY"}, nil
	}

	first, err := GetOrFetch(ctx, rc, types.CategoryMarketData, "ltp", fetch)
	require.NoError(t, err)

	clock.Advance(500 * time.Millisecond)

	done := make(chan struct{})
	var second []string
	go func() {
		defer close(done)
		second, err = GetOrFetch(ctx, rc, types.CategoryMarketData, "ltp", fetch)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("GetOrFetch suspended despite a fresh entry")
	}
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCustomTTLExtendsFreshness(t *testing.T) {
	limiter := &stubLimiter{remaining: 1}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rc := New(limiter, WithClock(clock.Now), WithBackoff(time.Hour))
	ctx := context.Background()

	_, err := GetOrFetch(ctx, rc, types.CategoryAccounts, "all", func(context.Context) (string, error) { return "a", nil })
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	v, err := GetOrFetch(ctx, rc, types.CategoryAccounts, "all",
		func(context.Context) (string, error) { return "b", nil }, WithTTL(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestBacksOffUntilQuotaReturns(t *testing.T) {
	limiter := &stubLimiter{}
	rc := New(limiter, WithBackoff(10*time.Millisecond))

	go func() {
		time.Sleep(40 * time.Millisecond)
		limiter.grant(1)
	}()

	start := time.Now()
	v, err := GetOrFetch(context.Background(), rc, types.CategoryOperations, "ops",
		func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestStaleEntryTriggersBackoff(t *testing.T) {
	limiter := &stubLimiter{remaining: 1}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rc := New(limiter, WithClock(clock.Now), WithBackoff(time.Hour))

	_, err := GetOrFetch(context.Background(), rc, types.CategoryOrders, "k",
		func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = GetOrFetch(ctx, rc, types.CategoryOrders, "k",
		func(context.Context) (int, error) { return 2, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchFailureIsUnavailable(t *testing.T) {
	rc := New(&stubLimiter{remaining: 2})
	boom := errors.New("connection reset")

	_, err := GetOrFetch(context.Background(), rc, types.CategoryOrders, "k",
		func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, rc.Len())

	_, err = GetOrFetch(context.Background(), rc, types.CategoryOrders, "k",
		func(context.Context) (int, error) { panic("decoder bug") })
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTypeMismatchIsMiss(t *testing.T) {
	limiter := &stubLimiter{remaining: 1}
	rc := New(limiter, WithBackoff(time.Hour))

	_, err := GetOrFetch(context.Background(), rc, types.CategoryOrders, "k",
		func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = GetOrFetch(ctx, rc, types.CategoryOrders, "k",
		func(context.Context) (string, error) { return "x", nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSweepClearsEverything(t *testing.T) {
	rc := New(&stubLimiter{remaining: 10}, WithSweepInterval(10*time.Millisecond))
	for _, key := range []string{"a", "b", "c"} {
		_, err := GetOrFetch(context.Background(), rc, types.CategoryInstruments, key,
			func(context.Context) (string, error) { return key, nil })
		require.NoError(t, err)
	}
	require.Equal(t, 3, rc.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rc.Run(ctx)

	assert.Eventually(t, func() bool { return rc.Len() == 0 }, time.Second, 5*time.Millisecond)
}
