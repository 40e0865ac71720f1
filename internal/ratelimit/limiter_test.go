package ratelimit

import (
	"context"
	"testing"
	"time"

	"broker-governor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits(global, perCategory int) Limits {
	l := Limits{Global: global, GlobalWindow: time.Hour, CategoryWindow: time.Hour}
	for i := range l.Categories {
		l.Categories[i] = perCategory
	}
	return l
}

func TestOrdersWindowScenario(t *testing.T) {
	limits := testLimits(50, 100)
	limits.Categories[types.CategoryOrders] = 2
	rl := New(limits)

	assert.True(t, rl.CheckAndConsume(types.CategoryOrders))
	assert.True(t, rl.CheckAndConsume(types.CategoryOrders))
	assert.False(t, rl.CheckAndConsume(types.CategoryOrders))

	rl.ResetCategories()
	assert.True(t, rl.CheckAndConsume(types.CategoryOrders))
}

func TestEveryCategoryExhausts(t *testing.T) {
	limits := DefaultLimits()
	limits.Global = 1 << 20
	rl := New(limits)

	for _, c := range types.Categories() {
		for i := 0; i < limits.Categories[c]; i++ {
			require.Truef(t, rl.CheckAndConsume(c), "%s call %d", c, i+1)
		}
		assert.Falsef(t, rl.CheckAndConsume(c), "%s over limit", c)
	}
}

func TestGlobalLimitDominates(t *testing.T) {
	rl := New(testLimits(3, 100))

	require.True(t, rl.CheckAndConsume(types.CategoryAccounts))
	require.True(t, rl.CheckAndConsume(types.CategoryOrders))
	require.True(t, rl.CheckAndConsume(types.CategoryMarketData))

	for _, c := range types.Categories() {
		assert.False(t, rl.CheckAndConsume(c))
	}

	rl.ResetGlobal()
	assert.True(t, rl.CheckAndConsume(types.CategoryStopOrders))
}

func TestRejectionDoesNotMutate(t *testing.T) {
	limits := testLimits(5, 100)
	limits.Categories[types.CategoryStopOrders] = 1
	rl := New(limits)

	require.True(t, rl.CheckAndConsume(types.CategoryStopOrders))
	require.False(t, rl.CheckAndConsume(types.CategoryStopOrders))

	usage := rl.Snapshot()
	assert.Equal(t, 1, usage.Global.Count)
	assert.Equal(t, Quota{Count: 1, Limit: 1}, usage.Categories[types.CategoryStopOrders])
}

func TestUnknownCategory(t *testing.T) {
	rl := New(DefaultLimits())
	assert.False(t, rl.CheckAndConsume(types.Category(99)))
	assert.Equal(t, 0, rl.Snapshot().Global.Count)
}

func TestRunResetsGlobalWindow(t *testing.T) {
	limits := testLimits(1, 100)
	limits.GlobalWindow = 20 * time.Millisecond
	rl := New(limits)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rl.Run(ctx)

	require.True(t, rl.CheckAndConsume(types.CategoryOperations))
	require.False(t, rl.CheckAndConsume(types.CategoryOperations))

	assert.Eventually(t, func() bool {
		return rl.CheckAndConsume(types.CategoryOperations)
	}, time.Second, 5*time.Millisecond)
}
