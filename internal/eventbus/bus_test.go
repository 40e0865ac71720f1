package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitInRegistrationOrder(t *testing.T) {
	bus := New[string]()
	topic := OrderFillTopic("AB1234")
	require.Equal(t, "orderFill:AB1234", topic)

	var got []string
	bus.On(topic, func(_ context.Context, p string) { got = append(got, "first:"+p) })
	bus.On(topic, func(_ context.Context, p string) { got = append(got, "second:"+p) })

	n := bus.Emit(context.Background(), topic, "fill-1")
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first:fill-1", "second:fill-1"}, got)

	assert.Equal(t, 0, bus.Emit(context.Background(), OrderFillTopic("other"), "x"))
}

func TestOff(t *testing.T) {
	bus := New[int]()
	calls := 0
	id := bus.On("t", func(context.Context, int) { calls++ })

	assert.True(t, bus.Off("t", id))
	assert.False(t, bus.Off("t", id))
	assert.Equal(t, 0, bus.Emit(context.Background(), "t", 1))
	assert.Equal(t, 0, calls)
	assert.Empty(t, bus.Topics())
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := New[int]()
	var got []int
	bus.On("t", func(context.Context, int) { panic("handler bug") })
	bus.On("t", func(_ context.Context, v int) { got = append(got, v) })

	assert.NotPanics(t, func() { bus.Emit(context.Background(), "t", 7) })
	assert.Equal(t, []int{7}, got)
}

func TestOffDuringEmit(t *testing.T) {
	bus := New[int]()
	var second ID
	calls := 0
	bus.On("t", func(context.Context, int) { bus.Off("t", second) })
	second = bus.On("t", func(context.Context, int) { calls++ })

	bus.Emit(context.Background(), "t", 1)
	assert.Equal(t, 1, calls)

	bus.Emit(context.Background(), "t", 2)
	assert.Equal(t, 1, calls)
}
