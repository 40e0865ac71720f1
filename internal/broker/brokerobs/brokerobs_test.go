package brokerobs

import (
	"context"
	"errors"
	"testing"

	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBroker struct {
	err   error
	calls []string
}

func (s *stubBroker) Instruments(context.Context) ([]types.Instrument, error) {
	s.calls = append(s.calls, "Instruments")
	return []types.Instrument{{ID: "1"}}, s.err
}

func (s *stubBroker) LastPrices(_ context.Context, ids []string) (map[string]decimal.Decimal, error) {
	s.calls = append(s.calls, "LastPrices")
	return map[string]decimal.Decimal{"1": decimal.NewFromInt(10)}, s.err
}

func (s *stubBroker) Accounts(context.Context) ([]types.Account, error) {
	s.calls = append(s.calls, "Accounts")
	return nil, s.err
}

func (s *stubBroker) OpenOrders(context.Context, string) ([]types.Order, error) {
	s.calls = append(s.calls, "OpenOrders")
	return nil, s.err
}

func (s *stubBroker) Positions(context.Context, string) ([]types.Position, error) {
	s.calls = append(s.calls, "Positions")
	return nil, s.err
}

func TestWrapDelegates(t *testing.T) {
	inner := &stubBroker{}
	b := Wrap(inner)
	ctx := context.Background()

	insts, err := b.Instruments(ctx)
	require.NoError(t, err)
	assert.Len(t, insts, 1)

	prices, err := b.LastPrices(ctx, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, "10", prices["1"].String())

	_, _ = b.Accounts(ctx)
	_, _ = b.OpenOrders(ctx, "AB1234")
	_, _ = b.Positions(ctx, "AB1234")

	assert.Equal(t, []string{"Instruments", "LastPrices", "Accounts", "OpenOrders", "Positions"}, inner.calls)
}

func TestWrapPropagatesErrors(t *testing.T) {
	boom := errors.New("gateway timeout")
	b := Wrap(&stubBroker{err: boom})

	insts, err := b.Instruments(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, insts)

	_, err = b.OpenOrders(context.Background(), "AB1234")
	assert.ErrorIs(t, err, boom)
}
