package brokerobs

import (
	"context"

	"broker-governor/internal/interfaces"
	"broker-governor/internal/logger"
	"broker-governor/internal/trace"
	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
)

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.Broker
}

var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{broker: broker}
}

func (ob *observableBroker) Instruments(ctx context.Context) (_ []types.Instrument, err error) {
	ctx, span := trace.StartSpan(ctx, "broker.Instruments")
	defer func() { trace.Finish(span, err) }()

	logger.DebugSkip(ctx, 1, "Fetching instruments")

	insts, err := ob.broker.Instruments(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch instruments", err)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Instruments fetched", "count", len(insts))
	return insts, nil
}

func (ob *observableBroker) LastPrices(ctx context.Context, instrumentIDs []string) (_ map[string]decimal.Decimal, err error) {
	ctx, span := trace.StartSpan(ctx, "broker.LastPrices")
	defer func() { trace.Finish(span, err) }()

	logger.DebugSkip(ctx, 1, "Fetching last prices", "count", len(instrumentIDs))

	prices, err := ob.broker.LastPrices(ctx, instrumentIDs)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch last prices", err, "count", len(instrumentIDs))
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Last prices fetched", "requested", len(instrumentIDs), "returned", len(prices))
	return prices, nil
}

func (ob *observableBroker) Accounts(ctx context.Context) (_ []types.Account, err error) {
	ctx, span := trace.StartSpan(ctx, "broker.Accounts")
	defer func() { trace.Finish(span, err) }()

	accs, err := ob.broker.Accounts(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch accounts", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Accounts fetched", "count", len(accs))
	return accs, nil
}

func (ob *observableBroker) OpenOrders(ctx context.Context, accountID string) (_ []types.Order, err error) {
	ctx, span := trace.StartSpan(ctx, "broker.OpenOrders")
	defer func() { trace.Finish(span, err) }()

	logger.DebugSkip(ctx, 1, "Fetching open orders", "account_id", accountID)

	orders, err := ob.broker.OpenOrders(ctx, accountID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch open orders", err, "account_id", accountID)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Open orders fetched", "account_id", accountID, "count", len(orders))
	return orders, nil
}

func (ob *observableBroker) Positions(ctx context.Context, accountID string) (_ []types.Position, err error) {
	ctx, span := trace.StartSpan(ctx, "broker.Positions")
	defer func() { trace.Finish(span, err) }()

	logger.DebugSkip(ctx, 1, "Fetching positions", "account_id", accountID)

	positions, err := ob.broker.Positions(ctx, accountID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err, "account_id", accountID)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Positions fetched", "account_id", accountID, "count", len(positions))
	return positions, nil
}
