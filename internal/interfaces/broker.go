package interfaces

import (
	"context"

	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
)

// Broker is the remote call surface. Each method maps to one quota category;
// callers reach it through the governor, never directly.
type Broker interface {
	Instruments(ctx context.Context) ([]types.Instrument, error)
	LastPrices(ctx context.Context, instrumentIDs []string) (map[string]decimal.Decimal, error)
	Accounts(ctx context.Context) ([]types.Account, error)
	OpenOrders(ctx context.Context, accountID string) ([]types.Order, error)
	Positions(ctx context.Context, accountID string) ([]types.Position, error)
}
