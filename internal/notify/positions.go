package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"broker-governor/internal/interfaces"
	"broker-governor/internal/logger"
	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PositionSource returns the open positions of an account.
type PositionSource interface {
	Positions(ctx context.Context, accountID string) ([]types.Position, error)
}

// FormatPositions renders an account's positions as an operator report:
// total value and P&L first, then one block per position, best P&L first.
// Flat positions are left out.
func FormatPositions(accountID string, positions []types.Position) string {
	open := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		if p.Quantity != 0 {
			open = append(open, p)
		}
	}

	lines := []string{"# " + accountID}
	if len(open) == 0 {
		lines = append(lines, "No open positions")
		return strings.Join(lines, "\n")
	}

	pnl := func(p types.Position) decimal.Decimal {
		return p.LastPrice.Sub(p.AveragePrice).Mul(decimal.NewFromInt(p.Quantity))
	}
	sort.SliceStable(open, func(i, k int) bool {
		return pnl(open[i]).GreaterThan(pnl(open[k]))
	})

	var value, cost, total decimal.Decimal
	for _, p := range open {
		qty := decimal.NewFromInt(p.Quantity)
		value = value.Add(p.LastPrice.Mul(qty))
		cost = cost.Add(p.AveragePrice.Mul(qty))
		total = total.Add(pnl(p))
	}

	lines = append(lines, "Value: "+value.StringFixed(2))
	if cost.IsZero() {
		lines = append(lines, "P&L: "+total.StringFixed(2))
	} else {
		pct := total.Div(cost.Abs()).Mul(hundred)
		lines = append(lines, fmt.Sprintf("P&L: %s (%s%%)", total.StringFixed(2), pct.StringFixed(2)))
	}

	for _, p := range open {
		name := p.Ticker
		if name == "" {
			name = p.InstrumentID
		}
		lines = append(lines, "",
			fmt.Sprintf("%s (%s)", name, p.InstrumentID),
			fmt.Sprintf("%s → %s (x %d)", p.AveragePrice.StringFixed(2), p.LastPrice.StringFixed(2), p.Quantity),
			"P&L: "+pnl(p).StringFixed(2))
	}
	return strings.Join(lines, "\n")
}

// SendPositions sends one report per account. An account whose positions
// cannot be fetched is skipped and its error joined into the result.
func SendPositions(ctx context.Context, src PositionSource, n interfaces.Notifier, accountIDs []string) error {
	var errs []error
	for _, id := range accountIDs {
		positions, err := src.Positions(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("positions for %s: %w", id, err))
			continue
		}
		if err := n.Notify(ctx, FormatPositions(id, positions)); err != nil {
			errs = append(errs, fmt.Errorf("report for %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RunPositionReports sends a positions report for every account on each tick
// of every until ctx is done.
func RunPositionReports(ctx context.Context, src PositionSource, n interfaces.Notifier, accountIDs []string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	logger.Info(ctx, "Position reports scheduled", "accounts", len(accountIDs), "every", every.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := SendPositions(ctx, src, n, accountIDs); err != nil {
				logger.ErrorWithErr(ctx, "Position report incomplete", err)
			}
		}
	}
}
