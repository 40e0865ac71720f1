package notify

import (
	"context"
	"errors"
	"fmt"

	"broker-governor/internal/interfaces"
	"broker-governor/internal/logger"
	"broker-governor/internal/types"
)

// Multi sends to every notifier and joins their errors.
type Multi []interfaces.Notifier

func (m Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatFill renders a fill as an operator message.
func FormatFill(fill types.OrderFill) string {
	ticker := fill.Ticker
	if ticker == "" {
		ticker = fill.InstrumentID
	}
	return fmt.Sprintf("%s %d %s @ %s\naccount %s, order %s (%s)",
		fill.Direction, fill.Quantity, ticker, fill.Price.StringFixed(2),
		fill.AccountID, fill.OrderID, fill.Status)
}

// FillHandler returns an event handler that journals the fill and notifies n.
// The work runs on its own goroutine so the stream loop is never blocked by a
// slow chat API.
func FillHandler(n interfaces.Notifier, j *Journal) func(ctx context.Context, fill types.OrderFill) {
	return func(ctx context.Context, fill types.OrderFill) {
		ctx = context.WithoutCancel(ctx)
		go func() {
			if j != nil {
				if err := j.RecordFill(fill); err != nil {
					logger.ErrorWithErr(ctx, "Failed to journal fill", err, "order_id", fill.OrderID)
				}
			}
			if n == nil {
				return
			}
			if err := n.Notify(ctx, FormatFill(fill)); err != nil {
				logger.ErrorWithErr(ctx, "Failed to send fill notification", err, "order_id", fill.OrderID)
			}
		}()
	}
}
