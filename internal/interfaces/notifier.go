package interfaces

import "context"

// Notifier delivers a formatted text message to an operator.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
