package zerodha

import (
	"fmt"
	"time"
)

// New builds the REST adapter and the stream transport for one Kite session.
// They share nothing but credentials.
func New(p Params, resubscribeEvery time.Duration) (*Zerodha, *Transport, error) {
	z, err := NewZerodha(p)
	if err != nil {
		return nil, nil, fmt.Errorf("zerodha: %w", err)
	}
	return z, NewTransport(p.APIKey, p.AccessToken, resubscribeEvery), nil
}
