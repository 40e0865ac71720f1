package zerodha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"broker-governor/internal/logger"
	"broker-governor/internal/subscription"
	"broker-governor/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"
)

// Transport opens one Kite ticker connection per subscription session.
// Auto-reconnect is off: the subscription controller owns restarts.
type Transport struct {
	apiKey           string
	accessToken      string
	resubscribeEvery time.Duration
	classifier       *tradeClassifier
	fills            *fillTracker
}

var _ subscription.Transport = (*Transport)(nil)

func NewTransport(apiKey, accessToken string, resubscribeEvery time.Duration) *Transport {
	return &Transport{
		apiKey:           apiKey,
		accessToken:      accessToken,
		resubscribeEvery: resubscribeEvery,
		classifier:       newTradeClassifier(),
		fills:            newFillTracker(),
	}
}

// tickerStream adapts ticker callbacks to a pull-based stream.
type tickerStream[T any] struct {
	ticker   *kiteticker.Ticker
	canceled subscription.Canceled
	cancel   context.CancelFunc

	events chan T
	errs   chan error
	closed chan struct{}
	once   sync.Once

	connected atomic.Bool
}

func newTickerStream[T any](t *kiteticker.Ticker, canceled subscription.Canceled, cancel context.CancelFunc) *tickerStream[T] {
	return &tickerStream[T]{
		ticker:   t,
		canceled: canceled,
		cancel:   cancel,
		events:   make(chan T, 256),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// push blocks until the consumer takes ev or the stream closes.
func (s *tickerStream[T]) push(ev T) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *tickerStream[T]) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *tickerStream[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if s.canceled() {
		s.Close()
		return zero, subscription.ErrStreamClosed
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.closed:
		return zero, subscription.ErrStreamClosed
	case err := <-s.errs:
		return zero, err
	case ev := <-s.events:
		if s.canceled() {
			s.Close()
			return zero, subscription.ErrStreamClosed
		}
		return ev, nil
	}
}

func (s *tickerStream[T]) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
		s.ticker.Stop()
	})
	return nil
}

func (t *Transport) newTicker() *kiteticker.Ticker {
	ticker := kiteticker.New(t.apiKey, t.accessToken)
	ticker.SetAutoReconnect(false)
	return ticker
}

// wireLifecycle installs the connection callbacks shared by both stream kinds
// and starts serving. onConnect runs after every successful handshake.
func wireLifecycle[T any](ctx context.Context, kind string, s *tickerStream[T], onConnect func() error) {
	s.ticker.OnConnect(func() {
		s.connected.Store(true)
		logger.Info(ctx, "Ticker connected", "stream", kind)
		if onConnect == nil {
			return
		}
		if err := onConnect(); err != nil {
			s.fail(fmt.Errorf("%s subscribe: %w", kind, err))
		}
	})
	s.ticker.OnError(func(err error) {
		logger.ErrorWithErr(ctx, "Ticker error", err, "stream", kind)
		s.fail(err)
	})
	s.ticker.OnClose(func(code int, reason string) {
		logger.Warn(ctx, "Ticker connection closed", "stream", kind, "code", code, "reason", reason)
		s.fail(fmt.Errorf("%w: code %d %s", subscription.ErrStreamClosed, code, reason))
	})
	s.ticker.OnNoReconnect(func(attempt int) {
		s.fail(fmt.Errorf("%w: no reconnect after %d attempts", subscription.ErrStreamClosed, attempt))
	})

	go func() {
		s.ticker.ServeWithContext(ctx)
		s.fail(subscription.ErrStreamClosed)
	}()
}

// OpenPublicTrades streams trade prints for the given instrument tokens.
// While connected the subscribe request is re-sent every resubscribeEvery,
// and the cancellation predicate is polled on the same cadence.
func (t *Transport) OpenPublicTrades(ctx context.Context, instrumentIDs []string, canceled subscription.Canceled) (subscription.Stream[types.TradeRecord], error) {
	toks := tokens(instrumentIDs)
	if len(toks) == 0 {
		return nil, errors.New("no valid instrument tokens in scope")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := newTickerStream[types.TradeRecord](t.newTicker(), canceled, cancel)

	subscribe := func() error {
		if err := s.ticker.Subscribe(toks); err != nil {
			return err
		}
		return s.ticker.SetMode(kiteticker.ModeFull, toks)
	}

	s.ticker.OnTick(func(tick models.Tick) {
		if canceled() {
			s.Close()
			return
		}
		if rec, ok := t.classifier.toTrade(tick); ok {
			s.push(rec)
		}
	})
	wireLifecycle(runCtx, "publicTrades", s, subscribe)

	if t.resubscribeEvery > 0 {
		go t.resubscribe(runCtx, s, toks)
	}

	logger.Info(ctx, "Public trade stream opened", "instruments", len(toks))
	return s, nil
}

func (t *Transport) resubscribe(ctx context.Context, s *tickerStream[types.TradeRecord], toks []uint32) {
	ticker := time.NewTicker(t.resubscribeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			if s.canceled() {
				s.Close()
				return
			}
			if !s.connected.Load() {
				continue
			}
			if err := s.ticker.Subscribe(toks); err != nil {
				logger.Warn(ctx, "Resubscribe failed", "error", err)
			}
		}
	}
}

// OpenOrderFills streams fills from order postbacks for the accounts in
// scope. Postbacks arrive on the ticker socket without a token subscription.
func (t *Transport) OpenOrderFills(ctx context.Context, accountIDs []string, canceled subscription.Canceled) (subscription.Stream[types.OrderFill], error) {
	if len(accountIDs) == 0 {
		return nil, errors.New("no accounts in scope")
	}
	scope := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		scope[id] = struct{}{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := newTickerStream[types.OrderFill](t.newTicker(), canceled, cancel)

	s.ticker.OnOrderUpdate(func(order kiteconnect.Order) {
		if canceled() {
			s.Close()
			return
		}
		logger.Debug(ctx, "Order update received",
			"order_id", order.OrderID,
			"status", order.Status,
			"symbol", order.TradingSymbol)
		if fill, ok := t.fills.toFill(order, scope); ok {
			s.push(fill)
		}
	})
	wireLifecycle(runCtx, "orderFills", s, nil)

	logger.Info(ctx, "Order fill stream opened", "accounts", len(accountIDs))
	return s, nil
}
