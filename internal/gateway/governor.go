package gateway

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"broker-governor/internal/cache"
	"broker-governor/internal/eventbus"
	"broker-governor/internal/interfaces"
	"broker-governor/internal/logger"
	"broker-governor/internal/ratelimit"
	"broker-governor/internal/store"
	"broker-governor/internal/subscription"
	"broker-governor/internal/trades"
	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
)

const (
	ordersTTL    = time.Second
	positionsTTL = time.Second
	pricesTTL    = time.Second
	accountsTTL  = time.Minute

	// ltpBatch bounds the instruments per last-price call.
	ltpBatch = 500
)

// Governor is the single entry point to the broker: every remote call is
// quota-checked and cached, and both streams are owned by one controller.
type Governor struct {
	cfg    store.Config
	broker interfaces.Broker

	limiter    *ratelimit.RateLimiter
	cache      *cache.ResultCache
	controller *subscription.Controller
	fills      *eventbus.Bus[types.OrderFill]
	aggregator *trades.Aggregator

	instMu        sync.Mutex
	instruments   []types.Instrument
	instFetchedAt time.Time

	now func() time.Time
}

type Option func(*options)

type options struct {
	now     func() time.Time
	subOpts []subscription.Option
}

// WithClock overrides time.Now for the cache and the instrument memo.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithSubscriptionOptions(opts ...subscription.Option) Option {
	return func(o *options) { o.subOpts = append(o.subOpts, opts...) }
}

func New(cfg store.Config, broker interfaces.Broker, transport subscription.Transport, opts ...Option) *Governor {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Governor{
		cfg:        cfg,
		broker:     broker,
		limiter:    ratelimit.New(ratelimit.LimitsFromConfig(cfg)),
		fills:      eventbus.New[types.OrderFill](),
		aggregator: trades.NewAggregator(cfg.Trades.Window),
		now:        o.now,
	}

	g.cache = cache.New(g.limiter,
		cache.WithDefaultTTL(cfg.Cache.TTL),
		cache.WithBackoff(cfg.Cache.Backoff),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithClock(o.now),
	)

	subOpts := append([]subscription.Option{
		subscription.WithRestartDelay(cfg.Subscriptions.RestartDelay),
	}, o.subOpts...)
	g.controller = subscription.New(transport, subscription.Sinks{
		PublicTrade: func(_ context.Context, rec types.TradeRecord) {
			g.aggregator.OnTrade(rec)
		},
		OrderFill: func(ctx context.Context, fill types.OrderFill) {
			logger.Fill(ctx, fill.AccountID, fill.Ticker, fill.Direction.String(),
				fill.Quantity, fill.Price.String(), fill.OrderID)
			g.fills.Emit(ctx, eventbus.OrderFillTopic(fill.AccountID), fill)
		},
	}, subOpts...)

	return g
}

// CheckAndConsume spends one unit of quota for c, reporting whether any was left.
func (g *Governor) CheckAndConsume(c types.Category) bool {
	return g.limiter.CheckAndConsume(c)
}

// Cache is the result cache shared by every governed call. Use it with
// cache.GetOrFetch for calls the Governor does not wrap.
func (g *Governor) Cache() *cache.ResultCache {
	return g.cache
}

func (g *Governor) Quota() ratelimit.Usage {
	return g.limiter.Snapshot()
}

func (g *Governor) Sessions() []subscription.SessionInfo {
	return []subscription.SessionInfo{
		g.controller.Session(subscription.KindPublicTrades),
		g.controller.Session(subscription.KindOrderFills),
	}
}

func (g *Governor) StartPublicTradeSubscription(ctx context.Context, instrumentIDs []string) bool {
	return g.controller.StartPublicTrades(ctx, instrumentIDs)
}

func (g *Governor) StopPublicTradeSubscription(ctx context.Context) error {
	return g.controller.StopPublicTrades(ctx)
}

func (g *Governor) AddAccountToOrderFillSubscription(ctx context.Context, accountID string) bool {
	return g.controller.AddAccount(ctx, accountID)
}

func (g *Governor) RemoveAccountFromOrderFillSubscription(ctx context.Context, accountID string) bool {
	return g.controller.RemoveAccount(ctx, accountID)
}

func (g *Governor) On(topic string, h eventbus.Handler[types.OrderFill]) eventbus.ID {
	return g.fills.On(topic, h)
}

func (g *Governor) Off(topic string, id eventbus.ID) bool {
	return g.fills.Off(topic, id)
}

// OnOrderFill registers h for fills on accountID. Handlers run on the stream
// goroutine and must not call back into the Governor's subscription methods
// synchronously.
func (g *Governor) OnOrderFill(accountID string, h eventbus.Handler[types.OrderFill]) eventbus.ID {
	return g.fills.On(eventbus.OrderFillTopic(accountID), h)
}

func (g *Governor) GetRecentTrades(instrumentID string) []types.TradeRecord {
	return g.aggregator.Recent(instrumentID)
}

func (g *Governor) GetTradeRuns(instrumentID string) []types.TradeRun {
	return g.aggregator.Runs(instrumentID)
}

func (g *Governor) GetTradeStats(instrumentID string) (trades.TradeStats, bool) {
	return g.aggregator.Stats(instrumentID)
}

// TradedInstruments lists the instruments with at least one trade in the window.
func (g *Governor) TradedInstruments() []string {
	return g.aggregator.Instruments()
}

// OpenOrders, Positions and Accounts return copies; the cached slice is
// shared between readers.
func (g *Governor) OpenOrders(ctx context.Context, accountID string) ([]types.Order, error) {
	orders, err := cache.GetOrFetch(ctx, g.cache, types.CategoryOrders, "openOrders:"+accountID,
		func(ctx context.Context) ([]types.Order, error) {
			return g.broker.OpenOrders(ctx, accountID)
		}, cache.WithTTL(ordersTTL))
	return slices.Clone(orders), err
}

func (g *Governor) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	positions, err := cache.GetOrFetch(ctx, g.cache, types.CategoryOperations, "positions:"+accountID,
		func(ctx context.Context) ([]types.Position, error) {
			return g.broker.Positions(ctx, accountID)
		}, cache.WithTTL(positionsTTL))
	return slices.Clone(positions), err
}

func (g *Governor) Accounts(ctx context.Context) ([]types.Account, error) {
	accounts, err := cache.GetOrFetch(ctx, g.cache, types.CategoryAccounts, "accounts",
		func(ctx context.Context) ([]types.Account, error) {
			return g.broker.Accounts(ctx)
		}, cache.WithTTL(accountsTTL))
	return slices.Clone(accounts), err
}

// LastPrices returns the latest price per instrument id. Ids are fetched in
// batches, each batch a separate governed call keyed by its sorted ids.
func (g *Governor) LastPrices(ctx context.Context, instrumentIDs []string) (map[string]decimal.Decimal, error) {
	ids := append([]string(nil), instrumentIDs...)
	sort.Strings(ids)

	out := make(map[string]decimal.Decimal, len(ids))
	for start := 0; start < len(ids); start += ltpBatch {
		end := min(start+ltpBatch, len(ids))
		batch := ids[start:end]

		prices, err := cache.GetOrFetch(ctx, g.cache, types.CategoryMarketData, "lastPrices:"+strings.Join(batch, ","),
			func(ctx context.Context) (map[string]decimal.Decimal, error) {
				return g.broker.LastPrices(ctx, batch)
			}, cache.WithTTL(pricesTTL))
		if err != nil {
			return nil, err
		}
		for id, p := range prices {
			out[id] = p
		}
	}
	return out, nil
}
