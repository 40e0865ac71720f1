package zerodha

import (
	"strings"
	"sync"
	"time"

	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
)

type tokenState struct {
	volume    uint32
	price     float64
	direction types.Direction
}

// tradeClassifier turns full-mode ticks into trade prints. Kite sends a tick
// on every depth change, so only ticks whose traded volume grew count.
type tradeClassifier struct {
	mu    sync.Mutex
	state map[uint32]tokenState
}

func newTradeClassifier() *tradeClassifier {
	return &tradeClassifier{state: make(map[uint32]tokenState)}
}

// classify infers the aggressor side. A print at or above the best ask is a
// buy, at or below the best bid a sell; otherwise the tick rule applies.
func classify(tick models.Tick, prev tokenState, seen bool) types.Direction {
	ask := tick.Depth.Sell[0].Price
	bid := tick.Depth.Buy[0].Price
	switch {
	case ask > 0 && tick.LastPrice >= ask:
		return types.DirectionBuy
	case bid > 0 && tick.LastPrice <= bid:
		return types.DirectionSell
	case !seen:
		return types.DirectionBuy
	case tick.LastPrice > prev.price:
		return types.DirectionBuy
	case tick.LastPrice < prev.price:
		return types.DirectionSell
	case prev.direction != types.DirectionUnknown:
		return prev.direction
	default:
		return types.DirectionBuy
	}
}

func (tc *tradeClassifier) toTrade(tick models.Tick) (types.TradeRecord, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	prev, seen := tc.state[tick.InstrumentToken]
	if seen && tick.VolumeTraded <= prev.volume {
		return types.TradeRecord{}, false
	}

	qty := int64(tick.LastTradedQuantity)
	if seen && prev.volume > 0 {
		qty = int64(tick.VolumeTraded - prev.volume)
	}
	dir := classify(tick, prev, seen)
	tc.state[tick.InstrumentToken] = tokenState{volume: tick.VolumeTraded, price: tick.LastPrice, direction: dir}

	if qty <= 0 || tick.LastPrice <= 0 {
		return types.TradeRecord{}, false
	}

	at := tick.LastTradeTime.Time
	if at.IsZero() {
		at = tick.Timestamp.Time
	}
	if at.IsZero() {
		at = time.Now()
	}

	return types.TradeRecord{
		InstrumentID: instrumentID(tick.InstrumentToken),
		Direction:    dir,
		Price:        decimal.NewFromFloat(tick.LastPrice),
		Quantity:     qty,
		Time:         at,
	}, true
}

type orderProgress struct {
	filled  int64
	average decimal.Decimal
}

// fillTracker turns order postbacks into incremental fills. Kite reports the
// cumulative filled quantity and average price on every update, and repeats
// postbacks for the same state.
type fillTracker struct {
	mu     sync.Mutex
	orders map[string]orderProgress
}

func newFillTracker() *fillTracker {
	return &fillTracker{orders: make(map[string]orderProgress)}
}

// toFill converts an order postback into a fill for one of the accounts in
// scope. Only the quantity filled since the last postback for the order is
// reported, priced at the execution price implied by the average.
func (ft *fillTracker) toFill(order kiteconnect.Order, scope map[string]struct{}) (types.OrderFill, bool) {
	filled := int64(order.FilledQuantity)
	if filled <= 0 {
		return types.OrderFill{}, false
	}

	accountID := order.AccountID
	if _, ok := scope[accountID]; !ok {
		accountID = order.PlacedBy
		if _, ok := scope[accountID]; !ok {
			return types.OrderFill{}, false
		}
	}

	average := decimal.NewFromFloat(order.AveragePrice)

	ft.mu.Lock()
	prev := ft.orders[order.OrderID]
	delta := filled - prev.filled
	if delta <= 0 {
		ft.mu.Unlock()
		return types.OrderFill{}, false
	}
	ft.orders[order.OrderID] = orderProgress{filled: filled, average: average}
	ft.mu.Unlock()

	price := average
	if prev.filled > 0 {
		notional := average.Mul(decimal.NewFromInt(filled)).
			Sub(prev.average.Mul(decimal.NewFromInt(prev.filled)))
		if p := notional.Div(decimal.NewFromInt(delta)); p.IsPositive() {
			price = p
		}
	}

	at := order.ExchangeTimestamp.Time
	if at.IsZero() {
		at = order.OrderTimestamp.Time
	}

	return types.OrderFill{
		AccountID:    accountID,
		OrderID:      order.OrderID,
		InstrumentID: instrumentID(uint32(order.InstrumentToken)),
		Ticker:       order.TradingSymbol,
		Direction:    types.ParseDirection(strings.ToUpper(order.TransactionType)),
		Price:        price,
		Quantity:     delta,
		Status:       order.Status,
		Time:         at,
	}, true
}
