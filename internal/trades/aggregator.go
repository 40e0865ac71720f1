package trades

import (
	"sort"
	"sync"

	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
)

const DefaultWindow = 500

type book struct {
	// window is ascending by time; equal times keep arrival order.
	window []types.TradeRecord
	runs   []types.TradeRun
}

// Aggregator keeps a bounded trade window per instrument and the runs derived
// from it.
type Aggregator struct {
	mu       sync.RWMutex
	capacity int
	books    map[string]*book
}

func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Aggregator{
		capacity: capacity,
		books:    make(map[string]*book),
	}
}

func valid(rec types.TradeRecord) bool {
	switch {
	case rec.InstrumentID == "":
		return false
	case rec.Direction != types.DirectionBuy && rec.Direction != types.DirectionSell:
		return false
	case rec.Quantity <= 0:
		return false
	case rec.Price.IsNegative():
		return false
	case rec.Time.IsZero():
		return false
	}
	return true
}

// OnTrade records a trade and rebuilds the instrument's runs. Malformed
// records are dropped.
func (a *Aggregator) OnTrade(rec types.TradeRecord) {
	if !valid(rec) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.books[rec.InstrumentID]
	if !ok {
		b = &book{window: make([]types.TradeRecord, 0, a.capacity+1)}
		a.books[rec.InstrumentID] = b
	}

	i := sort.Search(len(b.window), func(i int) bool {
		return b.window[i].Time.After(rec.Time)
	})
	b.window = append(b.window, types.TradeRecord{})
	copy(b.window[i+1:], b.window[i:])
	b.window[i] = rec

	if over := len(b.window) - a.capacity; over > 0 {
		b.window = append(b.window[:0], b.window[over:]...)
	}

	b.runs = DeriveRuns(b.window)
}

// Recent returns the retained trades for id, newest first.
func (a *Aggregator) Recent(id string) []types.TradeRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b, ok := a.books[id]
	if !ok {
		return nil
	}
	out := make([]types.TradeRecord, len(b.window))
	for i, rec := range b.window {
		out[len(out)-1-i] = rec
	}
	return out
}

// Runs returns the runs for id in ascending time order.
func (a *Aggregator) Runs(id string) []types.TradeRun {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b, ok := a.books[id]
	if !ok {
		return nil
	}
	return append([]types.TradeRun(nil), b.runs...)
}

// Instruments lists the instruments that have at least one trade.
func (a *Aggregator) Instruments() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.books))
	for id := range a.books {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DeriveRuns groups an ascending trade window into runs of equal direction
// and price.
func DeriveRuns(window []types.TradeRecord) []types.TradeRun {
	runs := make([]types.TradeRun, 0)
	for _, rec := range window {
		if n := len(runs); n > 0 {
			cur := &runs[n-1]
			if cur.Direction == rec.Direction && cur.Price.Equal(rec.Price) {
				cur.CountTrades++
				cur.TotalQuantity += rec.Quantity
				continue
			}
		}
		runs = append(runs, types.TradeRun{
			InstrumentID:      rec.InstrumentID,
			Direction:         rec.Direction,
			Price:             rec.Price,
			Time:              rec.Time,
			CountTrades:       1,
			TotalQuantity:     rec.Quantity,
			PriceDelta:        decimal.Zero,
			PriceDeltaPercent: decimal.Zero,
		})
	}

	for i := 1; i < len(runs); i++ {
		delta := runs[i].Price.Sub(runs[i-1].Price)
		runs[i].PriceDelta = delta
		if !runs[i].Price.IsZero() {
			runs[i].PriceDeltaPercent = delta.Div(runs[i].Price)
		}
	}
	return runs
}
