package trades

import (
	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
)

type Unchanged struct {
	Quantity int64 `json:"quantity"`
	Count    int   `json:"count"`
}

// SideStats aggregates the runs of one direction. Runs whose price moved are
// counted in DeltaUp or DeltaDown and contribute to Quantity and SumPercent;
// runs at the previous price go to Unchanged.
type SideStats struct {
	Quantity   int64           `json:"quantity"`
	DeltaUp    int             `json:"delta_up"`
	DeltaDown  int             `json:"delta_down"`
	SumPercent decimal.Decimal `json:"sum_percent"`
	Unchanged  Unchanged       `json:"unchanged"`
}

type TradeStats struct {
	InstrumentID string    `json:"instrument_id"`
	Buy          SideStats `json:"buy"`
	Sell         SideStats `json:"sell"`
}

// Stats summarizes the runs of id. The second result is false when no trades
// have been seen for it.
func (a *Aggregator) Stats(id string) (TradeStats, bool) {
	runs := a.Runs(id)
	if runs == nil {
		return TradeStats{}, false
	}
	return Summarize(id, runs), true
}

func Summarize(id string, runs []types.TradeRun) TradeStats {
	st := TradeStats{
		InstrumentID: id,
		Buy:          SideStats{SumPercent: decimal.Zero},
		Sell:         SideStats{SumPercent: decimal.Zero},
	}
	for _, run := range runs {
		side := &st.Sell
		if run.Direction == types.DirectionBuy {
			side = &st.Buy
		}

		switch run.PriceDelta.Sign() {
		case 1:
			side.DeltaUp++
		case -1:
			side.DeltaDown++
		default:
			side.Unchanged.Count++
			side.Unchanged.Quantity += run.TotalQuantity
			continue
		}
		side.Quantity += run.TotalQuantity
		side.SumPercent = side.SumPercent.Add(run.PriceDeltaPercent)
	}
	return st
}
