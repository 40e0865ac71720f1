package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category is a broker quota class. The set is closed: every counter table is
// an array indexed by Category.
type Category int

const (
	CategoryInstruments Category = iota
	CategoryAccounts
	CategoryOperations
	CategoryOrders
	CategoryMarketData
	CategoryStopOrders

	categoryCount
)

// CategoryCount is the number of defined categories.
const CategoryCount = int(categoryCount)

var categoryNames = [categoryCount]string{
	CategoryInstruments: "instruments",
	CategoryAccounts:    "accounts",
	CategoryOperations:  "operations",
	CategoryOrders:      "orders",
	CategoryMarketData:  "marketData",
	CategoryStopOrders:  "stopOrders",
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, CategoryCount)
	for c := Category(0); c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

func (c Category) Valid() bool {
	return c >= 0 && c < categoryCount
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionBuy
	DirectionSell
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "BUY"
	case DirectionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDirection accepts broker transaction types such as "BUY" and "SELL".
func ParseDirection(s string) Direction {
	switch s {
	case "BUY", "buy", "Buy":
		return DirectionBuy
	case "SELL", "sell", "Sell":
		return DirectionSell
	default:
		return DirectionUnknown
	}
}

// TradeRecord is one public trade print.
type TradeRecord struct {
	InstrumentID string          `json:"instrument_id"`
	Direction    Direction       `json:"direction"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Time         time.Time       `json:"time"`
}

// TradeRun merges consecutive trades that share direction and price. The
// embedded fields come from the first trade of the run.
type TradeRun struct {
	InstrumentID      string          `json:"instrument_id"`
	Direction         Direction       `json:"direction"`
	Price             decimal.Decimal `json:"price"`
	Time              time.Time       `json:"time"`
	CountTrades       int             `json:"count_trades"`
	TotalQuantity     int64           `json:"total_quantity"`
	PriceDelta        decimal.Decimal `json:"price_delta"`
	PriceDeltaPercent decimal.Decimal `json:"price_delta_percent"`
}

type OrderFill struct {
	AccountID    string          `json:"account_id"`
	OrderID      string          `json:"order_id"`
	InstrumentID string          `json:"instrument_id"`
	Ticker       string          `json:"ticker"`
	Direction    Direction       `json:"direction"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Status       string          `json:"status"`
	Time         time.Time       `json:"time"`
}

type InstrumentKind string

const (
	InstrumentShare  InstrumentKind = "share"
	InstrumentFuture InstrumentKind = "future"
	InstrumentOption InstrumentKind = "option"
	InstrumentOther  InstrumentKind = "other"
)

// Instrument is static metadata used to decide tradability.
type Instrument struct {
	ID                string         `json:"id"`
	Ticker            string         `json:"ticker"`
	Name              string         `json:"name"`
	Exchange          string         `json:"exchange"`
	Currency          string         `json:"currency"`
	Kind              InstrumentKind `json:"kind"`
	Lot               int64          `json:"lot"`
	APITradeAvailable bool           `json:"api_trade_available"`
	BuyAvailable      bool           `json:"buy_available"`
	SellAvailable     bool           `json:"sell_available"`
	ForQualInvestor   bool           `json:"for_qual_investor"`
}

type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Order struct {
	OrderID      string          `json:"order_id"`
	AccountID    string          `json:"account_id"`
	InstrumentID string          `json:"instrument_id"`
	Ticker       string          `json:"ticker"`
	Direction    Direction       `json:"direction"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Filled       int64           `json:"filled"`
	Status       string          `json:"status"`
}

type Position struct {
	InstrumentID string          `json:"instrument_id"`
	Ticker       string          `json:"ticker"`
	Quantity     int64           `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	LastPrice    decimal.Decimal `json:"last_price"`
}
