package zerodha

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"broker-governor/internal/interfaces"
	"broker-governor/internal/logger"
	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

type Params struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Currency    string
}

// restClient is the subset of kiteconnect.Client the adapter calls.
type restClient interface {
	GetInstruments() (kiteconnect.Instruments, error)
	GetLTP(instruments ...string) (kiteconnect.QuoteLTP, error)
	GetUserProfile() (kiteconnect.UserProfile, error)
	GetOrders() (kiteconnect.Orders, error)
	GetPositions() (kiteconnect.Positions, error)
}

// Zerodha adapts the Kite Connect REST API to interfaces.Broker. A Kite
// session belongs to one user, so account ids only filter results.
type Zerodha struct {
	p      Params
	kc     restClient
	mapper *instrumentMapper
}

var _ interfaces.Broker = (*Zerodha)(nil)

func NewZerodha(p Params) (*Zerodha, error) {
	if p.APIKey == "" || p.AccessToken == "" {
		return nil, errors.New("missing API key/access token")
	}
	kc := kiteconnect.New(p.APIKey)
	kc.SetAccessToken(p.AccessToken)
	return newWithClient(p, kc, newInstrumentMapper()), nil
}

func newWithClient(p Params, kc restClient, mapper *instrumentMapper) *Zerodha {
	if p.Exchange == "" {
		p.Exchange = "NSE"
	}
	if p.Currency == "" {
		p.Currency = "INR"
	}
	return &Zerodha{p: p, kc: kc, mapper: mapper}
}

func instrumentKind(instrumentType string) types.InstrumentKind {
	switch instrumentType {
	case "EQ":
		return types.InstrumentShare
	case "FUT":
		return types.InstrumentFuture
	case "CE", "PE":
		return types.InstrumentOption
	default:
		return types.InstrumentOther
	}
}

// Instruments downloads the instrument dump for the configured exchange and
// refreshes the token mapping.
func (z *Zerodha) Instruments(ctx context.Context) ([]types.Instrument, error) {
	all, err := z.kc.GetInstruments()
	if err != nil {
		return nil, fmt.Errorf("get instruments: %w", err)
	}

	out := make([]types.Instrument, 0, len(all)/4)
	for _, inst := range all {
		if inst.Exchange != z.p.Exchange {
			continue
		}
		token := uint32(inst.InstrumentToken)
		z.mapper.add(instrumentRef{token: token, exchange: inst.Exchange, symbol: inst.Tradingsymbol})

		out = append(out, types.Instrument{
			ID:                instrumentID(token),
			Ticker:            inst.Tradingsymbol,
			Name:              inst.Name,
			Exchange:          inst.Exchange,
			Currency:          z.p.Currency,
			Kind:              instrumentKind(inst.InstrumentType),
			Lot:               int64(inst.LotSize),
			APITradeAvailable: true,
			BuyAvailable:      true,
			SellAvailable:     true,
		})
	}

	logger.Debug(ctx, "Instrument dump loaded", "exchange", z.p.Exchange, "count", len(out), "total", len(all))
	return out, nil
}

// LastPrices returns last traded prices keyed by instrument id. Ids missing
// from the mapping are skipped.
func (z *Zerodha) LastPrices(ctx context.Context, instrumentIDs []string) (map[string]decimal.Decimal, error) {
	keys := make([]string, 0, len(instrumentIDs))
	for _, id := range instrumentIDs {
		ref, ok := z.mapper.lookup(id)
		if !ok {
			logger.Debug(ctx, "No quote key for instrument", "instrument_id", id)
			continue
		}
		keys = append(keys, ref.quoteKey())
	}
	if len(keys) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	quotes, err := z.kc.GetLTP(keys...)
	if err != nil {
		return nil, fmt.Errorf("get ltp: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(quotes))
	for key, q := range quotes {
		token, ok := z.mapper.tokenForQuoteKey(key)
		if !ok {
			token = uint32(q.InstrumentToken)
		}
		out[instrumentID(token)] = decimal.NewFromFloat(q.LastPrice)
	}
	return out, nil
}

func (z *Zerodha) Accounts(ctx context.Context) ([]types.Account, error) {
	profile, err := z.kc.GetUserProfile()
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return []types.Account{{ID: profile.UserID, Name: profile.UserName}}, nil
}

var openStatuses = map[string]bool{
	"OPEN":                      true,
	"OPEN PENDING":              true,
	"TRIGGER PENDING":           true,
	"VALIDATION PENDING":        true,
	"PUT ORDER REQ RECEIVED":    true,
	"MODIFY PENDING":            true,
	"MODIFY VALIDATION PENDING": true,
	"AMO REQ RECEIVED":          true,
}

func orderBelongsTo(order kiteconnect.Order, accountID string) bool {
	return accountID == "" || order.AccountID == accountID || order.PlacedBy == accountID
}

func (z *Zerodha) OpenOrders(ctx context.Context, accountID string) ([]types.Order, error) {
	orders, err := z.kc.GetOrders()
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}

	out := make([]types.Order, 0)
	for _, o := range orders {
		if !openStatuses[strings.ToUpper(o.Status)] || !orderBelongsTo(o, accountID) {
			continue
		}
		out = append(out, types.Order{
			OrderID:      o.OrderID,
			AccountID:    accountID,
			InstrumentID: instrumentID(uint32(o.InstrumentToken)),
			Ticker:       o.TradingSymbol,
			Direction:    types.ParseDirection(o.TransactionType),
			Price:        decimal.NewFromFloat(o.Price),
			Quantity:     int64(o.Quantity),
			Filled:       int64(o.FilledQuantity),
			Status:       o.Status,
		})
	}
	return out, nil
}

// Positions returns net positions of the session user.
func (z *Zerodha) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	positions, err := z.kc.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	out := make([]types.Position, 0, len(positions.Net))
	for _, p := range positions.Net {
		if int64(p.Quantity) == 0 {
			continue
		}
		out = append(out, types.Position{
			InstrumentID: instrumentID(uint32(p.InstrumentToken)),
			Ticker:       p.Tradingsymbol,
			Quantity:     int64(p.Quantity),
			AveragePrice: decimal.NewFromFloat(p.AveragePrice),
			LastPrice:    decimal.NewFromFloat(p.LastPrice),
		})
	}
	return out, nil
}
