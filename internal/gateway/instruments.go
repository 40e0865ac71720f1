package gateway

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"broker-governor/internal/cache"
	"broker-governor/internal/logger"
	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
)

// AllInstruments returns a copy of the broker's instrument list. The list is
// memoized for the configured TTL outside the swept cache, so the instruments
// quota is only spent on refresh. When the quota is exhausted a stale list is
// served.
func (g *Governor) AllInstruments(ctx context.Context) ([]types.Instrument, error) {
	insts, err := g.instrumentList(ctx)
	return slices.Clone(insts), err
}

// instrumentList returns the memo itself. Callers must not modify it.
func (g *Governor) instrumentList(ctx context.Context) ([]types.Instrument, error) {
	g.instMu.Lock()
	defer g.instMu.Unlock()

	if g.instruments != nil && g.now().Before(g.instFetchedAt.Add(g.cfg.Instruments.TTL)) {
		return g.instruments, nil
	}
	return g.refreshInstrumentsLocked(ctx)
}

func (g *Governor) refreshInstrumentsLocked(ctx context.Context) ([]types.Instrument, error) {
	if !g.limiter.CheckAndConsume(types.CategoryInstruments) {
		logger.Quota(ctx, types.CategoryInstruments.String(), false, "key", "allInstruments")
		if g.instruments != nil {
			return g.instruments, nil
		}
		return nil, fmt.Errorf("%w: %s quota exhausted", cache.ErrUnavailable, types.CategoryInstruments)
	}

	op := logger.StartOperation(ctx, "instruments.refresh")
	insts, err := g.broker.Instruments(op.Context())
	if err != nil {
		op.EndWithError(err)
		if g.instruments != nil {
			return g.instruments, nil
		}
		return nil, fmt.Errorf("%w: instruments: %w", cache.ErrUnavailable, err)
	}
	op.End("count", len(insts))

	g.instruments = insts
	g.instFetchedAt = g.now()
	return insts, nil
}

// RefreshInstruments forces a reload of the instrument memo.
func (g *Governor) RefreshInstruments(ctx context.Context) error {
	g.instMu.Lock()
	defer g.instMu.Unlock()

	_, err := g.refreshInstrumentsLocked(ctx)
	return err
}

func (g *Governor) tradableShare(inst types.Instrument) bool {
	return inst.Kind == types.InstrumentShare &&
		inst.Currency == g.cfg.Instruments.Currency &&
		inst.APITradeAvailable &&
		inst.BuyAvailable &&
		inst.SellAvailable &&
		!inst.ForQualInvestor &&
		inst.Lot > 0
}

// SharesForTrading returns the shares a desk can trade whose full lot costs
// at most maxLotPrice. A zero maxLotPrice disables the price filter.
func (g *Governor) SharesForTrading(ctx context.Context, maxLotPrice decimal.Decimal) ([]types.Instrument, error) {
	insts, err := g.instrumentList(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]types.Instrument, 0, len(insts))
	for _, inst := range insts {
		if g.tradableShare(inst) {
			candidates = append(candidates, inst)
		}
	}
	if maxLotPrice.IsZero() || len(candidates) == 0 {
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i, inst := range candidates {
		ids[i] = inst.ID
	}
	prices, err := g.LastPrices(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]types.Instrument, 0, len(candidates))
	for _, inst := range candidates {
		price, ok := prices[inst.ID]
		if !ok || !price.IsPositive() {
			continue
		}
		if price.Mul(decimal.NewFromInt(inst.Lot)).LessThanOrEqual(maxLotPrice) {
			out = append(out, inst)
		}
	}

	logger.Info(ctx, "Tradable shares selected",
		"candidates", len(candidates), "selected", len(out), "max_lot_price", maxLotPrice.String())
	return out, nil
}

// StartTradableFeed subscribes public trades for SharesForTrading(maxLotPrice).
func (g *Governor) StartTradableFeed(ctx context.Context, maxLotPrice decimal.Decimal) (int, error) {
	shares, err := g.SharesForTrading(ctx, maxLotPrice)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(shares))
	for i, s := range shares {
		ids[i] = s.ID
	}
	g.StartPublicTradeSubscription(ctx, ids)
	return len(ids), nil
}

// Run drives the limiter windows, the cache sweep and the daily instrument
// refresh until ctx is done.
func (g *Governor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		g.limiter.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		g.cache.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		g.refreshLoop(ctx)
	}()
	wg.Wait()
}

func (g *Governor) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Instruments.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.RefreshInstruments(ctx); err != nil {
				logger.ErrorWithErr(ctx, "Instrument refresh failed", err)
			}
		}
	}
}

// Stop ends both subscription sessions and waits for their loops.
func (g *Governor) Stop(ctx context.Context) error {
	return g.controller.Close(ctx)
}
