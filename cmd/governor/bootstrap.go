package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"broker-governor/internal/broker/brokerobs"
	"broker-governor/internal/broker/zerodha"
	"broker-governor/internal/gateway"
	"broker-governor/internal/interfaces"
	"broker-governor/internal/logger"
	"broker-governor/internal/notify"
	"broker-governor/internal/store"
	"broker-governor/internal/trace"

	"github.com/joho/godotenv"
)

// initializeSystem loads .env and brings up the logger and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// initializeGovernor builds the Kite adapter, wraps it with observability and
// hands both halves to the governor.
func initializeGovernor(ctx context.Context, cfg *store.Config) (*gateway.Governor, error) {
	apiKey := os.Getenv("KITE_API_KEY")
	accessToken := os.Getenv("KITE_ACCESS_TOKEN")
	if apiKey == "" || accessToken == "" {
		return nil, errors.New("KITE_API_KEY and KITE_ACCESS_TOKEN must be set")
	}

	brk, transport, err := zerodha.New(zerodha.Params{
		APIKey:      apiKey,
		AccessToken: accessToken,
		Exchange:    cfg.Instruments.Exchange,
		Currency:    cfg.Instruments.Currency,
	}, cfg.Subscriptions.ResubscribeEvery)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Broker initialized",
		"exchange", cfg.Instruments.Exchange,
		"mode", cfg.Mode)

	return gateway.New(*cfg, brokerobs.Wrap(brk), transport), nil
}

// initializeNotifier assembles the configured channels. In DRY_RUN mode only
// the journal is written.
func initializeNotifier(ctx context.Context, cfg *store.Config) (interfaces.Notifier, *notify.Journal, error) {
	var (
		channels notify.Multi
		journal  *notify.Journal
	)

	if cfg.Notify.Journal.Enabled {
		j, err := notify.NewJournal(cfg.Notify.Journal.Dir)
		if err != nil {
			return nil, nil, err
		}
		journal = j
		compressOldJournals(ctx, j)
	}

	tg := cfg.Notify.Telegram
	switch {
	case !tg.Enabled:
	case cfg.Mode == "DRY_RUN":
		logger.Warn(ctx, "Running in DRY_RUN mode - Telegram notifications disabled")
	default:
		t, err := notify.NewTelegram(notify.TelegramConfig{
			Token:      os.Getenv(tg.TokenEnv),
			ChatID:     tg.ChatID,
			BaseURL:    tg.BaseURL,
			RatePerSec: tg.RatePerSec,
			Burst:      tg.Burst,
			Timeout:    time.Duration(tg.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, t)
	}

	if len(channels) == 0 {
		return nil, journal, nil
	}
	return channels, journal, nil
}

func compressOldJournals(ctx context.Context, j *notify.Journal) {
	v := os.Getenv("JOURNAL_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Invalid JOURNAL_RETENTION_DAYS", "value", v)
		return
	}
	if err := j.CompressOlder(n); err != nil {
		logger.Warn(ctx, "Failed to compress old journals", "error", err)
	}
}

// subscribeAccounts registers a fill handler per account and adds the account
// to the order-fill stream. With no accounts configured, every account the
// token can see is used. It returns the subscribed accounts.
func subscribeAccounts(ctx context.Context, gov *gateway.Governor, cfg *store.Config, n interfaces.Notifier, j *notify.Journal) ([]string, error) {
	ids := cfg.Subscriptions.Accounts
	if len(ids) == 0 {
		accs, err := gov.Accounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range accs {
			ids = append(ids, a.ID)
		}
	}

	handler := notify.FillHandler(n, j)
	for _, id := range ids {
		gov.OnOrderFill(id, handler)
		gov.AddAccountToOrderFillSubscription(ctx, id)
	}
	logger.Info(ctx, "Order fill subscription configured", "accounts", len(ids))
	return ids, nil
}

// startPositionReports schedules the per-account positions report on every
// channel, the journal included.
func startPositionReports(ctx context.Context, gov *gateway.Governor, cfg *store.Config, n interfaces.Notifier, j *notify.Journal, accountIDs []string) {
	if !cfg.Notify.Positions.Enabled || len(accountIDs) == 0 {
		return
	}

	var targets notify.Multi
	if n != nil {
		targets = append(targets, n)
	}
	if j != nil {
		targets = append(targets, j)
	}
	if len(targets) == 0 {
		return
	}
	go notify.RunPositionReports(ctx, gov, targets, accountIDs, cfg.Notify.Positions.Interval)
}

// startTradeFeed subscribes the configured instruments, or every tradable
// share under max_lot_price when none are listed.
func startTradeFeed(ctx context.Context, gov *gateway.Governor, cfg *store.Config) error {
	if ids := cfg.Subscriptions.Instruments; len(ids) > 0 {
		gov.StartPublicTradeSubscription(ctx, ids)
		logger.Info(ctx, "Public trade subscription configured", "instruments", len(ids))
		return nil
	}

	n, err := gov.StartTradableFeed(ctx, cfg.MaxLotPrice())
	if err != nil {
		return fmt.Errorf("select tradable shares: %w", err)
	}
	logger.Info(ctx, "Public trade subscription configured from tradable shares", "instruments", n)
	return nil
}
