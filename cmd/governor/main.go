package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broker-governor/internal/httpapi"
	"broker-governor/internal/logger"
	"broker-governor/internal/trace"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		logger.ErrorWithErr(ctx, "Governor exited with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}

	gov, err := initializeGovernor(ctx, cfg)
	if err != nil {
		return err
	}

	notifier, journal, err := initializeNotifier(ctx, cfg)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	go gov.Run(ctx)

	accounts, subErr := subscribeAccounts(ctx, gov, cfg, notifier, journal)
	if subErr != nil {
		logger.ErrorWithErr(ctx, "Order fill subscription not started", subErr)
	}
	startPositionReports(ctx, gov, cfg, notifier, journal, accounts)
	if err := startTradeFeed(ctx, gov, cfg); err != nil {
		logger.ErrorWithErr(ctx, "Public trade subscription not started", err)
	}

	srv := httpapi.NewServer(cfg.HTTP.Addr, gov)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	logger.Info(ctx, "Governor started", "mode", cfg.Mode, "http_addr", cfg.HTTP.Addr)

	select {
	case <-ctx.Done():
	case err = <-errc:
		if err != nil {
			logger.ErrorWithErr(ctx, "Status API failed", err)
		}
	}

	logger.Info(ctx, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Status API shutdown failed", "error", err)
	}
	if err := gov.Stop(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Subscriptions did not stop cleanly", "error", err)
	}
	if err := trace.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Tracer shutdown failed", "error", err)
	}
	return err
}
