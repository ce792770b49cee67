package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market_hub/internal/app"
	"market_hub/internal/ingest"
	"market_hub/internal/infra/kraken"
	"market_hub/internal/infra/storage"
	"market_hub/internal/strategy"

	"github.com/shopspring/decimal"
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Event Bus (delivery worker)
	bus := bootstrap.Bus
	bus.Start()
	defer bus.Stop()

	// 4. Restore persisted state, if any
	if cfg.State.FilePath != "" {
		if err := bootstrap.Store.Load(cfg.State.FilePath); err != nil {
			slog.Warn("No previous state restored", slog.Any("error", err))
		}
	}

	// 5. Persistence sink for private events
	sink := storage.NewSink(bootstrap.Storage, bus)
	sink.Start()
	defer sink.Stop()

	// 6. Stream ingestion
	signer := kraken.NewSigner(cfg.API.Kraken.APIKey, cfg.API.Kraken.APISecret)
	transport := kraken.NewClient(cfg.API.Kraken.WSURL, cfg.API.Kraken.WSPrivateURL, signer)
	ingestor := ingest.NewIngestor(transport, bootstrap.Cache, bus, bootstrap.Store)

	if err := ingestor.Start(ctx, cfg.API.Kraken.Pairs); err != nil {
		slog.Error("❌ Failed to start ingestor", slog.Any("error", err))
		os.Exit(1)
	}
	defer ingestor.Stop()
	slog.InfoContext(ctx, "✅ Ingestor started", slog.Int("pairs", len(cfg.API.Kraken.Pairs)))

	if cfg.API.Kraken.APIKey != "" && cfg.API.Kraken.APISecret != "" {
		if err := ingestor.StartPrivate(ctx); err != nil {
			// Private stream failure never takes down the public feed.
			slog.Error("Private stream unavailable", slog.Any("error", err))
		} else {
			slog.InfoContext(ctx, "✅ Private stream started")
		}
	}

	// 7. Strategy
	if cfg.Strategy.Enabled {
		params := strategy.DefaultMACrossParams()
		if cfg.Strategy.FastMA > 0 {
			params.FastMA = cfg.Strategy.FastMA
		}
		if cfg.Strategy.SlowMA > 0 {
			params.SlowMA = cfg.Strategy.SlowMA
		}
		if cfg.Strategy.MinVolume != "" {
			if v, err := decimal.NewFromString(cfg.Strategy.MinVolume); err == nil {
				params.MinVolume = v
			}
		}

		strat, err := strategy.NewMovingAverageCross(params)
		if err != nil {
			slog.Error("❌ Invalid strategy parameters", slog.Any("error", err))
			os.Exit(1)
		}
		runner := strategy.NewRunner(strat, bus)
		pairs := cfg.Strategy.Pairs
		if len(pairs) == 0 {
			pairs = cfg.API.Kraken.Pairs
		}
		if err := runner.Start(pairs); err != nil {
			slog.Error("❌ Failed to start strategy", slog.Any("error", err))
			os.Exit(1)
		}
		defer runner.Stop()
	}

	// 8. Balance history retention
	if cfg.Storage.RetentionDays > 0 {
		go pruneLoop(ctx, bootstrap.Storage, cfg.Storage.RetentionDays)
	}

	slog.InfoContext(ctx, "✨ Market Hub fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	if cfg.State.FilePath != "" {
		if err := bootstrap.Store.Save(cfg.State.FilePath); err != nil {
			slog.Error("State save failed", slog.Any("error", err))
		}
	}
}

// pruneLoop applies the configured balance-history retention once a day.
func pruneLoop(ctx context.Context, store *storage.Storage, days int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -days)
			removed, err := store.PruneBalanceHistory(cutoff)
			if err != nil {
				slog.Error("Balance prune failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				slog.Info("Balance history pruned", slog.Int64("rows", removed))
			}
		}
	}
}
