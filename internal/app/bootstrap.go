package app

import (
	"log/slog"

	"market_hub/internal/event"
	"market_hub/internal/infra"
	"market_hub/internal/infra/storage"
	"market_hub/internal/market"
	"market_hub/internal/state"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Bus     *event.Bus
	Store   *state.Store
	Cache   *market.Cache
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logger, DB and
// the shared bus/store/cache instances. One instance of each per process;
// tests construct their own.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping Market Hub...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Core plumbing
	b.Bus = event.NewBus()
	b.Store = state.NewStore(b.Bus)
	b.Cache = market.NewCache(b.Bus)
	slog.Info("✅ Event bus, state store and market cache ready")

	return nil
}
