// Package app wires the simulation services from a Config. The API and the
// worker share it so both processes see the same store, catalog and caches.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"corpsim/internal/actions"
	"corpsim/internal/api"
	"corpsim/internal/board"
	"corpsim/internal/config"
	"corpsim/internal/economy"
	"corpsim/internal/notify"
	"corpsim/internal/store"
	"corpsim/internal/store/postgres"
	"corpsim/internal/tick"
	"corpsim/internal/valuation"
)

type App struct {
	Store     store.Store
	Catalog   economy.ConfigEditor
	Config    *economy.ConfigCache
	Economy   *economy.Engine
	Valuation *valuation.Engine
	Board     *board.Service
	Actions   *actions.Service
	Ticks     *tick.Runner
	Notifier  *notify.Dispatcher

	closers []func()
}

// Build opens the configured store and constructs every service. The
// returned App owns the notification dispatcher; call Start to run it.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seed := economy.DefaultCatalog()
	if cfg.CatalogPath != "" {
		cat, err := economy.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		seed = cat
	}

	a := &App{}
	switch cfg.Store {
	case config.StoreMemory:
		a.Store = store.NewMemory()
		a.Catalog = economy.NewStaticConfigStore(seed)
	default:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				a.Close()
				return nil, err
			}
		}
		pg := postgres.New(pool, logger)
		a.Store = pg
		a.Catalog = postgres.NewConfigStore(pg, seed)
	}

	var sink notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.DiscordWebhook != "" {
		discord, err := notify.NewDiscordNotifier(cfg.DiscordWebhook, cfg.DiscordUsername)
		if err != nil {
			a.Close()
			return nil, err
		}
		sink = notify.Multi{sink, discord}
	}
	a.Notifier = notify.NewDispatcher(sink, cfg.NotifyBuffer, logger)

	a.Config = economy.NewConfigCache(a.Catalog)
	a.Economy = economy.NewEngine(a.Config, a.Store, economy.EngineOptions{PriceCacheTTL: cfg.PriceCacheTTL}, logger)
	a.Valuation = valuation.NewEngine(a.Store, a.Economy, valuation.Options{
		FundamentalWeight: &cfg.FundamentalShare,
		Lookback:          cfg.ShareLookback,
	}, logger)
	a.Board = board.NewService(a.Store, a.Notifier, logger)
	a.Actions = actions.NewService(a.Store, logger)
	a.Ticks = tick.NewRunner(tick.Deps{
		Store:      a.Store,
		Financials: a.Valuation,
		Prices:     a.Valuation,
		Quotes:     a.Economy,
		Proposals:  a.Board,
		Actions:    a.Actions,
	}, tick.Options{
		HourlyEvery:   cfg.HourlyEvery,
		ProposalEvery: cfg.ProposalEvery,
		SnapshotEvery: cfg.SnapshotEvery,
		Concurrency:   cfg.TickConcurrency,
	}, logger)
	return a, nil
}

// Start runs the notification dispatcher until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go a.Notifier.Run(ctx)
}

func (a *App) Services() api.Services {
	return api.Services{
		Store:     a.Store,
		Economy:   a.Economy,
		Config:    a.Config,
		Catalog:   a.Catalog,
		Valuation: a.Valuation,
		Board:     a.Board,
		Actions:   a.Actions,
		Ticks:     a.Ticks,
	}
}

// Close releases the store.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
