package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"corpsim/internal/app"
	"corpsim/internal/config"
	"corpsim/internal/tick"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	notifyCtx, stopNotify := context.WithCancel(ctx)
	a.Start(notifyCtx)
	drain := func() {
		stopNotify()
		<-a.Notifier.Done()
	}

	sched := tick.NewScheduler(a.Ticks, logger)
	if cfg.WorkerRunOnce {
		err := sched.RunOnce(ctx)
		drain()
		if err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	opts := a.Ticks.Options()
	logger.Info("worker started",
		"hourly_every", opts.HourlyEvery.String(),
		"proposal_every", opts.ProposalEvery.String(),
		"snapshot_every", opts.SnapshotEvery.String(),
		"concurrency", opts.Concurrency,
	)
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("scheduler stopped", "err", err)
	}
	drain()
	logger.Info("worker shutdown")
}
