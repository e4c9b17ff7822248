package tick

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler owns one timer per tick kind. A slow tick delays its own next
// fire and never the other two.
type Scheduler struct {
	runner *Runner
	log    *slog.Logger
}

func NewScheduler(runner *Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, log: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	opts := s.runner.Options()
	s.log.Info("scheduler started",
		"hourly_every", opts.HourlyEvery.String(),
		"proposal_every", opts.ProposalEvery.String(),
		"snapshot_every", opts.SnapshotEvery.String(),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(gctx, KindHourly, opts.HourlyEvery, func(ctx context.Context) error {
			_, err := s.runner.RunHourlyTick(ctx, false)
			return err
		})
		return nil
	})
	g.Go(func() error {
		s.loop(gctx, KindProposalExpiry, opts.ProposalEvery, func(ctx context.Context) error {
			_, err := s.runner.RunProposalExpirySweep(ctx, false)
			return err
		})
		return nil
	})
	g.Go(func() error {
		s.loop(gctx, KindPriceSnapshot, opts.SnapshotEvery, func(ctx context.Context) error {
			_, err := s.runner.RunPriceSnapshot(ctx, false)
			return err
		})
		return nil
	})
	err := g.Wait()
	s.log.Info("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, kind string, every time.Duration, run func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := run(ctx); err != nil {
				s.log.Error("tick failed", "kind", kind, "err", err)
			}
		}
	}
}

// RunOnce fires each tick a single time in hourly, sweep, snapshot order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	hourly, err := s.runner.RunHourlyTick(ctx, false)
	if err != nil {
		return err
	}
	sweep, err := s.runner.RunProposalExpirySweep(ctx, false)
	if err != nil {
		return err
	}
	snap, err := s.runner.RunPriceSnapshot(ctx, false)
	if err != nil {
		return err
	}
	s.log.Info("run-once complete",
		"settled", hourly.Settled,
		"failed", hourly.Failed,
		"proposals_resolved", sweep.Result.Resolved,
		"price_points", snap.PricePoints,
	)
	return nil
}
