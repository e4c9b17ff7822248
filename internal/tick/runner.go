package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"corpsim/internal/board"
	"corpsim/internal/economy"
	"corpsim/internal/store"
	"corpsim/internal/valuation"
)

const (
	KindHourly         = "hourly"
	KindProposalExpiry = "proposal_expiry"
	KindPriceSnapshot  = "price_snapshot"
)

const (
	DefaultHourlyEvery   = time.Hour
	DefaultProposalEvery = 5 * time.Minute
	DefaultSnapshotEvery = 10 * time.Minute
	DefaultConcurrency   = 4

	releaseTimeout = 5 * time.Second
)

// FinancialsSource computes a corporation's hourly financials from its units.
type FinancialsSource interface {
	CorporationFinancials(ctx context.Context, units economy.SectorUnits, activeActions int) (valuation.Financials, error)
}

type PriceUpdater interface {
	UpdateStockPrice(ctx context.Context, corporationID int64, applyRandomVariation bool) (float64, error)
}

type QuoteSource interface {
	MarketQuotes(ctx context.Context) (economy.Quotes, error)
}

type ProposalSweeper interface {
	ResolveExpired(ctx context.Context) (board.SweepResult, error)
}

type ActionAccruer interface {
	Accrue(ctx context.Context) (accrued, expired int64, err error)
}

type Options struct {
	HourlyEvery   time.Duration
	ProposalEvery time.Duration
	SnapshotEvery time.Duration
	Concurrency   int
}

func (o Options) withDefaults() Options {
	if o.HourlyEvery <= 0 {
		o.HourlyEvery = DefaultHourlyEvery
	}
	if o.ProposalEvery <= 0 {
		o.ProposalEvery = DefaultProposalEvery
	}
	if o.SnapshotEvery <= 0 {
		o.SnapshotEvery = DefaultSnapshotEvery
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

type Deps struct {
	Store      store.Store
	Financials FinancialsSource
	Prices     PriceUpdater
	Quotes     QuoteSource
	Proposals  ProposalSweeper
	Actions    ActionAccruer
}

// Runner holds the three tick functions. Each one claims its time bucket
// first, so a re-fired tick for a bucket that already ran does nothing unless
// forced. A tick that fails before touching any corporation gives its claim
// back.
type Runner struct {
	deps Deps
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

func NewRunner(deps Deps, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{deps: deps, opts: opts.withDefaults(), log: logger, now: time.Now}
}

func (r *Runner) Options() Options { return r.opts }

type HourlyReport struct {
	Bucket           time.Time `json:"bucket"`
	Skipped          bool      `json:"skipped"`
	Accrued          int64     `json:"action_points_accrued"`
	ExpiredActions   int64     `json:"actions_expired"`
	Corporations     int       `json:"corporations"`
	Settled          int       `json:"settled"`
	Failed           int       `json:"failed"`
	SalariesZeroed   int       `json:"salaries_zeroed"`
	DividendsSkipped int       `json:"dividends_skipped"`
	PricesUpdated    int       `json:"prices_updated"`
}

type SweepReport struct {
	Bucket  time.Time         `json:"bucket"`
	Skipped bool              `json:"skipped"`
	Result  board.SweepResult `json:"result"`
}

type SnapshotReport struct {
	Bucket      time.Time `json:"bucket"`
	Skipped     bool      `json:"skipped"`
	PricePoints int       `json:"price_points"`
	SharePoints int       `json:"share_points"`
}

// tickClaim is the outcome of claiming a bucket. run is false when the
// bucket already ran and the call was not forced; owned is true when this
// call inserted the claim.
type tickClaim struct {
	kind   string
	bucket time.Time
	run    bool
	owned  bool
}

func (r *Runner) claim(ctx context.Context, kind string, every time.Duration, force bool) (tickClaim, error) {
	c := tickClaim{kind: kind, bucket: store.Bucket(r.now(), every)}
	claimed, err := r.deps.Store.ClaimTick(ctx, kind, c.bucket)
	if err != nil {
		return c, fmt.Errorf("claim %s tick: %w", kind, err)
	}
	c.owned = claimed
	c.run = claimed || force
	if !c.run {
		r.log.Info("tick already ran for bucket", "kind", kind, "bucket", c.bucket)
	}
	return c, nil
}

// release gives back a claim this call owns after the tick failed before it
// changed anything, so a re-fire in the same bucket runs it again.
func (r *Runner) release(ctx context.Context, c tickClaim, cause error) error {
	if !c.owned {
		return cause
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := r.deps.Store.ReleaseTick(rctx, c.kind, c.bucket); err != nil {
		r.log.Error("release tick claim failed", "kind", c.kind, "bucket", c.bucket, "err", err)
		return errors.Join(cause, fmt.Errorf("release %s tick: %w", c.kind, err))
	}
	return cause
}

// settlement is what one corporation's hourly settlement did.
type settlement struct {
	salaryZeroed    bool
	dividendSkipped bool
}

// RunHourlyTick accrues action points, then settles revenue, salary and
// dividends for every corporation and recalculates its share price. A failing
// corporation is logged and does not stop the others.
func (r *Runner) RunHourlyTick(ctx context.Context, force bool) (HourlyReport, error) {
	var rep HourlyReport
	c, err := r.claim(ctx, KindHourly, r.opts.HourlyEvery, force)
	bucket := c.bucket
	rep.Bucket = bucket
	if err != nil {
		return rep, err
	}
	if !c.run {
		rep.Skipped = true
		return rep, nil
	}
	start := r.now()

	corps, err := r.deps.Store.Corporations(ctx)
	if err != nil {
		return rep, r.release(ctx, c, fmt.Errorf("list corporations: %w", err))
	}
	units, err := r.deps.Store.AllCorporationUnits(ctx)
	if err != nil {
		return rep, r.release(ctx, c, fmt.Errorf("load corporation units: %w", err))
	}
	actionCounts, err := r.deps.Store.ActiveActionCounts(ctx, start)
	if err != nil {
		return rep, r.release(ctx, c, fmt.Errorf("load active actions: %w", err))
	}
	rep.Corporations = len(corps)

	if r.deps.Actions != nil {
		rep.Accrued, rep.ExpiredActions, err = r.deps.Actions.Accrue(ctx)
		if err != nil {
			r.log.Error("action accrual failed", "err", err)
		}
	}

	var settled, failed, zeroed, skipped, priced atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, corp := range corps {
		g.Go(func() error {
			res, err := r.settle(gctx, corp.ID, units[corp.ID], actionCounts[corp.ID], start)
			if err != nil {
				failed.Add(1)
				r.log.Error("hourly settlement failed", "corporation_id", corp.ID, "err", err)
				return nil
			}
			settled.Add(1)
			if res.salaryZeroed {
				zeroed.Add(1)
			}
			if res.dividendSkipped {
				skipped.Add(1)
			}
			if r.deps.Prices == nil {
				return nil
			}
			if _, err := r.deps.Prices.UpdateStockPrice(gctx, corp.ID, true); err != nil {
				r.log.Error("share price update failed", "corporation_id", corp.ID, "err", err)
				return nil
			}
			priced.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	rep.Settled = int(settled.Load())
	rep.Failed = int(failed.Load())
	rep.SalariesZeroed = int(zeroed.Load())
	rep.DividendsSkipped = int(skipped.Load())
	rep.PricesUpdated = int(priced.Load())
	r.log.Info("hourly tick complete",
		"bucket", bucket,
		"corporations", rep.Corporations,
		"settled", rep.Settled,
		"failed", rep.Failed,
		"duration", r.now().Sub(start).String(),
	)
	return rep, nil
}

// settle books one corporation's hour in a single transaction: revenue and
// cost first, then the CEO salary, then the regular dividend.
func (r *Runner) settle(ctx context.Context, corporationID int64, units economy.SectorUnits, activeActions int, now time.Time) (settlement, error) {
	var res settlement
	fin, err := r.deps.Financials.CorporationFinancials(ctx, units, activeActions)
	if err != nil {
		return res, err
	}
	err = r.deps.Store.InTx(ctx, func(tx store.Tx) error {
		res = settlement{}
		corp, err := tx.LockCorporation(ctx, corporationID)
		if err != nil {
			return err
		}
		ledger := store.NewLedger(tx, now)

		corp.Capital = economy.Round2(corp.Capital + fin.Revenue - fin.Cost)
		if fin.Revenue != 0 {
			if err := ledger.Record(ctx, corp.ID, "", store.TxRevenue, fin.Revenue, "hourly revenue"); err != nil {
				return err
			}
		}
		if fin.Cost != 0 {
			if err := ledger.Record(ctx, corp.ID, "", store.TxOperatingCost, -fin.Cost, "hourly operating cost"); err != nil {
				return err
			}
		}

		if salary := economy.Round2(corp.CEOSalary / store.SalaryPeriodHours); salary > 0 && corp.ElectedCEOID != "" {
			if corp.Capital < salary {
				r.log.Warn("ceo salary unaffordable, zeroing salary",
					"corporation_id", corp.ID, "salary", salary, "capital", corp.Capital, "err", store.ErrInsufficientFunds)
				corp.CEOSalary = 0
				res.salaryZeroed = true
			} else {
				corp.Capital -= salary
				if err := tx.CreditPlayer(ctx, corp.ElectedCEOID, salary); err != nil {
					return err
				}
				if err := ledger.Record(ctx, corp.ID, corp.ElectedCEOID, store.TxSalary, -salary, ""); err != nil {
					return err
				}
			}
		}

		dividend := economy.Round2(math.Max(0, fin.Profit) * corp.DividendPercentage / 100)
		if dividend > 0 {
			paid, err := payDividend(ctx, tx, ledger, &corp, dividend)
			if err != nil {
				return err
			}
			if !paid {
				res.dividendSkipped = true
				r.log.Warn("dividend skipped", "corporation_id", corp.ID, "amount", dividend, "capital", corp.Capital)
			}
		}
		corp.Capital = economy.Round2(corp.Capital)
		return tx.SaveCorporation(ctx, corp)
	})
	return res, err
}

// payDividend pays amount pro rata by shares held. It reports false when the
// corporation cannot cover it or has no shareholders.
func payDividend(ctx context.Context, tx store.Tx, ledger *store.Ledger, corp *store.Corporation, amount float64) (bool, error) {
	if corp.Capital < amount {
		return false, nil
	}
	holders, err := tx.LockShareholders(ctx, corp.ID)
	if err != nil {
		return false, err
	}
	var total int64
	for _, h := range holders {
		total += h.Shares
	}
	if total <= 0 {
		return false, nil
	}
	for _, h := range holders {
		payout := amount * float64(h.Shares) / float64(total)
		if err := tx.CreditPlayer(ctx, h.UserID, payout); err != nil {
			return false, err
		}
		if err := ledger.Record(ctx, corp.ID, h.UserID, store.TxDividend, -payout, ""); err != nil {
			return false, err
		}
	}
	corp.Capital -= amount
	return true, nil
}

// RunProposalExpirySweep resolves every active proposal past its expiry.
func (r *Runner) RunProposalExpirySweep(ctx context.Context, force bool) (SweepReport, error) {
	var rep SweepReport
	c, err := r.claim(ctx, KindProposalExpiry, r.opts.ProposalEvery, force)
	rep.Bucket = c.bucket
	if err != nil {
		return rep, err
	}
	if !c.run {
		rep.Skipped = true
		return rep, nil
	}
	rep.Result, err = r.deps.Proposals.ResolveExpired(ctx)
	if err != nil {
		return rep, r.release(ctx, c, fmt.Errorf("resolve expired proposals: %w", err))
	}
	if rep.Result.Expired > 0 {
		r.log.Info("proposal sweep complete", "expired", rep.Result.Expired, "resolved", rep.Result.Resolved, "failed", rep.Result.Failed)
	}
	return rep, nil
}

// RunPriceSnapshot appends the current commodity, product and share prices to
// the history tables.
func (r *Runner) RunPriceSnapshot(ctx context.Context, force bool) (SnapshotReport, error) {
	var rep SnapshotReport
	c, err := r.claim(ctx, KindPriceSnapshot, r.opts.SnapshotEvery, force)
	rep.Bucket = c.bucket
	if err != nil {
		return rep, err
	}
	if !c.run {
		rep.Skipped = true
		return rep, nil
	}
	now := r.now()

	corps, err := r.deps.Store.Corporations(ctx)
	if err != nil {
		return rep, r.release(ctx, c, fmt.Errorf("list corporations: %w", err))
	}

	quotes, err := r.deps.Quotes.MarketQuotes(ctx)
	if err != nil {
		r.log.Error("market quotes failed", "err", err)
	} else {
		points := make([]store.PricePoint, 0, len(quotes.Commodities)+len(quotes.Products))
		for _, q := range slices.Concat(quotes.Commodities, quotes.Products) {
			points = append(points, store.PricePoint{
				Kind:       q.Kind,
				Name:       q.Name,
				Price:      q.CurrentPrice,
				Supply:     q.TotalSupply,
				Demand:     q.TotalDemand,
				RecordedAt: now,
			})
		}
		if err := r.deps.Store.AppendPriceHistory(ctx, points); err != nil {
			r.log.Error("append price history failed", "err", err)
		} else {
			rep.PricePoints = len(points)
		}
	}

	shares := make([]store.SharePricePoint, 0, len(corps))
	for _, corp := range corps {
		shares = append(shares, store.SharePricePoint{
			CorporationID: corp.ID,
			Price:         corp.SharePrice,
			Capital:       corp.Capital,
			RecordedAt:    now,
		})
	}
	if err := r.deps.Store.AppendSharePriceHistory(ctx, shares); err != nil {
		return rep, fmt.Errorf("append share price history: %w", err)
	}
	rep.SharePoints = len(shares)
	return rep, nil
}
