package tick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpsim/internal/board"
	"corpsim/internal/economy"
	"corpsim/internal/store"
	"corpsim/internal/valuation"
)

var tickNow = time.Date(2026, 7, 4, 15, 7, 30, 0, time.UTC)

type fixedFinancials struct {
	fin valuation.Financials
}

func (f fixedFinancials) CorporationFinancials(_ context.Context, _ economy.SectorUnits, activeActions int) (valuation.Financials, error) {
	out := f.fin
	out.ActiveActions = activeActions
	return out, nil
}

type recordingPrices struct {
	mu    sync.Mutex
	calls map[int64]bool
}

func (p *recordingPrices) UpdateStockPrice(_ context.Context, corporationID int64, random bool) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[int64]bool{}
	}
	p.calls[corporationID] = random
	return 1, nil
}

type countingSweeper struct {
	calls int
}

func (s *countingSweeper) ResolveExpired(context.Context) (board.SweepResult, error) {
	s.calls++
	return board.SweepResult{Expired: 2, Resolved: 2}, nil
}

// flakyStore fails row locks on one corporation.
type flakyStore struct {
	*store.Memory
	failID int64
}

type flakyTx struct {
	store.Tx
	failID int64
}

func (f *flakyStore) InTx(ctx context.Context, fn func(store.Tx) error) error {
	return f.Memory.InTx(ctx, func(tx store.Tx) error {
		return fn(flakyTx{Tx: tx, failID: f.failID})
	})
}

func (t flakyTx) LockCorporation(ctx context.Context, id int64) (store.Corporation, error) {
	if id == t.failID {
		return store.Corporation{}, errors.New("connection reset")
	}
	return t.Tx.LockCorporation(ctx, id)
}

// listFailStore fails the first n corporation listings.
type listFailStore struct {
	*store.Memory
	mu    sync.Mutex
	fails int
}

func (f *listFailStore) Corporations(ctx context.Context) ([]store.Corporation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("connection reset")
	}
	return f.Memory.Corporations(ctx)
}

func newTestRunner(st store.Store, fin valuation.Financials, prices PriceUpdater) *Runner {
	r := NewRunner(Deps{
		Store:      st,
		Financials: fixedFinancials{fin: fin},
		Prices:     prices,
		Proposals:  &countingSweeper{},
	}, Options{}, nil)
	r.now = func() time.Time { return tickNow }
	return r
}

func kinds(txs []store.CorporateTransaction, kind string) []store.CorporateTransaction {
	var out []store.CorporateTransaction
	for _, t := range txs {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

func TestUnaffordableSalaryIsZeroed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := mem.AddCorporation(store.Corporation{Name: "Thin", Capital: 5_000, Shares: 100, CEOSalary: 960_000, ElectedCEOID: "ceo"})
	mem.AddPlayer(store.Player{UserID: "ceo"})

	rep, err := newTestRunner(mem, valuation.Financials{}, nil).RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)
	assert.Equal(t, 1, rep.SalariesZeroed)

	corp, err := mem.Corporation(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, corp.CEOSalary)
	assert.Equal(t, 5_000.0, corp.Capital)
	txs, err := mem.Transactions(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, kinds(txs, store.TxSalary))
	ceo, _ := mem.Player(ctx, "ceo")
	assert.Zero(t, ceo.Cash)
}

func TestSalaryPaidAfterRevenue(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	// 9,000 capital cannot cover the 10,000 salary until the hour's profit lands.
	id := mem.AddCorporation(store.Corporation{Name: "Close", Capital: 9_000, Shares: 100, CEOSalary: 960_000, ElectedCEOID: "ceo"})
	mem.AddPlayer(store.Player{UserID: "ceo"})

	fin := valuation.Financials{Revenue: 3_000, Cost: 1_000, Profit: 2_000}
	_, err := newTestRunner(mem, fin, nil).RunHourlyTick(ctx, false)
	require.NoError(t, err)

	corp, _ := mem.Corporation(ctx, id)
	assert.Equal(t, 960_000.0, corp.CEOSalary)
	assert.Equal(t, 1_000.0, corp.Capital)
	ceo, _ := mem.Player(ctx, "ceo")
	assert.Equal(t, 10_000.0, ceo.Cash)
}

func TestDividendPaidProRata(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := mem.AddCorporation(store.Corporation{Name: "Payer", Capital: 10_000, Shares: 400, DividendPercentage: 10})
	mem.SetShareholding(id, "a", 300)
	mem.SetShareholding(id, "b", 100)

	prices := &recordingPrices{}
	fin := valuation.Financials{Revenue: 1_500, Cost: 500, Profit: 1_000}
	rep, err := newTestRunner(mem, fin, prices).RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.PricesUpdated)
	assert.True(t, prices.calls[id], "scheduled price update applies random variation")

	corp, _ := mem.Corporation(ctx, id)
	assert.Equal(t, 10_900.0, corp.Capital)
	a, _ := mem.Player(ctx, "a")
	b, _ := mem.Player(ctx, "b")
	assert.Equal(t, 75.0, a.Cash)
	assert.Equal(t, 25.0, b.Cash)

	txs, err := mem.Transactions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, txs, 4)
	for _, tx := range txs {
		assert.Equal(t, txs[0].GroupID, tx.GroupID)
	}
	assert.Len(t, kinds(txs, store.TxDividend), 2)
	assert.Equal(t, 1_500.0, kinds(txs, store.TxRevenue)[0].Amount)
	assert.Equal(t, -500.0, kinds(txs, store.TxOperatingCost)[0].Amount)
}

func TestDividendSkippedOnLoss(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := mem.AddCorporation(store.Corporation{Name: "Loser", Capital: 10_000, Shares: 100, DividendPercentage: 50})
	mem.SetShareholding(id, "a", 100)

	fin := valuation.Financials{Revenue: 100, Cost: 400, Profit: -300}
	_, err := newTestRunner(mem, fin, nil).RunHourlyTick(ctx, false)
	require.NoError(t, err)

	corp, _ := mem.Corporation(ctx, id)
	assert.Equal(t, 9_700.0, corp.Capital)
	a, _ := mem.Player(ctx, "a")
	assert.Zero(t, a.Cash)
}

func TestOneCorporationFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	ok1 := mem.AddCorporation(store.Corporation{Name: "One", Capital: 100, Shares: 10})
	bad := mem.AddCorporation(store.Corporation{Name: "Two", Capital: 100, Shares: 10})
	ok2 := mem.AddCorporation(store.Corporation{Name: "Three", Capital: 100, Shares: 10})

	prices := &recordingPrices{}
	fin := valuation.Financials{Revenue: 50, Profit: 50}
	rep, err := newTestRunner(&flakyStore{Memory: mem, failID: bad}, fin, prices).RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Corporations)
	assert.Equal(t, 2, rep.Settled)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 2, rep.PricesUpdated)
	assert.NotContains(t, prices.calls, bad)

	for _, id := range []int64{ok1, ok2} {
		c, _ := mem.Corporation(ctx, id)
		assert.Equal(t, 150.0, c.Capital)
	}
	c, _ := mem.Corporation(ctx, bad)
	assert.Equal(t, 100.0, c.Capital)
}

func TestHourlyTickRunsOncePerBucket(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 0, Shares: 10})
	r := newTestRunner(mem, valuation.Financials{Revenue: 10, Profit: 10}, nil)

	rep, err := r.RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, time.Date(2026, 7, 4, 15, 0, 0, 0, time.UTC), rep.Bucket)

	rep, err = r.RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)

	rep, err = r.RunHourlyTick(ctx, true)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)

	r.now = func() time.Time { return tickNow.Add(time.Hour) }
	rep, err = r.RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)

	c, _ := mem.Corporation(ctx, id)
	assert.Equal(t, 30.0, c.Capital)
}

func TestProposalSweepBucket(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	sweeper := &countingSweeper{}
	r := NewRunner(Deps{Store: mem, Proposals: sweeper}, Options{}, nil)
	r.now = func() time.Time { return tickNow }

	rep, err := r.RunProposalExpirySweep(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 4, 15, 5, 0, 0, time.UTC), rep.Bucket)
	assert.Equal(t, 2, rep.Result.Resolved)

	rep, err = r.RunProposalExpirySweep(ctx, false)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, 1, sweeper.calls)
}

func TestPriceSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 2_500, Shares: 10, SharePrice: 12.5})
	mem.AddUnits(id, "TX", economy.SectorEnergy, economy.UnitProduction, 2)

	econ := economy.NewEngine(economy.NewConfigCache(economy.NewStaticConfigStore(nil)), mem, economy.EngineOptions{}, nil)
	r := NewRunner(Deps{Store: mem, Quotes: econ}, Options{}, nil)
	r.now = func() time.Time { return tickNow }

	rep, err := r.RunPriceSnapshot(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 4, 15, 0, 0, 0, time.UTC), rep.Bucket)
	assert.Equal(t, len(economy.AllResources)+len(economy.AllProducts), rep.PricePoints)
	assert.Equal(t, 1, rep.SharePoints)

	hist, err := mem.PriceHistory(ctx, economy.KindResource, string(economy.ResourceCoal), 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, tickNow, hist[0].RecordedAt)
	assert.Positive(t, hist[0].Demand)

	shares, err := mem.SharePriceHistory(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, 12.5, shares[0].Price)
	assert.Equal(t, 2_500.0, shares[0].Capital)

	rep, err = r.RunPriceSnapshot(ctx, false)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
}

func TestHourlyTickRetriesAfterFailedRead(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 1_000, Shares: 10})
	st := &listFailStore{Memory: mem, fails: 1}
	r := newTestRunner(st, valuation.Financials{Revenue: 50, Profit: 50}, nil)

	_, err := r.RunHourlyTick(ctx, false)
	require.ErrorContains(t, err, "list corporations")

	rep, err := r.RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, 1, rep.Settled)
	c, _ := mem.Corporation(ctx, id)
	assert.Equal(t, 1_050.0, c.Capital)

	rep, err = r.RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
}

func TestForcedTickKeepsEarlierClaim(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 1_000, Shares: 10})
	st := &listFailStore{Memory: mem}
	r := newTestRunner(st, valuation.Financials{}, nil)

	_, err := r.RunHourlyTick(ctx, false)
	require.NoError(t, err)

	st.fails = 1
	_, err = r.RunHourlyTick(ctx, true)
	require.Error(t, err)

	rep, err := r.RunHourlyTick(ctx, false)
	require.NoError(t, err)
	assert.True(t, rep.Skipped, "a failed forced run must not free a bucket that already ran")
}

func TestPriceSnapshotRetriesAfterFailedRead(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 2_500, Shares: 10, SharePrice: 12.5})
	econ := economy.NewEngine(economy.NewConfigCache(economy.NewStaticConfigStore(nil)), mem, economy.EngineOptions{}, nil)
	r := NewRunner(Deps{Store: &listFailStore{Memory: mem, fails: 1}, Quotes: econ}, Options{}, nil)
	r.now = func() time.Time { return tickNow }

	_, err := r.RunPriceSnapshot(ctx, false)
	require.Error(t, err)
	hist, err := mem.PriceHistory(ctx, economy.KindResource, string(economy.ResourceCoal), 0)
	require.NoError(t, err)
	assert.Empty(t, hist)

	rep, err := r.RunPriceSnapshot(ctx, false)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, 1, rep.SharePoints)
	shares, err := mem.SharePriceHistory(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, shares, 1)
}
