package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpsim/internal/economy"
	"corpsim/internal/store"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	econ := economy.NewEngine(economy.NewConfigCache(economy.NewStaticConfigStore(nil)), mem, economy.EngineOptions{}, nil)
	e := NewEngine(mem, econ, Options{}, nil)
	e.now = func() time.Time { return testNow }
	return e, mem
}

func TestUnitAssetValue(t *testing.T) {
	tests := []struct {
		basis, hourly, want float64
	}{
		{300, 1, 300 + 87_600},
		{0, 0, 0},
		{500, -0.001, 500 - 87.6},
		{300, -10, 0},
	}
	for _, tc := range tests {
		got := UnitAssetValue(tc.basis, tc.hourly)
		if diff := got - tc.want; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("UnitAssetValue(%v, %v) got=%v want=%v", tc.basis, tc.hourly, got, tc.want)
		}
	}
}

func TestPriceWithoutTradesIsFundamental(t *testing.T) {
	e, mem := newTestEngine(t)
	id := mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 1_000_000, Shares: 1000})

	res, err := e.CalculateStockPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, res.BookValuePerShare)
	assert.Equal(t, 1000.0, res.CashPerShare)
	assert.Equal(t, 550.0, res.FundamentalValue)
	assert.Equal(t, 550.0, res.CalculatedPrice)
	assert.Zero(t, res.TradeCount)
	assert.Zero(t, res.TradeWeightedPrice)
}

func TestTradeWeightedBlend(t *testing.T) {
	e, mem := newTestEngine(t)
	id := mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 1_000_000, Shares: 1000})
	mem.AddShareTransaction(store.ShareTransaction{CorporationID: id, Shares: 100, Price: 1000, At: testNow})
	mem.AddShareTransaction(store.ShareTransaction{CorporationID: id, Shares: 100, Price: 2000, At: testNow.Add(-24 * time.Hour)})
	mem.AddShareTransaction(store.ShareTransaction{CorporationID: id, Shares: 500, Price: 99_999, At: testNow.Add(-8 * 24 * time.Hour)})

	res, err := e.CalculateStockPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TradeCount)
	assert.Equal(t, 1333.33, res.TradeWeightedPrice)
	assert.InDelta(t, 0.8*550+0.2*(4000.0/3), res.CalculatedPrice, 0.01)
}

func TestFundamentalWeightZeroPricesOnTrades(t *testing.T) {
	mem := store.NewMemory()
	econ := economy.NewEngine(economy.NewConfigCache(economy.NewStaticConfigStore(nil)), mem, economy.EngineOptions{}, nil)
	zero := 0.0
	e := NewEngine(mem, econ, Options{FundamentalWeight: &zero}, nil)
	e.now = func() time.Time { return testNow }

	id := mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 1_000_000, Shares: 1000})
	mem.AddShareTransaction(store.ShareTransaction{CorporationID: id, Shares: 100, Price: 1200, At: testNow})

	res, err := e.CalculateStockPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 550.0, res.FundamentalValue)
	assert.Equal(t, 1200.0, res.CalculatedPrice)

	zero = 0.5
	res, err = e.CalculateStockPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, res.CalculatedPrice, "options are copied at construction")
}

func TestPriceFloor(t *testing.T) {
	e, mem := newTestEngine(t)
	id := mem.AddCorporation(store.Corporation{Name: "Broke", Capital: -500, Shares: 100})
	res, err := e.CalculateStockPrice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, MinSharePrice, res.CalculatedPrice)

	empty := mem.AddCorporation(store.Corporation{Name: "Shell"})
	res, err = e.CalculateStockPrice(context.Background(), empty)
	require.NoError(t, err)
	assert.Equal(t, MinSharePrice, res.CalculatedPrice)
}

func TestUpdateStockPrice(t *testing.T) {
	ctx := context.Background()
	e, mem := newTestEngine(t)
	id := mem.AddCorporation(store.Corporation{Name: "Acme", Capital: 1_000_000, Shares: 1000, SharePrice: 1})

	price, err := e.UpdateStockPrice(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, 550.0, price)
	corp, err := mem.Corporation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 550.0, corp.SharePrice)

	for i := 0; i < 50; i++ {
		price, err = e.UpdateStockPrice(ctx, id, true)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, price, 550*0.95-0.01)
		assert.LessOrEqual(t, price, 550*1.05+0.01)
	}

	_, err = e.UpdateStockPrice(ctx, 9999, false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActionBoostAppliesToRevenue(t *testing.T) {
	ctx := context.Background()
	e, mem := newTestEngine(t)
	id := mem.AddCorporation(store.Corporation{Name: "Acme", Shares: 100})
	mem.AddUnits(id, "CA", economy.SectorRetail, economy.UnitRetail, 2)
	mem.AddUnits(id, "CA", economy.SectorMining, economy.UnitRetail, 5)
	units, err := mem.CorporationUnits(ctx, id)
	require.NoError(t, err)

	base, err := e.CorporationFinancials(ctx, units, 0)
	require.NoError(t, err)
	boosted, err := e.CorporationFinancials(ctx, units, 3)
	require.NoError(t, err)

	one, err := e.econ.ComputeUnitEconomics(ctx, economy.UnitRetail, economy.SectorRetail, nil)
	require.NoError(t, err)
	assert.InDelta(t, one.HourlyRevenue*2, base.Revenue, 0.01)
	assert.Equal(t, base.Cost, boosted.Cost)
	assert.InDelta(t, base.Revenue*1.3, boosted.Revenue, 0.02)
	assert.Greater(t, boosted.Profit, base.Profit)
	assert.Greater(t, base.AssetValue, 0.0)

	mem.AddAction(store.CorporateAction{CorporationID: id, Type: "marketing_campaign", ExpiresAt: testNow.Add(time.Hour)})
	profit, err := e.CorporationHourlyProfit(ctx, id)
	require.NoError(t, err)
	withOne, err := e.CorporationFinancials(ctx, units, 1)
	require.NoError(t, err)
	assert.Equal(t, withOne.Profit, profit)
}
