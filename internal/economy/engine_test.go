package economy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounts struct {
	units SectorUnits
	err   error
	calls int
}

func (f *fakeCounts) NationalUnitCounts(context.Context) (SectorUnits, error) {
	f.calls++
	return f.units, f.err
}

func newTestEngine(counts UnitCountSource) (*Engine, *StaticConfigStore) {
	store := NewStaticConfigStore(nil)
	return NewEngine(NewConfigCache(store), counts, EngineOptions{}, nil), store
}

func sampleUnits() SectorUnits {
	u := SectorUnits{}
	u.Add(SectorEnergy, UnitProduction, 10)
	u.Add(SectorHeavyIndustry, UnitProduction, 10)
	u.Add(SectorMining, UnitExtraction, 2)
	return u
}

func TestCommodityPriceFromLiveCounts(t *testing.T) {
	eng, _ := newTestEngine(&fakeCounts{units: sampleUnits()})
	res, err := eng.CalculateCommodityPrice(context.Background(), ResourceCoal, nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.TotalSupply)
	assert.InDelta(t, 5.0, res.TotalDemand, 1e-9)
	assert.Equal(t, 81.25, res.CurrentPrice)
	assert.Equal(t, 25.0, res.PriceChange)
	require.Len(t, res.TopProducers, 1)
	assert.Equal(t, SectorMining, res.TopProducers[0].Sector)
	assert.Len(t, res.DemandingSectors, 2)
	assert.Equal(t, SectorHeavyIndustry, res.DemandingSectors[0].Sector)
}

func TestPriceFallsBackToStatic(t *testing.T) {
	ctx := context.Background()

	failing, _ := newTestEngine(&fakeCounts{err: errors.New("db down")})
	res, err := failing.CalculateCommodityPrice(ctx, ResourceOil, nil)
	require.NoError(t, err)
	assert.Equal(t, 75.0, res.CurrentPrice)

	empty, _ := newTestEngine(&fakeCounts{units: SectorUnits{}})
	prod, err := empty.CalculateProductPrice(ctx, ProductSteel, nil)
	require.NoError(t, err)
	assert.Equal(t, 200.0, prod.CurrentPrice)
	assert.Equal(t, 1.0, prod.ScarcityFactor)

	none, _ := newTestEngine(nil)
	res, err = none.CalculateCommodityPrice(ctx, ResourceLumber, nil)
	require.NoError(t, err)
	assert.Equal(t, 35.0, res.CurrentPrice)
}

func TestExplicitSupplyDemand(t *testing.T) {
	counts := &fakeCounts{units: sampleUnits()}
	eng, _ := newTestEngine(counts)
	res, err := eng.CalculateCommodityPrice(context.Background(), ResourceOil, &SupplyDemand{Supply: 10, Demand: 20})
	require.NoError(t, err)
	assert.Equal(t, 150.0, res.CurrentPrice)
	assert.Equal(t, 10.0, res.TotalSupply)
	assert.Equal(t, 20.0, res.TotalDemand)
	assert.Zero(t, counts.calls)
}

func TestMarketQuotesCoverEverything(t *testing.T) {
	eng, _ := newTestEngine(&fakeCounts{units: sampleUnits()})
	q, err := eng.MarketQuotes(context.Background())
	require.NoError(t, err)
	assert.Len(t, q.Commodities, len(AllResources))
	assert.Len(t, q.Products, len(AllProducts))
	m := q.Market()
	assert.Equal(t, 81.25, m.Commodities[ResourceCoal])
	for _, p := range q.Products {
		assert.GreaterOrEqual(t, p.CurrentPrice, PriceFloor)
	}
}

func TestUnitEconomicsCache(t *testing.T) {
	ctx := context.Background()
	counts := &fakeCounts{units: sampleUnits()}
	eng, store := newTestEngine(counts)

	first, err := eng.ComputeUnitEconomics(ctx, UnitRetail, SectorRetail, nil)
	require.NoError(t, err)
	second, err := eng.ComputeUnitEconomics(ctx, UnitRetail, SectorRetail, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, counts.calls)

	cheap := &Market{Products: map[Product]float64{ProductFood: 1, ProductManufactured: 1, ProductTechnology: 1}}
	explicit, err := eng.ComputeUnitEconomics(ctx, UnitRetail, SectorRetail, cheap)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.calls, "explicit prices must bypass the cache")
	assert.NotEqual(t, first.HourlyRevenue, explicit.HourlyRevenue)

	require.NoError(t, store.Update(ctx, func(c *Catalog) error {
		uc, _ := c.UnitConfig(SectorRetail, UnitRetail)
		uc.LaborCost = 10
		return c.SetUnitConfig(uc)
	}))
	reloaded, err := eng.ComputeUnitEconomics(ctx, UnitRetail, SectorRetail, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.calls)
	assert.Equal(t, 10.0, reloaded.LaborCost)

	eng.ResetCaches()
	_, err = eng.ComputeUnitEconomics(ctx, UnitRetail, SectorRetail, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.calls)
}
