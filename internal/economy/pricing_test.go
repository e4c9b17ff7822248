package economy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceMonotonicAndFloored(t *testing.T) {
	const base = 75.0
	for _, supply := range []float64{0.5, 1, 10, 250, 10_000} {
		prev := 0.0
		for demand := 0.0; demand <= 500; demand += 12.5 {
			price, _ := Price(base, supply, demand)
			assert.GreaterOrEqual(t, price, PriceFloor)
			assert.GreaterOrEqual(t, price, prev, "supply=%v demand=%v", supply, demand)
			prev = price
		}
	}
	for _, demand := range []float64{0, 1, 40, 900} {
		prev := -1.0
		for supply := 0.5; supply <= 2000; supply *= 2 {
			price, _ := Price(base, supply, demand)
			assert.GreaterOrEqual(t, price, PriceFloor)
			if prev >= 0 {
				assert.LessOrEqual(t, price, prev, "supply=%v demand=%v", supply, demand)
			}
			prev = price
		}
	}
}

func TestPriceHasNoScarcityCap(t *testing.T) {
	price, scarcity := Price(100, 0, 10)
	assert.Equal(t, 1000.0, scarcity)
	assert.Equal(t, 100_000.0, price)
}

func TestPriceRoundsToCents(t *testing.T) {
	price, _ := Price(10, 3, 1)
	assert.Equal(t, 3.33, price)
	price, _ = Price(10, 3, 2)
	assert.Equal(t, 6.67, price)
}

func TestStaticCommodityPriceShape(t *testing.T) {
	cat := DefaultCatalog()
	res := StaticCommodityPrice(cat, ResourceOil, 0)
	assert.Equal(t, "Oil", res.Name)
	assert.Equal(t, 75.0, res.BasePrice)
	assert.Equal(t, 75.0, res.CurrentPrice)
	assert.Equal(t, 1.0, res.ScarcityFactor)
	assert.Equal(t, 0.0, res.PriceChange)
	assert.NotNil(t, res.TopProducers)

	res = StaticCommodityPrice(cat, ResourceOil, 2000)
	assert.Equal(t, 37.5, res.CurrentPrice)
	assert.Equal(t, -50.0, res.PriceChange)
}

func TestPriceCacheExpires(t *testing.T) {
	c := NewPriceCache(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	p1, _ := c.Quote(KindResource, "Oil", 75, 10, 10)
	require.Equal(t, 75.0, p1)
	require.Equal(t, 1, c.entries.Len())

	now = now.Add(30 * time.Second)
	p2, _ := c.Quote(KindResource, "Oil", 75, 10, 10)
	assert.Equal(t, p1, p2)

	now = now.Add(2 * time.Minute)
	p3, _ := c.Quote(KindResource, "Oil", 75, 10, 10)
	assert.Equal(t, p1, p3)
	assert.Equal(t, 1, c.entries.Len())

	c.Reset()
	assert.Equal(t, 0, c.entries.Len())
}
