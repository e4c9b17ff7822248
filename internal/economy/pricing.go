package economy

import (
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
)

const (
	// PriceFloor is the minimum price of any commodity or product.
	PriceFloor = 0.01
	// ReferencePoolSize stands in for live demand on the static price path.
	ReferencePoolSize = 1000.0

	DefaultPriceCacheTTL = 60 * time.Second

	scarcityEpsilon = 0.01
	priceCacheSize  = 4096
	topContributors = 5
)

// Round2 rounds a monetary value half away from zero to two decimals.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Price converts supply and demand into a scarcity-adjusted price. Scarcity
// has no upper cap; the result never drops below PriceFloor.
func Price(base, supply, demand float64) (price, scarcity float64) {
	scarcity = demand / math.Max(scarcityEpsilon, supply)
	return math.Max(PriceFloor, Round2(base*scarcity)), scarcity
}

type PriceResult struct {
	Name             string        `json:"resource"`
	Kind             Kind          `json:"kind"`
	BasePrice        float64       `json:"base_price"`
	CurrentPrice     float64       `json:"current_price"`
	PriceChange      float64       `json:"price_change"`
	TotalSupply      float64       `json:"total_supply"`
	TotalDemand      float64       `json:"total_demand"`
	ScarcityFactor   float64       `json:"scarcity_factor"`
	TopProducers     []SectorShare `json:"top_producers"`
	DemandingSectors []SectorShare `json:"demanding_sectors"`
}

func newPriceResult(name string, kind Kind, base, price, scarcity float64, bal Balance) PriceResult {
	out := PriceResult{
		Name:             name,
		Kind:             kind,
		BasePrice:        base,
		CurrentPrice:     price,
		TotalSupply:      bal.TotalSupply(),
		TotalDemand:      bal.TotalDemand(),
		ScarcityFactor:   scarcity,
		TopProducers:     top(bal.Supply, topContributors),
		DemandingSectors: top(bal.Demand, topContributors),
	}
	if base > 0 {
		out.PriceChange = Round2((price - base) / base * 100)
	}
	return out
}

// StaticCommodityPrice prices a resource against ReferencePoolSize instead of
// live demand. It is the bootstrap path used when unit counts are unavailable;
// a zero supply prices at base.
func StaticCommodityPrice(cat *Catalog, r Resource, totalSupply float64) PriceResult {
	base := cat.ResourceBasePrice(r)
	supply := totalSupply
	if supply <= 0 {
		supply = ReferencePoolSize
	}
	price, scarcity := Price(base, supply, ReferencePoolSize)
	return newPriceResult(string(r), KindResource, base, price, scarcity, Balance{
		Supply: map[Sector]float64{},
		Demand: map[Sector]float64{},
	})
}

// StaticProductPrice is the product counterpart of StaticCommodityPrice.
func StaticProductPrice(cat *Catalog, p Product, totalSupply float64) PriceResult {
	base := cat.ProductBasePrice(p)
	supply := totalSupply
	if supply <= 0 {
		supply = ReferencePoolSize
	}
	price, scarcity := Price(base, supply, ReferencePoolSize)
	return newPriceResult(string(p), KindProduct, base, price, scarcity, Balance{
		Supply: map[Sector]float64{},
		Demand: map[Sector]float64{},
	})
}

type priceKey struct {
	kind   Kind
	name   string
	base   float64
	supply float64
	demand float64
}

type cachedQuote struct {
	price    float64
	scarcity float64
	at       time.Time
}

// PriceCache memoizes Price by (name, supply, demand) for a short TTL.
type PriceCache struct {
	entries *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

func NewPriceCache(ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceCacheTTL
	}
	entries, _ := lru.New(priceCacheSize)
	return &PriceCache{entries: entries, ttl: ttl, now: time.Now}
}

func (c *PriceCache) Quote(kind Kind, name string, base, supply, demand float64) (float64, float64) {
	key := priceKey{kind: kind, name: name, base: base, supply: supply, demand: demand}
	now := c.now()
	if v, ok := c.entries.Get(key); ok {
		if q, ok := v.(cachedQuote); ok && now.Sub(q.at) < c.ttl {
			return q.price, q.scarcity
		}
	}
	price, scarcity := Price(base, supply, demand)
	c.entries.Add(key, cachedQuote{price: price, scarcity: scarcity, at: now})
	return price, scarcity
}

func (c *PriceCache) Reset() {
	c.entries.Purge()
}
