package economy

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const economicsCacheSize = 256

// UnitCountSource reports the national unit-count table.
type UnitCountSource interface {
	NationalUnitCounts(ctx context.Context) (SectorUnits, error)
}

// SupplyDemand lets a caller price against explicit totals instead of the
// live unit counts.
type SupplyDemand struct {
	Supply float64 `json:"supply"`
	Demand float64 `json:"demand"`
}

type EngineOptions struct {
	PriceCacheTTL     time.Duration
	EconomicsCacheTTL time.Duration
}

// Quotes holds every commodity and product price for one set of unit counts.
type Quotes struct {
	Commodities []PriceResult `json:"commodities"`
	Products    []PriceResult `json:"products"`
}

func (q Quotes) Market() Market {
	m := Market{
		Commodities: make(map[Resource]float64, len(q.Commodities)),
		Products:    make(map[Product]float64, len(q.Products)),
	}
	for _, r := range q.Commodities {
		m.Commodities[Resource(r.Name)] = r.CurrentPrice
	}
	for _, p := range q.Products {
		m.Products[Product(p.Name)] = p.CurrentPrice
	}
	return m
}

type econKey struct {
	version  string
	unitType UnitType
	sector   Sector
}

type cachedEconomics struct {
	result EconomicsResult
	at     time.Time
}

// Engine ties the config cache, live unit counts and the price cache together.
// All caches are owned by the instance.
type Engine struct {
	config  *ConfigCache
	counts  UnitCountSource
	prices  *PriceCache
	econ    *lru.Cache
	econTTL time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func NewEngine(config *ConfigCache, counts UnitCountSource, opts EngineOptions, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EconomicsCacheTTL <= 0 {
		opts.EconomicsCacheTTL = DefaultPriceCacheTTL
	}
	econ, _ := lru.New(economicsCacheSize)
	return &Engine{
		config:  config,
		counts:  counts,
		prices:  NewPriceCache(opts.PriceCacheTTL),
		econ:    econ,
		econTTL: opts.EconomicsCacheTTL,
		now:     time.Now,
		log:     logger,
	}
}

func (e *Engine) Catalog(ctx context.Context) (*Catalog, error) {
	return e.config.Get(ctx)
}

// ResetCaches drops memoized prices and economics.
func (e *Engine) ResetCaches() {
	e.prices.Reset()
	e.econ.Purge()
}

func (e *Engine) liveCounts(ctx context.Context) (SectorUnits, bool) {
	if e.counts == nil {
		return nil, false
	}
	counts, err := e.counts.NationalUnitCounts(ctx)
	if err != nil {
		e.log.Warn("unit counts unavailable, using static prices", "err", err)
		return nil, false
	}
	return counts, true
}

func (e *Engine) CalculateCommodityPrice(ctx context.Context, r Resource, sd *SupplyDemand) (PriceResult, error) {
	cat, err := e.config.Get(ctx)
	if err != nil {
		return PriceResult{}, err
	}
	if sd != nil {
		return e.explicitQuote(string(r), KindResource, cat.ResourceBasePrice(r), *sd), nil
	}
	counts, ok := e.liveCounts(ctx)
	if !ok {
		return StaticCommodityPrice(cat, r, 0), nil
	}
	return e.commodityQuote(cat, NewSectorCalculator(cat), r, counts), nil
}

func (e *Engine) CalculateProductPrice(ctx context.Context, p Product, sd *SupplyDemand) (PriceResult, error) {
	cat, err := e.config.Get(ctx)
	if err != nil {
		return PriceResult{}, err
	}
	if sd != nil {
		return e.explicitQuote(string(p), KindProduct, cat.ProductBasePrice(p), *sd), nil
	}
	counts, ok := e.liveCounts(ctx)
	if !ok {
		return StaticProductPrice(cat, p, 0), nil
	}
	return e.productQuote(cat, NewSectorCalculator(cat), p, counts), nil
}

func (e *Engine) explicitQuote(name string, kind Kind, base float64, sd SupplyDemand) PriceResult {
	price, scarcity := e.prices.Quote(kind, name, base, sd.Supply, sd.Demand)
	out := newPriceResult(name, kind, base, price, scarcity, Balance{})
	out.TotalSupply, out.TotalDemand = sd.Supply, sd.Demand
	return out
}

func (e *Engine) commodityQuote(cat *Catalog, calc SectorCalculator, r Resource, counts SectorUnits) PriceResult {
	bal := calc.ResourceBalance(r, counts)
	supply, demand := bal.TotalSupply(), bal.TotalDemand()
	if supply == 0 && demand == 0 {
		return StaticCommodityPrice(cat, r, 0)
	}
	base := cat.ResourceBasePrice(r)
	price, scarcity := e.prices.Quote(KindResource, string(r), base, supply, demand)
	return newPriceResult(string(r), KindResource, base, price, scarcity, bal)
}

func (e *Engine) productQuote(cat *Catalog, calc SectorCalculator, p Product, counts SectorUnits) PriceResult {
	bal := calc.ProductBalance(p, counts)
	supply, demand := bal.TotalSupply(), bal.TotalDemand()
	if supply == 0 && demand == 0 {
		return StaticProductPrice(cat, p, 0)
	}
	base := cat.ProductBasePrice(p)
	price, scarcity := e.prices.Quote(KindProduct, string(p), base, supply, demand)
	return newPriceResult(string(p), KindProduct, base, price, scarcity, bal)
}

// MarketQuotes prices every resource and product against one read of the
// national unit counts.
func (e *Engine) MarketQuotes(ctx context.Context) (Quotes, error) {
	cat, err := e.config.Get(ctx)
	if err != nil {
		return Quotes{}, err
	}
	var out Quotes
	counts, ok := e.liveCounts(ctx)
	calc := NewSectorCalculator(cat)
	for _, r := range AllResources {
		if !ok {
			out.Commodities = append(out.Commodities, StaticCommodityPrice(cat, r, 0))
			continue
		}
		out.Commodities = append(out.Commodities, e.commodityQuote(cat, calc, r, counts))
	}
	for _, p := range AllProducts {
		if !ok {
			out.Products = append(out.Products, StaticProductPrice(cat, p, 0))
			continue
		}
		out.Products = append(out.Products, e.productQuote(cat, calc, p, counts))
	}
	return out, nil
}

// ComputeUnitEconomics returns the hourly economics of one unit. Results are
// memoized per (unit type, sector, catalog version) only when prices is nil;
// explicit prices always bypass the cache.
func (e *Engine) ComputeUnitEconomics(ctx context.Context, u UnitType, s Sector, prices *Market) (EconomicsResult, error) {
	cat, err := e.config.Get(ctx)
	if err != nil {
		return EconomicsResult{}, err
	}
	if prices != nil {
		return UnitEconomics(cat, u, s, *prices), nil
	}

	key := econKey{version: cat.Version, unitType: u, sector: s}
	now := e.now()
	if v, ok := e.econ.Get(key); ok {
		if c, ok := v.(cachedEconomics); ok && now.Sub(c.at) < e.econTTL {
			return c.result, nil
		}
	}
	quotes, err := e.MarketQuotes(ctx)
	if err != nil {
		return EconomicsResult{}, err
	}
	result := UnitEconomics(cat, u, s, quotes.Market())
	e.econ.Add(key, cachedEconomics{result: result, at: now})
	return result, nil
}
