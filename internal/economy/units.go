package economy

// ProductRate is one product a unit consumes and its per-unit-hour rate.
type ProductRate struct {
	Product Product
	Rate    float64
}

// UnitCalculator maps (unit type, sector, count) to commodity and product
// flows for one catalog snapshot. It keeps no state of its own.
type UnitCalculator struct {
	catalog *Catalog
}

func NewUnitCalculator(cat *Catalog) UnitCalculator {
	return UnitCalculator{catalog: cat}
}

func (c UnitCalculator) enabled(u UnitType, s Sector) (SectorDef, bool) {
	def, ok := c.catalog.Sector(s)
	if !ok {
		return SectorDef{}, false
	}
	if _, ok := c.catalog.UnitConfig(s, u); !ok {
		return SectorDef{}, false
	}
	return def, true
}

// outputs lists the configured outputs of an enabled pair. A positive
// UnitConfig.OutputRate replaces the rate of every output of the pair.
func (c UnitCalculator) outputs(u UnitType, s Sector, kind Kind) []Flow {
	uc, ok := c.catalog.UnitConfig(s, u)
	if !ok {
		return nil
	}
	out := c.catalog.FlowsFor(s, u, kind, DirectionOutput)
	if uc.OutputRate > 0 {
		for i := range out {
			out[i].Rate = uc.OutputRate
		}
	}
	return out
}

// ProducedProduct is the product output of a production pair, if any.
func (c UnitCalculator) ProducedProduct(s Sector) (Flow, bool) {
	outs := c.outputs(UnitProduction, s, KindProduct)
	if len(outs) == 0 {
		return Flow{}, false
	}
	return outs[0], true
}

// ExtractedResources lists the resource outputs of an extraction pair.
func (c UnitCalculator) ExtractedResources(s Sector) []Flow {
	return c.outputs(UnitExtraction, s, KindResource)
}

// DemandedProducts lists every product one unit of the pair consumes, each
// product once: electricity first, then the configured product inputs, then
// the sector-specific extras. A unit never consumes a product it outputs.
// An electricity input flow replaces the per-unit-type electricity rate.
func (c UnitCalculator) DemandedProducts(u UnitType, s Sector) []ProductRate {
	if _, ok := c.enabled(u, s); !ok {
		return nil
	}
	inputs := c.catalog.FlowsFor(s, u, KindProduct, DirectionInput)
	own := map[Product]bool{}
	for _, f := range c.outputs(u, s, KindProduct) {
		own[Product(f.Name)] = true
	}

	var out []ProductRate
	seen := map[Product]bool{}
	add := func(p Product, rate float64) {
		if seen[p] || own[p] || rate <= 0 {
			return
		}
		seen[p] = true
		out = append(out, ProductRate{Product: p, Rate: rate})
	}

	electricity := ConsumptionRate(u, s, true)
	for _, f := range inputs {
		if Product(f.Name) == ProductElectricity {
			electricity = f.Rate
		}
	}
	add(ProductElectricity, electricity)
	seen[ProductElectricity] = true

	for _, f := range inputs {
		add(Product(f.Name), f.Rate)
	}
	rate := ConsumptionRate(u, s, false)
	for _, p := range extraProductDemands(u, s) {
		add(p, rate)
	}
	return out
}

// ResourceInputs lists the resources one production unit of the sector burns.
func (c UnitCalculator) ResourceInputs(s Sector) []Flow {
	if _, ok := c.enabled(UnitProduction, s); !ok {
		return nil
	}
	return c.catalog.FlowsFor(s, UnitProduction, KindResource, DirectionInput)
}

func (c UnitCalculator) ProductDemand(u UnitType, s Sector, p Product, count int64) float64 {
	if count <= 0 {
		return 0
	}
	for _, pr := range c.DemandedProducts(u, s) {
		if pr.Product == p {
			return pr.Rate * float64(count)
		}
	}
	return 0
}

func (c UnitCalculator) ProductSupply(u UnitType, s Sector, p Product, count int64) float64 {
	if count <= 0 || u != UnitProduction {
		return 0
	}
	if out, ok := c.ProducedProduct(s); ok && Product(out.Name) == p {
		return out.Rate * float64(count)
	}
	return 0
}

func (c UnitCalculator) CommodityDemand(u UnitType, s Sector, r Resource, count int64) float64 {
	if count <= 0 || u != UnitProduction {
		return 0
	}
	var total float64
	for _, f := range c.ResourceInputs(s) {
		if Resource(f.Name) == r {
			total += f.Rate * float64(count)
		}
	}
	return total
}

func (c UnitCalculator) CommoditySupply(u UnitType, s Sector, r Resource, count int64) float64 {
	if count <= 0 || u != UnitExtraction {
		return 0
	}
	for _, f := range c.ExtractedResources(s) {
		if Resource(f.Name) == r {
			return f.Rate * float64(count)
		}
	}
	return 0
}

func (c UnitCalculator) TotalProductDemand(s Sector, p Product, counts UnitCounts) float64 {
	var total float64
	for _, u := range AllUnitTypes {
		total += c.ProductDemand(u, s, p, counts[u])
	}
	return total
}

func (c UnitCalculator) TotalProductSupply(s Sector, p Product, counts UnitCounts) float64 {
	var total float64
	for _, u := range AllUnitTypes {
		total += c.ProductSupply(u, s, p, counts[u])
	}
	return total
}

func (c UnitCalculator) TotalCommodityDemand(s Sector, r Resource, counts UnitCounts) float64 {
	var total float64
	for _, u := range AllUnitTypes {
		total += c.CommodityDemand(u, s, r, counts[u])
	}
	return total
}

func (c UnitCalculator) TotalCommoditySupply(s Sector, r Resource, counts UnitCounts) float64 {
	var total float64
	for _, u := range AllUnitTypes {
		total += c.CommoditySupply(u, s, r, counts[u])
	}
	return total
}
