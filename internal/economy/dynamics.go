package economy

const (
	// WholesaleDiscount is applied to goods a retail or service unit buys for resale.
	WholesaleDiscount = 0.7
	// MinMarginPct floors retail/service revenue at cost * (1 + MinMarginPct).
	MinMarginPct = 0.10
)

// Market is a price snapshot. Missing entries price at the catalog base.
type Market struct {
	Commodities map[Resource]float64 `json:"commodities"`
	Products    map[Product]float64  `json:"products"`
}

func (m Market) commodity(cat *Catalog, r Resource) float64 {
	if v, ok := m.Commodities[r]; ok {
		return v
	}
	return cat.ResourceBasePrice(r)
}

func (m Market) product(cat *Catalog, p Product) float64 {
	if v, ok := m.Products[p]; ok {
		return v
	}
	return cat.ProductBasePrice(p)
}

type LineItem struct {
	Name   string  `json:"name"`
	Kind   Kind    `json:"kind"`
	Rate   float64 `json:"rate"`
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// EconomicsResult is the hourly economics of one unit of a (unit type, sector) pair.
type EconomicsResult struct {
	Sector             Sector     `json:"sector"`
	UnitType           UnitType   `json:"unit_type"`
	IsDynamic          bool       `json:"is_dynamic"`
	HourlyRevenue      float64    `json:"hourly_revenue"`
	HourlyCost         float64    `json:"hourly_cost"`
	HourlyProfit       float64    `json:"hourly_profit"`
	LaborCost          float64    `json:"labor_cost"`
	ResourceCost       float64    `json:"resource_cost"`
	ProductCost        float64    `json:"product_cost"`
	Revenue            []LineItem `json:"revenue_breakdown,omitempty"`
	Costs              []LineItem `json:"cost_breakdown,omitempty"`
	MarginFloorApplied bool       `json:"margin_floor_applied"`
	CostPassThrough    bool       `json:"cost_pass_through"`
}

// Scale returns the totals for count units. Line items are per unit and dropped.
func (r EconomicsResult) Scale(count int64) EconomicsResult {
	n := float64(count)
	out := r
	out.Revenue, out.Costs = nil, nil
	out.HourlyRevenue = Round2(r.HourlyRevenue * n)
	out.HourlyCost = Round2(r.HourlyCost * n)
	out.HourlyProfit = Round2(r.HourlyProfit * n)
	out.LaborCost = Round2(r.LaborCost * n)
	out.ResourceCost = Round2(r.ResourceCost * n)
	out.ProductCost = Round2(r.ProductCost * n)
	return out
}

// UnitEconomics prices one unit of the pair against a market snapshot. A pair
// without an enabled unit config yields an all-zero, non-dynamic result.
func UnitEconomics(cat *Catalog, u UnitType, s Sector, m Market) EconomicsResult {
	out := EconomicsResult{Sector: s, UnitType: u}
	uc, ok := cat.UnitConfig(s, u)
	if !ok {
		return out
	}
	def, ok := cat.Sector(s)
	if !ok {
		return out
	}
	calc := NewUnitCalculator(cat)
	out.IsDynamic = true
	out.LaborCost = uc.LaborCost
	out.Costs = append(out.Costs, LineItem{Name: "labor", Amount: uc.LaborCost})

	var revenue float64
	switch u {
	case UnitRetail, UnitService:
		revenue = storefrontEconomics(&out, cat, calc, uc, m)
	case UnitExtraction:
		revenue = extractionEconomics(&out, cat, calc, def, m)
	case UnitProduction:
		revenue = productionEconomics(&out, cat, calc, def, uc, m)
	}

	cost := out.LaborCost + out.ResourceCost + out.ProductCost
	if u == UnitRetail || u == UnitService {
		if floor := cost * (1 + MinMarginPct); revenue < floor {
			revenue = floor
			out.MarginFloorApplied = true
		}
	}

	out.ResourceCost = Round2(out.ResourceCost)
	out.ProductCost = Round2(out.ProductCost)
	out.HourlyRevenue = Round2(revenue)
	out.HourlyCost = Round2(cost)
	out.HourlyProfit = Round2(revenue - cost)
	return out
}

func storefrontEconomics(out *EconomicsResult, cat *Catalog, calc UnitCalculator, uc UnitConfig, m Market) float64 {
	var merchandise float64
	for _, pr := range calc.DemandedProducts(uc.UnitType, uc.Sector) {
		price := m.product(cat, pr.Product)
		if pr.Product == ProductElectricity {
			amount := price * pr.Rate
			out.ProductCost += amount
			out.Costs = append(out.Costs, LineItem{Name: string(pr.Product), Kind: KindProduct, Rate: pr.Rate, Price: price, Amount: amount})
			continue
		}
		wholesale := price * pr.Rate * WholesaleDiscount
		out.ProductCost += wholesale
		out.Costs = append(out.Costs, LineItem{Name: string(pr.Product), Kind: KindProduct, Rate: pr.Rate, Price: price, Amount: wholesale})

		sales := price * pr.Rate
		merchandise += sales
		out.Revenue = append(out.Revenue, LineItem{Name: string(pr.Product), Kind: KindProduct, Rate: pr.Rate, Price: price, Amount: sales})
	}

	if mult := PassThroughMultiplier(uc.Sector); mult > 0 {
		basis := out.LaborCost + out.ProductCost
		out.CostPassThrough = true
		out.Revenue = []LineItem{{Name: "cost pass-through", Rate: mult, Price: basis, Amount: basis * mult}}
		return basis * mult
	}
	if merchandise == 0 {
		out.Revenue = []LineItem{{Name: "base revenue", Amount: uc.BaseRevenue}}
		return uc.BaseRevenue
	}
	return merchandise
}

func extractionEconomics(out *EconomicsResult, cat *Catalog, calc UnitCalculator, def SectorDef, m Market) float64 {
	for _, pr := range calc.DemandedProducts(UnitExtraction, def.Name) {
		price := m.product(cat, pr.Product)
		amount := price * pr.Rate
		out.ProductCost += amount
		out.Costs = append(out.Costs, LineItem{Name: string(pr.Product), Kind: KindProduct, Rate: pr.Rate, Price: price, Amount: amount})
	}
	outs := calc.ExtractedResources(def.Name)
	if len(outs) == 0 {
		return 0
	}
	r, rate := Resource(outs[0].Name), outs[0].Rate
	price := m.commodity(cat, r)
	out.Revenue = append(out.Revenue, LineItem{Name: string(r), Kind: KindResource, Rate: rate, Price: price, Amount: rate * price})
	return rate * price
}

func productionEconomics(out *EconomicsResult, cat *Catalog, calc UnitCalculator, def SectorDef, uc UnitConfig, m Market) float64 {
	for _, f := range calc.ResourceInputs(def.Name) {
		price := m.commodity(cat, Resource(f.Name))
		amount := price * f.Rate
		out.ResourceCost += amount
		out.Costs = append(out.Costs, LineItem{Name: f.Name, Kind: KindResource, Rate: f.Rate, Price: price, Amount: amount})
	}
	// DemandedProducts already lists electricity, the product inputs and the
	// sector extras exactly once each.
	for _, pr := range calc.DemandedProducts(UnitProduction, def.Name) {
		price := m.product(cat, pr.Product)
		amount := price * pr.Rate
		out.ProductCost += amount
		out.Costs = append(out.Costs, LineItem{Name: string(pr.Product), Kind: KindProduct, Rate: pr.Rate, Price: price, Amount: amount})
	}

	produced, ok := calc.ProducedProduct(def.Name)
	if !ok {
		out.Revenue = append(out.Revenue, LineItem{Name: "base revenue", Amount: uc.BaseRevenue})
		return uc.BaseRevenue
	}
	p := Product(produced.Name)
	ref, _ := cat.Product(p)
	price := m.product(cat, p)
	out.Revenue = append(out.Revenue,
		LineItem{Name: "reference value", Kind: KindProduct, Amount: ref.ReferenceValue},
		LineItem{Name: produced.Name, Kind: KindProduct, Rate: produced.Rate, Price: price, Amount: produced.Rate * price},
	)
	return ref.ReferenceValue + produced.Rate*price
}
