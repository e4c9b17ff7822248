package economy

import "sort"

// Balance is the national supply and demand of one commodity, split by sector.
type Balance struct {
	Supply map[Sector]float64 `json:"supply"`
	Demand map[Sector]float64 `json:"demand"`
}

func (b Balance) TotalSupply() float64 { return sum(b.Supply) }
func (b Balance) TotalDemand() float64 { return sum(b.Demand) }

func sum(m map[Sector]float64) float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

// SectorShare is one sector's contribution to a balance side.
type SectorShare struct {
	Sector Sector  `json:"sector"`
	Amount float64 `json:"amount"`
}

// top returns the n largest non-zero contributors, largest first.
func top(m map[Sector]float64, n int) []SectorShare {
	out := make([]SectorShare, 0, len(m))
	for s, v := range m {
		if v > 0 {
			out = append(out, SectorShare{Sector: s, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount == out[j].Amount {
			return out[i].Sector < out[j].Sector
		}
		return out[i].Amount > out[j].Amount
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// SectorCalculator aggregates UnitCalculator results over every sector.
// Each call is a fresh aggregation over the counts passed in.
type SectorCalculator struct {
	units UnitCalculator
}

func NewSectorCalculator(cat *Catalog) SectorCalculator {
	return SectorCalculator{units: NewUnitCalculator(cat)}
}

func (c SectorCalculator) ResourceBalance(r Resource, counts SectorUnits) Balance {
	b := Balance{Supply: map[Sector]float64{}, Demand: map[Sector]float64{}}
	for _, s := range AllSectors {
		row := counts[s]
		if len(row) == 0 {
			continue
		}
		if v := c.units.TotalCommoditySupply(s, r, row); v > 0 {
			b.Supply[s] = v
		}
		if v := c.units.TotalCommodityDemand(s, r, row); v > 0 {
			b.Demand[s] = v
		}
	}
	return b
}

func (c SectorCalculator) ProductBalance(p Product, counts SectorUnits) Balance {
	b := Balance{Supply: map[Sector]float64{}, Demand: map[Sector]float64{}}
	for _, s := range AllSectors {
		row := counts[s]
		if len(row) == 0 {
			continue
		}
		if v := c.units.TotalProductSupply(s, p, row); v > 0 {
			b.Supply[s] = v
		}
		if v := c.units.TotalProductDemand(s, p, row); v > 0 {
			b.Demand[s] = v
		}
	}
	return b
}
