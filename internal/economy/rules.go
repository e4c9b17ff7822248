package economy

// Default per-unit-hour consumption rates, keyed by unit type.
var (
	defaultElectricityRate = map[UnitType]float64{
		UnitProduction: 0.5,
		UnitRetail:     0.3,
		UnitService:    0.3,
		UnitExtraction: 0.5,
	}
	defaultProductRate = map[UnitType]float64{
		UnitProduction: 0.5,
		UnitRetail:     2.0,
		UnitService:    1.5,
		UnitExtraction: 0.5,
	}
)

type resourceRate struct {
	Resource Resource
	Rate     float64
}

// multiResourceInputs seeds production inputs for sectors that burn more
// than one resource. Other producing sectors consume their primary resource.
var multiResourceInputs = map[Sector][]resourceRate{
	SectorHeavyIndustry: {{ResourceIronOre, 0.4}, {ResourceCoal, 0.3}},
	SectorEnergy:        {{ResourceOil, 0.3}, {ResourceCoal, 0.2}},
}

// sectorRule holds the sector-specific exceptions to the default tables.
// Every sector has an entry, even when empty.
type sectorRule struct {
	electricity  map[UnitType]float64
	productRate  map[UnitType]float64
	extraDemands map[UnitType][]Product
	// passThrough, when > 0, prices retail/service revenue as cost basis
	// times this multiplier instead of market revenue.
	passThrough float64
}

var sectorRules = map[Sector]sectorRule{
	SectorTechnology: {},
	SectorFinance:    {},
	SectorHealthcare: {
		extraDemands: map[UnitType][]Product{UnitService: {ProductTechnology}},
	},
	SectorManufacturing: {},
	SectorEnergy: {
		electricity: map[UnitType]float64{UnitProduction: 0},
	},
	SectorRetail:         {},
	SectorRealEstate:     {},
	SectorTransportation: {},
	SectorAgriculture:    {},
	SectorDefense: {
		productRate:  map[UnitType]float64{UnitRetail: 1.0, UnitService: 1.0},
		extraDemands: map[UnitType][]Product{UnitProduction: {ProductTechnology}},
		passThrough:  1.25,
	},
	SectorConstruction: {
		extraDemands: map[UnitType][]Product{UnitProduction: {ProductManufactured}},
	},
	SectorPharmaceuticals: {},
	SectorMining: {
		extraDemands: map[UnitType][]Product{UnitExtraction: {ProductManufactured}},
	},
	SectorHeavyIndustry: {
		electricity: map[UnitType]float64{UnitProduction: 1.0},
	},
}

// OutputRate is the per-unit-hour output of a unit type.
func OutputRate(u UnitType) float64 {
	switch u {
	case UnitProduction:
		return 1.0
	case UnitExtraction:
		return 2.0
	default:
		return 0
	}
}

// ConsumptionRate returns the per-unit-hour consumption of one unit of the
// pair, with sector overrides applied before the global defaults.
func ConsumptionRate(u UnitType, s Sector, electricity bool) float64 {
	rule := sectorRules[s]
	if electricity {
		if rate, ok := rule.electricity[u]; ok {
			return rate
		}
		return defaultElectricityRate[u]
	}
	if rate, ok := rule.productRate[u]; ok {
		return rate
	}
	return defaultProductRate[u]
}

// PassThroughMultiplier reports the cost-pass-through revenue multiplier of a
// sector, or 0 when revenue is market priced.
func PassThroughMultiplier(s Sector) float64 {
	return sectorRules[s].passThrough
}

func extraProductDemands(u UnitType, s Sector) []Product {
	return sectorRules[s].extraDemands[u]
}
