package economy

import (
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEverySectorHasRules(t *testing.T) {
	for _, s := range AllSectors {
		if _, ok := sectorRules[s]; !ok {
			t.Fatalf("sector %q has no rule entry", s)
		}
	}
	if len(sectorRules) != len(AllSectors) {
		t.Fatalf("rules=%d sectors=%d", len(sectorRules), len(AllSectors))
	}
}

func TestConsumptionRate(t *testing.T) {
	tests := []struct {
		unit        UnitType
		sector      Sector
		electricity bool
		want        float64
	}{
		{UnitRetail, SectorRetail, false, 2.0},
		{UnitService, SectorFinance, false, 1.5},
		{UnitRetail, SectorDefense, false, 1.0},
		{UnitService, SectorDefense, false, 1.0},
		{UnitProduction, SectorHeavyIndustry, true, 1.0},
		{UnitProduction, SectorEnergy, true, 0},
		{UnitProduction, SectorTechnology, true, 0.5},
		{UnitRetail, SectorRetail, true, 0.3},
	}
	for _, tc := range tests {
		got := ConsumptionRate(tc.unit, tc.sector, tc.electricity)
		if got != tc.want {
			t.Fatalf("%s/%s electricity=%v got=%v want=%v", tc.unit, tc.sector, tc.electricity, got, tc.want)
		}
	}
}

func TestOutputRate(t *testing.T) {
	want := map[UnitType]float64{UnitProduction: 1, UnitExtraction: 2, UnitRetail: 0, UnitService: 0}
	for u, w := range want {
		if got := OutputRate(u); got != w {
			t.Fatalf("%s got=%v want=%v", u, got, w)
		}
	}
}

func TestProductDemand(t *testing.T) {
	calc := NewUnitCalculator(DefaultCatalog())
	tests := []struct {
		name    string
		unit    UnitType
		sector  Sector
		product Product
		count   int64
		want    float64
	}{
		{"energy never burns own output", UnitProduction, SectorEnergy, ProductElectricity, 10, 0},
		{"heavy industry elevated electricity", UnitProduction, SectorHeavyIndustry, ProductElectricity, 2, 2},
		{"mining extraction needs manufactured goods", UnitExtraction, SectorMining, ProductManufactured, 4, 2},
		{"retail sells its demand list", UnitRetail, SectorRetail, ProductFood, 3, 6},
		{"defense retail override", UnitRetail, SectorDefense, ProductSteel, 3, 3},
		{"healthcare service extra", UnitService, SectorHealthcare, ProductTechnology, 2, 3},
		{"production skips own product", UnitProduction, SectorTechnology, ProductTechnology, 5, 0},
		{"zero count", UnitRetail, SectorRetail, ProductFood, 0, 0},
		{"negative count", UnitRetail, SectorRetail, ProductFood, -3, 0},
		{"disabled pair", UnitRetail, SectorMining, ProductManufactured, 3, 0},
	}
	for _, tc := range tests {
		got := calc.ProductDemand(tc.unit, tc.sector, tc.product, tc.count)
		if !near(got, tc.want) {
			t.Fatalf("%s: got=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestDemandedProductsCountsEachProductOnce(t *testing.T) {
	calc := NewUnitCalculator(DefaultCatalog())
	got := calc.DemandedProducts(UnitProduction, SectorDefense)
	seen := map[Product]int{}
	for _, pr := range got {
		seen[pr.Product]++
	}
	for p, n := range seen {
		if n != 1 {
			t.Fatalf("product %q listed %d times", p, n)
		}
	}
	if seen[ProductTechnology] != 1 || seen[ProductSteel] != 1 || seen[ProductElectricity] != 1 {
		t.Fatalf("unexpected demand list: %+v", got)
	}
	if seen[ProductDefense] != 0 {
		t.Fatalf("production must not demand its own output: %+v", got)
	}
}

func TestProductSupply(t *testing.T) {
	calc := NewUnitCalculator(DefaultCatalog())
	if got := calc.ProductSupply(UnitProduction, SectorEnergy, ProductElectricity, 10); !near(got, 10) {
		t.Fatalf("energy supply got=%v", got)
	}
	if got := calc.ProductSupply(UnitRetail, SectorEnergy, ProductElectricity, 10); got != 0 {
		t.Fatalf("retail must not supply, got=%v", got)
	}
	if got := calc.ProductSupply(UnitProduction, SectorTechnology, ProductSteel, 10); got != 0 {
		t.Fatalf("wrong product must not supply, got=%v", got)
	}
}

func TestCommodityFlows(t *testing.T) {
	calc := NewUnitCalculator(DefaultCatalog())
	if got := calc.CommodityDemand(UnitProduction, SectorEnergy, ResourceOil, 10); !near(got, 3) {
		t.Fatalf("energy oil demand got=%v", got)
	}
	if got := calc.CommodityDemand(UnitProduction, SectorEnergy, ResourceCoal, 10); !near(got, 2) {
		t.Fatalf("energy coal demand got=%v", got)
	}
	if got := calc.CommodityDemand(UnitProduction, SectorHeavyIndustry, ResourceIronOre, 10); !near(got, 4) {
		t.Fatalf("heavy industry iron demand got=%v", got)
	}
	if got := calc.CommodityDemand(UnitExtraction, SectorEnergy, ResourceOil, 10); got != 0 {
		t.Fatalf("extraction must not consume resources, got=%v", got)
	}
	if got := calc.CommoditySupply(UnitExtraction, SectorMining, ResourceCoal, 3); !near(got, 6) {
		t.Fatalf("mining coal supply got=%v", got)
	}
	if got := calc.CommoditySupply(UnitExtraction, SectorMining, ResourceOil, 3); got != 0 {
		t.Fatalf("mining has no oil, got=%v", got)
	}
	if got := calc.CommoditySupply(UnitProduction, SectorEnergy, ResourceOil, 3); got != 0 {
		t.Fatalf("production must not supply resources, got=%v", got)
	}

	counts := UnitCounts{UnitProduction: 10, UnitExtraction: 5, UnitRetail: 7}
	if got := calc.TotalCommodityDemand(SectorEnergy, ResourceCoal, counts); !near(got, 2) {
		t.Fatalf("total coal demand got=%v", got)
	}
	if got := calc.TotalCommoditySupply(SectorEnergy, ResourceCoal, counts); !near(got, 10) {
		t.Fatalf("total coal supply got=%v", got)
	}
}

func TestSectorBalances(t *testing.T) {
	calc := NewSectorCalculator(DefaultCatalog())
	counts := SectorUnits{}
	counts.Add(SectorEnergy, UnitProduction, 10)
	counts.Add(SectorHeavyIndustry, UnitProduction, 10)
	counts.Add(SectorMining, UnitExtraction, 2)
	counts.Add(SectorMining, UnitRetail, 0)

	coal := calc.ResourceBalance(ResourceCoal, counts)
	if !near(coal.TotalDemand(), 5) {
		t.Fatalf("coal demand got=%v want=5", coal.TotalDemand())
	}
	if !near(coal.TotalSupply(), 4) {
		t.Fatalf("coal supply got=%v want=4", coal.TotalSupply())
	}
	if _, ok := coal.Supply[SectorMining]; !ok {
		t.Fatalf("mining should supply coal: %+v", coal.Supply)
	}

	elec := calc.ProductBalance(ProductElectricity, counts)
	if !near(elec.TotalSupply(), 10) {
		t.Fatalf("electricity supply got=%v", elec.TotalSupply())
	}
	// heavy industry 10*1.0 + mining extraction 2*0.5
	if !near(elec.TotalDemand(), 11) {
		t.Fatalf("electricity demand got=%v", elec.TotalDemand())
	}
	if _, ok := elec.Demand[SectorEnergy]; ok {
		t.Fatalf("energy must not demand electricity")
	}
}
