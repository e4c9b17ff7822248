package economy

import (
	"fmt"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// SectorDef describes a sector. ProducedProduct, ExtractableResources and
// ProductDemands seed the default flows; calculators read Flows.
type SectorDef struct {
	Name                 Sector     `toml:"name" json:"name"`
	ProducedProduct      Product    `toml:"produced_product" json:"produced_product,omitempty"`
	PrimaryResource      Resource   `toml:"primary_resource" json:"primary_resource,omitempty"`
	ExtractableResources []Resource `toml:"extractable_resources" json:"extractable_resources,omitempty"`
	ProductDemands       []Product  `toml:"product_demands" json:"product_demands,omitempty"`
	DisplayOrder         int        `toml:"display_order" json:"display_order"`
}

type UnitConfig struct {
	Sector      Sector   `toml:"sector" json:"sector"`
	UnitType    UnitType `toml:"unit_type" json:"unit_type"`
	Enabled     bool     `toml:"enabled" json:"enabled"`
	BaseRevenue float64  `toml:"base_revenue" json:"base_revenue"`
	BaseCost    float64  `toml:"base_cost" json:"base_cost"`
	LaborCost   float64  `toml:"labor_cost" json:"labor_cost"`
	OutputRate  float64  `toml:"output_rate" json:"output_rate,omitempty"`
}

// Flow is one configured input or output of a (sector, unit type) pair.
type Flow struct {
	Sector    Sector    `toml:"sector" json:"sector"`
	UnitType  UnitType  `toml:"unit_type" json:"unit_type"`
	Name      string    `toml:"name" json:"name"`
	Kind      Kind      `toml:"kind" json:"kind"`
	Direction Direction `toml:"direction" json:"direction"`
	Rate      float64   `toml:"rate" json:"rate"`
}

func (f Flow) sameSlot(o Flow) bool {
	return f.Sector == o.Sector && f.UnitType == o.UnitType && f.Name == o.Name && f.Kind == o.Kind && f.Direction == o.Direction
}

type ProductDef struct {
	Name           Product `toml:"name" json:"name"`
	BasePrice      float64 `toml:"base_price" json:"base_price"`
	ReferenceValue float64 `toml:"reference_value" json:"reference_value"`
}

type ResourceDef struct {
	Name      Resource `toml:"name" json:"name"`
	BasePrice float64  `toml:"base_price" json:"base_price"`
}

// Catalog is the static economic configuration every calculator reads.
// Treat a Catalog obtained from a ConfigCache as read-only; admin edits go
// through Clone and a store write so the version changes.
type Catalog struct {
	Version     string        `toml:"version" json:"version"`
	Sectors     []SectorDef   `toml:"sectors" json:"sectors"`
	UnitConfigs []UnitConfig  `toml:"unit_configs" json:"unit_configs"`
	Flows       []Flow        `toml:"flows" json:"flows"`
	Products    []ProductDef  `toml:"products" json:"products"`
	Resources   []ResourceDef `toml:"resources" json:"resources"`
}

func (c *Catalog) Sector(s Sector) (SectorDef, bool) {
	for _, def := range c.Sectors {
		if def.Name == s {
			return def, true
		}
	}
	return SectorDef{}, false
}

// UnitConfig returns the enabled config for the pair. Disabled or missing
// pairs report false.
func (c *Catalog) UnitConfig(s Sector, u UnitType) (UnitConfig, bool) {
	for _, uc := range c.UnitConfigs {
		if uc.Sector == s && uc.UnitType == u {
			return uc, uc.Enabled
		}
	}
	return UnitConfig{}, false
}

func (c *Catalog) Product(p Product) (ProductDef, bool) {
	for _, def := range c.Products {
		if def.Name == p {
			return def, true
		}
	}
	return ProductDef{}, false
}

func (c *Catalog) Resource(r Resource) (ResourceDef, bool) {
	for _, def := range c.Resources {
		if def.Name == r {
			return def, true
		}
	}
	return ResourceDef{}, false
}

func (c *Catalog) ProductBasePrice(p Product) float64 {
	def, _ := c.Product(p)
	return def.BasePrice
}

func (c *Catalog) ResourceBasePrice(r Resource) float64 {
	def, _ := c.Resource(r)
	return def.BasePrice
}

// FlowsFor lists flows for a pair filtered by kind and direction.
func (c *Catalog) FlowsFor(s Sector, u UnitType, kind Kind, dir Direction) []Flow {
	var out []Flow
	for _, f := range c.Flows {
		if f.Sector == s && f.UnitType == u && f.Kind == kind && f.Direction == dir {
			out = append(out, f)
		}
	}
	return out
}

func (c *Catalog) Clone() *Catalog {
	out := &Catalog{
		Version:     c.Version,
		UnitConfigs: slices.Clone(c.UnitConfigs),
		Flows:       slices.Clone(c.Flows),
		Products:    slices.Clone(c.Products),
		Resources:   slices.Clone(c.Resources),
	}
	out.Sectors = make([]SectorDef, len(c.Sectors))
	for i, def := range c.Sectors {
		def.ExtractableResources = slices.Clone(def.ExtractableResources)
		def.ProductDemands = slices.Clone(def.ProductDemands)
		out.Sectors[i] = def
	}
	return out
}

// AddFlow validates and appends an input/output flow.
func (c *Catalog) AddFlow(f Flow) error {
	if !f.Sector.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidFlow, ErrUnknownSector, f.Sector)
	}
	if !f.UnitType.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidFlow, ErrUnknownUnitType, f.UnitType)
	}
	if f.Rate <= 0 {
		return fmt.Errorf("%w: rate must be > 0", ErrInvalidFlow)
	}
	switch f.Kind {
	case KindResource:
		if _, err := ParseResource(f.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFlow, err)
		}
	case KindProduct:
		if _, err := ParseProduct(f.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFlow, err)
		}
	default:
		return fmt.Errorf("%w: kind must be resource or product", ErrInvalidFlow)
	}
	if f.Direction != DirectionInput && f.Direction != DirectionOutput {
		return fmt.Errorf("%w: direction must be input or output", ErrInvalidFlow)
	}
	if want, ok := flowUnitType(f.Kind, f.Direction); ok && f.UnitType != want {
		return fmt.Errorf("%w: %s %s flows belong to %s units", ErrInvalidFlow, f.Kind, f.Direction, want)
	}
	for _, existing := range c.Flows {
		if existing.sameSlot(f) {
			return ErrDuplicateFlow
		}
	}
	if f.Kind == KindProduct && f.Direction == DirectionOutput && len(c.FlowsFor(f.Sector, f.UnitType, KindProduct, DirectionOutput)) > 0 {
		return fmt.Errorf("%w: %s already produces a product", ErrInvalidFlow, f.Sector)
	}
	c.Flows = append(c.Flows, f)
	return nil
}

// flowUnitType is the only unit type that may carry a flow of the given kind
// and direction. Product inputs are allowed on every unit type.
func flowUnitType(kind Kind, dir Direction) (UnitType, bool) {
	switch {
	case kind == KindResource && dir == DirectionInput:
		return UnitProduction, true
	case kind == KindResource && dir == DirectionOutput:
		return UnitExtraction, true
	case kind == KindProduct && dir == DirectionOutput:
		return UnitProduction, true
	}
	return "", false
}

// RemoveFlow deletes a flow. The last output of a unit type cannot be removed.
func (c *Catalog) RemoveFlow(f Flow) error {
	idx := slices.IndexFunc(c.Flows, f.sameSlot)
	if idx < 0 {
		return fmt.Errorf("%w: flow not found", ErrInvalidFlow)
	}
	if f.Direction == DirectionOutput {
		outputs := 0
		for _, existing := range c.Flows {
			if existing.Sector == f.Sector && existing.UnitType == f.UnitType && existing.Direction == DirectionOutput {
				outputs++
			}
		}
		if outputs <= 1 {
			return ErrLastOutput
		}
	}
	c.Flows = slices.Delete(c.Flows, idx, idx+1)
	return nil
}

// SetUnitConfig replaces (or inserts) the config of one pair.
func (c *Catalog) SetUnitConfig(uc UnitConfig) error {
	if !uc.Sector.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSector, uc.Sector)
	}
	if !uc.UnitType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownUnitType, uc.UnitType)
	}
	if uc.BaseRevenue < 0 || uc.BaseCost < 0 || uc.LaborCost < 0 || uc.OutputRate < 0 {
		return fmt.Errorf("unit config rates must be >= 0")
	}
	for i, existing := range c.UnitConfigs {
		if existing.Sector == uc.Sector && existing.UnitType == uc.UnitType {
			c.UnitConfigs[i] = uc
			return nil
		}
	}
	c.UnitConfigs = append(c.UnitConfigs, uc)
	return nil
}

// Validate checks that every sector and enumeration reference is known.
func (c *Catalog) Validate() error {
	for _, def := range c.Sectors {
		if !def.Name.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownSector, def.Name)
		}
	}
	for _, uc := range c.UnitConfigs {
		if !uc.Sector.Valid() || !uc.UnitType.Valid() {
			return fmt.Errorf("invalid unit config %s/%s", uc.Sector, uc.UnitType)
		}
	}
	for _, f := range c.Flows {
		if f.Rate <= 0 {
			return fmt.Errorf("%w: %s/%s %s rate must be > 0", ErrInvalidFlow, f.Sector, f.UnitType, f.Name)
		}
	}
	return nil
}

// LoadCatalogFile reads a TOML catalog. Missing sections are not filled from
// the defaults; the file is the whole configuration.
func LoadCatalogFile(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()

	var cat Catalog
	if err := toml.NewDecoder(file).Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	if cat.Version == "" {
		cat.Version = "file-1"
	}
	return &cat, nil
}

const (
	laborProduction = 120.0
	laborRetail     = 80.0
	laborService    = 100.0
	laborExtraction = 90.0

	singleResourceInputRate = 0.5
)

// DefaultCatalog returns the built-in economic configuration.
func DefaultCatalog() *Catalog {
	cat := &Catalog{
		Version: "builtin-1",
		Resources: []ResourceDef{
			{Name: ResourceOil, BasePrice: 75},
			{Name: ResourceIronOre, BasePrice: 55},
			{Name: ResourceCoal, BasePrice: 65},
			{Name: ResourceCopper, BasePrice: 80},
			{Name: ResourceFertileLand, BasePrice: 40},
			{Name: ResourceLumber, BasePrice: 35},
			{Name: ResourceChemicalCompounds, BasePrice: 90},
			{Name: ResourceRareEarthMetals, BasePrice: 150},
		},
		Products: []ProductDef{
			{Name: ProductTechnology, BasePrice: 300, ReferenceValue: 150},
			{Name: ProductManufactured, BasePrice: 180, ReferenceValue: 80},
			{Name: ProductElectricity, BasePrice: 50, ReferenceValue: 20},
			{Name: ProductFood, BasePrice: 60, ReferenceValue: 30},
			{Name: ProductConstruction, BasePrice: 120, ReferenceValue: 60},
			{Name: ProductPharmaceutical, BasePrice: 400, ReferenceValue: 200},
			{Name: ProductDefense, BasePrice: 600, ReferenceValue: 300},
			{Name: ProductLogistics, BasePrice: 90, ReferenceValue: 45},
			{Name: ProductSteel, BasePrice: 200, ReferenceValue: 90},
		},
		Sectors: []SectorDef{
			{Name: SectorTechnology, ProducedProduct: ProductTechnology, PrimaryResource: ResourceRareEarthMetals,
				ProductDemands: []Product{ProductTechnology, ProductManufactured}},
			{Name: SectorFinance, ProductDemands: []Product{ProductTechnology}},
			{Name: SectorHealthcare, ProductDemands: []Product{ProductPharmaceutical}},
			{Name: SectorManufacturing, ProducedProduct: ProductManufactured, PrimaryResource: ResourceCopper,
				ProductDemands: []Product{ProductSteel, ProductManufactured}},
			{Name: SectorEnergy, ProducedProduct: ProductElectricity, PrimaryResource: ResourceOil,
				ExtractableResources: []Resource{ResourceOil, ResourceCoal},
				ProductDemands:       []Product{ProductManufactured}},
			{Name: SectorRetail, ProductDemands: []Product{ProductFood, ProductManufactured, ProductTechnology}},
			{Name: SectorRealEstate, ProductDemands: []Product{ProductConstruction}},
			{Name: SectorTransportation, ProducedProduct: ProductLogistics, PrimaryResource: ResourceOil,
				ProductDemands: []Product{ProductManufactured}},
			{Name: SectorAgriculture, ProducedProduct: ProductFood, PrimaryResource: ResourceFertileLand,
				ExtractableResources: []Resource{ResourceFertileLand},
				ProductDemands:       []Product{ProductManufactured, ProductFood}},
			{Name: SectorDefense, ProducedProduct: ProductDefense, PrimaryResource: ResourceRareEarthMetals,
				ProductDemands: []Product{ProductSteel, ProductTechnology}},
			{Name: SectorConstruction, ProducedProduct: ProductConstruction, PrimaryResource: ResourceLumber,
				ExtractableResources: []Resource{ResourceLumber},
				ProductDemands:       []Product{ProductSteel}},
			{Name: SectorPharmaceuticals, ProducedProduct: ProductPharmaceutical, PrimaryResource: ResourceChemicalCompounds,
				ExtractableResources: []Resource{ResourceChemicalCompounds},
				ProductDemands:       []Product{ProductTechnology, ProductPharmaceutical}},
			{Name: SectorMining, ExtractableResources: []Resource{ResourceIronOre, ResourceCoal, ResourceCopper, ResourceRareEarthMetals}},
			{Name: SectorHeavyIndustry, ProducedProduct: ProductSteel, PrimaryResource: ResourceIronOre,
				ProductDemands: []Product{ProductManufactured}},
		},
	}

	for i := range cat.Sectors {
		def := &cat.Sectors[i]
		def.DisplayOrder = i + 1
		for _, u := range AllUnitTypes {
			cat.UnitConfigs = append(cat.UnitConfigs, defaultUnitConfig(*def, u))
		}
		cat.Flows = append(cat.Flows, productInputs(*def)...)
		if def.ProducedProduct != "" {
			cat.Flows = append(cat.Flows, resourceInputs(*def)...)
			cat.Flows = append(cat.Flows, Flow{Sector: def.Name, UnitType: UnitProduction, Name: string(def.ProducedProduct),
				Kind: KindProduct, Direction: DirectionOutput, Rate: OutputRate(UnitProduction)})
		}
		for _, r := range def.ExtractableResources {
			cat.Flows = append(cat.Flows, Flow{Sector: def.Name, UnitType: UnitExtraction, Name: string(r),
				Kind: KindResource, Direction: DirectionOutput, Rate: OutputRate(UnitExtraction)})
		}
	}
	return cat
}

// productInputs seeds the sector's demand list on every unit type except
// extraction. Production never lists its own product.
func productInputs(def SectorDef) []Flow {
	var out []Flow
	for _, u := range AllUnitTypes {
		if u == UnitExtraction {
			continue
		}
		rate := ConsumptionRate(u, def.Name, false)
		for _, p := range def.ProductDemands {
			if u == UnitProduction && p == def.ProducedProduct {
				continue
			}
			out = append(out, Flow{Sector: def.Name, UnitType: u, Name: string(p),
				Kind: KindProduct, Direction: DirectionInput, Rate: rate})
		}
	}
	return out
}

func resourceInputs(def SectorDef) []Flow {
	if rates, ok := multiResourceInputs[def.Name]; ok {
		out := make([]Flow, 0, len(rates))
		for _, rr := range rates {
			out = append(out, Flow{Sector: def.Name, UnitType: UnitProduction, Name: string(rr.Resource),
				Kind: KindResource, Direction: DirectionInput, Rate: rr.Rate})
		}
		return out
	}
	if def.PrimaryResource == "" {
		return nil
	}
	return []Flow{{Sector: def.Name, UnitType: UnitProduction, Name: string(def.PrimaryResource),
		Kind: KindResource, Direction: DirectionInput, Rate: singleResourceInputRate}}
}

func defaultUnitConfig(def SectorDef, u UnitType) UnitConfig {
	uc := UnitConfig{Sector: def.Name, UnitType: u}
	switch u {
	case UnitProduction:
		uc.Enabled = def.ProducedProduct != ""
		uc.BaseRevenue, uc.BaseCost, uc.LaborCost = 500, 300, laborProduction
	case UnitRetail:
		uc.Enabled = def.Name != SectorMining && def.Name != SectorHeavyIndustry
		uc.BaseRevenue, uc.BaseCost, uc.LaborCost = 300, 200, laborRetail
	case UnitService:
		uc.Enabled = def.Name != SectorMining
		uc.BaseRevenue, uc.BaseCost, uc.LaborCost = 350, 200, laborService
	case UnitExtraction:
		uc.Enabled = len(def.ExtractableResources) > 0
		uc.BaseRevenue, uc.BaseCost, uc.LaborCost = 400, 250, laborExtraction
	}
	return uc
}
