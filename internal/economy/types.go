package economy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownSector   = errors.New("unknown sector")
	ErrUnknownUnitType = errors.New("unknown unit type")
	ErrUnknownResource = errors.New("unknown resource")
	ErrUnknownProduct  = errors.New("unknown product")
	ErrInvalidFlow     = errors.New("invalid input/output flow")
	ErrDuplicateFlow   = errors.New("input/output flow already exists")
	ErrLastOutput      = errors.New("cannot delete the last output of a unit type")
)

type Sector string

const (
	SectorTechnology      Sector = "Technology"
	SectorFinance         Sector = "Finance"
	SectorHealthcare      Sector = "Healthcare"
	SectorManufacturing   Sector = "Manufacturing"
	SectorEnergy          Sector = "Energy"
	SectorRetail          Sector = "Retail"
	SectorRealEstate      Sector = "Real Estate"
	SectorTransportation  Sector = "Transportation"
	SectorAgriculture     Sector = "Agriculture"
	SectorDefense         Sector = "Defense"
	SectorConstruction    Sector = "Construction"
	SectorPharmaceuticals Sector = "Pharmaceuticals"
	SectorMining          Sector = "Mining"
	SectorHeavyIndustry   Sector = "Heavy Industry"
)

// AllSectors is the fixed sector enumeration in display order.
var AllSectors = []Sector{
	SectorTechnology,
	SectorFinance,
	SectorHealthcare,
	SectorManufacturing,
	SectorEnergy,
	SectorRetail,
	SectorRealEstate,
	SectorTransportation,
	SectorAgriculture,
	SectorDefense,
	SectorConstruction,
	SectorPharmaceuticals,
	SectorMining,
	SectorHeavyIndustry,
}

func (s Sector) Valid() bool {
	for _, known := range AllSectors {
		if s == known {
			return true
		}
	}
	return false
}

func ParseSector(v string) (Sector, error) {
	v = strings.TrimSpace(v)
	for _, known := range AllSectors {
		if strings.EqualFold(string(known), v) {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSector, v)
}

type UnitType string

const (
	UnitProduction UnitType = "production"
	UnitRetail     UnitType = "retail"
	UnitService    UnitType = "service"
	UnitExtraction UnitType = "extraction"
)

var AllUnitTypes = []UnitType{UnitProduction, UnitRetail, UnitService, UnitExtraction}

func (u UnitType) Valid() bool {
	switch u {
	case UnitProduction, UnitRetail, UnitService, UnitExtraction:
		return true
	default:
		return false
	}
}

func ParseUnitType(v string) (UnitType, error) {
	u := UnitType(strings.ToLower(strings.TrimSpace(v)))
	if !u.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnitType, v)
	}
	return u, nil
}

type Resource string

const (
	ResourceOil               Resource = "Oil"
	ResourceIronOre           Resource = "Iron Ore"
	ResourceCoal              Resource = "Coal"
	ResourceCopper            Resource = "Copper"
	ResourceFertileLand       Resource = "Fertile Land"
	ResourceLumber            Resource = "Lumber"
	ResourceChemicalCompounds Resource = "Chemical Compounds"
	ResourceRareEarthMetals   Resource = "Rare Earth Metals"
)

var AllResources = []Resource{
	ResourceOil,
	ResourceIronOre,
	ResourceCoal,
	ResourceCopper,
	ResourceFertileLand,
	ResourceLumber,
	ResourceChemicalCompounds,
	ResourceRareEarthMetals,
}

func ParseResource(v string) (Resource, error) {
	v = strings.TrimSpace(v)
	for _, known := range AllResources {
		if strings.EqualFold(string(known), v) {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownResource, v)
}

type Product string

const (
	ProductTechnology     Product = "Technology Products"
	ProductManufactured   Product = "Manufactured Goods"
	ProductElectricity    Product = "Electricity"
	ProductFood           Product = "Food Products"
	ProductConstruction   Product = "Construction Materials"
	ProductPharmaceutical Product = "Pharmaceutical Products"
	ProductDefense        Product = "Defense Equipment"
	ProductLogistics      Product = "Logistics Services"
	ProductSteel          Product = "Steel"
)

var AllProducts = []Product{
	ProductTechnology,
	ProductManufactured,
	ProductElectricity,
	ProductFood,
	ProductConstruction,
	ProductPharmaceutical,
	ProductDefense,
	ProductLogistics,
	ProductSteel,
}

func ParseProduct(v string) (Product, error) {
	v = strings.TrimSpace(v)
	for _, known := range AllProducts {
		if strings.EqualFold(string(known), v) {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProduct, v)
}

// Kind tags a commodity flow as a raw resource or a manufactured product.
type Kind string

const (
	KindResource Kind = "resource"
	KindProduct  Kind = "product"
)

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// UnitCounts holds one unit count per unit type for a single sector.
type UnitCounts map[UnitType]int64

// SectorUnits is the national unit-count table, one row per sector.
type SectorUnits map[Sector]UnitCounts

func (s SectorUnits) Add(sector Sector, unitType UnitType, count int64) {
	if count <= 0 {
		return
	}
	row, ok := s[sector]
	if !ok {
		row = UnitCounts{}
		s[sector] = row
	}
	row[unitType] += count
}
