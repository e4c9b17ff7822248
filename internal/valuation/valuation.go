package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand"
	"sync"
	"time"

	"corpsim/internal/economy"
	"corpsim/internal/store"
)

const (
	HoursPerYear = 24 * 365

	// AssetDiscountRate capitalizes a unit's annual profit into its NPV.
	AssetDiscountRate = 0.10
	// ActionRevenueBoost is added to revenue per active corporate action.
	ActionRevenueBoost = 0.10
	MinSharePrice      = 0.01

	// DefaultFundamentalWeight is the fundamental share of the blend when
	// Options leaves it unset.
	DefaultFundamentalWeight = 0.8

	earningsCapRate   = 0.15
	dividendYieldRate = 0.05
)

// Options tunes the price blend. Zero values take the defaults, except
// FundamentalWeight, where nil takes the default and an explicit 0 prices
// purely on trades.
type Options struct {
	FundamentalWeight *float64
	Lookback          time.Duration
	TradeHalfLife     time.Duration
	MaxVariation      float64
}

func (o Options) withDefaults() Options {
	if w := o.FundamentalWeight; w == nil || *w < 0 || *w > 1 {
		def := DefaultFundamentalWeight
		o.FundamentalWeight = &def
	} else {
		v := *w
		o.FundamentalWeight = &v
	}
	if o.Lookback <= 0 {
		o.Lookback = 7 * 24 * time.Hour
	}
	if o.TradeHalfLife <= 0 {
		o.TradeHalfLife = 24 * time.Hour
	}
	if o.MaxVariation <= 0 {
		o.MaxVariation = 0.05
	}
	return o
}

// Financials is the hourly operating result of a corporation's units.
type Financials struct {
	Revenue       float64 `json:"revenue"`
	Cost          float64 `json:"cost"`
	Profit        float64 `json:"profit"`
	AssetValue    float64 `json:"asset_value"`
	ActiveActions int     `json:"active_actions"`
}

type Result struct {
	CorporationID      int64   `json:"corporation_id"`
	CalculatedPrice    float64 `json:"calculated_price"`
	FundamentalValue   float64 `json:"fundamental_value"`
	TradeWeightedPrice float64 `json:"trade_weighted_price"`
	TradeCount         int     `json:"trade_count"`
	BookValuePerShare  float64 `json:"book_value_per_share"`
	EarningsValue      float64 `json:"earnings_value"`
	DividendValue      float64 `json:"dividend_value"`
	CashPerShare       float64 `json:"cash_per_share"`
	HourlyProfit       float64 `json:"hourly_profit"`
	AnnualProfit       float64 `json:"annual_profit"`
	AssetValue         float64 `json:"asset_value"`
}

// UnitAssetValue is the perpetuity value of one unit: its basis cost plus
// annual profit capitalized at AssetDiscountRate, never negative.
func UnitAssetValue(basisCost, hourlyProfit float64) float64 {
	return math.Max(0, basisCost+hourlyProfit*HoursPerYear/AssetDiscountRate)
}

type Engine struct {
	store store.Store
	econ  *economy.Engine
	opts  Options
	log   *slog.Logger
	now   func() time.Time

	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewEngine(st store.Store, econ *economy.Engine, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store: st,
		econ:  econ,
		opts:  opts.withDefaults(),
		log:   logger,
		now:   time.Now,
		rand:  mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) nextFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand.Float64()
}

// CorporationFinancials sums live unit economics over a corporation's units.
// Each active corporate action adds ActionRevenueBoost to revenue, uncapped.
func (e *Engine) CorporationFinancials(ctx context.Context, units economy.SectorUnits, activeActions int) (Financials, error) {
	cat, err := e.econ.Catalog(ctx)
	if err != nil {
		return Financials{}, err
	}
	out := Financials{ActiveActions: activeActions}
	for _, sector := range economy.AllSectors {
		for _, u := range economy.AllUnitTypes {
			count := units[sector][u]
			if count <= 0 {
				continue
			}
			res, err := e.econ.ComputeUnitEconomics(ctx, u, sector, nil)
			if err != nil {
				return Financials{}, fmt.Errorf("economics %s/%s: %w", sector, u, err)
			}
			if !res.IsDynamic {
				continue
			}
			n := float64(count)
			out.Revenue += res.HourlyRevenue * n
			out.Cost += res.HourlyCost * n
			basis := 0.0
			if uc, ok := cat.UnitConfig(sector, u); ok {
				basis = uc.BaseCost
			}
			out.AssetValue += UnitAssetValue(basis, res.HourlyProfit) * n
		}
	}
	out.Revenue *= 1 + ActionRevenueBoost*float64(activeActions)
	out.Revenue = economy.Round2(out.Revenue)
	out.Cost = economy.Round2(out.Cost)
	out.Profit = economy.Round2(out.Revenue - out.Cost)
	out.AssetValue = economy.Round2(out.AssetValue)
	return out, nil
}

// CorporationHourlyProfit is the boosted hourly profit of one corporation.
func (e *Engine) CorporationHourlyProfit(ctx context.Context, corporationID int64) (float64, error) {
	units, err := e.store.CorporationUnits(ctx, corporationID)
	if err != nil {
		return 0, err
	}
	actions, err := e.store.ActiveActions(ctx, corporationID, e.now())
	if err != nil {
		return 0, err
	}
	fin, err := e.CorporationFinancials(ctx, units, len(actions))
	if err != nil {
		return 0, err
	}
	return fin.Profit, nil
}

func (e *Engine) CalculateStockPrice(ctx context.Context, corporationID int64) (Result, error) {
	corp, err := e.store.Corporation(ctx, corporationID)
	if err != nil {
		return Result{}, err
	}
	return e.calculate(ctx, corp)
}

func (e *Engine) calculate(ctx context.Context, corp store.Corporation) (Result, error) {
	out := Result{CorporationID: corp.ID}
	units, err := e.store.CorporationUnits(ctx, corp.ID)
	if err != nil {
		return out, err
	}
	now := e.now()
	actions, err := e.store.ActiveActions(ctx, corp.ID, now)
	if err != nil {
		return out, err
	}
	fin, err := e.CorporationFinancials(ctx, units, len(actions))
	if err != nil {
		return out, err
	}
	trades, err := e.store.ShareTransactionsSince(ctx, corp.ID, now.Add(-e.opts.Lookback))
	if err != nil {
		return out, err
	}

	out.HourlyProfit = fin.Profit
	out.AnnualProfit = economy.Round2(fin.Profit * HoursPerYear)
	out.AssetValue = fin.AssetValue
	fundamentals(&out, corp)

	tradePrice, weight := tradeWeightedPrice(trades, now, e.opts.TradeHalfLife)
	out.TradeCount = len(trades)
	price := out.FundamentalValue
	if weight > 0 {
		out.TradeWeightedPrice = economy.Round2(tradePrice)
		fw := *e.opts.FundamentalWeight
		price = fw*out.FundamentalValue + (1-fw)*tradePrice
	}
	out.CalculatedPrice = math.Max(MinSharePrice, economy.Round2(price))
	return out, nil
}

// fundamentals fills the per-share fundamental components. Negative earnings
// and dividends contribute nothing rather than pulling the value below book.
func fundamentals(out *Result, corp store.Corporation) {
	if corp.Shares <= 0 {
		return
	}
	shares := float64(corp.Shares)
	annual := out.AnnualProfit
	out.BookValuePerShare = economy.Round2((corp.Capital + out.AssetValue) / shares)
	out.CashPerShare = economy.Round2(math.Max(0, corp.Capital) / shares)
	out.EarningsValue = economy.Round2(math.Max(0, annual) / shares / earningsCapRate)
	dividend := math.Max(0, annual) * corp.DividendPercentage / 100
	out.DividendValue = economy.Round2(dividend / shares / dividendYieldRate)

	v := 0.4*out.BookValuePerShare + 0.3*out.EarningsValue + 0.15*out.DividendValue + 0.15*out.CashPerShare
	out.FundamentalValue = economy.Round2(math.Max(0, v))
}

// tradeWeightedPrice averages trade prices weighted by size and halved every
// halfLife of age. A zero weight means there is no usable trade history.
func tradeWeightedPrice(trades []store.ShareTransaction, now time.Time, halfLife time.Duration) (float64, float64) {
	var sum, weight float64
	for _, t := range trades {
		if t.Shares <= 0 || t.Price <= 0 {
			continue
		}
		age := now.Sub(t.At)
		if age < 0 {
			age = 0
		}
		w := float64(t.Shares) * math.Pow(0.5, age.Hours()/halfLife.Hours())
		sum += w * t.Price
		weight += w
	}
	if weight == 0 {
		return 0, 0
	}
	return sum / weight, weight
}

// UpdateStockPrice recalculates and stores the share price. Random variation
// is for scheduled ticks only; trade-triggered updates pass false.
func (e *Engine) UpdateStockPrice(ctx context.Context, corporationID int64, applyRandomVariation bool) (float64, error) {
	res, err := e.CalculateStockPrice(ctx, corporationID)
	if err != nil {
		return 0, err
	}
	price := res.CalculatedPrice
	if applyRandomVariation {
		jitter := (e.nextFloat()*2 - 1) * e.opts.MaxVariation
		price = math.Max(MinSharePrice, economy.Round2(price*(1+jitter)))
	}

	err = e.store.InTx(ctx, func(tx store.Tx) error {
		corp, err := tx.LockCorporation(ctx, corporationID)
		if err != nil {
			return err
		}
		corp.SharePrice = price
		return tx.SaveCorporation(ctx, corp)
	})
	if err != nil {
		return 0, fmt.Errorf("save share price: %w", err)
	}
	e.log.Debug("share price updated", "corporation_id", corporationID, "price", price, "random", applyRandomVariation)
	return price, nil
}
