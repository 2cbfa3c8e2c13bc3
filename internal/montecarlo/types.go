// Package montecarlo projects whether an owner's retirement portfolio,
// including business sale proceeds, lasts through life expectancy under
// randomly drawn returns and inflation.
package montecarlo

import (
	"github.com/sells-group/valuation-engine/internal/calc"
)

// AssetKind classifies a portfolio asset.
type AssetKind string

// Asset kinds.
const (
	AssetCash       AssetKind = "cash"
	AssetBrokerage  AssetKind = "brokerage"
	AssetRetirement AssetKind = "retirement"
	AssetRealEstate AssetKind = "real_estate"
	AssetBusiness   AssetKind = "business"
	AssetOther      AssetKind = "other"
)

// Asset is one holding. Excluded assets do not fund retirement.
type Asset struct {
	Name    string    `json:"name" yaml:"name"`
	Kind    AssetKind `json:"kind" yaml:"kind"`
	Value   float64   `json:"value" yaml:"value"`
	Exclude bool      `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// IncomeStream is retirement income such as Social Security or a pension.
type IncomeStream struct {
	Name              string  `json:"name" yaml:"name"`
	AnnualAmount      float64 `json:"annual_amount" yaml:"annual_amount"`
	StartAge          int     `json:"start_age" yaml:"start_age"`
	InflationAdjusted bool    `json:"inflation_adjusted" yaml:"inflation_adjusted"`
}

// Assumptions describe the owner and the plan.
type Assumptions struct {
	CurrentAge           int            `json:"current_age" yaml:"current_age"`
	RetirementAge        int            `json:"retirement_age" yaml:"retirement_age"`
	LifeExpectancy       int            `json:"life_expectancy" yaml:"life_expectancy"`
	AnnualSpendingNeeds  float64        `json:"annual_spending_needs" yaml:"annual_spending_needs"`
	AnnualContributions  float64        `json:"annual_contributions" yaml:"annual_contributions"`
	ExpectedReturn       float64        `json:"expected_return" yaml:"expected_return"`
	InflationRate        float64        `json:"inflation_rate" yaml:"inflation_rate"`
	IncomeStreams        []IncomeStream `json:"income_streams,omitempty" yaml:"income_streams,omitempty"`
	BusinessSaleProceeds float64        `json:"business_sale_proceeds" yaml:"business_sale_proceeds"`
	SaleTaxRate          float64        `json:"sale_tax_rate" yaml:"sale_tax_rate"`
}

// AccumulationYears is the number of working years before retirement.
func (a Assumptions) AccumulationYears() int { return a.RetirementAge - a.CurrentAge }

// RetirementYears is the number of years the portfolio must fund.
func (a Assumptions) RetirementYears() int { return a.LifeExpectancy - a.RetirementAge }

// Validate checks ages, amounts, and rates.
func (a Assumptions) Validate() error {
	switch {
	case a.CurrentAge < 0:
		return calc.Invalid("current_age", "must be >= 0, got %d", a.CurrentAge)
	case a.RetirementAge < a.CurrentAge:
		return calc.Invalid("retirement_age", "%d is before current age %d", a.RetirementAge, a.CurrentAge)
	case a.LifeExpectancy <= a.RetirementAge:
		return calc.Invalid("life_expectancy", "%d must be after retirement age %d", a.LifeExpectancy, a.RetirementAge)
	case !calc.IsFinite(a.AnnualSpendingNeeds) || a.AnnualSpendingNeeds < 0:
		return calc.Invalid("annual_spending_needs", "must be >= 0, got %v", a.AnnualSpendingNeeds)
	case !calc.IsFinite(a.AnnualContributions) || a.AnnualContributions < 0:
		return calc.Invalid("annual_contributions", "must be >= 0, got %v", a.AnnualContributions)
	case !calc.IsFinite(a.ExpectedReturn) || a.ExpectedReturn <= -1:
		return calc.Invalid("expected_return", "must be > -100%%, got %v", a.ExpectedReturn)
	case !calc.IsFinite(a.InflationRate) || a.InflationRate <= -1:
		return calc.Invalid("inflation_rate", "must be > -100%%, got %v", a.InflationRate)
	case !calc.IsFinite(a.BusinessSaleProceeds) || a.BusinessSaleProceeds < 0:
		return calc.Invalid("business_sale_proceeds", "must be >= 0, got %v", a.BusinessSaleProceeds)
	case !calc.InUnitInterval(a.SaleTaxRate):
		return calc.Invalid("sale_tax_rate", "must be in [0,1], got %v", a.SaleTaxRate)
	}
	for _, s := range a.IncomeStreams {
		if !calc.IsFinite(s.AnnualAmount) || s.AnnualAmount < 0 {
			return calc.Invalid("income_streams", "%s amount must be >= 0, got %v", s.Name, s.AnnualAmount)
		}
	}
	return nil
}

// StartingBalance is the investable balance today: every non-excluded asset
// plus after-tax business sale proceeds.
func StartingBalance(assets []Asset, a Assumptions) float64 {
	var total float64
	for _, asset := range assets {
		if asset.Exclude || !calc.IsFinite(asset.Value) {
			continue
		}
		total += asset.Value
	}
	return total + a.BusinessSaleProceeds*(1-a.SaleTaxRate)
}

// Params control the random draws.
type Params struct {
	ReturnStdDev    float64 `json:"return_std_dev" yaml:"return_std_dev" mapstructure:"return_std_dev"`
	InflationStdDev float64 `json:"inflation_std_dev" yaml:"inflation_std_dev" mapstructure:"inflation_std_dev"`
	Iterations      int     `json:"iterations" yaml:"iterations" mapstructure:"iterations"`
	Seed            uint64  `json:"seed" yaml:"seed" mapstructure:"seed"`
}

// MaxIterations bounds a single run.
const MaxIterations = 1_000_000

// DefaultParams returns a 15% return and 1% inflation volatility over 1,000
// iterations.
func DefaultParams() Params {
	return Params{ReturnStdDev: 0.15, InflationStdDev: 0.01, Iterations: 1000, Seed: 1}
}

// Validate checks the draw parameters.
func (p Params) Validate() error {
	switch {
	case !calc.IsFinite(p.ReturnStdDev) || p.ReturnStdDev < 0:
		return calc.Invalid("return_std_dev", "must be >= 0, got %v", p.ReturnStdDev)
	case !calc.IsFinite(p.InflationStdDev) || p.InflationStdDev < 0:
		return calc.Invalid("inflation_std_dev", "must be >= 0, got %v", p.InflationStdDev)
	case p.Iterations <= 0 || p.Iterations > MaxIterations:
		return calc.Invalid("iterations", "must be in [1,%d], got %d", MaxIterations, p.Iterations)
	}
	return nil
}

// IterationResult is the outcome of one simulated lifetime.
type IterationResult struct {
	Index         int     `json:"index"`
	EndingBalance float64 `json:"ending_balance"`
	YearsLasted   int     `json:"years_lasted"`
	RanOutOfMoney bool    `json:"ran_out_of_money"`
	// FailureYear is the retirement year (1-based) the money ran out, 0 if never.
	FailureYear int `json:"failure_year,omitempty"`
}

// Bin is one histogram bucket [Lower, Upper).
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// SurvivalPoint is the share of iterations still funded at the end of a
// retirement year.
type SurvivalPoint struct {
	Year        int     `json:"year"`
	Age         int     `json:"age"`
	Probability float64 `json:"probability"`
}

// Results aggregate a run.
type Results struct {
	Iterations          int               `json:"iterations"`
	StartingBalance     float64           `json:"starting_balance"`
	SuccessRate         float64           `json:"success_rate"` // percent
	MedianEndingBalance float64           `json:"median_ending_balance"`
	P10EndingBalance    float64           `json:"p10_ending_balance"`
	P90EndingBalance    float64           `json:"p90_ending_balance"`
	MeanEndingBalance   float64           `json:"mean_ending_balance"`
	MedianYearsLasted   float64           `json:"median_years_lasted"`
	Histogram           []Bin             `json:"histogram"`
	SurvivalCurve       []SurvivalPoint   `json:"survival_curve"`
	Outcomes            []IterationResult `json:"-"`
}
