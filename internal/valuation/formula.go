// Package valuation turns adjusted EBITDA, an industry multiple range, and the
// core/BRI readiness scores into a current and potential sale value.
package valuation

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// DiscountPolicy maps the core factor score and BRI score to the fraction by
// which the base multiple is discounted:
//
//	blended  = CoreWeight*core + (1-CoreWeight)*bri
//	discount = clamp(Alpha * (1-blended)^Exponent, 0, MaxDiscount)
type DiscountPolicy struct {
	Alpha       float64 `yaml:"alpha" mapstructure:"alpha" json:"alpha"`
	CoreWeight  float64 `yaml:"core_weight" mapstructure:"core_weight" json:"core_weight"`
	Exponent    float64 `yaml:"exponent" mapstructure:"exponent" json:"exponent"`
	MaxDiscount float64 `yaml:"max_discount" mapstructure:"max_discount" json:"max_discount"`
}

// DefaultDiscountPolicy returns the linear policy used when none is configured.
func DefaultDiscountPolicy() DiscountPolicy {
	return DiscountPolicy{
		Alpha:       0.40,
		CoreWeight:  0.50,
		Exponent:    1.0,
		MaxDiscount: 0.95,
	}
}

// Validate checks the policy parameters.
func (p DiscountPolicy) Validate() error {
	switch {
	case !calc.IsFinite(p.Alpha) || p.Alpha < 0:
		return calc.Invalid("alpha", "must be >= 0, got %v", p.Alpha)
	case !calc.InUnitInterval(p.CoreWeight):
		return calc.Invalid("core_weight", "must be in [0,1], got %v", p.CoreWeight)
	case !calc.IsFinite(p.Exponent) || p.Exponent <= 0:
		return calc.Invalid("exponent", "must be > 0, got %v", p.Exponent)
	case !calc.IsFinite(p.MaxDiscount) || p.MaxDiscount < 0 || p.MaxDiscount >= 1:
		return calc.Invalid("max_discount", "must be in [0,1), got %v", p.MaxDiscount)
	}
	return nil
}

// Discount returns the discount fraction in [0, MaxDiscount]. Scores are
// assumed to be in [0,1].
func (p DiscountPolicy) Discount(coreScore, briScore float64) float64 {
	blended := p.CoreWeight*coreScore + (1-p.CoreWeight)*briScore
	gap := calc.Clamp(1-blended, 0, 1)
	return calc.Clamp(p.Alpha*math.Pow(gap, p.Exponent), 0, p.MaxDiscount)
}

// Input is the per-calculation valuation input.
type Input struct {
	AdjustedEBITDA     float64 `json:"adjusted_ebitda"`
	IndustryMultipleLo float64 `json:"industry_multiple_low"`
	IndustryMultipleHi float64 `json:"industry_multiple_high"`
	CoreScore          float64 `json:"core_score"`
	BRIScore           float64 `json:"bri_score"`
}

// Result holds the derived valuation figures.
type Result struct {
	BaseMultiple     float64 `json:"base_multiple"`
	DiscountFraction float64 `json:"discount_fraction"`
	FinalMultiple    float64 `json:"final_multiple"`
	CurrentValue     float64 `json:"current_value"`
	PotentialValue   float64 `json:"potential_value"`
	ValueGap         float64 `json:"value_gap"`
}

// Calculator computes valuations under a fixed discount policy.
type Calculator struct {
	policy DiscountPolicy
}

// NewCalculator validates policy and returns a Calculator.
func NewCalculator(policy DiscountPolicy) (*Calculator, error) {
	if err := policy.Validate(); err != nil {
		return nil, eris.Wrap(err, "valuation: discount policy")
	}
	return &Calculator{policy: policy}, nil
}

// Policy returns the calculator's discount policy.
func (c *Calculator) Policy() DiscountPolicy {
	return c.policy
}

// Calculate computes the valuation for in.
func (c *Calculator) Calculate(in Input) (*Result, error) {
	if err := validateInput(in); err != nil {
		return nil, eris.Wrap(err, "valuation: calculate")
	}

	base := (in.IndustryMultipleLo + in.IndustryMultipleHi) / 2
	discount := c.policy.Discount(in.CoreScore, in.BRIScore)
	final := base * (1 - discount)

	// A loss-making business is worth 0 on this method, not a negative amount.
	current := math.Max(0, in.AdjustedEBITDA*final)
	potential := math.Max(0, in.AdjustedEBITDA*base)

	return &Result{
		BaseMultiple:     base,
		DiscountFraction: discount,
		FinalMultiple:    final,
		CurrentValue:     current,
		PotentialValue:   potential,
		ValueGap:         math.Max(0, potential-current),
	}, nil
}

// CalculateValuation computes a valuation under DefaultDiscountPolicy.
func CalculateValuation(adjustedEBITDA, multipleLow, multipleHigh, coreScore, briScore float64) (*Result, error) {
	c := &Calculator{policy: DefaultDiscountPolicy()}
	return c.Calculate(Input{
		AdjustedEBITDA:     adjustedEBITDA,
		IndustryMultipleLo: multipleLow,
		IndustryMultipleHi: multipleHigh,
		CoreScore:          coreScore,
		BRIScore:           briScore,
	})
}

func validateInput(in Input) error {
	if !calc.IsFinite(in.AdjustedEBITDA) {
		return calc.Invalid("adjusted_ebitda", "must be a finite number")
	}
	if !calc.IsFinite(in.IndustryMultipleLo) || in.IndustryMultipleLo <= 0 {
		return calc.Invalid("industry_multiple_low", "must be > 0, got %v", in.IndustryMultipleLo)
	}
	if !calc.IsFinite(in.IndustryMultipleHi) || in.IndustryMultipleHi <= 0 {
		return calc.Invalid("industry_multiple_high", "must be > 0, got %v", in.IndustryMultipleHi)
	}
	if in.IndustryMultipleLo > in.IndustryMultipleHi {
		return calc.Invalid("industry_multiple_low", "low %.2f exceeds high %.2f", in.IndustryMultipleLo, in.IndustryMultipleHi)
	}
	if !calc.InUnitInterval(in.CoreScore) {
		return calc.Invalid("core_score", "must be in [0,1], got %v", in.CoreScore)
	}
	if !calc.InUnitInterval(in.BRIScore) {
		return calc.Invalid("bri_score", "must be in [0,1], got %v", in.BRIScore)
	}
	return nil
}
