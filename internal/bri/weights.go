package bri

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// Weights maps each category to its share of the composite. A weight set
// used for a calculation must sum to 1.0 at whole-percentage precision.
type Weights map[Category]float64

// WeightSource records which level of the precedence chain supplied a weight set.
type WeightSource string

// Weight sources, highest precedence first.
const (
	WeightSourceCompany WeightSource = "company"
	WeightSourceGlobal  WeightSource = "global"
	WeightSourceDefault WeightSource = "default"
)

// DefaultWeights returns the built-in category weights (sum = 1.0).
func DefaultWeights() Weights {
	return Weights{
		Financial:       0.25,
		Transferability: 0.20,
		Operational:     0.20,
		Market:          0.15,
		LegalTax:        0.10,
		Personal:        0.10,
	}
}

// DealReadinessWeights returns the Deal Readiness weight set: PERSONAL is
// excluded and its 0.10 is split between FINANCIAL and TRANSFERABILITY.
func DealReadinessWeights() Weights {
	return Weights{
		Financial:       0.30,
		Transferability: 0.25,
		Operational:     0.20,
		Market:          0.15,
		LegalTax:        0.10,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// Clone returns a copy of w.
func (w Weights) Clone() Weights {
	if w == nil {
		return nil
	}
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// ValidateWeights checks that every weight is a finite non-negative number
// keyed by a known category and that the set sums to 100% when rounded to
// whole percentage points.
func ValidateWeights(w Weights) error {
	if len(w) == 0 {
		return calc.Invalid("weights", "weight set is empty")
	}

	var errs []string
	for c, v := range w {
		if !c.Valid() {
			errs = append(errs, fmt.Sprintf("unknown category %q", string(c)))
			continue
		}
		if !calc.IsFinite(v) {
			errs = append(errs, fmt.Sprintf("%s weight is not a number", c))
			continue
		}
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", c))
		}
	}

	pct := math.Round(w.Sum() * 100)
	if pct != 100 {
		errs = append(errs, fmt.Sprintf("weights should sum to 100%%, got %.0f%%", pct))
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return calc.Invalid("weights", "%s", strings.Join(errs, "; "))
	}
	return nil
}

// ResolveWeights applies the precedence company override → global override →
// defaults. An override that fails validation is skipped rather than used.
func ResolveWeights(company, global Weights) (Weights, WeightSource) {
	if len(company) > 0 && ValidateWeights(company) == nil {
		return company.Clone(), WeightSourceCompany
	}
	if len(global) > 0 && ValidateWeights(global) == nil {
		return global.Clone(), WeightSourceGlobal
	}
	return DefaultWeights(), WeightSourceDefault
}
