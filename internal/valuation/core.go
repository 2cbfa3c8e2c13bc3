package valuation

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// CoreFactors are the five business fundamentals behind the core factor
// score. Each is a 0-1 rating supplied by the assessment.
type CoreFactors struct {
	RevenueScale            float64 `json:"revenue_scale" yaml:"revenue_scale"`
	ProfitMargin            float64 `json:"profit_margin" yaml:"profit_margin"`
	RecurringRevenue        float64 `json:"recurring_revenue" yaml:"recurring_revenue"`
	CustomerDiversification float64 `json:"customer_diversification" yaml:"customer_diversification"`
	OwnerIndependence       float64 `json:"owner_independence" yaml:"owner_independence"`
}

// CalculateCoreScore returns the equal-weight mean of the five factors.
func CalculateCoreScore(f CoreFactors) (float64, error) {
	factors := []struct {
		name  string
		value float64
	}{
		{"revenue_scale", f.RevenueScale},
		{"profit_margin", f.ProfitMargin},
		{"recurring_revenue", f.RecurringRevenue},
		{"customer_diversification", f.CustomerDiversification},
		{"owner_independence", f.OwnerIndependence},
	}

	var sum float64
	for _, fc := range factors {
		if !calc.InUnitInterval(fc.value) {
			return 0, eris.Wrap(calc.Invalid(fc.name, "must be in [0,1], got %v", fc.value), "valuation: core score")
		}
		sum += fc.value
	}
	return sum / float64(len(factors)), nil
}
