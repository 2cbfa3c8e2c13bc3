// Package dcf implements the WACC build-up, a five-year discounted cash flow
// projection with Gordon growth or exit-multiple terminal value, and the
// WACC-by-growth sensitivity grid.
package dcf

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// WACCInputs are the build-up components of the discount rate.
type WACCInputs struct {
	RiskFreeRate        float64 `json:"risk_free_rate" yaml:"risk_free_rate" mapstructure:"risk_free_rate"`
	MarketRiskPremium   float64 `json:"market_risk_premium" yaml:"market_risk_premium" mapstructure:"market_risk_premium"`
	Beta                float64 `json:"beta" yaml:"beta" mapstructure:"beta"`
	SizeRiskPremium     float64 `json:"size_risk_premium" yaml:"size_risk_premium" mapstructure:"size_risk_premium"`
	CompanySpecificRisk float64 `json:"company_specific_risk" yaml:"company_specific_risk" mapstructure:"company_specific_risk"`
	CostOfDebt          float64 `json:"cost_of_debt" yaml:"cost_of_debt" mapstructure:"cost_of_debt"`
	TaxRate             float64 `json:"tax_rate" yaml:"tax_rate" mapstructure:"tax_rate"`
	DebtWeight          float64 `json:"debt_weight" yaml:"debt_weight" mapstructure:"debt_weight"`
}

// DefaultWACCInputs returns build-up assumptions typical for a lower
// middle-market private company.
func DefaultWACCInputs() WACCInputs {
	return WACCInputs{
		RiskFreeRate:        0.045,
		MarketRiskPremium:   0.06,
		Beta:                1.0,
		SizeRiskPremium:     0.03,
		CompanySpecificRisk: 0.05,
		CostOfDebt:          0.08,
		TaxRate:             0.25,
		DebtWeight:          0.20,
	}
}

// WACCResult breaks the discount rate into its parts.
type WACCResult struct {
	CostOfEquity       float64 `json:"cost_of_equity"`
	AfterTaxCostOfDebt float64 `json:"after_tax_cost_of_debt"`
	EquityWeight       float64 `json:"equity_weight"`
	DebtWeight         float64 `json:"debt_weight"`
	WACC               float64 `json:"wacc"`
}

// CalculateWACC computes
//
//	Ke   = rf + beta*MRP + size + specific
//	WACC = Ew*Ke + Dw*Kd*(1-t), Ew = 1-Dw
func CalculateWACC(in WACCInputs) (*WACCResult, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"risk_free_rate", in.RiskFreeRate},
		{"market_risk_premium", in.MarketRiskPremium},
		{"beta", in.Beta},
		{"size_risk_premium", in.SizeRiskPremium},
		{"company_specific_risk", in.CompanySpecificRisk},
		{"cost_of_debt", in.CostOfDebt},
	} {
		if !calc.IsFinite(f.v) {
			return nil, eris.Wrap(calc.Invalid(f.name, "must be a finite number"), "dcf: wacc")
		}
	}
	if !calc.InUnitInterval(in.TaxRate) {
		return nil, eris.Wrap(calc.Invalid("tax_rate", "must be in [0,1], got %v", in.TaxRate), "dcf: wacc")
	}
	if !calc.InUnitInterval(in.DebtWeight) {
		return nil, eris.Wrap(calc.Invalid("debt_weight", "must be in [0,1], got %v", in.DebtWeight), "dcf: wacc")
	}

	ke := in.RiskFreeRate + in.Beta*in.MarketRiskPremium + in.SizeRiskPremium + in.CompanySpecificRisk
	kd := in.CostOfDebt * (1 - in.TaxRate)
	ew := 1 - in.DebtWeight
	wacc := ew*ke + in.DebtWeight*kd

	if wacc <= 0 {
		return nil, eris.Wrap(calc.Invalid("wacc", "build-up produced a non-positive rate %.4f", wacc), "dcf: wacc")
	}

	return &WACCResult{
		CostOfEquity:       ke,
		AfterTaxCostOfDebt: kd,
		EquityWeight:       ew,
		DebtWeight:         in.DebtWeight,
		WACC:               wacc,
	}, nil
}
