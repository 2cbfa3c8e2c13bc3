package dcf

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// ProjectionYears is the length of the explicit forecast.
const ProjectionYears = 5

// TerminalMethod selects how the value beyond year five is estimated.
type TerminalMethod string

// Terminal value methods.
const (
	TerminalGordon       TerminalMethod = "gordon"
	TerminalExitMultiple TerminalMethod = "exit_multiple"
)

// Inputs parameterize one DCF run. GrowthRates holds up to five annual
// growth rates applied in sequence starting from BaseFCF; missing years
// repeat the last given rate.
type Inputs struct {
	BaseFCF              float64        `json:"base_fcf" yaml:"base_fcf"`
	GrowthRates          []float64      `json:"growth_rates" yaml:"growth_rates"`
	WACC                 float64        `json:"wacc" yaml:"wacc"`
	TerminalMethod       TerminalMethod `json:"terminal_method" yaml:"terminal_method"`
	PerpetualGrowthRate  float64        `json:"perpetual_growth_rate" yaml:"perpetual_growth_rate"`
	ExitMultiple         float64        `json:"exit_multiple" yaml:"exit_multiple"`
	NetDebt              float64        `json:"net_debt" yaml:"net_debt"`
	UseMidYearConvention bool           `json:"use_mid_year_convention" yaml:"use_mid_year_convention"`
}

// YearProjection is one forecast year.
type YearProjection struct {
	Year           int     `json:"year"`
	GrowthRate     float64 `json:"growth_rate"`
	FCF            float64 `json:"fcf"`
	EBITDA         float64 `json:"ebitda,omitempty"`
	DiscountFactor float64 `json:"discount_factor"`
	PresentValue   float64 `json:"present_value"`
}

// Results is the output of CalculateDCF.
type Results struct {
	Years             []YearProjection `json:"years"`
	SumPVFCF          float64          `json:"sum_pv_fcf"`
	TerminalMethod    TerminalMethod   `json:"terminal_method"`
	TerminalValue     float64          `json:"terminal_value"`
	PVTerminalValue   float64          `json:"pv_terminal_value"`
	EnterpriseValue   float64          `json:"enterprise_value"`
	EquityValue       float64          `json:"equity_value"`
	TerminalShare     float64          `json:"terminal_share"`
	ImpliedEVToEBITDA float64          `json:"implied_ev_to_ebitda,omitempty"`
	WACC              float64          `json:"wacc"`
}

// growthSchedule expands rates to exactly ProjectionYears entries.
func growthSchedule(rates []float64) ([]float64, error) {
	if len(rates) > ProjectionYears {
		return nil, calc.Invalid("growth_rates", "at most %d rates allowed, got %d", ProjectionYears, len(rates))
	}
	out := make([]float64, ProjectionYears)
	var last float64
	for i := range out {
		if i < len(rates) {
			last = rates[i]
		}
		if !calc.IsFinite(last) || last <= -1 {
			return nil, calc.Invalid("growth_rates", "year %d rate %v must be finite and > -100%%", i+1, last)
		}
		out[i] = last
	}
	return out, nil
}

func validateInputs(in Inputs, ebitda float64) error {
	if !calc.IsFinite(in.BaseFCF) {
		return calc.Invalid("base_fcf", "must be a finite number")
	}
	if !calc.IsFinite(in.WACC) || in.WACC <= 0 {
		return calc.Invalid("wacc", "must be > 0, got %v", in.WACC)
	}
	if !calc.IsFinite(in.NetDebt) {
		return calc.Invalid("net_debt", "must be a finite number")
	}
	switch in.TerminalMethod {
	case TerminalGordon:
		if !calc.IsFinite(in.PerpetualGrowthRate) {
			return calc.Invalid("perpetual_growth_rate", "must be a finite number")
		}
		if in.PerpetualGrowthRate >= in.WACC {
			return calc.Invalid("perpetual_growth_rate", "%.4f must be below wacc %.4f", in.PerpetualGrowthRate, in.WACC)
		}
	case TerminalExitMultiple:
		if !calc.IsFinite(in.ExitMultiple) || in.ExitMultiple <= 0 {
			return calc.Invalid("exit_multiple", "must be > 0, got %v", in.ExitMultiple)
		}
		if !calc.IsFinite(ebitda) || ebitda <= 0 {
			return calc.Invalid("ebitda", "exit multiple method needs positive EBITDA, got %v", ebitda)
		}
	default:
		return calc.Invalid("terminal_method", "unknown method %q", in.TerminalMethod)
	}
	return nil
}

// CalculateDCF projects five years of free cash flow, discounts them at
// in.WACC, adds the discounted terminal value, and subtracts net debt.
// ebitda is the current-year EBITDA; it is required by the exit multiple
// method and used for the implied multiple when positive.
func CalculateDCF(in Inputs, ebitda float64) (*Results, error) {
	if err := validateInputs(in, ebitda); err != nil {
		return nil, eris.Wrap(err, "dcf: calculate")
	}
	rates, err := growthSchedule(in.GrowthRates)
	if err != nil {
		return nil, eris.Wrap(err, "dcf: calculate")
	}

	years := make([]YearProjection, ProjectionYears)
	pvs := make([]float64, ProjectionYears)
	fcf, yearEBITDA := in.BaseFCF, ebitda
	for i, g := range rates {
		n := float64(i + 1)
		fcf *= 1 + g
		yearEBITDA *= 1 + g

		period := n
		if in.UseMidYearConvention {
			period -= 0.5
		}
		df := 1 / math.Pow(1+in.WACC, period)

		years[i] = YearProjection{
			Year:           i + 1,
			GrowthRate:     g,
			FCF:            fcf,
			DiscountFactor: df,
			PresentValue:   fcf * df,
		}
		if ebitda > 0 {
			years[i].EBITDA = yearEBITDA
		}
		pvs[i] = years[i].PresentValue
	}

	var tv float64
	switch in.TerminalMethod {
	case TerminalGordon:
		tv = fcf * (1 + in.PerpetualGrowthRate) / (in.WACC - in.PerpetualGrowthRate)
	case TerminalExitMultiple:
		tv = in.ExitMultiple * yearEBITDA
	}

	// Terminal value sits at the end of year five regardless of convention.
	pvTV := tv / math.Pow(1+in.WACC, ProjectionYears)
	sumPV := floats.Sum(pvs)
	ev := sumPV + pvTV

	res := &Results{
		Years:           years,
		SumPVFCF:        sumPV,
		TerminalMethod:  in.TerminalMethod,
		TerminalValue:   tv,
		PVTerminalValue: pvTV,
		EnterpriseValue: ev,
		EquityValue:     ev - in.NetDebt,
		TerminalShare:   calc.SafeDivide(pvTV, ev),
		WACC:            in.WACC,
	}
	if ebitda > 0 {
		res.ImpliedEVToEBITDA = ev / ebitda
	}
	return res, nil
}
