package valuation

import (
	"github.com/sells-group/valuation-engine/internal/calc"
)

// ebitdaRounding is the granularity of revenue-based EBITDA estimates.
const ebitdaRounding = 100_000

// EstimateEBITDA derives an EBITDA figure from revenue when no actual EBITDA
// exists, by translating the revenue multiple range into EBITDA terms:
//
//	((rev*revLow)/ebitdaHigh + (rev*revHigh)/ebitdaLow) / 2
//
// rounded to the nearest 100,000. Returns 0 if either EBITDA multiple is zero.
func EstimateEBITDA(revenue, revenueMultipleLow, revenueMultipleHigh, ebitdaMultipleLow, ebitdaMultipleHigh float64) float64 {
	if ebitdaMultipleLow == 0 || ebitdaMultipleHigh == 0 {
		return 0
	}
	low := calc.SafeDivide(revenue*revenueMultipleLow, ebitdaMultipleHigh)
	high := calc.SafeDivide(revenue*revenueMultipleHigh, ebitdaMultipleLow)
	return calc.RoundTo((low+high)/2, ebitdaRounding)
}

// EstimateEBITDAFromRange applies EstimateEBITDA with the multiples in r.
func EstimateEBITDAFromRange(revenue float64, r MultipleRange) float64 {
	return EstimateEBITDA(revenue, r.RevenueLow, r.RevenueHigh, r.EBITDALow, r.EBITDAHigh)
}
