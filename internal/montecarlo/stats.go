package montecarlo

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// HistogramBins is the number of display buckets.
const HistogramBins = 25

// Percentile returns the p-quantile (p in [0,1]) of sorted by linear
// interpolation between the order statistics around index p*(n-1).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// BuildHistogram buckets sorted values into HistogramBins bins over
// [0.5*p5, 1.5*p95]. Values outside the range are dropped; the histogram is
// for display and never feeds the other statistics.
func BuildHistogram(sorted []float64) []Bin {
	if len(sorted) == 0 {
		return nil
	}
	lo := 0.5 * Percentile(sorted, 0.05)
	hi := 1.5 * Percentile(sorted, 0.95)

	start := sort.SearchFloat64s(sorted, lo)
	end := sort.Search(len(sorted), func(i int) bool { return sorted[i] > hi })
	trimmed := sorted[start:end]

	if hi <= lo {
		return []Bin{{Lower: lo, Upper: hi, Count: len(trimmed)}}
	}

	// Histogram needs the top divider strictly above the largest value.
	dividers := floats.Span(make([]float64, HistogramBins+1), lo, math.Nextafter(hi, math.Inf(1)))
	counts := stat.Histogram(nil, dividers, trimmed, nil)

	bins := make([]Bin, HistogramBins)
	for i := range bins {
		bins[i] = Bin{Lower: dividers[i], Upper: dividers[i+1], Count: int(counts[i])}
	}
	return bins
}

// SurvivalCurve returns, for each retirement year, the fraction of outcomes
// still funded at its end.
func SurvivalCurve(outcomes []IterationResult, retirementAge, years int) []SurvivalPoint {
	if len(outcomes) == 0 || years <= 0 {
		return nil
	}
	// lasted[k] counts outcomes that lasted exactly k years.
	lasted := make([]int, years+1)
	for _, o := range outcomes {
		k := o.YearsLasted
		if k > years {
			k = years
		}
		if k < 0 {
			k = 0
		}
		lasted[k]++
	}

	points := make([]SurvivalPoint, years)
	remaining := len(outcomes) - lasted[0]
	for y := 1; y <= years; y++ {
		points[y-1] = SurvivalPoint{
			Year:        y,
			Age:         retirementAge + y,
			Probability: float64(remaining) / float64(len(outcomes)),
		}
		remaining -= lasted[y]
	}
	return points
}

func aggregate(outcomes []IterationResult, start float64, retirementAge, years int) *Results {
	n := len(outcomes)
	res := &Results{
		Iterations:      n,
		StartingBalance: start,
		Outcomes:        outcomes,
	}
	if n == 0 {
		return res
	}

	balances := make([]float64, n)
	lasted := make([]float64, n)
	var successes int
	for i, o := range outcomes {
		balances[i] = o.EndingBalance
		lasted[i] = float64(o.YearsLasted)
		if !o.RanOutOfMoney {
			successes++
		}
	}
	sort.Float64s(balances)
	sort.Float64s(lasted)

	res.SuccessRate = 100 * float64(successes) / float64(n)
	res.MedianEndingBalance = Percentile(balances, 0.5)
	res.P10EndingBalance = Percentile(balances, 0.10)
	res.P90EndingBalance = Percentile(balances, 0.90)
	res.MeanEndingBalance = stat.Mean(balances, nil)
	res.MedianYearsLasted = Percentile(lasted, 0.5)
	res.Histogram = BuildHistogram(balances)
	res.SurvivalCurve = SurvivalCurve(outcomes, retirementAge, years)
	return res
}
