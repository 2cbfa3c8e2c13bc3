package valuation

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// Comparable is a public or transaction comparable with its multiples and
// how relevant it is to the subject company. A zero multiple means unknown.
type Comparable struct {
	Name        string  `json:"name" yaml:"name"`
	EVToEBITDA  float64 `json:"ev_to_ebitda" yaml:"ev_to_ebitda"`
	EVToRevenue float64 `json:"ev_to_revenue" yaml:"ev_to_revenue"`
	Relevance   float64 `json:"relevance" yaml:"relevance"`
	Rationale   string  `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// CandidateRequest describes the subject company to a CandidateSource.
type CandidateRequest struct {
	CompanyName    string         `json:"company_name"`
	Description    string         `json:"description,omitempty"`
	Classification Classification `json:"classification"`
	Revenue        float64        `json:"revenue,omitempty"`
	EBITDA         float64        `json:"ebitda,omitempty"`
	Limit          int            `json:"limit,omitempty"`
}

// CandidateSource proposes comparable companies. Selection logic lives
// entirely behind this boundary.
type CandidateSource interface {
	Candidates(ctx context.Context, req CandidateRequest) ([]Comparable, error)
}

// MultipleBounds caps comparable multiples to plausible ranges.
type MultipleBounds struct {
	EBITDAMin  float64 `json:"ebitda_min" yaml:"ebitda_min" mapstructure:"ebitda_min"`
	EBITDAMax  float64 `json:"ebitda_max" yaml:"ebitda_max" mapstructure:"ebitda_max"`
	RevenueMin float64 `json:"revenue_min" yaml:"revenue_min" mapstructure:"revenue_min"`
	RevenueMax float64 `json:"revenue_max" yaml:"revenue_max" mapstructure:"revenue_max"`
}

// DefaultMultipleBounds returns EBITDA 1-25x and revenue 0.1-10x.
func DefaultMultipleBounds() MultipleBounds {
	return MultipleBounds{EBITDAMin: 1, EBITDAMax: 25, RevenueMin: 0.1, RevenueMax: 10}
}

// NormalizeComparables drops unusable comparables and clamps the rest into
// bounds. A multiple that is non-finite or non-positive is treated as
// unknown; a comparable with no known multiple or no relevance is dropped.
func NormalizeComparables(comps []Comparable, bounds MultipleBounds) []Comparable {
	out := make([]Comparable, 0, len(comps))
	for _, c := range comps {
		if !calc.IsFinite(c.Relevance) || c.Relevance <= 0 {
			continue
		}
		c.Relevance = calc.Clamp(c.Relevance, 0, 1)

		if calc.IsFinite(c.EVToEBITDA) && c.EVToEBITDA > 0 {
			c.EVToEBITDA = calc.Clamp(c.EVToEBITDA, bounds.EBITDAMin, bounds.EBITDAMax)
		} else {
			c.EVToEBITDA = 0
		}
		if calc.IsFinite(c.EVToRevenue) && c.EVToRevenue > 0 {
			c.EVToRevenue = calc.Clamp(c.EVToRevenue, bounds.RevenueMin, bounds.RevenueMax)
		} else {
			c.EVToRevenue = 0
		}

		if c.EVToEBITDA == 0 && c.EVToRevenue == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// WeightedStat is the relevance-weighted summary of one multiple.
type WeightedStat struct {
	Mean  float64 `json:"mean"`
	Low   float64 `json:"low"`  // weighted 25th percentile
	High  float64 `json:"high"` // weighted 75th percentile
	Count int     `json:"count"`
}

// WeightedMultiple summarizes a comparable set.
type WeightedMultiple struct {
	EBITDA      WeightedStat `json:"ebitda"`
	Revenue     WeightedStat `json:"revenue"`
	Comparables []Comparable `json:"comparables"`
}

// Range converts the summary to a MultipleRange. When no comparable carried
// a revenue multiple the fallback revenue range is used.
func (w *WeightedMultiple) Range(fallback MultipleRange) MultipleRange {
	r := MultipleRange{EBITDALow: w.EBITDA.Low, EBITDAHigh: w.EBITDA.High}
	if w.Revenue.Count > 0 {
		r.RevenueLow, r.RevenueHigh = w.Revenue.Low, w.Revenue.High
	} else {
		r.RevenueLow, r.RevenueHigh = fallback.RevenueLow, fallback.RevenueHigh
	}
	return r
}

// CalculateWeightedMultiple normalizes comps and computes the
// relevance-weighted mean and interquartile range of each multiple.
// Returns calc.ErrInsufficientData when no comparable has a usable EBITDA
// multiple.
func CalculateWeightedMultiple(comps []Comparable, bounds MultipleBounds) (*WeightedMultiple, error) {
	norm := NormalizeComparables(comps, bounds)

	ebitda := weightedStat(norm, func(c Comparable) float64 { return c.EVToEBITDA })
	if ebitda.Count == 0 {
		return nil, eris.Wrap(calc.ErrInsufficientData, "valuation: no usable comparable EBITDA multiples")
	}

	return &WeightedMultiple{
		EBITDA:      ebitda,
		Revenue:     weightedStat(norm, func(c Comparable) float64 { return c.EVToRevenue }),
		Comparables: norm,
	}, nil
}

type weightedPoint struct {
	x, w float64
}

func weightedStat(comps []Comparable, metric func(Comparable) float64) WeightedStat {
	pts := make([]weightedPoint, 0, len(comps))
	for _, c := range comps {
		if v := metric(c); v > 0 {
			pts = append(pts, weightedPoint{x: v, w: c.Relevance})
		}
	}
	if len(pts) == 0 {
		return WeightedStat{}
	}

	sort.SliceStable(pts, func(i, j int) bool { return pts[i].x < pts[j].x })
	xs := make([]float64, len(pts))
	ws := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ws[i] = p.x, p.w
	}

	return WeightedStat{
		Mean:  stat.Mean(xs, ws),
		Low:   stat.Quantile(0.25, stat.Empirical, xs, ws),
		High:  stat.Quantile(0.75, stat.Empirical, xs, ws),
		Count: len(pts),
	}
}
