package signal

import (
	"math"
	"time"
)

// Trend direction of value at risk against the historical baseline.
type Trend string

// Trend directions.
const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// SummaryOptions tune Summarize. Zero values take the defaults.
type SummaryOptions struct {
	HistoryDays    int     `json:"history_days" yaml:"history_days" mapstructure:"history_days"`
	TrendTolerance float64 `json:"trend_tolerance" yaml:"trend_tolerance" mapstructure:"trend_tolerance"`
	TopThreats     int     `json:"top_threats" yaml:"top_threats" mapstructure:"top_threats"`
}

// DefaultSummaryOptions returns a 30 day baseline, a 5% tolerance band, and
// three top threats.
func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{HistoryDays: 30, TrendTolerance: 0.05, TopThreats: 3}
}

func (o SummaryOptions) withDefaults() SummaryOptions {
	d := DefaultSummaryOptions()
	if o.HistoryDays <= 0 {
		o.HistoryDays = d.HistoryDays
	}
	if o.TrendTolerance <= 0 || math.IsNaN(o.TrendTolerance) {
		o.TrendTolerance = d.TrendTolerance
	}
	if o.TopThreats <= 0 {
		o.TopThreats = d.TopThreats
	}
	return o
}

// CategoryRisk is the open value at risk within one category.
type CategoryRisk struct {
	Count       int     `json:"count"`
	ValueAtRisk float64 `json:"value_at_risk"`
}

// TrendResult compares current and baseline value at risk.
type TrendResult struct {
	Direction Trend     `json:"direction"`
	Current   float64   `json:"current"`
	Previous  float64   `json:"previous"`
	Change    float64   `json:"change"`
	Cutoff    time.Time `json:"cutoff"`
}

// RiskSummary aggregates the open signals of one company.
type RiskSummary struct {
	TotalValueAtRisk float64                 `json:"total_value_at_risk"`
	RawValueAtRisk   float64                 `json:"raw_value_at_risk"`
	SignalCount      int                     `json:"signal_count"`
	TopThreats       []Ranked                `json:"top_threats"`
	ByCategory       map[string]CategoryRisk `json:"by_category"`
	Trend            TrendResult             `json:"trend"`
}

// OpenSignals returns the signals with status OPEN.
func OpenSignals(signals []Signal) []Signal {
	out := make([]Signal, 0, len(signals))
	for _, s := range signals {
		if s.ResolutionStatus == StatusOpen {
			out = append(out, s)
		}
	}
	return out
}

// HistoricalSnapshot approximates the signals that were open at cutoff:
// created on or before it, and either not yet terminal or resolved after it.
func HistoricalSnapshot(signals []Signal, cutoff time.Time) []Signal {
	out := make([]Signal, 0, len(signals))
	for _, s := range signals {
		if s.CreatedAt.After(cutoff) {
			continue
		}
		if !s.ResolutionStatus.Terminal() || (s.ResolvedAt != nil && s.ResolvedAt.After(cutoff)) {
			out = append(out, s)
		}
	}
	return out
}

// ValueAtRisk sums WeightedImpact over signals.
func ValueAtRisk(signals []Signal) float64 {
	var total float64
	for _, s := range signals {
		total += WeightedImpact(s)
	}
	return total
}

// ClassifyTrend compares cur to prev with a relative tolerance band. Changes
// within tolerance×prev are stable. Any rise from a zero baseline increases.
func ClassifyTrend(cur, prev, tolerance float64) Trend {
	if prev == 0 {
		if cur > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	band := math.Abs(prev) * tolerance
	switch {
	case cur > prev+band:
		return TrendIncreasing
	case cur < prev-band:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// Summarize computes value at risk over the OPEN signals in all, the top
// threats, a per-category breakdown, and the trend against the historical
// baseline as of now minus HistoryDays.
func Summarize(all []Signal, now time.Time, opts SummaryOptions) RiskSummary {
	opts = opts.withDefaults()
	open := OpenSignals(all)

	summary := RiskSummary{
		SignalCount: len(open),
		ByCategory:  make(map[string]CategoryRisk),
	}
	for _, s := range open {
		w := WeightedImpact(s)
		summary.TotalValueAtRisk += w
		if s.EstimatedValueImpact != nil && !math.IsNaN(*s.EstimatedValueImpact) && !math.IsInf(*s.EstimatedValueImpact, 0) {
			summary.RawValueAtRisk += math.Abs(*s.EstimatedValueImpact)
		}
		cr := summary.ByCategory[s.Category]
		cr.Count++
		cr.ValueAtRisk += w
		summary.ByCategory[s.Category] = cr
	}

	ranked := Rank(open)
	if len(ranked) > opts.TopThreats {
		ranked = ranked[:opts.TopThreats]
	}
	summary.TopThreats = ranked

	cutoff := now.AddDate(0, 0, -opts.HistoryDays)
	prev := ValueAtRisk(HistoricalSnapshot(all, cutoff))
	summary.Trend = TrendResult{
		Direction: ClassifyTrend(summary.TotalValueAtRisk, prev, opts.TrendTolerance),
		Current:   summary.TotalValueAtRisk,
		Previous:  prev,
		Change:    summary.TotalValueAtRisk - prev,
		Cutoff:    cutoff,
	}
	return summary
}
