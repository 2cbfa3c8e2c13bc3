package valuation

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// Level is a rung of the industry classification hierarchy.
type Level string

// Classification levels, most specific first.
const (
	LevelSubSector   Level = "sub_sector"
	LevelSector      Level = "sector"
	LevelSuperSector Level = "super_sector"
	LevelIndustry    Level = "industry"
	LevelDefault     Level = "default"
)

// Classification places a company in the industry hierarchy. Any level may be
// empty.
type Classification struct {
	SubSector   string `json:"sub_sector,omitempty" yaml:"sub_sector"`
	Sector      string `json:"sector,omitempty" yaml:"sector"`
	SuperSector string `json:"super_sector,omitempty" yaml:"super_sector"`
	Industry    string `json:"industry,omitempty" yaml:"industry"`
}

// levels returns the non-empty (level, code) pairs from most to least specific.
func (c Classification) levels() []levelCode {
	all := []levelCode{
		{LevelSubSector, c.SubSector},
		{LevelSector, c.Sector},
		{LevelSuperSector, c.SuperSector},
		{LevelIndustry, c.Industry},
	}
	out := all[:0]
	for _, lc := range all {
		if lc.code != "" {
			out = append(out, lc)
		}
	}
	return out
}

type levelCode struct {
	level Level
	code  string
}

// MultipleRange is an EBITDA and revenue multiple range for one industry.
type MultipleRange struct {
	EBITDALow   float64 `json:"ebitda_low" yaml:"ebitda_low" mapstructure:"ebitda_low"`
	EBITDAHigh  float64 `json:"ebitda_high" yaml:"ebitda_high" mapstructure:"ebitda_high"`
	RevenueLow  float64 `json:"revenue_low" yaml:"revenue_low" mapstructure:"revenue_low"`
	RevenueHigh float64 `json:"revenue_high" yaml:"revenue_high" mapstructure:"revenue_high"`
}

// Validate checks that both ranges are positive and ordered.
func (r MultipleRange) Validate() error {
	if !calc.IsFinite(r.EBITDALow) || !calc.IsFinite(r.EBITDAHigh) || r.EBITDALow <= 0 || r.EBITDALow > r.EBITDAHigh {
		return calc.Invalid("ebitda_multiple", "range %.2f-%.2f is not a positive ordered range", r.EBITDALow, r.EBITDAHigh)
	}
	if !calc.IsFinite(r.RevenueLow) || !calc.IsFinite(r.RevenueHigh) || r.RevenueLow <= 0 || r.RevenueLow > r.RevenueHigh {
		return calc.Invalid("revenue_multiple", "range %.2f-%.2f is not a positive ordered range", r.RevenueLow, r.RevenueHigh)
	}
	return nil
}

// DefaultMultiples is the range used when no classification level matches.
func DefaultMultiples() MultipleRange {
	return MultipleRange{
		EBITDALow:   3.0,
		EBITDAHigh:  6.0,
		RevenueLow:  0.5,
		RevenueHigh: 1.5,
	}
}

// MultipleSource looks up the multiple range for one classification code.
// A nil range with a nil error means no data at that level.
type MultipleSource interface {
	LookupMultiple(ctx context.Context, level Level, code string) (*MultipleRange, error)
}

// ResolvedMultiples is a multiple range plus where it came from.
type ResolvedMultiples struct {
	MultipleRange
	Level Level  `json:"level"`
	Code  string `json:"code,omitempty"`
}

// ResolveMultiples walks the classification from most to least specific and
// returns the first valid range found. Falls back to DefaultMultiples when no
// level has data. A nil src resolves straight to the defaults.
func ResolveMultiples(ctx context.Context, src MultipleSource, class Classification) (*ResolvedMultiples, error) {
	if src != nil {
		for _, lc := range class.levels() {
			r, err := src.LookupMultiple(ctx, lc.level, lc.code)
			if err != nil {
				return nil, eris.Wrapf(err, "valuation: lookup multiple %s %s", lc.level, lc.code)
			}
			if r == nil || r.Validate() != nil {
				continue
			}
			return &ResolvedMultiples{MultipleRange: *r, Level: lc.level, Code: lc.code}, nil
		}
	}
	return &ResolvedMultiples{MultipleRange: DefaultMultiples(), Level: LevelDefault}, nil
}
