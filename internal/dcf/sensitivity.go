package dcf

import (
	"github.com/rotisserie/eris"
)

// Grid holds offsets applied around the center WACC and the center of the
// secondary axis (perpetual growth for Gordon, exit multiple otherwise).
type Grid struct {
	WACCOffsets     []float64 `json:"wacc_offsets" yaml:"wacc_offsets" mapstructure:"wacc_offsets"`
	GrowthOffsets   []float64 `json:"growth_offsets" yaml:"growth_offsets" mapstructure:"growth_offsets"`
	MultipleOffsets []float64 `json:"multiple_offsets" yaml:"multiple_offsets" mapstructure:"multiple_offsets"`
}

// DefaultGrid is a 5x5 grid: WACC ±2pp in 1pp steps, growth ±1pp in 0.5pp
// steps, exit multiple ±1.0x in 0.5x steps.
func DefaultGrid() Grid {
	return Grid{
		WACCOffsets:     []float64{-0.02, -0.01, 0, 0.01, 0.02},
		GrowthOffsets:   []float64{-0.01, -0.005, 0, 0.005, 0.01},
		MultipleOffsets: []float64{-1, -0.5, 0, 0.5, 1},
	}
}

// Sensitivity is the enterprise value grid. Cells[i][j] is the EV at
// WACCValues[i] and SecondaryValues[j]; nil means that combination has no
// valid result.
type Sensitivity struct {
	Method          TerminalMethod `json:"method"`
	WACCValues      []float64      `json:"wacc_values"`
	SecondaryValues []float64      `json:"secondary_values"`
	Cells           [][]*float64   `json:"cells"`
}

// Cell returns the EV at (i, j) and whether it is available.
func (s *Sensitivity) Cell(i, j int) (float64, bool) {
	if i < 0 || i >= len(s.Cells) || j < 0 || j >= len(s.Cells[i]) || s.Cells[i][j] == nil {
		return 0, false
	}
	return *s.Cells[i][j], true
}

// BuildSensitivity recomputes the DCF for every grid cell. The center inputs
// must themselves be valid; individual cells that fail are left nil.
func BuildSensitivity(in Inputs, ebitda float64, grid Grid) (*Sensitivity, error) {
	if _, err := CalculateDCF(in, ebitda); err != nil {
		return nil, eris.Wrap(err, "dcf: sensitivity center")
	}

	secondaryOffsets := grid.GrowthOffsets
	center := in.PerpetualGrowthRate
	if in.TerminalMethod == TerminalExitMultiple {
		secondaryOffsets = grid.MultipleOffsets
		center = in.ExitMultiple
	}

	s := &Sensitivity{
		Method:          in.TerminalMethod,
		WACCValues:      make([]float64, len(grid.WACCOffsets)),
		SecondaryValues: make([]float64, len(secondaryOffsets)),
		Cells:           make([][]*float64, len(grid.WACCOffsets)),
	}
	for j, off := range secondaryOffsets {
		s.SecondaryValues[j] = center + off
	}

	for i, wOff := range grid.WACCOffsets {
		s.WACCValues[i] = in.WACC + wOff
		s.Cells[i] = make([]*float64, len(secondaryOffsets))
		for j, v := range s.SecondaryValues {
			cell := in
			cell.WACC = s.WACCValues[i]
			if in.TerminalMethod == TerminalExitMultiple {
				cell.ExitMultiple = v
			} else {
				cell.PerpetualGrowthRate = v
			}
			res, err := CalculateDCF(cell, ebitda)
			if err != nil {
				continue
			}
			ev := res.EnterpriseValue
			s.Cells[i][j] = &ev
		}
	}
	return s, nil
}
