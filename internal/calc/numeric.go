package calc

import "math"

// IsFinite reports whether v is neither NaN nor ±Inf.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SafeDivide returns n/d, or 0 when d is zero or the quotient is not finite.
func SafeDivide(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	q := n / d
	if !IsFinite(q) {
		return 0
	}
	return q
}

// Clamp bounds v to [lo, hi]. NaN clamps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RoundTo rounds v to the nearest multiple of unit. A non-positive unit
// returns v unchanged.
func RoundTo(v, unit float64) float64 {
	if unit <= 0 {
		return v
	}
	return math.Round(v/unit) * unit
}

// InUnitInterval reports whether v is a finite number in [0, 1].
func InUnitInterval(v float64) bool {
	return IsFinite(v) && v >= 0 && v <= 1
}
