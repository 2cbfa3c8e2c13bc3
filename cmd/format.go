package main

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// money formats v as whole dollars with thousands separators.
func money(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.0f", math.Abs(v))
	}
	return printer.Sprintf("$%.0f", v)
}

// pct formats a fraction as a percentage with one decimal.
func pct(v float64) string {
	return printer.Sprintf("%.1f%%", v*100)
}

// multiple formats an EBITDA or revenue multiple.
func multiple(v float64) string {
	return printer.Sprintf("%.2fx", v)
}
