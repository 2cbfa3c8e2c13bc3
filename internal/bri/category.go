// Package bri computes per-category assessment scores and the weighted
// Buyer Readiness Index (BRI) composite used to discount a company's multiple.
package bri

import "strings"

// Category is one of the six fixed assessment categories.
type Category string

// Assessment categories.
const (
	Financial       Category = "FINANCIAL"
	Transferability Category = "TRANSFERABILITY"
	Operational     Category = "OPERATIONAL"
	Market          Category = "MARKET"
	LegalTax        Category = "LEGAL_TAX"
	Personal        Category = "PERSONAL"
)

var allCategories = []Category{Financial, Transferability, Operational, Market, LegalTax, Personal}

// AllCategories returns the six categories in display order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is one of the six fixed categories.
func (c Category) Valid() bool {
	for _, k := range allCategories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory normalizes s ("legal_tax", "Legal Tax") to a Category.
func ParseCategory(s string) (Category, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(norm)
	c := Category(norm)
	return c, c.Valid()
}
