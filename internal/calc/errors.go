// Package calc holds the error types and numeric guards shared by the
// valuation, scoring, DCF, signal, and simulation engines.
package calc

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrInsufficientData is returned when a calculation has no result, as opposed
// to a result that happens to be zero.
var ErrInsufficientData = eris.New("insufficient data")

// InputError reports a calculation input that cannot produce a meaningful
// answer (malformed weights, non-positive multiples, growth at or above the
// discount rate).
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// Invalid builds an InputError with a formatted reason.
func Invalid(field, format string, args ...any) *InputError {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidInput returns true if err (or any error in its chain) is an InputError.
func IsInvalidInput(err error) bool {
	if err == nil {
		return false
	}
	var ie *InputError
	return errors.As(err, &ie)
}

// IsInsufficientData returns true if err wraps ErrInsufficientData.
func IsInsufficientData(err error) bool {
	return err != nil && eris.Is(err, ErrInsufficientData)
}
