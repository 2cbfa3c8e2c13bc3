// Package signal ranks, groups, and summarizes discrete risk signals, and
// applies advisor confirm/dismiss transitions with an audit record.
package signal

import (
	"math"
	"strings"
	"time"
)

// Severity of a signal.
type Severity string

// Severities, least to most severe.
const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityWeights = map[Severity]float64{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// Weight returns 1 (INFO) through 5 (CRITICAL); unknown severities weigh 0.
func (s Severity) Weight() float64 { return severityWeights[s] }

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityWeights[s]
	return ok
}

// Confidence in a signal's accuracy.
type Confidence string

// Confidence levels.
const (
	ConfidenceUncertain         Confidence = "UNCERTAIN"
	ConfidenceSomewhatConfident Confidence = "SOMEWHAT_CONFIDENT"
	ConfidenceConfident         Confidence = "CONFIDENT"
	ConfidenceVerified          Confidence = "VERIFIED"
	ConfidenceNotApplicable     Confidence = "NOT_APPLICABLE"
)

var confidenceMultipliers = map[Confidence]float64{
	ConfidenceUncertain:         0.25,
	ConfidenceSomewhatConfident: 0.50,
	ConfidenceConfident:         0.75,
	ConfidenceVerified:          1.00,
	ConfidenceNotApplicable:     0,
}

// Multiplier returns the confidence multiplier; unknown levels return 0.
func (c Confidence) Multiplier() float64 { return confidenceMultipliers[c] }

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	_, ok := confidenceMultipliers[c]
	return ok
}

// ResolutionStatus is a signal's lifecycle state.
type ResolutionStatus string

// Resolution statuses in lifecycle order.
const (
	StatusOpen         ResolutionStatus = "OPEN"
	StatusAcknowledged ResolutionStatus = "ACKNOWLEDGED"
	StatusInProgress   ResolutionStatus = "IN_PROGRESS"
	StatusResolved     ResolutionStatus = "RESOLVED"
	StatusDismissed    ResolutionStatus = "DISMISSED"
	StatusExpired      ResolutionStatus = "EXPIRED"
)

var statusMultipliers = map[ResolutionStatus]float64{
	StatusOpen:         1.0,
	StatusAcknowledged: 0.8,
	StatusInProgress:   0.6,
	StatusResolved:     0.2,
	StatusDismissed:    0.1,
	StatusExpired:      0.05,
}

var statusOrder = map[ResolutionStatus]int{
	StatusOpen:         0,
	StatusAcknowledged: 1,
	StatusInProgress:   2,
	StatusResolved:     3,
	StatusDismissed:    3,
	StatusExpired:      3,
}

// Multiplier returns the status multiplier; unknown statuses return 0.
func (s ResolutionStatus) Multiplier() float64 { return statusMultipliers[s] }

// Valid reports whether s is a known status.
func (s ResolutionStatus) Valid() bool {
	_, ok := statusMultipliers[s]
	return ok
}

// Terminal reports whether no further action applies.
func (s ResolutionStatus) Terminal() bool {
	return s == StatusResolved || s == StatusDismissed || s == StatusExpired
}

// Signal is a timestamped risk or opportunity event.
type Signal struct {
	ID                   string           `json:"id" yaml:"id"`
	Title                string           `json:"title" yaml:"title"`
	Severity             Severity         `json:"severity" yaml:"severity"`
	Confidence           Confidence       `json:"confidence" yaml:"confidence"`
	EstimatedValueImpact *float64         `json:"estimated_value_impact,omitempty" yaml:"estimated_value_impact,omitempty"`
	Category             string           `json:"category" yaml:"category"`
	ResolutionStatus     ResolutionStatus `json:"resolution_status" yaml:"resolution_status"`
	EventType            string           `json:"event_type" yaml:"event_type"`
	CreatedAt            time.Time        `json:"created_at" yaml:"created_at"`
	ResolvedAt           *time.Time       `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

// Normalize upper-cases enum fields and fills blank confidence and status
// with UNCERTAIN and OPEN.
func (s *Signal) Normalize() {
	s.Severity = Severity(strings.ToUpper(strings.TrimSpace(string(s.Severity))))
	s.Confidence = Confidence(strings.ToUpper(strings.TrimSpace(string(s.Confidence))))
	s.ResolutionStatus = ResolutionStatus(strings.ToUpper(strings.TrimSpace(string(s.ResolutionStatus))))
	if s.Confidence == "" {
		s.Confidence = ConfidenceUncertain
	}
	if s.ResolutionStatus == "" {
		s.ResolutionStatus = StatusOpen
	}
}

// WeightedImpact returns |impact| scaled by the confidence multiplier. A
// signal with no impact estimate contributes 0.
func WeightedImpact(s Signal) float64 {
	if s.EstimatedValueImpact == nil {
		return 0
	}
	v := *s.EstimatedValueImpact
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Abs(v) * s.Confidence.Multiplier()
}

// valueFactorDivisor scales dollar impact into the rank score.
const valueFactorDivisor = 10_000

// RankScore is severity × confidence × status × value factor, where the
// value factor is max(1, WeightedImpact/10000).
func RankScore(s Signal) float64 {
	valueFactor := math.Max(1, WeightedImpact(s)/valueFactorDivisor)
	return s.Severity.Weight() * s.Confidence.Multiplier() * s.ResolutionStatus.Multiplier() * valueFactor
}
