package signal

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// Upgrade moves confidence one rung up after an advisor confirms.
// UNCERTAIN and SOMEWHAT_CONFIDENT both go to CONFIDENT; VERIFIED saturates.
func Upgrade(c Confidence) Confidence {
	switch c {
	case ConfidenceUncertain, ConfidenceSomewhatConfident:
		return ConfidenceConfident
	case ConfidenceConfident, ConfidenceVerified:
		return ConfidenceVerified
	default:
		return c
	}
}

// Downgrade moves confidence one rung down after an advisor dismisses.
// VERIFIED goes to CONFIDENT; everything below goes to UNCERTAIN.
func Downgrade(c Confidence) Confidence {
	switch c {
	case ConfidenceVerified:
		return ConfidenceConfident
	case ConfidenceConfident, ConfidenceSomewhatConfident, ConfidenceUncertain:
		return ConfidenceUncertain
	default:
		return c
	}
}

// Action names an advisor or system action on a signal.
type Action string

// Actions recorded in the audit ledger.
const (
	ActionConfirm Action = "confirm"
	ActionDismiss Action = "dismiss"
	ActionAdvance Action = "advance"
)

// Transition is the audit record of one action.
type Transition struct {
	SignalID         string           `json:"signal_id"`
	Action           Action           `json:"action"`
	Actor            string           `json:"actor,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	ConfidenceBefore Confidence       `json:"confidence_before"`
	ConfidenceAfter  Confidence       `json:"confidence_after"`
	StatusBefore     ResolutionStatus `json:"status_before"`
	StatusAfter      ResolutionStatus `json:"status_after"`
	ValueBefore      float64          `json:"value_before"`
	ValueAfter       float64          `json:"value_after"`
	ValueDelta       float64          `json:"value_delta"`
	At               time.Time        `json:"at"`
}

func checkActionable(s Signal, action Action) error {
	if !s.ResolutionStatus.Valid() {
		return calc.Invalid("resolution_status", "unknown status %q", s.ResolutionStatus)
	}
	if s.ResolutionStatus.Terminal() {
		return calc.Invalid("resolution_status", "cannot %s signal %s in terminal status %s", action, s.ID, s.ResolutionStatus)
	}
	return nil
}

func record(before, after Signal, action Action, actor, reason string, at time.Time) Transition {
	vb, va := WeightedImpact(before), WeightedImpact(after)
	return Transition{
		SignalID:         before.ID,
		Action:           action,
		Actor:            actor,
		Reason:           reason,
		ConfidenceBefore: before.Confidence,
		ConfidenceAfter:  after.Confidence,
		StatusBefore:     before.ResolutionStatus,
		StatusAfter:      after.ResolutionStatus,
		ValueBefore:      vb,
		ValueAfter:       va,
		ValueDelta:       va - vb,
		At:               at,
	}
}

// Confirm upgrades confidence one rung and leaves the resolution status as
// is, so the signal keeps counting toward value at risk. It returns the
// updated signal and its audit record.
func Confirm(s Signal, actor string, at time.Time) (Signal, Transition, error) {
	if err := checkActionable(s, ActionConfirm); err != nil {
		return s, Transition{}, eris.Wrap(err, "signal: confirm")
	}
	after := s
	after.Confidence = Upgrade(s.Confidence)
	return after, record(s, after, ActionConfirm, actor, "", at), nil
}

// Dismiss downgrades confidence one rung and marks the signal DISMISSED.
func Dismiss(s Signal, actor, reason string, at time.Time) (Signal, Transition, error) {
	if err := checkActionable(s, ActionDismiss); err != nil {
		return s, Transition{}, eris.Wrap(err, "signal: dismiss")
	}
	after := s
	after.Confidence = Downgrade(s.Confidence)
	after.ResolutionStatus = StatusDismissed
	resolved := at
	after.ResolvedAt = &resolved
	return after, record(s, after, ActionDismiss, actor, reason, at), nil
}

// Advance moves the signal to status, which must be later in the lifecycle.
// Moving to a terminal status stamps ResolvedAt.
func Advance(s Signal, status ResolutionStatus, actor string, at time.Time) (Signal, Transition, error) {
	if err := checkActionable(s, ActionAdvance); err != nil {
		return s, Transition{}, eris.Wrap(err, "signal: advance")
	}
	if !status.Valid() {
		return s, Transition{}, eris.Wrap(calc.Invalid("resolution_status", "unknown status %q", status), "signal: advance")
	}
	if statusOrder[status] <= statusOrder[s.ResolutionStatus] {
		return s, Transition{}, eris.Wrap(
			calc.Invalid("resolution_status", "cannot move from %s back to %s", s.ResolutionStatus, status),
			"signal: advance",
		)
	}
	after := s
	after.ResolutionStatus = status
	if status.Terminal() {
		resolved := at
		after.ResolvedAt = &resolved
	}
	return after, record(s, after, ActionAdvance, actor, "", at), nil
}
