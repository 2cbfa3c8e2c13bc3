package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/calc"
	"github.com/sells-group/valuation-engine/internal/signal"
)

// SignalSummary is the full signal view for one company.
type SignalSummary struct {
	Ranked  []signal.Ranked    `json:"ranked"`
	Groups  []signal.Group     `json:"groups"`
	Display signal.Display     `json:"display"`
	Risk    signal.RiskSummary `json:"risk"`
}

// SummarizeSignals normalizes, ranks, groups, and aggregates signals as of
// now.
func (p *Pipeline) SummarizeSignals(signals []signal.Signal, now time.Time) (*SignalSummary, error) {
	norm, err := normalizeSignals(signals)
	if err != nil {
		return nil, err
	}
	ranked := signal.Rank(norm)
	groups := signal.GroupSignals(ranked)
	return &SignalSummary{
		Ranked:  ranked,
		Groups:  groups,
		Display: signal.SplitDisplay(groups, p.cfg.Signals.TopN),
		Risk:    signal.Summarize(norm, now, p.cfg.Signals.Summary),
	}, nil
}

// ConfirmSignal upgrades a signal's confidence and appends the transition to
// the audit ledger.
func (p *Pipeline) ConfirmSignal(ctx context.Context, companyID string, s signal.Signal, actor string) (signal.Signal, signal.Transition, error) {
	return p.transition(ctx, companyID, s, func(s signal.Signal, at time.Time) (signal.Signal, signal.Transition, error) {
		return signal.Confirm(s, actor, at)
	})
}

// DismissSignal downgrades and dismisses a signal and appends the transition
// to the audit ledger.
func (p *Pipeline) DismissSignal(ctx context.Context, companyID string, s signal.Signal, actor, reason string) (signal.Signal, signal.Transition, error) {
	return p.transition(ctx, companyID, s, func(s signal.Signal, at time.Time) (signal.Signal, signal.Transition, error) {
		return signal.Dismiss(s, actor, reason, at)
	})
}

type transitionFunc func(s signal.Signal, at time.Time) (signal.Signal, signal.Transition, error)

// transition applies fn and records the result. The updated signal is only
// returned once the ledger entry is written.
func (p *Pipeline) transition(ctx context.Context, companyID string, s signal.Signal, fn transitionFunc) (signal.Signal, signal.Transition, error) {
	if s.ID == "" {
		return s, signal.Transition{}, calc.Invalid("id", "signal ID is required")
	}
	s.Normalize()
	after, t, err := fn(s, p.now())
	if err != nil {
		return s, signal.Transition{}, err
	}
	if err := p.store.RecordSignalTransition(ctx, companyID, t); err != nil {
		return s, signal.Transition{}, eris.Wrap(err, "pipeline: record signal transition")
	}
	zap.L().Info("pipeline: signal transition",
		zap.String("company_id", companyID),
		zap.String("signal_id", t.SignalID),
		zap.String("action", string(t.Action)),
		zap.String("confidence", string(t.ConfidenceAfter)),
		zap.Float64("value_delta", t.ValueDelta),
	)
	return after, t, nil
}

func normalizeSignals(signals []signal.Signal) ([]signal.Signal, error) {
	out := make([]signal.Signal, len(signals))
	for i, s := range signals {
		s.Normalize()
		if !s.Severity.Valid() {
			return nil, calc.Invalid("severity", "signal %s has unknown severity %q", s.ID, s.Severity)
		}
		if !s.Confidence.Valid() {
			return nil, calc.Invalid("confidence", "signal %s has unknown confidence %q", s.ID, s.Confidence)
		}
		if !s.ResolutionStatus.Valid() {
			return nil, calc.Invalid("resolution_status", "signal %s has unknown status %q", s.ID, s.ResolutionStatus)
		}
		out[i] = s
	}
	return out, nil
}
