// Package pipeline composes the scoring, valuation, DCF, signal, and
// simulation engines with persistence and comparable-company sources.
package pipeline

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-engine/internal/config"
	"github.com/sells-group/valuation-engine/internal/store"
	"github.com/sells-group/valuation-engine/internal/valuation"
)

// ErrUnavailable marks a valuation that could not be produced and had no
// persisted snapshot to fall back to.
var ErrUnavailable = eris.New("valuation unavailable")

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string { return "valuation unavailable: " + e.cause.Error() }

func (e *unavailableError) Unwrap() error { return e.cause }

func (e *unavailableError) Is(target error) bool { return target == ErrUnavailable }

// Pipeline runs engine calculations against the store.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	candidates valuation.CandidateSource
	calc       *valuation.Calculator
	now        func() time.Time
}

// New creates a Pipeline. candidates may be nil, in which case only
// comparables supplied with a request are used.
func New(cfg *config.Config, st store.Store, candidates valuation.CandidateSource) (*Pipeline, error) {
	if cfg == nil || st == nil {
		return nil, eris.New("pipeline: config and store are required")
	}
	calc, err := valuation.NewCalculator(cfg.Valuation.Discount)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create calculator")
	}
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		candidates: candidates,
		calc:       calc,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Store returns the pipeline's store.
func (p *Pipeline) Store() store.Store {
	return p.store
}
