package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/calc"
	"github.com/sells-group/valuation-engine/internal/montecarlo"
	"github.com/sells-group/valuation-engine/internal/store"
)

// Simulation run modes.
const (
	ModeSync     = "sync"
	ModeChunked  = "chunked"
	ModeParallel = "parallel"
)

// SimulationRequest describes one retirement simulation. A nil Params uses
// the configured defaults.
type SimulationRequest struct {
	CompanyID   string                 `json:"company_id" yaml:"company_id"`
	Assets      []montecarlo.Asset     `json:"assets" yaml:"assets"`
	Assumptions montecarlo.Assumptions `json:"assumptions" yaml:"assumptions"`
	Params      *montecarlo.Params     `json:"params,omitempty" yaml:"params"`
	Parallel    bool                   `json:"parallel" yaml:"parallel"`
	Save        bool                   `json:"save" yaml:"save"`
}

// SimulationResult is the outcome of Simulate.
type SimulationResult struct {
	RunID    string              `json:"run_id,omitempty"`
	Mode     string              `json:"mode"`
	Params   montecarlo.Params   `json:"params"`
	Results  *montecarlo.Results `json:"results"`
	Duration time.Duration       `json:"duration"`
}

// Simulate runs the Monte Carlo simulation. Runs above the configured sync
// threshold are chunked, reporting progress and honoring cancellation
// between chunks; Parallel spreads iterations over the configured workers.
// Every mode yields identical results for the same seed.
func (p *Pipeline) Simulate(ctx context.Context, req SimulationRequest, progress montecarlo.ProgressFunc) (*SimulationResult, error) {
	if req.Save && req.CompanyID == "" {
		return nil, calc.Invalid("company_id", "required to save a simulation run")
	}
	params := p.cfg.MonteCarlo.Params
	if req.Params != nil {
		params = *req.Params
	}

	var (
		res  *montecarlo.Results
		err  error
		mode string
	)
	start := time.Now()
	switch {
	case req.Parallel && p.cfg.MonteCarlo.Workers > 1:
		mode = ModeParallel
		res, err = montecarlo.RunParallel(ctx, req.Assets, req.Assumptions, params, p.cfg.MonteCarlo.Workers)
	case params.Iterations > p.cfg.MonteCarlo.SyncThreshold:
		mode = ModeChunked
		res, err = montecarlo.RunChunked(ctx, req.Assets, req.Assumptions, params, montecarlo.ChunkOptions{
			ChunkSize: p.cfg.MonteCarlo.ChunkSize,
			Progress:  progress,
		})
	default:
		mode = ModeSync
		res, err = montecarlo.Run(req.Assets, req.Assumptions, params)
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: simulate")
	}

	out := &SimulationResult{Mode: mode, Params: params, Results: res, Duration: time.Since(start)}
	if req.Save {
		run := &store.SimulationRun{
			CompanyID:           req.CompanyID,
			Params:              params,
			Assumptions:         req.Assumptions,
			StartingBalance:     store.Money(res.StartingBalance),
			MedianEndingBalance: store.Money(res.MedianEndingBalance),
			SuccessRate:         res.SuccessRate,
			Results:             res,
			CreatedAt:           p.now(),
		}
		if err := p.store.SaveSimulationRun(ctx, run); err != nil {
			return nil, eris.Wrap(err, "pipeline: save simulation run")
		}
		out.RunID = run.ID
	}

	zap.L().Info("pipeline: simulation complete",
		zap.String("company_id", req.CompanyID),
		zap.String("mode", mode),
		zap.Int("iterations", res.Iterations),
		zap.Float64("success_rate", res.SuccessRate),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}
