package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/valuation-engine/internal/bri"
	"github.com/sells-group/valuation-engine/internal/calc"
	"github.com/sells-group/valuation-engine/internal/comparables"
	"github.com/sells-group/valuation-engine/internal/store"
	"github.com/sells-group/valuation-engine/internal/valuation"
)

// EBITDA sources recorded on snapshots.
const (
	EBITDAActual    = "actual"
	EBITDAEstimated = "estimated"
)

// MultipleSourceComparables marks a multiple range derived from comparables.
const MultipleSourceComparables = "comparables"

// ValuationRequest is everything needed to value one company.
type ValuationRequest struct {
	CompanyID      string                   `json:"company_id" yaml:"company_id"`
	CompanyName    string                   `json:"company_name" yaml:"company_name"`
	Description    string                   `json:"description,omitempty" yaml:"description"`
	Classification valuation.Classification `json:"classification" yaml:"classification"`
	Revenue        float64                  `json:"revenue" yaml:"revenue"`
	// AdjustedEBITDA is nil when unknown; it is then estimated from revenue.
	AdjustedEBITDA *float64                 `json:"adjusted_ebitda,omitempty" yaml:"adjusted_ebitda"`
	CoreFactors    valuation.CoreFactors    `json:"core_factors" yaml:"core_factors"`
	Responses      []bri.ScoringResponse    `json:"responses" yaml:"responses"`
	Comparables    []valuation.Comparable   `json:"comparables,omitempty" yaml:"comparables"`
	Save           bool                     `json:"save" yaml:"save"`
}

// MultipleInfo is the multiple range used and where it came from.
type MultipleInfo struct {
	valuation.MultipleRange
	Source      string                      `json:"source"`
	Code        string                      `json:"code,omitempty"`
	Comparables *valuation.WeightedMultiple `json:"comparables,omitempty"`
}

// ValuationResult is the outcome of Valuate. When Stale is set the
// calculation failed and Snapshot is the last persisted one; the other
// fields are then nil.
type ValuationResult struct {
	Snapshot  *store.ValuationSnapshot `json:"snapshot"`
	Score     *bri.Result              `json:"score,omitempty"`
	Multiples *MultipleInfo            `json:"multiples,omitempty"`
	Valuation *valuation.Result        `json:"valuation,omitempty"`
	Stale     bool                     `json:"stale"`
}

// Valuate scores the assessment, resolves weights, multiples, and EBITDA,
// and computes the valuation. With Save set the result is persisted as a new
// immutable snapshot.
//
// Invalid input is returned as is. Any other failure falls back to the
// company's latest snapshot, flagged Stale; without one the error matches
// ErrUnavailable.
func (p *Pipeline) Valuate(ctx context.Context, req ValuationRequest) (*ValuationResult, error) {
	log := zap.L().With(zap.String("company_id", req.CompanyID), zap.String("company", req.CompanyName))

	res, err := p.valuate(ctx, req, log)
	if err == nil {
		return res, nil
	}
	if calc.IsInvalidInput(err) || ctx.Err() != nil {
		return nil, err
	}

	log.Warn("pipeline: valuation failed, looking for last snapshot", zap.Error(err))
	if req.CompanyID != "" {
		snap, snapErr := p.store.LatestValuationSnapshot(ctx, req.CompanyID)
		if snapErr != nil {
			log.Warn("pipeline: load last snapshot", zap.Error(snapErr))
		}
		if snap != nil {
			return &ValuationResult{Snapshot: snap, Stale: true}, nil
		}
	}
	return nil, &unavailableError{cause: err}
}

func (p *Pipeline) valuate(ctx context.Context, req ValuationRequest, log *zap.Logger) (*ValuationResult, error) {
	if req.Save && req.CompanyID == "" {
		return nil, calc.Invalid("company_id", "required to save a snapshot")
	}
	coreScore, err := valuation.CalculateCoreScore(req.CoreFactors)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: core score")
	}

	var (
		companyWeights, globalWeights bri.Weights
		multiples                     *MultipleInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	if req.CompanyID != "" {
		g.Go(func() error {
			w, err := p.store.GetWeightOverride(gctx, req.CompanyID)
			if err != nil {
				return eris.Wrap(err, "pipeline: company weight override")
			}
			companyWeights = w
			return nil
		})
	}
	g.Go(func() error {
		w, err := p.globalWeights(gctx)
		if err != nil {
			return err
		}
		globalWeights = w
		return nil
	})
	g.Go(func() error {
		m, err := p.resolveMultiples(gctx, req, log)
		if err != nil {
			return err
		}
		multiples = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	weights, source := bri.ResolveWeights(companyWeights, globalWeights)
	if len(companyWeights) > 0 && source != bri.WeightSourceCompany {
		log.Warn("pipeline: ignoring invalid company weight override")
	}
	score, err := bri.Score(req.Responses, weights)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: bri score")
	}
	score.WeightSource = source
	if len(score.Sheet.Ignored) > 0 {
		log.Warn("pipeline: ignored responses with unknown category",
			zap.Strings("question_ids", score.Sheet.Ignored),
		)
	}

	ebitda, ebitdaSource, err := resolveEBITDA(req, multiples.MultipleRange)
	if err != nil {
		return nil, err
	}

	result, err := p.calc.Calculate(valuation.Input{
		AdjustedEBITDA:     ebitda,
		IndustryMultipleLo: multiples.EBITDALow,
		IndustryMultipleHi: multiples.EBITDAHigh,
		CoreScore:          coreScore,
		BRIScore:           score.BRIScore,
	})
	if err != nil {
		return nil, err
	}

	snap := &store.ValuationSnapshot{
		CompanyID:        req.CompanyID,
		AdjustedEBITDA:   store.Money(ebitda),
		EBITDASource:     ebitdaSource,
		MultipleSource:   multiples.Source,
		MultipleCode:     multiples.Code,
		MultipleLow:      multiples.EBITDALow,
		MultipleHigh:     multiples.EBITDAHigh,
		CoreScore:        coreScore,
		BRIScore:         score.BRIScore,
		DiscountFraction: result.DiscountFraction,
		FinalMultiple:    result.FinalMultiple,
		CurrentValue:     store.Money(result.CurrentValue),
		PotentialValue:   store.Money(result.PotentialValue),
		ValueGap:         store.Money(result.ValueGap),
		WeightSource:     source,
		CategoryScores:   score.Sheet.Categories,
		CreatedAt:        p.now(),
	}
	if req.Save {
		if err := p.store.SaveValuationSnapshot(ctx, snap); err != nil {
			return nil, eris.Wrap(err, "pipeline: save snapshot")
		}
	}

	log.Info("pipeline: valuation complete",
		zap.Float64("current_value", result.CurrentValue),
		zap.Float64("potential_value", result.PotentialValue),
		zap.String("multiple_source", multiples.Source),
		zap.String("weight_source", string(source)),
		zap.Bool("saved", req.Save),
	)
	return &ValuationResult{
		Snapshot:  snap,
		Score:     score,
		Multiples: multiples,
		Valuation: result,
	}, nil
}

// globalWeights prefers a stored global override over the configured one.
func (p *Pipeline) globalWeights(ctx context.Context) (bri.Weights, error) {
	w, err := p.store.GetWeightOverride(ctx, store.GlobalScope)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: global weight override")
	}
	if len(w) > 0 {
		return w, nil
	}
	return p.cfg.GlobalWeights()
}

// resolveMultiples runs the classification cascade and, when a comparable
// source is available, replaces the EBITDA range with the comparables'
// weighted range. Comparable failures fall back to the cascade.
func (p *Pipeline) resolveMultiples(ctx context.Context, req ValuationRequest, log *zap.Logger) (*MultipleInfo, error) {
	cascade, err := valuation.ResolveMultiples(ctx, p.store, req.Classification)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: resolve multiples")
	}
	base := cascade.MultipleRange
	if cascade.Level == valuation.LevelDefault && p.cfg.Valuation.DefaultMultiples.Validate() == nil {
		base = p.cfg.Valuation.DefaultMultiples
	}
	info := &MultipleInfo{MultipleRange: base, Source: string(cascade.Level), Code: cascade.Code}

	src := p.comparableSource(req)
	if src == nil {
		return info, nil
	}
	comps, err := src.Candidates(ctx, valuation.CandidateRequest{
		CompanyName:    req.CompanyName,
		Description:    req.Description,
		Classification: req.Classification,
		Revenue:        req.Revenue,
		EBITDA:         derefOr(req.AdjustedEBITDA, 0),
		Limit:          p.cfg.Valuation.Comparables.Limit,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("pipeline: comparables unavailable, using industry multiples", zap.Error(err))
		return info, nil
	}
	wm, err := valuation.CalculateWeightedMultiple(comps, p.cfg.Valuation.Bounds)
	if err != nil {
		log.Warn("pipeline: comparables unusable, using industry multiples",
			zap.Int("candidates", len(comps)),
			zap.Error(err),
		)
		return info, nil
	}
	r := wm.Range(base)
	if err := r.Validate(); err != nil {
		log.Warn("pipeline: comparable range invalid, using industry multiples", zap.Error(err))
		return info, nil
	}
	return &MultipleInfo{MultipleRange: r, Source: MultipleSourceComparables, Comparables: wm}, nil
}

// comparableSource picks the candidate source for req: the configured source
// with the request's own comparables as fallback, or just the request's.
func (p *Pipeline) comparableSource(req ValuationRequest) valuation.CandidateSource {
	var static valuation.CandidateSource
	if len(req.Comparables) > 0 {
		static = comparables.StaticSource{Comparables: req.Comparables}
	}
	if !p.cfg.Valuation.Comparables.Enabled || p.candidates == nil {
		return static
	}
	if static == nil {
		return p.candidates
	}
	return comparables.FallbackSource{Primary: p.candidates, Fallback: static}
}

// resolveEBITDA returns the actual EBITDA when given, else an estimate from
// revenue and the multiple range.
func resolveEBITDA(req ValuationRequest, r valuation.MultipleRange) (float64, string, error) {
	if req.AdjustedEBITDA != nil {
		v := *req.AdjustedEBITDA
		if !calc.IsFinite(v) {
			return 0, "", calc.Invalid("adjusted_ebitda", "must be a finite number")
		}
		return v, EBITDAActual, nil
	}
	if !calc.IsFinite(req.Revenue) || req.Revenue < 0 {
		return 0, "", calc.Invalid("revenue", "must be >= 0, got %v", req.Revenue)
	}
	est := valuation.EstimateEBITDAFromRange(req.Revenue, r)
	if est <= 0 {
		return 0, "", eris.Wrap(calc.ErrInsufficientData, "pipeline: no EBITDA and no revenue to estimate from")
	}
	return est, EBITDAEstimated, nil
}

func derefOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
