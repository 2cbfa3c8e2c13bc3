package comparables

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/valuation"
)

// FallbackSource asks Primary first and Fallback when Primary fails or
// returns nothing. Context cancellation is never masked.
type FallbackSource struct {
	Primary  valuation.CandidateSource
	Fallback valuation.CandidateSource
}

// Candidates implements valuation.CandidateSource.
func (f FallbackSource) Candidates(ctx context.Context, req valuation.CandidateRequest) ([]valuation.Comparable, error) {
	comps, err := f.Primary.Candidates(ctx, req)
	if err == nil && len(comps) > 0 {
		return comps, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, eris.Wrap(ctxErr, "comparables: primary source")
	}
	if f.Fallback == nil {
		if err != nil {
			return nil, err
		}
		return comps, nil
	}

	zap.L().Warn("comparables: primary source unavailable, using fallback",
		zap.String("company", req.CompanyName),
		zap.Int("primary_count", len(comps)),
		zap.Error(err),
	)
	comps, fbErr := f.Fallback.Candidates(ctx, req)
	if fbErr != nil {
		return nil, eris.Wrap(fbErr, "comparables: fallback source")
	}
	return comps, nil
}
