package comparables

import (
	"context"
	"sort"

	"github.com/sells-group/valuation-engine/internal/valuation"
)

// StaticSource serves a fixed comparable set, most relevant first.
type StaticSource struct {
	Comparables []valuation.Comparable
}

// Candidates implements valuation.CandidateSource.
func (s StaticSource) Candidates(_ context.Context, req valuation.CandidateRequest) ([]valuation.Comparable, error) {
	out := make([]valuation.Comparable, len(s.Comparables))
	copy(out, s.Comparables)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}
