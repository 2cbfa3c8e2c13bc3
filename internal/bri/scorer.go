package bri

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// ScoringResponse is the scored answer to one assessment question.
type ScoringResponse struct {
	QuestionID      string    `json:"question_id" yaml:"question_id"`
	Category        Category  `json:"category" yaml:"category"`
	MaxImpactPoints float64   `json:"max_impact_points" yaml:"max_impact_points"`
	ScoreValue      *float64  `json:"score_value,omitempty" yaml:"score_value,omitempty"` // nil = unresolved
	NotApplicable   bool      `json:"not_applicable,omitempty" yaml:"not_applicable,omitempty"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

// applicable reports whether r contributes to its category's score.
func (r *ScoringResponse) applicable() bool {
	if r.NotApplicable || r.ScoreValue == nil {
		return false
	}
	return calc.IsFinite(*r.ScoreValue) && calc.IsFinite(r.MaxImpactPoints) && r.MaxImpactPoints >= 0
}

// CategoryScore is the normalized score for one category.
type CategoryScore struct {
	Category     Category `json:"category"`
	TotalPoints  float64  `json:"total_points"`
	EarnedPoints float64  `json:"earned_points"`
	Score        float64  `json:"score"`
}

// ScoreSheet holds the per-category scores for one scoring run.
type ScoreSheet struct {
	Categories []CategoryScore `json:"categories"`
	// Ignored lists question IDs whose category is not one of the six fixed
	// categories. They do not affect any score.
	Ignored []string `json:"ignored,omitempty"`
	// Responses is the number of responses left after deduplication.
	Responses int `json:"responses"`
}

// Get returns the score for category c.
func (s *ScoreSheet) Get(c Category) (CategoryScore, bool) {
	for _, cs := range s.Categories {
		if cs.Category == c {
			return cs, true
		}
	}
	return CategoryScore{}, false
}

// Result bundles the category sheet with both composites.
type Result struct {
	Sheet         ScoreSheet   `json:"sheet"`
	BRIScore      float64      `json:"bri_score"`
	DealReadiness float64      `json:"deal_readiness_score"`
	Weights       Weights      `json:"weights"`
	WeightSource  WeightSource `json:"weight_source,omitempty"`
}

// DedupeResponses keeps one response per question: the one with the latest
// UpdatedAt. On equal timestamps the record seen first wins. Input order of
// first appearance is preserved.
func DedupeResponses(responses []ScoringResponse) []ScoringResponse {
	idx := make(map[string]int, len(responses))
	out := make([]ScoringResponse, 0, len(responses))
	for _, r := range responses {
		i, seen := idx[r.QuestionID]
		if !seen {
			idx[r.QuestionID] = len(out)
			out = append(out, r)
			continue
		}
		if r.UpdatedAt.After(out[i].UpdatedAt) {
			out[i] = r
		}
	}
	return out
}

// CalculateCategoryScores deduplicates responses and computes the
// earned/total ratio for each of the six categories. Not-applicable and
// unanswered responses are excluded from both numerator and denominator.
func CalculateCategoryScores(responses []ScoringResponse) ScoreSheet {
	deduped := DedupeResponses(responses)

	totals := make(map[Category]*CategoryScore, len(allCategories))
	for _, c := range allCategories {
		totals[c] = &CategoryScore{Category: c}
	}

	var ignored []string
	for i := range deduped {
		r := &deduped[i]
		cs, ok := totals[r.Category]
		if !ok {
			ignored = append(ignored, r.QuestionID)
			continue
		}
		if !r.applicable() {
			continue
		}
		value := calc.Clamp(*r.ScoreValue, 0, 1)
		cs.TotalPoints += r.MaxImpactPoints
		cs.EarnedPoints += r.MaxImpactPoints * value
	}

	sheet := ScoreSheet{
		Categories: make([]CategoryScore, 0, len(allCategories)),
		Ignored:    ignored,
		Responses:  len(deduped),
	}
	for _, c := range allCategories {
		cs := totals[c]
		if cs.TotalPoints > 0 {
			cs.Score = calc.Clamp(cs.EarnedPoints/cs.TotalPoints, 0, 1)
		}
		sheet.Categories = append(sheet.Categories, *cs)
	}
	return sheet
}

// CalculateWeightedBRIScore returns Σ(score × weight) over the categories in
// weights. Categories present in scores but absent from weights contribute
// nothing. The weight set is validated first.
func CalculateWeightedBRIScore(scores []CategoryScore, weights Weights) (float64, error) {
	if err := ValidateWeights(weights); err != nil {
		return 0, eris.Wrap(err, "bri: weighted score")
	}

	var total float64
	for _, cs := range scores {
		w, ok := weights[cs.Category]
		if !ok {
			continue
		}
		if !calc.IsFinite(cs.Score) {
			continue
		}
		total += cs.Score * w
	}
	return calc.Clamp(total, 0, 1), nil
}

// CalculateDealReadinessScore returns the composite under DealReadinessWeights.
func CalculateDealReadinessScore(scores []CategoryScore) float64 {
	// The built-in weight set always validates.
	s, _ := CalculateWeightedBRIScore(scores, DealReadinessWeights())
	return s
}

// Score computes the category sheet, the BRI composite under weights, and the
// Deal Readiness composite.
func Score(responses []ScoringResponse, weights Weights) (*Result, error) {
	sheet := CalculateCategoryScores(responses)

	briScore, err := CalculateWeightedBRIScore(sheet.Categories, weights)
	if err != nil {
		return nil, err
	}

	return &Result{
		Sheet:         sheet,
		BRIScore:      briScore,
		DealReadiness: CalculateDealReadinessScore(sheet.Categories),
		Weights:       weights.Clone(),
	}, nil
}
