// Package store persists valuation snapshots, DCF valuations, the signal
// audit ledger, weight overrides, industry multiples, and simulation runs.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/valuation-engine/internal/bri"
	"github.com/sells-group/valuation-engine/internal/dcf"
	"github.com/sells-group/valuation-engine/internal/montecarlo"
	"github.com/sells-group/valuation-engine/internal/signal"
	"github.com/sells-group/valuation-engine/internal/valuation"
)

// ValuationSnapshot is an immutable record of one valuation calculation.
// Snapshots are only ever inserted.
type ValuationSnapshot struct {
	ID               string              `json:"id"`
	CompanyID        string              `json:"company_id"`
	AdjustedEBITDA   decimal.Decimal     `json:"adjusted_ebitda"`
	EBITDASource     string              `json:"ebitda_source"`
	MultipleSource   string              `json:"multiple_source"`
	MultipleCode     string              `json:"multiple_code,omitempty"`
	MultipleLow      float64             `json:"multiple_low"`
	MultipleHigh     float64             `json:"multiple_high"`
	CoreScore        float64             `json:"core_score"`
	BRIScore         float64             `json:"bri_score"`
	DiscountFraction float64             `json:"discount_fraction"`
	FinalMultiple    float64             `json:"final_multiple"`
	CurrentValue     decimal.Decimal     `json:"current_value"`
	PotentialValue   decimal.Decimal     `json:"potential_value"`
	ValueGap         decimal.Decimal     `json:"value_gap"`
	WeightSource     bri.WeightSource    `json:"weight_source"`
	CategoryScores   []bri.CategoryScore `json:"category_scores"`
	CreatedAt        time.Time           `json:"created_at"`
}

// DCFValuation is a saved DCF run. At most one per company is Active.
type DCFValuation struct {
	ID              string          `json:"id"`
	CompanyID       string          `json:"company_id"`
	Inputs          dcf.Inputs      `json:"inputs"`
	Results         dcf.Results     `json:"results"`
	EnterpriseValue decimal.Decimal `json:"enterprise_value"`
	EquityValue     decimal.Decimal `json:"equity_value"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TransitionRecord is one row of the signal audit ledger.
type TransitionRecord struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	signal.Transition
}

// IndustryMultiple is one row of the multiples table.
type IndustryMultiple struct {
	Level  valuation.Level `json:"level"`
	Code   string          `json:"code"`
	Source string          `json:"source,omitempty"`
	valuation.MultipleRange
	UpdatedAt time.Time `json:"updated_at"`
}

// SimulationRun is the persisted summary of a Monte Carlo run. The
// Postgres store also keeps the per-iteration outcomes.
type SimulationRun struct {
	ID                  string                 `json:"id"`
	CompanyID           string                 `json:"company_id"`
	Params              montecarlo.Params      `json:"params"`
	Assumptions         montecarlo.Assumptions `json:"assumptions"`
	StartingBalance     decimal.Decimal        `json:"starting_balance"`
	MedianEndingBalance decimal.Decimal        `json:"median_ending_balance"`
	SuccessRate         float64                `json:"success_rate"`
	Results             *montecarlo.Results    `json:"results"`
	CreatedAt           time.Time              `json:"created_at"`
}

// Store defines the persistence interface for the valuation engine.
// Getters return nil, nil when nothing matches.
type Store interface {
	// Valuation snapshots
	SaveValuationSnapshot(ctx context.Context, snap *ValuationSnapshot) error
	LatestValuationSnapshot(ctx context.Context, companyID string) (*ValuationSnapshot, error)
	ListValuationSnapshots(ctx context.Context, companyID string, limit int) ([]ValuationSnapshot, error)

	// DCF valuations
	SaveDCFValuation(ctx context.Context, v *DCFValuation) error
	SetActiveDCFValuation(ctx context.Context, companyID, id string) error
	GetActiveDCFValuation(ctx context.Context, companyID string) (*DCFValuation, error)

	// Signal audit ledger
	RecordSignalTransition(ctx context.Context, companyID string, t signal.Transition) error
	ListSignalTransitions(ctx context.Context, signalID string) ([]TransitionRecord, error)

	// Weight overrides; an empty company ID addresses the global override.
	GetWeightOverride(ctx context.Context, companyID string) (bri.Weights, error)
	SetWeightOverride(ctx context.Context, companyID string, w bri.Weights) error

	// Industry multiples
	LookupMultiple(ctx context.Context, level valuation.Level, code string) (*valuation.MultipleRange, error)
	UpsertIndustryMultiple(ctx context.Context, m IndustryMultiple) error
	UpsertIndustryMultiples(ctx context.Context, ms []IndustryMultiple) (int64, error)

	// Simulation runs
	SaveSimulationRun(ctx context.Context, run *SimulationRun) error
	GetSimulationRun(ctx context.Context, id string) (*SimulationRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store                    = (*SQLiteStore)(nil)
	_ Store                    = (*PostgresStore)(nil)
	_ valuation.MultipleSource = Store(nil)
)

// GlobalScope is the company ID of the global weight override.
const GlobalScope = ""

// Money converts a calculated amount to a cent-rounded decimal.
func Money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// stamp fills ID and CreatedAt when unset.
func stamp(id *string, at *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if at.IsZero() {
		*at = time.Now().UTC()
	}
}

func validateMultiple(m IndustryMultiple) error {
	if m.Code == "" {
		return eris.New("store: industry multiple requires a code")
	}
	return m.MultipleRange.Validate()
}

func marshalDCF(v *DCFValuation) (inputs, results []byte, err error) {
	if inputs, err = json.Marshal(v.Inputs); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal dcf inputs")
	}
	if results, err = json.Marshal(v.Results); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal dcf results")
	}
	return inputs, results, nil
}

func unmarshalDCF(v *DCFValuation, inputs, results []byte) error {
	if err := json.Unmarshal(inputs, &v.Inputs); err != nil {
		return eris.Wrap(err, "store: unmarshal dcf inputs")
	}
	return eris.Wrap(json.Unmarshal(results, &v.Results), "store: unmarshal dcf results")
}

func marshalRun(run *SimulationRun) (params, assumptions, results []byte, err error) {
	if params, err = json.Marshal(run.Params); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal simulation params")
	}
	if assumptions, err = json.Marshal(run.Assumptions); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal simulation assumptions")
	}
	if results, err = json.Marshal(run.Results); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal simulation results")
	}
	return params, assumptions, results, nil
}

func unmarshalRun(run *SimulationRun, params, assumptions, results []byte) error {
	if err := json.Unmarshal(params, &run.Params); err != nil {
		return eris.Wrap(err, "store: unmarshal simulation params")
	}
	if err := json.Unmarshal(assumptions, &run.Assumptions); err != nil {
		return eris.Wrap(err, "store: unmarshal simulation assumptions")
	}
	return eris.Wrap(json.Unmarshal(results, &run.Results), "store: unmarshal simulation results")
}
