package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-engine/internal/bri"
	"github.com/sells-group/valuation-engine/internal/db"
	"github.com/sells-group/valuation-engine/internal/signal"
	"github.com/sells-group/valuation-engine/internal/valuation"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects a pool and returns a PostgresStore over it.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close is a no-op.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS valuation_snapshots (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	adjusted_ebitda   NUMERIC(18,2) NOT NULL,
	ebitda_source     TEXT NOT NULL,
	multiple_source   TEXT NOT NULL,
	multiple_code     TEXT NOT NULL DEFAULT '',
	multiple_low      DOUBLE PRECISION NOT NULL,
	multiple_high     DOUBLE PRECISION NOT NULL,
	core_score        DOUBLE PRECISION NOT NULL,
	bri_score         DOUBLE PRECISION NOT NULL,
	discount_fraction DOUBLE PRECISION NOT NULL,
	final_multiple    DOUBLE PRECISION NOT NULL,
	current_value     NUMERIC(18,2) NOT NULL,
	potential_value   NUMERIC(18,2) NOT NULL,
	value_gap         NUMERIC(18,2) NOT NULL,
	weight_source     TEXT NOT NULL,
	category_scores   JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dcf_valuations (
	id               TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL,
	inputs           JSONB NOT NULL,
	results          JSONB NOT NULL,
	enterprise_value NUMERIC(18,2) NOT NULL,
	equity_value     NUMERIC(18,2) NOT NULL,
	is_active        BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS signal_transitions (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	signal_id         TEXT NOT NULL,
	action            TEXT NOT NULL,
	actor             TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL DEFAULT '',
	confidence_before TEXT NOT NULL,
	confidence_after  TEXT NOT NULL,
	status_before     TEXT NOT NULL,
	status_after      TEXT NOT NULL,
	value_before      DOUBLE PRECISION NOT NULL,
	value_after       DOUBLE PRECISION NOT NULL,
	value_delta       DOUBLE PRECISION NOT NULL,
	at                TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS weight_overrides (
	company_id TEXT PRIMARY KEY,
	weights    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS industry_multiples (
	level        TEXT NOT NULL,
	code         TEXT NOT NULL,
	ebitda_low   DOUBLE PRECISION NOT NULL,
	ebitda_high  DOUBLE PRECISION NOT NULL,
	revenue_low  DOUBLE PRECISION NOT NULL,
	revenue_high DOUBLE PRECISION NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (level, code)
);

CREATE TABLE IF NOT EXISTS simulation_runs (
	id                    TEXT PRIMARY KEY,
	company_id            TEXT NOT NULL DEFAULT '',
	params                JSONB NOT NULL,
	assumptions           JSONB NOT NULL,
	starting_balance      NUMERIC(18,2) NOT NULL,
	median_ending_balance NUMERIC(18,2) NOT NULL,
	success_rate          DOUBLE PRECISION NOT NULL,
	results               JSONB NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS simulation_iterations (
	run_id          TEXT NOT NULL REFERENCES simulation_runs(id) ON DELETE CASCADE,
	idx             INTEGER NOT NULL,
	ending_balance  DOUBLE PRECISION NOT NULL,
	years_lasted    INTEGER NOT NULL,
	ran_out         BOOLEAN NOT NULL,
	failure_year    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_valuation_snapshots_company ON valuation_snapshots(company_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dcf_valuations_company ON dcf_valuations(company_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_dcf_valuations_active ON dcf_valuations(company_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_signal_transitions_signal ON signal_transitions(signal_id, at);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool exposes the underlying pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// --- valuation snapshots ---

func (s *PostgresStore) SaveValuationSnapshot(ctx context.Context, snap *ValuationSnapshot) error {
	stamp(&snap.ID, &snap.CreatedAt)
	scores, err := json.Marshal(snap.CategoryScores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal category scores")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO valuation_snapshots (`+snapshotColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		snap.ID, snap.CompanyID, snap.AdjustedEBITDA, snap.EBITDASource, snap.MultipleSource, snap.MultipleCode,
		snap.MultipleLow, snap.MultipleHigh, snap.CoreScore, snap.BRIScore, snap.DiscountFraction, snap.FinalMultiple,
		snap.CurrentValue, snap.PotentialValue, snap.ValueGap, string(snap.WeightSource), scores, snap.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert valuation snapshot for %s", snap.CompanyID)
}

func (s *PostgresStore) LatestValuationSnapshot(ctx context.Context, companyID string) (*ValuationSnapshot, error) {
	snaps, err := s.ListValuationSnapshots(ctx, companyID, 1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

func (s *PostgresStore) ListValuationSnapshots(ctx context.Context, companyID string, limit int) ([]ValuationSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM valuation_snapshots
		 WHERE company_id = $1 ORDER BY created_at DESC LIMIT $2`,
		companyID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list valuation snapshots")
	}
	defer rows.Close()

	var out []ValuationSnapshot
	for rows.Next() {
		var snap ValuationSnapshot
		var source string
		var scores []byte
		if err := rows.Scan(&snap.ID, &snap.CompanyID, &snap.AdjustedEBITDA, &snap.EBITDASource, &snap.MultipleSource,
			&snap.MultipleCode, &snap.MultipleLow, &snap.MultipleHigh, &snap.CoreScore, &snap.BRIScore,
			&snap.DiscountFraction, &snap.FinalMultiple, &snap.CurrentValue, &snap.PotentialValue, &snap.ValueGap,
			&source, &scores, &snap.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan valuation snapshot")
		}
		snap.WeightSource = bri.WeightSource(source)
		if err := json.Unmarshal(scores, &snap.CategoryScores); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal category scores")
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list valuation snapshots iterate")
}

// --- DCF valuations ---

func (s *PostgresStore) SaveDCFValuation(ctx context.Context, v *DCFValuation) error {
	stamp(&v.ID, &v.CreatedAt)
	inputs, results, err := marshalDCF(v)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin dcf save")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if v.Active {
		if _, err := tx.Exec(ctx,
			`UPDATE dcf_valuations SET is_active = false WHERE company_id = $1 AND is_active`, v.CompanyID,
		); err != nil {
			return eris.Wrap(err, "postgres: clear active dcf valuation")
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO dcf_valuations (id, company_id, inputs, results, enterprise_value, equity_value, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.CompanyID, inputs, results, v.EnterpriseValue, v.EquityValue, v.Active, v.CreatedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert dcf valuation for %s", v.CompanyID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit dcf save")
}

func (s *PostgresStore) SetActiveDCFValuation(ctx context.Context, companyID, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin set active dcf")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE dcf_valuations SET is_active = false WHERE company_id = $1 AND is_active`, companyID,
	); err != nil {
		return eris.Wrap(err, "postgres: clear active dcf valuation")
	}
	tag, err := tx.Exec(ctx,
		`UPDATE dcf_valuations SET is_active = true WHERE id = $1 AND company_id = $2`, id, companyID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: activate dcf valuation %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dcf valuation not found: %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit set active dcf")
}

func (s *PostgresStore) GetActiveDCFValuation(ctx context.Context, companyID string) (*DCFValuation, error) {
	var v DCFValuation
	var inputs, results []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, inputs, results, enterprise_value, equity_value, is_active, created_at
		 FROM dcf_valuations WHERE company_id = $1 AND is_active`,
		companyID,
	).Scan(&v.ID, &v.CompanyID, &inputs, &results, &v.EnterpriseValue, &v.EquityValue, &v.Active, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get active dcf valuation")
	}
	if err := unmarshalDCF(&v, inputs, results); err != nil {
		return nil, err
	}
	return &v, nil
}

// --- signal audit ledger ---

func (s *PostgresStore) RecordSignalTransition(ctx context.Context, companyID string, t signal.Transition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO signal_transitions (id, company_id, signal_id, action, actor, reason,
			confidence_before, confidence_after, status_before, status_after,
			value_before, value_after, value_delta, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.New().String(), companyID, t.SignalID, string(t.Action), t.Actor, t.Reason,
		string(t.ConfidenceBefore), string(t.ConfidenceAfter), string(t.StatusBefore), string(t.StatusAfter),
		t.ValueBefore, t.ValueAfter, t.ValueDelta, t.At.UTC(),
	)
	return eris.Wrapf(err, "postgres: record transition for signal %s", t.SignalID)
}

func (s *PostgresStore) ListSignalTransitions(ctx context.Context, signalID string) ([]TransitionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, signal_id, action, actor, reason,
			confidence_before, confidence_after, status_before, status_after,
			value_before, value_after, value_delta, at
		 FROM signal_transitions WHERE signal_id = $1 ORDER BY at, id`,
		signalID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list signal transitions")
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		rec, err := scanTransition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan signal transition")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list signal transitions iterate")
}

// --- weight overrides ---

func (s *PostgresStore) GetWeightOverride(ctx context.Context, companyID string) (bri.Weights, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT weights FROM weight_overrides WHERE company_id = $1`, companyID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get weight override")
	}
	var w bri.Weights
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal weight override")
	}
	return w, nil
}

func (s *PostgresStore) SetWeightOverride(ctx context.Context, companyID string, w bri.Weights) error {
	if err := bri.ValidateWeights(w); err != nil {
		return err
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal weights")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO weight_overrides (company_id, weights, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (company_id) DO UPDATE SET weights = EXCLUDED.weights, updated_at = EXCLUDED.updated_at`,
		companyID, raw, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: set weight override")
}

// --- industry multiples ---

func (s *PostgresStore) LookupMultiple(ctx context.Context, level valuation.Level, code string) (*valuation.MultipleRange, error) {
	var r valuation.MultipleRange
	err := s.pool.QueryRow(ctx,
		`SELECT ebitda_low, ebitda_high, revenue_low, revenue_high FROM industry_multiples WHERE level = $1 AND code = $2`,
		string(level), code,
	).Scan(&r.EBITDALow, &r.EBITDAHigh, &r.RevenueLow, &r.RevenueHigh)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lookup multiple %s/%s", level, code)
	}
	return &r, nil
}

func (s *PostgresStore) UpsertIndustryMultiple(ctx context.Context, m IndustryMultiple) error {
	if err := validateMultiple(m); err != nil {
		return err
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO industry_multiples (level, code, ebitda_low, ebitda_high, revenue_low, revenue_high, source, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (level, code) DO UPDATE SET
			ebitda_low = EXCLUDED.ebitda_low, ebitda_high = EXCLUDED.ebitda_high,
			revenue_low = EXCLUDED.revenue_low, revenue_high = EXCLUDED.revenue_high,
			source = EXCLUDED.source, updated_at = EXCLUDED.updated_at`,
		string(m.Level), m.Code, m.EBITDALow, m.EBITDAHigh, m.RevenueLow, m.RevenueHigh, m.Source, m.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert multiple %s/%s", m.Level, m.Code)
}

var multiplesUpsert = db.UpsertConfig{
	Table:        "industry_multiples",
	Columns:      []string{"level", "code", "ebitda_low", "ebitda_high", "revenue_low", "revenue_high", "source", "updated_at"},
	ConflictKeys: []string{"level", "code"},
}

// UpsertIndustryMultiples bulk-loads a multiples table through a staging
// COPY.
func (s *PostgresStore) UpsertIndustryMultiples(ctx context.Context, ms []IndustryMultiple) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(ms))
	for _, m := range ms {
		if err := validateMultiple(m); err != nil {
			return 0, err
		}
		at := m.UpdatedAt
		if at.IsZero() {
			at = now
		}
		rows = append(rows, []any{string(m.Level), m.Code, m.EBITDALow, m.EBITDAHigh, m.RevenueLow, m.RevenueHigh, m.Source, at})
	}
	n, err := db.BulkUpsert(ctx, s.pool, multiplesUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert multiples")
}

// --- simulation runs ---

var iterationColumns = []string{"run_id", "idx", "ending_balance", "years_lasted", "ran_out", "failure_year"}

// SaveSimulationRun inserts the summary row and copies every iteration
// outcome in the same transaction.
func (s *PostgresStore) SaveSimulationRun(ctx context.Context, run *SimulationRun) error {
	stamp(&run.ID, &run.CreatedAt)
	params, assumptions, results, err := marshalRun(run)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin simulation save")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO simulation_runs (id, company_id, params, assumptions, starting_balance,
			median_ending_balance, success_rate, results, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.CompanyID, params, assumptions, run.StartingBalance,
		run.MedianEndingBalance, run.SuccessRate, results, run.CreatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert simulation run")
	}

	if run.Results != nil && len(run.Results.Outcomes) > 0 {
		rows := make([][]any, len(run.Results.Outcomes))
		for i, o := range run.Results.Outcomes {
			rows[i] = []any{run.ID, o.Index, o.EndingBalance, o.YearsLasted, o.RanOutOfMoney, o.FailureYear}
		}
		if _, err := db.CopyFromTx(ctx, tx, "simulation_iterations", iterationColumns, rows); err != nil {
			return eris.Wrap(err, "postgres: copy simulation iterations")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit simulation save")
}

func (s *PostgresStore) GetSimulationRun(ctx context.Context, id string) (*SimulationRun, error) {
	var run SimulationRun
	var params, assumptions, results []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, params, assumptions, starting_balance, median_ending_balance,
			success_rate, results, created_at
		 FROM simulation_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.CompanyID, &params, &assumptions, &run.StartingBalance, &run.MedianEndingBalance,
		&run.SuccessRate, &results, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get simulation run %s", id)
	}
	if err := unmarshalRun(&run, params, assumptions, results); err != nil {
		return nil, err
	}
	return &run, nil
}
