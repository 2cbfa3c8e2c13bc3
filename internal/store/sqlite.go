package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/valuation-engine/internal/bri"
	"github.com/sells-group/valuation-engine/internal/signal"
	"github.com/sells-group/valuation-engine/internal/valuation"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS valuation_snapshots (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	adjusted_ebitda   TEXT NOT NULL,
	ebitda_source     TEXT NOT NULL,
	multiple_source   TEXT NOT NULL,
	multiple_code     TEXT NOT NULL DEFAULT '',
	multiple_low      REAL NOT NULL,
	multiple_high     REAL NOT NULL,
	core_score        REAL NOT NULL,
	bri_score         REAL NOT NULL,
	discount_fraction REAL NOT NULL,
	final_multiple    REAL NOT NULL,
	current_value     TEXT NOT NULL,
	potential_value   TEXT NOT NULL,
	value_gap         TEXT NOT NULL,
	weight_source     TEXT NOT NULL,
	category_scores   TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dcf_valuations (
	id               TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL,
	inputs           TEXT NOT NULL,
	results          TEXT NOT NULL,
	enterprise_value TEXT NOT NULL,
	equity_value     TEXT NOT NULL,
	is_active        INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
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
	value_before      REAL NOT NULL,
	value_after       REAL NOT NULL,
	value_delta       REAL NOT NULL,
	at                DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS weight_overrides (
	company_id TEXT PRIMARY KEY,
	weights    TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS industry_multiples (
	level        TEXT NOT NULL,
	code         TEXT NOT NULL,
	ebitda_low   REAL NOT NULL,
	ebitda_high  REAL NOT NULL,
	revenue_low  REAL NOT NULL,
	revenue_high REAL NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (level, code)
);

CREATE TABLE IF NOT EXISTS simulation_runs (
	id                    TEXT PRIMARY KEY,
	company_id            TEXT NOT NULL DEFAULT '',
	params                TEXT NOT NULL,
	assumptions           TEXT NOT NULL,
	starting_balance      TEXT NOT NULL,
	median_ending_balance TEXT NOT NULL,
	success_rate          REAL NOT NULL,
	results               TEXT NOT NULL,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_valuation_snapshots_company ON valuation_snapshots(company_id, created_at);
CREATE INDEX IF NOT EXISTS idx_dcf_valuations_company ON dcf_valuations(company_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_dcf_valuations_active ON dcf_valuations(company_id) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_signal_transitions_signal ON signal_transitions(signal_id, at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- valuation snapshots ---

const snapshotColumns = `id, company_id, adjusted_ebitda, ebitda_source, multiple_source, multiple_code,
	multiple_low, multiple_high, core_score, bri_score, discount_fraction, final_multiple,
	current_value, potential_value, value_gap, weight_source, category_scores, created_at`

func (s *SQLiteStore) SaveValuationSnapshot(ctx context.Context, snap *ValuationSnapshot) error {
	stamp(&snap.ID, &snap.CreatedAt)
	scores, err := json.Marshal(snap.CategoryScores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal category scores")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO valuation_snapshots (`+snapshotColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.CompanyID, snap.AdjustedEBITDA.String(), snap.EBITDASource, snap.MultipleSource, snap.MultipleCode,
		snap.MultipleLow, snap.MultipleHigh, snap.CoreScore, snap.BRIScore, snap.DiscountFraction, snap.FinalMultiple,
		snap.CurrentValue.String(), snap.PotentialValue.String(), snap.ValueGap.String(), string(snap.WeightSource),
		string(scores), snap.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert valuation snapshot for %s", snap.CompanyID)
}

func (s *SQLiteStore) LatestValuationSnapshot(ctx context.Context, companyID string) (*ValuationSnapshot, error) {
	snaps, err := s.ListValuationSnapshots(ctx, companyID, 1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

func (s *SQLiteStore) ListValuationSnapshots(ctx context.Context, companyID string, limit int) ([]ValuationSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM valuation_snapshots
		 WHERE company_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		companyID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list valuation snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []ValuationSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list valuation snapshots iterate")
}

// --- DCF valuations ---

func (s *SQLiteStore) SaveDCFValuation(ctx context.Context, v *DCFValuation) error {
	stamp(&v.ID, &v.CreatedAt)
	inputs, results, err := marshalDCF(v)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin dcf save")
	}
	defer tx.Rollback() //nolint:errcheck

	if v.Active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE dcf_valuations SET is_active = 0 WHERE company_id = ? AND is_active = 1`, v.CompanyID,
		); err != nil {
			return eris.Wrap(err, "sqlite: clear active dcf valuation")
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dcf_valuations (id, company_id, inputs, results, enterprise_value, equity_value, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.CompanyID, string(inputs), string(results), v.EnterpriseValue.String(), v.EquityValue.String(), v.Active, v.CreatedAt,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert dcf valuation for %s", v.CompanyID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit dcf save")
}

func (s *SQLiteStore) SetActiveDCFValuation(ctx context.Context, companyID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin set active dcf")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE dcf_valuations SET is_active = 0 WHERE company_id = ? AND is_active = 1`, companyID,
	); err != nil {
		return eris.Wrap(err, "sqlite: clear active dcf valuation")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE dcf_valuations SET is_active = 1 WHERE id = ? AND company_id = ?`, id, companyID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate dcf valuation %s", id)
	}
	if err := checkRowsAffected(res, "dcf valuation", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit set active dcf")
}

func (s *SQLiteStore) GetActiveDCFValuation(ctx context.Context, companyID string) (*DCFValuation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, inputs, results, enterprise_value, equity_value, is_active, created_at
		 FROM dcf_valuations WHERE company_id = ? AND is_active = 1`,
		companyID,
	)
	var v DCFValuation
	var inputs, results, ev, eq string
	err := row.Scan(&v.ID, &v.CompanyID, &inputs, &results, &ev, &eq, &v.Active, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get active dcf valuation")
	}
	if err := unmarshalDCF(&v, []byte(inputs), []byte(results)); err != nil {
		return nil, err
	}
	if v.EnterpriseValue, err = decimal.NewFromString(ev); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse enterprise value")
	}
	if v.EquityValue, err = decimal.NewFromString(eq); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse equity value")
	}
	return &v, nil
}

// --- signal audit ledger ---

func (s *SQLiteStore) RecordSignalTransition(ctx context.Context, companyID string, t signal.Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signal_transitions (id, company_id, signal_id, action, actor, reason,
			confidence_before, confidence_after, status_before, status_after,
			value_before, value_after, value_delta, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), companyID, t.SignalID, string(t.Action), t.Actor, t.Reason,
		string(t.ConfidenceBefore), string(t.ConfidenceAfter), string(t.StatusBefore), string(t.StatusAfter),
		t.ValueBefore, t.ValueAfter, t.ValueDelta, t.At.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record transition for signal %s", t.SignalID)
}

func (s *SQLiteStore) ListSignalTransitions(ctx context.Context, signalID string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, signal_id, action, actor, reason,
			confidence_before, confidence_after, status_before, status_after,
			value_before, value_after, value_delta, at
		 FROM signal_transitions WHERE signal_id = ? ORDER BY at, rowid`,
		signalID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list signal transitions")
	}
	defer rows.Close() //nolint:errcheck

	var out []TransitionRecord
	for rows.Next() {
		rec, err := scanTransition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan signal transition")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list signal transitions iterate")
}

// --- weight overrides ---

func (s *SQLiteStore) GetWeightOverride(ctx context.Context, companyID string) (bri.Weights, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT weights FROM weight_overrides WHERE company_id = ?`, companyID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get weight override")
	}
	var w bri.Weights
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal weight override")
	}
	return w, nil
}

func (s *SQLiteStore) SetWeightOverride(ctx context.Context, companyID string, w bri.Weights) error {
	if err := bri.ValidateWeights(w); err != nil {
		return err
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal weights")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO weight_overrides (company_id, weights, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (company_id) DO UPDATE SET weights = excluded.weights, updated_at = excluded.updated_at`,
		companyID, string(raw), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set weight override")
}

// --- industry multiples ---

func (s *SQLiteStore) LookupMultiple(ctx context.Context, level valuation.Level, code string) (*valuation.MultipleRange, error) {
	var r valuation.MultipleRange
	err := s.db.QueryRowContext(ctx,
		`SELECT ebitda_low, ebitda_high, revenue_low, revenue_high FROM industry_multiples WHERE level = ? AND code = ?`,
		string(level), code,
	).Scan(&r.EBITDALow, &r.EBITDAHigh, &r.RevenueLow, &r.RevenueHigh)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lookup multiple %s/%s", level, code)
	}
	return &r, nil
}

const sqliteUpsertMultiple = `INSERT INTO industry_multiples
	(level, code, ebitda_low, ebitda_high, revenue_low, revenue_high, source, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (level, code) DO UPDATE SET
		ebitda_low = excluded.ebitda_low, ebitda_high = excluded.ebitda_high,
		revenue_low = excluded.revenue_low, revenue_high = excluded.revenue_high,
		source = excluded.source, updated_at = excluded.updated_at`

func (s *SQLiteStore) UpsertIndustryMultiple(ctx context.Context, m IndustryMultiple) error {
	_, err := s.UpsertIndustryMultiples(ctx, []IndustryMultiple{m})
	return err
}

func (s *SQLiteStore) UpsertIndustryMultiples(ctx context.Context, ms []IndustryMultiple) (int64, error) {
	if len(ms) == 0 {
		return 0, nil
	}
	for _, m := range ms {
		if err := validateMultiple(m); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin multiples upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertMultiple)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare multiples upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, m := range ms {
		at := m.UpdatedAt
		if at.IsZero() {
			at = now
		}
		if _, err := stmt.ExecContext(ctx, string(m.Level), m.Code,
			m.EBITDALow, m.EBITDAHigh, m.RevenueLow, m.RevenueHigh, m.Source, at,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert multiple %s/%s", m.Level, m.Code)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit multiples upsert")
	}
	return int64(len(ms)), nil
}

// --- simulation runs ---

func (s *SQLiteStore) SaveSimulationRun(ctx context.Context, run *SimulationRun) error {
	stamp(&run.ID, &run.CreatedAt)
	params, assumptions, results, err := marshalRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO simulation_runs (id, company_id, params, assumptions, starting_balance,
			median_ending_balance, success_rate, results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CompanyID, string(params), string(assumptions), run.StartingBalance.String(),
		run.MedianEndingBalance.String(), run.SuccessRate, string(results), run.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert simulation run")
}

func (s *SQLiteStore) GetSimulationRun(ctx context.Context, id string) (*SimulationRun, error) {
	var run SimulationRun
	var params, assumptions, results, start, median string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, params, assumptions, starting_balance, median_ending_balance,
			success_rate, results, created_at
		 FROM simulation_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.CompanyID, &params, &assumptions, &start, &median, &run.SuccessRate, &results, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get simulation run %s", id)
	}
	if err := unmarshalRun(&run, []byte(params), []byte(assumptions), []byte(results)); err != nil {
		return nil, err
	}
	if run.StartingBalance, err = decimal.NewFromString(start); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse starting balance")
	}
	if run.MedianEndingBalance, err = decimal.NewFromString(median); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse median ending balance")
	}
	return &run, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scannable) (*ValuationSnapshot, error) {
	var snap ValuationSnapshot
	var ebitda, current, potential, gap, source, scores string
	err := row.Scan(&snap.ID, &snap.CompanyID, &ebitda, &snap.EBITDASource, &snap.MultipleSource, &snap.MultipleCode,
		&snap.MultipleLow, &snap.MultipleHigh, &snap.CoreScore, &snap.BRIScore, &snap.DiscountFraction, &snap.FinalMultiple,
		&current, &potential, &gap, &source, &scores, &snap.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan valuation snapshot")
	}
	snap.WeightSource = bri.WeightSource(source)
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&snap.AdjustedEBITDA, ebitda}, {&snap.CurrentValue, current}, {&snap.PotentialValue, potential}, {&snap.ValueGap, gap}} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse snapshot amount")
		}
	}
	if err := json.Unmarshal([]byte(scores), &snap.CategoryScores); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal category scores")
	}
	return &snap, nil
}

func scanTransition(row scannable) (*TransitionRecord, error) {
	var rec TransitionRecord
	var action, cb, ca, sb, sa string
	err := row.Scan(&rec.ID, &rec.CompanyID, &rec.SignalID, &action, &rec.Actor, &rec.Reason,
		&cb, &ca, &sb, &sa, &rec.ValueBefore, &rec.ValueAfter, &rec.ValueDelta, &rec.At)
	if err != nil {
		return nil, err
	}
	rec.Action = signal.Action(action)
	rec.ConfidenceBefore, rec.ConfidenceAfter = signal.Confidence(cb), signal.Confidence(ca)
	rec.StatusBefore, rec.StatusAfter = signal.ResolutionStatus(sb), signal.ResolutionStatus(sa)
	return &rec, nil
}
