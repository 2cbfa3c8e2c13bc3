package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-engine/internal/bri"
	"github.com/sells-group/valuation-engine/internal/montecarlo"
	"github.com/sells-group/valuation-engine/internal/signal"
	"github.com/sells-group/valuation-engine/internal/valuation"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS valuation_snapshots`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveValuationSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := testSnapshot("co-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 4_600_000)

	mock.ExpectExec(`INSERT INTO valuation_snapshots`).
		WithArgs(pgxmock.AnyArg(), "co-1", snap.AdjustedEBITDA, "actual", "sector", "54",
			4.0, 6.0, 0.8, 0.6, 0.12, 4.6,
			snap.CurrentValue, snap.PotentialValue, snap.ValueGap, "default", pgxmock.AnyArg(), snap.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveValuationSnapshot(context.Background(), snap))
	assert.NotEmpty(t, snap.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestValuationSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "company_id", "adjusted_ebitda", "ebitda_source", "multiple_source", "multiple_code",
		"multiple_low", "multiple_high", "core_score", "bri_score", "discount_fraction", "final_multiple",
		"current_value", "potential_value", "value_gap", "weight_source", "category_scores", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM valuation_snapshots\s+WHERE company_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("co-1", 1).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"snap-1", "co-1", decimal.RequireFromString("1000000.00"), "estimated", "comparables", "",
			5.0, 9.0, 0.7, 0.5, 0.16, 5.88,
			decimal.RequireFromString("5880000.00"), decimal.RequireFromString("7000000.00"), decimal.RequireFromString("1120000.00"),
			"company", []byte(`[{"category":"FINANCIAL","total_points":4,"earned_points":2,"score":0.5}]`), at,
		))

	snap, err := s.LatestValuationSnapshot(context.Background(), "co-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "snap-1", snap.ID)
	assert.Equal(t, bri.WeightSourceCompany, snap.WeightSource)
	assert.Equal(t, "1120000", snap.ValueGap.String())
	require.Len(t, snap.CategoryScores, 1)
	assert.Equal(t, 0.5, snap.CategoryScores[0].Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetActiveDCFValuation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE dcf_valuations SET is_active = false WHERE company_id = \$1 AND is_active`).
		WithArgs("co-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE dcf_valuations SET is_active = true WHERE id = \$1 AND company_id = \$2`).
		WithArgs("dcf-2", "co-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetActiveDCFValuation(context.Background(), "co-1", "dcf-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetActiveDCFValuation_NotFoundRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE dcf_valuations SET is_active = false`).
		WithArgs("co-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE dcf_valuations SET is_active = true`).
		WithArgs("missing", "co-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SetActiveDCFValuation(context.Background(), "co-1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dcf valuation not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActiveDCFValuation_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM dcf_valuations WHERE company_id = \$1 AND is_active`).
		WithArgs("co-1").
		WillReturnError(pgx.ErrNoRows)

	v, err := s.GetActiveDCFValuation(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordSignalTransition(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	tr := signal.Transition{
		SignalID: "sig-1", Action: signal.ActionConfirm, Actor: "advisor",
		ConfidenceBefore: signal.ConfidenceUncertain, ConfidenceAfter: signal.ConfidenceConfident,
		StatusBefore: signal.StatusOpen, StatusAfter: signal.StatusAcknowledged,
		ValueBefore: 10, ValueAfter: 20, ValueDelta: 10, At: at,
	}

	mock.ExpectExec(`INSERT INTO signal_transitions`).
		WithArgs(pgxmock.AnyArg(), "co-1", "sig-1", "confirm", "advisor", "",
			"UNCERTAIN", "CONFIDENT", "OPEN", "ACKNOWLEDGED", 10.0, 20.0, 10.0, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordSignalTransition(context.Background(), "co-1", tr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetWeightOverride(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT weights FROM weight_overrides WHERE company_id = \$1`).
		WithArgs("").
		WillReturnRows(pgxmock.NewRows([]string{"weights"}).AddRow(
			[]byte(`{"FINANCIAL":0.5,"MARKET":0.5}`)))
	mock.ExpectQuery(`SELECT weights FROM weight_overrides`).
		WithArgs("co-9").
		WillReturnError(pgx.ErrNoRows)

	w, err := s.GetWeightOverride(context.Background(), GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, bri.Weights{bri.Financial: 0.5, bri.Market: 0.5}, w)

	w, err = s.GetWeightOverride(context.Background(), "co-9")
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupMultiple(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM industry_multiples WHERE level = \$1 AND code = \$2`).
		WithArgs("sub_sector", "541511").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM industry_multiples WHERE level = \$1 AND code = \$2`).
		WithArgs("sector", "54").
		WillReturnRows(pgxmock.NewRows([]string{"ebitda_low", "ebitda_high", "revenue_low", "revenue_high"}).
			AddRow(4.0, 7.0, 0.8, 1.6))

	res, err := valuation.ResolveMultiples(context.Background(), s, valuation.Classification{SubSector: "541511", Sector: "54"})
	require.NoError(t, err)
	assert.Equal(t, valuation.LevelSector, res.Level)
	assert.Equal(t, 7.0, res.EBITDAHigh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupMultiple_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM industry_multiples`).
		WithArgs("sector", "54").
		WillReturnError(errors.New("connection refused"))

	_, err := s.LookupMultiple(context.Background(), valuation.LevelSector, "54")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup multiple sector/54")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertIndustryMultiples(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_industry_multiples"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_industry_multiples"}, multiplesUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "industry_multiples" .+ ON CONFLICT \("level", "code"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertIndustryMultiples(context.Background(), []IndustryMultiple{
		{Level: valuation.LevelSector, Code: "54", MultipleRange: valuation.MultipleRange{EBITDALow: 4, EBITDAHigh: 7, RevenueLow: 0.8, RevenueHigh: 1.6}},
		{Level: valuation.LevelIndustry, Code: "prof", MultipleRange: valuation.DefaultMultiples()},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSimulationRun_CopiesIterations(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res := &montecarlo.Results{
		Iterations: 3,
		Outcomes: []montecarlo.IterationResult{
			{Index: 0, EndingBalance: 10, YearsLasted: 30},
			{Index: 1, EndingBalance: 0, YearsLasted: 12, RanOutOfMoney: true, FailureYear: 13},
			{Index: 2, EndingBalance: 5, YearsLasted: 30},
		},
	}
	run := &SimulationRun{ID: "run-1", Results: res, StartingBalance: Money(1), MedianEndingBalance: Money(5)}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO simulation_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"simulation_iterations"}, iterationColumns).
		WillReturnResult(3)
	mock.ExpectCommit()

	require.NoError(t, s.SaveSimulationRun(context.Background(), run))
	assert.False(t, run.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSimulationRun_CopyFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	run := &SimulationRun{ID: "run-1", Results: &montecarlo.Results{
		Outcomes: []montecarlo.IterationResult{{Index: 0}},
	}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO simulation_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"simulation_iterations"}, iterationColumns).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.SaveSimulationRun(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy simulation iterations")
	assert.NoError(t, mock.ExpectationsWereMet())
}
