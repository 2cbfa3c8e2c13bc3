package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-engine/internal/calc"
	"github.com/sells-group/valuation-engine/internal/config"
	"github.com/sells-group/valuation-engine/internal/dcf"
	"github.com/sells-group/valuation-engine/internal/montecarlo"
	"github.com/sells-group/valuation-engine/internal/pipeline"
	"github.com/sells-group/valuation-engine/internal/signal"
	"github.com/sells-group/valuation-engine/internal/store"
	"github.com/sells-group/valuation-engine/internal/valuation"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.CORSOrigins = []string{"https://advisor.example.com"}
	cfg.Valuation.Discount = valuation.DefaultDiscountPolicy()
	cfg.Valuation.Bounds = valuation.DefaultMultipleBounds()
	cfg.Valuation.DefaultMultiples = valuation.DefaultMultiples()
	cfg.DCF.WACC = dcf.DefaultWACCInputs()
	cfg.DCF.ExitMultiple = 5
	cfg.DCF.Sensitivity = dcf.DefaultGrid()
	cfg.Signals.TopN = signal.DefaultTopN
	cfg.Signals.Summary = signal.DefaultSummaryOptions()
	cfg.MonteCarlo.Params = montecarlo.DefaultParams()
	cfg.MonteCarlo.Iterations = 100
	cfg.MonteCarlo.SyncThreshold = 5000
	return cfg
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := testConfig()
	p, err := pipeline.New(cfg, st, nil)
	require.NoError(t, err)
	return New(cfg.Server, p, 0), st
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return buf.String()
}

const valuationBody = `{
	"company_id": "co-1",
	"company_name": "Acme Plumbing",
	"adjusted_ebitda": 1000000,
	"core_factors": {"revenue_scale": 0.6, "profit_margin": 0.7, "recurring_revenue": 0.5,
		"customer_diversification": 0.8, "owner_independence": 0.4},
	"responses": [
		{"question_id": "q1", "category": "FINANCIAL", "max_impact_points": 10, "score_value": 8},
		{"question_id": "q2", "category": "PERSONAL", "max_impact_points": 10, "score_value": 4}
	],
	"save": true
}`

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestValuate(t *testing.T) {
	s, st := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/valuations", valuationBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[pipeline.ValuationResult](t, rec)
	assert.False(t, res.Stale)
	require.NotNil(t, res.Valuation)
	assert.Greater(t, res.Valuation.CurrentValue, 0.0)

	snap, err := st.LatestValuationSnapshot(context.Background(), "co-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
}

func TestValuate_InvalidInput(t *testing.T) {
	s, _ := newTestServer(t)
	body := strings.Replace(valuationBody, `"profit_margin": 0.7`, `"profit_margin": 1.7`, 1)

	rec := do(t, s, http.MethodPost, "/v1/valuations", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "profit_margin")
}

func TestValuate_Unavailable(t *testing.T) {
	s, _ := newTestServer(t)
	body := strings.Replace(valuationBody, `"adjusted_ebitda": 1000000,`, "", 1)

	rec := do(t, s, http.MethodPost, "/v1/valuations", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "valuation unavailable", decodeBody[errorResponse](t, rec).Error)
}

func TestValuate_BadJSON(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/v1/valuations", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDCF(t *testing.T) {
	s, st := newTestServer(t)
	body := `{"company_id": "co-1", "inputs": {"base_fcf": 100000, "growth_rates": [0.05, 0.04],
		"perpetual_growth_rate": 0.02}, "ebitda": 150000, "save": true, "activate": true}`

	rec := do(t, s, http.MethodPost, "/v1/dcf", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[pipeline.DCFResult](t, rec)
	require.NotNil(t, res.WACC)
	require.NotNil(t, res.Saved)
	assert.Greater(t, res.Results.EnterpriseValue, 0.0)

	active, err := st.GetActiveDCFValuation(context.Background(), "co-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, res.Saved.ID, active.ID)

	rec = do(t, s, http.MethodPost, "/v1/dcf/"+res.Saved.ID+"/activate", `{"company_id": "co-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDCF_GrowthAtWACC(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"inputs": {"base_fcf": 100000, "growth_rates": [0], "wacc": 0.03, "perpetual_growth_rate": 0.03}}`

	rec := do(t, s, http.MethodPost, "/v1/dcf", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSignals(t *testing.T) {
	s, st := newTestServer(t)
	sigs := []signal.Signal{
		{ID: "s1", Title: "Key customer churn", Severity: signal.SeverityHigh, Confidence: signal.ConfidenceConfident,
			Category: "FINANCIAL", EventType: "customer_loss"},
		{ID: "s2", Title: "Lease renewal", Severity: signal.SeverityLow, Category: "LEGAL_TAX", EventType: "lease"},
	}

	rec := do(t, s, http.MethodPost, "/v1/signals/summary", mustJSON(t, SignalsRequest{Signals: sigs}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decodeBody[pipeline.SignalSummary](t, rec)
	assert.Len(t, sum.Ranked, 2)
	assert.Equal(t, 2, sum.Risk.SignalCount)

	rec = do(t, s, http.MethodPost, "/v1/signals/s1/confirm", mustJSON(t, TransitionRequest{
		CompanyID: "co-1", Signal: sigs[0], Actor: "advisor",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tr := decodeBody[TransitionResponse](t, rec)
	assert.Equal(t, signal.ConfidenceVerified, tr.Signal.Confidence)

	rec = do(t, s, http.MethodPost, "/v1/signals/s2/dismiss", mustJSON(t, TransitionRequest{
		CompanyID: "co-1", Signal: sigs[1], Actor: "advisor", Reason: "renewed",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ledger, err := st.ListSignalTransitions(context.Background(), "s2")
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "renewed", ledger[0].Reason)
}

func TestSignals_PathMismatch(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/v1/signals/other/confirm", mustJSON(t, TransitionRequest{
		Signal: signal.Signal{ID: "s1", Severity: signal.SeverityHigh},
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSimulate(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"assets": [{"name": "brokerage", "kind": "brokerage", "value": 1500000}],
		"assumptions": {"current_age": 60, "retirement_age": 62, "life_expectancy": 90,
			"annual_spending_needs": 60000, "expected_return": 0.06, "inflation_rate": 0.025}}`

	rec := do(t, s, http.MethodPost, "/v1/simulations", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[pipeline.SimulationResult](t, rec)
	assert.Equal(t, pipeline.ModeSync, res.Mode)
	assert.Equal(t, 100, res.Results.Iterations)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/v1/valuations", valuationBody)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `valuation_calculations_total{calculation="valuation",result="ok"} 1`)
	assert.Contains(t, body, "valuation_http_requests_total")
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/valuations", nil)
	req.Header.Set("Origin", "https://advisor.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://advisor.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", eris.Wrap(calc.Invalid("wacc", "too low"), "dcf"), http.StatusUnprocessableEntity},
		{"insufficient data", eris.Wrap(calc.ErrInsufficientData, "valuation"), http.StatusConflict},
		{"unavailable", pipeline.ErrUnavailable, http.StatusConflict},
		{"timeout", eris.Wrap(context.DeadlineExceeded, "store"), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := statusFor(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}
