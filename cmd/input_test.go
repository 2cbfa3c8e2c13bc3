package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-engine/internal/pipeline"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadBundle_YAML(t *testing.T) {
	path := writeTemp(t, "dcf.yaml", `
company_id: acme
save: true
inputs:
  base_fcf: 1000000
  growth_rates: [0.05, 0.04]
  wacc: 0.1
  terminal_method: gordon
  perpetual_growth_rate: 0.02
`)

	var req pipeline.DCFRequest
	require.NoError(t, readBundle(path, &req))
	assert.Equal(t, "acme", req.CompanyID)
	assert.True(t, req.Save)
	assert.Equal(t, 1_000_000.0, req.Inputs.BaseFCF)
	assert.Equal(t, []float64{0.05, 0.04}, req.Inputs.GrowthRates)
}

func TestReadBundle_JSON(t *testing.T) {
	path := writeTemp(t, "signals.json", `{"company_id": "acme", "signals": []}`)

	var b signalsBundle
	require.NoError(t, readBundle(path, &b))
	assert.Equal(t, "acme", b.CompanyID)
}

func TestReadBundle_UnknownField(t *testing.T) {
	path := writeTemp(t, "dcf.yaml", "company_id: acme\nwac: 0.1\n")

	var req pipeline.DCFRequest
	assert.Error(t, readBundle(path, &req))
}

func TestReadBundle_Empty(t *testing.T) {
	path := writeTemp(t, "empty.yaml", "")

	var req pipeline.DCFRequest
	assert.NoError(t, readBundle(path, &req))
}

func TestReadBundle_Missing(t *testing.T) {
	var req pipeline.DCFRequest
	assert.Error(t, readBundle(filepath.Join(t.TempDir(), "nope.yaml"), &req))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "$1,234,567", money(1234567.4))
	assert.Equal(t, "-$2,500", money(-2500))
	assert.Equal(t, "12.5%", pct(0.125))
	assert.Equal(t, "4.25x", multiple(4.25))
}
