package main

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/store"
	"github.com/sells-group/valuation-engine/internal/tabular"
	"github.com/sells-group/valuation-engine/internal/valuation"
)

var multiplesFile string

var multiplesCmd = &cobra.Command{
	Use:   "multiples",
	Short: "Manage industry multiple ranges",
}

var multiplesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import industry multiples from a CSV, TSV, or XLSX file",
	Long: "Columns: level, code, ebitda_low, ebitda_high, revenue_low, revenue_high, and optionally source. " +
		"Level is one of sub_sector, sector, super_sector, industry.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rows, err := tabular.ReadFile(ctx, multiplesFile)
		if err != nil {
			return eris.Wrap(err, "multiples import")
		}
		ms, err := parseMultiples(rows)
		if err != nil {
			return eris.Wrap(err, "multiples import")
		}

		env, err := initEngine(ctx, "multiples")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.UpsertIndustryMultiples(ctx, ms)
		if err != nil {
			return eris.Wrap(err, "multiples import")
		}
		zap.L().Info("import complete",
			zap.Int("rows", len(ms)),
			zap.Int64("upserted", n),
			zap.String("file", multiplesFile),
		)
		return nil
	},
}

var multipleColumns = []string{"level", "code", "ebitda_low", "ebitda_high", "revenue_low", "revenue_high"}

var importLevels = map[string]valuation.Level{
	string(valuation.LevelSubSector):   valuation.LevelSubSector,
	string(valuation.LevelSector):      valuation.LevelSector,
	string(valuation.LevelSuperSector): valuation.LevelSuperSector,
	string(valuation.LevelIndustry):    valuation.LevelIndustry,
}

// parseMultiples converts a header row plus data rows to industry multiples.
// Every row is checked; errors name the 1-based file line.
func parseMultiples(rows [][]string) ([]store.IndustryMultiple, error) {
	if len(rows) < 2 {
		return nil, eris.New("file has no data rows")
	}
	header := tabular.Header(rows[0])
	for _, col := range multipleColumns {
		if _, ok := header[col]; !ok {
			return nil, eris.Errorf("missing column %q", col)
		}
	}
	sourceCol, hasSource := header["source"]

	get := func(row []string, col string) string {
		i := header[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]store.IndustryMultiple, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		level, ok := importLevels[strings.ToLower(get(row, "level"))]
		if !ok {
			return nil, eris.Errorf("line %d: unknown level %q", line, get(row, "level"))
		}
		var vals [4]float64
		for i, col := range multipleColumns[2:] {
			v, err := strconv.ParseFloat(get(row, col), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "line %d: %s", line, col)
			}
			vals[i] = v
		}
		m := store.IndustryMultiple{
			Level: level,
			Code:  get(row, "code"),
			MultipleRange: valuation.MultipleRange{
				EBITDALow: vals[0], EBITDAHigh: vals[1], RevenueLow: vals[2], RevenueHigh: vals[3],
			},
		}
		if hasSource && sourceCol < len(row) {
			m.Source = strings.TrimSpace(row[sourceCol])
		}
		if m.Code == "" {
			return nil, eris.Errorf("line %d: code is required", line)
		}
		if err := m.MultipleRange.Validate(); err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}
		out = append(out, m)
	}
	return out, nil
}

func init() {
	multiplesImportCmd.Flags().StringVar(&multiplesFile, "file", "", "path to multiples file (required)")
	_ = multiplesImportCmd.MarkFlagRequired("file")
	multiplesCmd.AddCommand(multiplesImportCmd)
	rootCmd.AddCommand(multiplesCmd)
}
