package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/dcf"
	"github.com/sells-group/valuation-engine/internal/pipeline"
	"github.com/sells-group/valuation-engine/internal/tabular"
)

var (
	dcfInput    string
	dcfSave     bool
	dcfActivate bool
	dcfXLSX     string
	dcfFormat   string
)

var dcfCmd = &cobra.Command{
	Use:   "dcf",
	Short: "Run a discounted cash flow valuation with its sensitivity grid",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var req pipeline.DCFRequest
		if err := readBundle(dcfInput, &req); err != nil {
			return err
		}
		if cmd.Flags().Changed("save") {
			req.Save = dcfSave
		}
		if cmd.Flags().Changed("activate") {
			req.Activate = dcfActivate
		}

		env, err := initEngine(ctx, "dcf")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.RunDCF(ctx, req)
		if err != nil {
			return eris.Wrap(err, "dcf")
		}

		if dcfXLSX != "" {
			if err := tabular.WriteXLSX(dcfXLSX, dcfSheets(res)); err != nil {
				return eris.Wrap(err, "dcf: export xlsx")
			}
			zap.L().Info("dcf exported", zap.String("path", dcfXLSX))
		}

		out := cmd.OutOrStdout()
		if dcfFormat == "json" {
			return writeJSON(out, res)
		}
		formatDCF(out, res)
		return nil
	},
}

// formatDCF writes the projection and summary to w.
func formatDCF(out io.Writer, res *pipeline.DCFResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "YEAR\tGROWTH\tFCF\tDISCOUNT\tPV")
	for _, y := range res.Results.Years {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\t%s\n", y.Year, pct(y.GrowthRate), money(y.FCF), y.DiscountFactor, money(y.PresentValue))
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "WACC:\t%s\n", pct(res.Inputs.WACC))
	_, _ = fmt.Fprintf(w, "Terminal value (%s):\t%s\n", res.Results.TerminalMethod, money(res.Results.TerminalValue))
	_, _ = fmt.Fprintf(w, "PV of terminal value:\t%s (%s of EV)\n", money(res.Results.PVTerminalValue), pct(res.Results.TerminalShare))
	_, _ = fmt.Fprintf(w, "Enterprise value:\t%s\n", money(res.Results.EnterpriseValue))
	_, _ = fmt.Fprintf(w, "Equity value:\t%s\n", money(res.Results.EquityValue))
	if res.Results.ImpliedEVToEBITDA > 0 {
		_, _ = fmt.Fprintf(w, "Implied EV/EBITDA:\t%s\n", multiple(res.Results.ImpliedEVToEBITDA))
	}
	if res.Saved != nil {
		_, _ = fmt.Fprintf(w, "Saved:\t%s (active=%t)\n", res.Saved.ID, res.Saved.Active)
	}
	_ = w.Flush()
}

// dcfSheets lays out the projection and sensitivity grid as workbook sheets.
func dcfSheets(res *pipeline.DCFResult) []tabular.Sheet {
	projection := [][]any{{"Year", "Growth", "FCF", "Discount factor", "Present value"}}
	for _, y := range res.Results.Years {
		projection = append(projection, []any{y.Year, y.GrowthRate, y.FCF, y.DiscountFactor, y.PresentValue})
	}
	projection = append(projection,
		nil,
		[]any{"WACC", res.Inputs.WACC},
		[]any{"Terminal method", string(res.Results.TerminalMethod)},
		[]any{"Terminal value", res.Results.TerminalValue},
		[]any{"PV of terminal value", res.Results.PVTerminalValue},
		[]any{"Enterprise value", res.Results.EnterpriseValue},
		[]any{"Equity value", res.Results.EquityValue},
	)

	sens := res.Sensitivity
	secondary := "Perpetual growth"
	if sens.Method == dcf.TerminalExitMultiple {
		secondary = "Exit multiple"
	}
	header := []any{"WACC \\ " + secondary}
	for _, v := range sens.SecondaryValues {
		header = append(header, v)
	}
	grid := [][]any{header}
	for i, wacc := range sens.WACCValues {
		row := []any{wacc}
		for j := range sens.SecondaryValues {
			if ev, ok := sens.Cell(i, j); ok {
				row = append(row, ev)
			} else {
				row = append(row, "n/a")
			}
		}
		grid = append(grid, row)
	}

	return []tabular.Sheet{
		{Name: "Projection", Rows: projection},
		{Name: "Sensitivity", Rows: grid},
	}
}

func init() {
	dcfCmd.Flags().StringVar(&dcfInput, "input", "", "path to DCF bundle (YAML or JSON, required)")
	dcfCmd.Flags().BoolVar(&dcfSave, "save", false, "persist the valuation")
	dcfCmd.Flags().BoolVar(&dcfActivate, "activate", false, "mark the saved valuation as the company's active one")
	dcfCmd.Flags().StringVar(&dcfXLSX, "xlsx", "", "export projection and sensitivity grid to this XLSX path")
	dcfCmd.Flags().StringVar(&dcfFormat, "format", "table", "output format: table or json")
	_ = dcfCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(dcfCmd)
}
