package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/valuation-engine/internal/pipeline"
)

var (
	valuateInput  string
	valuateSave   bool
	valuateFormat string
)

var valuateCmd = &cobra.Command{
	Use:   "valuate",
	Short: "Score readiness and value a company from an input bundle",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var req pipeline.ValuationRequest
		if err := readBundle(valuateInput, &req); err != nil {
			return err
		}
		if cmd.Flags().Changed("save") {
			req.Save = valuateSave
		}

		env, err := initEngine(ctx, "valuate")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Valuate(ctx, req)
		if err != nil {
			return eris.Wrap(err, "valuate")
		}

		out := cmd.OutOrStdout()
		if valuateFormat == "json" {
			return writeJSON(out, res)
		}
		formatValuation(out, res)
		return nil
	},
}

// formatValuation writes a human-readable valuation summary to w.
func formatValuation(out io.Writer, res *pipeline.ValuationResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	snap := res.Snapshot
	if res.Stale {
		_, _ = fmt.Fprintf(w, "STALE: recalculation failed, showing snapshot from %s\n",
			snap.CreatedAt.Format("2006-01-02 15:04"))
	}

	_, _ = fmt.Fprintf(w, "Adjusted EBITDA:\t%s (%s)\n", money(snap.AdjustedEBITDA.InexactFloat64()), snap.EBITDASource)
	_, _ = fmt.Fprintf(w, "Multiple range:\t%s - %s (%s)\n", multiple(snap.MultipleLow), multiple(snap.MultipleHigh), snap.MultipleSource)
	_, _ = fmt.Fprintf(w, "Core score:\t%s\n", pct(snap.CoreScore))
	_, _ = fmt.Fprintf(w, "BRI score:\t%s (%s weights)\n", pct(snap.BRIScore), snap.WeightSource)
	if res.Score != nil {
		_, _ = fmt.Fprintf(w, "Deal readiness:\t%s\n", pct(res.Score.DealReadiness))
	}
	_, _ = fmt.Fprintf(w, "Discount:\t%s\n", pct(snap.DiscountFraction))
	_, _ = fmt.Fprintf(w, "Final multiple:\t%s\n", multiple(snap.FinalMultiple))
	_, _ = fmt.Fprintf(w, "Current value:\t%s\n", money(snap.CurrentValue.InexactFloat64()))
	_, _ = fmt.Fprintf(w, "Potential value:\t%s\n", money(snap.PotentialValue.InexactFloat64()))
	_, _ = fmt.Fprintf(w, "Value gap:\t%s\n", money(snap.ValueGap.InexactFloat64()))

	if len(snap.CategoryScores) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "CATEGORY\tSCORE\tEARNED\tTOTAL")
		for _, cs := range snap.CategoryScores {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f\t%.1f\n", cs.Category, pct(cs.Score), cs.EarnedPoints, cs.TotalPoints)
		}
	}
	_ = w.Flush()
}

func init() {
	valuateCmd.Flags().StringVar(&valuateInput, "input", "", "path to valuation bundle (YAML or JSON, required)")
	valuateCmd.Flags().BoolVar(&valuateSave, "save", false, "persist the result as a new snapshot")
	valuateCmd.Flags().StringVar(&valuateFormat, "format", "table", "output format: table or json")
	_ = valuateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(valuateCmd)
}
