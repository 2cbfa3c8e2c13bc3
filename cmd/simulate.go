package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/pipeline"
)

var (
	simulateInput      string
	simulateIterations int
	simulateSeed       uint64
	simulateParallel   bool
	simulateSave       bool
	simulateFormat     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the retirement Monte Carlo simulation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var req pipeline.SimulationRequest
		if err := readBundle(simulateInput, &req); err != nil {
			return err
		}
		if req.Params == nil {
			params := cfg.MonteCarlo.Params
			req.Params = &params
		}
		if cmd.Flags().Changed("iterations") {
			req.Params.Iterations = simulateIterations
		}
		if cmd.Flags().Changed("seed") {
			req.Params.Seed = simulateSeed
		}
		if cmd.Flags().Changed("parallel") {
			req.Parallel = simulateParallel
		}
		if cmd.Flags().Changed("save") {
			req.Save = simulateSave
		}

		env, err := initEngine(ctx, "simulate")
		if err != nil {
			return err
		}
		defer env.Close()

		progress := func(f float64) {
			zap.L().Debug("simulation progress", zap.Float64("fraction", f))
		}
		res, err := env.Pipeline.Simulate(ctx, req, progress)
		if err != nil {
			return eris.Wrap(err, "simulate")
		}

		out := cmd.OutOrStdout()
		if simulateFormat == "json" {
			return writeJSON(out, res)
		}
		formatSimulation(out, res)
		return nil
	},
}

// formatSimulation writes the outcome distribution to w.
func formatSimulation(out io.Writer, res *pipeline.SimulationResult) {
	r := res.Results
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Iterations:\t%d (%s, seed %d)\n", r.Iterations, res.Mode, res.Params.Seed)
	_, _ = fmt.Fprintf(w, "Starting balance:\t%s\n", money(r.StartingBalance))
	_, _ = fmt.Fprintf(w, "Success rate:\t%.1f%%\n", r.SuccessRate)
	_, _ = fmt.Fprintf(w, "Median ending balance:\t%s\n", money(r.MedianEndingBalance))
	_, _ = fmt.Fprintf(w, "10th percentile:\t%s\n", money(r.P10EndingBalance))
	_, _ = fmt.Fprintf(w, "90th percentile:\t%s\n", money(r.P90EndingBalance))
	_, _ = fmt.Fprintf(w, "Mean ending balance:\t%s\n", money(r.MeanEndingBalance))
	_, _ = fmt.Fprintf(w, "Median years lasted:\t%.1f\n", r.MedianYearsLasted)
	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Saved run:\t%s\n", res.RunID)
	}

	if len(r.SurvivalCurve) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "AGE\tFUNDED")
		for i, p := range r.SurvivalCurve {
			// Every fifth year keeps the table short.
			if i%5 != 0 && i != len(r.SurvivalCurve)-1 {
				continue
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\n", p.Age, pct(p.Probability))
		}
	}
	_ = w.Flush()
}

func init() {
	simulateCmd.Flags().StringVar(&simulateInput, "input", "", "path to retirement bundle (YAML or JSON, required)")
	simulateCmd.Flags().IntVar(&simulateIterations, "iterations", 0, "number of iterations (default from config)")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 0, "random seed (default from config)")
	simulateCmd.Flags().BoolVar(&simulateParallel, "parallel", false, "spread iterations over montecarlo.workers goroutines")
	simulateCmd.Flags().BoolVar(&simulateSave, "save", false, "persist the run summary")
	simulateCmd.Flags().StringVar(&simulateFormat, "format", "table", "output format: table or json")
	_ = simulateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(simulateCmd)
}
