package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/valuation-engine/internal/pipeline"
	"github.com/sells-group/valuation-engine/internal/signal"
)

// signalsBundle is the signals input file. A zero AsOf means now.
type signalsBundle struct {
	CompanyID string          `yaml:"company_id"`
	AsOf      time.Time       `yaml:"as_of"`
	Signals   []signal.Signal `yaml:"signals"`
}

// find returns the signal with id.
func (b *signalsBundle) find(id string) (signal.Signal, error) {
	for _, s := range b.Signals {
		if s.ID == id {
			return s, nil
		}
	}
	return signal.Signal{}, eris.Errorf("signal %q not found in input", id)
}

var (
	signalsInput  string
	signalsID     string
	signalsActor  string
	signalsReason string
	signalsFormat string
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Rank signals, summarize risk, and record advisor actions",
}

var signalsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Rank, group, and summarize value at risk",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var b signalsBundle
		if err := readBundle(signalsInput, &b); err != nil {
			return err
		}
		asOf := b.AsOf
		if asOf.IsZero() {
			asOf = time.Now().UTC()
		}

		env, err := initEngine(cmd.Context(), "signals")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Pipeline.SummarizeSignals(b.Signals, asOf)
		if err != nil {
			return eris.Wrap(err, "signals summary")
		}

		out := cmd.OutOrStdout()
		if signalsFormat == "json" {
			return writeJSON(out, sum)
		}
		formatSignalSummary(out, sum)
		return nil
	},
}

var signalsConfirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a signal, upgrading its confidence",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSignalTransition(cmd, signal.ActionConfirm)
	},
}

var signalsDismissCmd = &cobra.Command{
	Use:   "dismiss",
	Short: "Dismiss a signal, downgrading its confidence",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSignalTransition(cmd, signal.ActionDismiss)
	},
}

var signalsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit ledger for a signal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEngine(cmd.Context(), "signals")
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Store.ListSignalTransitions(cmd.Context(), signalsID)
		if err != nil {
			return eris.Wrap(err, "signals history")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "AT\tACTION\tACTOR\tCONFIDENCE\tSTATUS\tVALUE DELTA\tREASON")
		for _, r := range records {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s -> %s\t%s -> %s\t%s\t%s\n",
				r.At.Format("2006-01-02 15:04"), r.Action, r.Actor,
				r.ConfidenceBefore, r.ConfidenceAfter,
				r.StatusBefore, r.StatusAfter,
				money(r.ValueDelta), r.Reason,
			)
		}
		return w.Flush()
	},
}

func runSignalTransition(cmd *cobra.Command, action signal.Action) error {
	ctx := cmd.Context()

	var b signalsBundle
	if err := readBundle(signalsInput, &b); err != nil {
		return err
	}
	s, err := b.find(signalsID)
	if err != nil {
		return err
	}

	env, err := initEngine(ctx, "signals")
	if err != nil {
		return err
	}
	defer env.Close()

	var (
		after signal.Signal
		t     signal.Transition
	)
	if action == signal.ActionConfirm {
		after, t, err = env.Pipeline.ConfirmSignal(ctx, b.CompanyID, s, signalsActor)
	} else {
		after, t, err = env.Pipeline.DismissSignal(ctx, b.CompanyID, s, signalsActor, signalsReason)
	}
	if err != nil {
		return eris.Wrapf(err, "signals %s", action)
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{"signal": after, "transition": t})
}

// formatSignalSummary writes the active groups, queue size, and risk totals.
func formatSignalSummary(out io.Writer, sum *pipeline.SignalSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Value at risk:\t%s (raw %s)\n", money(sum.Risk.TotalValueAtRisk), money(sum.Risk.RawValueAtRisk))
	_, _ = fmt.Fprintf(w, "Open signals:\t%d\n", sum.Risk.SignalCount)
	_, _ = fmt.Fprintf(w, "Trend:\t%s (%s vs %s)\n", sum.Risk.Trend.Direction, money(sum.Risk.Trend.Current), money(sum.Risk.Trend.Previous))

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "GROUP\tSEVERITY\tCONFIDENCE\tCOUNT\tWEIGHTED IMPACT\tRANK")
	for _, g := range sum.Display.Active {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.2f\n",
			g.Title, g.MaxSeverity, g.MaxConfidence, g.Count, money(g.TotalWeightedImpact), g.GroupRankScore)
	}
	if n := len(sum.Display.Queued); n > 0 {
		_, _ = fmt.Fprintf(w, "(%d more queued)\n", n)
	}

	if len(sum.Risk.ByCategory) > 0 {
		cats := make([]string, 0, len(sum.Risk.ByCategory))
		for c := range sum.Risk.ByCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "CATEGORY\tOPEN\tVALUE AT RISK")
		for _, c := range cats {
			r := sum.Risk.ByCategory[c]
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", c, r.Count, money(r.ValueAtRisk))
		}
	}
	_ = w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{signalsSummaryCmd, signalsConfirmCmd, signalsDismissCmd} {
		c.Flags().StringVar(&signalsInput, "input", "", "path to signals file (YAML or JSON, required)")
		_ = c.MarkFlagRequired("input")
	}
	for _, c := range []*cobra.Command{signalsConfirmCmd, signalsDismissCmd, signalsHistoryCmd} {
		c.Flags().StringVar(&signalsID, "id", "", "signal ID (required)")
		_ = c.MarkFlagRequired("id")
	}
	for _, c := range []*cobra.Command{signalsConfirmCmd, signalsDismissCmd} {
		c.Flags().StringVar(&signalsActor, "actor", "", "advisor recording the action")
	}
	signalsDismissCmd.Flags().StringVar(&signalsReason, "reason", "", "why the signal is dismissed")
	signalsSummaryCmd.Flags().StringVar(&signalsFormat, "format", "table", "output format: table or json")

	signalsCmd.AddCommand(signalsSummaryCmd, signalsConfirmCmd, signalsDismissCmd, signalsHistoryCmd)
	rootCmd.AddCommand(signalsCmd)
}
