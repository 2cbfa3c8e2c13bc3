package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/bri"
	"github.com/sells-group/valuation-engine/internal/store"
)

var (
	weightsCompany string
	weightsFile    string
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Manage BRI category weight overrides",
}

var weightsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the weight override for a company, or the global override without --company",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var raw map[string]float64
		if err := readBundle(weightsFile, &raw); err != nil {
			return err
		}
		w, err := parseWeights(raw)
		if err != nil {
			return err
		}
		if err := bri.ValidateWeights(w); err != nil {
			return eris.Wrap(err, "weights set")
		}

		env, err := initEngine(cmd.Context(), "weights")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.SetWeightOverride(cmd.Context(), weightsCompany, w); err != nil {
			return eris.Wrap(err, "weights set")
		}
		zap.L().Info("weight override saved", zap.String("scope", scopeName(weightsCompany)))
		return nil
	},
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective weights for a company, or the global weights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, "weights")
		if err != nil {
			return err
		}
		defer env.Close()

		var company bri.Weights
		if weightsCompany != store.GlobalScope {
			if company, err = env.Store.GetWeightOverride(ctx, weightsCompany); err != nil {
				return eris.Wrap(err, "weights show")
			}
		}
		global, err := env.Store.GetWeightOverride(ctx, store.GlobalScope)
		if err != nil {
			return eris.Wrap(err, "weights show")
		}
		if len(global) == 0 {
			if global, err = cfg.GlobalWeights(); err != nil {
				return err
			}
		}

		w, source := bri.ResolveWeights(company, global)
		out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(out, "Scope:\t%s\n", scopeName(weightsCompany))
		_, _ = fmt.Fprintf(out, "Source:\t%s\n", source)
		for _, c := range bri.AllCategories() {
			_, _ = fmt.Fprintf(out, "%s\t%s\n", c, pct(w[c]))
		}
		return out.Flush()
	},
}

// parseWeights converts a name→weight map to category weights.
func parseWeights(raw map[string]float64) (bri.Weights, error) {
	w := make(bri.Weights, len(raw))
	for name, v := range raw {
		c, ok := bri.ParseCategory(name)
		if !ok {
			return nil, eris.Errorf("unknown category %q", name)
		}
		w[c] = v
	}
	return w, nil
}

func scopeName(companyID string) string {
	if companyID == store.GlobalScope {
		return "global"
	}
	return companyID
}

func init() {
	weightsSetCmd.Flags().StringVar(&weightsFile, "file", "", "YAML map of category to weight (required)")
	_ = weightsSetCmd.MarkFlagRequired("file")
	for _, c := range []*cobra.Command{weightsSetCmd, weightsShowCmd} {
		c.Flags().StringVar(&weightsCompany, "company", "", "company ID (empty for the global override)")
	}
	weightsCmd.AddCommand(weightsSetCmd, weightsShowCmd)
	rootCmd.AddCommand(weightsCmd)
}
