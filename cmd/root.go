package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "valuation-engine",
	Short: "Exit valuation and risk engine",
	Long:  "Scores business readiness, values companies on discounted EBITDA multiples and DCF, aggregates signal risk, and simulates retirement outcomes.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
