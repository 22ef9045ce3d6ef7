package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nld59/relocation-brief-webapp/internal/config"
	"github.com/nld59/relocation-brief-webapp/internal/pipeline"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "citypack",
	Short: "Commune metrics and microhood coverage pipeline",
	Long:  "Fetches commune and microhood polygons, selects a spread of microhoods per commune, computes per-commune amenity metrics, assigns percentile tags, and merges the results into a city-pack artifact.",
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
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// A coverage shortfall is a completed run with a degraded outcome;
		// callers distinguish it from hard failures by exit code.
		if errors.Is(err, pipeline.ErrCoverageShortfall) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
