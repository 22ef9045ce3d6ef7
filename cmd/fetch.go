package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nld59/relocation-brief-webapp/internal/boundary"
	"github.com/nld59/relocation-brief-webapp/internal/coverage"
	"github.com/nld59/relocation-brief-webapp/internal/pipeline"
)

var (
	fetchOutFull    string
	fetchOutMissing string
)

// fetchCmd runs ingestion and coverage selection only. Useful for inspecting
// what the polygon source returns before committing to a pack merge.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and ingest polygons without touching a pack",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		applyBuildOverrides(cmd)

		provider, err := newProvider()
		if err != nil {
			return err
		}
		overrides, err := loadOverrides()
		if err != nil {
			return err
		}

		raw, err := provider.Fetch(ctx)
		if err != nil {
			return err
		}
		catalog, err := boundary.Ingest(raw, boundary.Options{CommuneOverrides: overrides})
		if err != nil {
			return err
		}
		selections := coverage.SelectAll(catalog, coverage.Params{
			NMin: cfg.Coverage.NMin,
			NMax: cfg.Coverage.NMax,
		})

		if fetchOutFull != "" {
			if err := pipeline.WriteFullGeoJSON(fetchOutFull, catalog, selections); err != nil {
				return err
			}
		}
		if fetchOutMissing != "" {
			if err := pipeline.WriteMissingGeoJSON(fetchOutMissing, catalog, selections); err != nil {
				return err
			}
		}

		var missing int
		for _, s := range selections {
			if s.Missing {
				missing++
			}
		}
		fmt.Printf("communes: %d, microhoods: %d, unassigned: %d, under-covered: %d\n",
			len(catalog.Communes), len(catalog.Microhoods), len(catalog.Unassigned), missing)

		zap.L().Info("fetch complete",
			zap.Int("communes", len(catalog.Communes)),
			zap.Int("microhoods", len(catalog.Microhoods)))
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchOutFull, "out-full-geojson", "", "write all microhoods as GeoJSON")
	fetchCmd.Flags().StringVar(&fetchOutMissing, "out-missing-geojson", "", "write under-covered commune polygons as GeoJSON")
	fetchCmd.Flags().IntVar(&buildNMin, "n-min", 8, "minimum microhoods per commune")
	fetchCmd.Flags().IntVar(&buildNMax, "n-max", 12, "maximum microhoods per commune")
	fetchCmd.Flags().IntVar(&buildPageSize, "page-size", 500, "polygon fetch page size")
	fetchCmd.Flags().IntVar(&buildTimeout, "timeout", 60, "per-request timeout in seconds")
	fetchCmd.Flags().StringVar(&buildShapefile, "shapefile", "", "directory with communes.shp and quarters.shp (offline polygon source)")
	fetchCmd.Flags().StringVar(&buildMapping, "mapping", "", "curated quarter-to-commune override sheet (xlsx)")
	rootCmd.AddCommand(fetchCmd)
}
