package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nld59/relocation-brief-webapp/internal/coverage"
	"github.com/nld59/relocation-brief-webapp/internal/mapping"
	"github.com/nld59/relocation-brief-webapp/internal/metrics"
	"github.com/nld59/relocation-brief-webapp/internal/pack"
	"github.com/nld59/relocation-brief-webapp/internal/pipeline"
	"github.com/nld59/relocation-brief-webapp/internal/store"
	"github.com/nld59/relocation-brief-webapp/internal/tagging"
	"github.com/nld59/relocation-brief-webapp/pkg/overpass"
	"github.com/nld59/relocation-brief-webapp/pkg/shapefile"
	"github.com/nld59/relocation-brief-webapp/pkg/wfs"
)

var (
	buildPack        string
	buildOutPack     string
	buildOutFull     string
	buildOutMissing  string
	buildNMin        int
	buildNMax        int
	buildPageSize    int
	buildTimeout     int
	buildShapefile   string
	buildMapping     string
	buildRules       string
	buildCache       string
	buildConcurrency int
	buildHighPct     int
	buildMediumPct   int
	buildDryRun      bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Refresh a city pack end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		applyBuildOverrides(cmd)

		provider, err := newProvider()
		if err != nil {
			return err
		}
		querier := newQuerier()

		var cache metrics.Cache
		if buildCache != "" {
			sqlCache, err := store.NewSQLite(buildCache, cacheRevision())
			if err != nil {
				return err
			}
			defer sqlCache.Close()
			cache = sqlCache
		}

		overrides, err := loadOverrides()
		if err != nil {
			return err
		}
		rules, err := loadRules()
		if err != nil {
			return err
		}

		p := pipeline.New(pipeline.Options{
			Provider:           provider,
			Querier:            querier,
			Cache:              cache,
			Overrides:          overrides,
			Rules:              rules,
			Coverage:           coverage.Params{NMin: cfg.Coverage.NMin, NMax: cfg.Coverage.NMax},
			Tagging:            tagging.Params{HighPct: cfg.Tagging.HighPct, MediumPct: cfg.Tagging.MediumPct},
			Concurrency:        cfg.Features.Concurrency,
			PackPath:           buildPack,
			OutPackPath:        buildOutPack,
			FullGeoJSONPath:    buildOutFull,
			MissingGeoJSONPath: buildOutMissing,
			DryRun:             buildDryRun,
			Stamp: &pack.Stamp{
				RunID:       uuid.New().String(),
				GeneratedAt: time.Now(),
			},
		})

		report, runErr := p.Run(ctx)
		if report != nil {
			printReport(report)
		}
		return runErr
	},
}

// applyBuildOverrides lets explicit flags win over config file and env.
func applyBuildOverrides(cmd *cobra.Command) {
	if cmd.Flags().Changed("n-min") {
		cfg.Coverage.NMin = buildNMin
	}
	if cmd.Flags().Changed("n-max") {
		cfg.Coverage.NMax = buildNMax
	}
	if cmd.Flags().Changed("page-size") {
		cfg.Source.PageSize = buildPageSize
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Source.TimeoutSecs = buildTimeout
		cfg.Features.TimeoutSecs = buildTimeout
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Features.Concurrency = buildConcurrency
	}
	if cmd.Flags().Changed("high-pct") {
		cfg.Tagging.HighPct = buildHighPct
	}
	if cmd.Flags().Changed("medium-pct") {
		cfg.Tagging.MediumPct = buildMediumPct
	}
	if cmd.Flags().Changed("rules") {
		cfg.Tagging.RulesPath = buildRules
	}
}

// newProvider builds the polygon source: the paginated network endpoint by
// default, or a local shapefile pair when --shapefile names a directory.
func newProvider() (pipeline.PolygonProvider, error) {
	if buildShapefile != "" {
		communes := filepath.Join(buildShapefile, "communes.shp")
		quarters := filepath.Join(buildShapefile, "quarters.shp")
		for _, p := range []string{communes, quarters} {
			if _, err := os.Stat(p); err != nil {
				return nil, eris.Wrapf(err, "shapefile layer %s", p)
			}
		}
		return shapefile.New(shapefile.Options{
			CommunePath: communes,
			QuarterPath: quarters,
		}), nil
	}

	return wfs.New(wfs.Options{
		BaseURL:         cfg.Source.BaseURL,
		CommuneTypeName: cfg.Source.CommuneTypeName,
		QuarterTypeName: cfg.Source.QuarterTypeName,
		PageSize:        cfg.Source.PageSize,
		Timeout:         cfg.Source.Timeout(),
		MaxRetries:      cfg.Source.MaxRetries,
		Limiter:         rate.NewLimiter(rate.Limit(cfg.Source.RequestsPerSec), cfg.Source.RequestBurst),
	}), nil
}

func newQuerier() metrics.FeatureQuerier {
	return overpass.New(overpass.Options{
		BaseURL:    cfg.Features.BaseURL,
		Timeout:    cfg.Features.Timeout(),
		MaxRetries: cfg.Features.MaxRetries,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.Features.RequestsPerSec), cfg.Features.RequestBurst),
	})
}

func loadOverrides() (map[string]string, error) {
	if buildMapping == "" {
		return nil, nil
	}
	return mapping.Load(buildMapping, mapping.Options{})
}

func loadRules() ([]tagging.Rule, error) {
	path := cfg.Tagging.RulesPath
	if path == "" {
		return tagging.DefaultRules(), nil
	}
	return tagging.LoadRules(path)
}

// cacheRevision partitions cached feature queries so that edits to the
// category definitions or a different endpoint never serve stale rows.
func cacheRevision() string {
	names := make([]string, 0, len(metrics.Categories()))
	for _, c := range metrics.Categories() {
		names = append(names, c.Name)
	}
	return cfg.Features.BaseURL + "|" + strings.Join(names, ",")
}

func printReport(r *pipeline.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMMUNE\tSELECTED\tAVAILABLE\tSTATUS\tTAGS")
	for _, c := range r.Communes {
		status := "ok"
		if c.Missing {
			status = "MISSING"
		}
		tags := make([]string, 0, len(c.Tags))
		for _, t := range c.Tags {
			if t.Confidence != "" {
				tags = append(tags, fmt.Sprintf("%s(%s)", t.ID, t.Confidence))
			} else {
				tags = append(tags, t.ID)
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", c.Name, c.Selected, c.Available, status, strings.Join(tags, " "))
	}
	w.Flush()

	fmt.Printf("\ntags: %d high, %d medium, %d untiered\n",
		r.TagSummary.High, r.TagSummary.Medium, r.TagSummary.Plain)
	if len(r.Unassigned) > 0 {
		fmt.Printf("unassigned microhoods: %s\n", strings.Join(r.Unassigned, ", "))
	}
	if len(r.Missing) > 0 {
		fmt.Printf("communes below n_min: %s\n", strings.Join(r.Missing, ", "))
	}

	zap.L().Info("report printed",
		zap.Int("communes", len(r.Communes)),
		zap.Duration("duration", r.Duration))
}

func init() {
	buildCmd.Flags().StringVar(&buildPack, "pack", "", "existing city pack JSON to merge into (required)")
	buildCmd.Flags().StringVar(&buildOutPack, "out-pack", "", "output pack path (default: overwrite --pack)")
	buildCmd.Flags().StringVar(&buildOutFull, "out-full-geojson", "", "write all microhoods as GeoJSON")
	buildCmd.Flags().StringVar(&buildOutMissing, "out-missing-geojson", "", "write under-covered commune polygons as GeoJSON")
	buildCmd.Flags().IntVar(&buildNMin, "n-min", 8, "minimum microhoods per commune")
	buildCmd.Flags().IntVar(&buildNMax, "n-max", 12, "maximum microhoods per commune")
	buildCmd.Flags().IntVar(&buildPageSize, "page-size", 500, "polygon fetch page size")
	buildCmd.Flags().IntVar(&buildTimeout, "timeout", 60, "per-request timeout in seconds")
	buildCmd.Flags().StringVar(&buildShapefile, "shapefile", "", "directory with communes.shp and quarters.shp (offline polygon source)")
	buildCmd.Flags().StringVar(&buildMapping, "mapping", "", "curated quarter-to-commune override sheet (xlsx)")
	buildCmd.Flags().StringVar(&buildRules, "rules", "", "tag rules JSON (default: built-in rule set)")
	buildCmd.Flags().StringVar(&buildCache, "cache", "", "SQLite feature-query cache path")
	buildCmd.Flags().IntVar(&buildConcurrency, "concurrency", 4, "concurrent communes during metric collection")
	buildCmd.Flags().IntVar(&buildHighPct, "high-pct", 15, "top percentile band for high confidence")
	buildCmd.Flags().IntVar(&buildMediumPct, "medium-pct", 30, "top percentile band for medium confidence")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "run all stages but write nothing")
	_ = buildCmd.MarkFlagRequired("pack")
	rootCmd.AddCommand(buildCmd)
}
