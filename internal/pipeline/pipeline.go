// Package pipeline orchestrates the full city-pack refresh: polygon fetch,
// ingestion, coverage selection, metric collection, tagging, and the merge
// back into the pack artifact.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nld59/relocation-brief-webapp/internal/boundary"
	"github.com/nld59/relocation-brief-webapp/internal/coverage"
	"github.com/nld59/relocation-brief-webapp/internal/metrics"
	"github.com/nld59/relocation-brief-webapp/internal/model"
	"github.com/nld59/relocation-brief-webapp/internal/pack"
	"github.com/nld59/relocation-brief-webapp/internal/tagging"
)

// ErrCoverageShortfall is returned (wrapped, with the commune list) when any
// commune's selection came up short of n_min. The run still produces all its
// outputs; the error exists so callers can exit non-zero.
var ErrCoverageShortfall = eris.New("pipeline: coverage shortfall")

// PolygonProvider yields the raw commune and microhood features. The network
// client and the shapefile loader both satisfy it.
type PolygonProvider interface {
	Fetch(ctx context.Context) ([]model.RawFeature, error)
}

// Options wires a Pipeline. Provider and Querier are required; everything
// else has a sensible zero value.
type Options struct {
	Provider  PolygonProvider
	Querier   metrics.FeatureQuerier
	Cache     metrics.Cache
	Overrides map[string]string
	Rules     []tagging.Rule

	Coverage    coverage.Params
	Tagging     tagging.Params
	Concurrency int

	PackPath    string
	OutPackPath string

	FullGeoJSONPath    string
	MissingGeoJSONPath string

	// DryRun runs every stage but writes nothing.
	DryRun bool
	Stamp  *pack.Stamp
}

// Pipeline runs one full refresh.
type Pipeline struct {
	opts Options
}

func New(opts Options) *Pipeline {
	if len(opts.Rules) == 0 {
		opts.Rules = tagging.DefaultRules()
	}
	return &Pipeline{opts: opts}
}

// CommuneReport is one row of the run report.
type CommuneReport struct {
	ID        string
	Name      string
	Selected  int
	Available int
	Missing   bool
	Tags      []model.Tag
}

// Report summarizes a completed run for the CLI.
type Report struct {
	Communes   []CommuneReport
	Missing    []string
	Unassigned []string
	TagSummary tagging.Summary
	Duration   time.Duration
}

// Run executes every stage in order. The pack is validated against the
// ingested commune set before any file is written, so a schema mismatch
// leaves the filesystem untouched.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	start := time.Now()

	raw, err := p.opts.Provider.Fetch(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch polygons")
	}
	log.Info("polygons fetched", zap.Int("features", len(raw)))

	catalog, err := boundary.Ingest(raw, boundary.Options{CommuneOverrides: p.opts.Overrides})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: ingest")
	}
	log.Info("catalog built",
		zap.Int("communes", len(catalog.Communes)),
		zap.Int("microhoods", len(catalog.Microhoods)),
		zap.Int("unassigned", len(catalog.Unassigned)))

	doc, err := pack.Load(p.opts.PackPath)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(catalog); err != nil {
		return nil, err
	}

	selections := coverage.SelectAll(catalog, p.opts.Coverage)

	collectorOpts := []metrics.Option{metrics.WithConcurrency(p.opts.Concurrency)}
	if p.opts.Cache != nil {
		collectorOpts = append(collectorOpts, metrics.WithCache(p.opts.Cache))
	}
	metricsByCommune, err := metrics.New(p.opts.Querier, collectorOpts...).Collect(ctx, catalog)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: collect metrics")
	}

	tags := tagging.Assign(metricsByCommune, p.opts.Rules, p.opts.Tagging)

	result := &model.RunResult{
		Catalog:    catalog,
		Selections: selections,
		Metrics:    metricsByCommune,
		Tags:       tags,
	}

	if !p.opts.DryRun {
		if err := p.writeOutputs(doc, result); err != nil {
			return nil, err
		}
	}

	report := buildReport(result)
	report.Duration = time.Since(start)
	log.Info("run complete",
		zap.Duration("duration", report.Duration),
		zap.Int("missing", len(report.Missing)))

	if len(report.Missing) > 0 {
		return report, eris.Wrapf(ErrCoverageShortfall, "communes below n_min: %v", report.Missing)
	}
	return report, nil
}

func (p *Pipeline) writeOutputs(doc *pack.Document, result *model.RunResult) error {
	if p.opts.FullGeoJSONPath != "" {
		if err := WriteFullGeoJSON(p.opts.FullGeoJSONPath, result.Catalog, result.Selections); err != nil {
			return err
		}
	}
	if p.opts.MissingGeoJSONPath != "" {
		if err := WriteMissingGeoJSON(p.opts.MissingGeoJSONPath, result.Catalog, result.Selections); err != nil {
			return err
		}
	}

	merged, err := doc.Merge(result, tagging.DataDrivenTagIDs(p.opts.Rules), p.opts.Stamp)
	if err != nil {
		return err
	}
	out := p.opts.OutPackPath
	if out == "" {
		out = p.opts.PackPath
	}
	return writeAtomic(out, merged)
}

func buildReport(result *model.RunResult) *Report {
	selByCommune := make(map[string]model.CoverageSelection, len(result.Selections))
	for _, s := range result.Selections {
		selByCommune[s.CommuneID] = s
	}

	report := &Report{Missing: result.MissingCommunes()}
	for _, c := range result.Catalog.Communes {
		sel := selByCommune[c.ID]
		report.Communes = append(report.Communes, CommuneReport{
			ID:        c.ID,
			Name:      c.Name,
			Selected:  len(sel.MicrohoodIDs),
			Available: sel.Available,
			Missing:   sel.Missing,
			Tags:      result.Tags[c.ID],
		})
	}
	for _, m := range result.Catalog.Unassigned {
		report.Unassigned = append(report.Unassigned, m.ID)
	}
	report.TagSummary = tagging.Summarize(result.Tags)
	return report
}

// writeAtomic writes via a temp file in the destination directory and
// renames, so a failed run never leaves a half-written artifact.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return eris.Wrapf(err, "pipeline: create temp in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "pipeline: write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "pipeline: close %s", tmp.Name())
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "pipeline: rename to %s", path)
}
