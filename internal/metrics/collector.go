// Package metrics computes per-commune density and share metrics from
// categorized open-geodata features. Communes are processed by a bounded
// worker pool; all workers share one global rate limiter owned by the
// feature-query client, so parallelism never exceeds the endpoint's budget.
package metrics

import (
	"context"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nld59/relocation-brief-webapp/internal/geomath"
	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// FeatureQuerier returns the features in bbox matching any selector.
// Implementations must be safe for concurrent use.
type FeatureQuerier interface {
	Query(ctx context.Context, bbox geomath.BBox, selectors []Selector, withGeometry bool) ([]model.GeoElement, error)
}

// Cache short-circuits repeated feature queries across runs. A miss returns
// ok=false with no error.
type Cache interface {
	Get(ctx context.Context, communeID, category string) ([]model.GeoElement, bool, error)
	Put(ctx context.Context, communeID, category string, elems []model.GeoElement) error
}

// Option configures a Collector.
type Option func(*Collector)

// WithConcurrency sets the worker pool size. Default 4.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCache attaches a feature-query cache.
func WithCache(cache Cache) Option {
	return func(c *Collector) {
		c.cache = cache
	}
}

// Collector computes the fixed metric set for every commune in a catalog.
type Collector struct {
	querier     FeatureQuerier
	cache       Cache
	concurrency int
}

// New creates a Collector over the given querier.
func New(querier FeatureQuerier, opts ...Option) *Collector {
	c := &Collector{querier: querier, concurrency: 4}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns commune id → metrics. A category that fails after retries
// is absent from that commune's map; it never aborts the run. The only error
// returned is context cancellation.
func (c *Collector) Collect(ctx context.Context, catalog *model.Catalog) (map[string]model.Metrics, error) {
	results := make([]model.Metrics, len(catalog.Communes))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for i, commune := range catalog.Communes {
		i, commune := i, commune
		eg.Go(func() error {
			results[i] = c.collectCommune(gCtx, commune)
			return gCtx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]model.Metrics, len(catalog.Communes))
	for i, commune := range catalog.Communes {
		out[commune.ID] = results[i]
	}
	return out, nil
}

func (c *Collector) collectCommune(ctx context.Context, commune model.Commune) model.Metrics {
	log := zap.L().With(zap.String("component", "metrics"), zap.String("commune", commune.ID))

	m := make(model.Metrics)
	if commune.AreaKm2 <= 0 {
		log.Warn("commune has no usable area, all metrics null")
		return m
	}

	bbox := geomath.Bounds(commune.Polygon)
	for _, cat := range Categories() {
		elems, err := c.categoryElements(ctx, commune.ID, cat, bbox)
		if err != nil {
			// Missing data for one category must not block the others.
			log.Warn("category query failed, metric degraded to null",
				zap.String("category", cat.Name), zap.Error(err))
			continue
		}

		if cat.Area {
			m[cat.Metric] = overlapAreaKm2(elems, commune) / commune.AreaKm2
		} else {
			m[cat.Metric] = float64(containedCount(elems, commune)) / commune.AreaKm2
		}
	}

	log.Debug("commune metrics computed", zap.Int("metrics", len(m)))
	return m
}

func (c *Collector) categoryElements(ctx context.Context, communeID string, cat Category, bbox geomath.BBox) ([]model.GeoElement, error) {
	if c.cache != nil {
		if elems, ok, err := c.cache.Get(ctx, communeID, cat.Name); err == nil && ok {
			return elems, nil
		}
	}

	elems, err := c.querier.Query(ctx, bbox, cat.Selectors, cat.Area)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, communeID, cat.Name, elems); err != nil {
			zap.L().Warn("feature cache write failed", zap.Error(err))
		}
	}
	return elems, nil
}

// containedCount counts elements whose representative point lies inside the
// commune polygon. The bbox query over-fetches; this is the exact filter.
func containedCount(elems []model.GeoElement, commune model.Commune) int {
	var n int
	for _, e := range elems {
		if geomath.Contains(commune.Polygon, e.Point) {
			n++
		}
	}
	return n
}

// overlapAreaKm2 sums the area of polygons whose representative point falls
// inside the commune. The representative-point rule is applied consistently
// with counting categories, so a park straddling a boundary is attributed to
// exactly one commune.
func overlapAreaKm2(elems []model.GeoElement, commune model.Commune) float64 {
	var sum float64
	for _, e := range elems {
		if len(e.Ring) < 3 || !geomath.Contains(commune.Polygon, e.Point) {
			continue
		}
		sum += geomath.AreaKm2(ringPolygon(e.Ring))
	}
	return sum
}

func ringPolygon(ring []model.LonLat) *geom.Polygon {
	flat := make([]float64, 0, len(ring)*2)
	for _, p := range ring {
		flat = append(flat, p.Lon, p.Lat)
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}
