package model

import (
	"github.com/twpayne/go-geom"
)

// Confidence is the percentile tier assigned to a data-driven tag.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// FeatureLayer identifies which administrative layer a raw feature belongs to.
type FeatureLayer string

const (
	LayerCommune   FeatureLayer = "commune"
	LayerMicrohood FeatureLayer = "microhood"
)

// RawFeature is a single polygon feature as returned by a polygon provider,
// before it is resolved into a canonical Commune or Microhood record.
type RawFeature struct {
	ID            string         `json:"id"`
	Layer         FeatureLayer   `json:"layer"`
	Name          string         `json:"name"`
	SecondaryName string         `json:"secondary_name,omitempty"`
	Geometry      geom.T         `json:"-"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// Commune is one top-level administrative unit of the profiled city.
// The commune set is fixed per city; communes are loaded, never created.
type Commune struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Polygon  geom.T  `json:"-"`
	AreaKm2  float64 `json:"area_km2"`
	Centroid LonLat  `json:"centroid"`
}

// Microhood is an informally named sub-area within a commune. Geometry may be
// absent in degraded cases; the representative point is always set.
type Microhood struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	CommuneID string   `json:"commune_id"`
	Polygon   geom.T   `json:"-"`
	Point     LonLat   `json:"point"`
	AreaKm2   float64  `json:"area_km2"`
	Aliases   []string `json:"aliases,omitempty"`
}

// HasPolygon reports whether the microhood carries real geometry rather than
// just a representative point.
func (m Microhood) HasPolygon() bool { return m.Polygon != nil }

// LonLat is a WGS84 coordinate pair.
type LonLat struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// GeoElement is a single point or way feature returned by the feature-query
// service. Point is the node position or the way's representative center;
// Ring holds the way outline when geometry was requested.
type GeoElement struct {
	ID    int64    `json:"id"`
	Point LonLat   `json:"point"`
	Ring  []LonLat `json:"ring,omitempty"`
}

// CoverageSelection is the per-commune outcome of coverage-first selection.
// It is fully replaced on every run, never merged incrementally.
type CoverageSelection struct {
	CommuneID    string   `json:"commune_id"`
	MicrohoodIDs []string `json:"microhood_ids"`
	NMin         int      `json:"n_min"`
	NMax         int      `json:"n_max"`
	Available    int      `json:"available"`
	Missing      bool     `json:"missing"`
}

// Metrics maps metric name to value for one commune. A category that could
// not be computed is simply absent from the map.
type Metrics map[string]float64

// Metric names produced by the collector. Recomputed wholesale each run.
const (
	MetricCafesDensity       = "cafes_density"
	MetricBarsDensity        = "bars_density"
	MetricRestaurantsDensity = "restaurants_density"
	MetricParksShare         = "parks_share"
	MetricMetroDensity       = "metro_density"
	MetricTramDensity        = "tram_density"
	MetricTrainDensity       = "train_density"
	MetricSchoolsDensity     = "schools_density"
	MetricChildcareDensity   = "childcare_density"
)

// Tag is a data-driven tag assigned to a commune. Confidence may be empty
// when a rule's eligibility threshold is looser than the medium band.
type Tag struct {
	ID         string     `json:"id"`
	Confidence Confidence `json:"confidence,omitempty"`
}

// Catalog is the canonical output of polygon ingestion: one record per
// commune in the fixed set and one per distinct microhood.
type Catalog struct {
	Communes   []Commune
	Microhoods []Microhood
	// Unassigned holds microhoods whose representative point fell outside
	// every commune polygon. They are reported, never silently dropped.
	Unassigned []Microhood
}

// CommuneByID returns the commune with the given id, if present.
func (c *Catalog) CommuneByID(id string) (Commune, bool) {
	for _, cm := range c.Communes {
		if cm.ID == id {
			return cm, true
		}
	}
	return Commune{}, false
}

// MicrohoodsOf returns the microhoods assigned to a commune, in catalog order.
func (c *Catalog) MicrohoodsOf(communeID string) []Microhood {
	var out []Microhood
	for _, m := range c.Microhoods {
		if m.CommuneID == communeID {
			out = append(out, m)
		}
	}
	return out
}

// RunResult bundles everything the merger needs from the upstream stages.
type RunResult struct {
	Catalog    *Catalog
	Selections []CoverageSelection
	Metrics    map[string]Metrics
	Tags       map[string][]Tag
}

// MissingCommunes returns the ids of communes whose selection fell short of
// n_min, in selection order.
func (r *RunResult) MissingCommunes() []string {
	var out []string
	for _, s := range r.Selections {
		if s.Missing {
			out = append(out, s.CommuneID)
		}
	}
	return out
}
