package pipeline

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// WriteFullGeoJSON writes every microhood in the catalog as a FeatureCollection,
// marking which ones the coverage pass selected. The feature order follows the
// catalog (id order), so output is stable across runs.
func WriteFullGeoJSON(path string, catalog *model.Catalog, selections []model.CoverageSelection) error {
	selected := make(map[string]bool)
	for _, s := range selections {
		for _, id := range s.MicrohoodIDs {
			selected[id] = true
		}
	}

	fc := &geojson.FeatureCollection{}
	for _, m := range catalog.Microhoods {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       m.ID,
			Geometry: microhoodGeometry(m),
			Properties: map[string]any{
				"name":       m.Name,
				"commune_id": m.CommuneID,
				"area_km2":   m.AreaKm2,
				"selected":   selected[m.ID],
			},
		})
	}

	return writeGeoJSON(path, fc)
}

// WriteMissingGeoJSON writes the polygons of communes whose selection fell
// short of n_min, for visual diagnosis of coverage gaps. An empty collection
// is still written so downstream tooling always finds the file.
func WriteMissingGeoJSON(path string, catalog *model.Catalog, selections []model.CoverageSelection) error {
	missing := make(map[string]bool)
	for _, s := range selections {
		if s.Missing {
			missing[s.CommuneID] = true
		}
	}

	fc := &geojson.FeatureCollection{}
	for _, c := range catalog.Communes {
		if !missing[c.ID] {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       c.ID,
			Geometry: c.Polygon,
			Properties: map[string]any{
				"name": c.Name,
			},
		})
	}

	return writeGeoJSON(path, fc)
}

// microhoodGeometry falls back to the representative point for microhoods
// that arrived without a polygon.
func microhoodGeometry(m model.Microhood) geom.T {
	if m.HasPolygon() {
		return m.Polygon
	}
	return geom.NewPointFlat(geom.XY, []float64{m.Point.Lon, m.Point.Lat})
}

func writeGeoJSON(path string, fc *geojson.FeatureCollection) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrapf(err, "pipeline: marshal geojson %s", path)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", path)
	}
	return nil
}
