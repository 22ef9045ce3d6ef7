// Package shapefile loads commune and microhood polygons from local
// shapefiles, as an offline alternative to the WFS endpoint. Useful when the
// official dataset is distributed as a download rather than a service.
package shapefile

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// Options configures the loader. Either path may be empty to skip that layer.
type Options struct {
	CommunePath string
	QuarterPath string
}

// Loader implements the polygon provider contract over local shapefiles.
type Loader struct {
	opts Options
}

// New creates a Loader.
func New(opts Options) *Loader {
	return &Loader{opts: opts}
}

// Fetch reads both shapefiles and returns the deduplicated feature set,
// communes first. The context is accepted for interface symmetry with the
// network provider; reading local files is not cancellable mid-file.
func (l *Loader) Fetch(_ context.Context) ([]model.RawFeature, error) {
	var out []model.RawFeature

	layers := []struct {
		path  string
		layer model.FeatureLayer
	}{
		{l.opts.CommunePath, model.LayerCommune},
		{l.opts.QuarterPath, model.LayerMicrohood},
	}

	for _, entry := range layers {
		if entry.path == "" {
			continue
		}
		n, err := readLayer(entry.path, entry.layer, &out)
		if err != nil {
			return nil, err
		}
		zap.L().Info("shapefile: layer loaded",
			zap.String("path", entry.path),
			zap.Int("features", n),
		)
	}

	return out, nil
}

// Attribute fields checked in order for each role.
var (
	idFields        = []string{"MDRC", "ID", "CODE"}
	nameFields      = []string{"NAME_FRE", "NAME_FR", "NAME", "MU_NAME_F"}
	secondaryFields = []string{"NAME_DUT", "NAME_NL", "MU_NAME_N"}
)

func readLayer(path string, layer model.FeatureLayer, out *[]model.RawFeature) (int, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = reader.Close() }()

	// Attribute codes are only unique within one file; the commune and
	// quarter layers may reuse the same code space.
	seen := make(map[string]struct{})

	idIdx := fieldIndex(reader, idFields)
	nameIdx := fieldIndex(reader, nameFields)
	secIdx := fieldIndex(reader, secondaryFields)

	var total int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			continue
		}

		g := polygonToMultiPolygon(poly)
		if g == nil {
			continue
		}

		var id, name, secondary string
		if idIdx >= 0 {
			id = strings.TrimSpace(reader.Attribute(idIdx))
		}
		if nameIdx >= 0 {
			name = strings.TrimSpace(reader.Attribute(nameIdx))
		}
		if secIdx >= 0 {
			secondary = strings.TrimSpace(reader.Attribute(secIdx))
		}
		if id == "" && name == "" {
			continue
		}
		if id == "" {
			id = string(layer) + ":" + name
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		*out = append(*out, model.RawFeature{
			ID:            id,
			Layer:         layer,
			Name:          name,
			SecondaryName: secondary,
			Geometry:      g,
		})
		total++
	}

	return total, nil
}

func fieldIndex(r *shp.Reader, candidates []string) int {
	for _, want := range candidates {
		for i, f := range r.Fields() {
			if strings.EqualFold(strings.TrimRight(string(f.Name[:]), "\x00"), want) {
				return i
			}
		}
	}
	return -1
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Parts are classified by ring orientation: outer rings run clockwise in the
// shapefile spec, holes counter-clockwise. Each hole is pushed into the outer
// ring that encloses it so downstream area and containment math sees it as a
// hole rather than as extra land.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var outers []*geom.Polygon
	var holes [][]float64

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		if ringSignedArea(flat) > 0 {
			holes = append(holes, flat)
			continue
		}
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("shapefile: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		outers = append(outers, poly)
	}

	for _, hole := range holes {
		owner := enclosingOuter(outers, hole)
		if owner == nil {
			// Orphan hole, or a dataset that never wound its outer rings
			// clockwise. Treating it as an outer keeps the shape visible.
			poly := geom.NewPolygon(geom.XY)
			if err := poly.Push(geom.NewLinearRingFlat(geom.XY, hole)); err == nil {
				outers = append(outers, poly)
			}
			continue
		}
		if err := owner.Push(geom.NewLinearRingFlat(geom.XY, hole)); err != nil {
			zap.L().Debug("shapefile: skipping malformed hole", zap.Error(err))
		}
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, poly := range outers {
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("shapefile: skipping malformed part", zap.Error(err))
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// ringSignedArea is the shoelace sum over a flat XY ring. Negative means
// clockwise winding (a shapefile outer ring), positive counter-clockwise.
func ringSignedArea(flat []float64) float64 {
	var sum float64
	n := len(flat)
	if n < 6 {
		return 0
	}
	for i := 0; i < n; i += 2 {
		j := (i + 2) % n
		sum += flat[i]*flat[j+1] - flat[j]*flat[i+1]
	}
	return sum / 2
}

// enclosingOuter returns the outer polygon whose shell contains the hole's
// first vertex, or nil.
func enclosingOuter(outers []*geom.Polygon, hole []float64) *geom.Polygon {
	if len(hole) < 2 {
		return nil
	}
	x, y := hole[0], hole[1]
	for _, poly := range outers {
		if ringContains(poly.LinearRing(0).FlatCoords(), x, y) {
			return poly
		}
	}
	return nil
}

// ringContains is an even-odd point-in-ring test on flat XY coords.
func ringContains(flat []float64, x, y float64) bool {
	inside := false
	n := len(flat)
	for i, j := 0, n-2; i < n; j, i = i, i+2 {
		xi, yi := flat[i], flat[i+1]
		xj, yj := flat[j], flat[j+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
