// Package boundary turns raw polygon features into canonical Commune and
// Microhood records: one polygon per commune, one per named microhood, with
// ownership resolved by spatial containment rather than source-provided
// names, which are inconsistently cased and accented.
package boundary

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/nld59/relocation-brief-webapp/internal/geomath"
	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// Options adjusts ingestion.
type Options struct {
	// CommuneOverrides maps a normalized microhood alias to a commune display
	// name, taking precedence over spatial containment. Populated from a
	// curated mapping table when one is supplied.
	CommuneOverrides map[string]string
}

// Ingest resolves raw features into a Catalog. Communes are deduplicated by
// normalized name (largest polygon wins); microhoods keep the source feature
// id and are assigned to the commune containing their representative point.
func Ingest(features []model.RawFeature, opts Options) (*model.Catalog, error) {
	log := zap.L().With(zap.String("component", "boundary"))

	communes, err := buildCommunes(features, log)
	if err != nil {
		return nil, err
	}

	overrideIDs := resolveOverrides(communes, opts.CommuneOverrides)

	catalog := &model.Catalog{Communes: communes}
	for _, f := range features {
		if f.Layer != model.LayerMicrohood {
			continue
		}
		mh, ok := buildMicrohood(f, log)
		if !ok {
			continue
		}

		if id, found := matchOverride(mh.Aliases, overrideIDs); found {
			mh.CommuneID = id
		} else {
			mh.CommuneID = containingCommune(communes, mh.Point)
		}

		if mh.CommuneID == "" {
			catalog.Unassigned = append(catalog.Unassigned, mh)
			continue
		}
		catalog.Microhoods = append(catalog.Microhoods, mh)
	}

	sortMicrohoods(catalog.Microhoods)
	sortMicrohoods(catalog.Unassigned)

	log.Info("ingest complete",
		zap.Int("communes", len(catalog.Communes)),
		zap.Int("microhoods", len(catalog.Microhoods)),
		zap.Int("unassigned", len(catalog.Unassigned)),
	)
	return catalog, nil
}

func buildCommunes(features []model.RawFeature, log *zap.Logger) ([]model.Commune, error) {
	byKey := make(map[string]model.Commune)
	for _, f := range features {
		if f.Layer != model.LayerCommune {
			continue
		}
		if !isAreal(f.Geometry) {
			log.Warn("commune feature without polygon geometry, skipping",
				zap.String("id", f.ID), zap.String("name", f.Name))
			continue
		}

		name := DisplayName(f.Name)
		key := Normalize(name)
		if key == "" {
			continue
		}

		c := model.Commune{
			ID:       Slug(name),
			Name:     name,
			Polygon:  f.Geometry,
			AreaKm2:  geomath.AreaKm2(f.Geometry),
			Centroid: geomath.Centroid(f.Geometry),
		}

		// Name variants across pages resolve to one canonical polygon; keep
		// the largest, which is the full boundary rather than an enclave.
		if prev, ok := byKey[key]; ok && prev.AreaKm2 >= c.AreaKm2 {
			continue
		}
		byKey[key] = c
	}

	if len(byKey) == 0 {
		return nil, eris.New("boundary: no commune polygons in source data")
	}

	out := make([]model.Commune, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func buildMicrohood(f model.RawFeature, log *zap.Logger) (model.Microhood, bool) {
	name := DisplayName(f.Name)
	if name == "" && f.SecondaryName != "" {
		name = DisplayName(f.SecondaryName)
	}
	if name == "" {
		log.Warn("microhood feature without a name, skipping", zap.String("id", f.ID))
		return model.Microhood{}, false
	}

	mh := model.Microhood{
		ID:      f.ID,
		Name:    name,
		Aliases: AliasSet(f.Name, f.SecondaryName, name),
	}

	switch {
	case isAreal(f.Geometry):
		mh.Polygon = f.Geometry
		mh.AreaKm2 = geomath.AreaKm2(f.Geometry)
		mh.Point = geomath.Centroid(f.Geometry)
	case f.Geometry != nil:
		// Degraded case: point-only feature. Still eligible for selection.
		mh.Point = geomath.Centroid(f.Geometry)
	default:
		return model.Microhood{}, false
	}

	return mh, true
}

func isAreal(g geom.T) bool {
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return true
	default:
		return false
	}
}

// containingCommune returns the id of the commune whose polygon contains the
// point, or "" when none does. When boundaries overlap the smallest containing
// commune wins: an enclave commune sits inside its host, and the enclave is
// the specific owner. Equal areas fall back to id order, which is how the
// communes slice is already sorted.
func containingCommune(communes []model.Commune, p model.LonLat) string {
	var id string
	var area float64
	for _, c := range communes {
		if !geomath.Contains(c.Polygon, p) {
			continue
		}
		if id == "" || c.AreaKm2 < area {
			id = c.ID
			area = c.AreaKm2
		}
	}
	return id
}

// resolveOverrides rewrites commune display names from the curated table to
// commune ids, dropping entries that reference unknown communes.
func resolveOverrides(communes []model.Commune, overrides map[string]string) map[string]string {
	if len(overrides) == 0 {
		return nil
	}
	byAlias := make(map[string]string, len(communes)*2)
	for _, c := range communes {
		byAlias[Normalize(c.Name)] = c.ID
		byAlias[NormalizeCompact(c.Name)] = c.ID
	}

	out := make(map[string]string, len(overrides))
	for alias, communeName := range overrides {
		for _, key := range []string{Normalize(communeName), NormalizeCompact(communeName)} {
			if id, ok := byAlias[key]; ok {
				out[alias] = id
				break
			}
		}
		if _, ok := out[alias]; !ok {
			zap.L().Warn("mapping references unknown commune, ignoring",
				zap.String("alias", alias), zap.String("commune", communeName))
		}
	}
	return out
}

func matchOverride(aliases []string, overrides map[string]string) (string, bool) {
	for _, a := range aliases {
		if id, ok := overrides[a]; ok {
			return id, true
		}
	}
	return "", false
}

func sortMicrohoods(ms []model.Microhood) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}
