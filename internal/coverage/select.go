// Package coverage implements coverage-first microhood selection: per
// commune, a bounded subset chosen to spread across the commune rather than
// to rank its best-known spots. Selection is fully deterministic; ties break
// on microhood id.
package coverage

import (
	"sort"

	"go.uber.org/zap"

	"github.com/nld59/relocation-brief-webapp/internal/geomath"
	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// Params bounds every selection in a run.
type Params struct {
	NMin int
	NMax int
}

// SelectAll runs Select for every commune in the catalog, in commune id
// order. Every commune appears exactly once, including those with zero
// microhoods.
func SelectAll(catalog *model.Catalog, p Params) []model.CoverageSelection {
	out := make([]model.CoverageSelection, 0, len(catalog.Communes))
	for _, c := range catalog.Communes {
		sel := Select(c.ID, catalog.MicrohoodsOf(c.ID), p)
		if sel.Missing {
			zap.L().Warn("coverage shortfall",
				zap.String("commune", c.ID),
				zap.Int("available", sel.Available),
				zap.Int("n_min", p.NMin),
			)
		}
		out = append(out, sel)
	}
	return out
}

// Select picks up to NMax microhoods maximizing geographic spread. When
// fewer than NMin are available it selects everything and flags the commune
// missing instead of fabricating coverage.
func Select(communeID string, candidates []model.Microhood, p Params) model.CoverageSelection {
	sel := model.CoverageSelection{
		CommuneID: communeID,
		NMin:      p.NMin,
		NMax:      p.NMax,
		Available: len(candidates),
		Missing:   len(candidates) < p.NMin,
	}
	if len(candidates) == 0 {
		return sel
	}

	// Stable candidate order underpins all tie-breaking below.
	cands := make([]model.Microhood, len(candidates))
	copy(cands, candidates)
	sort.Slice(cands, func(i, j int) bool { return cands[i].ID < cands[j].ID })

	target := p.NMax
	if len(cands) < target {
		target = len(cands)
	}

	picked := make([]model.Microhood, 0, target)
	remaining := make([]model.Microhood, 0, len(cands))

	// Seed with the largest microhood; point-only candidates have area 0 and
	// seed only when nothing better exists.
	seedIdx := 0
	for i, m := range cands {
		if m.AreaKm2 > cands[seedIdx].AreaKm2 {
			seedIdx = i
		}
	}
	for i, m := range cands {
		if i == seedIdx {
			picked = append(picked, m)
		} else {
			remaining = append(remaining, m)
		}
	}

	for len(picked) < target && len(remaining) > 0 {
		bestIdx := -1
		bestScore := -1.0
		for i, cand := range remaining {
			score := dispersionScore(cand, picked)
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	sel.MicrohoodIDs = make([]string, 0, len(picked))
	for _, m := range picked {
		sel.MicrohoodIDs = append(sel.MicrohoodIDs, m.ID)
	}
	return sel
}

// dispersionScore favors candidates far from everything already selected,
// with a mild bonus for larger microhoods so big distinctive areas are not
// crowded out by clusters of small ones.
func dispersionScore(cand model.Microhood, picked []model.Microhood) float64 {
	minDist := -1.0
	for _, s := range picked {
		d := geomath.DistanceKm(cand.Point, s.Point)
		if minDist < 0 || d < minDist {
			minDist = d
		}
	}
	if minDist < 0 {
		minDist = 0
	}
	return minDist * minDist * (1.0 + 0.05*cand.AreaKm2)
}
