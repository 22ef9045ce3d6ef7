// Package tagging converts per-commune metrics into confidence-tiered tags
// by ranking communes against the other communes of the same city. Cross-city
// comparison is forbidden: callers invoke Assign once per city.
package tagging

import (
	"sort"

	"go.uber.org/zap"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// Params holds the confidence bands, as top-percent of the city ranking.
type Params struct {
	HighPct   int
	MediumPct int
}

// minRankable is the smallest number of communes with a usable value for
// which a percentile ranking means anything. Below it the tag is omitted.
const minRankable = 4

// Assign returns commune id → tags for one city. Tags appear in rule order.
// A metric with no values, no variance, or too few communes yields no tags
// for its rule rather than tags at a degenerate threshold.
func Assign(metricsByCommune map[string]model.Metrics, rules []Rule, p Params) map[string][]model.Tag {
	out := make(map[string][]model.Tag, len(metricsByCommune))

	for _, rule := range rules {
		entries := rankable(metricsByCommune, rule.Metric)
		if len(entries) < minRankable {
			zap.L().Debug("tag omitted: too few communes to rank",
				zap.String("tag", rule.Tag), zap.Int("communes", len(entries)))
			continue
		}
		if entries[0].value == entries[len(entries)-1].value {
			// No variance; e.g. a city with no metro network at all.
			zap.L().Debug("tag omitted: metric has no variance", zap.String("tag", rule.Tag))
			continue
		}

		n := float64(len(entries))
		for pos, e := range entries {
			rank := float64(pos + 1)
			if rank*100 > n*float64(rule.TopPct) {
				break
			}
			tag := model.Tag{ID: rule.Tag}
			switch {
			case rank*100 <= n*float64(p.HighPct):
				tag.Confidence = model.ConfidenceHigh
			case rank*100 <= n*float64(p.MediumPct):
				tag.Confidence = model.ConfidenceMedium
			}
			out[e.communeID] = append(out[e.communeID], tag)
		}
	}

	return out
}

type entry struct {
	communeID string
	value     float64
}

// rankable returns the communes holding a value for the metric, best first.
// Ties at any boundary resolve by commune id so the ranking is deterministic.
func rankable(metricsByCommune map[string]model.Metrics, metric string) []entry {
	entries := make([]entry, 0, len(metricsByCommune))
	for id, m := range metricsByCommune {
		if v, ok := m[metric]; ok {
			entries = append(entries, entry{communeID: id, value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].value != entries[j].value {
			return entries[i].value > entries[j].value
		}
		return entries[i].communeID < entries[j].communeID
	})
	return entries
}

// Summary counts assigned tags per confidence tier.
type Summary struct {
	High   int
	Medium int
	Plain  int
}

// Summarize tallies a tag assignment for operator reporting.
func Summarize(tags map[string][]model.Tag) Summary {
	var s Summary
	for _, ts := range tags {
		for _, t := range ts {
			switch t.Confidence {
			case model.ConfidenceHigh:
				s.High++
			case model.ConfidenceMedium:
				s.Medium++
			default:
				s.Plain++
			}
		}
	}
	return s
}
