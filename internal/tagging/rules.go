package tagging

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// Rule maps one data-driven tag to the metric that drives it. TopPct is the
// eligibility threshold: a commune gets the tag only when it ranks within the
// top TopPct percent of its city on the metric.
type Rule struct {
	Tag    string `json:"tag"`
	Metric string `json:"metric"`
	TopPct int    `json:"top_pct"`
}

// DefaultRules returns the built-in tag registry. Rule order is the order
// tags appear in the output.
func DefaultRules() []Rule {
	return []Rule{
		{Tag: "cafes_brunch", Metric: model.MetricCafesDensity, TopPct: 30},
		{Tag: "nightlife", Metric: model.MetricBarsDensity, TopPct: 20},
		{Tag: "restaurants", Metric: model.MetricRestaurantsDensity, TopPct: 30},
		{Tag: "green_parks", Metric: model.MetricParksShare, TopPct: 30},
		{Tag: "metro_strong", Metric: model.MetricMetroDensity, TopPct: 30},
		{Tag: "tram_strong", Metric: model.MetricTramDensity, TopPct: 30},
		{Tag: "schools_strong", Metric: model.MetricSchoolsDensity, TopPct: 30},
		{Tag: "childcare_strong", Metric: model.MetricChildcareDensity, TopPct: 30},
	}
}

type rulesFile struct {
	Rules []Rule `json:"rules"`
}

// LoadRules reads a rules file, or returns the defaults when path is empty.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tagging: read rules %s", path)
	}
	var rf rulesFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrapf(err, "tagging: parse rules %s", path)
	}
	if len(rf.Rules) == 0 {
		return nil, eris.Errorf("tagging: rules file %s contains no rules", path)
	}
	for _, r := range rf.Rules {
		if r.Tag == "" || r.Metric == "" || r.TopPct <= 0 || r.TopPct > 100 {
			return nil, eris.Errorf("tagging: invalid rule %+v in %s", r, path)
		}
	}
	return rf.Rules, nil
}

// DataDrivenTagIDs returns the set of tag ids owned by the rules. Tags
// outside this set are curated and must pass through merging untouched.
func DataDrivenTagIDs(rules []Rule) map[string]bool {
	out := make(map[string]bool, len(rules))
	for _, r := range rules {
		out[r.Tag] = true
	}
	return out
}
