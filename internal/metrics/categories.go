package metrics

import "github.com/nld59/relocation-brief-webapp/internal/model"

// TagFilter is one key=value constraint on a feature.
type TagFilter struct {
	Key   string
	Value string
}

// Selector is a conjunction of tag filters; a feature matches when all hold.
type Selector []TagFilter

// Category describes one metric's source features. Selectors are OR-combined.
type Category struct {
	Name      string
	Metric    string
	Selectors []Selector
	// Area categories sum the km² of matching polygons whose representative
	// point falls in the commune; the others count contained points.
	Area bool
}

// Categories returns the fixed category set in a stable order. The order
// matters for determinism of logs and cache population, not for results.
func Categories() []Category {
	return []Category{
		{
			Name:      "cafes",
			Metric:    model.MetricCafesDensity,
			Selectors: []Selector{{{"amenity", "cafe"}}},
		},
		{
			Name:      "bars",
			Metric:    model.MetricBarsDensity,
			Selectors: []Selector{{{"amenity", "bar"}}, {{"amenity", "pub"}}},
		},
		{
			Name:      "restaurants",
			Metric:    model.MetricRestaurantsDensity,
			Selectors: []Selector{{{"amenity", "restaurant"}}},
		},
		{
			Name:      "schools",
			Metric:    model.MetricSchoolsDensity,
			Selectors: []Selector{{{"amenity", "school"}}},
		},
		{
			Name:      "childcare",
			Metric:    model.MetricChildcareDensity,
			Selectors: []Selector{{{"amenity", "kindergarten"}}, {{"amenity", "childcare"}}},
		},
		{
			Name:      "metro",
			Metric:    model.MetricMetroDensity,
			Selectors: []Selector{{{"railway", "subway_entrance"}}, {{"station", "subway"}}},
		},
		{
			Name:      "tram",
			Metric:    model.MetricTramDensity,
			Selectors: []Selector{{{"railway", "tram_stop"}}},
		},
		{
			Name:      "train",
			Metric:    model.MetricTrainDensity,
			Selectors: []Selector{{{"railway", "station"}, {"station", "train"}}},
		},
		{
			Name:      "parks",
			Metric:    model.MetricParksShare,
			Selectors: []Selector{{{"leisure", "park"}}},
			Area:      true,
		},
	}
}
