package coverage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// grid returns n microhoods laid out on a rough grid around Brussels.
func grid(n int) []model.Microhood {
	out := make([]model.Microhood, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Microhood{
			ID:      fmt.Sprintf("m%02d", i),
			Name:    fmt.Sprintf("Quartier %d", i),
			AreaKm2: 0.5 + float64(i%5)*0.3,
			Point: model.LonLat{
				Lon: 4.30 + float64(i%5)*0.02,
				Lat: 50.80 + float64(i/5)*0.02,
			},
		})
	}
	return out
}

func TestSelect_BoundsRespected(t *testing.T) {
	t.Parallel()

	p := Params{NMin: 8, NMax: 12}

	tests := []struct {
		name        string
		available   int
		wantCount   int
		wantMissing bool
	}{
		{"plenty", 30, 12, false},
		{"exactly n_max", 12, 12, false},
		{"between bounds", 10, 10, false},
		{"exactly n_min", 8, 8, false},
		{"short", 5, 5, true},
		{"single", 1, 1, true},
		{"none", 0, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sel := Select("c", grid(tt.available), p)
			assert.Len(t, sel.MicrohoodIDs, tt.wantCount)
			assert.Equal(t, tt.wantMissing, sel.Missing)
			assert.Equal(t, tt.available, sel.Available)
		})
	}
}

func TestSelect_ShortfallTakesEverything(t *testing.T) {
	t.Parallel()

	cands := grid(5)
	sel := Select("c", cands, Params{NMin: 8, NMax: 12})

	require.True(t, sel.Missing)
	require.Len(t, sel.MicrohoodIDs, 5)
	got := make(map[string]bool)
	for _, id := range sel.MicrohoodIDs {
		got[id] = true
	}
	for _, m := range cands {
		assert.True(t, got[m.ID], "missing %s", m.ID)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	t.Parallel()

	cands := grid(25)
	first := Select("c", cands, Params{NMin: 8, NMax: 12})

	// Shuffled input must not change the outcome.
	shuffled := make([]model.Microhood, len(cands))
	for i, m := range cands {
		shuffled[(i*7)%len(cands)] = m
	}
	second := Select("c", shuffled, Params{NMin: 8, NMax: 12})

	assert.Equal(t, first.MicrohoodIDs, second.MicrohoodIDs)
}

func TestSelect_SeedIsLargestArea(t *testing.T) {
	t.Parallel()

	cands := grid(10)
	cands[7].AreaKm2 = 99.0

	sel := Select("c", cands, Params{NMin: 2, NMax: 3})
	require.NotEmpty(t, sel.MicrohoodIDs)
	assert.Equal(t, cands[7].ID, sel.MicrohoodIDs[0])
}

func TestSelect_SpreadsAcrossCommune(t *testing.T) {
	t.Parallel()

	// A tight cluster plus two far-flung microhoods: spread selection must
	// take the outliers before a third cluster member.
	cands := []model.Microhood{
		{ID: "a1", AreaKm2: 1, Point: model.LonLat{Lon: 4.300, Lat: 50.800}},
		{ID: "a2", AreaKm2: 1, Point: model.LonLat{Lon: 4.301, Lat: 50.800}},
		{ID: "a3", AreaKm2: 1, Point: model.LonLat{Lon: 4.300, Lat: 50.801}},
		{ID: "far1", AreaKm2: 1, Point: model.LonLat{Lon: 4.40, Lat: 50.88}},
		{ID: "far2", AreaKm2: 1, Point: model.LonLat{Lon: 4.20, Lat: 50.72}},
	}

	sel := Select("c", cands, Params{NMin: 1, NMax: 3})
	require.Len(t, sel.MicrohoodIDs, 3)
	assert.Contains(t, sel.MicrohoodIDs, "far1")
	assert.Contains(t, sel.MicrohoodIDs, "far2")
}

func TestSelect_TieBreaksOnID(t *testing.T) {
	t.Parallel()

	// Identical geometry and area: selection order must follow id order.
	same := model.LonLat{Lon: 4.35, Lat: 50.85}
	cands := []model.Microhood{
		{ID: "c", AreaKm2: 1, Point: same},
		{ID: "a", AreaKm2: 1, Point: same},
		{ID: "b", AreaKm2: 1, Point: same},
	}

	sel := Select("x", cands, Params{NMin: 1, NMax: 2})
	assert.Equal(t, []string{"a", "b"}, sel.MicrohoodIDs)
}

func TestSelectAll_EveryCommuneOnce(t *testing.T) {
	t.Parallel()

	catalog := &model.Catalog{
		Communes: []model.Commune{
			{ID: "alpha"}, {ID: "beta"}, {ID: "gamma"},
		},
	}
	for i, m := range grid(20) {
		m.CommuneID = []string{"alpha", "beta"}[i%2]
		catalog.Microhoods = append(catalog.Microhoods, m)
	}

	sels := SelectAll(catalog, Params{NMin: 8, NMax: 12})
	require.Len(t, sels, 3)
	assert.Equal(t, "alpha", sels[0].CommuneID)
	assert.Equal(t, "beta", sels[1].CommuneID)
	assert.Equal(t, "gamma", sels[2].CommuneID)

	// gamma has nothing at all: still present, flagged missing.
	assert.True(t, sels[2].Missing)
	assert.Zero(t, sels[2].Available)
}
