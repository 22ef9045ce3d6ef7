package pack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

const testPack = `{
  "city": "Brussels",
  "schema_version": 3,
  "editorial": {"intro": "A fine city.", "last_reviewed": "2026-01-10"},
  "communes": [
    {
      "name": "Ixelles",
      "tags": ["expat_friendly", "nightlife"],
      "rent_eur_1br": 1250,
      "notes": {"transport": "well connected"},
      "microhoods": [{"id": "stale", "name": "Old"}]
    },
    {
      "name": "Uccle",
      "tags": ["family"],
      "rent_eur_1br": 1400
    }
  ]
}`

func loadTestPack(t *testing.T, content string) *Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pack.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	doc, err := Load(path)
	require.NoError(t, err)
	return doc
}

func testCatalog() *model.Catalog {
	return &model.Catalog{
		Communes: []model.Commune{
			{ID: "ixelles", Name: "Ixelles", AreaKm2: 6.3},
			{ID: "uccle", Name: "Uccle", AreaKm2: 22.9},
		},
		Microhoods: []model.Microhood{
			{ID: "101", Name: "Flagey", CommuneID: "ixelles", AreaKm2: 0.8, Point: model.LonLat{Lon: 4.37, Lat: 50.83}},
			{ID: "102", Name: "Châtelain", CommuneID: "ixelles", AreaKm2: 0.5},
			{ID: "201", Name: "Fort Jaco", CommuneID: "uccle", AreaKm2: 1.1},
		},
	}
}

func testResult() *model.RunResult {
	return &model.RunResult{
		Catalog: testCatalog(),
		Selections: []model.CoverageSelection{
			{CommuneID: "ixelles", MicrohoodIDs: []string{"101", "102"}, Available: 2, NMin: 2, NMax: 3},
			{CommuneID: "uccle", MicrohoodIDs: []string{"201"}, Available: 1, NMin: 2, NMax: 3, Missing: true},
		},
		Metrics: map[string]model.Metrics{
			"ixelles": {model.MetricCafesDensity: 12.5},
			"uccle":   {model.MetricCafesDensity: 2.1},
		},
		Tags: map[string][]model.Tag{
			"ixelles": {{ID: "cafes_brunch", Confidence: model.ConfidenceHigh}, {ID: "nightlife", Confidence: model.ConfidenceMedium}},
		},
	}
}

func dataDriven() map[string]bool {
	return map[string]bool{"cafes_brunch": true, "nightlife": true}
}

func TestValidate_MatchingSet(t *testing.T) {
	doc := loadTestPack(t, testPack)
	assert.NoError(t, doc.Validate(testCatalog()))
}

func TestValidate_Mismatch(t *testing.T) {
	doc := loadTestPack(t, testPack)

	catalog := testCatalog()
	catalog.Communes = append(catalog.Communes, model.Commune{ID: "etterbeek", Name: "Etterbeek"})
	catalog.Communes = catalog.Communes[1:] // drop ixelles

	err := doc.Validate(catalog)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSchemaMismatch))
	assert.Contains(t, err.Error(), "etterbeek")
	assert.Contains(t, err.Error(), "ixelles")
}

func TestMerge_ReplacesOwnedFields(t *testing.T) {
	doc := loadTestPack(t, testPack)
	require.NoError(t, doc.Validate(testCatalog()))

	out, err := doc.Merge(testResult(), dataDriven(), nil)
	require.NoError(t, err)

	var merged struct {
		Communes []struct {
			Name          string                      `json:"name"`
			Tags          []string                    `json:"tags"`
			TagConfidence map[string]model.Confidence `json:"tag_confidence"`
			Metrics       map[string]float64          `json:"metrics"`
			Microhoods    []struct {
				ID   any    `json:"id"`
				Name string `json:"name"`
			} `json:"microhoods"`
			MicrohoodsAll   []json.RawMessage `json:"microhoods_all"`
			CoverageMissing bool              `json:"coverage_missing"`
		} `json:"communes"`
	}
	require.NoError(t, json.Unmarshal(out, &merged))
	require.Len(t, merged.Communes, 2)

	ix := merged.Communes[0]
	require.Equal(t, "Ixelles", ix.Name)
	// Stale selection replaced, numeric ids stay numeric.
	require.Len(t, ix.Microhoods, 2)
	assert.Equal(t, float64(101), ix.Microhoods[0].ID)
	assert.Equal(t, "Flagey", ix.Microhoods[0].Name)
	assert.Len(t, ix.MicrohoodsAll, 2)
	assert.False(t, ix.CoverageMissing)

	assert.Equal(t, map[string]float64{"cafes_density": 12.5}, ix.Metrics)
	assert.Equal(t, map[string]model.Confidence{
		"cafes_brunch": model.ConfidenceHigh,
		"nightlife":    model.ConfidenceMedium,
	}, ix.TagConfidence)

	uc := merged.Communes[1]
	assert.True(t, uc.CoverageMissing)
	assert.Empty(t, uc.TagConfidence)
}

func TestMerge_TagsCuratedKeptDataDrivenReplaced(t *testing.T) {
	doc := loadTestPack(t, testPack)
	require.NoError(t, doc.Validate(testCatalog()))

	out, err := doc.Merge(testResult(), dataDriven(), nil)
	require.NoError(t, err)

	var merged struct {
		Communes []struct {
			Tags []string `json:"tags"`
		} `json:"communes"`
	}
	require.NoError(t, json.Unmarshal(out, &merged))

	// "nightlife" was stale data-driven: removed from its curated position,
	// re-appended from this run's assignment. "expat_friendly" is curated
	// and stays first.
	assert.Equal(t, []string{"expat_friendly", "cafes_brunch", "nightlife"}, merged.Communes[0].Tags)
	assert.Equal(t, []string{"family"}, merged.Communes[1].Tags)
}

func TestMerge_PreservesUnownedFields(t *testing.T) {
	doc := loadTestPack(t, testPack)
	require.NoError(t, doc.Validate(testCatalog()))

	out, err := doc.Merge(testResult(), dataDriven(), nil)
	require.NoError(t, err)

	var merged map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &merged))

	assert.JSONEq(t, `"Brussels"`, string(merged["city"]))
	assert.JSONEq(t, `3`, string(merged["schema_version"]))
	assert.JSONEq(t, `{"intro": "A fine city.", "last_reviewed": "2026-01-10"}`, string(merged["editorial"]))

	var communes []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(merged["communes"], &communes))
	assert.JSONEq(t, `1250`, string(communes[0]["rent_eur_1br"]))
	assert.JSONEq(t, `{"transport": "well connected"}`, string(communes[0]["notes"]))
}

func TestMerge_CatalogAndStamp(t *testing.T) {
	doc := loadTestPack(t, testPack)
	require.NoError(t, doc.Validate(testCatalog()))

	stamp := &Stamp{RunID: "run-1", GeneratedAt: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)}
	out, err := doc.Merge(testResult(), dataDriven(), stamp)
	require.NoError(t, err)

	var merged struct {
		MicrohoodCatalog []struct {
			ID        any    `json:"id"`
			Name      string `json:"name"`
			CommuneID string `json:"commune_id"`
		} `json:"microhood_catalog"`
		PipelineMeta map[string]string `json:"pipeline_meta"`
	}
	require.NoError(t, json.Unmarshal(out, &merged))

	require.Len(t, merged.MicrohoodCatalog, 3)
	assert.Equal(t, "Flagey", merged.MicrohoodCatalog[0].Name)
	assert.Equal(t, "ixelles", merged.MicrohoodCatalog[0].CommuneID)

	assert.Equal(t, "run-1", merged.PipelineMeta["run_id"])
	assert.Equal(t, "2026-08-26T12:00:00Z", merged.PipelineMeta["generated_at"])
}

func TestMerge_KeepsMemberOrder(t *testing.T) {
	doc := loadTestPack(t, testPack)
	require.NoError(t, doc.Validate(testCatalog()))

	out, err := doc.Merge(testResult(), dataDriven(), nil)
	require.NoError(t, err)

	// Curated member order survives the merge; a map round-trip would
	// alphabetize and churn every diff of the pack.
	text := string(out)
	for _, pair := range [][2]string{
		{`"city"`, `"schema_version"`},
		{`"schema_version"`, `"editorial"`},
		{`"editorial"`, `"communes"`},
		{`"name"`, `"tags"`},
		{`"rent_eur_1br"`, `"notes"`},
	} {
		assert.Less(t, strings.Index(text, pair[0]), strings.Index(text, pair[1]),
			"%s should precede %s", pair[0], pair[1])
	}

	// Owned fields new to the pack append after the curated members.
	assert.Less(t, strings.Index(text, `"notes"`), strings.Index(text, `"coverage_missing"`))
}

func TestIDValue(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"101", "101"},
		{"-3", "-3"},
		{"flagey", `"flagey"`},
		// Parseable but non-canonical integers are not valid JSON tokens.
		{"007", `"007"`},
		{"+7", `"+7"`},
		{" 7 ", "7"},
	}
	for _, tt := range tests {
		got := idValue(tt.id)
		assert.Equal(t, tt.want, string(got), "id %q", tt.id)
		assert.True(t, json.Valid(got), "id %q must emit valid JSON", tt.id)
	}
}

func TestMerge_NonCanonicalNumericID(t *testing.T) {
	doc := loadTestPack(t, testPack)

	res := testResult()
	res.Catalog.Microhoods[0].ID = "007"
	res.Selections[0].MicrohoodIDs[0] = "007"

	out, err := doc.Merge(res, dataDriven(), nil)
	require.NoError(t, err)
	require.True(t, json.Valid(out))

	var merged struct {
		Communes []struct {
			Microhoods []struct {
				ID any `json:"id"`
			} `json:"microhoods"`
		} `json:"communes"`
	}
	require.NoError(t, json.Unmarshal(out, &merged))
	assert.Equal(t, "007", merged.Communes[0].Microhoods[0].ID)
}

func TestMerge_DeterministicWithoutStamp(t *testing.T) {
	first, err := loadTestPack(t, testPack).Merge(testResult(), dataDriven(), nil)
	require.NoError(t, err)
	second, err := loadTestPack(t, testPack).Merge(testResult(), dataDriven(), nil)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestLoad_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"communes": [`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
