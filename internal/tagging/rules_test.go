package tagging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRules_EmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestLoadRules_File(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `{"rules":[
		{"tag":"coffee_town","metric":"cafes_density","top_pct":25}
	]}`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, Rule{Tag: "coffee_town", Metric: "cafes_density", TopPct: 25}, rules[0])
}

func TestLoadRules_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"empty rules", `{"rules":[]}`},
		{"missing tag", `{"rules":[{"metric":"cafes_density","top_pct":25}]}`},
		{"missing metric", `{"rules":[{"tag":"x","top_pct":25}]}`},
		{"zero pct", `{"rules":[{"tag":"x","metric":"m","top_pct":0}]}`},
		{"pct over 100", `{"rules":[{"tag":"x","metric":"m","top_pct":101}]}`},
		{"bad json", `{"rules":`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadRules(writeRules(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadRules_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadRules(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestDataDrivenTagIDs(t *testing.T) {
	t.Parallel()

	ids := DataDrivenTagIDs(DefaultRules())
	assert.True(t, ids["nightlife"])
	assert.True(t, ids["green_parks"])
	assert.False(t, ids["expat_friendly"]) // curated, not rule-owned
	assert.Len(t, ids, len(DefaultRules()))
}
