package wfs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nld59/relocation-brief-webapp/internal/model"
)

func feature(id, name string) map[string]any {
	return map[string]any{
		"type": "Feature",
		"id":   id,
		"geometry": map[string]any{
			"type":        "Point",
			"coordinates": []float64{4.35, 50.85},
		},
		"properties": map[string]any{"name_fr": name},
	}
}

func page(features ...map[string]any) []byte {
	if features == nil {
		features = []map[string]any{}
	}
	b, _ := json.Marshal(map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	})
	return b
}

func testOptions(url string, pageSize int) Options {
	return Options{
		BaseURL:         url,
		CommuneTypeName: "adm:Mu",
		QuarterTypeName: "adm:Md",
		PageSize:        pageSize,
		Timeout:         5 * time.Second,
		MaxRetries:      3,
		Limiter:         rate.NewLimiter(rate.Inf, 1),
	}
}

func TestFetch_PaginatesUntilShortPage(t *testing.T) {
	t.Parallel()

	var pagesServed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "WFS", q.Get("service"))
		assert.Equal(t, "GetFeature", q.Get("request"))
		assert.Equal(t, "EPSG:4326", q.Get("srsName"))

		if q.Get("typeNames") == "adm:Md" {
			w.Write(page())
			return
		}

		start, _ := strconv.Atoi(q.Get("startIndex"))
		pagesServed.Add(1)
		switch start {
		case 0:
			w.Write(page(feature("a", "Alpha"), feature("b", "Beta")))
		case 2:
			w.Write(page(feature("c", "Gamma"), feature("d", "Delta")))
		default:
			w.Write(page(feature("e", "Epsilon")))
		}
	}))
	defer srv.Close()

	got, err := New(testOptions(srv.URL, 2)).Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 5)
	ids := make([]string, 0, len(got))
	for _, f := range got {
		ids = append(ids, f.ID)
		assert.Equal(t, model.LayerCommune, f.Layer)
	}
	// Page order is preserved.
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	assert.Equal(t, int32(3), pagesServed.Load())
}

func TestFetch_DedupKeepsFirstOccurrence(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("typeNames") == "adm:Md" {
			w.Write(page())
			return
		}
		start, _ := strconv.Atoi(q.Get("startIndex"))
		if start == 0 {
			// "a" appears twice across the page boundary.
			w.Write(page(feature("a", "First"), feature("b", "Beta")))
			return
		}
		w.Write(page(feature("a", "Second")))
	}))
	defer srv.Close()

	got, err := New(testOptions(srv.URL, 2)).Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "First", got[0].Name)
}

func TestFetch_RetryIsTransparent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("typeNames") == "adm:Md" {
			w.Write(page())
			return
		}
		// Fail the commune page once, then serve it.
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(page(feature("a", "Alpha")))
	}))
	defer srv.Close()

	got, err := New(testOptions(srv.URL, 10)).Fetch(context.Background())
	require.NoError(t, err)

	// The retried page yields the same result set as an unfailed run.
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_ExhaustedRetriesIsTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL, 10)
	opts.MaxRetries = 2
	_, err := New(opts).Fetch(context.Background())

	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, err.Error(), "status 502")
}

func TestFetch_NonTransientStatusFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(testOptions(srv.URL, 10)).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_BothLayersTagged(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("typeNames") == "adm:Mu" {
			w.Write(page(feature("mu1", "Commune")))
			return
		}
		w.Write(page(feature("md1", "Quartier")))
	}))
	defer srv.Close()

	got, err := New(testOptions(srv.URL, 10)).Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, model.LayerCommune, got[0].Layer)
	assert.Equal(t, model.LayerMicrohood, got[1].Layer)
}

func TestFetch_DedupIsLayerLocal(t *testing.T) {
	t.Parallel()

	// Commune and quarter datasets draw ids from separate code spaces, so
	// the same id in both layers is two distinct features.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("typeNames") == "adm:Mu" {
			w.Write(page(feature("7", "Commune Sept")))
			return
		}
		w.Write(page(feature("7", "Quartier Sept")))
	}))
	defer srv.Close()

	got, err := New(testOptions(srv.URL, 10)).Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, model.LayerCommune, got[0].Layer)
	assert.Equal(t, "Commune Sept", got[0].Name)
	assert.Equal(t, model.LayerMicrohood, got[1].Layer)
	assert.Equal(t, "Quartier Sept", got[1].Name)
}

func TestRawFeature_PropertyFallbacks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("typeNames") == "adm:Md" {
			w.Write(page())
			return
		}
		f := map[string]any{
			"type": "Feature",
			"geometry": map[string]any{
				"type":        "Point",
				"coordinates": []float64{4.35, 50.85},
			},
			// No top-level id: falls back to the MDRC property. Numeric
			// values are accepted.
			"properties": map[string]any{
				"MDRC":    21001,
				"nom_fr":  "Quartier Nord",
				"name_nl": "Noordwijk",
			},
		}
		w.Write(page(f))
	}))
	defer srv.Close()

	got, err := New(testOptions(srv.URL, 10)).Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "21001", got[0].ID)
	assert.Equal(t, "Quartier Nord", got[0].Name)
	assert.Equal(t, "Noordwijk", got[0].SecondaryName)
}

func TestFetch_SkipsEmptyTypeName(t *testing.T) {
	t.Parallel()

	var hit atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Add(1)
		fmt.Fprint(w, string(page(feature("a", "Alpha"))))
	}))
	defer srv.Close()

	opts := testOptions(srv.URL, 10)
	opts.QuarterTypeName = ""
	got, err := New(opts).Fetch(context.Background())
	require.NoError(t, err)

	assert.Len(t, got, 1)
	assert.Equal(t, int32(1), hit.Load())
}
