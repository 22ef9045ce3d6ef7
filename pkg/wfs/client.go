// Package wfs fetches polygon features from a WFS-style geodata service that
// serves GeoJSON pages. Pages are fetched strictly in order because
// feature-id dedup keeps the first occurrence; a page that exhausts its
// retries aborts the whole fetch so partial data is never mistaken for a
// complete dataset.
package wfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nld59/relocation-brief-webapp/internal/model"
	"github.com/nld59/relocation-brief-webapp/internal/resilience"
)

// Options configures the WFS client.
type Options struct {
	BaseURL         string
	CommuneTypeName string
	QuarterTypeName string
	PageSize        int
	Timeout         time.Duration
	MaxRetries      int
	UserAgent       string
	Limiter         *rate.Limiter
}

// Client pages through a WFS GetFeature endpoint.
type Client struct {
	httpClient *http.Client
	opts       Options
	limiter    *rate.Limiter
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 4
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "citypack/1.0"
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(2, 2)
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		limiter:    limiter,
	}
}

// Fetch returns the deduplicated, ordered feature set for both layers.
// It always restarts from page 0; there is no partial resume.
func (c *Client) Fetch(ctx context.Context) ([]model.RawFeature, error) {
	var out []model.RawFeature

	layers := []struct {
		typeName string
		layer    model.FeatureLayer
	}{
		{c.opts.CommuneTypeName, model.LayerCommune},
		{c.opts.QuarterTypeName, model.LayerMicrohood},
	}

	for _, l := range layers {
		if l.typeName == "" {
			continue
		}
		n, err := c.fetchLayer(ctx, l.typeName, l.layer, &out)
		if err != nil {
			return nil, eris.Wrapf(err, "wfs: fetch layer %s", l.typeName)
		}
		zap.L().Info("wfs: layer fetched",
			zap.String("type_name", l.typeName),
			zap.Int("features", n),
		)
	}

	return out, nil
}

func (c *Client) fetchLayer(ctx context.Context, typeName string, layer model.FeatureLayer, out *[]model.RawFeature) (int, error) {
	var total int
	// Feature ids are only stable within one layer; commune and quarter
	// datasets may reuse the same codes, so dedup is layer-local.
	seen := make(map[string]struct{})
	for start := 0; ; start += c.opts.PageSize {
		page, err := c.fetchPage(ctx, typeName, start)
		if err != nil {
			return total, err
		}

		for _, f := range page.Features {
			rf, ok := rawFeature(f, layer)
			if !ok {
				continue
			}
			if _, dup := seen[rf.ID]; dup {
				continue
			}
			seen[rf.ID] = struct{}{}
			*out = append(*out, rf)
			total++
		}

		if len(page.Features) < c.opts.PageSize {
			return total, nil
		}
	}
}

// fetchPage retrieves one page, retrying transient failures with backoff.
// Exhausting retries is terminal for the run.
func (c *Client) fetchPage(ctx context.Context, typeName string, startIndex int) (*geojson.FeatureCollection, error) {
	policy := resilience.Policy{
		MaxAttempts: c.opts.MaxRetries,
		OnRetry:     resilience.RetryLogger("wfs", fmt.Sprintf("page %s@%d", typeName, startIndex)),
	}
	return resilience.DoVal(ctx, policy, func(ctx context.Context) (*geojson.FeatureCollection, error) {
		return c.getPage(ctx, typeName, startIndex)
	})
}

func (c *Client) getPage(ctx context.Context, typeName string, startIndex int) (*geojson.FeatureCollection, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", "2.0.0")
	q.Set("request", "GetFeature")
	q.Set("typeNames", typeName)
	q.Set("outputFormat", "application/json")
	q.Set("srsName", "EPSG:4326")
	q.Set("count", strconv.Itoa(c.opts.PageSize))
	q.Set("startIndex", strconv.Itoa(startIndex))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(err, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("wfs: status %d for %s@%d", resp.StatusCode, typeName, startIndex)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, eris.Wrap(err, "wfs: decode page")
	}
	return &fc, nil
}

// Candidate property keys, checked in order. The source casing is not
// reliable across layers so both cases are listed.
var (
	idKeys        = []string{"mdrc", "MDRC", "id", "ID", "code", "CODE", "recordid"}
	nameKeys      = []string{"name_en", "name_fr", "nom_fr", "NAME_FRE", "name", "nom", "NAME", "mu_name_f", "MU_NAME_F"}
	secondaryKeys = []string{"name_nl", "nom_nl", "NAME_DUT", "mu_name_n", "MU_NAME_N"}
)

func rawFeature(f *geojson.Feature, layer model.FeatureLayer) (model.RawFeature, bool) {
	if f == nil || f.Geometry == nil {
		return model.RawFeature{}, false
	}

	id := f.ID
	if id == "" {
		id = pickProp(f.Properties, idKeys)
	}
	name := pickProp(f.Properties, nameKeys)
	if id == "" && name == "" {
		return model.RawFeature{}, false
	}
	if id == "" {
		id = string(layer) + ":" + name
	}

	return model.RawFeature{
		ID:            id,
		Layer:         layer,
		Name:          name,
		SecondaryName: pickProp(f.Properties, secondaryKeys),
		Geometry:      f.Geometry,
		Properties:    f.Properties,
	}, true
}

func pickProp(props map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := props[k]; ok && v != nil {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t
				}
			case float64:
				return strconv.FormatFloat(t, 'f', -1, 64)
			case json.Number:
				return t.String()
			}
		}
	}
	return ""
}
