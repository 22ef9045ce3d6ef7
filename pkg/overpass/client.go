// Package overpass queries categorized point/way features from an
// Overpass-style endpoint. The endpoint is shared with the general public
// and sheds load with 429s, so every request goes through the run's global
// token bucket and throttling responses are retried with backoff.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/nld59/relocation-brief-webapp/internal/geomath"
	"github.com/nld59/relocation-brief-webapp/internal/metrics"
	"github.com/nld59/relocation-brief-webapp/internal/model"
	"github.com/nld59/relocation-brief-webapp/internal/resilience"
)

// Options configures the Overpass client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
	// Limiter is the run-global token bucket. It must be shared across all
	// workers querying in the same run.
	Limiter *rate.Limiter
}

// Client implements the metrics.FeatureQuerier contract over HTTP.
type Client struct {
	httpClient *http.Client
	opts       Options
	limiter    *rate.Limiter
}

// New creates a Client. A nil Limiter gets a conservative default, but
// callers should pass the shared run limiter.
func New(opts Options) *Client {
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
		limiter = rate.NewLimiter(1, 1)
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		limiter:    limiter,
	}
}

// Query returns the features in bbox matching any of the selectors. Elements
// are sorted by id so downstream float accumulation is order-stable.
func (c *Client) Query(ctx context.Context, bbox geomath.BBox, selectors []metrics.Selector, withGeometry bool) ([]model.GeoElement, error) {
	ql := buildQL(bbox, selectors, withGeometry, c.opts.Timeout)

	policy := resilience.Policy{
		MaxAttempts: c.opts.MaxRetries,
		OnRetry:     resilience.RetryLogger("overpass", "query"),
	}
	body, err := resilience.DoVal(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, ql)
	})
	if err != nil {
		return nil, eris.Wrap(err, "overpass: query")
	}

	elems, err := parseElements(body)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: parse response")
	}

	sort.Slice(elems, func(i, j int) bool { return elems[i].ID < elems[j].ID })
	return elems, nil
}

func (c *Client) post(ctx context.Context, ql string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	form := url.Values{"data": {ql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
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
		err := eris.Errorf("overpass: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	return body, nil
}

func buildQL(bbox geomath.BBox, selectors []metrics.Selector, withGeometry bool, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];(", int(timeout.Seconds()))

	bboxStr := fmt.Sprintf("(%f,%f,%f,%f)", bbox.South, bbox.West, bbox.North, bbox.East)
	for _, sel := range selectors {
		var filters strings.Builder
		for _, f := range sel {
			fmt.Fprintf(&filters, "[%q=%q]", f.Key, f.Value)
		}
		fmt.Fprintf(&b, "node%s%s;", filters.String(), bboxStr)
		fmt.Fprintf(&b, "way%s%s;", filters.String(), bboxStr)
	}

	b.WriteString(");")
	if withGeometry {
		b.WriteString("out geom;")
	} else {
		b.WriteString("out center;")
	}
	return b.String()
}

type overpassResponse struct {
	Elements []struct {
		Type   string  `json:"type"`
		ID     int64   `json:"id"`
		Lat    float64 `json:"lat"`
		Lon    float64 `json:"lon"`
		Center *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"center"`
		Geometry []struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"geometry"`
	} `json:"elements"`
}

func parseElements(body []byte) ([]model.GeoElement, error) {
	var resp overpassResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := make([]model.GeoElement, 0, len(resp.Elements))
	for _, e := range resp.Elements {
		el := model.GeoElement{ID: e.ID}
		switch {
		case e.Type == "node":
			el.Point = model.LonLat{Lon: e.Lon, Lat: e.Lat}
		case e.Center != nil:
			el.Point = model.LonLat{Lon: e.Center.Lon, Lat: e.Center.Lat}
		case len(e.Geometry) > 0:
			// No center requested: fall back to the outline's vertex mean.
			var sLon, sLat float64
			for _, g := range e.Geometry {
				sLon += g.Lon
				sLat += g.Lat
			}
			n := float64(len(e.Geometry))
			el.Point = model.LonLat{Lon: sLon / n, Lat: sLat / n}
		default:
			continue
		}
		for _, g := range e.Geometry {
			el.Ring = append(el.Ring, model.LonLat{Lon: g.Lon, Lat: g.Lat})
		}
		out = append(out, el)
	}
	return out, nil
}
