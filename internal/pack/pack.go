// Package pack merges pipeline output into an existing city-pack artifact.
// The merger owns a small, fixed set of fields and replaces them wholesale;
// everything else in the artifact — curated tags, narrative text, resource
// lists, fields this code has never heard of — passes through untouched as
// raw JSON.
package pack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nld59/relocation-brief-webapp/internal/boundary"
	"github.com/nld59/relocation-brief-webapp/internal/model"
)

// ErrSchemaMismatch marks a fatal disagreement between the existing pack's
// commune set and the fixed expected set. Merging anyway risks silently
// dropping data, so nothing is written.
var ErrSchemaMismatch = eris.New("pack: commune set mismatch")

// orderedObject is a JSON object that remembers member order, so a merged
// pack diffs cleanly against the curated original. json.Unmarshal into a map
// would alphabetize members on re-encode.
type orderedObject struct {
	keys   []string
	fields map[string]json.RawMessage
}

func parseObject(data []byte) (*orderedObject, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, eris.Errorf("expected object, got %v", tok)
	}

	o := &orderedObject{fields: make(map[string]json.RawMessage)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, eris.Wrapf(err, "member %q", key)
		}
		o.set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *orderedObject) get(key string) (json.RawMessage, bool) {
	raw, ok := o.fields[key]
	return raw, ok
}

// set replaces the member in place; a new key is appended.
func (o *orderedObject) set(key string, raw json.RawMessage) {
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = raw
}

func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(o.fields[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Document is a loaded city pack held as ordered raw JSON members.
type Document struct {
	root     *orderedObject
	communes []*orderedObject
}

// Load reads and minimally parses a city pack.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pack: read %s", path)
	}

	root, err := parseObject(data)
	if err != nil {
		return nil, eris.Wrapf(err, "pack: parse %s", path)
	}

	var rawCommunes []json.RawMessage
	if raw, ok := root.get("communes"); ok {
		if err := json.Unmarshal(raw, &rawCommunes); err != nil {
			return nil, eris.Wrap(err, "pack: parse communes")
		}
	}

	communes := make([]*orderedObject, 0, len(rawCommunes))
	for i, rc := range rawCommunes {
		c, err := parseObject(rc)
		if err != nil {
			return nil, eris.Wrapf(err, "pack: parse commune %d", i)
		}
		communes = append(communes, c)
	}

	return &Document{root: root, communes: communes}, nil
}

// communeID returns the stable id of a pack commune entry: the explicit "id"
// member when present, otherwise the slug of its name.
func communeID(c *orderedObject) string {
	if raw, ok := c.get("id"); ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return id
		}
	}
	if raw, ok := c.get("name"); ok {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			return boundary.Slug(name)
		}
	}
	return ""
}

// Validate checks that the pack's commune set equals the ingested fixed set.
// Any difference is a schema mismatch and fatal for the run.
func (d *Document) Validate(catalog *model.Catalog) error {
	inPack := make(map[string]bool, len(d.communes))
	for _, c := range d.communes {
		id := communeID(c)
		if id == "" {
			return eris.Wrap(ErrSchemaMismatch, "pack commune without id or name")
		}
		inPack[id] = true
	}

	var missing, extra []string
	for _, c := range catalog.Communes {
		if !inPack[c.ID] {
			missing = append(missing, c.ID)
		}
		delete(inPack, c.ID)
	}
	for id := range inPack {
		extra = append(extra, id)
	}
	sort.Strings(extra)

	if len(missing) > 0 || len(extra) > 0 {
		return eris.Wrapf(ErrSchemaMismatch,
			"pack is missing communes %v and carries unknown communes %v", missing, extra)
	}
	return nil
}

// Stamp records provenance on the merged pack. Nil omits the stamp entirely,
// which keeps merge output byte-identical across runs for testing.
type Stamp struct {
	RunID       string
	GeneratedAt time.Time
}

type microhoodRef struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

type catalogEntry struct {
	ID        json.RawMessage `json:"id"`
	Name      string          `json:"name"`
	CommuneID string          `json:"commune_id"`
	AreaKm2   float64         `json:"area_km2"`
	Centroid  model.LonLat    `json:"centroid"`
}

// Merge replaces the merger-owned fields with the run's results and returns
// the new pack document. Validate must have been called first.
func (d *Document) Merge(res *model.RunResult, dataDriven map[string]bool, stamp *Stamp) ([]byte, error) {
	byID := make(map[string]*orderedObject, len(d.communes))
	for _, c := range d.communes {
		byID[communeID(c)] = c
	}

	selByCommune := make(map[string]model.CoverageSelection, len(res.Selections))
	for _, s := range res.Selections {
		selByCommune[s.CommuneID] = s
	}

	microhoodsByID := make(map[string]model.Microhood, len(res.Catalog.Microhoods))
	for _, m := range res.Catalog.Microhoods {
		microhoodsByID[m.ID] = m
	}

	for _, commune := range res.Catalog.Communes {
		entry, ok := byID[commune.ID]
		if !ok {
			return nil, eris.Wrapf(ErrSchemaMismatch, "commune %s vanished between validate and merge", commune.ID)
		}

		sel := selByCommune[commune.ID]
		if err := setField(entry, "microhoods", refs(sel.MicrohoodIDs, microhoodsByID)); err != nil {
			return nil, err
		}
		all := res.Catalog.MicrohoodsOf(commune.ID)
		allIDs := make([]string, 0, len(all))
		for _, m := range all {
			allIDs = append(allIDs, m.ID)
		}
		if err := setField(entry, "microhoods_all", refs(allIDs, microhoodsByID)); err != nil {
			return nil, err
		}
		if err := setField(entry, "coverage_missing", sel.Missing); err != nil {
			return nil, err
		}
		if err := setField(entry, "metrics", res.Metrics[commune.ID]); err != nil {
			return nil, err
		}
		if err := mergeTags(entry, res.Tags[commune.ID], dataDriven); err != nil {
			return nil, err
		}
	}

	if err := setField(d.root, "microhood_catalog", catalogEntries(res.Catalog)); err != nil {
		return nil, err
	}
	if stamp != nil {
		meta := map[string]string{
			"run_id":       stamp.RunID,
			"generated_at": stamp.GeneratedAt.UTC().Format(time.RFC3339),
		}
		if err := setField(d.root, "pipeline_meta", meta); err != nil {
			return nil, err
		}
	}

	// Reassemble the communes array in its original order.
	rawCommunes := make([]json.RawMessage, 0, len(d.communes))
	for _, c := range d.communes {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, eris.Wrap(err, "pack: marshal commune")
		}
		rawCommunes = append(rawCommunes, b)
	}
	if err := setField(d.root, "communes", rawCommunes); err != nil {
		return nil, err
	}

	out, err := json.MarshalIndent(d.root, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "pack: marshal document")
	}
	return append(out, '\n'), nil
}

// mergeTags rewrites the tags array keeping every curated tag in place and
// appending the data-driven set in rule order; tag_confidence is replaced
// wholesale and only ever contains data-driven tags.
func mergeTags(entry *orderedObject, tags []model.Tag, dataDriven map[string]bool) error {
	var existing []string
	if raw, ok := entry.get("tags"); ok {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return eris.Wrap(err, "pack: parse existing tags")
		}
	}

	merged := make([]string, 0, len(existing)+len(tags))
	for _, t := range existing {
		if !dataDriven[t] {
			merged = append(merged, t)
		}
	}
	confidence := make(map[string]model.Confidence)
	for _, t := range tags {
		merged = append(merged, t.ID)
		if t.Confidence != "" {
			confidence[t.ID] = t.Confidence
		}
	}

	if err := setField(entry, "tags", merged); err != nil {
		return err
	}
	return setField(entry, "tag_confidence", confidence)
}

func refs(ids []string, byID map[string]model.Microhood) []microhoodRef {
	out := make([]microhoodRef, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, microhoodRef{ID: idValue(id), Name: m.Name})
	}
	return out
}

func catalogEntries(catalog *model.Catalog) []catalogEntry {
	out := make([]catalogEntry, 0, len(catalog.Microhoods))
	for _, m := range catalog.Microhoods {
		out = append(out, catalogEntry{
			ID:        idValue(m.ID),
			Name:      m.Name,
			CommuneID: m.CommuneID,
			AreaKm2:   m.AreaKm2,
			Centroid:  m.Point,
		})
	}
	return out
}

// idValue keeps numeric source ids numeric in JSON, matching how curated
// packs reference them. Only canonical integers pass through raw: "007" or
// "+7" parse but are not valid JSON number tokens, so they stay strings.
func idValue(id string) json.RawMessage {
	trimmed := strings.TrimSpace(id)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil && strconv.FormatInt(n, 10) == trimmed {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(id)
	return b
}

func setField(obj *orderedObject, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "pack: marshal %s", key)
	}
	obj.set(key, b)
	return nil
}

// Describe returns a short human summary used in CLI errors.
func (d *Document) Describe() string {
	return fmt.Sprintf("%d communes", len(d.communes))
}
