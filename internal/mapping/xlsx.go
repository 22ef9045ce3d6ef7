// Package mapping loads the curated quarter-to-commune override sheet. The
// sheet exists because a handful of quarters sit on commune boundaries and
// geometric containment assigns them to the wrong side; a human-maintained
// mapping wins over geometry.
package mapping

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/nld59/relocation-brief-webapp/internal/boundary"
)

// Options configures the sheet reader.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // header rows to skip, default 1
}

// Load reads an override workbook and returns a map from the normalized
// quarter name (every alias form) to the commune name it belongs to. The
// expected layout is two columns: quarter name, commune name. Blank rows and
// rows without both cells are skipped.
func Load(path string, opts Options) (map[string]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: open %s", path)
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	skip := opts.SkipRows
	if skip == 0 {
		skip = 1
	}

	log := zap.L().With(zap.String("component", "mapping"))
	overrides := make(map[string]string)
	for i, row := range sheet.Rows {
		if i < skip || len(row.Cells) < 2 {
			continue
		}
		quarter := strings.TrimSpace(row.Cells[0].String())
		commune := strings.TrimSpace(row.Cells[1].String())
		if quarter == "" || commune == "" {
			continue
		}

		for _, alias := range boundary.AliasSet(quarter) {
			if prev, ok := overrides[alias]; ok && prev != commune {
				return nil, eris.Errorf("mapping: quarter %q mapped to both %q and %q", quarter, prev, commune)
			}
			overrides[alias] = commune
		}
	}

	log.Info("override sheet loaded",
		zap.String("path", path),
		zap.Int("entries", len(overrides)))
	return overrides, nil
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("mapping: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("mapping: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}
