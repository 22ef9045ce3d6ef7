package boundary

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripper removes combining marks after NFD decomposition, so "Saint-Josse"
// and "Saint-Jossé" normalize identically.
var stripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func stripDiacritics(s string) string {
	out, _, err := transform.String(stripper, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize produces the matching key for a name: case-folded, diacritics
// stripped, punctuation and hyphens collapsed to single spaces. Used only for
// alias matching, never as a display name.
func Normalize(s string) string {
	s = strings.NewReplacer("’", "'", "–", "-", "—", "-").Replace(s)
	s = strings.ToLower(stripDiacritics(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeCompact is Normalize with all separators removed, used for the
// loosest matching tier ("Sint-Jans-Molenbeek" vs "sintjansmolenbeek").
func NormalizeCompact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

// Slug derives a stable commune id from a display name.
func Slug(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "_")
}

// AliasSet expands names into their normalized matching keys. Bilingual names
// joined with "/" contribute each side separately.
func AliasSet(names ...string) []string {
	seen := make(map[string]struct{})
	for _, name := range names {
		if name == "" {
			continue
		}
		parts := []string{name}
		if strings.Contains(name, "/") {
			for _, p := range strings.Split(name, "/") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
		}
		for _, p := range parts {
			for _, key := range []string{Normalize(p), NormalizeCompact(p)} {
				if key != "" {
					seen[key] = struct{}{}
				}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
