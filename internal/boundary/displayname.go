package boundary

import (
	"strings"
	"unicode"
)

// French/Dutch particles kept lowercase inside display names.
var lowerParticles = map[string]bool{
	"de": true, "du": true, "des": true, "la": true, "le": true, "les": true,
	"aux": true, "au": true, "d": true, "l": true, "et": true, "ten": true,
}

// DisplayName canonicalizes the casing and hyphen spacing of a raw source
// name ("QUARTIER SAINT-JOSSE " -> "Quartier Saint-Josse"). It never feeds
// matching; matching uses Normalize.
func DisplayName(raw string) string {
	s := strings.NewReplacer("–", "-", "—", "-").Replace(strings.TrimSpace(raw))
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	hyphenParts := strings.Split(s, "-")
	for i, hp := range hyphenParts {
		words := strings.Fields(strings.TrimSpace(hp))
		for j, w := range words {
			words[j] = fixWord(w, i == 0 && j == 0)
		}
		hyphenParts[i] = strings.Join(words, " ")
	}
	return strings.Join(hyphenParts, "-")
}

func fixWord(w string, first bool) string {
	if w == "" {
		return w
	}
	low := strings.ToLower(w)
	if !first && lowerParticles[low] {
		return low
	}

	// Keep short acronyms (e.g. "ULB", "VUB") as-is. Vowel-less is the tell:
	// source layers are often fully uppercased, so casing alone proves nothing.
	if len(w) > 1 && len(w) <= 4 && w == strings.ToUpper(w) && !strings.ContainsAny(low, "aeiouy") {
		return w
	}

	// Apostrophe compounds: d'Or, l'Ecluse.
	if i := strings.IndexAny(low, "'’"); i == 1 && (low[0] == 'd' || low[0] == 'l') {
		rest := low[i+1:]
		if rest == "" {
			return low
		}
		return low[:i+1] + capitalize(rest)
	}

	return capitalize(low)
}

func capitalize(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
