package recognize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeStudentName normalizes a name for comparison (lowercase, no
// diacritics, collapsed whitespace). Registration forms and CSV imports
// disagree on spacing and accents; comparisons go through this.
func NormalizeStudentName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.Join(strings.Fields(name), " ")
	return name
}
