package enrich

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)
	multiSpace    = regexp.MustCompile(`\s{2,}`)
)

// abbreviations maps dotted short forms the lookup service emits in verified
// organization names to their reference form.
var abbreviations = map[string]string{
	"inst.": "Institute",
	"univ.": "University",
	"dept.": "Department",
	"lab.":  "Laboratory",
	"labs.": "Laboratories",
	"tech.": "Technology",
	"natl.": "National",
	"intl.": "International",
	"acad.": "Academy",
	"sci.":  "Science",
	"eng.":  "Engineering",
	"res.":  "Research",
	"ctr.":  "Center",
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// CanonicalOrganization reduces a verified organization name to its reference
// form: diacritics folded, parenthetical qualifiers stripped, dotted
// abbreviations expanded, whitespace collapsed. Used by the conservative
// strategy so the same institution always yields the same affiliation string.
func CanonicalOrganization(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}

	if folded, _, err := transform.String(foldDiacritics, n); err == nil {
		n = folded
	}

	n = parenthetical.ReplaceAllString(n, "")

	words := strings.Fields(n)
	for i, w := range words {
		if ref, ok := abbreviations[strings.ToLower(w)]; ok {
			words[i] = ref
		}
	}
	n = strings.Join(words, " ")

	n = multiSpace.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}
