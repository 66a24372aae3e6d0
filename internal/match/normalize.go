package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// unitWords are measurement words customers embed in product names
// ("rice 25kg", "5 trays eggs"). They carry no product identity and are
// dropped during normalization.
var unitWords = map[string]struct{}{
	"kg": {}, "kgs": {}, "g": {}, "grams": {}, "l": {}, "ltr": {}, "litre": {},
	"litres": {}, "liters": {}, "ml": {}, "pieces": {}, "pcs": {}, "pc": {},
	"trays": {}, "tray": {}, "crates": {}, "crate": {}, "bags": {}, "bag": {},
	"bottles": {}, "bottle": {}, "packets": {}, "packet": {}, "pkt": {},
	"cartons": {}, "carton": {}, "boxes": {}, "box": {}, "rolls": {}, "roll": {},
	"dozen": {}, "doz": {},
}

// foldMarks strips combining marks so accented spellings compare equal.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes a free-text product name into a match key.
// Deterministic and pure: lower-cases, folds diacritics, trims punctuation,
// drops unit words and bare numbers, collapses whitespace, and strips
// trailing plural markers per word. An empty or whitespace-only input
// yields ""; callers must treat an empty key as unmatchable.
func Normalize(raw string) string {
	folded, _, err := transform.String(foldMarks, raw)
	if err != nil {
		folded = raw
	}
	lowered := strings.ToLower(strings.TrimSpace(folded))

	var out []string
	for _, tok := range strings.Fields(lowered) {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if tok == "" || isNumeric(tok) {
			continue
		}
		if _, ok := unitWords[tok]; ok {
			continue
		}
		out = append(out, singularize(tok))
	}
	return strings.Join(out, " ")
}

// singularize strips a small fixed set of trailing plural markers, never
// producing an empty token.
func singularize(tok string) string {
	switch {
	case len(tok) > 4 && strings.HasSuffix(tok, "ies"):
		return tok[:len(tok)-3] + "y"
	case len(tok) > 4 && strings.HasSuffix(tok, "es") && pluralESStem(tok[:len(tok)-2]):
		return tok[:len(tok)-2]
	case len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss"):
		return tok[:len(tok)-1]
	default:
		return tok
	}
}

// pluralESStem reports whether a stem takes the "-es" plural (boxes,
// tomatoes, brushes). Other stems keep their "e" and drop only the "s".
func pluralESStem(stem string) bool {
	switch {
	case strings.HasSuffix(stem, "s"), strings.HasSuffix(stem, "x"),
		strings.HasSuffix(stem, "z"), strings.HasSuffix(stem, "o"),
		strings.HasSuffix(stem, "ch"), strings.HasSuffix(stem, "sh"):
		return true
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

// Tokens splits a normalized key into its words.
func Tokens(key string) []string {
	return strings.Fields(key)
}
