// Package normalize derives the canonical matching key from a raw transaction
// description. Description returns the same output for the same input and is
// idempotent: Description(Description(s)) == Description(s).
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// boilerplate phrases banks prepend or append to descriptions, matched as
// token sequences after digits and punctuation are stripped. Longer phrases
// first so "card payment to" wins over "card payment".
var boilerplate = [][]string{
	{"card", "payment", "to"},
	{"card", "payment"},
	{"direct", "debit", "to"},
	{"direct", "debit"},
	{"standing", "order", "to"},
	{"standing", "order"},
	{"bank", "transfer", "to"},
	{"bank", "transfer"},
	{"contactless", "payment"},
	{"pos", "purchase"},
	{"payment", "to"},
	{"payment", "from"},
	{"purchase", "at"},
	{"reference"},
	{"ref"},
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Description canonicalizes a raw statement description: lowercase, accents
// stripped, digits/punctuation/reference numbers dropped, boilerplate phrases
// removed, whitespace collapsed.
func Description(raw string) string {
	s := strings.ToLower(raw)

	if folded, _, err := transform.String(stripAccents, s); err == nil {
		s = folded
	}

	// Everything that is not a letter separates tokens; this erases digits,
	// punctuation and reference numbers in one pass.
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	tokens = dropBoilerplate(tokens)

	return strings.Join(tokens, " ")
}

// dropBoilerplate removes every occurrence of the boilerplate token
// sequences, preferring the longest match at each position.
func dropBoilerplate(tokens []string) []string {
	out := tokens[:0:0]
	for i := 0; i < len(tokens); {
		if n := boilerplateAt(tokens[i:]); n > 0 {
			i += n
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out
}

func boilerplateAt(tokens []string) int {
	for _, phrase := range boilerplate {
		if len(phrase) > len(tokens) {
			continue
		}
		match := true
		for j, w := range phrase {
			if tokens[j] != w {
				match = false
				break
			}
		}
		if match {
			return len(phrase)
		}
	}
	return 0
}
