/**
 * @description
 * Descriptor normalization. Bank descriptors arrive as free text with
 * arbitrary casing, accents and punctuation ("Café CB*1234"); everything the
 * matcher and the match profiles compare goes through Normalize first so
 * both sides live in the same canonical space.
 *
 * @dependencies
 * - strings, unicode: Standard Go libraries.
 * - golang.org/x/text: NFD decomposition and combining-mark removal.
 */

package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldAccents decomposes to NFD and drops combining marks, so "é" becomes "e".
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes a raw bank descriptor: lowercase, accent-folded,
// every character outside [a-z0-9] and whitespace replaced by a space, and
// whitespace runs collapsed. Empty input normalizes to the empty string.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	lowered := strings.ToLower(text)

	folded, _, err := transform.String(foldAccents, lowered)
	if err != nil {
		// transform.String only fails on malformed input; fall back to the
		// lowered text so a broken descriptor still normalizes predictably.
		folded = lowered
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
