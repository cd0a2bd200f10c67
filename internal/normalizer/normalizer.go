// Package normalizer repairs spacing defects left behind by OCR and PDF text extraction.
package normalizer

import (
	"regexp"
	"strings"
)

var (
	caseBoundary  = regexp.MustCompile(`(\p{Ll})(\p{Lu})`)
	afterPunct    = regexp.MustCompile(`([.,;:])(\p{L})`)
	digitToLetter = regexp.MustCompile(`(\p{N})(\p{L})`)
	letterToDigit = regexp.MustCompile(`(\p{L})(\p{N})`)
)

// Normalize applies the spacing repairs in a fixed order and collapses whitespace.
// The result of Normalize is a fixed point: Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	text = caseBoundary.ReplaceAllString(text, "$1 $2")
	text = afterPunct.ReplaceAllString(text, "$1 $2")
	text = digitToLetter.ReplaceAllString(text, "$1 $2")
	text = letterToDigit.ReplaceAllString(text, "$1 $2")

	return strings.Join(strings.Fields(text), " ")
}
