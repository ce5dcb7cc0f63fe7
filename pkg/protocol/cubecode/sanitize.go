// Package cubecode handles the formatting codes players may embed in their names.
package cubecode

import (
	"regexp"
	"strings"
	"unicode"
)

// color codes are a form feed followed by a digit, e.g. \f3 for red
var colorCodes = regexp.MustCompile(`\f\d`)

// SanitizeString returns s without color codes and non-printable characters, for showing
// player-chosen names in logs and operator output.
func SanitizeString(s string) string {
	s = colorCodes.ReplaceAllLiteralString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(s)
}
