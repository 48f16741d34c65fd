// internal/security/sanitizer.go
package security

import (
	"strings"
	"unicode/utf8"
)

// MaxValueLen caps a single variable value passed to an action.
const MaxValueLen = 1024

// SanitizeValue makes a catalog-supplied value safe to place in an
// environment variable or argument: control characters other than tab
// are dropped and the result is cut to MaxValueLen bytes on a rune boundary.
func SanitizeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 && r != '\t') || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	result := b.String()

	if len(result) > MaxValueLen {
		cut := MaxValueLen
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}
	return result
}
