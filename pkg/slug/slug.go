// Package slug derives URL-safe ASCII identifiers from book titles.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// From lowers, strips diacritics, and hyphenates a title. Vietnamese titles
// are the common input, so đ/Đ get an explicit mapping since NFD leaves them
// intact.
func From(title string) string {
	title = strings.NewReplacer("đ", "d", "Đ", "D").Replace(title)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, err := transform.String(t, title)
	if err != nil {
		ascii = title
	}

	var b strings.Builder
	b.Grow(len(ascii))
	lastHyphen := true
	for _, r := range strings.ToLower(ascii) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
