package service

import (
	"strings"
	"unicode"
)

// NormalizeText collapses whitespace runs inside each line, drops blank lines
// and trims the result while keeping line boundaries. Only whitespace and
// control characters are touched so non-Latin scripts pass through intact.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		// strings.Fields splits on unicode.IsSpace, which covers NBSP and tabs.
		t := strings.Join(strings.Fields(stripControl(line)), " ")
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return strings.Join(out, "\n")
}

// stripControl removes NUL and other control runes that PostgreSQL text
// columns reject. Tabs are turned into spaces.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case r == 0x00:
			return -1
		case unicode.IsControl(r):
			return -1
		case r >= 0xD800 && r <= 0xDFFF:
			return -1
		}
		return r
	}, s)
}
