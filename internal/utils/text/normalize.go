package text

import (
	"strings"
	"unicode"
)

// Normalize strips zero-width and control characters that spammers use to
// split keywords, and collapses runs of whitespace into single spaces.
// Newlines survive as single line breaks.
func Normalize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	pendingSpace, pendingBreak := false, false
	for _, r := range content {
		switch {
		case r == '\n':
			pendingBreak = true
			continue
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case isInvisible(r):
			continue
		}
		if b.Len() > 0 {
			if pendingBreak {
				b.WriteByte('\n')
			} else if pendingSpace {
				b.WriteByte(' ')
			}
		}
		pendingSpace, pendingBreak = false, false
		b.WriteRune(r)
	}
	return b.String()
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad', '\u180e':
		return true
	}
	return unicode.Is(unicode.Cc, r) || unicode.Is(unicode.Cf, r)
}
