package format

import (
	"strings"
	"unicode/utf8"
)

// NormalizeHandle turns "@Alice", "t.me/alice" or "https://t.me/alice" into "alice".
func NormalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"https://", "http://", "t.me/", "@"} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = s[len(prefix):]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Handle renders a username as "@name"; empty input stays empty.
func Handle(username string) string {
	if h := NormalizeHandle(username); h != "" {
		return "@" + h
	}
	return ""
}

// Truncate shortens s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max-1])) + "…"
}
