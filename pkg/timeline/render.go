package timeline

import (
	"fmt"
	"strings"
)

const previewLength = 3

// Preview joins the first three entries as "title — date".
func Preview(entries []Entry) string {
	n := len(entries)
	if n > previewLength {
		n = previewLength
	}
	parts := make([]string, 0, n)
	for _, e := range entries[:n] {
		parts = append(parts, fmt.Sprintf("%s — %s", e.Title, e.Date))
	}
	return strings.Join(parts, " • ")
}

// Render returns one line per entry, in order.
func Render(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&sb, "%2d. %s  %s  (%s)\n", i+1, e.Emoji, e.Title, e.Date)
	}
	return sb.String()
}
