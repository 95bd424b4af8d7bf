package gateway

import "strings"

// splitMessage breaks text into parts of at most limit runes, preferring
// line breaks, then spaces, as cut points.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		window := string(runes[:limit])
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		var part string
		if cut <= 0 {
			part = window
			runes = runes[limit:]
		} else {
			part = window[:cut]
			runes = runes[len([]rune(part))+1:]
		}
		parts = append(parts, part)
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
