package context

import "unicode/utf8"

// TruncationMarker is appended to tool results cut at the limit.
const TruncationMarker = "\n...[truncated]"

// DefaultToolResultLimit is the character limit applied to tool results.
const DefaultToolResultLimit = 2000

// TruncateToolResult keeps the first limit characters of text and appends
// TruncationMarker when anything was cut. limit <= 0 selects the default.
func TruncateToolResult(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultToolResultLimit
	}
	return clipText(text, limit, TruncationMarker)
}

// clipText cuts text to limit runes plus suffix. limit <= 0 disables clipping.
func clipText(text string, limit int, suffix string) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i] + suffix
		}
		n++
	}
	return text
}
