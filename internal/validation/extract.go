package validation

import "strings"

// ExtractJSON returns the text between the first '{' and the last '}' of raw.
// Without such a pair it returns raw trimmed of surrounding whitespace.
func ExtractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return strings.TrimSpace(raw)
	}
	return raw[start : end+1]
}
