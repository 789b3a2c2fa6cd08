package ai

import "strings"

const maxSchemaNameLen = 64

// SchemaName derives the response schema name sent to the provider from ref.
// Characters outside [A-Za-z0-9_-] become '_' and the result is capped at 64.
func SchemaName(ref string) string {
	var b strings.Builder
	for _, r := range ref {
		if b.Len() >= maxSchemaNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "result"
	}
	return b.String()
}
