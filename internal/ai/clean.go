package ai

import "strings"

// cleanModelJSON strips Markdown fences and surrounding prose the model may
// emit despite instructions, keeping only the outermost JSON value.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Keep only the outermost JSON value if prose still surrounds it. The
	// earlier opener decides whether that value is an object or an array.
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	open, shut := "{", "}"
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		open, shut = "[", "]"
	}
	start := strings.Index(s, open)
	end := strings.LastIndex(s, shut)
	if start != -1 && end > start {
		return strings.TrimSpace(s[start : end+1])
	}
	return s
}
