package scanning

import "strings"

// cleanResponse trims whitespace and a surrounding markdown code fence.
func cleanResponse(text string) string {
	text = strings.TrimSpace(text)
	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
