// Package titles derives chat titles from the first user message.
package titles

import "strings"

const (
	// Placeholder is used when the message is too short to make a
	// meaningful title.
	Placeholder = "New Chat"

	maxTitleRunes = 60
	minTitleRunes = 10
	ellipsis      = "…"
)

// Generate produces a short title from the first message of a chat.
// Whitespace runs (including newlines) collapse to single spaces, the
// result is truncated to 60 runes with an ellipsis marker, and inputs
// cleaning to fewer than 10 runes fall back to the placeholder. Pure and
// deterministic; calling it twice on the same input yields the same
// output.
func Generate(firstMessage string) string {
	cleaned := strings.Join(strings.Fields(firstMessage), " ")

	runes := []rune(cleaned)
	if len(runes) < minTitleRunes {
		return Placeholder
	}
	if len(runes) <= maxTitleRunes {
		return cleaned
	}
	return string(runes[:maxTitleRunes]) + ellipsis
}
