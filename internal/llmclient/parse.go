package llmclient

import (
	"fmt"
	"regexp"
	"strings"
)

// jsonBlockRegex extracts a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// ExtractJSON strips a surrounding markdown code fence from an LLM response,
// if present, and returns the inner JSON text. Models asked for JSON output
// still wrap it in fences often enough that callers always pass through here.
func ExtractJSON(response string) string {
	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return strings.TrimSpace(response)
}
