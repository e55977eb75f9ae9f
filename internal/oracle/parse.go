package oracle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Pre-compiled regular expressions for response cleanup. Model output
// frequently wraps JSON in code fences or leaves trailing commas.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)`{3}(?:json)?\\s*\\n?([\\s\\S]*?)\\n?`{3}")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// parseJSON parses model output into T with fallback cleanup strategies:
// direct parse, code-fence removal, trailing-comma cleanup, then raw
// object extraction from mixed content.
func parseJSON[T any](text, context string) (T, error) {
	var result T

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return result, fmt.Errorf("%s: empty response", context)
	}

	if err := json.Unmarshal([]byte(trimmed), &result); err == nil {
		return result, nil
	}

	withoutFences := trimmed
	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		withoutFences = strings.TrimSpace(m[1])
	}
	if err := json.Unmarshal([]byte(withoutFences), &result); err == nil {
		return result, nil
	}

	cleaned := trailingCommaRegex.ReplaceAllString(withoutFences, "$1")
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return result, nil
	}

	if extracted := objectRegex.FindString(cleaned); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &result); err == nil {
			return result, nil
		}
	}

	slog.Debug("all JSON parsing strategies failed",
		"context", context, "preview", truncate(text, 200))
	return result, fmt.Errorf("%s: could not parse JSON from response: %s", context, truncate(text, 200))
}

// truncate shortens a string for log and error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
