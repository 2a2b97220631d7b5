package util

import (
	"encoding/json"
	"fmt"
)

// maxSummaryLen bounds the size of persisted result summaries.
const maxSummaryLen = 256

// Summarize produces a short human readable summary of a handler result.
// A string "summary" key wins; otherwise the result is JSON encoded and
// truncated.
func Summarize(result map[string]any) string {
	if len(result) == 0 {
		return ""
	}
	if s, ok := result["summary"].(string); ok && s != "" {
		return TruncateString(s, maxSummaryLen)
	}
	b, err := json.Marshal(result)
	if err != nil {
		return TruncateString(fmt.Sprintf("%v", result), maxSummaryLen)
	}
	return TruncateString(string(b), maxSummaryLen)
}

// TruncateString shortens s to at most max runes, appending "..." when cut.
func TruncateString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
