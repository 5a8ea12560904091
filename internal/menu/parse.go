package menu

import (
	"encoding/json"
	"strings"
)

// ParseItems extracts the first JSON array of item objects embedded in the
// model's free-text answer. The model is asked for a bare array but often
// wraps it in prose or a code fence; anything unparseable yields an empty
// slice rather than an error, since a menu with no extractable items is a
// valid (if unhelpful) outcome.
func ParseItems(content string) []Item {
	raw := extractArray(content)
	if raw == "" {
		return nil
	}

	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}

	for i := range items {
		items[i].ImageRef = ""
		items[i].ImageStatus = ""
	}
	return items
}

// extractArray returns the substring spanning the first top-level JSON array
// of objects, or "" if none is present.
func extractArray(content string) string {
	start := strings.Index(content, "[")
	for start >= 0 {
		rest := content[start:]
		// The array must open with an object, possibly after whitespace.
		inner := strings.TrimLeft(rest[1:], " \t\r\n")
		if !strings.HasPrefix(inner, "{") {
			next := strings.Index(content[start+1:], "[")
			if next < 0 {
				return ""
			}
			start = start + 1 + next
			continue
		}

		depth := 0
		inString := false
		escaped := false
		for i, r := range rest {
			switch {
			case escaped:
				escaped = false
			case inString:
				if r == '\\' {
					escaped = true
				} else if r == '"' {
					inString = false
				}
			case r == '"':
				inString = true
			case r == '[' || r == '{':
				depth++
			case r == ']' || r == '}':
				depth--
				if depth == 0 {
					return rest[:i+1]
				}
			}
		}
		return ""
	}
	return ""
}
