package llm

import (
	"encoding/json"
	"strings"
)

// StripFences removes a markdown code fence wrapping, if any, returning the
// inner payload. Models frequently wrap JSON replies in ```json fences even
// when asked not to.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "" || isLangTag(first) {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isLangTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// ParseJSON strips fences and unmarshals the text into out.
func ParseJSON(text string, out any) error {
	return json.Unmarshal([]byte(StripFences(text)), out)
}
