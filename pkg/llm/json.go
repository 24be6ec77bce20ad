package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> reasoning that self-hosted models may prepend.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

var errNoJSONObject = errors.New("no JSON object found")

// decodeJSONObject decodes the first valid JSON object in s. Reasoning
// preambles, markdown fences and prose around the object are skipped.
func decodeJSONObject[T any](s string) (T, error) {
	var out T
	obj, ok := firstJSONObject(thinkTagPattern.ReplaceAllString(s, ""))
	if !ok {
		return out, errNoJSONObject
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, fmt.Errorf("unmarshal JSON object: %w", err)
	}
	return out, nil
}

// firstJSONObject returns the first balanced {...} span that is valid JSON.
// A candidate that fails validation is skipped and the search resumes at the
// next opening brace.
func firstJSONObject(s string) (string, bool) {
	for from := 0; from < len(s); {
		i := strings.IndexByte(s[from:], '{')
		if i < 0 {
			return "", false
		}
		start := from + i
		if end, ok := matchingBrace(s, start); ok && json.Valid([]byte(s[start:end])) {
			return s[start:end], true
		}
		from = start + 1
	}
	return "", false
}

// matchingBrace returns the index just past the brace that closes the one
// at start. Braces inside string literals are ignored.
func matchingBrace(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
