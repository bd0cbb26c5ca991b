package formatting

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParseFailed is returned when no JSON document in the content decodes into
// the requested type.
var ErrParseFailed = errors.New("failed to parse response")

const excerptLimit = 120

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n?(.*?)```")

// Parse decodes the first JSON document found in content into T.
//
// Model output rarely arrives as clean JSON, so the candidates are tried in
// order: the whole trimmed content, the body of every markdown code fence, and
// finally the first balanced object embedded in surrounding prose.
func Parse[T any](content string) (T, error) {
	var result T
	content = strings.TrimSpace(content)

	for _, candidate := range candidates(content) {
		var v T
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v, nil
		}
	}

	return result, fmt.Errorf("%w: %q", ErrParseFailed, excerpt(content))
}

func candidates(content string) []string {
	out := []string{content}
	for _, m := range fencePattern.FindAllStringSubmatch(content, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			out = append(out, body)
		}
	}
	if obj, ok := embeddedObject(content); ok {
		out = append(out, obj)
	}
	return out
}

// embeddedObject returns the first brace-balanced span, ignoring braces that
// appear inside JSON strings.
func embeddedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

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
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func excerpt(s string) string {
	if len(s) <= excerptLimit {
		return s
	}
	return s[:excerptLimit] + "..."
}
