package stages

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a completion contains no parseable JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ExtractJSON returns the first JSON object found in a completion. A fenced
// ```json block wins; otherwise the first balanced {...} object that decodes
// is used.
func ExtractJSON(text string) (json.RawMessage, error) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil && json.Valid([]byte(m[1])) {
		return json.RawMessage(m[1]), nil
	}

	for start := strings.IndexByte(text, '{'); start >= 0; {
		end := matchBrace(text, start)
		if end < 0 {
			break
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoJSON
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
