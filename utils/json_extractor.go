package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONFound is returned when no valid JSON object is found in the input
var ErrNoJSONFound = errors.New("no valid JSON object found in response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// ExtractJSON pulls the first complete JSON object out of a model response
// that may be wrapped in markdown fences or surrounded by prose.
func ExtractJSON(response string) (string, error) {
	s := strings.TrimSpace(response)
	if s == "" {
		return "", ErrNoJSONFound
	}
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return s, nil
	}

	if m := fencedBlock.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}

	if candidate := matchObject(s); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	// first { to last }
	first, last := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if first != -1 && last > first {
		if candidate := s[first : last+1]; json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: response length=%d", ErrNoJSONFound, len(response))
}

// ExtractJSONTo extracts a JSON object from response and unmarshals it into target
func ExtractJSONTo(response string, target interface{}) error {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(jsonStr), target)
}

// matchObject returns the first balanced {...} span, ignoring braces in strings
func matchObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
