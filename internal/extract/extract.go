// Package extract locates and parses a structured JSON object embedded in
// streaming model output. It is called on every content delta, so partial
// or invalid JSON is the expected steady state, never an error.
package extract

import "encoding/json"

// FirstObject returns the first balanced {...} span in s. It counts brace
// depth with an explicit in-string/escaped state machine rather than a
// regex: nested objects, arrays, and braces inside string literals (with
// escaped quotes) must all be respected, and a miscount here silently
// produces a wrong object downstream.
func FirstObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

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
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// Object attempts to parse the first balanced JSON object in content into
// v. It reports false when no balanced span exists yet or the span does
// not parse; callers treat that as "no extraction yet".
func Object(content string, v any) bool {
	span, ok := FirstObject(content)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(span), v) == nil
}
