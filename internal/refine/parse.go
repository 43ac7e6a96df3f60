package refine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var fenceRe = regexp.MustCompile("(?is)^```(?:json)?\\s*(.*?)\\s*```$")

// stripCodeFence removes a surrounding ```json fence if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// extractJSON returns the first balanced JSON object or array in s.
func extractJSON(s string) (string, error) {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end := matchBracket(s, start); end > 0 {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", errors.New("no JSON object in model output")
}

func matchBracket(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decode parses model output into v, tolerating fences and surrounding prose.
func decode(text string, v any) error {
	cleaned := stripCodeFence(text)
	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}
	candidate, err := extractJSON(cleaned)
	if err != nil {
		return fmt.Errorf("parse model output: %w (excerpt %q)", err, excerpt(cleaned))
	}
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return fmt.Errorf("parse model output: %w", err)
	}
	return nil
}

func excerpt(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

var leadingInt = regexp.MustCompile(`\d+`)

// flexInt accepts 3, 3.0, "3" and "Week 3"; a range such as "1-2" yields
// its first number.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected number, got %s", b)
	}
	m := leadingInt.FindString(s)
	if m == "" {
		return fmt.Errorf("expected number, got %q", s)
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// stringList accepts either a JSON list of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var many []string
	if err := json.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	if one == "" {
		*l = nil
		return nil
	}
	*l = []string{one}
	return nil
}
