package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrMalformedOutput = errors.New("malformed model output")

// ExtractJSON returns the outermost JSON object in a completion. Markdown
// fences (```json ... ```) are stripped first.
func ExtractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, ErrMalformedOutput
	}
	obj := []byte(s[start : end+1])
	if !json.Valid(obj) {
		return nil, ErrMalformedOutput
	}
	return obj, nil
}

// DecodeJSON extracts the JSON object from text and decodes it into v.
func DecodeJSON(text string, v any) error {
	obj, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj, v); err != nil {
		return errors.Join(ErrMalformedOutput, err)
	}
	return nil
}
