// Package llmjson pulls JSON objects out of free-form model output.
//
// Models routinely wrap the requested object in prose or markdown fences, so
// callers hand the raw completion to Decode and keep their own fallback for
// when it returns an error.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoObject is returned when the text carries no brace-delimited object.
var ErrNoObject = errors.New("llmjson: no json object in text")

// ExtractObject returns the substring spanning the first '{' and the last '}'.
func ExtractObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// Decode extracts the outermost object from text and unmarshals it into v.
func Decode(text string, v interface{}) error {
	raw, ok := ExtractObject(text)
	if !ok {
		return ErrNoObject
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("llmjson: decode: %w", err)
	}
	return nil
}

// Strings keeps the non-blank string entries of a decoded JSON array, trimmed.
// Non-string entries are dropped.
func Strings(items []interface{}) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// List reads a field that should be an array of strings. A bare string is
// treated as a one-element list; anything else yields an empty list.
func List(raw json.RawMessage) []string {
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err == nil {
		return Strings(items)
	}
	if s := Text(raw); s != "" {
		return []string{s}
	}
	return []string{}
}

// Text reads a scalar field as trimmed text. Numbers and booleans are
// rendered as written; arrays of strings are joined with spaces; objects
// and null yield "".
func Text(raw json.RawMessage) string {
	var v interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64, bool:
		return strings.TrimSpace(string(raw))
	case []interface{}:
		return strings.Join(Strings(t), " ")
	}
	return ""
}

// Glossary reads a term→definition field. Besides the expected object it
// accepts an array of {"term","definition"} objects or of bare terms.
func Glossary(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for term, def := range obj {
			if term = strings.TrimSpace(term); term != "" {
				out[term] = Text(def)
			}
		}
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, item := range items {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(item, &entry); err == nil {
			term := Text(firstOf(entry, "term", "name"))
			if term != "" {
				out[term] = Text(firstOf(entry, "definition", "description", "meaning"))
			}
			continue
		}
		if term := Text(item); term != "" {
			out[term] = ""
		}
	}
	return out
}

func firstOf(m map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
