package optimizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

type modelPayload struct {
	RenderPrompt   string     `json:"renderPrompt"`
	Assumptions    stringList `json:"assumptions"`
	Conflicts      stringList `json:"conflicts"`
	NegativePrompt stringList `json:"negativePrompt"`
}

// stringList decodes a JSON array of strings. Models sometimes send a bare
// string instead, which becomes a one-element list; null stays empty.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*l = nil
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	}
	var items []string
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

func parsePayload(raw string) (modelPayload, error) {
	var p modelPayload
	fragment := ExtractJSONObject(raw)
	if fragment == "" {
		return p, errors.New("empty payload")
	}
	if err := json.Unmarshal([]byte(fragment), &p); err != nil {
		return modelPayload{}, err
	}
	return p, nil
}

// ExtractJSONObject strips a code fence if present, otherwise it takes the
// span from the first '{' to the last '}'.
func ExtractJSONObject(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "```") {
		return trimCodeFence(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
