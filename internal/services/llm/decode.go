package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeLLMJSON decodes the first JSON object or array in content into
// target. Markdown fences and prose around the value are ignored.
func DecodeLLMJSON(content string, target any) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return errors.New("empty payload")
	}
	firstErr := json.Unmarshal([]byte(text), target)
	if firstErr == nil {
		return nil
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		if json.NewDecoder(strings.NewReader(text[i:])).Decode(target) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w (payload: %s)", firstErr, snippet(text, 160))
}

func snippet(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
