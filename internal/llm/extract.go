package llm

import (
	"encoding/json"
	"strings"
)

// ExtractReply pulls a single text reply out of a provider's JSON body.
// Known shapes are tried in order:
//
//	choices[0].message.content
//	choices[0].text
//	output_text
//	text
//	content (string)
//
// When none match, the raw body is returned so the caller still has
// something to display.
func ExtractReply(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return strings.TrimSpace(string(body))
	}

	if choices, ok := doc["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if s := stringField(msg, "content"); s != "" {
					return s
				}
			}
			if s := stringField(choice, "text"); s != "" {
				return s
			}
		}
	}

	for _, key := range []string{"output_text", "text", "content"} {
		if s := stringField(doc, key); s != "" {
			return s
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return string(body)
	}
	return string(raw)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
