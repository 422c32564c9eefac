package mcp

import (
	"bytes"
	"encoding/json"
	"strings"
)

////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Value flattens a tool call result into a single string suitable for a
// conversation tool result block. Text content is preferred; text that is
// itself a JSON object or array is pretty-printed, and non-text content
// falls back to its JSON encoding.
func (r ResponseToolCall) Value() string {
	var parts []string
	for _, content := range r.Content {
		if content == nil {
			continue
		}
		if content.Type == "text" {
			parts = append(parts, prettyIfJSON(content.Text))
		} else {
			if data, err := json.MarshalIndent(content, "", "  "); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func prettyIfJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return text
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return text
	}
	return buf.String()
}
