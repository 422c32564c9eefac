package schema

import (
	"encoding/json"
	"strings"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Message represents a message in a conversation with an LLM.
// It uses a universal content block representation that can be marshaled
// to any provider's format.
type Message struct {
	Role    string         `json:"role"`    // "user", "assistant", "system"
	Content []ContentBlock `json:"content"` // Array of content blocks
}

// ContentBlock represents a single piece of content within a message.
// Exactly one of the fields should be non-nil.
type ContentBlock struct {
	Text       *string     `json:"text,omitempty"`        // Text content
	ToolUse    *ToolUse    `json:"tool_use,omitempty"`    // Tool invocation (assistant → user)
	ToolResult *ToolResult `json:"tool_result,omitempty"` // Tool response (user → assistant)
}

// ToolUse represents a tool invocation requested by the model
type ToolUse struct {
	ID    string          `json:"id"`              // Provider-assigned invocation ID
	Name  string          `json:"name"`            // Tool function name
	Input json.RawMessage `json:"input,omitempty"` // JSON-encoded arguments
}

// ToolResult represents the result of running a tool. The ID matches the
// ToolUse which requested it.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Conversation is the ordered sequence of messages exchanged with an LLM
type Conversation []*Message

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// Message role constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewTextMessage creates a message with the given role and a single text block
func NewTextMessage(role, text string) *Message {
	return &Message{
		Role:    role,
		Content: []ContentBlock{{Text: types.Ptr(text)}},
	}
}

// NewToolResult creates a content block containing a successful tool result
func NewToolResult(id, name, content string) ContentBlock {
	return ContentBlock{
		ToolResult: &ToolResult{
			ID:      id,
			Name:    name,
			Content: content,
		},
	}
}

// NewToolError creates a content block containing a tool error result
func NewToolError(id, name string, err error) ContentBlock {
	return ContentBlock{
		ToolResult: &ToolResult{
			ID:      id,
			Name:    name,
			Content: err.Error(),
			IsError: true,
		},
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Text returns the concatenated text content from all text blocks in the message
func (m Message) Text() string {
	var result []string
	for _, block := range m.Content {
		if block.Text != nil {
			result = append(result, *block.Text)
		}
	}
	return strings.Join(result, "\n")
}

// ToolUses returns all tool use blocks in the message, in order
func (m Message) ToolUses() []ToolUse {
	var result []ToolUse
	for _, block := range m.Content {
		if block.ToolUse != nil {
			result = append(result, *block.ToolUse)
		}
	}
	return result
}

// ToolResults returns all tool result blocks in the message, in order
func (m Message) ToolResults() []ToolResult {
	var result []ToolResult
	for _, block := range m.Content {
		if block.ToolResult != nil {
			result = append(result, *block.ToolResult)
		}
	}
	return result
}

// Append adds a message to the conversation
func (c *Conversation) Append(message *Message) {
	*c = append(*c, message)
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (m Message) String() string {
	return types.Stringify(m)
}
