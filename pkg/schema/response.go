package schema

import (
	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// ModelResponse is one assistant turn returned by a model responder,
// together with the stop classification and token usage.
type ModelResponse struct {
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	StopReason   StopReason     `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage,omitzero"`
}

// Usage is the token accounting for a single model request
type Usage struct {
	InputTokens  uint `json:"input_tokens,omitempty"`
	OutputTokens uint `json:"output_tokens,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Message returns the response as an assistant conversation message
func (r ModelResponse) Message() *Message {
	return &Message{
		Role:    RoleAssistant,
		Content: r.Content,
	}
}

// Text returns the concatenated text content of the response
func (r ModelResponse) Text() string {
	return r.Message().Text()
}

// ToolUses returns all tool use blocks in the response, in order
func (r ModelResponse) ToolUses() []ToolUse {
	return r.Message().ToolUses()
}

// Add accumulates usage across requests in a session
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (r ModelResponse) String() string {
	return types.Stringify(r)
}
