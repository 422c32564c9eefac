package session

import (
	"encoding/json"

	// Packages
	schema "github.com/evai-dev/evai-go/pkg/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// ToolCall is one entry in the ordered log of tool invocations made while
// serving a request
type ToolCall struct {
	Name     string          `json:"tool_name"`
	Args     json.RawMessage `json:"tool_args,omitempty"`
	Server   string          `json:"server,omitempty"`
	Result   string          `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
}

// Result is the outcome of one SendRequest call. Success reports whether the
// conversation reached a final response; failures short of cancellation are
// described by Error rather than returned as an error value.
type Result struct {
	Success            bool                `json:"success"`
	Response           string              `json:"response,omitempty"`
	StructuredResponse json.RawMessage     `json:"structured_response,omitempty"`
	Error              string              `json:"error,omitempty"`
	ToolCalls          []ToolCall          `json:"tool_calls,omitempty"`
	StopInfo           schema.StopInfo     `json:"stop_reason_info,omitzero"`
	Messages           schema.Conversation `json:"messages,omitempty"`
	Usage              schema.Usage        `json:"usage,omitzero"`
}

///////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (r Result) String() string {
	return types.Stringify(r)
}
