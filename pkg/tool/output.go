package tool

import (
	// Packages
	jsonschema "github.com/google/jsonschema-go/jsonschema"
	schema "github.com/evai-dev/evai-go/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// OutputToolName is the well-known name for the structured output tool.
	OutputToolName = "submit_output"

	// OutputToolInstruction is appended to the system prompt when the
	// output tool is active, directing the model to call it with the final answer.
	OutputToolInstruction = "Use available tools to gather information. When ready, only call " + OutputToolName + " with your final answer, do not output any other text."
)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewOutputTool wraps a JSON schema as a tool definition, allowing the model
// to produce structured output by "calling" this tool with the desired data.
// The invocation is captured by the session, never dispatched to a server.
func NewOutputTool(s *jsonschema.Schema) schema.ToolDefinition {
	return schema.ToolDefinition{
		Name:        OutputToolName,
		Description: "Submit your final structured output. Call this tool when you have completed your task and are ready to return the result.",
		InputSchema: s,
	}
}
