package schema

import (
	"encoding/json"

	// Packages
	jsonschema "github.com/google/jsonschema-go/jsonschema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// ToolDefinition is a provider-agnostic tool descriptor. Providers reshape
// this into their required payloads; the catalog validates arguments against
// InputSchema before dispatch.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"input_schema,omitempty"`
}

// ToolOutput is the outcome of one tool invocation after retries have been
// applied. Failures are reported in-band through IsError rather than as an
// error value.
type ToolOutput struct {
	Value    string `json:"value"`
	IsError  bool   `json:"is_error,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Validate checks JSON-encoded arguments against the tool's input schema.
// A tool without a schema accepts any arguments.
func (t ToolDefinition) Validate(input json.RawMessage) error {
	if t.InputSchema == nil {
		return nil
	}
	resolved, err := t.InputSchema.Resolve(nil)
	if err != nil {
		return err
	}

	// Decode the arguments; absent arguments validate as an empty object
	var instance any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &instance); err != nil {
			return err
		}
	}
	if instance == nil {
		instance = map[string]any{}
	}
	return resolved.Validate(instance)
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (t ToolDefinition) String() string {
	return types.Stringify(t)
}
