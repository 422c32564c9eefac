package client

import (
	"context"
	"encoding/json"

	// Packages
	evai "github.com/evai-dev/evai-go"
	mcp "github.com/evai-dev/evai-go/pkg/mcp"
	schema "github.com/evai-dev/evai-go/pkg/schema"
	jsonschema "github.com/google/jsonschema-go/jsonschema"
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ListTools returns the tools advertised by the server, following pagination
// cursors until the listing is complete
func (c *Client) ListTools(ctx context.Context) ([]schema.ToolDefinition, error) {
	if !c.Connected() {
		return nil, evai.ErrConnection.Withf("server %q: not connected", c.name)
	}

	var tools []schema.ToolDefinition
	var cursor string
	for {
		response, err := c.call(ctx, mcp.MessageTypeListTools, mcp.RequestList{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		var page mcp.ResponseListTools
		if err := json.Unmarshal(response.Result, &page); err != nil {
			return nil, err
		}
		for _, tool := range page.Tools {
			if tool == nil {
				continue
			}
			def, err := toolDefinition(tool)
			if err != nil {
				return nil, evai.ErrInternalServerError.Withf("server %q: tool %q: %v", c.name, tool.Name, err)
			}
			tools = append(tools, def)
		}
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// toolDefinition translates the server's native tool schema
func toolDefinition(tool *mcp.Tool) (schema.ToolDefinition, error) {
	def := schema.ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description,
	}
	if len(tool.InputSchema) > 0 {
		var s jsonschema.Schema
		if err := json.Unmarshal(tool.InputSchema, &s); err != nil {
			return def, err
		}
		def.InputSchema = &s
	}
	return def, nil
}
