// Package tool provides a flat, name-addressable catalog over the tools
// advertised by a set of connected tool servers, plus the designated
// structured-output tool.
package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	// Packages
	evai "github.com/evai-dev/evai-go"
	schema "github.com/evai-dev/evai-go/pkg/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Catalog routes tool names to the server that advertises them. Tool names
// are unique within a catalog; on collision the first registration wins.
type Catalog struct {
	tools map[string]*entry
	order []string
}

type entry struct {
	def    schema.ToolDefinition
	server evai.ToolServer
}

// CatalogOpt configures catalog construction
type CatalogOpt func(*catalogOpts) error

type catalogOpts struct {
	require bool
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewCatalog discovers tools from the given servers. Disconnected servers
// and listing failures are skipped with a warning; an empty catalog is
// permitted unless WithRequireTools is set.
func NewCatalog(ctx context.Context, servers []evai.ToolServer, opts ...CatalogOpt) (*Catalog, error) {
	var o catalogOpts
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	catalog := &Catalog{tools: make(map[string]*entry)}
	for _, server := range servers {
		if server == nil {
			continue
		}
		if !server.Connected() {
			slog.Warn("catalog: skipping disconnected server", "server", server.Name())
			continue
		}
		defs, err := server.ListTools(ctx)
		if err != nil {
			slog.Warn("catalog: tool listing failed", "server", server.Name(), "error", err)
			continue
		}
		for _, def := range defs {
			if existing, exists := catalog.tools[def.Name]; exists {
				slog.Warn("catalog: duplicate tool name, keeping first registration",
					"tool", def.Name, "kept", existing.server.Name(), "dropped", server.Name())
				continue
			}
			catalog.tools[def.Name] = &entry{def: def, server: server}
			catalog.order = append(catalog.order, def.Name)
		}
	}

	if o.require && len(catalog.order) == 0 {
		return nil, evai.ErrNotFound.With("no tools discovered from any server")
	}
	return catalog, nil
}

///////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithRequireTools makes an empty catalog a construction error
func WithRequireTools() CatalogOpt {
	return func(o *catalogOpts) error {
		o.require = true
		return nil
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Len returns the number of tools in the catalog
func (c *Catalog) Len() int {
	return len(c.order)
}

// Resolve returns the server and definition for a tool name
func (c *Catalog) Resolve(name string) (evai.ToolServer, schema.ToolDefinition, error) {
	if e, exists := c.tools[name]; exists {
		return e.server, e.def, nil
	}
	return nil, schema.ToolDefinition{}, evai.ErrNotFound.Withf("tool not found: %q", name)
}

// Advertise returns the tool definitions to offer the model, in discovery
// order. A non-nil allowed set restricts the result to the named tools;
// names in the set that match nothing are ignored.
func (c *Catalog) Advertise(allowed []string) []schema.ToolDefinition {
	result := make([]schema.ToolDefinition, 0, len(c.order))
	for _, name := range c.order {
		if allowed != nil && !slices.Contains(allowed, name) {
			continue
		}
		result = append(result, c.tools[name].def)
	}
	return result
}

// Validate checks JSON-encoded arguments against the named tool's input
// schema before dispatch
func (c *Catalog) Validate(name string, args json.RawMessage) error {
	e, exists := c.tools[name]
	if !exists {
		return evai.ErrNotFound.Withf("tool not found: %q", name)
	}
	if err := e.def.Validate(args); err != nil {
		return evai.ErrBadParameter.Withf("tool %q: %v", name, err)
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (c *Catalog) String() string {
	return types.Stringify(c.Advertise(nil))
}
