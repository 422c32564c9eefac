/*
Package evai provides a conversation and tool-use orchestration core for
large-language models. A session composes a model responder with zero or
more subprocess-backed tool servers: tools are discovered from each server
at start-up, advertised to the model, and every tool invocation the model
requests is matched with exactly one result before the conversation
continues. The session terminates on a final text response, a structured
output capture, or a safety bound on tool round-trips.
*/
package evai

import (
	"context"
	"encoding/json"

	// Packages
	opt "github.com/evai-dev/evai-go/pkg/opt"
	schema "github.com/evai-dev/evai-go/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// INTERFACES

// Responder generates a model response for a conversation. It is the
// boundary to the LLM provider: given the message history and the tool
// descriptors carried in the options, it returns the next assistant
// message together with the stop reason.
type Responder interface {
	// Return the name of the provider
	Name() string

	// Generate the next model response for the conversation
	Generate(ctx context.Context, conversation schema.Conversation, opts ...opt.Opt) (*schema.ModelResponse, error)
}

// ToolServer is a connection to one independently-running tool server.
// Implementations own the server process and its transport exclusively;
// no other entity may read or write the underlying channel.
type ToolServer interface {
	// Return the server identifier
	Name() string

	// Return true when the handshake has completed and the server is usable
	Connected() bool

	// Establish the transport and perform the capability handshake.
	// A failed connect leaves the server disconnected; Close must still
	// be safe to call afterwards.
	Connect(ctx context.Context) error

	// Return the tools advertised by the server
	ListTools(ctx context.Context) ([]schema.ToolDefinition, error)

	// Invoke a named tool with JSON-encoded arguments. Transport failures
	// are retried internally; after retries are exhausted the failure is
	// reported through the returned ToolOutput, not through the error.
	// The error is reserved for cancellation and misuse.
	CallTool(ctx context.Context, name string, args json.RawMessage) (*schema.ToolOutput, error)

	// Release the server process and transport. Idempotent, and safe to
	// call after a failed connect.
	Close() error
}
