// Package session orchestrates a conversation between a model responder and
// a set of tool servers: it advertises discovered tools to the model,
// dispatches requested tool invocations, folds their results back into the
// conversation, and classifies how the exchange ended.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	// Packages
	evai "github.com/evai-dev/evai-go"
	opt "github.com/evai-dev/evai-go/pkg/opt"
	schema "github.com/evai-dev/evai-go/pkg/schema"
	tool "github.com/evai-dev/evai-go/pkg/tool"
	uuid "github.com/google/uuid"
	errgroup "golang.org/x/sync/errgroup"
	jsonschema "github.com/google/jsonschema-go/jsonschema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Session drives the request loop for one conversation at a time. Create it
// with New, call Initialize to connect the tool servers, then SendRequest
// for each prompt. A Session is not safe for concurrent SendRequest calls.
type Session struct {
	responder     evai.Responder
	servers       []evai.ToolServer
	catalog       *tool.Catalog
	defaults      []opt.Opt
	maxIterations uint
	requireTools  bool
}

// SessionOpt configures a Session before Initialize
type SessionOpt func(*Session) error

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// DefaultMaxIterations bounds the number of model requests per SendRequest
	DefaultMaxIterations = 5
)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a session over the given responder
func New(responder evai.Responder, opts ...SessionOpt) (*Session, error) {
	if responder == nil {
		return nil, evai.ErrBadParameter.With("responder is required")
	}
	s := &Session{
		responder:     responder,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Initialize connects the tool servers in parallel and builds the catalog.
// A server that fails to connect is dropped with a warning; the session
// proceeds with whatever connected, unless tools were required.
func (s *Session) Initialize(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, server := range s.servers {
		wg.Add(1)
		go func(server evai.ToolServer) {
			defer wg.Done()
			if err := server.Connect(ctx); err != nil {
				slog.Warn("session: server failed to connect", "server", server.Name(), "error", err)
			}
		}(server)
	}
	wg.Wait()

	var opts []tool.CatalogOpt
	if s.requireTools {
		opts = append(opts, tool.WithRequireTools())
	}
	catalog, err := tool.NewCatalog(ctx, s.servers, opts...)
	if err != nil {
		return err
	}
	s.catalog = catalog
	return nil
}

// Shutdown closes all tool servers, including any that never connected
func (s *Session) Shutdown() error {
	var result error
	for _, server := range s.servers {
		if err := server.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("server %q: %w", server.Name(), err))
		}
	}
	return result
}

///////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithServer adds tool servers to the session
func WithServer(servers ...evai.ToolServer) SessionOpt {
	return func(s *Session) error {
		for _, server := range servers {
			if server == nil {
				return evai.ErrBadParameter.With("nil tool server")
			}
			s.servers = append(s.servers, server)
		}
		return nil
	}
}

// WithModel sets the default model for requests
func WithModel(model string) SessionOpt {
	return func(s *Session) error {
		s.defaults = append(s.defaults, opt.SetString(opt.ModelKey, model))
		return nil
	}
}

// WithSystemPrompt sets the default system prompt for requests
func WithSystemPrompt(prompt string) SessionOpt {
	return func(s *Session) error {
		s.defaults = append(s.defaults, opt.SetString(opt.SystemPromptKey, prompt))
		return nil
	}
}

// WithMaxIterations sets the default bound on model requests per SendRequest
func WithMaxIterations(n uint) SessionOpt {
	return func(s *Session) error {
		if n == 0 {
			return evai.ErrBadParameter.With("max iterations must be at least one")
		}
		s.maxIterations = n
		return nil
	}
}

// WithRequireTools makes Initialize fail when no tools are discovered
func WithRequireTools() SessionOpt {
	return func(s *Session) error {
		s.requireTools = true
		return nil
	}
}

///////////////////////////////////////////////////////////////////////////////
// REQUEST OPTIONS

// WithAllowedTools restricts which catalog tools are advertised for a request
func WithAllowedTools(names ...string) opt.Opt {
	if len(names) == 0 {
		return opt.SetString(opt.AllowedToolsKey, "")
	}
	return opt.AddString(opt.AllowedToolsKey, names...)
}

// WithStructuredOutput asks the model to answer by calling the output tool
// with data matching the given schema
func WithStructuredOutput(s *jsonschema.Schema) opt.Opt {
	return opt.SetAny(opt.StructuredOutputKey, s)
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Tools returns the tools discovered during Initialize
func (s *Session) Tools() []schema.ToolDefinition {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Advertise(nil)
}

// SendRequest runs the conversation loop for one prompt. The returned error
// is reserved for cancellation and misuse; every other failure is reported
// through the Result.
func (s *Session) SendRequest(ctx context.Context, prompt string, opts ...opt.Opt) (*Result, error) {
	if s.catalog == nil {
		return nil, evai.ErrInternalServerError.With("session not initialized")
	}
	o, err := opt.Apply(append(append([]opt.Opt{}, s.defaults...), opts...)...)
	if err != nil {
		return nil, err
	}

	maxIterations := s.maxIterations
	if n := o.GetUint(opt.MaxIterationsKey); n > 0 {
		maxIterations = n
	}

	// A nil allowed set advertises everything
	var allowed []string
	if o.Has(opt.AllowedToolsKey) {
		allowed = o.GetStringArray(opt.AllowedToolsKey)
	}

	// The structured-output tool is advertised alongside the catalog tools
	// but its invocation is captured locally, never dispatched
	var structured *jsonschema.Schema
	if v := o.Get(opt.StructuredOutputKey); v != nil {
		var ok bool
		if structured, ok = v.(*jsonschema.Schema); !ok {
			return nil, evai.ErrBadParameter.With("structured output option must carry a schema")
		}
	}

	definitions := s.catalog.Advertise(allowed)
	if structured != nil {
		definitions = append(definitions, tool.NewOutputTool(structured))
	}

	generateOpts := append([]opt.Opt{}, s.defaults...)
	generateOpts = append(generateOpts, opts...)
	if len(definitions) > 0 {
		generateOpts = append(generateOpts, opt.SetAny(opt.ToolsKey, definitions))
	}
	if structured != nil {
		system := o.GetString(opt.SystemPromptKey)
		if system != "" {
			system += "\n\n"
		}
		generateOpts = append(generateOpts, opt.SetString(opt.SystemPromptKey, system+tool.OutputToolInstruction))
	}

	requestId := uuid.NewString()
	slog.Debug("session: request", "id", requestId, "tools", len(definitions), "max_iterations", maxIterations)

	st := newState()
	if err := st.appendUser(schema.NewTextMessage(schema.RoleUser, prompt)); err != nil {
		return nil, err
	}

	for iteration := uint(0); iteration < maxIterations; iteration++ {
		response, err := s.responder.Generate(ctx, st.messages, generateOpts...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return s.failure(st, err.Error()), nil
		}
		if err := st.appendAssistant(response); err != nil {
			return s.failure(st, err.Error()), nil
		}

		// Terminal stop reasons end the loop with the text response
		if response.StopReason.Terminal() {
			return s.terminal(st, response), nil
		}

		// Structured output intercept: capture locally and end the turn.
		// Sibling tool uses in the same response are not executed; each is
		// answered with a synthesized error result so the pairing invariant
		// holds in the final history.
		uses := response.ToolUses()
		if captured, blocks, ok := interceptOutput(uses, st); ok {
			if err := st.foldResults(blocks); err != nil {
				return s.failure(st, err.Error()), nil
			}
			return &Result{
				Success:            true,
				StructuredResponse: captured,
				ToolCalls:          st.toolCalls,
				StopInfo:           schema.NewStopInfo(response.StopReason, response.StopSequence),
				Messages:           st.messages,
				Usage:              st.usage,
			}, nil
		}

		// Dispatch the requested tools and fold the results
		blocks, err := s.dispatch(ctx, uses, st)
		if err != nil {
			return nil, err
		}
		if err := st.foldResults(blocks); err != nil {
			return s.failure(st, err.Error()), nil
		}
	}

	// Iteration bound exceeded while the model still wants tools. This is
	// a distinct terminal failure, not a truncation.
	result := s.failure(st, evai.ErrMaxIterations.Withf("%d model requests", maxIterations).Error())
	result.StopInfo = schema.StopInfo{
		Reason:       schema.StopToolUse,
		Message:      fmt.Sprintf("Reached the maximum of %d tool round-trips without a final response.", maxIterations),
		ShouldNotify: true,
	}
	return result, nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// dispatch fans the tool uses out across their servers and returns one
// result block per tool use, in the original order. Unknown tools and
// invalid arguments fail in-band without reaching a server. The error
// return is reserved for cancellation.
func (s *Session) dispatch(ctx context.Context, uses []schema.ToolUse, st *state) ([]schema.ContentBlock, error) {
	blocks := make([]schema.ContentBlock, len(uses))
	calls := make([]ToolCall, len(uses))

	var g errgroup.Group
	for i, use := range uses {
		calls[i] = ToolCall{Name: use.Name, Args: use.Input}

		server, _, err := s.catalog.Resolve(use.Name)
		if err != nil {
			notAvailable := fmt.Errorf("Tool %q is not available or its server is not ready.", use.Name)
			blocks[i] = schema.NewToolError(use.ID, use.Name, notAvailable)
			calls[i].Error = notAvailable.Error()
			continue
		}
		calls[i].Server = server.Name()

		if err := s.catalog.Validate(use.Name, use.Input); err != nil {
			blocks[i] = schema.NewToolError(use.ID, use.Name, err)
			calls[i].Error = err.Error()
			continue
		}

		g.Go(func() error {
			output, err := server.CallTool(ctx, use.Name, use.Input)
			if err != nil {
				// Only cancellation aborts the conversation; any other
				// raised failure is answered in-band like a tool error
				if ctx.Err() != nil {
					return err
				}
				blocks[i] = schema.NewToolError(use.ID, use.Name, err)
				calls[i].Error = err.Error()
				return nil
			}
			calls[i].Attempts = output.Attempts
			if output.IsError {
				blocks[i] = schema.NewToolError(use.ID, use.Name, errors.New(output.Value))
				calls[i].Error = output.Value
			} else {
				blocks[i] = schema.NewToolResult(use.ID, use.Name, output.Value)
				calls[i].Result = output.Value
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st.toolCalls = append(st.toolCalls, calls...)
	return blocks, nil
}

// interceptOutput captures the structured output tool use, if present, and
// synthesizes the result blocks for the whole assistant message
func interceptOutput(uses []schema.ToolUse, st *state) (json.RawMessage, []schema.ContentBlock, bool) {
	captured := -1
	for i, use := range uses {
		if use.Name == tool.OutputToolName {
			captured = i
			break
		}
	}
	if captured == -1 {
		return nil, nil, false
	}

	blocks := make([]schema.ContentBlock, len(uses))
	calls := make([]ToolCall, len(uses))
	for i, use := range uses {
		calls[i] = ToolCall{Name: use.Name, Args: use.Input}
		if i == captured {
			blocks[i] = schema.NewToolResult(use.ID, use.Name, "Structured output captured.")
			calls[i].Result = "Structured output captured."
		} else {
			notExecuted := errors.New("not executed: structured output captured")
			blocks[i] = schema.NewToolError(use.ID, use.Name, notExecuted)
			calls[i].Error = notExecuted.Error()
		}
	}
	st.toolCalls = append(st.toolCalls, calls...)
	return uses[captured].Input, blocks, true
}

// terminal builds the result for a terminal model response
func (s *Session) terminal(st *state, response *schema.ModelResponse) *Result {
	info := schema.NewStopInfo(response.StopReason, response.StopSequence)
	text := response.Text()
	if info.ShouldNotify && info.Message != "" {
		if text != "" {
			text += "\n\n"
		}
		text += "[" + info.Message + "]"
	}
	return &Result{
		Success:   response.StopReason != schema.StopRefusal,
		Response:  text,
		Error:     refusalError(response.StopReason),
		ToolCalls: st.toolCalls,
		StopInfo:  info,
		Messages:  st.messages,
		Usage:     st.usage,
	}
}

// failure builds a terminal failure result preserving the history so far
func (s *Session) failure(st *state, message string) *Result {
	return &Result{
		Success:   false,
		Error:     message,
		ToolCalls: st.toolCalls,
		Messages:  st.messages,
		Usage:     st.usage,
	}
}

func refusalError(reason schema.StopReason) string {
	if reason == schema.StopRefusal {
		return evai.ErrRefusal.Error()
	}
	return ""
}
