package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	// Packages
	evai "github.com/evai-dev/evai-go"
	opt "github.com/evai-dev/evai-go/pkg/opt"
	schema "github.com/evai-dev/evai-go/pkg/schema"
	session "github.com/evai-dev/evai-go/pkg/session"
	tool "github.com/evai-dev/evai-go/pkg/tool"
	jsonschema "github.com/google/jsonschema-go/jsonschema"
	assert "github.com/stretchr/testify/assert"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// MOCK RESPONDER

// step produces one scripted model response given the conversation so far
type step func(conversation schema.Conversation, o *opt.Options) (*schema.ModelResponse, error)

type mockResponder struct {
	script []step
	calls  int
}

var _ evai.Responder = (*mockResponder)(nil)

func (m *mockResponder) Name() string { return "mock" }

func (m *mockResponder) Generate(_ context.Context, conversation schema.Conversation, opts ...opt.Opt) (*schema.ModelResponse, error) {
	o, err := opt.Apply(opts...)
	if err != nil {
		return nil, err
	}
	index := m.calls
	if index >= len(m.script) {
		index = len(m.script) - 1
	}
	m.calls++
	return m.script[index](conversation, o)
}

func textResponse(text string, reason schema.StopReason) *schema.ModelResponse {
	return &schema.ModelResponse{
		Role:       schema.RoleAssistant,
		Content:    []schema.ContentBlock{{Text: types.Ptr(text)}},
		StopReason: reason,
		Usage:      schema.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolUseResponse(uses ...schema.ToolUse) *schema.ModelResponse {
	response := &schema.ModelResponse{
		Role:       schema.RoleAssistant,
		StopReason: schema.StopToolUse,
		Usage:      schema.Usage{InputTokens: 10, OutputTokens: 5},
	}
	for i := range uses {
		response.Content = append(response.Content, schema.ContentBlock{ToolUse: &uses[i]})
	}
	return response
}

///////////////////////////////////////////////////////////////////////////////
// MOCK SERVER

type mockServer struct {
	name      string
	connected bool
	tools     []schema.ToolDefinition

	mu       sync.Mutex
	invoked  []string
	callFunc func(name string, args json.RawMessage) *schema.ToolOutput
	callErr  error
}

var _ evai.ToolServer = (*mockServer)(nil)

func (m *mockServer) Name() string                  { return m.name }
func (m *mockServer) Connected() bool               { return m.connected }
func (m *mockServer) Connect(context.Context) error { m.connected = true; return nil }
func (m *mockServer) Close() error                  { m.connected = false; return nil }

func (m *mockServer) ListTools(context.Context) ([]schema.ToolDefinition, error) {
	return m.tools, nil
}

func (m *mockServer) CallTool(_ context.Context, name string, args json.RawMessage) (*schema.ToolOutput, error) {
	m.mu.Lock()
	m.invoked = append(m.invoked, name)
	m.mu.Unlock()
	if m.callErr != nil {
		return nil, m.callErr
	}
	if m.callFunc != nil {
		return m.callFunc(name, args), nil
	}
	return &schema.ToolOutput{Value: "ok", Attempts: 1}, nil
}

func (m *mockServer) invocations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invoked...)
}

func calcServer() *mockServer {
	var subtract jsonschema.Schema
	data := `{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`
	if err := json.Unmarshal([]byte(data), &subtract); err != nil {
		panic(err)
	}
	return &mockServer{
		name: "calc",
		tools: []schema.ToolDefinition{
			{Name: "subtract", Description: "Subtract b from a", InputSchema: &subtract},
			{Name: "add", Description: "Add a and b"},
		},
		callFunc: func(name string, args json.RawMessage) *schema.ToolOutput {
			var input struct{ A, B float64 }
			_ = json.Unmarshal(args, &input)
			switch name {
			case "subtract":
				return &schema.ToolOutput{Value: jsonNumber(input.A - input.B), Attempts: 1}
			case "add":
				return &schema.ToolOutput{Value: jsonNumber(input.A + input.B), Attempts: 1}
			}
			return &schema.ToolOutput{Value: "unknown tool", IsError: true, Attempts: 1}
		},
	}
}

func jsonNumber(v float64) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func newTestSession(t *testing.T, responder evai.Responder, servers ...evai.ToolServer) *session.Session {
	t.Helper()
	s, err := session.New(responder, session.WithServer(servers...))
	assert.NoError(t, err)
	assert.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

// assertPaired checks that every tool use in the history is answered by
// exactly one tool result with the same id in the following message
func assertPaired(t *testing.T, messages schema.Conversation) {
	t.Helper()
	for i, message := range messages {
		uses := message.ToolUses()
		if len(uses) == 0 {
			continue
		}
		assert.Less(t, i+1, len(messages), "tool uses in the final message are unanswered")
		results := messages[i+1].ToolResults()
		assert.Equal(t, len(uses), len(results))
		seen := map[string]int{}
		for _, result := range results {
			seen[result.ID]++
		}
		for _, use := range uses {
			assert.Equal(t, 1, seen[use.ID], "tool use %q answered %d times", use.ID, seen[use.ID])
		}
	}
}

///////////////////////////////////////////////////////////////////////////////
// TESTS

func Test_session_001(t *testing.T) {
	assert := assert.New(t)

	// Direct ask with no tool servers
	responder := &mockResponder{script: []step{
		func(conversation schema.Conversation, o *opt.Options) (*schema.ModelResponse, error) {
			assert.Len(conversation, 1)
			assert.Equal("hello", conversation[0].Text())
			assert.False(o.Has(opt.ToolsKey))
			return textResponse("hi there", schema.StopEndTurn), nil
		},
	}}
	s := newTestSession(t, responder)

	result, err := s.SendRequest(context.Background(), "hello")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Equal("hi there", result.Response)
	assert.Empty(result.ToolCalls)
	assert.Equal(schema.StopEndTurn, result.StopInfo.Reason)
	assert.Len(result.Messages, 2)
}

func Test_session_002(t *testing.T) {
	assert := assert.New(t)

	// One tool round-trip: ask for 5 minus 8, model calls subtract, final
	// answer incorporates the folded result
	responder := &mockResponder{script: []step{
		func(conversation schema.Conversation, o *opt.Options) (*schema.ModelResponse, error) {
			defs, ok := o.Get(opt.ToolsKey).([]schema.ToolDefinition)
			assert.True(ok)
			assert.Len(defs, 2)
			return toolUseResponse(schema.ToolUse{
				ID: "toolu_01", Name: "subtract", Input: json.RawMessage(`{"a":5,"b":8}`),
			}), nil
		},
		func(conversation schema.Conversation, o *opt.Options) (*schema.ModelResponse, error) {
			// The tool result message is the last in the history
			last := conversation[len(conversation)-1]
			assert.Equal(schema.RoleUser, last.Role)
			results := last.ToolResults()
			assert.Len(results, 1)
			assert.Equal("toolu_01", results[0].ID)
			assert.Equal("-3", results[0].Content)
			assert.False(results[0].IsError)
			return textResponse("The answer is -3.", schema.StopEndTurn), nil
		},
	}}
	server := calcServer()
	s := newTestSession(t, responder, server)

	result, err := s.SendRequest(context.Background(), "What is 5 minus 8?")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Equal("The answer is -3.", result.Response)
	assert.Equal([]string{"subtract"}, server.invocations())
	assert.Len(result.ToolCalls, 1)
	assert.Equal("subtract", result.ToolCalls[0].Name)
	assert.Equal("-3", result.ToolCalls[0].Result)
	assert.Equal("calc", result.ToolCalls[0].Server)
	assert.Len(result.Messages, 4)
	assertPaired(t, result.Messages)
}

func Test_session_003(t *testing.T) {
	assert := assert.New(t)

	// Sibling tool uses are all dispatched and answered in order
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return toolUseResponse(
				schema.ToolUse{ID: "toolu_01", Name: "subtract", Input: json.RawMessage(`{"a":5,"b":8}`)},
				schema.ToolUse{ID: "toolu_02", Name: "add", Input: json.RawMessage(`{"a":5,"b":8}`)},
			), nil
		},
		func(conversation schema.Conversation, _ *opt.Options) (*schema.ModelResponse, error) {
			results := conversation[len(conversation)-1].ToolResults()
			assert.Len(results, 2)
			assert.Equal("toolu_01", results[0].ID)
			assert.Equal("-3", results[0].Content)
			assert.Equal("toolu_02", results[1].ID)
			assert.Equal("13", results[1].Content)
			return textResponse("done", schema.StopEndTurn), nil
		},
	}}
	server := calcServer()
	s := newTestSession(t, responder, server)

	result, err := s.SendRequest(context.Background(), "both please")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Len(result.ToolCalls, 2)
	assert.ElementsMatch([]string{"subtract", "add"}, server.invocations())
	assertPaired(t, result.Messages)
}

func Test_session_004(t *testing.T) {
	assert := assert.New(t)

	// Unknown tool: answered in-band without dispatch, loop continues
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return toolUseResponse(schema.ToolUse{ID: "toolu_01", Name: "multiply", Input: json.RawMessage(`{}`)}), nil
		},
		func(conversation schema.Conversation, _ *opt.Options) (*schema.ModelResponse, error) {
			results := conversation[len(conversation)-1].ToolResults()
			assert.Len(results, 1)
			assert.True(results[0].IsError)
			assert.Contains(results[0].Content, "not available")
			return textResponse("I cannot multiply.", schema.StopEndTurn), nil
		},
	}}
	server := calcServer()
	s := newTestSession(t, responder, server)

	result, err := s.SendRequest(context.Background(), "multiply")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Empty(server.invocations())
	assert.Len(result.ToolCalls, 1)
	assert.NotEmpty(result.ToolCalls[0].Error)
	assertPaired(t, result.Messages)
}

func Test_session_005(t *testing.T) {
	assert := assert.New(t)

	// Schema-invalid arguments fail before dispatch
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return toolUseResponse(schema.ToolUse{ID: "toolu_01", Name: "subtract", Input: json.RawMessage(`{"a":5}`)}), nil
		},
		func(conversation schema.Conversation, _ *opt.Options) (*schema.ModelResponse, error) {
			results := conversation[len(conversation)-1].ToolResults()
			assert.Len(results, 1)
			assert.True(results[0].IsError)
			return textResponse("bad arguments", schema.StopEndTurn), nil
		},
	}}
	server := calcServer()
	s := newTestSession(t, responder, server)

	result, err := s.SendRequest(context.Background(), "subtract badly")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Empty(server.invocations())
	assertPaired(t, result.Messages)
}

func Test_session_006(t *testing.T) {
	assert := assert.New(t)

	// A tool that failed after retries folds into an error result; the
	// attempt count is carried into the log
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return toolUseResponse(schema.ToolUse{ID: "toolu_01", Name: "add", Input: json.RawMessage(`{"a":1,"b":2}`)}), nil
		},
		func(conversation schema.Conversation, _ *opt.Options) (*schema.ModelResponse, error) {
			results := conversation[len(conversation)-1].ToolResults()
			assert.True(results[0].IsError)
			return textResponse("the tool is down", schema.StopEndTurn), nil
		},
	}}
	server := calcServer()
	server.callFunc = func(name string, args json.RawMessage) *schema.ToolOutput {
		return &schema.ToolOutput{Value: "Error executing tool \"add\" after 3 attempts: broken pipe", IsError: true, Attempts: 3}
	}
	s := newTestSession(t, responder, server)

	result, err := s.SendRequest(context.Background(), "add")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Len(result.ToolCalls, 1)
	assert.Equal(3, result.ToolCalls[0].Attempts)
	assert.Contains(result.ToolCalls[0].Error, "3 attempts")
	assertPaired(t, result.Messages)
}

func Test_session_007(t *testing.T) {
	assert := assert.New(t)

	// Truncation is a success with a notification appended
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return textResponse("partial answ", schema.StopMaxTokens), nil
		},
	}}
	s := newTestSession(t, responder)

	result, err := s.SendRequest(context.Background(), "long question")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Contains(result.Response, "partial answ")
	assert.Contains(result.Response, "truncated")
	assert.True(result.StopInfo.ShouldNotify)
	assert.Equal(schema.StopMaxTokens, result.StopInfo.Reason)
}

func Test_session_008(t *testing.T) {
	assert := assert.New(t)

	// Stop sequence is recorded with the matched sequence
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			response := textResponse("before the marker", schema.StopSequence)
			response.StopSequence = "###"
			return response, nil
		},
	}}
	s := newTestSession(t, responder)

	result, err := s.SendRequest(context.Background(), "question")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Equal("###", result.StopInfo.StopSequence)
	assert.False(result.StopInfo.ShouldNotify)
}

func Test_session_009(t *testing.T) {
	assert := assert.New(t)

	// Structured output: the output tool call is captured locally and the
	// sibling tool use is answered without execution
	outputSchema := &jsonschema.Schema{Type: "object"}
	responder := &mockResponder{script: []step{
		func(_ schema.Conversation, o *opt.Options) (*schema.ModelResponse, error) {
			defs, ok := o.Get(opt.ToolsKey).([]schema.ToolDefinition)
			assert.True(ok)
			names := make([]string, len(defs))
			for i, def := range defs {
				names[i] = def.Name
			}
			assert.Contains(names, tool.OutputToolName)
			assert.Contains(o.GetString(opt.SystemPromptKey), tool.OutputToolName)
			return toolUseResponse(
				schema.ToolUse{ID: "toolu_01", Name: tool.OutputToolName, Input: json.RawMessage(`{"answer":-3}`)},
				schema.ToolUse{ID: "toolu_02", Name: "subtract", Input: json.RawMessage(`{"a":5,"b":8}`)},
			), nil
		},
	}}
	server := calcServer()
	s := newTestSession(t, responder, server)

	result, err := s.SendRequest(context.Background(), "answer with JSON",
		session.WithStructuredOutput(outputSchema))
	assert.NoError(err)
	assert.True(result.Success)
	assert.JSONEq(`{"answer":-3}`, string(result.StructuredResponse))
	assert.Empty(server.invocations())
	assert.Equal(1, responder.calls)
	assert.Len(result.ToolCalls, 2)
	assert.Contains(result.ToolCalls[1].Error, "not executed")
	assertPaired(t, result.Messages)
}

func Test_session_010(t *testing.T) {
	assert := assert.New(t)

	// The loop bound is a distinct terminal failure
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return toolUseResponse(schema.ToolUse{ID: "toolu_01", Name: "add", Input: json.RawMessage(`{"a":1,"b":1}`)}), nil
		},
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return toolUseResponse(schema.ToolUse{ID: "toolu_02", Name: "add", Input: json.RawMessage(`{"a":2,"b":2}`)}), nil
		},
	}}
	server := calcServer()
	s := newTestSession(t, responder, server)

	result, err := s.SendRequest(context.Background(), "loop forever",
		opt.SetUint(opt.MaxIterationsKey, 2))
	assert.NoError(err)
	assert.False(result.Success)
	assert.Contains(result.Error, evai.ErrMaxIterations.Error())
	assert.True(result.StopInfo.ShouldNotify)
	assert.Equal(2, responder.calls)
	assertPaired(t, result.Messages)
}

func Test_session_011(t *testing.T) {
	assert := assert.New(t)

	// Responder failure is terminal and reported verbatim
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return nil, errors.New("api rate limited")
		},
	}}
	s := newTestSession(t, responder)

	result, err := s.SendRequest(context.Background(), "question")
	assert.NoError(err)
	assert.False(result.Success)
	assert.Equal("api rate limited", result.Error)
}

func Test_session_012(t *testing.T) {
	assert := assert.New(t)

	// Cancellation surfaces as an error
	ctx, cancel := context.WithCancel(context.Background())
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			cancel()
			return nil, ctx.Err()
		},
	}}
	s := newTestSession(t, responder)

	_, err := s.SendRequest(ctx, "question")
	assert.Error(err)
}

func Test_session_013(t *testing.T) {
	assert := assert.New(t)

	// Allowed-tools filter restricts what the model is offered
	responder := &mockResponder{script: []step{
		func(_ schema.Conversation, o *opt.Options) (*schema.ModelResponse, error) {
			defs, ok := o.Get(opt.ToolsKey).([]schema.ToolDefinition)
			assert.True(ok)
			assert.Len(defs, 1)
			assert.Equal("add", defs[0].Name)
			return textResponse("restricted", schema.StopEndTurn), nil
		},
	}}
	s := newTestSession(t, responder, calcServer())

	result, err := s.SendRequest(context.Background(), "question",
		session.WithAllowedTools("add"))
	assert.NoError(err)
	assert.True(result.Success)
}

func Test_session_014(t *testing.T) {
	assert := assert.New(t)

	// A tool_use stop without tool use blocks is a protocol violation
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return &schema.ModelResponse{
				Role:       schema.RoleAssistant,
				StopReason: schema.StopToolUse,
			}, nil
		},
	}}
	s := newTestSession(t, responder)

	result, err := s.SendRequest(context.Background(), "question")
	assert.NoError(err)
	assert.False(result.Success)
	assert.Contains(result.Error, "tool use")
}

func Test_session_015(t *testing.T) {
	assert := assert.New(t)

	// Usage accumulates across iterations
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return toolUseResponse(schema.ToolUse{ID: "toolu_01", Name: "add", Input: json.RawMessage(`{"a":1,"b":1}`)}), nil
		},
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return textResponse("2", schema.StopEndTurn), nil
		},
	}}
	s := newTestSession(t, responder, calcServer())

	result, err := s.SendRequest(context.Background(), "one plus one")
	assert.NoError(err)
	assert.Equal(uint(20), result.Usage.InputTokens)
	assert.Equal(uint(10), result.Usage.OutputTokens)
}

func Test_session_016(t *testing.T) {
	assert := assert.New(t)

	// A server that raises mid-session (its process died) is answered
	// in-band like a failed tool; the conversation continues
	responder := &mockResponder{script: []step{
		func(schema.Conversation, *opt.Options) (*schema.ModelResponse, error) {
			return toolUseResponse(schema.ToolUse{ID: "toolu_01", Name: "add", Input: json.RawMessage(`{"a":1,"b":2}`)}), nil
		},
		func(conversation schema.Conversation, _ *opt.Options) (*schema.ModelResponse, error) {
			results := conversation[len(conversation)-1].ToolResults()
			assert.Len(results, 1)
			assert.True(results[0].IsError)
			assert.Contains(results[0].Content, "not connected")
			return textResponse("the calculator is down", schema.StopEndTurn), nil
		},
	}}
	server := calcServer()
	server.callErr = evai.ErrConnection.With(`server "calc": not connected`)
	s := newTestSession(t, responder, server)

	result, err := s.SendRequest(context.Background(), "add")
	assert.NoError(err)
	assert.True(result.Success)
	assert.Equal("the calculator is down", result.Response)
	assert.Len(result.ToolCalls, 1)
	assert.Contains(result.ToolCalls[0].Error, "not connected")
	assertPaired(t, result.Messages)
}
