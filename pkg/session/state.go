package session

import (
	// Packages
	evai "github.com/evai-dev/evai-go"
	schema "github.com/evai-dev/evai-go/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// phase is the conversation state machine position
type phase int

// state accumulates the conversation while serving one request. It enforces
// the pairing invariant: every tool use in an assistant message is answered
// by exactly one tool result with the same id in the next user message.
type state struct {
	phase     phase
	messages  schema.Conversation
	pending   map[string]string // tool use id → tool name awaiting a result
	toolCalls []ToolCall
	usage     schema.Usage
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	phaseIdle phase = iota
	phaseAwaitingModel
	phaseProcessingToolUse
	phaseTerminal
)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newState() *state {
	return &state{
		phase:   phaseIdle,
		pending: make(map[string]string),
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// appendUser records the initial user message and hands the turn to the model
func (s *state) appendUser(message *schema.Message) error {
	if s.phase != phaseIdle {
		return evai.ErrInternalServerError.With("user message outside idle state")
	}
	s.messages.Append(message)
	s.phase = phaseAwaitingModel
	return nil
}

// appendAssistant records a model response and advances the state according
// to its stop reason. A tool_use stop with no tool use blocks is a protocol
// violation.
func (s *state) appendAssistant(response *schema.ModelResponse) error {
	if s.phase != phaseAwaitingModel {
		return evai.ErrInternalServerError.With("model response outside awaiting-model state")
	}
	s.messages.Append(response.Message())
	s.usage.Add(response.Usage)

	if response.StopReason.Terminal() {
		s.phase = phaseTerminal
		return nil
	}

	uses := response.ToolUses()
	if len(uses) == 0 {
		s.phase = phaseTerminal
		return evai.ErrInternalServerError.With("model stopped for tool use without any tool use blocks")
	}
	for _, use := range uses {
		if use.ID == "" {
			s.phase = phaseTerminal
			return evai.ErrInternalServerError.Withf("tool use %q has no id", use.Name)
		}
		if _, exists := s.pending[use.ID]; exists {
			s.phase = phaseTerminal
			return evai.ErrInternalServerError.Withf("duplicate tool use id %q", use.ID)
		}
		s.pending[use.ID] = use.Name
	}
	s.phase = phaseProcessingToolUse
	return nil
}

// foldResults appends the tool results as one user message and hands the
// turn back to the model. The blocks must answer the pending tool uses
// exactly: same ids, each exactly once, nothing extra.
func (s *state) foldResults(blocks []schema.ContentBlock) error {
	if s.phase != phaseProcessingToolUse {
		return evai.ErrInternalServerError.With("tool results outside processing state")
	}

	seen := make(map[string]bool, len(blocks))
	for _, block := range blocks {
		if block.ToolResult == nil {
			return evai.ErrInternalServerError.With("tool result message may only contain tool results")
		}
		id := block.ToolResult.ID
		if _, exists := s.pending[id]; !exists {
			return evai.ErrInternalServerError.Withf("tool result %q answers no pending tool use", id)
		}
		if seen[id] {
			return evai.ErrInternalServerError.Withf("tool use %q answered more than once", id)
		}
		seen[id] = true
	}
	if len(seen) != len(s.pending) {
		return evai.ErrInternalServerError.Withf("expected %d tool results, got %d", len(s.pending), len(seen))
	}

	s.messages.Append(&schema.Message{
		Role:    schema.RoleUser,
		Content: blocks,
	})
	s.pending = make(map[string]string)
	s.phase = phaseAwaitingModel
	return nil
}
