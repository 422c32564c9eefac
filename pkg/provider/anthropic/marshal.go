package anthropic

import (
	"encoding/json"

	// Packages
	schema "github.com/evai-dev/evai-go/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// CONVERSATION → ANTHROPIC MESSAGES

// anthropicMessagesFromConversation converts the conversation to Anthropic
// message format. System messages are skipped (handled separately via the
// system parameter).
func anthropicMessagesFromConversation(conversation schema.Conversation) []anthropicMessage {
	messages := make([]anthropicMessage, 0, len(conversation))
	for _, msg := range conversation {
		if msg.Role == schema.RoleSystem {
			continue
		}
		blocks := make([]anthropicContentBlock, 0, len(msg.Content))
		for i := range msg.Content {
			if ab := anthropicBlockFromContentBlock(&msg.Content[i]); ab != nil {
				blocks = append(blocks, *ab)
			}
		}
		messages = append(messages, anthropicMessage{
			Role:    msg.Role,
			Content: blocks,
		})
	}
	return messages
}

// anthropicBlockFromContentBlock converts one content block
func anthropicBlockFromContentBlock(block *schema.ContentBlock) *anthropicContentBlock {
	if block.Text != nil {
		return &anthropicContentBlock{
			Type: blockTypeText,
			Text: *block.Text,
		}
	}
	if block.ToolUse != nil {
		input := block.ToolUse.Input
		if len(input) == 0 {
			// Anthropic requires input to be an object
			input = json.RawMessage(`{}`)
		}
		return &anthropicContentBlock{
			Type:  blockTypeToolUse,
			ID:    block.ToolUse.ID,
			Name:  block.ToolUse.Name,
			Input: input,
		}
	}
	if block.ToolResult != nil {
		return &anthropicContentBlock{
			Type:      blockTypeToolResult,
			ToolUseID: block.ToolResult.ID,
			Content:   block.ToolResult.Content,
			IsError:   block.ToolResult.IsError,
		}
	}
	return nil
}

// anthropicToolsFromDefinitions converts the tool descriptors for the request
func anthropicToolsFromDefinitions(definitions []schema.ToolDefinition) []anthropicTool {
	tools := make([]anthropicTool, 0, len(definitions))
	for _, def := range definitions {
		tools = append(tools, anthropicTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return tools
}

///////////////////////////////////////////////////////////////////////////////
// ANTHROPIC RESPONSE → MODEL RESPONSE

// modelResponseFromMessages converts an API response to the provider-agnostic
// form. Unknown content block types are dropped; unknown stop reasons pass
// through for the session to classify.
func modelResponseFromMessages(response *messagesResponse) *schema.ModelResponse {
	result := &schema.ModelResponse{
		Role:         response.Role,
		StopReason:   stopReasonFromString(response.StopReason),
		StopSequence: response.StopSequence,
		Usage: schema.Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
		},
	}
	for i := range response.Content {
		if block := contentBlockFromAnthropicBlock(&response.Content[i]); block != nil {
			result.Content = append(result.Content, *block)
		}
	}
	return result
}

// stopReasonFromString maps the API stop reason to the provider-agnostic
// form. Reasons this package does not know pass through unmapped for the
// session to classify.
func stopReasonFromString(reason string) schema.StopReason {
	switch reason {
	case stopReasonEndTurn:
		return schema.StopEndTurn
	case stopReasonMaxTokens:
		return schema.StopMaxTokens
	case stopReasonStopSequence:
		return schema.StopSequence
	case stopReasonToolUse:
		return schema.StopToolUse
	case stopReasonRefusal:
		return schema.StopRefusal
	}
	return schema.StopReason(reason)
}

func contentBlockFromAnthropicBlock(ab *anthropicContentBlock) *schema.ContentBlock {
	switch ab.Type {
	case blockTypeText:
		text := ab.Text
		return &schema.ContentBlock{Text: &text}
	case blockTypeToolUse:
		return &schema.ContentBlock{
			ToolUse: &schema.ToolUse{
				ID:    ab.ID,
				Name:  ab.Name,
				Input: ab.Input,
			},
		}
	case blockTypeToolResult:
		return &schema.ContentBlock{
			ToolResult: &schema.ToolResult{
				ID:      ab.ToolUseID,
				Content: ab.Content,
				IsError: ab.IsError,
			},
		}
	}
	return nil
}
