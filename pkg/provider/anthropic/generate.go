package anthropic

import (
	"context"

	// Packages
	client "github.com/mutablelogic/go-client"
	evai "github.com/evai-dev/evai-go"
	opt "github.com/evai-dev/evai-go/pkg/opt"
	schema "github.com/evai-dev/evai-go/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Generate sends the conversation to the Messages API and returns the next
// assistant turn
func (c *Client) Generate(ctx context.Context, conversation schema.Conversation, opts ...opt.Opt) (*schema.ModelResponse, error) {
	if len(conversation) == 0 {
		return nil, evai.ErrBadParameter.With("conversation is empty")
	}
	options, err := opt.Apply(opts...)
	if err != nil {
		return nil, err
	}

	request, err := generateRequestFromOpts(conversation, options)
	if err != nil {
		return nil, err
	}
	payload, err := client.NewJSONRequest(request)
	if err != nil {
		return nil, err
	}

	var response messagesResponse
	if err := c.DoWithContext(ctx, payload, &response, client.OptPath("messages")); err != nil {
		return nil, err
	}
	return modelResponseFromMessages(&response), nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// generateRequestFromOpts builds a messagesRequest from the conversation and
// applied options
func generateRequestFromOpts(conversation schema.Conversation, options *opt.Options) (*messagesRequest, error) {
	model := options.GetString(opt.ModelKey)
	if model == "" {
		model = defaultModel
	}

	maxTokens := defaultMaxTokens
	if options.Has(opt.MaxTokensKey) {
		maxTokens = int(options.GetUint(opt.MaxTokensKey))
	}

	var temperature *float64
	if options.Has(opt.TemperatureKey) {
		v := options.GetFloat64(opt.TemperatureKey)
		temperature = &v
	}

	var tools []anthropicTool
	if v := options.Get(opt.ToolsKey); v != nil {
		definitions, ok := v.([]schema.ToolDefinition)
		if !ok {
			return nil, evai.ErrBadParameter.With("tools option must carry tool definitions")
		}
		tools = anthropicToolsFromDefinitions(definitions)
	}

	return &messagesRequest{
		Model:         model,
		MaxTokens:     maxTokens,
		Messages:      anthropicMessagesFromConversation(conversation),
		System:        options.GetString(opt.SystemPromptKey),
		StopSequences: options.GetStringArray(opt.StopSequencesKey),
		Temperature:   temperature,
		Tools:         tools,
	}, nil
}
