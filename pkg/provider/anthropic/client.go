/*
Package anthropic implements a model responder over the Anthropic Messages API.
https://docs.anthropic.com/en/api/getting-started
*/
package anthropic

import (
	// Packages
	client "github.com/mutablelogic/go-client"
	evai "github.com/evai-dev/evai-go"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type Client struct {
	*client.Client
}

var _ evai.Responder = (*Client)(nil)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	endPoint   = "https://api.anthropic.com/v1"
	apiVersion = "2023-06-01"

	defaultModel     = "claude-3-7-sonnet-latest"
	defaultMaxTokens = 4000
)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a new Anthropic API client with the given API key
func New(apiKey string, opts ...client.ClientOpt) (*Client, error) {
	if apiKey == "" {
		return nil, evai.ErrBadParameter.With("missing API key")
	}
	opts = append(opts,
		client.OptEndpoint(endPoint),
		client.OptHeader("x-api-key", apiKey),
		client.OptHeader("anthropic-version", apiVersion),
	)
	if c, err := client.New(opts...); err != nil {
		return nil, err
	} else {
		return &Client{c}, nil
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the provider name
func (*Client) Name() string {
	return "anthropic"
}
