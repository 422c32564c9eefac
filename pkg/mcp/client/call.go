package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	// Packages
	evai "github.com/evai-dev/evai-go"
	mcp "github.com/evai-dev/evai-go/pkg/mcp"
	schema "github.com/evai-dev/evai-go/pkg/schema"
	backoff "github.com/cenkalti/backoff/v4"
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// CallTool invokes a named tool on the server. Transport failures and
// server-side errors are retried with a constant delay up to the configured
// attempt budget; when the budget is exhausted the failure is folded into
// the returned ToolOutput rather than the error. A connection that dropped
// mid-session is a transport failure like any other: it is retried and
// folded, not raised. The error return is reserved for cancellation and
// misuse (a client that was never connected, or already closed).
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*schema.ToolOutput, error) {
	if name == "" {
		return nil, evai.ErrBadParameter.With("tool name is required")
	}
	if !c.attached() {
		return nil, evai.ErrConnection.Withf("server %q: not connected", c.name)
	}

	// One invocation in flight per connection
	c.callMu.Lock()
	defer c.callMu.Unlock()

	params, err := json.Marshal(mcp.RequestToolCall{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	var attempts int
	var result mcp.ResponseToolCall
	operation := func() error {
		attempts++
		response, err := c.call(ctx, mcp.MessageTypeCallTool, json.RawMessage(params))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			slog.Warn("mcp: tool call attempt failed",
				"server", c.name, "tool", name, "attempt", attempts, "error", err)
			return err
		}
		result = mcp.ResponseToolCall{}
		return json.Unmarshal(response.Result, &result)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), c.retries-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Attempt budget exhausted: report the failure in-band
		return &schema.ToolOutput{
			Value:    fmt.Sprintf("Error executing tool %q after %d attempts: %v", name, attempts, err),
			IsError:  true,
			Attempts: attempts,
		}, nil
	}

	return &schema.ToolOutput{
		Value:    result.Value(),
		IsError:  result.Error,
		Attempts: attempts,
	}, nil
}

// Ping probes the server for liveness
func (c *Client) Ping(ctx context.Context) error {
	if !c.Connected() {
		return evai.ErrConnection.Withf("server %q: not connected", c.name)
	}
	_, err := c.call(ctx, mcp.MessageTypePing, map[string]any{})
	return err
}
