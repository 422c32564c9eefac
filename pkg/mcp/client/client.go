// Package client implements an MCP client over a stdio transport: it spawns
// the tool server as a subprocess and exchanges newline-delimited JSON-RPC
// 2.0 messages over the process pipes. The client owns the process and its
// pipes exclusively.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	// Packages
	evai "github.com/evai-dev/evai-go"
	mcp "github.com/evai-dev/evai-go/pkg/mcp"
	version "github.com/evai-dev/evai-go/pkg/version"
	uuid "github.com/google/uuid"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Client is an MCP client connected to one tool server subprocess.
// It is created disconnected; Connect spawns the process and performs the
// initialize handshake. One tool invocation is in flight per connection.
type Client struct {
	name    string
	command string
	args    []string
	env     []string

	connectTimeout time.Duration
	requestTimeout time.Duration
	retries        uint64
	retryDelay     time.Duration

	id atomic.Int64

	mu        sync.Mutex
	connected bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	server    mcp.ResponseInitialize
	pending   map[int64]chan *mcp.Response
	done      chan struct{}
	wg        sync.WaitGroup

	writeMu sync.Mutex // serializes writes to the transport
	callMu  sync.Mutex // serializes tool invocations
}

// ClientOpt configures a Client before Connect
type ClientOpt func(*Client) error

// Ensure Client implements the tool server contract
var _ evai.ToolServer = (*Client)(nil)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultRequestTimeout = 60 * time.Second
	DefaultRetries        = 3
	DefaultRetryDelay     = time.Second

	// Upper bound on a single JSON-RPC line from the server
	maxLineSize = 16 * 1024 * 1024
)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a disconnected client for the named server. The command is
// resolved against PATH when Connect is called.
func New(name, command string, args []string, opts ...ClientOpt) (*Client, error) {
	if name == "" || command == "" {
		return nil, evai.ErrBadParameter.With("server name and command are required")
	}
	c := &Client{
		name:           name,
		command:        command,
		args:           args,
		connectTimeout: DefaultConnectTimeout,
		requestTimeout: DefaultRequestTimeout,
		retries:        DefaultRetries,
		retryDelay:     DefaultRetryDelay,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Connect spawns the server process and performs the initialize handshake.
// On failure the client is left disconnected and Close remains safe to call.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	// Resolve the command against PATH
	path, err := exec.LookPath(c.command)
	if err != nil {
		c.mu.Unlock()
		return evai.ErrNotFound.Withf("server %q: command %q: %v", c.name, c.command, err)
	}

	// Spawn the process with the merged environment
	cmd := exec.Command(path, c.args...)
	cmd.Env = append(os.Environ(), c.env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return evai.ErrConnection.Withf("server %q: %v", c.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return evai.ErrConnection.Withf("server %q: %v", c.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return evai.ErrConnection.Withf("server %q: %v", c.name, err)
	}
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return evai.ErrConnection.Withf("server %q: %v", c.name, err)
	}
	c.cmd = cmd
	c.attach(stdin, stdout)

	// Server diagnostics go to the log, not the protocol stream
	c.wg.Add(1)
	go c.drainStderr(stderr)
	c.mu.Unlock()

	// Handshake with a bounded wait
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	if err := c.handshake(ctx); err != nil {
		_ = c.Close()
		return evai.ErrConnection.Withf("server %q: %v", c.name, err)
	}
	return nil
}

// Close terminates the server process and resets the connection state.
// It is idempotent and safe to call after a failed Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	stdin := c.stdin
	cmd := c.cmd
	c.stdin = nil
	c.cmd = nil
	c.pending = nil
	c.connected = false
	c.server = mcp.ResponseInitialize{}
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	var result error
	if cmd != nil && cmd.Process != nil {
		// Give the server a moment to exit on stdin EOF before killing it
		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			if err := cmd.Process.Kill(); err != nil {
				result = err
			}
			<-exited
		}
	}

	// Wait for the reader and stderr goroutines
	c.wg.Wait()
	return result
}

///////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithEnv adds environment variables for the server process, merged over the
// parent process environment
func WithEnv(env map[string]string) ClientOpt {
	return func(c *Client) error {
		for key, value := range env {
			c.env = append(c.env, key+"="+value)
		}
		return nil
	}
}

// WithConnectTimeout bounds process start plus handshake
func WithConnectTimeout(d time.Duration) ClientOpt {
	return func(c *Client) error {
		if d <= 0 {
			return evai.ErrBadParameter.With("connect timeout must be positive")
		}
		c.connectTimeout = d
		return nil
	}
}

// WithRequestTimeout bounds each JSON-RPC request
func WithRequestTimeout(d time.Duration) ClientOpt {
	return func(c *Client) error {
		if d <= 0 {
			return evai.ErrBadParameter.With("request timeout must be positive")
		}
		c.requestTimeout = d
		return nil
	}
}

// WithRetries sets the total number of attempts for a tool invocation
func WithRetries(n uint64) ClientOpt {
	return func(c *Client) error {
		if n == 0 {
			return evai.ErrBadParameter.With("retries must be at least one")
		}
		c.retries = n
		return nil
	}
}

// WithRetryDelay sets the delay between tool invocation attempts
func WithRetryDelay(d time.Duration) ClientOpt {
	return func(c *Client) error {
		if d < 0 {
			return evai.ErrBadParameter.With("retry delay cannot be negative")
		}
		c.retryDelay = d
		return nil
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the server identifier
func (c *Client) Name() string {
	return c.name
}

// Connected returns true when the handshake has completed
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// attached returns true while the transport exists, even after the server
// process has died underneath it. Distinguishes a dropped connection (a
// retryable transport failure) from a client that was never connected or
// has been closed (misuse).
func (c *Client) attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// ServerInfo returns the server information from the handshake, or nil when
// disconnected
func (c *Client) ServerInfo() *mcp.ResponseInitialize {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	server := c.server
	return &server
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// attach wires the transport and starts the read loop. Held separate from
// Connect so the transport can be replaced in tests. Must be called with
// c.mu held.
func (c *Client) attach(stdin io.WriteCloser, stdout io.Reader) {
	c.stdin = stdin
	c.pending = make(map[int64]chan *mcp.Response)
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.read(stdout, c.done)
}

// read routes incoming JSON-RPC lines to their pending calls until the
// transport closes
func (c *Client) read(stdout io.Reader, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var response mcp.Response
		if err := json.Unmarshal(line, &response); err != nil {
			slog.Warn("mcp: discarding malformed message", "server", c.name, "error", err)
			continue
		}

		// Server-initiated notifications carry a method and no id
		if response.ID == nil {
			if response.Method != "" {
				slog.Debug("mcp: notification", "server", c.name, "method", response.Method)
			}
			continue
		}

		// Route to the pending call
		id, ok := numericID(response.ID)
		if !ok {
			slog.Warn("mcp: discarding response with unexpected id", "server", c.name, "id", response.ID)
			continue
		}
		c.mu.Lock()
		ch := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if ch != nil {
			ch <- &response
		}
	}

	// Transport closed: the server is gone
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// drainStderr relays server diagnostics to the log
func (c *Client) drainStderr(stderr io.Reader) {
	defer c.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Debug("mcp: server stderr", "server", c.name, "line", scanner.Text())
	}
}

// handshake performs initialize followed by the initialized notification.
// Must be called without c.mu held.
func (c *Client) handshake(ctx context.Context) error {
	params := mcp.RequestInitialize{
		Version:      mcp.ProtocolVersion,
		Capabilities: map[string]any{},
		ClientInfo: mcp.ClientInfo{
			Name:    "evai/" + uuid.NewString(),
			Version: version.Version(),
		},
	}
	response, err := c.call(ctx, mcp.MessageTypeInitialize, params)
	if err != nil {
		return err
	}

	var server mcp.ResponseInitialize
	if len(response.Result) > 0 {
		if err := json.Unmarshal(response.Result, &server); err != nil {
			return err
		}
	}
	if err := c.notify(mcp.NotificationTypeInitialize); err != nil {
		return err
	}

	c.mu.Lock()
	c.server = server
	c.connected = true
	c.mu.Unlock()
	return nil
}

// call sends a JSON-RPC request and waits for the matching response
func (c *Client) call(ctx context.Context, method string, params any) (*mcp.Response, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	id := c.id.Add(1)
	request := mcp.Request{
		Version: mcp.RPCVersion,
		Method:  method,
		ID:      id,
		Payload: payload,
	}

	// Register the pending call before writing, so the response cannot race
	// past us
	ch := make(chan *mcp.Response, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, evai.ErrConnection.Withf("server %q: not connected", c.name)
	}
	c.pending[id] = ch
	done := c.done
	c.mu.Unlock()

	if err := c.write(request); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	select {
	case response := <-ch:
		if response.Err != nil {
			return nil, response.Err
		}
		return response, nil
	case <-done:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, evai.ErrConnection.Withf("server %q: connection closed", c.name)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify sends a JSON-RPC notification (no id, no response)
func (c *Client) notify(method string) error {
	return c.write(mcp.Request{
		Version: mcp.RPCVersion,
		Method:  method,
	})
}

// write frames a message as one newline-terminated JSON line
func (c *Client) write(request mcp.Request) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return evai.ErrConnection.Withf("server %q: not connected", c.name)
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return evai.ErrConnection.Withf("server %q: %v", c.name, err)
	}
	return nil
}

// numericID normalizes a JSON-RPC id back to the int64 we issued
func numericID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	}
	return 0, false
}
