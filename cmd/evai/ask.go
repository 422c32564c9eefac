package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	// Packages
	client "github.com/mutablelogic/go-client"
	jsonschema "github.com/google/jsonschema-go/jsonschema"
	opt "github.com/evai-dev/evai-go/pkg/opt"
	anthropic "github.com/evai-dev/evai-go/pkg/provider/anthropic"
	schema "github.com/evai-dev/evai-go/pkg/schema"
	session "github.com/evai-dev/evai-go/pkg/session"
	yaml "gopkg.in/yaml.v3"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type AskCommand struct {
	Prompt []string `arg:"" help:"The prompt to send"`

	APIKey        string   `name:"api-key" env:"ANTHROPIC_API_KEY" help:"Anthropic API key" required:""`
	Model         string   `name:"model" help:"Model to use" optional:""`
	System        string   `name:"system" help:"System prompt" optional:""`
	MaxTokens     uint     `name:"max-tokens" help:"Maximum response tokens" optional:""`
	MaxIterations uint     `name:"max-iterations" help:"Maximum tool round-trips" optional:""`
	Tools         []string `name:"tools" help:"Restrict which tools are offered to the model" optional:""`
	OutputSchema  string   `name:"output-schema" type:"path" help:"Request structured output matching this JSON schema file (YAML or JSON)" optional:""`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *AskCommand) Run(g *Globals) error {
	// Responder
	var clientOpts []client.ClientOpt
	if g.Debug {
		clientOpts = append(clientOpts, client.OptTrace(os.Stderr, g.Verbose))
	}
	responder, err := anthropic.New(cmd.APIKey, clientOpts...)
	if err != nil {
		return err
	}

	// Session over the configured servers
	servers, err := g.servers()
	if err != nil {
		return err
	}
	sessionOpts := []session.SessionOpt{session.WithServer(servers...)}
	if cmd.Model != "" {
		sessionOpts = append(sessionOpts, session.WithModel(cmd.Model))
	}
	if cmd.System != "" {
		sessionOpts = append(sessionOpts, session.WithSystemPrompt(cmd.System))
	}
	if cmd.MaxIterations > 0 {
		sessionOpts = append(sessionOpts, session.WithMaxIterations(cmd.MaxIterations))
	}
	s, err := session.New(responder, sessionOpts...)
	if err != nil {
		return err
	}
	if err := s.Initialize(g.ctx); err != nil {
		return err
	}
	defer s.Shutdown()

	// Request options
	var requestOpts []opt.Opt
	if cmd.MaxTokens > 0 {
		requestOpts = append(requestOpts, opt.SetUint(opt.MaxTokensKey, cmd.MaxTokens))
	}
	if len(cmd.Tools) > 0 {
		requestOpts = append(requestOpts, session.WithAllowedTools(cmd.Tools...))
	}
	if cmd.OutputSchema != "" {
		outputSchema, err := loadSchema(cmd.OutputSchema)
		if err != nil {
			return err
		}
		requestOpts = append(requestOpts, session.WithStructuredOutput(outputSchema))
	}

	result, err := s.SendRequest(g.ctx, strings.Join(cmd.Prompt, " "), requestOpts...)
	if err != nil {
		return err
	}

	// Tool call log
	if g.Verbose {
		for _, call := range result.ToolCalls {
			if call.Error != "" {
				fmt.Fprintf(os.Stderr, "tool %s on %s: error: %s\n", call.Name, call.Server, call.Error)
			} else {
				fmt.Fprintf(os.Stderr, "tool %s on %s: %s\n", call.Name, call.Server, call.Result)
			}
		}
	}

	if !result.Success {
		return errors.New(result.Error)
	}
	if len(result.StructuredResponse) > 0 {
		fmt.Println(string(result.StructuredResponse))
	} else {
		fmt.Println(result.Response)
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// loadSchema reads a JSON schema from a YAML or JSON file
func loadSchema(path string) (*jsonschema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw schema.JSONSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw.Schema()
}
