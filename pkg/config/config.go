// Package config loads the tool server configuration file: a YAML map of
// named servers, each with the command to spawn and its arguments,
// environment and timing policy.
package config

import (
	"os"
	"time"

	// Packages
	evai "github.com/evai-dev/evai-go"
	client "github.com/evai-dev/evai-go/pkg/mcp/client"
	yaml "gopkg.in/yaml.v3"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Config is the root of the server configuration file
type Config struct {
	Servers map[string]Server `yaml:"servers"`
}

// Server describes how to run one tool server
type Server struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Timeout Duration          `yaml:"timeout"`
	Retries uint64            `yaml:"retries"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
type Duration time.Duration

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, evai.ErrBadParameter.Withf("configuration: %v", err)
	}
	for name, server := range config.Servers {
		if server.Command == "" {
			return nil, evai.ErrBadParameter.Withf("server %q: command is required", name)
		}
	}
	return &config, nil
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ToolServers creates a disconnected MCP client per configured server
func (c Config) ToolServers() ([]evai.ToolServer, error) {
	servers := make([]evai.ToolServer, 0, len(c.Servers))
	for name, server := range c.Servers {
		var opts []client.ClientOpt
		if len(server.Env) > 0 {
			opts = append(opts, client.WithEnv(server.Env))
		}
		if server.Timeout > 0 {
			opts = append(opts, client.WithRequestTimeout(time.Duration(server.Timeout)))
		}
		if server.Retries > 0 {
			opts = append(opts, client.WithRetries(server.Retries))
		}
		s, err := client.New(name, server.Command, server.Args, opts...)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, nil
}

///////////////////////////////////////////////////////////////////////////////
// YAML UNMARSHALLING

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return evai.ErrBadParameter.Withf("invalid duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}
