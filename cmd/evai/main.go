package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	// Packages
	kong "github.com/alecthomas/kong"
	evai "github.com/evai-dev/evai-go"
	config "github.com/evai-dev/evai-go/pkg/config"
	version "github.com/evai-dev/evai-go/pkg/version"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type CLI struct {
	Globals

	// Commands
	Ask     AskCommand     `cmd:"" help:"Send a prompt to the model, with tools from the configured servers"`
	Tools   ToolsCommand   `cmd:"" help:"List the tools advertised by the configured servers"`
	Ping    PingCommand    `cmd:"" help:"Probe a configured server for liveness"`
	Version VersionCommand `cmd:"" help:"Print the version"`
}

type Globals struct {
	Config  string `name:"config" help:"Server configuration file (YAML)" type:"path" optional:""`
	Debug   bool   `name:"debug" help:"Enable debug output" default:"false"`
	Verbose bool   `name:"verbose" short:"v" help:"Print tool call details" default:"false"`

	// Private
	ctx    context.Context
	cancel context.CancelFunc
}

type VersionCommand struct{}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func main() {
	cli := CLI{}
	cmd := kong.Parse(&cli,
		kong.Name("evai"),
		kong.Description("Conversation and tool-use orchestration for LLMs"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	// Logging
	level := slog.LevelWarn
	if cli.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Create context
	cli.ctx, cli.cancel = signal.NotifyContext(context.Background(), os.Interrupt)
	defer cli.cancel()

	// Run the selected command
	cmd.FatalIfErrorf(cmd.Run(&cli.Globals))
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *VersionCommand) Run(g *Globals) error {
	fmt.Println(version.Version())
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// servers creates disconnected clients from the configuration file, or none
// when no file is given
func (g *Globals) servers() ([]evai.ToolServer, error) {
	if g.Config == "" {
		return nil, nil
	}
	c, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	return c.ToolServers()
}
