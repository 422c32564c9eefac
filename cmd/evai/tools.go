package main

import (
	"encoding/json"
	"fmt"

	// Packages
	evai "github.com/evai-dev/evai-go"
	client "github.com/evai-dev/evai-go/pkg/mcp/client"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type ToolsCommand struct{}

type PingCommand struct {
	Server string `arg:"" help:"Configured server name"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *ToolsCommand) Run(g *Globals) error {
	servers, err := g.servers()
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return evai.ErrNotFound.With("no servers configured (use --config)")
	}

	count := 0
	for _, server := range servers {
		if err := server.Connect(g.ctx); err != nil {
			fmt.Printf("%s: %v\n", server.Name(), err)
			continue
		}
		defer server.Close()

		tools, err := server.ListTools(g.ctx)
		if err != nil {
			fmt.Printf("%s: %v\n", server.Name(), err)
			continue
		}
		for _, tool := range tools {
			fmt.Printf("%s/%s\n", server.Name(), tool.Name)
			if tool.Description != "" {
				fmt.Printf("  %s\n", tool.Description)
			}
			if g.Verbose && tool.InputSchema != nil {
				if data, err := json.MarshalIndent(tool.InputSchema, "  ", "  "); err == nil {
					fmt.Printf("  %s\n", string(data))
				}
			}
		}
		count += len(tools)
	}
	fmt.Printf("\n%d tools\n", count)
	return nil
}

func (cmd *PingCommand) Run(g *Globals) error {
	servers, err := g.servers()
	if err != nil {
		return err
	}
	for _, server := range servers {
		if server.Name() != cmd.Server {
			continue
		}
		if err := server.Connect(g.ctx); err != nil {
			return err
		}
		defer server.Close()

		c, ok := server.(*client.Client)
		if !ok {
			return evai.ErrNotImplemented.Withf("server %q does not support ping", cmd.Server)
		}
		if err := c.Ping(g.ctx); err != nil {
			return err
		}
		fmt.Println("OK")
		if info := c.ServerInfo(); info != nil {
			fmt.Printf("Server: %s %s (protocol %s)\n", info.ServerInfo.Name, info.ServerInfo.Version, info.Version)
		}
		return nil
	}
	return evai.ErrNotFound.Withf("server %q is not configured", cmd.Server)
}
