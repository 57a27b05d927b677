package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ersonp/narra-core/internal/application/mcptools"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the analyses as MCP tools over stdio",
		Long:  "Runs a Model Context Protocol server on stdin/stdout. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				return mcptools.New(d.MCPHandlers(), version).Serve(ctx, os.Stdin, os.Stdout)
			})
		},
	}
}
