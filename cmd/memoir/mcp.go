package main

import (
	"context"
	"os"

	"github.com/flemzord/memoir/internal/mcpserver"
	"github.com/flemzord/memoir/pkg/app"
	"github.com/spf13/cobra"
)

func mcpCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol; logs go to stderr.
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				s := mcpserver.New(rt.Memory, version, rt.Logger)
				return mcpserver.Serve(ctx, s, os.Stdin, os.Stdout, rt.Logger)
			})
		},
	}
}
