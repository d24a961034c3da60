package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wagiedev/ragbroker/internal/mcp"
)

func mcpCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ask_docs tool over MCP on stdio",
		Long: `Mcp runs an MCP server on standard input and output so an MCP host can
launch ragbroker as a tool provider. Logs go to standard error.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup(g, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q, err := newQuerier(cfg, logger, nil)
			if err != nil {
				return err
			}

			if err := q.Start(ctx); err != nil {
				return fmt.Errorf("start broker: %w", err)
			}

			defer shutdown(q, cfg.Options(logger).WithDefaults().ShutdownGrace, logger)

			return mcp.NewServer(appName, Version, q, logger).RunStdio(ctx)
		},
	}
}
