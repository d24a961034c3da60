// Package main provides the ragbroker binary entry point.
// Ragbroker keeps a documentation question-answering worker running and
// serves its answers over HTTP, NATS and MCP.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.Version=... -X main.BuildTime=...".
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "ragbroker"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Query broker for a long-running documentation worker",
		Long: `Ragbroker starts a documentation question-answering worker once and
multiplexes questions from many callers onto its standard input and output.

Answers are served over:
- HTTP (POST /api/query), with query history and ingestion triggers
- NATS request/reply on a queue-group subject
- MCP over stdio, as the ask_docs tool`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "ragbroker.yaml", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (text, json); overrides the config file")

	cmd.AddCommand(serveCmd(&g), askCmd(&g), mcpCmd(&g), versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}
