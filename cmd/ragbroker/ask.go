package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type askFlags struct {
	topK    int
	timeout time.Duration
	json    bool
}

func askCmd(g *globalFlags) *cobra.Command {
	var f askFlags

	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Start the worker, ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			return ask(ctx, q, cmd.OutOrStdout(), strings.Join(args, " "), f)
		},
	}

	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "Number of passages to retrieve (0 uses the configured default)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Request timeout (0 uses the configured default)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the raw response as JSON")

	return cmd
}

func ask(ctx context.Context, q querier, out io.Writer, question string, f askFlags) error {
	resp, err := q.Submit(ctx, question, f.topK, f.timeout)
	if err != nil {
		return err
	}

	if f.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(resp)
	}

	_, err = fmt.Fprintln(out, resp.Text())

	return err
}
