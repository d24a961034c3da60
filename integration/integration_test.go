//go:build integration

package integration

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/ragbroker"
)

// workerOptions runs the demo worker unless RAGBROKER_WORKER names a real one
// (command and arguments separated by spaces).
func workerOptions(t *testing.T, extra ...ragbroker.Option) []ragbroker.Option {
	t.Helper()

	opts := []ragbroker.Option{
		ragbroker.WithCommand("sh"),
		ragbroker.WithArgs("../examples/demo_worker.sh"),
	}

	if cmdline := os.Getenv("RAGBROKER_WORKER"); cmdline != "" {
		fields := strings.Fields(cmdline)
		opts = []ragbroker.Option{
			ragbroker.WithCommand(fields[0]),
			ragbroker.WithArgs(fields[1:]...),
		}

		if dir := os.Getenv("RAGBROKER_DATA_DIR"); dir != "" {
			opts = append(opts, ragbroker.WithDataDir(dir))
		}
	}

	return append(opts, extra...)
}

func startBroker(t *testing.T, extra ...ragbroker.Option) ragbroker.Broker {
	t.Helper()

	b, err := ragbroker.New(workerOptions(t, extra...)...)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_ = b.Shutdown(ctx)
	})

	return b
}
