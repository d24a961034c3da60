package ragbroker

import (
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestApplyOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	log := slog.Default()
	stderr := func(string) {}

	o := applyOptions([]Option{
		WithCommand("python3"),
		WithArgs("-m", "docs_rag.worker"),
		WithDir("/srv/app"),
		WithEnv(map[string]string{"A": "1", "B": "1"}),
		WithEnv(map[string]string{"B": "2"}),
		WithDataDir("/srv/rag", "INDEX_DIR"),
		WithReadinessTimeout(10 * time.Second),
		WithRequestTimeout(2 * time.Second),
		WithShutdownGrace(time.Second),
		WithDefaultTopK(7),
		WithStderr(stderr),
		WithCorrelationMode(CorrelationSerial),
		WithMetrics(reg),
		WithLogger(log),
	})

	require.Equal(t, "python3", o.Command)
	require.Equal(t, []string{"-m", "docs_rag.worker"}, o.Args)
	require.Equal(t, "/srv/app", o.Dir)
	require.Equal(t, map[string]string{"A": "1", "B": "2"}, o.Env)
	require.Equal(t, "/srv/rag", o.DataDir)
	require.Equal(t, "INDEX_DIR", o.DataDirEnv)
	require.Equal(t, 10*time.Second, o.ReadinessTimeout)
	require.Equal(t, 2*time.Second, o.RequestTimeout)
	require.Equal(t, time.Second, o.ShutdownGrace)
	require.Equal(t, 7, o.DefaultTopK)
	require.NotNil(t, o.Stderr)
	require.Equal(t, CorrelationSerial, o.CorrelationMode)
	require.Same(t, reg, o.Metrics)
	require.Same(t, log, o.Logger)
}

func TestWithDataDir_DefaultVariable(t *testing.T) {
	o := applyOptions([]Option{WithDataDir("/data")})

	require.Equal(t, "/data", o.DataDir)
	require.Empty(t, o.DataDirEnv, "the default variable is filled in by the broker")
}

func TestErrorReexports(t *testing.T) {
	var brokerErr BrokerError = &TimeoutError{CorrelationID: "x", After: time.Second}

	require.ErrorIs(t, brokerErr, ErrTimeout)
	require.ErrorIs(t, &WriteError{CorrelationID: "x"}, ErrWriteFailed)
}
