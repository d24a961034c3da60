package subprocess

import (
	"maps"
	"os"
	"slices"

	"github.com/wagiedev/ragbroker/internal/config"
)

// BuildEnvironment constructs the worker environment: the parent environment
// plus additive overrides. Later entries win for duplicate keys, so overrides
// never require removing inherited values.
func BuildEnvironment(options *config.Options) []string {
	env := os.Environ()

	// Python block-buffers stdout when it is a pipe; responses would stall.
	env = append(env, "PYTHONUNBUFFERED=1")

	if options.DataDir != "" {
		name := options.DataDirEnv
		if name == "" {
			name = config.DefaultDataDirEnv
		}

		env = append(env, name+"="+options.DataDir)
	}

	for _, key := range slices.Sorted(maps.Keys(options.Env)) {
		env = append(env, key+"="+options.Env[key])
	}

	return env
}
