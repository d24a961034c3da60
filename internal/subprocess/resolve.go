package subprocess

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wagiedev/ragbroker/internal/errors"
)

// resolveCommand locates the worker executable.
//
// A command containing a path separator is used as-is, relative to dir when
// not absolute. A bare name is looked up in PATH.
func resolveCommand(command, dir string) (string, error) {
	if command == "" {
		return "", &errors.SpawnError{Err: os.ErrNotExist}
	}

	if strings.ContainsRune(command, filepath.Separator) {
		path := command
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}

		info, err := os.Stat(path)
		if err != nil {
			return "", &errors.SpawnError{Path: path, Err: err}
		}

		if info.IsDir() {
			return "", &errors.SpawnError{Path: path, Err: exec.ErrNotFound}
		}

		// exec evaluates relative paths against cmd.Dir; pin it down once.
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", &errors.SpawnError{Path: path, Err: err}
		}

		return abs, nil
	}

	path, err := exec.LookPath(command)
	if err != nil {
		return "", &errors.SpawnError{Path: command, Err: err}
	}

	return path, nil
}
