//go:build unix

package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// handOff replaces the current process with argv so that the application
// becomes the container's main process and receives its signals directly.
func handOff(argv []string) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("application command not found: %w", err)
	}

	if err := syscall.Exec(path, argv, os.Environ()); err != nil { //nolint:gosec // argv is operator configuration
		return fmt.Errorf("failed to start application: %w", err)
	}

	return nil
}
