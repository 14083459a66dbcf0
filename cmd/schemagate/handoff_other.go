//go:build !unix

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// handOff runs argv as a child and exits with its status.
func handOff(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv is operator configuration
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.ExitCode())
	}
	if err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	os.Exit(0)
	return nil
}
