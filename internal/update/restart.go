//go:build !windows

package update

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// NeedsElevation returns true if the binary's parent directory is not writable.
func NeedsElevation(binaryPath string) bool {
	dir := filepath.Dir(binaryPath)
	return unix.Access(dir, unix.W_OK) != nil
}

// Relaunch replaces the current process with the freshly installed
// binary, preserving arguments and environment.
func Relaunch() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil { //nolint:gosec // G204: intentional self re-exec
		return fmt.Errorf("exec new binary: %w", err)
	}

	return nil
}
