//go:build windows

package update

import (
	"fmt"
	"os"
	"os/exec"
)

// NeedsElevation always returns false on Windows; the installer handles
// permissions there.
func NeedsElevation(string) bool {
	return false
}

// Relaunch starts the freshly installed binary as a new process and
// exits the current one. Windows has no exec-replace.
func Relaunch() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	cmd := exec.Command(execPath, os.Args[1:]...) //nolint:gosec // G204: intentional self relaunch
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start new binary: %w", err)
	}

	os.Exit(0)

	return nil
}
