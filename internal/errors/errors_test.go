package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCLIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CLIError
		want string
	}{
		{
			name: "message only",
			err:  New(ExitGeneral, "something broke"),
			want: "something broke",
		},
		{
			name: "message with cause",
			err:  Wrap(ExitNetwork, "request failed", fmt.Errorf("connection refused")),
			want: "request failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCLIError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ExitGeneral, "wrapped", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the wrapped cause")
	}
}

func TestAs(t *testing.T) {
	var target *CLIError

	wrapped := fmt.Errorf("outer: %w", DaemonNotRunning())
	if !As(wrapped, &target) {
		t.Fatal("As() = false for wrapped CLIError")
	}
	if target.Code != ExitDaemon {
		t.Errorf("code = %d, want %d", target.Code, ExitDaemon)
	}

	if As(fmt.Errorf("plain"), &target) {
		t.Error("As() = true for non-CLIError")
	}
}

func TestWithHint(t *testing.T) {
	err := New(ExitGeneral, "broken").WithHint("fix it")
	if err.Hint != "fix it" {
		t.Errorf("hint = %q, want %q", err.Hint, "fix it")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *CLIError
		wantCode int
		wantMsg  string
		wantHint string
	}{
		{
			name:     "daemon unreachable",
			err:      DaemonUnreachable(fmt.Errorf("dial tcp: connection refused")),
			wantCode: ExitDaemon,
			wantMsg:  "not responding",
			wantHint: "panel daemon start",
		},
		{
			name:     "daemon crashed",
			err:      DaemonCrashed(3),
			wantCode: ExitDaemon,
			wantMsg:  "3 consecutive probe timeouts",
			wantHint: "panel daemon start",
		},
		{
			name:     "job not found",
			err:      JobNotFound("abc"),
			wantCode: ExitGeneral,
			wantMsg:  "Job not found: abc",
			wantHint: "cleaned up",
		},
		{
			name:     "job failed with last log",
			err:      JobFailed("install", "dance", "download error: 503"),
			wantCode: ExitGeneral,
			wantMsg:  "Failed to install dance",
			wantHint: "download error: 503",
		},
		{
			name:     "offline",
			err:      Offline(),
			wantCode: ExitNetwork,
			wantMsg:  "No network connection",
			wantHint: "Connect to a network",
		},
		{
			name:     "update check failed",
			err:      UpdateCheckFailed(fmt.Errorf("rate limited")),
			wantCode: ExitUpdate,
			wantMsg:  "Update check failed",
			wantHint: "PANEL_UPDATE_DISABLED",
		},
		{
			name:     "download stalled",
			err:      DownloadStalled("1m0s"),
			wantCode: ExitUpdate,
			wantMsg:  "no progress for 1m0s",
			wantHint: "panel update",
		},
		{
			name:     "elevation required",
			err:      ElevationRequired("/usr/local/bin"),
			wantCode: ExitUpdate,
			wantMsg:  "/usr/local/bin",
			wantHint: "sudo panel update",
		},
		{
			name:     "device not found",
			err:      DeviceNotFound(),
			wantCode: ExitGeneral,
			wantMsg:  "Robot not detected",
			wantHint: "USB",
		},
		{
			name:     "hardware fault",
			err:      HardwareFault("ERROR: no serial port found"),
			wantCode: ExitGeneral,
			wantMsg:  "hardware error",
			wantHint: "no serial port found",
		},
		{
			name:     "operation timed out",
			err:      OperationTimedOut("Install", "30s"),
			wantCode: ExitTimeout,
			wantMsg:  "Install timed out after 30s",
			wantHint: "daemon status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", tt.err.Code, tt.wantCode)
			}

			if !strings.Contains(strings.ToLower(tt.err.Message), strings.ToLower(tt.wantMsg)) {
				t.Errorf("message = %q, want to contain %q", tt.err.Message, tt.wantMsg)
			}

			if !strings.Contains(tt.err.Hint, tt.wantHint) {
				t.Errorf("hint = %q, want to contain %q", tt.err.Hint, tt.wantHint)
			}
		})
	}
}
