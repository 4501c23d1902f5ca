package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robokit-dev/panel/internal/daemon"
	clierrors "github.com/robokit-dev/panel/internal/errors"
	"github.com/robokit-dev/panel/internal/observability"
	"github.com/robokit-dev/panel/internal/output"
	"github.com/robokit-dev/panel/internal/supervisor"
)

const daemonStartTimeout = 30 * time.Second

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the local robot daemon",
		Long:  `Start, stop, and inspect the local robot daemon process.`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch the robot daemon",
		Long: `Launch the robot daemon process and wait until it answers health
probes. Startup diagnostics are scanned for hardware errors; a latched
error aborts the wait and is reported verbatim.`,
		Example: `  panel daemon start`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			logger := observability.FromContext(cmd.Context())

			cfg, client := newDaemonClient()
			sup := newSupervisor(cfg, client, logger, supervisor.Options{})

			spin := out.Spinner("Starting robot daemon")
			spin.Start()

			ctx, cancel := context.WithTimeout(cmd.Context(), daemonStartTimeout)
			defer cancel()

			if err := sup.StartDaemon(ctx); err != nil {
				spin.StopWithFailure("Failed to launch daemon process")
				return clierrors.Wrap(clierrors.ExitDaemon, "Failed to launch robot daemon", err).
					WithHint("Check that the daemon binary is installed and on PATH")
			}

			if _, err := awaitDaemonActive(ctx, sup); err != nil {
				spin.StopWithFailure("Robot daemon did not become healthy")
				return err
			}

			if verErr := sup.RefreshDaemonVersion(ctx); verErr != nil {
				logger.Warn("could not read daemon version", "error", verErr)
			}

			snap := sup.Snapshot()
			if snap.DaemonVersion != "" {
				spin.StopWithSuccess(fmt.Sprintf("Robot daemon running (v%s)", snap.DaemonVersion))
			} else {
				spin.StopWithSuccess("Robot daemon running")
			}

			return nil
		},
	}
}

// awaitDaemonActive polls the supervisor until the daemon is active or
// startup failed. Hardware errors latched during startup take priority
// over the generic startup error.
func awaitDaemonActive(ctx context.Context, sup *supervisor.Supervisor) (supervisor.Snapshot, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return sup.Snapshot(), clierrors.OperationTimedOut("Daemon startup", daemonStartTimeout.String())
		case <-ticker.C:
		}

		snap := sup.Snapshot()

		switch {
		case snap.HardwareError != nil:
			return snap, clierrors.HardwareFault(snap.HardwareError.Line)
		case snap.StartupError != "":
			return snap, clierrors.New(clierrors.ExitDaemon, "Robot daemon failed to start").
				WithHint(snap.StartupError)
		case snap.DaemonActive:
			return snap, nil
		}
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the robot daemon",
		Long: `Stop the robot daemon. The daemon gets a SIGTERM first; if it does
not exit within the stop deadline it is killed, and anything still
holding the daemon port is swept afterwards.`,
		Example: `  panel daemon stop`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			logger := observability.FromContext(cmd.Context())

			cfg, _ := newDaemonClient()
			proc := newProcessController(cfg, logger, nil)

			spin := out.Spinner("Stopping robot daemon")
			spin.Start()

			if err := proc.Stop(cmd.Context()); err != nil {
				spin.StopWithFailure("Failed to stop daemon")
				return clierrors.Wrap(clierrors.ExitDaemon, "Failed to stop robot daemon", err)
			}

			spin.StopWithSuccess("Robot daemon stopped")

			return nil
		},
	}
}

// DaemonStatus represents daemon status for JSON output.
type DaemonStatus struct {
	Running       bool     `json:"running"`
	Version       string   `json:"version,omitempty"`
	UptimeSeconds float64  `json:"uptimeSeconds,omitempty"`
	Apps          []string `json:"apps,omitempty"`
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long:  `Query the daemon's state document and report health, uptime, and installed apps.`,
		Example: `  panel daemon status
  panel daemon status --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			ctx := cmd.Context()

			_, client := newDaemonClient()

			state, err := client.GetFullState(ctx, daemon.StateQuery{Apps: true})
			if err != nil {
				if out.JSON {
					return out.PrintJSON(DaemonStatus{Running: false})
				}

				return clierrors.DaemonUnreachable(err)
			}

			status := DaemonStatus{
				Running:       state.Healthy(),
				UptimeSeconds: state.UptimeSeconds,
			}
			for _, app := range state.Apps {
				status.Apps = append(status.Apps, app.Name)
			}

			if info, infoErr := client.GetStatus(ctx); infoErr == nil {
				status.Version = info.Version
			}

			if out.JSON {
				return out.PrintJSON(status)
			}

			if status.Running {
				out.Success("Robot daemon is running")
			} else {
				out.Warning("Robot daemon answered but reports status %q", state.Status)
			}

			if status.Version != "" {
				out.Print("  version: %s\n", status.Version)
			}

			out.Print("  uptime:  %s\n", (time.Duration(state.UptimeSeconds) * time.Second).String())

			if len(status.Apps) > 0 {
				out.Print("  apps:    %d installed\n", len(status.Apps))
				for _, name := range status.Apps {
					out.Muted("    - %s", name)
				}
			}

			return nil
		},
	}
}
