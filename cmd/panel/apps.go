package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/robokit-dev/panel/internal/daemon"
	clierrors "github.com/robokit-dev/panel/internal/errors"
	"github.com/robokit-dev/panel/internal/eventbus"
	"github.com/robokit-dev/panel/internal/observability"
	"github.com/robokit-dev/panel/internal/output"
	"github.com/robokit-dev/panel/internal/supervisor"
)

func newAppsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage apps on the robot",
		Long:  `Install and remove robot apps. Both operations run as daemon-side jobs that are followed until they finish.`,
	}

	cmd.AddCommand(newAppsInstallCmd())
	cmd.AddCommand(newAppsRemoveCmd())

	return cmd
}

func newAppsInstallCmd() *cobra.Command {
	var sourceURL string

	cmd := &cobra.Command{
		Use:   "install <name>",
		Short: "Install an app",
		Long: `Ask the daemon to install an app and follow the install job until it
completes. Job log lines are streamed into the spinner as they arrive.`,
		Example: `  panel apps install dance
  panel apps install dance --url https://apps.robokit.dev/dance.tar.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppJob(cmd, args[0], func(ctx context.Context, sup *supervisor.Supervisor) (string, error) {
				return sup.InstallApp(ctx, args[0], sourceURL)
			})
		},
	}

	cmd.Flags().StringVar(&sourceURL, "url", "", "App source URL (defaults to the daemon's app registry)")

	return cmd
}

func newAppsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed app",
		Long:  `Ask the daemon to remove an installed app and follow the removal job until it completes.`,
		Example: `  panel apps remove dance`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppJob(cmd, args[0], func(ctx context.Context, sup *supervisor.Supervisor) (string, error) {
				return sup.RemoveApp(ctx, args[0])
			})
		},
	}
}

// runAppJob submits an install/remove job and follows it to a terminal
// state, streaming job log lines through the spinner.
func runAppJob(cmd *cobra.Command, target string, submit func(context.Context, *supervisor.Supervisor) (string, error)) error {
	out := output.FromContext(cmd.Context())
	logger := observability.FromContext(cmd.Context())

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, client := newDaemonClient()
	sup := newSupervisor(cfg, client, logger, supervisor.Options{})
	defer sup.Shutdown()

	spin := out.Spinner(fmt.Sprintf("Submitting job for %s", target))
	spin.Start()

	jobID, err := submit(ctx, sup)
	if err != nil {
		spin.StopWithFailure("Daemon rejected the request")
		return appJobSubmitError(err)
	}

	spin.UpdateMessage(fmt.Sprintf("Working on %s", target))

	job, err := followJob(ctx, sup, jobID, func(line string) {
		spin.UpdateMessage(fmt.Sprintf("%s: %s", target, line))
	})
	if err != nil {
		spin.StopWithFailure(fmt.Sprintf("Gave up on %s", target))
		return err
	}

	if job.Status == supervisor.JobFailed {
		spin.StopWithFailure(fmt.Sprintf("Job for %s failed", target))
		return clierrors.JobFailed(job.Kind.String(), target, lastLogLine(job))
	}

	spin.StopWithSuccess(fmt.Sprintf("Job for %s completed", target))

	return nil
}

// followJob watches the tracked job until it reaches a terminal state,
// reporting each new log line through onLog. The terminal snapshot is
// captured from the bus callback because the supervisor drops completed
// jobs from its tracker after a short linger.
func followJob(ctx context.Context, sup *supervisor.Supervisor, jobID string, onLog func(string)) (supervisor.Job, error) {
	done := make(chan supervisor.Job, 1)

	record := func(eventJob supervisor.Job) {
		select {
		case done <- eventJob:
		default:
		}
	}

	snapshotJob := func(status supervisor.JobState) supervisor.Job {
		for _, job := range sup.Jobs() {
			if job.ID == jobID {
				return job
			}
		}

		// Already dropped from the tracker; status is all we know.
		return supervisor.Job{ID: jobID, Status: status}
	}

	unsubDone := sup.Bus().Subscribe(supervisor.TopicJobCompleted, func(eventbus.Event) {
		record(snapshotJob(supervisor.JobCompleted))
	})
	defer unsubDone()

	unsubFail := sup.Bus().Subscribe(supervisor.TopicJobFailed, func(eventbus.Event) {
		record(snapshotJob(supervisor.JobFailed))
	})
	defer unsubFail()

	// The job may have gone terminal before the subscriptions landed,
	// so the ticker double-checks the tracker alongside relaying logs.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var shownLogs int

	for {
		select {
		case <-ctx.Done():
			return supervisor.Job{}, clierrors.New(clierrors.ExitGeneral, "Interrupted while waiting for the job").
				WithHint("The daemon keeps working on it; check 'panel daemon status'")
		case job := <-done:
			return job, nil
		case <-ticker.C:
			job, ok := findTrackedJob(sup, jobID)
			if !ok {
				continue
			}

			if onLog != nil && len(job.Logs) > shownLogs {
				onLog(job.Logs[len(job.Logs)-1])
				shownLogs = len(job.Logs)
			}

			if job.Status != supervisor.JobRunning {
				return job, nil
			}
		}
	}
}

func findTrackedJob(sup *supervisor.Supervisor, jobID string) (supervisor.Job, bool) {
	for _, job := range sup.Jobs() {
		if job.ID == jobID {
			return job, true
		}
	}

	return supervisor.Job{}, false
}

func lastLogLine(job supervisor.Job) string {
	if len(job.Logs) == 0 {
		return ""
	}

	return job.Logs[len(job.Logs)-1]
}

// appJobSubmitError maps a job submission failure onto the CLI error
// taxonomy using the daemon client's error classification.
func appJobSubmitError(err error) error {
	switch {
	case clierrors.As(err, new(*clierrors.CLIError)):
		return err
	case daemon.IsPermissionDenied(err):
		return clierrors.PermissionDenied(err)
	case daemon.IsTimeout(err):
		return clierrors.Wrap(clierrors.ExitTimeout, "Job submission timed out", err).
			WithHint("The daemon may be overloaded; retry or check 'panel daemon status'")
	default:
		return clierrors.DaemonUnreachable(err)
	}
}
