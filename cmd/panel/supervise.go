package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/robokit-dev/panel/internal/buildinfo"
	"github.com/robokit-dev/panel/internal/device"
	"github.com/robokit-dev/panel/internal/eventbus"
	"github.com/robokit-dev/panel/internal/observability"
	"github.com/robokit-dev/panel/internal/output"
	"github.com/robokit-dev/panel/internal/supervisor"
	"github.com/robokit-dev/panel/internal/update"
)

const (
	devicePollInterval = 1 * time.Second
	viewPollInterval   = 250 * time.Millisecond
)

func newSuperviseCmd() *cobra.Command {
	var noStart bool

	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the supervisor in the foreground",
		Long: `Run the full supervisor loop: launch the robot daemon, probe its
health, watch for the robot over USB, check for panel updates, and
stream every state change to the terminal until interrupted.

On exit the daemon is stopped along with the supervisor.`,
		Example: `  panel supervise
  panel supervise --no-start`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervise(cmd, noStart)
		},
	}

	cmd.Flags().BoolVar(&noStart, "no-start", false, "Attach to an already-running daemon instead of launching one")

	return cmd
}

func runSupervise(cmd *cobra.Command, noStart bool) error {
	out := output.FromContext(cmd.Context())
	logger := observability.FromContext(cmd.Context())

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, client := newDaemonClient()

	// The update checker feeds view selection; without one the update
	// view simply never activates.
	var checker *update.Checker

	if !update.IsDisabled() && !buildinfo.IsDev() {
		if updater, err := update.NewUpdater(); err == nil {
			checker = update.NewChecker(update.CheckerOptions{
				Updater:        updater,
				Logger:         logger,
				CurrentVersion: buildinfo.Version,
				Timeout:        cfg.UpdateCheckTimeout(),
				MaxRetries:     cfg.UpdateMaxRetries(),
				BackoffBase:    cfg.UpdateBackoffBase(),
			})
		} else {
			logger.Warn("update checker unavailable", "error", err)
		}
	}

	opts := supervisor.Options{
		OnAppsChanged: func() {
			logger.Info("installed apps refreshed")
		},
	}
	if checker != nil {
		opts.UpdateActive = checker.ViewActive
		opts.UpdateCheckStartedAt = checker.CheckStartedAt
	}

	sup := newSupervisor(cfg, client, logger, opts)
	defer sup.Shutdown()

	// The CLI has no OS permission broker; serial access problems
	// surface later as daemon hardware errors instead.
	sup.SetPermissionsGranted(true)

	// Stream every supervisor event to the terminal.
	unsubscribe := sup.Bus().Subscribe("", func(ev eventbus.Event) {
		out.Muted("%s  %-16s %s", ev.At.Format("15:04:05"), ev.Topic, ev.Message)
	})
	defer unsubscribe()

	detector := device.NewUSB(device.WithLogger(logger))
	sup.BeginDeviceDetection()
	sup.SetDevicePresent(detector.Present())

	go pollDevice(ctx, sup, detector)

	if checker != nil {
		go func() {
			if _, err := checker.CheckForUpdates(ctx); err != nil {
				logger.Warn("background update check failed", "error", err)
			}
		}()
	}

	if !noStart {
		if err := sup.StartDaemon(ctx); err != nil {
			logger.Error("daemon launch failed", "error", err)
			out.Failure("Failed to launch robot daemon: %v", err)
		}
	}

	out.Info("Supervisor running, press Ctrl-C to stop")

	watchViews(ctx, out, sup)

	// Deliberate stop: DaemonStopping is raised before the process dies
	// so the final probe timeouts are not misread as a crash.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if !noStart {
		if err := sup.StopDaemon(stopCtx); err != nil {
			logger.Warn("daemon stop failed", "error", err)
		}
	}

	out.Println()
	out.Success("Supervisor stopped")

	return nil
}

// pollDevice keeps the supervisor's device-present flag in sync with
// the USB bus.
func pollDevice(ctx context.Context, sup *supervisor.Supervisor, detector device.Detector) {
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sup.SetDevicePresent(detector.Present())
		}
	}
}

// watchViews prints the active view whenever it changes, until ctx is
// canceled.
func watchViews(ctx context.Context, out *output.Writer, sup *supervisor.Supervisor) {
	ticker := time.NewTicker(viewPollInterval)
	defer ticker.Stop()

	last := sup.CurrentView()
	out.Print("view: %s\n", last)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if view := sup.CurrentView(); view != last {
				out.Print("view: %s\n", view)
				last = view
			}
		}
	}
}
