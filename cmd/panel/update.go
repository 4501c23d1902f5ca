package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robokit-dev/panel/internal/buildinfo"
	"github.com/robokit-dev/panel/internal/config"
	clierrors "github.com/robokit-dev/panel/internal/errors"
	"github.com/robokit-dev/panel/internal/observability"
	"github.com/robokit-dev/panel/internal/output"
	"github.com/robokit-dev/panel/internal/update"
)

func newUpdateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update panel to the latest version",
		Long: `Update panel to the latest version from GitHub Releases.

Checks for a newer release with bounded retries, then downloads the new
binary with a stall watchdog and replaces the current executable. On
success panel relaunches itself into the new version.

Set PANEL_UPDATE_DISABLED=1 to disable update checks.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			return runUpdate(cmd, out, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Force reinstall even if already up to date")

	return cmd
}

func runUpdate(cmd *cobra.Command, out *output.Writer, force bool) error {
	ctx := cmd.Context()

	if update.IsDisabled() {
		out.Warning("Updates are disabled (PANEL_UPDATE_DISABLED is set)")
		return nil
	}

	currentVersion := buildinfo.Version

	updater, err := update.NewUpdater()
	if err != nil {
		return fmt.Errorf("failed to initialize updater: %w", err)
	}

	cfg := config.Load()

	// The spinner is created per phase; progress callbacks land on
	// whichever one is active.
	var spin *output.Spinner

	checker := update.NewChecker(update.CheckerOptions{
		Updater:        updater,
		Logger:         observability.FromContext(ctx),
		CurrentVersion: currentVersion,
		Timeout:        cfg.UpdateCheckTimeout(),
		MaxRetries:     cfg.UpdateMaxRetries(),
		BackoffBase:    cfg.UpdateBackoffBase(),
		OnProgress: func(percent float64) {
			if spin != nil {
				spin.UpdateProgress(percent)
			}
		},
	})

	// Skip spinner in JSON mode to avoid corrupting stdout
	if !out.JSON {
		spin = out.Spinner("Checking for updates")
		spin.Start()
	}

	info, err := checker.CheckForUpdates(ctx)
	if err != nil {
		if spin != nil {
			spin.StopWithFailure(fmt.Sprintf("Failed to check for updates: %v", err))
		}

		if errors.Is(err, update.ErrOffline) {
			return clierrors.Offline()
		}

		if strings.Contains(err.Error(), "403") {
			out.Info("Set GITHUB_TOKEN to avoid rate limits")
		}

		return clierrors.UpdateCheckFailed(err)
	}

	if info == nil {
		if spin != nil {
			spin.Stop()
		}

		return nil
	}

	// JSON output mode — print check result and exit without applying
	if out.JSON {
		if printErr := out.PrintJSON(info); printErr != nil {
			return fmt.Errorf("print update info as json: %w", printErr)
		}

		return nil
	}

	if !info.UpdateAvailable && !force {
		spin.StopWithSuccess(fmt.Sprintf("Already up to date (v%s)", currentVersion))
		return nil
	}

	// Guard against nil Release (no matching platform assets found)
	if info.Release == nil {
		spin.StopWithFailure("No release found for this platform")
		return fmt.Errorf("no release found for this platform")
	}

	if info.UpdateAvailable {
		spin.StopWithSuccess(fmt.Sprintf("Update available: v%s → v%s", currentVersion, info.LatestVersion))
	} else {
		spin.StopWithSuccess(fmt.Sprintf("Reinstalling v%s", info.LatestVersion))
	}

	// The install location must be writable; panel never escalates on
	// its own.
	if execPath, pathErr := os.Executable(); pathErr == nil && update.NeedsElevation(execPath) {
		return clierrors.ElevationRequired(execPath)
	}

	spin = out.Spinner(fmt.Sprintf("Downloading v%s", info.LatestVersion))
	spin.Start()

	if err := checker.DownloadAndInstall(ctx); err != nil {
		spin.StopWithFailure(fmt.Sprintf("Update failed: %v", err))

		if errors.Is(err, update.ErrStalled) {
			return clierrors.DownloadStalled(config.DefaultDownloadStallTimeout.String())
		}

		return clierrors.Wrap(clierrors.ExitUpdate, "Update failed", err)
	}

	spin.StopWithSuccess(fmt.Sprintf("Updated to v%s", info.LatestVersion))

	if info.ReleaseURL != "" {
		out.Muted("Release notes: %s", info.ReleaseURL)
	}

	return nil
}
