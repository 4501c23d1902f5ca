package main

import (
	"log/slog"

	"github.com/robokit-dev/panel/internal/config"
	"github.com/robokit-dev/panel/internal/daemon"
	"github.com/robokit-dev/panel/internal/procctl"
	"github.com/robokit-dev/panel/internal/supervisor"
)

// newDaemonClient creates a daemon API client from the loaded config.
//
// This consolidates the repeated pattern of:
//
//	cfg := config.Load()
//	c := daemon.New(cfg.DaemonURL())
func newDaemonClient() (*config.Config, *daemon.Client) {
	cfg := config.Load()
	return cfg, daemon.New(cfg.DaemonURL())
}

// newProcessController creates the daemon process controller. Diagnostic
// output lines are forwarded to onDiagnostic when set; the supervisor
// uses them for hardware-error detection during startup.
func newProcessController(cfg *config.Config, logger *slog.Logger, onDiagnostic func(string)) *procctl.ExecController {
	return procctl.New(procctl.Options{
		Command:      cfg.DaemonCommand(),
		Args:         cfg.DaemonArgs(),
		Port:         cfg.DaemonPort(),
		Logger:       logger,
		OnDiagnostic: onDiagnostic,
	})
}

// newSupervisor wires a supervisor to a fresh client and process
// controller. The returned supervisor receives daemon diagnostics from
// the process controller automatically.
func newSupervisor(cfg *config.Config, client *daemon.Client, logger *slog.Logger, opts supervisor.Options) *supervisor.Supervisor {
	var sup *supervisor.Supervisor

	proc := newProcessController(cfg, logger, func(line string) {
		if sup != nil {
			sup.NoteDiagnostic(line)
		}
	})

	opts.Client = client
	opts.Process = proc
	opts.Logger = logger
	opts.ProbeInterval = cfg.ProbeInterval()
	opts.ProbeTimeout = cfg.ProbeTimeout()
	opts.MaxTimeouts = cfg.MaxTimeouts()
	opts.JobPollInterval = cfg.JobPollInterval()
	opts.JobFailureCeiling = cfg.JobFailureCeiling()

	sup = supervisor.New(opts)

	return sup
}
