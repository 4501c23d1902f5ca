package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/robokit-dev/panel/internal/daemon"
)

// startHealthLoop begins periodic probing. The loop runs only while the
// daemon is active and not crashed; it exits on crash detection and is
// restarted by a fresh StartDaemon.
func (s *Supervisor) startHealthLoop() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.healthCancel != nil {
		// A loop is already running for this generation.
		s.mu.Unlock()
		cancel()

		return
	}
	s.healthCancel = cancel
	gen := s.healthGen
	s.mu.Unlock()

	go s.healthLoop(ctx, gen)
}

func (s *Supervisor) healthLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !s.probeOnce(ctx, gen) {
			s.clearHealthCancel(gen)
			return
		}
	}
}

// probeOnce performs one gated probe tick. Returns false when the loop
// must stop (stale generation, crash latched, daemon no longer active).
func (s *Supervisor) probeOnce(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	if gen != s.healthGen || !s.state.DaemonActive || s.state.DaemonCrashed || s.state.DaemonStopping {
		s.mu.Unlock()
		return false
	}

	// Probing is skipped entirely while an install/remove job is in
	// flight: a loaded daemon answering slowly must not count as dead.
	if s.anyJobRunningLocked() {
		s.mu.Unlock()

		skip := &daemon.Error{Kind: daemon.KindSkippedDuringInstall, Op: "health probe"}
		s.logger.Debug("probe skipped", "error", skip)
		s.bus.Publish(TopicHealthSkipped, skip.Error())

		return true
	}
	s.mu.Unlock()

	state, err := s.client.Probe(ctx, s.opts.ProbeTimeout)

	s.mu.Lock()
	// Re-check relevance after the await point: a stop, reset or
	// restart may have happened while the probe was on the wire.
	if gen != s.healthGen || s.state.DaemonStopping {
		s.mu.Unlock()
		return false
	}

	s.lastProbeAt = s.now()

	if err == nil && state.Healthy() {
		s.state.ConsecutiveTimeouts = 0
		s.state.DaemonActive = true
		s.lastProbeError = ""
		s.healthyStreak++

		cleared := false
		if s.startupDone && s.state.HardwareError != nil && s.healthyStreak >= s.opts.HealthyProbesToClear {
			s.state.HardwareError = nil
			cleared = true
		}
		s.mu.Unlock()

		if cleared {
			s.logger.Info("hardware error cleared after consecutive healthy probes")
		}
		s.bus.Publish(TopicHealthSuccess, "probe ok")

		return true
	}

	s.healthyStreak = 0

	var de *daemon.Error
	if err != nil && errors.As(err, &de) && de.Kind == daemon.KindHTTPError {
		// Reachable but unhealthy: logged, never counted toward crash
		// detection.
		s.lastProbeError = err.Error()
		s.mu.Unlock()

		s.logger.Warn("daemon reachable but unhealthy", "error", err)

		return true
	}

	if err == nil {
		// Syntactically valid response with a non-ok status field.
		s.lastProbeError = "daemon reported status " + state.Status
		s.mu.Unlock()

		s.logger.Warn("daemon reported unhealthy status", "status", state.Status)

		return true
	}

	// Timeout or unreachable: counts toward crash detection.
	s.state.ConsecutiveTimeouts++
	s.lastProbeError = err.Error()
	timeouts := s.state.ConsecutiveTimeouts

	crashed := false
	if timeouts >= s.state.MaxTimeouts && s.state.DaemonActive && !s.state.DaemonStopping && !s.state.DaemonCrashed {
		s.state.DaemonCrashed = true
		s.state.DaemonActive = false
		crashed = true
	}
	s.mu.Unlock()

	s.bus.Publish(TopicHealthFailure, err.Error())

	if crashed {
		s.logger.Error("daemon declared crashed", "consecutive_timeouts", timeouts)
		s.bus.Publish(TopicDaemonCrashed, "consecutive probe timeouts reached threshold")

		return false
	}

	return true
}

func (s *Supervisor) clearHealthCancel(gen uint64) {
	s.mu.Lock()
	if gen == s.healthGen && s.healthCancel != nil {
		s.healthCancel = nil
	}
	s.mu.Unlock()
}
