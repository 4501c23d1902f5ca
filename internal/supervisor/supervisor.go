// Package supervisor keeps the panel's belief about the robot daemon
// consistent with reality under an unreliable polling channel, and
// orchestrates the long-running operations around it: daemon start and
// stop, health probing with crash detection, and concurrently polled
// app install/remove jobs.
//
// The Supervisor is constructed once at process start and passed by
// handle to whatever layer needs it. All state lives behind its mutex;
// observers read via Snapshot() and the event bus, and mutate only by
// calling supervisor methods.
package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robokit-dev/panel/internal/config"
	"github.com/robokit-dev/panel/internal/daemon"
	"github.com/robokit-dev/panel/internal/eventbus"
	"github.com/robokit-dev/panel/internal/observability"
)

// Event topics published on the bus.
const (
	TopicHealthSuccess = "health:success"
	TopicHealthFailure = "health:failure"
	TopicHealthSkipped = "health:skipped"
	TopicDaemonStarted = "daemon:started"
	TopicDaemonStopped = "daemon:stopped"
	TopicDaemonCrashed = "daemon:crashed"
	TopicJobStarted    = "job:started"
	TopicJobCompleted  = "job:completed"
	TopicJobFailed     = "job:failed"
	TopicHardwareError = "hardware:error"
)

// hardwarePatterns are matched (lowercased) against daemon diagnostic
// lines while startup is in progress. A match latches a HardwareError.
var hardwarePatterns = []string{
	"no serial port found",
	"failed to open serial",
	"motor initialization failed",
	"hardware error",
}

// ProcessController starts and stops the daemon process. The supervisor
// treats it as a black box with its own failure surface; diagnostics
// arrive out of band through NoteDiagnostic.
type ProcessController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// Options configures a Supervisor. Zero values select the defaults
// from the config package.
type Options struct {
	Client  *daemon.Client
	Bus     *eventbus.Bus
	Process ProcessController
	Logger  *slog.Logger

	ProbeInterval        time.Duration
	ProbeTimeout         time.Duration
	MaxTimeouts          uint
	HealthyProbesToClear uint

	JobPollInterval   time.Duration
	JobFailureCeiling uint
	JobSettleDelay    time.Duration
	JobSuccessLinger  time.Duration
	JobFailureLinger  time.Duration

	DeviceGraceWindow time.Duration
	UpdateMinDwell    time.Duration

	// UpdateActive and UpdateCheckStartedAt feed view selection; they
	// are wired to the update checker when one is present.
	UpdateActive         func() bool
	UpdateCheckStartedAt func() time.Time

	// OnAppsChanged runs after a job completes and the installed-apps
	// list has been refreshed.
	OnAppsChanged func()

	// Now replaces the clock (tests).
	Now func() time.Time
}

// Supervisor owns the daemon state machine and the job tracker.
type Supervisor struct {
	client *daemon.Client
	bus    *eventbus.Bus
	proc   ProcessController
	logger *slog.Logger
	opts   Options

	mu    sync.Mutex
	state State
	jobs  map[string]*Job

	permissionsGranted       bool
	permissionRestartPending bool
	devicePresent            bool
	deviceDetectionStartedAt time.Time
	transitionUntil          time.Time

	// healthGen invalidates in-flight probe results: every start and
	// stop bumps it, and a probe callback that returns to find a
	// different generation discards its result instead of mutating
	// state the consumer stopped caring about.
	healthGen    uint64
	healthCancel context.CancelFunc

	healthyStreak  uint
	startupDone    bool
	lastProbeAt    time.Time
	lastProbeError string

	installedApps []string
	daemonVersion string

	now func() time.Time
}

// New creates a Supervisor. Client and Process are required; Bus and
// Logger default to fresh instances.
func New(opts Options) *Supervisor {
	if opts.Bus == nil {
		opts.Bus = eventbus.New(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = config.DefaultProbeInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = config.DefaultProbeTimeout
	}
	if opts.MaxTimeouts == 0 {
		opts.MaxTimeouts = config.DefaultMaxConsecutiveTimeouts
	}
	if opts.HealthyProbesToClear == 0 {
		opts.HealthyProbesToClear = config.DefaultHealthyProbesToClear
	}
	if opts.JobPollInterval <= 0 {
		opts.JobPollInterval = config.DefaultJobPollInterval
	}
	if opts.JobFailureCeiling == 0 {
		opts.JobFailureCeiling = config.DefaultJobFailureCeiling
	}
	if opts.JobSettleDelay <= 0 {
		opts.JobSettleDelay = config.DefaultJobSettleDelay
	}
	if opts.JobSuccessLinger <= 0 {
		opts.JobSuccessLinger = config.DefaultJobSuccessLinger
	}
	if opts.JobFailureLinger <= 0 {
		opts.JobFailureLinger = config.DefaultJobFailureLinger
	}
	if opts.DeviceGraceWindow <= 0 {
		opts.DeviceGraceWindow = config.DefaultDeviceGraceWindow
	}
	if opts.UpdateMinDwell <= 0 {
		opts.UpdateMinDwell = config.DefaultUpdateViewDwell
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Supervisor{
		client: opts.Client,
		bus:    opts.Bus,
		proc:   opts.Process,
		logger: opts.Logger,
		opts:   opts,
		state:  State{MaxTimeouts: opts.MaxTimeouts},
		jobs:   make(map[string]*Job),
		now:    opts.Now,
	}
}

// Bus returns the supervisor's event bus.
func (s *Supervisor) Bus() *eventbus.Bus {
	return s.bus
}

// StartDaemon launches the daemon process and probes until it answers,
// then hands over to the periodic health monitor. A crashed daemon must
// be restarted through here: starting clears the crash latch.
func (s *Supervisor) StartDaemon(ctx context.Context) error {
	ctx, span := observability.Tracer("supervisor").Start(ctx, "supervisor.StartDaemon")
	defer span.End()

	s.mu.Lock()
	if s.state.DaemonStarting || s.state.DaemonActive {
		s.mu.Unlock()
		s.logger.Info("daemon already running, skipping start")

		return nil
	}

	s.state.DaemonStarting = true
	s.state.DaemonCrashed = false
	s.state.DaemonStopping = false
	s.state.ConsecutiveTimeouts = 0
	s.state.StartupError = ""
	s.state.HardwareError = nil
	s.startupDone = false
	s.healthyStreak = 0
	s.healthGen++
	gen := s.healthGen
	s.mu.Unlock()

	if err := s.proc.Start(ctx); err != nil {
		s.mu.Lock()
		s.state.DaemonStarting = false
		s.state.StartupError = err.Error()
		s.mu.Unlock()

		return err
	}

	go s.awaitStartup(ctx, gen)

	return nil
}

// awaitStartup probes until the daemon answers, then flips to active
// and starts the health loop. Gives up once ctx is canceled or the
// generation moves on (deliberate stop during startup).
func (s *Supervisor) awaitStartup(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		stale := gen != s.healthGen || !s.state.DaemonStarting
		s.mu.Unlock()
		if stale {
			return
		}

		state, err := s.client.Probe(ctx, s.opts.ProbeTimeout)

		s.mu.Lock()
		if gen != s.healthGen || !s.state.DaemonStarting {
			s.mu.Unlock()
			return
		}

		if err != nil || !state.Healthy() {
			s.lastProbeAt = s.now()
			if err != nil {
				s.lastProbeError = err.Error()
			}
			s.mu.Unlock()

			continue
		}

		s.state.DaemonStarting = false
		s.state.DaemonActive = true
		s.startupDone = true
		s.lastProbeAt = s.now()
		s.lastProbeError = ""
		s.mu.Unlock()

		s.bus.Publish(TopicDaemonStarted, "daemon answered first probe")
		s.startHealthLoop()

		return
	}
}

// StopDaemon deliberately stops the daemon. DaemonStopping is raised
// before anything else so an unlucky in-flight probe timeout cannot be
// misreported as a crash.
func (s *Supervisor) StopDaemon(ctx context.Context) error {
	ctx, span := observability.Tracer("supervisor").Start(ctx, "supervisor.StopDaemon")
	defer span.End()

	s.mu.Lock()
	s.state.DaemonStopping = true
	s.healthGen++
	cancel := s.healthCancel
	s.healthCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	err := s.proc.Stop(ctx)

	s.mu.Lock()
	s.state.DaemonStopping = false
	s.state.DaemonActive = false
	s.state.DaemonStarting = false
	s.mu.Unlock()

	s.bus.Publish(TopicDaemonStopped, "daemon stopped")

	return err
}

// ResetTimeouts clears the timeout counter and the crash latch. It is
// the only way out of the crashed state and is invoked by an explicit
// user-initiated restart; probing resumes when that restart goes
// through StartDaemon, not here.
func (s *Supervisor) ResetTimeouts() {
	s.mu.Lock()
	s.state.ConsecutiveTimeouts = 0
	s.state.DaemonCrashed = false
	s.mu.Unlock()
}

// NoteDiagnostic feeds one out-of-band daemon diagnostic line into the
// supervisor. Hardware-error text is only matched while startup is in
// progress; a latched error clears after enough healthy probes.
func (s *Supervisor) NoteDiagnostic(line string) {
	s.mu.Lock()
	starting := s.state.DaemonStarting
	latched := s.state.HardwareError != nil
	s.mu.Unlock()

	if !starting || latched {
		return
	}

	lower := strings.ToLower(line)
	for _, pattern := range hardwarePatterns {
		if strings.Contains(lower, pattern) {
			s.mu.Lock()
			s.state.HardwareError = &HardwareError{Pattern: pattern, Line: line}
			s.mu.Unlock()

			s.logger.Warn("hardware error detected during startup", "pattern", pattern, "line", line)
			s.bus.Publish(TopicHardwareError, line)

			return
		}
	}
}

// SetPermissionsGranted records the OS permission state.
func (s *Supervisor) SetPermissionsGranted(granted bool) {
	s.mu.Lock()
	s.permissionsGranted = granted
	s.mu.Unlock()
}

// SetPermissionRestartPending records that a permission-driven restart
// is in progress.
func (s *Supervisor) SetPermissionRestartPending(pending bool) {
	s.mu.Lock()
	s.permissionRestartPending = pending
	s.mu.Unlock()
}

// BeginDeviceDetection opens the device-detection grace window.
func (s *Supervisor) BeginDeviceDetection() {
	s.mu.Lock()
	s.deviceDetectionStartedAt = s.now()
	s.mu.Unlock()
}

// SetDevicePresent records whether the robot is physically connected.
func (s *Supervisor) SetDevicePresent(present bool) {
	s.mu.Lock()
	s.devicePresent = present
	s.mu.Unlock()
}

// BeginTransition opens a transition animation window of duration d.
func (s *Supervisor) BeginTransition(d time.Duration) {
	s.mu.Lock()
	s.transitionUntil = s.now().Add(d)
	s.mu.Unlock()
}

// RefreshDaemonVersion reads the daemon's version/info document.
func (s *Supervisor) RefreshDaemonVersion(ctx context.Context) error {
	status, err := s.client.GetStatus(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.daemonVersion = status.Version
	s.mu.Unlock()

	return nil
}

// PlayMove forwards a fire-and-forget move command.
func (s *Supervisor) PlayMove(ctx context.Context, name string) error {
	return s.client.PlayMove(ctx, name)
}

// StopMove forwards a fire-and-forget stop command.
func (s *Supervisor) StopMove(ctx context.Context) error {
	return s.client.StopMove(ctx)
}

// CurrentView derives the active view from the current state.
func (s *Supervisor) CurrentView() View {
	return SelectView(s.viewInputs())
}

func (s *Supervisor) viewInputs() ViewInputs {
	s.mu.Lock()
	in := ViewInputs{
		Now:                      s.now(),
		PermissionsGranted:       s.permissionsGranted,
		PermissionRestartPending: s.permissionRestartPending,
		UpdateMinDwell:           s.opts.UpdateMinDwell,
		DeviceDetectionStartedAt: s.deviceDetectionStartedAt,
		DeviceGraceWindow:        s.opts.DeviceGraceWindow,
		DevicePresent:            s.devicePresent,
		DaemonStarting:           s.state.DaemonStarting,
		HardwareErrorLatched:     s.state.HardwareError != nil,
		TransitionUntil:          s.transitionUntil,
		DaemonStopping:           s.state.DaemonStopping,
		DaemonActive:             s.state.DaemonActive,
	}
	s.mu.Unlock()

	if s.opts.UpdateActive != nil {
		in.UpdateActive = s.opts.UpdateActive()
	}
	if s.opts.UpdateCheckStartedAt != nil {
		in.UpdateCheckStartedAt = s.opts.UpdateCheckStartedAt()
	}

	return in
}

// Snapshot returns a consistent copy of the supervisor state for
// read-only observers.
func (s *Supervisor) Snapshot() Snapshot {
	in := s.viewInputs()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:          s.state,
		DevicePresent:  s.devicePresent,
		Permissions:    s.permissionsGranted,
		View:           SelectView(in),
		DaemonVersion:  s.daemonVersion,
		LastProbeAt:    s.lastProbeAt,
		LastProbeError: s.lastProbeError,
	}

	if s.state.HardwareError != nil {
		hw := *s.state.HardwareError
		snap.HardwareError = &hw
	}

	snap.InstalledApps = append([]string(nil), s.installedApps...)

	snap.Jobs = make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		snap.Jobs = append(snap.Jobs, job.copyLocked())
	}
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].ID < snap.Jobs[j].ID })

	return snap
}

// Shutdown cancels every poll loop. Jobs already terminal keep their
// scheduled cleanup; running jobs stop polling immediately.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.healthGen++
	cancel := s.healthCancel
	s.healthCancel = nil
	cancels := make([]context.CancelFunc, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.cancel != nil {
			cancels = append(cancels, job.cancel)
			job.cancel = nil
		}
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, c := range cancels {
		c()
	}
}
