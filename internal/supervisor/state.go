package supervisor

import "time"

// HardwareError is a latched hardware fault detected from daemon
// diagnostic output during startup.
type HardwareError struct {
	Pattern string // the pattern that matched
	Line    string // the diagnostic line, verbatim
}

// State is the supervisor's belief about the daemon. It is owned by the
// Supervisor and only ever read by other layers through Snapshot().
type State struct {
	DaemonActive   bool
	DaemonStarting bool
	DaemonStopping bool
	DaemonCrashed  bool

	// ConsecutiveTimeouts counts unanswered probes. It resets to zero
	// on any successful probe. DaemonCrashed latches true when it
	// reaches MaxTimeouts while the daemon was active and not being
	// stopped deliberately.
	ConsecutiveTimeouts uint
	MaxTimeouts         uint

	HardwareError *HardwareError
	StartupError  string
}

// Snapshot is a point-in-time copy of the supervisor's state plus the
// derived inputs the UI needs alongside it.
type Snapshot struct {
	State

	DevicePresent  bool
	Permissions    bool
	View           View
	Jobs           []Job
	InstalledApps  []string
	DaemonVersion  string
	LastProbeAt    time.Time
	LastProbeError string
}
