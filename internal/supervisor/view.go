package supervisor

import "time"

// View is the single active UI view. It is derived, never stored:
// SelectView recomputes it from inputs on every state change.
type View int

const (
	// ViewPermissions asks the user to grant OS permissions.
	ViewPermissions View = iota
	// ViewUpdateRequired shows update checking/downloading/errors.
	ViewUpdateRequired
	// ViewAwaitingDevice is the device-detection grace window.
	ViewAwaitingDevice
	// ViewDeviceNotFound means the robot is not physically connected.
	ViewDeviceNotFound
	// ViewStarting shows daemon startup (or a latched hardware error).
	ViewStarting
	// ViewTransitioning covers the start/stop animation window.
	ViewTransitioning
	// ViewStopping shows daemon shutdown.
	ViewStopping
	// ViewReadyToStart offers the start button.
	ViewReadyToStart
	// ViewActive is the normal operating view.
	ViewActive
)

// String returns the view's log label.
func (v View) String() string {
	switch v {
	case ViewPermissions:
		return "permissions"
	case ViewUpdateRequired:
		return "update_required"
	case ViewAwaitingDevice:
		return "awaiting_device"
	case ViewDeviceNotFound:
		return "device_not_found"
	case ViewStarting:
		return "starting"
	case ViewTransitioning:
		return "transitioning"
	case ViewStopping:
		return "stopping"
	case ViewReadyToStart:
		return "ready_to_start"
	default:
		return "active"
	}
}

// ViewInputs aggregates everything view selection depends on. All
// transient views carry a start timestamp plus a minimum duration so
// they never flash faster than human-perceivable, independent of how
// fast the underlying async work finished.
type ViewInputs struct {
	Now time.Time

	PermissionsGranted       bool
	PermissionRestartPending bool

	// UpdateActive is true while a check or download is running, an
	// update is available, or a check/download error is showing.
	UpdateActive         bool
	UpdateCheckStartedAt time.Time
	UpdateMinDwell       time.Duration

	DeviceDetectionStartedAt time.Time
	DeviceGraceWindow        time.Duration
	DevicePresent            bool

	DaemonStarting       bool
	HardwareErrorLatched bool

	TransitionUntil time.Time

	DaemonStopping bool
	DaemonActive   bool
}

// dwellOpen reports whether a transient view entered at start must keep
// control: the view relinquishes only once now-start >= min.
func dwellOpen(now, start time.Time, min time.Duration) bool {
	if start.IsZero() {
		return false
	}

	return now.Sub(start) < min
}

// SelectView maps the aggregate inputs to exactly one view. The guard
// conditions are evaluated top to bottom and the first match wins; this
// ordering is a contract, not an implementation detail.
func SelectView(in ViewInputs) View {
	switch {
	case !in.PermissionsGranted || in.PermissionRestartPending:
		return ViewPermissions
	case in.UpdateActive || dwellOpen(in.Now, in.UpdateCheckStartedAt, in.UpdateMinDwell):
		return ViewUpdateRequired
	case dwellOpen(in.Now, in.DeviceDetectionStartedAt, in.DeviceGraceWindow):
		return ViewAwaitingDevice
	case !in.DevicePresent:
		return ViewDeviceNotFound
	case in.DaemonStarting || in.HardwareErrorLatched:
		return ViewStarting
	case in.TransitionUntil.After(in.Now):
		return ViewTransitioning
	case in.DaemonStopping:
		return ViewStopping
	case in.DevicePresent && !in.DaemonActive && !in.DaemonStarting:
		return ViewReadyToStart
	default:
		return ViewActive
	}
}
