package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/robokit-dev/panel/internal/buildinfo"
	"github.com/robokit-dev/panel/internal/config"
)

// Phase is the user-visible update lifecycle state.
type Phase int

const (
	// PhaseIdle means no check is running and no update is pending.
	PhaseIdle Phase = iota
	// PhaseChecking means a remote version check is in flight.
	PhaseChecking
	// PhaseAvailable means a newer release was found.
	PhaseAvailable
	// PhaseDownloading means the release artifact is being downloaded.
	PhaseDownloading
	// PhaseInstalled means the new binary is in place.
	PhaseInstalled
	// PhaseError means the last check or download failed.
	PhaseError
)

// String returns the phase's log label.
func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "checking"
	case PhaseAvailable:
		return "available"
	case PhaseDownloading:
		return "downloading"
	case PhaseInstalled:
		return "installed"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

// ErrOffline is returned when the local connectivity predicate says the
// machine has no network, before any remote call is attempted.
var ErrOffline = errors.New("no network connection available")

// ErrStalled aborts a download that made no progress for the whole
// stall window.
var ErrStalled = errors.New("download stalled")

// CheckerOptions configures a Checker. Zero values select the defaults
// from the config package.
type CheckerOptions struct {
	Updater        *Updater
	Logger         *slog.Logger
	CurrentVersion string

	Timeout      time.Duration
	MaxRetries   uint
	BackoffBase  time.Duration
	StallTimeout time.Duration

	// Connectivity is the cheap local predicate consulted before any
	// remote call. It must not touch the network.
	Connectivity func() bool

	// OnProgress receives the smoothed download percentage.
	OnProgress func(percent float64)

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Status is a read-only snapshot of the checker.
type Status struct {
	Phase          Phase
	RetryCount     uint
	Progress       float64
	LatestVersion  string
	CurrentVersion string
	Err            string
}

// Checker runs the update state machine: check with bounded retries,
// then download and install with stall detection.
type Checker struct {
	opts CheckerOptions

	mu sync.Mutex
	// checking is the exclusivity guard shared by CheckForUpdates and
	// DownloadAndInstall. It is independent of phase so a re-entrant
	// trigger is rejected even while phase already moved on (e.g. to
	// Error) for display purposes.
	checking       bool
	phase          Phase
	retryCount     uint
	info           *Info
	lastErr        string
	checkStartedAt time.Time
	smoother       Smoother
}

// NewChecker creates a Checker with defaults filled in.
func NewChecker(opts CheckerOptions) *Checker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultUpdateCheckTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = config.DefaultUpdateMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = config.DefaultUpdateBackoffBase
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = config.DefaultDownloadStallTimeout
	}
	if opts.Connectivity == nil {
		opts.Connectivity = HasConnectivity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}

	return &Checker{opts: opts}
}

// CheckForUpdates runs one guarded update check. A call while another
// check or download is outstanding is a no-op that returns immediately.
func (c *Checker) CheckForUpdates(ctx context.Context) (*Info, error) {
	c.mu.Lock()
	if c.checking {
		c.mu.Unlock()
		c.opts.Logger.Debug("update check already in flight, ignoring")

		return nil, nil
	}
	c.checking = true
	c.phase = PhaseChecking
	c.retryCount = 0
	c.lastErr = ""
	c.checkStartedAt = c.opts.Now()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.checking = false
		c.mu.Unlock()
	}()

	// Fail fast on a known-offline machine instead of burning the
	// network timeout budget confirming it.
	if !c.opts.Connectivity() {
		c.fail(ErrOffline)
		return nil, ErrOffline
	}

	var lastErr error

	for attempt := uint(0); ; attempt++ {
		checkCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		info, err := c.opts.Updater.CheckLatest(checkCtx, c.opts.CurrentVersion)
		cancel()

		if err == nil {
			return c.checkSucceeded(info), nil
		}

		if isNotFound(err) && buildinfo.IsDev() {
			// A missing release manifest on a dev build just means
			// there is nothing published to update to.
			c.opts.Logger.Debug("no release manifest found for dev build", "error", err)
			c.mu.Lock()
			c.phase = PhaseIdle
			c.mu.Unlock()

			return &Info{
				CurrentVersion: c.opts.CurrentVersion,
				LatestVersion:  c.opts.CurrentVersion,
			}, nil
		}

		if !recoverable(err) {
			c.fail(err)
			return nil, err
		}

		lastErr = err
		if attempt >= c.opts.MaxRetries {
			break
		}

		c.mu.Lock()
		c.retryCount = attempt + 1
		c.mu.Unlock()

		delay := c.opts.BackoffBase * (1 << attempt)
		c.opts.Logger.Warn("update check failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)

		if sleepErr := c.opts.Sleep(ctx, delay); sleepErr != nil {
			c.fail(sleepErr)
			return nil, sleepErr
		}
	}

	err := fmt.Errorf("update check failed after %d retries: %w", c.opts.MaxRetries, lastErr)
	c.fail(err)

	return nil, err
}

func (c *Checker) checkSucceeded(info *Info) *Info {
	c.mu.Lock()
	c.info = info
	c.retryCount = 0
	if info.UpdateAvailable {
		c.phase = PhaseAvailable
	} else {
		c.phase = PhaseIdle
	}
	c.mu.Unlock()

	state := &State{
		LastCheckedAt:  c.opts.Now(),
		LatestVersion:  info.LatestVersion,
		CurrentVersion: info.CurrentVersion,
		ReleaseURL:     info.ReleaseURL,
	}
	if err := SaveState(state); err != nil {
		c.opts.Logger.Warn("could not cache update check result", "error", err)
	}

	if info.UpdateAvailable {
		c.opts.Logger.Info("update available",
			"current", info.CurrentVersion, "latest", info.LatestVersion)
	}

	return info
}

func (c *Checker) fail(err error) {
	c.mu.Lock()
	c.phase = PhaseError
	c.lastErr = err.Error()
	c.mu.Unlock()

	c.opts.Logger.Error("update check failed", "error", err)
}

// Status returns a snapshot of the checker state.
func (c *Checker) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Phase:          c.phase,
		RetryCount:     c.retryCount,
		Progress:       c.smoother.Displayed(),
		CurrentVersion: c.opts.CurrentVersion,
		Err:            c.lastErr,
	}
	if c.info != nil {
		st.LatestVersion = c.info.LatestVersion
	}

	return st
}

// ViewActive reports whether the update UI should be showing: checking,
// downloading, an update pending, or an error on display.
func (c *Checker) ViewActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseChecking, PhaseAvailable, PhaseDownloading, PhaseError:
		return true
	default:
		return false
	}
}

// CheckStartedAt returns when the most recent check began. The view
// router uses it for the minimum-dwell hold.
func (c *Checker) CheckStartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.checkStartedAt
}

// ResetError returns an errored checker to idle so a later check starts
// from a clean slate.
func (c *Checker) ResetError() {
	c.mu.Lock()
	if c.phase == PhaseError {
		c.phase = PhaseIdle
		c.lastErr = ""
	}
	c.mu.Unlock()
}

// recoverable reports whether a check error is worth retrying. Network
// interruptions are; everything else (malformed manifest, explicit HTTP
// failure) is surfaced immediately.
func recoverable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"timeout",
		"timed out",
		"deadline exceeded",
		"no such host",
		"network is unreachable",
		"temporary failure",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}

// HasConnectivity is the default connectivity predicate: any up,
// non-loopback interface with an address counts. Purely local, never a
// network round trip.
func HasConnectivity() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		// Can't tell; let the remote call decide.
		return true
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}

	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
