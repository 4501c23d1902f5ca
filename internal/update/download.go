package update

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	selfupdate "github.com/creativeprojects/go-selfupdate"

	"github.com/robokit-dev/panel/internal/daemon"
)

const (
	// smoothingFactor is the fraction of the remaining distance the
	// displayed progress moves per event.
	smoothingFactor = 0.35
	// minProgressStep keeps the animation from asymptoting short of the
	// target.
	minProgressStep = 0.5

	downloadChunkSize = 32 * 1024
)

// Smoother animates a displayed percentage toward a raw target. The
// target only moves forward, and the displayed value never jumps past
// it, so the rendered progress is monotone and free of backward blips
// even when the raw reports are jittery.
type Smoother struct {
	target    float64
	displayed float64
}

// SetTarget records a new raw percentage. Values below the current
// target are ignored.
func (s *Smoother) SetTarget(raw float64) {
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	if raw > s.target {
		s.target = raw
	}
}

// Advance moves the displayed value one animation step toward the
// target and returns it.
func (s *Smoother) Advance() float64 {
	step := (s.target - s.displayed) * smoothingFactor
	if step < minProgressStep {
		step = minProgressStep
	}

	s.displayed += step
	if s.displayed > s.target {
		s.displayed = s.target
	}

	return s.displayed
}

// Displayed returns the current displayed value without advancing.
func (s *Smoother) Displayed() float64 {
	return s.displayed
}

// DownloadAndInstall downloads the release found by the last check and
// replaces the current executable with it. It holds the same guard as
// CheckForUpdates for its whole lifetime, so a check triggered during a
// download is a no-op rather than a phase clobber. On success the
// process relaunches itself; a relaunch failure is logged but not
// returned as an error because the new binary is already installed.
func (c *Checker) DownloadAndInstall(ctx context.Context) error {
	c.mu.Lock()
	if c.checking {
		c.mu.Unlock()
		c.opts.Logger.Debug("check or download already in flight, ignoring")

		return nil
	}

	info := c.info
	if info == nil || info.Release == nil {
		c.mu.Unlock()
		return errors.New("no release available to install")
	}

	c.checking = true
	c.phase = PhaseDownloading
	c.smoother = Smoother{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.checking = false
		c.mu.Unlock()
	}()

	execPath, err := os.Executable()
	if err != nil {
		err = fmt.Errorf("find executable path: %w", err)
		c.fail(err)

		return err
	}

	if err := c.download(ctx, info.Release, execPath); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.phase = PhaseInstalled
	c.mu.Unlock()

	c.opts.Logger.Info("update installed", "version", info.LatestVersion)

	if err := Relaunch(); err != nil {
		c.opts.Logger.Warn("relaunch after update failed, restart manually", "error", err)
	}

	return nil
}

// download streams the release asset with a stall watchdog: every chunk
// of progress rearms the timer, and a full stall window with no bytes
// aborts the transfer.
func (c *Checker) download(ctx context.Context, release *selfupdate.Release, execPath string) error {
	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stalled atomic.Bool
	watchdog := time.AfterFunc(c.opts.StallTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, release.AssetURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if stalled.Load() {
			return stallError(fmt.Errorf("%w: no response within %s", ErrStalled, c.opts.StallTimeout))
		}

		return fmt.Errorf("download release asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download release asset: unexpected status %d", resp.StatusCode)
	}

	var (
		buf     bytes.Buffer
		written int64
		total   = resp.ContentLength
		chunk   = make([]byte, downloadChunkSize)
	)

	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			watchdog.Reset(c.opts.StallTimeout)
			buf.Write(chunk[:n])
			written += int64(n)
			c.reportProgress(written, total)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if stalled.Load() {
				return stallError(fmt.Errorf("%w: no progress within %s", ErrStalled, c.opts.StallTimeout))
			}

			return fmt.Errorf("read release asset: %w", readErr)
		}
	}

	decompressed, err := selfupdate.DecompressCommand(
		&buf, release.AssetURL, filepath.Base(execPath), runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return fmt.Errorf("decompress release asset: %w", err)
	}

	binary, err := io.ReadAll(decompressed)
	if err != nil {
		return fmt.Errorf("extract release binary: %w", err)
	}

	if err := atomicWrite(execPath, binary, 0o755); err != nil {
		return fmt.Errorf("replace executable: %w", err)
	}

	return nil
}

// stallError classifies a watchdog abort so callers can branch on the
// kind; errors.Is(err, ErrStalled) keeps working through the cause.
func stallError(cause error) error {
	return &daemon.Error{Kind: daemon.KindStallTimeout, Op: "download update", Cause: cause}
}

func (c *Checker) reportProgress(written, total int64) {
	if total <= 0 {
		// Unknown size: no percentage to report.
		return
	}

	raw := 100 * float64(written) / float64(total)

	c.mu.Lock()
	c.smoother.SetTarget(raw)
	displayed := c.smoother.Advance()
	c.mu.Unlock()

	if c.opts.OnProgress != nil {
		c.opts.OnProgress(displayed)
	}
}
