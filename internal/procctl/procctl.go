// Package procctl spawns and stops the local robot daemon process.
//
// It implements the supervisor's ProcessController contract and keeps a
// bounded ring of recent daemon output lines for diagnostics. Stdout and
// stderr are both scanned: the daemon reports hardware problems as plain
// text on stderr during startup, and those lines are forwarded to the
// supervisor through the OnDiagnostic callback.
package procctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// logRingCapacity bounds the retained daemon output lines.
	logRingCapacity = 50

	defaultStopDeadline = 500 * time.Millisecond
)

// Options configures an ExecController.
type Options struct {
	// Command and Args launch the daemon binary.
	Command string
	Args    []string

	// Port is the daemon's listen port, used for the kill-by-port
	// fallback when the tracked process handle is gone.
	Port int

	Logger *slog.Logger

	// OnDiagnostic receives each daemon output line as it arrives.
	OnDiagnostic func(line string)

	// StopDeadline is how long a SIGTERM gets before escalation.
	StopDeadline time.Duration
}

// ExecController runs the daemon as a child process.
type ExecController struct {
	opts Options

	mu        sync.Mutex
	cmd       *exec.Cmd
	pgid      int
	startedAt time.Time
	ring      []string
	waitDone  chan struct{}
}

// New creates an ExecController.
func New(opts Options) *ExecController {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StopDeadline <= 0 {
		opts.StopDeadline = defaultStopDeadline
	}

	return &ExecController{opts: opts}
}

// Start launches the daemon process. The child gets its own process
// group so escalated signals reach any helpers it forks.
func (c *ExecController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cmd != nil {
		c.mu.Unlock()
		return errors.New("daemon process already running")
	}
	c.mu.Unlock()

	// A previous daemon instance may still hold the port, e.g. after a
	// panel crash left an orphan behind. Clear it before launching.
	c.killByPort(ctx)

	cmd := exec.Command(c.opts.Command, c.opts.Args...) //nolint:gosec // G204: command from controlled configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open daemon stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open daemon stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}

	waitDone := make(chan struct{})

	c.mu.Lock()
	c.cmd = cmd
	c.startedAt = time.Now()
	c.ring = nil
	c.waitDone = waitDone
	c.pgid = 0
	if cmd.Process != nil && cmd.Process.Pid > 0 {
		if pgid, pgErr := syscall.Getpgid(cmd.Process.Pid); pgErr == nil {
			c.pgid = pgid
		}
	}
	c.mu.Unlock()

	c.opts.Logger.Info("daemon process started", "pid", cmd.Process.Pid, "command", c.opts.Command)

	go c.scanOutput(stdout)
	go c.scanOutput(stderr)

	go func() {
		err := cmd.Wait()
		close(waitDone)

		c.mu.Lock()
		if c.cmd == cmd {
			c.cmd = nil
			c.pgid = 0
		}
		c.mu.Unlock()

		if err != nil {
			c.opts.Logger.Warn("daemon process exited", "error", err)
		} else {
			c.opts.Logger.Info("daemon process exited")
		}
	}()

	return nil
}

// Stop terminates the daemon: SIGTERM first, SIGKILL after the stop
// deadline, then a port-based sweep for anything untracked still
// holding the daemon port.
func (c *ExecController) Stop(ctx context.Context) error {
	c.mu.Lock()
	cmd := c.cmd
	pgid := c.pgid
	waitDone := c.waitDone
	c.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		sendSignal(cmd.Process.Pid, pgid, syscall.SIGTERM)

		select {
		case <-waitDone:
		case <-time.After(c.opts.StopDeadline):
			c.opts.Logger.Warn("daemon ignored SIGTERM, escalating", "pid", cmd.Process.Pid)
			sendSignal(cmd.Process.Pid, pgid, syscall.SIGKILL)

			select {
			case <-waitDone:
			case <-time.After(c.opts.StopDeadline):
			}
		}
	}

	c.killByPort(ctx)

	return nil
}

// Running reports whether the tracked daemon process is alive.
func (c *ExecController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cmd != nil
}

// Logs returns the retained daemon output lines, oldest first. Each
// entry is "millis|message" where millis counts from process start.
func (c *ExecController) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.ring...)
}

func (c *ExecController) scanOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		c.recordLine(line)

		if c.opts.OnDiagnostic != nil {
			c.opts.OnDiagnostic(line)
		}
	}
}

func (c *ExecController) recordLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := fmt.Sprintf("%d|%s", time.Since(c.startedAt).Milliseconds(), line)

	c.ring = append(c.ring, entry)
	if len(c.ring) > logRingCapacity {
		c.ring = c.ring[len(c.ring)-logRingCapacity:]
	}
}

// killByPort terminates whatever currently listens on the daemon port.
// Used both before launch (orphan cleanup) and as the last stop resort.
func (c *ExecController) killByPort(ctx context.Context) {
	if c.opts.Port <= 0 {
		return
	}

	out, err := exec.CommandContext(ctx, "lsof", "-ti:"+strconv.Itoa(c.opts.Port)).Output()
	if err != nil || len(out) == 0 {
		// No listener, or lsof unavailable; nothing to sweep.
		return
	}

	pids := parsePIDs(string(out))
	if len(pids) == 0 {
		return
	}

	c.opts.Logger.Warn("processes still holding daemon port, terminating", "port", c.opts.Port, "pids", pids)

	for _, pid := range pids {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	time.Sleep(c.opts.StopDeadline)

	for _, pid := range pids {
		if err := syscall.Kill(pid, 0); err == nil {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
}

func sendSignal(pid, pgid int, sig syscall.Signal) {
	if pgid > 0 {
		if err := syscall.Kill(-pgid, sig); err == nil || errors.Is(err, syscall.ESRCH) {
			return
		}
	}

	if pid <= 0 {
		return
	}

	_ = syscall.Kill(pid, sig)
}

func parsePIDs(out string) []int {
	var pids []int
	for _, field := range strings.Fields(out) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}

	return pids
}
