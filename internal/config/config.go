// Package config handles panel configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (PANEL_*)
//  2. Config file (~/.config/panel/config.yaml)
//  3. Built-in defaults
//
// The supervisor tuning values are named constants, not flags: they encode
// behavior contracts (crash detection timing, poll cadence, cleanup delays)
// and are only overridable for tests and development setups.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultDaemonURL is the local daemon HTTP endpoint.
	DefaultDaemonURL = "http://localhost:8000"
	// DefaultDaemonCommand is the daemon binary launched by 'panel daemon start'.
	DefaultDaemonCommand = "robokit-daemon"
	// DefaultDaemonPort is the daemon listen port, used for the
	// kill-by-port cleanup path when no process handle is tracked.
	DefaultDaemonPort = 8000

	// DefaultProbeTimeout bounds a single health probe request.
	DefaultProbeTimeout = 2 * time.Second
	// DefaultProbeInterval is the health probe cadence.
	DefaultProbeInterval = 1330 * time.Millisecond
	// DefaultMaxConsecutiveTimeouts is the crash-detection threshold.
	DefaultMaxConsecutiveTimeouts = 3
	// DefaultHealthyProbesToClear is how many consecutive healthy probes
	// clear a latched hardware error after startup completes.
	DefaultHealthyProbesToClear = 3

	// DefaultJobPollInterval is the per-job status poll cadence.
	DefaultJobPollInterval = 500 * time.Millisecond
	// DefaultJobFailureCeiling is the consecutive poll-failure limit
	// before a job is forced into Failed.
	DefaultJobFailureCeiling = 20
	// DefaultJobSettleDelay separates terminal detection from the
	// installed-apps refresh it triggers.
	DefaultJobSettleDelay = 300 * time.Millisecond
	// DefaultJobSuccessLinger keeps a completed job visible briefly.
	DefaultJobSuccessLinger = 100 * time.Millisecond
	// DefaultJobFailureLinger keeps a failed job visible long enough
	// for the failure to be seen.
	DefaultJobFailureLinger = 8 * time.Second

	// DefaultUpdateCheckTimeout bounds the whole remote update check.
	DefaultUpdateCheckTimeout = 30 * time.Second
	// DefaultUpdateMaxRetries bounds retries of recoverable check errors.
	DefaultUpdateMaxRetries = 3
	// DefaultUpdateBackoffBase seeds the exponential retry delay.
	DefaultUpdateBackoffBase = 1 * time.Second
	// DefaultDownloadStallTimeout aborts a download after this long
	// without a progress event.
	DefaultDownloadStallTimeout = 60 * time.Second

	// DefaultUpdateViewDwell is the minimum time the update view stays
	// visible once a check begins.
	DefaultUpdateViewDwell = 2 * time.Second
	// DefaultDeviceGraceWindow is how long device detection may report
	// "absent" after startup before the DeviceNotFound view shows.
	DefaultDeviceGraceWindow = 3 * time.Second
)

// Config holds the panel configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	v.SetDefault("daemon.url", DefaultDaemonURL)
	v.SetDefault("daemon.command", DefaultDaemonCommand)
	v.SetDefault("daemon.args", []string{})
	v.SetDefault("daemon.port", DefaultDaemonPort)
	v.SetDefault("daemon.probe_timeout", DefaultProbeTimeout)
	v.SetDefault("daemon.probe_interval", DefaultProbeInterval)
	v.SetDefault("daemon.max_timeouts", DefaultMaxConsecutiveTimeouts)
	v.SetDefault("jobs.poll_interval", DefaultJobPollInterval)
	v.SetDefault("jobs.failure_ceiling", DefaultJobFailureCeiling)
	v.SetDefault("update.check_timeout", DefaultUpdateCheckTimeout)
	v.SetDefault("update.max_retries", DefaultUpdateMaxRetries)
	v.SetDefault("update.backoff_base", DefaultUpdateBackoffBase)

	// Config file location
	home, err := os.UserHomeDir()
	if err == nil {
		configDir := filepath.Join(home, ".config", "panel")
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix("PANEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

// DaemonURL returns the daemon base URL.
func (c *Config) DaemonURL() string {
	return c.v.GetString("daemon.url")
}

// DaemonCommand returns the daemon launch command.
func (c *Config) DaemonCommand() string {
	return c.v.GetString("daemon.command")
}

// DaemonArgs returns extra arguments for the daemon launch command.
func (c *Config) DaemonArgs() []string {
	return c.v.GetStringSlice("daemon.args")
}

// DaemonPort returns the daemon listen port.
func (c *Config) DaemonPort() int {
	return c.v.GetInt("daemon.port")
}

// ProbeTimeout returns the per-probe request timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return c.v.GetDuration("daemon.probe_timeout")
}

// ProbeInterval returns the health probe cadence.
func (c *Config) ProbeInterval() time.Duration {
	return c.v.GetDuration("daemon.probe_interval")
}

// MaxTimeouts returns the consecutive-timeout crash threshold.
func (c *Config) MaxTimeouts() uint {
	return c.v.GetUint("daemon.max_timeouts")
}

// JobPollInterval returns the per-job poll cadence.
func (c *Config) JobPollInterval() time.Duration {
	return c.v.GetDuration("jobs.poll_interval")
}

// JobFailureCeiling returns the per-job consecutive poll-failure limit.
func (c *Config) JobFailureCeiling() uint {
	return c.v.GetUint("jobs.failure_ceiling")
}

// UpdateCheckTimeout returns the outer update-check timeout.
func (c *Config) UpdateCheckTimeout() time.Duration {
	return c.v.GetDuration("update.check_timeout")
}

// UpdateMaxRetries returns the update-check retry budget.
func (c *Config) UpdateMaxRetries() uint {
	return c.v.GetUint("update.max_retries")
}

// UpdateBackoffBase returns the base delay for exponential retry backoff.
func (c *Config) UpdateBackoffBase() time.Duration {
	return c.v.GetDuration("update.backoff_base")
}

// All returns all configuration as a map.
func (c *Config) All() map[string]any {
	return c.v.AllSettings()
}
