// Package config assembles the process-wide tunables for the execution
// model: the reconciliation back-off schedule, the maintenance-mode fix
// cap, wake_at clamp bounds, the scheduler's soft per-run timeout and scan
// pace, and the per-run cost cap (spec.md §6, §7). Grounded on the
// functional-options pattern used throughout the teacher
// (`mongo.Options`, `executor.Option`, `engine.WorkflowStartRequest`) plus
// optional `gopkg.in/yaml.v3` file loading.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalmesh/core/execmodel"
	"github.com/signalmesh/core/mutationpolicy"
)

// Config holds every tunable the execution model needs at wiring time.
// Zero-value fields are filled in by Default; Load applies a YAML file's
// values on top of Default.
type Config struct {
	Backoff mutationpolicy.BackoffConfig `yaml:"backoff"`

	// MaintenanceFixCap is the number of maintainer cycles allowed before a
	// workflow moves to status='error' (spec.md §6, §8).
	MaintenanceFixCap int `yaml:"maintenance_fix_cap"`

	// SessionSoftTimeout is the Engine's per-handler-step soft timeout
	// (spec.md §4.4 "implementation-chosen soft timeout").
	SessionSoftTimeout time.Duration `yaml:"session_soft_timeout"`

	// ScanRate paces how many scheduler ticks run per second when the
	// caller drives Scheduler.Run in a tight loop.
	ScanRate float64 `yaml:"scan_rate"`

	// RunCostCap is the per-run cost cap, in microdollars (spec.md §6
	// "per-run cost cap"); zero means no cap. Config only carries the
	// value: neither execmodel.Manager nor the scheduler reads it, so no
	// cap is enforced on handler runs.
	RunCostCap int64 `yaml:"run_cost_cap"`

	// WakeClampMin/WakeClampMax bound a consumer's requested wake_at
	// (spec.md §4.4, §6's documented "wake-at clamp bounds" config
	// surface). Flow into execmodel.Manager.WakeClampMin/WakeClampMax at
	// wiring time.
	WakeClampMin time.Duration `yaml:"wake_clamp_min"`
	WakeClampMax time.Duration `yaml:"wake_clamp_max"`
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithBackoff overrides the reconciliation back-off schedule.
func WithBackoff(b mutationpolicy.BackoffConfig) Option {
	return func(c *Config) { c.Backoff = b }
}

// WithMaintenanceFixCap overrides the maintenance-cycle cap.
func WithMaintenanceFixCap(n int) Option {
	return func(c *Config) { c.MaintenanceFixCap = n }
}

// WithSessionSoftTimeout overrides the per-handler-step soft timeout.
func WithSessionSoftTimeout(d time.Duration) Option {
	return func(c *Config) { c.SessionSoftTimeout = d }
}

// WithScanRate overrides the scheduler's tick pace.
func WithScanRate(ticksPerSecond float64) Option {
	return func(c *Config) { c.ScanRate = ticksPerSecond }
}

// WithRunCostCap overrides the per-run cost cap, in microdollars.
func WithRunCostCap(microdollars int64) Option {
	return func(c *Config) { c.RunCostCap = microdollars }
}

// WithWakeClamp overrides the wake_at clamp bounds.
func WithWakeClamp(min, max time.Duration) Option {
	return func(c *Config) {
		c.WakeClampMin = min
		c.WakeClampMax = max
	}
}

// Default returns the compiled-in defaults, matching spec.md's own stated
// defaults where it names one (reconciliation back-off capped at 1 hour,
// maintenance fix cap of 3).
func Default(opts ...Option) Config {
	c := Config{
		Backoff:            mutationpolicy.DefaultBackoffConfig(),
		MaintenanceFixCap:  3,
		SessionSoftTimeout: 2 * time.Minute,
		ScanRate:           20,
		WakeClampMin:       time.Duration(execmodel.DefaultWakeClampMin) * time.Millisecond,
		WakeClampMax:       time.Duration(execmodel.DefaultWakeClampMax) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Load reads a YAML file at path and applies its values on top of Default,
// then layers opts over the result. A missing file is not an error — it is
// equivalent to passing no overrides, since every field in Config already
// has a usable default.
func Load(path string, opts ...Option) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// no file, defaults stand
	default:
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c, nil
}
