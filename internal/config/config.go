package config

import (
	"time"

	"github.com/gxo-labs/cncbridge/internal/machine"
)

// Defaults applied when a field is absent or unparsable.
const (
	DefaultPollInterval   = 200 * time.Millisecond
	DefaultDrainBudget    = 100 * time.Millisecond
	DefaultBannerMarkers  = "[$"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultConnectAttempt = 3
	DefaultConnectDelay   = 500 * time.Millisecond
)

// Config is the top-level structure of a bridge configuration file.
type Config struct {
	SchemaVersion string            `yaml:"schemaVersion"`
	PollInterval  string            `yaml:"poll_interval,omitempty"`
	DrainBudget   string            `yaml:"drain_budget,omitempty"`
	BannerMarkers string            `yaml:"banner_markers,omitempty"`
	Log           LogConfig         `yaml:"log,omitempty"`
	Metrics       MetricsConfig     `yaml:"metrics,omitempty"`
	StateColors   StateColorsConfig `yaml:"state_colors,omitempty"`
	Connect       ConnectConfig     `yaml:"connect,omitempty"`
	Simulator     SimulatorConfig   `yaml:"simulator,omitempty"`

	// FilePath is the source file, kept for error messages. Not parsed.
	FilePath string `yaml:"-"`
}

// LogConfig selects the logger level and output format.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address,omitempty"`
}

// StateColorsConfig overrides entries of the built-in state color table.
type StateColorsConfig struct {
	Table   map[string]string `yaml:"table,omitempty"`
	Alarm   string            `yaml:"alarm,omitempty"`
	Default string            `yaml:"default,omitempty"`
}

// ConnectConfig governs retries when opening the controller connection.
type ConnectConfig struct {
	Attempts      int     `yaml:"attempts,omitempty"`
	Delay         string  `yaml:"delay,omitempty"`
	MaxDelay      string  `yaml:"max_delay,omitempty"`
	BackoffFactor float64 `yaml:"backoff_factor,omitempty"`
	Jitter        float64 `yaml:"jitter,omitempty"`
}

// SimulatorConfig drives the built-in controller simulator.
type SimulatorConfig struct {
	Enabled        bool   `yaml:"enabled,omitempty"`
	Banner         string `yaml:"banner,omitempty"`
	StatusInterval string `yaml:"status_interval,omitempty"`
	LineInterval   string `yaml:"line_interval,omitempty"`
	JobLines       int    `yaml:"job_lines,omitempty"`
	FailConnects   int    `yaml:"fail_connects,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SchemaVersion: "v1.0.0",
		Simulator:     SimulatorConfig{Enabled: true},
	}
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetPollInterval returns the poll period, 200ms when unset.
func (c *Config) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, DefaultPollInterval)
}

// GetDrainBudget returns the per-tick drain budget, 100ms when unset.
func (c *Config) GetDrainBudget() time.Duration {
	return parseDurationOr(c.DrainBudget, DefaultDrainBudget)
}

// GetBannerMarkers returns the banner markers, "[$" when unset.
func (c *Config) GetBannerMarkers() string {
	if c.BannerMarkers == "" {
		return DefaultBannerMarkers
	}
	return c.BannerMarkers
}

// GetLogLevel returns the log level, info when unset.
func (c *Config) GetLogLevel() string {
	if c.Log.Level == "" {
		return DefaultLogLevel
	}
	return c.Log.Level
}

// GetLogFormat returns the log format, text when unset.
func (c *Config) GetLogFormat() string {
	if c.Log.Format == "" {
		return DefaultLogFormat
	}
	return c.Log.Format
}

// GetColorTable merges the configured colors over the built-in table.
func (c *Config) GetColorTable() machine.ColorTable {
	return machine.DefaultColorTable().WithOverrides(c.StateColors.Table, c.StateColors.Alarm, c.StateColors.Default)
}

// GetAttempts returns the number of connect attempts.
func (c *ConnectConfig) GetAttempts() int {
	if c.Attempts <= 0 {
		return DefaultConnectAttempt
	}
	return c.Attempts
}

// GetDelay returns the delay before the first retry.
func (c *ConnectConfig) GetDelay() time.Duration {
	return parseDurationOr(c.Delay, DefaultConnectDelay)
}

// GetMaxDelay returns zero (no cap) when unset.
func (c *ConnectConfig) GetMaxDelay() time.Duration {
	return parseDurationOr(c.MaxDelay, 0)
}

// GetBackoffFactor returns the delay multiplier, 2 when unset or below 1.
func (c *ConnectConfig) GetBackoffFactor() float64 {
	if c.BackoffFactor < 1.0 {
		return 2.0
	}
	return c.BackoffFactor
}

// GetStatusInterval returns the status report period.
func (s *SimulatorConfig) GetStatusInterval() time.Duration {
	return parseDurationOr(s.StatusInterval, 250*time.Millisecond)
}

// GetLineInterval returns the job line streaming period.
func (s *SimulatorConfig) GetLineInterval() time.Duration {
	return parseDurationOr(s.LineInterval, 20*time.Millisecond)
}

// GetBanner returns the greeting sent on connect.
func (s *SimulatorConfig) GetBanner() string {
	if s.Banner == "" {
		return "Grbl 1.1h ['$' for help]"
	}
	return s.Banner
}
