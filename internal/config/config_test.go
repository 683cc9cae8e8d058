package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gxo-labs/cncbridge/internal/config"
	"github.com/gxo-labs/cncbridge/internal/machine"
	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
schemaVersion: "v1.0.0"
poll_interval: 250ms
drain_budget: 50ms
banner_markers: "[$<"
log:
  level: debug
  format: json
metrics:
  listen_address: "127.0.0.1:9464"
state_colors:
  table:
    Idle: "#00ff00"
  alarm: "#ff0000"
connect:
  attempts: 5
  delay: 100ms
  max_delay: 2s
  backoff_factor: 1.5
  jitter: 0.2
simulator:
  enabled: true
  job_lines: 40
  fail_connects: 2
`

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := config.Load([]byte(fullConfig), "bridge.yaml")
	require.NoError(t, err)

	assert.Equal(t, "bridge.yaml", cfg.FilePath)
	assert.Equal(t, 250*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 50*time.Millisecond, cfg.GetDrainBudget())
	assert.Equal(t, "[$<", cfg.GetBannerMarkers())
	assert.Equal(t, "debug", cfg.GetLogLevel())
	assert.Equal(t, "json", cfg.GetLogFormat())
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.ListenAddress)

	table := cfg.GetColorTable()
	assert.Equal(t, "#00ff00", table.Resolve("Idle", false))
	assert.Equal(t, "#ff0000", table.Resolve("Tool", true))
	assert.Equal(t, machine.DefaultColor, table.Resolve("Tool", false))

	assert.Equal(t, 5, cfg.Connect.GetAttempts())
	assert.Equal(t, 100*time.Millisecond, cfg.Connect.GetDelay())
	assert.Equal(t, 2*time.Second, cfg.Connect.GetMaxDelay())
	assert.Equal(t, 1.5, cfg.Connect.GetBackoffFactor())
	assert.Equal(t, 40, cfg.Simulator.JobLines)
	assert.Equal(t, 2, cfg.Simulator.FailConnects)
}

func TestLoad_MinimalConfigUsesDefaults(t *testing.T) {
	cfg, err := config.Load([]byte("schemaVersion: v1.2.0\n"), "min.yaml")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultPollInterval, cfg.GetPollInterval())
	assert.Equal(t, config.DefaultDrainBudget, cfg.GetDrainBudget())
	assert.Equal(t, config.DefaultBannerMarkers, cfg.GetBannerMarkers())
	assert.Equal(t, "info", cfg.GetLogLevel())
	assert.Equal(t, "text", cfg.GetLogFormat())
	assert.Equal(t, config.DefaultConnectAttempt, cfg.Connect.GetAttempts())
	assert.Equal(t, 2.0, cfg.Connect.GetBackoffFactor())
	assert.Zero(t, cfg.Connect.GetMaxDelay())
	assert.False(t, cfg.Simulator.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name         string
		yaml         string
		expectConfig bool
		expectValid  bool
	}{
		{name: "Empty document", yaml: "  \n", expectConfig: true},
		{name: "Missing schemaVersion", yaml: "poll_interval: 200ms\n", expectConfig: true},
		{name: "Unknown top-level field", yaml: "schemaVersion: v1.0.0\npoll: 1s\n", expectConfig: true},
		{name: "Bad duration format", yaml: "schemaVersion: v1.0.0\npoll_interval: fast\n", expectConfig: true},
		{name: "Wrong major version", yaml: "schemaVersion: v2.0.0\n", expectValid: true},
		{name: "Unparsable version", yaml: "schemaVersion: banana\n", expectValid: true},
		{name: "Drain longer than poll", yaml: "schemaVersion: v1.0.0\npoll_interval: 100ms\ndrain_budget: 150ms\n", expectValid: true},
		{name: "Unknown log level", yaml: "schemaVersion: v1.0.0\nlog:\n  level: loud\n", expectValid: true},
		{name: "Bad listen address", yaml: "schemaVersion: v1.0.0\nmetrics:\n  listen_address: nowhere\n", expectValid: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Load([]byte(tc.yaml), "test.yaml")
			require.Error(t, err)
			assert.Nil(t, cfg)
			if tc.expectConfig {
				var cfgErr *bridgeerrors.ConfigError
				assert.ErrorAs(t, err, &cfgErr)
			}
			if tc.expectValid {
				var valErr *bridgeerrors.ValidationError
				assert.ErrorAs(t, err, &valErr)
			}
		})
	}
}

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := &config.Config{
		SchemaVersion: "v1.0.0",
		PollInterval:  "-1s",
		Log:           config.LogConfig{Level: "loud", Format: "xml"},
		Connect:       config.ConnectConfig{Jitter: 2},
		Simulator:     config.SimulatorConfig{JobLines: -1},
	}
	errs := config.Validate(cfg)
	assert.Len(t, errs, 5)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.FilePath)

	_, err = config.LoadFromFile(filepath.Join(dir, "missing.yaml"))
	var cfgErr *bridgeerrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = config.LoadFromFile("")
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.Simulator.Enabled)
	assert.Empty(t, config.Validate(cfg))
	assert.Equal(t, "Grbl 1.1h ['$' for help]", cfg.Simulator.GetBanner())
}
