package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

// Validate runs the checks the schema cannot express and returns every
// problem found.
func Validate(c *Config) []error {
	var errs []error
	addf := func(format string, args ...interface{}) {
		errs = append(errs, bridgeerrors.NewValidationError(fmt.Sprintf(format, args...), nil))
	}

	poll, ok := checkDuration("poll_interval", c.PollInterval, addf)
	drain, ok2 := checkDuration("drain_budget", c.DrainBudget, addf)
	if ok && ok2 && drain >= poll {
		addf("drain_budget (%s) must be shorter than poll_interval (%s)", drain, poll)
	}

	if c.Log.Level != "" && !validLogLevels[strings.ToLower(c.Log.Level)] {
		addf("log.level '%s' is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "" && !validLogFormats[strings.ToLower(c.Log.Format)] {
		addf("log.format '%s' must be 'text' or 'json'", c.Log.Format)
	}

	if addr := c.Metrics.ListenAddress; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addf("metrics.listen_address '%s' is not a host:port pair: %v", addr, err)
		}
	}

	for state, color := range c.StateColors.Table {
		if strings.TrimSpace(state) == "" {
			addf("state_colors.table contains an empty state name")
		}
		if strings.TrimSpace(color) == "" {
			addf("state_colors.table entry '%s' has an empty color", state)
		}
	}

	checkDuration("connect.delay", c.Connect.Delay, addf)
	checkDuration("connect.max_delay", c.Connect.MaxDelay, addf)
	if c.Connect.Jitter < 0 || c.Connect.Jitter > 1 {
		addf("connect.jitter must be between 0 and 1, got %g", c.Connect.Jitter)
	}

	checkDuration("simulator.status_interval", c.Simulator.StatusInterval, addf)
	checkDuration("simulator.line_interval", c.Simulator.LineInterval, addf)
	if c.Simulator.JobLines < 0 {
		addf("simulator.job_lines cannot be negative")
	}
	if c.Simulator.FailConnects < 0 {
		addf("simulator.fail_connects cannot be negative")
	}
	return errs
}

// checkDuration parses a positive duration. Empty values are valid and
// report ok=false so callers skip cross-field checks.
func checkDuration(field, value string, addf func(string, ...interface{})) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		addf("%s '%s' is not a valid duration", field, value)
		return 0, false
	}
	if d <= 0 {
		addf("%s must be positive, got '%s'", field, value)
		return 0, false
	}
	return d, true
}
