package v1

import (
	"context"
	"time"

	"github.com/gxo-labs/cncbridge/internal/machine"
	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/metrics"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/state"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/tracing"
)

// MonitorV1 defines the public interface of the bridge poller.
type MonitorV1 interface {
	// Tick runs one full step sequence. Step failures are logged and returned
	// joined; they never stop the remaining steps.
	Tick(ctx context.Context) error
	// Start runs Tick on a fixed interval until ctx is done or Stop is called.
	Start(ctx context.Context) error
	// Stop cancels the schedule and waits for an in-flight tick to finish.
	Stop()
	// InsertCount returns the banner counter maintained while draining.
	InsertCount() int

	MetricsRegistryProvider() metrics.RegistryProvider
	TracerProvider() tracing.TracerProvider

	// Setter methods for configuring the poller programmatically.
	SetStateStore(store state.Store) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
	SetPollInterval(interval time.Duration) error
	SetDrainBudget(budget time.Duration) error
	SetBannerMarkers(markers string) error
	SetColorTable(table machine.ColorTable) error
	SetClock(now func() time.Time) error
}

// MonitorOption configures the poller at creation.
type MonitorOption func(MonitorV1) error

// WithStateStore makes the poller publish machine state into store.
func WithStateStore(store state.Store) MonitorOption {
	return func(m MonitorV1) error {
		if store == nil {
			return bridgeerrors.NewConfigError("state store cannot be nil", nil)
		}
		return m.SetStateStore(store)
	}
}

// WithMetricsRegistryProvider sets the registry the poller's collectors are
// registered on.
func WithMetricsRegistryProvider(provider metrics.RegistryProvider) MonitorOption {
	return func(m MonitorV1) error {
		if provider == nil {
			return bridgeerrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return m.SetMetricsRegistryProvider(provider)
	}
}

// WithTracerProvider sets the provider used for one span per tick.
func WithTracerProvider(provider tracing.TracerProvider) MonitorOption {
	return func(m MonitorV1) error {
		if provider == nil {
			return bridgeerrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return m.SetTracerProvider(provider)
	}
}

// WithPollInterval sets the tick period.
func WithPollInterval(interval time.Duration) MonitorOption {
	return func(m MonitorV1) error { return m.SetPollInterval(interval) }
}

// WithDrainBudget bounds the time one tick spends draining messages.
func WithDrainBudget(budget time.Duration) MonitorOption {
	return func(m MonitorV1) error { return m.SetDrainBudget(budget) }
}

// WithBannerMarkers sets the first characters that start a multi-line
// response.
func WithBannerMarkers(markers string) MonitorOption {
	return func(m MonitorV1) error { return m.SetBannerMarkers(markers) }
}

// WithColorTable sets the state to color mapping.
func WithColorTable(table machine.ColorTable) MonitorOption {
	return func(m MonitorV1) error { return m.SetColorTable(table) }
}

// WithClock replaces the wall clock used for the drain budget.
func WithClock(now func() time.Time) MonitorOption {
	return func(m MonitorV1) error {
		if now == nil {
			return bridgeerrors.NewConfigError("clock cannot be nil", nil)
		}
		return m.SetClock(now)
	}
}
