package metrics

import (
	"errors"

	bridgemetrics "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cncbridge"

// PrometheusRegistryProvider implements the RegistryProvider interface
// using a standard Prometheus registry.
type PrometheusRegistryProvider struct {
	registry *prometheus.Registry
}

// NewPrometheusRegistryProvider creates a provider over a fresh registry.
func NewPrometheusRegistryProvider() *PrometheusRegistryProvider {
	return &PrometheusRegistryProvider{
		registry: prometheus.NewRegistry(),
	}
}

// Registry returns the underlying Prometheus registry.
func (p *PrometheusRegistryProvider) Registry() *prometheus.Registry {
	return p.registry
}

var _ bridgemetrics.RegistryProvider = (*PrometheusRegistryProvider)(nil)

// Register registers c on reg. When an identical collector is already
// registered, the existing one is returned so several components can share
// it. Any other registration error is returned with c.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// NewObserverFailureCounter counts state observer failures.
func NewObserverFailureCounter(reg prometheus.Registerer) (prometheus.Counter, error) {
	return Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "observer_failures_total",
		Help:      "Total number of state observers that returned an error or panicked.",
	}))
}

// NewHandlerFailureCounter counts event handler failures per event.
func NewHandlerFailureCounter(reg prometheus.Registerer) (*prometheus.CounterVec, error) {
	return Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "handler_failures_total",
		Help:      "Total number of event handlers that returned an error or panicked.",
	}, []string{"event"}))
}

// NewNotificationCounter counts notifications delivered on the bus per event.
func NewNotificationCounter(reg prometheus.Registerer) (*prometheus.CounterVec, error) {
	return Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "notifications_total",
		Help:      "Total number of notifications emitted per event name.",
	}, []string{"event"}))
}
