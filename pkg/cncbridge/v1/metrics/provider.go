package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider gives bridge components the Prometheus registry they
// register their collectors on. The host decides how the registry is exposed.
type RegistryProvider interface {
	Registry() *prometheus.Registry
}
