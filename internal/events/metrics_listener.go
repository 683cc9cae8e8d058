package events

import (
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/events"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsEventListener subscribes to every named event on a bus and counts
// deliveries per event name.
type MetricsEventListener struct {
	bus      events.Bus
	log      bridgelog.Logger
	counter  *prometheus.CounterVec
	handlers map[string]events.Handler
}

// NewMetricsEventListener creates a listener. counter must have a single
// "event" label.
func NewMetricsEventListener(bus events.Bus, counter *prometheus.CounterVec, log bridgelog.Logger) *MetricsEventListener {
	if bus == nil || counter == nil || log == nil {
		panic("MetricsEventListener requires a non-nil Bus, CounterVec, and Logger")
	}
	return &MetricsEventListener{
		bus:      bus,
		log:      log.With("component", "MetricsEventListener"),
		counter:  counter,
		handlers: make(map[string]events.Handler),
	}
}

// Start subscribes to each of names. Calling Start again for a name that is
// already subscribed does nothing.
func (l *MetricsEventListener) Start(names []string) {
	for _, name := range names {
		if _, ok := l.handlers[name]; ok {
			continue
		}
		event := name
		h := events.NewHandler(func(args ...interface{}) error {
			l.counter.WithLabelValues(event).Inc()
			return nil
		})
		l.handlers[event] = h
		l.bus.On(event, h)
	}
	l.log.Debugf("Metrics listener subscribed to %d events", len(l.handlers))
}

// Stop removes every subscription made by Start.
func (l *MetricsEventListener) Stop() {
	for name, h := range l.handlers {
		l.bus.Off(name, h)
		delete(l.handlers, name)
	}
}
