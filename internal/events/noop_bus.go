package events

import "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/events"

// NoOpEventBus accepts subscriptions and emissions and does nothing with
// them. BusSink falls back to it when no bus is configured, so the poller
// can run headless.
type NoOpEventBus struct{}

// NewNoOpEventBus returns a bus that discards everything.
func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

func (n *NoOpEventBus) On(string, events.Handler)         {}
func (n *NoOpEventBus) Off(string, events.Handler)        {}
func (n *NoOpEventBus) Emit(string, ...interface{}) error { return nil }
func (n *NoOpEventBus) Clear(string)                      {}

var _ events.Bus = (*NoOpEventBus)(nil)
