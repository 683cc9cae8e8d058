package events

import (
	"errors"
	"slices"
	"sync"

	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/events"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
	"github.com/prometheus/client_golang/prometheus"
)

// SyncEventBus implements events.Bus with synchronous, in-order delivery on
// the emitting goroutine. The subscriber table is guarded by a mutex that is
// never held while a handler runs.
//
// Failure policy matches the state store: a handler that returns an error or
// panics is logged, counted and reported, and delivery carries on with the
// next handler.
type SyncEventBus struct {
	mu          sync.Mutex
	subscribers map[string][]events.Handler

	log      bridgelog.Logger
	onError  func(*bridgeerrors.HandlerError)
	failures *prometheus.CounterVec
}

// BusOption configures a SyncEventBus.
type BusOption func(*SyncEventBus)

// WithHandlerErrorHandler receives every handler failure after it is logged.
func WithHandlerErrorHandler(fn func(*bridgeerrors.HandlerError)) BusOption {
	return func(b *SyncEventBus) { b.onError = fn }
}

// WithHandlerFailureCounter counts failures per event name. The vector must
// have a single "event" label.
func WithHandlerFailureCounter(c *prometheus.CounterVec) BusOption {
	return func(b *SyncEventBus) { b.failures = c }
}

// NewSyncEventBus creates an empty bus. Panics if log is nil.
func NewSyncEventBus(log bridgelog.Logger, opts ...BusOption) *SyncEventBus {
	if log == nil {
		panic("SyncEventBus requires a non-nil logger")
	}
	b := &SyncEventBus{
		subscribers: make(map[string][]events.Handler),
		log:         log.With("component", "SyncEventBus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On subscribes h to event. Subscribing the same handler twice is a no-op.
func (b *SyncEventBus) On(event string, h events.Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.subscribers[event] {
		if events.SameHandler(existing, h) {
			return
		}
	}
	b.subscribers[event] = append(b.subscribers[event], h)
}

// Off unsubscribes h from event. Unknown handlers are ignored.
func (b *SyncEventBus) Off(event string, h events.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subscribers[event]
	for i, existing := range list {
		if events.SameHandler(existing, h) {
			b.subscribers[event] = slices.Delete(slices.Clone(list), i, i+1)
			return
		}
	}
}

// Emit snapshots the handlers of event and calls each of them outside the
// lock. Handlers subscribed while Emit is running are not part of this round.
func (b *SyncEventBus) Emit(event string, args ...interface{}) error {
	b.mu.Lock()
	handlers := slices.Clone(b.subscribers[event])
	b.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if herr := b.call(event, h, args); herr != nil {
			b.report(herr)
			errs = append(errs, herr)
		}
	}
	return errors.Join(errs...)
}

func (b *SyncEventBus) call(event string, h events.Handler, args []interface{}) (herr *bridgeerrors.HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			herr = bridgeerrors.NewHandlerError(event, true, bridgeerrors.FromPanic(r))
		}
	}()
	if err := h.Handle(args...); err != nil {
		return bridgeerrors.NewHandlerError(event, false, err)
	}
	return nil
}

func (b *SyncEventBus) report(err *bridgeerrors.HandlerError) {
	b.log.Errorf("Event handler failed for '%s': %v", err.Event, err)
	if b.failures != nil {
		b.failures.WithLabelValues(err.Event).Inc()
	}
	if b.onError != nil {
		b.onError(err)
	}
}

// Clear drops the handlers of event, or of every event when event is empty.
func (b *SyncEventBus) Clear(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event == "" {
		b.subscribers = make(map[string][]events.Handler)
		return
	}
	delete(b.subscribers, event)
}

// Count returns the number of handlers subscribed to event.
func (b *SyncEventBus) Count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[event])
}

var _ events.Bus = (*SyncEventBus)(nil)
