// internal/state/observable_store.go
package state

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
	bridgestate "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/state"
	"github.com/prometheus/client_golang/prometheus"
)

// ObservableStore is the machine state map shared between the poller and the
// presentation layer. A single mutex protects the map and the observer table;
// observers are always invoked after that mutex has been released, so an
// observer may freely call back into the store.
type ObservableStore struct {
	mu        sync.Mutex
	data      map[string]interface{}
	observers map[string][]bridgestate.Observer

	log      bridgelog.Logger
	onError  func(*bridgeerrors.ObserverError)
	failures prometheus.Counter
}

// Option configures an ObservableStore at construction.
type Option func(*ObservableStore)

// WithDefaults seeds the store with initial values. No observer is notified.
func WithDefaults(values map[string]interface{}) Option {
	return func(s *ObservableStore) {
		for k, v := range values {
			s.data[k] = v
		}
	}
}

// WithErrorHandler installs a callback that receives every observer failure
// after it has been logged. It runs on the goroutine that triggered delivery.
func WithErrorHandler(fn func(*bridgeerrors.ObserverError)) Option {
	return func(s *ObservableStore) { s.onError = fn }
}

// WithFailureCounter counts observer failures on c.
func WithFailureCounter(c prometheus.Counter) Option {
	return func(s *ObservableStore) { s.failures = c }
}

// NewObservableStore creates an empty store. Panics if log is nil.
func NewObservableStore(log bridgelog.Logger, opts ...Option) *ObservableStore {
	if log == nil {
		panic("ObservableStore requires a non-nil logger")
	}
	s := &ObservableStore{
		data:      make(map[string]interface{}),
		observers: make(map[string][]bridgestate.Observer),
		log:       log.With("component", "ObservableStore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value stored for key, or def when the key is absent.
func (s *ObservableStore) Get(key string, def interface{}) interface{} {
	if v, ok := s.Lookup(key); ok {
		return v
	}
	return def
}

// Lookup returns the value stored for key and whether the key exists.
func (s *ObservableStore) Lookup(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Contains reports whether key has a value.
func (s *ObservableStore) Contains(key string) bool {
	_, ok := s.Lookup(key)
	return ok
}

// Keys returns the stored keys in sorted order.
func (s *ObservableStore) Keys() []string {
	s.mu.Lock()
	keys := slices.Collect(maps.Keys(s.data))
	s.mu.Unlock()
	slices.Sort(keys)
	return keys
}

// GetAll returns a shallow copy of the map. Values are scalars, so the copy is
// safe to hand to another goroutine.
func (s *ObservableStore) GetAll() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data)
}

// Set stores value under key. The write always happens; observers of key and
// of the wildcard are notified with (key, value, old) only when value differs
// from the previous one. Values of different dynamic types always differ, so
// int 0 followed by float64 0 notifies; keep each key to one type.
func (s *ObservableStore) Set(key string, value interface{}) {
	s.mu.Lock()
	old, changed := s.writeLocked(key, value)
	if !changed {
		s.mu.Unlock()
		return
	}
	observers := s.observersLocked(key)
	s.mu.Unlock()

	s.notify(key, value, old, observers)
}

// Update writes every pair in one batch, in sorted key order.
func (s *ObservableStore) Update(values map[string]interface{}) {
	_ = s.Batch(func(tx bridgestate.Tx) error {
		tx.Update(values)
		return nil
	})
}

// Batch runs fn in a fresh transaction and flushes its coalesced changes when
// fn returns or panics.
func (s *ObservableStore) Batch(fn func(tx bridgestate.Tx) error) error {
	t := &tx{store: s, pending: make(map[string]*pendingChange)}
	return t.Batch(fn)
}

// Observe registers obs for key, or for every key when key is the wildcard.
// Registering the same observer twice for a key is a no-op.
func (s *ObservableStore) Observe(key string, obs bridgestate.Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.observers[key] {
		if bridgestate.SameObserver(existing, obs) {
			return
		}
	}
	s.observers[key] = append(s.observers[key], obs)
}

// Unobserve removes obs from key. Unknown observers are ignored.
func (s *ObservableStore) Unobserve(key string, obs bridgestate.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.observers[key]
	for i, existing := range list {
		if bridgestate.SameObserver(existing, obs) {
			s.observers[key] = slices.Delete(slices.Clone(list), i, i+1)
			if len(s.observers[key]) == 0 {
				delete(s.observers, key)
			}
			return
		}
	}
}

// writeLocked stores value and reports the previous value and whether the
// value changed. Caller holds s.mu.
func (s *ObservableStore) writeLocked(key string, value interface{}) (interface{}, bool) {
	old := s.data[key]
	s.data[key] = value
	return old, !valuesEqual(old, value)
}

// observersLocked snapshots the key-specific observers followed by the
// wildcard observers. Caller holds s.mu.
func (s *ObservableStore) observersLocked(key string) []bridgestate.Observer {
	specific := s.observers[key]
	var wildcard []bridgestate.Observer
	if key != bridgestate.Wildcard {
		wildcard = s.observers[bridgestate.Wildcard]
	}
	if len(specific)+len(wildcard) == 0 {
		return nil
	}
	out := make([]bridgestate.Observer, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	return append(out, wildcard...)
}

// notify delivers one change to every observer in order. Must not be called
// with s.mu held.
func (s *ObservableStore) notify(key string, newValue, oldValue interface{}, observers []bridgestate.Observer) {
	for _, obs := range observers {
		if err := s.callObserver(obs, key, newValue, oldValue); err != nil {
			s.reportFailure(err)
		}
	}
}

func (s *ObservableStore) callObserver(obs bridgestate.Observer, key string, newValue, oldValue interface{}) (oerr *bridgeerrors.ObserverError) {
	defer func() {
		if r := recover(); r != nil {
			oerr = bridgeerrors.NewObserverError(key, true, bridgeerrors.FromPanic(r))
		}
	}()
	if err := obs.OnChange(key, newValue, oldValue); err != nil {
		return bridgeerrors.NewObserverError(key, false, err)
	}
	return nil
}

func (s *ObservableStore) reportFailure(err *bridgeerrors.ObserverError) {
	s.log.Errorf("State observer failed for key '%s': %v", err.Key, err)
	if s.failures != nil {
		s.failures.Inc()
	}
	if s.onError != nil {
		s.onError(err)
	}
}

// valuesEqual compares two stored values. Comparable values of the same type
// use ==; anything else falls back to reflect.DeepEqual so that slices or maps
// never cause a runtime panic.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

type pendingChange struct {
	value interface{}
	old   interface{}
}

// tx is the batch transaction handed to Batch callbacks. Its depth and pending
// change-set belong to the tx alone; it is meant to be used only by the
// goroutine running the batch.
type tx struct {
	store   *ObservableStore
	depth   int
	done    bool
	pending map[string]*pendingChange
	order   []string
}

var _ bridgestate.Tx = (*tx)(nil)

func (t *tx) Get(key string, def interface{}) interface{} { return t.store.Get(key, def) }
func (t *tx) Lookup(key string) (interface{}, bool)       { return t.store.Lookup(key) }
func (t *tx) Contains(key string) bool                    { return t.store.Contains(key) }
func (t *tx) Keys() []string                              { return t.store.Keys() }
func (t *tx) GetAll() map[string]interface{}              { return t.store.GetAll() }
func (t *tx) Depth() int                                  { return t.depth }

// Set writes through to the store and records the change for the flush. A
// key written several times keeps the value it had before the batch as old
// and the last written value as new. A key set back to its old value is
// dropped at flush.
func (t *tx) Set(key string, value interface{}) {
	if t.done {
		t.store.Set(key, value)
		return
	}
	s := t.store
	s.mu.Lock()
	old, changed := s.writeLocked(key, value)
	s.mu.Unlock()
	if !changed {
		return
	}
	if p, ok := t.pending[key]; ok {
		p.value = value
		return
	}
	t.pending[key] = &pendingChange{value: value, old: old}
	t.order = append(t.order, key)
}

func (t *tx) Update(values map[string]interface{}) {
	_ = t.Batch(func(inner bridgestate.Tx) error {
		keys := slices.Collect(maps.Keys(values))
		slices.Sort(keys)
		for _, k := range keys {
			inner.Set(k, values[k])
		}
		return nil
	})
}

func (t *tx) Batch(fn func(tx bridgestate.Tx) error) error {
	if t.done {
		return fmt.Errorf("batch already committed")
	}
	t.depth++
	defer func() {
		t.depth--
		if t.depth == 0 {
			t.flush()
		}
	}()
	return fn(t)
}

// flush snapshots the pending changes and their observer lists under the
// store lock, then delivers them in first-change order with the lock released.
// A key whose final value equals its value before the batch is not delivered.
func (t *tx) flush() {
	t.done = true
	if len(t.order) == 0 {
		return
	}
	order, pending := t.order, t.pending
	t.order, t.pending = nil, make(map[string]*pendingChange)

	type delivery struct {
		key       string
		change    *pendingChange
		observers []bridgestate.Observer
	}
	s := t.store
	deliveries := make([]delivery, 0, len(order))
	s.mu.Lock()
	for _, key := range order {
		change := pending[key]
		if valuesEqual(change.value, change.old) {
			continue
		}
		deliveries = append(deliveries, delivery{key: key, change: change, observers: s.observersLocked(key)})
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		s.notify(d.key, d.change.value, d.change.old, d.observers)
	}
}

var _ bridgestate.Store = (*ObservableStore)(nil)
