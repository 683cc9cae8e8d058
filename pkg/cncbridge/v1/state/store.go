package state

import "reflect"

// Wildcard is the observer key that receives changes to every key.
const Wildcard = "*"

// Observer is notified after a key changes value. oldValue is the value the key
// held before the change (nil when the key was absent). A returned error never
// stops delivery to other observers; the store reports it to its error handler.
//
// Observers are compared by interface equality for de-duplication, so register
// pointer types or values built with NewObserver, not bare func values.
type Observer interface {
	OnChange(key string, newValue, oldValue interface{}) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(key string, newValue, oldValue interface{}) error

// OnChange calls f.
func (f ObserverFunc) OnChange(key string, newValue, oldValue interface{}) error {
	return f(key, newValue, oldValue)
}

type funcObserver struct {
	fn ObserverFunc
}

func (o *funcObserver) OnChange(key string, newValue, oldValue interface{}) error {
	return o.fn(key, newValue, oldValue)
}

// NewObserver wraps fn in an Observer with pointer identity, so the returned
// value can be registered, de-duplicated and unregistered.
func NewObserver(fn ObserverFunc) Observer {
	return &funcObserver{fn: fn}
}

// SameObserver reports whether a and b are the same registration. Observers
// whose dynamic type is not comparable are never considered equal.
func SameObserver(a, b Observer) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Reader is the read-only view of the machine state map. Implementations must
// be safe for concurrent use.
type Reader interface {
	// Get returns the value for key, or def when the key is absent.
	Get(key string, def interface{}) interface{}
	// Lookup returns the value for key and whether it exists.
	Lookup(key string) (interface{}, bool)
	// Contains reports whether key exists.
	Contains(key string) bool
	// Keys returns the current keys in sorted order.
	Keys() []string
	// GetAll returns a shallow copy of the whole map.
	GetAll() map[string]interface{}
}

// Writer mutates state with change notification.
type Writer interface {
	// Set writes value unconditionally and notifies observers when it differs
	// from the previous value.
	Set(key string, value interface{})
	// Update writes every pair inside a single batch.
	Update(values map[string]interface{})
}

// Tx is a batch in progress. Writes through a Tx are visible to readers
// immediately, but observers are only notified once the outermost batch the
// Tx belongs to returns, with the final value of each changed key.
type Tx interface {
	Reader
	Writer
	// Batch opens a nested batch on the same transaction.
	Batch(fn func(tx Tx) error) error
	// Depth reports the current nesting depth (1 for the outermost batch).
	Depth() int
}

// Store is the observable state store shared between the poller and the
// presentation layer.
type Store interface {
	Reader
	Writer

	// Batch runs fn inside a new transaction. Batch depth is a property of the
	// Tx value, never of the store, so batches opened on different goroutines
	// do not interfere. Pending changes are flushed on every exit path,
	// including a panic in fn. The error returned by fn is returned unchanged.
	Batch(fn func(tx Tx) error) error

	// Observe registers obs for key, or for every key when key is Wildcard.
	// Registering the same observer for the same key twice is a no-op.
	Observe(key string, obs Observer)
	// Unobserve removes obs from key. Unknown observers are ignored.
	Unobserve(key string, obs Observer)
}

// Value reads key from r and converts it to T, returning def when the key is
// missing or holds a value of another type.
func Value[T any](r Reader, key string, def T) T {
	raw, ok := r.Lookup(key)
	if !ok {
		return def
	}
	v, ok := raw.(T)
	if !ok {
		return def
	}
	return v
}
