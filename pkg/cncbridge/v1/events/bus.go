package events

import "reflect"

// Handler receives the arguments passed to Emit for the event it is registered
// on. A returned error (or a panic) does not stop delivery to later handlers.
type Handler interface {
	Handle(args ...interface{}) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(args ...interface{}) error

// Handle calls f.
func (f HandlerFunc) Handle(args ...interface{}) error { return f(args...) }

type funcHandler struct {
	fn HandlerFunc
}

func (h *funcHandler) Handle(args ...interface{}) error { return h.fn(args...) }

// NewHandler wraps fn with pointer identity so it can be passed to Off later.
func NewHandler(fn HandlerFunc) Handler {
	return &funcHandler{fn: fn}
}

// SameHandler reports whether a and b refer to the same subscription.
func SameHandler(a, b Handler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Bus is a synchronous, named-event publish/subscribe mechanism.
type Bus interface {
	// On subscribes h to event. Subscribing the same handler twice is a no-op.
	On(event string, h Handler)
	// Off removes h from event. Unknown handlers are ignored.
	Off(event string, h Handler)
	// Emit calls every handler subscribed to event at the time of the call,
	// in subscription order, on the calling goroutine. It returns the joined
	// errors of handlers that failed; delivery never stops early.
	Emit(event string, args ...interface{}) error
	// Clear removes all handlers for event, or for every event when event is "".
	Clear(event string)
}
