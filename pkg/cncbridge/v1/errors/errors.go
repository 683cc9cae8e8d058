package errors

import (
	"errors"
	"fmt"
)

// ConfigError represents an error encountered while loading the bridge
// configuration or wiring a component with invalid options.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that a configuration document failed schema,
// version or logical validation.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// ObserverError records a state observer that failed while being notified of a
// change to Key. Panicked is true when the failure was a recovered panic rather
// than a returned error. Delivery to the remaining observers always continues.
type ObserverError struct {
	Key      string
	Panicked bool
	Cause    error
}

func NewObserverError(key string, panicked bool, cause error) *ObserverError {
	return &ObserverError{Key: key, Panicked: panicked, Cause: cause}
}
func (e *ObserverError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("observer for key '%s' panicked: %v", e.Key, e.Cause)
	}
	return fmt.Sprintf("observer for key '%s' failed: %v", e.Key, e.Cause)
}
func (e *ObserverError) Unwrap() error { return e.Cause }

// HandlerError records an event bus subscriber that failed while handling Event.
type HandlerError struct {
	Event    string
	Panicked bool
	Cause    error
}

func NewHandlerError(event string, panicked bool, cause error) *HandlerError {
	return &HandlerError{Event: event, Panicked: panicked, Cause: cause}
}
func (e *HandlerError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("handler for event '%s' panicked: %v", e.Event, e.Cause)
	}
	return fmt.Sprintf("handler for event '%s' failed: %v", e.Event, e.Cause)
}
func (e *HandlerError) Unwrap() error { return e.Cause }

// StepError wraps a failure inside one step of a poller tick. The tick carries
// on with its next step; the error is logged and returned from Tick.
type StepError struct {
	Step     string
	Panicked bool
	Cause    error
}

func NewStepError(step string, panicked bool, cause error) *StepError {
	return &StepError{Step: step, Panicked: panicked, Cause: cause}
}
func (e *StepError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("tick step '%s' panicked: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("tick step '%s' failed: %v", e.Step, e.Cause)
}
func (e *StepError) Unwrap() error { return e.Cause }

// PanicError carries the value recovered from a panicking callback.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// FromPanic converts a recovered value into an error, keeping an error value intact.
func FromPanic(recovered interface{}) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return &PanicError{Value: recovered}
}

// IsObserverError reports whether err contains an ObserverError.
func IsObserverError(err error) bool {
	var oe *ObserverError
	return errors.As(err, &oe)
}

// IsHandlerError reports whether err contains a HandlerError.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}
