// Package notify defines the typed notifications the poller delivers to the
// presentation layer.
package notify

import "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"

// Event names used when notifications are carried over an events.Bus.
const (
	SerialBuffer    = "serial_buffer"
	SerialSend      = "serial_send"
	SerialReceive   = "serial_receive"
	SerialOK        = "serial_ok"
	SerialError     = "serial_error"
	SerialRunEnd    = "serial_run_end"
	SerialClear     = "serial_clear"
	StatusMessage   = "status_message"
	StateChanged    = "state_changed"
	PositionUpdated = "position_updated"
	GStateUpdated   = "g_state_updated"
	ProbeUpdated    = "probe_updated"
	GenericUpdate   = "generic_update"
	RunProgress     = "run_progress"
	BufferFill      = "buffer_fill"
)

// All lists every event name in a stable order.
var All = []string{
	SerialBuffer, SerialSend, SerialReceive, SerialOK, SerialError,
	SerialRunEnd, SerialClear, StatusMessage, StateChanged, PositionUpdated,
	GStateUpdated, ProbeUpdated, GenericUpdate, RunProgress, BufferFill,
}

// Sink receives the poller's notifications. All methods are called from the
// poller goroutine, one at a time, in tick order.
type Sink interface {
	SerialBuffer(line string)
	SerialSend(line string)
	SerialReceive(line string)
	SerialOK(line string)
	SerialError(line string)
	SerialRunEnd(line string)
	SerialClear()
	StatusMessage(msg string)
	StateChanged(state, color string)
	PositionUpdated(pos link.Position)
	GStateUpdated()
	ProbeUpdated()
	GenericUpdate(name string)
	RunProgress(completed, total int)
	BufferFill(percent float64)
}
