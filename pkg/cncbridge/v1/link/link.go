// Package link defines the narrow interfaces between the background
// communication goroutine that talks to the controller and the poller that
// republishes its output. Producers only enqueue messages and raise flags;
// everything else happens on the poller's goroutine.
package link

// Kind tags a message produced by the communication goroutine.
type Kind int

const (
	// KindBuffer reports a line queued into the controller's input buffer.
	KindBuffer Kind = iota
	// KindSend reports a line written to the serial port.
	KindSend
	// KindReceive reports a raw response line.
	KindReceive
	// KindOK reports an acknowledged command.
	KindOK
	// KindError reports a rejected command.
	KindError
	// KindRunEnd reports the end of a job run.
	KindRunEnd
	// KindClear asks consumers to drop buffered, unacknowledged display state.
	KindClear
)

var kindNames = [...]string{
	KindBuffer:  "buffer",
	KindSend:    "send",
	KindReceive: "receive",
	KindOK:      "ok",
	KindError:   "error",
	KindRunEnd:  "run_end",
	KindClear:   "clear",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Message is one entry of the message queue. Text is a single line and may be
// empty for KindClear.
type Message struct {
	Kind Kind
	Text string
}

// MessageSource is the consumer side of the FIFO message queue.
type MessageSource interface {
	// TryPop returns the oldest message without blocking.
	TryPop() (Message, bool)
	// Len reports the number of queued messages.
	Len() int
}

// CommandSource is the consumer side of the out-of-band command queue.
type CommandSource interface {
	TryPop() (string, bool)
}

// Connection states reported before the controller sends its first status.
const (
	StateNotConnected = "Not connected"
	StateConnected    = "Connected"
)

// Position carries the work and machine coordinates of the tool.
type Position struct {
	WX, WY, WZ float64
	MX, MY, MZ float64
}

// Flags are raised by the producer and consumed by the poller. Every Take
// method reads and clears its flag atomically, so a flag raised again while the
// poller is publishing is picked up on the next tick instead of being lost.
type Flags interface {
	TakePositionUpdate() bool
	TakeGStateUpdate() bool
	TakeProbeUpdate() bool
	// TakeNamedUpdate returns the pending update token, if any.
	TakeNamedUpdate() (string, bool)
	// TakeUploadedFile returns the path of a file dropped by a remote client.
	TakeUploadedFile() (string, bool)
}

// Machine exposes the controller status parsed by the producer.
type Machine interface {
	// State returns the controller state string, e.g. "Idle" or "Hold:0".
	State() string
	// Alarm reports whether the controller is latched in an alarm.
	Alarm() bool
	Position() Position
	// SetPaused records whether the controller is in a feed hold.
	SetPaused(paused bool)
}

// Run exposes the counters of the active job run.
type Run interface {
	Running() bool
	TotalLines() int
	SentLines() int
	// QueueDepth is the number of lines still waiting to be sent.
	QueueDepth() int
	// BufferFill is the controller buffer usage in percent (0-100).
	BufferFill() float64
}

// Controller performs actions the poller triggers on the communication layer.
type Controller interface {
	// ExecuteCommand runs cmd as if the operator had typed it.
	ExecuteCommand(cmd string) error
	// Load opens the file at path as the current program.
	Load(path string) error
	// RunEnded finalizes the active run. It must clear Running before the
	// next tick.
	RunEnded()
}

// Sender is everything the poller consumes from the communication layer.
type Sender interface {
	Messages() MessageSource
	Commands() CommandSource
	Flags
	Machine
	Run
	Controller
}
