// Package link holds the shared mailbox between the goroutine that talks to
// the controller and the poller. Producers push messages and raise flags; the
// poller consumes them through the pkg link interfaces.
package link

import (
	"math"
	"sync"
	"sync/atomic"

	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
)

// Executor performs the actions the poller asks the communication layer for.
type Executor interface {
	ExecuteCommand(cmd string) error
	Load(path string) error
}

// Link implements link.Sender. All producer-side setters are safe to call
// from any goroutine.
type Link struct {
	messages *MessageQueue
	commands *CommandQueue
	exec     Executor
	log      bridgelog.Logger

	mu       sync.Mutex
	state    string
	pos      link.Position
	named    string
	hasNamed bool
	uploaded string

	alarm      atomic.Bool
	paused     atomic.Bool
	posFlag    atomic.Bool
	gstateFlag atomic.Bool
	probeFlag  atomic.Bool

	running    atomic.Bool
	total      atomic.Int64
	sent       atomic.Int64
	queued     atomic.Int64
	bufferFill atomic.Uint64

	onRunEnd func()
}

// Option configures a Link.
type Option func(*Link)

// WithRunEndHook registers fn to be called by RunEnded after the run counters
// are reset.
func WithRunEndHook(fn func()) Option {
	return func(l *Link) { l.onRunEnd = fn }
}

// New creates a Link that delegates commands and loads to exec.
func New(exec Executor, log bridgelog.Logger, opts ...Option) (*Link, error) {
	if exec == nil {
		return nil, bridgeerrors.NewConfigError("link requires a non-nil executor", nil)
	}
	if log == nil {
		return nil, bridgeerrors.NewConfigError("link requires a non-nil logger", nil)
	}
	l := &Link{
		messages: NewMessageQueue(),
		commands: NewCommandQueue(),
		exec:     exec,
		log:      log.With("component", "Link"),
		state:    link.StateNotConnected,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Messages returns the consumer side of the message queue.
func (l *Link) Messages() link.MessageSource { return l.messages }

// Commands returns the consumer side of the command queue.
func (l *Link) Commands() link.CommandSource { return l.commands }

// MessageQueue exposes the producer side of the message queue.
func (l *Link) MessageQueue() *MessageQueue { return l.messages }

// CommandQueue exposes the producer side of the command queue.
func (l *Link) CommandQueue() *CommandQueue { return l.commands }

// --- producer side ---

// SetStatus records a parsed status report and raises the position flag.
func (l *Link) SetStatus(state string, pos link.Position) {
	l.mu.Lock()
	l.state = state
	l.pos = pos
	l.mu.Unlock()
	l.posFlag.Store(true)
}

// SetAlarm latches or clears the alarm condition.
func (l *Link) SetAlarm(alarm bool) { l.alarm.Store(alarm) }

// RaiseGStateUpdate signals that the modal G-state changed.
func (l *Link) RaiseGStateUpdate() { l.gstateFlag.Store(true) }

// RaiseProbeUpdate signals that a probe result arrived.
func (l *Link) RaiseProbeUpdate() { l.probeFlag.Store(true) }

// RaiseNamedUpdate records name as the pending update token, replacing any
// token not yet taken.
func (l *Link) RaiseNamedUpdate(name string) {
	l.mu.Lock()
	l.named, l.hasNamed = name, true
	l.mu.Unlock()
}

// SetUploadedFile records a file dropped by a remote client.
func (l *Link) SetUploadedFile(path string) {
	l.mu.Lock()
	l.uploaded = path
	l.mu.Unlock()
}

// StartRun marks a run of total lines as active with nothing sent yet.
func (l *Link) StartRun(total int) {
	l.total.Store(int64(total))
	l.sent.Store(0)
	l.queued.Store(0)
	l.running.Store(true)
}

// SetProgress updates the sent-line count and the number of lines still queued.
func (l *Link) SetProgress(sent, queued int) {
	l.sent.Store(int64(sent))
	l.queued.Store(int64(queued))
}

// SetBufferFill records the controller buffer usage in percent.
func (l *Link) SetBufferFill(percent float64) {
	l.bufferFill.Store(math.Float64bits(percent))
}

// Paused reports the last value the poller passed to SetPaused.
func (l *Link) Paused() bool { return l.paused.Load() }

// --- consumer side ---

// TakePositionUpdate reports and clears the position flag.
func (l *Link) TakePositionUpdate() bool { return l.posFlag.Swap(false) }

// TakeGStateUpdate reports and clears the G-state flag.
func (l *Link) TakeGStateUpdate() bool { return l.gstateFlag.Swap(false) }

// TakeProbeUpdate reports and clears the probe flag.
func (l *Link) TakeProbeUpdate() bool { return l.probeFlag.Swap(false) }

// TakeNamedUpdate returns and clears the pending update token.
func (l *Link) TakeNamedUpdate() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hasNamed {
		return "", false
	}
	name := l.named
	l.named, l.hasNamed = "", false
	return name, true
}

// TakeUploadedFile returns and clears the path of a dropped file.
func (l *Link) TakeUploadedFile() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.uploaded == "" {
		return "", false
	}
	path := l.uploaded
	l.uploaded = ""
	return path, true
}

// State returns the last reported machine state.
func (l *Link) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Alarm reports whether the alarm condition is latched.
func (l *Link) Alarm() bool { return l.alarm.Load() }

// Position returns the last reported coordinates.
func (l *Link) Position() link.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos
}

// SetPaused records whether the machine is in a hold state.
func (l *Link) SetPaused(paused bool) { l.paused.Store(paused) }

// Running reports whether a run is active.
func (l *Link) Running() bool { return l.running.Load() }

// TotalLines returns the line count of the active run.
func (l *Link) TotalLines() int { return int(l.total.Load()) }

// SentLines returns the number of lines sent so far.
func (l *Link) SentLines() int { return int(l.sent.Load()) }

// QueueDepth returns the number of sent lines not yet acknowledged.
func (l *Link) QueueDepth() int { return int(l.queued.Load()) }

// BufferFill returns the controller buffer usage in percent.
func (l *Link) BufferFill() float64 { return math.Float64frombits(l.bufferFill.Load()) }

// ExecuteCommand passes cmd to the executor.
func (l *Link) ExecuteCommand(cmd string) error {
	l.log.Debugf("Executing injected command '%s'", cmd)
	return l.exec.ExecuteCommand(cmd)
}

// Load passes path to the executor.
func (l *Link) Load(path string) error {
	l.log.Infof("Loading uploaded file '%s'", path)
	return l.exec.Load(path)
}

// RunEnded clears the running state synchronously, so the next tick sees an
// idle link, then calls the run-end hook.
func (l *Link) RunEnded() {
	if !l.running.Swap(false) {
		return
	}
	l.queued.Store(0)
	l.log.Infof("Run finished: %d/%d lines", l.sent.Load(), l.total.Load())
	if l.onRunEnd != nil {
		l.onRunEnd()
	}
}

var _ link.Sender = (*Link)(nil)
