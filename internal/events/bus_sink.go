package events

import (
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/events"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/notify"
)

// BusSink publishes poller notifications as named events on a bus. Event
// names are the notify constants; arguments are the typed payload in the
// order the Sink method declares them (a link.Position travels as one value).
type BusSink struct {
	bus events.Bus
	log bridgelog.Logger
}

// NewBusSink creates a sink over bus. A nil bus yields a sink that drops
// every notification.
func NewBusSink(bus events.Bus, log bridgelog.Logger) *BusSink {
	if log == nil {
		panic("BusSink requires a non-nil logger")
	}
	if bus == nil {
		bus = NewNoOpEventBus()
	}
	return &BusSink{bus: bus, log: log.With("component", "BusSink")}
}

// emit forwards to the bus. Handler failures were already logged by the bus;
// here they are only noted at debug level so the poller is never affected.
func (s *BusSink) emit(event string, args ...interface{}) {
	if err := s.bus.Emit(event, args...); err != nil {
		s.log.Debugf("Notification '%s' had failing subscribers", event)
	}
}

// Each notification is emitted under its notify event name.
func (s *BusSink) SerialBuffer(line string)  { s.emit(notify.SerialBuffer, line) }
func (s *BusSink) SerialSend(line string)    { s.emit(notify.SerialSend, line) }
func (s *BusSink) SerialReceive(line string) { s.emit(notify.SerialReceive, line) }
func (s *BusSink) SerialOK(line string)      { s.emit(notify.SerialOK, line) }
func (s *BusSink) SerialError(line string)   { s.emit(notify.SerialError, line) }
func (s *BusSink) SerialRunEnd(line string)  { s.emit(notify.SerialRunEnd, line) }
func (s *BusSink) SerialClear()              { s.emit(notify.SerialClear) }
func (s *BusSink) StatusMessage(msg string)  { s.emit(notify.StatusMessage, msg) }
func (s *BusSink) GStateUpdated()            { s.emit(notify.GStateUpdated) }
func (s *BusSink) ProbeUpdated()             { s.emit(notify.ProbeUpdated) }
func (s *BusSink) GenericUpdate(name string) { s.emit(notify.GenericUpdate, name) }
func (s *BusSink) BufferFill(percent float64) {
	s.emit(notify.BufferFill, percent)
}

func (s *BusSink) StateChanged(state, color string) {
	s.emit(notify.StateChanged, state, color)
}

func (s *BusSink) PositionUpdated(pos link.Position) {
	s.emit(notify.PositionUpdated, pos)
}

func (s *BusSink) RunProgress(completed, total int) {
	s.emit(notify.RunProgress, completed, total)
}

var _ notify.Sink = (*BusSink)(nil)
