// Package simulator emulates a GRBL-style controller behind a link.Link. It
// plays the part of the serial communication goroutine: it only pushes
// messages, raises flags and updates run counters.
package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gxo-labs/cncbridge/internal/config"
	internallink "github.com/gxo-labs/cncbridge/internal/link"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
)

// plannerBlocks is the size of the emulated controller look-ahead buffer.
const plannerBlocks = 15

// ErrNotConnected is returned for commands issued before Connect succeeded.
var ErrNotConnected = errors.New("controller not connected")

// Simulator is an in-process controller. Attach it to a Link before use.
type Simulator struct {
	cfg config.SimulatorConfig
	log bridgelog.Logger

	mu        sync.Mutex
	link      *internallink.Link
	connected bool
	attempts  int
	state     string
	pos       link.Position
	job       []string
	next      int
}

// New creates a simulator from its configuration section.
func New(cfg config.SimulatorConfig, log bridgelog.Logger) *Simulator {
	if log == nil {
		panic("simulator.New requires a non-nil logger")
	}
	return &Simulator{
		cfg:   cfg,
		log:   log.With("component", "Simulator"),
		state: link.StateNotConnected,
	}
}

// Attach binds the simulator to the link it produces into.
func (s *Simulator) Attach(l *internallink.Link) {
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
}

// Connect opens the emulated port. The first FailConnects calls fail, to
// exercise connection retries.
func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return errors.New("simulator is not attached to a link")
	}
	s.attempts++
	if s.attempts <= s.cfg.FailConnects {
		return fmt.Errorf("serial port busy (attempt %d)", s.attempts)
	}
	s.connected = true
	s.state = "Idle"
	q := s.link.MessageQueue()
	q.Push(link.KindReceive, s.cfg.GetBanner()+"\n")
	q.Push(link.KindReceive, "[MSG:'$H'|'$X' to unlock]\n")
	q.Push(link.KindOK, "ok")
	s.link.SetStatus(s.state, s.pos)
	s.log.Infof("Simulated controller connected")
	return nil
}

// Run produces status reports and streams job lines until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	status := time.NewTicker(s.cfg.GetStatusInterval())
	defer status.Stop()
	lines := time.NewTicker(s.cfg.GetLineInterval())
	defer lines.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-status.C:
			s.ReportStatus()
		case <-lines.C:
			s.Step()
		}
	}
}

// ReportStatus publishes the current state and position.
func (s *Simulator) ReportStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.link.SetStatus(s.state, s.pos)
}

// Step streams one job line: it is buffered, sent, executed and
// acknowledged. It reports whether a line was processed.
func (s *Simulator) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.next >= len(s.job) || !s.link.Running() || strings.HasPrefix(s.state, "Hold") {
		return false
	}
	line := s.job[s.next]
	s.next++

	q := s.link.MessageQueue()
	q.Push(link.KindBuffer, line)
	q.Push(link.KindSend, line)
	s.applyMotion(line)
	q.Push(link.KindOK, "ok")

	remaining := len(s.job) - s.next
	s.link.SetProgress(s.next, 0)
	s.link.SetBufferFill(math.Min(100, float64(remaining)*100/plannerBlocks))
	if remaining == 0 {
		s.link.SetBufferFill(0)
	}
	return true
}

// StartSyntheticJob loads n generated motion lines and starts the run.
func (s *Simulator) StartSyntheticJob(n int) error {
	if n <= 0 {
		return fmt.Errorf("synthetic job needs at least one line, got %d", n)
	}
	job := make([]string, n)
	for i := range job {
		angle := float64(i) * 2 * math.Pi / float64(n)
		job[i] = fmt.Sprintf("G1 X%.3f Y%.3f F600", 10*math.Cos(angle), 10*math.Sin(angle))
	}
	return s.start(job, "synthetic")
}

// RunEnded is installed as the link's run-end hook. It reports the end of
// the job on the message queue and returns the controller to Idle.
func (s *Simulator) RunEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job, s.next = nil, 0
	s.state = "Idle"
	s.link.MessageQueue().Push(link.KindRunEnd, "Run ended")
	s.link.SetStatus(s.state, s.pos)
}

// ExecuteCommand handles a line typed by the operator or injected by a
// pendant.
func (s *Simulator) ExecuteCommand(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if cmd == "" {
		return nil
	}
	q := s.link.MessageQueue()
	q.Push(link.KindSend, cmd)

	upper := strings.ToUpper(cmd)
	switch {
	case upper == "$$":
		q.Push(link.KindReceive, "$0=10")
		q.Push(link.KindReceive, "$1=25")
		q.Push(link.KindReceive, "$110=500.000")
	case upper == "$G":
		q.Push(link.KindReceive, "[GC:G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0]")
		s.link.RaiseGStateUpdate()
	case upper == "$#":
		q.Push(link.KindReceive, "[G54:0.000,0.000,0.000]")
		s.link.RaiseNamedUpdate("wcs")
	case upper == "$H":
		s.pos = link.Position{}
		s.state = "Idle"
		s.link.SetAlarm(false)
	case upper == "$X":
		s.state = "Idle"
		s.link.SetAlarm(false)
		q.Push(link.KindReceive, "[MSG:Caution: Unlocked]")
	case upper == "!":
		s.state = "Hold:0"
		s.link.SetStatus(s.state, s.pos)
		return nil
	case upper == "~":
		if strings.HasPrefix(s.state, "Hold") {
			s.state = s.runState()
		}
		s.link.SetStatus(s.state, s.pos)
		return nil
	case upper == "ALARM":
		s.state = "Alarm"
		s.link.SetAlarm(true)
		q.Push(link.KindError, "ALARM:1")
		s.link.SetStatus(s.state, s.pos)
		return nil
	case strings.HasPrefix(upper, "G38"):
		s.applyMotion(upper)
		q.Push(link.KindReceive, fmt.Sprintf("[PRB:%.3f,%.3f,%.3f:1]", s.pos.MX, s.pos.MY, s.pos.MZ))
		s.link.RaiseProbeUpdate()
	case strings.HasPrefix(upper, "$"):
		q.Push(link.KindError, "error:3")
		return nil
	default:
		s.applyMotion(upper)
	}
	q.Push(link.KindOK, "ok")
	s.link.SetStatus(s.state, s.pos)
	return nil
}

// Load reads a G-code file and starts streaming it.
func (s *Simulator) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening program: %w", err)
	}
	defer f.Close()

	var job []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "(") {
			continue
		}
		job = append(job, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading program: %w", err)
	}
	if len(job) == 0 {
		return fmt.Errorf("program '%s' has no executable lines", path)
	}
	return s.start(job, path)
}

func (s *Simulator) start(job []string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.link.Running() {
		return errors.New("a run is already active")
	}
	s.job, s.next = job, 0
	s.state = "Run"
	s.link.MessageQueue().Push(link.KindClear, "")
	s.link.StartRun(len(job))
	s.link.SetStatus(s.state, s.pos)
	s.log.Infof("Started run '%s' with %d lines", name, len(job))
	return nil
}

func (s *Simulator) runState() string {
	if s.link.Running() {
		return "Run"
	}
	return "Idle"
}

// applyMotion moves the tool to the X/Y/Z words found in line. Machine
// coordinates track work coordinates with a fixed offset.
func (s *Simulator) applyMotion(line string) {
	for _, word := range strings.Fields(line) {
		if len(word) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(word[1:], 64)
		if err != nil {
			continue
		}
		switch word[0] {
		case 'X', 'x':
			s.pos.WX = v
		case 'Y', 'y':
			s.pos.WY = v
		case 'Z', 'z':
			s.pos.WZ = v
		}
	}
	s.pos.MX, s.pos.MY, s.pos.MZ = s.pos.WX-100, s.pos.WY-100, s.pos.WZ-10
}

var _ internallink.Executor = (*Simulator)(nil)
