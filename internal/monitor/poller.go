// Package monitor implements the bridge poller: a fixed-interval loop that
// drains what the communication goroutine produced and republishes it as
// typed notifications and machine state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gxo-labs/cncbridge/internal/machine"
	intmetrics "github.com/gxo-labs/cncbridge/internal/metrics"
	inttracing "github.com/gxo-labs/cncbridge/internal/tracing"
	bridge "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1"
	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/metrics"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/notify"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/state"
	bridgetracing "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultPollInterval  = 200 * time.Millisecond
	DefaultDrainBudget   = 100 * time.Millisecond
	DefaultBannerMarkers = "[$"

	tracerName = "cncbridge-poller"
)

// Step names, used in logs, StepError and the step failure metric.
const (
	StepDrain         = "drain_messages"
	StepCommand       = "command"
	StepFileDrop      = "file_drop"
	StepPosition      = "position"
	StepGState        = "g_state"
	StepProbe         = "probe"
	StepGenericUpdate = "generic_update"
	StepRunProgress   = "run_progress"
)

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Poller is the bridge between the communication goroutine and the
// presentation layer. Every tick runs the same step sequence on one
// goroutine; a failing step is logged and the next step still runs.
type Poller struct {
	sender link.Sender
	sink   notify.Sink
	log    bridgelog.Logger

	store           state.Store
	metricsProvider metrics.RegistryProvider
	tracerProvider  bridgetracing.TracerProvider

	interval    time.Duration
	drainBudget time.Duration
	markers     string
	colors      machine.ColorTable
	now         func() time.Time

	steps []step

	// tickMu serialises ticks so a manual Tick never overlaps the loop.
	tickMu      sync.Mutex
	insertCount atomic.Int64
	finalized   bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks          prometheus.Counter
	stepFailures   *prometheus.CounterVec
	drained        *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	backlog        prometheus.Gauge
	metricsEnabled bool
}

var _ bridge.MonitorV1 = (*Poller)(nil)

// NewPoller wires a poller over sender and sink. Missing metrics or tracer
// providers default to a private Prometheus registry and a no-op tracer.
func NewPoller(sender link.Sender, sink notify.Sink, log bridgelog.Logger, opts ...bridge.MonitorOption) (*Poller, error) {
	if log == nil {
		return nil, bridgeerrors.NewConfigError("logger cannot be nil", nil)
	}
	if sender == nil {
		return nil, bridgeerrors.NewConfigError("link sender cannot be nil", nil)
	}
	if sink == nil {
		return nil, bridgeerrors.NewConfigError("notification sink cannot be nil", nil)
	}

	p := &Poller{
		sender:      sender,
		sink:        sink,
		log:         log.With("component", "Poller"),
		interval:    DefaultPollInterval,
		drainBudget: DefaultDrainBudget,
		markers:     DefaultBannerMarkers,
		colors:      machine.DefaultColorTable(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, bridgeerrors.NewConfigError(fmt.Sprintf("failed to apply poller option: %v", err), err)
		}
	}

	if p.metricsProvider == nil {
		p.metricsProvider = intmetrics.NewPrometheusRegistryProvider()
	}
	if p.tracerProvider == nil {
		p.tracerProvider = inttracing.NewNoOpProvider()
	}
	if err := p.initMetrics(); err != nil {
		return nil, bridgeerrors.NewConfigError("failed to register poller metrics", err)
	}

	p.steps = []step{
		{StepDrain, p.drainMessages},
		{StepCommand, p.checkCommand},
		{StepFileDrop, p.checkFileDrop},
		{StepPosition, p.publishPosition},
		{StepGState, p.publishGState},
		{StepProbe, p.publishProbe},
		{StepGenericUpdate, p.publishGenericUpdate},
		{StepRunProgress, p.publishRunProgress},
	}
	return p, nil
}

func (p *Poller) initMetrics() error {
	reg := p.metricsProvider.Registry()
	if reg == nil {
		p.log.Warnf("Metrics provider returned a nil registry, poller metrics disabled.")
		return nil
	}
	var err error
	if p.ticks, err = intmetrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cncbridge_poller_ticks_total", Help: "Total number of poller ticks run.",
	})); err != nil {
		return err
	}
	if p.stepFailures, err = intmetrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cncbridge_poller_step_failures_total", Help: "Total number of failed tick steps by step name.",
	}, []string{"step"})); err != nil {
		return err
	}
	if p.drained, err = intmetrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cncbridge_poller_messages_drained_total", Help: "Total number of queued messages drained by kind.",
	}, []string{"kind"})); err != nil {
		return err
	}
	if p.tickDuration, err = intmetrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cncbridge_poller_tick_duration_seconds",
		Help:    "Duration of poller ticks in seconds.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
	})); err != nil {
		return err
	}
	if p.backlog, err = intmetrics.Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cncbridge_poller_queue_backlog", Help: "Messages left in the queue after the last drain.",
	})); err != nil {
		return err
	}
	p.metricsEnabled = true
	return nil
}

// Tick runs every step once, in order. It returns the joined StepErrors of
// the steps that failed.
func (p *Poller) Tick(ctx context.Context) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	start := time.Now()
	tickCtx, span := p.tracerProvider.GetTracer(tracerName).Start(ctx, "cncbridge.poller.tick")
	defer span.End()

	var errs []error
	for _, s := range p.steps {
		if serr := p.runStep(tickCtx, s); serr != nil {
			p.log.Errorf("Poller step '%s' failed: %v", s.name, serr)
			inttracing.RecordError(span, serr, attribute.String("cncbridge.step", s.name))
			if p.metricsEnabled {
				p.stepFailures.WithLabelValues(s.name).Inc()
			}
			errs = append(errs, serr)
		}
	}

	if p.metricsEnabled {
		p.ticks.Inc()
		p.tickDuration.Observe(time.Since(start).Seconds())
	}
	if len(errs) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	return errors.Join(errs...)
}

func (p *Poller) runStep(ctx context.Context, s step) (serr *bridgeerrors.StepError) {
	defer func() {
		if r := recover(); r != nil {
			serr = bridgeerrors.NewStepError(s.name, true, bridgeerrors.FromPanic(r))
		}
	}()
	if err := s.run(ctx); err != nil {
		return bridgeerrors.NewStepError(s.name, false, err)
	}
	return nil
}

// drainMessages pops messages until the queue is empty or the drain budget
// is spent. Whatever is left stays queued, in order, for the next tick.
func (p *Poller) drainMessages(ctx context.Context) error {
	queue := p.sender.Messages()
	start := p.now()
	n := 0
	for p.now().Sub(start) < p.drainBudget {
		msg, ok := queue.TryPop()
		if !ok {
			break
		}
		n++
		p.dispatch(msg)
	}
	if p.metricsEnabled {
		p.backlog.Set(float64(queue.Len()))
	}
	if n > 0 {
		p.log.LogCtx(ctx, slog.LevelDebug, "Drained serial messages", "count", n)
	}
	return nil
}

func (p *Poller) dispatch(msg link.Message) {
	line := strings.TrimRight(msg.Text, "\n")
	switch msg.Kind {
	case link.KindBuffer:
		p.sink.SerialBuffer(line)
	case link.KindSend:
		p.sink.SerialSend(line)
	case link.KindReceive:
		p.sink.SerialReceive(line)
		if p.insertCount.Load() > 0 {
			p.insertCount.Add(1)
		} else if line != "" && strings.IndexByte(p.markers, line[0]) >= 0 {
			p.insertCount.Store(1)
		}
	case link.KindOK:
		p.sink.SerialOK(line)
		p.insertCount.Store(0)
	case link.KindError:
		p.sink.SerialError(line)
		p.insertCount.Store(0)
	case link.KindRunEnd:
		p.sink.SerialRunEnd(line)
		p.sink.StatusMessage(line)
	case link.KindClear:
		p.sink.SerialClear()
	default:
		p.log.Warnf("Dropping message of unknown kind %d", int(msg.Kind))
		return
	}
	if p.metricsEnabled {
		p.drained.WithLabelValues(msg.Kind.String()).Inc()
	}
}

func (p *Poller) checkCommand(ctx context.Context) error {
	cmd, ok := p.sender.Commands().TryPop()
	if !ok {
		return nil
	}
	if err := p.sender.ExecuteCommand(cmd); err != nil {
		return fmt.Errorf("executing command '%s': %w", cmd, err)
	}
	return nil
}

func (p *Poller) checkFileDrop(ctx context.Context) error {
	path, ok := p.sender.TakeUploadedFile()
	if !ok {
		return nil
	}
	if err := p.sender.Load(path); err != nil {
		return fmt.Errorf("loading uploaded file '%s': %w", path, err)
	}
	return nil
}

func (p *Poller) publishPosition(ctx context.Context) error {
	if !p.sender.TakePositionUpdate() {
		return nil
	}
	st := p.sender.State()
	color := p.colors.Resolve(st, p.sender.Alarm())
	pos := p.sender.Position()

	p.sender.SetPaused(machine.IsHold(st))
	if p.store != nil {
		values := machine.PositionValues(pos)
		values[machine.KeyState] = st
		values[machine.KeyColor] = color
		p.store.Update(values)
	}
	p.sink.StateChanged(st, color)
	p.sink.PositionUpdated(pos)
	return nil
}

func (p *Poller) publishGState(ctx context.Context) error {
	if p.sender.TakeGStateUpdate() {
		p.sink.GStateUpdated()
	}
	return nil
}

func (p *Poller) publishProbe(ctx context.Context) error {
	if p.sender.TakeProbeUpdate() {
		p.sink.ProbeUpdated()
	}
	return nil
}

func (p *Poller) publishGenericUpdate(ctx context.Context) error {
	if name, ok := p.sender.TakeNamedUpdate(); ok {
		p.sink.GenericUpdate(name)
	}
	return nil
}

// publishRunProgress reports progress while a run is active. The run-ended
// finalizer is called once per run: the latch resets only after the link
// reports the run as inactive.
func (p *Poller) publishRunProgress(ctx context.Context) error {
	if !p.sender.Running() {
		p.finalized = false
		if p.store != nil {
			p.store.Set(machine.KeyRunning, false)
		}
		return nil
	}

	completed := p.sender.SentLines() - p.sender.QueueDepth()
	total := p.sender.TotalLines()
	fill := p.sender.BufferFill()

	if p.store != nil {
		p.store.Update(map[string]interface{}{
			machine.KeyRunning:           true,
			machine.KeyProgressCompleted: completed,
			machine.KeyProgressTotal:     total,
			machine.KeyBufferFill:        fill,
		})
	}
	p.sink.RunProgress(completed, total)
	p.sink.BufferFill(fill)

	if completed >= total && !p.finalized {
		p.finalized = true
		p.log.Debugf("Run complete at %d/%d lines, finalizing", completed, total)
		p.sender.RunEnded()
	}
	return nil
}

// Start launches the tick loop on its own goroutine. The loop ends when ctx
// is done or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.done != nil {
		return errors.New("poller is already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.log.Infof("Starting poller (interval=%s, drain_budget=%s)", p.interval, p.drainBudget)
	go p.loop(loopCtx, done)
	return nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Debugf("Poller loop stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			// Failures were already logged per step.
			_ = p.Tick(ctx)
		}
	}
}

// Stop cancels the loop and waits for it to exit. A tick in progress runs
// to completion first. Stop is a no-op when the poller is not running.
func (p *Poller) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.log.Infof("Poller stopped")
}

// InsertCount returns the number of response lines seen since a banner
// line started a multi-line response. It is zero outside such a response.
func (p *Poller) InsertCount() int { return int(p.insertCount.Load()) }

// MetricsRegistryProvider returns the provider the poller registers its metrics with.
func (p *Poller) MetricsRegistryProvider() metrics.RegistryProvider { return p.metricsProvider }

// TracerProvider returns the provider used for tick spans.
func (p *Poller) TracerProvider() bridgetracing.TracerProvider { return p.tracerProvider }

// SetStateStore sets the store the position and progress steps publish into.
func (p *Poller) SetStateStore(store state.Store) error {
	if store == nil {
		return bridgeerrors.NewConfigError("state store cannot be nil", nil)
	}
	p.store = store
	return nil
}

// SetMetricsRegistryProvider moves the poller metrics to provider.
func (p *Poller) SetMetricsRegistryProvider(provider metrics.RegistryProvider) error {
	if provider == nil {
		return bridgeerrors.NewConfigError("metrics registry provider cannot be nil", nil)
	}
	p.metricsProvider = provider
	if p.metricsEnabled {
		return p.initMetrics()
	}
	return nil
}

// SetTracerProvider sets the provider used for tick spans.
func (p *Poller) SetTracerProvider(provider bridgetracing.TracerProvider) error {
	if provider == nil {
		return bridgeerrors.NewConfigError("tracer provider cannot be nil", nil)
	}
	p.tracerProvider = provider
	return nil
}

// SetPollInterval sets the tick period. It takes effect on the next Start.
func (p *Poller) SetPollInterval(interval time.Duration) error {
	if interval <= 0 {
		return bridgeerrors.NewConfigError("poll interval must be positive", nil)
	}
	p.interval = interval
	return nil
}

// SetDrainBudget bounds the time one tick spends draining messages.
func (p *Poller) SetDrainBudget(budget time.Duration) error {
	if budget <= 0 {
		return bridgeerrors.NewConfigError("drain budget must be positive", nil)
	}
	p.drainBudget = budget
	return nil
}

// SetBannerMarkers sets the first characters that start a multi-line response.
func (p *Poller) SetBannerMarkers(markers string) error {
	if markers == "" {
		return bridgeerrors.NewConfigError("banner markers cannot be empty", nil)
	}
	p.markers = markers
	return nil
}

// SetColorTable replaces the state color table.
func (p *Poller) SetColorTable(table machine.ColorTable) error {
	p.colors = table
	return nil
}

// SetClock replaces the time source used by the drain budget.
func (p *Poller) SetClock(now func() time.Time) error {
	if now == nil {
		return bridgeerrors.NewConfigError("clock cannot be nil", nil)
	}
	p.now = now
	return nil
}
