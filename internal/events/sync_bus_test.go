package events_test

import (
	"errors"
	"testing"

	internalevents "github.com/gxo-labs/cncbridge/internal/events"
	"github.com/gxo-labs/cncbridge/internal/logger"
	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/events"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/notify"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(opts ...internalevents.BusOption) *internalevents.SyncEventBus {
	return internalevents.NewSyncEventBus(logger.NewDiscardLogger(), opts...)
}

func TestOn_SameHandlerTwiceCalledOnce(t *testing.T) {
	bus := newBus()
	calls := 0
	h := events.NewHandler(func(args ...interface{}) error {
		calls++
		return nil
	})

	bus.On("tick", h)
	bus.On("tick", h)
	require.NoError(t, bus.Emit("tick"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, bus.Count("tick"))
}

func TestOff_RemovesHandlerAndIgnoresUnknown(t *testing.T) {
	bus := newBus()
	calls := 0
	h := events.NewHandler(func(args ...interface{}) error {
		calls++
		return nil
	})
	other := events.NewHandler(func(args ...interface{}) error { return nil })

	bus.On("tick", h)
	bus.Off("tick", other)
	bus.Off("unknown", h)
	require.NoError(t, bus.Emit("tick"))
	assert.Equal(t, 1, calls)

	bus.Off("tick", h)
	require.NoError(t, bus.Emit("tick"))
	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.Count("tick"))
}

func TestEmit_CallsHandlersInSubscriptionOrderWithArgs(t *testing.T) {
	bus := newBus()
	var order []string
	var got []interface{}
	bus.On("serial_ok", events.NewHandler(func(args ...interface{}) error {
		order = append(order, "first")
		got = args
		return nil
	}))
	bus.On("serial_ok", events.NewHandler(func(args ...interface{}) error {
		order = append(order, "second")
		return nil
	}))

	require.NoError(t, bus.Emit("serial_ok", "ok", 3))

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, []interface{}{"ok", 3}, got)
}

func TestEmit_NoHandlersIsNoop(t *testing.T) {
	bus := newBus()
	assert.NoError(t, bus.Emit("nobody_listens", 1))
}

func TestEmit_HandlerAddedDuringEmitWaitsForNextRound(t *testing.T) {
	bus := newBus()
	lateCalls := 0
	late := events.NewHandler(func(args ...interface{}) error {
		lateCalls++
		return nil
	})
	bus.On("tick", events.NewHandler(func(args ...interface{}) error {
		bus.On("tick", late)
		return nil
	}))

	require.NoError(t, bus.Emit("tick"))
	assert.Zero(t, lateCalls)

	require.NoError(t, bus.Emit("tick"))
	assert.Equal(t, 1, lateCalls)
}

func TestEmit_FailuresDoNotStopDelivery(t *testing.T) {
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_handler_failures_total"}, []string{"event"})
	var reported []*bridgeerrors.HandlerError
	bus := newBus(
		internalevents.WithHandlerFailureCounter(failures),
		internalevents.WithHandlerErrorHandler(func(err *bridgeerrors.HandlerError) {
			reported = append(reported, err)
		}),
	)
	boom := errors.New("boom")
	lastCalled := false
	bus.On("status_message", events.NewHandler(func(args ...interface{}) error { return boom }))
	bus.On("status_message", events.NewHandler(func(args ...interface{}) error { panic("kaput") }))
	bus.On("status_message", events.NewHandler(func(args ...interface{}) error {
		lastCalled = true
		return nil
	}))

	err := bus.Emit("status_message", "Run ended")

	require.Error(t, err)
	assert.True(t, lastCalled)
	assert.ErrorIs(t, err, boom)
	assert.True(t, bridgeerrors.IsHandlerError(err))
	require.Len(t, reported, 2)
	assert.False(t, reported[0].Panicked)
	assert.True(t, reported[1].Panicked)
	assert.Equal(t, "status_message", reported[1].Event)

	var m dto.Metric
	require.NoError(t, failures.WithLabelValues("status_message").Write(&m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())
}

func TestClear_SingleEventAndAll(t *testing.T) {
	bus := newBus()
	noop := func() events.Handler {
		return events.NewHandler(func(args ...interface{}) error { return nil })
	}
	bus.On("a", noop())
	bus.On("b", noop())
	bus.On("b", noop())

	bus.Clear("a")
	assert.Zero(t, bus.Count("a"))
	assert.Equal(t, 2, bus.Count("b"))

	bus.Clear("")
	assert.Zero(t, bus.Count("b"))
}

func TestNoOpEventBus_DiscardsEverything(t *testing.T) {
	bus := internalevents.NewNoOpEventBus()
	called := false
	bus.On("x", events.NewHandler(func(args ...interface{}) error {
		called = true
		return nil
	}))
	assert.NoError(t, bus.Emit("x"))
	assert.False(t, called)
}

func TestBusSink_MapsNotificationsToEvents(t *testing.T) {
	bus := newBus()
	type emitted struct {
		event string
		args  []interface{}
	}
	var got []emitted
	for _, name := range notify.All {
		name := name
		bus.On(name, events.NewHandler(func(args ...interface{}) error {
			got = append(got, emitted{event: name, args: args})
			return nil
		}))
	}
	sink := internalevents.NewBusSink(bus, logger.NewDiscardLogger())

	pos := link.Position{WX: 1, WY: 2, WZ: 3}
	sink.SerialReceive("<Idle>")
	sink.SerialClear()
	sink.StateChanged("Idle", "#ffff00")
	sink.PositionUpdated(pos)
	sink.RunProgress(100, 100)
	sink.BufferFill(42.5)
	sink.GenericUpdate("wcs")

	require.Len(t, got, 7)
	assert.Equal(t, emitted{notify.SerialReceive, []interface{}{"<Idle>"}}, got[0])
	assert.Equal(t, notify.SerialClear, got[1].event)
	assert.Empty(t, got[1].args)
	assert.Equal(t, emitted{notify.StateChanged, []interface{}{"Idle", "#ffff00"}}, got[2])
	assert.Equal(t, emitted{notify.PositionUpdated, []interface{}{pos}}, got[3])
	assert.Equal(t, emitted{notify.RunProgress, []interface{}{100, 100}}, got[4])
	assert.Equal(t, emitted{notify.BufferFill, []interface{}{42.5}}, got[5])
	assert.Equal(t, emitted{notify.GenericUpdate, []interface{}{"wcs"}}, got[6])
}

func TestBusSink_NilBusDropsSilently(t *testing.T) {
	sink := internalevents.NewBusSink(nil, logger.NewDiscardLogger())
	assert.NotPanics(t, func() { sink.StatusMessage("hello") })
}
