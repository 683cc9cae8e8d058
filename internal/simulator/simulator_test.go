package simulator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gxo-labs/cncbridge/internal/config"
	internallink "github.com/gxo-labs/cncbridge/internal/link"
	"github.com/gxo-labs/cncbridge/internal/logger"
	"github.com/gxo-labs/cncbridge/internal/simulator"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAttached(t *testing.T, cfg config.SimulatorConfig) (*simulator.Simulator, *internallink.Link) {
	t.Helper()
	sim := simulator.New(cfg, logger.NewDiscardLogger())
	l, err := internallink.New(sim, logger.NewDiscardLogger(), internallink.WithRunEndHook(sim.RunEnded))
	require.NoError(t, err)
	sim.Attach(l)
	return sim, l
}

func drain(l *internallink.Link) []link.Message {
	var out []link.Message
	for {
		msg, ok := l.MessageQueue().TryPop()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func connected(t *testing.T, cfg config.SimulatorConfig) (*simulator.Simulator, *internallink.Link) {
	t.Helper()
	sim, l := newAttached(t, cfg)
	require.NoError(t, sim.Connect(context.Background()))
	drain(l)
	l.TakePositionUpdate()
	return sim, l
}

func TestConnect_FailsConfiguredTimes(t *testing.T) {
	sim, l := newAttached(t, config.SimulatorConfig{FailConnects: 2})
	ctx := context.Background()

	assert.Error(t, sim.Connect(ctx))
	assert.Error(t, sim.Connect(ctx))
	assert.Equal(t, link.StateNotConnected, l.State())

	require.NoError(t, sim.Connect(ctx))
	assert.Equal(t, "Idle", l.State())
	assert.True(t, l.TakePositionUpdate())

	msgs := drain(l)
	require.Len(t, msgs, 3)
	assert.Equal(t, link.KindReceive, msgs[0].Kind)
	assert.Equal(t, "Grbl 1.1h ['$' for help]\n", msgs[0].Text)
	assert.Equal(t, "[MSG:'$H'|'$X' to unlock]\n", msgs[1].Text)
	assert.Equal(t, link.KindOK, msgs[2].Kind)
}

func TestConnect_RequiresAttachAndLiveContext(t *testing.T) {
	sim := simulator.New(config.SimulatorConfig{}, logger.NewDiscardLogger())
	assert.Error(t, sim.Connect(context.Background()))

	sim, _ = newAttached(t, config.SimulatorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sim.Connect(ctx), context.Canceled)
}

func TestExecuteCommand_BeforeConnect(t *testing.T) {
	sim, _ := newAttached(t, config.SimulatorConfig{})
	assert.ErrorIs(t, sim.ExecuteCommand("$$"), simulator.ErrNotConnected)
}

func TestExecuteCommand_Responses(t *testing.T) {
	sim, l := connected(t, config.SimulatorConfig{})

	require.NoError(t, sim.ExecuteCommand("$$"))
	msgs := drain(l)
	require.Len(t, msgs, 5)
	assert.Equal(t, link.Message{Kind: link.KindSend, Text: "$$"}, msgs[0])
	assert.Equal(t, "$0=10", msgs[1].Text)
	assert.Equal(t, link.KindOK, msgs[4].Kind)

	require.NoError(t, sim.ExecuteCommand("$G"))
	assert.True(t, l.TakeGStateUpdate())
	drain(l)

	require.NoError(t, sim.ExecuteCommand("$#"))
	name, ok := l.TakeNamedUpdate()
	assert.True(t, ok)
	assert.Equal(t, "wcs", name)
	drain(l)

	require.NoError(t, sim.ExecuteCommand("$Q"))
	msgs = drain(l)
	require.Len(t, msgs, 2)
	assert.Equal(t, link.Message{Kind: link.KindError, Text: "error:3"}, msgs[1])
}

func TestExecuteCommand_MotionAndProbe(t *testing.T) {
	sim, l := connected(t, config.SimulatorConfig{})

	require.NoError(t, sim.ExecuteCommand("g0 x12.5 y-3 z2"))
	assert.True(t, l.TakePositionUpdate())
	assert.Equal(t, link.Position{WX: 12.5, WY: -3, WZ: 2, MX: -87.5, MY: -103, MZ: -8}, l.Position())

	require.NoError(t, sim.ExecuteCommand("G38.2 Z-5 F100"))
	assert.True(t, l.TakeProbeUpdate())
	msgs := drain(l)
	assert.Contains(t, msgs, link.Message{Kind: link.KindReceive, Text: "[PRB:-87.500,-103.000,-15.000:1]"})
}

func TestExecuteCommand_AlarmHoldAndUnlock(t *testing.T) {
	sim, l := connected(t, config.SimulatorConfig{})

	require.NoError(t, sim.ExecuteCommand("alarm"))
	assert.True(t, l.Alarm())
	assert.Equal(t, "Alarm", l.State())

	require.NoError(t, sim.ExecuteCommand("$X"))
	assert.False(t, l.Alarm())
	assert.Equal(t, "Idle", l.State())

	require.NoError(t, sim.ExecuteCommand("!"))
	assert.Equal(t, "Hold:0", l.State())
	require.NoError(t, sim.ExecuteCommand("~"))
	assert.Equal(t, "Idle", l.State())
}

func TestSyntheticJob_StreamsToCompletion(t *testing.T) {
	sim, l := connected(t, config.SimulatorConfig{})
	assert.Error(t, sim.StartSyntheticJob(0))

	require.NoError(t, sim.StartSyntheticJob(3))
	assert.True(t, l.Running())
	assert.Equal(t, 3, l.TotalLines())
	assert.Error(t, sim.StartSyntheticJob(3), "second run while active")

	msgs := drain(l)
	require.Len(t, msgs, 1)
	assert.Equal(t, link.KindClear, msgs[0].Kind)

	for i := 1; i <= 3; i++ {
		require.True(t, sim.Step())
		assert.Equal(t, i, l.SentLines())
	}
	assert.False(t, sim.Step())
	assert.Equal(t, 0.0, l.BufferFill())

	msgs = drain(l)
	require.Len(t, msgs, 9)
	assert.Equal(t, link.KindBuffer, msgs[0].Kind)
	assert.Equal(t, link.KindSend, msgs[1].Kind)
	assert.Equal(t, link.KindOK, msgs[2].Kind)

	l.RunEnded()
	assert.False(t, l.Running())
	assert.Equal(t, "Idle", l.State())
	msgs = drain(l)
	require.Len(t, msgs, 1)
	assert.Equal(t, link.Message{Kind: link.KindRunEnd, Text: "Run ended"}, msgs[0])
}

func TestStep_PausedByFeedHold(t *testing.T) {
	sim, l := connected(t, config.SimulatorConfig{})
	require.NoError(t, sim.StartSyntheticJob(2))

	require.NoError(t, sim.ExecuteCommand("!"))
	assert.False(t, sim.Step())

	require.NoError(t, sim.ExecuteCommand("~"))
	assert.Equal(t, "Run", l.State())
	assert.True(t, sim.Step())
}

func TestLoad_ParsesProgram(t *testing.T) {
	sim, l := connected(t, config.SimulatorConfig{})

	path := filepath.Join(t.TempDir(), "part.nc")
	program := "(header)\n; comment\nG21\n\nG0 X1 ; rapid\nG1 Y2 F100\n"
	require.NoError(t, os.WriteFile(path, []byte(program), 0o600))

	require.NoError(t, sim.Load(path))
	assert.Equal(t, 3, l.TotalLines())

	require.True(t, sim.Step())
	require.True(t, sim.Step())
	msgs := drain(l)
	assert.Contains(t, msgs, link.Message{Kind: link.KindSend, Text: "G0 X1"})
}

func TestLoad_Errors(t *testing.T) {
	sim, _ := connected(t, config.SimulatorConfig{})
	dir := t.TempDir()

	assert.Error(t, sim.Load(filepath.Join(dir, "missing.nc")))

	empty := filepath.Join(dir, "empty.nc")
	require.NoError(t, os.WriteFile(empty, []byte("; nothing\n"), 0o600))
	assert.Error(t, sim.Load(empty))
}

func TestRun_ReportsStatusUntilCancelled(t *testing.T) {
	sim, l := connected(t, config.SimulatorConfig{StatusInterval: "5ms", LineInterval: "5ms"})
	require.NoError(t, sim.StartSyntheticJob(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	assert.Eventually(t, func() bool { return l.SentLines() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, l.TakePositionUpdate, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
