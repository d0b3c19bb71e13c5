package i2s_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/i2s"
)

// openSim opens a Device on a fresh simulation.
func openSim(t *testing.T) (*i2s.Device, *i2s.SimHardware) {
	t.Helper()

	sim := i2s.NewSimHardware()
	dev, err := i2s.Open(sim.Hardware())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	return dev, sim
}

// openConfigured additionally runs InitStream and SetupBuffers.
func openConfigured(t *testing.T, variant string, frames, channels uint32) (*i2s.Device, *i2s.SimHardware) {
	t.Helper()

	dev, sim := openSim(t)
	require.NoError(t, dev.InitStream(variant))
	require.NoError(t, dev.SetupBuffers(frames, channels))

	return dev, sim
}

func TestOpenRequiresCollaborators(t *testing.T) {
	_, err := i2s.Open(nil)
	assert.Error(t, err)

	sim := i2s.NewSimHardware()
	hw := sim.Hardware()
	hw.Regs = nil
	_, err = i2s.Open(hw)
	assert.Error(t, err)
}

func TestOpenChannelUnwind(t *testing.T) {
	sim := i2s.NewSimHardware()
	sim.Dma.FailRequest["rx"] = true

	_, err := i2s.Open(sim.Hardware())
	require.Error(t, err)
	assert.ErrorIs(t, err, i2s.ErrChannelUnavailable)
	assert.True(t, sim.Dma.Channel("tx").Released(), "tx channel must be released when rx acquisition fails")
}

func TestOpenAllocationFailure(t *testing.T) {
	sim := i2s.NewSimHardware()
	sim.Alloc.FailAlloc = true

	_, err := i2s.Open(sim.Hardware())
	require.Error(t, err)
	assert.ErrorIs(t, err, i2s.ErrAllocationFailed)
	assert.True(t, sim.Dma.Channel("tx").Released())
	assert.True(t, sim.Dma.Channel("rx").Released())
}

func TestInitStreamUnknownVariant(t *testing.T) {
	dev, sim := openSim(t)

	err := dev.InitStream("unknown-hat")
	require.Error(t, err)
	assert.ErrorIs(t, err, i2s.ErrUnknownVariant)
	assert.Equal(t, 0, sim.Regs.WriteCount(), "failed init must not touch registers")
}

func TestInitStreamTwice(t *testing.T) {
	dev, _ := openSim(t)

	require.NoError(t, dev.InitStream("hifi-berry-pro"))
	err := dev.InitStream("hifi-berry-pro")
	assert.ErrorIs(t, err, i2s.ErrInvalidState)
}

func TestSetupBuffersBeforeInit(t *testing.T) {
	dev, _ := openSim(t)

	err := dev.SetupBuffers(64, 2)
	assert.ErrorIs(t, err, i2s.ErrInvalidState)
}

func TestSetupBuffersWhileRunning(t *testing.T) {
	dev, _ := openConfigured(t, "hifi-berry-pro", 64, 2)

	require.NoError(t, dev.Start())
	err := dev.SetupBuffers(64, 2)
	assert.ErrorIs(t, err, i2s.ErrInvalidState)
}

func TestSetupBuffersInvalidGeometry(t *testing.T) {
	dev, _ := openSim(t)
	require.NoError(t, dev.InitStream("hifi-berry-pro"))

	assert.Error(t, dev.SetupBuffers(0, 2))
	assert.Error(t, dev.SetupBuffers(64, 0))

	// Too large for the reserved coherent region.
	err := dev.SetupBuffers(128, 64)
	assert.ErrorIs(t, err, i2s.ErrAllocationFailed)
}

func TestBufferGeometry(t *testing.T) {
	dev, _ := openConfigured(t, "hifi-berry-pro", 64, 2)

	b := dev.Buffers()
	require.NotNil(t, b)
	assert.Equal(t, uint32(64*2*4), b.PeriodLen())
	assert.Equal(t, 2*b.PeriodLen(), b.BufferLen())
	assert.Equal(t, b.RxBusAddr()+b.BufferLen(), b.TxBusAddr())
	assert.Equal(t, 2*b.BufferLen(), b.GateOutOffset())
	assert.Equal(t, 2*b.BufferLen()+4, b.GateInOffset())

	assert.Len(t, b.Rx(), int(b.BufferLen()/4))
	assert.Len(t, b.TxHalf(0), int(b.PeriodLen()/4))
	assert.Len(t, b.TxHalf(1), int(b.PeriodLen()/4))
}

func TestScenario48x2(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 48, 2)

	b := dev.Buffers()
	assert.Equal(t, uint32(384), b.PeriodLen())
	assert.Equal(t, uint32(768), b.BufferLen())

	require.NoError(t, dev.Start())
	for i := 0; i < 10; i++ {
		require.NoError(t, sim.Dma.FireCompletion())
	}

	assert.Equal(t, uint64(10), dev.Interrupts())
	assert.Equal(t, uint32(0), dev.BufferIndex(), "even completion count returns the index to 0")
}

func TestStopIdempotent(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 64, 2)

	require.NoError(t, dev.Start())
	assert.Equal(t, i2s.STREAM_STATE_RUNNING, dev.State())

	dev.Stop()
	assert.Equal(t, i2s.STREAM_STATE_STOPPED, dev.State())

	cs := sim.Regs.Value(i2s.BCM2835_I2S_CS_A_REG)
	writes := sim.Regs.WriteCount()

	dev.Stop()
	assert.Equal(t, cs, sim.Regs.Value(i2s.BCM2835_I2S_CS_A_REG), "second stop must leave register state unchanged")
	assert.Equal(t, writes, sim.Regs.WriteCount())
}

func TestStartFromInvalidState(t *testing.T) {
	dev, _ := openSim(t)
	require.NoError(t, dev.InitStream("hifi-berry-pro"))

	err := dev.Start()
	assert.ErrorIs(t, err, i2s.ErrInvalidState)
}

func TestCurrentHalfOpposesHardware(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	require.NoError(t, dev.Start())

	b := dev.Buffers()

	// Hardware starts on half 0, so software owns half 1.
	require.Equal(t, uint32(0), dev.BufferIndex())
	rx, tx := dev.CurrentHalf()
	assert.Equal(t, &b.RxHalf(1)[0], &rx[0])
	assert.Equal(t, &b.TxHalf(1)[0], &tx[0])

	require.NoError(t, sim.Dma.FireCompletion())
	require.Equal(t, uint32(1), dev.BufferIndex())
	rx, tx = dev.CurrentHalf()
	assert.Equal(t, &b.RxHalf(0)[0], &rx[0])
	assert.Equal(t, &b.TxHalf(0)[0], &tx[0])
}

func TestUnderrunAccounting(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	require.NoError(t, dev.Start())

	for i := 0; i < 3; i++ {
		require.NoError(t, sim.Dma.FireCompletion())
	}

	dev.ConsumerDone()
	assert.Equal(t, uint64(2), dev.Underruns(), "three periods with one consumer pass is two underruns")

	require.NoError(t, sim.Dma.FireCompletion())
	dev.ConsumerDone()
	assert.Equal(t, uint64(2), dev.Underruns(), "a caught-up consumer adds no underruns")
}

func TestExitStreamAllowsReinit(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 64, 2)

	require.NoError(t, dev.Start())
	dev.Stop()
	require.NoError(t, dev.ExitStream())
	assert.Equal(t, i2s.STREAM_STATE_UNINITIALIZED, dev.State())

	assert.True(t, sim.Dma.Channel("tx").Terminated())
	assert.True(t, sim.Dma.Channel("tx").Synchronized())
	assert.True(t, sim.Dma.Channel("rx").Terminated())
	assert.True(t, sim.Dma.Channel("rx").Synchronized())

	require.NoError(t, dev.InitStream("hifi-berry"))
	require.NoError(t, dev.SetupBuffers(32, 2))
}

func TestExitStreamSilencesTx(t *testing.T) {
	dev, _ := openConfigured(t, "hifi-berry-pro", 16, 2)

	tx := dev.Buffers().Tx()
	for i := range tx {
		tx[i] = int32(i + 1)
	}

	require.NoError(t, dev.ExitStream())
	for i := range tx {
		require.Zero(t, tx[i], "transmit buffer must be silenced on exit")
	}
}

func TestCloseKeepsRegionOnTerminateFailure(t *testing.T) {
	sim := i2s.NewSimHardware()
	dev, err := i2s.Open(sim.Hardware())
	require.NoError(t, err)
	require.NoError(t, dev.InitStream("hifi-berry-pro"))
	require.NoError(t, dev.SetupBuffers(64, 2))

	sim.Dma.Channel("tx").FailTerminate = true

	err = dev.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, i2s.ErrTerminationFailed)
	assert.Zero(t, sim.Alloc.Frees(), "region stays held while a channel is not quiescent")
	assert.False(t, sim.Dma.Channel("tx").Released())
	assert.False(t, sim.Dma.Channel("rx").Released())

	// Once the channel cooperates, Close completes the teardown.
	sim.Dma.Channel("tx").FailTerminate = false
	require.NoError(t, dev.Close())
	assert.Equal(t, 1, sim.Alloc.Frees())
}

func TestCurrentHalfBeforeSetup(t *testing.T) {
	dev, _ := openSim(t)

	rx, tx := dev.CurrentHalf()
	assert.Nil(t, rx)
	assert.Nil(t, tx)
}

func TestReconfigureQuiescesPreviousTransfers(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 64, 2)

	require.NoError(t, dev.Start())
	dev.Stop()

	require.NoError(t, dev.SetupBuffers(32, 2))
	assert.Equal(t, 1, sim.Dma.Channel("tx").SubmittedCount(), "old transactions must not stack")
	assert.Equal(t, 1, sim.Dma.Channel("rx").SubmittedCount())
	assert.True(t, sim.Dma.Channel("tx").Synchronized())
	assert.True(t, sim.Dma.Channel("rx").Synchronized())

	require.NoError(t, dev.Start())
	require.NoError(t, sim.Dma.FireCompletion())
	assert.Equal(t, uint64(1), dev.Interrupts())
}

func TestCloseReleasesEverything(t *testing.T) {
	sim := i2s.NewSimHardware()
	dev, err := i2s.Open(sim.Hardware())
	require.NoError(t, err)
	require.NoError(t, dev.InitStream("hifi-berry-pro"))
	require.NoError(t, dev.SetupBuffers(64, 2))

	require.NoError(t, dev.Close())
	assert.True(t, sim.Dma.Channel("tx").Released())
	assert.True(t, sim.Dma.Channel("rx").Released())
	assert.Equal(t, 1, sim.Alloc.Frees(), "coherent region must be freed exactly once")
}

func TestClockRateWarning(t *testing.T) {
	sim := i2s.NewSimHardware()
	sim.Clock.Err = assert.AnError

	dev, err := i2s.Open(sim.Hardware())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	require.NoError(t, dev.InitStream("hifi-berry"))
	require.NoError(t, dev.SetupBuffers(64, 2), "clock failure must not abort configuration")

	clockRate, _, _ := dev.WarningCounts()
	assert.Equal(t, uint64(1), clockRate)
	assert.True(t, sim.Clock.Enabled(), "clock is still enabled best-effort")
}

func TestClockRateProgrammed(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry", 64, 2)

	assert.Equal(t, uint32(64*48000), sim.Clock.Rate())
	assert.True(t, sim.Clock.Enabled())

	clockRate, _, _ := dev.WarningCounts()
	assert.Zero(t, clockRate)
}

func TestPeriodTime(t *testing.T) {
	dev, _ := openConfigured(t, "hifi-berry-pro", 48, 2)

	assert.Equal(t, "1ms", dev.PeriodTime().String())
}

func TestIsSupportedPeriodSize(t *testing.T) {
	for _, s := range i2s.SupportedPeriodSizes {
		assert.True(t, i2s.IsSupportedPeriodSize(s))
	}
	assert.False(t, i2s.IsSupportedPeriodSize(48))
	assert.False(t, i2s.IsSupportedPeriodSize(0))
}
