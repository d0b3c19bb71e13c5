package i2s_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/i2s"
)

func TestSlaveConfiguration(t *testing.T) {
	_, sim := openConfigured(t, "hifi-berry-pro", 64, 2)

	tx := sim.Dma.Channel("tx").Slave()
	assert.Equal(t, i2s.DMA_MEM_TO_DEV, tx.Direction)
	assert.Equal(t, uint32(0x7e203004), tx.Addr)
	assert.Equal(t, uint32(4), tx.AddrWidth)
	assert.Equal(t, uint32(2), tx.MaxBurst)

	rx := sim.Dma.Channel("rx").Slave()
	assert.Equal(t, i2s.DMA_DEV_TO_MEM, rx.Direction)
	assert.Equal(t, tx.Addr, rx.Addr)

	assert.True(t, sim.Dma.Channel("tx").Issued())
	assert.True(t, sim.Dma.Channel("rx").Issued())
}

func TestConfigureFailure(t *testing.T) {
	dev, sim := openSim(t)
	require.NoError(t, dev.InitStream("hifi-berry-pro"))
	sim.Dma.Channel("tx").FailConfigure = true

	err := dev.SetupBuffers(64, 2)
	assert.ErrorIs(t, err, i2s.ErrDescriptorUnavailable)
}

func TestRxPrepFailureTerminatesTx(t *testing.T) {
	dev, sim := openSim(t)
	require.NoError(t, dev.InitStream("hifi-berry-pro"))
	sim.Dma.Channel("rx").FailPrep = true

	err := dev.SetupBuffers(64, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, i2s.ErrDescriptorUnavailable)
	assert.True(t, sim.Dma.Channel("tx").Terminated(),
		"tx channel must not keep a half-prepared pair pending")
}

func TestTxSubmitFailureTerminatesRx(t *testing.T) {
	dev, sim := openSim(t)
	require.NoError(t, dev.InitStream("hifi-berry-pro"))
	sim.Dma.Channel("tx").FailSubmit = true

	err := dev.SetupBuffers(64, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, i2s.ErrSubmissionFailed)
	assert.True(t, sim.Dma.Channel("rx").Terminated(),
		"submitted rx transfer must be unwound when tx submit fails")
}

func TestCompletionTogglesBufferIndex(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	require.NoError(t, dev.Start())

	require.Equal(t, uint32(0), dev.BufferIndex())

	require.NoError(t, sim.Dma.FireCompletion())
	assert.Equal(t, uint32(1), dev.BufferIndex())

	require.NoError(t, sim.Dma.FireCompletion())
	assert.Equal(t, uint32(0), dev.BufferIndex())

	assert.Equal(t, uint64(2), dev.Interrupts())
}

func TestCompletionChannelCarriesIndex(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	require.NoError(t, dev.Start())

	require.NoError(t, sim.Dma.FireCompletion())

	select {
	case idx := <-dev.Completions():
		assert.Equal(t, uint32(1), idx)
	default:
		t.Fatal("completion signal missing")
	}
}

func TestCompletionChannelKeepsLatest(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	require.NoError(t, dev.Start())

	// Two boundaries pass before the consumer wakes up; only the most
	// recent index may be observed.
	require.NoError(t, sim.Dma.FireCompletion())
	require.NoError(t, sim.Dma.FireCompletion())

	select {
	case idx := <-dev.Completions():
		assert.Equal(t, uint32(0), idx)
	default:
		t.Fatal("completion signal missing")
	}

	select {
	case idx := <-dev.Completions():
		t.Fatalf("stale completion %d left behind", idx)
	default:
	}
}

func TestXferStatusErrorIsNonFatal(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	require.NoError(t, dev.Start())

	sim.Dma.Channel("tx").Status = i2s.DmaStatus{State: i2s.DMA_ERROR}

	require.NoError(t, sim.Dma.FireCompletion())

	_, _, xferStatus := dev.WarningCounts()
	assert.Equal(t, uint64(1), xferStatus)
	assert.Equal(t, uint64(1), dev.Interrupts(), "streaming continues past a status error")
	assert.Equal(t, i2s.STREAM_STATE_RUNNING, dev.State())
}

func TestFireWithoutSubmitFails(t *testing.T) {
	_, sim := openSim(t)

	assert.Error(t, sim.Dma.FireCompletion())
}

func TestTeardownAbortsOnTxTerminateFailure(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	sim.Dma.Channel("tx").FailTerminate = true

	err := dev.ExitStream()
	require.Error(t, err)
	assert.ErrorIs(t, err, i2s.ErrTerminationFailed)
	assert.False(t, sim.Dma.Channel("rx").Terminated(),
		"rx teardown must not proceed past a failed tx terminate")
}

func TestRxFillReachesCurrentHalf(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	require.NoError(t, dev.Start())

	sim.Dma.Channel("rx").FillFunc = func(periodIdx uint32, period []byte) {
		for i := range period {
			period[i] = byte(periodIdx + 1)
		}
	}

	require.NoError(t, sim.Dma.FireCompletion())

	rx, _ := dev.CurrentHalf()
	assert.Equal(t, int32(0x01010101), rx[0], "the filled period is the half handed to software")
}

func TestGateWordsOnCompletion(t *testing.T) {
	dev, sim := openConfigured(t, "elk-pi", 16, 2)

	dev.Buffers().SetGateOutWord(0x5)
	sim.Gates.SetInput(5, true)
	sim.Gates.SetInput(16, true)

	require.NoError(t, sim.Dma.FireCompletion())

	assert.True(t, sim.Gates.Output(17))
	assert.False(t, sim.Gates.Output(27))
	assert.True(t, sim.Gates.Output(22))
	assert.False(t, sim.Gates.Output(23))
	assert.Equal(t, uint32(0x5), dev.Buffers().GateInWord())
}

func TestGateWordsAbsentWithoutSupport(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)

	dev.Buffers().SetGateOutWord(0xf)
	require.NoError(t, sim.Dma.FireCompletion())

	assert.Zero(t, dev.Buffers().GateOutWord())
	assert.Zero(t, dev.Buffers().GateInWord())
	assert.False(t, sim.Gates.Output(17))
}

func TestAutoFire(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)
	require.NoError(t, dev.Start())

	stop := sim.Dma.AutoFire(time.Millisecond)
	defer stop()

	for i := 0; i < 3; i++ {
		select {
		case <-dev.Completions():
		case <-time.After(time.Second):
			t.Fatal("no completion within a second")
		}
	}

	stop()
	assert.GreaterOrEqual(t, dev.Interrupts(), uint64(3))
}
