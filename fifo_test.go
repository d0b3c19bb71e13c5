package i2s_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/i2s"
)

func TestClearFifosRestoresActiveState(t *testing.T) {
	dev, sim := openSim(t)

	sim.Regs.Write(i2s.BCM2835_I2S_CS_A_REG, i2s.BCM2835_I2S_RXON|i2s.BCM2835_I2S_TXON)
	dev.ClearFifos(true, true)

	cs := sim.Regs.Value(i2s.BCM2835_I2S_CS_A_REG)
	assert.NotZero(t, cs&i2s.BCM2835_I2S_RXON, "RXON must be restored")
	assert.NotZero(t, cs&i2s.BCM2835_I2S_TXON, "TXON must be restored")
}

func TestClearFifosLeavesStoppedBusOff(t *testing.T) {
	dev, sim := openSim(t)

	dev.ClearFifos(true, true)

	cs := sim.Regs.Value(i2s.BCM2835_I2S_CS_A_REG)
	assert.Zero(t, cs&i2s.BCM2835_I2S_RXON, "clearing must not start a stopped bus")
	assert.Zero(t, cs&i2s.BCM2835_I2S_TXON)
}

func TestClearFifosDrainsRxQueue(t *testing.T) {
	dev, sim := openSim(t)

	sim.Regs.EnqueueRx(1, 2, 3)
	dev.ClearFifos(false, true)

	assert.Zero(t, sim.Regs.RxQueueLen())
}

func TestClearBitsDoNotLatch(t *testing.T) {
	dev, sim := openSim(t)

	dev.ClearFifos(true, true)
	cs := sim.Regs.Value(i2s.BCM2835_I2S_CS_A_REG)
	assert.Zero(t, cs&(i2s.BCM2835_I2S_RXCLR|i2s.BCM2835_I2S_TXCLR),
		"clear pulse bits must not read back")

	// Samples arriving after the clear must survive later control writes,
	// which on real hardware cannot re-trigger the self-clearing pulse.
	sim.Regs.EnqueueRx(1, 2)
	sim.Regs.UpdateBits(i2s.BCM2835_I2S_CS_A_REG,
		i2s.BCM2835_I2S_RXON|i2s.BCM2835_I2S_TXON,
		i2s.BCM2835_I2S_RXON|i2s.BCM2835_I2S_TXON)

	assert.Equal(t, 2, sim.Regs.RxQueueLen())
}

func TestClearFifosStickySyncWarns(t *testing.T) {
	dev, sim := openSim(t)
	sim.Regs.StickySync = true

	dev.ClearFifos(true, true)

	_, syncPoll, _ := dev.WarningCounts()
	assert.Equal(t, uint64(1), syncPoll)
}

func TestClearFifosSyncEchoNoWarning(t *testing.T) {
	dev, _ := openSim(t)

	dev.ClearFifos(true, true)

	_, syncPoll, _ := dev.WarningCounts()
	assert.Zero(t, syncPoll)
}

func TestFifoPriming(t *testing.T) {
	_, sim := openConfigured(t, "hifi-berry-pro", 64, 2)

	assert.Equal(t, int(i2s.BCM2835_DMA_THR_TX+2), sim.Regs.FifoWrites(),
		"transmit FIFO must be primed to threshold plus one frame")
}

func TestFrameSyncSearchDiscardCount(t *testing.T) {
	dev, sim := openConfigured(t, "elk-pi", 16, 2)

	// Three nonzero channel pairs, then the zero/zero frame boundary, then
	// four samples that belong to the first aligned frame.
	sim.Regs.EnqueueRx(11, 12, 21, 22, 31, 32, 0, 0)
	sim.Regs.EnqueueRx(41, 42, 43, 44)

	require.NoError(t, dev.Start())
	assert.Equal(t, 4, sim.Regs.RxQueueLen(),
		"the search must consume exactly through the zero/zero marker")
	assert.Equal(t, i2s.STREAM_STATE_RUNNING, dev.State())
}

func TestFrameSyncImmediateBoundary(t *testing.T) {
	dev, sim := openConfigured(t, "elk-pi", 16, 2)

	sim.Regs.EnqueueRx(0, 0, 7, 8)

	require.NoError(t, dev.Start())
	assert.Equal(t, 2, sim.Regs.RxQueueLen())
}

func TestFrameSyncTimeout(t *testing.T) {
	dev, sim := openConfigured(t, "elk-pi", 16, 2)

	// A silent codec never raises RXD; the search must give up and leave
	// the bus exactly as it found it.
	err := dev.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, i2s.ErrSyncTimeout)
	assert.NotEqual(t, i2s.STREAM_STATE_RUNNING, dev.State())

	cs := sim.Regs.Value(i2s.BCM2835_I2S_CS_A_REG)
	assert.Zero(t, cs&(i2s.BCM2835_I2S_RXON|i2s.BCM2835_I2S_TXON),
		"a failed start must not leave the bus enabled")
}

func TestStartSkipsSearchWithoutFlag(t *testing.T) {
	dev, sim := openConfigured(t, "hifi-berry-pro", 16, 2)

	// No receive data available, yet start succeeds: only search variants
	// touch the FIFO on the way up.
	require.NoError(t, dev.Start())

	cs := sim.Regs.Value(i2s.BCM2835_I2S_CS_A_REG)
	assert.NotZero(t, cs&i2s.BCM2835_I2S_RXON)
	assert.NotZero(t, cs&i2s.BCM2835_I2S_TXON)
}
