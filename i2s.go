// Package i2s implements the streaming core of a real-time audio driver for
// the BCM283x PCM/I2S block: hardware profile resolution, protocol register
// configuration, FIFO clearing and frame synchronization, and a cyclic
// double-buffered DMA engine with per-period completion signaling.
//
// The package talks to hardware exclusively through the collaborator
// interfaces in types.go (register block, DMA service, clock, gate GPIO,
// coherent allocator), so the whole engine runs unmodified against the
// in-memory simulator in sim.go.
package i2s

import "errors"

// Fixed serial-bus geometry: two 32-bit slots per frame.
const (
	BCM2835_PCM_WORD_LEN = 32
	BCM2835_PCM_SLOTS    = 2
)

// Register offsets within the PCM/I2S control block.
// These values correspond to the BCM2835 ARM Peripherals datasheet.
const (
	BCM2835_I2S_CS_A_REG     = 0x00
	BCM2835_I2S_FIFO_A_REG   = 0x04
	BCM2835_I2S_MODE_A_REG   = 0x08
	BCM2835_I2S_RXC_A_REG    = 0x0c
	BCM2835_I2S_TXC_A_REG    = 0x10
	BCM2835_I2S_DREQ_A_REG   = 0x14
	BCM2835_I2S_INTEN_A_REG  = 0x18
	BCM2835_I2S_INTSTC_A_REG = 0x1c
	BCM2835_I2S_GRAY_REG     = 0x20
)

// CS_A control and status bits.
const (
	BCM2835_I2S_STBY   = 1 << 25
	BCM2835_I2S_SYNC   = 1 << 24
	BCM2835_I2S_RXSEX  = 1 << 23
	BCM2835_I2S_RXF    = 1 << 22
	BCM2835_I2S_TXE    = 1 << 21
	BCM2835_I2S_RXD    = 1 << 20
	BCM2835_I2S_TXD    = 1 << 19
	BCM2835_I2S_RXR    = 1 << 18
	BCM2835_I2S_TXW    = 1 << 17
	BCM2835_I2S_RXERR  = 1 << 16
	BCM2835_I2S_TXERR  = 1 << 15
	BCM2835_I2S_RXSYNC = 1 << 14
	BCM2835_I2S_TXSYNC = 1 << 13
	BCM2835_I2S_DMAEN  = 1 << 9
	BCM2835_I2S_RXCLR  = 1 << 4
	BCM2835_I2S_TXCLR  = 1 << 3
	BCM2835_I2S_TXON   = 1 << 2
	BCM2835_I2S_RXON   = 1 << 1
	BCM2835_I2S_EN     = 1 << 0
)

// MODE_A bits.
const (
	BCM2835_I2S_CLKDIS = 1 << 28
	BCM2835_I2S_PDMN   = 1 << 27
	BCM2835_I2S_PDME   = 1 << 26
	BCM2835_I2S_FRXP   = 1 << 25
	BCM2835_I2S_FTXP   = 1 << 24
	BCM2835_I2S_CLKM   = 1 << 23
	BCM2835_I2S_CLKI   = 1 << 22
	BCM2835_I2S_FSM    = 1 << 21
	BCM2835_I2S_FSI    = 1 << 20
)

// RXC_A/TXC_A channel format bits (per-channel half-words).
const (
	BCM2835_I2S_CHWEX = 1 << 15
	BCM2835_I2S_CHEN  = 1 << 14
)

// DMA request and panic thresholds programmed into DREQ_A, and the matching
// FIFO threshold selectors for CS_A. The TX threshold also sizes the
// zero-word FIFO priming done before the first transfer is issued.
const (
	BCM2835_DMA_THR_TX       = 0x20
	BCM2835_DMA_THR_RX       = 0x30
	BCM2835_DMA_TX_PANIC_THR = 0x10
	BCM2835_DMA_RX_PANIC_THR = 0x30
)

// INTEN_A bits.
const (
	BCM2835_I2S_INT_RXERR = 1 << 3
	BCM2835_I2S_INT_TXERR = 1 << 2
	BCM2835_I2S_INT_RXR   = 1 << 1
	BCM2835_I2S_INT_TXW   = 1 << 0
)

// rxthr/txthr build the CS_A FIFO threshold fields.
func rxthr(v uint32) uint32 { return (v & 0x3) << 7 }
func txthr(v uint32) uint32 { return (v & 0x3) << 5 }

// flen/fslen build the MODE_A frame length and frame sync length fields.
func flen(v uint32) uint32  { return (v & 0x3ff) << 10 }
func fslen(v uint32) uint32 { return v & 0x3ff }

// chwid/chpos build a single channel's format half-word; ch1/ch2 place that
// half-word into its register position.
func chwid(v uint32) uint32 { return v & 0xf }
func chpos(v uint32) uint32 { return (v & 0x3ff) << 4 }
func ch1(v uint32) uint32   { return v << 16 }
func ch2(v uint32) uint32   { return v }

// dreqtx/dreqrx and panictx/panicrx build the DREQ_A threshold fields.
func dreqtx(v uint32) uint32  { return (v & 0x7f) << 8 }
func dreqrx(v uint32) uint32  { return v & 0x7f }
func panictx(v uint32) uint32 { return (v & 0x7f) << 24 }
func panicrx(v uint32) uint32 { return (v & 0x7f) << 16 }

// Sentinel errors returned by the streaming engine. Callers should test for
// them with errors.Is; they are usually wrapped with call-site context.
var (
	// ErrUnknownVariant is returned when a hardware variant name is not recognized.
	ErrUnknownVariant = errors.New("i2s: unknown hardware variant")

	// ErrChannelUnavailable is returned when a DMA channel cannot be acquired.
	ErrChannelUnavailable = errors.New("i2s: dma channel unavailable")

	// ErrDescriptorUnavailable is returned when a cyclic DMA descriptor cannot be prepared.
	ErrDescriptorUnavailable = errors.New("i2s: dma descriptor unavailable")

	// ErrSubmissionFailed is returned when submitting a prepared DMA descriptor fails.
	ErrSubmissionFailed = errors.New("i2s: dma submission failed")

	// ErrAllocationFailed is returned when the coherent stream buffer cannot be allocated.
	ErrAllocationFailed = errors.New("i2s: coherent buffer allocation failed")

	// ErrTerminationFailed is returned when a DMA channel refuses to terminate during teardown.
	ErrTerminationFailed = errors.New("i2s: dma termination failed")

	// ErrSyncTimeout is returned when frame synchronization gives up waiting
	// for the zero/zero channel marker from the codec.
	ErrSyncTimeout = errors.New("i2s: frame synchronization timed out")

	// ErrInvalidState is returned when a lifecycle operation is called out of order.
	ErrInvalidState = errors.New("i2s: operation not allowed in current stream state")
)

// StreamState is the lifecycle state of the streaming engine.
type StreamState int32

const (
	// STREAM_STATE_UNINITIALIZED is the state after device attach, before InitStream.
	STREAM_STATE_UNINITIALIZED StreamState = 0
	// STREAM_STATE_CONFIGURED means buffers and DMA descriptors are prepared.
	STREAM_STATE_CONFIGURED StreamState = 1
	// STREAM_STATE_RUNNING means both cyclic transfers are submitted and the bus is enabled.
	STREAM_STATE_RUNNING StreamState = 2
	// STREAM_STATE_STOPPED means both channels were terminated and drained.
	STREAM_STATE_STOPPED StreamState = 3
)

// StreamStateNames provides human-readable names for stream states.
var StreamStateNames = map[StreamState]string{
	STREAM_STATE_UNINITIALIZED: "UNINITIALIZED",
	STREAM_STATE_CONFIGURED:    "CONFIGURED",
	STREAM_STATE_RUNNING:       "RUNNING",
	STREAM_STATE_STOPPED:       "STOPPED",
}

func (s StreamState) String() string {
	if name, ok := StreamStateNames[s]; ok {
		return name
	}

	return "UNKNOWN"
}
