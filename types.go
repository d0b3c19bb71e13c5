package i2s

import "log"

// Direction identifies the direction of a DMA transfer relative to memory.
type Direction int32

const (
	// DMA_MEM_TO_DEV feeds the transmit FIFO from memory.
	DMA_MEM_TO_DEV Direction = 0
	// DMA_DEV_TO_MEM drains the receive FIFO into memory.
	DMA_DEV_TO_MEM Direction = 1
)

// DirectionNames provides human-readable names for transfer directions.
var DirectionNames = map[Direction]string{
	DMA_MEM_TO_DEV: "MEM_TO_DEV",
	DMA_DEV_TO_MEM: "DEV_TO_MEM",
}

func (d Direction) String() string {
	if name, ok := DirectionNames[d]; ok {
		return name
	}

	return "UNKNOWN"
}

// DmaState is the state of an in-flight DMA transaction.
type DmaState int32

const (
	DMA_COMPLETE    DmaState = 0
	DMA_IN_PROGRESS DmaState = 1
	DMA_PAUSED      DmaState = 2
	DMA_ERROR       DmaState = 3
)

// DmaStatus describes the progress of a submitted transaction.
type DmaStatus struct {
	State         DmaState
	Residue       uint32 // Bytes remaining in the current period.
	InFlightBytes uint32
}

// DmaCookie identifies a submitted transaction on its channel.
type DmaCookie int32

// SlaveConfig carries the per-direction channel parameters: the bus address
// of the FIFO data register, the register width and the burst size.
type SlaveConfig struct {
	Direction Direction
	Addr      uint32 // Bus address of the peripheral data register.
	AddrWidth uint32 // Register width in bytes.
	MaxBurst  uint32
}

// RegisterBlock provides ordered access to the memory-mapped PCM/I2S control
// block. Implementations must not reorder accesses across calls; a Write or
// UpdateBits must be visible to the hardware before the next call returns.
type RegisterBlock interface {
	// Read returns the current value of the register at the given offset.
	Read(off uint32) uint32

	// Write stores val to the register at the given offset.
	Write(off uint32, val uint32)

	// UpdateBits performs a read/modify/write cycle, replacing the bits
	// selected by mask with the corresponding bits of val.
	UpdateBits(off, mask, val uint32)
}

// DmaDescriptor is a prepared (but not yet submitted) cyclic transaction.
type DmaDescriptor interface {
	// SetCallback attaches a completion callback invoked once per period
	// boundary. Must be called before Submit.
	SetCallback(fn func())

	// Submit queues the transaction on its channel and returns its cookie.
	// The transfer does not start until IssuePending is called on the channel.
	Submit() (DmaCookie, error)
}

// DmaChannel is one direction of the DMA engine, obtained from Dma.
type DmaChannel interface {
	// ConfigureSlave programs the peripheral-side parameters for subsequent
	// cyclic preparations.
	ConfigureSlave(cfg SlaveConfig) error

	// PrepCyclic builds an indefinitely repeating transaction over bufLen
	// bytes at busAddr, interrupting every periodLen bytes.
	PrepCyclic(busAddr, bufLen, periodLen uint32, dir Direction) (DmaDescriptor, error)

	// IssuePending starts execution of all submitted transactions.
	IssuePending()

	// TxStatus reports the progress of the transaction identified by cookie.
	TxStatus(cookie DmaCookie) DmaStatus

	// Terminate aborts all transactions on the channel. The channel is not
	// guaranteed quiescent until Synchronize returns.
	Terminate() error

	// Synchronize blocks until the channel has fully drained after Terminate.
	Synchronize()

	// Release returns the channel to the DMA service.
	Release()
}

// Dma hands out named transfer channels.
type Dma interface {
	// RequestChannel acquires the channel with the given name ("tx" or "rx").
	RequestChannel(name string) (DmaChannel, error)
}

// Clock is the shared bit-clock source feeding the bus.
type Clock interface {
	// SetRate requests a new output rate in Hz.
	SetRate(hz uint32) error

	// Enable turns the clock output on.
	Enable()
}

// GateIO is the optional control-voltage gate side channel: a handful of
// GPIO lines sampled and driven once per period from the completion path.
type GateIO interface {
	// SetOutput drives a single output line.
	SetOutput(line int, value bool)

	// ReadInput samples a single input line.
	ReadInput(line int) bool
}

// CoherentBuffer is a DMA-visible memory region returned by an Allocator.
// Mem is the CPU view; BusAddr is the address the DMA engine uses.
type CoherentBuffer struct {
	Mem     []byte
	BusAddr uint32
}

// Allocator provides coherent (uncached, DMA-visible) memory.
type Allocator interface {
	// Alloc returns a zeroed coherent region of at least size bytes.
	Alloc(size int) (*CoherentBuffer, error)

	// Free releases a region obtained from Alloc. The caller must guarantee
	// no DMA transfer still references it.
	Free(buf *CoherentBuffer) error
}

// Hardware bundles the external collaborators a Device runs on. Regs, Dma
// and Alloc are mandatory; Clock is required only by profiles that program a
// bit-clock rate; Gates is required only by profiles with the gate feature.
type Hardware struct {
	Regs  RegisterBlock
	Dma   Dma
	Clock Clock
	Gates GateIO
	Alloc Allocator

	// FifoBusAddr is the bus address of the FIFO_A data register, used as
	// the peripheral address for both DMA directions.
	FifoBusAddr uint32

	// GateOutLines and GateInLines select the GPIO lines used by the gate
	// feature. Empty slices select the defaults.
	GateOutLines []int
	GateInLines  []int

	// Logger receives non-fatal hardware warnings. Nil disables logging.
	Logger *log.Logger
}
