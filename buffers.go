package i2s

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// sampleSize is the in-memory size of one sample word.
const sampleSize = 4

// StreamBuffers partitions one coherent allocation into the regions shared
// with the DMA engine: the receive double buffer, the transmit double buffer
// placed immediately after it, and (with the gate feature) one gate-out and
// one gate-in word behind the data halves.
//
// Layout, all offsets relative to the region base:
//
//	0                  receive half  (bufferLen = 2 * periodLen)
//	bufferLen          transmit half (bufferLen)
//	2*bufferLen        gate-out word
//	2*bufferLen + 4    gate-in word
//
// All sub-views are derived once here; nothing else in the package does
// address arithmetic into the region.
type StreamBuffers struct {
	region    *CoherentBuffer
	periodLen uint32
	bufferLen uint32
	gates     bool
}

// newStreamBuffers carves the stream regions out of a coherent allocation.
// periodLen must be a whole number of sample words and the region must hold
// both double buffers plus the gate words.
func newStreamBuffers(region *CoherentBuffer, periodLen uint32, gates bool) (*StreamBuffers, error) {
	if periodLen == 0 || periodLen%sampleSize != 0 {
		return nil, fmt.Errorf("period length %d is not a multiple of the %d-byte sample size", periodLen, sampleSize)
	}

	bufferLen := 2 * periodLen
	need := 2*bufferLen + 2*sampleSize
	if uint32(len(region.Mem)) < need {
		return nil, fmt.Errorf("%w: need %d bytes, coherent region holds %d", ErrAllocationFailed, need, len(region.Mem))
	}

	return &StreamBuffers{
		region:    region,
		periodLen: periodLen,
		bufferLen: bufferLen,
		gates:     gates,
	}, nil
}

// PeriodLen returns the period length in bytes (one half of a double buffer).
func (b *StreamBuffers) PeriodLen() uint32 { return b.periodLen }

// BufferLen returns the total double-buffer length in bytes, always exactly
// two periods.
func (b *StreamBuffers) BufferLen() uint32 { return b.bufferLen }

// RxBusAddr returns the bus address of the receive double buffer.
func (b *StreamBuffers) RxBusAddr() uint32 { return b.region.BusAddr }

// TxBusAddr returns the bus address of the transmit double buffer.
func (b *StreamBuffers) TxBusAddr() uint32 { return b.region.BusAddr + b.bufferLen }

// GateOutOffset returns the byte offset of the gate-out word within the region.
func (b *StreamBuffers) GateOutOffset() uint32 { return 2 * b.bufferLen }

// GateInOffset returns the byte offset of the gate-in word within the region.
func (b *StreamBuffers) GateInOffset() uint32 { return 2*b.bufferLen + sampleSize }

// words reinterprets a byte sub-region as sample words. The coherent region
// is page-aligned, so any multiple-of-4 offset keeps word alignment.
func (b *StreamBuffers) words(off, length uint32) []int32 {
	return unsafe.Slice((*int32)(unsafe.Pointer(&b.region.Mem[off])), length/sampleSize)
}

// Rx returns the full receive double buffer as sample words.
func (b *StreamBuffers) Rx() []int32 { return b.words(0, b.bufferLen) }

// Tx returns the full transmit double buffer as sample words.
func (b *StreamBuffers) Tx() []int32 { return b.words(b.bufferLen, b.bufferLen) }

// RxHalf returns one period of the receive buffer. idx selects the half and
// must be 0 or 1.
func (b *StreamBuffers) RxHalf(idx uint32) []int32 {
	return b.words((idx&1)*b.periodLen, b.periodLen)
}

// TxHalf returns one period of the transmit buffer. idx selects the half and
// must be 0 or 1.
func (b *StreamBuffers) TxHalf(idx uint32) []int32 {
	return b.words(b.bufferLen+(idx&1)*b.periodLen, b.periodLen)
}

// gateWord returns the gate cell at off as an atomically accessible word.
// The gate-in word is written from the completion path while the consumer
// reads it, so both cells always go through atomics.
func (b *StreamBuffers) gateWord(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&b.region.Mem[off]))
}

// GateOutWord returns the staged gate output bits.
func (b *StreamBuffers) GateOutWord() uint32 {
	if !b.gates {
		return 0
	}

	return atomic.LoadUint32(b.gateWord(b.GateOutOffset()))
}

// SetGateOutWord stages the gate output bits driven on the next period boundary.
func (b *StreamBuffers) SetGateOutWord(v uint32) {
	if !b.gates {
		return
	}

	atomic.StoreUint32(b.gateWord(b.GateOutOffset()), v)
}

// GateInWord returns the gate input bits sampled on the last period boundary.
func (b *StreamBuffers) GateInWord() uint32 {
	if !b.gates {
		return 0
	}

	return atomic.LoadUint32(b.gateWord(b.GateInOffset()))
}

func (b *StreamBuffers) setGateInWord(v uint32) {
	atomic.StoreUint32(b.gateWord(b.GateInOffset()), v)
}

// SilenceTx zeroes the whole transmit double buffer.
func (b *StreamBuffers) SilenceTx() {
	tx := b.Tx()
	for i := range tx {
		tx[i] = 0
	}
}
