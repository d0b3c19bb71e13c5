package i2s

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// The coherent region reserved at device attach. Sized for the largest
// supported period (128 frames x 8 channels x 4 bytes) twice over, with room
// for the gate words.
const (
	reservedBufferPages = 16
	pageSize            = 4096

	// ReservedBufferSize is the size of the coherent region a Device
	// allocates for its lifetime.
	ReservedBufferSize = reservedBufferPages * pageSize
)

// SupportedPeriodSizes lists the period sizes in frames known to keep the
// codecs' DMA pacing happy. SetupBuffers accepts any geometry that fits the
// reserved region; tools use this list to validate user input.
var SupportedPeriodSizes = []uint32{16, 32, 64, 128}

// IsSupportedPeriodSize reports whether frames is in SupportedPeriodSizes.
func IsSupportedPeriodSize(frames uint32) bool {
	for _, s := range SupportedPeriodSizes {
		if frames == s {
			return true
		}
	}

	return false
}

// Device is an open streaming engine instance bound to one physical PCM/I2S
// block. All lifecycle operations are serialized internally; the completion
// callback and the consumer communicate only through atomics and the
// completion channel, never through the lifecycle mutex.
type Device struct {
	regs   RegisterBlock
	clock  Clock
	alloc  Allocator
	logger *log.Logger

	txChan DmaChannel
	rxChan DmaChannel
	region *CoherentBuffer

	fifoBusAddr uint32
	addrWidth   uint32
	burstSize   uint32

	mu          sync.Mutex
	state       StreamState
	initialized bool
	profile     Profile
	buffers     *StreamBuffers
	gates       *gateBank
	gateIO      GateIO
	gateOuts    []int
	gateIns     []int
	frames      uint32
	channels    uint32

	txDesc   DmaDescriptor
	rxDesc   DmaDescriptor
	txCookie DmaCookie
	rxCookie DmaCookie

	interrupts   atomic.Uint64
	bufferIdx    atomic.Uint32
	consumerDone atomic.Uint64
	underruns    atomic.Uint64

	warnClockRate  atomic.Uint64
	warnSyncPoll   atomic.Uint64
	warnXferStatus atomic.Uint64

	completions chan uint32
}

// Open attaches to the hardware described by hw: it acquires the transmit
// and receive DMA channels and the coherent stream region. Partial
// acquisition is unwound before the error is returned.
func Open(hw *Hardware) (*Device, error) {
	if hw == nil || hw.Regs == nil || hw.Dma == nil || hw.Alloc == nil {
		return nil, fmt.Errorf("i2s: register block, dma service and allocator are required")
	}

	d := &Device{
		regs:        hw.Regs,
		clock:       hw.Clock,
		alloc:       hw.Alloc,
		logger:      hw.Logger,
		gateIO:      hw.Gates,
		gateOuts:    hw.GateOutLines,
		gateIns:     hw.GateInLines,
		fifoBusAddr: hw.FifoBusAddr,
		addrWidth:   sampleSize,
		burstSize:   2,
		state:       STREAM_STATE_UNINITIALIZED,
		completions: make(chan uint32, 1),
	}

	var err error
	d.txChan, err = hw.Dma.RequestChannel("tx")
	if err != nil {
		return nil, fmt.Errorf("%w: tx: %v", ErrChannelUnavailable, err)
	}

	d.rxChan, err = hw.Dma.RequestChannel("rx")
	if err != nil {
		d.txChan.Release()

		return nil, fmt.Errorf("%w: rx: %v", ErrChannelUnavailable, err)
	}

	d.region, err = hw.Alloc.Alloc(ReservedBufferSize)
	if err != nil {
		d.rxChan.Release()
		d.txChan.Release()

		return nil, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}

	return d, nil
}

// Close tears the device down: it exits any active stream, releases the DMA
// channels and frees the coherent region. The region is freed only after
// both channels are confirmed quiescent.
func (d *Device) Close() error {
	d.mu.Lock()
	initialized := d.initialized
	d.mu.Unlock()

	var exitErr error
	if initialized {
		exitErr = d.ExitStream()
		if errors.Is(exitErr, ErrTerminationFailed) {
			// A channel that refused to terminate may still reference the
			// coherent region; keep the channels and the region held and
			// surface the error instead.
			return exitErr
		}
	}

	d.rxChan.Release()
	d.txChan.Release()

	if err := d.alloc.Free(d.region); err != nil && exitErr == nil {
		exitErr = err
	}
	d.region = nil

	return exitErr
}

// InitStream selects the hardware variant for the next stream and zeroes the
// coherent region. It must not be called twice without an intervening
// ExitStream.
func (d *Device) InitStream(variant string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return fmt.Errorf("%w: stream already initialized (%s)", ErrInvalidState, d.state)
	}

	profile, err := LookupProfile(variant)
	if err != nil {
		return err
	}

	if profile.GateSupport {
		if d.gateIO == nil {
			return fmt.Errorf("i2s: variant %q requires gate GPIO but none was provided", variant)
		}
		d.gates = newGateBank(d.gateIO, d.gateOuts, d.gateIns)
	} else {
		d.gates = nil
	}

	for i := range d.region.Mem {
		d.region.Mem[i] = 0
	}

	d.profile = profile
	d.initialized = true
	d.state = STREAM_STATE_UNINITIALIZED

	return nil
}

// SetupBuffers computes the period geometry from the caller's frame and
// channel counts, prepares both cyclic DMA transfers, programs the protocol
// registers, clears the FIFOs, primes the transmit FIFO and submits the
// transfers. On success the stream is Configured and ready to Start.
func (d *Device) SetupBuffers(frames, channels uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return fmt.Errorf("%w: InitStream must run first", ErrInvalidState)
	}
	if d.state == STREAM_STATE_RUNNING {
		return fmt.Errorf("%w: cannot reconfigure buffers while running", ErrInvalidState)
	}

	if frames == 0 {
		return fmt.Errorf("i2s: period size must be positive")
	}
	if channels == 0 {
		return fmt.Errorf("i2s: channel count must be positive")
	}

	periodLen := frames * channels * sampleSize
	buffers, err := newStreamBuffers(d.region, periodLen, d.gates != nil)
	if err != nil {
		return err
	}

	// Reconfiguration after an earlier setup: quiesce the previous cyclic
	// pair so the new transactions do not stack on still-issued channels.
	if d.txDesc != nil || d.rxDesc != nil {
		if err := d.dmaTeardown(); err != nil {
			return err
		}
		d.txDesc = nil
		d.rxDesc = nil
	}

	d.buffers = buffers
	d.frames = frames
	d.channels = channels

	if d.gates != nil {
		// All gate outputs start high, matching codec reset expectations.
		buffers.SetGateOutWord(0x0f)
	}

	if err := d.dmaPrepare(); err != nil {
		return err
	}

	d.clearRegs()
	d.configure()
	d.enable()
	d.ClearFifos(true, true)

	// Prime the transmit FIFO so the first DREQ finds data waiting.
	for i := uint32(0); i < BCM2835_DMA_THR_TX+channels; i++ {
		d.regs.Write(BCM2835_I2S_FIFO_A_REG, 0)
	}

	if err := d.submitDma(); err != nil {
		return err
	}

	d.interrupts.Store(0)
	d.bufferIdx.Store(0)
	d.consumerDone.Store(0)
	d.underruns.Store(0)
	select {
	case <-d.completions:
	default:
	}

	d.state = STREAM_STATE_CONFIGURED

	return nil
}

// Start enables streaming. For variants with frame-sync search the receive
// FIFO is drained to the zero/zero channel marker first, so the two slots
// come out in a known order.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != STREAM_STATE_CONFIGURED && d.state != STREAM_STATE_STOPPED {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, d.state)
	}

	if err := d.busStart(); err != nil {
		return err
	}

	d.state = STREAM_STATE_RUNNING

	return nil
}

// Stop disables both bus directions. Stopping an already stopped stream is a
// no-op and leaves register state untouched.
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != STREAM_STATE_RUNNING {
		return
	}

	d.busStop()
	d.state = STREAM_STATE_STOPPED
}

// ExitStream stops the bus, terminates and synchronizes both DMA channels
// (transmit first) and silences the transmit buffer. After ExitStream the
// device accepts a new InitStream.
func (d *Device) ExitStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return fmt.Errorf("%w: no stream to exit", ErrInvalidState)
	}

	if d.state == STREAM_STATE_RUNNING {
		d.busStop()
	}

	if err := d.dmaTeardown(); err != nil {
		return err
	}

	if d.buffers != nil {
		d.buffers.SilenceTx()
	}

	d.initialized = false
	d.state = STREAM_STATE_UNINITIALIZED

	return nil
}

// State returns the current lifecycle state.
func (d *Device) State() StreamState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// Profile returns the resolved hardware profile of the current stream.
func (d *Device) Profile() Profile {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.profile
}

// Completions returns the completion signal: a channel carrying the
// BufferIndex value after each period boundary. The channel holds at most
// one pending signal; a slow consumer observes only the most recent one.
func (d *Device) Completions() <-chan uint32 {
	return d.completions
}

// BufferIndex returns the half of the double buffer the hardware currently
// owns. Software may only touch the other half.
func (d *Device) BufferIndex() uint32 {
	return d.bufferIdx.Load()
}

// CurrentHalf returns typed views of the receive and transmit periods that
// software may safely access, i.e. the halves the DMA engine is not
// currently transferring. Before SetupBuffers there are no halves and both
// views are nil.
func (d *Device) CurrentHalf() (rx, tx []int32) {
	d.mu.Lock()
	buffers := d.buffers
	d.mu.Unlock()

	if buffers == nil {
		return nil, nil
	}

	idx := d.bufferIdx.Load() ^ 1

	return buffers.RxHalf(idx), buffers.TxHalf(idx)
}

// Buffers exposes the stream buffer views. Valid after SetupBuffers.
func (d *Device) Buffers() *StreamBuffers {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.buffers
}

// Interrupts returns the number of period-boundary completions seen.
func (d *Device) Interrupts() uint64 {
	return d.interrupts.Load()
}

// ConsumerDone records that the consumer finished processing one period.
// Periods the hardware completed beyond the consumer's count accumulate as
// underruns.
func (d *Device) ConsumerDone() {
	done := d.consumerDone.Add(1)
	k := d.interrupts.Load()
	if k > done {
		d.underruns.Add(k - done)
		d.consumerDone.Store(k)
	}
}

// Underruns returns the number of periods the consumer failed to service in
// time.
func (d *Device) Underruns() uint64 {
	return d.underruns.Load()
}

// WarningCounts returns the non-fatal hardware warning counters: failed
// clock-rate requests, exhausted FIFO sync polls and DMA transfer status
// errors seen by the completion path.
func (d *Device) WarningCounts() (clockRate, syncPoll, xferStatus uint64) {
	return d.warnClockRate.Load(), d.warnSyncPoll.Load(), d.warnXferStatus.Load()
}

// PeriodFrames returns the configured period size in frames.
func (d *Device) PeriodFrames() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.frames
}

// Channels returns the configured channel count.
func (d *Device) Channels() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.channels
}

// PeriodTime returns the duration of one period at the profile's sample rate.
func (d *Device) PeriodTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.profile.SampleRate == 0 {
		return 0
	}

	ns := (1e9 * float64(d.frames)) / float64(d.profile.SampleRate)

	return time.Duration(ns)
}

// logf logs through the injected logger, if any.
func (d *Device) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
