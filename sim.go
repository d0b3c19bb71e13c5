package i2s

import (
	"fmt"
	"sync"
	"time"
)

// This file provides in-memory implementations of every collaborator
// interface, with scriptable failures, so the whole engine can run and be
// tested without hardware. The cmd tools run on the same simulation.

// SimRegisters is an in-memory PCM/I2S register block with a small codec
// model behind the FIFO: reads pop from a sample queue and the RXD status
// bit tracks queue occupancy.
type SimRegisters struct {
	mu         sync.Mutex
	regs       map[uint32]uint32
	writes     int
	fifoWrites int
	rxQueue    []int32

	// StickySync freezes the SYNC bit so writes to it are never echoed,
	// simulating a stalled bus clock.
	StickySync bool
}

// NewSimRegisters returns a register block in power-on state.
func NewSimRegisters() *SimRegisters {
	return &SimRegisters{regs: make(map[uint32]uint32)}
}

// Read implements RegisterBlock.
func (r *SimRegisters) Read(off uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if off == BCM2835_I2S_FIFO_A_REG {
		if len(r.rxQueue) == 0 {
			return 0
		}
		v := uint32(r.rxQueue[0])
		r.rxQueue = r.rxQueue[1:]

		return v
	}

	v := r.regs[off]
	if off == BCM2835_I2S_CS_A_REG {
		if len(r.rxQueue) > 0 {
			v |= BCM2835_I2S_RXD
		} else {
			v &^= BCM2835_I2S_RXD
		}
	}

	return v
}

// Write implements RegisterBlock.
func (r *SimRegisters) Write(off uint32, val uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store(off, val)
}

// UpdateBits implements RegisterBlock.
func (r *SimRegisters) UpdateBits(off, mask, val uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.regs[off]
	r.store(off, (old&^mask)|(val&mask))
}

func (r *SimRegisters) store(off, val uint32) {
	r.writes++

	if off == BCM2835_I2S_FIFO_A_REG {
		r.fifoWrites++

		return
	}

	if off == BCM2835_I2S_CS_A_REG {
		if r.StickySync {
			val = (val &^ BCM2835_I2S_SYNC) | (r.regs[off] & BCM2835_I2S_SYNC)
		}
		// RXCLR/TXCLR are write-to-trigger pulse bits: the hardware acts on
		// the write and self-clears them, so they never read back and a later
		// read/modify/write cannot re-trigger the clear.
		if val&BCM2835_I2S_RXCLR != 0 {
			r.rxQueue = nil
		}
		val &^= BCM2835_I2S_RXCLR | BCM2835_I2S_TXCLR
	}

	r.regs[off] = val
}

// EnqueueRx appends samples to the receive FIFO model.
func (r *SimRegisters) EnqueueRx(samples ...int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rxQueue = append(r.rxQueue, samples...)
}

// RxQueueLen returns the number of samples waiting in the receive FIFO model.
func (r *SimRegisters) RxQueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rxQueue)
}

// Value returns the stored register value without FIFO side effects.
func (r *SimRegisters) Value(off uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.regs[off]
}

// WriteCount returns the number of mutating register accesses so far.
func (r *SimRegisters) WriteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writes
}

// FifoWrites returns the number of words written to the FIFO register.
func (r *SimRegisters) FifoWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fifoWrites
}

// SimDescriptor is a prepared cyclic transaction on a SimChannel.
type SimDescriptor struct {
	ch        *SimChannel
	busAddr   uint32
	bufLen    uint32
	periodLen uint32
	dir       Direction
	callback  func()
	cookie    DmaCookie
}

// SetCallback implements DmaDescriptor.
func (sd *SimDescriptor) SetCallback(fn func()) {
	sd.ch.mu.Lock()
	defer sd.ch.mu.Unlock()

	sd.callback = fn
}

// Submit implements DmaDescriptor.
func (sd *SimDescriptor) Submit() (DmaCookie, error) {
	sd.ch.mu.Lock()
	defer sd.ch.mu.Unlock()

	if sd.ch.FailSubmit {
		return 0, fmt.Errorf("sim: %s submit refused", sd.ch.name)
	}

	sd.ch.cookieSeq++
	sd.cookie = sd.ch.cookieSeq
	sd.ch.submitted = append(sd.ch.submitted, sd)

	return sd.cookie, nil
}

// SimChannel is one simulated DMA channel. The Fail* fields script setup
// failures; Status is what TxStatus reports for any cookie.
type SimChannel struct {
	mu   sync.Mutex
	name string

	FailConfigure bool
	FailPrep      bool
	FailSubmit    bool
	FailTerminate bool
	Status        DmaStatus

	slave        SlaveConfig
	configured   bool
	submitted    []*SimDescriptor
	issued       bool
	terminated   bool
	synchronized bool
	released     bool
	cookieSeq    DmaCookie
	periodIdx    uint32

	// FillFunc, when set on a receive channel, generates each period's
	// payload just before the completion callback fires.
	FillFunc func(periodIdx uint32, period []byte)
}

// ConfigureSlave implements DmaChannel.
func (c *SimChannel) ConfigureSlave(cfg SlaveConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailConfigure {
		return fmt.Errorf("sim: %s slave config refused", c.name)
	}

	c.slave = cfg
	c.configured = true

	return nil
}

// PrepCyclic implements DmaChannel.
func (c *SimChannel) PrepCyclic(busAddr, bufLen, periodLen uint32, dir Direction) (DmaDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailPrep {
		return nil, fmt.Errorf("sim: %s cyclic prep refused", c.name)
	}
	if !c.configured {
		return nil, fmt.Errorf("sim: %s not configured", c.name)
	}
	if periodLen == 0 || bufLen%periodLen != 0 {
		return nil, fmt.Errorf("sim: %s buffer %d not a multiple of period %d", c.name, bufLen, periodLen)
	}

	return &SimDescriptor{ch: c, busAddr: busAddr, bufLen: bufLen, periodLen: periodLen, dir: dir}, nil
}

// IssuePending implements DmaChannel.
func (c *SimChannel) IssuePending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.submitted) > 0 {
		c.issued = true
		c.terminated = false
	}
}

// TxStatus implements DmaChannel.
func (c *SimChannel) TxStatus(cookie DmaCookie) DmaStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Status
}

// Terminate implements DmaChannel.
func (c *SimChannel) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailTerminate {
		return fmt.Errorf("sim: %s terminate refused", c.name)
	}

	c.submitted = nil
	c.issued = false
	c.terminated = true
	c.synchronized = false

	return nil
}

// Synchronize implements DmaChannel.
func (c *SimChannel) Synchronize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.synchronized = true
}

// Release implements DmaChannel.
func (c *SimChannel) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.released = true
}

// Issued reports whether the channel has pending work issued.
func (c *SimChannel) Issued() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.issued
}

// Terminated reports whether the channel was terminated after its last issue.
func (c *SimChannel) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.terminated
}

// Synchronized reports whether the channel was drained after termination.
func (c *SimChannel) Synchronized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.synchronized
}

// Released reports whether the channel was handed back to the service.
func (c *SimChannel) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.released
}

// Slave returns the last slave configuration programmed on the channel.
func (c *SimChannel) Slave() SlaveConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.slave
}

// SubmittedCount returns the number of currently submitted transactions.
func (c *SimChannel) SubmittedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.submitted)
}

// memResolver maps bus addresses back to CPU-visible memory.
type memResolver interface {
	resolve(busAddr, length uint32) []byte
}

// SimDma is the simulated DMA service with one "tx" and one "rx" channel.
type SimDma struct {
	mu          sync.Mutex
	channels    map[string]*SimChannel
	resolver    memResolver
	FailRequest map[string]bool
}

// NewSimDma returns a DMA service with "tx" and "rx" channels.
func NewSimDma() *SimDma {
	return &SimDma{
		channels: map[string]*SimChannel{
			"tx": {name: "tx", Status: DmaStatus{State: DMA_IN_PROGRESS}},
			"rx": {name: "rx", Status: DmaStatus{State: DMA_IN_PROGRESS}},
		},
		FailRequest: make(map[string]bool),
	}
}

// RequestChannel implements Dma.
func (d *SimDma) RequestChannel(name string) (DmaChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailRequest[name] {
		return nil, fmt.Errorf("sim: channel %q unavailable", name)
	}

	ch, ok := d.channels[name]
	if !ok {
		return nil, fmt.Errorf("sim: no channel %q", name)
	}
	ch.released = false

	return ch, nil
}

// Channel exposes a simulated channel for scripting and inspection.
func (d *SimDma) Channel(name string) *SimChannel {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.channels[name]
}

// FireCompletion simulates one period boundary: the receive channel's fill
// function (if any) produces the period payload, then the completion
// callback attached to the receive descriptor runs. Returns an error if no
// issued receive transfer carries a callback.
func (d *SimDma) FireCompletion() error {
	rx := d.Channel("rx")

	rx.mu.Lock()
	if !rx.issued || len(rx.submitted) == 0 {
		rx.mu.Unlock()

		return fmt.Errorf("sim: no issued rx transfer")
	}

	desc := rx.submitted[0]
	cb := desc.callback
	fill := rx.FillFunc
	idx := rx.periodIdx
	rx.periodIdx++
	rx.mu.Unlock()

	if cb == nil {
		return fmt.Errorf("sim: rx transfer has no callback")
	}

	if fill != nil && d.resolver != nil {
		buf := d.resolver.resolve(desc.busAddr, desc.bufLen)
		if buf != nil {
			off := (idx % 2) * desc.periodLen
			fill(idx, buf[off:off+desc.periodLen])
		}
	}

	cb()

	return nil
}

// AutoFire fires completions at the given interval until the receive
// transfer is terminated or the returned stop function is called.
func (d *SimDma) AutoFire(interval time.Duration) (stop func()) {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := d.FireCompletion(); err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once

	return func() { once.Do(func() { close(done) }) }
}

// SimClock records clock requests. Err, when set, fails SetRate.
type SimClock struct {
	mu      sync.Mutex
	Err     error
	rate    uint32
	enabled bool
}

// SetRate implements Clock.
func (c *SimClock) SetRate(hz uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		return c.Err
	}
	c.rate = hz

	return nil
}

// Enable implements Clock.
func (c *SimClock) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = true
}

// Rate returns the last successfully programmed rate.
func (c *SimClock) Rate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rate
}

// Enabled reports whether the clock output was turned on.
func (c *SimClock) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.enabled
}

// SimGates models the gate GPIO lines.
type SimGates struct {
	mu      sync.Mutex
	outputs map[int]bool
	inputs  map[int]bool
}

// NewSimGates returns a gate bank with all lines low.
func NewSimGates() *SimGates {
	return &SimGates{outputs: make(map[int]bool), inputs: make(map[int]bool)}
}

// SetOutput implements GateIO.
func (g *SimGates) SetOutput(line int, value bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.outputs[line] = value
}

// ReadInput implements GateIO.
func (g *SimGates) ReadInput(line int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.inputs[line]
}

// SetInput drives a simulated input line.
func (g *SimGates) SetInput(line int, value bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inputs[line] = value
}

// Output returns the current state of a simulated output line.
func (g *SimGates) Output(line int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.outputs[line]
}

// SimAllocator hands out page-aligned in-memory regions with fabricated bus
// addresses starting at simBusBase.
type SimAllocator struct {
	mu        sync.Mutex
	next      uint32
	regions   map[uint32][]byte
	frees     int
	FailAlloc bool
}

const simBusBase = 0x40000000

// NewSimAllocator returns an empty allocator.
func NewSimAllocator() *SimAllocator {
	return &SimAllocator{next: simBusBase, regions: make(map[uint32][]byte)}
}

// Alloc implements Allocator.
func (a *SimAllocator) Alloc(size int) (*CoherentBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailAlloc {
		return nil, fmt.Errorf("sim: allocation refused")
	}

	mem := make([]byte, size)
	busAddr := a.next
	a.next += uint32((size + pageSize - 1) &^ (pageSize - 1))
	a.regions[busAddr] = mem

	return &CoherentBuffer{Mem: mem, BusAddr: busAddr}, nil
}

// Free implements Allocator.
func (a *SimAllocator) Free(buf *CoherentBuffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.regions[buf.BusAddr]; !ok {
		return fmt.Errorf("sim: unknown region %#x", buf.BusAddr)
	}
	delete(a.regions, buf.BusAddr)
	a.frees++

	return nil
}

// Frees returns the number of released regions.
func (a *SimAllocator) Frees() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.frees
}

// resolve maps a bus address range back to its CPU view.
func (a *SimAllocator) resolve(busAddr, length uint32) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	for base, mem := range a.regions {
		if busAddr >= base && busAddr+length <= base+uint32(len(mem)) {
			off := busAddr - base

			return mem[off : off+length]
		}
	}

	return nil
}

// SimHardware bundles a complete simulated device.
type SimHardware struct {
	Regs  *SimRegisters
	Dma   *SimDma
	Clock *SimClock
	Gates *SimGates
	Alloc *SimAllocator
}

// NewSimHardware wires up a fresh simulation.
func NewSimHardware() *SimHardware {
	alloc := NewSimAllocator()
	dma := NewSimDma()
	dma.resolver = alloc

	return &SimHardware{
		Regs:  NewSimRegisters(),
		Dma:   dma,
		Clock: &SimClock{},
		Gates: NewSimGates(),
		Alloc: alloc,
	}
}

// Hardware returns the collaborator bundle for Open.
func (s *SimHardware) Hardware() *Hardware {
	return &Hardware{
		Regs:        s.Regs,
		Dma:         s.Dma,
		Clock:       s.Clock,
		Gates:       s.Gates,
		Alloc:       s.Alloc,
		FifoBusAddr: 0x7e203004,
	}
}
