//go:build linux

package i2s

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmioRegisters maps the PCM/I2S control block from /dev/mem. Register
// accesses are single aligned 32-bit loads and stores through sync/atomic,
// which keeps them ordered with respect to each other as the RegisterBlock
// contract requires.
type MmioRegisters struct {
	mu   sync.Mutex // serializes read/modify/write cycles
	file *os.File
	mem  []byte
}

// OpenMmioRegisters maps one page of /dev/mem at the block's physical base.
func OpenMmioRegisters(physBase uint32) (*MmioRegisters, error) {
	file, err := os.OpenFile("/dev/mem", os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/mem: %w", err)
	}

	mem, err := unix.Mmap(int(file.Fd()), int64(physBase), pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("mmap control block at %#x: %w", physBase, err)
	}

	return &MmioRegisters{file: file, mem: mem}, nil
}

// word returns the mapped register at off as an atomically accessible word.
func (r *MmioRegisters) word(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

// Read implements RegisterBlock.
func (r *MmioRegisters) Read(off uint32) uint32 {
	return atomic.LoadUint32(r.word(off))
}

// Write implements RegisterBlock.
func (r *MmioRegisters) Write(off uint32, val uint32) {
	atomic.StoreUint32(r.word(off), val)
}

// UpdateBits implements RegisterBlock.
func (r *MmioRegisters) UpdateBits(off, mask, val uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := atomic.LoadUint32(r.word(off))
	atomic.StoreUint32(r.word(off), (old&^mask)|(val&mask))
}

// Close unmaps the control block.
func (r *MmioRegisters) Close() error {
	if r.mem != nil {
		if err := unix.Munmap(r.mem); err != nil {
			return err
		}
		r.mem = nil
	}

	return r.file.Close()
}

// LockedAllocator provides stream buffers from anonymous, shared, mlocked
// pages. The bus-address translation for the region is platform specific
// and supplied by the caller as a fixed base; the allocator hands out
// consecutive page-aligned slots below it.
type LockedAllocator struct {
	mu      sync.Mutex
	busBase uint32
	next    uint32
}

// NewLockedAllocator returns an allocator whose regions report bus addresses
// starting at busBase.
func NewLockedAllocator(busBase uint32) *LockedAllocator {
	return &LockedAllocator{busBase: busBase}
}

// Alloc implements Allocator.
func (a *LockedAllocator) Alloc(size int) (*CoherentBuffer, error) {
	size = (size + pageSize - 1) &^ (pageSize - 1)

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	// Page faults in the middle of a period are real-time poison.
	if err := unix.Mlock(mem); err != nil {
		_ = unix.Munmap(mem)

		return nil, fmt.Errorf("mlock: %w", err)
	}

	a.mu.Lock()
	busAddr := a.busBase + a.next
	a.next += uint32(size)
	a.mu.Unlock()

	return &CoherentBuffer{Mem: mem, BusAddr: busAddr}, nil
}

// Free implements Allocator.
func (a *LockedAllocator) Free(buf *CoherentBuffer) error {
	if err := unix.Munlock(buf.Mem); err != nil {
		return err
	}

	return unix.Munmap(buf.Mem)
}
