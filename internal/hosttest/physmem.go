// Package hosttest provides host-side test fixtures that stand in for
// things a real boot environment would hand the core: here, a physical
// memory pool backed by an actual mmap'd region rather than a bare Go
// slice, so tests that care about real, stable addresses (not just PFN
// bookkeeping) have one to allocate against.
package hosttest

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PhysPool is an anonymous mmap standing in for a contiguous physical
// memory extent. Unlike a Go slice, its base address is a real, page-
// aligned mapping the host kernel manages, so tests exercising PFN/address
// round-tripping aren't just checking arithmetic against a slice header.
type PhysPool struct {
	mem  []byte
	Base uintptr
	Size uint64
}

// NewPhysPool mmaps size bytes (rounded up by the caller to a page
// multiple) and returns the pool. Call Close to munmap it.
func NewPhysPool(size uint64) (*PhysPool, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("hosttest: mmap %d bytes: %w", size, err)
	}
	return &PhysPool{
		mem:  mem,
		Base: uintptr(unsafe.Pointer(&mem[0])),
		Size: size,
	}, nil
}

// Close unmaps the pool. Safe to call once; a second call returns the
// munmap error for an already-unmapped region.
func (p *PhysPool) Close() error {
	return unix.Munmap(p.mem)
}

// At returns the byte slice backing the frame at the given offset from
// Base, length bytes long. Used by tests that want to read/write a
// "physical" page directly rather than only track its PFN.
func (p *PhysPool) At(off uintptr, length int) []byte {
	return p.mem[off : off+uintptr(length)]
}
