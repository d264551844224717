// Package kvm is kernel virtual memory: it vends variable-size virtual
// page regions out of one or more Arenas, backing them with PM pages
// mapped through MUL either immediately or on first fault.
//
// Grounded on gopheros' kernel/mem/vmm address-space bookkeeping
// (src/gopheros/kernel/mem/vmm/vmm.go) for the locking/error idiom, and on
// §4.2 of the spec for the bucketed free-region allocator itself, which
// has no direct analogue in the retrieval pack.
package kvm

import (
	"nexke/kernel"
	"nexke/kernel/list"
	"nexke/kernel/mem/mul"
	"nexke/kernel/mem/pm"
	"nexke/kernel/sync"
)

// Flag modifies AllocKvRegion's behavior.
type Flag uint32

const (
	// NoDemand requests that every page of the region be backed and
	// mapped immediately instead of on first fault. Only meaningful on a
	// needsMap arena.
	NoDemand Flag = 1 << iota
)

// bucketClasses are the upper bounds (in pages) of the five free-region
// size classes buckets[i] holds regions for, per §4.2.
var bucketClasses = [5]uint64{4, 8, 16, 32, 1 << 32}

const (
	freeListMin    = 4
	freeListTarget = 8
	freeListMax    = 12
)

// Region describes one extent of an Arena's virtual span, free or in use.
type Region struct {
	Base  uintptr
	Pages uint64
	Free  bool

	arena *Arena
	link  list.Link[Region] // link on a bucket or the single-page free list
}

// bucket holds free regions of one size class.
type bucket struct {
	list list.List[Region]
}

// Arena is one region of the kernel virtual address space (§4.2).
type Arena struct {
	Name string

	Start, End uintptr
	NeedsMap   bool

	FreeCount uint64 // pages currently free across every bucket + single-page list

	buckets    [5]bucket
	singlePage list.List[Region]

	regions map[uintptr]*Region // every region, free or not, keyed by base

	kernelObj *pm.Object
	space     *mul.Space

	Lock sync.Spinlock
}

var (
	errNoSpace     = &kernel.Error{Module: "kvm", Message: "no arena has enough contiguous free space"}
	errBadPointer  = &kernel.Error{Module: "kvm", Message: "pointer does not name a kvm region"}
	errWrongArena  = &kernel.Error{Module: "kvm", Message: "operation requires a needsMap arena"}
)

// ErrNoSpace is returned by AllocKvRegion when no arena can satisfy the
// request.
var ErrNoSpace = errNoSpace
