// Package pm is the physical page frame manager. It enumerates the memory
// map handed to the kernel by the boot loader into zones, vends and reclaims
// single frames (and, for DMA callers, small contiguous runs), and keeps the
// (object, offset) -> page hash that the rest of the memory-management core
// uses to find resident pages.
//
// Grounded on gopheros' kernel/mem/pmm (Frame type, bootmem allocator scan
// loop) generalized to the zone/page/object model of the wider core.
package pm

import (
	"nexke/kernel"
	"nexke/kernel/list"
	"nexke/kernel/mem"
	"nexke/kernel/sync"
)

// PFN is a physical page frame number: a physical address shifted right by
// mem.PageShift.
type PFN uint64

// Address returns the physical address this frame number represents.
func (f PFN) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// PFNFromAddress rounds addr down to its containing frame number.
func PFNFromAddress(addr uintptr) PFN {
	return PFN(addr >> mem.PageShift)
}

// ZoneFlag describes the kind of memory a Zone represents.
type ZoneFlag uint32

const (
	// ZoneAllocatable marks a zone whose pages PM may hand out.
	ZoneAllocatable ZoneFlag = 1 << iota
	// ZoneMMIO marks a zone that mirrors device memory; never allocated.
	ZoneMMIO
	// ZoneReserved marks memory the boot loader declared off-limits.
	ZoneReserved
	// ZoneReclaimable marks firmware/boot-loader memory that may be
	// folded into the allocatable pool once it has been consumed.
	ZoneReclaimable
	// ZoneKernelOnly marks a zone whose pages may only back kernel-owned
	// objects (never mapped into a user address space).
	ZoneKernelOnly
	// ZoneNoGeneric excludes a zone from generic AllocPage scans; it is
	// only reachable by callers that ask for it explicitly (ISA-DMA,
	// sub-4G device buffers).
	ZoneNoGeneric
)

// Has reports whether all of flags are set.
func (f ZoneFlag) Has(flags ZoneFlag) bool { return f&flags == flags }

// PageFlag describes the state of a Page. Exactly one of PageFree,
// PageAllocated or PageInObject is set at any time; the remaining flags are
// modifiers.
type PageFlag uint32

const (
	PageFree PageFlag = 1 << iota
	PageAllocated
	PageInObject
	PageFixed
	PageUnusable
	PageGuard
)

func (f PageFlag) Has(flags PageFlag) bool { return f&flags == flags }
func (f PageFlag) Any(flags PageFlag) bool { return f&flags != 0 }

// stateMask isolates the mutually-exclusive residency state bits.
const stateMask = PageFree | PageAllocated | PageInObject

// BackMapping records one (address space, virtual address) alias of a page.
// The Space field is deliberately opaque (an `any` round-tripped by the MUL
// layer) so that pm, which owns Page, never needs to import the mul package
// that owns address spaces -- mirroring the original C sources, where
// MmPageMap_t.space is never dereferenced by the page/object code in mm/page.c,
// only by the MUL backends that installed it.
type BackMapping struct {
	Space any
	Addr  uintptr

	link list.Link[BackMapping]
}

// Page describes one physical frame of allocatable memory.
type Page struct {
	PFN   PFN
	Zone  *Zone
	Flags PageFlag

	FixCount int

	Obj    *Object
	Offset uint64

	maps list.List[BackMapping]

	Lock sync.Spinlock

	listLink list.Link[Page] // free-list or, if IN_OBJECT, unused (hash uses bucket list below)
	objLink  list.Link[Page] // link on Obj.Pages
	hashLink list.Link[Page] // link on the (obj,offset) hash bucket
}

// AddBackMapping records a new (space, addr) alias for this page. Callers
// must hold Page.Lock.
func (p *Page) AddBackMapping(space any, addr uintptr) *BackMapping {
	bm := &BackMapping{Space: space, Addr: addr}
	bm.link.Init(bm)
	p.maps.PushBack(&bm.link)
	return bm
}

// RemoveBackMapping removes a previously recorded alias. Callers must hold
// Page.Lock.
func (p *Page) RemoveBackMapping(bm *BackMapping) {
	p.maps.Remove(&bm.link)
}

// Mappings invokes fn for every recorded back-mapping. Callers must hold
// Page.Lock (or otherwise know the page cannot be concurrently mapped).
func (p *Page) Mappings(fn func(*BackMapping)) {
	p.maps.Do(fn)
}

// MappingCount returns the number of recorded back-mappings.
func (p *Page) MappingCount() int {
	return p.maps.Len()
}

// Zone is a contiguous, non-overlapping range of physical page frames
// [PFNBase, PFNBase+Count).
type Zone struct {
	PFNBase PFN
	Count   uint64
	Flags   ZoneFlag

	FreeCount uint64
	FreeList  list.List[Page]

	PFNMap []Page

	Lock sync.Spinlock
}

// Contains reports whether pfn falls inside this zone.
func (z *Zone) Contains(pfn PFN) bool {
	return pfn >= z.PFNBase && uint64(pfn-z.PFNBase) < z.Count
}

// page returns the Page structure for pfn, which must satisfy Contains.
func (z *Zone) page(pfn PFN) *Page {
	return &z.PFNMap[uint64(pfn-z.PFNBase)]
}

var (
	errOutOfMemory = &kernel.Error{Module: "pm", Message: "out of physical memory"}
	errBadFree     = &kernel.Error{Module: "pm", Message: "page is not owned by a zone"}
)

// ErrOutOfMemory is returned by allocation paths that propagate failure
// instead of panicking.
var ErrOutOfMemory = errOutOfMemory
