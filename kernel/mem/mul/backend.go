package mul

import (
	"nexke/kernel"
	"nexke/kernel/mem/pm"
	"nexke/kernel/sync"
)

var (
	tableStore     = map[pm.PFN]*Table{}
	tableStoreLock sync.Spinlock
)

// Backend is the per-architecture operation set (§4.3). One Backend is
// installed at platform init and every Space created afterward is driven
// through it.
type Backend interface {
	// AllocTable asks PM for a fixed table page and zeroes it, returning
	// its frame for installation in the parent PTE.
	AllocTable() (pm.PFN, *pm.Page, bool)
	// ZeroPage clears the contents of a table frame in place.
	ZeroPage(pfn pm.PFN)
	// Verify checks that mapping leaf under the ancestor chain implied by
	// parent is legal (e.g. no user mapping beneath a kernel-only table).
	Verify(parent, leaf PTE) bool
	// FlushTlb invalidates the whole TLB for the current processor.
	FlushTlb()
	// FlushAddr invalidates a single virtual address.
	FlushAddr(virt uintptr)

	// CreateSpace allocates and zeroes a new root table, refcount 1.
	CreateSpace() (*Space, *kernel.Error)
}

// tableAt returns the in-memory contents of the table page at pfn. Since no
// architecture owns real addressable RAM in this hosted core, the table
// store stands in for the page-table cache's role of making a table's
// physical frame addressable -- the cache (cache.go) still models the
// MRU/LRU slot bookkeeping and eviction policy of §4.3 on top of it.
func tableAt(pfn pm.PFN) *Table {
	tableStoreLock.Acquire()
	defer tableStoreLock.Release()

	t, ok := tableStore[pfn]
	if !ok {
		t = &Table{}
		tableStore[pfn] = t
	}
	return t
}

func freeTableAt(pfn pm.PFN) {
	tableStoreLock.Acquire()
	delete(tableStore, pfn)
	tableStoreLock.Release()
}
