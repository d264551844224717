// Package mul is the machine-independent MMU abstraction: it walks and
// builds per-address-space page tables using a small cache of table
// windows, and exposes the map/unmap/protect/fix operations the rest of
// the memory core drives address spaces through.
//
// The walker and cache are architecture-independent by construction (they
// only assume a fixed fan-out radix trie of PTEs); the actual encoding of a
// PTE (MAIR/PAT bits, NX, global, …) is delegated to a Backend, one per
// target architecture. Grounded on gopheros' kernel/mem/vmm page-table
// walker (src/gopheros/kernel/mem/vmm/vmm.go, pdt.go) generalized from a
// fixed two-level amd64 PDT to an N-level walk driven by a Backend, plus
// the §4.3 page-table cache this spec adds on top.
package mul

import (
	"nexke/kernel"
	"nexke/kernel/mem/pm"
	"nexke/kernel/sync"
)

// Levels is the number of radix-trie levels between the root and a leaf
// PTE, inclusive of the leaf level. amd64's four-level paging is the
// reference backend's shape; other backends may report fewer.
const Levels = 4

// EntriesPerTable is the fan-out of one table page.
const EntriesPerTable = 512

// PTE is one page-table entry, backend-agnostic: the backend translates a
// Perm mask and fixed/kernel-only bits into whatever the architecture's
// actual on-disk encoding would be; here it *is* the encoding, since no
// architecture owns real memory in this hosted core.
type PTE struct {
	Present    bool
	Table      bool // true for levels above the leaf: Frame names a child table
	Frame      pm.PFN
	Perm       pm.Perm
	Fixed      bool
	KernelOnly bool
	Accessed   bool
	Dirty      bool
	Page       *pm.Page // leaf only: the Page this PTE maps, if any
}

// Attr is the access/dirty attribute mask used by SetAttr/GetAttr.
type Attr uint32

const (
	AttrAccessed Attr = 1 << iota
	AttrDirty
)

// Table is one page-table page's contents.
type Table struct {
	Entries [EntriesPerTable]PTE
}

// SpaceStats holds per-address-space mapping counters (§3.3/§3.4): Maps
// counts currently-present PTEs, Fixed counts those also carrying the
// fixed bit. MapPage/UnmapRange/FixPage/UnfixPage keep both current;
// guarded by Space.Lock.
type SpaceStats struct {
	Maps  int
	Fixed int
}

// Space is the per-address-space MMU state (MulSpace in the spec). Refcount
// keeps the backing root and table pages alive across multiple borrowers
// (e.g. the kernel space shared by every context); DeRefSpace on the last
// holder drops the tables from the table store and frees their pages to PM.
type Space struct {
	Root pm.PFN

	RefCount int
	Kernel   bool

	Tables []pm.PFN // table pages owned by this space, all Fixed

	TlbPending bool

	Lock      sync.Spinlock
	CacheLock sync.Spinlock
	Cache     *Cache

	stats SpaceStats

	backend Backend
}

// Stats returns sp's current (maps, fixed) counters.
func (sp *Space) Stats() SpaceStats {
	sp.Lock.Acquire()
	defer sp.Lock.Release()
	return sp.stats
}

var (
	errInvalidWalk   = &kernel.Error{Module: "mul", Message: "walk into absent table"}
	errDoubleMap     = &kernel.Error{Module: "mul", Message: "page already mapped"}
	errFixedUnmap    = &kernel.Error{Module: "mul", Message: "cannot unmap a fixed mapping"}
	errVerify        = &kernel.Error{Module: "mul", Message: "invalid mapping under kernel-only ancestor"}
	errDestroyKernel = &kernel.Error{Module: "mul", Message: "destroying the kernel space is fatal"}
)

// ErrInvalidWalk is returned by SetAttr and GetAttr when PtabWalk finds no
// present mapping for the address.
var ErrInvalidWalk = errInvalidWalk
