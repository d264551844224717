package mul

import (
	"nexke/kernel"
	"nexke/kernel/mem/pm"
)

var errOutOfTables = &kernel.Error{Module: "mul", Message: "out of table pages"}

// SimBackend is a reference Backend for hosted testing: it has no real TLB
// or MAIR/PAT encoding to manage, so FlushTlb/FlushAddr simply count their
// calls and Verify enforces the one architecture-agnostic rule the spec
// names explicitly -- no mapping may be installed under a kernel-only
// ancestor unless the leaf is itself kernel-only.
type SimBackend struct {
	FlushTlbCalls  int
	FlushAddrCalls int
}

var _ Backend = (*SimBackend)(nil)

// AllocTable asks PM for a fixed table page and zeroes its simulated
// contents.
func (b *SimBackend) AllocTable() (pm.PFN, *pm.Page, bool) {
	p, err := pm.AllocFixedPage()
	if err != nil {
		return 0, nil, false
	}
	b.ZeroPage(p.PFN)
	return p.PFN, p, true
}

// ZeroPage resets a table frame to all-absent entries.
func (b *SimBackend) ZeroPage(pfn pm.PFN) {
	*tableAt(pfn) = Table{}
}

// Verify enforces that a kernel-only ancestor may only carry kernel-only
// descendants.
func (b *SimBackend) Verify(parent, leaf PTE) bool {
	if parent.KernelOnly && !leaf.KernelOnly {
		return false
	}
	return true
}

// FlushTlb is a no-op in the hosted simulation besides bookkeeping.
func (b *SimBackend) FlushTlb() { b.FlushTlbCalls++ }

// FlushAddr is a no-op in the hosted simulation besides bookkeeping.
func (b *SimBackend) FlushAddr(_ uintptr) { b.FlushAddrCalls++ }

// CreateSpace allocates a fresh root table with refcount 1.
func (b *SimBackend) CreateSpace() (*Space, *kernel.Error) {
	pfn, page, ok := b.AllocTable()
	if !ok {
		return nil, errOutOfTables
	}
	sp := &Space{Root: pfn, RefCount: 1, backend: b, Cache: NewCache(DefaultSlots)}
	sp.Tables = append(sp.Tables, page.PFN)
	return sp, nil
}
