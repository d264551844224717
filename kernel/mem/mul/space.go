package mul

import (
	"nexke/kernel"
	"nexke/kernel/kfmt"
	"nexke/kernel/mem/pm"
)

var (
	activeBackend Backend
	kernelSpace   *Space
)

// MulInit installs the architecture backend and creates the singleton
// kernel address space. It must run after PM is initialized (table pages
// come from PM) and before any MulMapEarly caller expects the real cache
// to be active; earlyMappings recorded before this call are replayed into
// the new kernel space.
func MulInit(backend Backend) (*Space, *kernel.Error) {
	activeBackend = backend
	sp, err := backend.CreateSpace()
	if err != nil {
		return nil, err
	}
	sp.Kernel = true
	kernelSpace = sp

	for _, m := range earlyMappings {
		leaf, _, err := PtabWalkAndMap(sp, m.vaddr)
		if err != nil {
			return nil, err
		}
		leaf.Present = true
		leaf.Frame = m.phys
		leaf.Perm = m.perm
		leaf.KernelOnly = true
		sp.stats.Maps++
	}
	earlyMappings = nil

	return sp, nil
}

// KernelSpace returns the singleton kernel address space created by
// MulInit.
func KernelSpace() *Space { return kernelSpace }

type earlyMapping struct {
	vaddr uintptr
	phys  pm.PFN
	perm  pm.Perm
}

var earlyMappings []earlyMapping

// MulMapEarly records an identity-style mapping to be installed once
// MulInit runs; used before PM/MUL's normal machinery exists to publish
// the PFN map window, the cache region, and the kernel-space entry itself.
func MulMapEarly(vaddr uintptr, phys pm.PFN, perm pm.Perm) {
	earlyMappings = append(earlyMappings, earlyMapping{vaddr: vaddr, phys: phys, perm: perm})
}

// MulGetPhysEarly returns the physical frame recorded for vaddr by
// MulMapEarly, if any, before the kernel space exists.
func MulGetPhysEarly(vaddr uintptr) (pm.PFN, bool) {
	for _, m := range earlyMappings {
		if m.vaddr == vaddr {
			return m.phys, true
		}
	}
	return 0, false
}

// RefSpace increments sp's reference count.
func RefSpace(sp *Space) {
	sp.Lock.Acquire()
	sp.RefCount++
	sp.Lock.Release()
}

// DeRefSpace decrements sp's reference count, tearing down its table pages
// once it reaches zero: each is dropped from the table store, unfixed and
// freed to PM. Destroying the kernel space is fatal.
func DeRefSpace(sp *Space) {
	if sp.Kernel {
		kfmt.Panic(errDestroyKernel)
	}

	sp.Lock.Acquire()
	sp.RefCount--
	destroy := sp.RefCount <= 0
	tables := sp.Tables
	sp.Lock.Release()

	if !destroy {
		return
	}
	for _, pfn := range tables {
		freeTableAt(pfn)
		if p := pm.FindPagePfn(pfn); p != nil {
			pm.UnfixPage(p)
			pm.FreePage(p)
		}
	}
}

// MapPage installs a mapping from virt to page in sp with the given
// permission. Mapping over an existing fixed mapping is fatal (double-map).
// Flags KernelOnly/Fixed are derived from page and sp.
func MapPage(sp *Space, virt uintptr, page *pm.Page, perm pm.Perm) *kernel.Error {
	leaf, _, err := PtabWalkAndMap(sp, virt)
	if err != nil {
		return err
	}

	if leaf.Present && leaf.Fixed {
		kfmt.Panic(errDoubleMap)
	}

	var oldPage *pm.Page
	var oldMapping *pm.BackMapping
	wasPresent := leaf.Present
	wasFixed := leaf.Fixed
	if leaf.Present {
		oldPage = leaf.Page
	}

	leaf.Present = true
	leaf.Table = false
	leaf.Frame = page.PFN
	leaf.Perm = perm
	leaf.KernelOnly = sp.Kernel
	leaf.Fixed = page.Flags.Has(pm.PageFixed)
	leaf.Page = page

	sp.Lock.Acquire()
	if !wasPresent {
		sp.stats.Maps++
	}
	if leaf.Fixed != wasFixed {
		if leaf.Fixed {
			sp.stats.Fixed++
		} else {
			sp.stats.Fixed--
		}
	}
	sp.Lock.Release()

	page.Lock.Acquire()
	page.AddBackMapping(sp, virt)
	page.Lock.Release()

	if oldPage != nil && oldPage != page {
		oldPage.Lock.Acquire()
		oldPage.Mappings(func(m *pm.BackMapping) {
			if m.Space == sp && m.Addr == virt {
				oldMapping = m
			}
		})
		if oldMapping != nil {
			oldPage.RemoveBackMapping(oldMapping)
		}
		oldPage.Lock.Release()
	}

	if sp == kernelSpace || sp.current() {
		activeBackend.FlushAddr(virt)
	} else {
		sp.Lock.Acquire()
		sp.TlbPending = true
		sp.Lock.Release()
	}
	return nil
}

// current reports whether sp is the space currently active on this CPU.
// Single-CPU, no scheduler-aware context wiring yet: the kernel space is
// always "current" for flush purposes.
func (sp *Space) current() bool { return sp.Kernel }

// UnmapRange unmaps count pages starting at base. A fixed mapping inside
// the range is fatal.
func UnmapRange(sp *Space, base uintptr, count uint64) *kernel.Error {
	for i := uint64(0); i < count; i++ {
		vaddr := base + uintptr(i)<<12
		leaf, ok := PtabWalk(sp, vaddr)
		if !ok || !leaf.Present {
			continue
		}
		if leaf.Fixed {
			kfmt.Panic(errFixedUnmap)
		}
		unmapLeaf(sp, vaddr, leaf)
	}
	activeBackend.FlushTlb()
	return nil
}

func unmapLeaf(sp *Space, vaddr uintptr, leaf *PTE) {
	wasFixed := leaf.Fixed
	sp.Lock.Acquire()
	sp.stats.Maps--
	if wasFixed {
		sp.stats.Fixed--
	}
	sp.Lock.Release()

	if leaf.Page != nil {
		leaf.Page.Lock.Acquire()
		leaf.Page.Mappings(func(m *pm.BackMapping) {
			if m.Space == sp && m.Addr == vaddr {
				leaf.Page.RemoveBackMapping(m)
			}
		})
		leaf.Page.Lock.Release()
	}
	*leaf = PTE{}
}

// ProtectRange updates the permission mask of count mapped pages starting
// at base.
func ProtectRange(sp *Space, base uintptr, count uint64, perm pm.Perm) *kernel.Error {
	for i := uint64(0); i < count; i++ {
		vaddr := base + uintptr(i)<<12
		leaf, ok := PtabWalk(sp, vaddr)
		if !ok || !leaf.Present {
			continue
		}
		leaf.Perm = perm
		activeBackend.FlushAddr(vaddr)
	}
	return nil
}

// UnmapPage removes every back-mapping alias of page across every address
// space that maps it.
func UnmapPage(page *pm.Page) {
	page.Lock.Acquire()
	var aliases []*pm.BackMapping
	page.Mappings(func(m *pm.BackMapping) { aliases = append(aliases, m) })
	page.Lock.Release()

	for _, m := range aliases {
		sp, _ := m.Space.(*Space)
		if sp == nil {
			continue
		}
		leaf, ok := PtabWalk(sp, m.Addr)
		if ok && leaf.Present {
			unmapLeaf(sp, m.Addr, leaf)
		}
	}
}

// ProtectPage re-protects every alias of page to perm.
func ProtectPage(page *pm.Page, perm pm.Perm) {
	page.Lock.Acquire()
	var aliases []*pm.BackMapping
	page.Mappings(func(m *pm.BackMapping) { aliases = append(aliases, m) })
	page.Lock.Release()

	for _, m := range aliases {
		sp, _ := m.Space.(*Space)
		if sp == nil {
			continue
		}
		if leaf, ok := PtabWalk(sp, m.Addr); ok && leaf.Present {
			leaf.Perm = perm
			activeBackend.FlushAddr(m.Addr)
		}
	}
}

// FixPage sets the fixed bit on every PTE mapping page.
func FixPage(page *pm.Page) {
	page.Lock.Acquire()
	page.Mappings(func(m *pm.BackMapping) {
		sp, _ := m.Space.(*Space)
		if sp == nil {
			return
		}
		if leaf, ok := PtabWalk(sp, m.Addr); ok && leaf.Present && !leaf.Fixed {
			leaf.Fixed = true
			sp.Lock.Acquire()
			sp.stats.Fixed++
			sp.Lock.Release()
		}
	})
	page.Lock.Release()
}

// UnfixPage clears the fixed bit on every PTE mapping page.
func UnfixPage(page *pm.Page) {
	page.Lock.Acquire()
	page.Mappings(func(m *pm.BackMapping) {
		sp, _ := m.Space.(*Space)
		if sp == nil {
			return
		}
		if leaf, ok := PtabWalk(sp, m.Addr); ok && leaf.Present && leaf.Fixed {
			leaf.Fixed = false
			sp.Lock.Acquire()
			sp.stats.Fixed--
			sp.Lock.Release()
		}
	})
	page.Lock.Release()
}

// GetMapping returns the page mapped at virt in sp, or nil.
func GetMapping(sp *Space, virt uintptr) *pm.Page {
	leaf, ok := PtabWalk(sp, virt)
	if !ok || !leaf.Present {
		return nil
	}
	return leaf.Page
}

// SetAttr sets the bits in attr on the PTE mapping virt in sp.
func SetAttr(sp *Space, virt uintptr, attr Attr) *kernel.Error {
	leaf, ok := PtabWalk(sp, virt)
	if !ok || !leaf.Present {
		return errInvalidWalk
	}
	if attr&AttrAccessed != 0 {
		leaf.Accessed = true
	}
	if attr&AttrDirty != 0 {
		leaf.Dirty = true
	}
	return nil
}

// GetAttr returns the access/dirty attribute mask of the PTE mapping virt
// in sp.
func GetAttr(sp *Space, virt uintptr) (Attr, *kernel.Error) {
	leaf, ok := PtabWalk(sp, virt)
	if !ok || !leaf.Present {
		return 0, errInvalidWalk
	}
	var a Attr
	if leaf.Accessed {
		a |= AttrAccessed
	}
	if leaf.Dirty {
		a |= AttrDirty
	}
	return a, nil
}
