package pm

import (
	"nexke/kernel"
	"nexke/kernel/mem"
)

// AllocPage allocates a single free page from the free-hint zone (the
// allocatable, non-NoGeneric zone currently holding the most free pages),
// falling back to a linear scan of every allocatable zone if the hint is
// exhausted or unset. The returned page carries PageAllocated and is
// unlinked from its zone's free list.
func AllocPage() (*Page, *kernel.Error) {
	if freeHint != nil {
		if p := allocFromZone(freeHint); p != nil {
			return p, nil
		}
	}
	for _, z := range zones {
		if !z.Flags.Has(ZoneAllocatable) || z.Flags.Has(ZoneNoGeneric) {
			continue
		}
		if p := allocFromZone(z); p != nil {
			return p, nil
		}
	}
	return nil, errOutOfMemory
}

// AllocZonePage allocates a page from a specific zone, bypassing the
// generic scan. It is the only way to reach a ZoneNoGeneric zone (ISA-DMA,
// sub-4G device buffers).
func AllocZonePage(z *Zone) (*Page, *kernel.Error) {
	if p := allocFromZone(z); p != nil {
		return p, nil
	}
	return nil, errOutOfMemory
}

func allocFromZone(z *Zone) *Page {
	z.Lock.Acquire()
	defer z.Lock.Release()

	l := z.FreeList.PopFront()
	if l == nil {
		return nil
	}
	p := l.Owner()

	p.Lock.Acquire()
	p.Flags = (p.Flags &^ stateMask) | PageAllocated
	p.Lock.Release()

	z.FreeCount--
	freeCount--
	if z == freeHint && z.FreeCount == 0 {
		selectFreeHint()
	}
	return p
}

// AllocFixedPage allocates a page and immediately fixes it (FixCount=1),
// pinning it against any future reclaim path.
func AllocFixedPage() (*Page, *kernel.Error) {
	p, err := AllocPage()
	if err != nil {
		return nil, err
	}
	p.Lock.Acquire()
	p.Flags |= PageFixed
	p.FixCount = 1
	p.Lock.Release()
	return p, nil
}

// AllocGuardPage allocates a page flagged PageGuard and PageUnusable: it
// occupies a frame but is never intended to be read or written, only
// mapped with no permissions as a stack/region overrun trap.
func AllocGuardPage() (*Page, *kernel.Error) {
	p, err := AllocPage()
	if err != nil {
		return nil, err
	}
	p.Lock.Acquire()
	p.Flags |= PageGuard | PageUnusable
	p.Lock.Release()
	return p, nil
}

// AllocPagesAt scans every zone for count contiguous free frames, aligned
// to align bytes, entirely below maxAddr, for callers (e.g. DMA-bounded
// buffers) that need physically contiguous memory a device can address.
// The run is removed from its zone's free list atomically under the zone
// lock. Deliberately inefficient (a linear scan per candidate base): this
// path exists for rare, small, constrained allocations, not the common
// case.
func AllocPagesAt(count uint64, maxAddr uintptr, align uintptr) ([]*Page, *kernel.Error) {
	if count == 0 {
		return nil, errOutOfMemory
	}
	alignFrames := PFN(1)
	if align > uintptr(mem.PageSize) {
		alignFrames = PFN(align >> mem.PageShift)
	}

	for _, z := range zones {
		if !z.Flags.Has(ZoneAllocatable) {
			continue
		}
		if out := allocRunFromZone(z, count, maxAddr, alignFrames); out != nil {
			return out, nil
		}
	}
	return nil, errOutOfMemory
}

// allocRunFromZone scans z for the first count-page run starting at an
// alignFrames-aligned PFN and lying entirely below maxAddr, returning nil
// if none exists.
func allocRunFromZone(z *Zone, count uint64, maxAddr uintptr, alignFrames PFN) []*Page {
	z.Lock.Acquire()
	defer z.Lock.Release()

	base := z.PFNBase
	if rem := uint64(base) % uint64(alignFrames); rem != 0 {
		base += PFN(uint64(alignFrames) - rem)
	}

	for ; uint64(base-z.PFNBase)+count <= z.Count; base += alignFrames {
		if (base + PFN(count)).Address() > maxAddr {
			break
		}

		free := true
		for i := uint64(0); i < count; i++ {
			if !z.page(base + PFN(i)).Flags.Has(PageFree) {
				free = false
				break
			}
		}
		if !free {
			continue
		}

		out := make([]*Page, 0, count)
		for i := uint64(0); i < count; i++ {
			p := z.page(base + PFN(i))
			z.FreeList.Remove(&p.listLink)
			p.Flags = (p.Flags &^ stateMask) | PageAllocated
			out = append(out, p)
		}
		z.FreeCount -= count
		freeCount -= count
		if z == freeHint && z.FreeCount == 0 {
			selectFreeHint()
		}
		return out
	}
	return nil
}

// FreePage returns an allocated, unfixed, unmapped page to its zone's free
// list. It is an error to free a page still linked into an Object or still
// carrying back-mappings.
func FreePage(p *Page) *kernel.Error {
	p.Lock.Acquire()
	if p.Flags.Has(PageInObject) || p.MappingCount() > 0 || p.FixCount > 0 {
		p.Lock.Release()
		return &kernel.Error{Module: "pm", Message: "page still in use"}
	}
	p.Flags = (p.Flags &^ (stateMask | PageGuard | PageUnusable)) | PageFree
	z := p.Zone
	p.Lock.Release()

	if z == nil {
		return errBadFree
	}

	z.Lock.Acquire()
	p.listLink.Init(p)
	z.FreeList.PushBack(&p.listLink)
	z.FreeCount++
	z.Lock.Release()

	freeCount++
	if freeHint == nil || z.FreeCount > freeHint.FreeCount {
		freeHint = z
	}
	return nil
}

// FreePages frees every page in pages, stopping at (and returning) the
// first error encountered.
func FreePages(pages []*Page) *kernel.Error {
	for _, p := range pages {
		if err := FreePage(p); err != nil {
			return err
		}
	}
	return nil
}

// FixPage increments a page's fix count, pinning it against reclaim.
func FixPage(p *Page) {
	p.Lock.Acquire()
	p.FixCount++
	p.Flags |= PageFixed
	p.Lock.Release()
}

// UnfixPage decrements a page's fix count, clearing PageFixed once it
// reaches zero.
func UnfixPage(p *Page) {
	p.Lock.Acquire()
	if p.FixCount > 0 {
		p.FixCount--
	}
	if p.FixCount == 0 {
		p.Flags &^= PageFixed
	}
	p.Lock.Release()
}

// FindPagePfn returns the Page structure for pfn. For a pfn outside every
// zone built by Init (device/MMIO memory PM never enumerated) it mints a
// transient PageUnusable Page just carrying that PFN, so callers that map
// arbitrary physical memory (e.g. kvm.AllocKvMmio) always have something
// to hand MUL rather than special-casing a nil return.
func FindPagePfn(pfn PFN) *Page {
	z := zoneFor(pfn)
	if z == nil {
		return &Page{PFN: pfn, Flags: PageUnusable}
	}
	return z.page(pfn)
}

func zoneFor(pfn PFN) *Zone {
	for _, z := range zones {
		if z.Contains(pfn) {
			return z
		}
	}
	return nil
}

// DumpPageInfo renders a one-line summary of p's current state, mirroring
// the kernel debugger's page dump command.
func DumpPageInfo(p *Page) string {
	state := "?"
	switch {
	case p.Flags.Has(PageFree):
		state = "free"
	case p.Flags.Has(PageAllocated):
		state = "allocated"
	case p.Flags.Has(PageInObject):
		state = "resident"
	}
	return state
}
