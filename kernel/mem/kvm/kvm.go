package kvm

import (
	"nexke/kernel"
	"nexke/kernel/list"
	"nexke/kernel/mem/mul"
	"nexke/kernel/mem/pm"
)

const pageShift = 12
const pageSize = uintptr(1) << pageShift

var arenas []*Arena

// Arenas returns every arena registered by NewArena, in registration order.
func Arenas() []*Arena { return arenas }

// NewArena registers a new arena spanning [start,end) and returns it. space
// and kernelObj are only consulted when needsMap is true, for
// AllocKvRegion's NoDemand path and AllocKvMmio.
func NewArena(name string, start, end uintptr, needsMap bool, space *mul.Space, kernelObj *pm.Object) *Arena {
	a := &Arena{
		Name:      name,
		Start:     start,
		End:       end,
		NeedsMap:  needsMap,
		space:     space,
		kernelObj: kernelObj,
		regions:   make(map[uintptr]*Region),
	}
	pages := uint64(end-start) >> pageShift
	r := &Region{Base: start, Pages: pages, Free: true, arena: a}
	a.regions[start] = r
	a.pushFree(r)
	a.FreeCount = pages
	arenas = append(arenas, a)
	return a
}

func bucketIndexFor(pages uint64) int {
	for i, c := range bucketClasses {
		if pages <= c {
			return i
		}
	}
	return len(bucketClasses) - 1
}

func (a *Arena) pushFree(r *Region) {
	r.Free = true
	if r.Pages == 1 && a.singlePage.Len() < freeListMax {
		r.link.Init(r)
		a.singlePage.PushBack(&r.link)
		return
	}
	idx := bucketIndexFor(r.Pages)
	r.link.Init(r)
	a.buckets[idx].list.PushBack(&r.link)
}

func (a *Arena) removeFromFreeList(r *Region) {
	if r.Pages == 1 {
		a.singlePage.Remove(&r.link)
		return
	}
	a.buckets[bucketIndexFor(r.Pages)].list.Remove(&r.link)
}

// splitRegion shrinks r to headPages and returns a new free Region covering
// the remainder, both recorded in arena.regions.
func (a *Arena) splitRegion(r *Region, headPages uint64) *Region {
	tailBase := r.Base + uintptr(headPages)*pageSize
	tail := &Region{Base: tailBase, Pages: r.Pages - headPages, Free: true, arena: a}
	a.regions[tailBase] = tail
	r.Pages = headPages
	return tail
}

// carveOne removes a single page from the front of r (which must have
// Pages > 1... or exactly 1, in which case it is fully consumed) and
// returns it as its own Region.
func (a *Arena) carveOne(r *Region) *Region {
	single := &Region{Base: r.Base, Pages: 1, Free: true, arena: a}
	delete(a.regions, r.Base)
	a.regions[single.Base] = single

	if r.Pages > 1 {
		r.Base += pageSize
		r.Pages--
		a.regions[r.Base] = r
	} else {
		r.Pages = 0
	}
	return single
}

// refillSinglePageList carves single pages out of the buckets when the
// single-page free list underflows below freeListMin, stopping at
// freeListTarget or on OOM (never panics).
func (a *Arena) refillSinglePageList() {
	if a.singlePage.Len() >= freeListMin {
		return
	}
	for a.singlePage.Len() < freeListTarget {
		var src *Region
		for idx := range a.buckets {
			if !a.buckets[idx].list.Empty() {
				l := a.buckets[idx].list.Front()
				src = l.Owner()
				a.buckets[idx].list.Remove(l)
				break
			}
		}
		if src == nil {
			return
		}
		single := a.carveOne(src)
		single.link.Init(single)
		a.singlePage.PushBack(&single.link)
		if src.Pages > 0 {
			a.pushFree(src)
		}
	}
}

// findAdjacent returns the free regions immediately to the left and right
// of r, if any.
func (a *Arena) findAdjacent(r *Region) (left, right *Region) {
	leftBase := r.Base
	rightBase := r.Base + uintptr(r.Pages)*pageSize
	for base, o := range a.regions {
		if o == r {
			continue
		}
		if base+uintptr(o.Pages)*pageSize == leftBase {
			left = o
		}
		if base == rightBase {
			right = o
		}
	}
	return
}

// coalesce merges r with any free neighbor(s), returning the resulting
// region. This takes the place of the footer-magic probe the original
// design uses for O(1) neighbor discovery: this hosted core tracks every
// region in arena.regions instead of addressable per-page footers, so
// coalescing scans that map for an adjacent base.
func (a *Arena) coalesce(r *Region) *Region {
	for {
		left, right := a.findAdjacent(r)
		merged := false

		if left != nil && left.Free {
			a.removeFromFreeList(left)
			delete(a.regions, r.Base)
			left.Pages += r.Pages
			r = left
			merged = true
		}
		if right != nil && right.Free {
			a.removeFromFreeList(right)
			delete(a.regions, right.Base)
			r.Pages += right.Pages
			merged = true
		}
		if !merged {
			break
		}
	}
	a.regions[r.Base] = r
	return r
}

// AllocKvRegion allocates numPages contiguous virtual pages from a, per
// §4.2: the 1-page fast path pulls from the single-page free list; larger
// requests up-scan the buckets from the class matching numPages.
func AllocKvRegion(a *Arena, numPages uint64, flags Flag) (uintptr, *kernel.Error) {
	if flags&NoDemand != 0 && !a.NeedsMap {
		return 0, errWrongArena
	}

	a.Lock.Acquire()

	var r *Region
	if numPages == 1 && !a.singlePage.Empty() {
		r = a.singlePage.PopFront().Owner()
	} else {
		for idx := bucketIndexFor(numPages); idx < len(a.buckets) && r == nil; idx++ {
			var found *list.Link[Region]
			a.buckets[idx].list.Do(func(rr *Region) {
				if found == nil && rr.Pages >= numPages {
					found = &rr.link
				}
			})
			if found != nil {
				a.buckets[idx].list.Remove(found)
				r = found.Owner()
			}
		}
	}

	if r == nil {
		a.Lock.Release()
		return 0, errNoSpace
	}

	if r.Pages > numPages {
		tail := a.splitRegion(r, numPages)
		a.pushFree(tail)
	}
	r.Free = false
	a.FreeCount -= numPages
	a.refillSinglePageList()
	a.Lock.Release()

	if flags&NoDemand != 0 {
		if err := bindRegion(a, r); err != nil {
			return 0, err
		}
	}
	return r.Base, nil
}

// FreeKvRegion returns the region based at ptr to its arena. If the arena
// needsMap, every backing page is first unfixed and unmapped, then
// unhashed and freed to PM.
func FreeKvRegion(a *Arena, ptr uintptr) *kernel.Error {
	a.Lock.Acquire()
	r, ok := a.regions[ptr]
	a.Lock.Release()
	if !ok || r.Free {
		return errBadPointer
	}

	if a.NeedsMap {
		if err := unbindRegion(a, r); err != nil {
			return err
		}
	}

	a.Lock.Acquire()
	defer a.Lock.Release()

	a.FreeCount += r.Pages
	if r.Pages == 1 && a.singlePage.Len() < freeListMax {
		a.pushFree(r)
	} else {
		merged := a.coalesce(r)
		a.pushFree(merged)
	}
	return nil
}

// AllocKvPage is a thin wrapper allocating one immediately-backed page.
func AllocKvPage(a *Arena) (uintptr, *kernel.Error) {
	return AllocKvRegion(a, 1, NoDemand)
}

// FreeKvPage is a thin wrapper freeing a single-page region.
func FreeKvPage(a *Arena, ptr uintptr) *kernel.Error {
	return FreeKvRegion(a, ptr)
}

// AllocKvMmio allocates a virtual region mirroring the numPages physical
// pages starting at phys, mapped with perm. The returned pointer is the
// virtual equivalent of phys, including its intra-page offset.
func AllocKvMmio(a *Arena, phys uintptr, numPages uint64, perm pm.Perm) (uintptr, *kernel.Error) {
	pageOff := phys & (pageSize - 1)
	physBase := phys &^ (pageSize - 1)

	base, err := AllocKvRegion(a, numPages, 0)
	if err != nil {
		return 0, err
	}

	physPFN := pm.PFNFromAddress(physBase)
	for i := uint64(0); i < numPages; i++ {
		page := pm.FindPagePfn(physPFN + pm.PFN(i))
		vaddr := base + uintptr(i)*pageSize
		if err := mul.MapPage(a.space, vaddr, page, perm); err != nil {
			return 0, err
		}
	}
	return base + pageOff, nil
}

// FreeKvMmio releases a region allocated by AllocKvMmio.
func FreeKvMmio(a *Arena, ptr uintptr, numPages uint64) *kernel.Error {
	base := ptr &^ (pageSize - 1)
	return FreeKvRegion(a, base)
}

func bindRegion(a *Arena, r *Region) *kernel.Error {
	if !a.NeedsMap {
		return errWrongArena
	}
	for i := uint64(0); i < r.Pages; i++ {
		page, err := pm.AllocFixedPage()
		if err != nil {
			return err
		}
		offset := uint64(r.Base) + i*uint64(pageSize)

		a.kernelObj.Lock.Acquire()
		page.Lock.Acquire()
		aerr := pm.AddPage(a.kernelObj, offset, page)
		page.Lock.Release()
		a.kernelObj.Lock.Release()
		if aerr != nil {
			pm.UnfixPage(page)
			pm.FreePage(page)
			return aerr
		}

		vaddr := r.Base + uintptr(i)*pageSize
		if err := mul.MapPage(a.space, vaddr, page, pm.PermRead|pm.PermWrite); err != nil {
			return err
		}
	}
	return nil
}

func unbindRegion(a *Arena, r *Region) *kernel.Error {
	pages := make([]*pm.Page, r.Pages)
	for i := uint64(0); i < r.Pages; i++ {
		vaddr := r.Base + uintptr(i)*pageSize
		page := mul.GetMapping(a.space, vaddr)
		pages[i] = page
		if page != nil {
			// MapPage copied the page's Fixed bit into every PTE; both
			// must be cleared before UnmapRange, which refuses (fatal)
			// to tear down a fixed mapping.
			mul.UnfixPage(page)
			pm.UnfixPage(page)
		}
	}

	if err := mul.UnmapRange(a.space, r.Base, r.Pages); err != nil {
		return err
	}

	for _, page := range pages {
		if page == nil || page.Zone == nil {
			continue // MMIO mirror pages never entered the allocator
		}
		page.Lock.Acquire()
		pm.RemovePage(page)
		page.Lock.Release()
		pm.FreePage(page)
	}
	return nil
}
