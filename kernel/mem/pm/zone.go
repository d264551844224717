package pm

import (
	"nexke/kernel/kfmt"
	"nexke/kernel/mem"
)

// MemMapType enumerates the kinds of region the boot loader can report.
type MemMapType int

const (
	MemFree MemMapType = iota
	MemReserved
	MemACPIReclaim
	MemACPINvs
	MemMMIO
	MemFWReclaim
	MemBootReclaim
)

// MemMapEntry is one entry of the boot-info memory map (§6): a physical
// extent, its type, and loader-supplied flags.
type MemMapEntry struct {
	Base  uintptr
	Size  uint64
	Type  MemMapType
	Flags uint32
}

func (e MemMapEntry) allocatable() bool {
	switch e.Type {
	case MemFree, MemFWReclaim, MemBootReclaim:
		return true
	default:
		return false
	}
}

func (e MemMapEntry) end() uintptr { return e.Base + uintptr(e.Size) }

// Platform selects architecture zone-layout policy applied after the raw
// memory map has been turned into zones. PC carves the low 16M and low 4G
// ranges into their own NoGeneric zones so ISA-DMA and 32-bit-only devices
// can always find a buffer; other platforms are a no-op.
type Platform int

const (
	PlatformGeneric Platform = iota
	PlatformPC
)

const (
	pcISADMALimit = 16 * 1024 * 1024
	pc32BitLimit  = 4 * uintptr(1) << 30
)

var (
	zones      []*Zone
	freeHint   *Zone
	freeCount  uint64
	pfnMapBase []Page // backing storage for all zone PFN maps, contiguous
)

// Zones returns the zone table built by Init, sorted and non-overlapping, as
// required by §3.1.
func Zones() []*Zone { return zones }

// FreeCount returns the total number of free pages across all zones.
func FreeCount() uint64 { return freeCount }

// Init builds the zone table from a boot-supplied memory map. It computes
// the usable PFN count (capped by an architecture maximum), allocates the
// PFN map and the object-hash table in host memory, and constructs zones
// from the allocatable entries. No memory-map entry is trimmed to back
// those tables, so every allocatable frame up to the cap becomes a zone
// page. Adjacent zones sharing flags are merged; on PlatformPC the
// [0,16M) and [0,4G) windows are split out as standalone NoGeneric zones.
//
// pfnMapMax bounds the number of Page structures Init will allocate,
// mirroring PFNMAP_MAX/sizeof(Page) from §4.1.
func Init(memMap []MemMapEntry, plat Platform, pfnMapMax uint64) {
	zones = nil
	freeHint = nil
	freeCount = 0

	totalPages := uint64(0)
	for _, e := range memMap {
		if !e.allocatable() {
			continue
		}
		totalPages += uint64(e.Size) >> mem.PageShift
	}
	if totalPages > pfnMapMax {
		totalPages = pfnMapMax
	}
	if totalPages == 0 {
		return
	}

	nbuckets := uint64(1)
	for nbuckets*2 <= totalPages/2 && nbuckets < 1<<20 {
		nbuckets *= 2
	}
	if nbuckets == 0 {
		nbuckets = 1
	}
	buckets = make([]hashBucket, nbuckets)

	// pfnMapBase backs every zone's Page array: PM never reallocates it, so
	// pointers into it (Page.listLink etc.) stay stable for the process
	// lifetime, matching the "reserved physical region" the real allocator
	// carves out of RAM.
	pfnMapBase = make([]Page, totalPages)

	built := buildZones(memMap, totalPages)
	zones = mergeAdjacent(built)

	if plat == PlatformPC {
		zones = splitPCWindows(zones)
	}

	selectFreeHint()

	kfmt.Printf("[pm] %d zone(s), %d page(s) free\n", len(zones), freeCount)
}

// buildZones walks the memory map in order and carves allocatable extents
// into zones backed by consecutive slices of pfnMapBase, capping at
// maxPages total frames.
func buildZones(memMap []MemMapEntry, maxPages uint64) []*Zone {
	var out []*Zone
	var consumed uint64

	for _, e := range memMap {
		if !e.allocatable() || consumed >= maxPages {
			continue
		}

		base := PFNFromAddress(e.Base)
		count := uint64(e.Size) >> mem.PageShift
		if consumed+count > maxPages {
			count = maxPages - consumed
		}
		if count == 0 {
			continue
		}

		z := &Zone{
			PFNBase: base,
			Count:   count,
			Flags:   ZoneAllocatable,
			PFNMap:  pfnMapBase[consumed : consumed+count],
		}
		for i := uint64(0); i < count; i++ {
			p := &z.PFNMap[i]
			p.PFN = base + PFN(i)
			p.Zone = z
			p.Flags = PageFree
			p.listLink.Init(p)
			z.FreeList.PushBack(&p.listLink)
		}
		z.FreeCount = count
		consumed += count
		freeCount += count

		out = append(out, z)
	}
	return out
}

// mergeAdjacent folds zones that are contiguous in PFN space and share
// flags into one zone. Both must be wholly free, matching the bootstrap-only
// merge invariant of §3.1 -- this runs once, before any allocation.
func mergeAdjacent(in []*Zone) []*Zone {
	if len(in) == 0 {
		return in
	}
	out := []*Zone{in[0]}
	for _, z := range in[1:] {
		last := out[len(out)-1]
		if last.Flags == z.Flags && last.PFNBase+PFN(last.Count) == z.PFNBase &&
			last.FreeCount == last.Count && z.FreeCount == z.Count {
			last.Count += z.Count
			last.FreeCount += z.FreeCount
			z.FreeList.Do(func(p *Page) {
				p.Zone = last
			})
			// splice z's free list onto last's; PFNMap slices stay distinct
			// but every page still resolves to the merged zone via p.Zone.
			for l := z.FreeList.PopFront(); l != nil; l = z.FreeList.PopFront() {
				last.FreeList.PushBack(l)
			}
			continue
		}
		out = append(out, z)
	}
	return out
}

// splitPCWindows reflags the portion of any zone inside [0,16M) or [0,4G)
// as a standalone NoGeneric zone, guaranteeing ISA-DMA and 32-bit devices a
// place to allocate from even once the generic allocator has consumed the
// rest of memory.
func splitPCWindows(in []*Zone) []*Zone {
	var out []*Zone
	for _, z := range in {
		out = append(out, splitZoneAt(z, PFNFromAddress(pcISADMALimit))...)
	}
	in, out = out, nil
	for _, z := range in {
		out = append(out, splitZoneAt(z, PFNFromAddress(pc32BitLimit))...)
	}
	for _, z := range out {
		if z.PFNBase.Address() < pc32BitLimit {
			z.Flags |= ZoneNoGeneric
		}
	}
	return out
}

// splitZoneAt splits z into [z.PFNBase, at) and [at, z.PFNBase+count) if at
// falls strictly inside the zone; otherwise returns z unchanged.
func splitZoneAt(z *Zone, at PFN) []*Zone {
	if at <= z.PFNBase || at >= z.PFNBase+PFN(z.Count) {
		return []*Zone{z}
	}

	lowCount := uint64(at - z.PFNBase)
	low := &Zone{
		PFNBase: z.PFNBase,
		Count:   lowCount,
		Flags:   z.Flags,
		PFNMap:  z.PFNMap[:lowCount],
	}
	high := &Zone{
		PFNBase: at,
		Count:   z.Count - lowCount,
		Flags:   z.Flags,
		PFNMap:  z.PFNMap[lowCount:],
	}

	z.FreeList.Do(func(p *Page) {
		if p.PFN < at {
			p.Zone = low
		} else {
			p.Zone = high
		}
	})
	for l := z.FreeList.PopFront(); l != nil; l = z.FreeList.PopFront() {
		if l.Owner().PFN < at {
			low.FreeList.PushBack(l)
			low.FreeCount++
		} else {
			high.FreeList.PushBack(l)
			high.FreeCount++
		}
	}

	return []*Zone{low, high}
}

// selectFreeHint picks the allocatable, non-NoGeneric zone with the largest
// free count as the fast-path AllocPage target.
func selectFreeHint() {
	freeHint = nil
	for _, z := range zones {
		if !z.Flags.Has(ZoneAllocatable) || z.Flags.Has(ZoneNoGeneric) {
			continue
		}
		if freeHint == nil || z.FreeCount > freeHint.FreeCount {
			freeHint = z
		}
	}
}
