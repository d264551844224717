package mul

import "nexke/kernel"

// pageNumber returns the page-aligned page number for a virtual address.
func pageNumber(vaddr uintptr) uint64 { return uint64(vaddr) >> 12 }

// indexBits is the number of page-number bits each level consumes; with
// EntriesPerTable=512 this is 9, matching a conventional 4-level radix.
const indexBits = 9

// levelIndex returns the index into a level-`level` table for pageNum,
// where level 0 is the table pointed to by the space root and
// Levels-1 is the table holding the leaf PTE.
func levelIndex(pageNum uint64, level int) int {
	shift := uint((Levels - 1 - level) * indexBits)
	return int((pageNum >> shift) & (EntriesPerTable - 1))
}

// PtabWalk walks from the root to the leaf PTE for vaddr without creating
// any missing table, per §4.3. ok is false (and pte nil) if an
// intermediate table is absent or the leaf PTE is not present.
func PtabWalk(sp *Space, vaddr uintptr) (pte *PTE, ok bool) {
	pn := pageNumber(vaddr)
	cur := sp.Root

	sp.CacheLock.Acquire()
	defer sp.CacheLock.Release()

	for level := 0; level < Levels; level++ {
		sp.Cache.Get(cur, level)
		t := tableAt(cur)
		idx := levelIndex(pn, level)
		e := &t.Entries[idx]

		if level == Levels-1 {
			if !e.Present {
				return nil, false
			}
			return e, true
		}

		if !e.Present {
			return nil, false
		}
		cur = e.Frame
	}
	return nil, false
}

// PtabWalkAndMap walks from the root to the leaf PTE for vaddr, allocating
// and installing any missing intermediate table via the space's backend.
// parent carries the PTE of the immediate parent table so the caller can
// run Backend.Verify against it.
func PtabWalkAndMap(sp *Space, vaddr uintptr) (leaf *PTE, parent PTE, err *kernel.Error) {
	pn := pageNumber(vaddr)
	cur := sp.Root

	sp.CacheLock.Acquire()
	defer sp.CacheLock.Release()

	var parentEntry PTE
	for level := 0; level < Levels; level++ {
		sp.Cache.Get(cur, level)
		t := tableAt(cur)
		idx := levelIndex(pn, level)
		e := &t.Entries[idx]

		if level == Levels-1 {
			return e, parentEntry, nil
		}

		if !e.Present {
			childPFN, _, ok := sp.backend.AllocTable()
			if !ok {
				return nil, PTE{}, errOOMTable
			}
			e.Present = true
			e.Table = true
			e.Frame = childPFN
			e.KernelOnly = parentEntry.KernelOnly
			sp.Tables = append(sp.Tables, childPFN)
		}

		if !sp.backend.Verify(parentEntry, *e) {
			return nil, PTE{}, errVerify
		}

		parentEntry = *e
		cur = e.Frame
	}
	return nil, PTE{}, errInvalidWalk
}

var errOOMTable = &kernel.Error{Module: "mul", Message: "out of memory allocating page table"}

// PtabIterate invokes fn for the leaf PTE of every page in
// [base, base+count*pageSize), creating tables as PtabWalkAndMap would.
// Iteration stops early if fn returns false.
func PtabIterate(sp *Space, base uintptr, count uint64, fn func(vaddr uintptr, pte *PTE) bool) *kernel.Error {
	for i := uint64(0); i < count; i++ {
		vaddr := base + uintptr(i)<<12
		pte, _, err := PtabWalkAndMap(sp, vaddr)
		if err != nil {
			return err
		}
		if !fn(vaddr, pte) {
			break
		}
	}
	return nil
}
