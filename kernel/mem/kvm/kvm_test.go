package kvm

import (
	"testing"

	"nexke/kernel/mem"
	"nexke/kernel/mem/mul"
	"nexke/kernel/mem/pm"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, pmPages uint64) (*Arena, *mul.Space) {
	t.Helper()
	arenas = nil
	pm.Init([]pm.MemMapEntry{{Base: 0, Size: pmPages * uint64(mem.PageSize), Type: pm.MemFree}}, pm.PlatformGeneric, 1<<20)

	sp, err := mul.MulInit(&mul.SimBackend{})
	require.Nil(t, err)

	obj := pm.NewObject(1<<20, pm.BackendKernel, nil, pm.PermRead|pm.PermWrite)
	a := NewArena("main", 0x10000000, 0x20000000, true, sp, obj)
	return a, sp
}

func TestAllocFreeSinglePageFastPath(t *testing.T) {
	a, _ := setup(t, 256)
	before := a.FreeCount

	base, err := AllocKvRegion(a, 1, 0)
	require.Nil(t, err)
	require.EqualValues(t, before-1, a.FreeCount)

	require.Nil(t, FreeKvRegion(a, base))
	require.EqualValues(t, before, a.FreeCount)
}

func TestAllocSplitsLargerRegion(t *testing.T) {
	a, _ := setup(t, 256)

	base1, err := AllocKvRegion(a, 4, 0)
	require.Nil(t, err)
	base2, err := AllocKvRegion(a, 4, 0)
	require.Nil(t, err)
	require.NotEqual(t, base1, base2)

	require.Nil(t, FreeKvRegion(a, base1))
	require.Nil(t, FreeKvRegion(a, base2))
}

func TestAllocKvRegionNoDemandMapsPages(t *testing.T) {
	a, sp := setup(t, 256)

	base, err := AllocKvRegion(a, 8, NoDemand)
	require.Nil(t, err)

	for i := uint64(0); i < 8; i++ {
		p := mul.GetMapping(sp, base+uintptr(i)*pageSize)
		require.NotNil(t, p)
	}

	require.Nil(t, FreeKvRegion(a, base))
	for i := uint64(0); i < 8; i++ {
		require.Nil(t, mul.GetMapping(sp, base+uintptr(i)*pageSize))
	}
}

func TestAllocKvRegionDemandLeavesUnmapped(t *testing.T) {
	a, sp := setup(t, 256)

	base, err := AllocKvRegion(a, 8, 0)
	require.Nil(t, err)
	require.Nil(t, mul.GetMapping(sp, base))

	require.Nil(t, FreeKvRegion(a, base))
}

func TestFreeKvRegionCoalescesNeighbors(t *testing.T) {
	a, _ := setup(t, 256)

	base1, err := AllocKvRegion(a, 8, 0)
	require.Nil(t, err)
	base2, err := AllocKvRegion(a, 8, 0)
	require.Nil(t, err)

	require.Nil(t, FreeKvRegion(a, base1))
	require.Nil(t, FreeKvRegion(a, base2))

	// a single big allocation spanning both freed extents should now
	// succeed from the coalesced remainder.
	base3, err := AllocKvRegion(a, 16, 0)
	require.Nil(t, err)
	require.Nil(t, FreeKvRegion(a, base3))
}

func TestAllocKvRegionExhaustion(t *testing.T) {
	a, _ := setup(t, 256)

	totalPages := uint64(a.End-a.Start) >> pageShift
	_, err := AllocKvRegion(a, totalPages+1, 0)
	require.NotNil(t, err)
}

func TestAllocKvPageFreeKvPage(t *testing.T) {
	a, sp := setup(t, 256)

	ptr, err := AllocKvPage(a)
	require.Nil(t, err)
	require.NotNil(t, mul.GetMapping(sp, ptr))

	require.Nil(t, FreeKvPage(a, ptr))
}

func TestAllocKvMmioPreservesOffset(t *testing.T) {
	a, sp := setup(t, 256)

	const phys = uintptr(0xfffff000 + 0x123) // an MMIO frame far outside the PM-managed range
	ptr, err := AllocKvMmio(a, phys, 1, pm.PermRead)
	require.Nil(t, err)
	require.EqualValues(t, 0x123, ptr&(pageSize-1))

	base := ptr &^ (pageSize - 1)
	p := mul.GetMapping(sp, base)
	require.NotNil(t, p)
	require.True(t, p.Flags.Has(pm.PageUnusable))

	require.Nil(t, FreeKvMmio(a, ptr, 1))
}

func TestFreeKvRegionRejectsDoubleFree(t *testing.T) {
	a, _ := setup(t, 256)

	base, err := AllocKvRegion(a, 1, 0)
	require.Nil(t, err)
	require.Nil(t, FreeKvRegion(a, base))
	require.NotNil(t, FreeKvRegion(a, base))
}

func TestRefillSinglePageListUnderflow(t *testing.T) {
	a, _ := setup(t, 256)

	var bases []uintptr
	for i := 0; i < freeListMax+4 && a.singlePage.Len() > 0; i++ {
		base, err := AllocKvRegion(a, 1, 0)
		require.Nil(t, err)
		bases = append(bases, base)
	}
	require.GreaterOrEqual(t, a.singlePage.Len(), freeListMin)

	for _, b := range bases {
		require.Nil(t, FreeKvRegion(a, b))
	}
}
