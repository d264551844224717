package mul

import (
	"testing"

	"nexke/kernel/mem"
	"nexke/kernel/mem/pm"

	"github.com/stretchr/testify/require"
)

func setupPM(t *testing.T, pages uint64) {
	t.Helper()
	pm.Init([]pm.MemMapEntry{{Base: 0, Size: pages * uint64(mem.PageSize), Type: pm.MemFree}}, pm.PlatformGeneric, 1<<20)
}

func TestCreateSpaceAndDestroy(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}

	sp, err := MulInit(b)
	require.Nil(t, err)
	require.NotNil(t, sp)
	require.True(t, sp.Kernel)
	require.EqualValues(t, 1, sp.RefCount)
}

func TestMapAndWalkPage(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)

	p, err := pm.AllocPage()
	require.Nil(t, err)

	const vaddr = uintptr(0x40000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead|pm.PermWrite))

	got := GetMapping(sp, vaddr)
	require.Equal(t, p, got)
	require.EqualValues(t, 1, p.MappingCount())
}

func TestMapOverFixedIsFatal(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)

	p, err := pm.AllocFixedPage()
	require.Nil(t, err)

	const vaddr = uintptr(0x50000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead))

	require.Panics(t, func() {
		MapPage(sp, vaddr, p, pm.PermRead|pm.PermWrite)
	})
}

func TestUnmapRangeRejectsFixed(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)

	p, err := pm.AllocFixedPage()
	require.Nil(t, err)
	const vaddr = uintptr(0x60000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead))

	require.Panics(t, func() {
		UnmapRange(sp, vaddr, 1)
	})
}

func TestUnmapRangeRemovesBackMapping(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)

	p, err := pm.AllocPage()
	require.Nil(t, err)
	const vaddr = uintptr(0x70000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead))

	require.Nil(t, UnmapRange(sp, vaddr, 1))
	require.Nil(t, GetMapping(sp, vaddr))
	require.EqualValues(t, 0, p.MappingCount())
}

func TestProtectRangeUpdatesPerm(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)

	p, err := pm.AllocPage()
	require.Nil(t, err)
	const vaddr = uintptr(0x80000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead))

	require.Nil(t, ProtectRange(sp, vaddr, 1, pm.PermRead|pm.PermWrite))
	leaf, ok := PtabWalk(sp, vaddr)
	require.True(t, ok)
	require.EqualValues(t, pm.PermRead|pm.PermWrite, leaf.Perm)
}

func TestFixUnfixPage(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)

	p, err := pm.AllocPage()
	require.Nil(t, err)
	const vaddr = uintptr(0x90000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead))

	FixPage(p)
	leaf, _ := PtabWalk(sp, vaddr)
	require.True(t, leaf.Fixed)

	UnfixPage(p)
	leaf, _ = PtabWalk(sp, vaddr)
	require.False(t, leaf.Fixed)
}

func TestSetGetAttr(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)

	p, err := pm.AllocPage()
	require.Nil(t, err)
	const vaddr = uintptr(0xa0000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead))

	require.Nil(t, SetAttr(sp, vaddr, AttrAccessed|AttrDirty))
	attr, err := GetAttr(sp, vaddr)
	require.Nil(t, err)
	require.EqualValues(t, AttrAccessed|AttrDirty, attr)
}

func TestPtabWalkWithoutMapFails(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)

	_, ok := PtabWalk(sp, 0xb0000000)
	require.False(t, ok)
}

func TestMapUnmapUpdatesSpaceStats(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)
	before := sp.Stats()

	p, err := pm.AllocPage()
	require.Nil(t, err)
	const vaddr = uintptr(0xc0000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead))
	require.Equal(t, before.Maps+1, sp.Stats().Maps)

	require.Nil(t, UnmapRange(sp, vaddr, 1))
	require.Equal(t, before.Maps, sp.Stats().Maps)
}

func TestFixUnfixUpdatesSpaceStats(t *testing.T) {
	setupPM(t, 64)
	b := &SimBackend{}
	sp, err := MulInit(b)
	require.Nil(t, err)
	before := sp.Stats()

	p, err := pm.AllocPage()
	require.Nil(t, err)
	const vaddr = uintptr(0xd0000000)
	require.Nil(t, MapPage(sp, vaddr, p, pm.PermRead))

	FixPage(p)
	require.Equal(t, before.Fixed+1, sp.Stats().Fixed)

	UnfixPage(p)
	require.Equal(t, before.Fixed, sp.Stats().Fixed)
}

func TestVerifyRejectsUserLeafUnderKernelOnlyAncestor(t *testing.T) {
	b := &SimBackend{}
	parent := PTE{KernelOnly: true}
	require.False(t, b.Verify(parent, PTE{KernelOnly: false}))
	require.True(t, b.Verify(parent, PTE{KernelOnly: true}))
}

func TestCacheHitOnSecondLookup(t *testing.T) {
	c := NewCache(4)
	c.Get(1, 0)
	c.Get(1, 0)
	hits, misses, _ := c.Stats()
	require.Equal(t, 1, hits)
	require.Equal(t, 1, misses)
}
