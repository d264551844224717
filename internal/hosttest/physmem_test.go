package hosttest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nexke/kernel/mem"
	"nexke/kernel/mem/pm"
)

func TestPhysPoolBacksPMZone(t *testing.T) {
	const pages = 64
	pool, err := NewPhysPool(pages * uint64(mem.PageSize))
	require.NoError(t, err)
	defer pool.Close()

	memMap := []pm.MemMapEntry{
		{Base: pool.Base, Size: pool.Size, Type: pm.MemFree},
	}
	pm.Init(memMap, pm.PlatformGeneric, 1<<20)
	require.EqualValues(t, pages, pm.FreeCount())

	p, perr := pm.AllocPage()
	require.NoError(t, perr)
	addr := p.PFN.Address()
	require.GreaterOrEqual(t, addr, pool.Base)
	require.Less(t, addr, pool.Base+uintptr(pool.Size))

	// The mapping is real: write through the pool at the allocated frame's
	// offset and read it back.
	off := addr - pool.Base
	buf := pool.At(off, int(mem.PageSize))
	buf[0] = 0xAB
	require.Equal(t, byte(0xAB), pool.At(off, int(mem.PageSize))[0])
}
