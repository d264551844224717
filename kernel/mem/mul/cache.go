package mul

import "nexke/kernel/mem/pm"

// Tuning parameters for the page-table cache (§4.3).
const (
	DefaultSlots = 85
	MinFree      = 2
	FreeTarget   = 8
)

// slot is one page-table cache window: in the real kernel it is a virtual
// page temporarily mapped to a table's physical frame; here, since table
// contents are addressed directly through the hosted table store
// (backend.go), a slot only tracks which table it currently "holds" so the
// MRU/LRU/free-list bookkeeping and hit/miss accounting the spec describes
// still has somewhere real to live.
type slot struct {
	table pm.PFN
	level int
	inUse bool
}

// Cache models the shared pool of page-table cache slots plus its
// per-level MRU/LRU recency lists. A Cache is owned by one Space's
// CacheLock.
type Cache struct {
	slots []slot
	// mru[level] lists slot indices most- to least-recently used.
	mru [][]int
	// table PFN -> index of the slot holding it, for O(1) lookup.
	byTable map[pm.PFN]int

	hits, misses, evictions int
}

// NewCache allocates a cache with n slots across Levels levels.
func NewCache(n int) *Cache {
	if n <= 0 {
		n = DefaultSlots
	}
	c := &Cache{
		slots:   make([]slot, n),
		mru:     make([][]int, Levels),
		byTable: make(map[pm.PFN]int, n),
	}
	return c
}

// Get returns the slot index currently holding table, allocating one if
// necessary: reuse if already resident, else take from any never-used
// slot, else evict. In this simplified model every slot stays "in use"
// once filled, so eviction takes the least-recently-touched slot of the
// deepest level that has any slot in its recency list; slots of shallower
// levels are only evicted once every deeper list is empty.
func (c *Cache) Get(table pm.PFN, level int) int {
	if idx, ok := c.byTable[table]; ok {
		c.hits++
		c.touch(level, idx)
		return idx
	}
	c.misses++

	idx := c.firstFree()
	if idx < 0 {
		idx = c.evictLRU()
	}

	if c.slots[idx].inUse {
		delete(c.byTable, c.slots[idx].table)
	}
	c.slots[idx] = slot{table: table, level: level, inUse: true}
	c.byTable[table] = idx
	c.touch(level, idx)
	return idx
}

// Release marks a slot no longer actively pinned by a walker; it remains
// in the recency list so a subsequent walk through the same table is a
// cache hit.
func (c *Cache) Release(idx int) {
	_ = idx // retained for symmetry with the real cache's pin/unpin pairing
}

func (c *Cache) firstFree() int {
	for i := range c.slots {
		if !c.slots[i].inUse {
			return i
		}
	}
	return -1
}

func (c *Cache) touch(level, idx int) {
	list := c.mru[level]
	for i, v := range list {
		if v == idx {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	c.mru[level] = append([]int{idx}, list...)
}

func (c *Cache) evictLRU() int {
	c.evictions++
	for lvl := Levels - 1; lvl >= 0; lvl-- {
		list := c.mru[lvl]
		if len(list) == 0 {
			continue
		}
		idx := list[len(list)-1]
		c.mru[lvl] = list[:len(list)-1]
		return idx
	}
	return 0
}

// Stats returns (hits, misses, evictions) since the cache was created.
func (c *Cache) Stats() (int, int, int) {
	return c.hits, c.misses, c.evictions
}
