package vm

// Lookup caches for message sends and indexed access.
//
// Each core owns its caches, so no locking is needed. Method caches are
// flushed when the VM's method epoch moves (a method was installed or
// removed, or native code was registered).

// ---------------------------------------------------------------------------
// MethodCache: (class, selector) -> method
// ---------------------------------------------------------------------------

// MethodCacheEntry holds one resolved lookup.
type MethodCacheEntry struct {
	Class     Oop
	Selector  Oop
	Method    Oop
	NumArgs   int
	Primitive int
	Native    NativeMethod
}

// MethodCache is a direct-mapped global lookup cache.
type MethodCache struct {
	entries []MethodCacheEntry
	mask    uint32
	epoch   uint64

	// Statistics for profiling
	Hits   uint64
	Misses uint64
}

// NewMethodCache creates a cache with at least size entries (rounded up to a
// power of two).
func NewMethodCache(size int) *MethodCache {
	n := 1
	for n < size {
		n <<= 1
	}
	return &MethodCache{entries: make([]MethodCacheEntry, n), mask: uint32(n - 1)}
}

func (c *MethodCache) slot(class, selector Oop) *MethodCacheEntry {
	h := (uint32(class)*31 ^ uint32(selector)) >> 1
	return &c.entries[h&c.mask]
}

// Lookup returns the entry for (class, selector), or nil on a miss.
func (c *MethodCache) Lookup(class, selector Oop) *MethodCacheEntry {
	e := c.slot(class, selector)
	if e.Method != NullOop && e.Class == class && e.Selector == selector {
		c.Hits++
		return e
	}
	c.Misses++
	return nil
}

// Add records a lookup result, evicting whatever shared its slot.
func (c *MethodCache) Add(entry MethodCacheEntry) *MethodCacheEntry {
	e := c.slot(entry.Class, entry.Selector)
	*e = entry
	return e
}

// Flush empties the cache.
func (c *MethodCache) Flush() {
	clear(c.entries)
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (c *MethodCache) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// ---------------------------------------------------------------------------
// AtCache: receiver -> indexable shape
// ---------------------------------------------------------------------------

const atCacheSize = 64

// AtCacheEntry remembers the indexable shape of one receiver so that at: and
// at:put: can skip the class and format checks.
type AtCacheEntry struct {
	Receiver Oop
	Format   Format
	Fixed    int
	Size     int
}

// Matches reports whether the entry describes rcvr.
func (e *AtCacheEntry) Matches(rcvr Oop) bool {
	return e.Receiver == rcvr && rcvr != NullOop
}

// AtCache holds separate tables for at: and at:put:.
type AtCache struct {
	entries [2][atCacheSize]AtCacheEntry
}

// Entry returns the slot rcvr hashes to. The caller checks Matches.
func (c *AtCache) Entry(rcvr Oop, isPut bool) *AtCacheEntry {
	table := 0
	if isPut {
		table = 1
	}
	return &c.entries[table][(uint32(rcvr)>>1)%atCacheSize]
}

// Fill records the shape of obj for the given access kind. Only plain
// indexable pointer and byte objects are cached.
func (c *AtCache) Fill(obj *Object, isPut bool) {
	if obj.format != FormatIndexablePointers && obj.format != FormatBytes {
		return
	}
	e := c.Entry(obj.self, isPut)
	e.Receiver = obj.self
	e.Format = obj.format
	e.Fixed = obj.fixed
	e.Size = obj.IndexableSize()
}

// Flush empties the cache.
func (c *AtCache) Flush() {
	clear(c.entries[0][:])
	clear(c.entries[1][:])
}
