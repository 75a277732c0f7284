package vm

import (
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

var heapLog = commonlog.GetLogger("omnivm.heap")

const (
	pageBits = 14
	pageSize = 1 << pageBits
	pageMask = pageSize - 1
	maxPages = (maxObjectIndex + 1) >> pageBits
)

type objectPage [pageSize]*Object

// Heap is the object memory shared by every core. It owns the object table
// and hands out Oops; the interpreter only ever holds Oops across calls that
// can allocate.
//
// Pages are published atomically so that cores can read the table while
// another core allocates. Relocation rewrites every entry and must only run
// while the world is stopped (see SafepointCoordinator.StopTheWorld).
type Heap struct {
	mu    sync.Mutex
	pages []atomic.Pointer[objectPage]
	next  uint32
	hash  uint32

	relocateEvery   uint64
	sinceRelocation atomic.Uint64
	relocations     atomic.Uint64
	assertions      bool

	rememberedMu sync.Mutex
	remembered   map[Oop]struct{}
}

// NewHeap creates an empty heap. relocateEvery is the number of allocations
// between relocations (0 disables relocation).
func NewHeap(relocateEvery int, assertions bool) *Heap {
	return &Heap{
		pages:         make([]atomic.Pointer[objectPage], maxPages),
		next:          1, // index 0 is NullOop
		relocateEvery: uint64(relocateEvery),
		assertions:    assertions,
		remembered:    make(map[Oop]struct{}),
	}
}

// Object derives the current *Object for oop, or nil if oop names nothing.
func (h *Heap) Object(oop Oop) *Object {
	if !oop.IsObjectReference() {
		return nil
	}
	idx := oop.index()
	if idx > maxObjectIndex {
		return nil
	}
	page := h.pages[idx>>pageBits].Load()
	if page == nil {
		return nil
	}
	return page[idx&pageMask]
}

// Allocate creates a young object. Pointer fields are filled with fill.
// The returned *Object is valid until the next allocation.
func (h *Heap) Allocate(class Oop, format Format, fixed, indexable, numBytes int, fill Oop) *Object {
	obj := &Object{
		class:  class,
		format: format,
		fixed:  fixed,
		domain: fill,
	}
	if n := fixed + indexable; n > 0 {
		obj.fields = make([]Oop, n)
		for i := range obj.fields {
			obj.fields[i] = fill
		}
	}
	if numBytes > 0 || format == FormatBytes {
		obj.bytes = make([]byte, numBytes)
	}

	h.mu.Lock()
	idx := h.next
	if idx > maxObjectIndex {
		h.mu.Unlock()
		panic(&FatalError{Diagnostic{Reason: "object table exhausted"}})
	}
	h.next++
	h.hash = (h.hash + 1) & 0x3fffff
	obj.hash = h.hash
	page := h.pages[idx>>pageBits].Load()
	if page == nil {
		page = new(objectPage)
		h.pages[idx>>pageBits].Store(page)
	}
	obj.self = oopForIndex(idx)
	page[idx&pageMask] = obj
	h.mu.Unlock()

	h.sinceRelocation.Add(1)
	return obj
}

// RelocationDue reports whether enough allocations have happened that the
// next safepoint should relocate.
func (h *Heap) RelocationDue() bool {
	return h.relocateEvery > 0 && h.sinceRelocation.Load() >= h.relocateEvery
}

// Relocate moves every object to fresh storage and tenures it. Every *Object
// obtained before the call is invalid afterwards. The caller must have
// stopped the world.
func (h *Heap) Relocate() {
	h.mu.Lock()
	defer h.mu.Unlock()

	moved := 0
	for idx := uint32(1); idx < h.next; idx++ {
		page := h.pages[idx>>pageBits].Load()
		if page == nil {
			continue
		}
		obj := page[idx&pageMask]
		if obj == nil {
			continue
		}
		page[idx&pageMask] = obj.moved()
		if h.assertions {
			obj.stale = true
		}
		moved++
	}

	h.rememberedMu.Lock()
	clear(h.remembered)
	h.rememberedMu.Unlock()

	h.sinceRelocation.Store(0)
	n := h.relocations.Add(1)
	heapLog.Infof("relocation %d moved %d objects", n, moved)
}

// Relocations returns how many relocations have run.
func (h *Heap) Relocations() uint64 {
	return h.relocations.Load()
}

// Len returns the number of objects ever allocated.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.next - 1)
}

// ---------------------------------------------------------------------------
// Store-checked writes
// ---------------------------------------------------------------------------

// StorePointer writes field i of obj, recording obj in the remembered set if
// it is old and v is young. Field writes are not synchronised between cores;
// only the remembered set is locked.
func (h *Heap) StorePointer(obj *Object, i int, v Oop) {
	obj.check()
	obj.fields[i] = v
	h.storeCheck(obj, v)
}

// SetDomain writes obj's domain slot through the store check.
func (h *Heap) SetDomain(obj *Object, domain Oop) {
	obj.check()
	obj.domain = domain
	h.storeCheck(obj, domain)
}

func (h *Heap) storeCheck(holder *Object, v Oop) {
	if !holder.old || !v.IsObjectReference() {
		return
	}
	if target := h.Object(v); target != nil && !target.old {
		h.rememberedMu.Lock()
		h.remembered[holder.self] = struct{}{}
		h.rememberedMu.Unlock()
	}
}

// IsRemembered reports whether oop is in the remembered set.
func (h *Heap) IsRemembered(oop Oop) bool {
	h.rememberedMu.Lock()
	defer h.rememberedMu.Unlock()
	_, ok := h.remembered[oop]
	return ok
}

// RememberedSetSize returns the number of old objects holding young
// references.
func (h *Heap) RememberedSetSize() int {
	h.rememberedMu.Lock()
	defer h.rememberedMu.Unlock()
	return len(h.remembered)
}
