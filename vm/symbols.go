package vm

import "sync"

// SymbolTable interns selector and symbol names to Symbol objects.
//
// A Symbol is a byte object of class Symbol; two Symbols with the same name
// are the same Oop, so selectors compare by identity. The table is shared by
// every core and safe for concurrent use.
type SymbolTable struct {
	mu     sync.RWMutex
	heap   *Heap
	class  Oop
	byName map[string]Oop
	byOop  map[Oop]string
}

// NewSymbolTable creates an empty table allocating Symbols of class cls.
func NewSymbolTable(heap *Heap, cls Oop) *SymbolTable {
	return &SymbolTable{
		heap:   heap,
		class:  cls,
		byName: make(map[string]Oop, 256),
		byOop:  make(map[Oop]string, 256),
	}
}

// Intern returns the Symbol for name, creating it if needed.
func (st *SymbolTable) Intern(name string) Oop {
	st.mu.RLock()
	if sym, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return sym
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if sym, ok := st.byName[name]; ok {
		return sym
	}

	obj := st.heap.Allocate(st.class, FormatBytes, 0, 0, len(name), NullOop)
	copy(obj.bytes, name)
	sym := obj.self
	st.byName[name] = sym
	st.byOop[sym] = name
	return sym
}

// Lookup returns the Symbol for name without creating one.
func (st *SymbolTable) Lookup(name string) (Oop, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sym, ok := st.byName[name]
	return sym, ok
}

// Name returns the name of sym, or "" if sym is not an interned Symbol.
func (st *SymbolTable) Name(sym Oop) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.byOop[sym]
}

// IsSymbol reports whether oop is an interned Symbol.
func (st *SymbolTable) IsSymbol(oop Oop) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.byOop[oop]
	return ok
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byName)
}

// InternAll interns several names at once.
func (st *SymbolTable) InternAll(names ...string) []Oop {
	syms := make([]Oop, len(names))
	for i, name := range names {
		syms[i] = st.Intern(name)
	}
	return syms
}
