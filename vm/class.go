package vm

import "sync"

// ---------------------------------------------------------------------------
// Behavior: class metadata
// ---------------------------------------------------------------------------

// Behavior is the metadata carried by a class object: its name, shape, and
// method dictionary. Class objects are ordinary heap objects; their Behavior
// survives relocation unchanged, so a *Behavior may be held across
// allocation where an *Object may not.
type Behavior struct {
	Name     string
	InstVars []string
	InstSize int    // named fields, inherited ones included
	Format   Format // instance format
	Meta     bool

	self  Oop
	super *Behavior

	mu      sync.RWMutex
	methods map[Oop]Oop // selector -> CompiledMethod
}

func newBehavior(name string, super *Behavior, instVars []string, format Format) *Behavior {
	b := &Behavior{
		Name:     name,
		InstVars: instVars,
		Format:   format,
		super:    super,
		methods:  make(map[Oop]Oop),
	}
	b.InstSize = len(instVars)
	if super != nil {
		b.InstSize += super.InstSize
	}
	return b
}

// Oop returns the class object.
func (b *Behavior) Oop() Oop {
	return b.self
}

// Superclass returns the superclass metadata, or nil at the root.
func (b *Behavior) Superclass() *Behavior {
	return b.super
}

// SuperclassOop returns the superclass object, or NullOop at the root.
func (b *Behavior) SuperclassOop() Oop {
	if b.super == nil {
		return NullOop
	}
	return b.super.self
}

// Lookup finds the method for selector, walking the superclass chain.
// Returns NullOop if no class in the chain defines it.
func (b *Behavior) Lookup(selector Oop) Oop {
	for c := b; c != nil; c = c.super {
		if m := c.LookupLocal(selector); m != NullOop {
			return m
		}
	}
	return NullOop
}

// LookupLocal finds the method for selector in this class only.
func (b *Behavior) LookupLocal(selector Oop) Oop {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.methods[selector]
}

// Includes reports whether this class (not its superclasses) defines selector.
func (b *Behavior) Includes(selector Oop) bool {
	return b.LookupLocal(selector) != NullOop
}

// Selectors returns the selectors defined locally.
func (b *Behavior) Selectors() []Oop {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sels := make([]Oop, 0, len(b.methods))
	for sel := range b.methods {
		sels = append(sels, sel)
	}
	return sels
}

func (b *Behavior) addMethod(selector, method Oop) {
	b.mu.Lock()
	b.methods[selector] = method
	b.mu.Unlock()
}

func (b *Behavior) removeMethod(selector Oop) {
	b.mu.Lock()
	delete(b.methods, selector)
	b.mu.Unlock()
}

// InheritsFrom returns true if b is other or one of its subclasses.
func (b *Behavior) InheritsFrom(other *Behavior) bool {
	for c := b; c != nil; c = c.super {
		if c == other {
			return true
		}
	}
	return false
}

// InstVarIndex returns the field index of the named instance variable, or -1.
func (b *Behavior) InstVarIndex(name string) int {
	for i, n := range b.InstVars {
		if n == name {
			return b.InstSize - len(b.InstVars) + i
		}
	}
	if b.super != nil {
		return b.super.InstVarIndex(name)
	}
	return -1
}

// ---------------------------------------------------------------------------
// ClassTable: name registry
// ---------------------------------------------------------------------------

// ClassTable maps class names to class metadata.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Behavior
}

// NewClassTable creates an empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{classes: make(map[string]*Behavior)}
}

// Register adds or replaces a class.
func (ct *ClassTable) Register(b *Behavior) *Behavior {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.classes[b.Name] = b
	return b
}

// Lookup finds a class by name, or nil.
func (ct *ClassTable) Lookup(name string) *Behavior {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}
