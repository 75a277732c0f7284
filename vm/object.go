package vm

import (
	"encoding/binary"
	"math"
)

// Format describes how an object's body is laid out.
type Format uint8

const (
	FormatPointers          Format = iota // named fields only
	FormatIndexablePointers               // named fields followed by indexable fields
	FormatBytes                           // indexable bytes (String, Symbol, ByteArray)
	FormatFloat                           // 8 bytes, IEEE 754 little endian
	FormatCompiledMethod                  // literal frame in fields, bytecodes in bytes
	FormatContext                         // activation record, may alias a live frame
	FormatClosure                         // BlockClosure
)

func (f Format) String() string {
	switch f {
	case FormatPointers:
		return "pointers"
	case FormatIndexablePointers:
		return "indexable"
	case FormatBytes:
		return "bytes"
	case FormatFloat:
		return "float"
	case FormatCompiledMethod:
		return "method"
	case FormatContext:
		return "context"
	case FormatClosure:
		return "closure"
	}
	return "unknown"
}

// instantiable reports whether basicNew may create objects of this format.
func (f Format) instantiable() bool {
	return f <= FormatBytes || f == FormatFloat
}

// Object is the memory view of a heap object: header, fields, and the
// reserved domain slot.
//
// An *Object is only valid until the next allocation. Relocation copies
// every object to a fresh struct and, with assertions enabled, marks the
// old one stale so that a pointer held across an allocation is caught.
type Object struct {
	self   Oop
	class  Oop
	hash   uint32
	format Format
	fixed  int // number of named fields; indexable fields follow

	fields []Oop
	bytes  []byte
	domain Oop

	old   bool // survived a relocation; stores into it are store-checked
	stale bool

	behavior *Behavior     // class objects
	method   *MethodHeader // compiled methods
	frame    *Frame        // married contexts
}

// Oop returns the handle naming this object.
func (o *Object) Oop() Oop {
	o.check()
	return o.self
}

// Class returns the object's class.
func (o *Object) Class() Oop {
	o.check()
	return o.class
}

// Hash returns the identity hash.
func (o *Object) Hash() uint32 {
	return o.hash
}

// Format returns the body layout.
func (o *Object) Format() Format {
	return o.format
}

// NumFields returns the number of pointer fields, named and indexable.
func (o *Object) NumFields() int {
	return len(o.fields)
}

// FixedSize returns the number of named fields.
func (o *Object) FixedSize() int {
	return o.fixed
}

// IndexableSize returns the number of indexable slots (pointers or bytes).
func (o *Object) IndexableSize() int {
	switch o.format {
	case FormatBytes:
		return len(o.bytes)
	case FormatIndexablePointers, FormatContext:
		return len(o.fields) - o.fixed
	}
	return 0
}

// FetchPointer returns field i (0-based).
// Panics if i is out of range.
func (o *Object) FetchPointer(i int) Oop {
	o.check()
	return o.fields[i]
}

// Bytes returns the byte body. Callers must not retain it across allocation.
func (o *Object) Bytes() []byte {
	o.check()
	return o.bytes
}

// DomainOop returns the raw domain reference.
func (o *Object) DomainOop() Oop {
	o.check()
	return o.domain
}

// Behavior returns the class metadata, or nil if o is not a class.
func (o *Object) Behavior() *Behavior {
	return o.behavior
}

// MethodHeader returns the method metadata, or nil if o is not a method.
func (o *Object) MethodHeader() *MethodHeader {
	return o.method
}

// IsCompiledMethod returns true if o is a CompiledMethod.
func (o *Object) IsCompiledMethod() bool {
	return o.format == FormatCompiledMethod
}

// HasContextHeader returns true if o is a context.
func (o *Object) HasContextHeader() bool {
	return o.format == FormatContext
}

// IsOld returns true if o survived a relocation.
func (o *Object) IsOld() bool {
	return o.old
}

// FloatValue returns the value of a boxed float.
func (o *Object) FloatValue() float64 {
	o.check()
	return math.Float64frombits(binary.LittleEndian.Uint64(o.bytes))
}

// storePointerUnchecked writes a field without the store check. Only valid
// for objects allocated since the last relocation.
func (o *Object) storePointerUnchecked(i int, v Oop) {
	o.check()
	o.fields[i] = v
}

func (o *Object) check() {
	if o.stale {
		panic(&AssertionError{Diagnostic{Reason: "object pointer used after relocation", Selector: o.self}})
	}
}

// moved returns a copy of o in fresh storage, as a moving collector would.
func (o *Object) moved() *Object {
	n := *o
	if o.fields != nil {
		n.fields = make([]Oop, len(o.fields))
		copy(n.fields, o.fields)
	}
	if o.bytes != nil {
		n.bytes = make([]byte, len(o.bytes))
		copy(n.bytes, o.bytes)
	}
	n.old = true
	n.stale = false
	return &n
}
