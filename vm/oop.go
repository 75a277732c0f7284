package vm

import "fmt"

// Oop is a tagged 32-bit machine word.
//
// Encoding scheme:
//   - SmallInteger: low bit 1, 31-bit signed payload in the upper bits
//   - Object reference: low bit 0, object-table index in the upper bits
//
// An object reference is a handle, not a pointer. The *Object it names must
// be re-derived through Heap.Object after anything that can allocate, because
// allocation may relocate every object.
type Oop uint32

const (
	intTag  Oop = 1
	tagMask Oop = 1
)

// SmallInteger range (Blue Book, 31-bit signed).
const (
	MaxSmallInt int64 = 1<<30 - 1
	MinSmallInt int64 = -(1 << 30)
)

// Reserved illegal bit patterns. Each is reference-shaped (even) but lies
// above the largest index the object table can hand out, so no live object
// ever has one of these Oops.
const (
	NullOop                        Oop = 0
	IllegalUninitialized           Oop = 0xdeadbeec
	IllegalAllocated               Oop = 0xbabeface
	IllegalFreeExtraPreheaderWords Oop = 0xfeedfad0
)

// maxObjectIndex bounds the object table.
const maxObjectIndex = 1<<30 - 1

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsInt returns true if o encodes a SmallInteger.
func (o Oop) IsInt() bool {
	return o&tagMask == intTag
}

// IsMem returns true if o is reference-shaped. Illegal patterns and the null
// word are reference-shaped too; use IsObjectReference to exclude them.
func (o Oop) IsMem() bool {
	return o&tagMask == 0
}

// IsIllegal reports whether o is one of the reserved illegal patterns.
func (o Oop) IsIllegal() bool {
	switch o {
	case IllegalUninitialized, IllegalAllocated, IllegalFreeExtraPreheaderWords:
		return true
	}
	return false
}

// IsSentinel reports whether o is the null word or an illegal pattern.
func (o Oop) IsSentinel() bool {
	return o == NullOop || o.IsIllegal()
}

// IsObjectReference returns true if o names a heap object.
func (o Oop) IsObjectReference() bool {
	return o.IsMem() && !o.IsSentinel()
}

// ---------------------------------------------------------------------------
// SmallInteger conversion
// ---------------------------------------------------------------------------

// IsIntegerValue reports whether v fits the SmallInteger range. Arithmetic
// fast paths compute in int64 and call this before narrowing.
func IsIntegerValue(v int64) bool {
	return v >= MinSmallInt && v <= MaxSmallInt
}

// FromInt encodes v as a SmallInteger.
// Panics if v is outside the SmallInteger range.
func FromInt(v int64) Oop {
	if !IsIntegerValue(v) {
		panic(fmt.Sprintf("FromInt: %d out of SmallInteger range", v))
	}
	return Oop(uint32(int32(v)<<1)) | intTag
}

// TryFromInt encodes v, returning false if it does not fit.
func TryFromInt(v int64) (Oop, bool) {
	if !IsIntegerValue(v) {
		return NullOop, false
	}
	return Oop(uint32(int32(v)<<1)) | intTag, true
}

// Int returns the SmallInteger value of o.
// Panics if o is not a SmallInteger.
func (o Oop) Int() int64 {
	if !o.IsInt() {
		panic("Oop.Int: not a SmallInteger")
	}
	return int64(int32(o) >> 1)
}

// IntValue is Int without the tag check. Callers must have tested IsInt.
func (o Oop) IntValue() int64 {
	return int64(int32(o) >> 1)
}

// AreIntegers reports whether both a and b are SmallIntegers.
func AreIntegers(a, b Oop) bool {
	return a&b&tagMask == intTag
}

// ---------------------------------------------------------------------------
// Object references
// ---------------------------------------------------------------------------

func oopForIndex(index uint32) Oop {
	return Oop(index << 1)
}

func (o Oop) index() uint32 {
	return uint32(o) >> 1
}

// Bits returns the raw word.
func (o Oop) Bits() uint32 {
	return uint32(o)
}

func (o Oop) String() string {
	switch {
	case o.IsInt():
		return fmt.Sprintf("%d", o.IntValue())
	case o == NullOop:
		return "<null>"
	case o.IsIllegal():
		return fmt.Sprintf("<illegal 0x%08x>", uint32(o))
	default:
		return fmt.Sprintf("@%d", o.index())
	}
}
