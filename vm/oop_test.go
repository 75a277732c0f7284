package vm

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSmallIntegerRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("FromInt then Int is the identity", prop.ForAll(
		func(v int64) bool {
			o := FromInt(v)
			return o.IsInt() && !o.IsMem() && o.Int() == v && o.IntValue() == v
		},
		gen.Int64Range(MinSmallInt, MaxSmallInt),
	))

	properties.Property("out of range values do not encode", prop.ForAll(
		func(v int64) bool {
			_, ok := TryFromInt(v)
			return ok == IsIntegerValue(v)
		},
		gen.Int64Range(4*MinSmallInt, 4*MaxSmallInt),
	))

	properties.TestingRun(t)
}

func TestSmallIntegerBounds(t *testing.T) {
	tests := []struct {
		v    int64
		fits bool
	}{
		{0, true},
		{-1, true},
		{MaxSmallInt, true},
		{MinSmallInt, true},
		{MaxSmallInt + 1, false},
		{MinSmallInt - 1, false},
		{1 << 40, false},
	}
	for _, tt := range tests {
		o, ok := TryFromInt(tt.v)
		if ok != tt.fits {
			t.Errorf("TryFromInt(%d) ok = %v, want %v", tt.v, ok, tt.fits)
			continue
		}
		if ok && o.Int() != tt.v {
			t.Errorf("TryFromInt(%d) = %d", tt.v, o.Int())
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("FromInt accepted an out-of-range value")
		}
	}()
	FromInt(MaxSmallInt + 1)
}

func TestOopPredicates(t *testing.T) {
	ref := oopForIndex(7)
	tests := []struct {
		name      string
		oop       Oop
		isInt     bool
		isMem     bool
		illegal   bool
		sentinel  bool
		reference bool
	}{
		{"small integer", FromInt(-5), true, false, false, false, false},
		{"reference", ref, false, true, false, false, true},
		{"null", NullOop, false, true, false, true, false},
		{"uninitialized", IllegalUninitialized, false, true, true, true, false},
		{"allocated", IllegalAllocated, false, true, true, true, false},
		{"freed domain", IllegalFreeExtraPreheaderWords, false, true, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.oop
			if o.IsInt() != tt.isInt || o.IsMem() != tt.isMem || o.IsIllegal() != tt.illegal ||
				o.IsSentinel() != tt.sentinel || o.IsObjectReference() != tt.reference {
				t.Errorf("%v: int=%v mem=%v illegal=%v sentinel=%v reference=%v",
					o, o.IsInt(), o.IsMem(), o.IsIllegal(), o.IsSentinel(), o.IsObjectReference())
			}
		})
	}

	if !AreIntegers(FromInt(1), FromInt(-1)) || AreIntegers(FromInt(1), ref) || AreIntegers(ref, ref) {
		t.Error("AreIntegers")
	}
}

func TestOopString(t *testing.T) {
	tests := []struct {
		oop  Oop
		want string
	}{
		{FromInt(-12), "-12"},
		{NullOop, "<null>"},
		{IllegalAllocated, "<illegal 0xbabeface>"},
		{oopForIndex(3), "@3"},
	}
	for _, tt := range tests {
		if got := tt.oop.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestIntPanicsOnReference(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Int accepted an object reference")
		}
	}()
	oopForIndex(1).Int()
}
