package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Primitive indices.
const (
	primIntegerAdd          = 1
	primIntegerSubtract     = 2
	primIntegerLessThan     = 3
	primIntegerGreaterThan  = 4
	primIntegerLessOrEqual  = 5
	primIntegerGreaterOrEq  = 6
	primIntegerEqual        = 7
	primIntegerNotEqual     = 8
	primIntegerMultiply     = 9
	primIntegerDivide       = 10
	primIntegerMod          = 11
	primIntegerDiv          = 12
	primIntegerQuo          = 13
	primIntegerBitAnd       = 14
	primIntegerBitOr        = 15
	primIntegerBitXor       = 16
	primIntegerBitShift     = 17
	primMakePoint           = 18
	primPrimitiveFailed     = 19
	primCannotReturn        = 21
	primMustBeBoolean       = 22
	primAsFloat             = 40
	primFloatAdd            = 41
	primFloatSubtract       = 42
	primFloatLessThan       = 43
	primFloatGreaterThan    = 44
	primFloatLessOrEqual    = 45
	primFloatGreaterOrEqual = 46
	primFloatEqual          = 47
	primFloatNotEqual       = 48
	primFloatMultiply       = 49
	primFloatDivide         = 50
	primFloatTruncated      = 51

	primAt              = 60
	primAtPut           = 61
	primSize            = 62
	primNext            = 65
	primNextPut         = 66
	primAtEnd           = 67
	primBasicNew        = 70
	primBasicNewWith    = 71
	primInstVarAt       = 73
	primInstVarAtPut    = 74
	primIdentityHash    = 75
	primPerform         = 83
	primPerformWithArgs = 84
	primReplace         = 105
	primEquivalent      = 110
	primClass           = 111
	primShallowCopy     = 148

	primClosureValue         = 201 // 201-205: value .. value:value:value:value:
	primClosureValueWithArgs = 206

	primDomain           = 600
	primSetDomain        = 601
	primEvaluateEnforced = 602

	primDomainReadField                = 610
	primDomainWriteField               = 611
	primDomainWriteFieldWithReturn     = 612
	primDomainReadLiteral              = 613
	primDomainWriteLiteral             = 614
	primDomainPrimAt                   = 615
	primDomainPrimAtPut                = 616
	primDomainPrimShallowCopy          = 617
	primDomainPrimNext                 = 618
	primDomainPrimNextPut              = 619
	primDomainPrimReplace              = 620
	primDomainRequestExec              = 621
	primDomainRequestExecInLookupClass = 622

	maxPrimitive = 640
)

// primitiveTable is indexed by primitive number; empty slots fail.
var primitiveTable [maxPrimitive]func(*Interpreter)

func primitiveFor(n int) func(*Interpreter) {
	if n > 0 && n < maxPrimitive {
		if p := primitiveTable[n]; p != nil {
			return p
		}
	}
	return (*Interpreter).primitiveFail
}

func init() {
	t := &primitiveTable

	t[primIntegerAdd] = integerArithmetic(func(a, b int64) (int64, bool) { return a + b, true })
	t[primIntegerSubtract] = integerArithmetic(func(a, b int64) (int64, bool) { return a - b, true })
	t[primIntegerMultiply] = integerArithmetic(func(a, b int64) (int64, bool) { return a * b, true })
	t[primIntegerDivide] = integerArithmetic(exactQuotient)
	t[primIntegerMod] = integerArithmetic(floorMod)
	t[primIntegerDiv] = integerArithmetic(floorDiv)
	t[primIntegerQuo] = integerArithmetic(func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		return a / b, true
	})
	t[primIntegerBitAnd] = integerArithmetic(func(a, b int64) (int64, bool) { return a & b, true })
	t[primIntegerBitOr] = integerArithmetic(func(a, b int64) (int64, bool) { return a | b, true })
	t[primIntegerBitXor] = integerArithmetic(func(a, b int64) (int64, bool) { return a ^ b, true })
	t[primIntegerBitShift] = integerArithmetic(bitShift)

	t[primIntegerLessThan] = integerComparison(func(a, b int64) bool { return a < b })
	t[primIntegerGreaterThan] = integerComparison(func(a, b int64) bool { return a > b })
	t[primIntegerLessOrEqual] = integerComparison(func(a, b int64) bool { return a <= b })
	t[primIntegerGreaterOrEq] = integerComparison(func(a, b int64) bool { return a >= b })
	t[primIntegerEqual] = integerComparison(func(a, b int64) bool { return a == b })
	t[primIntegerNotEqual] = integerComparison(func(a, b int64) bool { return a != b })

	t[primMakePoint] = (*Interpreter).primitiveMakePoint
	t[primPrimitiveFailed] = (*Interpreter).primitivePrimitiveFailed
	t[primCannotReturn] = (*Interpreter).primitiveCannotReturn
	t[primMustBeBoolean] = (*Interpreter).primitiveMustBeBoolean

	t[primAsFloat] = (*Interpreter).primitiveAsFloat
	t[primFloatAdd] = floatArithmetic(func(a, b float64) (float64, bool) { return a + b, true })
	t[primFloatSubtract] = floatArithmetic(func(a, b float64) (float64, bool) { return a - b, true })
	t[primFloatMultiply] = floatArithmetic(func(a, b float64) (float64, bool) { return a * b, true })
	t[primFloatDivide] = floatArithmetic(func(a, b float64) (float64, bool) {
		if b == 0 {
			return 0, false
		}
		return a / b, true
	})
	t[primFloatLessThan] = floatComparison(func(a, b float64) bool { return a < b })
	t[primFloatGreaterThan] = floatComparison(func(a, b float64) bool { return a > b })
	t[primFloatLessOrEqual] = floatComparison(func(a, b float64) bool { return a <= b })
	t[primFloatGreaterOrEqual] = floatComparison(func(a, b float64) bool { return a >= b })
	t[primFloatEqual] = floatComparison(func(a, b float64) bool { return a == b })
	t[primFloatNotEqual] = floatComparison(func(a, b float64) bool { return a != b })
	t[primFloatTruncated] = (*Interpreter).primitiveTruncated

	t[primAt] = (*Interpreter).primitiveAt
	t[primAtPut] = (*Interpreter).primitiveAtPut
	t[primSize] = (*Interpreter).primitiveSize
	t[primNext] = (*Interpreter).primitiveNext
	t[primNextPut] = (*Interpreter).primitiveNextPut
	t[primAtEnd] = (*Interpreter).primitiveAtEnd
	t[primBasicNew] = (*Interpreter).primitiveBasicNew
	t[primBasicNewWith] = (*Interpreter).primitiveBasicNewWith
	t[primInstVarAt] = (*Interpreter).primitiveInstVarAt
	t[primInstVarAtPut] = (*Interpreter).primitiveInstVarAtPut
	t[primIdentityHash] = (*Interpreter).primitiveIdentityHash
	t[primPerform] = (*Interpreter).primitivePerform
	t[primPerformWithArgs] = (*Interpreter).primitivePerformWithArguments
	t[primReplace] = (*Interpreter).primitiveReplace
	t[primEquivalent] = (*Interpreter).primitiveEquivalent
	t[primClass] = (*Interpreter).primitiveClass
	t[primShallowCopy] = (*Interpreter).primitiveShallowCopy

	for n := primClosureValue; n < primClosureValueWithArgs; n++ {
		t[n] = (*Interpreter).primitiveClosureValue
	}
	t[primClosureValueWithArgs] = (*Interpreter).primitiveClosureValueWithArguments

	t[primDomain] = (*Interpreter).primitiveDomain
	t[primSetDomain] = (*Interpreter).primitiveSetDomain
	t[primEvaluateEnforced] = (*Interpreter).primitiveEvaluateEnforced

	t[primDomainReadField] = (*Interpreter).primitiveDomainReadField
	t[primDomainWriteField] = (*Interpreter).primitiveDomainWriteField
	t[primDomainWriteFieldWithReturn] = (*Interpreter).primitiveDomainWriteFieldWithReturn
	t[primDomainReadLiteral] = (*Interpreter).primitiveDomainReadLiteral
	t[primDomainWriteLiteral] = (*Interpreter).primitiveDomainWriteLiteral
	t[primDomainPrimAt] = (*Interpreter).primitiveDomainPrimAt
	t[primDomainPrimAtPut] = (*Interpreter).primitiveDomainPrimAtPut
	t[primDomainPrimShallowCopy] = (*Interpreter).primitiveDomainPrimShallowCopy
	t[primDomainPrimNext] = (*Interpreter).primitiveDomainPrimNext
	t[primDomainPrimNextPut] = (*Interpreter).primitiveDomainPrimNextPut
	t[primDomainPrimReplace] = (*Interpreter).primitiveDomainPrimReplace
	t[primDomainRequestExec] = (*Interpreter).primitiveDomainRequestExec
	t[primDomainRequestExecInLookupClass] = (*Interpreter).primitiveDomainRequestExecInLookupClass
}

func (i *Interpreter) primitiveFail() {
	i.successFlag = false
}

// ---------------------------------------------------------------------------
// SmallInteger
// ---------------------------------------------------------------------------

func integerArithmetic(op func(a, b int64) (int64, bool)) func(*Interpreter) {
	return func(i *Interpreter) {
		rcvr, arg := i.stackValue(1), i.stackValue(0)
		if !AreIntegers(rcvr, arg) {
			i.primitiveFail()
			return
		}
		r, ok := op(rcvr.IntValue(), arg.IntValue())
		if !ok || !IsIntegerValue(r) {
			i.primitiveFail()
			return
		}
		i.popThenPush(2, FromInt(r))
	}
}

func integerComparison(cmp func(a, b int64) bool) func(*Interpreter) {
	return func(i *Interpreter) {
		rcvr, arg := i.stackValue(1), i.stackValue(0)
		if !AreIntegers(rcvr, arg) {
			i.primitiveFail()
			return
		}
		i.popThenPush(2, i.vm.Bool(cmp(rcvr.IntValue(), arg.IntValue())))
	}
}

// primitiveMakePoint answers rcvr@arg for numeric operands.
func (i *Interpreter) primitiveMakePoint() {
	x, y := i.stackValue(1), i.stackValue(0)
	if _, ok := i.vm.floatOrInt(x); !ok {
		i.primitiveFail()
		return
	}
	if _, ok := i.vm.floatOrInt(y); !ok {
		i.primitiveFail()
		return
	}
	pt := i.allocate(i.vm.Special.PointClass, 0, 0)
	pt.storePointerUnchecked(PointXIndex, x)
	pt.storePointerUnchecked(PointYIndex, y)
	i.popThenPush(2, pt.self)
}

// ---------------------------------------------------------------------------
// Float
// ---------------------------------------------------------------------------

// floatOrInt loads a SmallInteger or boxed Float as a float64.
func (vm *VM) floatOrInt(oop Oop) (float64, bool) {
	if oop.IsInt() {
		return float64(oop.IntValue()), true
	}
	obj := vm.Heap.Object(oop)
	if obj == nil || obj.format != FormatFloat {
		return 0, false
	}
	return obj.FloatValue(), true
}

// newFloat boxes v. May allocate.
func (i *Interpreter) newFloat(v float64) Oop {
	obj := i.allocate(i.vm.Special.FloatClass, 0, 8)
	binary.LittleEndian.PutUint64(obj.bytes, math.Float64bits(v))
	return obj.self
}

func floatArithmetic(op func(a, b float64) (float64, bool)) func(*Interpreter) {
	return func(i *Interpreter) {
		a, okA := i.vm.floatOrInt(i.stackValue(1))
		b, okB := i.vm.floatOrInt(i.stackValue(0))
		if !okA || !okB {
			i.primitiveFail()
			return
		}
		r, ok := op(a, b)
		if !ok {
			i.primitiveFail()
			return
		}
		i.popThenPush(2, i.newFloat(r))
	}
}

func floatComparison(cmp func(a, b float64) bool) func(*Interpreter) {
	return func(i *Interpreter) {
		a, okA := i.vm.floatOrInt(i.stackValue(1))
		b, okB := i.vm.floatOrInt(i.stackValue(0))
		if !okA || !okB {
			i.primitiveFail()
			return
		}
		i.popThenPush(2, i.vm.Bool(cmp(a, b)))
	}
}

func (i *Interpreter) primitiveAsFloat() {
	rcvr := i.stackTop()
	if !rcvr.IsInt() {
		i.primitiveFail()
		return
	}
	i.popThenPush(1, i.newFloat(float64(rcvr.IntValue())))
}

func (i *Interpreter) primitiveTruncated() {
	f, ok := i.vm.floatOrInt(i.stackTop())
	t := math.Trunc(f)
	if !ok || math.IsNaN(f) || t < float64(MinSmallInt) || t > float64(MaxSmallInt) {
		i.primitiveFail()
		return
	}
	i.popThenPush(1, FromInt(int64(t)))
}

// ---------------------------------------------------------------------------
// Unrecoverable conditions
// ---------------------------------------------------------------------------

func (i *Interpreter) primitivePrimitiveFailed() {
	i.fatal(fmt.Sprintf("primitive failed in %s with no fallback", i.vm.ClassNameOf(i.stackTop())))
}

func (i *Interpreter) primitiveCannotReturn() {
	i.fatal("cannot return: home context has returned")
}

func (i *Interpreter) primitiveMustBeBoolean() {
	i.fatal(fmt.Sprintf("conditional jump on non-boolean %s", i.vm.ClassNameOf(i.stackTop())))
}
