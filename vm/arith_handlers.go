package vm

// Special selector bytecodes (176-207).
//
// Arithmetic falls back in three tiers: SmallInteger inline, then the Float
// primitive, then a real send. A SmallInteger result that overflows skips
// the Float tier and goes straight to the send, so it is never truncated.
// Delegation is checked before anything touches a non-integer receiver.

var specialSelectorHandlers = [32]func(*Interpreter){
	(*Interpreter).bytecodePrimAdd,
	(*Interpreter).bytecodePrimSubtract,
	(*Interpreter).bytecodePrimLessThan,
	(*Interpreter).bytecodePrimGreaterThan,
	(*Interpreter).bytecodePrimLessOrEqual,
	(*Interpreter).bytecodePrimGreaterOrEqual,
	(*Interpreter).bytecodePrimEqual,
	(*Interpreter).bytecodePrimNotEqual,
	(*Interpreter).bytecodePrimMultiply,
	(*Interpreter).bytecodePrimDivide,
	(*Interpreter).bytecodePrimMod,
	(*Interpreter).bytecodePrimMakePoint,
	(*Interpreter).bytecodePrimBitShift,
	(*Interpreter).bytecodePrimDiv,
	(*Interpreter).bytecodePrimBitAnd,
	(*Interpreter).bytecodePrimBitOr,
	(*Interpreter).bytecodePrimAt,
	(*Interpreter).bytecodePrimAtPut,
	(*Interpreter).bytecodePrimSize,
	(*Interpreter).bytecodePrimNext,
	(*Interpreter).bytecodePrimNextPut,
	(*Interpreter).bytecodePrimAtEnd,
	(*Interpreter).bytecodePrimEquivalent,
	(*Interpreter).bytecodePrimClass,
	(*Interpreter).bytecodePrimBlockCopy,
	(*Interpreter).bytecodePrimValue,
	(*Interpreter).bytecodePrimValueWithArg,
	(*Interpreter).bytecodePrimDo,
	(*Interpreter).bytecodePrimNew,
	(*Interpreter).bytecodePrimNewWithArg,
	(*Interpreter).bytecodePrimPointX,
	(*Interpreter).bytecodePrimPointY,
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// arithmetic runs the three-tier fallback for special selector n. op
// reports false if the integer tier does not apply to its operands.
func (i *Interpreter) arithmetic(n int, op func(a, b int64) (int64, bool), floatPrim int) {
	rcvr, arg := i.internalStackValue(1), i.internalStackValue(0)
	delegate := false
	if AreIntegers(rcvr, arg) {
		if r, ok := op(rcvr.IntValue(), arg.IntValue()); ok && IsIntegerValue(r) {
			i.internalPopThenPush(2, FromInt(r))
			return
		}
	} else {
		delegate = i.RequiresDelegation(rcvr, MaskRequestExecution)
		if !delegate && i.tryPrimitive(floatPrim, 1) {
			return
		}
	}
	i.specialSend(n, delegate)
}

func (i *Interpreter) bytecodePrimAdd() {
	i.arithmetic(SpecialAdd, func(a, b int64) (int64, bool) { return a + b, true }, primFloatAdd)
}

func (i *Interpreter) bytecodePrimSubtract() {
	i.arithmetic(SpecialSubtract, func(a, b int64) (int64, bool) { return a - b, true }, primFloatSubtract)
}

func (i *Interpreter) bytecodePrimMultiply() {
	i.arithmetic(SpecialMultiply, func(a, b int64) (int64, bool) { return a * b, true }, primFloatMultiply)
}

func (i *Interpreter) bytecodePrimDivide() {
	i.arithmetic(SpecialDivide, exactQuotient, primFloatDivide)
}

// exactQuotient divides only when the result is an integer.
func exactQuotient(a, b int64) (int64, bool) {
	if b == 0 || a%b != 0 {
		return 0, false
	}
	return a / b, true
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// comparison pushes a boolean (or takes the following jump) for special
// selector n.
func (i *Interpreter) comparison(n int, intCmp func(a, b int64) bool, floatCmp func(a, b float64) bool) {
	rcvr, arg := i.internalStackValue(1), i.internalStackValue(0)
	if AreIntegers(rcvr, arg) {
		i.booleanCheat(intCmp(rcvr.IntValue(), arg.IntValue()))
		return
	}
	delegate := i.RequiresDelegation(rcvr, MaskRequestExecution)
	if !delegate {
		a, okA := i.vm.floatOrInt(rcvr)
		b, okB := i.vm.floatOrInt(arg)
		if okA && okB {
			i.booleanCheat(floatCmp(a, b))
			return
		}
	}
	i.specialSend(n, delegate)
}

func (i *Interpreter) bytecodePrimLessThan() {
	i.comparison(SpecialLessThan, func(a, b int64) bool { return a < b }, func(a, b float64) bool { return a < b })
}

func (i *Interpreter) bytecodePrimGreaterThan() {
	i.comparison(SpecialGreaterThan, func(a, b int64) bool { return a > b }, func(a, b float64) bool { return a > b })
}

func (i *Interpreter) bytecodePrimLessOrEqual() {
	i.comparison(SpecialLessOrEqual, func(a, b int64) bool { return a <= b }, func(a, b float64) bool { return a <= b })
}

func (i *Interpreter) bytecodePrimGreaterOrEqual() {
	i.comparison(SpecialGreaterOrEqual, func(a, b int64) bool { return a >= b }, func(a, b float64) bool { return a >= b })
}

func (i *Interpreter) bytecodePrimEqual() {
	i.comparison(SpecialEqual, func(a, b int64) bool { return a == b }, func(a, b float64) bool { return a == b })
}

func (i *Interpreter) bytecodePrimNotEqual() {
	i.comparison(SpecialNotEqual, func(a, b int64) bool { return a != b }, func(a, b float64) bool { return a != b })
}

// ---------------------------------------------------------------------------
// Integer division and bit operations
// ---------------------------------------------------------------------------

// integerOrSend answers op's result for SmallInteger operands, else sends
// special selector n.
func (i *Interpreter) integerOrSend(n int, op func(a, b int64) (int64, bool)) {
	rcvr, arg := i.internalStackValue(1), i.internalStackValue(0)
	if AreIntegers(rcvr, arg) {
		if r, ok := op(rcvr.IntValue(), arg.IntValue()); ok && IsIntegerValue(r) {
			i.internalPopThenPush(2, FromInt(r))
			return
		}
	}
	i.specialSendWithDelegationCheck(n)
}

func (i *Interpreter) bytecodePrimMod()      { i.integerOrSend(SpecialMod, floorMod) }
func (i *Interpreter) bytecodePrimDiv()      { i.integerOrSend(SpecialDiv, floorDiv) }
func (i *Interpreter) bytecodePrimBitShift() { i.integerOrSend(SpecialBitShift, bitShift) }

func (i *Interpreter) bytecodePrimBitAnd() {
	i.integerOrSend(SpecialBitAnd, func(a, b int64) (int64, bool) { return a & b, true })
}

func (i *Interpreter) bytecodePrimBitOr() {
	i.integerOrSend(SpecialBitOr, func(a, b int64) (int64, bool) { return a | b, true })
}

// floorMod is \\: the remainder takes the sign of the divisor.
func floorMod(a, b int64) (int64, bool) {
	if b == 0 {
		return 0, false
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r, true
}

// floorDiv is //: the quotient rounds toward negative infinity.
func floorDiv(a, b int64) (int64, bool) {
	if b == 0 {
		return 0, false
	}
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q, true
}

func bitShift(a, shift int64) (int64, bool) {
	if shift >= 0 {
		if a == 0 {
			return 0, true
		}
		if shift > 31 {
			return 0, false
		}
		r := a << shift
		if r>>shift != a {
			return 0, false
		}
		return r, true
	}
	if shift < -63 {
		shift = -63
	}
	return a >> -shift, true
}

func (i *Interpreter) bytecodePrimMakePoint() {
	if i.tryPrimitive(primMakePoint, 1) {
		return
	}
	i.specialSendWithDelegationCheck(SpecialMakePoint)
}

// ---------------------------------------------------------------------------
// Indexed access
// ---------------------------------------------------------------------------

func (i *Interpreter) bytecodePrimAt() {
	index, rcvr := i.internalStackValue(0), i.internalStackValue(1)
	delegate := i.RequiresDelegation(rcvr, MaskRequestExecution)
	if !delegate && rcvr.IsMem() && index.IsInt() {
		if i.RequiresDelegation(rcvr, MaskPrimAt) {
			i.omniRequestPrimitiveAt(i.internalStack())
			return
		}
		if e := i.atCache.Entry(rcvr, false); e.Matches(rcvr) {
			if v, ok := i.commonVariableAt(rcvr, index.IntValue(), e); ok {
				i.internalPopThenPush(2, v)
				return
			}
		}
	}
	i.specialSend(SpecialAt, delegate)
}

func (i *Interpreter) bytecodePrimAtPut() {
	value, index, rcvr := i.internalStackValue(0), i.internalStackValue(1), i.internalStackValue(2)
	delegate := i.RequiresDelegation(rcvr, MaskRequestExecution)
	if !delegate && rcvr.IsMem() && index.IsInt() {
		if i.RequiresDelegation(rcvr, MaskPrimAtPut) {
			i.omniRequestPrimitiveAtPut(i.internalStack())
			return
		}
		if e := i.atCache.Entry(rcvr, true); e.Matches(rcvr) {
			if i.commonVariableAtPut(rcvr, index.IntValue(), value, e) {
				i.internalPopThenPush(3, value)
				return
			}
		}
	}
	i.specialSend(SpecialAtPut, delegate)
}

// commonVariableAt reads indexable slot index (1-based) of a receiver whose
// shape is in e. Bytes are answered as SmallIntegers.
func (i *Interpreter) commonVariableAt(rcvr Oop, index int64, e *AtCacheEntry) (Oop, bool) {
	if index < 1 || index > int64(e.Size) {
		return NullOop, false
	}
	obj := i.vm.Heap.Object(rcvr)
	if e.Format == FormatBytes {
		return FromInt(int64(obj.bytes[index-1])), true
	}
	return obj.fields[e.Fixed+int(index)-1], true
}

func (i *Interpreter) commonVariableAtPut(rcvr Oop, index int64, value Oop, e *AtCacheEntry) bool {
	if index < 1 || index > int64(e.Size) {
		return false
	}
	obj := i.vm.Heap.Object(rcvr)
	if i.isSymbol(obj) {
		return false
	}
	if e.Format == FormatBytes {
		if !value.IsInt() || value.IntValue() < 0 || value.IntValue() > 255 {
			return false
		}
		obj.bytes[index-1] = byte(value.IntValue())
		return true
	}
	i.vm.Heap.StorePointer(obj, e.Fixed+int(index)-1, value)
	return true
}

// isSymbol reports whether obj is an interned Symbol, whose bytes never
// change.
func (i *Interpreter) isSymbol(obj *Object) bool {
	return obj.class == i.vm.Special.SymbolClass.self
}

// ---------------------------------------------------------------------------
// Plain sends and identity
// ---------------------------------------------------------------------------

func (i *Interpreter) bytecodePrimSize()       { i.specialSendWithDelegationCheck(SpecialSize) }
func (i *Interpreter) bytecodePrimNext()       { i.specialSendWithDelegationCheck(SpecialNext) }
func (i *Interpreter) bytecodePrimNextPut()    { i.specialSendWithDelegationCheck(SpecialNextPut) }
func (i *Interpreter) bytecodePrimAtEnd()      { i.specialSendWithDelegationCheck(SpecialAtEnd) }
func (i *Interpreter) bytecodePrimDo()         { i.specialSendWithDelegationCheck(SpecialDo) }
func (i *Interpreter) bytecodePrimNew()        { i.specialSendWithDelegationCheck(SpecialNew) }
func (i *Interpreter) bytecodePrimNewWithArg() { i.specialSendWithDelegationCheck(SpecialNewWithArg) }

// bytecodePrimBlockCopy always sends: only closures are supported, so
// there is no inline block-context copy.
func (i *Interpreter) bytecodePrimBlockCopy() { i.specialSendWithDelegationCheck(SpecialBlockCopy) }

func (i *Interpreter) bytecodePrimEquivalent() {
	i.booleanCheat(i.internalStackValue(1) == i.internalStackValue(0))
}

func (i *Interpreter) bytecodePrimClass() {
	rcvr := i.internalStackTop()
	if i.RequiresDelegation(rcvr, MaskRequestExecution) {
		i.specialSend(SpecialClass, true)
		return
	}
	i.internalPopThenPush(1, i.vm.ClassOf(rcvr))
}

// ---------------------------------------------------------------------------
// Closures and points
// ---------------------------------------------------------------------------

func (i *Interpreter) bytecodePrimValue()        { i.commonValue(SpecialValue, 0) }
func (i *Interpreter) bytecodePrimValueWithArg() { i.commonValue(SpecialValueWithArg, 1) }

// commonValue activates a BlockClosure receiver directly, without a lookup.
func (i *Interpreter) commonValue(n, argc int) {
	rcvr := i.internalStackValue(argc)
	delegate := i.RequiresDelegation(rcvr, MaskRequestExecution)
	if !delegate && i.vm.ClassOf(rcvr) == i.vm.Special.BlockClosureClass.self {
		i.externalizeExecutionState()
		i.messageSelector = i.vm.Special.Selectors[n]
		i.argumentCount = argc
		i.successFlag = true
		i.primitiveClosureValue()
		if i.successFlag {
			i.checkForInterrupts()
			i.internalizeExecutionState()
			return
		}
		i.internalizeExecutionState()
	}
	i.specialSend(n, delegate)
}

func (i *Interpreter) bytecodePrimPointX() { i.pointAccess(SpecialPointX, PointXIndex) }
func (i *Interpreter) bytecodePrimPointY() { i.pointAccess(SpecialPointY, PointYIndex) }

func (i *Interpreter) pointAccess(n, field int) {
	rcvr := i.internalStackTop()
	delegate := i.RequiresDelegation(rcvr, MaskRequestExecution)
	if !delegate && i.vm.ClassOf(rcvr) == i.vm.Special.PointClass.self {
		i.internalPopThenPush(1, i.vm.Heap.Object(rcvr).FetchPointer(field))
		return
	}
	i.specialSend(n, delegate)
}
