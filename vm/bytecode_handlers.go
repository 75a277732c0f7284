package vm

import "fmt"

// bytecodeHandlers is the dispatch table of the interpreter loop.
var bytecodeHandlers [256]func(*Interpreter)

func init() {
	set := func(from, to int, h func(*Interpreter)) {
		for b := from; b <= to; b++ {
			bytecodeHandlers[b] = h
		}
	}
	set(0, 255, (*Interpreter).unknownBytecode)

	set(0, 15, (*Interpreter).pushReceiverVariableBytecode)
	set(16, 31, (*Interpreter).pushTemporaryVariableBytecode)
	set(32, 63, (*Interpreter).pushLiteralConstantBytecode)
	set(64, 95, (*Interpreter).pushLiteralVariableBytecode)
	set(96, 103, (*Interpreter).storeAndPopReceiverVariableBytecode)
	set(104, 111, (*Interpreter).storeAndPopTemporaryVariableBytecode)

	bytecodeHandlers[112] = (*Interpreter).pushReceiverBytecode
	bytecodeHandlers[113] = (*Interpreter).pushConstantTrueBytecode
	bytecodeHandlers[114] = (*Interpreter).pushConstantFalseBytecode
	bytecodeHandlers[115] = (*Interpreter).pushConstantNilBytecode
	set(116, 119, (*Interpreter).pushConstantIntegerBytecode)

	bytecodeHandlers[120] = (*Interpreter).returnReceiver
	bytecodeHandlers[121] = (*Interpreter).returnTrue
	bytecodeHandlers[122] = (*Interpreter).returnFalse
	bytecodeHandlers[123] = (*Interpreter).returnNil
	bytecodeHandlers[124] = (*Interpreter).returnTopFromMethod
	bytecodeHandlers[125] = (*Interpreter).returnTopFromBlock

	bytecodeHandlers[128] = (*Interpreter).extendedPushBytecode
	bytecodeHandlers[129] = (*Interpreter).extendedStoreBytecode
	bytecodeHandlers[130] = (*Interpreter).extendedStoreAndPopBytecode
	bytecodeHandlers[131] = (*Interpreter).singleExtendedSendBytecode
	bytecodeHandlers[132] = (*Interpreter).doubleExtendedDoAnythingBytecode
	bytecodeHandlers[133] = (*Interpreter).singleExtendedSuperBytecode
	bytecodeHandlers[134] = (*Interpreter).secondExtendedSendBytecode
	bytecodeHandlers[135] = (*Interpreter).popStackBytecode
	bytecodeHandlers[136] = (*Interpreter).duplicateTopBytecode
	bytecodeHandlers[137] = (*Interpreter).pushActiveContextBytecode
	bytecodeHandlers[138] = (*Interpreter).pushNewArrayBytecode
	bytecodeHandlers[140] = (*Interpreter).pushRemoteTempLongBytecode
	bytecodeHandlers[141] = (*Interpreter).storeRemoteTempLongBytecode
	bytecodeHandlers[142] = (*Interpreter).storeAndPopRemoteTempLongBytecode
	bytecodeHandlers[143] = (*Interpreter).pushClosureCopyCopiedValuesBytecode

	set(144, 151, (*Interpreter).shortUnconditionalJump)
	set(152, 159, (*Interpreter).shortConditionalJump)
	set(160, 167, (*Interpreter).longUnconditionalJump)
	set(168, 171, (*Interpreter).longJumpIfTrue)
	set(172, 175, (*Interpreter).longJumpIfFalse)

	for n, h := range specialSelectorHandlers {
		bytecodeHandlers[176+n] = h
	}
	set(208, 255, (*Interpreter).sendLiteralSelectorBytecode)
}

func (i *Interpreter) unknownBytecode() {
	i.fatal(fmt.Sprintf("unknown bytecode %d", i.currentBytecode))
}

// ---------------------------------------------------------------------------
// Variable access helpers
// ---------------------------------------------------------------------------

// Association layout for literal variables.
const (
	AssociationKeyIndex = iota
	AssociationValueIndex
)

func (i *Interpreter) receiverObject() *Object {
	obj := i.vm.Heap.Object(i.receiver)
	if obj == nil {
		i.fatal("instance variable access on non-object receiver " + i.receiver.String())
	}
	return obj
}

func (i *Interpreter) fetchReceiverVariable(idx int) Oop {
	return i.receiverObject().FetchPointer(idx)
}

func (i *Interpreter) storeReceiverVariable(idx int, v Oop) {
	i.vm.Heap.StorePointer(i.receiverObject(), idx, v)
}

func (i *Interpreter) literalVariableValue(assoc Oop) Oop {
	obj := i.vm.Heap.Object(assoc)
	if obj == nil {
		i.fatal("literal variable is not an association")
	}
	return obj.FetchPointer(AssociationValueIndex)
}

func (i *Interpreter) storeLiteralVariable(assoc, v Oop) {
	obj := i.vm.Heap.Object(assoc)
	if obj == nil {
		i.fatal("literal variable is not an association")
	}
	i.vm.Heap.StorePointer(obj, AssociationValueIndex, v)
}

func (i *Interpreter) pushReceiverVariable(idx int) {
	if i.RequiresDelegation(i.receiver, MaskReadField) {
		i.omniReadField(i.receiver, idx)
		return
	}
	i.internalPush(i.fetchReceiverVariable(idx))
}

func (i *Interpreter) pushLiteralVariable(idx int) {
	assoc := i.literal(idx)
	if i.RequiresDelegationForLiterals(MaskReadLiteral) {
		i.omniReadLiteral(assoc)
		return
	}
	i.internalPush(i.literalVariableValue(assoc))
}

// storeReceiverVariableTop stores the top into field idx, leaving it on the
// stack.
func (i *Interpreter) storeReceiverVariableTop(idx int) {
	if i.RequiresDelegation(i.receiver, MaskWriteField) {
		value := i.internalStackTop()
		i.internalPop(1)
		i.omniWriteField(i.receiver, idx, value)
		return
	}
	i.storeReceiverVariable(idx, i.internalStackTop())
}

// storeAndPopReceiverVariable stores the top into field idx and pops it.
func (i *Interpreter) storeAndPopReceiverVariable(idx int) {
	if i.RequiresDelegation(i.receiver, MaskWriteField) {
		value, newTop := i.internalStackValue(0), i.internalStackValue(1)
		i.internalPop(2)
		i.omniWriteFieldWithReturn(i.receiver, idx, value, newTop)
		return
	}
	i.storeReceiverVariable(idx, i.internalStackTop())
	i.internalPop(1)
}

func (i *Interpreter) storeLiteralVariableTop(idx int, pop bool) {
	assoc := i.literal(idx)
	if i.RequiresDelegationForLiterals(MaskWriteLiteral) {
		value := i.internalStackTop()
		i.internalPop(1)
		i.omniWriteLiteral(assoc, value, pop)
		return
	}
	i.storeLiteralVariable(assoc, i.internalStackTop())
	if pop {
		i.internalPop(1)
	}
}

// ---------------------------------------------------------------------------
// Pushes and stores
// ---------------------------------------------------------------------------

func (i *Interpreter) pushReceiverVariableBytecode() {
	i.pushReceiverVariable(int(i.currentBytecode & 0xf))
}

func (i *Interpreter) pushTemporaryVariableBytecode() {
	i.internalPush(i.temporary(int(i.currentBytecode & 0xf)))
}

func (i *Interpreter) pushLiteralConstantBytecode() {
	i.internalPush(i.literal(int(i.currentBytecode & 0x1f)))
}

func (i *Interpreter) pushLiteralVariableBytecode() {
	i.pushLiteralVariable(int(i.currentBytecode & 0x1f))
}

func (i *Interpreter) storeAndPopReceiverVariableBytecode() {
	i.storeAndPopReceiverVariable(int(i.currentBytecode & 7))
}

func (i *Interpreter) storeAndPopTemporaryVariableBytecode() {
	i.setTemporary(int(i.currentBytecode&7), i.internalStackTop())
	i.internalPop(1)
}

func (i *Interpreter) pushReceiverBytecode()      { i.internalPush(i.receiver) }
func (i *Interpreter) pushConstantTrueBytecode()  { i.internalPush(i.vm.Special.True) }
func (i *Interpreter) pushConstantFalseBytecode() { i.internalPush(i.vm.Special.False) }
func (i *Interpreter) pushConstantNilBytecode()   { i.internalPush(i.vm.Special.Nil) }

// pushConstantIntegerBytecode pushes -1, 0, 1 or 2.
func (i *Interpreter) pushConstantIntegerBytecode() {
	i.internalPush(FromInt(int64(i.currentBytecode) - 117))
}

func (i *Interpreter) extendedPushBytecode() {
	d := i.fetchByte()
	idx := int(d & 63)
	switch d >> 6 {
	case ExtReceiverVariable:
		i.pushReceiverVariable(idx)
	case ExtTemporaryVariable:
		i.internalPush(i.temporary(idx))
	case ExtLiteralConstant:
		i.internalPush(i.literal(idx))
	case ExtLiteralVariable:
		i.pushLiteralVariable(idx)
	}
}

func (i *Interpreter) extendedStoreBytecode() {
	d := i.fetchByte()
	idx := int(d & 63)
	switch d >> 6 {
	case ExtReceiverVariable:
		i.storeReceiverVariableTop(idx)
	case ExtTemporaryVariable:
		i.setTemporary(idx, i.internalStackTop())
	case ExtLiteralConstant:
		i.fatal("illegal store into a literal constant")
	case ExtLiteralVariable:
		i.storeLiteralVariableTop(idx, false)
	}
}

func (i *Interpreter) extendedStoreAndPopBytecode() {
	d := i.fetchByte()
	idx := int(d & 63)
	switch d >> 6 {
	case ExtReceiverVariable:
		i.storeAndPopReceiverVariable(idx)
	case ExtTemporaryVariable:
		i.setTemporary(idx, i.internalStackTop())
		i.internalPop(1)
	case ExtLiteralConstant:
		i.fatal("illegal store into a literal constant")
	case ExtLiteralVariable:
		i.storeLiteralVariableTop(idx, true)
	}
}

func (i *Interpreter) popStackBytecode() {
	i.internalPop(1)
}

func (i *Interpreter) duplicateTopBytecode() {
	i.internalPush(i.internalStackTop())
}

func (i *Interpreter) pushActiveContextBytecode() {
	i.externalizeExecutionState()
	a := i.safepointAbility(true)
	ctx := i.activeContext()
	a.Release()
	i.internalizeExecutionState()
	i.reclaimableContextCount = 0
	i.internalPush(ctx)
}

// ---------------------------------------------------------------------------
// Remote temporaries
// ---------------------------------------------------------------------------

func (i *Interpreter) remoteTempVector() (*Object, int) {
	idx := int(i.fetchByte())
	vector := i.vm.Heap.Object(i.temporary(int(i.fetchByte())))
	if vector == nil {
		i.fatal("remote temp vector is not an object")
	}
	return vector, idx
}

func (i *Interpreter) pushRemoteTempLongBytecode() {
	vector, idx := i.remoteTempVector()
	i.internalPush(vector.FetchPointer(idx))
}

func (i *Interpreter) storeRemoteTempLongBytecode() {
	vector, idx := i.remoteTempVector()
	i.vm.Heap.StorePointer(vector, idx, i.internalStackTop())
}

func (i *Interpreter) storeAndPopRemoteTempLongBytecode() {
	i.storeRemoteTempLongBytecode()
	i.internalPop(1)
}

// ---------------------------------------------------------------------------
// Sends
// ---------------------------------------------------------------------------

func (i *Interpreter) singleExtendedSendBytecode() {
	d := i.fetchByte()
	i.messageSelector = i.literal(int(d & 0x1f))
	i.argumentCount = int(d >> 5)
	i.sendWithDelegationCheck()
}

func (i *Interpreter) singleExtendedSuperBytecode() {
	d := i.fetchByte()
	i.messageSelector = i.literal(int(d & 0x1f))
	i.argumentCount = int(d >> 5)
	i.superclassSend()
}

func (i *Interpreter) secondExtendedSendBytecode() {
	d := i.fetchByte()
	i.messageSelector = i.literal(int(d & 0x3f))
	i.argumentCount = int(d >> 6)
	i.sendWithDelegationCheck()
}

func (i *Interpreter) sendLiteralSelectorBytecode() {
	b := i.currentBytecode
	i.messageSelector = i.literal(int(b & 0xf))
	i.argumentCount = int((b>>4)&3) - 1
	i.sendWithDelegationCheck()
}

func (i *Interpreter) doubleExtendedDoAnythingBytecode() {
	b2 := i.fetchByte()
	b3 := int(i.fetchByte())
	switch b2 >> 5 {
	case DxSend:
		i.messageSelector = i.literal(b3)
		i.argumentCount = int(b2 & 31)
		i.sendWithDelegationCheck()
	case DxSuperSend:
		i.messageSelector = i.literal(b3)
		i.argumentCount = int(b2 & 31)
		i.superclassSend()
	case DxPushReceiverVariable:
		i.pushReceiverVariable(b3)
	case DxPushLiteralConstant:
		i.internalPush(i.literal(b3))
	case DxPushLiteralVariable:
		i.pushLiteralVariable(b3)
	case DxStoreReceiverVariable:
		i.storeReceiverVariableTop(b3)
	case DxStoreAndPopReceiverVariable:
		i.storeAndPopReceiverVariable(b3)
	case DxStoreLiteralVariable:
		i.storeLiteralVariableTop(b3, false)
	}
}

// ---------------------------------------------------------------------------
// Returns
// ---------------------------------------------------------------------------

// methodReturn returns result from the home method. In a block this is a
// non-local return.
func (i *Interpreter) methodReturn(result Oop) {
	i.externalizeExecutionState()
	if i.frame.closure != NullOop {
		i.returnFromHome(result)
		return
	}
	i.commonReturn(result)
}

func (i *Interpreter) returnReceiver()      { i.methodReturn(i.receiver) }
func (i *Interpreter) returnTrue()          { i.methodReturn(i.vm.Special.True) }
func (i *Interpreter) returnFalse()         { i.methodReturn(i.vm.Special.False) }
func (i *Interpreter) returnNil()           { i.methodReturn(i.vm.Special.Nil) }
func (i *Interpreter) returnTopFromMethod() { i.methodReturn(i.internalStackTop()) }

// returnTopFromBlock returns the top to the block's caller.
func (i *Interpreter) returnTopFromBlock() {
	result := i.internalStackTop()
	i.externalizeExecutionState()
	i.commonReturn(result)
}

// ---------------------------------------------------------------------------
// Jumps
// ---------------------------------------------------------------------------

func (i *Interpreter) shortUnconditionalJump() {
	i.ip += int(i.currentBytecode&7) + 1
}

func (i *Interpreter) shortConditionalJump() {
	i.jumpIfFalseBy(int(i.currentBytecode&7) + 1)
}

func (i *Interpreter) longUnconditionalJump() {
	offset := longJumpOffset(i.currentBytecode, i.fetchByte())
	i.ip += offset
	if offset < 0 {
		i.externalizeExecutionState()
		i.checkForInterrupts()
		i.internalizeExecutionState()
	}
}

func (i *Interpreter) longJumpIfTrue() {
	i.jumpIfTrueBy(longCondJumpOffset(i.currentBytecode, i.fetchByte()))
}

func (i *Interpreter) longJumpIfFalse() {
	i.jumpIfFalseBy(longCondJumpOffset(i.currentBytecode, i.fetchByte()))
}

func (i *Interpreter) jumpIfFalseBy(offset int) {
	switch top := i.internalStackTop(); top {
	case i.vm.Special.False:
		i.ip += offset
		i.internalPop(1)
	case i.vm.Special.True:
		i.internalPop(1)
	default:
		i.sendMustBeBoolean()
	}
}

func (i *Interpreter) jumpIfTrueBy(offset int) {
	switch top := i.internalStackTop(); top {
	case i.vm.Special.True:
		i.ip += offset
		i.internalPop(1)
	case i.vm.Special.False:
		i.internalPop(1)
	default:
		i.sendMustBeBoolean()
	}
}

// sendMustBeBoolean sends #mustBeBoolean to the non-boolean on top. The jump
// is not taken.
func (i *Interpreter) sendMustBeBoolean() {
	i.messageSelector = i.vm.Special.SelectorMustBeBoolean
	i.argumentCount = 0
	i.normalSend()
}

// booleanCheat pushes the outcome of a comparison in place of its operands.
// When a conditional jump on false follows, the boolean is never
// materialized: the jump is taken or skipped directly.
func (i *Interpreter) booleanCheat(cond bool) {
	next := Bytecode(i.bytecodes[i.ip])
	switch {
	case next >= BcShortJumpIfFalse && next < BcLongJump:
		i.ip++
		i.internalPop(2)
		if !cond {
			i.ip += int(next&7) + 1
		}
	case next >= BcLongJumpIfFalse && next < BcSpecialSend:
		ext := i.bytecodes[i.ip+1]
		i.ip += 2
		i.internalPop(2)
		if !cond {
			i.ip += longCondJumpOffset(byte(next), ext)
		}
	default:
		i.internalPopThenPush(2, i.vm.Bool(cond))
	}
}
