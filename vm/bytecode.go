package vm

import "fmt"

// ---------------------------------------------------------------------------
// Bytecode set
// ---------------------------------------------------------------------------

// Bytecode is one byte of the Squeak V3 + closures instruction set. Ranged
// forms carry their operand in the low bits of the opcode; extended forms
// read one to three operand bytes that follow.
type Bytecode byte

// First opcode of each form.
const (
	BcPushReceiverVariable         Bytecode = 0   // 0-15
	BcPushTemporaryVariable        Bytecode = 16  // 16-31
	BcPushLiteralConstant          Bytecode = 32  // 32-63
	BcPushLiteralVariable          Bytecode = 64  // 64-95
	BcStoreAndPopReceiverVariable  Bytecode = 96  // 96-103
	BcStoreAndPopTemporaryVariable Bytecode = 104 // 104-111

	BcPushReceiver Bytecode = 112
	BcPushTrue     Bytecode = 113
	BcPushFalse    Bytecode = 114
	BcPushNil      Bytecode = 115
	BcPushMinusOne Bytecode = 116
	BcPushZero     Bytecode = 117
	BcPushOne      Bytecode = 118
	BcPushTwo      Bytecode = 119

	BcReturnReceiver Bytecode = 120
	BcReturnTrue     Bytecode = 121
	BcReturnFalse    Bytecode = 122
	BcReturnNil      Bytecode = 123
	BcReturnTop      Bytecode = 124
	BcBlockReturnTop Bytecode = 125

	BcExtendedPush              Bytecode = 128
	BcExtendedStore             Bytecode = 129
	BcExtendedStoreAndPop       Bytecode = 130
	BcSingleExtendedSend        Bytecode = 131
	BcDoubleExtendedDoAnything  Bytecode = 132
	BcSingleExtendedSuper       Bytecode = 133
	BcSecondExtendedSend        Bytecode = 134
	BcPopStack                  Bytecode = 135
	BcDuplicateTop              Bytecode = 136
	BcPushActiveContext         Bytecode = 137
	BcPushNewArray              Bytecode = 138
	BcPushRemoteTemp            Bytecode = 140
	BcStoreRemoteTemp           Bytecode = 141
	BcStoreAndPopRemoteTemp     Bytecode = 142
	BcPushClosureCopyCopiedVals Bytecode = 143

	BcShortJump        Bytecode = 144 // 144-151
	BcShortJumpIfFalse Bytecode = 152 // 152-159
	BcLongJump         Bytecode = 160 // 160-167
	BcLongJumpIfTrue   Bytecode = 168 // 168-171
	BcLongJumpIfFalse  Bytecode = 172 // 172-175

	BcSpecialSend  Bytecode = 176 // 176-207
	BcSendLiteral0 Bytecode = 208 // 208-223
	BcSendLiteral1 Bytecode = 224 // 224-239
	BcSendLiteral2 Bytecode = 240 // 240-255
)

// Operation kinds of the double extended do-anything bytecode (132).
const (
	DxSend = iota
	DxSuperSend
	DxPushReceiverVariable
	DxPushLiteralConstant
	DxPushLiteralVariable
	DxStoreReceiverVariable
	DxStoreAndPopReceiverVariable
	DxStoreLiteralVariable
)

// Location kinds of the extended push/store bytecodes (128-130).
const (
	ExtReceiverVariable = iota
	ExtTemporaryVariable
	ExtLiteralConstant
	ExtLiteralVariable
)

// SpecialSelector describes one of the 32 selectors sent by 176-207.
type SpecialSelector struct {
	Name    string
	NumArgs int
}

// SpecialSelectors is indexed by bytecode-176.
var SpecialSelectors = [32]SpecialSelector{
	{"+", 1}, {"-", 1}, {"<", 1}, {">", 1},
	{"<=", 1}, {">=", 1}, {"=", 1}, {"~=", 1},
	{"*", 1}, {"/", 1}, {"\\\\", 1}, {"@", 1},
	{"bitShift:", 1}, {"//", 1}, {"bitAnd:", 1}, {"bitOr:", 1},
	{"at:", 1}, {"at:put:", 2}, {"size", 0}, {"next", 0},
	{"nextPut:", 1}, {"atEnd", 0}, {"==", 1}, {"class", 0},
	{"blockCopy:", 1}, {"value", 0}, {"value:", 1}, {"do:", 1},
	{"new", 0}, {"new:", 1}, {"x", 0}, {"y", 0},
}

// Indices into SpecialSelectors used by the handlers.
const (
	SpecialAdd = iota
	SpecialSubtract
	SpecialLessThan
	SpecialGreaterThan
	SpecialLessOrEqual
	SpecialGreaterOrEqual
	SpecialEqual
	SpecialNotEqual
	SpecialMultiply
	SpecialDivide
	SpecialMod
	SpecialMakePoint
	SpecialBitShift
	SpecialDiv
	SpecialBitAnd
	SpecialBitOr
	SpecialAt
	SpecialAtPut
	SpecialSize
	SpecialNext
	SpecialNextPut
	SpecialAtEnd
	SpecialEquivalent
	SpecialClass
	SpecialBlockCopy
	SpecialValue
	SpecialValueWithArg
	SpecialDo
	SpecialNew
	SpecialNewWithArg
	SpecialPointX
	SpecialPointY
)

// ---------------------------------------------------------------------------
// Bytecode metadata
// ---------------------------------------------------------------------------

// BytecodeInfo holds metadata about one opcode.
type BytecodeInfo struct {
	Name     string
	Length   int  // opcode plus operand bytes
	Effect   int  // net stack effect, when fixed
	Variable bool // effect depends on operand bytes
	Returns  bool // ends the frame
	Unknown  bool
}

var bytecodeTable [256]BytecodeInfo

func init() {
	set := func(from, to int, info BytecodeInfo) {
		for b := from; b <= to; b++ {
			bytecodeTable[b] = info
		}
	}
	set(0, 255, BytecodeInfo{Name: "unknown", Length: 1, Unknown: true})

	set(0, 15, BytecodeInfo{Name: "pushRcvr", Length: 1, Effect: 1})
	set(16, 31, BytecodeInfo{Name: "pushTemp", Length: 1, Effect: 1})
	set(32, 63, BytecodeInfo{Name: "pushConst", Length: 1, Effect: 1})
	set(64, 95, BytecodeInfo{Name: "pushLitVar", Length: 1, Effect: 1})
	set(96, 103, BytecodeInfo{Name: "popIntoRcvr", Length: 1, Effect: -1})
	set(104, 111, BytecodeInfo{Name: "popIntoTemp", Length: 1, Effect: -1})

	for b, name := range []string{"self", "true", "false", "nil", "-1", "0", "1", "2"} {
		bytecodeTable[112+b] = BytecodeInfo{Name: "push " + name, Length: 1, Effect: 1}
	}
	for b, name := range []string{"returnSelf", "returnTrue", "returnFalse", "returnNil", "returnTop", "blockReturnTop"} {
		bytecodeTable[120+b] = BytecodeInfo{Name: name, Length: 1, Returns: true}
	}

	bytecodeTable[128] = BytecodeInfo{Name: "extendedPush", Length: 2, Effect: 1}
	bytecodeTable[129] = BytecodeInfo{Name: "extendedStore", Length: 2, Effect: 0}
	bytecodeTable[130] = BytecodeInfo{Name: "extendedStoreAndPop", Length: 2, Effect: -1}
	bytecodeTable[131] = BytecodeInfo{Name: "singleExtendedSend", Length: 2, Variable: true}
	bytecodeTable[132] = BytecodeInfo{Name: "doubleExtendedDoAnything", Length: 3, Variable: true}
	bytecodeTable[133] = BytecodeInfo{Name: "singleExtendedSuper", Length: 2, Variable: true}
	bytecodeTable[134] = BytecodeInfo{Name: "secondExtendedSend", Length: 2, Variable: true}
	bytecodeTable[135] = BytecodeInfo{Name: "pop", Length: 1, Effect: -1}
	bytecodeTable[136] = BytecodeInfo{Name: "dup", Length: 1, Effect: 1}
	bytecodeTable[137] = BytecodeInfo{Name: "pushThisContext", Length: 1, Effect: 1}
	bytecodeTable[138] = BytecodeInfo{Name: "pushNewArray", Length: 2, Variable: true}
	bytecodeTable[140] = BytecodeInfo{Name: "pushRemoteTemp", Length: 3, Effect: 1}
	bytecodeTable[141] = BytecodeInfo{Name: "storeRemoteTemp", Length: 3, Effect: 0}
	bytecodeTable[142] = BytecodeInfo{Name: "popIntoRemoteTemp", Length: 3, Effect: -1}
	bytecodeTable[143] = BytecodeInfo{Name: "closure", Length: 4, Variable: true}

	set(144, 151, BytecodeInfo{Name: "jump", Length: 1, Effect: 0})
	set(152, 159, BytecodeInfo{Name: "jumpFalse", Length: 1, Effect: -1})
	set(160, 167, BytecodeInfo{Name: "longJump", Length: 2, Effect: 0})
	set(168, 171, BytecodeInfo{Name: "longJumpTrue", Length: 2, Effect: -1})
	set(172, 175, BytecodeInfo{Name: "longJumpFalse", Length: 2, Effect: -1})

	for i, sel := range SpecialSelectors {
		bytecodeTable[176+i] = BytecodeInfo{Name: "send " + sel.Name, Length: 1, Effect: -sel.NumArgs}
	}
	set(208, 223, BytecodeInfo{Name: "send", Length: 1, Effect: 0})
	set(224, 239, BytecodeInfo{Name: "send", Length: 1, Effect: -1})
	set(240, 255, BytecodeInfo{Name: "send", Length: 1, Effect: -2})
}

// Info returns the metadata for b.
func (b Bytecode) Info() BytecodeInfo {
	return bytecodeTable[b]
}

// Length returns the number of bytes b occupies, operands included.
func (b Bytecode) Length() int {
	return bytecodeTable[b].Length
}

func (b Bytecode) String() string {
	if bytecodeTable[b].Unknown {
		return fmt.Sprintf("unknown_%d", byte(b))
	}
	return bytecodeTable[b].Name
}

// StackEffect returns the net change in operand stack depth caused by the
// instruction at code[pc]. ok is false for returns, which end the frame, and
// for unknown bytecodes.
func StackEffect(code []byte, pc int) (effect int, ok bool) {
	b := Bytecode(code[pc])
	info := bytecodeTable[b]
	if info.Returns || info.Unknown {
		return 0, false
	}
	if !info.Variable {
		return info.Effect, true
	}
	switch b {
	case BcSingleExtendedSend, BcSingleExtendedSuper:
		return -int(code[pc+1] >> 5), true
	case BcSecondExtendedSend:
		return -int(code[pc+1] >> 6), true
	case BcDoubleExtendedDoAnything:
		switch code[pc+1] >> 5 {
		case DxSend, DxSuperSend:
			return -int(code[pc+1] & 31), true
		case DxPushReceiverVariable, DxPushLiteralConstant, DxPushLiteralVariable:
			return 1, true
		case DxStoreReceiverVariable, DxStoreLiteralVariable:
			return 0, true
		case DxStoreAndPopReceiverVariable:
			return -1, true
		}
	case BcPushNewArray:
		if size := int(code[pc+1]); size > 127 {
			return 1 - (size & 127), true
		}
		return 1, true
	case BcPushClosureCopyCopiedVals:
		return 1 - int(code[pc+1]>>4), true
	}
	return 0, false
}

// LiteralIndexAt returns the index of the literal referenced by the
// instruction at code[pc], or -1 if it references none.
func LiteralIndexAt(code []byte, pc int) int {
	b := Bytecode(code[pc])
	switch {
	case b >= BcPushLiteralConstant && b < BcStoreAndPopReceiverVariable:
		return int(b & 0x1f)
	case b >= BcSendLiteral0:
		return int(b & 0xf)
	}
	switch b {
	case BcExtendedPush:
		if k := code[pc+1] >> 6; k == ExtLiteralConstant || k == ExtLiteralVariable {
			return int(code[pc+1] & 63)
		}
	case BcExtendedStore, BcExtendedStoreAndPop:
		if code[pc+1]>>6 == ExtLiteralVariable {
			return int(code[pc+1] & 63)
		}
	case BcSingleExtendedSend, BcSingleExtendedSuper:
		return int(code[pc+1] & 0x1f)
	case BcSecondExtendedSend:
		return int(code[pc+1] & 0x3f)
	case BcDoubleExtendedDoAnything:
		switch code[pc+1] >> 5 {
		case DxSend, DxSuperSend, DxPushLiteralConstant, DxPushLiteralVariable, DxStoreLiteralVariable:
			return int(code[pc+2])
		}
	}
	return -1
}

// longJumpOffset decodes the offset of a 160-167 jump.
func longJumpOffset(b, ext byte) int {
	return (int(b&7)-4)*256 + int(ext)
}

// longCondJumpOffset decodes the offset of a 168-175 jump.
func longCondJumpOffset(b, ext byte) int {
	return int(b&3)*256 + int(ext)
}
