package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// MethodBuilder: assembler for the bytecode set
// ---------------------------------------------------------------------------

// MethodBuilder assembles a CompiledMethod. Each emitter picks the shortest
// encoding its operands fit (short, extended, or double extended).
//
// Errors are sticky: the first out-of-range operand is reported by Build.
type MethodBuilder struct {
	vm        *VM
	code      []byte
	literals  []Oop
	numArgs   int
	numTemps  int
	primitive int
	large     bool
	pending   int // unresolved jump references
	err       error
}

// NewMethodBuilder starts a method with numArgs arguments and numTemps
// temporaries (arguments included).
func NewMethodBuilder(vm *VM, numArgs, numTemps int) *MethodBuilder {
	return &MethodBuilder{vm: vm, numArgs: numArgs, numTemps: numTemps}
}

// Primitive sets the primitive index.
func (b *MethodBuilder) Primitive(n int) *MethodBuilder {
	b.primitive = n
	return b
}

// LargeFrame requests a large context.
func (b *MethodBuilder) LargeFrame() *MethodBuilder {
	b.large = true
	return b
}

// Code returns the bytes emitted so far.
func (b *MethodBuilder) Code() []byte {
	return b.code
}

// Len returns the current offset.
func (b *MethodBuilder) Len() int {
	return len(b.code)
}

func (b *MethodBuilder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

func (b *MethodBuilder) emit(bytes ...byte) *MethodBuilder {
	b.code = append(b.code, bytes...)
	return b
}

// Literal adds oop to the literal frame, reusing an existing slot.
func (b *MethodBuilder) Literal(oop Oop) int {
	for i, lit := range b.literals {
		if lit == oop {
			return i
		}
	}
	b.literals = append(b.literals, oop)
	if len(b.literals) > 256 {
		b.fail("literal frame overflow")
	}
	return len(b.literals) - 1
}

// Symbol adds the interned symbol name to the literal frame.
func (b *MethodBuilder) Symbol(name string) int {
	return b.Literal(b.vm.Symbols.Intern(name))
}

// ---------------------------------------------------------------------------
// Pushes
// ---------------------------------------------------------------------------

func (b *MethodBuilder) PushSelf() *MethodBuilder  { return b.emit(byte(BcPushReceiver)) }
func (b *MethodBuilder) PushTrue() *MethodBuilder  { return b.emit(byte(BcPushTrue)) }
func (b *MethodBuilder) PushFalse() *MethodBuilder { return b.emit(byte(BcPushFalse)) }
func (b *MethodBuilder) PushNil() *MethodBuilder   { return b.emit(byte(BcPushNil)) }
func (b *MethodBuilder) Pop() *MethodBuilder       { return b.emit(byte(BcPopStack)) }
func (b *MethodBuilder) Dup() *MethodBuilder       { return b.emit(byte(BcDuplicateTop)) }

// PushThisContext pushes the active context.
func (b *MethodBuilder) PushThisContext() *MethodBuilder {
	return b.emit(byte(BcPushActiveContext))
}

// PushInt pushes a SmallInteger, using the constant bytecodes for -1..2.
func (b *MethodBuilder) PushInt(n int64) *MethodBuilder {
	if n >= -1 && n <= 2 {
		return b.emit(byte(BcPushZero) + byte(n))
	}
	oop, ok := TryFromInt(n)
	if !ok {
		b.fail("%d is not a SmallInteger", n)
		return b
	}
	return b.PushLiteral(oop)
}

// PushReceiverVariable pushes field i of self.
func (b *MethodBuilder) PushReceiverVariable(i int) *MethodBuilder {
	switch {
	case i < 16:
		return b.emit(byte(BcPushReceiverVariable) + byte(i))
	case i < 64:
		return b.emit(byte(BcExtendedPush), byte(ExtReceiverVariable<<6|i))
	case i < 256:
		return b.emit(byte(BcDoubleExtendedDoAnything), DxPushReceiverVariable<<5, byte(i))
	}
	b.fail("receiver variable %d out of range", i)
	return b
}

// PushTemp pushes temporary i.
func (b *MethodBuilder) PushTemp(i int) *MethodBuilder {
	switch {
	case i < 16:
		return b.emit(byte(BcPushTemporaryVariable) + byte(i))
	case i < 64:
		return b.emit(byte(BcExtendedPush), byte(ExtTemporaryVariable<<6|i))
	}
	b.fail("temporary %d out of range", i)
	return b
}

// PushLiteral pushes oop as a literal constant.
func (b *MethodBuilder) PushLiteral(oop Oop) *MethodBuilder {
	idx := b.Literal(oop)
	switch {
	case idx < 32:
		return b.emit(byte(BcPushLiteralConstant) + byte(idx))
	case idx < 64:
		return b.emit(byte(BcExtendedPush), byte(ExtLiteralConstant<<6|idx))
	}
	return b.emit(byte(BcDoubleExtendedDoAnything), DxPushLiteralConstant<<5, byte(idx))
}

// PushLiteralVariable pushes the value of an Association literal.
func (b *MethodBuilder) PushLiteralVariable(assoc Oop) *MethodBuilder {
	idx := b.Literal(assoc)
	switch {
	case idx < 32:
		return b.emit(byte(BcPushLiteralVariable) + byte(idx))
	case idx < 64:
		return b.emit(byte(BcExtendedPush), byte(ExtLiteralVariable<<6|idx))
	}
	return b.emit(byte(BcDoubleExtendedDoAnything), DxPushLiteralVariable<<5, byte(idx))
}

// PushNewArray pushes a new Array of size elements, popping them from the
// stack when pop is set.
func (b *MethodBuilder) PushNewArray(size int, pop bool) *MethodBuilder {
	if size > 127 {
		b.fail("array size %d out of range", size)
		return b
	}
	d := byte(size)
	if pop {
		d |= 0x80
	}
	return b.emit(byte(BcPushNewArray), d)
}

// ---------------------------------------------------------------------------
// Stores
// ---------------------------------------------------------------------------

// StoreReceiverVariable stores the top into field i of self without popping.
func (b *MethodBuilder) StoreReceiverVariable(i int) *MethodBuilder {
	switch {
	case i < 64:
		return b.emit(byte(BcExtendedStore), byte(ExtReceiverVariable<<6|i))
	case i < 256:
		return b.emit(byte(BcDoubleExtendedDoAnything), DxStoreReceiverVariable<<5, byte(i))
	}
	b.fail("receiver variable %d out of range", i)
	return b
}

// PopIntoReceiverVariable stores the top into field i of self and pops it.
func (b *MethodBuilder) PopIntoReceiverVariable(i int) *MethodBuilder {
	switch {
	case i < 8:
		return b.emit(byte(BcStoreAndPopReceiverVariable) + byte(i))
	case i < 64:
		return b.emit(byte(BcExtendedStoreAndPop), byte(ExtReceiverVariable<<6|i))
	case i < 256:
		return b.emit(byte(BcDoubleExtendedDoAnything), DxStoreAndPopReceiverVariable<<5, byte(i))
	}
	b.fail("receiver variable %d out of range", i)
	return b
}

// StoreTemp stores the top into temporary i without popping.
func (b *MethodBuilder) StoreTemp(i int) *MethodBuilder {
	if i >= 64 {
		b.fail("temporary %d out of range", i)
		return b
	}
	return b.emit(byte(BcExtendedStore), byte(ExtTemporaryVariable<<6|i))
}

// PopIntoTemp stores the top into temporary i and pops it.
func (b *MethodBuilder) PopIntoTemp(i int) *MethodBuilder {
	switch {
	case i < 8:
		return b.emit(byte(BcStoreAndPopTemporaryVariable) + byte(i))
	case i < 64:
		return b.emit(byte(BcExtendedStoreAndPop), byte(ExtTemporaryVariable<<6|i))
	}
	b.fail("temporary %d out of range", i)
	return b
}

// StoreLiteralVariable stores the top into an Association literal.
func (b *MethodBuilder) StoreLiteralVariable(assoc Oop) *MethodBuilder {
	idx := b.Literal(assoc)
	if idx < 64 {
		return b.emit(byte(BcExtendedStore), byte(ExtLiteralVariable<<6|idx))
	}
	return b.emit(byte(BcDoubleExtendedDoAnything), DxStoreLiteralVariable<<5, byte(idx))
}

// PopIntoLiteralVariable stores the top into an Association literal and pops.
func (b *MethodBuilder) PopIntoLiteralVariable(assoc Oop) *MethodBuilder {
	idx := b.Literal(assoc)
	if idx < 64 {
		return b.emit(byte(BcExtendedStoreAndPop), byte(ExtLiteralVariable<<6|idx))
	}
	return b.StoreLiteralVariable(assoc).Pop()
}

// PushRemoteTemp pushes element idx of the temp vector in temporary vector.
func (b *MethodBuilder) PushRemoteTemp(idx, vector int) *MethodBuilder {
	return b.emit(byte(BcPushRemoteTemp), byte(idx), byte(vector))
}

// StoreRemoteTemp stores the top into element idx of a temp vector.
func (b *MethodBuilder) StoreRemoteTemp(idx, vector int) *MethodBuilder {
	return b.emit(byte(BcStoreRemoteTemp), byte(idx), byte(vector))
}

// PopIntoRemoteTemp stores the top into element idx of a temp vector and pops.
func (b *MethodBuilder) PopIntoRemoteTemp(idx, vector int) *MethodBuilder {
	return b.emit(byte(BcStoreAndPopRemoteTemp), byte(idx), byte(vector))
}

// ---------------------------------------------------------------------------
// Sends
// ---------------------------------------------------------------------------

// Send sends selector with numArgs arguments. Special selectors use their
// one-byte form.
func (b *MethodBuilder) Send(selector string, numArgs int) *MethodBuilder {
	for i, sel := range SpecialSelectors {
		if sel.Name == selector && sel.NumArgs == numArgs {
			return b.emit(byte(BcSpecialSend) + byte(i))
		}
	}
	return b.SendLiteral(selector, numArgs)
}

// SendLiteral sends selector through the literal frame even if it is a
// special selector.
func (b *MethodBuilder) SendLiteral(selector string, numArgs int) *MethodBuilder {
	idx := b.Symbol(selector)
	switch {
	case idx < 16 && numArgs <= 2:
		return b.emit(byte(BcSendLiteral0) + byte(numArgs*16+idx))
	case idx < 64 && numArgs <= 3:
		return b.emit(byte(BcSecondExtendedSend), byte(numArgs<<6|idx))
	case idx < 32 && numArgs <= 7:
		return b.emit(byte(BcSingleExtendedSend), byte(numArgs<<5|idx))
	case numArgs <= 31:
		return b.emit(byte(BcDoubleExtendedDoAnything), byte(DxSend<<5|numArgs), byte(idx))
	}
	b.fail("send of %s with %d arguments out of range", selector, numArgs)
	return b
}

// SuperSend sends selector to super.
func (b *MethodBuilder) SuperSend(selector string, numArgs int) *MethodBuilder {
	idx := b.Symbol(selector)
	switch {
	case idx < 32 && numArgs <= 7:
		return b.emit(byte(BcSingleExtendedSuper), byte(numArgs<<5|idx))
	case numArgs <= 31:
		return b.emit(byte(BcDoubleExtendedDoAnything), byte(DxSuperSend<<5|numArgs), byte(idx))
	}
	b.fail("super send of %s with %d arguments out of range", selector, numArgs)
	return b
}

// ---------------------------------------------------------------------------
// Returns
// ---------------------------------------------------------------------------

func (b *MethodBuilder) ReturnSelf() *MethodBuilder     { return b.emit(byte(BcReturnReceiver)) }
func (b *MethodBuilder) ReturnTrue() *MethodBuilder     { return b.emit(byte(BcReturnTrue)) }
func (b *MethodBuilder) ReturnFalse() *MethodBuilder    { return b.emit(byte(BcReturnFalse)) }
func (b *MethodBuilder) ReturnNil() *MethodBuilder      { return b.emit(byte(BcReturnNil)) }
func (b *MethodBuilder) ReturnTop() *MethodBuilder      { return b.emit(byte(BcReturnTop)) }
func (b *MethodBuilder) BlockReturnTop() *MethodBuilder { return b.emit(byte(BcBlockReturnTop)) }

// ---------------------------------------------------------------------------
// Jumps
// ---------------------------------------------------------------------------

type jumpKind int

const (
	jumpLong jumpKind = iota
	jumpLongTrue
	jumpLongFalse
	jumpShort
	jumpShortFalse
)

type labelRef struct {
	pos  int // offset of the jump opcode
	kind jumpKind
}

// Label is a jump target.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

// NewLabel creates an unresolved label.
func (b *MethodBuilder) NewLabel() *Label {
	return &Label{}
}

// Mark resolves label to the current offset and patches forward jumps.
func (b *MethodBuilder) Mark(label *Label) *MethodBuilder {
	if label.resolved {
		b.fail("label marked twice")
		return b
	}
	label.resolved = true
	label.position = len(b.code)
	for _, ref := range label.refs {
		b.patchJump(ref, label.position)
	}
	b.pending -= len(label.refs)
	label.refs = nil
	return b
}

// Jump jumps unconditionally to label.
func (b *MethodBuilder) Jump(label *Label) *MethodBuilder { return b.jump(label, jumpLong) }

// JumpIfTrue pops the top and jumps to label if it was true.
func (b *MethodBuilder) JumpIfTrue(label *Label) *MethodBuilder { return b.jump(label, jumpLongTrue) }

// JumpIfFalse pops the top and jumps to label if it was false.
func (b *MethodBuilder) JumpIfFalse(label *Label) *MethodBuilder { return b.jump(label, jumpLongFalse) }

// ShortJump is a one-byte forward jump of 1 to 8 bytes.
func (b *MethodBuilder) ShortJump(label *Label) *MethodBuilder { return b.jump(label, jumpShort) }

// ShortJumpIfFalse is a one-byte forward conditional jump of 1 to 8 bytes.
func (b *MethodBuilder) ShortJumpIfFalse(label *Label) *MethodBuilder {
	return b.jump(label, jumpShortFalse)
}

func (b *MethodBuilder) jump(label *Label, kind jumpKind) *MethodBuilder {
	ref := labelRef{pos: len(b.code), kind: kind}
	if kind == jumpShort || kind == jumpShortFalse {
		b.emit(0)
	} else {
		b.emit(0, 0)
	}
	if label.resolved {
		b.patchJump(ref, label.position)
	} else {
		label.refs = append(label.refs, ref)
		b.pending++
	}
	return b
}

func (b *MethodBuilder) patchJump(ref labelRef, target int) {
	switch ref.kind {
	case jumpShort, jumpShortFalse:
		offset := target - (ref.pos + 1)
		if offset < 1 || offset > 8 {
			b.fail("short jump offset %d out of range", offset)
			return
		}
		base := BcShortJump
		if ref.kind == jumpShortFalse {
			base = BcShortJumpIfFalse
		}
		b.code[ref.pos] = byte(base) + byte(offset-1)
	case jumpLong:
		offset := target - (ref.pos + 2)
		if offset < -1024 || offset > 1023 {
			b.fail("jump offset %d out of range", offset)
			return
		}
		biased := offset + 1024
		b.code[ref.pos] = byte(BcLongJump) + byte(biased>>8)
		b.code[ref.pos+1] = byte(biased)
	default:
		offset := target - (ref.pos + 2)
		if offset < 0 || offset > 1023 {
			b.fail("conditional jump offset %d out of range", offset)
			return
		}
		base := BcLongJumpIfTrue
		if ref.kind == jumpLongFalse {
			base = BcLongJumpIfFalse
		}
		b.code[ref.pos] = byte(base) + byte(offset>>8)
		b.code[ref.pos+1] = byte(offset)
	}
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// ClosureRef marks an open closure body.
type ClosureRef struct {
	pos int // offset of the closure opcode
}

// BeginClosure emits a closure creation for numArgs arguments, copying
// numCopied values from the stack. The body follows until EndClosure.
func (b *MethodBuilder) BeginClosure(numArgs, numCopied int) *ClosureRef {
	if numArgs > 15 || numCopied > 15 {
		b.fail("closure with %d args and %d copied values out of range", numArgs, numCopied)
	}
	ref := &ClosureRef{pos: len(b.code)}
	b.emit(byte(BcPushClosureCopyCopiedVals), byte(numCopied<<4|numArgs&0xf), 0, 0)
	return ref
}

// EndClosure patches the body size of ref.
func (b *MethodBuilder) EndClosure(ref *ClosureRef) *MethodBuilder {
	size := len(b.code) - (ref.pos + 4)
	if size > 0xffff {
		b.fail("closure body of %d bytes too large", size)
		return b
	}
	b.code[ref.pos+2] = byte(size >> 8)
	b.code[ref.pos+3] = byte(size)
	return b
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// ErrUnresolvedLabel is returned by Build when a jump targets an unmarked label.
var ErrUnresolvedLabel = errors.New("unresolved label")

// Build creates the method for cls>>selector without installing it.
func (b *MethodBuilder) Build(cls *Behavior, selector string) (Oop, error) {
	if b.err != nil {
		return NullOop, fmt.Errorf("assembling %s>>%s: %w", cls.Name, selector, b.err)
	}
	if b.pending > 0 {
		return NullOop, fmt.Errorf("assembling %s>>%s: %w", cls.Name, selector, ErrUnresolvedLabel)
	}
	header := MethodHeader{
		NumArgs:    b.numArgs,
		NumTemps:   b.numTemps,
		Primitive:  b.primitive,
		LargeFrame: b.large || b.numTemps > SmallFrameSize-4,
		Class:      cls.self,
		Selector:   b.vm.Symbols.Intern(selector),
	}
	return b.vm.NewMethod(header, b.literals, b.code), nil
}

// Install builds the method and adds it to cls.
func (b *MethodBuilder) Install(cls *Behavior, selector string) (Oop, error) {
	method, err := b.Build(cls, selector)
	if err != nil {
		return NullOop, err
	}
	b.vm.InstallMethod(cls, b.vm.Symbols.Intern(selector), method)
	return method, nil
}

// MustInstall is Install for tests and bootstrap code.
// Panics if the method does not assemble.
func (b *MethodBuilder) MustInstall(cls *Behavior, selector string) Oop {
	method, err := b.Install(cls, selector)
	if err != nil {
		panic(err)
	}
	return method
}
