package vm

// ---------------------------------------------------------------------------
// Frame: one activation on the interpreter stack
// ---------------------------------------------------------------------------

// resultDisposition says what a returning frame leaves on its sender's
// stack.
type resultDisposition uint8

const (
	pushResult       resultDisposition = iota
	discardResult                      // delegated store-and-pop into a literal variable
	substituteResult                   // delegated store-and-pop into a field: the old top comes back
)

// Frame is an activation record living on the interpreter's contiguous
// stack. The receiver sits at bp-1, arguments and temporaries start at bp,
// and the operand stack grows above them.
//
// A Frame can be materialized as a MethodContext heap object, which then
// aliases the frame until it returns.
type Frame struct {
	method   Oop
	receiver Oop
	closure  Oop // NullOop for method activations

	ip int // saved instruction pointer (0-based offset into the bytecodes)
	sp int // saved stack pointer (next free slot)
	bp int

	sender  *Frame
	context Oop // materialized context or NullOop

	meta  bool // runs as a domain handler
	dead  bool
	entry bool // returning from it leaves the current run loop

	disposition resultDisposition
	substitute  Oop

	owner *Interpreter
	index int
}

// Method returns the CompiledMethod being executed.
func (f *Frame) Method() Oop { return f.method }

// Receiver returns self.
func (f *Frame) Receiver() Oop { return f.receiver }

// Closure returns the BlockClosure of a block activation, or NullOop.
func (f *Frame) Closure() Oop { return f.closure }

// Sender returns the calling frame.
func (f *Frame) Sender() *Frame { return f.sender }

// IP returns the saved instruction pointer.
func (f *Frame) IP() int { return f.ip }

// IsMeta reports whether the frame runs at meta level.
func (f *Frame) IsMeta() bool { return f.meta }

// IsDead reports whether the frame has returned.
func (f *Frame) IsDead() bool { return f.dead }

// ---------------------------------------------------------------------------
// Internal stack: register sp, used inside bytecode handlers
// ---------------------------------------------------------------------------

func (i *Interpreter) growStack(need int) {
	n := len(i.stack) * 2
	for n < need {
		n *= 2
	}
	grown := make([]Oop, n)
	copy(grown, i.stack)
	i.stack = grown
}

func (i *Interpreter) internalPush(v Oop) {
	if i.sp >= len(i.stack) {
		i.growStack(i.sp + 1)
	}
	i.stack[i.sp] = v
	i.sp++
}

func (i *Interpreter) internalPop(n int) {
	i.sp -= n
}

func (i *Interpreter) internalStackTop() Oop {
	return i.stack[i.sp-1]
}

func (i *Interpreter) internalStackValue(n int) Oop {
	return i.stack[i.sp-1-n]
}

func (i *Interpreter) internalPopThenPush(n int, v Oop) {
	i.sp -= n
	i.internalPush(v)
}

func (i *Interpreter) temporary(n int) Oop {
	return i.stack[i.frame.bp+n]
}

func (i *Interpreter) setTemporary(n int, v Oop) {
	i.stack[i.frame.bp+n] = v
}

// ---------------------------------------------------------------------------
// External stack: frame sp, used by primitives after externalizing
// ---------------------------------------------------------------------------

func (i *Interpreter) push(v Oop) {
	f := i.frame
	if f.sp >= len(i.stack) {
		i.growStack(f.sp + 1)
	}
	i.stack[f.sp] = v
	f.sp++
}

func (i *Interpreter) pop(n int) {
	i.frame.sp -= n
}

func (i *Interpreter) popOne() Oop {
	i.frame.sp--
	return i.stack[i.frame.sp]
}

func (i *Interpreter) stackTop() Oop {
	return i.stack[i.frame.sp-1]
}

func (i *Interpreter) stackValue(n int) Oop {
	return i.stack[i.frame.sp-1-n]
}

func (i *Interpreter) popThenPush(n int, v Oop) {
	i.frame.sp -= n
	i.push(v)
}

// popReceiverAndArgs removes a receiver and numArgs arguments from the
// external stack.
func (i *Interpreter) popReceiverAndArgs(numArgs int) (Oop, []Oop) {
	sp := i.frame.sp
	args := make([]Oop, numArgs)
	copy(args, i.stack[sp-numArgs:sp])
	receiver := i.stack[sp-numArgs-1]
	i.frame.sp = sp - numArgs - 1
	return receiver, args
}

// operandStack is a view of the operand stack through either the register
// sp or the frame's saved sp. The delegation rewrites are written once
// against it.
type operandStack struct {
	i  *Interpreter
	sp *int
}

func (i *Interpreter) internalStack() operandStack { return operandStack{i, &i.sp} }
func (i *Interpreter) externalStack() operandStack { return operandStack{i, &i.frame.sp} }

func (s operandStack) push(v Oop) {
	if *s.sp >= len(s.i.stack) {
		s.i.growStack(*s.sp + 1)
	}
	s.i.stack[*s.sp] = v
	*s.sp++
}

func (s operandStack) pop(n int)          { *s.sp -= n }
func (s operandStack) top() Oop           { return s.i.stack[*s.sp-1] }
func (s operandStack) value(n int) Oop    { return s.i.stack[*s.sp-1-n] }
func (s operandStack) set(n int, v Oop)   { s.i.stack[*s.sp-1-n] = v }
func (s operandStack) popThenPush(n int, v Oop) {
	*s.sp -= n
	s.push(v)
}

// ---------------------------------------------------------------------------
// Register spill and reload
// ---------------------------------------------------------------------------

// externalizeExecutionState spills ip and sp into the active frame. Anything
// that may allocate, activate, or return runs between externalize and
// internalize.
func (i *Interpreter) externalizeExecutionState() {
	i.frame.ip = i.ip
	i.frame.sp = i.sp
}

// internalizeExecutionState reloads the registers from the active frame and
// re-derives everything cached from the method object.
func (i *Interpreter) internalizeExecutionState() {
	f := i.frame
	i.ip = f.ip
	i.sp = f.sp
	i.receiver = f.receiver
	i.reloadMethod()
}

// reloadMethod re-derives the cached bytecodes, literals, and local domain.
// Called after anything that may have relocated the heap.
func (i *Interpreter) reloadMethod() {
	i.method = i.frame.method
	obj := i.vm.Heap.Object(i.method)
	if obj == nil {
		i.bytecodes, i.literals, i.localDomain = nil, nil, NullOop
		return
	}
	i.bytecodes = obj.bytes
	i.literals = obj.fields
	i.localDomain = obj.domain
}

func (i *Interpreter) fetchByte() byte {
	b := i.bytecodes[i.ip]
	i.ip++
	return b
}

func (i *Interpreter) literal(n int) Oop {
	return i.literals[n]
}

// ---------------------------------------------------------------------------
// Activation and return
// ---------------------------------------------------------------------------

func (i *Interpreter) pushFrame() *Frame {
	i.fp++
	if i.fp == len(i.frames) {
		i.frames = append(i.frames, nil)
	}
	f := i.frames[i.fp]
	if f == nil {
		f = &Frame{owner: i, index: i.fp}
		i.frames[i.fp] = f
	}
	return f
}

func (i *Interpreter) takeResultDisposition() (resultDisposition, Oop) {
	d, s := i.pendingDisposition, i.pendingSubstitute
	i.pendingDisposition, i.pendingSubstitute = pushResult, NullOop
	return d, s
}

// applyResultDisposition adjusts the result a primitive or native method
// just pushed for a send that asked for it to be dropped or replaced.
func (i *Interpreter) applyResultDisposition() {
	switch d, s := i.takeResultDisposition(); d {
	case discardResult:
		i.pop(1)
	case substituteResult:
		i.popThenPush(1, s)
	}
}

// activate creates a frame for the active send. The receiver and numArgs
// arguments are on the external stack; the frame takes them over. Must run
// with state externalized.
func (i *Interpreter) activate(method Oop, receiver Oop, closure Oop, numArgs, numTemps, startIP int) *Frame {
	caller := i.frame
	bp := caller.sp - numArgs
	need := bp + numTemps + LargeFrameSize
	if need > len(i.stack) {
		i.growStack(need)
	}
	nilOop := i.vm.Special.Nil
	for k := bp + numArgs; k < bp+numTemps; k++ {
		i.stack[k] = nilOop
	}

	f := i.pushFrame()
	f.method = method
	f.receiver = receiver
	f.closure = closure
	f.ip = startIP
	f.bp = bp
	f.sp = bp + numTemps
	f.sender = caller
	f.context = NullOop
	f.meta = caller.meta || i.pendingMeta
	f.dead = false
	f.entry = false
	f.disposition, f.substitute = i.takeResultDisposition()
	i.pendingMeta = false

	i.frame = f
	i.reclaimableContextCount++
	return f
}

// activateNewMethod activates i.newMethod for the receiver and arguments on
// the external stack.
func (i *Interpreter) activateNewMethod() {
	header := i.vm.MethodHeaderOf(i.newMethod)
	receiver := i.stackValue(header.NumArgs)
	i.activate(i.newMethod, receiver, NullOop, header.NumArgs, header.NumTemps, 0)
	i.vm.Native.RecordInvocation(i.newMethod)
}

// popFrame removes the active frame. Frames nobody can reach again are kept
// for reuse; a frame with a context is divorced from it first.
func (i *Interpreter) popFrame() *Frame {
	f := i.frame
	f.dead = true
	if i.reclaimableContextCount > 0 {
		i.reclaimableContextCount--
		if i.assertions && f.context != NullOop {
			panic(&AssertionError{i.diagnostic("reclaimed a frame with a live context")})
		}
	} else if f.context != NullOop {
		i.divorce(f)
		i.frames[i.fp] = nil
	}
	i.fp--
	i.frame = i.frames[i.fp]
	return f
}

// commonReturn returns result from the active frame to its sender and
// reloads the registers. Must run with state externalized.
func (i *Interpreter) commonReturn(result Oop) {
	f := i.popFrame()
	caller := i.frame
	caller.sp = f.bp - 1
	switch f.disposition {
	case pushResult:
		i.push(result)
	case substituteResult:
		i.push(f.substitute)
	}
	if f.entry {
		i.exit = true
	}
	i.internalizeExecutionState()
}

// ---------------------------------------------------------------------------
// Non-local return
// ---------------------------------------------------------------------------

// homeFrame finds the method activation that lexically encloses the block
// running in f. ok is false if that activation has returned or lives on
// another interpreter.
func (i *Interpreter) homeFrame(f *Frame) (home *Frame, ok bool) {
	heap := i.vm.Heap
	closure := f.closure
	for {
		c := heap.Object(closure)
		if c == nil {
			return nil, false
		}
		ctx := heap.Object(c.fields[ClosureOuterContextIndex])
		if ctx == nil {
			return nil, false
		}
		next := ctx.fields[ContextClosureIndex]
		if next == i.vm.Special.Nil || next == NullOop {
			if ctx.frame == nil || ctx.frame.dead || ctx.frame.owner != i {
				return nil, false
			}
			return ctx.frame, true
		}
		closure = next
	}
}

// returnFromHome unwinds to the home of the active block frame and returns
// result from it. If the home cannot be returned to, the active context is
// sent cannotReturn:. Must run with state externalized.
func (i *Interpreter) returnFromHome(result Oop) {
	home, ok := i.homeFrame(i.frame)
	if ok {
		for f := i.frame; f != home; f = f.sender {
			if f.entry {
				ok = false
				break
			}
		}
	}
	if !ok {
		ctx := i.activeContext()
		i.push(ctx)
		i.push(result)
		i.messageSelector = i.vm.Special.SelectorCannotReturn
		i.argumentCount = 1
		i.lookupClass = i.vm.ClassOf(ctx)
		i.findNewMethodInClass(i.lookupClass)
		i.executeNewMethod()
		i.internalizeExecutionState()
		return
	}
	for i.frame != home {
		i.popFrame()
	}
	i.commonReturn(result)
}
