package vm

// ---------------------------------------------------------------------------
// BlockClosure
// ---------------------------------------------------------------------------

// Field layout of BlockClosure objects. Copied values follow the fixed
// fields.
const (
	ClosureOuterContextIndex = iota
	ClosureStartPCIndex
	ClosureNumArgsIndex
	ClosureFirstCopiedValueIndex
)

// Point layout.
const (
	PointXIndex = iota
	PointYIndex
)

// closureCopy allocates a closure whose body starts at initialIP in the
// active method. Its outer context and copied values are left nil for the
// caller to fill. Must run with state externalized.
func (i *Interpreter) closureCopy(numArgs, initialIP, numCopied int) Oop {
	a := i.safepointAbility(true)
	obj := i.allocate(i.vm.Special.BlockClosureClass, numCopied, 0)
	a.Release()
	obj.storePointerUnchecked(ClosureStartPCIndex, FromInt(int64(initialIP)))
	obj.storePointerUnchecked(ClosureNumArgsIndex, FromInt(int64(numArgs)))
	i.vm.Heap.SetDomain(obj, i.domainForNewObject())
	return obj.self
}

// pushClosureCopyCopiedValuesBytecode creates a closure over the block body
// that follows, capturing the top numCopied values (deepest first), and
// jumps over the body.
func (i *Interpreter) pushClosureCopyCopiedValuesBytecode() {
	d := i.fetchByte()
	numArgs, numCopied := int(d&0xf), int(d>>4)
	hi, lo := i.fetchByte(), i.fetchByte()
	blockSize := int(hi)<<8 | int(lo)

	i.externalizeExecutionState()
	closure := i.closureCopy(numArgs, i.ip, numCopied)
	a := i.safepointAbility(true)
	ctx := i.activeContext()
	a.Release()
	i.internalizeExecutionState()

	heap := i.vm.Heap
	obj := heap.Object(closure)
	heap.StorePointer(obj, ClosureOuterContextIndex, ctx)
	i.reclaimableContextCount = 0
	for k := 0; k < numCopied; k++ {
		heap.StorePointer(obj, ClosureFirstCopiedValueIndex+k, i.internalStackValue(numCopied-1-k))
	}
	i.internalPop(numCopied)
	i.ip += blockSize
	i.internalPush(closure)
}

// pushNewArrayBytecode pushes a new Array, either nil-filled or built from
// values popped off the stack.
func (i *Interpreter) pushNewArrayBytecode() {
	d := i.fetchByte()
	size, pop := int(d&127), d > 127

	i.externalizeExecutionState()
	a := i.safepointAbility(true)
	obj := i.allocate(i.vm.Special.ArrayClass, size, 0)
	a.Release()
	i.internalizeExecutionState()

	if pop {
		for k := 0; k < size; k++ {
			obj.storePointerUnchecked(k, i.internalStackValue(size-1-k))
		}
		i.internalPop(size)
	}
	i.vm.Heap.SetDomain(obj, i.domainForNewObject())
	i.internalPush(obj.self)
}

// ---------------------------------------------------------------------------
// Closure activation
// ---------------------------------------------------------------------------

// primitiveClosureValue evaluates the closure argumentCount slots below the
// top with the arguments above it. Fails on an arity mismatch.
func (i *Interpreter) primitiveClosureValue() {
	argc := i.argumentCount
	closure := i.stackValue(argc)
	obj := i.vm.Heap.Object(closure)
	if obj == nil || obj.format != FormatClosure {
		i.successFlag = false
		return
	}
	if obj.fields[ClosureNumArgsIndex].IntValue() != int64(argc) {
		i.successFlag = false
		return
	}
	i.activateClosure(closure, argc)
}

// activateClosure pushes a frame for closure with argc arguments on the
// stack. The copied values become the temporaries after the arguments.
func (i *Interpreter) activateClosure(closure Oop, argc int) *Frame {
	heap := i.vm.Heap
	obj := heap.Object(closure)
	outer := heap.Object(obj.fields[ClosureOuterContextIndex])
	if outer == nil {
		i.fatal("closure has no outer context")
	}
	method := outer.fields[ContextMethodIndex]
	receiver := outer.fields[ContextReceiverIndex]
	if outer.frame != nil && !outer.frame.dead {
		method, receiver = outer.frame.method, outer.frame.receiver
	}
	startIP := int(obj.fields[ClosureStartPCIndex].IntValue())
	copied := obj.fields[ClosureFirstCopiedValueIndex:]

	f := i.activate(method, receiver, closure, argc, argc, startIP)
	for _, v := range copied {
		i.push(v)
	}
	return f
}
