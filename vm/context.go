package vm

// ---------------------------------------------------------------------------
// MethodContext: heap view of a frame
// ---------------------------------------------------------------------------

// Field layout of MethodContext objects. Stack slots (arguments, temporaries,
// and the operand stack) follow the fixed fields.
const (
	ContextSenderIndex = iota
	ContextPCIndex
	ContextStackPIndex
	ContextMethodIndex
	ContextClosureIndex
	ContextReceiverIndex
	ContextTempFrameStart
)

// activeContext returns the context of the active frame, materializing it if
// needed. Must run with state externalized; may allocate.
func (i *Interpreter) activeContext() Oop {
	return i.contextFor(i.frame)
}

// contextFor materializes f as a MethodContext. The context is married to f:
// it reads through to the frame until the frame returns. Materializing stops
// the interpreter from reclaiming frames without checking for a context.
func (i *Interpreter) contextFor(f *Frame) Oop {
	if f.context != NullOop {
		return f.context
	}
	if f.index == 0 {
		return i.vm.Special.Nil
	}
	i.reclaimableContextCount = 0

	header := i.vm.MethodHeaderOf(f.method)
	obj := i.allocate(i.vm.Special.MethodContextClass, header.FrameSize(), 0)
	obj.frame = f
	f.context = obj.self
	i.syncContext(obj)
	return f.context
}

// syncContext copies a married frame's state into its context object so
// that the fields can be read as ordinary instance variables.
func (i *Interpreter) syncContext(obj *Object) {
	f := obj.frame
	if f == nil {
		return
	}
	nilOop := i.vm.Special.Nil
	heap := i.vm.Heap
	sender := nilOop
	if f.sender != nil && f.sender.context != NullOop {
		sender = f.sender.context
	}
	closure := f.closure
	if closure == NullOop {
		closure = nilOop
	}
	heap.StorePointer(obj, ContextSenderIndex, sender)
	heap.StorePointer(obj, ContextPCIndex, FromInt(int64(f.ip)))
	heap.StorePointer(obj, ContextMethodIndex, f.method)
	heap.StorePointer(obj, ContextClosureIndex, closure)
	heap.StorePointer(obj, ContextReceiverIndex, f.receiver)
	i.copyStackInto(obj, f)
}

// copyStackInto writes the frame's stack slots into obj and sets stackp.
func (i *Interpreter) copyStackInto(obj *Object, f *Frame) {
	depth := min(max(f.sp-f.bp, 0), len(obj.fields)-ContextTempFrameStart)
	for k := 0; k < depth; k++ {
		i.vm.Heap.StorePointer(obj, ContextTempFrameStart+k, i.stack[f.bp+k])
	}
	i.vm.Heap.StorePointer(obj, ContextStackPIndex, FromInt(int64(depth)))
}

// divorce detaches f's context when the frame returns. The context keeps a
// copy of the final slots; its pc and sender become nil, marking it dead.
func (i *Interpreter) divorce(f *Frame) {
	obj := i.vm.Heap.Object(f.context)
	f.context = NullOop
	if obj == nil {
		return
	}
	i.copyStackInto(obj, f)
	nilOop := i.vm.Special.Nil
	i.vm.Heap.StorePointer(obj, ContextSenderIndex, nilOop)
	i.vm.Heap.StorePointer(obj, ContextPCIndex, nilOop)
	obj.frame = nil
}

// unwindTo drops every frame above base without returning values, divorcing
// any materialized contexts on the way.
func (i *Interpreter) unwindTo(base int) {
	for i.fp > base {
		f := i.frames[i.fp]
		f.dead = true
		if f.context != NullOop {
			i.divorce(f)
			i.frames[i.fp] = nil
		}
		i.fp--
	}
	i.frame = i.frames[i.fp]
	i.reclaimableContextCount = 0
}

// IsMarried reports whether ctx still aliases a live frame.
func (vm *VM) IsMarried(ctx Oop) bool {
	obj := vm.Heap.Object(ctx)
	return obj != nil && obj.frame != nil && !obj.frame.dead
}
