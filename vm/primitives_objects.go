package vm

// Object-touching primitives. Each consults the receiver's domain first and
// hands the operation to it when the domain customizes it; the raw* forms do
// the work and are shared with the Domain defaults.

// Stream layout (ReadWriteStream over an indexable collection).
const (
	StreamCollectionIndex = iota
	StreamPositionIndex
	StreamReadLimitIndex
	StreamWriteLimitIndex
)

// ---------------------------------------------------------------------------
// Indexed access
// ---------------------------------------------------------------------------

func (i *Interpreter) rawAt(rcvr, index Oop) (Oop, bool) {
	obj := i.vm.Heap.Object(rcvr)
	if obj == nil || !index.IsInt() {
		return NullOop, false
	}
	i.atCache.Fill(obj, false)
	e := i.atCache.Entry(rcvr, false)
	if !e.Matches(rcvr) {
		return NullOop, false
	}
	return i.commonVariableAt(rcvr, index.IntValue(), e)
}

func (i *Interpreter) rawAtPut(rcvr, index, value Oop) bool {
	obj := i.vm.Heap.Object(rcvr)
	if obj == nil || !index.IsInt() {
		return false
	}
	i.atCache.Fill(obj, true)
	e := i.atCache.Entry(rcvr, true)
	if !e.Matches(rcvr) {
		return false
	}
	return i.commonVariableAtPut(rcvr, index.IntValue(), value, e)
}

func (i *Interpreter) primitiveAt() {
	index, rcvr := i.stackValue(0), i.stackValue(1)
	if i.RequiresDelegation(rcvr, MaskPrimAt) {
		i.omniRequestPrimitiveAt(i.externalStack())
		return
	}
	v, ok := i.rawAt(rcvr, index)
	if !ok {
		i.primitiveFail()
		return
	}
	i.popThenPush(2, v)
}

func (i *Interpreter) primitiveAtPut() {
	value, index, rcvr := i.stackValue(0), i.stackValue(1), i.stackValue(2)
	if i.RequiresDelegation(rcvr, MaskPrimAtPut) {
		i.omniRequestPrimitiveAtPut(i.externalStack())
		return
	}
	if !i.rawAtPut(rcvr, index, value) {
		i.primitiveFail()
		return
	}
	i.popThenPush(3, value)
}

func (i *Interpreter) primitiveSize() {
	obj := i.vm.Heap.Object(i.stackTop())
	if obj == nil {
		i.primitiveFail()
		return
	}
	switch obj.format {
	case FormatIndexablePointers, FormatBytes:
		i.popThenPush(1, FromInt(int64(obj.IndexableSize())))
	default:
		i.popThenPush(1, FromInt(0))
	}
}

// ---------------------------------------------------------------------------
// Streams
// ---------------------------------------------------------------------------

// streamState reads the integer fields of a stream.
func (i *Interpreter) streamState(stream Oop) (obj *Object, pos, readLimit, writeLimit int64, ok bool) {
	obj = i.vm.Heap.Object(stream)
	if obj == nil || len(obj.fields) <= StreamWriteLimitIndex {
		return nil, 0, 0, 0, false
	}
	p, r, w := obj.fields[StreamPositionIndex], obj.fields[StreamReadLimitIndex], obj.fields[StreamWriteLimitIndex]
	if !p.IsInt() || !r.IsInt() || !w.IsInt() {
		return nil, 0, 0, 0, false
	}
	return obj, p.IntValue(), r.IntValue(), w.IntValue(), true
}

func (i *Interpreter) rawNext(stream Oop) (Oop, bool) {
	obj, pos, readLimit, _, ok := i.streamState(stream)
	if !ok || pos >= readLimit {
		return NullOop, false
	}
	v, ok := i.rawAt(obj.fields[StreamCollectionIndex], FromInt(pos+1))
	if !ok {
		return NullOop, false
	}
	obj.fields[StreamPositionIndex] = FromInt(pos + 1)
	return v, true
}

func (i *Interpreter) rawNextPut(stream, value Oop) bool {
	obj, pos, readLimit, writeLimit, ok := i.streamState(stream)
	if !ok || pos >= writeLimit {
		return false
	}
	if !i.rawAtPut(obj.fields[StreamCollectionIndex], FromInt(pos+1), value) {
		return false
	}
	obj.fields[StreamPositionIndex] = FromInt(pos + 1)
	if pos+1 > readLimit {
		obj.fields[StreamReadLimitIndex] = FromInt(pos + 1)
	}
	return true
}

func (i *Interpreter) primitiveNext() {
	stream := i.stackTop()
	if i.RequiresDelegation(stream, MaskPrimNext) {
		i.omniRequestPrimitiveNext(i.externalStack())
		return
	}
	v, ok := i.rawNext(stream)
	if !ok {
		i.primitiveFail()
		return
	}
	i.popThenPush(1, v)
}

func (i *Interpreter) primitiveNextPut() {
	value, stream := i.stackValue(0), i.stackValue(1)
	if i.RequiresDelegation(stream, MaskPrimNextPut) {
		i.omniRequestPrimitiveNextPut(i.externalStack())
		return
	}
	if !i.rawNextPut(stream, value) {
		i.primitiveFail()
		return
	}
	i.popThenPush(2, value)
}

func (i *Interpreter) primitiveAtEnd() {
	_, pos, readLimit, _, ok := i.streamState(i.stackTop())
	if !ok {
		i.primitiveFail()
		return
	}
	i.popThenPush(1, i.vm.Bool(pos >= readLimit))
}

// ---------------------------------------------------------------------------
// Instantiation and copying
// ---------------------------------------------------------------------------

// instantiate allocates an instance of b with size indexable slots and
// gives it the domain of the active context.
func (i *Interpreter) instantiate(b *Behavior, size int) Oop {
	var obj *Object
	if b.Format == FormatBytes {
		obj = i.allocate(b, 0, size)
	} else {
		obj = i.allocate(b, size, 0)
	}
	i.vm.Heap.SetDomain(obj, i.domainForNewObject())
	return obj.self
}

func (i *Interpreter) primitiveBasicNew() {
	b := i.vm.BehaviorOfClass(i.stackTop())
	if b == nil || !b.Format.instantiable() {
		i.primitiveFail()
		return
	}
	i.popThenPush(1, i.instantiate(b, 0))
}

func (i *Interpreter) primitiveBasicNewWith() {
	size := i.stackValue(0)
	b := i.vm.BehaviorOfClass(i.stackValue(1))
	if b == nil || !size.IsInt() || size.IntValue() < 0 {
		i.primitiveFail()
		return
	}
	if b.Format != FormatIndexablePointers && b.Format != FormatBytes {
		i.primitiveFail()
		return
	}
	i.popThenPush(2, i.instantiate(b, int(size.IntValue())))
}

// rawShallowCopy copies rcvr's fields, bytes, and class. SmallIntegers copy
// to themselves; contexts and methods cannot be copied.
func (i *Interpreter) rawShallowCopy(rcvr Oop) (Oop, bool) {
	if rcvr.IsInt() {
		return rcvr, true
	}
	obj := i.vm.Heap.Object(rcvr)
	if obj == nil || obj.format == FormatContext || obj.format == FormatCompiledMethod || obj.behavior != nil {
		return NullOop, false
	}
	class, format, fixed := obj.class, obj.format, obj.fixed
	indexable, numBytes := len(obj.fields)-obj.fixed, len(obj.bytes)

	i.maybeRelocate()
	clone := i.vm.Heap.Allocate(class, format, fixed, indexable, numBytes, i.vm.Special.Nil)
	obj = i.vm.Heap.Object(rcvr)
	copy(clone.fields, obj.fields)
	copy(clone.bytes, obj.bytes)
	i.vm.Heap.SetDomain(clone, i.domainForNewObject())
	return clone.self, true
}

func (i *Interpreter) primitiveShallowCopy() {
	rcvr := i.stackTop()
	if i.RequiresDelegation(rcvr, MaskPrimShallowCopy) {
		i.omniRequestPrimitiveClone(i.externalStack())
		return
	}
	clone, ok := i.rawShallowCopy(rcvr)
	if !ok {
		i.primitiveFail()
		return
	}
	i.popThenPush(1, clone)
}

// rawReplace copies repl[replStart..] into rcvr[start..stop]. Both must have
// the same body kind.
func (i *Interpreter) rawReplace(rcvr, start, stop, repl, replStart Oop) bool {
	if !start.IsInt() || !stop.IsInt() || !replStart.IsInt() {
		return false
	}
	heap := i.vm.Heap
	dst, src := heap.Object(rcvr), heap.Object(repl)
	if dst == nil || src == nil || i.isSymbol(dst) {
		return false
	}
	bytes := dst.format == FormatBytes
	if bytes != (src.format == FormatBytes) {
		return false
	}
	if !bytes && (dst.format != FormatIndexablePointers || src.format != FormatIndexablePointers) {
		return false
	}
	lo, hi, from := start.IntValue(), stop.IntValue(), replStart.IntValue()
	n := hi - lo + 1
	if lo < 1 || n < 0 || hi > int64(dst.IndexableSize()) || from < 1 || from+n-1 > int64(src.IndexableSize()) {
		return false
	}
	if bytes {
		copy(dst.bytes[lo-1:hi], src.bytes[from-1:from-1+n])
		return true
	}
	values := make([]Oop, n)
	copy(values, src.fields[src.fixed+int(from)-1:])
	for k, v := range values {
		heap.StorePointer(dst, dst.fixed+int(lo)-1+k, v)
	}
	return true
}

func (i *Interpreter) primitiveReplace() {
	rcvr := i.stackValue(4)
	if i.RequiresDelegation(rcvr, MaskPrimReplace) {
		i.omniRequestPrimitiveReplace(i.externalStack())
		return
	}
	if !i.rawReplace(rcvr, i.stackValue(3), i.stackValue(2), i.stackValue(1), i.stackValue(0)) {
		i.primitiveFail()
		return
	}
	i.pop(4)
}

// ---------------------------------------------------------------------------
// Reflection
// ---------------------------------------------------------------------------

func (i *Interpreter) primitiveInstVarAt() {
	index, rcvr := i.stackValue(0), i.stackValue(1)
	obj := i.vm.Heap.Object(rcvr)
	if obj == nil || !index.IsInt() || index.IntValue() < 1 || index.IntValue() > int64(len(obj.fields)) {
		i.primitiveFail()
		return
	}
	if obj.frame != nil {
		i.syncContext(obj)
	}
	i.popThenPush(2, obj.fields[index.IntValue()-1])
}

// primitiveInstVarAtPut fails on a context that still aliases a frame.
func (i *Interpreter) primitiveInstVarAtPut() {
	value, index, rcvr := i.stackValue(0), i.stackValue(1), i.stackValue(2)
	obj := i.vm.Heap.Object(rcvr)
	if obj == nil || obj.frame != nil || !index.IsInt() || index.IntValue() < 1 || index.IntValue() > int64(len(obj.fields)) {
		i.primitiveFail()
		return
	}
	i.vm.Heap.StorePointer(obj, int(index.IntValue())-1, value)
	i.popThenPush(3, value)
}

func (i *Interpreter) primitiveIdentityHash() {
	obj := i.vm.Heap.Object(i.stackTop())
	if obj == nil {
		i.primitiveFail()
		return
	}
	i.popThenPush(1, FromInt(int64(obj.hash)))
}

func (i *Interpreter) primitiveEquivalent() {
	i.popThenPush(2, i.vm.Bool(i.stackValue(1) == i.stackValue(0)))
}

func (i *Interpreter) primitiveClass() {
	i.popThenPush(1, i.vm.ClassOf(i.stackTop()))
}

// ---------------------------------------------------------------------------
// Perform
// ---------------------------------------------------------------------------

// performArity reports whether rcvr understands selector with numArgs
// arguments. A selector rcvr does not understand is left to the send to
// report.
func (i *Interpreter) performArity(rcvr, selector Oop, numArgs int) bool {
	if !i.vm.Symbols.IsSymbol(selector) {
		return false
	}
	b := i.vm.BehaviorOf(rcvr)
	if b == nil {
		return false
	}
	method := b.Lookup(selector)
	return method == NullOop || i.vm.MethodHeaderOf(method).NumArgs == numArgs
}

// dispatchPerform sends selector to the receiver numArgs slots below the
// top, through its domain if it customizes request execution.
func (i *Interpreter) dispatchPerform(selector Oop, numArgs int) {
	i.messageSelector = selector
	i.argumentCount = numArgs
	if i.RequiresDelegation(i.stackValue(numArgs), MaskRequestExecution) {
		i.omniRequestExecution(i.externalStack())
	}
	i.lookupClass = i.vm.ClassOf(i.stackValue(i.argumentCount))
	i.findNewMethodInClass(i.lookupClass)
	i.executeNewMethod()
	i.successFlag = true
}

// primitivePerform is perform: and its with:... forms:
//
//	rcvr selector a1 .. an  =>  rcvr a1 .. an
func (i *Interpreter) primitivePerform() {
	argc := i.argumentCount
	n := argc - 1
	selector, rcvr := i.stackValue(n), i.stackValue(argc)
	if argc < 1 || !i.performArity(rcvr, selector, n) {
		i.primitiveFail()
		return
	}
	sp := i.frame.sp
	copy(i.stack[sp-argc:], i.stack[sp-n:sp])
	i.frame.sp--
	i.dispatchPerform(selector, n)
}

// primitivePerformWithArguments is perform:withArguments:.
func (i *Interpreter) primitivePerformWithArguments() {
	args, selector, rcvr := i.stackValue(0), i.stackValue(1), i.stackValue(2)
	array := i.vm.Heap.Object(args)
	if array == nil || array.format != FormatIndexablePointers {
		i.primitiveFail()
		return
	}
	values := array.fields[array.fixed:]
	if !i.performArity(rcvr, selector, len(values)) {
		i.primitiveFail()
		return
	}
	i.pop(2)
	for _, v := range values {
		i.push(v)
	}
	i.dispatchPerform(selector, len(values))
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// primitiveClosureValueWithArguments is valueWithArguments:.
func (i *Interpreter) primitiveClosureValueWithArguments() {
	args, closure := i.stackValue(0), i.stackValue(1)
	array := i.vm.Heap.Object(args)
	obj := i.vm.Heap.Object(closure)
	if array == nil || array.format != FormatIndexablePointers || obj == nil || obj.format != FormatClosure {
		i.primitiveFail()
		return
	}
	values := array.fields[array.fixed:]
	if obj.fields[ClosureNumArgsIndex].IntValue() != int64(len(values)) {
		i.primitiveFail()
		return
	}
	i.pop(1)
	for _, v := range values {
		i.push(v)
	}
	i.activateClosure(closure, len(values))
}
