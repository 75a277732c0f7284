package vm

// Domain primitives: access to an object's domain slot, the switch back to
// base level, and the default behaviour of the Domain class for every
// protocol selector. A domain subclass that overrides a selector can reach
// the default with a super send.

func (i *Interpreter) primitiveDomain() {
	i.popThenPush(1, i.domainOf(i.stackTop()))
}

// primitiveSetDomain is domain: aDomain. Answers the receiver.
func (i *Interpreter) primitiveSetDomain() {
	domain, rcvr := i.stackValue(0), i.stackValue(1)
	obj := i.vm.Heap.Object(rcvr)
	if obj == nil || domain.IsInt() {
		i.primitiveFail()
		return
	}
	i.vm.Heap.SetDomain(obj, domain)
	i.popThenPush(2, rcvr)
}

// primitiveEvaluateEnforced is Domain>>evaluateEnforced: aBlock. The block
// runs at base level, so operations on objects it touches are delegated
// again.
func (i *Interpreter) primitiveEvaluateEnforced() {
	block := i.stackValue(0)
	obj := i.vm.Heap.Object(block)
	if obj == nil || obj.format != FormatClosure || obj.fields[ClosureNumArgsIndex] != FromInt(0) {
		i.primitiveFail()
		return
	}
	i.popThenPush(2, block)
	f := i.activateClosure(block, 0)
	f.meta = false
}

// ---------------------------------------------------------------------------
// Field and literal defaults
// ---------------------------------------------------------------------------

// fieldIndex validates a 1-based field index of obj.
func (i *Interpreter) fieldIndex(obj *Object, idx Oop) (int, bool) {
	if obj == nil || !idx.IsInt() || idx.IntValue() < 1 || idx.IntValue() > int64(len(obj.fields)) {
		return 0, false
	}
	return int(idx.IntValue()) - 1, true
}

//	domain idx obj
func (i *Interpreter) primitiveDomainReadField() {
	obj := i.vm.Heap.Object(i.stackValue(0))
	n, ok := i.fieldIndex(obj, i.stackValue(1))
	if !ok {
		i.primitiveFail()
		return
	}
	if obj.frame != nil {
		i.syncContext(obj)
	}
	i.popThenPush(3, obj.fields[n])
}

//	domain value idx obj
func (i *Interpreter) primitiveDomainWriteField() {
	obj := i.vm.Heap.Object(i.stackValue(0))
	value := i.stackValue(2)
	n, ok := i.fieldIndex(obj, i.stackValue(1))
	if !ok || obj.frame != nil {
		i.primitiveFail()
		return
	}
	i.vm.Heap.StorePointer(obj, n, value)
	i.popThenPush(4, value)
}

//	domain value idx obj newTop
func (i *Interpreter) primitiveDomainWriteFieldWithReturn() {
	newTop := i.stackValue(0)
	obj := i.vm.Heap.Object(i.stackValue(1))
	value := i.stackValue(3)
	n, ok := i.fieldIndex(obj, i.stackValue(2))
	if !ok || obj.frame != nil {
		i.primitiveFail()
		return
	}
	i.vm.Heap.StorePointer(obj, n, value)
	i.popThenPush(5, newTop)
}

//	domain assoc
func (i *Interpreter) primitiveDomainReadLiteral() {
	assoc := i.vm.Heap.Object(i.stackValue(0))
	if assoc == nil || len(assoc.fields) <= AssociationValueIndex {
		i.primitiveFail()
		return
	}
	i.popThenPush(2, assoc.fields[AssociationValueIndex])
}

//	domain value assoc
func (i *Interpreter) primitiveDomainWriteLiteral() {
	assoc := i.vm.Heap.Object(i.stackValue(0))
	value := i.stackValue(1)
	if assoc == nil || len(assoc.fields) <= AssociationValueIndex {
		i.primitiveFail()
		return
	}
	i.vm.Heap.StorePointer(assoc, AssociationValueIndex, value)
	i.popThenPush(3, value)
}

// ---------------------------------------------------------------------------
// Primitive defaults
// ---------------------------------------------------------------------------

//	domain idx rcvr
func (i *Interpreter) primitiveDomainPrimAt() {
	v, ok := i.rawAt(i.stackValue(0), i.stackValue(1))
	if !ok {
		i.primitiveFail()
		return
	}
	i.popThenPush(3, v)
}

//	domain idx rcvr value
func (i *Interpreter) primitiveDomainPrimAtPut() {
	value := i.stackValue(0)
	if !i.rawAtPut(i.stackValue(1), i.stackValue(2), value) {
		i.primitiveFail()
		return
	}
	i.popThenPush(4, value)
}

//	domain obj
func (i *Interpreter) primitiveDomainPrimShallowCopy() {
	clone, ok := i.rawShallowCopy(i.stackValue(0))
	if !ok {
		i.primitiveFail()
		return
	}
	i.popThenPush(2, clone)
}

//	domain stream
func (i *Interpreter) primitiveDomainPrimNext() {
	v, ok := i.rawNext(i.stackValue(0))
	if !ok {
		i.primitiveFail()
		return
	}
	i.popThenPush(2, v)
}

//	domain stream value
func (i *Interpreter) primitiveDomainPrimNextPut() {
	value := i.stackValue(0)
	if !i.rawNextPut(i.stackValue(1), value) {
		i.primitiveFail()
		return
	}
	i.popThenPush(3, value)
}

//	domain start stop repl replStart rcvr
func (i *Interpreter) primitiveDomainPrimReplace() {
	rcvr := i.stackValue(0)
	if !i.rawReplace(rcvr, i.stackValue(4), i.stackValue(3), i.stackValue(2), i.stackValue(1)) {
		i.primitiveFail()
		return
	}
	i.popThenPush(6, rcvr)
}

// ---------------------------------------------------------------------------
// Request execution defaults
// ---------------------------------------------------------------------------

// primitiveDomainRequestExec performs the requested send at base level:
//
//	domain a1 .. an selector rcvr  =>  rcvr a1 .. an
func (i *Interpreter) primitiveDomainRequestExec() {
	n := i.argumentCount - 2
	rcvr, selector := i.stackValue(0), i.stackValue(1)
	if n < 0 || !i.performArity(rcvr, selector, n) {
		i.primitiveFail()
		return
	}
	sp := i.frame.sp
	i.stack[sp-n-3] = rcvr
	i.frame.sp -= 2
	i.performAtBaseLevel(selector, n, i.vm.ClassOf(rcvr))
}

// primitiveDomainRequestExecInLookupClass performs the requested send with
// the lookup starting in the given class:
//
//	domain selector args lookupClass rcvr  =>  rcvr a1 .. an
func (i *Interpreter) primitiveDomainRequestExecInLookupClass() {
	rcvr, lookupClass := i.stackValue(0), i.stackValue(1)
	args, selector := i.stackValue(2), i.stackValue(3)
	array := i.vm.Heap.Object(args)
	b := i.vm.BehaviorOfClass(lookupClass)
	if array == nil || array.format != FormatIndexablePointers || b == nil || !i.vm.Symbols.IsSymbol(selector) {
		i.primitiveFail()
		return
	}
	values := array.fields[array.fixed:]
	if m := b.Lookup(selector); m != NullOop && i.vm.MethodHeaderOf(m).NumArgs != len(values) {
		i.primitiveFail()
		return
	}
	i.popThenPush(5, rcvr)
	for _, v := range values {
		i.push(v)
	}
	i.performAtBaseLevel(selector, len(values), lookupClass)
}

// performAtBaseLevel dispatches selector to the receiver numArgs slots below
// the top. The active frame is dropped to base level for the activation;
// callPrimitive restores its level afterwards.
func (i *Interpreter) performAtBaseLevel(selector Oop, numArgs int, lookupClass Oop) {
	i.frame.meta = false
	i.messageSelector = selector
	i.argumentCount = numArgs
	i.lookupClass = lookupClass
	i.findNewMethodInClass(lookupClass)
	i.executeNewMethod()
	i.successFlag = true
}
