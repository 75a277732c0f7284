package vm

import "github.com/tliron/commonlog"

// OMNI rewrite sends.
//
// Each delegated operation is turned into an ordinary send to the domain of
// the object concerned, using one of the reserved protocol selectors. The
// rewrite leaves the stack exactly as a normal send of that selector would
// expect it and marks the send so that the handler activates at meta level.
//
// Internal forms run from bytecode handlers against the register sp;
// external forms run from primitives against the frame's sp.

// domainOf returns rcvr's domain, or nil.
func (i *Interpreter) domainOf(rcvr Oop) Oop {
	if obj := i.vm.Heap.Object(rcvr); obj != nil {
		if d := obj.DomainOop(); d.IsObjectReference() {
			return d
		}
	}
	return i.vm.Special.Nil
}

// omniSend dispatches a rewritten send of selector to domain, whose receiver
// slot and argc arguments are already on s.
func (i *Interpreter) omniSend(s operandStack, selector Oop, argc int, domain Oop) {
	i.messageSelector = selector
	i.argumentCount = argc
	i.lookupClass = i.vm.ClassOf(domain)
	i.pendingMeta = true
	i.traceDelegation(selector, domain)
	if s.sp == &i.sp {
		i.omniCommonInternalSend()
	} else {
		i.omniCommonSend()
	}
}

func (i *Interpreter) traceDelegation(selector, domain Oop) {
	if i.log.AllowLevel(commonlog.Debug) {
		i.log.Debugf("delegating #%s to %s", i.vm.Symbols.Name(selector), i.vm.ClassNameOf(domain))
	}
}

// omniCommonInternalSend dispatches a rewritten send from a bytecode
// handler.
func (i *Interpreter) omniCommonInternalSend() {
	i.commonSend()
}

// omniCommonSend dispatches a rewritten send from a primitive. The primitive
// that delegated counts as successful: the domain produces the result.
func (i *Interpreter) omniCommonSend() {
	i.findNewMethodInClass(i.lookupClass)
	i.executeNewMethod()
	i.successFlag = true
}

// ---------------------------------------------------------------------------
// Request execution
// ---------------------------------------------------------------------------

// omniRequestExecution rewrites the prepared send of messageSelector into a
// request-execution send to the receiver's domain:
//
//	rcvr a1 .. an  =>  domain a1 .. an selector rcvr
//
// Sends with more arguments than the protocol has selectors for use the
// argument-array form. The caller dispatches the rewritten send.
func (i *Interpreter) omniRequestExecution(s operandStack) {
	argc := i.argumentCount
	rcvr := s.value(argc)
	if argc > MaxRequestExecArgs {
		i.omniRequestExecutionInLookupClass(s, i.vm.ClassOf(rcvr))
		return
	}
	domain := i.domainOf(rcvr)
	s.set(argc, domain)
	s.push(i.messageSelector)
	s.push(rcvr)
	i.traceDelegation(i.messageSelector, domain)
	i.messageSelector = i.vm.Protocol.RequestExec[argc]
	i.argumentCount = argc + 2
	i.pendingMeta = true
}

// omniRequestExecutionInLookupClass rewrites the prepared send into the
// argument-array form, which also carries the class to start the lookup in:
//
//	rcvr a1 .. an  =>  domain selector {a1 .. an} lookupClass rcvr
//
// The caller dispatches the rewritten send; lookupClass is set to the
// domain's class.
func (i *Interpreter) omniRequestExecutionInLookupClass(s operandStack, lookupClass Oop) {
	argc := i.argumentCount
	internal := s.sp == &i.sp
	if internal {
		i.externalizeExecutionState()
	}
	a := i.safepointAbility(true)
	args := i.allocate(i.vm.Special.ArrayClass, argc, 0)
	a.Release()
	if internal {
		i.reloadMethod()
	}
	for k := 0; k < argc; k++ {
		args.storePointerUnchecked(k, s.value(argc-1-k))
	}
	rcvr := s.value(argc)
	domain := i.domainOf(rcvr)
	selector := i.messageSelector

	s.set(argc, domain)
	s.popThenPush(argc, selector)
	s.push(args.self)
	s.push(lookupClass)
	s.push(rcvr)
	i.messageSelector = i.vm.Protocol.RequestExecInLookupClass
	i.argumentCount = 4
	i.lookupClass = i.vm.ClassOf(domain)
	i.pendingMeta = true
}

// ---------------------------------------------------------------------------
// Fields and literal variables (internal)
// ---------------------------------------------------------------------------

// omniReadField pushes obj's field idx through its domain.
func (i *Interpreter) omniReadField(obj Oop, idx int) {
	s := i.internalStack()
	domain := i.domainOf(obj)
	s.push(domain)
	s.push(FromInt(int64(idx + 1)))
	s.push(obj)
	i.omniSend(s, i.vm.Protocol.ReadField, 2, domain)
}

// omniWriteField stores value into obj's field idx through its domain. The
// domain's answer is left on the stack where the stored value was.
func (i *Interpreter) omniWriteField(obj Oop, idx int, value Oop) {
	s := i.internalStack()
	domain := i.domainOf(obj)
	s.push(domain)
	s.push(value)
	s.push(FromInt(int64(idx + 1)))
	s.push(obj)
	i.omniSend(s, i.vm.Protocol.WriteField, 3, domain)
}

// omniWriteFieldWithReturn is the store-and-pop form. value and newTop have
// been popped; once the domain returns, newTop is back on top, so the
// bytecode's net effect is the same as the undelegated store.
func (i *Interpreter) omniWriteFieldWithReturn(obj Oop, idx int, value, newTop Oop) {
	s := i.internalStack()
	domain := i.domainOf(obj)
	s.push(domain)
	s.push(value)
	s.push(FromInt(int64(idx + 1)))
	s.push(obj)
	s.push(newTop)
	i.pendingDisposition, i.pendingSubstitute = substituteResult, newTop
	i.omniSend(s, i.vm.Protocol.WriteFieldWithReturn, 4, domain)
}

// omniReadLiteral pushes the value of a literal variable through the domain
// of the executing method.
func (i *Interpreter) omniReadLiteral(assoc Oop) {
	s := i.internalStack()
	domain := i.localDomain
	s.push(domain)
	s.push(assoc)
	i.omniSend(s, i.vm.Protocol.ReadLiteral, 1, domain)
}

// omniWriteLiteral stores value into a literal variable through the domain
// of the executing method. value has been popped. For the store-and-pop form
// the domain's answer is dropped.
func (i *Interpreter) omniWriteLiteral(assoc, value Oop, pop bool) {
	s := i.internalStack()
	domain := i.localDomain
	s.push(domain)
	s.push(value)
	s.push(assoc)
	if pop {
		i.pendingDisposition = discardResult
	}
	i.omniSend(s, i.vm.Protocol.WriteLiteral, 2, domain)
}

// ---------------------------------------------------------------------------
// Primitive requests
// ---------------------------------------------------------------------------

// omniRequestPrimitiveAt rewrites an at: with rcvr and index on s:
//
//	rcvr index  =>  domain index rcvr
func (i *Interpreter) omniRequestPrimitiveAt(s operandStack) {
	index, rcvr := s.value(0), s.value(1)
	domain := i.domainOf(rcvr)
	s.popThenPush(2, domain)
	s.push(index)
	s.push(rcvr)
	i.omniSend(s, i.vm.Protocol.PrimAt, 2, domain)
}

// omniRequestPrimitiveAtPut rewrites an at:put::
//
//	rcvr index value  =>  domain index rcvr value
func (i *Interpreter) omniRequestPrimitiveAtPut(s operandStack) {
	value, index, rcvr := s.value(0), s.value(1), s.value(2)
	domain := i.domainOf(rcvr)
	s.popThenPush(3, domain)
	s.push(index)
	s.push(rcvr)
	s.push(value)
	i.omniSend(s, i.vm.Protocol.PrimAtPut, 3, domain)
}

// omniRequestPrimitiveClone rewrites a shallowCopy of the top.
func (i *Interpreter) omniRequestPrimitiveClone(s operandStack) {
	rcvr := s.top()
	domain := i.domainOf(rcvr)
	s.popThenPush(1, domain)
	s.push(rcvr)
	i.omniSend(s, i.vm.Protocol.PrimShallowCopy, 1, domain)
}

// omniRequestPrimitiveNext rewrites a next on the stream on top.
func (i *Interpreter) omniRequestPrimitiveNext(s operandStack) {
	rcvr := s.top()
	domain := i.domainOf(rcvr)
	s.popThenPush(1, domain)
	s.push(rcvr)
	i.omniSend(s, i.vm.Protocol.PrimNext, 1, domain)
}

// omniRequestPrimitiveNextPut rewrites a nextPut::
//
//	stream value  =>  domain stream value
func (i *Interpreter) omniRequestPrimitiveNextPut(s operandStack) {
	value, rcvr := s.value(0), s.value(1)
	domain := i.domainOf(rcvr)
	s.popThenPush(2, domain)
	s.push(rcvr)
	s.push(value)
	i.omniSend(s, i.vm.Protocol.PrimNextPut, 2, domain)
}

// omniRequestPrimitiveReplace rewrites replaceFrom:to:with:startingAt::
//
//	rcvr start stop repl replStart  =>  domain start stop repl replStart rcvr
func (i *Interpreter) omniRequestPrimitiveReplace(s operandStack) {
	rcvr := s.value(4)
	domain := i.domainOf(rcvr)
	s.set(4, domain)
	s.push(rcvr)
	i.omniSend(s, i.vm.Protocol.PrimReplace, 5, domain)
}
