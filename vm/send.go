package vm

import "fmt"

// ---------------------------------------------------------------------------
// Method lookup
// ---------------------------------------------------------------------------

// flushStaleCaches empties the method cache if a method was installed or
// removed since it was filled.
func (i *Interpreter) flushStaleCaches() {
	if epoch := i.vm.methodEpoch.Load(); epoch != i.cacheEpoch {
		i.methodCache.Flush()
		i.cacheEpoch = epoch
		i.log.Debugf("method cache flushed at epoch %d", epoch)
	}
}

// findNewMethodInClass resolves messageSelector starting at class and loads
// newMethod, primitiveIndex, and nativeCode. A failed lookup or an arity
// mismatch is fatal.
func (i *Interpreter) findNewMethodInClass(class Oop) {
	if i.assertions && !i.messageSelector.IsObjectReference() {
		panic(&AssertionError{i.diagnostic("selector is not a heap reference")})
	}
	i.flushStaleCaches()
	e := i.methodCache.Lookup(class, i.messageSelector)
	if e == nil {
		e = i.lookupMethodInClass(class)
	}
	if e.NumArgs != i.argumentCount {
		i.fatal(fmt.Sprintf("%s takes %d arguments, sent with %d", i.vm.MethodName(e.Method), e.NumArgs, i.argumentCount))
	}
	i.newMethod = e.Method
	i.primitiveIndex = e.Primitive
	i.nativeCode = e.Native
}

func (i *Interpreter) lookupMethodInClass(class Oop) *MethodCacheEntry {
	b := i.vm.BehaviorOfClass(class)
	if b == nil {
		i.fatal("method lookup in non-class " + class.String())
	}
	method := b.Lookup(i.messageSelector)
	if method == NullOop {
		i.doesNotUnderstand(b)
	}
	header := i.vm.MethodHeaderOf(method)
	native, _ := i.vm.Native.Lookup(method)
	return i.methodCache.Add(MethodCacheEntry{
		Class:     class,
		Selector:  i.messageSelector,
		Method:    method,
		NumArgs:   header.NumArgs,
		Primitive: header.Primitive,
		Native:    native,
	})
}

// doesNotUnderstand has no recovery: there is no generic doesNotUnderstand:
// dispatch, so a failed lookup stops the core.
func (i *Interpreter) doesNotUnderstand(b *Behavior) {
	i.fatal(fmt.Sprintf("%s does not understand #%s", b.Name, i.vm.Symbols.Name(i.messageSelector)))
}

// ---------------------------------------------------------------------------
// Sends from bytecode handlers (internal state)
// ---------------------------------------------------------------------------

// normalSend sends messageSelector to the receiver argumentCount slots below
// the top.
func (i *Interpreter) normalSend() {
	rcvr := i.internalStackValue(i.argumentCount)
	i.lookupClass = i.vm.ClassOf(rcvr)
	i.commonSend()
}

// sendWithDelegationCheck is normalSend preceded by the request-execution
// check on the receiver.
func (i *Interpreter) sendWithDelegationCheck() {
	rcvr := i.internalStackValue(i.argumentCount)
	if i.RequiresDelegation(rcvr, MaskRequestExecution) {
		i.omniRequestExecution(i.internalStack())
	}
	i.normalSend()
}

// superclassSend looks up messageSelector above the class defining the
// active method. A delegated super send goes to the domain in the
// argument-array form, carrying the lookup class.
func (i *Interpreter) superclassSend() {
	header := i.vm.MethodHeaderOf(i.method)
	defining := i.vm.BehaviorOfClass(header.Class)
	if defining == nil || defining.Superclass() == nil {
		i.fatal("super send with no superclass")
	}
	lookup := defining.SuperclassOop()
	rcvr := i.internalStackValue(i.argumentCount)
	if i.RequiresDelegation(rcvr, MaskRequestExecution) {
		i.omniRequestExecutionInLookupClass(i.internalStack(), lookup)
	} else {
		i.lookupClass = lookup
	}
	i.commonSend()
}

// commonSend dispatches the prepared send from internal state.
func (i *Interpreter) commonSend() {
	i.externalizeExecutionState()
	i.findNewMethodInClass(i.lookupClass)
	i.executeNewMethod()
	i.internalizeExecutionState()
}

// specialSend sends special selector n, first rewriting it into a
// request-execution send if delegate is set.
func (i *Interpreter) specialSend(n int, delegate bool) {
	i.messageSelector = i.vm.Special.Selectors[n]
	i.argumentCount = SpecialSelectors[n].NumArgs
	if delegate {
		i.omniRequestExecution(i.internalStack())
	}
	i.normalSend()
}

// specialSendWithDelegationCheck sends special selector n, checking the
// receiver for request-execution delegation first.
func (i *Interpreter) specialSendWithDelegationCheck(n int) {
	rcvr := i.internalStackValue(SpecialSelectors[n].NumArgs)
	i.specialSend(n, i.RequiresDelegation(rcvr, MaskRequestExecution))
}

// ---------------------------------------------------------------------------
// Method execution (external state)
// ---------------------------------------------------------------------------

// executeNewMethod runs newMethod for the receiver and arguments on the
// stack: native code through the trampolines, then the primitive, then an
// interpreted activation.
func (i *Interpreter) executeNewMethod() {
	i.SendCount++
	if i.nativeCode != nil {
		a := i.safepointAbility(true)
		rcvr := i.stackValue(i.argumentCount)
		if i.vm.ClassOf(rcvr) == i.lookupClass {
			i.trampolines.EnterPopReceiverAndClassRegs(i, i.nativeCode, i.lookupClass)
		} else {
			i.trampolines.EnterPopReceiverReg(i, i.nativeCode)
		}
		a.Release()
		return
	}
	if i.primitiveIndex != 0 && i.callPrimitive() {
		return
	}
	i.activateNewMethod()
	i.checkForInterrupts()
}

// callPrimitive runs primitiveIndex under safepoint ability. A primitive
// reached through a delegated send runs at meta level. On failure the stack
// is as it was.
func (i *Interpreter) callPrimitive() bool {
	frame, fp, sp := i.frame, i.fp, i.frame.sp
	saved, pending := frame.meta, i.pendingMeta
	if pending {
		frame.meta = true
		i.pendingMeta = false
	}
	a := i.safepointAbility(true)
	i.successFlag = true
	primitiveFor(i.primitiveIndex)(i)
	a.Release()
	frame.meta = saved

	if !i.successFlag {
		if i.assertions && (i.fp != fp || frame.sp != sp) {
			panic(&AssertionError{i.diagnostic(fmt.Sprintf("primitive %d failed after changing the stack", i.primitiveIndex))})
		}
		i.pendingMeta = pending
		return false
	}
	i.applyResultDisposition()
	return true
}

// tryPrimitive runs primitive n on the top argc+1 stack slots from inside a
// bytecode handler. It reports success; on failure the stack is unchanged.
func (i *Interpreter) tryPrimitive(n, argc int) bool {
	i.externalizeExecutionState()
	saved := i.argumentCount
	i.argumentCount = argc
	a := i.safepointAbility(true)
	i.successFlag = true
	primitiveFor(n)(i)
	a.Release()
	i.argumentCount = saved
	i.internalizeExecutionState()
	return i.successFlag
}
