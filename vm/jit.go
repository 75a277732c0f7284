package vm

import (
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

var nativeLog = commonlog.GetLogger("omnivm.native")

// ---------------------------------------------------------------------------
// Native code interface
// ---------------------------------------------------------------------------

// NativeMethod is the entry point of natively compiled code for one method.
// The entry trampoline pops the receiver and arguments and passes them in;
// the returned Oop goes back through ReturnToInterpreter. Native code may
// call back into the interpreter with Interpreter.Send.
type NativeMethod func(i *Interpreter, receiver Oop, args []Oop) Oop

// CodeGenerator compiles a hot method. It returns false if the method cannot
// be compiled.
type CodeGenerator func(vm *VM, method Oop) (NativeMethod, bool)

// NativeCodeCache holds native entry points by CompiledMethod. Methods become
// candidates once they have been activated HotThreshold times; the Generator
// is then asked to compile them.
type NativeCodeCache struct {
	vm *VM

	mu     sync.RWMutex
	code   map[Oop]NativeMethod
	counts map[Oop]int64

	HotThreshold int64
	Generator    CodeGenerator

	compiled atomic.Uint64
}

// NewNativeCodeCache creates an empty cache for vm.
func NewNativeCodeCache(vm *VM, hotThreshold int) *NativeCodeCache {
	return &NativeCodeCache{
		vm:           vm,
		code:         make(map[Oop]NativeMethod),
		counts:       make(map[Oop]int64),
		HotThreshold: int64(hotThreshold),
	}
}

// Lookup returns the native entry for method, if any.
func (c *NativeCodeCache) Lookup(method Oop) (NativeMethod, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nm, ok := c.code[method]
	return nm, ok
}

// Install registers native code for method. Every core's method cache is
// invalidated so that the next send picks it up.
func (c *NativeCodeCache) Install(method Oop, nm NativeMethod) {
	c.mu.Lock()
	c.code[method] = nm
	c.mu.Unlock()
	c.compiled.Add(1)
	c.vm.bumpMethodEpoch()
	nativeLog.Debugf("installed native code for %s", c.vm.MethodName(method))
}

// Remove drops the native code for method.
func (c *NativeCodeCache) Remove(method Oop) {
	c.mu.Lock()
	_, ok := c.code[method]
	delete(c.code, method)
	c.mu.Unlock()
	if ok {
		c.vm.bumpMethodEpoch()
	}
}

// Compiled returns how many methods have been given native code.
func (c *NativeCodeCache) Compiled() uint64 {
	return c.compiled.Load()
}

// RecordInvocation counts an interpreted activation of method and compiles
// it when it becomes hot.
func (c *NativeCodeCache) RecordInvocation(method Oop) {
	if c.Generator == nil || c.HotThreshold <= 0 {
		return
	}
	c.mu.Lock()
	c.counts[method]++
	hot := c.counts[method] == c.HotThreshold
	c.mu.Unlock()
	if !hot {
		return
	}
	if nm, ok := c.Generator(c.vm, method); ok {
		c.Install(method, nm)
	}
}

// ---------------------------------------------------------------------------
// Trampolines
// ---------------------------------------------------------------------------

// Trampolines are the fixed entry and exit points between interpreted and
// native code. They are resolved once by ResolveTrampolines and copied into
// every interpreter.
type Trampolines struct {
	// EnterPopReceiverAndClassRegs enters native code for a send whose
	// lookup started at the receiver's class, which is the cache tag.
	EnterPopReceiverAndClassRegs func(i *Interpreter, code NativeMethod, class Oop)
	// EnterPopReceiverReg enters native code for super sends, where the
	// receiver's class is not the cache tag.
	EnterPopReceiverReg func(i *Interpreter, code NativeMethod)
	// ReturnToInterpreter hands a native result back to the sender.
	ReturnToInterpreter func(i *Interpreter, result Oop)
}

// ResolveTrampolines returns the trampoline set.
func ResolveTrampolines() Trampolines {
	return Trampolines{
		EnterPopReceiverAndClassRegs: enterPopReceiverAndClassRegs,
		EnterPopReceiverReg:          enterPopReceiverReg,
		ReturnToInterpreter:          returnToInterpreter,
	}
}

func enterPopReceiverAndClassRegs(i *Interpreter, code NativeMethod, class Oop) {
	receiver, args := i.popReceiverAndArgs(i.argumentCount)
	if i.assertions && i.vm.ClassOf(receiver) != class {
		panic(&AssertionError{i.diagnostic("native entry with mismatched class register")})
	}
	i.trampolines.ReturnToInterpreter(i, i.callNative(code, receiver, args))
}

func enterPopReceiverReg(i *Interpreter, code NativeMethod) {
	receiver, args := i.popReceiverAndArgs(i.argumentCount)
	i.trampolines.ReturnToInterpreter(i, i.callNative(code, receiver, args))
}

func returnToInterpreter(i *Interpreter, result Oop) {
	i.push(result)
	i.applyResultDisposition()
}

// callNative runs native code at the level the send requested. The pending
// result disposition is held aside so that sends made by the native code do
// not consume it.
func (i *Interpreter) callNative(code NativeMethod, receiver Oop, args []Oop) Oop {
	frame := i.frame
	saved := frame.meta
	if i.pendingMeta {
		frame.meta = true
		i.pendingMeta = false
	}
	disposition, substitute := i.takeResultDisposition()
	defer func() {
		frame.meta = saved
		i.pendingDisposition, i.pendingSubstitute = disposition, substitute
	}()
	return code(i, receiver, args)
}
