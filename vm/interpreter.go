package vm

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/tliron/commonlog"
)

var interpreterLog = commonlog.GetLogger("omnivm.interpreter")

// ---------------------------------------------------------------------------
// Interpreter: one logical core
// ---------------------------------------------------------------------------

// Interpreter executes bytecode on one logical core. It owns its stack,
// frames, registers, and caches; the heap, symbols, and classes are shared
// through the VM. An Interpreter must only be used from one goroutine.
type Interpreter struct {
	vm   *VM
	core int
	log  commonlog.Logger

	stack  []Oop
	frames []*Frame
	fp     int
	frame  *Frame

	// Registers, valid between internalize and externalize.
	ip              int
	sp              int
	method          Oop
	bytecodes       []byte
	literals        []Oop
	receiver        Oop
	localDomain     Oop
	currentBytecode byte

	// Send state, valid between preparing a send and dispatching it.
	messageSelector Oop
	argumentCount   int
	lookupClass     Oop
	newMethod       Oop
	primitiveIndex  int
	nativeCode      NativeMethod
	successFlag     bool

	// Requests for the next activation.
	pendingMeta        bool
	pendingDisposition resultDisposition
	pendingSubstitute  Oop

	reclaimableContextCount int
	interruptCheckCounter   int
	interruptCheckInterval  int

	methodCache *MethodCache
	cacheEpoch  uint64
	atCache     AtCache
	encodings   encodingCache

	trampolines   Trampolines
	safepointAble bool
	assertions    bool

	ctx   context.Context
	exit  bool
	depth int

	// Statistics
	BytecodeCount uint64
	SendCount     uint64
}

// NewInterpreter creates the interpreter for logical core id.
func (vm *VM) NewInterpreter(core int) *Interpreter {
	cfg := vm.Config
	i := &Interpreter{
		vm:                     vm,
		core:                   core,
		log:                    commonlog.NewKeyValueLogger(interpreterLog, "core", core),
		stack:                  make([]Oop, max(cfg.StackSlots, LargeFrameSize)),
		interruptCheckInterval: max(cfg.InterruptCheckInterval, 1),
		methodCache:            NewMethodCache(cfg.MethodCacheSize),
		trampolines:            vm.Trampolines,
		assertions:             cfg.Assertions,
		ctx:                    context.Background(),
	}
	i.interruptCheckCounter = i.interruptCheckInterval
	root := &Frame{owner: i, method: NullOop, receiver: vm.Special.Nil, closure: NullOop, context: NullOop}
	i.frames = append(make([]*Frame, 0, 64), root)
	i.frame = root
	i.receiver = vm.Special.Nil
	return i
}

// Core returns the logical core id.
func (i *Interpreter) Core() int { return i.core }

// VM returns the machine this interpreter runs on.
func (i *Interpreter) VM() *VM { return i.vm }

// Depth returns the number of active frames.
func (i *Interpreter) Depth() int { return i.fp }

// ActiveFrame returns the innermost frame, or nil when idle.
func (i *Interpreter) ActiveFrame() *Frame {
	if i.fp == 0 {
		return nil
	}
	return i.frame
}

// MethodCache returns this core's method cache.
func (i *Interpreter) MethodCache() *MethodCache { return i.methodCache }

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Send sends selector to receiver and runs until it returns. It may be
// called re-entrantly from native code.
func (i *Interpreter) Send(ctx context.Context, receiver Oop, selector string, args ...Oop) (Oop, error) {
	return i.SendSelector(ctx, receiver, i.vm.Symbols.Intern(selector), args)
}

// SendSelector is Send with an interned selector.
func (i *Interpreter) SendSelector(ctx context.Context, receiver, selector Oop, args []Oop) (Oop, error) {
	return i.execute(ctx, receiver, args, func() {
		i.messageSelector = selector
		i.argumentCount = len(args)
		i.lookupClass = i.vm.ClassOf(receiver)
		i.findNewMethodInClass(i.lookupClass)
		i.executeNewMethod()
	})
}

// Run activates method on receiver directly, without a lookup.
func (i *Interpreter) Run(ctx context.Context, method, receiver Oop, args ...Oop) (Oop, error) {
	return i.execute(ctx, receiver, args, func() {
		header := i.vm.MethodHeaderOf(method)
		if header.NumArgs != len(args) {
			i.fatal(fmt.Sprintf("%s takes %d arguments, got %d", i.vm.MethodName(method), header.NumArgs, len(args)))
		}
		i.messageSelector = header.Selector
		i.argumentCount = len(args)
		i.newMethod = method
		i.primitiveIndex = header.Primitive
		i.nativeCode = nil
		i.executeNewMethod()
	})
}

type sendState struct {
	selector  Oop
	argc      int
	lookup    Oop
	method    Oop
	primitive int
	native    NativeMethod
	success   bool
}

func (i *Interpreter) saveSendState() sendState {
	return sendState{i.messageSelector, i.argumentCount, i.lookupClass, i.newMethod, i.primitiveIndex, i.nativeCode, i.successFlag}
}

func (i *Interpreter) restoreSendState(s sendState) {
	i.messageSelector, i.argumentCount, i.lookupClass = s.selector, s.argc, s.lookup
	i.newMethod, i.primitiveIndex, i.nativeCode, i.successFlag = s.method, s.primitive, s.native, s.success
}

// execute pushes receiver and args on the active frame, lets start dispatch
// the send, and interprets until the activation it created returns. Panics
// raised by fatal conditions, assertions, and interrupts are turned into
// errors here and nowhere else.
func (i *Interpreter) execute(ctx context.Context, receiver Oop, args []Oop, start func()) (result Oop, err error) {
	if i.depth == 0 {
		i.ctx = ctx
		i.vm.Safepoints.Register()
		defer i.vm.Safepoints.Unregister()
	}
	i.depth++
	saved := i.saveSendState()
	base, baseSP := i.fp, i.frame.sp
	ability := i.safepointAbility(false)

	defer func() {
		ability.Release()
		i.depth--
		if r := recover(); r != nil {
			err = i.recoverFault(r)
			result = NullOop
			i.unwindTo(base)
			i.frame.sp = baseSP
			i.pendingMeta = false
			i.takeResultDisposition()
			i.exit = false
		}
		i.restoreSendState(saved)
		i.internalizeExecutionState()
	}()

	i.push(receiver)
	for _, a := range args {
		i.push(a)
	}
	start()
	if i.fp > base {
		i.frames[base+1].entry = true
		i.internalizeExecutionState()
		i.interpret()
	}
	result = i.popOne()
	return result, nil
}

// interruptSignal unwinds the loop when the context is cancelled.
type interruptSignal struct{ cause error }

func (i *Interpreter) recoverFault(r any) error {
	var err error
	switch e := r.(type) {
	case *FatalError:
		err = e
	case *AssertionError:
		err = e
	case interruptSignal:
		i.log.Info("interrupted", "cause", e.cause)
		return fmt.Errorf("%w: %w", ErrInterrupted, e.cause)
	case runtime.Error:
		err = &FatalError{i.diagnostic(e.Error())}
	case error:
		err = &FatalError{i.diagnostic(e.Error())}
	default:
		err = &FatalError{i.diagnostic(fmt.Sprint(e))}
	}
	i.log.Critical(err.Error())
	return err
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// interpret runs until the entry frame returns.
func (i *Interpreter) interpret() {
	for !i.exit {
		b := i.bytecodes[i.ip]
		i.currentBytecode = b
		i.ip++
		i.BytecodeCount++
		bytecodeHandlers[b](i)
	}
	i.exit = false
}

// checkForInterrupts runs at backward jumps and activations. It honours
// cancellation and parks at a safepoint if another core asked for one.
func (i *Interpreter) checkForInterrupts() {
	moved := i.vm.Safepoints.Poll()
	i.interruptCheckCounter--
	if i.interruptCheckCounter <= 0 {
		i.interruptCheckCounter = i.interruptCheckInterval
		select {
		case <-i.ctx.Done():
			panic(interruptSignal{i.ctx.Err()})
		default:
		}
		a := i.safepointAbility(true)
		if i.maybeRelocate() {
			moved = true
		}
		a.Release()
	}
	if moved {
		i.reloadMethod()
	}
}

// maybeRelocate runs a pending relocation if the interpreter may stop here.
func (i *Interpreter) maybeRelocate() bool {
	if !i.safepointAble || !i.vm.Heap.RelocationDue() {
		return false
	}
	i.vm.Safepoints.StopTheWorld(i, i.vm.Heap.Relocate)
	return true
}

// allocate creates an instance of class with no domain. The heap may
// relocate first, so any *Object held by the caller is invalid afterwards.
func (i *Interpreter) allocate(class *Behavior, indexable, numBytes int) *Object {
	i.maybeRelocate()
	obj := i.vm.Heap.Allocate(class.self, class.Format, class.InstSize, indexable, numBytes, i.vm.Special.Nil)
	return obj
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func (i *Interpreter) diagnostic(reason string) Diagnostic {
	d := Diagnostic{Reason: reason, Selector: i.messageSelector, Core: i.core, IP: i.ip}
	if i.method != NullOop {
		d.Method = i.vm.MethodName(i.method)
	}
	return d
}

// fatal aborts interpretation.
func (i *Interpreter) fatal(reason string) {
	panic(&FatalError{i.diagnostic(reason)})
}

// IsFatal reports whether err is a fatal interpreter condition.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
