package vm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var vmLog = commonlog.GetLogger("omnivm")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the settings a VM is created with.
type Config struct {
	Cores                  int  // logical cores RunCores keeps busy at once
	Assertions             bool // run consistency checks
	StackSlots             int  // initial operand stack slots per core
	InterruptCheckInterval int  // interrupt points between cancellation checks
	MethodCacheSize        int  // entries per core, rounded up to a power of two
	RelocateEvery          int  // allocations between relocations; 0 disables
	HotThreshold           int  // activations before a method is compiled; 0 disables
}

// DefaultConfig returns the settings used when no manifest is present.
func DefaultConfig() Config {
	return Config{
		Cores:                  1,
		StackSlots:             4096,
		InterruptCheckInterval: 1000,
		MethodCacheSize:        1024,
		RelocateEvery:          0,
		HotThreshold:           0,
	}
}

// ---------------------------------------------------------------------------
// VM: state shared by every core
// ---------------------------------------------------------------------------

// SpecialObjects are the objects and classes the interpreter refers to
// directly.
type SpecialObjects struct {
	Nil, True, False Oop

	ObjectClass          *Behavior
	UndefinedObjectClass *Behavior
	BooleanClass         *Behavior
	TrueClass            *Behavior
	FalseClass           *Behavior
	MagnitudeClass       *Behavior
	SmallIntegerClass    *Behavior
	FloatClass           *Behavior
	CollectionClass      *Behavior
	ArrayedClass         *Behavior
	StringClass          *Behavior
	SymbolClass          *Behavior
	ArrayClass           *Behavior
	ByteArrayClass       *Behavior
	CompiledMethodClass  *Behavior
	MethodContextClass   *Behavior
	BlockClosureClass    *Behavior
	PointClass           *Behavior
	StreamClass          *Behavior
	AssociationClass     *Behavior
	DomainClass          *Behavior
	ClassClass           *Behavior
	MetaclassClass       *Behavior

	// Sent by bytecodes 176-207, indexed like SpecialSelectors.
	Selectors [32]Oop

	SelectorCannotReturn  Oop
	SelectorMustBeBoolean Oop
}

// VM is the object memory, class space, and configuration shared by the
// interpreters running on it. Each logical core is an Interpreter created by
// NewInterpreter; the VM itself does not interpret.
type VM struct {
	Config Config

	Heap       *Heap
	Symbols    *SymbolTable
	Classes    *ClassTable
	Special    SpecialObjects
	Protocol   DomainProtocol
	Safepoints *SafepointCoordinator

	Native      *NativeCodeCache
	Trampolines Trampolines

	methodEpoch atomic.Uint64

	globalsMu sync.RWMutex
	globals   map[string]Oop // name -> Association
}

// MethodEpoch changes whenever a method dictionary or native code changes.
func (vm *VM) MethodEpoch() uint64 {
	return vm.methodEpoch.Load()
}

func (vm *VM) bumpMethodEpoch() {
	vm.methodEpoch.Add(1)
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// ClassOf returns the class of oop. Panics with a FatalError for sentinels
// and dangling references.
func (vm *VM) ClassOf(oop Oop) Oop {
	if oop.IsInt() {
		return vm.Special.SmallIntegerClass.self
	}
	obj := vm.Heap.Object(oop)
	if obj == nil {
		panic(&FatalError{Diagnostic{Reason: "class of non-object " + oop.String()}})
	}
	return obj.class
}

// BehaviorOfClass returns the metadata of a class object, or nil if class
// is not one.
func (vm *VM) BehaviorOfClass(class Oop) *Behavior {
	if obj := vm.Heap.Object(class); obj != nil {
		return obj.behavior
	}
	return nil
}

// BehaviorOf returns the metadata of oop's class.
func (vm *VM) BehaviorOf(oop Oop) *Behavior {
	return vm.BehaviorOfClass(vm.ClassOf(oop))
}

// ClassNameOf names oop's class for diagnostics. Never panics.
func (vm *VM) ClassNameOf(oop Oop) string {
	if oop.IsInt() {
		return vm.Special.SmallIntegerClass.Name
	}
	obj := vm.Heap.Object(oop)
	if obj == nil {
		return oop.String()
	}
	if b := vm.BehaviorOfClass(obj.class); b != nil {
		return b.Name
	}
	return "?"
}

// DefineClass creates a class and its metaclass. Redefining a name replaces
// the registry entry; existing instances keep the old class.
func (vm *VM) DefineClass(name string, super *Behavior, instVars []string, format Format) *Behavior {
	b := vm.newClassObject(name, super, instVars, format)
	vm.attachMetaclass(b)
	vm.Classes.Register(b)
	vm.SetGlobal(name, b.self)
	return b
}

// newClassObject allocates a class object without a metaclass.
func (vm *VM) newClassObject(name string, super *Behavior, instVars []string, format Format) *Behavior {
	if super != nil && format == FormatPointers && super.Format != FormatPointers {
		format = super.Format
	}
	b := newBehavior(name, super, instVars, format)
	obj := vm.Heap.Allocate(NullOop, FormatPointers, 0, 0, 0, vm.Special.Nil)
	obj.behavior = b
	b.self = obj.self
	return b
}

// attachMetaclass gives b its metaclass "b class", a subclass of the
// superclass's metaclass (Class at the root).
func (vm *VM) attachMetaclass(b *Behavior) {
	metaSuper := vm.Special.ClassClass
	if b.super != nil {
		if m := vm.BehaviorOfClass(vm.Heap.Object(b.super.self).class); m != nil {
			metaSuper = m
		}
	}
	meta := vm.newClassObject(b.Name+" class", metaSuper, nil, FormatPointers)
	meta.Meta = true
	if mc := vm.Special.MetaclassClass; mc != nil {
		vm.Heap.Object(meta.self).class = mc.self
	}
	vm.Heap.Object(b.self).class = meta.self
}

// MetaclassOf returns the metaclass of b.
func (vm *VM) MetaclassOf(b *Behavior) *Behavior {
	return vm.BehaviorOfClass(vm.Heap.Object(b.self).class)
}

// InstallMethod adds method to cls under selector and invalidates every
// core's caches.
func (vm *VM) InstallMethod(cls *Behavior, selector, method Oop) {
	cls.addMethod(selector, method)
	vm.bumpMethodEpoch()
}

// RemoveMethod removes selector from cls.
func (vm *VM) RemoveMethod(cls *Behavior, selector Oop) {
	cls.removeMethod(selector)
	vm.bumpMethodEpoch()
}

// ---------------------------------------------------------------------------
// Object construction for embedders
// ---------------------------------------------------------------------------

// NewInstance allocates an instance of b with size indexable slots (bytes for
// byte classes), no domain.
func (vm *VM) NewInstance(b *Behavior, size int) Oop {
	if b.Format == FormatBytes {
		return vm.Heap.Allocate(b.self, b.Format, b.InstSize, 0, size, vm.Special.Nil).self
	}
	return vm.Heap.Allocate(b.self, b.Format, b.InstSize, size, 0, vm.Special.Nil).self
}

// NewArray allocates an Array holding values.
func (vm *VM) NewArray(values ...Oop) Oop {
	obj := vm.Heap.Allocate(vm.Special.ArrayClass.self, FormatIndexablePointers, 0, len(values), 0, vm.Special.Nil)
	copy(obj.fields, values)
	return obj.self
}

// NewString allocates a String.
func (vm *VM) NewString(s string) Oop {
	obj := vm.Heap.Allocate(vm.Special.StringClass.self, FormatBytes, 0, 0, len(s), vm.Special.Nil)
	copy(obj.bytes, s)
	return obj.self
}

// NewFloat boxes v.
func (vm *VM) NewFloat(v float64) Oop {
	obj := vm.Heap.Allocate(vm.Special.FloatClass.self, FormatFloat, 0, 0, 8, vm.Special.Nil)
	binary.LittleEndian.PutUint64(obj.bytes, math.Float64bits(v))
	return obj.self
}

// NewAssociation allocates key -> value.
func (vm *VM) NewAssociation(key, value Oop) Oop {
	obj := vm.Heap.Allocate(vm.Special.AssociationClass.self, FormatPointers, 2, 0, 0, vm.Special.Nil)
	obj.fields[AssociationKeyIndex] = key
	obj.fields[AssociationValueIndex] = value
	return obj.self
}

// NewPoint allocates x@y.
func (vm *VM) NewPoint(x, y Oop) Oop {
	obj := vm.Heap.Allocate(vm.Special.PointClass.self, FormatPointers, 2, 0, 0, vm.Special.Nil)
	obj.fields[PointXIndex] = x
	obj.fields[PointYIndex] = y
	return obj.self
}

// NewStream allocates a ReadWriteStream over collection, positioned at the
// start with readLimit elements readable.
func (vm *VM) NewStream(collection Oop, readLimit int) (Oop, error) {
	coll := vm.Heap.Object(collection)
	if coll == nil {
		return NullOop, fmt.Errorf("stream over non-object %v", collection)
	}
	size := coll.IndexableSize()
	if readLimit < 0 || readLimit > size {
		return NullOop, fmt.Errorf("read limit %d out of range 0..%d", readLimit, size)
	}
	b := vm.Special.StreamClass
	obj := vm.Heap.Allocate(b.self, b.Format, b.InstSize, 0, 0, vm.Special.Nil)
	obj.fields[StreamCollectionIndex] = collection
	obj.fields[StreamPositionIndex] = FromInt(0)
	obj.fields[StreamReadLimitIndex] = FromInt(int64(readLimit))
	obj.fields[StreamWriteLimitIndex] = FromInt(int64(size))
	return obj.self, nil
}

// Fetch reads field n (0-based, named fields first) of obj.
func (vm *VM) Fetch(obj Oop, n int) (Oop, error) {
	o := vm.Heap.Object(obj)
	if o == nil || n < 0 || n >= len(o.fields) {
		return NullOop, fmt.Errorf("no field %d in %v", n, obj)
	}
	return o.fields[n], nil
}

// Store writes field n of obj.
func (vm *VM) Store(obj Oop, n int, value Oop) error {
	o := vm.Heap.Object(obj)
	if o == nil || n < 0 || n >= len(o.fields) {
		return fmt.Errorf("no field %d in %v", n, obj)
	}
	vm.Heap.StorePointer(o, n, value)
	return nil
}

// SetDomain places obj under domain. Pass Special.Nil to remove it.
func (vm *VM) SetDomain(obj, domain Oop) error {
	o := vm.Heap.Object(obj)
	if o == nil {
		return fmt.Errorf("cannot set the domain of %v", obj)
	}
	vm.Heap.SetDomain(o, domain)
	return nil
}

// DomainOf returns obj's domain, or nil.
func (vm *VM) DomainOf(obj Oop) Oop {
	if o := vm.Heap.Object(obj); o != nil {
		if d := o.DomainOop(); d.IsObjectReference() {
			return d
		}
	}
	return vm.Special.Nil
}

// Bool converts b to true or false.
func (vm *VM) Bool(b bool) Oop {
	if b {
		return vm.Special.True
	}
	return vm.Special.False
}

// StringValue returns the contents of a String or Symbol.
func (vm *VM) StringValue(oop Oop) (string, bool) {
	obj := vm.Heap.Object(oop)
	if obj == nil || obj.format != FormatBytes {
		return "", false
	}
	return string(obj.bytes), true
}

// FloatValue unboxes a Float.
func (vm *VM) FloatValue(oop Oop) (float64, bool) {
	obj := vm.Heap.Object(oop)
	if obj == nil || obj.format != FormatFloat {
		return 0, false
	}
	return obj.FloatValue(), true
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// Global returns the Association bound to name, creating it with a nil
// value. Methods refer to globals through these associations.
func (vm *VM) Global(name string) Oop {
	vm.globalsMu.RLock()
	assoc, ok := vm.globals[name]
	vm.globalsMu.RUnlock()
	if ok {
		return assoc
	}

	vm.globalsMu.Lock()
	defer vm.globalsMu.Unlock()
	if assoc, ok := vm.globals[name]; ok {
		return assoc
	}
	assoc = vm.NewAssociation(vm.Symbols.Intern(name), vm.Special.Nil)
	vm.globals[name] = assoc
	return assoc
}

// GlobalValue returns the value bound to name, or nil.
func (vm *VM) GlobalValue(name string) Oop {
	v, _ := vm.Fetch(vm.Global(name), AssociationValueIndex)
	return v
}

// SetGlobal binds name to value.
func (vm *VM) SetGlobal(name string, value Oop) {
	assoc := vm.Global(name)
	vm.Heap.StorePointer(vm.Heap.Object(assoc), AssociationValueIndex, value)
}

// ---------------------------------------------------------------------------
// Running cores
// ---------------------------------------------------------------------------

// Job is work for one logical core.
type Job func(ctx context.Context, i *Interpreter) error

// RunCores runs each job on its own interpreter, at most Config.Cores at a
// time. The first failure cancels the context the others run under.
func (vm *VM) RunCores(ctx context.Context, jobs []Job) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(vm.Config.Cores, 1))
	for core, job := range jobs {
		g.Go(func() error {
			i := vm.NewInterpreter(core)
			i.log.Info("core started")
			err := job(ctx, i)
			if err != nil {
				return fmt.Errorf("core %d: %w", core, err)
			}
			i.log.Info("core stopped", "bytecodes", i.BytecodeCount, "sends", i.SendCount)
			return nil
		})
	}
	return g.Wait()
}
