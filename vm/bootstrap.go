package vm

import (
	"strings"
	"unicode"
)

// NewVM creates a VM with the kernel classes and their primitive methods
// installed.
func NewVM(cfg Config) *VM {
	vm := &VM{
		Config:      cfg,
		Heap:        NewHeap(cfg.RelocateEvery, cfg.Assertions),
		Classes:     NewClassTable(),
		Safepoints:  NewSafepointCoordinator(),
		Trampolines: ResolveTrampolines(),
		globals:     make(map[string]Oop),
	}
	vm.Native = NewNativeCodeCache(vm, cfg.HotThreshold)
	vm.bootstrapClasses()
	vm.bootstrapMethods()
	vmLog.Debugf("bootstrapped %d classes, %d symbols", vm.Classes.Len(), vm.Symbols.Len())
	return vm
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func (vm *VM) bootstrapClasses() {
	heap := vm.Heap
	s := &vm.Special

	// nil first, so that everything allocated afterwards can be filled with it.
	s.Nil = heap.Allocate(NullOop, FormatPointers, 0, 0, 0, NullOop).self
	s.True = heap.Allocate(NullOop, FormatPointers, 0, 0, 0, s.Nil).self
	s.False = heap.Allocate(NullOop, FormatPointers, 0, 0, 0, s.Nil).self

	var kernel []*Behavior
	define := func(name string, super *Behavior, format Format, instVars ...string) *Behavior {
		b := vm.newClassObject(name, super, instVars, format)
		vm.Classes.Register(b)
		kernel = append(kernel, b)
		return b
	}

	s.ObjectClass = define("Object", nil, FormatPointers)
	s.ClassClass = define("Class", s.ObjectClass, FormatPointers)
	s.MetaclassClass = define("Metaclass", s.ClassClass, FormatPointers)
	s.UndefinedObjectClass = define("UndefinedObject", s.ObjectClass, FormatPointers)
	s.BooleanClass = define("Boolean", s.ObjectClass, FormatPointers)
	s.TrueClass = define("True", s.BooleanClass, FormatPointers)
	s.FalseClass = define("False", s.BooleanClass, FormatPointers)
	s.MagnitudeClass = define("Magnitude", s.ObjectClass, FormatPointers)
	s.SmallIntegerClass = define("SmallInteger", s.MagnitudeClass, FormatPointers)
	s.FloatClass = define("Float", s.MagnitudeClass, FormatFloat)
	s.PointClass = define("Point", s.ObjectClass, FormatPointers, "x", "y")
	s.AssociationClass = define("Association", s.ObjectClass, FormatPointers, "key", "value")
	s.CollectionClass = define("Collection", s.ObjectClass, FormatPointers)
	s.ArrayedClass = define("ArrayedCollection", s.CollectionClass, FormatPointers)
	s.ArrayClass = define("Array", s.ArrayedClass, FormatIndexablePointers)
	s.StringClass = define("String", s.ArrayedClass, FormatBytes)
	s.SymbolClass = define("Symbol", s.StringClass, FormatBytes)
	s.ByteArrayClass = define("ByteArray", s.ArrayedClass, FormatBytes)
	s.StreamClass = define("ReadWriteStream", s.ObjectClass, FormatPointers, "collection", "position", "readLimit", "writeLimit")
	s.CompiledMethodClass = define("CompiledMethod", s.ObjectClass, FormatCompiledMethod)
	s.MethodContextClass = define("MethodContext", s.ObjectClass, FormatContext,
		"sender", "pc", "stackp", "method", "closureOrNil", "receiver")
	s.BlockClosureClass = define("BlockClosure", s.ObjectClass, FormatClosure, "outerContext", "startpc", "numArgs")
	s.DomainClass = define("Domain", s.ObjectClass, FormatPointers)

	heap.Object(s.Nil).class = s.UndefinedObjectClass.self
	heap.Object(s.True).class = s.TrueClass.self
	heap.Object(s.False).class = s.FalseClass.self

	vm.Symbols = NewSymbolTable(heap, s.SymbolClass.self)
	for _, b := range kernel {
		vm.attachMetaclass(b)
	}
	for _, b := range kernel {
		vm.SetGlobal(b.Name, b.self)
	}

	vm.Protocol = newDomainProtocol(vm.Symbols)
	for n, sel := range SpecialSelectors {
		s.Selectors[n] = vm.Symbols.Intern(sel.Name)
	}
	s.SelectorCannotReturn = vm.Symbols.Intern("cannotReturn:")
	s.SelectorMustBeBoolean = vm.Symbols.Intern("mustBeBoolean")
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// NumArgsOf returns the arity of a selector: one for binary selectors,
// otherwise the number of colons.
func NumArgsOf(selector string) int {
	if selector == "" {
		return 0
	}
	if r := rune(selector[0]); !unicode.IsLetter(r) && r != '_' {
		return 1
	}
	return strings.Count(selector, ":")
}

// installPrimitive installs cls>>selector as primitive prim whose failure
// code reports the failure.
func (vm *VM) installPrimitive(cls *Behavior, selector string, prim int) {
	n := NumArgsOf(selector)
	NewMethodBuilder(vm, n, n).Primitive(prim).
		PushSelf().SendLiteral("primitiveFailed", 0).ReturnTop().
		MustInstall(cls, selector)
}

// installCoercing installs a SmallInteger primitive that retries the
// operation in Float when it fails.
func (vm *VM) installCoercing(selector string, prim int) {
	NewMethodBuilder(vm, 1, 1).Primitive(prim).
		PushSelf().Send("asFloat", 0).PushTemp(0).Send(selector, 1).ReturnTop().
		MustInstall(vm.Special.SmallIntegerClass, selector)
}

// installAccessor installs a getter for field n.
func (vm *VM) installAccessor(cls *Behavior, selector string, n int) {
	NewMethodBuilder(vm, 0, 0).PushReceiverVariable(n).ReturnTop().MustInstall(cls, selector)
}

func (vm *VM) bootstrapMethods() {
	s := &vm.Special

	// Object
	obj := s.ObjectClass
	NewMethodBuilder(vm, 0, 0).Primitive(primPrimitiveFailed).ReturnSelf().MustInstall(obj, "primitiveFailed")
	NewMethodBuilder(vm, 0, 0).Primitive(primMustBeBoolean).ReturnSelf().MustInstall(obj, "mustBeBoolean")
	NewMethodBuilder(vm, 0, 0).ReturnSelf().MustInstall(obj, "yourself")
	NewMethodBuilder(vm, 1, 1).PushSelf().PushTemp(0).Send("==", 1).ReturnTop().MustInstall(obj, "=")
	NewMethodBuilder(vm, 0, 0).PushSelf().PushNil().Send("==", 1).ReturnTop().MustInstall(obj, "isNil")
	for sel, prim := range map[string]int{
		"==":                      primEquivalent,
		"class":                   primClass,
		"at:":                     primAt,
		"at:put:":                 primAtPut,
		"basicAt:":                primAt,
		"basicAt:put:":            primAtPut,
		"size":                    primSize,
		"basicSize":               primSize,
		"shallowCopy":             primShallowCopy,
		"instVarAt:":              primInstVarAt,
		"instVarAt:put:":          primInstVarAtPut,
		"identityHash":            primIdentityHash,
		"perform:":                primPerform,
		"perform:with:":           primPerform,
		"perform:with:with:":      primPerform,
		"perform:with:with:with:": primPerform,
		"perform:withArguments:":  primPerformWithArgs,
		"domain":                  primDomain,
		"domain:":                 primSetDomain,
	} {
		vm.installPrimitive(obj, sel, prim)
	}

	// Class side
	cls := s.ClassClass
	vm.installPrimitive(cls, "basicNew", primBasicNew)
	vm.installPrimitive(cls, "basicNew:", primBasicNewWith)
	NewMethodBuilder(vm, 0, 0).PushSelf().SendLiteral("basicNew", 0).ReturnTop().MustInstall(cls, "new")
	NewMethodBuilder(vm, 1, 1).PushSelf().PushTemp(0).SendLiteral("basicNew:", 1).ReturnTop().MustInstall(cls, "new:")

	// Booleans
	NewMethodBuilder(vm, 0, 0).ReturnFalse().MustInstall(s.TrueClass, "not")
	NewMethodBuilder(vm, 0, 0).ReturnTrue().MustInstall(s.FalseClass, "not")

	// SmallInteger
	for sel, prim := range map[string]int{
		"+": primIntegerAdd, "-": primIntegerSubtract, "*": primIntegerMultiply, "/": primIntegerDivide,
		"<": primIntegerLessThan, ">": primIntegerGreaterThan, "<=": primIntegerLessOrEqual,
		">=": primIntegerGreaterOrEq, "=": primIntegerEqual, "~=": primIntegerNotEqual,
	} {
		vm.installCoercing(sel, prim)
	}
	for sel, prim := range map[string]int{
		"\\\\": primIntegerMod, "//": primIntegerDiv, "quo:": primIntegerQuo,
		"bitAnd:": primIntegerBitAnd, "bitOr:": primIntegerBitOr, "bitXor:": primIntegerBitXor,
		"bitShift:": primIntegerBitShift, "@": primMakePoint, "asFloat": primAsFloat,
	} {
		vm.installPrimitive(s.SmallIntegerClass, sel, prim)
	}

	// Float
	for sel, prim := range map[string]int{
		"+": primFloatAdd, "-": primFloatSubtract, "*": primFloatMultiply, "/": primFloatDivide,
		"<": primFloatLessThan, ">": primFloatGreaterThan, "<=": primFloatLessOrEqual,
		">=": primFloatGreaterOrEqual, "truncated": primFloatTruncated, "@": primMakePoint,
	} {
		vm.installPrimitive(s.FloatClass, sel, prim)
	}
	// A non-number is never equal.
	NewMethodBuilder(vm, 1, 1).Primitive(primFloatEqual).ReturnFalse().MustInstall(s.FloatClass, "=")
	NewMethodBuilder(vm, 1, 1).Primitive(primFloatNotEqual).ReturnTrue().MustInstall(s.FloatClass, "~=")
	NewMethodBuilder(vm, 0, 0).ReturnSelf().MustInstall(s.FloatClass, "asFloat")

	// Point and Association
	vm.installAccessor(s.PointClass, "x", PointXIndex)
	vm.installAccessor(s.PointClass, "y", PointYIndex)
	vm.installAccessor(s.AssociationClass, "key", AssociationKeyIndex)
	vm.installAccessor(s.AssociationClass, "value", AssociationValueIndex)

	// Collections and streams
	vm.installPrimitive(s.ArrayedClass, "replaceFrom:to:with:startingAt:", primReplace)
	vm.installDo(s.ArrayedClass)
	vm.installPrimitive(s.StreamClass, "next", primNext)
	vm.installPrimitive(s.StreamClass, "nextPut:", primNextPut)
	vm.installPrimitive(s.StreamClass, "atEnd", primAtEnd)

	// Execution
	vm.installPrimitive(s.MethodContextClass, "cannotReturn:", primCannotReturn)
	value := "value"
	for n := 0; n <= 4; n++ {
		vm.installPrimitive(s.BlockClosureClass, value, primClosureValue+n)
		if n == 0 {
			value = "value:"
		} else {
			value += "value:"
		}
	}
	vm.installPrimitive(s.BlockClosureClass, "valueWithArguments:", primClosureValueWithArgs)
	vm.installAccessor(s.BlockClosureClass, "numArgs", ClosureNumArgsIndex)

	vm.bootstrapDomain()
}

// installDo installs do: over the indexable elements of the receiver.
//
//	do: aBlock
//		| i |
//		i := 1.
//		[i <= self size] whileTrue: [aBlock value: (self at: i). i := i + 1]
func (vm *VM) installDo(cls *Behavior) {
	b := NewMethodBuilder(vm, 1, 2)
	loop, done := b.NewLabel(), b.NewLabel()
	b.PushInt(1).PopIntoTemp(1).
		Mark(loop).
		PushTemp(1).PushSelf().Send("size", 0).Send("<=", 1).JumpIfFalse(done).
		PushTemp(0).PushSelf().PushTemp(1).Send("at:", 1).Send("value:", 1).Pop().
		PushTemp(1).PushInt(1).Send("+", 1).PopIntoTemp(1).
		Jump(loop).
		Mark(done).
		ReturnSelf().
		MustInstall(cls, "do:")
}

// bootstrapDomain installs the Domain defaults. Each performs the operation
// unintercepted; subclasses override the selectors they customize.
func (vm *VM) bootstrapDomain() {
	d := vm.Special.DomainClass
	name := func(sel Oop) string { return vm.Symbols.Name(sel) }
	p := &vm.Protocol

	for _, sel := range p.RequestExec {
		vm.installPrimitive(d, name(sel), primDomainRequestExec)
	}
	for sel, prim := range map[Oop]int{
		p.RequestExecInLookupClass: primDomainRequestExecInLookupClass,
		p.ReadField:                primDomainReadField,
		p.WriteField:               primDomainWriteField,
		p.WriteFieldWithReturn:     primDomainWriteFieldWithReturn,
		p.ReadLiteral:              primDomainReadLiteral,
		p.WriteLiteral:             primDomainWriteLiteral,
		p.PrimAt:                   primDomainPrimAt,
		p.PrimAtPut:                primDomainPrimAtPut,
		p.PrimShallowCopy:          primDomainPrimShallowCopy,
		p.PrimNext:                 primDomainPrimNext,
		p.PrimNextPut:              primDomainPrimNextPut,
		p.PrimReplace:              primDomainPrimReplace,
	} {
		vm.installPrimitive(d, name(sel), prim)
	}
	vm.installPrimitive(d, "evaluateEnforced:", primEvaluateEnforced)
}
