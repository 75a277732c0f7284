package vm

import "fmt"

// ---------------------------------------------------------------------------
// CompiledMethod header
// ---------------------------------------------------------------------------

// Frame sizes in slots, as in the Squeak method header.
const (
	SmallFrameSize = 16
	LargeFrameSize = 56
)

// MethodHeader is the metadata of a CompiledMethod. The method object itself
// holds the literal frame in its fields and the bytecodes in its bytes.
type MethodHeader struct {
	NumArgs    int
	NumTemps   int // arguments included
	Primitive  int
	LargeFrame bool
	Class      Oop // defining class, start of super lookup
	Selector   Oop
}

// FrameSize returns the number of stack slots the method may use.
func (h *MethodHeader) FrameSize() int {
	if h.LargeFrame {
		return LargeFrameSize
	}
	return SmallFrameSize
}

// NewMethod allocates a CompiledMethod with the given literals and code.
func (vm *VM) NewMethod(header MethodHeader, literals []Oop, bytecodes []byte) Oop {
	if header.NumTemps < header.NumArgs {
		header.NumTemps = header.NumArgs
	}
	obj := vm.Heap.Allocate(vm.Special.CompiledMethodClass.Oop(), FormatCompiledMethod, len(literals), 0, len(bytecodes), vm.Special.Nil)
	copy(obj.fields, literals)
	copy(obj.bytes, bytecodes)
	h := header
	obj.method = &h
	return obj.self
}

// MethodHeaderOf returns the header of method.
// Panics with a FatalError if method is not a CompiledMethod.
func (vm *VM) MethodHeaderOf(method Oop) *MethodHeader {
	obj := vm.Heap.Object(method)
	if obj == nil || obj.method == nil {
		panic(&FatalError{Diagnostic{Reason: fmt.Sprintf("%v is not a compiled method", method)}})
	}
	return obj.method
}

// MethodName renders method as Class>>selector for diagnostics.
func (vm *VM) MethodName(method Oop) string {
	obj := vm.Heap.Object(method)
	if obj == nil || obj.method == nil {
		return method.String()
	}
	className := "?"
	if cls := vm.Heap.Object(obj.method.Class); cls != nil && cls.behavior != nil {
		className = cls.behavior.Name
	}
	return className + ">>" + vm.Symbols.Name(obj.method.Selector)
}
