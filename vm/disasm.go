package vm

import (
	"fmt"
	"strings"
)

// Disassemble renders method as a listing, one instruction per line:
//
//	Point>>x (0 args, 0 temps)
//	   0  <00>        pushRcvr 0
//	   1  <7c>        returnTop
func (vm *VM) Disassemble(method Oop) (string, error) {
	obj := vm.Heap.Object(method)
	if obj == nil || obj.method == nil {
		return "", fmt.Errorf("%v is not a compiled method", method)
	}
	h := obj.method
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d args, %d temps", vm.MethodName(method), h.NumArgs, h.NumTemps)
	if h.Primitive != 0 {
		fmt.Fprintf(&sb, ", primitive %d", h.Primitive)
	}
	sb.WriteString(")\n")

	code := obj.bytes
	for pc := 0; pc < len(code); {
		b := Bytecode(code[pc])
		n := min(b.Length(), len(code)-pc)
		raw := make([]string, n)
		for k := range raw {
			raw[k] = fmt.Sprintf("%02x", code[pc+k])
		}
		fmt.Fprintf(&sb, "%4d  %-10s %s", pc, "<"+strings.Join(raw, " ")+">", b)
		if n == b.Length() {
			if operand := vm.describeOperand(obj, code, pc); operand != "" {
				sb.WriteString(" " + operand)
			}
		}
		sb.WriteByte('\n')
		pc += n
	}
	return sb.String(), nil
}

func (vm *VM) describeOperand(method *Object, code []byte, pc int) string {
	b := Bytecode(code[pc])
	next := pc + b.Length()
	switch {
	case b < BcPushLiteralConstant:
		return fmt.Sprint(int(b & 0xf))
	case b >= BcStoreAndPopReceiverVariable && b < BcPushReceiver:
		return fmt.Sprint(int(b & 7))
	case b >= BcShortJump && b < BcLongJump:
		return fmt.Sprintf("-> %d", next+int(b&7)+1)
	case b >= BcLongJump && b < BcLongJumpIfTrue:
		return fmt.Sprintf("-> %d", next+longJumpOffset(byte(b), code[pc+1]))
	case b >= BcLongJumpIfTrue && b < BcSpecialSend:
		return fmt.Sprintf("-> %d", next+longCondJumpOffset(byte(b), code[pc+1]))
	}
	switch b {
	case BcPushNewArray:
		return fmt.Sprintf("size %d", code[pc+1]&127)
	case BcPushRemoteTemp, BcStoreRemoteTemp, BcStoreAndPopRemoteTemp:
		return fmt.Sprintf("%d in vector %d", code[pc+1], code[pc+2])
	case BcPushClosureCopyCopiedVals:
		size := int(code[pc+2])<<8 | int(code[pc+3])
		return fmt.Sprintf("numArgs %d numCopied %d -> %d", code[pc+1]&0xf, code[pc+1]>>4, next+size)
	}
	if idx := LiteralIndexAt(code, pc); idx >= 0 {
		if idx < method.fixed {
			return vm.Describe(method.fields[idx])
		}
		return fmt.Sprintf("literal %d out of range", idx)
	}
	return ""
}

// Describe renders oop briefly: integers, symbols, strings, floats, and
// globals by value, anything else by class.
func (vm *VM) Describe(lit Oop) string {
	switch {
	case lit.IsInt():
		return fmt.Sprint(lit.IntValue())
	case lit == vm.Special.Nil:
		return "nil"
	case lit == vm.Special.True:
		return "true"
	case lit == vm.Special.False:
		return "false"
	case vm.Symbols.IsSymbol(lit):
		return "#" + vm.Symbols.Name(lit)
	}
	obj := vm.Heap.Object(lit)
	if obj == nil {
		return lit.String()
	}
	if obj.class == vm.Special.AssociationClass.self && len(obj.fields) > AssociationKeyIndex {
		if key := obj.fields[AssociationKeyIndex]; vm.Symbols.IsSymbol(key) {
			return vm.Symbols.Name(key)
		}
	}
	if s, ok := vm.StringValue(lit); ok && obj.class == vm.Special.StringClass.self {
		return fmt.Sprintf("%q", s)
	}
	if f, ok := vm.FloatValue(lit); ok {
		return fmt.Sprint(f)
	}
	return "a " + vm.ClassNameOf(lit)
}
