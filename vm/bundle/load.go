package bundle

import (
	"context"
	"fmt"

	"github.com/chazu/omnivm/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("omnivm.bundle")

var formats = map[string]vm.Format{
	"pointers":  vm.FormatPointers,
	"indexable": vm.FormatIndexablePointers,
	"bytes":     vm.FormatBytes,
}

// Program is a bundle loaded into a VM.
type Program struct {
	VM       *vm.VM
	Methods  []vm.Oop // in bundle order
	Receiver vm.Oop   // NullOop without an entry point
	Selector string
}

// Run sends the entry selector on i and returns the answer.
func (p *Program) Run(ctx context.Context, i *vm.Interpreter) (vm.Oop, error) {
	if p.Receiver == vm.NullOop {
		return vm.NullOop, fmt.Errorf("bundle: no entry point")
	}
	return i.Send(ctx, p.Receiver, p.Selector)
}

// Load defines the bundle's classes, installs its methods, binds its
// globals, and prepares the entry receiver.
func (b *Bundle) Load(v *vm.VM) (*Program, error) {
	if err := b.defineClasses(v); err != nil {
		return nil, err
	}
	p := &Program{VM: v}
	for _, m := range b.Methods {
		method, err := loadMethod(v, m)
		if err != nil {
			return nil, err
		}
		p.Methods = append(p.Methods, method)
	}
	for _, g := range b.Globals {
		if err := bindGlobal(v, g); err != nil {
			return nil, err
		}
	}
	if e := b.Entry; e != nil {
		rcvr, err := instantiate(v, e.Class, e.Domain)
		if err != nil {
			return nil, fmt.Errorf("bundle: entry: %w", err)
		}
		p.Receiver, p.Selector = rcvr, e.Selector
	}
	log.Infof("loaded %d classes and %d methods", len(b.Classes), len(b.Methods))
	return p, nil
}

// defineClasses defines classes in dependency order, so a class may precede
// its superclass in the bundle.
func (b *Bundle) defineClasses(v *vm.VM) error {
	pending := b.Classes
	for len(pending) > 0 {
		var later []Class
		for _, c := range pending {
			superName := c.Superclass
			if superName == "" {
				superName = "Object"
			}
			super := v.Classes.Lookup(superName)
			if super == nil {
				later = append(later, c)
				continue
			}
			format := super.Format
			if c.Format != "" {
				f, ok := formats[c.Format]
				if !ok {
					return fmt.Errorf("bundle: class %s: unknown format %q", c.Name, c.Format)
				}
				format = f
			}
			v.DefineClass(c.Name, super, c.InstVars, format)
			log.Debugf("defined %s", c.Name)
		}
		if len(later) == len(pending) {
			return fmt.Errorf("bundle: superclass of %s: %w %s", later[0].Name, ErrUnknownClass, later[0].Superclass)
		}
		pending = later
	}
	return nil
}

func loadMethod(v *vm.VM, m Method) (vm.Oop, error) {
	cls := v.Classes.Lookup(m.Class)
	if cls == nil {
		return vm.NullOop, fmt.Errorf("bundle: method %s: %w %s", m.Selector, ErrUnknownClass, m.Class)
	}
	if m.Meta {
		cls = v.MetaclassOf(cls)
	}
	if err := checkBytecodes(m.Bytecodes); err != nil {
		return vm.NullOop, fmt.Errorf("bundle: %s>>%s: %w", cls.Name, m.Selector, err)
	}
	literals := make([]vm.Oop, len(m.Literals))
	for k, lit := range m.Literals {
		oop, err := materialize(v, lit)
		if err != nil {
			return vm.NullOop, fmt.Errorf("bundle: %s>>%s literal %d: %w", cls.Name, m.Selector, k, err)
		}
		literals[k] = oop
	}
	numArgs := vm.NumArgsOf(m.Selector)
	selector := v.Symbols.Intern(m.Selector)
	method := v.NewMethod(vm.MethodHeader{
		NumArgs:    numArgs,
		NumTemps:   max(m.NumTemps, numArgs),
		Primitive:  m.Primitive,
		LargeFrame: m.LargeFrame,
		Class:      cls.Oop(),
		Selector:   selector,
	}, literals, m.Bytecodes)
	v.InstallMethod(cls, selector, method)
	return method, nil
}

// checkBytecodes rejects unknown opcodes and truncated instructions.
func checkBytecodes(code []byte) error {
	for pc := 0; pc < len(code); {
		b := vm.Bytecode(code[pc])
		if b.Info().Unknown {
			return fmt.Errorf("unknown bytecode %d at %d", code[pc], pc)
		}
		if pc+b.Length() > len(code) {
			return fmt.Errorf("truncated %s at %d", b, pc)
		}
		pc += b.Length()
	}
	return nil
}

func materialize(v *vm.VM, lit Literal) (vm.Oop, error) {
	switch lit.Kind {
	case LiteralInt:
		oop, ok := vm.TryFromInt(lit.Int)
		if !ok {
			return vm.NullOop, fmt.Errorf("integer %d out of SmallInteger range", lit.Int)
		}
		return oop, nil
	case LiteralSymbol:
		return v.Symbols.Intern(lit.Str), nil
	case LiteralString:
		return v.NewString(lit.Str), nil
	case LiteralFloat:
		return v.NewFloat(lit.Float), nil
	case LiteralGlobal:
		return v.Global(lit.Str), nil
	case LiteralNil:
		return v.Special.Nil, nil
	case LiteralTrue:
		return v.Special.True, nil
	case LiteralFalse:
		return v.Special.False, nil
	}
	return vm.NullOop, fmt.Errorf("unknown literal kind %d", lit.Kind)
}

func bindGlobal(v *vm.VM, g Global) error {
	var value vm.Oop
	switch {
	case g.Instance != "":
		oop, err := instantiate(v, g.Instance, g.Domain)
		if err != nil {
			return fmt.Errorf("bundle: global %s: %w", g.Name, err)
		}
		value = oop
	case g.Value != nil:
		oop, err := materialize(v, *g.Value)
		if err != nil {
			return fmt.Errorf("bundle: global %s: %w", g.Name, err)
		}
		value = oop
		if g.Domain != "" {
			if err := placeInDomain(v, value, g.Domain); err != nil {
				return fmt.Errorf("bundle: global %s: %w", g.Name, err)
			}
		}
	default:
		value = v.Special.Nil
	}
	v.SetGlobal(g.Name, value)
	return nil
}

// instantiate creates an instance of className, in a new instance of
// domainName when given.
func instantiate(v *vm.VM, className, domainName string) (vm.Oop, error) {
	cls := v.Classes.Lookup(className)
	if cls == nil {
		return vm.NullOop, fmt.Errorf("%w %s", ErrUnknownClass, className)
	}
	oop := v.NewInstance(cls, 0)
	if domainName != "" {
		if err := placeInDomain(v, oop, domainName); err != nil {
			return vm.NullOop, err
		}
	}
	return oop, nil
}

func placeInDomain(v *vm.VM, oop vm.Oop, domainName string) error {
	dc := v.Classes.Lookup(domainName)
	if dc == nil {
		return fmt.Errorf("domain: %w %s", ErrUnknownClass, domainName)
	}
	if !dc.InheritsFrom(v.Special.DomainClass) {
		return fmt.Errorf("%s is not a Domain", domainName)
	}
	return v.SetDomain(oop, v.NewInstance(dc, 0))
}
