package vm

import "strings"

// ---------------------------------------------------------------------------
// Delegation masks
// ---------------------------------------------------------------------------

// DelegationMask selects operation categories a domain may intercept. A
// domain's customization encoding is the union of the masks of the protocol
// selectors its class implements.
type DelegationMask uint32

const (
	MaskRequestExecution DelegationMask = 1 << iota
	MaskReadField
	MaskWriteField
	MaskReadLiteral
	MaskWriteLiteral
	MaskPrimAt
	MaskPrimAtPut
	MaskPrimShallowCopy
	MaskPrimNext
	MaskPrimNextPut
	MaskPrimReplace
)

func (m DelegationMask) String() string {
	names := []string{
		"requestExecution", "readField", "writeField", "readLiteral",
		"writeLiteral", "primAt", "primAtPut", "primShallowCopy",
		"primNext", "primNextPut", "primReplace",
	}
	var parts []string
	for bit, name := range names {
		if m&(1<<bit) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// MaxRequestExecArgs is the largest arity with its own request-execution
// selector. Larger sends use the argument-array form.
const MaxRequestExecArgs = 7

// ---------------------------------------------------------------------------
// Domain protocol
// ---------------------------------------------------------------------------

// DomainProtocol holds the reserved selectors a domain implements to take
// part in delegation. Argument order:
//
//	requestExecOf: sel on: rcvr                       (no-arg send)
//	requestExecWith: a1 ... of: sel on: rcvr          (1..MaxRequestExecArgs)
//	requestExecOf: sel with: args lookup: cls on: rcvr
//	readField: idx of: obj                            (idx is 1-based)
//	write: val toField: idx of: obj
//	write: val toField: idx of: obj return: newTop
//	readLiteral: assoc
//	write: val toLiteral: assoc
//	primAt: idx on: rcvr
//	primAt: idx on: rcvr put: val
//	primShallowCopy: obj
//	primNext: stream
//	primNext: stream put: val
//	primReplaceFrom: start to: stop with: repl startingAt: replStart on: rcvr
type DomainProtocol struct {
	RequestExec              [MaxRequestExecArgs + 1]Oop
	RequestExecInLookupClass Oop
	ReadField                Oop
	WriteField               Oop
	WriteFieldWithReturn     Oop
	ReadLiteral              Oop
	WriteLiteral             Oop
	PrimAt                   Oop
	PrimAtPut                Oop
	PrimShallowCopy          Oop
	PrimNext                 Oop
	PrimNextPut              Oop
	PrimReplace              Oop

	masks map[Oop]DelegationMask
}

// RequestExecSelector returns the request-execution selector name for a
// send of numArgs arguments.
func RequestExecSelector(numArgs int) string {
	if numArgs == 0 {
		return "requestExecOf:on:"
	}
	return "requestExecWith:" + strings.Repeat("with:", numArgs-1) + "of:on:"
}

func newDomainProtocol(symbols *SymbolTable) DomainProtocol {
	p := DomainProtocol{masks: make(map[Oop]DelegationMask)}
	def := func(name string, mask DelegationMask) Oop {
		sym := symbols.Intern(name)
		p.masks[sym] = mask
		return sym
	}
	for n := range p.RequestExec {
		p.RequestExec[n] = def(RequestExecSelector(n), MaskRequestExecution)
	}
	p.RequestExecInLookupClass = def("requestExecOf:with:lookup:on:", MaskRequestExecution)
	p.ReadField = def("readField:of:", MaskReadField)
	p.WriteField = def("write:toField:of:", MaskWriteField)
	p.WriteFieldWithReturn = def("write:toField:of:return:", MaskWriteField)
	p.ReadLiteral = def("readLiteral:", MaskReadLiteral)
	p.WriteLiteral = def("write:toLiteral:", MaskWriteLiteral)
	p.PrimAt = def("primAt:on:", MaskPrimAt)
	p.PrimAtPut = def("primAt:on:put:", MaskPrimAtPut)
	p.PrimShallowCopy = def("primShallowCopy:", MaskPrimShallowCopy)
	p.PrimNext = def("primNext:", MaskPrimNext)
	p.PrimNextPut = def("primNext:put:", MaskPrimNextPut)
	p.PrimReplace = def("primReplaceFrom:to:with:startingAt:on:", MaskPrimReplace)
	return p
}

// MaskOf returns the mask a protocol selector enables, or 0.
func (p *DomainProtocol) MaskOf(selector Oop) DelegationMask {
	return p.masks[selector]
}

// CustomizationEncoding derives the encoding of domains of class cls: the
// protocol selectors implemented by cls and its superclasses below the
// Domain class. The defaults on Domain itself intercept nothing.
func (vm *VM) CustomizationEncoding(cls *Behavior) DelegationMask {
	var stop *Behavior
	if root := vm.Special.DomainClass; root != nil && cls.InheritsFrom(root) {
		stop = root
	}
	var enc DelegationMask
	for c := cls; c != nil && c != stop; c = c.super {
		for _, sel := range c.Selectors() {
			enc |= vm.Protocol.masks[sel]
		}
	}
	return enc
}

// ---------------------------------------------------------------------------
// Delegation decision
// ---------------------------------------------------------------------------

type encodingCache struct {
	epoch     uint64
	encodings map[*Behavior]DelegationMask
}

func (c *encodingCache) lookup(vm *VM, cls *Behavior) DelegationMask {
	if epoch := vm.methodEpoch.Load(); epoch != c.epoch || c.encodings == nil {
		c.encodings = make(map[*Behavior]DelegationMask)
		c.epoch = epoch
	}
	enc, ok := c.encodings[cls]
	if !ok {
		enc = vm.CustomizationEncoding(cls)
		c.encodings[cls] = enc
	}
	return enc
}

// domainEncoding returns the cached customization encoding of domain.
func (i *Interpreter) domainEncoding(domain Oop) DelegationMask {
	return i.encodings.lookup(i.vm, i.vm.BehaviorOf(domain))
}

// executesOnMetaLevel reports whether the active frame runs as a domain
// handler.
func (i *Interpreter) executesOnMetaLevel() bool {
	return i.frame.meta
}

// RequiresDelegation decides whether an operation in mask on rcvr is
// redirected to rcvr's domain. Checks run cheapest first: level, tag, domain
// presence, then the encoding.
//
// A domain slot holding IllegalFreeExtraPreheaderWords is cleared to nil.
func (i *Interpreter) RequiresDelegation(rcvr Oop, mask DelegationMask) bool {
	if i.executesOnMetaLevel() {
		return false
	}
	if rcvr.IsInt() || rcvr.IsSentinel() {
		return false
	}
	obj := i.vm.Heap.Object(rcvr)
	if obj == nil {
		return false
	}
	domain := i.liveDomain(obj)
	if domain == NullOop {
		return false
	}
	return i.domainEncoding(domain)&mask != 0
}

// liveDomain returns obj's domain, or NullOop if it has none. A slot holding
// IllegalFreeExtraPreheaderWords is cleared to nil; any other illegal
// pattern is an assertion failure.
func (i *Interpreter) liveDomain(obj *Object) Oop {
	domain := obj.DomainOop()
	switch {
	case domain == NullOop || domain == i.vm.Special.Nil:
		return NullOop
	case domain == IllegalFreeExtraPreheaderWords:
		i.vm.Heap.SetDomain(obj, i.vm.Special.Nil)
		return NullOop
	case domain.IsIllegal():
		if i.assertions {
			panic(&AssertionError{i.diagnostic("illegal domain reference " + domain.String())})
		}
		return NullOop
	}
	return domain
}

// RequiresDelegationForLiterals is RequiresDelegation keyed off the domain of
// the executing method instead of a receiver.
func (i *Interpreter) RequiresDelegationForLiterals(mask DelegationMask) bool {
	if i.executesOnMetaLevel() {
		return false
	}
	if i.localDomain == NullOop || i.localDomain == i.vm.Special.Nil {
		return false
	}
	obj := i.vm.Heap.Object(i.method)
	if obj == nil {
		return false
	}
	i.localDomain = i.liveDomain(obj)
	if i.localDomain == NullOop {
		return false
	}
	return i.domainEncoding(i.localDomain)&mask != 0
}

// SetExecutionLevel switches the active frame between base and meta level.
// Callees inherit the level of their sender.
func (i *Interpreter) SetExecutionLevel(meta bool) {
	i.frame.meta = meta
}

// domainForNewObject is the domain given to objects the active frame
// creates: the receiver's domain at base level, nil at meta level.
func (i *Interpreter) domainForNewObject() Oop {
	nilOop := i.vm.Special.Nil
	if i.executesOnMetaLevel() {
		return nilOop
	}
	obj := i.vm.Heap.Object(i.frame.receiver)
	if obj == nil {
		return nilOop
	}
	if d := obj.DomainOop(); d.IsObjectReference() {
		return d
	}
	return nilOop
}
