package vm

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned by Run when the context is cancelled at an
// interrupt point.
var ErrInterrupted = errors.New("interpreter interrupted")

// Diagnostic is the state dump attached to fatal conditions and assertion
// failures.
type Diagnostic struct {
	Reason   string
	Selector Oop
	Method   string
	Core     int
	IP       int
}

func (d Diagnostic) String() string {
	s := d.Reason
	if d.Selector != NullOop {
		s += fmt.Sprintf(" (selector bits 0x%08x)", d.Selector.Bits())
	}
	if d.Method != "" {
		s += fmt.Sprintf(" in %s at ip %d", d.Method, d.IP)
	}
	return fmt.Sprintf("core %d: %s", d.Core, s)
}

// FatalError aborts interpretation: an unimplemented path, an illegal store
// target, an unknown bytecode, or a failed lookup with no recovery.
type FatalError struct {
	Diagnostic
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Diagnostic.String()
}

// AssertionError reports a failed consistency check. Only raised when the VM
// runs with assertions enabled.
type AssertionError struct {
	Diagnostic
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Diagnostic.String()
}
