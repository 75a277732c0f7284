// Package bundle implements the CBOR format compilers use to hand classes,
// methods, and an entry point to the VM. A bundle carries compiled code only:
// raw bytecodes and a literal frame described symbolically, so it can be
// loaded into any VM with the same kernel.
package bundle

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Version is the format version written by Marshal and accepted by
// Unmarshal.
const Version = 1

var (
	ErrVersion      = errors.New("unsupported bundle version")
	ErrUnknownClass = errors.New("unknown class")
)

// Bundle is one unit of compiled code.
type Bundle struct {
	Version uint     `cbor:"1,keyasint"`
	Classes []Class  `cbor:"2,keyasint,omitempty"`
	Methods []Method `cbor:"3,keyasint,omitempty"`
	Globals []Global `cbor:"4,keyasint,omitempty"`
	Entry   *Entry   `cbor:"5,keyasint,omitempty"`
}

// Class defines a class. Superclass defaults to Object; Format is one of
// "pointers", "indexable", or "bytes" and defaults to the superclass's.
type Class struct {
	Name       string   `cbor:"1,keyasint"`
	Superclass string   `cbor:"2,keyasint,omitempty"`
	InstVars   []string `cbor:"3,keyasint,omitempty"`
	Format     string   `cbor:"4,keyasint,omitempty"`
}

// Method is a compiled method for Class, or for its metaclass when Meta is
// set.
type Method struct {
	Class      string    `cbor:"1,keyasint"`
	Meta       bool      `cbor:"2,keyasint,omitempty"`
	Selector   string    `cbor:"3,keyasint"`
	NumTemps   int       `cbor:"4,keyasint,omitempty"` // arguments included
	Primitive  int       `cbor:"5,keyasint,omitempty"`
	LargeFrame bool      `cbor:"6,keyasint,omitempty"`
	Literals   []Literal `cbor:"7,keyasint,omitempty"`
	Bytecodes  []byte    `cbor:"8,keyasint"`
}

// LiteralKind says how a Literal is materialized.
type LiteralKind uint8

const (
	LiteralInt    LiteralKind = iota // SmallInteger Int
	LiteralSymbol                    // Symbol named Str
	LiteralString                    // String Str
	LiteralFloat                     // Float Float
	LiteralGlobal                    // the association of global Str
	LiteralNil
	LiteralTrue
	LiteralFalse
)

// Literal is one slot of a method's literal frame.
type Literal struct {
	Kind  LiteralKind `cbor:"1,keyasint"`
	Int   int64       `cbor:"2,keyasint,omitempty"`
	Str   string      `cbor:"3,keyasint,omitempty"`
	Float float64     `cbor:"4,keyasint,omitempty"`
}

// Global binds a global name. The value is either Value or, when Instance
// names a class, a new instance of it. Domain optionally names a class whose
// new instance becomes the value's domain.
type Global struct {
	Name     string   `cbor:"1,keyasint"`
	Value    *Literal `cbor:"2,keyasint,omitempty"`
	Instance string   `cbor:"3,keyasint,omitempty"`
	Domain   string   `cbor:"4,keyasint,omitempty"`
}

// Entry names the send that runs the bundle: Selector is sent to a new
// instance of Class, placed in a new instance of Domain if given.
type Entry struct {
	Class    string `cbor:"1,keyasint"`
	Selector string `cbor:"2,keyasint"`
	Domain   string `cbor:"3,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bundle: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Marshal encodes b in canonical CBOR. A zero Version is written as the
// current one.
func Marshal(b *Bundle) ([]byte, error) {
	if b.Version == 0 {
		c := *b
		c.Version = Version
		b = &c
	}
	return encMode.Marshal(b)
}

// Unmarshal decodes a bundle and checks its version.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %w", err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("bundle: %w %d", ErrVersion, b.Version)
	}
	return &b, nil
}
