// Package vm implements a Smalltalk bytecode interpreter with the OMNI
// meta-object layer.
//
// Every object may belong to a domain. When code running at base level
// touches an object whose domain customizes the operation (a send, a field
// read or write, a literal variable access, or one of the object primitives)
// the interpreter rewrites it into a send of a reserved selector to that
// domain and runs the handler at meta level, where nothing is delegated.
// The Domain class supplies defaults that perform each operation directly.
//
// This package contains:
//   - 32-bit tagged Oops and a paged object heap with relocation
//   - Symbols, classes, and compiled methods, with an assembler
//   - The Squeak V3 bytecode set with closure bytecodes
//   - Frames on a contiguous stack, materialized as contexts on demand
//   - The dispatch loop, message sends, and the primitive table
//   - Safepoints shared by the interpreters of a multi-core VM
//   - The native-code interface used by a method compiler
package vm
