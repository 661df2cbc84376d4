// Package machine implements the stack-based bytecode virtual machine: the
// runtime value model, the tracing garbage collector, and the fetch-decode-
// execute loop that runs compiler.Proto chunks.
package machine

import "fmt"

// Value is implemented by every runtime value the machine manipulates. Nil,
// Bool and Number are plain Go value types — they are copied on the Go stack
// like any other value and never touch the heap allocator. Every other kind
// is a pointer to a heap object embedding object, so the collector can trace
// and sweep it (spec §3 Value model, §4.1 GC).
type Value interface {
	String() string
	Type() string
}

// Nil is the sole value of type nil.
type Nil struct{}

func (Nil) String() string { return "nil" }
func (Nil) Type() string   { return "nil" }

// Bool is a boolean value.
type Bool bool

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (Bool) Type() string { return "bool" }

// Number is a double-precision float, the machine's only numeric type (spec
// §3: integers and floats share one runtime representation).
type Number float64

func (n Number) String() string { return fmt.Sprintf("%g", float64(n)) }
func (Number) Type() string     { return "number" }

// Truthy reports whether v is considered true by conditionals and logical
// operators (spec §5: everything is truthy except nil and false).
func Truthy(v Value) bool {
	switch v := v.(type) {
	case Nil:
		return false
	case Bool:
		return bool(v)
	default:
		return true
	}
}

// Equal implements the machine's equality operator (spec §5 Equality). Numbers
// compare by value, strings by content (cheap, since strings are interned:
// pointer equality suffices), and all other heap kinds by identity.
func Equal(a, b Value) bool {
	switch a := a.(type) {
	case Nil:
		_, ok := b.(Nil)
		return ok
	case Bool:
		bb, ok := b.(Bool)
		return ok && a == bb
	case Number:
		bb, ok := b.(Number)
		return ok && a == bb
	case *String:
		bb, ok := b.(*String)
		return ok && a == bb
	default:
		return a == b
	}
}
