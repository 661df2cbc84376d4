package machine

import (
	"fmt"
	"strings"

	"github.com/mna/raven/lang/compiler"
)

// objKind tags a heap object's concrete representation, mirroring the
// original implementation's OBJ_* enum (object.h) — used by the collector's
// mark/blacken/sweep switches (gc.go) without a Go type assertion per object.
type objKind byte

const (
	objString objKind = iota
	objPair
	objArray
	objMap
	objProto
	objUpvalue
	objClosure
	objNative
)

// object is the intrusive GC header every heap value embeds. marked and next
// give the collector a mark bit and a singly-linked list of every live
// allocation without any side table (spec §4.1, grounded on object.h's
// Object struct and mem.c's sweep).
type object struct {
	kind   objKind
	marked bool
	size   int64
	next   *object
}

// String is an interned, immutable sequence of bytes. Two Strings with equal
// content are always the same pointer (see intern.go), so string equality and
// hashing for use as a map key are both pointer operations.
type String struct {
	object
	s string
}

func (s *String) String() string { return s.s }
func (*String) Type() string     { return "string" }

// Pair is a cons cell, the result of the `|` operator.
type Pair struct {
	object
	Head, Tail Value
}

func (p *Pair) String() string { return fmt.Sprintf("(%s | %s)", p.Head, p.Tail) }
func (*Pair) Type() string     { return "pair" }

// Array is a resizable, 0-indexed sequence of values.
type Array struct {
	object
	Elems []Value
}

func (a *Array) String() string {
	parts := make([]string, len(a.Elems))
	for i, e := range a.Elems {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
func (*Array) Type() string { return "array" }

// Map is a hash map keyed by interned string pointers (spec §3: map keys are
// always strings).
type Map struct {
	object
	keys   []*String
	values map[*String]Value
}

func newMap(size int) *Map {
	return &Map{values: make(map[*String]Value, size)}
}

func (m *Map) String() string {
	parts := make([]string, 0, len(m.keys))
	for _, k := range m.keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k.s, m.values[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
func (*Map) Type() string { return "map" }

func (m *Map) Get(k *String) (Value, bool) {
	v, ok := m.values[k]
	return v, ok
}

func (m *Map) Set(k *String, v Value) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

func (m *Map) Len() int { return len(m.keys) }

func (m *Map) Delete(k *String) {
	if _, ok := m.values[k]; !ok {
		return
	}
	delete(m.values, k)
	for i, kk := range m.keys {
		if kk == k {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Proto wraps a compiled function prototype as a heap object so the machine
// can mark its constant pool (which may itself hold nested Protos) during GC
// (spec §4.1 blacken_object, grounded on mem.c's OBJ_FUNCTION case).
type Proto struct {
	object
	P      *compiler.Proto
	Consts []Value // cp.Chunk.Constants, converted once at load time
}

func (p *Proto) String() string {
	name := p.P.Name
	if name == "" {
		name = "script"
	}
	return fmt.Sprintf("<function %s>", name)
}
func (*Proto) Type() string { return "function" }

// Upvalue is a reference cell shared between a closure and the enclosing
// stack frame that created it. While Open, Location points into a Thread's
// value stack; Close copies the value into the cell itself so it survives the
// frame's return (spec §4.4 Upvalues).
type Upvalue struct {
	object
	Location *Value
	Closed   Value
	Open     bool
	slot     int      // absolute stack slot Location points at, while Open
	Next     *Upvalue // intrusive list of a thread's open upvalues, sorted by descending slot
}

func (u *Upvalue) String() string { return "<upvalue>" }
func (*Upvalue) Type() string     { return "upvalue" }

func (u *Upvalue) Get() Value {
	if u.Open {
		return *u.Location
	}
	return u.Closed
}

func (u *Upvalue) Set(v Value) {
	if u.Open {
		*u.Location = v
	} else {
		u.Closed = v
	}
}

func (u *Upvalue) close() {
	u.Closed = *u.Location
	u.Open = false
	u.Location = nil
}

// Closure pairs a Proto with the upvalues it captured at creation time.
type Closure struct {
	object
	Proto    *Proto
	Upvalues []*Upvalue
}

func (c *Closure) String() string { return c.Proto.String() }
func (*Closure) Type() string     { return "function" }

// NativeFn is a function implemented in Go and exposed to Raven code (spec §6
// natives: import, assert, print, len, push, ...).
type NativeFn struct {
	object
	Name  string
	Arity int // -1 means variadic
	Fn    func(th *Thread, args []Value) (Value, error)
}

func (n *NativeFn) String() string { return fmt.Sprintf("<native %s>", n.Name) }
func (*NativeFn) Type() string     { return "native function" }
