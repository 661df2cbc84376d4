package machine

import "github.com/mna/raven/lang/compiler"

// Default GC tuning. The original implementation's GC_INITIAL_NEXT and
// GC_GROWTH_FACTOR constants were not present in the retrieved sources; these
// values reproduce the same shape of algorithm (mem.c run_gc) with
// conventional defaults, overridable via RAVEN_GC_GROWTH_FACTOR (see
// internal/maincmd).
const (
	defaultInitialGCThreshold = 1 << 20 // 1MB of tracked allocations
	defaultGCGrowthFactor     = 2.0
)

// roots is implemented by anything the collector must treat as a GC root:
// every live Thread sharing an Allocator (spec §4.5 import sandboxing shares
// the parent allocator across nested Threads).
type roots interface {
	markRoots(a *Allocator)
}

// Allocator is the tracing garbage collector and byte-accounting allocator
// for one VM image. It owns the intrusive list of every live heap object and
// the interned-string table, and may be shared by several Threads (spec §4.1,
// §4.5), grounded on mem.c's Allocator / run_gc.
type Allocator struct {
	objects *object
	gray    []Value

	bytesAllocated int64
	nextGC         int64
	growthFactor   float64
	gcOff          bool

	strings *internTable
	owners  []roots
}

// NewAllocator returns a ready-to-use Allocator with default GC tuning.
func NewAllocator() *Allocator {
	return &Allocator{
		nextGC:       defaultInitialGCThreshold,
		growthFactor: defaultGCGrowthFactor,
		strings:      newInternTable(),
	}
}

// SetGrowthFactor overrides the default post-collection threshold multiplier.
func (a *Allocator) SetGrowthFactor(f float64) {
	if f > 1 {
		a.growthFactor = f
	}
}

func (a *Allocator) register(r roots)   { a.owners = append(a.owners, r) }
func (a *Allocator) unregister(r roots) {
	for i, o := range a.owners {
		if o == r {
			a.owners = append(a.owners[:i], a.owners[i+1:]...)
			return
		}
	}
}

// track links a freshly allocated object into the allocator's intrusive list,
// charges its estimated size against bytesAllocated, and triggers a
// collection if the threshold is reached (mem.c's allocate, minus realloc:
// Go's own allocator does the actual memory management; this function
// reproduces only the accounting and collection-triggering behavior that is
// the GC's observable contract, spec §4.1 and §8 GC soundness).
func (a *Allocator) track(h *object, kind objKind, size int64) {
	h.kind = kind
	h.size = size
	h.next = a.objects
	a.objects = h
	a.bytesAllocated += size

	if !a.gcOff && a.bytesAllocated >= a.nextGC {
		a.Collect()
	}
}

// Collect runs one full mark-sweep cycle: mark roots, trace references,
// drop dead interned strings, sweep unreached objects, and grow the next
// threshold (mem.c's run_gc, verbatim order).
func (a *Allocator) Collect() {
	for _, r := range a.owners {
		r.markRoots(a)
	}
	a.traceReferences()
	a.strings.removeWeak()
	a.sweep()
	a.nextGC = int64(float64(a.bytesAllocated) * a.growthFactor)
}

// Stats reports the allocator's current accounting, for debug tooling and
// tests asserting GC soundness (spec §8).
func (a *Allocator) Stats() (bytesAllocated, nextGC int64) {
	return a.bytesAllocated, a.nextGC
}

func headerOf(v Value) *object {
	switch v := v.(type) {
	case *String:
		return &v.object
	case *Pair:
		return &v.object
	case *Array:
		return &v.object
	case *Map:
		return &v.object
	case *Proto:
		return &v.object
	case *Upvalue:
		return &v.object
	case *Closure:
		return &v.object
	case *NativeFn:
		return &v.object
	default:
		return nil // Nil, Bool, Number: not heap objects, nothing to mark
	}
}

// MarkValue marks v reachable, pushing it onto the gray worklist unless it is
// a leaf kind (strings and natives have no outgoing references, mem.c's
// mark_object).
func (a *Allocator) MarkValue(v Value) {
	h := headerOf(v)
	if h == nil || h.marked {
		return
	}
	h.marked = true
	if h.kind == objString || h.kind == objNative {
		return
	}
	a.gray = append(a.gray, v)
}

func (a *Allocator) traceReferences() {
	for len(a.gray) > 0 {
		v := a.gray[len(a.gray)-1]
		a.gray = a.gray[:len(a.gray)-1]
		a.blacken(v)
	}
}

// blacken marks every value directly reachable from v (mem.c's blacken_object).
func (a *Allocator) blacken(v Value) {
	switch v := v.(type) {
	case *Pair:
		a.MarkValue(v.Head)
		a.MarkValue(v.Tail)
	case *Array:
		for _, e := range v.Elems {
			a.MarkValue(e)
		}
	case *Map:
		for _, k := range v.keys {
			a.MarkValue(k)
			a.MarkValue(v.values[k])
		}
	case *Proto:
		for _, c := range v.Consts {
			a.MarkValue(c)
		}
	case *Closure:
		a.MarkValue(v.Proto)
		for _, uv := range v.Upvalues {
			a.MarkValue(uv)
		}
	case *Upvalue:
		a.MarkValue(v.Get())
	}
}

// sweep unlinks every unmarked object from the intrusive list and clears the
// mark bit on survivors (mem.c's sweep). Once unlinked, nothing in the
// machine package still references the object, so the host Go runtime
// reclaims its memory in its own time — the explicit byte accounting here is
// what makes the collection cycle observable, not manual deallocation.
func (a *Allocator) sweep() {
	link := &a.objects
	for *link != nil {
		if (*link).marked {
			(*link).marked = false
			link = &(*link).next
		} else {
			dead := *link
			*link = (*link).next
			a.bytesAllocated -= dead.size
		}
	}
}

// --- constructors: every heap Value is born through one of these ---

func (a *Allocator) internString(s string) *String {
	if existing := a.strings.find(s); existing != nil {
		return existing
	}
	str := &String{s: s}
	a.track(&str.object, objString, int64(len(s))+16)
	a.strings.add(str)
	return str
}

func (a *Allocator) NewString(s string) *String { return a.internString(s) }

func (a *Allocator) NewPair(head, tail Value) *Pair {
	p := &Pair{Head: head, Tail: tail}
	a.track(&p.object, objPair, 32)
	return p
}

func (a *Allocator) NewArray(elems []Value) *Array {
	arr := &Array{Elems: elems}
	a.track(&arr.object, objArray, int64(cap(elems))*16+24)
	return arr
}

func (a *Allocator) NewMap(size int) *Map {
	m := newMap(size)
	a.track(&m.object, objMap, int64(size)*32+24)
	return m
}

// loadProto wraps a compiled function prototype (and, recursively, every
// nested prototype in its constant pool) into a heap Proto whose Consts slice
// holds runtime Values ready for PUSH_CONST/CLOSURE to index directly (spec
// §4.4, grounded on thread.go's makeToplevelFunction constant conversion).
func (a *Allocator) loadProto(cp *compiler.Proto) *Proto {
	p := &Proto{P: cp}
	a.track(&p.object, objProto, 64)
	p.Consts = make([]Value, len(cp.Chunk.Constants))
	for i, c := range cp.Chunk.Constants {
		switch c := c.(type) {
		case float64:
			p.Consts[i] = Number(c)
		case string:
			p.Consts[i] = a.internString(c)
		case *compiler.Proto:
			p.Consts[i] = a.loadProto(c)
		}
	}
	return p
}

func (a *Allocator) NewClosure(proto *Proto, upvalues []*Upvalue) *Closure {
	c := &Closure{Proto: proto, Upvalues: upvalues}
	a.track(&c.object, objClosure, int64(len(upvalues))*8+24)
	return c
}

func (a *Allocator) NewUpvalue(loc *Value, slot int) *Upvalue {
	u := &Upvalue{Location: loc, Open: true, slot: slot}
	a.track(&u.object, objUpvalue, 24)
	return u
}

func (a *Allocator) NewNative(name string, arity int, fn func(*Thread, []Value) (Value, error)) *NativeFn {
	n := &NativeFn{Name: name, Arity: arity, Fn: fn}
	a.track(&n.object, objNative, 40)
	return n
}
