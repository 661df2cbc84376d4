package machine

import "github.com/dolthub/swiss"

// Globals holds the top-level bindings of one VM image: DEF_GLOBAL installs a
// new binding, GET_GLOBAL/SET_GLOBAL read and update an existing one (spec §3
// Global scope). Backed by swiss.Map since, unlike the string interner,
// nothing here needs weak semantics — it is a plain, GC-root-scanned name
// table.
type Globals struct {
	m *swiss.Map[string, Value]
}

func NewGlobals() *Globals {
	return &Globals{m: swiss.NewMap[string, Value](64)}
}

func (g *Globals) Define(name string, v Value) { g.m.Put(name, v) }

// Set updates an existing global, reporting false if it was never defined
// (spec §5 runtime errors: assigning to an undefined global is an error).
func (g *Globals) Set(name string, v Value) bool {
	if _, ok := g.m.Get(name); !ok {
		return false
	}
	g.m.Put(name, v)
	return true
}

func (g *Globals) Get(name string) (Value, bool) { return g.m.Get(name) }

func (g *Globals) each(fn func(name string, v Value)) {
	g.m.Iter(func(k string, v Value) bool {
		fn(k, v)
		return false
	})
}
