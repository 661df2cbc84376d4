package machine

// internTable deduplicates string content so that equal strings share a
// single *String allocation, making string equality and map-key hashing
// pointer operations (spec §4.2). Grounded on mem.h's "Table strings" field
// and table.c's chained table, simplified to a Go map since Go's builtin map
// already gives O(1) deletion — hand-rolling open addressing with tombstones
// would just reimplement what the host language provides for free.
type internTable struct {
	m map[string]*String
}

func newInternTable() *internTable {
	return &internTable{m: make(map[string]*String)}
}

func (t *internTable) find(s string) *String { return t.m[s] }

func (t *internTable) add(s *String) { t.m[s.s] = s }

// removeWeak drops every interned string the last mark phase did not reach.
// It must run after trace_references and before sweep (mem.c's run_gc order):
// by the time sweep runs, any entry still present here is guaranteed to
// survive, so sweep never has to touch the table itself.
func (t *internTable) removeWeak() {
	for k, v := range t.m {
		if !v.marked {
			delete(t.m, k)
		}
	}
}
