package compiler

// UpvalueDesc records, for one upvalue slot of a nested function, whether it
// captures a local slot of the immediately enclosing function (IsLocal=true,
// Index is a local slot) or one of the enclosing function's own upvalues
// (IsLocal=false, Index is an upvalue slot) — spec §4.4 resolve_upvalue.
type UpvalueDesc struct {
	IsLocal bool
	Index   byte
}

// Proto is a compiled function prototype: its chunk plus the static metadata
// the machine needs to build a runtime Closure (spec §3 Function object).
// Protos are immutable once compiling them has finished.
type Proto struct {
	Name     string
	Arity    int
	Upvalues []UpvalueDesc
	Chunk    Chunk
}
