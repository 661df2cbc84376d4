package machine

// frame is one activation record on the call stack: which closure is
// running, where execution is within its chunk, and where its value-stack
// window begins (spec §4.5 Calls, grounded on vm.h's CallFrame).
type frame struct {
	closure   *Closure
	ip        int
	slotsBase int
}
