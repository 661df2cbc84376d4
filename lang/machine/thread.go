package machine

import (
	"io"
	"os"

	"github.com/mna/raven/lang/compiler"
)

// FramesLimit bounds the depth of nested calls; StackSize bounds the number
// of live value-stack slots (spec §4.5, grounded on vm.h's FRAME_LIMIT /
// STACK_SIZE: 128 and 256*128 respectively).
const (
	FramesLimit = 128
	StackSize   = 256 * FramesLimit
)

// Thread is one executing VM image: its value stack, call-frame stack, open
// upvalues, X register, globals, and the allocator it shares with any
// `import`-spawned sandbox (spec §4.6). It is the machine-package analogue of
// the teacher's machine.Thread, trimmed to this language's simpler execution
// model (no Starlark-style cooperative Load/profiling hooks).
type Thread struct {
	// Name optionally identifies the thread for debugging.
	Name string

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// Path is the source file path used in error messages.
	Path string

	// MaxSteps bounds the number of executed instructions before the thread
	// aborts with a runtime error; 0 means unlimited (overridable via
	// RAVEN_MAX_STEPS, see internal/maincmd).
	MaxSteps uint64

	alloc   *Allocator
	globals *Globals

	stack        []Value
	frames       []frame
	openUpvalues *Upvalue
	x            Value

	steps uint64

	// resetOnExit clears the stack at the end of Run; import sandboxes leave
	// it false so the exported value and any partial state stay inspectable
	// for as long as the sandbox Thread itself survives (spec §4.5 Exit).
	resetOnExit bool
}

// NewThread creates a Thread sharing alloc and globals, and registers it with
// the allocator as a GC root provider.
func NewThread(alloc *Allocator, globals *Globals) *Thread {
	th := &Thread{
		alloc:       alloc,
		globals:     globals,
		stack:       make([]Value, 0, StackSize),
		frames:      make([]frame, 0, FramesLimit),
		x:           Nil{},
		resetOnExit: true,
	}
	alloc.register(th)
	return th
}

// NewVM builds a ready-to-run Allocator and toplevel Thread with every
// native function already bound in its Globals (spec §6).
func NewVM() (*Thread, *Allocator) {
	alloc := NewAllocator()
	globals := NewGlobals()
	registerNatives(globals, alloc)
	th := NewThread(alloc, globals)
	return th, alloc
}

func (th *Thread) stdout() io.Writer {
	if th.Stdout != nil {
		return th.Stdout
	}
	return os.Stdout
}

func (th *Thread) stderr() io.Writer {
	if th.Stderr != nil {
		return th.Stderr
	}
	return os.Stderr
}

// markRoots implements the roots interface: stack slots, call-frame closures,
// globals, open upvalues and the X register are exactly mark_roots' source
// list in mem.c, translated from VM fields to Thread fields.
func (th *Thread) markRoots(a *Allocator) {
	for _, v := range th.stack {
		a.MarkValue(v)
	}
	for _, fr := range th.frames {
		a.MarkValue(fr.closure)
	}
	th.globals.each(func(_ string, v Value) { a.MarkValue(v) })
	for uv := th.openUpvalues; uv != nil; uv = uv.Next {
		a.MarkValue(uv)
	}
	a.MarkValue(th.x)
}

func (th *Thread) resetStack() {
	th.stack = th.stack[:0]
	th.frames = th.frames[:0]
	th.openUpvalues = nil
}

// push appends v to the value stack. The stack is preallocated to StackSize
// capacity and never grown past it (see NewThread): open upvalues hold a
// *Value pointing directly into this backing array, which a reallocating
// append would invalidate.
func (th *Thread) push(v Value) {
	if len(th.stack) == cap(th.stack) {
		panic(th.runtimeErrorf("stack overflow"))
	}
	th.stack = append(th.stack, v)
}

func (th *Thread) pop() Value {
	v := th.stack[len(th.stack)-1]
	th.stack = th.stack[:len(th.stack)-1]
	return v
}

func (th *Thread) peek(distance int) Value { return th.stack[len(th.stack)-1-distance] }

// Run loads proto, wraps it as the toplevel closure, and executes it to
// completion. The returned Value is the thread's X register — the script's
// exported value (spec §4.6; a plain script that never assigns X simply
// exports nil).
func (th *Thread) Run(proto *compiler.Proto) (Value, error) {
	mp := th.alloc.loadProto(proto)
	cl := th.alloc.NewClosure(mp, nil)
	th.push(cl)
	if err := th.pushFrame(cl); err != nil {
		th.resetStack()
		return Nil{}, err
	}
	if err := th.run(); err != nil {
		// a runtime error aborts the call and resets both stacks to empty
		// (spec: "resets the value-stack and frame-stack"), independent of
		// resetOnExit, so a Thread reused across several Run calls (the REPL)
		// is left in a clean state for the next one.
		th.resetStack()
		return Nil{}, err
	}
	if th.resetOnExit {
		x := th.x
		th.resetStack()
		return x, nil
	}
	return th.x, nil
}
