package machine

import (
	"fmt"
	"strings"
)

// CompileError wraps the accumulated syntax errors produced by the compiler
// (lang/compiler.Compile already formats each one as "[path | line: N] msg");
// this type exists only so callers can distinguish a compile failure from a
// runtime one (spec §4.7 Error taxonomy).
type CompileError struct{ Msg string }

func (e *CompileError) Error() string { return e.Msg }

// traceFrame is one line of a runtime stack trace: the function's name (empty
// for the toplevel) and the source line active in that frame when the error
// was raised.
type traceFrame struct {
	name string
	line int
}

// RuntimeError reports a failure during execution. Error() renders it exactly
// as "[path | line: N] message" followed by a frame-by-frame stack trace,
// innermost frame first (spec §4.7, grounded on vm.c's runtime_error and
// dump_stack_trace).
type RuntimeError struct {
	Path  string
	Line  int
	Msg   string
	Trace []traceFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s | line: %d] %s\n", e.Path, e.Line, e.Msg)
	b.WriteString("stack traceback:\n")
	for i := len(e.Trace) - 1; i >= 0; i-- {
		f := e.Trace[i]
		if f.name == "" {
			fmt.Fprintf(&b, "\t%s | line:%d in <toplevel>\n", e.Path, f.line)
		} else {
			fmt.Fprintf(&b, "\t%s | line:%d in '%s'\n", e.Path, f.line, f.name)
		}
	}
	return b.String()
}
