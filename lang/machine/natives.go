package machine

import (
	"fmt"
	"os"
	"strings"

	"github.com/mna/raven/lang/compiler"
)

// registerNatives installs every built-in function as a global binding (spec
// §6 natives), mirroring vm.c's register_natives arity table.
func registerNatives(g *Globals, alloc *Allocator) {
	def := func(name string, arity int, fn func(*Thread, []Value) (Value, error)) {
		g.Define(name, alloc.NewNative(name, arity, fn))
	}

	def("import", 1, nativeImport)
	def("assert", -1, nativeAssert) // 1 or 2 args, validated inside
	def("print", -1, nativePrint)
	def("println", -1, nativePrintln)
	def("len", 1, nativeLen)
	def("push", -1, nativePush) // 2 or more, validated inside
	def("pop", 1, nativePop)
	def("insert", 3, nativeInsert)
	def("remove", 2, nativeRemove)
}

func nativeAssert(th *Thread, args []Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("assert expects 1 or 2 arguments")
	}
	if !Truthy(args[0]) {
		msg := "assertion failed"
		if len(args) == 2 {
			s, ok := args[1].(*String)
			if !ok {
				return nil, fmt.Errorf("assert message must be a string")
			}
			msg = s.s
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return Nil{}, nil
}

func nativePrint(th *Thread, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	fmt.Fprint(th.stdout(), strings.Join(parts, " "))
	return Nil{}, nil
}

func nativePrintln(th *Thread, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	fmt.Fprintln(th.stdout(), strings.Join(parts, " "))
	return Nil{}, nil
}

func nativeLen(th *Thread, args []Value) (Value, error) {
	switch v := args[0].(type) {
	case *String:
		return Number(len(v.s)), nil
	case *Array:
		return Number(len(v.Elems)), nil
	case *Map:
		return Number(v.Len()), nil
	default:
		return nil, fmt.Errorf("len expects a string, array or map, got %s", v.Type())
	}
}

func nativePush(th *Thread, args []Value) (Value, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("push expects at least 2 arguments")
	}
	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("push expects an array as its first argument, got %s", args[0].Type())
	}
	arr.Elems = append(arr.Elems, args[1:]...)
	return arr, nil
}

func nativePop(th *Thread, args []Value) (Value, error) {
	arr, ok := args[0].(*Array)
	if !ok {
		return nil, fmt.Errorf("pop expects an array, got %s", args[0].Type())
	}
	if len(arr.Elems) == 0 {
		return nil, fmt.Errorf("pop from an empty array")
	}
	v := arr.Elems[len(arr.Elems)-1]
	arr.Elems = arr.Elems[:len(arr.Elems)-1]
	return v, nil
}

func nativeInsert(th *Thread, args []Value) (Value, error) {
	switch coll := args[0].(type) {
	case *Array:
		n, ok := args[1].(Number)
		if !ok {
			return nil, fmt.Errorf("insert expects a number index for an array")
		}
		i := int(n)
		if i < 0 || i > len(coll.Elems) {
			return nil, fmt.Errorf("array index out of bounds")
		}
		coll.Elems = append(coll.Elems, Nil{})
		copy(coll.Elems[i+1:], coll.Elems[i:])
		coll.Elems[i] = args[2]
		return coll, nil
	case *Map:
		k, ok := args[1].(*String)
		if !ok {
			return nil, fmt.Errorf("insert expects a string key for a map")
		}
		coll.Set(k, args[2])
		return coll, nil
	default:
		return nil, fmt.Errorf("insert expects an array or map, got %s", coll.Type())
	}
}

func nativeRemove(th *Thread, args []Value) (Value, error) {
	switch coll := args[0].(type) {
	case *Array:
		n, ok := args[1].(Number)
		if !ok {
			return nil, fmt.Errorf("remove expects a number index for an array")
		}
		i := int(n)
		if i < 0 || i >= len(coll.Elems) {
			return nil, fmt.Errorf("array index out of bounds")
		}
		v := coll.Elems[i]
		coll.Elems = append(coll.Elems[:i], coll.Elems[i+1:]...)
		return v, nil
	case *Map:
		k, ok := args[1].(*String)
		if !ok {
			return nil, fmt.Errorf("remove expects a string key for a map")
		}
		v, ok := coll.Get(k)
		if !ok {
			return Nil{}, nil
		}
		coll.Delete(k)
		return v, nil
	default:
		return nil, fmt.Errorf("remove expects an array or map, got %s", coll.Type())
	}
}

// nativeImport implements spec §4.6: compile and run path in a sandboxed
// Thread that shares this thread's Allocator (so the module's allocations
// are collected by the same collector, and its strings share the same
// intern table) but has its own fresh Globals — the module's top-level
// bindings never leak into the importer, only its X register (the value of
// its final expression) does. Grounded on vm.c's native_import.
func nativeImport(th *Thread, args []Value) (Value, error) {
	path, ok := args[0].(*String)
	if !ok {
		return nil, fmt.Errorf("import expects a string path")
	}
	src, err := os.ReadFile(path.s)
	if err != nil {
		return nil, fmt.Errorf("cannot import %q: %v", path.s, err)
	}
	proto, cerr := compiler.Compile(path.s, src)
	if cerr != nil {
		return nil, fmt.Errorf("cannot import %q: %v", path.s, cerr)
	}

	sandbox := NewThread(th.alloc, NewGlobals())
	sandbox.Path = path.s
	sandbox.Stdout = th.Stdout
	sandbox.Stderr = th.Stderr
	sandbox.Stdin = th.Stdin
	sandbox.MaxSteps = th.MaxSteps
	sandbox.resetOnExit = false
	registerNatives(sandbox.globals, th.alloc)
	defer th.alloc.unregister(sandbox)

	x, rerr := sandbox.Run(proto)
	if rerr != nil {
		return nil, rerr
	}
	return x, nil
}
