package machine_test

import (
	"bytes"
	"testing"

	"github.com/mna/raven/lang/compiler"
	"github.com/mna/raven/lang/machine"
	"github.com/stretchr/testify/require"
)

// run compiles src and executes it on a fresh VM, returning its X register,
// captured stdout, and any error.
func run(t *testing.T, src string) (machine.Value, string, error) {
	t.Helper()
	proto, err := compiler.Compile("test", []byte(src))
	require.NoError(t, err)

	th, _ := machine.NewVM()
	var out bytes.Buffer
	th.Stdout = &out
	th.Path = "test"

	x, rerr := th.Run(proto)
	return x, out.String(), rerr
}

func TestArithmetic(t *testing.T) {
	x, _, err := run(t, "1 + 2 * 3")
	require.NoError(t, err)
	require.Equal(t, machine.Number(7), x)
}

func TestStringConcatenate(t *testing.T) {
	x, _, err := run(t, `"foo" @ "bar"`)
	require.NoError(t, err)
	require.Equal(t, "foobar", x.String())
}

func TestConsPair(t *testing.T) {
	x, _, err := run(t, "1 | 2")
	require.NoError(t, err)
	require.Equal(t, "(1 | 2)", x.String())
}

func TestIfElseValue(t *testing.T) {
	x, _, err := run(t, `
if 1 < 2 do
	"yes"
else
	"no"
end
`)
	require.NoError(t, err)
	require.Equal(t, "yes", x.String())
}

func TestCondExpression(t *testing.T) {
	x, _, err := run(t, `
cond:
	1 == 2 -> "a",
	1 == 1 -> "b"
end
`)
	require.NoError(t, err)
	require.Equal(t, "b", x.String())
}

func TestWhileLoopMutatesGlobals(t *testing.T) {
	x, _, err := run(t, `
let i = 0
let sum = 0
while i < 5 do
	sum = sum + i
	i = i + 1
end
sum
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(10), x)
}

func TestFunctionCall(t *testing.T) {
	x, _, err := run(t, `
let add = fn(a, b) return a + b end
add(3, 4)
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(7), x)
}

func TestRecursiveFunction(t *testing.T) {
	x, _, err := run(t, `
let fact = fn(n)
	return if n == 0 do
		1
	else
		n * fact(n - 1)
	end
end
fact(5)
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(120), x)
}

func TestClosureCapturesAndMutatesUpvalue(t *testing.T) {
	x, _, err := run(t, `
let make = fn()
	let count = 0
	return fn()
		count = count + 1
		return count
	end
end
let counter = make()
counter()
counter()
counter()
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(3), x)
}

func TestTwoClosuresShareUpvalueIndependently(t *testing.T) {
	x, _, err := run(t, `
let make = fn()
	let count = 0
	return fn()
		count = count + 1
		return count
	end
end
let a = make()
let b = make()
a()
a()
b()
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(1), x)
}

func TestArrayPushAndLen(t *testing.T) {
	x, _, err := run(t, `
let a = [1, 2, 3]
push(a, 4)
len(a)
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(4), x)
}

func TestArrayIndexGetSet(t *testing.T) {
	x, _, err := run(t, `
let a = [1, 2, 3]
a[1] = 99
a[1]
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(99), x)
}

func TestMapIndexGetSet(t *testing.T) {
	x, _, err := run(t, `
let m = {"x": 1, "y": 2}
m["x"] = 42
m["x"]
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(42), x)
}

func TestMapMissingKeyIsNil(t *testing.T) {
	x, _, err := run(t, `
let m = {"x": 1}
m["missing"]
`)
	require.NoError(t, err)
	require.Equal(t, machine.Nil{}, x)
}

func TestPrintWritesToStdout(t *testing.T) {
	_, out, err := run(t, `println("hello", "world")`)
	require.NoError(t, err)
	require.Equal(t, "hello world\n", out)
}

func TestAssertFailurePropagatesAsRuntimeError(t *testing.T) {
	_, _, err := run(t, `assert(false, "boom")`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestDivisionByZeroIsRuntimeError(t *testing.T) {
	_, _, err := run(t, "1 / 0")
	require.Error(t, err)
	var rerr *machine.RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "test", rerr.Path)
}

func TestUnboundGlobalIsRuntimeError(t *testing.T) {
	_, _, err := run(t, "undefined_name")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unbound variable")
}

func TestCallingNonFunctionIsRuntimeError(t *testing.T) {
	_, _, err := run(t, `
let x = 1
x()
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "attempt to call")
}

func TestRuntimeErrorIncludesStackTrace(t *testing.T) {
	_, _, err := run(t, `
let f = fn()
	return 1 / 0
end
f()
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stack traceback")
}

func TestBreakExitsLoop(t *testing.T) {
	x, _, err := run(t, `
let i = 0
while i < 100 do
	if i == 3 do
		break
	end
	i = i + 1
end
i
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(3), x)
}

func TestContinueSkipsRestOfBody(t *testing.T) {
	x, _, err := run(t, `
let i = 0
let sum = 0
while i < 5 do
	i = i + 1
	if i == 3 do
		continue
	end
	sum = sum + i
end
sum
`)
	require.NoError(t, err)
	require.Equal(t, machine.Number(12), x)
}

func TestGCCollectsUnreachableObjects(t *testing.T) {
	proto, err := compiler.Compile("test", []byte(`
let a = [1, 2, 3]
a = nil
1
`))
	require.NoError(t, err)

	th, alloc := machine.NewVM()
	_, rerr := th.Run(proto)
	require.NoError(t, rerr)

	before, _ := alloc.Stats()
	alloc.Collect()
	after, _ := alloc.Stats()
	require.LessOrEqual(t, after, before)
}

func TestStringInterningSharesIdentity(t *testing.T) {
	proto, err := compiler.Compile("test", []byte(`
let a = "shared"
let b = "shared"
a == b
`))
	require.NoError(t, err)
	th, _ := machine.NewVM()
	x, err := th.Run(proto)
	require.NoError(t, err)
	require.Equal(t, machine.Bool(true), x)
}

func TestCallStackOverflow(t *testing.T) {
	proto, err := compiler.Compile("test", []byte(`
let recurse = fn(n)
	return recurse(n + 1)
end
recurse(0)
`))
	require.NoError(t, err)

	th, _ := machine.NewVM()
	th.Path = "test"
	_, rerr := th.Run(proto)
	require.Error(t, rerr)
	require.Contains(t, rerr.Error(), "call stack overflows")
}

// TestRuntimeErrorResetsThreadForReuse exercises a Thread reused across
// several Run calls the way internal/maincmd/repl.go does: a runtime error
// on one call must not leave the value stack or frame stack dirty for the
// next one (spec: a runtime error "resets the value-stack and frame-stack
// to empty").
func TestRuntimeErrorResetsThreadForReuse(t *testing.T) {
	th, _ := machine.NewVM()
	th.Path = "repl"

	bad, err := compiler.Compile("repl", []byte("1 / 0"))
	require.NoError(t, err)
	_, rerr := th.Run(bad)
	require.Error(t, rerr)

	good, err := compiler.Compile("repl", []byte("21 + 21"))
	require.NoError(t, err)
	x, rerr := th.Run(good)
	require.NoError(t, rerr)
	require.Equal(t, machine.Number(42), x)
}
