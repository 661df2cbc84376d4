package compiler_test

import (
	"testing"

	"github.com/mna/raven/lang/compiler"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, src string) *compiler.Proto {
	t.Helper()
	proto, err := compiler.Compile("test", []byte(src))
	require.NoError(t, err)
	return proto
}

func TestCompileSimpleArithmetic(t *testing.T) {
	proto := mustCompile(t, "1 + 2 * 3")
	require.Equal(t, "", proto.Name)
	require.Equal(t, 0, proto.Arity)
	require.Contains(t, proto.Chunk.Code, byte(compiler.ADD))
	require.Contains(t, proto.Chunk.Code, byte(compiler.MUL))
	require.Equal(t, byte(compiler.SAVE_X), proto.Chunk.Code[len(proto.Chunk.Code)-3])
}

func TestCompileAssignmentRewritesLocal(t *testing.T) {
	// a top-level let is a global, so declare x inside a function body
	proto := mustCompile(t, "let f = fn()\nlet x = 1\nx = 2\nend")
	inner := proto.Chunk.Constants[1].(*compiler.Proto)
	require.Contains(t, inner.Chunk.Code, byte(compiler.SET_LOCAL))
	require.NotContains(t, inner.Chunk.Code, byte(compiler.SET_GLOBAL))
}

func TestCompileGlobalDeclaration(t *testing.T) {
	proto := mustCompile(t, "let x = 1")
	require.Contains(t, proto.Chunk.Code, byte(compiler.DEF_GLOBAL))
}

func TestCompileFunctionLiteralEmitsClosure(t *testing.T) {
	proto := mustCompile(t, "let f = fn(a, b) return a + b end")
	require.Contains(t, proto.Chunk.Code, byte(compiler.CLOSURE))
	// constant 0 is the global name "f", constant 1 the function prototype
	require.Len(t, proto.Chunk.Constants, 2)
	inner, ok := proto.Chunk.Constants[1].(*compiler.Proto)
	require.True(t, ok)
	require.Equal(t, 2, inner.Arity)
}

func TestCompileClosureCapturesUpvalue(t *testing.T) {
	proto := mustCompile(t, `
let make = fn()
	let count = 0
	return fn()
		count = count + 1
		return count
	end
end
`)
	// constant 0 is the global name "make" in the script and the literal 0 in make
	outer := proto.Chunk.Constants[1].(*compiler.Proto)
	inner := outer.Chunk.Constants[1].(*compiler.Proto)
	require.Len(t, inner.Upvalues, 1)
	require.True(t, inner.Upvalues[0].IsLocal)
}

func TestCompileIfElseBothBranchesValueProducing(t *testing.T) {
	proto := mustCompile(t, `
let x = if true do
	1
else
	2
end
`)
	require.Contains(t, proto.Chunk.Code, byte(compiler.JMP_POP_FALSE))
	require.Contains(t, proto.Chunk.Code, byte(compiler.JMP))
}

func TestCompileCondExpression(t *testing.T) {
	proto := mustCompile(t, `
let x = cond:
	1 == 1 -> "one",
	1 == 2 -> "two"
end
`)
	require.Contains(t, proto.Chunk.Code, byte(compiler.JMP_POP_FALSE))
}

func TestCompileWhileLoop(t *testing.T) {
	proto := mustCompile(t, `
let i = 0
while i < 10 do
	i = i + 1
end
`)
	require.Contains(t, proto.Chunk.Code, byte(compiler.JMP_BACK))
}

func TestCompileBreakContinue(t *testing.T) {
	proto := mustCompile(t, `
let i = 0
while i < 10 do
	i = i + 1
	if i == 5 do
		break
	end
	continue
end
`)
	require.Contains(t, proto.Chunk.Code, byte(compiler.JMP))
}

func TestCompileInvalidAssignmentTarget(t *testing.T) {
	_, err := compiler.Compile("test", []byte("1 = 2"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid assignment target")
}

func TestCompileTypeKeywordIsSyntaxError(t *testing.T) {
	_, err := compiler.Compile("test", []byte("type Foo = Bar()"))
	require.Error(t, err)
}

func TestCompileErrorFormat(t *testing.T) {
	_, err := compiler.Compile("myfile", []byte("let = 1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "myfile")
	require.Contains(t, err.Error(), "line: 1")
}

func TestCompileArrayAndMapLiterals(t *testing.T) {
	proto := mustCompile(t, `let a = [1, 2, 3]
let m = {"x": 1, "y": 2}`)
	require.Contains(t, proto.Chunk.Code, byte(compiler.ARRAY_8))
	require.Contains(t, proto.Chunk.Code, byte(compiler.MAP_8))
}

func TestCompileConsAndConcatenate(t *testing.T) {
	proto := mustCompile(t, `let p = 1 | 2
let s = "a" @ "b"`)
	require.Contains(t, proto.Chunk.Code, byte(compiler.CONS))
	require.Contains(t, proto.Chunk.Code, byte(compiler.CONCATENATE))
}

func TestCompileRecursiveGlobalFunction(t *testing.T) {
	proto := mustCompile(t, `
let fact = fn(n)
	return if n == 0 do
		1
	else
		n * fact(n - 1)
	end
end
`)
	inner := proto.Chunk.Constants[1].(*compiler.Proto)
	require.Contains(t, inner.Chunk.Code, byte(compiler.GET_GLOBAL))
}
