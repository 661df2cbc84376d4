package compiler_test

import (
	"testing"

	"github.com/mna/raven/lang/compiler"
	"github.com/stretchr/testify/require"
)

func TestChunkAddConstantDedupesFloatsAndStrings(t *testing.T) {
	var c compiler.Chunk

	i1, err := c.AddConstant(1.5)
	require.NoError(t, err)
	i2, err := c.AddConstant(1.5)
	require.NoError(t, err)
	require.Equal(t, i1, i2)
	require.Len(t, c.Constants, 1)

	i3, err := c.AddConstant("hello")
	require.NoError(t, err)
	i4, err := c.AddConstant("hello")
	require.NoError(t, err)
	require.Equal(t, i3, i4)
	require.Len(t, c.Constants, 2)

	i5, err := c.AddConstant("world")
	require.NoError(t, err)
	require.NotEqual(t, i3, i5)
	require.Len(t, c.Constants, 3)
}

func TestChunkAddConstantLimit(t *testing.T) {
	var c compiler.Chunk
	for i := 0; i < compiler.ConstantsLimit; i++ {
		_, err := c.AddConstant(float64(i))
		require.NoError(t, err)
	}
	_, err := c.AddConstant(float64(compiler.ConstantsLimit))
	require.Error(t, err)
	require.Contains(t, err.Error(), "too many constants")
}

func TestChunkDecodeLineBinarySearch(t *testing.T) {
	var c compiler.Chunk
	c.WriteOp(compiler.PUSH_NIL, 1)
	c.WriteOp(compiler.PUSH_NIL, 1)
	c.WriteOp(compiler.PUSH_NIL, 2)
	c.WriteOp(compiler.PUSH_NIL, 2)
	c.WriteOp(compiler.PUSH_NIL, 2)
	c.WriteOp(compiler.PUSH_NIL, 5)

	require.Equal(t, 1, c.DecodeLine(0))
	require.Equal(t, 1, c.DecodeLine(1))
	require.Equal(t, 2, c.DecodeLine(2))
	require.Equal(t, 2, c.DecodeLine(4))
	require.Equal(t, 5, c.DecodeLine(5))
}

func TestChunkDecodeLineEmpty(t *testing.T) {
	var c compiler.Chunk
	require.Equal(t, 0, c.DecodeLine(0))
}

func TestChunkPatchJumpTooFar(t *testing.T) {
	var c compiler.Chunk
	off := c.WriteOp16(compiler.JMP, 0, 1)
	// simulate an enormous amount of code emitted between the jump and its target
	for i := 0; i <= 0xffff; i++ {
		c.WriteOp(compiler.POP, 1)
	}
	err := c.PatchJump(off + 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "too large to encode")
}

func TestChunkPatchJumpInRange(t *testing.T) {
	var c compiler.Chunk
	off := c.WriteOp16(compiler.JMP, 0, 1)
	c.WriteOp(compiler.POP, 1)
	err := c.PatchJump(off + 1)
	require.NoError(t, err)
	require.Equal(t, byte(0), c.Code[off+1])
	require.Equal(t, byte(1), c.Code[off+2])
}

func TestChunkEmitBackJump(t *testing.T) {
	var c compiler.Chunk
	target := len(c.Code)
	c.WriteOp(compiler.PUSH_NIL, 1)
	err := c.EmitBackJump(target, 1)
	require.NoError(t, err)
	require.Equal(t, byte(compiler.JMP_BACK), c.Code[1])
}
