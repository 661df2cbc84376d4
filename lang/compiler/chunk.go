package compiler

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// ConstantsLimit is the maximum number of distinct constants a single chunk
// may hold; constants are addressed by a single byte operand (spec §4.3).
const ConstantsLimit = 256

// UpvaluesLimit bounds the number of distinct upvalues a function may close
// over (spec §4.4).
const UpvaluesLimit = 256

// lineRun records that, starting at byte offset Offset, subsequent
// instructions belong to source Line, until the next run begins. Runs are
// appended only when the line actually changes, giving a compact run-length
// encoding (spec §4.3).
type lineRun struct {
	Line   int
	Offset int
}

// Chunk is the bytecode container for a single function: its instruction
// stream, line-number table, and constant pool.
type Chunk struct {
	Code      []byte
	lines     []lineRun
	Constants []any // float64 | string | *Proto; nil/true/false use their own opcodes
}

// Write appends a single bytecode byte at the given source line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.writeLine(line)
}

func (c *Chunk) writeLine(line int) {
	if n := len(c.lines); n > 0 && c.lines[n-1].Line == line {
		return
	}
	c.lines = append(c.lines, lineRun{Line: line, Offset: len(c.Code) - 1})
}

// WriteOp appends an opcode with no operand.
func (c *Chunk) WriteOp(op Opcode, line int) int {
	off := len(c.Code)
	c.Write(byte(op), line)
	return off
}

// WriteOpByte appends an opcode followed by a single-byte operand.
func (c *Chunk) WriteOpByte(op Opcode, arg byte, line int) int {
	off := len(c.Code)
	c.Write(byte(op), line)
	c.Write(arg, line)
	return off
}

// WriteOp16 appends an opcode followed by a big-endian 16-bit operand.
func (c *Chunk) WriteOp16(op Opcode, arg uint16, line int) int {
	off := len(c.Code)
	c.Write(byte(op), line)
	c.Write(byte(arg>>8), line)
	c.Write(byte(arg), line)
	return off
}

// AddConstant appends value to the constant pool and returns its index,
// reusing an existing entry when value (a float64 or string; *Proto
// constants are never deduplicated, each closure literal is distinct) was
// already added — this stretches a chunk's 256-slot budget considerably for
// sources that repeat the same literal (spec §4.3 invariant 1).
func (c *Chunk) AddConstant(value any) (byte, error) {
	switch value.(type) {
	case float64, string:
		if i := slices.IndexFunc(c.Constants, func(v any) bool { return v == value }); i >= 0 {
			return byte(i), nil
		}
	}
	if len(c.Constants) >= ConstantsLimit {
		return 0, fmt.Errorf("too many constants in one function")
	}
	c.Constants = append(c.Constants, value)
	return byte(len(c.Constants) - 1), nil
}

// DecodeLine returns the source line of the instruction at the given byte
// offset, via binary search over the run-length line table (spec §4.3,
// §8 line-table monotonicity).
func (c *Chunk) DecodeLine(offset int) int {
	lo, hi := 0, len(c.lines)-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if c.lines[mid].Offset <= offset {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if len(c.lines) == 0 {
		return 0
	}
	return c.lines[best].Line
}

// PatchJump rewrites the 2-byte big-endian operand at operandOffset so that
// executing the jump at runtime lands at the chunk's current end (a forward
// jump target). It fails if the resulting offset would not fit in 16 bits
// (spec §4.4 jump patching, §8 boundary behavior).
func (c *Chunk) PatchJump(operandOffset int) error {
	jump := len(c.Code) - operandOffset - 2
	if jump > 0xffff {
		return fmt.Errorf("jump offset too large to encode (%d > 65535)", jump)
	}
	c.Code[operandOffset] = byte(jump >> 8)
	c.Code[operandOffset+1] = byte(jump)
	return nil
}

// EmitBackJump appends a JMP_BACK instruction targeting the instruction at
// byte offset target.
func (c *Chunk) EmitBackJump(target, line int) error {
	off := c.WriteOp16(JMP_BACK, 0, line)
	jump := off + 3 - target
	if jump > 0xffff {
		return fmt.Errorf("jump offset too large to encode (%d > 65535)", jump)
	}
	c.Code[off+1] = byte(jump >> 8)
	c.Code[off+2] = byte(jump)
	return nil
}
