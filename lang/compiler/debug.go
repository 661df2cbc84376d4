package compiler

import (
	"fmt"
	"strings"
)

// Disassemble renders every instruction in proto's chunk (and, recursively,
// every nested function prototype reachable from its constant pool) as one
// line of offset, source line, mnemonic and operand — the "debug dumping
// utilities" collaborator named in spec §1, used by the `disassemble`
// command.
func Disassemble(proto *Proto) string {
	var b strings.Builder
	disassemble(&b, proto)
	return b.String()
}

func disassemble(b *strings.Builder, proto *Proto) {
	name := proto.Name
	if name == "" {
		name = "<script>"
	}
	fmt.Fprintf(b, "== %s ==\n", name)

	ch := &proto.Chunk
	offset := 0
	lastLine := -1
	for offset < len(ch.Code) {
		line := ch.DecodeLine(offset)
		if line == lastLine {
			fmt.Fprintf(b, "%04d    | ", offset)
		} else {
			fmt.Fprintf(b, "%04d %5d ", offset, line)
			lastLine = line
		}

		op := Opcode(ch.Code[offset])
		switch {
		case op == CLOSURE:
			idx := ch.Code[offset+1]
			fmt.Fprintf(b, "%-16s %4d\n", op, idx)
			offset += 2
			if cp, ok := ch.Constants[idx].(*Proto); ok {
				for range cp.Upvalues {
					offset += 2
				}
			}
		case operandBytes(op) == 1:
			arg := ch.Code[offset+1]
			if op == PUSH_CONST {
				fmt.Fprintf(b, "%-16s %4d '%v'\n", op, arg, ch.Constants[arg])
			} else {
				fmt.Fprintf(b, "%-16s %4d\n", op, arg)
			}
			offset += 2
		case operandBytes(op) == 2:
			arg := uint16(ch.Code[offset+1])<<8 | uint16(ch.Code[offset+2])
			if isJump(op) {
				target := offset + 3
				if op == JMP_BACK {
					target -= int(arg)
				} else {
					target += int(arg)
				}
				fmt.Fprintf(b, "%-16s %4d -> %d\n", op, arg, target)
			} else {
				fmt.Fprintf(b, "%-16s %4d\n", op, arg)
			}
			offset += 3
		default:
			fmt.Fprintf(b, "%s\n", op)
			offset++
		}
	}

	for _, c := range ch.Constants {
		if cp, ok := c.(*Proto); ok {
			disassemble(b, cp)
		}
	}
}
