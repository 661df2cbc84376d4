package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/mna/raven/lang/compiler"
)

// Disassemble implements the `disassemble` command: compile each file and
// print its bytecode without executing it.
func (c *Cmd) Disassemble(ctx context.Context, stdio mainer.Stdio, args []string) error {
	var failed bool
	for _, path := range args {
		if err := disassembleFile(stdio, path); err != nil {
			printError(stdio, err)
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("disassemble: one or more files failed")
	}
	return nil
}

func disassembleFile(stdio mainer.Stdio, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	proto, err := compiler.Compile(path, src)
	if err != nil {
		return err
	}
	fmt.Fprint(stdio.Stdout, compiler.Disassemble(proto))
	return nil
}
