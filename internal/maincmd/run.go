package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/mna/raven/lang/compiler"
	"github.com/mna/raven/lang/machine"
)

// Run implements the `run` command: compile and execute each file in turn
// in its own fresh VM image, printing the compiled script's exported value
// (spec §4.6's X register) when it is not nil.
func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	if len(args) == 0 {
		return printError(stdio, fmt.Errorf("run: at least one file must be provided"))
	}
	for _, path := range args {
		if err := c.runFile(stdio, path); err != nil {
			printError(stdio, err)
			return err
		}
	}
	return nil
}

func (c *Cmd) runFile(stdio mainer.Stdio, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	proto, err := compiler.Compile(path, src)
	if err != nil {
		return &machine.CompileError{Msg: err.Error()}
	}

	th, alloc := machine.NewVM()
	th.Path = path
	th.Stdout = stdio.Stdout
	th.Stderr = stdio.Stderr
	th.Stdin = stdio.Stdin
	th.MaxSteps = c.cfg.MaxSteps
	alloc.SetGrowthFactor(c.cfg.GCGrowthFactor)

	x, err := th.Run(proto)
	if err != nil {
		return err
	}
	if _, isNil := x.(machine.Nil); !isNil {
		fmt.Fprintln(stdio.Stdout, x.String())
	}
	return nil
}
