package maincmd

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/mna/mainer"
	"github.com/mna/raven/lang/compiler"
	"github.com/mna/raven/lang/machine"
)

// Repl implements the `repl` command: a line-at-a-time read-eval-print loop
// sharing one VM image (and therefore one set of global bindings) across
// every line, matching the original implementation's interactive mode.
func (c *Cmd) Repl(ctx context.Context, stdio mainer.Stdio, args []string) error {
	th, alloc := machine.NewVM()
	th.Path = "<repl>"
	th.Stdout = stdio.Stdout
	th.Stderr = stdio.Stderr
	th.Stdin = stdio.Stdin
	th.MaxSteps = c.cfg.MaxSteps
	alloc.SetGrowthFactor(c.cfg.GCGrowthFactor)

	in := bufio.NewScanner(stdio.Stdin)
	for {
		fmt.Fprint(stdio.Stdout, "> ")
		if !in.Scan() {
			break
		}
		line := in.Text()
		if line == "" {
			continue
		}
		proto, err := compiler.Compile(th.Path, []byte(line))
		if err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			continue
		}
		x, err := th.Run(proto)
		if err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			continue
		}
		if _, isNil := x.(machine.Nil); !isNil {
			fmt.Fprintln(stdio.Stdout, x.String())
		}
	}
	if err := in.Err(); err != nil && err != io.EOF {
		return printError(stdio, err)
	}
	return nil
}
