package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/mna/mainer"
)

const binName = "raven"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> [<path>...]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> [<path>...] [-- <arg>...]
       %[1]s -h|--help
       %[1]s -v|--version

Compiler and virtual machine for the %[1]s programming language.

The <command> can be one of:
       run                       Compile and execute one or more source
                                 files (the default when the first argument
                                 names an existing file).
       repl                      Start an interactive read-eval-print loop.
       tokenize                  Execute the scanner phase of the
                                 compilation and print the resulting
                                 tokens.
       disassemble               Compile one or more source files and print
                                 their bytecode, one instruction per line.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.

Environment variables:
       RAVEN_MAX_STEPS           Abort a running thread after this many
                                 executed instructions (0, the default,
                                 means unlimited).
       RAVEN_GC_GROWTH_FACTOR    Multiplier applied to the byte-accounting
                                 threshold after each collection (default 2).

More information on the %[1]s repository:
       https://github.com/mna/raven
`, binName)
)

// Config holds the environment-variable overrides the VM-running commands
// (run, repl) consult to tune the VM (spec §4.1 GC growth factor, §4.5 step
// limit), read once via github.com/caarlos0/env/v6 in Main.
type Config struct {
	MaxSteps        uint64  `env:"RAVEN_MAX_STEPS" envDefault:"0"`
	GCGrowthFactor  float64 `env:"RAVEN_GC_GROWTH_FACTOR" envDefault:"2.0"`
}

type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	args    []string
	runArgs []string
	flags   map[string]bool
	cfg     Config
	cmdFn   cmdFunc
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) SetFlags(flags map[string]bool) {
	c.flags = flags
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}

	if len(c.args) == 0 {
		return errors.New("no command specified")
	}

	cmdName := c.args[0]
	cmdArgs := c.args[1:]

	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		// no such command: treat the whole argument list as file paths for the
		// default `run` command, as long as the first one actually exists.
		if _, err := os.Stat(cmdName); err != nil {
			return fmt.Errorf("unknown command: %s", cmdName)
		}
		c.cmdFn = commands["run"]
		cmdArgs = c.args
	}
	c.runArgs = cmdArgs

	if (cmdName == "tokenize" || cmdName == "disassemble") && len(cmdArgs) == 0 {
		return fmt.Errorf("%s: at least one file must be provided", cmdName)
	}

	return nil
}

func printError(stdio mainer.Stdio, err error) error {
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
	}
	return err
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false, // leaving this here for now in case some flags can use this
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	if err := env.Parse(&c.cfg); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid environment configuration: %s\n", err)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.runArgs); err != nil {
		// each command takes care of printing its errors, just return with an error code
		return mainer.Failure
	}
	return mainer.Success
}

// cmdFunc is the shape every Raven subcommand method must have: a receiver
// of *Cmd, a context, the process' Stdio, and the remaining CLI arguments.
type cmdFunc = func(context.Context, mainer.Stdio, []string) error

// buildCmds discovers every exported *Cmd method matching cmdFunc's shape by
// reflection and indexes it by its lowercased method name, so adding a new
// subcommand (run, repl, tokenize, disassemble, ...) never touches this
// dispatch table by hand.
func buildCmds(cmd interface{}) map[string]cmdFunc {
	cmds := make(map[string]cmdFunc)

	rv := reflect.ValueOf(cmd)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		sig := method.Type

		// must take 4 parameters (including receiver) and return 1
		if sig.NumIn() != 4 || sig.NumOut() != 1 {
			continue
		}

		if out := sig.Out(0); out.Kind() != reflect.Interface || out.Name() != "error" {
			continue
		}
		if recv := sig.In(0); recv.Kind() != reflect.Ptr || recv.Elem().Name() != "Cmd" {
			continue
		}
		if ctxArg := sig.In(1); ctxArg.Kind() != reflect.Interface || ctxArg.Name() != "Context" {
			continue
		}
		if stdioArg := sig.In(2); stdioArg.Kind() != reflect.Struct || stdioArg.Name() != "Stdio" {
			continue
		}
		if argsArg := sig.In(3); argsArg.Kind() != reflect.Slice || argsArg.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(method.Name)] = rv.Method(i).Interface().(cmdFunc)
	}
	return cmds
}
