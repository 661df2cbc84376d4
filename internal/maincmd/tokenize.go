package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/mna/raven/lang/scanner"
	"github.com/mna/raven/lang/token"
)

// Tokenize implements the `tokenize` command: dump the scanner's token
// stream for one or more source files, one token per line (spec §1's
// "debug dumping utilities" collaborator).
func (c *Cmd) Tokenize(ctx context.Context, stdio mainer.Stdio, args []string) error {
	var failed bool
	for _, path := range args {
		if err := tokenizeFile(stdio, path); err != nil {
			printError(stdio, err)
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("tokenize: one or more files failed")
	}
	return nil
}

func tokenizeFile(stdio mainer.Stdio, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, tok := range scanner.ScanAll(path, src) {
		fmt.Fprintf(stdio.Stdout, "%s:%d: %s", path, tok.Line, tok.Kind)
		if tok.Kind != token.EOF && tok.Lexeme != "" {
			fmt.Fprintf(stdio.Stdout, " %q", tok.Lexeme)
		}
		fmt.Fprintln(stdio.Stdout)
		if tok.Kind == token.EOF {
			break
		}
	}
	return nil
}
