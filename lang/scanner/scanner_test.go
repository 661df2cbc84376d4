package scanner_test

import (
	"testing"

	"github.com/mna/raven/lang/scanner"
	"github.com/mna/raven/lang/token"
	"github.com/stretchr/testify/require"
)

func TestScannerKinds(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want []token.Kind
	}{
		{"empty", "", []token.Kind{token.EOF}},
		{"ident and keyword", "let x", []token.Kind{token.LET, token.IDENT, token.EOF}},
		{"int literal", "42", []token.Kind{token.INT, token.EOF}},
		{"hex literal", "0xFF", []token.Kind{token.INT, token.EOF}},
		{"octal literal", "0o17", []token.Kind{token.INT, token.EOF}},
		{"binary literal", "0b101", []token.Kind{token.INT, token.EOF}},
		{"float literal", "1.23", []token.Kind{token.FLOAT, token.EOF}},
		{"exponent literal", "1e-10", []token.Kind{token.FLOAT, token.EOF}},
		{"string literal", "'hi'", []token.Kind{token.STRING, token.EOF}},
		{"raw string literal", "`hi\\n`", []token.Kind{token.STRING, token.EOF}},
		{"operators", "+ - * / % @ | ->", []token.Kind{
			token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT,
			token.AT, token.PIPE, token.ARROW, token.EOF,
		}},
		{"comparisons", "== != < > <= >=", []token.Kind{
			token.EQEQ, token.BANGEQ, token.LT, token.GT, token.LE, token.GE, token.EOF,
		}},
		{"comment", "1 # a comment\n2", []token.Kind{
			token.INT, token.NL, token.INT, token.EOF,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			toks := scanner.ScanAll("test", []byte(tc.src))
			kinds := make([]token.Kind, len(toks))
			for i, tok := range toks {
				kinds[i] = tok.Kind
			}
			require.Equal(t, tc.want, kinds)
		})
	}
}

func TestScannerStringEscapes(t *testing.T) {
	toks := scanner.ScanAll("test", []byte(`'a\nb'`))
	require.Len(t, toks, 2)
	require.Equal(t, token.STRING, toks[0].Kind)
	require.Equal(t, "a\nb", toks[0].Lexeme)
}

func TestScannerErrorToken(t *testing.T) {
	toks := scanner.ScanAll("test", []byte(`'unterminated`))
	require.Equal(t, token.ERROR, toks[0].Kind)
}

func TestScannerLineTracking(t *testing.T) {
	toks := scanner.ScanAll("test", []byte("1\n2\n3"))
	var lines []int
	for _, tok := range toks {
		if tok.Kind == token.INT {
			lines = append(lines, tok.Line)
		}
	}
	require.Equal(t, []int{1, 2, 3}, lines)
}
