// Package compiler implements the single-pass Pratt compiler: it consumes a
// token stream from lang/scanner and emits bytecode chunks (lang/compiler
// Chunk) for the virtual machine in lang/machine to execute. There is no
// intermediate AST — expressions and statements are lowered directly to
// bytecode as they are parsed (spec §4.4).
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mna/raven/lang/scanner"
	"github.com/mna/raven/lang/token"
)

// precedence levels, lowest to highest (spec §4.4 Pratt table).
type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precCons                  // |
	precConcat                // @
	precTerm                  // + -
	precFactor                // * / %
	precUnary                 // not -
	precCall                  // () [] .
	precHighest
)

type (
	prefixFn func(c *Compiler, canAssign bool)
	infixFn  func(c *Compiler, canAssign bool)
)

type rule struct {
	prefix prefixFn
	infix  infixFn
	prec   precedence
}

var rules map[token.Kind]rule

func init() {
	rules = map[token.Kind]rule{
		token.LPAREN:   {prefix: (*Compiler).grouping, infix: (*Compiler).call, prec: precCall},
		token.LBRACK:   {prefix: (*Compiler).arrayLiteral, infix: (*Compiler).index, prec: precCall},
		token.LBRACE:   {prefix: (*Compiler).mapLiteral},
		token.MINUS:    {prefix: (*Compiler).unary, infix: (*Compiler).binary, prec: precTerm},
		token.PLUS:     {infix: (*Compiler).binary, prec: precTerm},
		token.STAR:     {infix: (*Compiler).binary, prec: precFactor},
		token.SLASH:    {infix: (*Compiler).binary, prec: precFactor},
		token.PERCENT:  {infix: (*Compiler).binary, prec: precFactor},
		token.AT:       {infix: (*Compiler).binary, prec: precConcat},
		token.PIPE:     {infix: (*Compiler).cons, prec: precCons},
		token.EQEQ:     {infix: (*Compiler).binary, prec: precEquality},
		token.BANGEQ:   {infix: (*Compiler).binary, prec: precEquality},
		token.LT:       {infix: (*Compiler).binary, prec: precComparison},
		token.GT:       {infix: (*Compiler).binary, prec: precComparison},
		token.LE:       {infix: (*Compiler).binary, prec: precComparison},
		token.GE:       {infix: (*Compiler).binary, prec: precComparison},
		token.NOT:      {prefix: (*Compiler).unary},
		token.AND:      {infix: (*Compiler).and_, prec: precAnd},
		token.OR:       {infix: (*Compiler).or_, prec: precOr},
		token.EQ:       {infix: (*Compiler).assignment, prec: precAssignment},
		token.INT:      {prefix: (*Compiler).number},
		token.FLOAT:    {prefix: (*Compiler).number},
		token.STRING:   {prefix: (*Compiler).stringLit},
		token.TRUE:     {prefix: (*Compiler).literal},
		token.FALSE:    {prefix: (*Compiler).literal},
		token.NIL:      {prefix: (*Compiler).literal},
		token.IDENT:    {prefix: (*Compiler).variable},
		token.FN:       {prefix: (*Compiler).functionLiteral},
		token.IF:       {prefix: (*Compiler).ifExpr},
		token.COND:     {prefix: (*Compiler).condExpr},
		token.WHILE:    {prefix: (*Compiler).whileExpr},
	}
}

// local describes one slot of a function's local-variable stack window (spec
// §4.4 Scope & locals).
type local struct {
	name     string
	depth    int // -1 while the local's initializer is being compiled
	captured bool
}

// funcState tracks compile-time state for the function currently being
// emitted: its Proto-in-progress, lexical scope, and loop context.
type funcState struct {
	enclosing *funcState
	proto     *Proto
	locals    []local
	scopeDepth int

	loopStart int // bytecode offset of innermost loop's condition, -1 if none
	loopDepth int // scope depth of innermost loop, -1 if none
	breaks    []int

	// lastGet records the opcode most recently emitted by a variable or index
	// reference, so that a following '=' can rewrite it into the matching
	// SET_* form (spec §4.4 Assignment).
	lastGet lastGetInfo
}

type lastGetInfo struct {
	valid   bool
	op      Opcode
	operand byte
	offset  int // byte offset of the opcode itself
}

// Compiler drives the single-pass compilation of one source file into a
// top-level Proto representing the implicit script function.
type Compiler struct {
	path string
	sc   *scanner.Scanner

	previous, current, lookahead token.Token

	hadError   bool
	panicMode  bool
	errs       []string

	fs *funcState
}

// Compile tokenizes and compiles src, returning the top-level function
// prototype (the script wrapped as a zero-arity function, spec §4.4). If any
// syntax error was reported, the returned error is non-nil and the Proto, if
// non-nil, must not be handed to the machine (spec §7 propagation policy).
func Compile(path string, src []byte) (*Proto, error) {
	c := &Compiler{path: path, sc: scanner.New(path, src)}
	c.current = c.nextRawToken()
	c.lookahead = c.nextRawToken()

	c.pushFunc("", 0)
	c.block(true)
	c.emitOp(SAVE_X)
	c.consume(token.EOF, "expect end of file")
	proto := c.popFunc()

	if c.hadError {
		return proto, fmt.Errorf("%s", strings.Join(c.errs, "\n"))
	}
	return proto, nil
}

func (c *Compiler) nextRawToken() token.Token {
	for {
		tok := c.sc.Next()
		if tok.Kind == token.ERROR {
			c.errorAt(tok, tok.Lexeme)
			continue
		}
		return tok
	}
}

func (c *Compiler) advance() {
	c.previous = c.current
	c.current = c.lookahead
	c.lookahead = c.nextRawToken()
}

func (c *Compiler) check(k token.Kind) bool     { return c.current.Kind == k }
func (c *Compiler) checkNext(k token.Kind) bool { return c.lookahead.Kind == k }

func (c *Compiler) match(k token.Kind) bool {
	if !c.check(k) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(k token.Kind, msg string) {
	if c.current.Kind == k {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

// --- error reporting (spec §4.4 panic mode, §7) ---

func (c *Compiler) errorAt(tok token.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true
	lexeme := tok.Lexeme
	if tok.Kind == token.EOF {
		lexeme = "EOF"
	}
	c.errs = append(c.errs, fmt.Sprintf("[%s | line: %d] %s (near %q)", c.path, tok.Line, msg, lexeme))
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) errorAtPrevious(msg string) { c.errorAt(c.previous, msg) }

// synchronize resynchronizes the parser to the next statement boundary after
// a syntax error (spec §4.4 Panic mode & recovery).
func (c *Compiler) synchronize() {
	c.panicMode = false
	for !c.check(token.EOF) {
		if c.previous.Kind == token.SEMI || c.previous.Kind == token.NL {
			return
		}
		switch c.current.Kind {
		case token.LET, token.FN, token.TYPE, token.RETURN, token.BREAK, token.CONTINUE:
			return
		}
		c.advance()
	}
}

// --- chunk helpers bound to the function currently being compiled ---

func (c *Compiler) chunk() *Chunk { return &c.fs.proto.Chunk }

func (c *Compiler) emitOp(op Opcode) int {
	c.fs.lastGet = lastGetInfo{}
	return c.chunk().WriteOp(op, c.previous.Line)
}

func (c *Compiler) emitOpByte(op Opcode, arg byte) int {
	c.fs.lastGet = lastGetInfo{}
	return c.chunk().WriteOpByte(op, arg, c.previous.Line)
}

func (c *Compiler) emitJump(op Opcode) int {
	c.fs.lastGet = lastGetInfo{}
	return c.chunk().WriteOp16(op, 0, c.previous.Line)
}

func (c *Compiler) patchJump(offset int) {
	if err := c.chunk().PatchJump(offset + 1); err != nil {
		c.errorAtPrevious(err.Error())
	}
}

func (c *Compiler) emitLoop(start int) {
	if err := c.chunk().EmitBackJump(start, c.previous.Line); err != nil {
		c.errorAtPrevious(err.Error())
	}
}

func (c *Compiler) emitConstant(v any) {
	idx, err := c.chunk().AddConstant(v)
	if err != nil {
		c.errorAtPrevious(err.Error())
		return
	}
	c.emitOpByte(PUSH_CONST, idx)
}

// --- function (Proto) scaffolding ---

func (c *Compiler) pushFunc(name string, arity int) {
	c.fs = &funcState{
		enclosing: c.fs,
		proto:     &Proto{Name: name, Arity: arity},
		loopStart: -1,
		loopDepth: -1,
	}
	// slot 0 is reserved for the function's own closure value, matching the
	// machine's calling convention (spec §4.5 Calls: callee sits below its
	// arguments). The slot has no name, so no identifier resolves to it.
	c.fs.locals = append(c.fs.locals, local{name: "", depth: 0})
}

func (c *Compiler) popFunc() *Proto {
	c.emitOp(PUSH_NIL)
	c.emitOp(RETURN)
	proto := c.fs.proto
	c.fs = c.fs.enclosing
	return proto
}

// --- scopes & locals (spec §4.4 Scope & locals) ---

func (c *Compiler) beginScope() { c.fs.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fs.scopeDepth--
	n := 0
	for len(c.fs.locals) > 0 && c.fs.locals[len(c.fs.locals)-1].depth > c.fs.scopeDepth {
		last := c.fs.locals[len(c.fs.locals)-1]
		c.fs.locals = c.fs.locals[:len(c.fs.locals)-1]
		if last.captured {
			if n > 0 {
				c.emitOpByte(POPN, byte(n))
				n = 0
			}
			c.emitOp(CLOSE_UPVALUE)
		} else {
			n++
		}
	}
	if n > 0 {
		c.emitOpByte(POPN, byte(n))
	}
}

func (c *Compiler) addLocal(name string) {
	if len(c.fs.locals) >= 256 {
		c.errorAtPrevious("too many local variables in function")
		return
	}
	c.fs.locals = append(c.fs.locals, local{name: name, depth: -1})
}

func (c *Compiler) declareLocal(name string) {
	for i := len(c.fs.locals) - 1; i >= 0; i-- {
		l := c.fs.locals[i]
		if l.depth != -1 && l.depth < c.fs.scopeDepth {
			break
		}
		if l.name == name {
			c.errorAtPrevious(fmt.Sprintf("variable %q already declared in this scope", name))
			return
		}
	}
	c.addLocal(name)
}

func (c *Compiler) markInitialized() {
	if c.fs.scopeDepth == 0 {
		return
	}
	c.fs.locals[len(c.fs.locals)-1].depth = c.fs.scopeDepth
}

// resolveLocal implements spec §4.4 resolve_local: uninitialized locals
// (depth == -1) are skipped so that `let x = x` may refer to an outer x.
func resolveLocal(fs *funcState, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name && fs.locals[i].depth != -1 {
			return i
		}
	}
	return -1
}

func addUpvalue(fs *funcState, index byte, isLocal bool) int {
	for i, uv := range fs.proto.Upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}
	if len(fs.proto.Upvalues) >= UpvaluesLimit {
		return -1
	}
	fs.proto.Upvalues = append(fs.proto.Upvalues, UpvalueDesc{IsLocal: isLocal, Index: index})
	return len(fs.proto.Upvalues) - 1
}

// resolveUpvalue implements spec §4.4 resolve_upvalue.
func resolveUpvalue(fs *funcState, name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if local := resolveLocal(fs.enclosing, name); local != -1 {
		fs.enclosing.locals[local].captured = true
		return addUpvalue(fs, byte(local), true)
	}
	if up := resolveUpvalue(fs.enclosing, name); up != -1 {
		return addUpvalue(fs, byte(up), false)
	}
	return -1
}

func (c *Compiler) identifierConstant(name string) byte {
	idx, err := c.chunk().AddConstant(name)
	if err != nil {
		c.errorAtPrevious(err.Error())
		return 0
	}
	return idx
}

// --- declarations & statements ---

// declaration compiles one declaration or statement and reports whether it
// left exactly one value on the stack (true only for a bare expression
// statement). Used by block(), which Compile also uses for the top level, so
// that both a block's tail expression and a script's final expression can
// serve as a result value (spec §4.6: the script's result becomes the X
// register an `import` recovers).
func (c *Compiler) declaration() bool {
	c.skipTerminators()
	if c.check(token.EOF) {
		return false
	}
	hasValue := false
	switch {
	case c.match(token.LET):
		c.letDeclaration()
	case c.check(token.FN) && c.checkNext(token.IDENT):
		c.advance()
		c.fnDeclaration()
	case c.check(token.TYPE):
		c.errorAtCurrent("type declarations are not supported")
		c.advance()
		for !c.check(token.EOF) && c.previous.Kind != token.SEMI && c.previous.Kind != token.NL {
			c.advance()
		}
	default:
		hasValue = c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
	return hasValue
}

func (c *Compiler) skipTerminators() {
	for c.match(token.SEMI) || c.match(token.NL) {
	}
}

func (c *Compiler) consumeTerminator() {
	if c.match(token.SEMI) || c.match(token.NL) {
		c.skipTerminators()
		return
	}
	if c.atBlockEnd() {
		return
	}
	c.errorAtCurrent("expect ';' or newline after statement")
}

func (c *Compiler) atBlockEnd() bool {
	switch c.current.Kind {
	case token.END, token.ELSE, token.ELIF, token.EOF:
		return true
	}
	return false
}

func (c *Compiler) letDeclaration() {
	c.consume(token.IDENT, "expect variable name")
	name := c.previous.Lexeme
	isGlobal := c.fs.scopeDepth == 0

	var globalIdx byte
	if isGlobal {
		globalIdx = c.identifierConstant(name)
	} else {
		c.declareLocal(name)
	}

	if c.match(token.EQ) {
		c.expression()
	} else {
		c.emitOp(PUSH_NIL)
	}
	c.consumeTerminator()

	if isGlobal {
		c.emitOpByte(DEF_GLOBAL, globalIdx)
	} else {
		c.markInitialized()
	}
}

// fnDeclaration compiles `fn name(params) body end` as sugar for
// `let name = fn(params) body end;` (spec §4.4 Declarations).
func (c *Compiler) fnDeclaration() {
	c.consume(token.IDENT, "expect function name")
	name := c.previous.Lexeme
	isGlobal := c.fs.scopeDepth == 0

	var globalIdx byte
	if isGlobal {
		globalIdx = c.identifierConstant(name)
	} else {
		c.declareLocal(name)
		c.markInitialized()
	}

	c.compileFunction(name)

	if isGlobal {
		c.emitOpByte(DEF_GLOBAL, globalIdx)
	}
}

func (c *Compiler) statement() bool {
	switch {
	case c.match(token.RETURN):
		c.returnStatement()
		return false
	case c.match(token.CONTINUE):
		c.continueStatement()
		return false
	case c.match(token.BREAK):
		c.breakStatement()
		return false
	default:
		return c.expressionStatement()
	}
}

func (c *Compiler) returnStatement() {
	if c.atBlockEnd() || c.check(token.SEMI) || c.check(token.NL) {
		c.emitOp(PUSH_NIL)
	} else {
		c.expression()
	}
	c.consumeTerminator()
	c.emitOp(RETURN)
}

func (c *Compiler) continueStatement() {
	if c.fs.loopDepth == -1 {
		c.errorAtPrevious("'continue' outside of a loop")
	} else {
		c.popLocalsAbove(c.fs.loopDepth)
		c.emitLoop(c.fs.loopStart)
	}
	c.consumeTerminator()
}

func (c *Compiler) breakStatement() {
	if c.fs.loopDepth == -1 {
		c.errorAtPrevious("'break' outside of a loop")
	} else {
		c.popLocalsAbove(c.fs.loopDepth)
		c.fs.breaks = append(c.fs.breaks, c.emitJump(JMP))
	}
	c.consumeTerminator()
}

// popLocalsAbove emits the POPN/CLOSE_UPVALUE sequence for every local
// declared at a scope deeper than depth, without changing the compiler's
// notion of which locals are in scope (used by continue/break, which jump
// out without running normal endScope bookkeeping).
func (c *Compiler) popLocalsAbove(depth int) {
	n := 0
	for i := len(c.fs.locals) - 1; i >= 0 && c.fs.locals[i].depth > depth; i-- {
		if c.fs.locals[i].captured {
			if n > 0 {
				c.emitOpByte(POPN, byte(n))
				n = 0
			}
			c.emitOp(CLOSE_UPVALUE)
		} else {
			n++
		}
	}
	if n > 0 {
		c.emitOpByte(POPN, byte(n))
	}
}

func (c *Compiler) expressionStatement() bool {
	c.expression()
	c.consumeTerminator()
	return true
}

// block compiles statements until a block-ending token. When valueResult is
// true the final expression-statement's value is left on the stack as the
// block's result (spec §4.4: "a scope that yields a value ... reserves a
// load/store slot; scopes that discard their value do not").
func (c *Compiler) block(valueResult bool) {
	pendingPop := false
	for !c.atBlockEnd() {
		c.skipTerminators()
		if c.atBlockEnd() {
			break
		}
		if pendingPop {
			c.emitOp(POP)
			pendingPop = false
		}
		produced := c.declaration()
		if produced {
			pendingPop = true
		}
	}
	if pendingPop {
		if !valueResult {
			c.emitOp(POP)
		}
	} else if valueResult {
		c.emitOp(PUSH_NIL)
	}
}

// --- expressions ---

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

func (c *Compiler) parsePrecedence(min precedence) {
	c.advance()
	pr, ok := rules[c.previous.Kind]
	if !ok || pr.prefix == nil {
		c.errorAtPrevious("expect expression")
		return
	}
	canAssign := min <= precAssignment
	pr.prefix(c, canAssign)

	for {
		r, ok := rules[c.current.Kind]
		if !ok || min > r.prec {
			break
		}
		c.advance()
		ir, ok := rules[c.previous.Kind]
		if !ok || ir.infix == nil {
			c.errorAtPrevious("expect expression")
			return
		}
		ir.infix(c, canAssign)
	}
}

func (c *Compiler) number(_ bool) {
	lit := c.previous.Lexeme
	var f float64
	switch c.previous.Kind {
	case token.INT:
		base := 10
		digits := lit
		if len(lit) > 1 && lit[0] == '0' {
			switch lit[1] {
			case 'x', 'X':
				base, digits = 16, lit[2:]
			case 'o', 'O':
				base, digits = 8, lit[2:]
			case 'b', 'B':
				base, digits = 2, lit[2:]
			}
		}
		n, err := strconv.ParseInt(digits, base, 64)
		if err != nil {
			c.errorAtPrevious("invalid integer literal")
			return
		}
		f = float64(n)
	case token.FLOAT:
		var err error
		f, err = strconv.ParseFloat(lit, 64)
		if err != nil {
			c.errorAtPrevious("invalid float literal")
			return
		}
	}
	c.emitConstant(f)
}

func (c *Compiler) stringLit(_ bool) { c.emitConstant(c.previous.Lexeme) }

func (c *Compiler) literal(_ bool) {
	switch c.previous.Kind {
	case token.TRUE:
		c.emitOp(PUSH_TRUE)
	case token.FALSE:
		c.emitOp(PUSH_FALSE)
	case token.NIL:
		c.emitOp(PUSH_NIL)
	}
}

func (c *Compiler) grouping(_ bool) {
	c.expression()
	c.consume(token.RPAREN, "expect ')' after expression")
}

func (c *Compiler) unary(_ bool) {
	op := c.previous.Kind
	c.parsePrecedence(precUnary)
	switch op {
	case token.MINUS:
		c.emitOp(NEG)
	case token.NOT:
		c.emitOp(NOT)
	}
}

var binaryOps = map[token.Kind]Opcode{
	token.PLUS:    ADD,
	token.MINUS:   SUB,
	token.STAR:    MUL,
	token.SLASH:   DIV,
	token.PERCENT: MOD,
	token.AT:      CONCATENATE,
	token.EQEQ:    EQ,
	token.BANGEQ:  NEQ,
	token.LT:      LT,
	token.GT:      GT,
	token.LE:      LTQ,
	token.GE:      GTQ,
}

func (c *Compiler) binary(_ bool) {
	op := c.previous.Kind
	r := rules[op]
	c.parsePrecedence(r.prec + 1)
	c.emitOp(binaryOps[op])
}

// cons lowers the `|` operator, which is right-associative (spec §4.4:
// "Right-associative operators ... recurse at prec (not prec+1)").
func (c *Compiler) cons(_ bool) {
	c.parsePrecedence(precCons)
	c.emitOp(CONS)
}

func (c *Compiler) and_(_ bool) {
	endJump := c.emitJump(JMP_FALSE)
	c.emitOp(POP)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or_(_ bool) {
	elseJump := c.emitJump(JMP_FALSE)
	endJump := c.emitJump(JMP)
	c.patchJump(elseJump)
	c.emitOp(POP)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) {
	name := c.previous.Lexeme

	var getOp Opcode
	var arg byte
	if slot := resolveLocal(c.fs, name); slot != -1 {
		getOp, arg = GET_LOCAL, byte(slot)
	} else if slot := resolveUpvalue(c.fs, name); slot != -1 {
		getOp, arg = GET_UPVALUE, byte(slot)
	} else {
		getOp, arg = GET_GLOBAL, c.identifierConstant(name)
	}

	offset := c.emitOpByte(getOp, arg)
	if canAssign {
		c.fs.lastGet = lastGetInfo{valid: true, op: getOp, operand: arg, offset: offset}
	}
}

func (c *Compiler) call(_ bool) {
	argc := 0
	if !c.check(token.RPAREN) {
		for {
			c.expression()
			argc++
			if argc > 255 {
				c.errorAtPrevious("too many arguments")
			}
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "expect ')' after arguments")
	c.emitOpByte(CALL, byte(argc))
}

func (c *Compiler) index(canAssign bool) {
	c.expression()
	c.consume(token.RBRACK, "expect ']' after index")
	offset := c.emitOp(INDEX_GET)
	if canAssign {
		c.fs.lastGet = lastGetInfo{valid: true, op: INDEX_GET, offset: offset}
	}
}

// assignment implements spec §4.4 Assignment: rewrite the left operand's most
// recently emitted GET_* / INDEX_GET into the matching SET_* / INDEX_SET.
func (c *Compiler) assignment(canAssign bool) {
	info := c.fs.lastGet
	if !canAssign || !info.valid || info.offset != len(c.chunk().Code)-operandLenFor(info.op)-1 {
		c.errorAtPrevious("invalid assignment target")
		// still parse the RHS so compilation can continue to find more errors.
		c.parsePrecedence(precAssignment)
		return
	}

	// truncate the emitted GET instruction and recompile as a SET after the
	// right-hand side.
	c.chunk().Code = c.chunk().Code[:info.offset]
	c.fs.lastGet = lastGetInfo{}

	c.parsePrecedence(precAssignment) // right-associative: recurse at same level

	switch info.op {
	case GET_LOCAL:
		c.emitOpByte(SET_LOCAL, info.operand)
	case GET_GLOBAL:
		c.emitOpByte(SET_GLOBAL, info.operand)
	case GET_UPVALUE:
		c.emitOpByte(SET_UPVALUE, info.operand)
	case INDEX_GET:
		c.emitOp(INDEX_SET)
	}
}

func operandLenFor(op Opcode) int {
	switch op {
	case GET_LOCAL, GET_GLOBAL, GET_UPVALUE:
		return 1
	default:
		return 0
	}
}

func (c *Compiler) arrayLiteral(_ bool) {
	count := 0
	if !c.check(token.RBRACK) {
		for {
			c.skipTerminators()
			if c.check(token.RBRACK) {
				break
			}
			c.expression()
			count++
			c.skipTerminators()
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.skipTerminators()
	c.consume(token.RBRACK, "expect ']' after array elements")
	c.emitCountedOp(ARRAY_8, ARRAY_16, count, "array")
}

func (c *Compiler) mapLiteral(_ bool) {
	count := 0
	if !c.check(token.RBRACE) {
		for {
			c.skipTerminators()
			if c.check(token.RBRACE) {
				break
			}
			switch {
			case c.check(token.STRING):
				c.advance()
				c.emitConstant(c.previous.Lexeme)
			case c.check(token.IDENT):
				c.advance()
				c.emitConstant(c.previous.Lexeme)
			default:
				c.expression()
			}
			c.consume(token.COLON, "expect ':' after map key")
			c.expression()
			count++
			c.skipTerminators()
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.skipTerminators()
	c.consume(token.RBRACE, "expect '}' after map entries")
	c.emitCountedOp(MAP_8, MAP_16, count, "map")
}

func (c *Compiler) emitCountedOp(op8, op16 Opcode, count int, what string) {
	if count <= 0xff {
		c.emitOpByte(op8, byte(count))
		return
	}
	if count > 0xffff {
		c.errorAtPrevious(fmt.Sprintf("too many elements in %s literal", what))
		return
	}
	c.fs.lastGet = lastGetInfo{}
	c.chunk().WriteOp16(op16, uint16(count), c.previous.Line)
}

// compileFunction parses `(params) body end` and emits a CLOSURE instruction
// in the enclosing chunk (spec §4.4 Function literals).
func (c *Compiler) compileFunction(name string) {
	c.pushFunc(name, 0)
	c.beginScope()

	c.consume(token.LPAREN, "expect '(' after function name")
	if !c.check(token.RPAREN) {
		for {
			c.consume(token.IDENT, "expect parameter name")
			c.fs.proto.Arity++
			c.declareLocal(c.previous.Lexeme)
			c.markInitialized()
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "expect ')' after parameters")
	c.skipTerminators()

	c.block(false)
	c.consume(token.END, "expect 'end' after function body")

	childProto := c.popFunc()
	upvalues := childProto.Upvalues

	idx, err := c.chunk().AddConstant(childProto)
	if err != nil {
		c.errorAtPrevious(err.Error())
		return
	}
	c.emitOpByte(CLOSURE, idx)
	for _, uv := range upvalues {
		isLocal := byte(0)
		if uv.IsLocal {
			isLocal = 1
		}
		c.chunk().Write(isLocal, c.previous.Line)
		c.chunk().Write(uv.Index, c.previous.Line)
	}
}

func (c *Compiler) functionLiteral(_ bool) {
	c.compileFunction("")
}

// ifExpr lowers `if cond do then end`/`if cond do then else else end` (spec
// §4.4 Control flow lowering).
func (c *Compiler) ifExpr(_ bool) {
	c.expression()
	c.consume(token.DO, "expect 'do' after condition")
	c.skipTerminators()

	thenJump := c.emitJump(JMP_POP_FALSE)
	c.beginScope()
	c.block(true)
	c.endScope()

	elseBranch := c.check(token.ELSE)
	elifBranch := c.check(token.ELIF)

	endJump := c.emitJump(JMP)
	c.patchJump(thenJump)

	switch {
	case elifBranch:
		c.advance()
		c.ifExpr(false) // elif chains as a nested if-expression
	case elseBranch:
		c.advance()
		c.skipTerminators()
		c.beginScope()
		c.block(true)
		c.endScope()
		c.consume(token.END, "expect 'end' after else block")
	default:
		c.emitOp(PUSH_NIL)
		c.consume(token.END, "expect 'end' after if block")
	}
	c.patchJump(endJump)
}

// condExpr lowers `cond: c1 -> e1, c2 -> e2, ... end` (spec §4.4).
func (c *Compiler) condExpr(_ bool) {
	c.consume(token.COLON, "expect ':' after 'cond'")
	c.skipTerminators()

	var doneJumps []int
	for !c.check(token.END) {
		c.expression()
		c.consume(token.ARROW, "expect '->' after condition")
		nextJump := c.emitJump(JMP_POP_FALSE)
		c.expression()
		doneJumps = append(doneJumps, c.emitJump(JMP))
		c.patchJump(nextJump)
		c.skipTerminators()
		c.match(token.COMMA)
		c.skipTerminators()
	}
	c.emitOp(PUSH_NIL)
	c.consume(token.END, "expect 'end' after cond expression")
	for _, j := range doneJumps {
		c.patchJump(j)
	}
}

// whileExpr lowers `while cond do body end` (spec §4.4). Loops always
// evaluate to nil.
func (c *Compiler) whileExpr(_ bool) {
	outerStart, outerDepth := c.fs.loopStart, c.fs.loopDepth
	outerBreaks := c.fs.breaks
	c.fs.breaks = nil

	loopStart := len(c.chunk().Code)
	c.fs.loopStart = loopStart
	c.fs.loopDepth = c.fs.scopeDepth

	c.expression()
	c.consume(token.DO, "expect 'do' after condition")
	c.skipTerminators()

	exitJump := c.emitJump(JMP_POP_FALSE)
	c.beginScope()
	c.block(false)
	c.endScope()
	c.consume(token.END, "expect 'end' after while body")
	c.emitLoop(loopStart)
	c.patchJump(exitJump)

	for _, j := range c.fs.breaks {
		c.patchJump(j)
	}

	c.fs.loopStart, c.fs.loopDepth, c.fs.breaks = outerStart, outerDepth, outerBreaks
	c.emitOp(PUSH_NIL)
}
