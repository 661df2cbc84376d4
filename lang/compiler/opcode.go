package compiler

import "fmt"

// Opcode identifies a single bytecode instruction. The stack-picture comments
// follow the same "before -> after" convention the original implementation
// uses: values to the left of the opcode name are popped, values to the
// right are pushed.
type Opcode uint8

//nolint:revive
const (
	PUSH_TRUE  Opcode = iota // - PUSH_TRUE true
	PUSH_FALSE               // - PUSH_FALSE false
	PUSH_NIL                 // - PUSH_NIL nil
	PUSH_CONST               // - PUSH_CONST<const> value
	PUSH_X                   // - PUSH_X x
	SAVE_X                   // x SAVE_X -        (x becomes the X register)

	POP  // x POP -
	POPN // - POPN<n> -     (pops n values)

	ADD // a b ADD a+b
	SUB // a b SUB a-b
	MUL // a b MUL a*b
	DIV // a b DIV a/b
	MOD // a b MOD a%b
	NEG // a NEG -a

	EQ  // a b EQ  a==b
	NEQ // a b NEQ a!=b
	LT  // a b LT  a<b
	LTQ // a b LTQ a<=b
	GT  // a b GT  a>b
	GTQ // a b GTQ a>=b

	NOT // x NOT !x

	CONCATENATE // a b CONCATENATE a@b
	CONS        // h t CONS pair(h,t)

	ARRAY_8  // x1..xn ARRAY_8<n>  array
	ARRAY_16 // x1..xn ARRAY_16<n> array
	MAP_8    // k1 v1..kn vn MAP_8<n>  map
	MAP_16   // k1 v1..kn vn MAP_16<n> map

	INDEX_GET // coll idx INDEX_GET     elem
	INDEX_SET // coll idx val INDEX_SET val

	DEF_GLOBAL // value DEF_GLOBAL<name> -
	SET_GLOBAL // value SET_GLOBAL<name> value
	GET_GLOBAL // -     GET_GLOBAL<name> value

	SET_LOCAL // value SET_LOCAL<slot> value
	GET_LOCAL // -     GET_LOCAL<slot> value

	SET_UPVALUE // value SET_UPVALUE<slot> value
	GET_UPVALUE // -     GET_UPVALUE<slot> value

	CALL // callee a1..an CALL<argc> result

	// --- jump opcodes; operand is always a 2-byte offset ---
	JMP           // - JMP<off>           -                (unconditional)
	JMP_BACK      // - JMP_BACK<off>      -                (unconditional, backwards)
	JMP_FALSE     // cond JMP_FALSE<off>     cond           (conditional, does not pop)
	JMP_POP_FALSE // cond JMP_POP_FALSE<off> -              (conditional, pops)

	CLOSURE       // - CLOSURE<const> (+2 bytes per upvalue) closure
	CLOSE_UPVALUE // x CLOSE_UPVALUE -                       (closes and pops top local)

	RETURN // value RETURN -
	EXIT   // - EXIT -

	opcodeMax
)

var opcodeNames = [...]string{
	PUSH_TRUE:     "push_true",
	PUSH_FALSE:    "push_false",
	PUSH_NIL:      "push_nil",
	PUSH_CONST:    "push_const",
	PUSH_X:        "push_x",
	SAVE_X:        "save_x",
	POP:           "pop",
	POPN:          "popn",
	ADD:           "add",
	SUB:           "sub",
	MUL:           "mul",
	DIV:           "div",
	MOD:           "mod",
	NEG:           "neg",
	EQ:            "eq",
	NEQ:           "neq",
	LT:            "lt",
	LTQ:           "ltq",
	GT:            "gt",
	GTQ:           "gtq",
	NOT:           "not",
	CONCATENATE:   "concatenate",
	CONS:          "cons",
	ARRAY_8:       "array_8",
	ARRAY_16:      "array_16",
	MAP_8:         "map_8",
	MAP_16:        "map_16",
	INDEX_GET:     "index_get",
	INDEX_SET:     "index_set",
	DEF_GLOBAL:    "def_global",
	SET_GLOBAL:    "set_global",
	GET_GLOBAL:    "get_global",
	SET_LOCAL:     "set_local",
	GET_LOCAL:     "get_local",
	SET_UPVALUE:   "set_upvalue",
	GET_UPVALUE:   "get_upvalue",
	CALL:          "call",
	JMP:           "jmp",
	JMP_BACK:      "jmp_back",
	JMP_FALSE:     "jmp_false",
	JMP_POP_FALSE: "jmp_pop_false",
	CLOSURE:       "closure",
	CLOSE_UPVALUE: "close_upvalue",
	RETURN:        "return",
	EXIT:          "exit",
}

func (op Opcode) String() string {
	if op < opcodeMax {
		if n := opcodeNames[op]; n != "" {
			return n
		}
	}
	return fmt.Sprintf("illegal op (%d)", op)
}

// operandBytes reports the number of bytes immediately following the opcode
// byte that make up its operand(s), not counting trailing CLOSURE upvalue
// descriptors (those are variable-length and handled by the caller).
func operandBytes(op Opcode) int {
	switch op {
	case PUSH_CONST, POPN, DEF_GLOBAL, SET_GLOBAL, GET_GLOBAL,
		SET_LOCAL, GET_LOCAL, SET_UPVALUE, GET_UPVALUE, CALL,
		ARRAY_8, MAP_8, CLOSURE:
		return 1
	case ARRAY_16, MAP_16, JMP, JMP_BACK, JMP_FALSE, JMP_POP_FALSE:
		return 2
	default:
		return 0
	}
}

func isJump(op Opcode) bool {
	switch op {
	case JMP, JMP_BACK, JMP_FALSE, JMP_POP_FALSE:
		return true
	default:
		return false
	}
}
