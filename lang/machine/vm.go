package machine

import (
	"fmt"
	"math"

	"github.com/mna/raven/lang/compiler"
)

// pushFrame installs cl as the currently executing toplevel function; used
// only by Run, where cl was just pushed with zero arguments above it.
func (th *Thread) pushFrame(cl *Closure) error {
	return th.callClosure(cl, 0)
}

// callClosure pushes a new call frame for cl, whose argCount arguments (and
// cl itself) already sit on top of the value stack (spec §4.5 Calls,
// grounded on vm.c's call_closure).
func (th *Thread) callClosure(cl *Closure, argCount int) error {
	if argCount != cl.Proto.P.Arity {
		return th.runtimeErrorf("expected %d arguments but got %d", cl.Proto.P.Arity, argCount)
	}
	if len(th.frames) == cap(th.frames) {
		return th.runtimeErrorf("call stack overflows")
	}
	th.frames = append(th.frames, frame{
		closure:   cl,
		ip:        0,
		slotsBase: len(th.stack) - argCount - 1,
	})
	return nil
}

// callValue dispatches a CALL instruction: callee sits argCount slots below
// the top of stack, with its argCount arguments above it (vm.c's
// call_value).
func (th *Thread) callValue(callee Value, argCount int) error {
	switch fn := callee.(type) {
	case *Closure:
		return th.callClosure(fn, argCount)
	case *NativeFn:
		if fn.Arity >= 0 && argCount != fn.Arity {
			return th.runtimeErrorf("expected %d arguments but got %d", fn.Arity, argCount)
		}
		args := make([]Value, argCount)
		copy(args, th.stack[len(th.stack)-argCount:])
		result, err := fn.Fn(th, args)
		if err != nil {
			return th.runtimeErrorf("%s", err.Error())
		}
		th.stack = th.stack[:len(th.stack)-argCount-1]
		th.push(result)
		return nil
	default:
		return th.runtimeErrorf("attempt to call a %s value", callee.Type())
	}
}

// captureUpvalue returns the open upvalue for the given absolute stack slot,
// reusing an existing one if a closure already captured that slot, and
// otherwise inserting a new one into th.openUpvalues keeping the list sorted
// by descending slot (vm.c's capture_upvalue).
func (th *Thread) captureUpvalue(slot int) *Upvalue {
	var prev *Upvalue
	cur := th.openUpvalues
	for cur != nil && cur.slot > slot {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.slot == slot {
		return cur
	}
	created := th.alloc.NewUpvalue(&th.stack[slot], slot)
	created.Next = cur
	if prev == nil {
		th.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given absolute
// stack slot, copying the value out of the stack into the cell itself so it
// survives the frame that owned the slot (vm.c's close_upvalues).
func (th *Thread) closeUpvalues(fromSlot int) {
	for th.openUpvalues != nil && th.openUpvalues.slot >= fromSlot {
		uv := th.openUpvalues
		uv.close()
		th.openUpvalues = uv.Next
	}
}

func (th *Thread) currentFrame() *frame { return &th.frames[len(th.frames)-1] }

func (th *Thread) readByte(fr *frame) byte {
	b := fr.closure.Proto.P.Chunk.Code[fr.ip]
	fr.ip++
	return b
}

func (th *Thread) readShort(fr *frame) uint16 {
	hi := th.readByte(fr)
	lo := th.readByte(fr)
	return uint16(hi)<<8 | uint16(lo)
}

func (th *Thread) readConstant(fr *frame) Value {
	return fr.closure.Proto.Consts[th.readByte(fr)]
}

// runtimeErrorf builds a RuntimeError positioned at the current frame's
// active line, with a full call-stack trace (spec §4.7, grounded on vm.c's
// runtime_error / dump_stack_trace).
func (th *Thread) runtimeErrorf(format string, args ...any) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	var line int
	if len(th.frames) > 0 {
		fr := th.currentFrame()
		line = fr.closure.Proto.P.Chunk.DecodeLine(fr.ip - 1)
	}
	trace := make([]traceFrame, len(th.frames))
	for i, fr := range th.frames {
		trace[i] = traceFrame{
			name: fr.closure.Proto.P.Name,
			line: fr.closure.Proto.P.Chunk.DecodeLine(fr.ip - 1),
		}
	}
	return &RuntimeError{Path: th.Path, Line: line, Msg: msg, Trace: trace}
}

func asNumber(th *Thread, v Value) (Number, error) {
	n, ok := v.(Number)
	if !ok {
		return 0, th.runtimeErrorf("operand must be a number, got %s", v.Type())
	}
	return n, nil
}

// run is the fetch-decode-execute loop: it drives frames until the initial
// frame (pushed by Run) returns, and then returns itself; an EXIT
// instruction also ends the loop (spec §4.5).
func (th *Thread) run() (err error) {
	baseFrames := len(th.frames) - 1
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(*RuntimeError); ok {
				err = re
				return
			}
			panic(r)
		}
	}()
	for {
		fr := th.currentFrame()
		if th.MaxSteps > 0 {
			th.steps++
			if th.steps > th.MaxSteps {
				return th.runtimeErrorf("step limit exceeded")
			}
		}
		op := compiler.Opcode(th.readByte(fr))
		switch op {
		case compiler.PUSH_TRUE:
			th.push(Bool(true))
		case compiler.PUSH_FALSE:
			th.push(Bool(false))
		case compiler.PUSH_NIL:
			th.push(Nil{})
		case compiler.PUSH_CONST:
			th.push(th.readConstant(fr))
		case compiler.PUSH_X:
			th.push(th.x)
		case compiler.SAVE_X:
			th.x = th.pop()

		case compiler.POP:
			th.pop()
		case compiler.POPN:
			n := int(th.readByte(fr))
			th.stack = th.stack[:len(th.stack)-n]

		case compiler.ADD, compiler.SUB, compiler.MUL, compiler.DIV, compiler.MOD:
			b, err := asNumber(th, th.peek(0))
			if err != nil {
				return err
			}
			a, err := asNumber(th, th.peek(1))
			if err != nil {
				return err
			}
			var result Number
			switch op {
			case compiler.ADD:
				result = a + b
			case compiler.SUB:
				result = a - b
			case compiler.MUL:
				result = a * b
			case compiler.DIV:
				if b == 0 {
					return th.runtimeErrorf("division by zero")
				}
				result = a / b
			case compiler.MOD:
				if b == 0 {
					return th.runtimeErrorf("division by zero")
				}
				result = Number(math.Mod(float64(a), float64(b)))
			}
			th.pop()
			th.pop()
			th.push(result)

		case compiler.NEG:
			a, err := asNumber(th, th.peek(0))
			if err != nil {
				return err
			}
			th.pop()
			th.push(-a)

		case compiler.EQ:
			b, a := th.pop(), th.pop()
			th.push(Bool(Equal(a, b)))
		case compiler.NEQ:
			b, a := th.pop(), th.pop()
			th.push(Bool(!Equal(a, b)))

		case compiler.LT, compiler.LTQ, compiler.GT, compiler.GTQ:
			b, err := asNumber(th, th.peek(0))
			if err != nil {
				return err
			}
			a, err := asNumber(th, th.peek(1))
			if err != nil {
				return err
			}
			var result bool
			switch op {
			case compiler.LT:
				result = a < b
			case compiler.LTQ:
				result = a <= b
			case compiler.GT:
				result = a > b
			case compiler.GTQ:
				result = a >= b
			}
			th.pop()
			th.pop()
			th.push(Bool(result))

		case compiler.NOT:
			th.push(Bool(!Truthy(th.pop())))

		case compiler.CONCATENATE:
			b, okB := th.peek(0).(*String)
			a, okA := th.peek(1).(*String)
			if !okA || !okB {
				return th.runtimeErrorf("can only concatenate strings")
			}
			result := th.alloc.NewString(a.s + b.s)
			th.pop()
			th.pop()
			th.push(result)

		case compiler.CONS:
			tail := th.peek(0)
			head := th.peek(1)
			result := th.alloc.NewPair(head, tail)
			th.pop()
			th.pop()
			th.push(result)

		case compiler.ARRAY_8, compiler.ARRAY_16:
			var n int
			if op == compiler.ARRAY_8 {
				n = int(th.readByte(fr))
			} else {
				n = int(th.readShort(fr))
			}
			elems := make([]Value, n)
			copy(elems, th.stack[len(th.stack)-n:])
			th.stack = th.stack[:len(th.stack)-n]
			th.push(th.alloc.NewArray(elems))

		case compiler.MAP_8, compiler.MAP_16:
			var n int
			if op == compiler.MAP_8 {
				n = int(th.readByte(fr))
			} else {
				n = int(th.readShort(fr))
			}
			base := len(th.stack) - 2*n
			m := th.alloc.NewMap(n)
			for i := 0; i < n; i++ {
				k, ok := th.stack[base+2*i].(*String)
				if !ok {
					return th.runtimeErrorf("map key must be a string")
				}
				m.Set(k, th.stack[base+2*i+1])
			}
			th.stack = th.stack[:base]
			th.push(m)

		case compiler.INDEX_GET:
			idx := th.pop()
			coll := th.pop()
			v, err := th.indexGet(coll, idx)
			if err != nil {
				return err
			}
			th.push(v)

		case compiler.INDEX_SET:
			val := th.peek(0)
			idx := th.peek(1)
			coll := th.peek(2)
			if err := th.indexSet(coll, idx, val); err != nil {
				return err
			}
			th.stack[len(th.stack)-3] = val
			th.stack = th.stack[:len(th.stack)-2]

		case compiler.DEF_GLOBAL:
			name := th.readConstant(fr).(*String)
			th.globals.Define(name.s, th.peek(0))
			th.pop()

		case compiler.SET_GLOBAL:
			name := th.readConstant(fr).(*String)
			if !th.globals.Set(name.s, th.peek(0)) {
				return th.runtimeErrorf("unbound variable %q", name.s)
			}

		case compiler.GET_GLOBAL:
			name := th.readConstant(fr).(*String)
			v, ok := th.globals.Get(name.s)
			if !ok {
				return th.runtimeErrorf("unbound variable %q", name.s)
			}
			th.push(v)

		case compiler.SET_LOCAL:
			slot := int(th.readByte(fr))
			th.stack[fr.slotsBase+slot] = th.peek(0)
		case compiler.GET_LOCAL:
			slot := int(th.readByte(fr))
			th.push(th.stack[fr.slotsBase+slot])

		case compiler.SET_UPVALUE:
			slot := int(th.readByte(fr))
			fr.closure.Upvalues[slot].Set(th.peek(0))
		case compiler.GET_UPVALUE:
			slot := int(th.readByte(fr))
			th.push(fr.closure.Upvalues[slot].Get())

		case compiler.CALL:
			argc := int(th.readByte(fr))
			callee := th.peek(argc)
			if err := th.callValue(callee, argc); err != nil {
				return err
			}

		case compiler.JMP:
			off := th.readShort(fr)
			fr.ip += int(off)
		case compiler.JMP_BACK:
			off := th.readShort(fr)
			fr.ip -= int(off)
		case compiler.JMP_FALSE:
			off := th.readShort(fr)
			if !Truthy(th.peek(0)) {
				fr.ip += int(off)
			}
		case compiler.JMP_POP_FALSE:
			off := th.readShort(fr)
			cond := th.pop()
			if !Truthy(cond) {
				fr.ip += int(off)
			}

		case compiler.CLOSURE:
			protoVal := th.readConstant(fr)
			protoObj := protoVal.(*Proto)
			upvalues := make([]*Upvalue, len(protoObj.P.Upvalues))
			for i := range protoObj.P.Upvalues {
				isLocal := th.readByte(fr)
				index := th.readByte(fr)
				if isLocal != 0 {
					upvalues[i] = th.captureUpvalue(fr.slotsBase + int(index))
				} else {
					upvalues[i] = fr.closure.Upvalues[index]
				}
			}
			th.push(th.alloc.NewClosure(protoObj, upvalues))

		case compiler.CLOSE_UPVALUE:
			th.closeUpvalues(len(th.stack) - 1)
			th.pop()

		case compiler.RETURN:
			result := th.pop()
			th.closeUpvalues(fr.slotsBase)
			th.stack = th.stack[:fr.slotsBase]
			th.frames = th.frames[:len(th.frames)-1]
			if len(th.frames) <= baseFrames {
				return nil
			}
			th.push(result)

		case compiler.EXIT:
			return nil

		default:
			return th.runtimeErrorf("illegal opcode %d", op)
		}
	}
}

func (th *Thread) indexGet(coll, idx Value) (Value, error) {
	switch c := coll.(type) {
	case *Array:
		n, ok := idx.(Number)
		if !ok {
			return nil, th.runtimeErrorf("array index must be a number")
		}
		i := int(n)
		if float64(i) != float64(n) || i < 0 || i >= len(c.Elems) {
			return nil, th.runtimeErrorf("array index out of bounds")
		}
		return c.Elems[i], nil
	case *Map:
		k, ok := idx.(*String)
		if !ok {
			return nil, th.runtimeErrorf("map key must be a string")
		}
		v, ok := c.Get(k)
		if !ok {
			return Nil{}, nil
		}
		return v, nil
	default:
		return nil, th.runtimeErrorf("%s value is not indexable", coll.Type())
	}
}

func (th *Thread) indexSet(coll, idx, val Value) error {
	switch c := coll.(type) {
	case *Array:
		n, ok := idx.(Number)
		if !ok {
			return th.runtimeErrorf("array index must be a number")
		}
		i := int(n)
		if float64(i) != float64(n) || i < 0 || i >= len(c.Elems) {
			return th.runtimeErrorf("array index out of bounds")
		}
		c.Elems[i] = val
		return nil
	case *Map:
		k, ok := idx.(*String)
		if !ok {
			return th.runtimeErrorf("map key must be a string")
		}
		c.Set(k, val)
		return nil
	default:
		return th.runtimeErrorf("%s value is not indexable", coll.Type())
	}
}
