package vm

import (
	"github.com/gigfork/kahlua2/isa"
)

// ---------------------------------------------------------------------------
// Register helpers shared with generated code
// ---------------------------------------------------------------------------

// RK reads operand x of an RK-encoded field: a constant when the RK bit is
// set, a register otherwise.
func (f *CallFrame) RK(k []Value, x int) Value {
	if isa.IsK(x) {
		return k[isa.IndexK(x)]
	}
	return f.Regs[x]
}

// ToTop returns registers from..Top-1, the values left by the last
// multi-result call or VARARG. A Top below from yields no values.
func (f *CallFrame) ToTop(from int) []Value {
	if f.Top <= from {
		return nil
	}
	return f.Regs[from:f.Top]
}

// CallArgs returns the arguments of a CALL/TAILCALL at register a with
// operand b. b == 0 means "up to Top" (set by a preceding multi-result call
// or VARARG).
func (f *CallFrame) CallArgs(a, b int) []Value {
	if b == 0 {
		return f.ToTop(a + 1)
	}
	return f.Regs[a+1 : a+b]
}

// StoreResults writes call results into registers a, a+1, ... . With want < 0
// every result is kept and Top marks the end; otherwise exactly want
// registers are written, padding with nil.
func (f *CallFrame) StoreResults(a int, rets []Value, want int) {
	if want < 0 {
		f.Grow(a + len(rets))
		copy(f.Regs[a:], rets)
		f.Top = a + len(rets)
		return
	}
	f.Grow(a + want)
	n := copy(f.Regs[a:a+want], rets)
	clear(f.Regs[a+n : a+want])
}

// ReturnValues copies the values of a RETURN at register a with operand b out
// of the frame, which is about to be reused.
func (f *CallFrame) ReturnValues(a, b int) []Value {
	var src []Value
	if b == 0 {
		src = f.ToTop(a)
	} else {
		src = f.Regs[a : a+b-1]
	}
	if len(src) == 0 {
		return nil
	}
	return append([]Value(nil), src...)
}

// LoadVarargs implements VARARG: b-1 values, or all of them when b == 0.
func (f *CallFrame) LoadVarargs(a, b int) {
	if b == 0 {
		f.StoreResults(a, f.Varargs, -1)
		return
	}
	f.StoreResults(a, f.Varargs, b-1)
}

// MakeClosure implements CLOSURE: it instantiates p inside frame f running
// parent, capturing upvalues as described by the pseudo-instructions that
// follow the CLOSURE instruction (MOVE captures a register of f, GETUPVAL
// shares an upvalue of parent).
func (f *CallFrame) MakeClosure(parent *Closure, p *Prototype, capture []isa.Instruction) *Closure {
	cl := NewClosure(p, parent.Env)
	for i, ins := range capture[:p.NumUpvalues] {
		if ins.Op() == isa.OpMove {
			cl.Upvalues[i] = f.FindUpvalue(ins.B())
		} else {
			cl.Upvalues[i] = parent.Upvalues[ins.B()]
		}
	}
	return cl
}

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// execute runs the closure in f until it returns. The frame's pc always
// holds the index of the next instruction, so an observer reading pc-1 sees
// the instruction currently executing.
func (L *State) execute(f *CallFrame) ([]Value, error) {
	cl := f.Closure()
	p := cl.Proto
	code := p.Code
	k := p.Constants

	for {
		pc := f.PC()
		if pc >= len(code) {
			return nil, nil
		}
		ins := code[pc]
		pc++
		f.SetPC(pc)
		a := ins.A()

		switch ins.Op() {
		case isa.OpMove:
			f.Regs[a] = f.Regs[ins.B()]

		case isa.OpLoadK:
			f.Regs[a] = k[ins.Bx()]

		case isa.OpLoadBool:
			f.Regs[a] = ins.B() != 0
			if ins.C() != 0 {
				f.SetPC(pc + 1)
			}

		case isa.OpLoadNil:
			clear(f.Regs[a : ins.B()+1])

		case isa.OpGetUpval:
			f.Regs[a] = cl.Upvalues[ins.B()].Get()

		case isa.OpGetGlobal:
			f.Regs[a] = cl.Env.Get(k[ins.Bx()])

		case isa.OpGetTable:
			v, err := GetTable(L, f.Regs[ins.B()], f.RK(k, ins.C()))
			if err != nil {
				return nil, err
			}
			f.Regs[a] = v

		case isa.OpSetGlobal:
			if err := cl.Env.Set(k[ins.Bx()], f.Regs[a]); err != nil {
				return nil, L.RuntimeErrorf("%s", err)
			}

		case isa.OpSetUpval:
			cl.Upvalues[ins.B()].Set(f.Regs[a])

		case isa.OpSetTable:
			if err := SetTable(L, f.Regs[a], f.RK(k, ins.B()), f.RK(k, ins.C())); err != nil {
				return nil, err
			}

		case isa.OpNewTable:
			f.Regs[a] = NewTable(ins.B(), ins.C())

		case isa.OpSelf:
			obj := f.Regs[ins.B()]
			v, err := GetTable(L, obj, f.RK(k, ins.C()))
			if err != nil {
				return nil, err
			}
			f.Regs[a+1] = obj
			f.Regs[a] = v

		case isa.OpAdd, isa.OpSub, isa.OpMul, isa.OpDiv, isa.OpMod, isa.OpPow:
			x, y := f.RK(k, ins.B()), f.RK(k, ins.C())
			if nx, ok := x.(float64); ok {
				if ny, ok := y.(float64); ok {
					f.Regs[a] = ArithNumbers(ins.Op(), nx, ny)
					continue
				}
			}
			v, err := Arith(L, ins.Op(), x, y)
			if err != nil {
				return nil, err
			}
			f.Regs[a] = v

		case isa.OpUnm:
			v, err := Unm(L, f.Regs[ins.B()])
			if err != nil {
				return nil, err
			}
			f.Regs[a] = v

		case isa.OpNot:
			f.Regs[a] = !Truthy(f.Regs[ins.B()])

		case isa.OpLen:
			v, err := Len(L, f.Regs[ins.B()])
			if err != nil {
				return nil, err
			}
			f.Regs[a] = v

		case isa.OpConcat:
			v, err := Concat(L, f.Regs[ins.B():ins.C()+1])
			if err != nil {
				return nil, err
			}
			f.Regs[a] = v

		case isa.OpJmp:
			f.SetPC(pc + ins.SBx())

		case isa.OpEq:
			if Equal(f.RK(k, ins.B()), f.RK(k, ins.C())) != (a != 0) {
				f.SetPC(pc + 1)
			}

		case isa.OpLt, isa.OpLe:
			var res bool
			var err error
			if ins.Op() == isa.OpLt {
				res, err = LessThan(L, f.RK(k, ins.B()), f.RK(k, ins.C()))
			} else {
				res, err = LessEqual(L, f.RK(k, ins.B()), f.RK(k, ins.C()))
			}
			if err != nil {
				return nil, err
			}
			if res != (a != 0) {
				f.SetPC(pc + 1)
			}

		case isa.OpTest:
			if Truthy(f.Regs[a]) != (ins.C() != 0) {
				f.SetPC(pc + 1)
			}

		case isa.OpTestSet:
			v := f.Regs[ins.B()]
			if Truthy(v) == (ins.C() != 0) {
				f.Regs[a] = v
			} else {
				f.SetPC(pc + 1)
			}

		case isa.OpCall:
			rets, err := L.call(f.Regs[a], f.CallArgs(a, ins.B()))
			if err != nil {
				return nil, err
			}
			f.StoreResults(a, rets, ins.C()-1)

		case isa.OpTailCall:
			fn := f.Regs[a]
			args := f.CallArgs(a, ins.B())
			if next, ok := fn.(*Closure); ok && next.Host() == nil {
				// Reuse the frame: the callee replaces the caller on the stack.
				f.Reenter(next, args)
				cl, p = next, next.Proto
				code, k = p.Code, p.Constants
				continue
			}
			rets, err := L.call(fn, args)
			if err != nil {
				return nil, err
			}
			return rets, nil

		case isa.OpReturn:
			return f.ReturnValues(a, ins.B()), nil

		case isa.OpForLoop:
			step := f.Regs[a+2].(float64)
			idx := f.Regs[a].(float64) + step
			if ForContinue(idx, f.Regs[a+1].(float64), step) {
				f.SetPC(pc + ins.SBx())
				f.Regs[a] = idx
				f.Regs[a+3] = idx
			}

		case isa.OpForPrep:
			init, limit, step, err := ForPrep(L, f.Regs[a], f.Regs[a+1], f.Regs[a+2])
			if err != nil {
				return nil, err
			}
			f.Regs[a] = init - step
			f.Regs[a+1] = limit
			f.Regs[a+2] = step
			f.SetPC(pc + ins.SBx())

		case isa.OpTForLoop:
			rets, err := L.call(f.Regs[a], []Value{f.Regs[a+1], f.Regs[a+2]})
			if err != nil {
				return nil, err
			}
			f.StoreResults(a+3, rets, ins.C())
			if v := f.Regs[a+3]; v != nil {
				f.Regs[a+2] = v
			} else {
				f.SetPC(pc + 1)
			}

		case isa.OpSetList:
			vals := f.ToTop(a + 1)
			if n := ins.B(); n > 0 {
				vals = f.Regs[a+1 : a+1+n]
			}
			if err := SetList(L, f.Regs[a], ins.C(), vals); err != nil {
				return nil, err
			}

		case isa.OpClose:
			f.CloseUpvalues(a)

		case isa.OpClosure:
			child := p.Protos[ins.Bx()]
			f.Regs[a] = f.MakeClosure(cl, child, code[pc:])
			f.SetPC(pc + child.NumUpvalues)

		case isa.OpVararg:
			f.LoadVarargs(a, ins.B())

		default:
			return nil, L.RuntimeErrorf("bad opcode %d", ins.Op())
		}
	}
}
