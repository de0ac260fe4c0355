package jit

import (
	"fmt"

	"github.com/gigfork/kahlua2/isa"
	"github.com/gigfork/kahlua2/vm"
)

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// operands is one decoded instruction. Fields that do not apply to the
// opcode's mode are zero.
type operands struct {
	pc      int
	op      isa.Opcode
	a, b, c int
	bx, sbx int
}

func decode(pc int, ins isa.Instruction) operands {
	d := operands{pc: pc, op: ins.Op(), a: ins.A()}
	switch ins.Op().Info().Mode {
	case isa.ModeABx:
		d.bx = ins.Bx()
	case isa.ModeAsBx:
		d.sbx = ins.SBx()
	default:
		d.b, d.c = ins.B(), ins.C()
	}
	return d
}

// ---------------------------------------------------------------------------
// Host steps
// ---------------------------------------------------------------------------

// exec is the state of one activation of generated code.
type exec struct {
	L    *vm.State
	f    *vm.CallFrame
	cl   *vm.Closure
	unit *Unit
	pc   int // next instruction

	rets []vm.Value
	done bool
}

// step is the host code of one guest instruction.
type step func(x *exec) error

// operand reads an RK-encoded value. Constants are resolved at translation
// time.
type operand func(f *vm.CallFrame) vm.Value

// emitRule translates one decoded instruction into a host step.
type emitRule func(g *generator, d operands) (step, error)

// rules is the opcode translation table. An opcode without an entry is not
// translatable.
var rules map[isa.Opcode]emitRule

func init() {
	rules = map[isa.Opcode]emitRule{
		isa.OpMove:      emitMove,
		isa.OpLoadK:     emitLoadK,
		isa.OpLoadBool:  emitLoadBool,
		isa.OpLoadNil:   emitLoadNil,
		isa.OpGetUpval:  emitGetUpval,
		isa.OpGetGlobal: emitGetGlobal,
		isa.OpGetTable:  emitGetTable,
		isa.OpSetGlobal: emitSetGlobal,
		isa.OpSetUpval:  emitSetUpval,
		isa.OpSetTable:  emitSetTable,
		isa.OpNewTable:  emitNewTable,
		isa.OpSelf:      emitSelf,
		isa.OpAdd:       emitArith,
		isa.OpSub:       emitArith,
		isa.OpMul:       emitArith,
		isa.OpDiv:       emitArith,
		isa.OpMod:       emitArith,
		isa.OpPow:       emitArith,
		isa.OpUnm:       emitUnary,
		isa.OpNot:       emitUnary,
		isa.OpLen:       emitUnary,
		isa.OpConcat:    emitConcat,
		isa.OpJmp:       emitJmp,
		isa.OpEq:        emitCompare,
		isa.OpLt:        emitCompare,
		isa.OpLe:        emitCompare,
		isa.OpTest:      emitTest,
		isa.OpTestSet:   emitTestSet,
		isa.OpCall:      emitCall,
		isa.OpTailCall:  emitTailCall,
		isa.OpReturn:    emitReturn,
		isa.OpForLoop:   emitForLoop,
		isa.OpForPrep:   emitForPrep,
		isa.OpSetList:   emitSetList,
		isa.OpClose:     emitClose,
		isa.OpClosure:   emitClosure,
	}
}

// Covered reports whether op has a translation rule.
func Covered(op isa.Opcode) bool {
	_, ok := rules[op]
	return ok
}

// ---------------------------------------------------------------------------
// Generator: operand checks and listing text
// ---------------------------------------------------------------------------

type generator struct {
	p    *vm.Prototype
	unit *Unit
	pc   int
}

func (g *generator) malformed(d operands, format string, args ...any) error {
	return &MalformedError{Proto: g.p, PC: d.pc, Op: d.op, Reason: fmt.Sprintf(format, args...)}
}

func (g *generator) reg(d operands, r int) error {
	if r < 0 || r >= g.p.MaxStack {
		return g.malformed(d, "register %d out of range (%d registers)", r, g.p.MaxStack)
	}
	return nil
}

func (g *generator) regs(d operands, rs ...int) error {
	for _, r := range rs {
		if err := g.reg(d, r); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) constant(d operands, i int) (vm.Value, error) {
	if i < 0 || i >= len(g.p.Constants) {
		return nil, g.malformed(d, "constant %d out of range (%d constants)", i, len(g.p.Constants))
	}
	return g.p.Constants[i], nil
}

func (g *generator) upval(d operands, i int) error {
	if i < 0 || i >= g.p.NumUpvalues {
		return g.malformed(d, "upvalue %d out of range (%d upvalues)", i, g.p.NumUpvalues)
	}
	return nil
}

// target checks a jump destination; len(Code) is allowed and ends the
// function.
func (g *generator) target(d operands, pc int) (int, error) {
	if pc < 0 || pc > len(g.p.Code) {
		return 0, g.malformed(d, "jump target %d out of range", pc)
	}
	return pc, nil
}

// rk decodes an RK operand into a reader and its listing text.
func (g *generator) rk(d operands, x int) (operand, string, error) {
	if isa.IsK(x) {
		k, err := g.constant(d, isa.IndexK(x))
		if err != nil {
			return nil, "", err
		}
		return func(*vm.CallFrame) vm.Value { return k }, literal(k), nil
	}
	if err := g.reg(d, x); err != nil {
		return nil, "", err
	}
	return func(f *vm.CallFrame) vm.Value { return f.Regs[x] }, fmt.Sprintf("regs[%d]", x), nil
}

func (g *generator) writeLine(format string, args ...any) {
	g.unit.source[g.pc] = append(g.unit.source[g.pc], fmt.Sprintf(format, args...))
}

func literal(v vm.Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case string:
		return fmt.Sprintf("%q", v)
	case float64:
		return fmt.Sprintf("float64(%s)", vm.FormatNumber(v))
	}
	return fmt.Sprint(v)
}

// ---------------------------------------------------------------------------
// Loads and moves
// ---------------------------------------------------------------------------

func emitMove(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if err := g.regs(d, a, b); err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = regs[%d]", a, b)
	return func(x *exec) error {
		x.f.Regs[a] = x.f.Regs[b]
		return nil
	}, nil
}

func emitLoadK(g *generator, d operands) (step, error) {
	a := d.a
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	k, err := g.constant(d, d.bx)
	if err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = %s", a, literal(k))
	switch k := k.(type) {
	case float64:
		return func(x *exec) error {
			x.f.Regs[a] = k
			return nil
		}, nil
	case string:
		return func(x *exec) error {
			x.f.Regs[a] = k
			return nil
		}, nil
	case bool:
		return func(x *exec) error {
			x.f.Regs[a] = k
			return nil
		}, nil
	case nil:
		return func(x *exec) error {
			x.f.Regs[a] = nil
			return nil
		}, nil
	}
	return nil, g.malformed(d, "constant of type %T", k)
}

func emitLoadBool(g *generator, d operands) (step, error) {
	a, v, skip := d.a, d.b != 0, d.c != 0
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = %t", a, v)
	if !skip {
		return func(x *exec) error {
			x.f.Regs[a] = v
			return nil
		}, nil
	}
	next, err := g.target(d, d.pc+2)
	if err != nil {
		return nil, err
	}
	g.writeLine("goto L%d", next)
	return func(x *exec) error {
		x.f.Regs[a] = v
		x.pc = next
		return nil
	}, nil
}

func emitLoadNil(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if err := g.regs(d, a, b); err != nil {
		return nil, err
	}
	if b < a {
		return nil, g.malformed(d, "empty register range %d..%d", a, b)
	}
	g.writeLine("clear(regs[%d:%d])", a, b+1)
	return func(x *exec) error {
		clear(x.f.Regs[a : b+1])
		return nil
	}, nil
}

func emitGetUpval(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	if err := g.upval(d, b); err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = cl.Upvalues[%d].Get()", a, b)
	return func(x *exec) error {
		x.f.Regs[a] = x.cl.Upvalues[b].Get()
		return nil
	}, nil
}

func emitSetUpval(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	if err := g.upval(d, b); err != nil {
		return nil, err
	}
	g.writeLine("cl.Upvalues[%d].Set(regs[%d])", b, a)
	return func(x *exec) error {
		x.cl.Upvalues[b].Set(x.f.Regs[a])
		return nil
	}, nil
}

// ---------------------------------------------------------------------------
// Globals and tables
// ---------------------------------------------------------------------------

func emitGetGlobal(g *generator, d operands) (step, error) {
	a := d.a
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	name, err := g.constant(d, d.bx)
	if err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = cl.Env.Get(%s)", a, literal(name))
	return func(x *exec) error {
		x.f.Regs[a] = x.cl.Env.Get(name)
		return nil
	}, nil
}

func emitSetGlobal(g *generator, d operands) (step, error) {
	a := d.a
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	name, err := g.constant(d, d.bx)
	if err != nil {
		return nil, err
	}
	g.writeLine("cl.Env.Set(%s, regs[%d])", literal(name), a)
	return func(x *exec) error {
		if err := x.cl.Env.Set(name, x.f.Regs[a]); err != nil {
			return x.L.RuntimeErrorf("%s", err)
		}
		return nil
	}, nil
}

func emitGetTable(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if err := g.regs(d, a, b); err != nil {
		return nil, err
	}
	key, ks, err := g.rk(d, d.c)
	if err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = vm.GetTable(L, regs[%d], %s)", a, b, ks)
	return func(x *exec) error {
		v, err := vm.GetTable(x.L, x.f.Regs[b], key(x.f))
		if err != nil {
			return err
		}
		x.f.Regs[a] = v
		return nil
	}, nil
}

func emitSetTable(g *generator, d operands) (step, error) {
	a := d.a
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	key, ks, err := g.rk(d, d.b)
	if err != nil {
		return nil, err
	}
	val, vs, err := g.rk(d, d.c)
	if err != nil {
		return nil, err
	}
	g.writeLine("vm.SetTable(L, regs[%d], %s, %s)", a, ks, vs)
	return func(x *exec) error {
		return vm.SetTable(x.L, x.f.Regs[a], key(x.f), val(x.f))
	}, nil
}

func emitNewTable(g *generator, d operands) (step, error) {
	a, narr, nhash := d.a, d.b, d.c
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = vm.NewTable(%d, %d)", a, narr, nhash)
	return func(x *exec) error {
		x.f.Regs[a] = vm.NewTable(narr, nhash)
		return nil
	}, nil
}

func emitSelf(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if err := g.regs(d, a, a+1, b); err != nil {
		return nil, err
	}
	key, ks, err := g.rk(d, d.c)
	if err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = regs[%d]", a+1, b)
	g.writeLine("regs[%d] = vm.GetTable(L, regs[%d], %s)", a, a+1, ks)
	return func(x *exec) error {
		obj := x.f.Regs[b]
		v, err := vm.GetTable(x.L, obj, key(x.f))
		if err != nil {
			return err
		}
		x.f.Regs[a+1] = obj
		x.f.Regs[a] = v
		return nil
	}, nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

var arithSymbols = map[isa.Opcode]string{
	isa.OpAdd: "+",
	isa.OpSub: "-",
	isa.OpMul: "*",
	isa.OpDiv: "/",
	isa.OpMod: "%",
	isa.OpPow: "^",
}

func emitArith(g *generator, d operands) (step, error) {
	a, op := d.a, d.op
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	lhs, ls, err := g.rk(d, d.b)
	if err != nil {
		return nil, err
	}
	rhs, rs, err := g.rk(d, d.c)
	if err != nil {
		return nil, err
	}
	g.writeLine("regs[%d] = vm.Arith(L, %s, %s) // %s", a, ls, rs, arithSymbols[op])
	return func(x *exec) error {
		l, r := lhs(x.f), rhs(x.f)
		if nl, ok := l.(float64); ok {
			if nr, ok := r.(float64); ok {
				x.f.Regs[a] = vm.ArithNumbers(op, nl, nr)
				return nil
			}
		}
		v, err := vm.Arith(x.L, op, l, r)
		if err != nil {
			return err
		}
		x.f.Regs[a] = v
		return nil
	}, nil
}

func emitUnary(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if err := g.regs(d, a, b); err != nil {
		return nil, err
	}
	switch d.op {
	case isa.OpNot:
		g.writeLine("regs[%d] = !vm.Truthy(regs[%d])", a, b)
		return func(x *exec) error {
			x.f.Regs[a] = !vm.Truthy(x.f.Regs[b])
			return nil
		}, nil
	case isa.OpUnm:
		g.writeLine("regs[%d] = vm.Unm(L, regs[%d])", a, b)
		return func(x *exec) error {
			v, err := vm.Unm(x.L, x.f.Regs[b])
			if err != nil {
				return err
			}
			x.f.Regs[a] = v
			return nil
		}, nil
	}
	g.writeLine("regs[%d] = vm.Len(L, regs[%d])", a, b)
	return func(x *exec) error {
		v, err := vm.Len(x.L, x.f.Regs[b])
		if err != nil {
			return err
		}
		x.f.Regs[a] = v
		return nil
	}, nil
}

func emitConcat(g *generator, d operands) (step, error) {
	a, b, c := d.a, d.b, d.c
	if err := g.regs(d, a, b, c); err != nil {
		return nil, err
	}
	if c < b {
		return nil, g.malformed(d, "empty register range %d..%d", b, c)
	}
	g.writeLine("regs[%d] = vm.Concat(L, regs[%d:%d])", a, b, c+1)
	return func(x *exec) error {
		v, err := vm.Concat(x.L, x.f.Regs[b:c+1])
		if err != nil {
			return err
		}
		x.f.Regs[a] = v
		return nil
	}, nil
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func emitJmp(g *generator, d operands) (step, error) {
	to, err := g.target(d, d.pc+1+d.sbx)
	if err != nil {
		return nil, err
	}
	g.writeLine("goto L%d", to)
	return func(x *exec) error {
		x.pc = to
		return nil
	}, nil
}

// skipTarget is the destination of a test instruction that skips the
// following jump.
func (g *generator) skipTarget(d operands) (int, error) {
	return g.target(d, d.pc+2)
}

func emitCompare(g *generator, d operands) (step, error) {
	want, op := d.a != 0, d.op
	lhs, ls, err := g.rk(d, d.b)
	if err != nil {
		return nil, err
	}
	rhs, rs, err := g.rk(d, d.c)
	if err != nil {
		return nil, err
	}
	skip, err := g.skipTarget(d)
	if err != nil {
		return nil, err
	}
	fn := map[isa.Opcode]string{isa.OpEq: "vm.Equal", isa.OpLt: "vm.LessThan", isa.OpLe: "vm.LessEqual"}[op]
	g.writeLine("if %s(%s, %s) != %t { goto L%d }", fn, ls, rs, want, skip)
	return func(x *exec) error {
		var res bool
		switch op {
		case isa.OpEq:
			res = vm.Equal(lhs(x.f), rhs(x.f))
		case isa.OpLt:
			var err error
			if res, err = vm.LessThan(x.L, lhs(x.f), rhs(x.f)); err != nil {
				return err
			}
		default:
			var err error
			if res, err = vm.LessEqual(x.L, lhs(x.f), rhs(x.f)); err != nil {
				return err
			}
		}
		if res != want {
			x.pc = skip
		}
		return nil
	}, nil
}

func emitTest(g *generator, d operands) (step, error) {
	a, want := d.a, d.c != 0
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	skip, err := g.skipTarget(d)
	if err != nil {
		return nil, err
	}
	g.writeLine("if vm.Truthy(regs[%d]) != %t { goto L%d }", a, want, skip)
	return func(x *exec) error {
		if vm.Truthy(x.f.Regs[a]) != want {
			x.pc = skip
		}
		return nil
	}, nil
}

func emitTestSet(g *generator, d operands) (step, error) {
	a, b, want := d.a, d.b, d.c != 0
	if err := g.regs(d, a, b); err != nil {
		return nil, err
	}
	skip, err := g.skipTarget(d)
	if err != nil {
		return nil, err
	}
	g.writeLine("if vm.Truthy(regs[%d]) == %t { regs[%d] = regs[%d] } else { goto L%d }", b, want, a, b, skip)
	return func(x *exec) error {
		v := x.f.Regs[b]
		if vm.Truthy(v) == want {
			x.f.Regs[a] = v
		} else {
			x.pc = skip
		}
		return nil
	}, nil
}

func emitForPrep(g *generator, d operands) (step, error) {
	a := d.a
	if err := g.regs(d, a, a+3); err != nil {
		return nil, err
	}
	to, err := g.target(d, d.pc+1+d.sbx)
	if err != nil {
		return nil, err
	}
	g.writeLine("regs[%d], regs[%d], regs[%d] = vm.ForPrep(L, regs[%d], regs[%d], regs[%d])", a, a+1, a+2, a, a+1, a+2)
	g.writeLine("goto L%d", to)
	return func(x *exec) error {
		r := x.f.Regs
		init, limit, inc, err := vm.ForPrep(x.L, r[a], r[a+1], r[a+2])
		if err != nil {
			return err
		}
		r[a] = init - inc
		r[a+1] = limit
		r[a+2] = inc
		x.pc = to
		return nil
	}, nil
}

func emitForLoop(g *generator, d operands) (step, error) {
	a := d.a
	if err := g.regs(d, a, a+3); err != nil {
		return nil, err
	}
	to, err := g.target(d, d.pc+1+d.sbx)
	if err != nil {
		return nil, err
	}
	g.writeLine("if idx := regs[%d] + regs[%d]; vm.ForContinue(idx, regs[%d], regs[%d]) { regs[%d], regs[%d] = idx, idx; goto L%d }",
		a, a+2, a+1, a+2, a, a+3, to)
	return func(x *exec) error {
		r := x.f.Regs
		inc := r[a+2].(float64)
		idx := r[a].(float64) + inc
		if vm.ForContinue(idx, r[a+1].(float64), inc) {
			r[a] = idx
			r[a+3] = idx
			x.pc = to
		}
		return nil
	}, nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func emitCall(g *generator, d operands) (step, error) {
	a, b, want := d.a, d.b, d.c-1
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	if b > 0 {
		if err := g.reg(d, a+b-1); err != nil {
			return nil, err
		}
	}
	g.writeLine("rets = L.Invoke(regs[%d], %s)", a, argsText(a, b))
	g.writeLine("f.StoreResults(%d, rets, %d)", a, want)
	return func(x *exec) error {
		rets, err := x.L.Invoke(x.f.Regs[a], x.f.CallArgs(a, b))
		if err != nil {
			return err
		}
		x.f.StoreResults(a, rets, want)
		return nil
	}, nil
}

func emitTailCall(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	if b > 0 {
		if err := g.reg(d, a+b-1); err != nil {
			return nil, err
		}
	}
	g.writeLine("return L.Invoke(regs[%d], %s) // reuses f for generated callees", a, argsText(a, b))
	return func(x *exec) error {
		fn := x.f.Regs[a]
		args := x.f.CallArgs(a, b)
		if next, ok := fn.(*vm.Closure); ok {
			if u, ok := next.Host().(*Unit); ok {
				x.f.Reenter(next, args)
				x.cl, x.unit, x.pc = next, u, 0
				return nil
			}
		}
		rets, err := x.L.Invoke(fn, args)
		if err != nil {
			return err
		}
		x.rets, x.done = rets, true
		return nil
	}, nil
}

func argsText(a, b int) string {
	if b == 0 {
		return fmt.Sprintf("regs[%d:f.Top]", a+1)
	}
	return fmt.Sprintf("regs[%d:%d]", a+1, a+b)
}

func emitReturn(g *generator, d operands) (step, error) {
	a, b := d.a, d.b
	if b != 1 {
		if err := g.reg(d, a); err != nil {
			return nil, err
		}
	}
	if b > 1 {
		if err := g.reg(d, a+b-2); err != nil {
			return nil, err
		}
	}
	switch b {
	case 0:
		g.writeLine("return regs[%d:f.Top]", a)
	case 1:
		g.writeLine("return")
	default:
		g.writeLine("return regs[%d:%d]", a, a+b-1)
	}
	return func(x *exec) error {
		x.rets, x.done = x.f.ReturnValues(a, b), true
		return nil
	}, nil
}

// ---------------------------------------------------------------------------
// Table constructors, upvalues and closures
// ---------------------------------------------------------------------------

func emitSetList(g *generator, d operands) (step, error) {
	a, n, batch := d.a, d.b, d.c
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	if n > 0 {
		if err := g.reg(d, a+n); err != nil {
			return nil, err
		}
		g.writeLine("vm.SetList(L, regs[%d], %d, regs[%d:%d])", a, batch, a+1, a+1+n)
	} else {
		g.writeLine("vm.SetList(L, regs[%d], %d, regs[%d:f.Top])", a, batch, a+1)
	}
	return func(x *exec) error {
		vals := x.f.ToTop(a + 1)
		if n > 0 {
			vals = x.f.Regs[a+1 : a+1+n]
		}
		return vm.SetList(x.L, x.f.Regs[a], batch, vals)
	}, nil
}

func emitClose(g *generator, d operands) (step, error) {
	a := d.a
	g.writeLine("f.CloseUpvalues(%d)", a)
	return func(x *exec) error {
		x.f.CloseUpvalues(a)
		return nil
	}, nil
}

func emitClosure(g *generator, d operands) (step, error) {
	a, bx := d.a, d.bx
	if err := g.reg(d, a); err != nil {
		return nil, err
	}
	if bx >= len(g.p.Protos) {
		return nil, g.malformed(d, "prototype %d out of range (%d prototypes)", bx, len(g.p.Protos))
	}
	child := g.p.Protos[bx]
	n := child.NumUpvalues
	next, err := g.target(d, d.pc+1+n)
	if err != nil {
		return nil, err
	}
	capture := g.p.Code[d.pc+1 : d.pc+1+n]
	for i, ins := range capture {
		switch ins.Op() {
		case isa.OpMove:
			if err := g.reg(d, ins.B()); err != nil {
				return nil, err
			}
		case isa.OpGetUpval:
			if err := g.upval(d, ins.B()); err != nil {
				return nil, err
			}
		default:
			return nil, g.malformed(d, "upvalue %d captured by %s", i, ins.Op())
		}
	}
	cu := g.unit.children[bx]
	if cu != nil {
		g.writeLine("regs[%d] = jit.Bind(f.MakeClosure(cl, protos[%d], code[%d:%d]), %s)", a, bx, d.pc+1, next, funcName(child))
	} else {
		g.writeLine("regs[%d] = f.MakeClosure(cl, protos[%d], code[%d:%d]) // interpreted", a, bx, d.pc+1, next)
	}
	if n > 0 {
		g.writeLine("goto L%d", next)
	}
	return func(x *exec) error {
		ncl := x.f.MakeClosure(x.cl, child, capture)
		if cu != nil {
			ncl.SetHost(cu)
		}
		x.f.Regs[a] = ncl
		x.pc = next
		return nil
	}, nil
}
