package vm

import (
	"fmt"

	"github.com/gigfork/kahlua2/isa"
)

// Prototype is one compiled guest function: its instructions, constant pool,
// register count and nested function prototypes. A Prototype is immutable
// once the compiler hands it out and may be shared by any number of closures,
// goroutines and code generator units.
type Prototype struct {
	Name            string // best-effort function name, for profiles and tracebacks
	Source          string // chunk name
	LineDefined     int
	LastLineDefined int

	NumParams   int
	IsVararg    bool
	MaxStack    int // number of registers
	NumUpvalues int

	Code      []isa.Instruction
	Constants []Value // nil, bool, float64 or string
	Protos    []*Prototype

	LineInfo     []int32 // source line per instruction
	UpvalueNames []string
}

// Line returns the source line of the instruction at pc, or 0 if unknown.
func (p *Prototype) Line(pc int) int {
	if pc >= 0 && pc < len(p.LineInfo) {
		return int(p.LineInfo[pc])
	}
	return 0
}

// String identifies the function as "source:line" (plus its name when known).
func (p *Prototype) String() string {
	if p.Name != "" {
		return fmt.Sprintf("%s:%d (%s)", p.Source, p.LineDefined, p.Name)
	}
	return fmt.Sprintf("%s:%d", p.Source, p.LineDefined)
}

// Walk calls fn for p and every nested prototype, depth first.
func (p *Prototype) Walk(fn func(*Prototype)) {
	fn(p)
	for _, child := range p.Protos {
		child.Walk(fn)
	}
}

// Validate checks the operands the interpreter and the code generator index
// with: registers against MaxStack, constants, upvalues, nested prototypes,
// jump targets and the capture instructions that follow each CLOSURE. It is
// run on prototypes that did not come straight from the compiler (binary
// chunks).
func (p *Prototype) Validate() error {
	if p.MaxStack < 0 || p.MaxStack > isa.MaxRegisters+1 {
		return fmt.Errorf("%s: bad register count %d", p, p.MaxStack)
	}
	if p.NumUpvalues < 0 {
		return fmt.Errorf("%s: bad upvalue count %d", p, p.NumUpvalues)
	}
	if p.NumParams < 0 || p.NumParams > p.MaxStack {
		return fmt.Errorf("%s: %d parameters in %d registers", p, p.NumParams, p.MaxStack)
	}
	for _, k := range p.Constants {
		if !IsConstant(k) {
			return fmt.Errorf("%s: bad constant of type %T", p, k)
		}
	}
	for pc := 0; pc < len(p.Code); pc++ {
		ins := p.Code[pc]
		if !ins.Op().Valid() {
			return fmt.Errorf("%s: pc %d: invalid opcode %d", p, pc, ins.Op())
		}
		skip, err := p.validateInstruction(pc, ins)
		if err != nil {
			return fmt.Errorf("%s: pc %d: %s: %w", p, pc, ins.Op(), err)
		}
		pc += skip
	}
	for _, child := range p.Protos {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateInstruction checks one instruction and returns how many of the
// following instructions it consumes as operands.
func (p *Prototype) validateInstruction(pc int, ins isa.Instruction) (int, error) {
	a, b, c := ins.A(), ins.B(), ins.C()
	reg := func(rs ...int) error {
		for _, r := range rs {
			if r < 0 || r >= p.MaxStack {
				return fmt.Errorf("register %d out of range (%d registers)", r, p.MaxStack)
			}
		}
		return nil
	}
	constant := func(i int) error {
		if i >= len(p.Constants) {
			return fmt.Errorf("constant %d out of range (%d constants)", i, len(p.Constants))
		}
		return nil
	}
	rk := func(xs ...int) error {
		for _, x := range xs {
			var err error
			if isa.IsK(x) {
				err = constant(isa.IndexK(x))
			} else {
				err = reg(x)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
	upval := func(i int) error {
		if i >= p.NumUpvalues {
			return fmt.Errorf("upvalue %d out of range (%d upvalues)", i, p.NumUpvalues)
		}
		return nil
	}
	target := func(to int) error {
		if to < 0 || to > len(p.Code) {
			return fmt.Errorf("jump target %d out of range", to)
		}
		return nil
	}
	all := func(errs ...error) error {
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	}

	switch ins.Op() {
	case isa.OpMove, isa.OpLoadNil, isa.OpUnm, isa.OpNot, isa.OpLen:
		return 0, reg(a, b)
	case isa.OpLoadK:
		return 0, all(reg(a), constant(ins.Bx()))
	case isa.OpLoadBool:
		if c != 0 {
			return 0, all(reg(a), target(pc+2))
		}
		return 0, reg(a)
	case isa.OpGetUpval, isa.OpSetUpval:
		return 0, all(reg(a), upval(b))
	case isa.OpGetGlobal, isa.OpSetGlobal:
		return 0, all(reg(a), constant(ins.Bx()))
	case isa.OpGetTable:
		return 0, all(reg(a, b), rk(c))
	case isa.OpSetTable:
		return 0, all(reg(a), rk(b, c))
	case isa.OpNewTable, isa.OpVararg:
		return 0, reg(a)
	case isa.OpSelf:
		return 0, all(reg(a, a+1, b), rk(c))
	case isa.OpAdd, isa.OpSub, isa.OpMul, isa.OpDiv, isa.OpMod, isa.OpPow:
		return 0, all(reg(a), rk(b, c))
	case isa.OpConcat:
		if b > c {
			return 0, fmt.Errorf("empty register range %d..%d", b, c)
		}
		return 0, reg(a, b, c)
	case isa.OpJmp:
		return 0, target(pc + 1 + ins.SBx())
	case isa.OpEq, isa.OpLt, isa.OpLe:
		return 0, all(rk(b, c), target(pc+2))
	case isa.OpTest:
		return 0, all(reg(a), target(pc+2))
	case isa.OpTestSet:
		return 0, all(reg(a, b), target(pc+2))
	case isa.OpCall, isa.OpTailCall:
		if b > 0 {
			return 0, reg(a, a+b-1)
		}
		return 0, reg(a)
	case isa.OpReturn:
		switch {
		case b == 0:
			return 0, reg(a)
		case b > 1:
			return 0, reg(a, a+b-2)
		}
		return 0, nil
	case isa.OpForPrep, isa.OpForLoop:
		return 0, all(reg(a, a+3), target(pc+1+ins.SBx()))
	case isa.OpTForLoop:
		return 0, all(reg(a, a+2), target(pc+2))
	case isa.OpSetList:
		if b > 0 {
			return 0, reg(a, a+b)
		}
		return 0, reg(a)
	case isa.OpClosure:
		if err := reg(a); err != nil {
			return 0, err
		}
		if ins.Bx() >= len(p.Protos) {
			return 0, fmt.Errorf("prototype index %d out of range", ins.Bx())
		}
		n := p.Protos[ins.Bx()].NumUpvalues
		if pc+1+n > len(p.Code) {
			return 0, fmt.Errorf("%d upvalue captures missing", n)
		}
		for i, capture := range p.Code[pc+1 : pc+1+n] {
			var err error
			switch capture.Op() {
			case isa.OpMove:
				err = reg(capture.B())
			case isa.OpGetUpval:
				err = upval(capture.B())
			default:
				err = fmt.Errorf("upvalue %d captured by %s", i, capture.Op())
			}
			if err != nil {
				return 0, err
			}
		}
		return n, nil
	}
	return 0, nil
}
