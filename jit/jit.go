// Package jit translates guest prototypes into host code.
//
// Generate walks a Prototype instruction by instruction and asks the opcode
// translation table for a host step per instruction. The resulting Unit is
// "threaded code": a slice of Go closures indexed by pc, one per guest
// instruction, each operating directly on the frame's registers. Binding a
// Unit to a Closure makes every call of that closure run the steps instead of
// the interpreter loop, on a CallFrame pushed exactly as the interpreter
// pushes it, so stack samplers observe generated and interpreted frames
// alike.
//
// Translation is all-or-nothing per prototype: one instruction without a
// rule fails the whole prototype with an *UnsupportedOpcodeError. Nested
// prototypes are translated independently, and a child that cannot be
// translated stays interpreted while its parent runs generated code.
package jit

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/gigfork/kahlua2/isa"
	"github.com/gigfork/kahlua2/vm"
)

// ErrUnsupportedOpcode is wrapped by every *UnsupportedOpcodeError.
var ErrUnsupportedOpcode = errors.New("unsupported opcode")

// ErrProtoMismatch is returned by Unit.Bind for a closure of another
// prototype.
var ErrProtoMismatch = errors.New("jit: closure prototype does not match unit")

// UnsupportedOpcodeError reports the first instruction of a prototype that
// has no translation rule.
type UnsupportedOpcodeError struct {
	Proto *vm.Prototype
	PC    int
	Op    isa.Opcode
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("jit: %s: pc %d: %s: %s", e.Proto, e.PC, ErrUnsupportedOpcode, e.Op)
}

func (e *UnsupportedOpcodeError) Unwrap() error { return ErrUnsupportedOpcode }

// MalformedError reports an instruction whose operands point outside the
// prototype: a register, constant, upvalue, nested prototype or jump target
// that does not exist.
type MalformedError struct {
	Proto  *vm.Prototype
	PC     int
	Op     isa.Opcode
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("jit: %s: pc %d: malformed %s: %s", e.Proto, e.PC, e.Op, e.Reason)
}

// TraceEvent describes one instruction as it is translated.
type TraceEvent struct {
	Proto *vm.Prototype
	PC    int
	Op    isa.Opcode
	A     int
	B     int
	C     int
	Bx    int
	SBx   int
}

func (e TraceEvent) String() string {
	switch e.Op.Info().Mode {
	case isa.ModeABx:
		return fmt.Sprintf("%s pc=%d %s a=%d bx=%d", e.Proto, e.PC, e.Op, e.A, e.Bx)
	case isa.ModeAsBx:
		return fmt.Sprintf("%s pc=%d %s a=%d sbx=%d", e.Proto, e.PC, e.Op, e.A, e.SBx)
	}
	return fmt.Sprintf("%s pc=%d %s a=%d b=%d c=%d", e.Proto, e.PC, e.Op, e.A, e.B, e.C)
}

// LogTrace returns a trace hook that writes each event to logger at debug
// level.
func LogTrace(logger commonlog.Logger) func(TraceEvent) {
	return func(e TraceEvent) {
		logger.Debugf("emit %s", e)
	}
}

// Option configures Generate.
type Option func(*options)

type options struct {
	trace func(TraceEvent)
	log   commonlog.Logger
}

// WithTrace installs a hook called once per translated instruction.
func WithTrace(fn func(TraceEvent)) Option {
	return func(o *options) { o.trace = fn }
}

// WithLogger sets the logger used to report nested prototypes that fall back
// to the interpreter.
func WithLogger(logger commonlog.Logger) Option {
	return func(o *options) { o.log = logger }
}

// Generate translates p and, recursively, its nested prototypes. It fails
// when p itself cannot be fully translated; failures of nested prototypes
// are recorded in the Unit (see Fallbacks) and leave those children to the
// interpreter.
func Generate(p *vm.Prototype, opts ...Option) (*Unit, error) {
	o := options{log: commonlog.GetLogger("kahlua.jit")}
	for _, opt := range opts {
		opt(&o)
	}
	return generate(p, &o)
}

func generate(p *vm.Prototype, o *options) (*Unit, error) {
	for pc, ins := range p.Code {
		if !Covered(ins.Op()) {
			return nil, &UnsupportedOpcodeError{Proto: p, PC: pc, Op: ins.Op()}
		}
	}

	u := &Unit{
		Proto:    p,
		steps:    make([]step, len(p.Code)),
		source:   make([][]string, len(p.Code)),
		children: make([]*Unit, len(p.Protos)),
	}
	for i, child := range p.Protos {
		cu, err := generate(child, o)
		if err != nil {
			o.log.Debugf("interpreting %s: %s", child, err)
			u.fallbacks = append(u.fallbacks, Fallback{Proto: child, Err: err})
			continue
		}
		u.children[i] = cu
	}

	g := &generator{p: p, unit: u}
	for pc, ins := range p.Code {
		d := decode(pc, ins)
		g.pc = pc
		s, err := rules[d.op](g, d)
		if err != nil {
			return nil, err
		}
		u.steps[pc] = s
		if o.trace != nil {
			o.trace(TraceEvent{Proto: p, PC: pc, Op: d.op, A: d.a, B: d.b, C: d.c, Bx: d.bx, SBx: d.sbx})
		}
	}
	return u, nil
}

// Fallback records a nested prototype left to the interpreter.
type Fallback struct {
	Proto *vm.Prototype
	Err   error
}
