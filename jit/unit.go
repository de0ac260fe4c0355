package jit

import (
	"github.com/gigfork/kahlua2/vm"
)

// Unit is the host code of one prototype: one step per guest instruction,
// plus the units of the nested prototypes that could be translated.
type Unit struct {
	Proto *vm.Prototype

	steps     []step
	source    [][]string // listing text per pc
	children  []*Unit    // nil where the child stays interpreted
	fallbacks []Fallback
}

// Bind attaches u to cl so that calls of cl run the generated code.
func (u *Unit) Bind(cl *vm.Closure) error {
	if cl.Proto != u.Proto {
		return ErrProtoMismatch
	}
	cl.SetHost(u)
	return nil
}

// Child returns the unit of nested prototype i, or nil when that prototype
// is interpreted.
func (u *Unit) Child(i int) *Unit {
	if i < 0 || i >= len(u.children) {
		return nil
	}
	return u.children[i]
}

// Fallbacks lists every prototype in the tree below u that is left to the
// interpreter, with the reason.
func (u *Unit) Fallbacks() []Fallback {
	out := append([]Fallback(nil), u.fallbacks...)
	for _, c := range u.children {
		if c != nil {
			out = append(out, c.Fallbacks()...)
		}
	}
	return out
}

// Run executes the unit on a frame prepared by the caller. It implements
// vm.HostCode. The frame's pc is updated before every step, exactly as the
// interpreter does, so samplers and error positions agree with interpreted
// execution.
func (u *Unit) Run(L *vm.State, f *vm.CallFrame) ([]vm.Value, error) {
	x := exec{L: L, f: f, cl: f.Closure(), unit: u}
	for {
		steps := x.unit.steps
		if x.pc >= len(steps) {
			return nil, nil
		}
		s := steps[x.pc]
		x.pc++
		f.SetPC(x.pc)
		if err := s(&x); err != nil {
			return nil, err
		}
		if x.done {
			return x.rets, nil
		}
	}
}

var _ vm.HostCode = (*Unit)(nil)
