package vm

import "sync/atomic"

// HostCode is an executable translation of a Prototype into host code. When a
// closure carries HostCode, calls to it run the translation instead of the
// interpreter loop. The frame has already been pushed and its registers
// prepared; Run must store the program counter into the frame as it advances
// so that observers see the same positions the interpreter would report.
type HostCode interface {
	Run(L *State, f *CallFrame) ([]Value, error)
}

// Closure is a Prototype bound to an environment and its captured upvalues.
type Closure struct {
	Proto    *Prototype
	Env      *Table
	Upvalues []*Upvalue

	host atomic.Pointer[hostRef]
}

type hostRef struct{ code HostCode }

// NewClosure binds p to env with room for p's upvalues.
func NewClosure(p *Prototype, env *Table) *Closure {
	return &Closure{
		Proto:    p,
		Env:      env,
		Upvalues: make([]*Upvalue, p.NumUpvalues),
	}
}

// Host returns the host code attached to the closure, or nil when the closure
// is interpreted.
func (c *Closure) Host() HostCode {
	if r := c.host.Load(); r != nil {
		return r.code
	}
	return nil
}

// SetHost attaches host code to the closure; nil detaches it.
func (c *Closure) SetHost(h HostCode) {
	if h == nil {
		c.host.Store(nil)
		return
	}
	c.host.Store(&hostRef{code: h})
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// Upvalue is a variable captured by a closure. While the declaring function
// is active the upvalue is open and aliases a register of its frame; when the
// frame leaves the variable's scope the upvalue is closed and keeps its own
// copy.
type Upvalue struct {
	frame *CallFrame
	index int
	value Value
}

// NewClosedUpvalue returns an upvalue that already holds v.
func NewClosedUpvalue(v Value) *Upvalue {
	return &Upvalue{value: v}
}

// Get returns the current value.
func (u *Upvalue) Get() Value {
	if u.frame != nil {
		return u.frame.Regs[u.index]
	}
	return u.value
}

// Set assigns the variable.
func (u *Upvalue) Set(v Value) {
	if u.frame != nil {
		u.frame.Regs[u.index] = v
		return
	}
	u.value = v
}

// IsOpen reports whether the upvalue still aliases a register.
func (u *Upvalue) IsOpen() bool {
	return u.frame != nil
}

func (u *Upvalue) close() {
	u.value = u.frame.Regs[u.index]
	u.frame = nil
}

// ---------------------------------------------------------------------------
// Native functions
// ---------------------------------------------------------------------------

// NativeFn is the signature of a host function callable from guest code.
type NativeFn func(L *State, args []Value) ([]Value, error)

// NativeFunction is a named host function.
type NativeFunction struct {
	Name string
	Fn   NativeFn
}

// NewNativeFunction wraps fn.
func NewNativeFunction(name string, fn NativeFn) *NativeFunction {
	return &NativeFunction{Name: name, Fn: fn}
}
