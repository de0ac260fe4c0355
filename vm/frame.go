package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// CallFrame: one activation on a coroutine's frame stack
// ---------------------------------------------------------------------------

// CallFrame is the activation record of a guest closure or a native function.
//
// Frames are owned by their coroutine and reused as the stack grows and
// shrinks. The program counter and the callee reference are atomics because
// they are read, without any other synchronisation, by stack samplers running
// on other goroutines. Everything else is private to the goroutine running
// the coroutine.
type CallFrame struct {
	pc      atomic.Int32
	closure atomic.Pointer[Closure]
	native  atomic.Pointer[NativeFunction]

	// Regs holds one slot per register of the prototype.
	Regs []Value
	// Varargs holds the arguments beyond the declared parameters.
	Varargs []Value
	// Top is the first free register after a multi-result call or VARARG.
	Top int

	open []*Upvalue // open upvalues, sorted by register index
}

// PC returns the index of the next instruction to execute.
func (f *CallFrame) PC() int {
	return int(f.pc.Load())
}

// SetPC records the index of the next instruction to execute.
func (f *CallFrame) SetPC(pc int) {
	f.pc.Store(int32(pc))
}

// Closure returns the guest closure running in the frame, or nil.
func (f *CallFrame) Closure() *Closure {
	return f.closure.Load()
}

// Native returns the native function running in the frame, or nil.
func (f *CallFrame) Native() *NativeFunction {
	return f.native.Load()
}

// setClosure prepares the frame to run cl with args.
func (f *CallFrame) setClosure(cl *Closure, args []Value) {
	f.native.Store(nil)
	f.pc.Store(0)
	p := cl.Proto
	f.ensureRegs(p.MaxStack)
	copy(f.Regs[:min(p.NumParams, len(f.Regs))], args)
	f.Varargs = f.Varargs[:0]
	if p.IsVararg && len(args) > p.NumParams {
		f.Varargs = append(f.Varargs, args[p.NumParams:]...)
	}
	f.Top = 0
	f.closure.Store(cl)
}

// setNative prepares the frame to run a native function.
func (f *CallFrame) setNative(fn *NativeFunction) {
	f.closure.Store(nil)
	f.pc.Store(0)
	f.native.Store(fn)
}

// Reenter replaces the closure running in f with cl, as a tail call does.
// Upvalues still open on the old activation are closed first.
func (f *CallFrame) Reenter(cl *Closure, args []Value) {
	args = append([]Value(nil), args...)
	f.CloseUpvalues(0)
	f.setClosure(cl, args)
}

// reset releases references held by the frame once it has been popped.
func (f *CallFrame) reset() {
	f.closure.Store(nil)
	f.native.Store(nil)
	clear(f.Regs)
	clear(f.Varargs)
	f.Varargs = f.Varargs[:0]
}

// ensureRegs makes sure registers 0..n-1 exist and are nil.
func (f *CallFrame) ensureRegs(n int) {
	if cap(f.Regs) < n {
		f.Regs = make([]Value, n)
		return
	}
	f.Regs = f.Regs[:n]
	clear(f.Regs)
}

// Grow extends the register file to at least n slots, keeping contents.
// Multi-result calls and VARARG may write past the prototype's register
// count.
func (f *CallFrame) Grow(n int) {
	if n <= len(f.Regs) {
		return
	}
	if n <= cap(f.Regs) {
		f.Regs = f.Regs[:n]
		return
	}
	regs := make([]Value, n, n*2)
	copy(regs, f.Regs)
	f.Regs = regs
}

// FindUpvalue returns the open upvalue aliasing register idx, creating it
// if needed.
func (f *CallFrame) FindUpvalue(idx int) *Upvalue {
	i := 0
	for ; i < len(f.open); i++ {
		if f.open[i].index == idx {
			return f.open[i]
		}
		if f.open[i].index > idx {
			break
		}
	}
	u := &Upvalue{frame: f, index: idx}
	f.open = append(f.open, nil)
	copy(f.open[i+1:], f.open[i:])
	f.open[i] = u
	return u
}

// CloseUpvalues closes every open upvalue aliasing register from or above.
func (f *CallFrame) CloseUpvalues(from int) {
	i := len(f.open)
	for i > 0 && f.open[i-1].index >= from {
		i--
		f.open[i].close()
		f.open[i] = nil
	}
	f.open = f.open[:i]
}
