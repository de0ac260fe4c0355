package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// MaxCallDepth bounds nested calls on one coroutine.
const MaxCallDepth = 1000

// ---------------------------------------------------------------------------
// State: one interpreter instance
// ---------------------------------------------------------------------------

// State is an interpreter instance: a global environment, a main coroutine
// and the pointer to whichever coroutine is running.
//
// Only one coroutine runs at a time. The active-coroutine pointer is an
// atomic so that samplers on other goroutines can find the running stack.
type State struct {
	globals *Table
	strings *Table // methods for string values ("s:upper()")
	stdout  io.Writer

	main    *Coroutine
	current atomic.Pointer[Coroutine]

	mu     sync.Mutex
	live   map[*Coroutine]struct{} // started, not yet dead
	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithStdout redirects print output.
func WithStdout(w io.Writer) StateOption {
	return func(L *State) { L.stdout = w }
}

// WithGlobals uses env as the global table instead of a fresh one. The base
// library is installed into it.
func WithGlobals(env *Table) StateOption {
	return func(L *State) { L.globals = env }
}

// NewState creates a State with the base library loaded.
func NewState(opts ...StateOption) *State {
	L := &State{
		stdout: os.Stdout,
		live:   make(map[*Coroutine]struct{}),
	}
	for _, opt := range opts {
		opt(L)
	}
	if L.globals == nil {
		L.globals = NewTable(0, 64)
	}
	L.main = newCoroutine(nil)
	L.main.setStatus(StatusRunning)
	L.current.Store(L.main)
	openBaseLib(L)
	return L
}

// Globals returns the global environment table.
func (L *State) Globals() *Table { return L.globals }

// Stdout returns the writer print writes to.
func (L *State) Stdout() io.Writer { return L.stdout }

// CurrentCoroutine returns the running coroutine. It is safe to call from any
// goroutine.
func (L *State) CurrentCoroutine() *Coroutine { return L.current.Load() }

// MainCoroutine returns the root coroutine.
func (L *State) MainCoroutine() *Coroutine { return L.main }

// Register installs a native function as a global.
func (L *State) Register(name string, fn NativeFn) {
	L.globals.SetString(name, NewNativeFunction(name, fn))
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call invokes fn with args on the running coroutine. Go panics raised while
// the call runs are recovered and returned as errors, and the frame stack is
// restored to its depth at entry.
func (L *State) Call(fn Value, args ...Value) ([]Value, error) {
	return L.PCall(fn, args)
}

// PCall is Call with the arguments as a slice.
func (L *State) PCall(fn Value, args []Value) (rets []Value, err error) {
	co := L.current.Load()
	top, depth := co.Top(), co.depth
	defer func() {
		if r := recover(); r != nil {
			for co.Top() > top {
				co.popFrame()
			}
			co.depth = depth
			err = &RuntimeError{
				Value:     fmt.Sprintf("internal error: %v", r),
				Traceback: string(debug.Stack()),
			}
		}
	}()
	return L.call(fn, args)
}

// Invoke calls fn on the running coroutine without recovering panics. It is
// the call path used by the interpreter and by generated code.
func (L *State) Invoke(fn Value, args []Value) ([]Value, error) {
	return L.call(fn, args)
}

func (L *State) call(fn Value, args []Value) ([]Value, error) {
	co := L.current.Load()
	if co.depth >= MaxCallDepth {
		return nil, &RuntimeError{
			Value:     L.Where(0) + "stack overflow",
			Traceback: L.Traceback(),
			cause:     ErrStackOverflow,
		}
	}
	co.depth++
	defer func() { co.depth-- }()

	switch fn := fn.(type) {
	case *Closure:
		f := co.pushFrame()
		f.setClosure(fn, args)
		var rets []Value
		var err error
		if h := fn.Host(); h != nil {
			rets, err = h.Run(L, f)
		} else {
			rets, err = L.execute(f)
		}
		co.popFrame()
		return rets, err
	case *NativeFunction:
		f := co.pushFrame()
		f.setNative(fn)
		rets, err := fn.Fn(L, args)
		if err != nil {
			err = L.wrapNativeError(err)
		}
		co.popFrame()
		return rets, err
	}
	return nil, L.RuntimeErrorf("attempt to call a %s value", TypeOf(fn))
}

// ---------------------------------------------------------------------------
// Coroutines
// ---------------------------------------------------------------------------

// NewThread creates a suspended coroutine that will run fn when first
// resumed.
func (L *State) NewThread(fn Value) *Coroutine {
	return newCoroutine(fn)
}

// Resume transfers control to co, passing args, and waits until it yields or
// finishes. While co runs it is the active coroutine and its parent is the
// caller's coroutine.
func (L *State) Resume(co *Coroutine, args []Value) ([]Value, error) {
	switch co.Status() {
	case StatusSuspended:
	case StatusDead:
		return nil, errors.New("cannot resume dead coroutine")
	default:
		return nil, errors.New("cannot resume non-suspended coroutine")
	}
	L.mu.Lock()
	closed := L.closed
	if !closed {
		L.live[co] = struct{}{}
	}
	L.mu.Unlock()
	if closed {
		return nil, errCoroutineClosed
	}

	args = append([]Value(nil), args...)
	prev := L.current.Load()
	prev.setStatus(StatusNormal)
	co.parent.Store(prev)
	co.setStatus(StatusRunning)
	L.current.Store(co)

	if !co.started {
		co.started = true
		go L.runCoroutine(co, args)
	} else {
		co.resumeCh <- transfer{vals: args}
	}
	t := <-co.yieldCh

	L.current.Store(prev)
	co.parent.Store(nil)
	prev.setStatus(StatusRunning)
	if t.done {
		co.setStatus(StatusDead)
		L.mu.Lock()
		delete(L.live, co)
		L.mu.Unlock()
	} else {
		co.setStatus(StatusSuspended)
	}
	return t.vals, t.err
}

func (L *State) runCoroutine(co *Coroutine, args []Value) {
	var t transfer
	defer func() {
		if r := recover(); r != nil {
			for co.Top() > 0 {
				co.popFrame()
			}
			t = transfer{err: &RuntimeError{Value: fmt.Sprintf("internal error: %v", r)}}
		}
		t.done = true
		co.yieldCh <- t
	}()
	rets, err := L.call(co.fn, args)
	t = transfer{vals: rets, err: err}
}

// Yield suspends the running coroutine, handing vals to its resumer, and
// returns the values passed to the next Resume.
func (L *State) Yield(vals []Value) ([]Value, error) {
	co := L.current.Load()
	if co == L.main {
		return nil, errors.New("attempt to yield from outside a coroutine")
	}
	co.yieldCh <- transfer{vals: append([]Value(nil), vals...)}
	t := <-co.resumeCh
	return t.vals, t.err
}

// Close kills every suspended coroutine so that their goroutines exit. The
// State must not be used afterwards.
func (L *State) Close() {
	L.mu.Lock()
	L.closed = true
	var pending []*Coroutine
	for co := range L.live {
		if co.Status() == StatusSuspended {
			pending = append(pending, co)
		}
	}
	clear(L.live)
	L.mu.Unlock()

	for _, co := range pending {
		co.resumeCh <- transfer{err: errCoroutineClosed}
		for t := range co.yieldCh {
			if t.done {
				break
			}
			co.resumeCh <- transfer{err: errCoroutineClosed}
		}
		co.setStatus(StatusDead)
	}
}

// IsClosing reports whether err is the error used to unwind coroutines
// killed by Close. Protected calls must not swallow it.
func IsClosing(err error) bool {
	return errors.Is(err, errCoroutineClosed)
}
