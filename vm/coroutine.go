package vm

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// CoroutineStatus is the guest-visible state of a coroutine.
type CoroutineStatus int32

const (
	StatusSuspended CoroutineStatus = iota
	StatusRunning
	StatusNormal // resumed another coroutine and is waiting for it
	StatusDead
)

func (s CoroutineStatus) String() string {
	switch s {
	case StatusSuspended:
		return "suspended"
	case StatusRunning:
		return "running"
	case StatusNormal:
		return "normal"
	case StatusDead:
		return "dead"
	}
	return fmt.Sprintf("CoroutineStatus(%d)", int32(s))
}

var errCoroutineClosed = errors.New("coroutine closed")

// frameSlots is the backing array of a frame stack. It is replaced, never
// resized in place, so a reader holding an old array keeps a consistent view.
type frameSlots []atomic.Pointer[CallFrame]

const initialFrameSlots = 8

// Coroutine is one resumable execution context: a frame stack plus a link to
// the coroutine that resumed it.
//
// The frame stack, its top index and the parent link are published through
// atomics so that samplers may walk them from other goroutines while the
// coroutine runs. The parent link is navigation only; it is set while the
// coroutine runs on behalf of its resumer and cleared when control returns.
type Coroutine struct {
	slots  atomic.Pointer[frameSlots]
	top    atomic.Int32
	parent atomic.Pointer[Coroutine]
	status atomic.Int32

	fn      Value
	started bool
	depth   int // nested calls, owned by the running goroutine

	resumeCh chan transfer
	yieldCh  chan transfer
}

// transfer carries values across a resume/yield hand-off.
type transfer struct {
	vals []Value
	err  error
	done bool
}

// NewCoroutine creates an empty coroutine whose parent is parent (which may
// be nil). Interpreter states create their own coroutines; this constructor
// exists for tools and tests that assemble stacks by hand.
func NewCoroutine(parent *Coroutine) *Coroutine {
	co := newCoroutine(nil)
	co.parent.Store(parent)
	return co
}

func newCoroutine(fn Value) *Coroutine {
	co := &Coroutine{
		fn:       fn,
		resumeCh: make(chan transfer),
		yieldCh:  make(chan transfer, 1),
	}
	slots := make(frameSlots, initialFrameSlots)
	co.slots.Store(&slots)
	return co
}

// Parent returns the coroutine that resumed co, or nil for a root or
// suspended coroutine.
func (co *Coroutine) Parent() *Coroutine {
	return co.parent.Load()
}

// Status returns the coroutine's state.
func (co *Coroutine) Status() CoroutineStatus {
	return CoroutineStatus(co.status.Load())
}

func (co *Coroutine) setStatus(s CoroutineStatus) {
	co.status.Store(int32(s))
}

// Top returns the number of active frames. Observers on other goroutines
// must treat it as a hint and bounds-check it against Frames.
func (co *Coroutine) Top() int {
	return int(co.top.Load())
}

// Frames returns the current frame slot array. Slot i holds the i-th frame
// from the bottom of the stack; slots at or above Top hold stale frames.
func (co *Coroutine) Frames() []atomic.Pointer[CallFrame] {
	return *co.slots.Load()
}

// CurrentFrame returns the innermost active frame, or nil.
func (co *Coroutine) CurrentFrame() *CallFrame {
	return co.frameAt(co.Top() - 1)
}

func (co *Coroutine) frameAt(i int) *CallFrame {
	slots := co.Frames()
	if i < 0 || i >= len(slots) {
		return nil
	}
	return slots[i].Load()
}

// pushFrame returns a fresh frame at the top of the stack. The caller fills
// it in (setClosure / setNative); the frame is visible to observers as soon
// as top is bumped, possibly before its callee is set.
func (co *Coroutine) pushFrame() *CallFrame {
	n := co.Top()
	slots := co.Frames()
	if n >= len(slots) {
		grown := make(frameSlots, len(slots)*2)
		for i := range slots {
			grown[i].Store(slots[i].Load())
		}
		co.slots.Store(&grown)
		slots = grown
	}
	f := slots[n].Load()
	if f == nil {
		f = &CallFrame{}
		slots[n].Store(f)
	}
	f.closure.Store(nil)
	f.native.Store(nil)
	co.top.Store(int32(n + 1))
	return f
}

// popFrame removes the innermost frame, closing its upvalues.
func (co *Coroutine) popFrame() {
	n := co.Top() - 1
	if n < 0 {
		return
	}
	f := co.frameAt(n)
	co.top.Store(int32(n))
	if f != nil {
		f.CloseUpvalues(0)
		f.reset()
	}
}

// PushClosureFrame pushes a frame running cl, as a call would.
func (co *Coroutine) PushClosureFrame(cl *Closure, args ...Value) *CallFrame {
	f := co.pushFrame()
	f.setClosure(cl, args)
	return f
}

// PushNativeFrame pushes a frame running fn, as a call would.
func (co *Coroutine) PushNativeFrame(fn *NativeFunction) *CallFrame {
	f := co.pushFrame()
	f.setNative(fn)
	return f
}

// PopFrame removes the innermost frame.
func (co *Coroutine) PopFrame() {
	co.popFrame()
}
