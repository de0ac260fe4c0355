package sampler

import (
	"fmt"

	"github.com/gigfork/kahlua2/vm"
)

// MaxCoroutineDepth bounds the number of coroutines Walk follows through
// parent links. A chain that is transiently inconsistent while the
// interpreter switches coroutines cannot make the walk run away.
const MaxCoroutineDepth = 256

// FrameKind tells guest frames from native frames.
type FrameKind uint8

const (
	Guest FrameKind = iota
	Native
)

func (k FrameKind) String() string {
	switch k {
	case Guest:
		return "guest"
	case Native:
		return "native"
	}
	return fmt.Sprintf("FrameKind(%d)", uint8(k))
}

// Frame describes one call frame captured by Walk. Guest frames carry the
// prototype and the index of the last instruction that began executing;
// native frames carry the function.
type Frame struct {
	Kind   FrameKind
	PC     int
	Proto  *vm.Prototype
	Native *vm.NativeFunction
}

// Line returns the source line of a guest frame, or 0.
func (f Frame) Line() int {
	if f.Kind != Guest || f.Proto == nil {
		return 0
	}
	return f.Proto.Line(f.PC)
}

func (f Frame) String() string {
	if f.Kind == Native {
		if f.Native == nil {
			return "[native]"
		}
		return "[native] " + f.Native.Name
	}
	return fmt.Sprintf("%s:%d", f.Proto, f.Line())
}

// Walk snapshots the logical call stack that ends at co: the frames of co,
// innermost first, then those of the coroutine that resumed it, and so on up
// to a coroutine without a parent.
//
// Walk only performs atomic loads and may run on any goroutine while the
// interpreter is executing. The result is a best-effort snapshot: the top
// index is read once per coroutine and bounded by the slot array it is used
// with, frames with neither a closure nor a native function (being set up
// or torn down) are skipped, and a pc that has not advanced yet is clamped
// to 0.
func Walk(co *vm.Coroutine) []Frame {
	var frames []Frame
	for depth := 0; co != nil && depth < MaxCoroutineDepth; depth++ {
		slots := co.Frames()
		top := min(co.Top(), len(slots))
		for i := top - 1; i >= 0; i-- {
			f := slots[i].Load()
			if f == nil {
				continue
			}
			if cl := f.Closure(); cl != nil {
				frames = append(frames, Frame{Kind: Guest, PC: max(f.PC()-1, 0), Proto: cl.Proto})
			} else if fn := f.Native(); fn != nil {
				frames = append(frames, Frame{Kind: Native, Native: fn})
			}
		}
		co = co.Parent()
	}
	return frames
}
