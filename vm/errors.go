package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// ErrStackOverflow is the cause of errors raised when the call depth of a
// coroutine exceeds MaxCallDepth.
var ErrStackOverflow = errors.New("stack overflow")

// RuntimeError is a guest error: raised by error(), by a failed operation in
// the interpreter or in generated code, or by a native function. Value is the
// guest-visible error value (usually a "source:line: message" string).
type RuntimeError struct {
	Value     Value
	Traceback string

	cause error
}

func (e *RuntimeError) Error() string {
	switch v := e.Value.(type) {
	case string:
		return v
	case float64:
		return FormatNumber(v)
	case nil:
		return "nil"
	}
	return fmt.Sprintf("(error object is a %s value)", TypeOf(e.Value))
}

func (e *RuntimeError) Unwrap() error { return e.cause }

// NewRuntimeError wraps a guest value raised as an error.
func (L *State) NewRuntimeError(v Value) *RuntimeError {
	return &RuntimeError{Value: v, Traceback: L.Traceback()}
}

// RuntimeErrorf formats a message prefixed with the position of the innermost
// guest frame, as every operation failure in the interpreter is reported.
func (L *State) RuntimeErrorf(format string, args ...any) *RuntimeError {
	msg := L.Where(0) + fmt.Sprintf(format, args...)
	return &RuntimeError{Value: msg, Traceback: L.Traceback()}
}

// wrapNativeError turns an error returned by a native function into a guest
// error positioned at the native's caller. Errors that already are guest
// errors pass through.
func (L *State) wrapNativeError(err error) error {
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{
		Value:     L.Where(1) + err.Error(),
		Traceback: L.Traceback(),
		cause:     err,
	}
}

// ErrorValue returns the guest value carried by err: the raised value for a
// RuntimeError, the message for any other error.
func ErrorValue(err error) Value {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Value
	}
	return err.Error()
}

// Where returns "source:line: " for the frame level steps below the innermost
// frame of the running coroutine, or "" when that frame is native or absent.
func (L *State) Where(level int) string {
	co := L.current.Load()
	f := co.frameAt(co.Top() - 1 - level)
	if f == nil {
		return ""
	}
	cl := f.Closure()
	if cl == nil {
		return ""
	}
	pc := max(f.PC()-1, 0)
	return fmt.Sprintf("%s:%d: ", cl.Proto.Source, cl.Proto.Line(pc))
}

// Traceback renders the frames of the running coroutine, innermost first.
func (L *State) Traceback() string {
	co := L.current.Load()
	var b strings.Builder
	b.WriteString("stack traceback:")
	for i := co.Top() - 1; i >= 0; i-- {
		f := co.frameAt(i)
		if f == nil {
			continue
		}
		b.WriteString("\n\t")
		if cl := f.Closure(); cl != nil {
			p := cl.Proto
			fmt.Fprintf(&b, "%s:%d: in ", p.Source, p.Line(max(f.PC()-1, 0)))
			switch {
			case p.LineDefined == 0:
				b.WriteString("main chunk")
			case p.Name != "":
				fmt.Fprintf(&b, "function '%s'", p.Name)
			default:
				fmt.Fprintf(&b, "function <%s:%d>", p.Source, p.LineDefined)
			}
		} else if fn := f.Native(); fn != nil {
			fmt.Fprintf(&b, "[builtin]: in function '%s'", fn.Name)
		}
	}
	return b.String()
}
