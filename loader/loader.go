// Package loader installs the guest entry points that turn source text or
// binary chunks into callable closures.
//
// Both entry points share one compile path: read the whole input, undump
// it when it is a binary chunk or compile it otherwise, wrap the prototype
// and the environment in a closure and, when code generation is enabled,
// attach generated code to it. Every failure is reported to the guest as
// nil plus a message, never raised.
package loader

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tliron/commonlog"

	"github.com/gigfork/kahlua2/compiler"
	"github.com/gigfork/kahlua2/jit"
	"github.com/gigfork/kahlua2/vm"
)

// Op names a loader entry point.
type Op uint8

const (
	OpLoadString Op = iota
	OpLoadStream
)

// Ops lists every entry point in registration order.
var Ops = []Op{OpLoadString, OpLoadStream}

// String returns the global name the entry point is installed under.
func (op Op) String() string {
	switch op {
	case OpLoadString:
		return "loadstring"
	case OpLoadStream:
		return "loadstream"
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// Option configures a Loader.
type Option func(*Loader)

// WithCodegen enables or disables the code generator. When enabled,
// generated code replaces interpretation for every prototype the generator
// fully covers; the rest stay interpreted.
func WithCodegen(enabled bool) Option {
	return func(l *Loader) { l.codegen = enabled }
}

// WithJITOptions passes options to the code generator.
func WithJITOptions(opts ...jit.Option) Option {
	return func(l *Loader) { l.jitOpts = append(l.jitOpts, opts...) }
}

// WithLogger sets the logger for generator fallbacks.
func WithLogger(logger commonlog.Logger) Option {
	return func(l *Loader) { l.log = logger }
}

// Loader compiles guest code into closures.
type Loader struct {
	codegen bool
	jitOpts []jit.Option
	log     commonlog.Logger
}

func New(opts ...Option) *Loader {
	l := &Loader{log: commonlog.GetLogger("kahlua.loader")}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register installs the entry points of a default Loader configured by opts
// into env, or into the globals of L when env is nil. Loaded closures get
// env as their environment.
func Register(L *vm.State, env *vm.Table, opts ...Option) {
	New(opts...).Register(L, env)
}

// Register installs l's entry points into env, or into the globals of L
// when env is nil.
func (l *Loader) Register(L *vm.State, env *vm.Table) {
	if env == nil {
		env = L.Globals()
	}
	for _, op := range Ops {
		env.SetString(op.String(), vm.NewNativeFunction(op.String(), l.entry(op, env)))
	}
}

func (l *Loader) entry(op Op, env *vm.Table) vm.NativeFn {
	return func(L *vm.State, args []vm.Value) ([]vm.Value, error) {
		var (
			cl  *vm.Closure
			err error
		)
		switch op {
		case OpLoadString:
			cl, err = l.loadString(args, env)
		case OpLoadStream:
			cl, err = l.loadStream(args, env)
		default:
			err = fmt.Errorf("unknown loader entry point %s", op)
		}
		if err != nil {
			return []vm.Value{nil, err.Error()}, nil
		}
		return []vm.Value{cl}, nil
	}
}

func (l *Loader) loadString(args []vm.Value, env *vm.Table) (*vm.Closure, error) {
	fname := OpLoadString.String()
	if len(args) == 0 {
		return nil, vm.ArgError(1, fname, "string expected, got no value")
	}
	source, ok := args[0].(string)
	if !ok {
		return nil, vm.ArgError(1, fname, "string expected, got "+vm.TypeOf(args[0]).String())
	}
	name := ChunkID(source)
	if len(args) > 1 && args[1] != nil {
		if name, ok = args[1].(string); !ok {
			return nil, vm.ArgError(2, fname, "string expected, got "+vm.TypeOf(args[1]).String())
		}
	}
	return l.LoadString(source, name, env)
}

func (l *Loader) loadStream(args []vm.Value, env *vm.Table) (*vm.Closure, error) {
	fname := OpLoadStream.String()
	switch len(args) {
	case 0:
		return nil, vm.ArgError(1, fname, "stream expected, got no value")
	case 1:
		return nil, vm.ArgError(2, fname, "string expected, got no value")
	}
	if args[0] == nil {
		return nil, vm.ArgError(1, fname, "stream expected, got nil")
	}
	ud, ok := args[0].(*vm.Userdata)
	if !ok {
		return nil, vm.ArgError(1, fname, "stream expected, got "+vm.TypeOf(args[0]).String())
	}
	name, ok := args[1].(string)
	if !ok {
		return nil, vm.ArgError(2, fname, "string expected, got "+vm.TypeOf(args[1]).String())
	}
	switch r := ud.Value.(type) {
	case io.Reader:
		return l.LoadReader(r, name, env)
	case io.RuneReader:
		return l.LoadRunes(r, name, env)
	}
	return nil, vm.ArgError(1, fname, fmt.Sprintf("stream expected, got %T", ud.Value))
}

// LoadString compiles source.
func (l *Loader) LoadString(source, name string, env *vm.Table) (*vm.Closure, error) {
	return l.Compile([]byte(source), name, env)
}

// LoadReader reads r to the end and compiles what it read.
func (l *Loader) LoadReader(r io.Reader, name string, env *vm.Table) (*vm.Closure, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return l.Compile(data, name, env)
}

// LoadRunes reads r to the end, encodes the characters as UTF-8 and
// compiles the result.
func (l *Loader) LoadRunes(r io.RuneReader, name string, env *vm.Table) (*vm.Closure, error) {
	var sb strings.Builder
	for {
		c, _, err := r.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		sb.WriteRune(c)
	}
	return l.Compile([]byte(sb.String()), name, env)
}

// Compile is the path shared by every entry point. Input starting with the
// binary chunk signature is undumped, anything else is compiled as source.
// Generator failures are logged and leave the closure interpreted; only
// undump and compile errors are returned.
func (l *Loader) Compile(input []byte, name string, env *vm.Table) (*vm.Closure, error) {
	var (
		p   *vm.Prototype
		err error
	)
	if vm.IsBinaryChunk(input) {
		p, err = vm.UndumpBytes(input)
	} else {
		p, err = compiler.Compile(string(input), name)
	}
	if err != nil {
		return nil, err
	}

	cl := vm.NewClosure(p, env)
	if l.codegen {
		l.generate(cl)
	}
	return cl, nil
}

func (l *Loader) generate(cl *vm.Closure) {
	u, err := jit.Generate(cl.Proto, l.jitOpts...)
	if err != nil {
		l.log.Debugf("interpreting %s: %v", cl.Proto, err)
		return
	}
	for _, fb := range u.Fallbacks() {
		l.log.Debugf("interpreting %s: %v", fb.Proto, fb.Err)
	}
	if err := u.Bind(cl); err != nil {
		l.log.Debugf("interpreting %s: %v", cl.Proto, err)
	}
}

// ChunkID derives a chunk name from source text the way loadstring does
// when none is given: the first line, shortened, in [string "..."].
func ChunkID(source string) string {
	const idSize = 40
	line, _, multiline := strings.Cut(source, "\n")
	if len(line) > idSize || multiline {
		if len(line) > idSize {
			n := idSize
			for n > 0 && !utf8.RuneStart(line[n]) {
				n--
			}
			line = line[:n]
		}
		return `[string "` + line + `..."]`
	}
	return `[string "` + line + `"]`
}
