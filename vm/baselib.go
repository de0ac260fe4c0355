package vm

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

// ArgError formats the standard "bad argument" message; n is 1-based.
func ArgError(n int, fname, msg string) error {
	return fmt.Errorf("bad argument #%d to '%s' (%s)", n, fname, msg)
}

func typeError(args []Value, i int, fname string, want Type) error {
	got := "no value"
	if i < len(args) {
		got = TypeOf(args[i]).String()
	}
	return ArgError(i+1, fname, fmt.Sprintf("%s expected, got %s", want, got))
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// CheckNumber returns argument i (0-based) as a number, coercing numeric
// strings.
func CheckNumber(args []Value, i int, fname string) (float64, error) {
	if n, ok := ToNumber(arg(args, i)); ok {
		return n, nil
	}
	return 0, typeError(args, i, fname, TypeNumber)
}

// CheckString returns argument i (0-based) as a string, coercing numbers.
func CheckString(args []Value, i int, fname string) (string, error) {
	if s, ok := ToStringCoerce(arg(args, i)); ok {
		return s, nil
	}
	return "", typeError(args, i, fname, TypeString)
}

// CheckTable returns argument i (0-based) as a table.
func CheckTable(args []Value, i int, fname string) (*Table, error) {
	if t, ok := arg(args, i).(*Table); ok {
		return t, nil
	}
	return nil, typeError(args, i, fname, TypeTable)
}

func optNumber(args []Value, i int, fname string, def float64) (float64, error) {
	if arg(args, i) == nil {
		return def, nil
	}
	return CheckNumber(args, i, fname)
}

func checkCoroutine(args []Value, i int, fname string) (*Coroutine, error) {
	if co, ok := arg(args, i).(*Coroutine); ok {
		return co, nil
	}
	return nil, typeError(args, i, fname, TypeThread)
}

func one(v Value) []Value { return []Value{v} }

// ---------------------------------------------------------------------------
// Library installation
// ---------------------------------------------------------------------------

func openBaseLib(L *State) {
	g := L.globals
	g.SetString("_G", g)
	g.SetString("_VERSION", "Lua 5.1")

	for name, fn := range map[string]NativeFn{
		"print":    basePrint,
		"type":     baseType,
		"tostring": baseTostring,
		"tonumber": baseTonumber,
		"error":    baseError,
		"assert":   baseAssert,
		"pcall":    basePcall,
		"select":   baseSelect,
		"rawget":   baseRawget,
		"rawset":   baseRawset,
		"rawequal": baseRawequal,
		"next":     baseNext,
		"pairs":    basePairs,
		"ipairs":   baseIpairs,
		"unpack":   baseUnpack,
	} {
		L.Register(name, fn)
	}

	L.strings = newLib("string", map[string]NativeFn{
		"len":    strLen,
		"sub":    strSub,
		"upper":  strUpper,
		"lower":  strLower,
		"rep":    strRep,
		"byte":   strByte,
		"char":   strChar,
		"find":   strFind,
		"format": strFormat,
	})
	g.SetString("string", L.strings)
	g.SetString("table", newLib("table", map[string]NativeFn{
		"insert": tabInsert,
		"remove": tabRemove,
		"concat": tabConcat,
	}))
	g.SetString("coroutine", newLib("coroutine", map[string]NativeFn{
		"create":  coCreate,
		"resume":  coResume,
		"yield":   coYield,
		"status":  coStatus,
		"running": coRunning,
		"wrap":    coWrap,
	}))
	g.SetString("os", newLib("os", map[string]NativeFn{
		"clock": osClock,
	}))

	mathLib := newLib("math", map[string]NativeFn{
		"floor": mathUnary("floor", math.Floor),
		"ceil":  mathUnary("ceil", math.Ceil),
		"abs":   mathUnary("abs", math.Abs),
		"sqrt":  mathUnary("sqrt", math.Sqrt),
		"sin":   mathUnary("sin", math.Sin),
		"cos":   mathUnary("cos", math.Cos),
		"exp":   mathUnary("exp", math.Exp),
		"log":   mathUnary("log", math.Log),
		"max":   mathMax,
		"min":   mathMin,
		"fmod":  mathFmod,
	})
	mathLib.SetString("huge", math.Inf(1))
	mathLib.SetString("pi", math.Pi)
	g.SetString("math", mathLib)
}

func newLib(name string, fns map[string]NativeFn) *Table {
	t := NewTable(0, len(fns))
	for fname, fn := range fns {
		t.SetString(fname, NewNativeFunction(name+"."+fname, fn))
	}
	return t
}

// ---------------------------------------------------------------------------
// Base functions
// ---------------------------------------------------------------------------

func basePrint(L *State, args []Value) ([]Value, error) {
	parts := make([]string, len(args))
	for i, v := range args {
		parts[i] = Tostring(v)
	}
	_, err := fmt.Fprintln(L.stdout, strings.Join(parts, "\t"))
	return nil, err
}

func baseType(L *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, ArgError(1, "type", "value expected")
	}
	return one(TypeOf(args[0]).String()), nil
}

func baseTostring(L *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, ArgError(1, "tostring", "value expected")
	}
	return one(Tostring(args[0])), nil
}

func baseTonumber(L *State, args []Value) ([]Value, error) {
	base, err := optNumber(args, 1, "tonumber", 10)
	if err != nil {
		return nil, err
	}
	if base == 10 {
		if n, ok := ToNumber(arg(args, 0)); ok {
			return one(n), nil
		}
		return one(nil), nil
	}
	if base < 2 || base > 36 {
		return nil, ArgError(2, "tonumber", "base out of range")
	}
	s, err := CheckString(args, 0, "tonumber")
	if err != nil {
		return nil, err
	}
	var n float64
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return one(nil), nil
	}
	for _, c := range s {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'z':
			d = int(c-'a') + 10
		default:
			return one(nil), nil
		}
		if d >= int(base) {
			return one(nil), nil
		}
		n = n*base + float64(d)
	}
	return one(n), nil
}

func baseError(L *State, args []Value) ([]Value, error) {
	v := arg(args, 0)
	level, err := optNumber(args, 1, "error", 1)
	if err != nil {
		return nil, err
	}
	if s, ok := v.(string); ok && level > 0 {
		v = L.Where(int(level)) + s
	}
	return nil, L.NewRuntimeError(v)
}

func baseAssert(L *State, args []Value) ([]Value, error) {
	if Truthy(arg(args, 0)) {
		return args, nil
	}
	if len(args) > 1 {
		return nil, L.NewRuntimeError(args[1])
	}
	return nil, errors.New("assertion failed!")
}

func basePcall(L *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, ArgError(1, "pcall", "value expected")
	}
	rets, err := L.PCall(args[0], args[1:])
	if err != nil {
		if IsClosing(err) {
			return nil, err
		}
		return []Value{false, ErrorValue(err)}, nil
	}
	return append([]Value{true}, rets...), nil
}

func baseSelect(L *State, args []Value) ([]Value, error) {
	if s, ok := arg(args, 0).(string); ok && s == "#" {
		return one(float64(len(args) - 1)), nil
	}
	n, err := CheckNumber(args, 0, "select")
	if err != nil {
		return nil, err
	}
	i := int(n)
	switch {
	case i < 0:
		i = len(args) + i
		if i < 1 {
			return nil, ArgError(1, "select", "index out of range")
		}
	case i == 0:
		return nil, ArgError(1, "select", "index out of range")
	}
	if i >= len(args) {
		return nil, nil
	}
	return args[i:], nil
}

func baseRawget(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "rawget")
	if err != nil {
		return nil, err
	}
	return one(t.Get(arg(args, 1))), nil
}

func baseRawset(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "rawset")
	if err != nil {
		return nil, err
	}
	if err := t.Set(arg(args, 1), arg(args, 2)); err != nil {
		return nil, err
	}
	return one(t), nil
}

func baseRawequal(L *State, args []Value) ([]Value, error) {
	return one(RawEqual(arg(args, 0), arg(args, 1))), nil
}

func baseNext(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "next")
	if err != nil {
		return nil, err
	}
	k, v, err := t.Next(arg(args, 1))
	if err != nil {
		return nil, err
	}
	if k == nil {
		return one(nil), nil
	}
	return []Value{k, v}, nil
}

var (
	nextFn   = NewNativeFunction("next", baseNext)
	ipairsFn = NewNativeFunction("ipairs_iter", ipairsIter)
)

func basePairs(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "pairs")
	if err != nil {
		return nil, err
	}
	return []Value{nextFn, t, nil}, nil
}

func ipairsIter(L *State, args []Value) ([]Value, error) {
	t := args[0].(*Table)
	i := int(args[1].(float64)) + 1
	v := t.GetInt(i)
	if v == nil {
		return one(nil), nil
	}
	return []Value{float64(i), v}, nil
}

func baseIpairs(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "ipairs")
	if err != nil {
		return nil, err
	}
	return []Value{ipairsFn, t, float64(0)}, nil
}

func baseUnpack(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "unpack")
	if err != nil {
		return nil, err
	}
	i, err := optNumber(args, 1, "unpack", 1)
	if err != nil {
		return nil, err
	}
	j, err := optNumber(args, 2, "unpack", float64(t.Len()))
	if err != nil {
		return nil, err
	}
	if i > j {
		return nil, nil
	}
	if j-i >= 1<<20 {
		return nil, errors.New("too many results to unpack")
	}
	out := make([]Value, 0, int(j-i)+1)
	for n := int(i); n <= int(j); n++ {
		out = append(out, t.GetInt(n))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// string
// ---------------------------------------------------------------------------

// strIndex converts a 1-based, possibly negative string position to a
// 0-based offset clamped to [0, n].
func strIndex(i float64, n int) int {
	p := int(i)
	if p < 0 {
		p = n + p + 1
	}
	return min(max(p, 0), n+1)
}

func strLen(L *State, args []Value) ([]Value, error) {
	s, err := CheckString(args, 0, "len")
	if err != nil {
		return nil, err
	}
	return one(float64(len(s))), nil
}

func strSub(L *State, args []Value) ([]Value, error) {
	s, err := CheckString(args, 0, "sub")
	if err != nil {
		return nil, err
	}
	i, err := optNumber(args, 1, "sub", 1)
	if err != nil {
		return nil, err
	}
	j, err := optNumber(args, 2, "sub", -1)
	if err != nil {
		return nil, err
	}
	start, end := max(strIndex(i, len(s)), 1), min(strIndex(j, len(s)), len(s))
	if start > end {
		return one(""), nil
	}
	return one(s[start-1 : end]), nil
}

func strUpper(L *State, args []Value) ([]Value, error) {
	s, err := CheckString(args, 0, "upper")
	if err != nil {
		return nil, err
	}
	return one(strings.ToUpper(s)), nil
}

func strLower(L *State, args []Value) ([]Value, error) {
	s, err := CheckString(args, 0, "lower")
	if err != nil {
		return nil, err
	}
	return one(strings.ToLower(s)), nil
}

func strRep(L *State, args []Value) ([]Value, error) {
	s, err := CheckString(args, 0, "rep")
	if err != nil {
		return nil, err
	}
	n, err := CheckNumber(args, 1, "rep")
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return one(""), nil
	}
	return one(strings.Repeat(s, int(n))), nil
}

func strByte(L *State, args []Value) ([]Value, error) {
	s, err := CheckString(args, 0, "byte")
	if err != nil {
		return nil, err
	}
	i, err := optNumber(args, 1, "byte", 1)
	if err != nil {
		return nil, err
	}
	j, err := optNumber(args, 2, "byte", i)
	if err != nil {
		return nil, err
	}
	start, end := max(strIndex(i, len(s)), 1), min(strIndex(j, len(s)), len(s))
	var out []Value
	for p := start; p <= end; p++ {
		out = append(out, float64(s[p-1]))
	}
	return out, nil
}

func strChar(L *State, args []Value) ([]Value, error) {
	b := make([]byte, len(args))
	for i := range args {
		c, err := CheckNumber(args, i, "char")
		if err != nil {
			return nil, err
		}
		if c < 0 || c > 255 {
			return nil, ArgError(i+1, "char", "invalid value")
		}
		b[i] = byte(c)
	}
	return one(string(b)), nil
}

// strFind supports plain substring search only.
func strFind(L *State, args []Value) ([]Value, error) {
	s, err := CheckString(args, 0, "find")
	if err != nil {
		return nil, err
	}
	pat, err := CheckString(args, 1, "find")
	if err != nil {
		return nil, err
	}
	init, err := optNumber(args, 2, "find", 1)
	if err != nil {
		return nil, err
	}
	start := max(strIndex(init, len(s)), 1)
	if start > len(s)+1 {
		return one(nil), nil
	}
	idx := strings.Index(s[start-1:], pat)
	if idx < 0 {
		return one(nil), nil
	}
	pos := start + idx
	return []Value{float64(pos), float64(pos + len(pat) - 1)}, nil
}

// strFormat supports %d %i %s %q %f %g %x %c and %%, with flags and widths.
func strFormat(L *State, args []Value) ([]Value, error) {
	format, err := CheckString(args, 0, "format")
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	n := 1
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(format) && strings.IndexByte("-+ #0123456789.", format[j]) >= 0 {
			j++
		}
		if j >= len(format) {
			return nil, errors.New("invalid option in format")
		}
		spec := format[i:j]
		verb := format[j]
		i = j
		if verb == '%' {
			b.WriteByte('%')
			continue
		}
		switch verb {
		case 'd', 'i':
			x, err := CheckNumber(args, n, "format")
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, spec+"d", int64(x))
		case 'x', 'X', 'o':
			x, err := CheckNumber(args, n, "format")
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, spec+string(verb), int64(x))
		case 'c':
			x, err := CheckNumber(args, n, "format")
			if err != nil {
				return nil, err
			}
			b.WriteByte(byte(x))
		case 'f', 'e', 'E', 'g', 'G':
			x, err := CheckNumber(args, n, "format")
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, spec+string(verb), x)
		case 's':
			if n >= len(args) {
				return nil, typeError(args, n, "format", TypeString)
			}
			fmt.Fprintf(&b, spec+"s", Tostring(args[n]))
		case 'q':
			s, err := CheckString(args, n, "format")
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, "%q", s)
		default:
			return nil, fmt.Errorf("invalid option '%%%c' to 'format'", verb)
		}
		n++
	}
	return one(b.String()), nil
}

// ---------------------------------------------------------------------------
// table
// ---------------------------------------------------------------------------

func tabInsert(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "insert")
	if err != nil {
		return nil, err
	}
	n := t.Len()
	switch len(args) {
	case 2:
		t.SetInt(n+1, args[1])
	case 3:
		p, err := CheckNumber(args, 1, "insert")
		if err != nil {
			return nil, err
		}
		pos := int(p)
		for i := n; i >= pos; i-- {
			t.SetInt(i+1, t.GetInt(i))
		}
		t.SetInt(pos, args[2])
	default:
		return nil, errors.New("wrong number of arguments to 'insert'")
	}
	return nil, nil
}

func tabRemove(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "remove")
	if err != nil {
		return nil, err
	}
	n := t.Len()
	p, err := optNumber(args, 1, "remove", float64(n))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	pos := int(p)
	v := t.GetInt(pos)
	for i := pos; i < n; i++ {
		t.SetInt(i, t.GetInt(i+1))
	}
	t.SetInt(n, nil)
	return one(v), nil
}

func tabConcat(L *State, args []Value) ([]Value, error) {
	t, err := CheckTable(args, 0, "concat")
	if err != nil {
		return nil, err
	}
	sep := ""
	if arg(args, 1) != nil {
		if sep, err = CheckString(args, 1, "concat"); err != nil {
			return nil, err
		}
	}
	i, err := optNumber(args, 2, "concat", 1)
	if err != nil {
		return nil, err
	}
	j, err := optNumber(args, 3, "concat", float64(t.Len()))
	if err != nil {
		return nil, err
	}
	var parts []string
	for n := int(i); n <= int(j); n++ {
		s, ok := ToStringCoerce(t.GetInt(n))
		if !ok {
			return nil, fmt.Errorf("invalid value (at index %d) in table for 'concat'", n)
		}
		parts = append(parts, s)
	}
	return one(strings.Join(parts, sep)), nil
}

// ---------------------------------------------------------------------------
// coroutine
// ---------------------------------------------------------------------------

func coCreate(L *State, args []Value) ([]Value, error) {
	switch arg(args, 0).(type) {
	case *Closure, *NativeFunction:
		return one(L.NewThread(args[0])), nil
	}
	return nil, typeError(args, 0, "create", TypeFunction)
}

func coResume(L *State, args []Value) ([]Value, error) {
	co, err := checkCoroutine(args, 0, "resume")
	if err != nil {
		return nil, err
	}
	rets, err := L.Resume(co, args[1:])
	if err != nil {
		if IsClosing(err) {
			return nil, err
		}
		return []Value{false, ErrorValue(err)}, nil
	}
	return append([]Value{true}, rets...), nil
}

func coYield(L *State, args []Value) ([]Value, error) {
	return L.Yield(args)
}

func coStatus(L *State, args []Value) ([]Value, error) {
	co, err := checkCoroutine(args, 0, "status")
	if err != nil {
		return nil, err
	}
	return one(co.Status().String()), nil
}

func coRunning(L *State, args []Value) ([]Value, error) {
	co := L.CurrentCoroutine()
	if co == L.main {
		return one(nil), nil
	}
	return one(co), nil
}

func coWrap(L *State, args []Value) ([]Value, error) {
	rets, err := coCreate(L, args)
	if err != nil {
		return nil, err
	}
	co := rets[0].(*Coroutine)
	return one(NewNativeFunction("coroutine.wrap", func(L *State, args []Value) ([]Value, error) {
		rets, err := L.Resume(co, args)
		if err != nil {
			if IsClosing(err) {
				return nil, err
			}
			return nil, L.NewRuntimeError(ErrorValue(err))
		}
		return rets, nil
	})), nil
}

// ---------------------------------------------------------------------------
// math, os
// ---------------------------------------------------------------------------

func mathUnary(name string, fn func(float64) float64) NativeFn {
	return func(L *State, args []Value) ([]Value, error) {
		x, err := CheckNumber(args, 0, name)
		if err != nil {
			return nil, err
		}
		return one(fn(x)), nil
	}
}

func mathMax(L *State, args []Value) ([]Value, error) {
	m, err := CheckNumber(args, 0, "max")
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(args); i++ {
		x, err := CheckNumber(args, i, "max")
		if err != nil {
			return nil, err
		}
		m = math.Max(m, x)
	}
	return one(m), nil
}

func mathMin(L *State, args []Value) ([]Value, error) {
	m, err := CheckNumber(args, 0, "min")
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(args); i++ {
		x, err := CheckNumber(args, i, "min")
		if err != nil {
			return nil, err
		}
		m = math.Min(m, x)
	}
	return one(m), nil
}

func mathFmod(L *State, args []Value) ([]Value, error) {
	x, err := CheckNumber(args, 0, "fmod")
	if err != nil {
		return nil, err
	}
	y, err := CheckNumber(args, 1, "fmod")
	if err != nil {
		return nil, err
	}
	return one(math.Mod(x, y)), nil
}

var processStart = time.Now()

func osClock(L *State, args []Value) ([]Value, error) {
	return one(time.Since(processStart).Seconds()), nil
}
