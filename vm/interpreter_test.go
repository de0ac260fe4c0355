package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/gigfork/kahlua2/isa"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func proto(maxStack int, consts []Value, code ...isa.Instruction) *Prototype {
	lines := make([]int32, len(code))
	for i := range lines {
		lines[i] = int32(i + 1)
	}
	return &Prototype{
		Source:    "test",
		MaxStack:  maxStack,
		Constants: consts,
		Code:      code,
		LineInfo:  lines,
	}
}

func callProto(t *testing.T, L *State, p *Prototype, args ...Value) []Value {
	t.Helper()
	rets, err := L.Call(NewClosure(p, L.Globals()), args...)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	return rets
}

// ---------------------------------------------------------------------------
// Basic execution tests
// ---------------------------------------------------------------------------

func TestInterpreterLoadAndReturn(t *testing.T) {
	L := NewState()
	p := proto(3, []Value{"s", 2.5},
		isa.ABx(isa.OpLoadK, 0, 0),
		isa.ABx(isa.OpLoadK, 1, 1),
		isa.ABC(isa.OpLoadBool, 2, 1, 0),
		isa.ABC(isa.OpReturn, 0, 4, 0),
	)
	rets := callProto(t, L, p)
	want := []Value{"s", 2.5, true}
	if len(rets) != len(want) {
		t.Fatalf("rets = %v", rets)
	}
	for i := range want {
		if rets[i] != want[i] {
			t.Errorf("ret[%d] = %v, want %v", i, rets[i], want[i])
		}
	}
}

func TestInterpreterArithmetic(t *testing.T) {
	L := NewState()
	tests := []struct {
		op   isa.Opcode
		x, y Value
		want Value
	}{
		{isa.OpAdd, 1.0, 2.0, 3.0},
		{isa.OpSub, 1.0, 2.0, -1.0},
		{isa.OpMul, 3.0, 4.0, 12.0},
		{isa.OpDiv, 1.0, 4.0, 0.25},
		{isa.OpMod, 5.5, 2.0, 1.5},
		{isa.OpPow, 2.0, 8.0, 256.0},
		{isa.OpAdd, "1", 2.0, 3.0},
	}
	for _, tc := range tests {
		p := proto(2, []Value{tc.x, tc.y},
			isa.ABC(tc.op, 0, isa.RKAsK(0), isa.RKAsK(1)),
			isa.ABC(isa.OpReturn, 0, 2, 0),
		)
		rets := callProto(t, L, p)
		if rets[0] != tc.want {
			t.Errorf("%v %v %v = %v, want %v", tc.x, tc.op, tc.y, rets[0], tc.want)
		}
	}
}

func TestInterpreterParamsAndMove(t *testing.T) {
	L := NewState()
	p := proto(3, nil,
		isa.ABC(isa.OpMove, 2, 0, 0),
		isa.ABC(isa.OpAdd, 2, 2, 1),
		isa.ABC(isa.OpReturn, 2, 2, 0),
	)
	p.NumParams = 2
	rets := callProto(t, L, p, 40.0, 2.0, 99.0)
	if rets[0] != 42.0 {
		t.Errorf("result = %v, want 42", rets[0])
	}
}

func TestInterpreterNumericFor(t *testing.T) {
	// local s = 0; for i = 1, 10 do s = s + i end; return s
	L := NewState()
	p := proto(5, []Value{0.0, 1.0, 10.0},
		isa.ABx(isa.OpLoadK, 0, 0),
		isa.ABx(isa.OpLoadK, 1, 1),
		isa.ABx(isa.OpLoadK, 2, 2),
		isa.ABx(isa.OpLoadK, 3, 1),
		isa.AsBx(isa.OpForPrep, 1, 1),
		isa.ABC(isa.OpAdd, 0, 0, 4),
		isa.AsBx(isa.OpForLoop, 1, -2),
		isa.ABC(isa.OpReturn, 0, 2, 0),
	)
	rets := callProto(t, L, p)
	if rets[0] != 55.0 {
		t.Errorf("sum = %v, want 55", rets[0])
	}
}

func TestInterpreterTablesAndGlobals(t *testing.T) {
	L := NewState()
	// t = {}; t.k = 7; g = t.k; return g
	p := proto(2, []Value{"k", 7.0, "g"},
		isa.ABC(isa.OpNewTable, 0, 0, 1),
		isa.ABC(isa.OpSetTable, 0, isa.RKAsK(0), isa.RKAsK(1)),
		isa.ABC(isa.OpGetTable, 1, 0, isa.RKAsK(0)),
		isa.ABx(isa.OpSetGlobal, 1, 2),
		isa.ABx(isa.OpGetGlobal, 0, 2),
		isa.ABC(isa.OpReturn, 0, 2, 0),
	)
	rets := callProto(t, L, p)
	if rets[0] != 7.0 {
		t.Errorf("result = %v, want 7", rets[0])
	}
	if v := L.Globals().GetString("g"); v != 7.0 {
		t.Errorf("global g = %v", v)
	}
}

func TestInterpreterCallNative(t *testing.T) {
	L := NewState()
	var seen []Value
	L.Register("pair", func(L *State, args []Value) ([]Value, error) {
		seen = append([]Value(nil), args...)
		return []Value{"a", "b"}, nil
	})
	// return pair(1, 2)  with both results kept
	p := proto(3, []Value{"pair", 1.0, 2.0},
		isa.ABx(isa.OpGetGlobal, 0, 0),
		isa.ABx(isa.OpLoadK, 1, 1),
		isa.ABx(isa.OpLoadK, 2, 2),
		isa.ABC(isa.OpCall, 0, 3, 0),
		isa.ABC(isa.OpReturn, 0, 0, 0),
	)
	rets := callProto(t, L, p)
	if len(seen) != 2 || seen[0] != 1.0 || seen[1] != 2.0 {
		t.Errorf("native saw %v", seen)
	}
	if len(rets) != 2 || rets[0] != "a" || rets[1] != "b" {
		t.Errorf("rets = %v", rets)
	}
}

func TestInterpreterClosureUpvalues(t *testing.T) {
	L := NewState()
	// inner: upvalue[0] = upvalue[0] + 1; return upvalue[0]
	inner := proto(2, []Value{1.0},
		isa.ABC(isa.OpGetUpval, 0, 0, 0),
		isa.ABC(isa.OpAdd, 0, 0, isa.RKAsK(0)),
		isa.ABC(isa.OpSetUpval, 0, 0, 0),
		isa.ABC(isa.OpReturn, 0, 2, 0),
	)
	inner.NumUpvalues = 1
	// local n = 10; local f = closure(inner, n); f(); return f(), n
	outer := proto(4, []Value{10.0},
		isa.ABx(isa.OpLoadK, 0, 0),
		isa.ABx(isa.OpClosure, 1, 0),
		isa.ABC(isa.OpMove, 0, 0, 0),
		isa.ABC(isa.OpMove, 2, 1, 0),
		isa.ABC(isa.OpCall, 2, 1, 1),
		isa.ABC(isa.OpMove, 2, 1, 0),
		isa.ABC(isa.OpCall, 2, 1, 2),
		isa.ABC(isa.OpMove, 3, 0, 0),
		isa.ABC(isa.OpReturn, 2, 3, 0),
	)
	outer.Protos = []*Prototype{inner}
	rets := callProto(t, L, outer)
	if rets[0] != 12.0 || rets[1] != 12.0 {
		t.Errorf("rets = %v, want [12 12]", rets)
	}
}

func TestInterpreterConcatAndLen(t *testing.T) {
	L := NewState()
	p := proto(4, []Value{"ab", 3.0},
		isa.ABx(isa.OpLoadK, 1, 0),
		isa.ABx(isa.OpLoadK, 2, 1),
		isa.ABC(isa.OpConcat, 0, 1, 2),
		isa.ABC(isa.OpLen, 3, 0, 0),
		isa.ABC(isa.OpReturn, 0, 5, 0),
	)
	rets := callProto(t, L, p)
	if len(rets) != 4 || rets[0] != "ab3" || rets[3] != 3.0 {
		t.Errorf("rets = %v", rets)
	}
}

func TestSetListToTopWithoutValues(t *testing.T) {
	L := NewState()
	p := proto(2, nil,
		isa.ABC(isa.OpNewTable, 0, 0, 0),
		isa.ABC(isa.OpSetList, 0, 0, 1),
		isa.ABC(isa.OpLen, 1, 0, 0),
		isa.ABC(isa.OpReturn, 1, 2, 0),
	)
	rets := callProto(t, L, p)
	if len(rets) != 1 || rets[0] != 0.0 {
		t.Errorf("rets = %v", rets)
	}
}

func TestToTop(t *testing.T) {
	f := &CallFrame{Regs: []Value{1.0, 2.0, 3.0}, Top: 3}
	if got := f.ToTop(1); len(got) != 2 || got[0] != 2.0 {
		t.Errorf("ToTop(1) = %v", got)
	}
	f.Top = 0
	if got := f.ToTop(1); len(got) != 0 {
		t.Errorf("stale Top: ToTop(1) = %v", got)
	}
	if got := f.CallArgs(1, 0); len(got) != 0 {
		t.Errorf("stale Top: CallArgs = %v", got)
	}
	if got := f.ReturnValues(1, 0); got != nil {
		t.Errorf("stale Top: ReturnValues = %v", got)
	}
}

func TestInterpreterVarargs(t *testing.T) {
	L := NewState()
	p := proto(2, nil,
		isa.ABC(isa.OpVararg, 0, 0, 0),
		isa.ABC(isa.OpReturn, 0, 0, 0),
	)
	p.NumParams = 1
	p.IsVararg = true
	rets := callProto(t, L, p, "fixed", 1.0, 2.0, 3.0)
	if len(rets) != 3 || rets[2] != 3.0 {
		t.Errorf("rets = %v", rets)
	}
}

func TestInterpreterSetList(t *testing.T) {
	L := NewState()
	p := proto(4, []Value{"a", "b", "c"},
		isa.ABC(isa.OpNewTable, 0, 3, 0),
		isa.ABx(isa.OpLoadK, 1, 0),
		isa.ABx(isa.OpLoadK, 2, 1),
		isa.ABx(isa.OpLoadK, 3, 2),
		isa.ABC(isa.OpSetList, 0, 3, 1),
		isa.ABC(isa.OpReturn, 0, 2, 0),
	)
	tbl := callProto(t, L, p)[0].(*Table)
	if tbl.Len() != 3 || tbl.GetInt(2) != "b" {
		t.Errorf("table len %d, t[2] = %v", tbl.Len(), tbl.GetInt(2))
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestInterpreterRuntimeErrorPosition(t *testing.T) {
	L := NewState()
	p := proto(2, []Value{"x"},
		isa.ABC(isa.OpLoadNil, 0, 0, 0),
		isa.ABC(isa.OpGetTable, 1, 0, isa.RKAsK(0)),
		isa.ABC(isa.OpReturn, 1, 2, 0),
	)
	_, err := L.Call(NewClosure(p, L.Globals()))
	var re *RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RuntimeError", err)
	}
	if re.Value != "test:2: attempt to index a nil value" {
		t.Errorf("message = %q", re.Value)
	}
	if !strings.Contains(re.Traceback, "test:2: in main chunk") {
		t.Errorf("traceback = %q", re.Traceback)
	}
	if L.CurrentCoroutine().Top() != 0 {
		t.Errorf("frames left on the stack: %d", L.CurrentCoroutine().Top())
	}
}

func TestInterpreterStackOverflow(t *testing.T) {
	L := NewState()
	// function f() return 1 + f() end
	p := proto(3, []Value{"f", 1.0},
		isa.ABx(isa.OpGetGlobal, 0, 0),
		isa.ABC(isa.OpCall, 0, 1, 2),
		isa.ABC(isa.OpAdd, 0, isa.RKAsK(1), 0),
		isa.ABC(isa.OpReturn, 0, 2, 0),
	)
	cl := NewClosure(p, L.Globals())
	L.Globals().SetString("f", cl)
	_, err := L.Call(cl)
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v, want stack overflow", err)
	}
}

func TestInterpreterCallNonFunction(t *testing.T) {
	L := NewState()
	p := proto(2, nil,
		isa.ABC(isa.OpLoadBool, 0, 1, 0),
		isa.ABC(isa.OpCall, 0, 1, 1),
		isa.ABC(isa.OpReturn, 0, 1, 0),
	)
	_, err := L.Call(NewClosure(p, L.Globals()))
	if got := ErrorValue(err); got != "test:2: attempt to call a boolean value" {
		t.Errorf("error = %v", got)
	}
}

func TestTailCallReusesFrame(t *testing.T) {
	L := NewState()
	var depth int
	L.Register("depth", func(L *State, args []Value) ([]Value, error) {
		depth = L.CurrentCoroutine().Top()
		return nil, nil
	})
	// leaf: depth()
	leaf := proto(2, []Value{"depth"},
		isa.ABx(isa.OpGetGlobal, 0, 0),
		isa.ABC(isa.OpCall, 0, 1, 1),
		isa.ABC(isa.OpReturn, 0, 1, 0),
	)
	// caller: return leaf()
	caller := proto(2, []Value{"leaf"},
		isa.ABx(isa.OpGetGlobal, 0, 0),
		isa.ABC(isa.OpTailCall, 0, 1, 0),
		isa.ABC(isa.OpReturn, 0, 0, 0),
	)
	L.Globals().SetString("leaf", NewClosure(leaf, L.Globals()))
	callProto(t, L, caller)
	if depth != 2 {
		t.Errorf("frames during leaf = %d, want 2 (leaf + native)", depth)
	}
}

func TestPCallRecoversPanics(t *testing.T) {
	L := NewState()
	L.Register("boom", func(L *State, args []Value) ([]Value, error) {
		panic("kaboom")
	})
	_, err := L.PCall(L.Globals().GetString("boom"), nil)
	if err == nil || !strings.Contains(err.Error(), "internal error: kaboom") {
		t.Errorf("err = %v", err)
	}
	if L.CurrentCoroutine().Top() != 0 {
		t.Errorf("frames left: %d", L.CurrentCoroutine().Top())
	}
}
