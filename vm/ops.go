package vm

import (
	"math"
	"strings"

	"github.com/gigfork/kahlua2/isa"
)

// ---------------------------------------------------------------------------
// Operations shared by the interpreter and generated code
// ---------------------------------------------------------------------------
//
// Both execution paths report failures through these helpers so a program
// fails with the same message whichever way it runs.

// Arith applies an arithmetic opcode (ADD, SUB, MUL, DIV, MOD, POW) to a
// and b, coercing numeric strings.
func Arith(L *State, op isa.Opcode, a, b Value) (Value, error) {
	x, ok1 := ToNumber(a)
	y, ok2 := ToNumber(b)
	if !ok1 || !ok2 {
		bad := a
		if ok1 {
			bad = b
		}
		return nil, L.RuntimeErrorf("attempt to perform arithmetic on a %s value", TypeOf(bad))
	}
	return ArithNumbers(op, x, y), nil
}

// ArithNumbers is Arith on operands already known to be numbers.
func ArithNumbers(op isa.Opcode, x, y float64) float64 {
	switch op {
	case isa.OpAdd:
		return x + y
	case isa.OpSub:
		return x - y
	case isa.OpMul:
		return x * y
	case isa.OpDiv:
		return x / y
	case isa.OpMod:
		return x - math.Floor(x/y)*y
	case isa.OpPow:
		return math.Pow(x, y)
	}
	panic("ArithNumbers: not an arithmetic opcode: " + op.String())
}

// Unm negates a.
func Unm(L *State, a Value) (Value, error) {
	x, ok := ToNumber(a)
	if !ok {
		return nil, L.RuntimeErrorf("attempt to perform arithmetic on a %s value", TypeOf(a))
	}
	return -x, nil
}

// Len implements the # operator.
func Len(L *State, a Value) (Value, error) {
	switch a := a.(type) {
	case string:
		return float64(len(a)), nil
	case *Table:
		return float64(a.Len()), nil
	}
	return nil, L.RuntimeErrorf("attempt to get length of a %s value", TypeOf(a))
}

// Concat joins vals with the .. operator.
func Concat(L *State, vals []Value) (Value, error) {
	var b strings.Builder
	for _, v := range vals {
		s, ok := ToStringCoerce(v)
		if !ok {
			return nil, L.RuntimeErrorf("attempt to concatenate a %s value", TypeOf(v))
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// Equal implements ==. There are no metatables, so it is raw equality.
func Equal(a, b Value) bool {
	return RawEqual(a, b)
}

// LessThan implements <.
func LessThan(L *State, a, b Value) (bool, error) {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return x < y, nil
		}
	case string:
		if y, ok := b.(string); ok {
			return x < y, nil
		}
	}
	return false, compareError(L, a, b)
}

// LessEqual implements <=.
func LessEqual(L *State, a, b Value) (bool, error) {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return x <= y, nil
		}
	case string:
		if y, ok := b.(string); ok {
			return x <= y, nil
		}
	}
	return false, compareError(L, a, b)
}

func compareError(L *State, a, b Value) error {
	ta, tb := TypeOf(a), TypeOf(b)
	if ta == tb {
		return L.RuntimeErrorf("attempt to compare two %s values", ta)
	}
	return L.RuntimeErrorf("attempt to compare %s with %s", ta, tb)
}

// GetTable implements obj[key]. Strings index the string library.
func GetTable(L *State, obj, key Value) (Value, error) {
	switch o := obj.(type) {
	case *Table:
		return o.Get(key), nil
	case string:
		if L.strings != nil {
			return L.strings.Get(key), nil
		}
	}
	return nil, L.RuntimeErrorf("attempt to index a %s value", TypeOf(obj))
}

// SetTable implements obj[key] = val.
func SetTable(L *State, obj, key, val Value) error {
	t, ok := obj.(*Table)
	if !ok {
		return L.RuntimeErrorf("attempt to index a %s value", TypeOf(obj))
	}
	if err := t.Set(key, val); err != nil {
		return L.RuntimeErrorf("%s", err)
	}
	return nil
}

// ForPrep checks and converts the control values of a numeric for loop.
func ForPrep(L *State, init, limit, step Value) (float64, float64, float64, error) {
	i, ok := ToNumber(init)
	if !ok {
		return 0, 0, 0, L.RuntimeErrorf("'for' initial value must be a number")
	}
	l, ok := ToNumber(limit)
	if !ok {
		return 0, 0, 0, L.RuntimeErrorf("'for' limit must be a number")
	}
	s, ok := ToNumber(step)
	if !ok {
		return 0, 0, 0, L.RuntimeErrorf("'for' step must be a number")
	}
	return i, l, s, nil
}

// ForContinue reports whether a numeric for loop with the given step runs
// another iteration at idx.
func ForContinue(idx, limit, step float64) bool {
	if step > 0 {
		return idx <= limit
	}
	return idx >= limit
}

// SetList stores vals into t starting at array index (batch-1)*FieldsPerFlush+1.
func SetList(L *State, obj Value, batch int, vals []Value) error {
	t, ok := obj.(*Table)
	if !ok {
		return L.RuntimeErrorf("attempt to index a %s value", TypeOf(obj))
	}
	if batch == 0 {
		return L.RuntimeErrorf("table constructor too large")
	}
	base := (batch - 1) * isa.FieldsPerFlush
	for i, v := range vals {
		t.SetInt(base+i+1, v)
	}
	return nil
}
