package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a guest value. The dynamic type is always one of:
//
//	nil               nil
//	bool              boolean
//	float64           number
//	string            string
//	*Table            table
//	*Closure          guest function
//	*NativeFunction   host function
//	*Coroutine        thread
//	*Userdata         opaque host value
//
// Numbers are always float64, which is also the representation constant
// loads and arithmetic produce; code that builds values by hand must not use
// other numeric types.
type Value any

// Type is the guest-visible type of a value.
type Type uint8

const (
	TypeNil Type = iota
	TypeBoolean
	TypeNumber
	TypeString
	TypeTable
	TypeFunction
	TypeThread
	TypeUserdata
)

var typeNames = [...]string{
	TypeNil:      "nil",
	TypeBoolean:  "boolean",
	TypeNumber:   "number",
	TypeString:   "string",
	TypeTable:    "table",
	TypeFunction: "function",
	TypeThread:   "thread",
	TypeUserdata: "userdata",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// TypeOf returns the guest type of v.
func TypeOf(v Value) Type {
	switch v.(type) {
	case nil:
		return TypeNil
	case bool:
		return TypeBoolean
	case float64:
		return TypeNumber
	case string:
		return TypeString
	case *Table:
		return TypeTable
	case *Closure, *NativeFunction:
		return TypeFunction
	case *Coroutine:
		return TypeThread
	default:
		return TypeUserdata
	}
}

// Userdata wraps an arbitrary host value so it can travel through guest code.
type Userdata struct {
	Value any
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// Truthy reports whether v counts as true in a condition: everything except
// nil and false.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	}
	return true
}

// ToNumber converts v to a number, accepting numeric strings.
func ToNumber(v Value) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case string:
		return ParseNumber(v)
	}
	return 0, false
}

// ParseNumber parses a numeric literal the way the guest language does:
// decimal with optional exponent, or hexadecimal with a 0x prefix.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	body := s
	if body[0] == '-' || body[0] == '+' {
		neg = body[0] == '-'
		body = body[1:]
	}
	if len(body) > 2 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X') {
		n, err := strconv.ParseUint(body[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		f := float64(n)
		if neg {
			f = -f
		}
		return f, true
	}
	// strconv accepts "inf", "nan" and underscores; the guest grammar does not.
	for _, r := range body {
		if !(r >= '0' && r <= '9' || r == '.' || r == 'e' || r == 'E' || r == '+' || r == '-') {
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToStringCoerce converts strings and numbers to a string, as concatenation
// does.
func ToStringCoerce(v Value) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case float64:
		return FormatNumber(v), true
	}
	return "", false
}

// FormatNumber renders a number with 14 significant digits.
func FormatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', 14, 64)
}

// Tostring renders any value the way the tostring builtin does.
func Tostring(v Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return FormatNumber(v)
	case string:
		return v
	case *Table:
		return fmt.Sprintf("table: %p", v)
	case *Closure:
		return fmt.Sprintf("function: %p", v)
	case *NativeFunction:
		return fmt.Sprintf("function: builtin: %s", v.Name)
	case *Coroutine:
		return fmt.Sprintf("thread: %p", v)
	case *Userdata:
		return fmt.Sprintf("userdata: %p", v)
	}
	return fmt.Sprintf("userdata: %v", v)
}

// RawEqual compares two values without coercion.
func RawEqual(a, b Value) bool {
	switch a := a.(type) {
	case float64:
		b, ok := b.(float64)
		return ok && a == b
	case string:
		b, ok := b.(string)
		return ok && a == b
	}
	return a == b
}

// IsConstant reports whether v may appear in a prototype's constant pool.
func IsConstant(v Value) bool {
	switch v.(type) {
	case nil, bool, float64, string:
		return true
	}
	return false
}
