package vm

import (
	"errors"
	"math"
)

var (
	// ErrNilIndex is returned when nil is used as a table key.
	ErrNilIndex = errors.New("table index is nil")
	// ErrNaNIndex is returned when NaN is used as a table key.
	ErrNaNIndex = errors.New("table index is NaN")
)

// Table is the guest associative array. Keys 1..n with n = len(array) live
// in the array part; every other key lives in the hash part, which keeps
// insertion order so that traversal with Next is stable.
type Table struct {
	array []Value

	hash  map[Value]Value
	keys  []Value       // hash keys in insertion order, including dead ones
	index map[Value]int // position of each key in keys
	dead  int           // keys whose value was set to nil
}

// NewTable creates a table with preallocated array and hash capacity.
func NewTable(narray, nhash int) *Table {
	t := &Table{}
	if narray > 0 {
		t.array = make([]Value, 0, narray)
	}
	if nhash > 0 {
		t.hash = make(map[Value]Value, nhash)
		t.index = make(map[Value]int, nhash)
	}
	return t
}

// normalizeKey maps float keys with integral values to a canonical form and
// rejects keys the guest language forbids.
func normalizeKey(k Value) (Value, error) {
	switch kk := k.(type) {
	case nil:
		return nil, ErrNilIndex
	case float64:
		if math.IsNaN(kk) {
			return nil, ErrNaNIndex
		}
		if kk == 0 {
			return float64(0), nil // fold -0 into 0
		}
	}
	return k, nil
}

// arrayIndex returns the 0-based array slot for k, or -1.
func (t *Table) arrayIndex(k Value) int {
	f, ok := k.(float64)
	if !ok || f < 1 || f != math.Trunc(f) || f > float64(len(t.array)) {
		return -1
	}
	return int(f) - 1
}

// Get returns t[k] without metamethods. Missing keys yield nil.
func (t *Table) Get(k Value) Value {
	if i := t.arrayIndex(k); i >= 0 {
		return t.array[i]
	}
	if t.hash == nil {
		return nil
	}
	if f, ok := k.(float64); ok && f == 0 {
		k = float64(0)
	}
	return t.hash[k]
}

// GetString is Get specialised for string keys.
func (t *Table) GetString(k string) Value {
	if t.hash == nil {
		return nil
	}
	return t.hash[k]
}

// GetInt is Get specialised for integer keys.
func (t *Table) GetInt(i int) Value {
	if i >= 1 && i <= len(t.array) {
		return t.array[i-1]
	}
	return t.Get(float64(i))
}

// Set assigns t[k] = v without metamethods. Assigning nil removes the key.
func (t *Table) Set(k, v Value) error {
	k, err := normalizeKey(k)
	if err != nil {
		return err
	}
	if i := t.arrayIndex(k); i >= 0 {
		t.array[i] = v
		if v == nil && i == len(t.array)-1 {
			t.shrinkArray()
		}
		return nil
	}
	if f, ok := k.(float64); ok && f == float64(len(t.array)+1) {
		if v == nil {
			t.setHash(k, nil)
			return nil
		}
		t.array = append(t.array, v)
		t.setHash(k, nil)
		t.migrate()
		return nil
	}
	t.setHash(k, v)
	return nil
}

// SetString is Set specialised for string keys.
func (t *Table) SetString(k string, v Value) {
	t.setHash(k, v)
}

// SetInt is Set specialised for integer keys.
func (t *Table) SetInt(i int, v Value) {
	_ = t.Set(float64(i), v)
}

// Append stores v at index Len()+1.
func (t *Table) Append(v Value) {
	t.SetInt(t.Len()+1, v)
}

func (t *Table) setHash(k, v Value) {
	if v == nil {
		if t.hash == nil {
			return
		}
		if _, ok := t.hash[k]; ok {
			delete(t.hash, k)
			t.dead++
		}
		return
	}
	if t.hash == nil {
		t.hash = make(map[Value]Value)
		t.index = make(map[Value]int)
	}
	if _, ok := t.index[k]; !ok {
		if t.dead > 16 && t.dead > len(t.keys)/2 {
			t.compact()
		}
		t.index[k] = len(t.keys)
		t.keys = append(t.keys, k)
	}
	t.hash[k] = v
}

// compact drops dead keys from the insertion order.
func (t *Table) compact() {
	live := t.keys[:0]
	for _, k := range t.keys {
		if _, ok := t.hash[k]; ok {
			t.index[k] = len(live)
			live = append(live, k)
		} else {
			delete(t.index, k)
		}
	}
	clear(t.keys[len(live):])
	t.keys = live
	t.dead = 0
}

// migrate moves keys n+1, n+2, ... from the hash part to the array part after
// the array grew.
func (t *Table) migrate() {
	if t.hash == nil {
		return
	}
	for {
		k := float64(len(t.array) + 1)
		v, ok := t.hash[k]
		if !ok {
			return
		}
		t.array = append(t.array, v)
		delete(t.hash, k)
		t.dead++
	}
}

func (t *Table) shrinkArray() {
	n := len(t.array)
	for n > 0 && t.array[n-1] == nil {
		n--
	}
	clear(t.array[n:])
	t.array = t.array[:n]
}

// Len returns a border of the table: an index n with t[n] ~= nil and
// t[n+1] == nil (or 0 if t[1] is nil).
func (t *Table) Len() int {
	n := len(t.array)
	if n > 0 {
		return n
	}
	if t.hash == nil {
		return 0
	}
	for {
		if _, ok := t.hash[float64(n+1)]; !ok {
			return n
		}
		n++
	}
}

// Next returns the key/value pair following key in traversal order, starting
// with the array part. A nil key starts the traversal; a nil returned key
// ends it.
func (t *Table) Next(key Value) (Value, Value, error) {
	start := 0
	if key != nil {
		if i := t.arrayIndex(key); i >= 0 {
			start = i + 1
		} else {
			k, err := normalizeKey(key)
			if err != nil {
				return nil, nil, err
			}
			pos, ok := t.index[k]
			if !ok {
				return nil, nil, errors.New("invalid key to 'next'")
			}
			start = len(t.array) + pos + 1
		}
	}
	for i := start; i < len(t.array); i++ {
		if t.array[i] != nil {
			return float64(i + 1), t.array[i], nil
		}
	}
	for i := max(start-len(t.array), 0); i < len(t.keys); i++ {
		k := t.keys[i]
		if v, ok := t.hash[k]; ok {
			return k, v, nil
		}
	}
	return nil, nil, nil
}

// ArrayLen returns the size of the array part.
func (t *Table) ArrayLen() int {
	return len(t.array)
}
