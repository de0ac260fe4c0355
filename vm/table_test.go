package vm

import (
	"errors"
	"math"
	"testing"
)

func TestTableArrayPart(t *testing.T) {
	tbl := NewTable(4, 0)
	for i := 1; i <= 5; i++ {
		tbl.SetInt(i, float64(i*10))
	}
	if tbl.ArrayLen() != 5 {
		t.Errorf("ArrayLen = %d, want 5", tbl.ArrayLen())
	}
	if tbl.Len() != 5 {
		t.Errorf("Len = %d, want 5", tbl.Len())
	}
	if v := tbl.Get(3.0); v != 30.0 {
		t.Errorf("t[3] = %v", v)
	}
	tbl.SetInt(5, nil)
	if tbl.Len() != 4 {
		t.Errorf("Len after clearing tail = %d, want 4", tbl.Len())
	}
}

func TestTableMigratesHashKeys(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.SetInt(3, "c")
	tbl.SetInt(2, "b")
	if tbl.ArrayLen() != 0 {
		t.Fatalf("ArrayLen = %d before key 1 exists", tbl.ArrayLen())
	}
	tbl.SetInt(1, "a")
	if tbl.ArrayLen() != 3 {
		t.Errorf("ArrayLen = %d, want 3", tbl.ArrayLen())
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := tbl.GetInt(i + 1); got != want {
			t.Errorf("t[%d] = %v, want %s", i+1, got, want)
		}
	}
}

func TestTableKeys(t *testing.T) {
	tbl := NewTable(0, 0)
	if err := tbl.Set(nil, 1.0); !errors.Is(err, ErrNilIndex) {
		t.Errorf("Set(nil) err = %v", err)
	}
	if err := tbl.Set(math.NaN(), 1.0); !errors.Is(err, ErrNaNIndex) {
		t.Errorf("Set(NaN) err = %v", err)
	}
	if err := tbl.Set(math.Copysign(0, -1), "zero"); err != nil {
		t.Fatal(err)
	}
	if v := tbl.Get(0.0); v != "zero" {
		t.Errorf("t[0] = %v, want zero (-0 and 0 are one key)", v)
	}
	tbl.SetString("name", "x")
	if v := tbl.Get("name"); v != "x" {
		t.Errorf("t.name = %v", v)
	}
	if v := tbl.Get(1.5); v != nil {
		t.Errorf("t[1.5] = %v, want nil", v)
	}
	tbl.SetString("name", nil)
	if v := tbl.GetString("name"); v != nil {
		t.Errorf("t.name after delete = %v", v)
	}
}

func TestTableNext(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Append("one")
	tbl.Append("two")
	tbl.SetString("x", 1.0)
	tbl.SetString("y", 2.0)
	tbl.SetString("z", 3.0)

	var keys []Value
	var k Value
	for {
		var err error
		k, _, err = tbl.Next(k)
		if err != nil {
			t.Fatal(err)
		}
		if k == nil {
			break
		}
		keys = append(keys, k)
		if k == "y" {
			// Clearing the current field during traversal is allowed.
			tbl.SetString("y", nil)
		}
	}
	want := []Value{1.0, 2.0, "x", "y", "z"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %v, want %v", i, keys[i], want[i])
		}
	}

	if _, _, err := tbl.Next("missing"); err == nil {
		t.Error("Next(missing) succeeded")
	}
}

func TestTableCompaction(t *testing.T) {
	tbl := NewTable(0, 0)
	for i := 0; i < 100; i++ {
		tbl.SetString(string(rune('a'+i%26))+string(rune('A'+i/26)), float64(i))
	}
	for i := 0; i < 90; i++ {
		tbl.SetString(string(rune('a'+i%26))+string(rune('A'+i/26)), nil)
	}
	tbl.SetString("fresh", true)
	n := 0
	for k, _, _ := tbl.Next(nil); k != nil; k, _, _ = tbl.Next(k) {
		n++
	}
	if n != 11 {
		t.Errorf("live keys = %d, want 11", n)
	}
}

func TestTableLenHashOnly(t *testing.T) {
	tbl := NewTable(0, 4)
	if tbl.Len() != 0 {
		t.Errorf("empty Len = %d", tbl.Len())
	}
	_ = tbl.Set(2.0, "b")
	if tbl.Len() != 0 {
		t.Errorf("Len with hole at 1 = %d, want 0", tbl.Len())
	}
}
