package isa

import "testing"

func TestABCRoundTrip(t *testing.T) {
	tests := []struct {
		op      Opcode
		a, b, c int
	}{
		{OpMove, 0, 1, 0},
		{OpAdd, 3, RKAsK(7), 2},
		{OpSetTable, MaxArgA, MaxArgB, MaxArgC},
		{OpCall, 1, 0, 0},
	}

	for _, tt := range tests {
		i := ABC(tt.op, tt.a, tt.b, tt.c)
		if i.Op() != tt.op || i.A() != tt.a || i.B() != tt.b || i.C() != tt.c {
			t.Errorf("ABC(%v, %d, %d, %d) decoded as %v %d %d %d",
				tt.op, tt.a, tt.b, tt.c, i.Op(), i.A(), i.B(), i.C())
		}
	}
}

func TestBxAndSBx(t *testing.T) {
	i := ABx(OpLoadK, 4, 1000)
	if i.Op() != OpLoadK || i.A() != 4 || i.Bx() != 1000 {
		t.Errorf("ABx decoded as %v %d %d", i.Op(), i.A(), i.Bx())
	}

	for _, sbx := range []int{0, 1, -1, MaxArgSBx, -MaxArgSBx} {
		j := AsBx(OpJmp, 0, sbx)
		if j.SBx() != sbx {
			t.Errorf("AsBx(%d).SBx() = %d", sbx, j.SBx())
		}
	}
}

func TestPatchOperands(t *testing.T) {
	i := AsBx(OpJmp, 0, 0).WithSBx(-5)
	if i.Op() != OpJmp || i.SBx() != -5 {
		t.Errorf("WithSBx: got %v %d", i.Op(), i.SBx())
	}

	j := ABC(OpCall, 1, 2, 3).WithA(9).WithB(8).WithC(7)
	if j.A() != 9 || j.B() != 8 || j.C() != 7 || j.Op() != OpCall {
		t.Errorf("With*: got %v %d %d %d", j.Op(), j.A(), j.B(), j.C())
	}
}

func TestRK(t *testing.T) {
	if IsK(MaxIndexRK) {
		t.Error("register index should not be a constant")
	}
	k := RKAsK(12)
	if !IsK(k) || IndexK(k) != 12 {
		t.Errorf("RKAsK(12) = %d, IsK=%v IndexK=%d", k, IsK(k), IndexK(k))
	}
}

func TestInstructionString(t *testing.T) {
	if got, want := ABC(OpAdd, 0, 1, RKAsK(2)).String(), "ADD       0 1 K2"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := AsBx(OpJmp, 0, -3).String(), "JMP       0 -3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
