package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/gigfork/kahlua2/isa"
)

func sampleProto() *Prototype {
	child := &Prototype{
		Name:        "inc",
		Source:      "t",
		LineDefined: 2, LastLineDefined: 4,
		NumParams: 1, MaxStack: 2, NumUpvalues: 0,
		Code: []isa.Instruction{
			isa.ABC(isa.OpAdd, 0, 0, isa.RKAsK(0)),
			isa.ABC(isa.OpReturn, 0, 2, 0),
		},
		Constants: []Value{1.0},
		LineInfo:  []int32{3, 3},
	}
	return &Prototype{
		Name:     "main chunk",
		Source:   "t",
		IsVararg: true,
		MaxStack: 2,
		Code: []isa.Instruction{
			isa.ABx(isa.OpClosure, 0, 0),
			isa.ABx(isa.OpLoadK, 1, 0),
			isa.ABC(isa.OpTailCall, 0, 2, 0),
			isa.ABC(isa.OpReturn, 0, 0, 0),
		},
		Constants: []Value{41.0, "s", true, nil},
		Protos:    []*Prototype{child},
		LineInfo:  []int32{4, 5, 5, 5},
	}
}

func TestChunkRoundTrip(t *testing.T) {
	p := sampleProto()
	var buf bytes.Buffer
	if err := Dump(p, &buf); err != nil {
		t.Fatal(err)
	}
	if !IsBinaryChunk(buf.Bytes()) {
		t.Fatal("dump lacks signature")
	}
	q, err := Undump(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if Disassemble(p) != Disassemble(q) {
		t.Errorf("round trip changed prototype:\n%s\n---\n%s", Disassemble(p), Disassemble(q))
	}
	if len(q.Constants) != 4 || q.Constants[1] != "s" || q.Constants[2] != true || q.Constants[3] != nil {
		t.Errorf("constants = %v", q.Constants)
	}

	L := NewState()
	defer L.Close()
	rets := callProto(t, L, q)
	if len(rets) != 1 || rets[0] != 42.0 {
		t.Errorf("undumped chunk returned %v", rets)
	}
}

func TestUndumpRejects(t *testing.T) {
	if _, err := UndumpBytes([]byte("return 1")); err == nil || !strings.Contains(err.Error(), "bad signature") {
		t.Errorf("plain source err = %v", err)
	}

	data, err := cbor.Marshal(&chunkHeader{Version: isa.Version + 1, Main: dumpProto(sampleProto())})
	if err != nil {
		t.Fatal(err)
	}
	_, err = UndumpBytes(append([]byte(ChunkSignature), data...))
	if !errors.Is(err, ErrChunkVersion) {
		t.Errorf("version mismatch err = %v", err)
	}

	bad := sampleProto()
	bad.Code[0] = isa.ABx(isa.OpClosure, 0, 5)
	var buf bytes.Buffer
	if err := Dump(bad, &buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Undump(&buf); err == nil {
		t.Error("undump accepted a prototype with a bad CLOSURE index")
	}
}

func TestUndumpRejectsBadOperands(t *testing.T) {
	ret := isa.ABC(isa.OpReturn, 0, 1, 0)
	withUpvalue := &Prototype{Source: "c", MaxStack: 1, NumUpvalues: 1, Code: []isa.Instruction{ret}}
	tests := []struct {
		name  string
		proto *Prototype
		want  string
	}{
		{"move source", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpMove, 0, 200, 0), ret}}, "register 200 out of range"},
		{"move target", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpMove, 2, 0, 0), ret}}, "register 2 out of range"},
		{"loadnil end", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpLoadNil, 0, 7, 0), ret}}, "register 7 out of range"},
		{"gettable object", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpGetTable, 0, 9, 1), ret}}, "register 9 out of range"},
		{"self method slot", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpSelf, 1, 0, 0), ret}}, "register 2 out of range"},
		{"concat range", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpConcat, 0, 0, 4), ret}}, "register 4 out of range"},
		{"concat empty", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpConcat, 0, 1, 0), ret}}, "empty register range"},
		{"rk register", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpAdd, 0, 5, 0), ret}}, "register 5 out of range"},
		{"rk constant", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpEq, 0, isa.RKAsK(3), 0), isa.AsBx(isa.OpJmp, 0, 0), ret}}, "constant 3 out of range"},
		{"getupval", &Prototype{MaxStack: 1, Code: []isa.Instruction{isa.ABC(isa.OpGetUpval, 0, 3, 0), ret}}, "upvalue 3 out of range"},
		{"setupval", &Prototype{MaxStack: 1, NumUpvalues: 1, Code: []isa.Instruction{isa.ABC(isa.OpSetUpval, 0, 1, 0), ret}}, "upvalue 1 out of range"},
		{"setlist values", &Prototype{MaxStack: 2, Code: []isa.Instruction{isa.ABC(isa.OpSetList, 0, 3, 1), ret}}, "register 3 out of range"},
		{"test without jump", &Prototype{MaxStack: 1, Code: []isa.Instruction{isa.ABC(isa.OpTest, 0, 0, 1)}}, "jump target 2 out of range"},
		{"forloop registers", &Prototype{MaxStack: 3, Code: []isa.Instruction{isa.AsBx(isa.OpForPrep, 0, 0), ret}}, "register 3 out of range"},
		{"params", &Prototype{MaxStack: 1, NumParams: 2, Code: []isa.Instruction{ret}}, "2 parameters"},
		{"capture missing", &Prototype{MaxStack: 1, Protos: []*Prototype{withUpvalue},
			Code: []isa.Instruction{isa.ABx(isa.OpClosure, 0, 0)}}, "upvalue captures missing"},
		{"capture opcode", &Prototype{MaxStack: 1, Protos: []*Prototype{withUpvalue},
			Code: []isa.Instruction{isa.ABx(isa.OpClosure, 0, 0), isa.ABx(isa.OpLoadK, 0, 0), ret}}, "captured by LOADK"},
		{"capture register", &Prototype{MaxStack: 1, Protos: []*Prototype{withUpvalue},
			Code: []isa.Instruction{isa.ABx(isa.OpClosure, 0, 0), isa.ABC(isa.OpMove, 0, 4, 0), ret}}, "register 4 out of range"},
		{"capture upvalue", &Prototype{MaxStack: 1, Protos: []*Prototype{withUpvalue},
			Code: []isa.Instruction{isa.ABx(isa.OpClosure, 0, 0), isa.ABC(isa.OpGetUpval, 0, 0, 0), ret}}, "upvalue 0 out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.proto.Source = "bad"
			var buf bytes.Buffer
			if err := Dump(tt.proto, &buf); err != nil {
				t.Fatal(err)
			}
			_, err := Undump(&buf)
			if err == nil {
				t.Fatal("undump accepted the chunk")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}

	// Captures are operands of CLOSURE, not instructions in their own right.
	ok := &Prototype{Source: "ok", MaxStack: 1, Protos: []*Prototype{withUpvalue},
		Code: []isa.Instruction{isa.ABx(isa.OpClosure, 0, 0), isa.ABC(isa.OpMove, 0, 0, 0), ret}}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid closure rejected: %v", err)
	}
}

func TestDisassemble(t *testing.T) {
	out := Disassemble(sampleProto())
	for _, want := range []string{
		"function <t:0,0> (4 instructions)",
		"0+ params, 2 slots, 0 upvalues, 4 constants, 1 functions",
		"LOADK",
		"; 41",
		"; t:2 (inc)",
		"function <t:2,4> (2 instructions)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
