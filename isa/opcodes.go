// Package isa defines the instruction set shared by the compiler, the
// interpreter and the code generator.
//
// The layout follows the Lua 5.1 virtual machine: every instruction is a
// 32-bit word carrying a 6-bit opcode and up to three operands. Anything that
// decodes or emits instructions must go through this package so that the
// producers and consumers of bytecode agree on a single, versioned contract.
package isa

import "fmt"

// Version identifies the revision of the instruction set. It is written into
// binary chunks and checked when they are loaded; bump it whenever an opcode
// is added, removed or changes meaning.
const Version = 1

// Opcode is the 6-bit instruction tag.
type Opcode uint8

// Opcodes, in encoding order. Comments give the register transfer semantics;
// R(x) is a register, K(x) a constant, RK(x) either (see IsK).
const (
	OpMove     Opcode = iota // R(A) := R(B)
	OpLoadK                  // R(A) := K(Bx)
	OpLoadBool               // R(A) := (bool)B; if C then pc++
	OpLoadNil                // R(A) .. R(B) := nil
	OpGetUpval               // R(A) := Upvalue[B]
	OpGetGlobal              // R(A) := Env[K(Bx)]
	OpGetTable               // R(A) := R(B)[RK(C)]
	OpSetGlobal              // Env[K(Bx)] := R(A)
	OpSetUpval               // Upvalue[B] := R(A)
	OpSetTable               // R(A)[RK(B)] := RK(C)
	OpNewTable               // R(A) := {} (array size B, hash size C)
	OpSelf                   // R(A+1) := R(B); R(A) := R(B)[RK(C)]
	OpAdd                    // R(A) := RK(B) + RK(C)
	OpSub                    // R(A) := RK(B) - RK(C)
	OpMul                    // R(A) := RK(B) * RK(C)
	OpDiv                    // R(A) := RK(B) / RK(C)
	OpMod                    // R(A) := RK(B) % RK(C)
	OpPow                    // R(A) := RK(B) ^ RK(C)
	OpUnm                    // R(A) := -R(B)
	OpNot                    // R(A) := not R(B)
	OpLen                    // R(A) := #R(B)
	OpConcat                 // R(A) := R(B) .. ... .. R(C)
	OpJmp                    // pc += sBx
	OpEq                     // if (RK(B) == RK(C)) ~= A then pc++
	OpLt                     // if (RK(B) < RK(C)) ~= A then pc++
	OpLe                     // if (RK(B) <= RK(C)) ~= A then pc++
	OpTest                   // if not (R(A) <=> C) then pc++
	OpTestSet                // if R(B) <=> C then R(A) := R(B) else pc++
	OpCall                   // R(A), ..., R(A+C-2) := R(A)(R(A+1), ..., R(A+B-1))
	OpTailCall               // return R(A)(R(A+1), ..., R(A+B-1))
	OpReturn                 // return R(A), ..., R(A+B-2)
	OpForLoop                // R(A) += R(A+2); if R(A) <?= R(A+1) then { pc += sBx; R(A+3) := R(A) }
	OpForPrep                // R(A) -= R(A+2); pc += sBx
	OpTForLoop               // R(A+3), ..., R(A+2+C) := R(A)(R(A+1), R(A+2)); if R(A+3) ~= nil then R(A+2) := R(A+3) else pc++
	OpSetList                // R(A)[(C-1)*FieldsPerFlush+i] := R(A+i), 1 <= i <= B
	OpClose                  // close all upvalues >= R(A)
	OpClosure                // R(A) := closure(Protos[Bx]), followed by one MOVE/GETUPVAL per upvalue
	OpVararg                 // R(A), ..., R(A+B-1) := vararg

	numOpcodes
)

// Mode describes how the operand bits of an instruction are laid out.
type Mode uint8

const (
	ModeABC  Mode = iota // A:8 B:9 C:9
	ModeABx              // A:8 Bx:18 unsigned
	ModeAsBx             // A:8 sBx:18 signed
)

// ArgKind describes how an operand of an ABC instruction is interpreted.
type ArgKind uint8

const (
	ArgN ArgKind = iota // not used
	ArgU                // used as a plain number
	ArgR                // register index, or jump offset
	ArgK                // register or constant index (RK encoding)
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string  // human-readable name
	Mode     Mode    // operand layout
	B        ArgKind // interpretation of B (ABC mode only)
	C        ArgKind // interpretation of C (ABC mode only)
	SetsA    bool    // instruction writes register A
	IsJump   bool    // instruction may transfer control relative to pc
	IsTest   bool    // next instruction is a jump taken conditionally
	Variadic bool    // operand 0 means "up to top"
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = [numOpcodes]OpcodeInfo{
	OpMove:      {Name: "MOVE", Mode: ModeABC, B: ArgR, SetsA: true},
	OpLoadK:     {Name: "LOADK", Mode: ModeABx, SetsA: true},
	OpLoadBool:  {Name: "LOADBOOL", Mode: ModeABC, B: ArgU, C: ArgU, SetsA: true},
	OpLoadNil:   {Name: "LOADNIL", Mode: ModeABC, B: ArgR, SetsA: true},
	OpGetUpval:  {Name: "GETUPVAL", Mode: ModeABC, B: ArgU, SetsA: true},
	OpGetGlobal: {Name: "GETGLOBAL", Mode: ModeABx, SetsA: true},
	OpGetTable:  {Name: "GETTABLE", Mode: ModeABC, B: ArgR, C: ArgK, SetsA: true},
	OpSetGlobal: {Name: "SETGLOBAL", Mode: ModeABx},
	OpSetUpval:  {Name: "SETUPVAL", Mode: ModeABC, B: ArgU},
	OpSetTable:  {Name: "SETTABLE", Mode: ModeABC, B: ArgK, C: ArgK},
	OpNewTable:  {Name: "NEWTABLE", Mode: ModeABC, B: ArgU, C: ArgU, SetsA: true},
	OpSelf:      {Name: "SELF", Mode: ModeABC, B: ArgR, C: ArgK, SetsA: true},
	OpAdd:       {Name: "ADD", Mode: ModeABC, B: ArgK, C: ArgK, SetsA: true},
	OpSub:       {Name: "SUB", Mode: ModeABC, B: ArgK, C: ArgK, SetsA: true},
	OpMul:       {Name: "MUL", Mode: ModeABC, B: ArgK, C: ArgK, SetsA: true},
	OpDiv:       {Name: "DIV", Mode: ModeABC, B: ArgK, C: ArgK, SetsA: true},
	OpMod:       {Name: "MOD", Mode: ModeABC, B: ArgK, C: ArgK, SetsA: true},
	OpPow:       {Name: "POW", Mode: ModeABC, B: ArgK, C: ArgK, SetsA: true},
	OpUnm:       {Name: "UNM", Mode: ModeABC, B: ArgR, SetsA: true},
	OpNot:       {Name: "NOT", Mode: ModeABC, B: ArgR, SetsA: true},
	OpLen:       {Name: "LEN", Mode: ModeABC, B: ArgR, SetsA: true},
	OpConcat:    {Name: "CONCAT", Mode: ModeABC, B: ArgR, C: ArgR, SetsA: true},
	OpJmp:       {Name: "JMP", Mode: ModeAsBx, IsJump: true},
	OpEq:        {Name: "EQ", Mode: ModeABC, B: ArgK, C: ArgK, IsTest: true},
	OpLt:        {Name: "LT", Mode: ModeABC, B: ArgK, C: ArgK, IsTest: true},
	OpLe:        {Name: "LE", Mode: ModeABC, B: ArgK, C: ArgK, IsTest: true},
	OpTest:      {Name: "TEST", Mode: ModeABC, B: ArgR, C: ArgU, IsTest: true},
	OpTestSet:   {Name: "TESTSET", Mode: ModeABC, B: ArgR, C: ArgU, SetsA: true, IsTest: true},
	OpCall:      {Name: "CALL", Mode: ModeABC, B: ArgU, C: ArgU, SetsA: true, Variadic: true},
	OpTailCall:  {Name: "TAILCALL", Mode: ModeABC, B: ArgU, C: ArgU, SetsA: true, Variadic: true},
	OpReturn:    {Name: "RETURN", Mode: ModeABC, B: ArgU, Variadic: true},
	OpForLoop:   {Name: "FORLOOP", Mode: ModeAsBx, SetsA: true, IsJump: true},
	OpForPrep:   {Name: "FORPREP", Mode: ModeAsBx, SetsA: true, IsJump: true},
	OpTForLoop:  {Name: "TFORLOOP", Mode: ModeABC, C: ArgU, IsTest: true},
	OpSetList:   {Name: "SETLIST", Mode: ModeABC, B: ArgU, C: ArgU, Variadic: true},
	OpClose:     {Name: "CLOSE", Mode: ModeABC},
	OpClosure:   {Name: "CLOSURE", Mode: ModeABx, SetsA: true},
	OpVararg:    {Name: "VARARG", Mode: ModeABC, B: ArgU, SetsA: true, Variadic: true},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op.Valid() {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op))}
}

// Valid reports whether op is defined by this version of the instruction set.
func (op Opcode) Valid() bool {
	return op < numOpcodes
}

func (op Opcode) String() string {
	return op.Info().Name
}

// AllOpcodes returns every defined opcode in encoding order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, numOpcodes)
	for op := Opcode(0); op < numOpcodes; op++ {
		ops = append(ops, op)
	}
	return ops
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return int(numOpcodes)
}

// Lookup returns the opcode with the given name.
func Lookup(name string) (Opcode, bool) {
	for op := Opcode(0); op < numOpcodes; op++ {
		if opcodeTable[op].Name == name {
			return op, true
		}
	}
	return 0, false
}
