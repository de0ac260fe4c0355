package isa

import "fmt"

// ---------------------------------------------------------------------------
// Instruction word layout
// ---------------------------------------------------------------------------
//
//	 31      23 22      14 13    6 5    0
//	|    B     |    C     |   A   |  op  |   ModeABC
//	|        Bx           |   A   |  op  |   ModeABx / ModeAsBx

// Instruction is one encoded 32-bit instruction word.
type Instruction uint32

const (
	sizeOp = 6
	sizeA  = 8
	sizeB  = 9
	sizeC  = 9
	sizeBx = sizeB + sizeC

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC

	maskOp = 1<<sizeOp - 1
	maskA  = 1<<sizeA - 1
	maskB  = 1<<sizeB - 1
	maskC  = 1<<sizeC - 1
)

// Operand limits.
const (
	MaxArgA   = maskA
	MaxArgB   = maskB
	MaxArgC   = maskC
	MaxArgBx  = 1<<sizeBx - 1
	MaxArgSBx = MaxArgBx >> 1

	// BitRK marks an RK operand as a constant index.
	BitRK = 1 << (sizeB - 1)
	// MaxIndexRK is the largest constant index that fits in an RK operand.
	MaxIndexRK = BitRK - 1

	// FieldsPerFlush is the number of list items accumulated before a SETLIST.
	FieldsPerFlush = 50

	// MaxRegisters is the number of registers addressable by operand A.
	MaxRegisters = MaxArgA
)

// Op returns the opcode of the instruction.
func (i Instruction) Op() Opcode { return Opcode(i >> posOp & maskOp) }

// A returns operand A.
func (i Instruction) A() int { return int(i >> posA & maskA) }

// B returns operand B.
func (i Instruction) B() int { return int(i >> posB & maskB) }

// C returns operand C.
func (i Instruction) C() int { return int(i >> posC & maskC) }

// Bx returns the unsigned 18-bit operand.
func (i Instruction) Bx() int { return int(i >> posBx) }

// SBx returns the signed 18-bit operand.
func (i Instruction) SBx() int { return i.Bx() - MaxArgSBx }

// IsK reports whether an RK operand refers to a constant.
func IsK(x int) bool { return x&BitRK != 0 }

// IndexK strips the constant marker from an RK operand.
func IndexK(x int) int { return x &^ BitRK }

// RKAsK encodes constant index k as an RK operand.
func RKAsK(k int) int { return k | BitRK }

// ABC encodes an instruction in ModeABC.
func ABC(op Opcode, a, b, c int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(b)<<posB | uint32(c)<<posC)
}

// ABx encodes an instruction in ModeABx.
func ABx(op Opcode, a, bx int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(bx)<<posBx)
}

// AsBx encodes an instruction in ModeAsBx.
func AsBx(op Opcode, a, sbx int) Instruction {
	return ABx(op, a, sbx+MaxArgSBx)
}

// WithA returns i with operand A replaced.
func (i Instruction) WithA(a int) Instruction {
	return i&^(maskA<<posA) | Instruction(uint32(a)<<posA)
}

// WithB returns i with operand B replaced.
func (i Instruction) WithB(b int) Instruction {
	return i&^(maskB<<posB) | Instruction(uint32(b)<<posB)
}

// WithC returns i with operand C replaced.
func (i Instruction) WithC(c int) Instruction {
	return i&^(maskC<<posC) | Instruction(uint32(c)<<posC)
}

// WithSBx returns i with its signed operand replaced.
func (i Instruction) WithSBx(sbx int) Instruction {
	return i&^(MaxArgBx<<posBx) | Instruction(uint32(sbx+MaxArgSBx)<<posBx)
}

// String renders the instruction with its raw operands, e.g. "ADD 0 1 K2".
func (i Instruction) String() string {
	op := i.Op()
	info := op.Info()
	switch info.Mode {
	case ModeABx:
		return fmt.Sprintf("%-9s %d %d", info.Name, i.A(), i.Bx())
	case ModeAsBx:
		return fmt.Sprintf("%-9s %d %d", info.Name, i.A(), i.SBx())
	}
	return fmt.Sprintf("%-9s %d %s %s", info.Name, i.A(), rkString(info.B, i.B()), rkString(info.C, i.C()))
}

func rkString(kind ArgKind, x int) string {
	if kind == ArgK && IsK(x) {
		return fmt.Sprintf("K%d", IndexK(x))
	}
	return fmt.Sprintf("%d", x)
}
