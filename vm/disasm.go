package vm

import (
	"fmt"
	"strings"

	"github.com/gigfork/kahlua2/isa"
)

// Disassemble renders p and its nested prototypes, one instruction per line.
func Disassemble(p *Prototype) string {
	var b strings.Builder
	disassemble(&b, p)
	return b.String()
}

func disassemble(b *strings.Builder, p *Prototype) {
	vararg := ""
	if p.IsVararg {
		vararg = "+"
	}
	fmt.Fprintf(b, "function <%s:%d,%d> (%d instructions)\n", p.Source, p.LineDefined, p.LastLineDefined, len(p.Code))
	fmt.Fprintf(b, "%d%s params, %d slots, %d upvalues, %d constants, %d functions\n",
		p.NumParams, vararg, p.MaxStack, p.NumUpvalues, len(p.Constants), len(p.Protos))
	for pc, ins := range p.Code {
		fmt.Fprintf(b, "\t%d\t[%d]\t%s", pc+1, p.Line(pc), ins)
		if c := comment(p, pc, ins); c != "" {
			b.WriteString("\t; ")
			b.WriteString(c)
		}
		b.WriteByte('\n')
	}
	for _, child := range p.Protos {
		b.WriteByte('\n')
		disassemble(b, child)
	}
}

func comment(p *Prototype, pc int, ins isa.Instruction) string {
	switch ins.Op() {
	case isa.OpLoadK, isa.OpGetGlobal, isa.OpSetGlobal:
		return constText(p, ins.Bx())
	case isa.OpJmp, isa.OpForLoop, isa.OpForPrep:
		return fmt.Sprintf("to %d", pc+2+ins.SBx())
	case isa.OpClosure:
		if ins.Bx() < len(p.Protos) {
			return p.Protos[ins.Bx()].String()
		}
	}
	info := ins.Op().Info()
	var parts []string
	if info.B == isa.ArgK && isa.IsK(ins.B()) {
		parts = append(parts, constText(p, isa.IndexK(ins.B())))
	}
	if info.C == isa.ArgK && isa.IsK(ins.C()) {
		parts = append(parts, constText(p, isa.IndexK(ins.C())))
	}
	return strings.Join(parts, " ")
}

func constText(p *Prototype, i int) string {
	if i < 0 || i >= len(p.Constants) {
		return "?"
	}
	if s, ok := p.Constants[i].(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return Tostring(p.Constants[i])
}
