package jit

import (
	"fmt"
	"strings"

	"github.com/gigfork/kahlua2/isa"
	"github.com/gigfork/kahlua2/vm"
)

// Listing renders the unit and its translated children as Go-like source:
// one function per prototype and one labelled block per guest instruction.
// It documents what the steps do; it is not meant to be compiled.
func (u *Unit) Listing() string {
	var l lister
	l.writeLine("// Generated from %s", u.Proto.Source)
	l.writeLine("// DO NOT EDIT")
	l.unit(u)
	return l.sb.String()
}

type lister struct {
	sb     strings.Builder
	indent int
}

func (l *lister) writeLine(format string, args ...any) {
	for i := 0; i < l.indent; i++ {
		l.sb.WriteString("\t")
	}
	fmt.Fprintf(&l.sb, format, args...)
	l.sb.WriteString("\n")
}

func (l *lister) unit(u *Unit) {
	p := u.Proto
	l.writeLine("")
	l.writeLine("// %s: %d params, %d registers, %d upvalues", p, p.NumParams, p.MaxStack, p.NumUpvalues)
	l.writeLine("func %s(L *vm.State, f *vm.CallFrame) ([]vm.Value, error) {", funcName(p))
	l.indent++
	l.writeLine("regs, cl := f.Regs, f.Closure()")
	targets := jumpTargets(p)
	for pc, lines := range u.source {
		if targets[pc] {
			l.indent--
			l.writeLine("L%d:", pc)
			l.indent++
		}
		l.writeLine("// [%d] %s", p.Line(pc), p.Code[pc])
		for _, s := range lines {
			l.writeLine("%s", s)
		}
	}
	l.writeLine("return nil, nil")
	l.indent--
	l.writeLine("}")

	for i, c := range u.children {
		if c != nil {
			l.unit(c)
			continue
		}
		l.writeLine("")
		l.writeLine("// %s: interpreted", p.Protos[i])
	}
}

// jumpTargets finds every pc that some instruction may transfer control to.
func jumpTargets(p *vm.Prototype) map[int]bool {
	targets := make(map[int]bool)
	for pc, ins := range p.Code {
		info := ins.Op().Info()
		switch {
		case info.Mode == isa.ModeAsBx:
			targets[pc+1+ins.SBx()] = true
		case info.IsTest, ins.Op() == isa.OpLoadBool && ins.C() != 0:
			targets[pc+2] = true
		case ins.Op() == isa.OpClosure:
			if bx := ins.Bx(); bx < len(p.Protos) && p.Protos[bx].NumUpvalues > 0 {
				targets[pc+1+p.Protos[bx].NumUpvalues] = true
			}
		}
	}
	return targets
}

// funcName derives a Go identifier for a prototype.
func funcName(p *vm.Prototype) string {
	name := p.Name
	if name == "" {
		name = fmt.Sprintf("anon_%d", p.LineDefined)
	}
	var sb strings.Builder
	sb.WriteString("lua_")
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_':
			sb.WriteRune(ch)
		case ch == '.' || ch == ':' || ch == ' ':
			sb.WriteRune('_')
		}
	}
	fmt.Fprintf(&sb, "_%d", p.LineDefined)
	return sb.String()
}
