package jit

import (
	"sort"

	"github.com/gigfork/kahlua2/isa"
	"github.com/gigfork/kahlua2/vm"
)

// CoverageReport counts translatable instructions across a prototype tree.
type CoverageReport struct {
	Protos       int // prototypes in the tree
	Translatable int // prototypes whose every opcode has a rule
	Instructions int
	Covered      int
	Missing      map[isa.Opcode]int // uncovered opcode -> occurrences
}

// Coverage reports which opcodes of p and its nested prototypes have
// translation rules. It does not check operands; Generate may still reject
// a fully covered prototype as malformed.
func Coverage(p *vm.Prototype) CoverageReport {
	r := CoverageReport{Missing: make(map[isa.Opcode]int)}
	p.Walk(func(q *vm.Prototype) {
		r.Protos++
		full := true
		for _, ins := range q.Code {
			r.Instructions++
			if Covered(ins.Op()) {
				r.Covered++
				continue
			}
			full = false
			r.Missing[ins.Op()]++
		}
		if full {
			r.Translatable++
		}
	})
	return r
}

// MissingOpcodes returns the uncovered opcodes in encoding order.
func (r CoverageReport) MissingOpcodes() []isa.Opcode {
	ops := make([]isa.Opcode, 0, len(r.Missing))
	for op := range r.Missing {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
