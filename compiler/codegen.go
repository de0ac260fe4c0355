package compiler

import (
	"fmt"

	"github.com/gigfork/kahlua2/isa"
	"github.com/gigfork/kahlua2/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to register bytecode
// ---------------------------------------------------------------------------

const (
	maxStackSize = 250
	maxUpvalues  = 255
)

// Compile parses and compiles source into the prototype of its main
// function.
func Compile(source, chunkName string) (*vm.Prototype, error) {
	chunk, err := NewParser(source, chunkName).ParseChunk()
	if err != nil {
		return nil, err
	}
	return NewCompiler(chunkName).CompileChunk(chunk)
}

// Compiler compiles AST nodes to prototypes.
type Compiler struct {
	chunk string
	fs    *funcState
	err   *SyntaxError
}

// NewCompiler creates a compiler for the named chunk.
func NewCompiler(chunkName string) *Compiler {
	return &Compiler{chunk: chunkName}
}

// funcState is the compilation state of one function.
type funcState struct {
	parent  *funcState
	proto   *vm.Prototype
	actives []*localVar // active locals; actives[i] lives in register i
	upvals  []upvalDesc
	block   *blockScope
	freeReg int
	consts  map[vm.Value]int
	line    int
}

type localVar struct {
	name  string
	block *blockScope
}

// upvalDesc says where a closure finds an upvalue when it is created: a
// register of the enclosing function or one of its upvalues.
type upvalDesc struct {
	name    string
	inStack bool
	index   int
}

type blockScope struct {
	parent     *blockScope
	nactive    int  // active locals at block entry
	isLoop     bool
	isFunc     bool // outermost block of a function body
	hasUpval   bool // a local of this block is captured
	innerUpval bool // a local of this or a nested block is captured
	breaks     []int
}

// errorf records a compilation error and aborts.
func (c *Compiler) errorf(format string, args ...any) {
	c.err = &SyntaxError{Chunk: c.chunk, Line: c.fs.line, Msg: fmt.Sprintf(format, args...)}
	panic(bailout{})
}

// CompileChunk compiles a parsed chunk into the main function prototype.
func (c *Compiler) CompileChunk(chunk *Chunk) (proto *vm.Prototype, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			proto, err = nil, c.err
		}
	}()
	main := &FunctionExpr{Name: "main chunk", IsVararg: true, Body: chunk.Body}
	proto, _ = c.compileFunction(main)
	return proto, nil
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) emit(ins isa.Instruction) int {
	p := c.fs.proto
	p.Code = append(p.Code, ins)
	p.LineInfo = append(p.LineInfo, int32(c.fs.line))
	return len(p.Code) - 1
}

func (c *Compiler) emitABC(op isa.Opcode, a, b, cc int) int {
	return c.emit(isa.ABC(op, a, b, cc))
}

func (c *Compiler) emitABx(op isa.Opcode, a, bx int) int {
	if bx > isa.MaxArgBx {
		c.errorf("constant table overflow")
	}
	return c.emit(isa.ABx(op, a, bx))
}

func (c *Compiler) emitAsBx(op isa.Opcode, a, sbx int) int {
	return c.emit(isa.AsBx(op, a, sbx))
}

func (c *Compiler) emitJump() int {
	return c.emitAsBx(isa.OpJmp, 0, 0)
}

// here returns the pc of the next instruction.
func (c *Compiler) here() int {
	return len(c.fs.proto.Code)
}

// patchJump makes the jump-like instruction at pc land on target.
func (c *Compiler) patchJump(pc, target int) {
	code := c.fs.proto.Code
	offset := target - (pc + 1)
	if offset > isa.MaxArgSBx || offset < -isa.MaxArgSBx {
		c.errorf("control structure too long")
	}
	code[pc] = code[pc].WithSBx(offset)
}

func (c *Compiler) patchList(list []int, target int) {
	for _, pc := range list {
		c.patchJump(pc, target)
	}
}

func (c *Compiler) patchToHere(list []int) {
	c.patchList(list, c.here())
}

// constIndex returns the constant pool index of v, adding it if needed.
func (c *Compiler) constIndex(v vm.Value) int {
	fs := c.fs
	if i, ok := fs.consts[v]; ok {
		return i
	}
	i := len(fs.proto.Constants)
	fs.proto.Constants = append(fs.proto.Constants, v)
	fs.consts[v] = i
	return i
}

// ---------------------------------------------------------------------------
// Registers and scopes
// ---------------------------------------------------------------------------

func (c *Compiler) allocRegs(n int) int {
	fs := c.fs
	r := fs.freeReg
	c.setFreeReg(r + n)
	return r
}

func (c *Compiler) allocReg() int {
	return c.allocRegs(1)
}

func (c *Compiler) setFreeReg(n int) {
	fs := c.fs
	if n > maxStackSize {
		c.errorf("function or expression too complex")
	}
	fs.freeReg = n
	fs.proto.MaxStack = max(fs.proto.MaxStack, n)
}

// activate makes the next register a local named name. The register must
// already be allocated.
func (c *Compiler) activate(name string) {
	fs := c.fs
	if len(fs.actives) >= fs.freeReg {
		c.errorf("internal: local %s has no register", name)
	}
	fs.actives = append(fs.actives, &localVar{name: name, block: fs.block})
}

func (c *Compiler) enterBlock(isLoop bool) {
	fs := c.fs
	fs.block = &blockScope{parent: fs.block, nactive: len(fs.actives), isLoop: isLoop}
}

func (c *Compiler) leaveBlock() {
	fs := c.fs
	bl := fs.block
	fs.block = bl.parent
	fs.actives = fs.actives[:bl.nactive]
	if bl.hasUpval && !bl.isLoop {
		c.emitABC(isa.OpClose, bl.nactive, 0, 0)
	}
	fs.freeReg = bl.nactive
	if bl.isLoop {
		c.patchToHere(bl.breaks)
		// Closes upvalues left open by a break out of a nested block.
		if bl.innerUpval {
			c.emitABC(isa.OpClose, bl.nactive, 0, 0)
		}
	}
	if (bl.hasUpval || bl.innerUpval) && fs.block != nil {
		fs.block.innerUpval = true
	}
}

func (c *Compiler) block(stmts []Stmt) {
	c.enterBlock(false)
	c.statements(stmts)
	c.leaveBlock()
}

type varKind int

const (
	varGlobal varKind = iota
	varLocal
	varUpval
)

// resolve finds name in fs: a local register, an upvalue index, or global.
// Locals of enclosing functions are turned into upvalues on the way.
func resolve(fs *funcState, name string) (varKind, int) {
	for i := len(fs.actives) - 1; i >= 0; i-- {
		if fs.actives[i].name == name {
			return varLocal, i
		}
	}
	for i, u := range fs.upvals {
		if u.name == name {
			return varUpval, i
		}
	}
	if fs.parent == nil {
		return varGlobal, 0
	}
	kind, idx := resolve(fs.parent, name)
	switch kind {
	case varLocal:
		v := fs.parent.actives[idx]
		v.block.hasUpval = true
		fs.upvals = append(fs.upvals, upvalDesc{name: name, inStack: true, index: idx})
	case varUpval:
		fs.upvals = append(fs.upvals, upvalDesc{name: name, index: idx})
	default:
		return varGlobal, 0
	}
	return varUpval, len(fs.upvals) - 1
}

func (c *Compiler) resolve(name string) (varKind, int) {
	kind, idx := resolve(c.fs, name)
	if kind == varUpval && idx >= maxUpvalues {
		c.errorf("too many upvalues")
	}
	return kind, idx
}


// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// compileFunction compiles fn in a new function state. It returns the
// prototype together with the capture list the enclosing CLOSURE needs.
func (c *Compiler) compileFunction(fn *FunctionExpr) (*vm.Prototype, []upvalDesc) {
	fs := &funcState{
		parent: c.fs,
		proto: &vm.Prototype{
			Name:            fn.Name,
			Source:          c.chunk,
			LineDefined:     fn.PosVal.Line,
			LastLineDefined: fn.EndLine,
			NumParams:       len(fn.Params),
			IsVararg:        fn.IsVararg,
		},
		consts: make(map[vm.Value]int),
		line:   fn.PosVal.Line,
	}
	c.fs = fs
	c.enterBlock(false)
	fs.block.isFunc = true
	for _, name := range fn.Params {
		c.allocReg()
		c.activate(name)
	}
	c.statements(fn.Body)
	if fn.EndLine > 0 {
		fs.line = fn.EndLine
	}
	c.emitABC(isa.OpReturn, 0, 1, 0)

	p := fs.proto
	p.MaxStack = max(p.MaxStack, 2)
	p.NumUpvalues = len(fs.upvals)
	for _, u := range fs.upvals {
		p.UpvalueNames = append(p.UpvalueNames, u.name)
	}
	c.fs = fs.parent
	return p, fs.upvals
}

// closure compiles fn as a nested prototype and emits the CLOSURE sequence
// into dst.
func (c *Compiler) closure(fn *FunctionExpr, dst int) {
	parent := c.fs
	child, upvals := c.compileFunction(fn)
	idx := len(parent.proto.Protos)
	parent.proto.Protos = append(parent.proto.Protos, child)
	parent.line = fn.PosVal.Line
	c.emitABx(isa.OpClosure, dst, idx)
	for _, u := range upvals {
		if u.inStack {
			c.emitABC(isa.OpMove, 0, u.index, 0)
		} else {
			c.emitABC(isa.OpGetUpval, 0, u.index, 0)
		}
	}
}

// nameFunction gives an anonymous function literal the name it is being
// bound to.
func nameFunction(e Expr, name string) {
	if fn, ok := e.(*FunctionExpr); ok && fn.Name == "" {
		fn.Name = name
	}
}

// targetName renders an assignment target for function naming.
func targetName(e Expr) string {
	switch e := e.(type) {
	case *NameExpr:
		return e.Name
	case *IndexExpr:
		if k, ok := e.Key.(*StringExpr); ok {
			if obj := targetName(e.Obj); obj != "" {
				return obj + "." + k.Value
			}
			return k.Value
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) statements(stmts []Stmt) {
	for _, s := range stmts {
		c.statement(s)
		// Temporaries never outlive a statement.
		c.fs.freeReg = len(c.fs.actives)
	}
}

func (c *Compiler) statement(s Stmt) {
	fs := c.fs
	fs.line = s.Pos().Line
	switch s := s.(type) {
	case *LocalStmt:
		c.localStmt(s)
	case *LocalFunctionStmt:
		r := c.allocReg()
		c.activate(s.Name)
		c.closure(s.Func, r)
	case *FunctionStmt:
		c.assignSingle(s.Target, s.Func)
	case *AssignStmt:
		if len(s.Targets) == 1 && len(s.Exprs) == 1 {
			nameFunction(s.Exprs[0], targetName(s.Targets[0]))
			c.assignSingle(s.Targets[0], s.Exprs[0])
		} else {
			c.assignMulti(s)
		}
	case *CallStmt:
		c.compileCall(s.Call, 0)
	case *DoStmt:
		c.block(s.Body)
	case *WhileStmt:
		c.whileStmt(s)
	case *RepeatStmt:
		c.repeatStmt(s)
	case *IfStmt:
		c.ifStmt(s)
	case *NumericForStmt:
		c.numericFor(s)
	case *GenericForStmt:
		c.genericFor(s)
	case *ReturnStmt:
		c.returnStmt(s)
	case *BreakStmt:
		bl := fs.block
		for bl != nil && !bl.isLoop {
			bl = bl.parent
		}
		if bl == nil {
			c.errorf("no loop to break near 'break'")
		}
		bl.breaks = append(bl.breaks, c.emitJump())
	default:
		c.errorf("internal: unknown statement %T", s)
	}
}

func (c *Compiler) localStmt(s *LocalStmt) {
	fs := c.fs
	base := fs.freeReg
	if len(s.Exprs) == 0 {
		c.allocRegs(len(s.Names))
		c.emitABC(isa.OpLoadNil, base, base+len(s.Names)-1, 0)
	} else {
		if len(s.Names) == len(s.Exprs) {
			for i, e := range s.Exprs {
				nameFunction(e, s.Names[i])
			}
		}
		c.explist(s.Exprs, len(s.Names))
	}
	for _, name := range s.Names {
		c.activate(name)
	}
}

// assignSingle compiles "target = e".
func (c *Compiler) assignSingle(target, e Expr) {
	switch t := target.(type) {
	case *NameExpr:
		kind, idx := c.resolve(t.Name)
		switch kind {
		case varLocal:
			if needsTemp(e) {
				r := c.allocReg()
				c.exprToReg(e, r)
				c.emitABC(isa.OpMove, idx, r, 0)
			} else {
				c.exprToReg(e, idx)
			}
		case varUpval:
			r := c.exprToAnyReg(e)
			c.emitABC(isa.OpSetUpval, r, idx, 0)
		default:
			r := c.exprToAnyReg(e)
			c.emitABx(isa.OpSetGlobal, r, c.constIndex(t.Name))
		}
	case *IndexExpr:
		obj := c.exprToAnyReg(t.Obj)
		key := c.exprToRK(t.Key)
		val := c.exprToRK(e)
		c.emitABC(isa.OpSetTable, obj, key, val)
	default:
		c.errorf("syntax error near '='")
	}
}

// needsTemp reports whether assigning e straight into a local's register
// could clobber the local before e is done reading it.
func needsTemp(e Expr) bool {
	for {
		p, ok := e.(*ParenExpr)
		if !ok {
			break
		}
		e = p.Inner
	}
	switch e := e.(type) {
	case *TableExpr:
		return true
	case *BinOpExpr:
		return e.Op == TokenAnd || e.Op == TokenOr
	}
	return false
}

// assignMulti compiles "t1, t2, ... = e1, e2, ...". Table and key operands
// of the targets are evaluated first, then every value, then the stores
// happen right to left.
func (c *Compiler) assignMulti(s *AssignStmt) {
	type slot struct {
		kind     varKind
		idx      int
		obj, key int
	}
	slots := make([]slot, len(s.Targets))
	for i, t := range s.Targets {
		switch t := t.(type) {
		case *NameExpr:
			slots[i].kind, slots[i].idx = c.resolve(t.Name)
			if slots[i].kind == varGlobal {
				slots[i].idx = c.constIndex(t.Name)
			}
		case *IndexExpr:
			slots[i].kind = -1
			slots[i].obj = c.pushExpr(t.Obj)
			if isConstant(t.Key) {
				slots[i].key = c.exprToRK(t.Key)
			} else {
				slots[i].key = c.pushExpr(t.Key)
			}
		}
	}
	base := c.fs.freeReg
	c.explist(s.Exprs, len(s.Targets))
	for i := len(slots) - 1; i >= 0; i-- {
		sl, r := slots[i], base+i
		switch sl.kind {
		case varLocal:
			c.emitABC(isa.OpMove, sl.idx, r, 0)
		case varUpval:
			c.emitABC(isa.OpSetUpval, r, sl.idx, 0)
		case varGlobal:
			c.emitABx(isa.OpSetGlobal, r, sl.idx)
		default:
			c.emitABC(isa.OpSetTable, sl.obj, sl.key, r)
		}
	}
}

func (c *Compiler) whileStmt(s *WhileStmt) {
	start := c.here()
	exits := c.condJump(s.Cond, false)
	c.enterBlock(true)
	c.block(s.Body)
	c.fs.line = s.PosVal.Line
	c.patchJump(c.emitJump(), start)
	c.leaveBlock()
	c.patchToHere(exits)
}

func (c *Compiler) repeatStmt(s *RepeatStmt) {
	start := c.here()
	c.enterBlock(true)
	c.enterBlock(false)
	inner := c.fs.block
	c.statements(s.Body)
	c.fs.line = s.Cond.Pos().Line
	if !inner.hasUpval {
		c.patchList(c.condJump(s.Cond, false), start)
	} else {
		// Captured body locals must be closed before every iteration.
		out := c.condJump(s.Cond, true)
		c.emitABC(isa.OpClose, inner.nactive, 0, 0)
		c.patchJump(c.emitJump(), start)
		c.patchToHere(out)
	}
	c.leaveBlock()
	c.leaveBlock()
}

func (c *Compiler) ifStmt(s *IfStmt) {
	var exits []int
	for i, cond := range s.Conds {
		c.fs.line = cond.Pos().Line
		skip := c.condJump(cond, false)
		c.block(s.Blocks[i])
		if i < len(s.Conds)-1 || s.Else != nil {
			exits = append(exits, c.emitJump())
		}
		c.patchToHere(skip)
	}
	if s.Else != nil {
		c.block(s.Else)
	}
	c.patchToHere(exits)
}

func (c *Compiler) numericFor(s *NumericForStmt) {
	fs := c.fs
	base := fs.freeReg
	c.enterBlock(true)
	c.pushExpr(s.Start)
	c.pushExpr(s.Limit)
	if s.Step != nil {
		c.pushExpr(s.Step)
	} else {
		r := c.allocReg()
		c.emitABx(isa.OpLoadK, r, c.constIndex(float64(1)))
	}
	c.activate("(for index)")
	c.activate("(for limit)")
	c.activate("(for step)")
	fs.line = s.PosVal.Line
	prep := c.emitAsBx(isa.OpForPrep, base, 0)

	c.enterBlock(false)
	c.allocReg()
	c.activate(s.Var)
	c.statements(s.Body)
	c.leaveBlock()

	fs.line = s.PosVal.Line
	loop := c.emitAsBx(isa.OpForLoop, base, 0)
	c.patchJump(prep, loop)
	c.patchJump(loop, prep+1)
	c.leaveBlock()
}

func (c *Compiler) genericFor(s *GenericForStmt) {
	fs := c.fs
	base := fs.freeReg
	c.enterBlock(true)
	c.explist(s.Exprs, 3)
	c.activate("(for generator)")
	c.activate("(for state)")
	c.activate("(for control)")
	fs.line = s.PosVal.Line
	enter := c.emitJump()

	c.enterBlock(false)
	c.allocRegs(len(s.Names))
	for _, name := range s.Names {
		c.activate(name)
	}
	start := c.here()
	c.statements(s.Body)
	c.leaveBlock()

	fs.line = s.PosVal.Line
	c.patchJump(enter, c.here())
	c.emitABC(isa.OpTForLoop, base, 0, len(s.Names))
	c.patchJump(c.emitJump(), start)
	c.leaveBlock()
}

func (c *Compiler) returnStmt(s *ReturnStmt) {
	fs := c.fs
	switch {
	case len(s.Exprs) == 0:
		c.emitABC(isa.OpReturn, 0, 1, 0)
	case len(s.Exprs) == 1 && isCall(s.Exprs[0]):
		base := c.compileCall(s.Exprs[0], -1)
		last := len(fs.proto.Code) - 1
		call := fs.proto.Code[last]
		fs.proto.Code[last] = isa.ABC(isa.OpTailCall, base, call.B(), 0)
		c.emitABC(isa.OpReturn, base, 0, 0)
	case len(s.Exprs) == 1 && !isMulti(s.Exprs[0]):
		r := c.exprToAnyReg(s.Exprs[0])
		c.emitABC(isa.OpReturn, r, 2, 0)
	default:
		base := fs.freeReg
		n, multi := c.explist(s.Exprs, -1)
		b := n + 1
		if multi {
			b = 0
		}
		c.emitABC(isa.OpReturn, base, b, 0)
	}
}

func isCall(e Expr) bool {
	switch e.(type) {
	case *CallExpr, *MethodCallExpr:
		return true
	}
	return false
}

func isConstant(e Expr) bool {
	switch e.(type) {
	case *NilExpr, *TrueExpr, *FalseExpr, *NumberExpr, *StringExpr:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Expression lists and calls
// ---------------------------------------------------------------------------

// pushExpr compiles e into a newly allocated register and returns it.
func (c *Compiler) pushExpr(e Expr) int {
	if isCall(e) {
		return c.compileCall(e, 1)
	}
	r := c.allocReg()
	c.exprToReg(e, r)
	return r
}

// pushMulti compiles a call or "..." into consecutive registers starting at
// the first free one. want < 0 keeps every value and leaves the frame's Top
// marking the end.
func (c *Compiler) pushMulti(e Expr, want int) {
	if isCall(e) {
		c.compileCall(e, want)
		return
	}
	base := c.fs.freeReg
	if want < 0 {
		c.emitABC(isa.OpVararg, base, 0, 0)
		return
	}
	if want == 0 {
		return
	}
	c.allocRegs(want)
	c.emitABC(isa.OpVararg, base, want+1, 0)
}

// explist pushes the values of exprs onto consecutive free registers. With
// want >= 0 exactly want values are produced: extra expressions are still
// evaluated and missing ones are nil. With want < 0 every value is kept;
// multi reports that the last one was open-ended.
func (c *Compiler) explist(exprs []Expr, want int) (n int, multi bool) {
	for i, e := range exprs {
		last := i == len(exprs)-1
		if last && isMulti(e) {
			if want < 0 {
				c.pushMulti(e, -1)
				return i, true
			}
			c.pushMulti(e, max(want-i, 0))
			return want, false
		}
		if want >= 0 && i >= want {
			saved := c.fs.freeReg
			c.pushExpr(e)
			c.fs.freeReg = saved
			continue
		}
		c.pushExpr(e)
	}
	if want < 0 {
		return len(exprs), false
	}
	if missing := want - len(exprs); missing > 0 {
		base := c.allocRegs(missing)
		c.emitABC(isa.OpLoadNil, base, base+missing-1, 0)
	}
	return want, false
}

// compileCall emits a call with the function in the first free register.
// nresults < 0 keeps every result. Afterwards the results occupy the
// registers from the returned base on.
func (c *Compiler) compileCall(e Expr, nresults int) int {
	fs := c.fs
	base := fs.freeReg
	var args []Expr
	var line, nfixed int
	switch e := e.(type) {
	case *CallExpr:
		c.pushExpr(e.Fn)
		args, line, nfixed = e.Args, e.PosVal.Line, 1
	case *MethodCallExpr:
		obj := -1
		if n, ok := e.Obj.(*NameExpr); ok {
			if kind, idx := c.resolve(n.Name); kind == varLocal {
				obj = idx
				c.allocRegs(2)
			}
		}
		if obj < 0 {
			obj = c.pushExpr(e.Obj)
			c.allocReg()
		}
		key := c.rkConst(e.Name)
		c.emitABC(isa.OpSelf, base, obj, key)
		fs.freeReg = base + 2
		args, line, nfixed = e.Args, e.PosVal.Line, 2
	default:
		c.errorf("internal: not a call: %T", e)
	}
	n, multi := c.explist(args, -1)
	b := n + nfixed
	if multi {
		b = 0
	}
	fs.line = line
	c.emitABC(isa.OpCall, base, b, nresults+1)
	fs.freeReg = base
	if nresults > 0 {
		c.setFreeReg(base + nresults)
	}
	return base
}

// rkConst returns an RK operand for the constant v, loading it into a fresh
// register when its index does not fit.
func (c *Compiler) rkConst(v vm.Value) int {
	idx := c.constIndex(v)
	if idx <= isa.MaxIndexRK {
		return isa.RKAsK(idx)
	}
	r := c.allocReg()
	c.emitABx(isa.OpLoadK, r, idx)
	return r
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// exprToAnyReg returns a register holding the value of e: the register of a
// local, or a newly allocated one.
func (c *Compiler) exprToAnyReg(e Expr) int {
	if p, ok := e.(*ParenExpr); ok && !isMulti(p.Inner) {
		return c.exprToAnyReg(p.Inner)
	}
	if n, ok := e.(*NameExpr); ok {
		if kind, idx := c.resolve(n.Name); kind == varLocal {
			return idx
		}
	}
	return c.pushExpr(e)
}

// exprToRK returns an RK operand for e.
func (c *Compiler) exprToRK(e Expr) int {
	switch e := e.(type) {
	case *NilExpr:
		return c.rkConst(nil)
	case *TrueExpr:
		return c.rkConst(true)
	case *FalseExpr:
		return c.rkConst(false)
	case *NumberExpr:
		return c.rkConst(e.Value)
	case *StringExpr:
		return c.rkConst(e.Value)
	}
	return c.exprToAnyReg(e)
}

// exprToReg compiles e so that its single value ends up in dst. Temporaries
// are released afterwards.
func (c *Compiler) exprToReg(e Expr, dst int) {
	fs := c.fs
	saved, savedLine := fs.freeReg, fs.line
	if l := e.Pos().Line; l > 0 {
		fs.line = l
	}
	defer func() {
		fs.freeReg, fs.line = saved, savedLine
	}()

	switch e := e.(type) {
	case *NilExpr:
		c.emitABC(isa.OpLoadNil, dst, dst, 0)
	case *TrueExpr:
		c.emitABC(isa.OpLoadBool, dst, 1, 0)
	case *FalseExpr:
		c.emitABC(isa.OpLoadBool, dst, 0, 0)
	case *NumberExpr:
		c.emitABx(isa.OpLoadK, dst, c.constIndex(e.Value))
	case *StringExpr:
		c.emitABx(isa.OpLoadK, dst, c.constIndex(e.Value))
	case *VarargExpr:
		c.emitABC(isa.OpVararg, dst, 2, 0)
	case *NameExpr:
		switch kind, idx := c.resolve(e.Name); kind {
		case varLocal:
			if idx != dst {
				c.emitABC(isa.OpMove, dst, idx, 0)
			}
		case varUpval:
			c.emitABC(isa.OpGetUpval, dst, idx, 0)
		default:
			c.emitABx(isa.OpGetGlobal, dst, c.constIndex(e.Name))
		}
	case *IndexExpr:
		obj := c.exprToAnyReg(e.Obj)
		key := c.exprToRK(e.Key)
		c.emitABC(isa.OpGetTable, dst, obj, key)
	case *CallExpr, *MethodCallExpr:
		if base := c.compileCall(e, 1); base != dst {
			c.emitABC(isa.OpMove, dst, base, 0)
		}
	case *FunctionExpr:
		c.closure(e, dst)
	case *ParenExpr:
		c.exprToReg(e.Inner, dst)
	case *TableExpr:
		c.tableConstructor(e, dst, saved)
	case *UnOpExpr:
		c.unaryOp(e, dst)
	case *BinOpExpr:
		c.binaryOp(e, dst)
	default:
		c.errorf("internal: unknown expression %T", e)
	}
}

func (c *Compiler) unaryOp(e *UnOpExpr, dst int) {
	switch e.Op {
	case TokenNot:
		switch e.Operand.(type) {
		case *NilExpr, *FalseExpr:
			c.emitABC(isa.OpLoadBool, dst, 1, 0)
			return
		case *TrueExpr, *NumberExpr, *StringExpr:
			c.emitABC(isa.OpLoadBool, dst, 0, 0)
			return
		}
		r := c.exprToAnyReg(e.Operand)
		c.emitABC(isa.OpNot, dst, r, 0)
	case TokenMinus:
		r := c.exprToAnyReg(e.Operand)
		c.emitABC(isa.OpUnm, dst, r, 0)
	case TokenHash:
		r := c.exprToAnyReg(e.Operand)
		c.emitABC(isa.OpLen, dst, r, 0)
	default:
		c.errorf("internal: unknown unary operator %s", e.Op)
	}
}

var arithOps = map[TokenType]isa.Opcode{
	TokenPlus:    isa.OpAdd,
	TokenMinus:   isa.OpSub,
	TokenStar:    isa.OpMul,
	TokenSlash:   isa.OpDiv,
	TokenPercent: isa.OpMod,
	TokenCaret:   isa.OpPow,
}

func (c *Compiler) binaryOp(e *BinOpExpr, dst int) {
	if op, ok := arithOps[e.Op]; ok {
		if v, ok := foldArith(op, e.Left, e.Right); ok {
			c.emitABx(isa.OpLoadK, dst, c.constIndex(v))
			return
		}
		b := c.exprToRK(e.Left)
		cc := c.exprToRK(e.Right)
		c.emitABC(op, dst, b, cc)
		return
	}

	switch e.Op {
	case TokenConcat:
		operands := concatOperands(e)
		first := c.fs.freeReg
		for _, o := range operands {
			c.pushExpr(o)
		}
		c.emitABC(isa.OpConcat, dst, first, first+len(operands)-1)

	case TokenAnd, TokenOr:
		cond := 0
		if e.Op == TokenOr {
			cond = 1
		}
		var skip int
		if n, ok := e.Left.(*NameExpr); ok {
			if kind, idx := c.resolve(n.Name); kind == varLocal && idx != dst {
				c.emitABC(isa.OpTestSet, dst, idx, cond)
				skip = c.emitJump()
				c.exprToReg(e.Right, dst)
				c.patchToHere([]int{skip})
				return
			}
		}
		c.exprToReg(e.Left, dst)
		c.emitABC(isa.OpTest, dst, 0, cond)
		skip = c.emitJump()
		c.exprToReg(e.Right, dst)
		c.patchToHere([]int{skip})

	case TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe:
		jumps := c.condJump(e, true)
		c.emitABC(isa.OpLoadBool, dst, 0, 1)
		c.patchToHere(jumps)
		c.emitABC(isa.OpLoadBool, dst, 1, 0)

	default:
		c.errorf("internal: unknown binary operator %s", e.Op)
	}
}

// foldArith evaluates arithmetic on numeric literals at compile time.
// Results the runtime would not reproduce exactly (NaN, division by zero)
// are left alone.
func foldArith(op isa.Opcode, l, r Expr) (float64, bool) {
	x, ok := constNumber(l)
	if !ok {
		return 0, false
	}
	y, ok := constNumber(r)
	if !ok {
		return 0, false
	}
	if (op == isa.OpDiv || op == isa.OpMod) && y == 0 {
		return 0, false
	}
	v := vm.ArithNumbers(op, x, y)
	if v != v {
		return 0, false
	}
	return v, true
}

func constNumber(e Expr) (float64, bool) {
	switch e := e.(type) {
	case *NumberExpr:
		return e.Value, true
	case *ParenExpr:
		return constNumber(e.Inner)
	case *BinOpExpr:
		if op, ok := arithOps[e.Op]; ok {
			return foldArith(op, e.Left, e.Right)
		}
	}
	return 0, false
}

// concatOperands flattens a right-associative chain of ".." operators.
func concatOperands(e Expr) []Expr {
	var out []Expr
	for {
		b, ok := e.(*BinOpExpr)
		if !ok || b.Op != TokenConcat {
			return append(out, e)
		}
		out = append(out, b.Left)
		e = b.Right
	}
}

// condJump emits a test of e and returns the jumps taken when the truth of
// e equals jumpIf; otherwise control falls through.
func (c *Compiler) condJump(e Expr, jumpIf bool) []int {
	fs := c.fs
	saved := fs.freeReg
	defer func() { fs.freeReg = saved }()

	switch e := e.(type) {
	case *ParenExpr:
		if !isMulti(e.Inner) {
			return c.condJump(e.Inner, jumpIf)
		}
	case *NilExpr, *FalseExpr:
		if !jumpIf {
			return []int{c.emitJump()}
		}
		return nil
	case *TrueExpr, *NumberExpr, *StringExpr:
		if jumpIf {
			return []int{c.emitJump()}
		}
		return nil
	case *UnOpExpr:
		if e.Op == TokenNot {
			return c.condJump(e.Operand, !jumpIf)
		}
	case *BinOpExpr:
		switch e.Op {
		case TokenAnd:
			if !jumpIf {
				return append(c.condJump(e.Left, false), c.condJump(e.Right, false)...)
			}
			skip := c.condJump(e.Left, false)
			jumps := c.condJump(e.Right, true)
			c.patchToHere(skip)
			return jumps
		case TokenOr:
			if jumpIf {
				return append(c.condJump(e.Left, true), c.condJump(e.Right, true)...)
			}
			skip := c.condJump(e.Left, true)
			jumps := c.condJump(e.Right, false)
			c.patchToHere(skip)
			return jumps
		case TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe:
			return []int{c.compare(e, jumpIf)}
		}
	}
	r := c.exprToAnyReg(e)
	c.emitABC(isa.OpTest, r, 0, boolArg(jumpIf))
	return []int{c.emitJump()}
}

// compare emits a comparison followed by a jump taken when the comparison
// result equals jumpIf, and returns the jump.
func (c *Compiler) compare(e *BinOpExpr, jumpIf bool) int {
	b := c.exprToRK(e.Left)
	cc := c.exprToRK(e.Right)
	c.fs.line = e.PosVal.Line
	var op isa.Opcode
	switch e.Op {
	case TokenEq:
		op = isa.OpEq
	case TokenNe:
		op, jumpIf = isa.OpEq, !jumpIf
	case TokenLt:
		op = isa.OpLt
	case TokenLe:
		op = isa.OpLe
	case TokenGt:
		op, b, cc = isa.OpLt, cc, b
	case TokenGe:
		op, b, cc = isa.OpLe, cc, b
	}
	c.emitABC(op, boolArg(jumpIf), b, cc)
	return c.emitJump()
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

// tableConstructor builds a table into dst. Positional items are
// collected in the registers above the table and stored in batches of
// isa.FieldsPerFlush.
func (c *Compiler) tableConstructor(e *TableExpr, dst, top int) {
	fs := c.fs
	t := dst
	if dst != top-1 {
		t = c.allocReg()
	}
	narray, nhash := 0, 0
	for _, f := range e.Fields {
		if f.Key == nil {
			narray++
		} else {
			nhash++
		}
	}
	c.emitABC(isa.OpNewTable, t, min(narray, isa.MaxArgB), min(nhash, isa.MaxArgC))

	pending, batch := 0, 1
	flush := func(n int) {
		if batch > isa.MaxArgC {
			c.errorf("table constructor too large")
		}
		c.emitABC(isa.OpSetList, t, n, batch)
		batch++
		pending = 0
		fs.freeReg = t + 1
	}
	for i, f := range e.Fields {
		if f.Key != nil {
			saved := fs.freeReg
			key := c.exprToRK(f.Key)
			val := c.exprToRK(f.Value)
			c.emitABC(isa.OpSetTable, t, key, val)
			fs.freeReg = saved
			continue
		}
		if i == len(e.Fields)-1 && isMulti(f.Value) {
			c.pushMulti(f.Value, -1)
			flush(0)
			pending = -1
			break
		}
		c.pushExpr(f.Value)
		pending++
		if pending == isa.FieldsPerFlush {
			flush(pending)
		}
	}
	if pending > 0 {
		flush(pending)
	}
	if t != dst {
		c.emitABC(isa.OpMove, dst, t, 0)
	}
}
