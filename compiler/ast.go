package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Lua
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Position
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NilExpr is the literal nil.
type NilExpr struct{ PosVal Position }

// TrueExpr is the literal true.
type TrueExpr struct{ PosVal Position }

// FalseExpr is the literal false.
type FalseExpr struct{ PosVal Position }

// VarargExpr is "...".
type VarargExpr struct{ PosVal Position }

// NumberExpr is a numeric literal.
type NumberExpr struct {
	PosVal Position
	Value  float64
}

// StringExpr is a string literal.
type StringExpr struct {
	PosVal Position
	Value  string
}

// NameExpr references a local, upvalue or global by name.
type NameExpr struct {
	PosVal Position
	Name   string
}

// IndexExpr is Obj[Key] (also Obj.name).
type IndexExpr struct {
	PosVal Position
	Obj    Expr
	Key    Expr
}

// CallExpr is Fn(Args...).
type CallExpr struct {
	PosVal Position
	Fn     Expr
	Args   []Expr
}

// MethodCallExpr is Obj:Name(Args...).
type MethodCallExpr struct {
	PosVal Position
	Obj    Expr
	Name   string
	Args   []Expr
}

// FunctionExpr is a function literal.
type FunctionExpr struct {
	PosVal   Position
	Name     string // best-effort name, empty for anonymous functions
	Params   []string
	IsVararg bool
	Body     []Stmt
	EndLine  int
}

// BinOpExpr is a binary operation. Op is the operator token.
type BinOpExpr struct {
	PosVal Position
	Op     TokenType
	Left   Expr
	Right  Expr
}

// UnOpExpr is a unary operation (-, not, #).
type UnOpExpr struct {
	PosVal  Position
	Op      TokenType
	Operand Expr
}

// ParenExpr is a parenthesised expression; it truncates multiple results to
// one.
type ParenExpr struct {
	PosVal Position
	Inner  Expr
}

// TableField is one entry of a table constructor. Key is nil for positional
// entries.
type TableField struct {
	Key   Expr
	Value Expr
}

// TableExpr is a table constructor.
type TableExpr struct {
	PosVal Position
	Fields []TableField
}

func (n *NilExpr) Pos() Position        { return n.PosVal }
func (n *TrueExpr) Pos() Position       { return n.PosVal }
func (n *FalseExpr) Pos() Position      { return n.PosVal }
func (n *VarargExpr) Pos() Position     { return n.PosVal }
func (n *NumberExpr) Pos() Position     { return n.PosVal }
func (n *StringExpr) Pos() Position     { return n.PosVal }
func (n *NameExpr) Pos() Position       { return n.PosVal }
func (n *IndexExpr) Pos() Position      { return n.PosVal }
func (n *CallExpr) Pos() Position       { return n.PosVal }
func (n *MethodCallExpr) Pos() Position { return n.PosVal }
func (n *FunctionExpr) Pos() Position   { return n.PosVal }
func (n *BinOpExpr) Pos() Position      { return n.PosVal }
func (n *UnOpExpr) Pos() Position       { return n.PosVal }
func (n *ParenExpr) Pos() Position      { return n.PosVal }
func (n *TableExpr) Pos() Position      { return n.PosVal }

func (n *NilExpr) node()        {}
func (n *TrueExpr) node()       {}
func (n *FalseExpr) node()      {}
func (n *VarargExpr) node()     {}
func (n *NumberExpr) node()     {}
func (n *StringExpr) node()     {}
func (n *NameExpr) node()       {}
func (n *IndexExpr) node()      {}
func (n *CallExpr) node()       {}
func (n *MethodCallExpr) node() {}
func (n *FunctionExpr) node()   {}
func (n *BinOpExpr) node()      {}
func (n *UnOpExpr) node()       {}
func (n *ParenExpr) node()      {}
func (n *TableExpr) node()      {}

func (n *NilExpr) expr()        {}
func (n *TrueExpr) expr()       {}
func (n *FalseExpr) expr()      {}
func (n *VarargExpr) expr()     {}
func (n *NumberExpr) expr()     {}
func (n *StringExpr) expr()     {}
func (n *NameExpr) expr()       {}
func (n *IndexExpr) expr()      {}
func (n *CallExpr) expr()       {}
func (n *MethodCallExpr) expr() {}
func (n *FunctionExpr) expr()   {}
func (n *BinOpExpr) expr()      {}
func (n *UnOpExpr) expr()       {}
func (n *ParenExpr) expr()      {}
func (n *TableExpr) expr()      {}

// isMulti reports whether e can produce a variable number of values.
func isMulti(e Expr) bool {
	switch e.(type) {
	case *CallExpr, *MethodCallExpr, *VarargExpr:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// LocalStmt is "local a, b = e1, e2".
type LocalStmt struct {
	PosVal Position
	Names  []string
	Exprs  []Expr
}

// AssignStmt is "t1, t2 = e1, e2". Targets are NameExpr or IndexExpr.
type AssignStmt struct {
	PosVal  Position
	Targets []Expr
	Exprs   []Expr
}

// CallStmt is a function call used as a statement.
type CallStmt struct {
	PosVal Position
	Call   Expr // *CallExpr or *MethodCallExpr
}

// DoStmt is "do ... end".
type DoStmt struct {
	PosVal Position
	Body   []Stmt
}

// WhileStmt is "while Cond do ... end".
type WhileStmt struct {
	PosVal Position
	Cond   Expr
	Body   []Stmt
}

// RepeatStmt is "repeat ... until Cond". Cond sees the body's locals.
type RepeatStmt struct {
	PosVal Position
	Body   []Stmt
	Cond   Expr
}

// IfStmt is an if/elseif/else chain.
type IfStmt struct {
	PosVal Position
	Conds  []Expr
	Blocks [][]Stmt
	Else   []Stmt // nil when absent
}

// NumericForStmt is "for Var = Start, Limit, Step do ... end".
type NumericForStmt struct {
	PosVal Position
	Var    string
	Start  Expr
	Limit  Expr
	Step   Expr // nil means 1
	Body   []Stmt
}

// GenericForStmt is "for n1, n2 in e1, e2 do ... end".
type GenericForStmt struct {
	PosVal Position
	Names  []string
	Exprs  []Expr
	Body   []Stmt
}

// FunctionStmt is "function a.b.c:m() ... end"; Target is the assignment
// target, and for methods Func already includes the self parameter.
type FunctionStmt struct {
	PosVal Position
	Target Expr
	Func   *FunctionExpr
}

// LocalFunctionStmt is "local function f() ... end".
type LocalFunctionStmt struct {
	PosVal Position
	Name   string
	Func   *FunctionExpr
}

// ReturnStmt is "return e1, e2".
type ReturnStmt struct {
	PosVal Position
	Exprs  []Expr
}

// BreakStmt is "break".
type BreakStmt struct {
	PosVal Position
}

func (n *LocalStmt) Pos() Position         { return n.PosVal }
func (n *AssignStmt) Pos() Position        { return n.PosVal }
func (n *CallStmt) Pos() Position          { return n.PosVal }
func (n *DoStmt) Pos() Position            { return n.PosVal }
func (n *WhileStmt) Pos() Position         { return n.PosVal }
func (n *RepeatStmt) Pos() Position        { return n.PosVal }
func (n *IfStmt) Pos() Position            { return n.PosVal }
func (n *NumericForStmt) Pos() Position    { return n.PosVal }
func (n *GenericForStmt) Pos() Position    { return n.PosVal }
func (n *FunctionStmt) Pos() Position      { return n.PosVal }
func (n *LocalFunctionStmt) Pos() Position { return n.PosVal }
func (n *ReturnStmt) Pos() Position        { return n.PosVal }
func (n *BreakStmt) Pos() Position         { return n.PosVal }

func (n *LocalStmt) node()         {}
func (n *AssignStmt) node()        {}
func (n *CallStmt) node()          {}
func (n *DoStmt) node()            {}
func (n *WhileStmt) node()         {}
func (n *RepeatStmt) node()        {}
func (n *IfStmt) node()            {}
func (n *NumericForStmt) node()    {}
func (n *GenericForStmt) node()    {}
func (n *FunctionStmt) node()      {}
func (n *LocalFunctionStmt) node() {}
func (n *ReturnStmt) node()        {}
func (n *BreakStmt) node()         {}

func (n *LocalStmt) stmt()         {}
func (n *AssignStmt) stmt()        {}
func (n *CallStmt) stmt()          {}
func (n *DoStmt) stmt()            {}
func (n *WhileStmt) stmt()         {}
func (n *RepeatStmt) stmt()        {}
func (n *IfStmt) stmt()            {}
func (n *NumericForStmt) stmt()    {}
func (n *GenericForStmt) stmt()    {}
func (n *FunctionStmt) stmt()      {}
func (n *LocalFunctionStmt) stmt() {}
func (n *ReturnStmt) stmt()        {}
func (n *BreakStmt) stmt()         {}

// Chunk is a parsed source file: the body of the main function.
type Chunk struct {
	Name string
	Body []Stmt
}
