package compiler

import (
	"errors"
	"testing"
)

func parse(t *testing.T, src string) *Chunk {
	t.Helper()
	chunk, err := NewParser(src, "test").ParseChunk()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return chunk
}

func TestParseLocal(t *testing.T) {
	chunk := parse(t, "local a, b = 1, 'x'")
	if len(chunk.Body) != 1 {
		t.Fatalf("got %d statements, want 1", len(chunk.Body))
	}
	stmt, ok := chunk.Body[0].(*LocalStmt)
	if !ok {
		t.Fatalf("got %T, want *LocalStmt", chunk.Body[0])
	}
	if len(stmt.Names) != 2 || stmt.Names[0] != "a" || stmt.Names[1] != "b" {
		t.Errorf("names = %v", stmt.Names)
	}
	if n, ok := stmt.Exprs[0].(*NumberExpr); !ok || n.Value != 1 {
		t.Errorf("exprs[0] = %#v", stmt.Exprs[0])
	}
	if s, ok := stmt.Exprs[1].(*StringExpr); !ok || s.Value != "x" {
		t.Errorf("exprs[1] = %#v", stmt.Exprs[1])
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"return 1 + 2 * 3", "(1 + (2 * 3))"},
		{"return (1 + 2) * 3", "((1 + 2) * 3)"},
		{"return 2 ^ 3 ^ 2", "(2 ^ (3 ^ 2))"},
		{"return -2 ^ 2", "(- (2 ^ 2))"},
		{"return 'a' .. 'b' .. 'c'", "(a .. (b .. c))"},
		{"return a or b and c", "(a or (b and c))"},
		{"return not a == b", "((not a) == b)"},
		{"return 1 < 2 == true", "((1 < 2) == true)"},
		{"return #t + 1", "((# t) + 1)"},
		{"return -3", "-3"},
	}

	for _, tc := range tests {
		chunk := parse(t, tc.src)
		ret := chunk.Body[0].(*ReturnStmt)
		if got := exprString(ret.Exprs[0]); got != tc.want {
			t.Errorf("%q: got %s, want %s", tc.src, got, tc.want)
		}
	}
}

// exprString renders operator structure for precedence checks.
func exprString(e Expr) string {
	switch e := e.(type) {
	case *NumberExpr:
		return formatNum(e.Value)
	case *StringExpr:
		return e.Value
	case *NameExpr:
		return e.Name
	case *TrueExpr:
		return "true"
	case *ParenExpr:
		return exprString(e.Inner)
	case *BinOpExpr:
		return "(" + exprString(e.Left) + " " + e.Op.String() + " " + exprString(e.Right) + ")"
	case *UnOpExpr:
		return "(" + e.Op.String() + " " + exprString(e.Operand) + ")"
	}
	return "?"
}

func formatNum(f float64) string {
	if f < 0 {
		return "-" + formatNum(-f)
	}
	return string(rune('0' + int(f)))
}

func TestParseFunctionStatement(t *testing.T) {
	chunk := parse(t, "function a.b.c:m(x, ...) return self end")
	stmt := chunk.Body[0].(*FunctionStmt)
	if stmt.Func.Name != "a.b.c:m" {
		t.Errorf("name = %q", stmt.Func.Name)
	}
	if len(stmt.Func.Params) != 2 || stmt.Func.Params[0] != "self" || stmt.Func.Params[1] != "x" {
		t.Errorf("params = %v", stmt.Func.Params)
	}
	if !stmt.Func.IsVararg {
		t.Error("expected vararg function")
	}
	idx, ok := stmt.Target.(*IndexExpr)
	if !ok {
		t.Fatalf("target = %T", stmt.Target)
	}
	if k := idx.Key.(*StringExpr); k.Value != "m" {
		t.Errorf("key = %q", k.Value)
	}
	if stmt.Func.EndLine != 1 {
		t.Errorf("end line = %d", stmt.Func.EndLine)
	}
}

func TestParseControlFlow(t *testing.T) {
	src := `
if a then x = 1 elseif b then x = 2 else x = 3 end
while i < 10 do i = i + 1 end
repeat local y = 1 until y
for i = 1, 10, 2 do end
for k, v in pairs(t) do end
do break end
`
	chunk := parse(t, src)
	kinds := []string{}
	for _, s := range chunk.Body {
		switch s.(type) {
		case *IfStmt:
			kinds = append(kinds, "if")
		case *WhileStmt:
			kinds = append(kinds, "while")
		case *RepeatStmt:
			kinds = append(kinds, "repeat")
		case *NumericForStmt:
			kinds = append(kinds, "fornum")
		case *GenericForStmt:
			kinds = append(kinds, "forin")
		case *DoStmt:
			kinds = append(kinds, "do")
		}
	}
	want := []string{"if", "while", "repeat", "fornum", "forin", "do"}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("stmt[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
	ifs := chunk.Body[0].(*IfStmt)
	if len(ifs.Conds) != 2 || ifs.Else == nil {
		t.Errorf("if: %d conds, else=%v", len(ifs.Conds), ifs.Else != nil)
	}
}

func TestParseCallsAndTables(t *testing.T) {
	chunk := parse(t, `f "str" ; g { 1, 2, x = 3, [4] = 5; } obj:method(1)(2)`)
	if len(chunk.Body) != 3 {
		t.Fatalf("got %d statements", len(chunk.Body))
	}
	call := chunk.Body[1].(*CallStmt).Call.(*CallExpr)
	tbl := call.Args[0].(*TableExpr)
	if len(tbl.Fields) != 4 {
		t.Fatalf("fields = %d, want 4", len(tbl.Fields))
	}
	if tbl.Fields[0].Key != nil || tbl.Fields[2].Key == nil || tbl.Fields[3].Key == nil {
		t.Errorf("unexpected field keys: %+v", tbl.Fields)
	}
	outer := chunk.Body[2].(*CallStmt).Call.(*CallExpr)
	if _, ok := outer.Fn.(*MethodCallExpr); !ok {
		t.Errorf("inner call = %T, want *MethodCallExpr", outer.Fn)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src  string
		line int
		msg  string
	}{
		{"x = ", 1, "unexpected symbol near '<eof>'"},
		{"local function f()\n", 2, "'end' expected (to close 'function' at line 1) near '<eof>'"},
		{"x", 1, "syntax error near '<eof>'"},
		{"return 1 x = 2", 1, "'<eof>' expected near 'x'"},
		{"function f() return ... end", 1, "cannot use '...' outside a vararg function near '...'"},
		{"for i do end", 1, "'=' or 'in' expected near 'do'"},
		{"x = 1e", 1, "malformed number near '1e'"},
		{"f(", 1, "unexpected symbol near '<eof>'"},
	}

	for _, tc := range tests {
		_, err := NewParser(tc.src, "test").ParseChunk()
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("%q: err = %v, want *SyntaxError", tc.src, err)
			continue
		}
		if se.Line != tc.line || se.Msg != tc.msg {
			t.Errorf("%q: got %d %q, want %d %q", tc.src, se.Line, se.Msg, tc.line, tc.msg)
		}
	}
}

func TestSyntaxErrorFormat(t *testing.T) {
	_, err := NewParser("\n\nx = = 1", "chunk.lua").ParseChunk()
	if err == nil {
		t.Fatal("expected error")
	}
	want := "chunk.lua:3: unexpected symbol near '='"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}
