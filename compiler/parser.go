package compiler

import (
	"fmt"

	"github.com/gigfork/kahlua2/vm"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Lua
// ---------------------------------------------------------------------------

// SyntaxError is a lexical or grammatical error in a chunk.
type SyntaxError struct {
	Chunk string
	Line  int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Chunk, e.Line, e.Msg)
}

// bailout unwinds the parser after the first error.
type bailout struct{}

// Parser parses Lua source code into an AST.
type Parser struct {
	lexer     *Lexer
	chunk     string
	curToken  Token
	peekToken Token
	err       *SyntaxError

	varargs []bool // per open function: may "..." be used
}

// NewParser creates a new parser for the given input.
func NewParser(input, chunkName string) *Parser {
	return &Parser{
		lexer: NewLexer(input),
		chunk: chunkName,
	}
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.curToken.Type == TokenError {
		p.fail(p.curToken.Pos.Line, p.curToken.Literal)
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// accept consumes the current token if it has type t.
func (p *Parser) accept(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes a token of type t or fails.
func (p *Parser) expect(t TokenType) Token {
	tok := p.curToken
	if !p.accept(t) {
		p.errorf("'%s' expected near %s", t, p.near())
	}
	return tok
}

// expectMatch consumes the closing token of a construct opened at line.
func (p *Parser) expectMatch(t, open TokenType, line int) {
	if p.accept(t) {
		return
	}
	if line == p.curToken.Pos.Line {
		p.errorf("'%s' expected near %s", t, p.near())
	}
	p.errorf("'%s' expected (to close '%s' at line %d) near %s", t, open, line, p.near())
}

func (p *Parser) expectName() string {
	return p.expect(TokenName).Literal
}

func (p *Parser) near() string {
	switch p.curToken.Type {
	case TokenEOF:
		return "'<eof>'"
	case TokenName, TokenNumber:
		return "'" + p.curToken.Literal + "'"
	case TokenString:
		return "'" + p.curToken.Literal + "'"
	}
	return "'" + p.curToken.Type.String() + "'"
}

// errorf records a syntax error at the current token and aborts parsing.
func (p *Parser) errorf(format string, args ...any) {
	p.fail(p.curToken.Pos.Line, fmt.Sprintf(format, args...))
}

func (p *Parser) fail(line int, msg string) {
	if p.err == nil {
		p.err = &SyntaxError{Chunk: p.chunk, Line: line, Msg: msg}
	}
	panic(bailout{})
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseChunk parses the whole input as the body of a vararg main function.
func (p *Parser) ParseChunk() (chunk *Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			chunk, err = nil, p.err
		}
	}()
	p.nextToken()
	p.nextToken()
	p.varargs = append(p.varargs, true)
	body := p.parseBlock()
	if !p.curTokenIs(TokenEOF) {
		p.errorf("'<eof>' expected near %s", p.near())
	}
	return &Chunk{Name: p.chunk, Body: body}, nil
}

func blockFollow(t TokenType) bool {
	switch t {
	case TokenEOF, TokenEnd, TokenElse, TokenElseif, TokenUntil:
		return true
	}
	return false
}

// parseBlock parses statements up to a block terminator. A return or break
// must be the last statement of its block.
func (p *Parser) parseBlock() []Stmt {
	var stmts []Stmt
	for !blockFollow(p.curToken.Type) {
		if p.curTokenIs(TokenReturn) {
			stmts = append(stmts, p.parseReturn())
			break
		}
		if p.curTokenIs(TokenBreak) {
			stmts = append(stmts, &BreakStmt{PosVal: p.curToken.Pos})
			p.nextToken()
			p.accept(TokenSemicolon)
			break
		}
		stmts = append(stmts, p.parseStatement())
		p.accept(TokenSemicolon)
	}
	return stmts
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseStatement() Stmt {
	pos := p.curToken.Pos
	switch p.curToken.Type {
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		p.nextToken()
		cond := p.parseExpr()
		p.expect(TokenDo)
		body := p.parseBlock()
		p.expectMatch(TokenEnd, TokenWhile, pos.Line)
		return &WhileStmt{PosVal: pos, Cond: cond, Body: body}
	case TokenDo:
		p.nextToken()
		body := p.parseBlock()
		p.expectMatch(TokenEnd, TokenDo, pos.Line)
		return &DoStmt{PosVal: pos, Body: body}
	case TokenFor:
		return p.parseFor()
	case TokenRepeat:
		p.nextToken()
		body := p.parseBlock()
		p.expectMatch(TokenUntil, TokenRepeat, pos.Line)
		cond := p.parseExpr()
		return &RepeatStmt{PosVal: pos, Body: body, Cond: cond}
	case TokenFunction:
		return p.parseFunctionStmt()
	case TokenLocal:
		p.nextToken()
		if p.accept(TokenFunction) {
			name := p.expectName()
			fn := p.parseFunctionBody(pos, name, false)
			return &LocalFunctionStmt{PosVal: pos, Name: name, Func: fn}
		}
		return p.parseLocal(pos)
	}
	return p.parseExprStatement()
}

func (p *Parser) parseIf() Stmt {
	pos := p.curToken.Pos
	stmt := &IfStmt{PosVal: pos}
	p.nextToken()
	cond := p.parseExpr()
	p.expect(TokenThen)
	stmt.Conds = append(stmt.Conds, cond)
	stmt.Blocks = append(stmt.Blocks, p.parseBlock())
	for p.curTokenIs(TokenElseif) {
		p.nextToken()
		cond := p.parseExpr()
		p.expect(TokenThen)
		stmt.Conds = append(stmt.Conds, cond)
		stmt.Blocks = append(stmt.Blocks, p.parseBlock())
	}
	if p.accept(TokenElse) {
		stmt.Else = p.parseBlock()
		if stmt.Else == nil {
			stmt.Else = []Stmt{}
		}
	}
	p.expectMatch(TokenEnd, TokenIf, pos.Line)
	return stmt
}

func (p *Parser) parseFor() Stmt {
	pos := p.curToken.Pos
	p.nextToken()
	first := p.expectName()
	if p.accept(TokenAssign) {
		stmt := &NumericForStmt{PosVal: pos, Var: first}
		stmt.Start = p.parseExpr()
		p.expect(TokenComma)
		stmt.Limit = p.parseExpr()
		if p.accept(TokenComma) {
			stmt.Step = p.parseExpr()
		}
		p.expect(TokenDo)
		stmt.Body = p.parseBlock()
		p.expectMatch(TokenEnd, TokenFor, pos.Line)
		return stmt
	}
	if !p.curTokenIs(TokenComma) && !p.curTokenIs(TokenIn) {
		p.errorf("'=' or 'in' expected near %s", p.near())
	}
	stmt := &GenericForStmt{PosVal: pos, Names: []string{first}}
	for p.accept(TokenComma) {
		stmt.Names = append(stmt.Names, p.expectName())
	}
	p.expect(TokenIn)
	stmt.Exprs = p.parseExprList()
	p.expect(TokenDo)
	stmt.Body = p.parseBlock()
	p.expectMatch(TokenEnd, TokenFor, pos.Line)
	return stmt
}

func (p *Parser) parseFunctionStmt() Stmt {
	pos := p.curToken.Pos
	p.nextToken()
	namePos := p.curToken.Pos
	name := p.expectName()
	var target Expr = &NameExpr{PosVal: namePos, Name: name}
	fullName := name
	for p.curTokenIs(TokenDot) {
		p.nextToken()
		keyPos := p.curToken.Pos
		key := p.expectName()
		target = &IndexExpr{PosVal: keyPos, Obj: target, Key: &StringExpr{PosVal: keyPos, Value: key}}
		fullName += "." + key
	}
	method := false
	if p.accept(TokenColon) {
		keyPos := p.curToken.Pos
		key := p.expectName()
		target = &IndexExpr{PosVal: keyPos, Obj: target, Key: &StringExpr{PosVal: keyPos, Value: key}}
		fullName += ":" + key
		method = true
	}
	fn := p.parseFunctionBody(pos, fullName, method)
	return &FunctionStmt{PosVal: pos, Target: target, Func: fn}
}

func (p *Parser) parseLocal(pos Position) Stmt {
	stmt := &LocalStmt{PosVal: pos}
	stmt.Names = append(stmt.Names, p.expectName())
	for p.accept(TokenComma) {
		stmt.Names = append(stmt.Names, p.expectName())
	}
	if p.accept(TokenAssign) {
		stmt.Exprs = p.parseExprList()
	}
	return stmt
}

func (p *Parser) parseReturn() Stmt {
	pos := p.curToken.Pos
	p.nextToken()
	stmt := &ReturnStmt{PosVal: pos}
	if !blockFollow(p.curToken.Type) && !p.curTokenIs(TokenSemicolon) {
		stmt.Exprs = p.parseExprList()
	}
	p.accept(TokenSemicolon)
	if !blockFollow(p.curToken.Type) {
		p.errorf("'<eof>' expected near %s", p.near())
	}
	return stmt
}

func (p *Parser) parseExprStatement() Stmt {
	pos := p.curToken.Pos
	e := p.parseSuffixedExpr()
	if p.curTokenIs(TokenAssign) || p.curTokenIs(TokenComma) {
		targets := []Expr{e}
		for p.accept(TokenComma) {
			targets = append(targets, p.parseSuffixedExpr())
		}
		for _, t := range targets {
			switch t.(type) {
			case *NameExpr, *IndexExpr:
			default:
				p.errorf("syntax error near %s", p.near())
			}
		}
		p.expect(TokenAssign)
		return &AssignStmt{PosVal: pos, Targets: targets, Exprs: p.parseExprList()}
	}
	switch e.(type) {
	case *CallExpr, *MethodCallExpr:
		return &CallStmt{PosVal: pos, Call: e}
	}
	p.errorf("syntax error near %s", p.near())
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Operator priorities: left and right binding power of each binary operator.
var binaryPriority = map[TokenType][2]int{
	TokenPlus:    {6, 6},
	TokenMinus:   {6, 6},
	TokenStar:    {7, 7},
	TokenSlash:   {7, 7},
	TokenPercent: {7, 7},
	TokenCaret:   {10, 9}, // right associative
	TokenConcat:  {5, 4},  // right associative
	TokenEq:      {3, 3},
	TokenNe:      {3, 3},
	TokenLt:      {3, 3},
	TokenLe:      {3, 3},
	TokenGt:      {3, 3},
	TokenGe:      {3, 3},
	TokenAnd:     {2, 2},
	TokenOr:      {1, 1},
}

const unaryPriority = 8

// parseExpr parses a full expression.
func (p *Parser) parseExpr() Expr {
	return p.parseSubExpr(0)
}

func (p *Parser) parseExprList() []Expr {
	list := []Expr{p.parseExpr()}
	for p.accept(TokenComma) {
		list = append(list, p.parseExpr())
	}
	return list
}

// parseSubExpr parses an expression whose binary operators bind tighter
// than limit.
func (p *Parser) parseSubExpr(limit int) Expr {
	var left Expr
	pos := p.curToken.Pos
	switch op := p.curToken.Type; op {
	case TokenNot, TokenMinus, TokenHash:
		p.nextToken()
		operand := p.parseSubExpr(unaryPriority)
		if num, ok := operand.(*NumberExpr); ok && op == TokenMinus {
			left = &NumberExpr{PosVal: pos, Value: -num.Value}
		} else {
			left = &UnOpExpr{PosVal: pos, Op: op, Operand: operand}
		}
	default:
		left = p.parseSimpleExpr()
	}
	for {
		op := p.curToken.Type
		prio, ok := binaryPriority[op]
		if !ok || prio[0] <= limit {
			return left
		}
		opPos := p.curToken.Pos
		p.nextToken()
		right := p.parseSubExpr(prio[1])
		left = &BinOpExpr{PosVal: opPos, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseSimpleExpr() Expr {
	tok := p.curToken
	pos := tok.Pos
	switch tok.Type {
	case TokenNumber:
		p.nextToken()
		v, ok := vm.ParseNumber(tok.Literal)
		if !ok {
			p.fail(pos.Line, fmt.Sprintf("malformed number near '%s'", tok.Literal))
		}
		return &NumberExpr{PosVal: pos, Value: v}
	case TokenString:
		p.nextToken()
		return &StringExpr{PosVal: pos, Value: tok.Literal}
	case TokenNil:
		p.nextToken()
		return &NilExpr{PosVal: pos}
	case TokenTrue:
		p.nextToken()
		return &TrueExpr{PosVal: pos}
	case TokenFalse:
		p.nextToken()
		return &FalseExpr{PosVal: pos}
	case TokenDots:
		if !p.varargs[len(p.varargs)-1] {
			p.errorf("cannot use '...' outside a vararg function near '...'")
		}
		p.nextToken()
		return &VarargExpr{PosVal: pos}
	case TokenLBrace:
		return p.parseTable()
	case TokenFunction:
		p.nextToken()
		return p.parseFunctionBody(pos, "", false)
	}
	return p.parseSuffixedExpr()
}

func (p *Parser) parsePrimaryExpr() Expr {
	pos := p.curToken.Pos
	switch p.curToken.Type {
	case TokenName:
		name := p.curToken.Literal
		p.nextToken()
		return &NameExpr{PosVal: pos, Name: name}
	case TokenLParen:
		p.nextToken()
		inner := p.parseExpr()
		p.expectMatch(TokenRParen, TokenLParen, pos.Line)
		return &ParenExpr{PosVal: pos, Inner: inner}
	}
	p.errorf("unexpected symbol near %s", p.near())
	return nil
}

func (p *Parser) parseSuffixedExpr() Expr {
	e := p.parsePrimaryExpr()
	for {
		pos := p.curToken.Pos
		switch p.curToken.Type {
		case TokenDot:
			p.nextToken()
			keyPos := p.curToken.Pos
			key := p.expectName()
			e = &IndexExpr{PosVal: pos, Obj: e, Key: &StringExpr{PosVal: keyPos, Value: key}}
		case TokenLBracket:
			p.nextToken()
			key := p.parseExpr()
			p.expect(TokenRBracket)
			e = &IndexExpr{PosVal: pos, Obj: e, Key: key}
		case TokenColon:
			p.nextToken()
			name := p.expectName()
			e = &MethodCallExpr{PosVal: pos, Obj: e, Name: name, Args: p.parseArgs()}
		case TokenLParen, TokenString, TokenLBrace:
			e = &CallExpr{PosVal: pos, Fn: e, Args: p.parseArgs()}
		default:
			return e
		}
	}
}

func (p *Parser) parseArgs() []Expr {
	pos := p.curToken.Pos
	switch p.curToken.Type {
	case TokenString:
		s := p.curToken.Literal
		p.nextToken()
		return []Expr{&StringExpr{PosVal: pos, Value: s}}
	case TokenLBrace:
		return []Expr{p.parseTable()}
	case TokenLParen:
		p.nextToken()
		if p.accept(TokenRParen) {
			return nil
		}
		args := p.parseExprList()
		p.expectMatch(TokenRParen, TokenLParen, pos.Line)
		return args
	}
	p.errorf("function arguments expected near %s", p.near())
	return nil
}

func (p *Parser) parseTable() Expr {
	pos := p.curToken.Pos
	p.expect(TokenLBrace)
	t := &TableExpr{PosVal: pos}
	for !p.curTokenIs(TokenRBrace) {
		switch {
		case p.curTokenIs(TokenName) && p.peekToken.Type == TokenAssign:
			keyPos := p.curToken.Pos
			key := p.curToken.Literal
			p.nextToken()
			p.nextToken()
			t.Fields = append(t.Fields, TableField{Key: &StringExpr{PosVal: keyPos, Value: key}, Value: p.parseExpr()})
		case p.curTokenIs(TokenLBracket):
			p.nextToken()
			key := p.parseExpr()
			p.expect(TokenRBracket)
			p.expect(TokenAssign)
			t.Fields = append(t.Fields, TableField{Key: key, Value: p.parseExpr()})
		default:
			t.Fields = append(t.Fields, TableField{Value: p.parseExpr()})
		}
		if !p.accept(TokenComma) && !p.accept(TokenSemicolon) {
			break
		}
	}
	p.expectMatch(TokenRBrace, TokenLBrace, pos.Line)
	return t
}

// parseFunctionBody parses "(params) block end". For methods an implicit
// self parameter comes first.
func (p *Parser) parseFunctionBody(pos Position, name string, method bool) *FunctionExpr {
	fn := &FunctionExpr{PosVal: pos, Name: name}
	if method {
		fn.Params = append(fn.Params, "self")
	}
	p.expect(TokenLParen)
	if !p.curTokenIs(TokenRParen) {
		for {
			if p.accept(TokenDots) {
				fn.IsVararg = true
				break
			}
			fn.Params = append(fn.Params, p.expectName())
			if !p.accept(TokenComma) {
				break
			}
		}
	}
	p.expect(TokenRParen)
	p.varargs = append(p.varargs, fn.IsVararg)
	fn.Body = p.parseBlock()
	p.varargs = p.varargs[:len(p.varargs)-1]
	fn.EndLine = p.curToken.Pos.Line
	p.expectMatch(TokenEnd, TokenFunction, pos.Line)
	return fn
}
