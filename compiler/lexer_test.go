package compiler

import (
	"testing"
)

func TestLexerBasicTokens(t *testing.T) {
	input := `( ) [ ] { } ^ . .. ... ; : , = == ~= <= >= < > # + - * / %`
	expected := []TokenType{
		TokenLParen, TokenRParen, TokenLBracket, TokenRBracket,
		TokenLBrace, TokenRBrace, TokenCaret, TokenDot, TokenConcat,
		TokenDots, TokenSemicolon, TokenColon, TokenComma, TokenAssign,
		TokenEq, TokenNe, TokenLe, TokenGe, TokenLt, TokenGt, TokenHash,
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent,
		TokenEOF,
	}

	l := NewLexer(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, want)
		}
	}
}

func TestLexerKeywords(t *testing.T) {
	for word, typ := range reservedWords {
		tok := NewLexer(word).NextToken()
		if tok.Type != typ {
			t.Errorf("Lexer(%q): type = %v, want %v", word, tok.Type, typ)
		}
	}
	tok := NewLexer("ends").NextToken()
	if tok.Type != TokenName || tok.Literal != "ends" {
		t.Errorf("Lexer(ends) = %v, want name", tok)
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []string{"42", "0", "3.14", ".5", "1e10", "1.5e-3", "2.0E+5", "0xff", "0XA0"}
	for _, input := range tests {
		tok := NewLexer(input).NextToken()
		if tok.Type != TokenNumber {
			t.Errorf("Lexer(%q): type = %v, want <number>", input, tok.Type)
		}
		if tok.Literal != input {
			t.Errorf("Lexer(%q): literal = %q", input, tok.Literal)
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`'single'`, "single"},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"q\"q"`, `q"q`},
		{`"\65\066"`, "AB"},
		{`"\\"`, `\`},
		{"[[long\nstring]]", "long\nstring"},
		{"[[\nskip first newline]]", "skip first newline"},
		{"[==[with ]] inside]==]", "with ]] inside"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenString {
			t.Errorf("Lexer(%q): type = %v, want <string>", tc.input, tok.Type)
			continue
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerComments(t *testing.T) {
	input := "-- line comment\nx --[[ long\ncomment ]] y --[==[ ]==] z"
	l := NewLexer(input)
	for _, want := range []string{"x", "y", "z"} {
		tok := l.NextToken()
		if tok.Type != TokenName || tok.Literal != want {
			t.Errorf("got %v, want name %q", tok, want)
		}
	}
	if tok := l.NextToken(); tok.Type != TokenEOF {
		t.Errorf("got %v, want EOF", tok)
	}
}

func TestLexerShebang(t *testing.T) {
	l := NewLexer("#!/usr/bin/env kahlua\nreturn")
	tok := l.NextToken()
	if tok.Type != TokenReturn {
		t.Fatalf("got %v, want return", tok)
	}
	if tok.Pos.Line != 2 {
		t.Errorf("line = %d, want 2", tok.Pos.Line)
	}
}

func TestLexerPositions(t *testing.T) {
	l := NewLexer("local x\n  = 1")
	want := []Position{{Offset: 0, Line: 1, Column: 1}, {Offset: 6, Line: 1, Column: 7}, {Offset: 10, Line: 2, Column: 3}, {Offset: 12, Line: 2, Column: 5}}
	for i, w := range want {
		tok := l.NextToken()
		if tok.Pos != w {
			t.Errorf("token[%d] %v pos = %+v, want %+v", i, tok, tok.Pos, w)
		}
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input string
		msg   string
	}{
		{`"unterminated`, "unfinished string"},
		{"\"line\nbreak\"", "unfinished string"},
		{"[[never closed", "unfinished long string"},
		{"--[[ never closed", "unfinished long comment"},
		{`"\999"`, "escape sequence too large"},
		{"~", "unexpected symbol near '~'"},
		{"@", "unexpected symbol near '@'"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenError {
			t.Errorf("Lexer(%q): type = %v, want ERROR", tc.input, tok.Type)
			continue
		}
		if tok.Literal != tc.msg {
			t.Errorf("Lexer(%q): msg = %q, want %q", tc.input, tok.Literal, tc.msg)
		}
	}
}
