package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Lua source
// ---------------------------------------------------------------------------

// Lexer tokenizes Lua source code. Source is treated as bytes; string
// literals may contain arbitrary bytes.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current character, 0 at EOF
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	// A leading "#!" line is skipped, as the reference interpreter does.
	if strings.HasPrefix(input, "#") {
		if i := strings.IndexByte(input, '\n'); i >= 0 {
			l.readPos = i
		} else {
			l.readPos = len(input)
		}
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		return
	}
	l.ch = l.input[l.readPos]
	l.pos = l.readPos
	l.readPos++
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

func (l *Lexer) token(t TokenType, pos Position) Token {
	return Token{Type: t, Literal: t.String(), Pos: pos}
}

func (l *Lexer) errorf(pos Position, format string, args ...any) Token {
	return Token{Type: TokenError, Literal: fmt.Sprintf(format, args...), Pos: pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	if tok, ok := l.skipWhitespaceAndComments(); !ok {
		return tok
	}

	pos := l.position()
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos}
	}

	ch := l.ch
	switch ch {
	case '+':
		l.readChar()
		return l.token(TokenPlus, pos)
	case '-':
		l.readChar()
		return l.token(TokenMinus, pos)
	case '*':
		l.readChar()
		return l.token(TokenStar, pos)
	case '/':
		l.readChar()
		return l.token(TokenSlash, pos)
	case '%':
		l.readChar()
		return l.token(TokenPercent, pos)
	case '^':
		l.readChar()
		return l.token(TokenCaret, pos)
	case '#':
		l.readChar()
		return l.token(TokenHash, pos)
	case '(':
		l.readChar()
		return l.token(TokenLParen, pos)
	case ')':
		l.readChar()
		return l.token(TokenRParen, pos)
	case '{':
		l.readChar()
		return l.token(TokenLBrace, pos)
	case '}':
		l.readChar()
		return l.token(TokenRBrace, pos)
	case ']':
		l.readChar()
		return l.token(TokenRBracket, pos)
	case ';':
		l.readChar()
		return l.token(TokenSemicolon, pos)
	case ':':
		l.readChar()
		return l.token(TokenColon, pos)
	case ',':
		l.readChar()
		return l.token(TokenComma, pos)

	case '=':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return l.token(TokenEq, pos)
		}
		return l.token(TokenAssign, pos)
	case '<':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return l.token(TokenLe, pos)
		}
		return l.token(TokenLt, pos)
	case '>':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return l.token(TokenGe, pos)
		}
		return l.token(TokenGt, pos)
	case '~':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return l.token(TokenNe, pos)
		}
		return l.errorf(pos, "unexpected symbol near '~'")

	case '[':
		if level := l.longBracketLevel(); level >= 0 {
			s, ok := l.readLongBracket(level)
			if !ok {
				return l.errorf(pos, "unfinished long string")
			}
			return Token{Type: TokenString, Literal: s, Pos: pos}
		}
		l.readChar()
		return l.token(TokenLBracket, pos)

	case '.':
		if isDigit(l.peekChar()) {
			return l.readNumber(pos)
		}
		l.readChar()
		if l.ch != '.' {
			return l.token(TokenDot, pos)
		}
		l.readChar()
		if l.ch != '.' {
			return l.token(TokenConcat, pos)
		}
		l.readChar()
		return l.token(TokenDots, pos)

	case '"', '\'':
		return l.readString(pos)
	}

	switch {
	case isDigit(ch):
		return l.readNumber(pos)
	case isLetter(ch):
		start := l.pos
		for isLetter(l.ch) || isDigit(l.ch) {
			l.readChar()
		}
		ident := l.input[start:l.pos]
		return Token{Type: LookupIdent(ident), Literal: ident, Pos: pos}
	}

	l.readChar()
	return l.errorf(pos, "unexpected symbol near '%c'", ch)
}

// skipWhitespaceAndComments skips whitespace, line comments and long
// comments. It returns false with an error token for an unfinished long
// comment.
func (l *Lexer) skipWhitespaceAndComments() (Token, bool) {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' || l.ch == '\v' {
			l.readChar()
		}
		if l.ch != '-' || l.peekChar() != '-' {
			return Token{}, true
		}
		pos := l.position()
		l.readChar()
		l.readChar()
		if l.ch == '[' {
			if level := l.longBracketLevel(); level >= 0 {
				if _, ok := l.readLongBracket(level); !ok {
					return l.errorf(pos, "unfinished long comment"), false
				}
				continue
			}
		}
		for l.ch != '\n' && !l.atEOF() {
			l.readChar()
		}
	}
}

// longBracketLevel returns the level of a long bracket opening at the
// current '[' ("[[" is level 0, "[==[" level 2), or -1 if there is none.
func (l *Lexer) longBracketLevel() int {
	i := l.pos + 1
	level := 0
	for i < len(l.input) && l.input[i] == '=' {
		level++
		i++
	}
	if i < len(l.input) && l.input[i] == '[' {
		return level
	}
	return -1
}

// readLongBracket consumes a long bracket of the given level and returns its
// contents. A newline directly after the opening bracket is dropped.
func (l *Lexer) readLongBracket(level int) (string, bool) {
	for range level + 2 {
		l.readChar()
	}
	if l.ch == '\r' {
		l.readChar()
	}
	if l.ch == '\n' {
		l.readChar()
	}
	closing := "]" + strings.Repeat("=", level) + "]"
	start := l.pos
	end := strings.Index(l.input[start:], closing)
	if end < 0 {
		for !l.atEOF() {
			l.readChar()
		}
		return "", false
	}
	for l.pos < start+end+len(closing) {
		l.readChar()
	}
	return l.input[start : start+end], true
}

// readNumber reads a decimal or hexadecimal number literal.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
	} else {
		for isDigit(l.ch) || l.ch == '.' {
			l.readChar()
		}
		if l.ch == 'e' || l.ch == 'E' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
		}
	}
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: pos}
}

// readString reads a quoted string literal, decoding escapes.
func (l *Lexer) readString(pos Position) Token {
	quote := l.ch
	l.readChar()

	var sb strings.Builder
	for l.ch != quote {
		switch {
		case l.atEOF(), l.ch == '\n':
			return l.errorf(pos, "unfinished string")
		case l.ch == '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'a':
				sb.WriteByte('\a')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case 'v':
				sb.WriteByte('\v')
			case '\n':
				sb.WriteByte('\n')
			case '\\', '"', '\'':
				sb.WriteByte(l.ch)
			default:
				if !isDigit(l.ch) {
					if l.atEOF() {
						return l.errorf(pos, "unfinished string")
					}
					sb.WriteByte(l.ch)
					break
				}
				n := 0
				for i := 0; i < 3 && isDigit(l.ch); i++ {
					n = n*10 + int(l.ch-'0')
					l.readChar()
				}
				if n > 255 {
					return l.errorf(pos, "escape sequence too large")
				}
				sb.WriteByte(byte(n))
				continue
			}
			l.readChar()
		default:
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
	l.readChar() // closing quote
	return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
}

// ---------------------------------------------------------------------------
// Character classification
// ---------------------------------------------------------------------------

func isLetter(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
}
