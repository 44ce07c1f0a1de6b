package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen   // (
	tokRParen   // )
	tokLBracket // [
	tokRBracket // ]
	tokLBrace   // {
	tokRBrace   // }
	tokComma
	tokColon
	tokSemicolon
	tokDot
	tokAt // @
	tokAssign
	tokEq       // ==
	tokNotEq    // !=
	tokRegex    // =~
	tokLess     // <
	tokLessEq   // <=
	tokGreater  // >
	tokGreaterEq
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokBang
	tokAmp       // &
	tokAmpAmp    // &&
	tokPipe      // |
	tokPipePipe  // ||
	tokPipeLess  // |< (head attribute)
	tokPipeMinus // |- (filter)
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// ParseError describes a syntactically invalid policy document. Documents
// failing to parse are excluded from the loaded set, never evaluated.
type ParseError struct {
	Document string
	Line     int
	Col      int
	Msg      string
}

func (e *ParseError) Error() string {
	if e.Document != "" {
		return fmt.Sprintf("parse %s:%d:%d: %s", e.Document, e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("parse %d:%d: %s", e.Line, e.Col, e.Msg)
}

type lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src), line: 1, col: 1}
}

func (l *lexer) errorf(format string, args ...any) *ParseError {
	return &ParseError{Line: l.line, Col: l.col, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		r := l.peek()
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case r == '/' && l.peekAt(1) == '/':
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		case r == '/' && l.peekAt(1) == '*':
			l.advance()
			l.advance()
			closed := false
			for l.pos < len(l.src) {
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return l.errorf("unterminated block comment")
			}
		default:
			return nil
		}
	}
	return nil
}

// tokenize scans the whole source up front.
func tokenize(src string) ([]token, error) {
	l := newLexer(src)
	var toks []token
	for {
		if err := l.skipSpaceAndComments(); err != nil {
			return nil, err
		}
		line, col := l.line, l.col
		if l.pos >= len(l.src) {
			toks = append(toks, token{kind: tokEOF, line: line, col: col})
			return toks, nil
		}
		r := l.peek()
		switch {
		case unicode.IsLetter(r) || r == '_':
			start := l.pos
			for l.pos < len(l.src) && (unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_') {
				l.advance()
			}
			toks = append(toks, token{kind: tokIdent, text: string(l.src[start:l.pos]), line: line, col: col})
		case unicode.IsDigit(r):
			start := l.pos
			for l.pos < len(l.src) && (unicode.IsDigit(l.peek()) || l.peek() == '.' && unicode.IsDigit(l.peekAt(1))) {
				l.advance()
			}
			text := string(l.src[start:l.pos])
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, &ParseError{Line: line, Col: col, Msg: fmt.Sprintf("invalid number %q", text)}
			}
			toks = append(toks, token{kind: tokNumber, text: text, line: line, col: col})
		case r == '"':
			text, err := l.scanString()
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, line: line, col: col})
		default:
			kind, text, err := l.scanOperator()
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: kind, text: text, line: line, col: col})
		}
	}
}

func (l *lexer) scanString() (string, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return "", l.errorf("unterminated string literal")
		}
		r := l.advance()
		switch r {
		case '"':
			return sb.String(), nil
		case '\\':
			if l.pos >= len(l.src) {
				return "", l.errorf("unterminated string literal")
			}
			esc := l.advance()
			switch esc {
			case '"', '\\', '/':
				sb.WriteRune(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'u':
				if l.pos+4 > len(l.src) {
					return "", l.errorf("invalid unicode escape")
				}
				hex := string(l.src[l.pos : l.pos+4])
				code, err := strconv.ParseUint(hex, 16, 32)
				if err != nil {
					return "", l.errorf("invalid unicode escape \\u%s", hex)
				}
				for i := 0; i < 4; i++ {
					l.advance()
				}
				sb.WriteRune(rune(code))
			default:
				return "", l.errorf("invalid escape character %q", esc)
			}
		default:
			sb.WriteRune(r)
		}
	}
}

func (l *lexer) scanOperator() (tokenKind, string, error) {
	r := l.advance()
	two := func(next rune, withKind tokenKind, withoutKind tokenKind) (tokenKind, string) {
		if l.peek() == next {
			l.advance()
			return withKind, string(r) + string(next)
		}
		return withoutKind, string(r)
	}
	switch r {
	case '(':
		return tokLParen, "(", nil
	case ')':
		return tokRParen, ")", nil
	case '[':
		return tokLBracket, "[", nil
	case ']':
		return tokRBracket, "]", nil
	case '{':
		return tokLBrace, "{", nil
	case '}':
		return tokRBrace, "}", nil
	case ',':
		return tokComma, ",", nil
	case ':':
		return tokColon, ":", nil
	case ';':
		return tokSemicolon, ";", nil
	case '.':
		return tokDot, ".", nil
	case '@':
		return tokAt, "@", nil
	case '+':
		return tokPlus, "+", nil
	case '-':
		return tokMinus, "-", nil
	case '*':
		return tokStar, "*", nil
	case '/':
		return tokSlash, "/", nil
	case '%':
		return tokPercent, "%", nil
	case '=':
		if l.peek() == '=' {
			l.advance()
			return tokEq, "==", nil
		}
		if l.peek() == '~' {
			l.advance()
			return tokRegex, "=~", nil
		}
		return tokAssign, "=", nil
	case '!':
		k, t := two('=', tokNotEq, tokBang)
		return k, t, nil
	case '<':
		k, t := two('=', tokLessEq, tokLess)
		return k, t, nil
	case '>':
		k, t := two('=', tokGreaterEq, tokGreater)
		return k, t, nil
	case '&':
		k, t := two('&', tokAmpAmp, tokAmp)
		return k, t, nil
	case '|':
		// Greedy: "|" followed directly by "|", "<" or "-" always lexes as
		// the compound token. Eager-or of a negative literal or of an
		// attribute reference needs a space ("a | -1", "a | <x.y>"); the
		// unspaced forms fail to parse instead of changing meaning.
		switch l.peek() {
		case '|':
			l.advance()
			return tokPipePipe, "||", nil
		case '<':
			l.advance()
			return tokPipeLess, "|<", nil
		case '-':
			l.advance()
			return tokPipeMinus, "|-", nil
		}
		return tokPipe, "|", nil
	}
	return tokEOF, "", l.errorf("unexpected character %q", r)
}
