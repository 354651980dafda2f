// Package lex tokenizes source-language text into the token stream consumed
// by package parse. It mirrors the scanning style of the teacher assembler's
// hand-rolled scanner (see asm/parser.go in the reference pack): a single
// pass over a rune stream that also tracks enough nesting state to implement
// the source language's comment rules.
package lex

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/avwohl/zorkie-sub001/token"
)

// Error reports a lexical error at a source position.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Lexer produces a lazy sequence of tokens from a byte stream.
type Lexer struct {
	r        *bufio.Reader
	filename string

	line, col, offset int

	parenDepth int
	angleDepth int

	peeked    *rune
	peekedErr error
}

// New creates a Lexer reading from r. filename is used only for position
// reporting.
func New(filename string, r io.Reader) *Lexer {
	return &Lexer{
		r:        bufio.NewReader(r),
		filename: filename,
		line:     1,
		col:      1,
	}
}

func (l *Lexer) pos() token.Position {
	return token.Position{Filename: l.filename, Line: l.line, Column: l.col, Offset: l.offset}
}

// readRune reads the next rune, silently stripping control characters other
// than whitespace, and advancing position tracking.
func (l *Lexer) readRune() (rune, error) {
	if l.peeked != nil {
		r := *l.peeked
		l.peeked = nil
		return r, l.peekedErr
	}
	for {
		r, n, err := l.r.ReadRune()
		if err != nil {
			return 0, err
		}
		if r == unicode.ReplacementChar && n == 1 {
			// invalid UTF-8 byte; treat as a stripped control byte
			continue
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		l.advance(r, n)
		return r, nil
	}
}

func (l *Lexer) advance(r rune, n int) {
	l.offset += n
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *Lexer) unreadRune(r rune) {
	l.peeked = &r
	l.peekedErr = nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
}

func isDelim(r rune) bool {
	switch r {
	case '<', '>', '(', ')', '{', '}', '[', ']', '"', ';', '\'', '`':
		return true
	}
	return isSpace(r)
}

// Next returns the next token in the stream. At end of input it returns an
// EOF token with a nil error.
func (l *Lexer) Next() (token.Token, error) {
	for {
		r, err := l.readRune()
		if err == io.EOF {
			return token.Token{Kind: token.EOF, Pos: l.pos()}, nil
		}
		if err != nil {
			return token.Token{}, err
		}
		if isSpace(r) {
			continue
		}
		if r == ';' {
			if err := l.skipComment(); err != nil {
				return token.Token{}, err
			}
			continue
		}
		return l.scanToken(r)
	}
}

// skipComment implements the three comment shapes documented in §4.A:
// ";NAME" skips the next single form, ';"..."' skips a string, and a stray
// semicolon at nonzero paren/angle depth skips exactly one following form.
func (l *Lexer) skipComment() error {
	r, err := l.readRune()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	if r == '"' {
		return l.skipString()
	}
	l.unreadRune(r)
	return l.skipForm()
}

// skipForm discards exactly one following form: a single atom/number token,
// or a balanced bracketed/angled group.
func (l *Lexer) skipForm() error {
	start := l.pos()
	tok, err := l.Next()
	if err != nil {
		return err
	}
	switch tok.Kind {
	case token.EOF:
		return &Error{Pos: start, Msg: "unterminated comment: expected a form to skip"}
	case token.LANGLE, token.LPAREN, token.LBRACE, token.LBRACKET:
		depth := 1
		for depth > 0 {
			t, err := l.Next()
			if err != nil {
				return err
			}
			switch t.Kind {
			case token.LANGLE, token.LPAREN, token.LBRACE, token.LBRACKET:
				depth++
			case token.RANGLE, token.RPAREN, token.RBRACE, token.RBRACKET:
				depth--
			case token.EOF:
				return &Error{Pos: start, Msg: "unterminated comment: unbalanced form"}
			}
		}
	}
	return nil
}

func (l *Lexer) scanToken(r rune) (token.Token, error) {
	pos := l.pos()
	pos.Column-- // position of the rune we already consumed
	pos.Offset--
	switch r {
	case '<':
		l.angleDepth++
		return token.Token{Kind: token.LANGLE, Pos: pos}, nil
	case '>':
		if l.angleDepth > 0 {
			l.angleDepth--
		}
		return token.Token{Kind: token.RANGLE, Pos: pos}, nil
	case '(':
		l.parenDepth++
		return token.Token{Kind: token.LPAREN, Pos: pos}, nil
	case ')':
		if l.parenDepth > 0 {
			l.parenDepth--
		}
		return token.Token{Kind: token.RPAREN, Pos: pos}, nil
	case '{':
		return token.Token{Kind: token.LBRACE, Pos: pos}, nil
	case '}':
		return token.Token{Kind: token.RBRACE, Pos: pos}, nil
	case '[':
		return token.Token{Kind: token.LBRACKET, Pos: pos}, nil
	case ']':
		return token.Token{Kind: token.RBRACKET, Pos: pos}, nil
	case '"':
		s, err := l.readString()
		if err != nil {
			return token.Token{}, err
		}
		return token.Token{Kind: token.STRING, Text: s, Pos: pos}, nil
	case '\'':
		return token.Token{Kind: token.QUOTE, Pos: pos}, nil
	case '`':
		return token.Token{Kind: token.BACKQUOTE, Pos: pos}, nil
	case '~':
		text := "~"
		n, err := l.readRune()
		if err == nil {
			if n == '!' {
				text = "~!"
			} else {
				l.unreadRune(n)
			}
		}
		return token.Token{Kind: token.COMMASPLICE, Text: text, Pos: pos}, nil
	case '%':
		n, err := l.readRune()
		if err == nil && n == '%' {
			return token.Token{Kind: token.PERCENTPERCENT, Pos: pos}, nil
		}
		if err == nil {
			l.unreadRune(n)
		}
		return token.Token{Kind: token.PERCENT, Pos: pos}, nil
	case '.':
		n, err := l.readRune()
		if err != nil || isDelim(n) {
			if err == nil {
				l.unreadRune(n)
			}
			return l.scanAtomOrNumber(".", pos)
		}
		name, err := l.readBareWord(n)
		if err != nil {
			return token.Token{}, err
		}
		return token.Token{Kind: token.DOTATOM, Text: name, Pos: pos}, nil
	case ',':
		n, err := l.readRune()
		if err != nil || isDelim(n) {
			if err == nil {
				l.unreadRune(n)
			}
			return l.scanAtomOrNumber(",", pos)
		}
		name, err := l.readBareWord(n)
		if err != nil {
			return token.Token{}, err
		}
		return token.Token{Kind: token.COMMAATOM, Text: name, Pos: pos}, nil
	default:
		word, err := l.readBareWord(r)
		if err != nil {
			return token.Token{}, err
		}
		return l.scanAtomOrNumber(word, pos)
	}
}

// readBareWord reads an identifier-like token, already having consumed its
// first rune first.
func (l *Lexer) readBareWord(first rune) (string, error) {
	var b strings.Builder
	b.WriteRune(first)
	for {
		r, err := l.readRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if isDelim(r) {
			l.unreadRune(r)
			break
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

func (l *Lexer) scanAtomOrNumber(word string, pos token.Position) (token.Token, error) {
	if n, err := strconv.ParseInt(word, 0, 64); err == nil {
		return token.Token{Kind: token.NUMBER, Text: word, Int: n, Pos: pos}, nil
	}
	return token.Token{Kind: token.ATOM, Text: word, Pos: pos}, nil
}

// readString reads a "-delimited string body, already past the opening
// quote, handling \\ and \" escapes. Strings may span multiple lines.
func (l *Lexer) readString() (string, error) {
	start := l.pos()
	var b strings.Builder
	for {
		r, err := l.readRune()
		if err == io.EOF {
			return "", &Error{Pos: start, Msg: "unterminated string"}
		}
		if err != nil {
			return "", err
		}
		switch r {
		case '"':
			return b.String(), nil
		case '\\':
			e, err := l.readRune()
			if err == io.EOF {
				return "", &Error{Pos: start, Msg: "unterminated string"}
			}
			if err != nil {
				return "", err
			}
			switch e {
			case '\\', '"':
				b.WriteRune(e)
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(e)
			}
		default:
			b.WriteRune(r)
		}
	}
}

// skipString discards a "-delimited string used as a block comment body.
func (l *Lexer) skipString() error {
	start := l.pos()
	for {
		r, err := l.readRune()
		if err == io.EOF {
			return &Error{Pos: start, Msg: "unterminated comment string"}
		}
		if err != nil {
			return err
		}
		if r == '\\' {
			if _, err := l.readRune(); err != nil && err != io.EOF {
				return err
			}
			continue
		}
		if r == '"' {
			return nil
		}
	}
}

