// Package parse converts the lexer's token stream into the Form tree defined
// by package ast, per spec §4.C.
package parse

import (
	"io"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/lex"
	"github.com/avwohl/zorkie-sub001/token"
)

// Parser builds a Form tree from a token stream.
type Parser struct {
	lx    *lex.Lexer
	diags *diag.Collector
	tok   token.Token
}

// New creates a Parser reading source named filename from r. Diagnostics are
// recorded on diags rather than returned as Go errors, so that parsing of a
// single file can surface more than one error before failing overall (§7.1).
func New(filename string, r io.Reader, diags *diag.Collector) *Parser {
	p := &Parser{lx: lex.New(filename, r), diags: diags}
	p.advance()
	return p
}

func (p *Parser) advance() {
	tok, err := p.lx.Next()
	if err != nil {
		if le, ok := err.(*lex.Error); ok {
			p.diags.Add(diag.LexError, le.Pos, "%s", le.Msg)
		} else {
			p.diags.Add(diag.LexError, p.tok.Pos, "%s", err.Error())
		}
		p.tok = token.Token{Kind: token.EOF}
		return
	}
	p.tok = tok
}

// ParseAll parses every top-level form in the source, tolerating stray
// closing delimiters produced by macro expansion (§4.C) and continuing past
// parse errors to surface as many as possible in one pass (§7.1).
func (p *Parser) ParseAll() []*ast.Node {
	var out []*ast.Node
	for p.tok.Kind != token.EOF {
		switch p.tok.Kind {
		case token.RPAREN, token.RBRACE, token.RBRACKET:
			// stray closing delimiter: skip silently (§4.C)
			p.advance()
			continue
		case token.RANGLE:
			p.diags.Add(diag.ParseError, p.tok.Pos, "unbalanced '>'")
			p.advance()
			continue
		}
		n, ok := p.datum()
		if ok {
			out = append(out, n)
		}
	}
	return out
}

func (p *Parser) datum() (*ast.Node, bool) {
	pos := p.tok.Pos
	switch p.tok.Kind {
	case token.EOF:
		p.diags.Add(diag.ParseError, pos, "unexpected end of input")
		return nil, false

	case token.STRING:
		n := ast.NewStr(p.tok.Text, pos)
		p.advance()
		return n, true

	case token.NUMBER:
		n := ast.NewInt(p.tok.Int, pos)
		p.advance()
		return n, true

	case token.ATOM:
		n := ast.NewAtom(p.tok.Text, pos)
		p.advance()
		return n, true

	case token.DOTATOM:
		n := &ast.Node{Kind: ast.DotRef, AtomName: p.tok.Text, Pos: pos}
		p.advance()
		return n, true

	case token.COMMAATOM:
		n := &ast.Node{Kind: ast.CommaRef, AtomName: p.tok.Text, Pos: pos}
		p.advance()
		return n, true

	case token.QUOTE, token.BACKQUOTE, token.COMMASPLICE:
		head := "QUOTE"
		switch p.tok.Kind {
		case token.BACKQUOTE:
			head = "QUASIQUOTE"
		case token.COMMASPLICE:
			if p.tok.Text == "~!" {
				head = "UNQUOTE-SPLICE"
			} else {
				head = "UNQUOTE"
			}
		}
		p.advance()
		inner, ok := p.datum()
		if !ok {
			return nil, false
		}
		return ast.NewForm(ast.NewAtom(head, pos), []*ast.Node{inner}, pos), true

	case token.PERCENT, token.PERCENTPERCENT:
		head := "COMPILE-EVAL"
		if p.tok.Kind == token.PERCENTPERCENT {
			head = "COMPILE-EVAL-VOID"
		}
		p.advance()
		inner, ok := p.datum()
		if !ok {
			return nil, false
		}
		return ast.NewForm(ast.NewAtom(head, pos), []*ast.Node{inner}, pos), true

	case token.LPAREN:
		p.advance()
		items := p.items(token.RPAREN)
		return ast.NewList(items, pos), true

	case token.LBRACKET:
		p.advance()
		items := p.items(token.RBRACKET)
		return &ast.Node{Kind: ast.Vector, Items: items, Pos: pos}, true

	case token.LBRACE:
		p.advance()
		items := p.items(token.RBRACE)
		return &ast.Node{Kind: ast.Segment, Items: items, Pos: pos}, true

	case token.LANGLE:
		p.advance()
		if p.tok.Kind == token.RANGLE {
			p.advance()
			return ast.NewForm(nil, nil, pos), true
		}
		head, ok := p.datum()
		if !ok {
			return nil, false
		}
		items := p.items(token.RANGLE)
		return ast.NewForm(head, items, pos), true

	case token.RPAREN, token.RBRACE, token.RBRACKET:
		// stray closing delimiter encountered where a datum was expected;
		// tolerate it by skipping and trying again (§4.C).
		p.advance()
		return p.datum()

	case token.RANGLE:
		p.diags.Add(diag.ParseError, pos, "unbalanced '>'")
		p.advance()
		return p.datum()

	default:
		p.diags.Add(diag.ParseError, pos, "unexpected token %s", p.tok.Kind)
		p.advance()
		return p.datum()
	}
}

// items parses datums up to (and consuming) the given closing token kind.
func (p *Parser) items(closing token.Kind) []*ast.Node {
	var items []*ast.Node
	for {
		if p.tok.Kind == closing {
			p.advance()
			return items
		}
		if p.tok.Kind == token.EOF {
			p.diags.Add(diag.ParseError, p.tok.Pos, "unexpected end of input, expected %s", closing)
			return items
		}
		// a mismatched closer: for ')'/'}'/']' that aren't what we're
		// looking for, tolerate and skip (§4.C); for an unbalanced '>' at
		// a depth expecting something else, it's a hard error.
		if closing != token.RANGLE {
			switch p.tok.Kind {
			case token.RPAREN, token.RBRACE, token.RBRACKET:
				p.advance()
				continue
			}
		}
		if p.tok.Kind == token.RANGLE && closing != token.RANGLE {
			p.diags.Add(diag.ParseError, p.tok.Pos, "unbalanced '>'")
			p.advance()
			continue
		}
		n, ok := p.datum()
		if !ok {
			return items
		}
		items = append(items, n)
	}
}
