// Package ast defines the tagged-variant Form tree produced by package parse
// and consumed by package expand, semantic and codegen.
package ast

import (
	"strconv"

	"github.com/avwohl/zorkie-sub001/token"
)

// Kind identifies the shape of a Node.
type Kind int

const (
	Atom Kind = iota
	Int
	Str
	List    // (a b c)
	Vector  // [a b c]
	Segment // {...}
	Form    // <head arg*>
	DotRef  // .NAME
	CommaRef
)

// Node is a tagged-variant Form: an atom, integer, string, list, vector,
// segment or angle-bracketed callable form. Every node carries its source
// span.
type Node struct {
	Kind Kind
	Pos  token.Position

	AtomName string // Atom, DotRef, CommaRef: the name as written (not case-folded)
	IntVal   int64  // Int
	StrVal   string // Str

	Head  *Node   // Form: the callable head (usually an Atom)
	Items []*Node // List, Vector, Segment, Form: children/arguments
}

// HeadName returns the canonical name of a Form's head atom, or "" if the
// head is not a plain atom (e.g. a computed head).
func (n *Node) HeadName() string {
	if n == nil || n.Kind != Form || n.Head == nil || n.Head.Kind != Atom {
		return ""
	}
	return n.Head.AtomName
}

// IsForm reports whether n is a Form whose head atom has the given name.
func (n *Node) IsForm(name string) bool {
	return n != nil && n.Kind == Form && n.HeadName() == name
}

// NewAtom builds an Atom node.
func NewAtom(name string, pos token.Position) *Node {
	return &Node{Kind: Atom, AtomName: name, Pos: pos}
}

// NewInt builds an Int node.
func NewInt(v int64, pos token.Position) *Node {
	return &Node{Kind: Int, IntVal: v, Pos: pos}
}

// NewStr builds a Str node.
func NewStr(v string, pos token.Position) *Node {
	return &Node{Kind: Str, StrVal: v, Pos: pos}
}

// NewForm builds a Form node with the given head and arguments.
func NewForm(head *Node, args []*Node, pos token.Position) *Node {
	return &Node{Kind: Form, Head: head, Items: args, Pos: pos}
}

// NewList builds a List node.
func NewList(items []*Node, pos token.Position) *Node {
	return &Node{Kind: List, Items: items, Pos: pos}
}

// Clone returns a deep copy of n, used by the macro expander when
// substituting a template into multiple call sites.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Head != nil {
		c.Head = n.Head.Clone()
	}
	if n.Items != nil {
		c.Items = make([]*Node, len(n.Items))
		for i, it := range n.Items {
			c.Items[i] = it.Clone()
		}
	}
	return &c
}

// String renders n back into source-language-ish text, for diagnostics and
// golden-style tests.
func (n *Node) String() string {
	if n == nil {
		return "()"
	}
	switch n.Kind {
	case Atom:
		return n.AtomName
	case Int:
		return strconv.FormatInt(n.IntVal, 10)
	case Str:
		return `"` + n.StrVal + `"`
	case DotRef:
		return "." + n.AtomName
	case CommaRef:
		return "," + n.AtomName
	case List:
		return "(" + joinNodes(n.Items) + ")"
	case Vector:
		return "[" + joinNodes(n.Items) + "]"
	case Segment:
		return "{" + joinNodes(n.Items) + "}"
	case Form:
		head := ""
		if n.Head != nil {
			head = n.Head.String()
		}
		if len(n.Items) == 0 {
			return "<" + head + ">"
		}
		return "<" + head + " " + joinNodes(n.Items) + ">"
	}
	return "?"
}

func joinNodes(items []*Node) string {
	s := ""
	for i, it := range items {
		if i > 0 {
			s += " "
		}
		s += it.String()
	}
	return s
}
