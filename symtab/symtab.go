// Package symtab implements the global symbol table described in spec §3:
// a case-insensitive namespace mapping a canonicalized (uppercase) name to
// exactly one of routine, global, constant, object, attribute, property,
// table or macro. Redefinition is an error except for forward declarations.
package symtab

import (
	"strings"

	"github.com/avwohl/zorkie-sub001/token"
)

// Kind identifies what a Symbol denotes.
type Kind int

const (
	KindRoutine Kind = iota
	KindGlobal
	KindConstant
	KindObject
	KindAttribute
	KindProperty
	KindTable
	KindMacro
)

func (k Kind) String() string {
	switch k {
	case KindRoutine:
		return "routine"
	case KindGlobal:
		return "global"
	case KindConstant:
		return "constant"
	case KindObject:
		return "object"
	case KindAttribute:
		return "attribute"
	case KindProperty:
		return "property"
	case KindTable:
		return "table"
	case KindMacro:
		return "macro"
	}
	return "unknown"
}

// Symbol is one entry in the global namespace.
type Symbol struct {
	Name    string // canonical (uppercase) name
	Kind    Kind
	Pos     token.Position
	Number  int64 // assigned number for globals/objects/attributes/properties
	Forward bool  // true until the symbol's body/value has been fully defined
	Value   interface{}
}

// Table is the compiler's single global namespace.
type Table struct {
	syms map[string]*Symbol
}

// New creates an empty symbol table.
func New() *Table {
	return &Table{syms: make(map[string]*Symbol)}
}

// Canonical upper-cases a name for lookup, per spec §3 ("Names are
// case-insensitive ASCII, uppercase canonical").
func Canonical(name string) string { return strings.ToUpper(name) }

// Lookup returns the symbol named name, or nil if undefined.
func (t *Table) Lookup(name string) *Symbol {
	return t.syms[Canonical(name)]
}

// Declare registers a forward declaration: a placeholder entry that a later
// Define call will complete. It is an error to forward-declare a name that
// already denotes something of a different kind.
func (t *Table) Declare(name string, kind Kind, pos token.Position) (*Symbol, error) {
	cn := Canonical(name)
	if s, ok := t.syms[cn]; ok {
		if s.Kind != kind {
			return nil, &RedefinitionError{Name: cn, Pos: pos, Prior: s.Pos}
		}
		return s, nil
	}
	s := &Symbol{Name: cn, Kind: kind, Pos: pos, Forward: true}
	t.syms[cn] = s
	return s, nil
}

// Define registers (or completes a forward declaration for) a fully-defined
// symbol. Redefinition of an already-completed (non-forward) symbol is an
// error, matching spec §3: "Redefinition is an error except for forward
// declarations."
func (t *Table) Define(name string, kind Kind, pos token.Position, value interface{}) (*Symbol, error) {
	cn := Canonical(name)
	if s, ok := t.syms[cn]; ok {
		if !s.Forward {
			return nil, &RedefinitionError{Name: cn, Pos: pos, Prior: s.Pos}
		}
		if s.Kind != kind {
			return nil, &RedefinitionError{Name: cn, Pos: pos, Prior: s.Pos}
		}
		s.Forward = false
		s.Value = value
		s.Pos = pos
		return s, nil
	}
	s := &Symbol{Name: cn, Kind: kind, Pos: pos, Value: value}
	t.syms[cn] = s
	return s, nil
}

// All returns every defined symbol of the given kind, in insertion order is
// not guaranteed (map iteration); callers that need declaration order must
// track it themselves (as package semantic does).
func (t *Table) All(kind Kind) []*Symbol {
	var out []*Symbol
	for _, s := range t.syms {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// RedefinitionError reports an illegal redefinition of a non-forward symbol.
type RedefinitionError struct {
	Name  string
	Pos   token.Position
	Prior token.Position
}

func (e *RedefinitionError) Error() string {
	return e.Name + ": duplicate definition, previously defined at " + e.Prior.String()
}
