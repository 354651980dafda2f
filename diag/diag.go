// Package diag implements the structured diagnostics described in spec §4.I
// and §7: every error site in the pipeline produces a Diagnostic carrying a
// Kind, a message, a primary source span and optional notes, rather than an
// ad-hoc error string. The Collector batches diagnostics the way the parse
// stage batches errors in the teacher assembler (asm.ErrAsm), but is shared
// across all later phases too (semantic analysis batches before codegen,
// per §7.2).
package diag

import (
	"fmt"
	"strings"

	"github.com/avwohl/zorkie-sub001/token"
)

// Kind classifies a Diagnostic.
type Kind int

const (
	LexError Kind = iota
	ParseError
	UndefinedSymbol
	TypeMismatch
	TooManyLocals
	BranchOutOfRange
	PackedAddressUnaligned
	TableTooLarge
	DuplicateDefinition
	MacroRecursion
	UnsupportedForm
)

var kindNames = map[Kind]string{
	LexError:                "LexError",
	ParseError:              "ParseError",
	UndefinedSymbol:         "UndefinedSymbol",
	TypeMismatch:            "TypeMismatch",
	TooManyLocals:           "TooManyLocals",
	BranchOutOfRange:        "BranchOutOfRange",
	PackedAddressUnaligned:  "PackedAddressUnaligned",
	TableTooLarge:           "TableTooLarge",
	DuplicateDefinition:     "DuplicateDefinition",
	MacroRecursion:          "MacroRecursion",
	UnsupportedForm:         "UnsupportedForm",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Diagnostic is a single structured error or note.
type Diagnostic struct {
	Kind  Kind
	Msg   string
	Pos   token.Position
	Notes []string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: %s", d.Pos, d.Kind, d.Msg)
	for _, n := range d.Notes {
		fmt.Fprintf(&b, "\n\tnote: %s", n)
	}
	return b.String()
}

// Collector accumulates diagnostics across a compilation unit. It is the
// single error-collection root threaded through lex/parse/preprocess/expand/
// semantic/codegen/image, matching the "single Compilation context" resource
// model of spec §5.
type Collector struct {
	items []Diagnostic
}

// Add records a diagnostic.
func (c *Collector) Add(kind Kind, pos token.Position, format string, args ...interface{}) {
	c.items = append(c.items, Diagnostic{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// AddNote attaches a note to the most recently added diagnostic.
func (c *Collector) AddNote(format string, args ...interface{}) {
	if len(c.items) == 0 {
		return
	}
	c.items[len(c.items)-1].Notes = append(c.items[len(c.items)-1].Notes, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any diagnostic has been recorded.
func (c *Collector) HasErrors() bool { return len(c.items) > 0 }

// Len returns the number of recorded diagnostics.
func (c *Collector) Len() int { return len(c.items) }

// Items returns the recorded diagnostics in insertion order.
func (c *Collector) Items() []Diagnostic { return c.items }

// Err returns a non-nil error aggregating all diagnostics, or nil if none
// were recorded.
func (c *Collector) Err() error {
	if len(c.items) == 0 {
		return nil
	}
	return &Error{Items: append([]Diagnostic(nil), c.items...)}
}

// Error is the aggregate error type returned by a failed compilation. It
// plays the same role as the teacher assembler's asm.ErrAsm: a slice of
// positioned diagnostics with its own Error() rendering.
type Error struct {
	Items []Diagnostic
}

func (e *Error) Error() string {
	lines := make([]string, 0, len(e.Items))
	for _, d := range e.Items {
		lines = append(lines, d.String())
	}
	return strings.Join(lines, "\n")
}
