package diag_test

import (
	"strings"
	"testing"

	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/token"
)

func TestCollectorAddAndHasErrors(t *testing.T) {
	var c diag.Collector
	if c.HasErrors() {
		t.Fatal("fresh Collector should report no errors")
	}
	c.Add(diag.UndefinedSymbol, token.Position{Filename: "f", Line: 3, Column: 1}, "undefined symbol %s", "FOO")
	if !c.HasErrors() {
		t.Fatal("Collector should report errors after Add")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	got := c.Items()[0]
	if got.Kind != diag.UndefinedSymbol || got.Msg != "undefined symbol FOO" {
		t.Errorf("unexpected diagnostic: %+v", got)
	}
}

func TestAddNoteAttachesToMostRecent(t *testing.T) {
	var c diag.Collector
	c.Add(diag.DuplicateDefinition, token.Position{}, "duplicate ROUTINE GO")
	c.AddNote("first defined at %s", "go.zil:1:1")
	items := c.Items()
	if len(items[0].Notes) != 1 || items[0].Notes[0] != "first defined at go.zil:1:1" {
		t.Errorf("unexpected notes: %v", items[0].Notes)
	}
}

func TestAddNoteOnEmptyCollectorIsANoop(t *testing.T) {
	var c diag.Collector
	c.AddNote("dangling note")
	if c.HasErrors() {
		t.Error("AddNote on an empty Collector should not create a diagnostic")
	}
}

func TestErrReturnsNilWhenClean(t *testing.T) {
	var c diag.Collector
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestErrAggregatesAllDiagnostics(t *testing.T) {
	var c diag.Collector
	c.Add(diag.ParseError, token.Position{Filename: "a.zil", Line: 1, Column: 1}, "bad token")
	c.Add(diag.TooManyLocals, token.Position{Filename: "a.zil", Line: 2, Column: 1}, "too many locals")

	err := c.Err()
	if err == nil {
		t.Fatal("Err() should be non-nil once diagnostics were recorded")
	}
	msg := err.Error()
	if !strings.Contains(msg, "bad token") || !strings.Contains(msg, "too many locals") {
		t.Errorf("aggregated error missing a diagnostic: %s", msg)
	}
	if !strings.Contains(msg, "a.zil:1:1") {
		t.Errorf("aggregated error missing position info: %s", msg)
	}
}

func TestDiagnosticStringIncludesNotes(t *testing.T) {
	d := diag.Diagnostic{
		Kind:  diag.BranchOutOfRange,
		Msg:   "branch offset too large",
		Pos:   token.Position{Filename: "r.zil", Line: 10, Column: 2},
		Notes: []string{"consider splitting the routine"},
	}
	s := d.String()
	if !strings.Contains(s, "BranchOutOfRange") || !strings.Contains(s, "note: consider splitting the routine") {
		t.Errorf("unexpected Diagnostic.String(): %s", s)
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k diag.Kind = 999
	if k.String() != "Unknown" {
		t.Errorf("String() on an out-of-range Kind = %q, want Unknown", k.String())
	}
}
