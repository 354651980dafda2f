package semantic_test

import (
	"testing"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/expand"
	"github.com/avwohl/zorkie-sub001/semantic"
	"github.com/avwohl/zorkie-sub001/symtab"
	"github.com/avwohl/zorkie-sub001/token"
)

func atom(name string) *ast.Node { return ast.NewAtom(name, token.Position{}) }

func TestBuildAssignsRoomsBeforeOtherObjects(t *testing.T) {
	diags := &diag.Collector{}
	syms := symtab.New()
	ex := expand.New(syms, diags)
	ex.Objects = []*expand.ObjectDecl{
		{Name: "THIEF", IsRoom: false},
		{Name: "FOREST", IsRoom: true},
		{Name: "LAMP", IsRoom: false},
		{Name: "KITCHEN", IsRoom: true},
	}

	prog := semantic.Build(ex, diags)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.Items())
	}
	if got := prog.Object("FOREST").Number; got != 1 {
		t.Errorf("FOREST number = %d, want 1", got)
	}
	if got := prog.Object("KITCHEN").Number; got != 2 {
		t.Errorf("KITCHEN number = %d, want 2", got)
	}
	if got := prog.Object("THIEF").Number; got != 3 {
		t.Errorf("THIEF number = %d, want 3", got)
	}
	if got := prog.Object("LAMP").Number; got != 4 {
		t.Errorf("LAMP number = %d, want 4", got)
	}
}

func TestBuildLinksParentChildSibling(t *testing.T) {
	diags := &diag.Collector{}
	syms := symtab.New()
	ex := expand.New(syms, diags)
	ex.Objects = []*expand.ObjectDecl{
		{Name: "KITCHEN", IsRoom: true},
		{Name: "TABLE", Parent: "KITCHEN"},
		{Name: "LAMP", Parent: "KITCHEN"},
	}

	prog := semantic.Build(ex, diags)
	kitchen := prog.Object("KITCHEN")
	lamp := prog.Object("LAMP")
	table := prog.Object("TABLE")

	if kitchen.Child != lamp.Number {
		t.Errorf("KITCHEN.Child = %d, want LAMP (%d)", kitchen.Child, lamp.Number)
	}
	if lamp.Sibling != table.Number {
		t.Errorf("LAMP.Sibling = %d, want TABLE (%d)", lamp.Sibling, table.Number)
	}
	if table.Parent != kitchen.Number {
		t.Errorf("TABLE.Parent = %d, want KITCHEN (%d)", table.Parent, kitchen.Number)
	}
}

func TestBuildAssignsAttributesAndProperties(t *testing.T) {
	diags := &diag.Collector{}
	syms := symtab.New()
	ex := expand.New(syms, diags)
	ex.Objects = []*expand.ObjectDecl{
		{Name: "LAMP", Props: []expand.PropertySpec{
			{Name: "FLAGS", Values: []*ast.Node{atom("TAKEBIT"), atom("LIGHTBIT")}},
			{Name: "SIZE", Values: []*ast.Node{ast.NewInt(5, token.Position{})}},
		}},
	}

	prog := semantic.Build(ex, diags)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.Items())
	}
	if _, ok := prog.AttributeNumber("TAKEBIT"); !ok {
		t.Errorf("expected TAKEBIT to be assigned a number")
	}
	if _, ok := prog.AttributeNumber("LIGHTBIT"); !ok {
		t.Errorf("expected LIGHTBIT to be assigned a number")
	}
	if n, ok := prog.PropertyNumber("SIZE"); !ok || n != 1 {
		t.Errorf("SIZE property number = %d, %v, want 1, true", n, ok)
	}
	lamp := prog.Object("LAMP")
	if len(lamp.Props) != 1 || lamp.Props[0].Name != "SIZE" {
		t.Errorf("expected LAMP to carry only the SIZE property, got %+v", lamp.Props)
	}
	if !lamp.Attrs[0] || !lamp.Attrs[1] {
		t.Errorf("expected LAMP to carry its two FLAGS attributes, got %v", lamp.Attrs)
	}
}

func TestBuildCollectsDictionaryAndGrammar(t *testing.T) {
	diags := &diag.Collector{}
	syms := symtab.New()
	ex := expand.New(syms, diags)
	ex.Grammar = []*expand.GrammarRule{
		{Verb: "TAKE", Slots: []*ast.Node{atom("OBJECT")}, Action: "V-TAKE"},
		{Verb: "TAKE", Slots: []*ast.Node{atom("OBJECT"), atom("FROM"), atom("OBJECT")}, Action: "V-TAKE-FROM"},
		{Verb: "LOOK", Action: "V-LOOK"},
	}

	prog := semantic.Build(ex, diags)
	if len(prog.Grammar) != 2 {
		t.Fatalf("expected 2 verb entries, got %d", len(prog.Grammar))
	}
	if prog.Grammar[0].Verb != "TAKE" || len(prog.Grammar[0].Rules) != 2 {
		t.Errorf("expected TAKE to have 2 rules, got %+v", prog.Grammar[0])
	}
	foundTake, foundFrom := false, false
	for _, w := range prog.Dictionary {
		if w.Text == "TAKE" {
			foundTake = true
			if !w.IsVerb {
				t.Errorf("expected TAKE dictionary entry to be marked as a verb")
			}
		}
		if w.Text == "FROM" {
			foundFrom = true
		}
	}
	if !foundTake || !foundFrom {
		t.Errorf("expected dictionary to include TAKE and FROM, got %+v", prog.Dictionary)
	}
}

func TestBuildGlobalsStartAt16(t *testing.T) {
	diags := &diag.Collector{}
	syms := symtab.New()
	ex := expand.New(syms, diags)
	ex.Globals = []*expand.GlobalDecl{{Name: "SCORE"}, {Name: "MOVES"}}

	prog := semantic.Build(ex, diags)
	if n, _ := prog.GlobalNumber("SCORE"); n != 16 {
		t.Errorf("SCORE = %d, want 16", n)
	}
	if n, _ := prog.GlobalNumber("MOVES"); n != 17 {
		t.Errorf("MOVES = %d, want 17", n)
	}
}
