package parse_test

import (
	"strings"
	"testing"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/parse"
)

func parseAll(t *testing.T, src string) ([]*ast.Node, *diag.Collector) {
	t.Helper()
	diags := &diag.Collector{}
	p := parse.New("test", strings.NewReader(src), diags)
	return p.ParseAll(), diags
}

func TestParseSimpleForm(t *testing.T) {
	nodes, diags := parseAll(t, `<ROUTINE GO () <TELL "hi">>`)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d top-level forms, want 1", len(nodes))
	}
	n := nodes[0]
	if n.Kind != ast.Form || n.HeadName() != "ROUTINE" {
		t.Fatalf("unexpected top-level node: %s", n.String())
	}
	if len(n.Items) != 3 {
		t.Fatalf("ROUTINE form has %d items, want 3 (name, params, body form)", len(n.Items))
	}
	if n.Items[0].Kind != ast.Atom || n.Items[0].AtomName != "GO" {
		t.Errorf("first item = %s, want atom GO", n.Items[0].String())
	}
	if n.Items[1].Kind != ast.List || len(n.Items[1].Items) != 0 {
		t.Errorf("second item = %s, want an empty parameter list", n.Items[1].String())
	}
}

func TestParseNestedLists(t *testing.T) {
	nodes, diags := parseAll(t, `<OBJECT COIN (IN ROOM-A) (SYNONYM COIN GOLD)>`)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	n := nodes[0]
	if len(n.Items) != 3 {
		t.Fatalf("OBJECT form has %d items, want 3", len(n.Items))
	}
	in := n.Items[1]
	if in.Kind != ast.List || in.Items[0].AtomName != "IN" || in.Items[1].AtomName != "ROOM-A" {
		t.Errorf("unexpected IN spec: %s", in.String())
	}
}

func TestParseDotAndCommaRefs(t *testing.T) {
	nodes, diags := parseAll(t, `<SET .X ,SCORE>`)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	n := nodes[0]
	if n.Items[0].Kind != ast.DotRef || n.Items[0].AtomName != "X" {
		t.Errorf("first arg = %+v, want DotRef(X)", n.Items[0])
	}
	if n.Items[1].Kind != ast.CommaRef || n.Items[1].AtomName != "SCORE" {
		t.Errorf("second arg = %+v, want CommaRef(SCORE)", n.Items[1])
	}
}

func TestParseMultipleTopLevelForms(t *testing.T) {
	nodes, diags := parseAll(t, `<GLOBAL SCORE 0> <GLOBAL MOVES 0>`)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d forms, want 2", len(nodes))
	}
}

func TestParseToleratesStrayClosingDelimiter(t *testing.T) {
	nodes, diags := parseAll(t, `<TELL "hi">) <TELL "bye">`)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics for a tolerated stray delimiter: %v", diags.Items())
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d forms, want 2", len(nodes))
	}
}

func TestParseReportsUnbalancedAngleBracket(t *testing.T) {
	_, diags := parseAll(t, `<TELL "hi"`)
	if !diags.HasErrors() {
		t.Fatal("expected a diagnostic for an unterminated form")
	}
}

func TestParseEmptyFormIsNilHead(t *testing.T) {
	nodes, diags := parseAll(t, `<>`)
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	if len(nodes) != 1 || nodes[0].Kind != ast.Form || nodes[0].Head != nil {
		t.Errorf("unexpected parse of <>: %+v", nodes)
	}
}
