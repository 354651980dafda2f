package preprocess_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/parse"
	"github.com/avwohl/zorkie-sub001/preprocess"
)

// memLoader resolves INSERT-FILE targets against an in-memory file set,
// standing in for the filesystem during tests.
type memLoader map[string]string

func (m memLoader) Open(path string) (io.ReadCloser, error) {
	text, ok := m[path]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(strings.NewReader(text)), nil
}

func parseSrc(t *testing.T, src string) []*ast.Node {
	t.Helper()
	diags := &diag.Collector{}
	p := parse.New("test", strings.NewReader(src), diags)
	nodes := p.ParseAll()
	if diags.HasErrors() {
		t.Fatalf("unexpected parse diagnostics: %v", diags.Items())
	}
	return nodes
}

func TestInsertFileSplicesParsedForms(t *testing.T) {
	loader := memLoader{"inc.zil": `<GLOBAL SCORE 0>`}
	diags := &diag.Collector{}
	pp := preprocess.New(diags, loader, 3)

	nodes := parseSrc(t, `<INSERT-FILE "inc.zil"> <ROUTINE GO ()>`)
	out := pp.Process(nodes, ".")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	if len(out) != 2 {
		t.Fatalf("got %d forms, want 2 (spliced GLOBAL + ROUTINE)", len(out))
	}
	if out[0].HeadName() != "GLOBAL" || out[1].HeadName() != "ROUTINE" {
		t.Errorf("unexpected splice order: %s, %s", out[0].String(), out[1].String())
	}
}

func TestInsertFileDetectsCycle(t *testing.T) {
	loader := memLoader{
		"a.zil": `<INSERT-FILE "b.zil">`,
		"b.zil": `<INSERT-FILE "a.zil">`,
	}
	diags := &diag.Collector{}
	pp := preprocess.New(diags, loader, 3)

	nodes := parseSrc(t, `<INSERT-FILE "a.zil">`)
	pp.Process(nodes, ".")
	if !diags.HasErrors() {
		t.Fatal("expected a diagnostic reporting the INSERT-FILE cycle")
	}
}

func TestInsertFileMissingFile(t *testing.T) {
	diags := &diag.Collector{}
	pp := preprocess.New(diags, memLoader{}, 3)

	nodes := parseSrc(t, `<INSERT-FILE "missing.zil">`)
	pp.Process(nodes, ".")
	if !diags.HasErrors() {
		t.Fatal("expected a diagnostic for a missing inserted file")
	}
}

func TestSetgThenGassignedIsTrue(t *testing.T) {
	diags := &diag.Collector{}
	pp := preprocess.New(diags, memLoader{}, 3)

	nodes := parseSrc(t, `<SETG FOO 1> %<COND (<GASSIGNED? FOO> <ROUTINE YES ()>) (T <ROUTINE NO ()>)>`)
	out := pp.Process(nodes, ".")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	// SETG passes through unchanged, COND resolves to its first true clause
	if len(out) != 2 {
		t.Fatalf("got %d forms, want 2", len(out))
	}
	if out[1].HeadName() != "ROUTINE" || out[1].Items[0].AtomName != "YES" {
		t.Errorf("expected the COND to resolve to ROUTINE YES, got %s", out[1].String())
	}
}

func TestCondFallsThroughToElseClause(t *testing.T) {
	diags := &diag.Collector{}
	pp := preprocess.New(diags, memLoader{}, 3)

	nodes := parseSrc(t, `%<COND (<GASSIGNED? NEVER-SET> <ROUTINE YES ()>) (T <ROUTINE NO ()>)>`)
	out := pp.Process(nodes, ".")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	if len(out) != 1 || out[0].Items[0].AtomName != "NO" {
		t.Errorf("expected the COND to fall through to NO, got %v", out)
	}
}

func TestVersionPredicateMatchesTargetProfile(t *testing.T) {
	diags := &diag.Collector{}
	pp := preprocess.New(diags, memLoader{}, 3)

	nodes := parseSrc(t, `%<COND (<VERSION? ZIP> <ROUTINE V3 ()>) (T <ROUTINE OTHER ()>)>`)
	out := pp.Process(nodes, ".")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	if len(out) != 1 || out[0].Items[0].AtomName != "V3" {
		t.Errorf("expected VERSION? ZIP to match version 3, got %v", out)
	}
}

func TestCompileEvalSplicesArithmeticResult(t *testing.T) {
	diags := &diag.Collector{}
	pp := preprocess.New(diags, memLoader{}, 3)

	nodes := parseSrc(t, `<GLOBAL SIZE %<+ 2 3>>`)
	out := pp.Process(nodes, ".")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	if len(out) != 1 {
		t.Fatalf("got %d forms, want 1", len(out))
	}
	val := out[0].Items[1]
	if val.Kind != ast.Int || val.IntVal != 5 {
		t.Errorf("expected %%<+ 2 3> to splice in Int(5), got %v", val)
	}
}

func TestCompileEvalVoidIsRemoved(t *testing.T) {
	diags := &diag.Collector{}
	pp := preprocess.New(diags, memLoader{}, 3)

	nodes := parseSrc(t, `%%<SETG X 1> <ROUTINE GO ()>`)
	out := pp.Process(nodes, ".")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	if len(out) != 1 || out[0].HeadName() != "ROUTINE" {
		t.Errorf("expected %%%%<...> to vanish entirely, got %v", out)
	}
}

func TestNestedFormsArePreprocessedRecursively(t *testing.T) {
	diags := &diag.Collector{}
	pp := preprocess.New(diags, memLoader{}, 3)

	nodes := parseSrc(t, `<ROUTINE GO () <TELL N %<+ 1 1> CR>>`)
	out := pp.Process(nodes, ".")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %v", diags.Items())
	}
	tell := out[0].Items[len(out[0].Items)-1]
	if tell.HeadName() != "TELL" {
		t.Fatalf("expected a TELL body form, got %s", tell.String())
	}
	n := tell.Items[1]
	if n.Kind != ast.Int || n.IntVal != 2 {
		t.Errorf("expected the nested %%<+ 1 1> to resolve to Int(2), got %v", n)
	}
}
