// Package preprocess implements spec §4.B: INSERT-FILE splicing, SETG
// tracking and compile-time %<...>/%%<...>/COND evaluation.
//
// Per the Open Question resolved in SPEC_FULL.md, this is implemented as a
// Form-tree rewrite pass rather than a second token-stream pass: INSERT-FILE
// splices the parsed forms of the included file, and %<form> is evaluated
// against the values recorded by earlier SETG forms and replaced by its
// result in place. COND is evaluated only inside %<...> or %%<...>.
package preprocess

import (
	"io"
	"path/filepath"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/parse"
)

// Loader resolves and opens source units referenced by INSERT-FILE. This is
// the "scoped acquisition of open file handles ... with guaranteed release
// on all exit paths" resource named in spec §5.
type Loader interface {
	Open(path string) (io.ReadCloser, error)
}

// Preprocessor expands INSERT-FILE and compile-time forms over a Form tree.
type Preprocessor struct {
	diags   *diag.Collector
	loader  Loader
	globals map[string]int64
	version int
	loading map[string]bool
}

// New creates a Preprocessor. version identifies the target VM profile
// tested by VERSION? predicates (§4.B); 3 is the primary 16-bit profile.
func New(diags *diag.Collector, loader Loader, version int) *Preprocessor {
	return &Preprocessor{
		diags:   diags,
		loader:  loader,
		globals: make(map[string]int64),
		version: version,
		loading: make(map[string]bool),
	}
}

// Process expands nodes in place, returning the expanded list. currentDir is
// used to resolve relative INSERT-FILE paths.
func (pp *Preprocessor) Process(nodes []*ast.Node, currentDir string) []*ast.Node {
	var out []*ast.Node
	for _, n := range nodes {
		out = append(out, pp.processOne(n, currentDir)...)
	}
	return out
}

func (pp *Preprocessor) processOne(n *ast.Node, dir string) []*ast.Node {
	if n == nil {
		return nil
	}
	switch {
	case n.IsForm("INSERT-FILE"):
		return pp.insertFile(n, dir)

	case n.IsForm("SETG"):
		pp.handleSetg(n)
		return []*ast.Node{n}

	case n.IsForm("COMPILE-EVAL"):
		if len(n.Items) != 1 {
			pp.diags.Add(diag.UnsupportedForm, n.Pos, "%%<...> requires exactly one form")
			return nil
		}
		result, ok := pp.eval(n.Items[0])
		if !ok {
			pp.diags.Add(diag.UnsupportedForm, n.Pos, "unresolved compile-time form")
			return nil
		}
		return pp.processOne(result, dir)

	case n.IsForm("COMPILE-EVAL-VOID"):
		if len(n.Items) == 1 {
			pp.eval(n.Items[0])
		}
		return nil

	default:
		// recurse into children so that nested INSERT-FILE/%<...> forms
		// (e.g. inside a ROUTINE body) are also expanded.
		if n.Kind == ast.Form || n.Kind == ast.List || n.Kind == ast.Vector || n.Kind == ast.Segment {
			n.Items = pp.Process(n.Items, dir)
		}
		return []*ast.Node{n}
	}
}

func (pp *Preprocessor) handleSetg(n *ast.Node) {
	if len(n.Items) < 2 || n.Items[0].Kind != ast.Atom {
		pp.diags.Add(diag.UnsupportedForm, n.Pos, "SETG requires a name and a value")
		return
	}
	v, ok := pp.evalInt(n.Items[1])
	if !ok {
		pp.diags.Add(diag.UnsupportedForm, n.Pos, "SETG value must be a compile-time constant")
		return
	}
	pp.globals[symCanon(n.Items[0].AtomName)] = v
}

func symCanon(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// insertFile splices the parsed contents of another source unit at the
// current position, recursively, detecting cycles (§4.B).
func (pp *Preprocessor) insertFile(n *ast.Node, dir string) []*ast.Node {
	if len(n.Items) != 1 || n.Items[0].Kind != ast.Str {
		pp.diags.Add(diag.UnsupportedForm, n.Pos, "INSERT-FILE requires a single string argument")
		return nil
	}
	name := n.Items[0].StrVal
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, name)
	}
	clean := filepath.Clean(path)
	if pp.loading[clean] {
		pp.diags.Add(diag.UnsupportedForm, n.Pos, "cyclic INSERT-FILE of %s", clean)
		return nil
	}
	f, err := pp.loader.Open(clean)
	if err != nil {
		pp.diags.Add(diag.UnsupportedForm, n.Pos, "cannot open inserted file %s: %v", clean, err)
		return nil
	}
	defer f.Close()

	pp.loading[clean] = true
	defer delete(pp.loading, clean)

	p := parse.New(clean, f, pp.diags)
	forms := p.ParseAll()
	return pp.Process(forms, filepath.Dir(clean))
}

// eval evaluates a compile-time form, returning the resulting Form-tree node
// to splice in its place.
func (pp *Preprocessor) eval(n *ast.Node) (*ast.Node, bool) {
	if n.IsForm("COND") {
		for _, clause := range n.Items {
			if clause.Kind != ast.List || len(clause.Items) == 0 {
				continue
			}
			if pp.truthy(clause.Items[0]) {
				var last *ast.Node
				for _, body := range clause.Items[1:] {
					last = body
				}
				if last == nil {
					return ast.NewAtom("T", n.Pos), true
				}
				return last, true
			}
		}
		return nil, false
	}
	if v, ok := pp.evalInt(n); ok {
		return ast.NewInt(v, n.Pos), true
	}
	return nil, false
}

// truthy evaluates a compile-time predicate form.
func (pp *Preprocessor) truthy(n *ast.Node) bool {
	switch {
	case n.IsForm("GASSIGNED?"):
		if len(n.Items) != 1 || n.Items[0].Kind != ast.Atom {
			return false
		}
		_, ok := pp.globals[symCanon(n.Items[0].AtomName)]
		return ok
	case n.IsForm("VERSION?"):
		for _, it := range n.Items {
			if it.Kind == ast.Int && int(it.IntVal) == pp.version {
				return true
			}
			if it.Kind == ast.Atom && versionAtomMatches(it.AtomName, pp.version) {
				return true
			}
		}
		return false
	case n.IsForm("AND"):
		for _, it := range n.Items {
			if !pp.truthy(it) {
				return false
			}
		}
		return true
	case n.IsForm("OR"):
		for _, it := range n.Items {
			if pp.truthy(it) {
				return true
			}
		}
		return false
	case n.IsForm("NOT"):
		if len(n.Items) != 1 {
			return false
		}
		return !pp.truthy(n.Items[0])
	case n.Kind == ast.Atom && n.AtomName != "FALSE" && n.AtomName != "NIL":
		return true
	case n.Kind == ast.Int:
		return n.IntVal != 0
	default:
		// fall back to a generic comparison/arithmetic evaluation that
		// yields a truthy/falsy integer.
		v, ok := pp.evalInt(n)
		return ok && v != 0
	}
}

func versionAtomMatches(name string, version int) bool {
	switch symCanon(name) {
	case "ZIP":
		return version == 3
	case "EZIP":
		return version == 4
	case "XZIP":
		return version == 5
	}
	return false
}

// evalInt evaluates a compile-time expression to an integer. Supported forms
// are literals, named SETG globals, simple arithmetic and comparisons
// between resolved constants (§4.B).
func (pp *Preprocessor) evalInt(n *ast.Node) (int64, bool) {
	switch {
	case n.Kind == ast.Int:
		return n.IntVal, true
	case n.Kind == ast.Atom:
		v, ok := pp.globals[symCanon(n.AtomName)]
		return v, ok
	case n.IsForm("+"), n.IsForm("-"), n.IsForm("*"), n.IsForm("/"):
		return pp.evalArith(n)
	case n.IsForm("=?"), n.IsForm("=="), n.IsForm("<"), n.IsForm(">"), n.IsForm("<="), n.IsForm(">="):
		return pp.evalCompare(n)
	case n.IsForm("AND"), n.IsForm("OR"), n.IsForm("NOT"), n.IsForm("GASSIGNED?"), n.IsForm("VERSION?"):
		if pp.truthy(n) {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (pp *Preprocessor) evalArith(n *ast.Node) (int64, bool) {
	if len(n.Items) == 0 {
		return 0, false
	}
	acc, ok := pp.evalInt(n.Items[0])
	if !ok {
		return 0, false
	}
	op := n.HeadName()
	for _, it := range n.Items[1:] {
		v, ok := pp.evalInt(it)
		if !ok {
			return 0, false
		}
		switch op {
		case "+":
			acc += v
		case "-":
			acc -= v
		case "*":
			acc *= v
		case "/":
			if v == 0 {
				return 0, false
			}
			acc /= v
		}
	}
	return acc, true
}

func (pp *Preprocessor) evalCompare(n *ast.Node) (int64, bool) {
	if len(n.Items) != 2 {
		return 0, false
	}
	a, ok := pp.evalInt(n.Items[0])
	if !ok {
		return 0, false
	}
	b, ok := pp.evalInt(n.Items[1])
	if !ok {
		return 0, false
	}
	var res bool
	switch n.HeadName() {
	case "=?", "==":
		res = a == b
	case "<":
		res = a < b
	case ">":
		res = a > b
	case "<=":
		res = a <= b
	case ">=":
		res = a >= b
	}
	if res {
		return 1, true
	}
	return 0, true
}
