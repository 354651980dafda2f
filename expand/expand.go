// Package expand implements the symbol/macro expander described in spec
// §4.D: it walks the post-preprocessing Form tree, expands user macros to a
// fixed point, and registers the top-level declarative constructs
// (CONSTANT, GLOBAL, ROUTINE, OBJECT/ROOM, OBJECT-TEMPLATE, SYNTAX, BUZZ,
// PROPDEF, PACKAGE/ENDPACKAGE) that package semantic later assigns numbers
// to.
package expand

import (
	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/symtab"
	"github.com/avwohl/zorkie-sub001/token"
)

const maxMacroDepth = 64

// OptionalParam is a <ROUTINE> optional argument with its default-value
// expression.
type OptionalParam struct {
	Name    string
	Default *ast.Node
}

// AuxLocal is a <ROUTINE> auxiliary local with its initializer.
type AuxLocal struct {
	Name string
	Init *ast.Node
}

// RoutineDecl is a registered <ROUTINE> prototype; its body is deferred to
// codegen as required by §4.D.
type RoutineDecl struct {
	Name     string
	Required []string
	Optional []OptionalParam
	Aux      []AuxLocal
	Body     []*ast.Node
	Pos      token.Position
}

// ConstantDecl is a registered <CONSTANT>.
type ConstantDecl struct {
	Name string
	Expr *ast.Node
	Pos  token.Position
}

// GlobalDecl is a registered <GLOBAL>.
type GlobalDecl struct {
	Name string
	Init *ast.Node
	Pos  token.Position
}

// PropertySpec is one property entry inside an <OBJECT>/<ROOM> form.
type PropertySpec struct {
	Name   string
	Values []*ast.Node
	Pos    token.Position
}

// ObjectDecl is a registered <OBJECT> or <ROOM>.
type ObjectDecl struct {
	Name   string
	Parent string
	Props  []PropertySpec
	IsRoom bool
	Pos    token.Position
}

// PropDefDecl is a registered <PROPDEF>.
type PropDefDecl struct {
	Name    string
	Default []*ast.Node
	Pattern []*ast.Node
	Pos     token.Position
}

// ObjectTemplate is a registered <OBJECT-TEMPLATE>.
type ObjectTemplate struct {
	Name     string
	Defaults []PropertySpec
	Pos      token.Position
}

// GrammarRule is a registered <SYNTAX>.
type GrammarRule struct {
	Verb   string
	Slots  []*ast.Node
	Action string
	Pos    token.Position
}

// macro is a registered <DEFMAC>/<DEFINE> template.
type macro struct {
	name     string
	params   []string
	template []*ast.Node
	pos      token.Position
}

// Expander walks a Form tree, expanding macros and collecting the top-level
// declarative constructs listed above.
type Expander struct {
	syms  *symtab.Table
	diags *diag.Collector

	macros    map[string]*macro
	templates map[string]*ObjectTemplate

	Constants []*ConstantDecl
	Globals   []*GlobalDecl
	Routines  []*RoutineDecl
	Objects   []*ObjectDecl
	PropDefs  []*PropDefDecl
	Grammar   []*GrammarRule
	Buzzwords map[string]bool
}

// New creates an Expander bound to the given symbol table and diagnostics
// collector.
func New(syms *symtab.Table, diags *diag.Collector) *Expander {
	return &Expander{
		syms:      syms,
		diags:     diags,
		macros:    make(map[string]*macro),
		templates: make(map[string]*ObjectTemplate),
		Buzzwords: make(map[string]bool),
	}
}

// Expand walks the top-level forms, registering declarations and recursing
// into <PACKAGE> bodies. Macro expansion is applied to every form (and its
// descendants) before dispatch.
func (e *Expander) Expand(nodes []*ast.Node) {
	for _, n := range nodes {
		e.dispatch(e.expandDeep(n, 0))
	}
}

func (e *Expander) dispatch(n *ast.Node) {
	if n == nil {
		return
	}
	name := n.HeadName()
	switch name {
	case "CONSTANT":
		e.defConstant(n)
	case "GLOBAL":
		e.defGlobal(n)
	case "ROUTINE":
		e.defRoutine(n)
	case "DEFMAC", "DEFINE":
		e.defMacro(n)
	case "OBJECT", "ROOM":
		e.defObject(n, name == "ROOM")
	case "OBJECT-TEMPLATE":
		e.defTemplate(n)
	case "SYNTAX":
		e.defSyntax(n)
	case "BUZZ":
		e.defBuzz(n)
	case "PROPDEF":
		e.defPropdef(n)
	case "PACKAGE":
		for _, child := range n.Items {
			e.dispatch(e.expandDeep(child, 0))
		}
	case "ENDPACKAGE", "PROGN":
		for _, child := range n.Items {
			e.dispatch(child)
		}
	default:
		// A top-level form with no special meaning is silently ignored by
		// the expander; later phases never see it since codegen only
		// looks at registered routine bodies.
	}
}

// expandDeep expands macro calls found anywhere in n's subtree, to a fixed
// point bounded by maxMacroDepth (§4.D: "Recursion depth is bounded;
// exceeding is an error").
func (e *Expander) expandDeep(n *ast.Node, depth int) *ast.Node {
	if n == nil {
		return nil
	}
	if n.Kind == ast.Form {
		if out, ok := e.expandMacroCall(n, depth); ok {
			return out
		}
	}
	switch n.Kind {
	case ast.Form:
		head := n.Head
		if head != nil {
			head = e.expandDeep(head, depth)
		}
		items := make([]*ast.Node, len(n.Items))
		for i, it := range n.Items {
			items[i] = e.expandDeep(it, depth)
		}
		return ast.NewForm(head, items, n.Pos)
	case ast.List, ast.Vector, ast.Segment:
		items := make([]*ast.Node, len(n.Items))
		for i, it := range n.Items {
			items[i] = e.expandDeep(it, depth)
		}
		c := *n
		c.Items = items
		return &c
	default:
		return n
	}
}

func (e *Expander) expandMacroCall(n *ast.Node, depth int) (*ast.Node, bool) {
	name := n.HeadName()
	if name == "" {
		return nil, false
	}
	m := e.macros[name]
	if m == nil {
		return nil, false
	}
	if depth >= maxMacroDepth {
		e.diags.Add(diag.MacroRecursion, n.Pos, "expansion of macro %s exceeded the maximum recursion depth", name)
		return n, true
	}
	bindings := make(map[string]*ast.Node, len(m.params))
	for i, p := range m.params {
		if i < len(n.Items) {
			bindings[p] = n.Items[i]
		}
	}
	var results []*ast.Node
	for _, b := range m.template {
		results = append(results, substTree(b, bindings))
	}
	var out *ast.Node
	switch len(results) {
	case 0:
		out = ast.NewForm(ast.NewAtom("PROGN", n.Pos), nil, n.Pos)
	case 1:
		out = results[0]
	default:
		out = ast.NewForm(ast.NewAtom("PROGN", n.Pos), results, n.Pos)
	}
	return e.expandDeep(out, depth+1), true
}

// substTree substitutes formal-parameter atoms for their bound argument
// forms, honoring explicit QUASIQUOTE/UNQUOTE/UNQUOTE-SPLICE markers
// produced by the parser for backquote (`) / tilde (~) / tilde-bang (~!)
// template syntax (§4.D).
func substTree(n *ast.Node, bindings map[string]*ast.Node) *ast.Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case ast.Atom:
		if b, ok := bindings[n.AtomName]; ok {
			return b.Clone()
		}
		return n.Clone()
	case ast.Int, ast.Str, ast.DotRef, ast.CommaRef:
		return n.Clone()
	case ast.Form:
		if (n.HeadName() == "UNQUOTE" || n.HeadName() == "QUASIQUOTE") && len(n.Items) == 1 {
			return substTree(n.Items[0], bindings)
		}
		head := substTree(n.Head, bindings)
		items := substItems(n.Items, bindings)
		return ast.NewForm(head, items, n.Pos)
	case ast.List, ast.Vector, ast.Segment:
		c := *n
		c.Items = substItems(n.Items, bindings)
		return &c
	}
	return n.Clone()
}

func substItems(items []*ast.Node, bindings map[string]*ast.Node) []*ast.Node {
	var out []*ast.Node
	for _, it := range items {
		if it.IsForm("UNQUOTE-SPLICE") && len(it.Items) == 1 && it.Items[0].Kind == ast.Atom {
			if v, ok := bindings[it.Items[0].AtomName]; ok && (v.Kind == ast.List || v.Kind == ast.Vector) {
				for _, x := range v.Items {
					out = append(out, x.Clone())
				}
				continue
			}
		}
		out = append(out, substTree(it, bindings))
	}
	return out
}

func (e *Expander) defConstant(n *ast.Node) {
	if len(n.Items) != 2 || n.Items[0].Kind != ast.Atom {
		e.diags.Add(diag.UnsupportedForm, n.Pos, "CONSTANT requires a name and an expression")
		return
	}
	name := n.Items[0].AtomName
	if _, err := e.syms.Define(name, symtab.KindConstant, n.Pos, nil); err != nil {
		e.diags.Add(diag.DuplicateDefinition, n.Pos, "%s", err.Error())
		return
	}
	e.Constants = append(e.Constants, &ConstantDecl{Name: symtab.Canonical(name), Expr: n.Items[1], Pos: n.Pos})
}

func (e *Expander) defGlobal(n *ast.Node) {
	if len(n.Items) < 1 || n.Items[0].Kind != ast.Atom {
		e.diags.Add(diag.UnsupportedForm, n.Pos, "GLOBAL requires a name")
		return
	}
	name := n.Items[0].AtomName
	var init *ast.Node
	if len(n.Items) > 1 {
		init = n.Items[1]
	}
	if _, err := e.syms.Define(name, symtab.KindGlobal, n.Pos, nil); err != nil {
		e.diags.Add(diag.DuplicateDefinition, n.Pos, "%s", err.Error())
		return
	}
	e.Globals = append(e.Globals, &GlobalDecl{Name: symtab.Canonical(name), Init: init, Pos: n.Pos})
}

func (e *Expander) defRoutine(n *ast.Node) {
	if len(n.Items) < 2 || n.Items[0].Kind != ast.Atom {
		e.diags.Add(diag.UnsupportedForm, n.Pos, "ROUTINE requires a name and a parameter list")
		return
	}
	name := n.Items[0].AtomName
	if _, err := e.syms.Declare(name, symtab.KindRoutine, n.Pos); err != nil {
		e.diags.Add(diag.DuplicateDefinition, n.Pos, "%s", err.Error())
		return
	}
	decl := &RoutineDecl{Name: symtab.Canonical(name), Pos: n.Pos}
	params := n.Items[1]
	if params.Kind == ast.List {
		decl.Required, decl.Optional, decl.Aux = parseParams(params.Items)
	}
	decl.Body = n.Items[2:]
	if _, err := e.syms.Define(name, symtab.KindRoutine, n.Pos, decl); err != nil {
		e.diags.Add(diag.DuplicateDefinition, n.Pos, "%s", err.Error())
		return
	}
	e.Routines = append(e.Routines, decl)
}

// parseParams splits a <ROUTINE> parameter list into required parameters,
// "OPT"-introduced optionals (each with a default expression) and
// "AUX"-introduced auxiliary locals (each with an initializer).
func parseParams(items []*ast.Node) (required []string, optional []OptionalParam, aux []AuxLocal) {
	section := 0 // 0=required, 1=optional, 2=aux
	for _, it := range items {
		if it.Kind == ast.Atom || it.Kind == ast.Str {
			marker := it.AtomName
			if it.Kind == ast.Str {
				marker = it.StrVal
			}
			switch marker {
			case "OPT", "OPTIONAL":
				section = 1
				continue
			case "AUX", "EXTRA":
				section = 2
				continue
			}
		}
		switch section {
		case 0:
			if it.Kind == ast.Atom {
				required = append(required, it.AtomName)
			}
		case 1:
			switch it.Kind {
			case ast.Atom:
				optional = append(optional, OptionalParam{Name: it.AtomName})
			case ast.List:
				if len(it.Items) >= 1 && it.Items[0].Kind == ast.Atom {
					p := OptionalParam{Name: it.Items[0].AtomName}
					if len(it.Items) >= 2 {
						p.Default = it.Items[1]
					}
					optional = append(optional, p)
				}
			}
		case 2:
			switch it.Kind {
			case ast.Atom:
				aux = append(aux, AuxLocal{Name: it.AtomName})
			case ast.List:
				if len(it.Items) >= 1 && it.Items[0].Kind == ast.Atom {
					a := AuxLocal{Name: it.Items[0].AtomName}
					if len(it.Items) >= 2 {
						a.Init = it.Items[1]
					}
					aux = append(aux, a)
				}
			}
		}
	}
	return
}

func (e *Expander) defMacro(n *ast.Node) {
	if len(n.Items) < 2 || n.Items[0].Kind != ast.Atom {
		e.diags.Add(diag.UnsupportedForm, n.Pos, "%s requires a name and a parameter list", n.HeadName())
		return
	}
	name := n.Items[0].AtomName
	var params []string
	if n.Items[1].Kind == ast.List {
		for _, p := range n.Items[1].Items {
			if p.Kind == ast.Atom {
				params = append(params, p.AtomName)
			}
		}
	}
	if _, err := e.syms.Define(name, symtab.KindMacro, n.Pos, nil); err != nil {
		e.diags.Add(diag.DuplicateDefinition, n.Pos, "%s", err.Error())
		return
	}
	e.macros[symtab.Canonical(name)] = &macro{
		name:     symtab.Canonical(name),
		params:   params,
		template: n.Items[2:],
		pos:      n.Pos,
	}
}

func (e *Expander) defObject(n *ast.Node, isRoom bool) {
	if len(n.Items) < 1 || n.Items[0].Kind != ast.Atom {
		e.diags.Add(diag.UnsupportedForm, n.Pos, "%s requires a name", n.HeadName())
		return
	}
	name := n.Items[0].AtomName
	if _, err := e.syms.Define(name, symtab.KindObject, n.Pos, nil); err != nil {
		e.diags.Add(diag.DuplicateDefinition, n.Pos, "%s", err.Error())
		return
	}
	decl := &ObjectDecl{Name: symtab.Canonical(name), IsRoom: isRoom, Pos: n.Pos}
	for _, spec := range n.Items[1:] {
		e.applyObjectSpec(decl, spec)
	}
	e.Objects = append(e.Objects, decl)
}

func (e *Expander) applyObjectSpec(decl *ObjectDecl, spec *ast.Node) {
	if spec.Kind == ast.List && len(spec.Items) >= 1 && spec.Items[0].Kind == ast.Atom {
		propName := spec.Items[0].AtomName
		if propName == "IN" && len(spec.Items) >= 2 && spec.Items[1].Kind == ast.Atom {
			decl.Parent = symtab.Canonical(spec.Items[1].AtomName)
			return
		}
		if tmpl, ok := e.templates[symtab.Canonical(propName)]; ok {
			for _, d := range tmpl.Defaults {
				decl.Props = append(decl.Props, d)
			}
			return
		}
		decl.Props = append(decl.Props, PropertySpec{
			Name:   symtab.Canonical(propName),
			Values: spec.Items[1:],
			Pos:    spec.Pos,
		})
	}
}

func (e *Expander) defTemplate(n *ast.Node) {
	if len(n.Items) < 1 || n.Items[0].Kind != ast.Atom {
		e.diags.Add(diag.UnsupportedForm, n.Pos, "OBJECT-TEMPLATE requires a name")
		return
	}
	name := n.Items[0].AtomName
	tmpl := &ObjectTemplate{Name: symtab.Canonical(name), Pos: n.Pos}
	for _, spec := range n.Items[1:] {
		if spec.Kind == ast.List && len(spec.Items) >= 1 && spec.Items[0].Kind == ast.Atom {
			tmpl.Defaults = append(tmpl.Defaults, PropertySpec{
				Name:   symtab.Canonical(spec.Items[0].AtomName),
				Values: spec.Items[1:],
				Pos:    spec.Pos,
			})
		}
	}
	e.templates[tmpl.Name] = tmpl
}

func (e *Expander) defSyntax(n *ast.Node) {
	if len(n.Items) < 1 || n.Items[0].Kind != ast.Atom {
		e.diags.Add(diag.UnsupportedForm, n.Pos, "SYNTAX requires a verb")
		return
	}
	rule := &GrammarRule{Verb: symtab.Canonical(n.Items[0].AtomName), Pos: n.Pos}
	rest := n.Items[1:]
	for i, it := range rest {
		if it.Kind == ast.Atom && it.AtomName == "=" {
			if i+1 < len(rest) && rest[i+1].Kind == ast.Atom {
				rule.Action = symtab.Canonical(rest[i+1].AtomName)
			}
			rule.Slots = rest[:i]
			e.Grammar = append(e.Grammar, rule)
			return
		}
	}
	rule.Slots = rest
	e.Grammar = append(e.Grammar, rule)
}

func (e *Expander) defBuzz(n *ast.Node) {
	for _, it := range n.Items {
		if it.Kind == ast.Atom {
			e.Buzzwords[symtab.Canonical(it.AtomName)] = true
		}
	}
}

func (e *Expander) defPropdef(n *ast.Node) {
	if len(n.Items) < 1 || n.Items[0].Kind != ast.Atom {
		e.diags.Add(diag.UnsupportedForm, n.Pos, "PROPDEF requires a property name")
		return
	}
	name := n.Items[0].AtomName
	if _, err := e.syms.Define(name, symtab.KindProperty, n.Pos, nil); err != nil {
		e.diags.Add(diag.DuplicateDefinition, n.Pos, "%s", err.Error())
		return
	}
	decl := &PropDefDecl{Name: symtab.Canonical(name)}
	if len(n.Items) >= 2 {
		decl.Default = []*ast.Node{n.Items[1]}
	}
	if len(n.Items) >= 3 {
		decl.Pattern = n.Items[2:]
	}
	e.PropDefs = append(e.PropDefs, decl)
}
