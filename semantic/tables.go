// Package semantic implements spec §4.E: after macro expansion, assign
// numbers to attributes, properties, objects, globals and routines, and
// build the dictionary word list and per-verb grammar tables.
package semantic

import (
	"sort"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/expand"
	"github.com/avwohl/zorkie-sub001/symtab"
	"github.com/avwohl/zorkie-sub001/token"
)

const (
	maxAttributes = 32  // 0..31 addressable directly; more spill to an aux table
	maxProperties = 31  // 1..31, 5 bits
	maxObjects    = 255 // 1..255
	maxGlobals    = 240 // 16..255
)

// Attribute is a numbered per-object boolean flag.
type Attribute struct {
	Name   string
	Number int
	Aux    bool // true if it spilled past the 32 directly-addressable slots
}

// Property is a numbered per-object key/value slot.
type Property struct {
	Name   string
	Number int
}

// ObjectProperty is one property entry carried by an Object, with its raw
// (not yet encoded) value forms; image emits each of the Values as one
// 2-byte word, whatever shape the property was declared with.
type ObjectProperty struct {
	Number int
	Name   string
	Values []*ast.Node
	Pos    token.Position
}

// Object is a numbered object with its resolved tree links.
type Object struct {
	Name    string
	Number  int
	IsRoom  bool
	Attrs   map[int]bool
	Props   []ObjectProperty
	Parent  int
	Sibling int
	Child   int
	Pos     token.Position
}

// Global is a numbered global variable.
type Global struct {
	Name   string
	Number int
	Init   *ast.Node
	Pos    token.Position
}

// DictWord is a collected, not-yet-encoded dictionary word.
type DictWord struct {
	Text      string // truncated to 6 characters, canonical case
	IsVerb    bool
	VerbIndex int // index into Program.Grammar, if IsVerb
}

// GrammarVerbEntry groups every <SYNTAX> rule declared for one verb.
type GrammarVerbEntry struct {
	Verb  string
	Rules []*expand.GrammarRule
}

// Program is the fully-numbered semantic model handed to codegen/ztext/image.
type Program struct {
	Attributes []Attribute
	attrByName map[string]int

	Properties []Property
	propByName map[string]int

	Objects  []*Object
	objByIdx map[string]int // name -> index in Objects

	Globals      []Global
	globalByName map[string]int

	Routines []*expand.RoutineDecl

	Dictionary []DictWord
	Grammar    []GrammarVerbEntry

	Buzzwords map[string]bool
}

// AttributeNumber returns the assigned number for name, or (-1, false).
func (p *Program) AttributeNumber(name string) (int, bool) {
	n, ok := p.attrByName[name]
	if !ok {
		return -1, false
	}
	return n, true
}

// PropertyNumber returns the assigned number for name, or (-1, false).
func (p *Program) PropertyNumber(name string) (int, bool) {
	n, ok := p.propByName[name]
	if !ok {
		return -1, false
	}
	return n, true
}

// AttributeByName returns the full Attribute record for name, or (Attribute{}, false).
func (p *Program) AttributeByName(name string) (Attribute, bool) {
	n, ok := p.attrByName[name]
	if !ok {
		return Attribute{}, false
	}
	return p.Attributes[n], true
}

// Object returns the object named name, or nil.
func (p *Program) Object(name string) *Object {
	if i, ok := p.objByIdx[name]; ok {
		return p.Objects[i]
	}
	return nil
}

// GlobalNumber returns the assigned number for name, or (-1, false).
func (p *Program) GlobalNumber(name string) (int, bool) {
	n, ok := p.globalByName[name]
	if !ok {
		return -1, false
	}
	return n, true
}

// Build assigns numbers and builds the tables described by spec §4.E.
func Build(ex *expand.Expander, diags *diag.Collector) *Program {
	p := &Program{
		attrByName:   make(map[string]int),
		propByName:   make(map[string]int),
		objByIdx:     make(map[string]int),
		globalByName: make(map[string]int),
		Buzzwords:    ex.Buzzwords,
	}
	p.buildAttributesAndProperties(ex, diags)
	p.buildObjects(ex, diags)
	p.buildGlobals(ex, diags)
	p.Routines = ex.Routines
	p.buildDictionaryAndGrammar(ex, diags)
	return p
}

func (p *Program) buildAttributesAndProperties(ex *expand.Expander, diags *diag.Collector) {
	addAttr := func(name string, pos token.Position) {
		if _, ok := p.attrByName[name]; ok {
			return
		}
		n := len(p.Attributes)
		p.Attributes = append(p.Attributes, Attribute{Name: name, Number: n, Aux: n >= maxAttributes})
		p.attrByName[name] = n
	}
	addProp := func(name string, pos token.Position) {
		if _, ok := p.propByName[name]; ok {
			return
		}
		n := len(p.Properties) + 1
		if n > maxProperties {
			diags.Add(diag.TableTooLarge, pos, "too many distinct properties: %s is the %dth (limit %d)", name, n, maxProperties)
			return
		}
		p.Properties = append(p.Properties, Property{Name: name, Number: n})
		p.propByName[name] = n
	}

	for _, pd := range ex.PropDefs {
		addProp(pd.Name, pd.Pos)
	}
	for _, o := range ex.Objects {
		for _, spec := range o.Props {
			if spec.Name == "FLAGS" {
				for _, v := range spec.Values {
					if v.Kind == ast.Atom {
						addAttr(v.AtomName, v.Pos)
					}
				}
				continue
			}
			addProp(spec.Name, spec.Pos)
		}
	}
}

func (p *Program) buildObjects(ex *expand.Expander, diags *diag.Collector) {
	// Rooms first, then other objects, each group in declaration order
	// (§4.E.3 / §9: numbering convention chosen and documented).
	ordered := make([]*expand.ObjectDecl, 0, len(ex.Objects))
	for _, o := range ex.Objects {
		if o.IsRoom {
			ordered = append(ordered, o)
		}
	}
	for _, o := range ex.Objects {
		if !o.IsRoom {
			ordered = append(ordered, o)
		}
	}

	for _, o := range ordered {
		num := len(p.Objects) + 1
		if num > maxObjects {
			diags.Add(diag.TableTooLarge, o.Pos, "object %s is number %d, exceeding the %d-object limit", o.Name, num, maxObjects)
			continue
		}
		obj := &Object{
			Name:   o.Name,
			Number: num,
			IsRoom: o.IsRoom,
			Attrs:  make(map[int]bool),
			Pos:    o.Pos,
		}
		for _, spec := range o.Props {
			if spec.Name == "FLAGS" {
				for _, v := range spec.Values {
					if v.Kind == ast.Atom {
						if n, ok := p.attrByName[v.AtomName]; ok {
							obj.Attrs[n] = true
						}
					}
				}
				continue
			}
			propNum, ok := p.propByName[spec.Name]
			if !ok {
				continue
			}
			if len(spec.Values) > 4 {
				// §9 open question, resolved: reject rather than truncate.
				// Each value is emitted as a 2-byte word, so 4 values is the
				// 8-byte per-property limit in this profile.
				diags.Add(diag.TableTooLarge, spec.Pos, "property %s on object %s has %d values, exceeding the 8-byte per-property limit", spec.Name, o.Name, len(spec.Values))
				continue
			}
			obj.Props = append(obj.Props, ObjectProperty{Number: propNum, Name: spec.Name, Values: spec.Values, Pos: spec.Pos})
		}
		// descending number order within the table, per §3.
		sort.Slice(obj.Props, func(i, j int) bool { return obj.Props[i].Number > obj.Props[j].Number })

		p.objByIdx[obj.Name] = len(p.Objects)
		p.Objects = append(p.Objects, obj)
	}

	// invert (IN parent) declarations into parent/sibling/child links.
	for i, o := range ordered {
		if i >= len(p.Objects) {
			break
		}
		obj := p.Objects[i]
		if o.Parent == "" {
			continue
		}
		parentIdx, ok := p.objByIdx[o.Parent]
		if !ok {
			diags.Add(diag.UndefinedSymbol, o.Pos, "object %s has undefined parent %s", o.Name, o.Parent)
			continue
		}
		parent := p.Objects[parentIdx]
		obj.Parent = parent.Number
		obj.Sibling = parent.Child
		parent.Child = obj.Number
	}
}

func (p *Program) buildGlobals(ex *expand.Expander, diags *diag.Collector) {
	for _, g := range ex.Globals {
		num := 16 + len(p.Globals)
		if len(p.Globals) >= maxGlobals {
			diags.Add(diag.TableTooLarge, g.Pos, "global %s exceeds the %d-global limit", g.Name, maxGlobals)
			continue
		}
		p.Globals = append(p.Globals, Global{Name: g.Name, Number: num, Init: g.Init, Pos: g.Pos})
		p.globalByName[g.Name] = num
	}
}

func truncate6(s string) string {
	if len(s) <= 6 {
		return s
	}
	return s[:6]
}

func (p *Program) buildDictionaryAndGrammar(ex *expand.Expander, diags *diag.Collector) {
	seen := make(map[string]int) // word -> index in Dictionary

	addWord := func(raw string) int {
		w := truncate6(symtab.Canonical(raw))
		if i, ok := seen[w]; ok {
			return i
		}
		i := len(p.Dictionary)
		p.Dictionary = append(p.Dictionary, DictWord{Text: w})
		seen[w] = i
		return i
	}

	buzz := make([]string, 0, len(ex.Buzzwords))
	for w := range ex.Buzzwords {
		buzz = append(buzz, w)
	}
	sort.Strings(buzz)
	for _, w := range buzz {
		addWord(w)
	}
	for _, o := range ex.Objects {
		for _, spec := range o.Props {
			if spec.Name != "SYNONYM" && spec.Name != "ADJECTIVE" {
				continue
			}
			for _, v := range spec.Values {
				if v.Kind == ast.Atom {
					addWord(v.AtomName)
				}
			}
		}
	}

	verbOrder := make([]string, 0)
	verbEntries := make(map[string]*GrammarVerbEntry)
	for _, rule := range ex.Grammar {
		idx := addWord(rule.Verb)
		p.Dictionary[idx].IsVerb = true
		entry, ok := verbEntries[rule.Verb]
		if !ok {
			entry = &GrammarVerbEntry{Verb: rule.Verb}
			verbEntries[rule.Verb] = entry
			verbOrder = append(verbOrder, rule.Verb)
		}
		entry.Rules = append(entry.Rules, rule)
		for _, slot := range rule.Slots {
			if slot.Kind == ast.Atom && slot.AtomName != "OBJECT" {
				addWord(slot.AtomName)
			}
		}
	}
	for vi, verb := range verbOrder {
		entry := verbEntries[verb]
		p.Grammar = append(p.Grammar, *entry)
		if idx, ok := seen[truncate6(verb)]; ok {
			p.Dictionary[idx].VerbIndex = vi
		}
	}
}
