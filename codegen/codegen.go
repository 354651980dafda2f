package codegen

import (
	"fmt"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/expand"
	"github.com/avwohl/zorkie-sub001/layout"
	"github.com/avwohl/zorkie-sub001/semantic"
)

const maxLocals = 15
const maxBranchWidenPasses = 10

// StringPool interns printable strings in first-seen order, so identical
// literals share a single packed address (§4.F dedup).
type StringPool struct {
	order []string
	index map[string]int
}

// NewStringPool creates an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{index: make(map[string]int)}
}

// Intern returns the symbolic name codegen uses to reference s; repeated
// calls with the same text return the same symbol.
func (p *StringPool) Intern(s string) string {
	if i, ok := p.index[s]; ok {
		return stringSymbol(i)
	}
	i := len(p.order)
	p.order = append(p.order, s)
	p.index[s] = i
	return stringSymbol(i)
}

// Strings returns every interned string in first-seen order.
func (p *StringPool) Strings() []string { return p.order }

func stringSymbol(i int) string { return fmt.Sprintf("STR$%d", i) }

// Routine is one routine's lowered instruction stream, not yet placed in the
// image. Its locals-count byte and default-value words are already emitted
// at the front of Code; fixup offsets in Code are relative to the buffer's
// own start and must be rebased by image when the routine is placed.
type Routine struct {
	Name      string
	NumLocals int
	Code      *layout.Buffer
}

// Output is everything codegen hands to image.
type Output struct {
	Routines []*Routine
	Strings  *StringPool
}

// Generate lowers every routine registered in prog.
func Generate(prog *semantic.Program, diags *diag.Collector) *Output {
	g := &Generator{prog: prog, diags: diags, strings: NewStringPool()}
	out := &Output{Strings: g.strings}
	for _, r := range prog.Routines {
		out.Routines = append(out.Routines, g.genRoutine(r))
	}
	return out
}

// Generator lowers a semantic.Program's routines to Routine instruction
// streams.
type Generator struct {
	prog    *semantic.Program
	diags   *diag.Collector
	strings *StringPool
	labelN  int
}

func (g *Generator) newLabel(prefix string) string {
	g.labelN++
	return fmt.Sprintf("%s$%d", prefix, g.labelN)
}

// routineGen holds the per-routine state threaded through lowering,
// including the two-pass branch-width fixed point described in §4.G.
type routineGen struct {
	g      *Generator
	decl   *expand.RoutineDecl
	locals map[string]int

	buf         *layout.Buffer
	labels      map[string]int
	branchRefs  []branchRef
	jumpRefs    []jumpRef
	branchWidth map[int]bool
	branchSeq   int
	pushPull    []pushPullMark

	loopStack []loopCtx
}

type branchRef struct {
	idx        int
	offset     int
	sense      bool
	label      string
	long       bool
	instrStart int
}

type jumpRef struct {
	offset int
	label  string
}

// pushPullMark records one Op1Push/Op1Pull instruction's operand and byte
// span so the peephole pass can spot an adjacent push/pull of the same
// variable without re-decoding the instruction stream.
type pushPullMark struct {
	op      Opcode
	operand Operand
	start   int
	end     int
}

type loopCtx struct {
	top string
	end string
}

func (g *Generator) genRoutine(decl *expand.RoutineDecl) *Routine {
	total := len(decl.Required) + len(decl.Optional) + len(decl.Aux)
	if total > maxLocals {
		g.diags.Add(diag.TooManyLocals, decl.Pos, "routine %s declares %d locals, exceeding the %d-local limit", decl.Name, total, maxLocals)
	}

	locals := make(map[string]int)
	slot := 1
	assign := func(name string) {
		if slot > maxLocals {
			return
		}
		locals[name] = slot
		slot++
	}
	for _, p := range decl.Required {
		assign(p)
	}
	for _, p := range decl.Optional {
		assign(p.Name)
	}
	for _, a := range decl.Aux {
		assign(a.Name)
	}
	numLocals := slot - 1

	widthMap := make(map[int]bool)
	var rg *routineGen
	for pass := 0; pass < maxBranchWidenPasses; pass++ {
		rg = &routineGen{g: g, decl: decl, locals: locals, branchWidth: widthMap}
		rg.buf = &layout.Buffer{}
		rg.labels = make(map[string]int)
		rg.buf.WriteByte(byte(numLocals))
		for i := 1; i <= numLocals; i++ {
			rg.buf.WriteWord(rg.localDefault(decl, i))
		}
		rg.lowerBody(decl.Body)
		if !rg.endsInTermination(decl.Body) {
			emit0OP(rg.buf, Op0Rtrue)
		}
		dirty := rg.resolveBranchesAndJumps()
		if !dirty {
			rg.peephole()
			break
		}
	}

	return &Routine{Name: decl.Name, NumLocals: numLocals, Code: rg.buf}
}

func (rg *routineGen) localDefault(decl *expand.RoutineDecl, slot int) uint16 {
	if slot <= len(decl.Required) {
		return 0
	}
	optIdx := slot - len(decl.Required) - 1
	if optIdx >= 0 && optIdx < len(decl.Optional) {
		if v, ok := rg.g.constInt(decl.Optional[optIdx].Default); ok {
			return uint16(v)
		}
		return 0
	}
	auxIdx := optIdx - len(decl.Optional)
	if auxIdx >= 0 && auxIdx < len(decl.Aux) {
		if v, ok := rg.g.constInt(decl.Aux[auxIdx].Init); ok {
			return uint16(v)
		}
	}
	return 0
}

// constInt evaluates an expression that must be a compile-time integer
// literal; anything else yields (0, false) and the slot is left zeroed.
func (g *Generator) constInt(n *ast.Node) (int64, bool) {
	if n != nil && n.Kind == ast.Int {
		return n.IntVal, true
	}
	return 0, false
}

func (rg *routineGen) endsInTermination(body []*ast.Node) bool {
	if len(body) == 0 {
		return false
	}
	last := body[len(body)-1]
	return last.IsForm("RTRUE") || last.IsForm("RFALSE") || last.IsForm("RETURN")
}

func (rg *routineGen) defineLabel(name string) { rg.labels[name] = rg.buf.Len() }

// emitBranch records a branch to label, sensed on sense, whose preceding
// test instruction starts at instrStart; the peephole pass uses instrStart
// to elide the whole test+branch group when it proves redundant.
func (rg *routineGen) emitBranch(sense bool, label string, instrStart int) {
	idx := rg.branchSeq
	rg.branchSeq++
	long := rg.branchWidth[idx]
	offset := rg.buf.Len()
	if long {
		rg.buf.WriteWord(0)
	} else {
		rg.buf.WriteByte(0)
	}
	rg.branchRefs = append(rg.branchRefs, branchRef{idx: idx, offset: offset, sense: sense, label: label, long: long, instrStart: instrStart})
}

func (rg *routineGen) emitJump(label string) {
	emit1OP(rg, Op1Jump, Operand{Type: OperandLarge}, nil)
	rg.jumpRefs = append(rg.jumpRefs, jumpRef{offset: rg.buf.Len() - 2, label: label})
}

// resolveBranchesAndJumps patches every recorded branch/jump now that every
// label's final offset is known, widening any short-form branch whose
// offset doesn't fit 6 bits and reporting dirty=true so the caller re-runs
// generation with the updated width map (§4.G two-pass sizing).
func (rg *routineGen) resolveBranchesAndJumps() bool {
	dirty := false
	for _, ref := range rg.branchRefs {
		target, ok := rg.labels[ref.label]
		if !ok {
			rg.g.diags.Add(diag.BranchOutOfRange, rg.decl.Pos, "undefined label %s in routine %s", ref.label, rg.decl.Name)
			continue
		}
		width := 1
		if ref.long {
			width = 2
		}
		offset := target - (ref.offset + width) + 2
		if !ref.long {
			if offset < 0 || offset > 63 {
				rg.branchWidth[ref.idx] = true
				dirty = true
				continue
			}
			b := byte(offset) & 0x3f
			b |= 0x40
			if ref.sense {
				b |= 0x80
			}
			rg.buf.Bytes[ref.offset] = b
		} else {
			v := uint16(offset) & 0x3fff
			if ref.sense {
				v |= 0x8000
			}
			rg.buf.Bytes[ref.offset] = byte(v >> 8)
			rg.buf.Bytes[ref.offset+1] = byte(v)
		}
	}
	for _, ref := range rg.jumpRefs {
		target, ok := rg.labels[ref.label]
		if !ok {
			rg.g.diags.Add(diag.BranchOutOfRange, rg.decl.Pos, "undefined label %s in routine %s", ref.label, rg.decl.Name)
			continue
		}
		off := target - (ref.offset + 2) + 2
		rg.buf.Bytes[ref.offset] = byte(uint16(off) >> 8)
		rg.buf.Bytes[ref.offset+1] = byte(uint16(off))
	}
	return dirty
}
