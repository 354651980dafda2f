package codegen

import (
	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/layout"
	"github.com/avwohl/zorkie-sub001/symtab"
	"github.com/avwohl/zorkie-sub001/ztext"
)

func (rg *routineGen) lowerBody(body []*ast.Node) {
	for _, n := range body {
		rg.lowerStmt(n)
	}
}

func (rg *routineGen) lowerStmt(n *ast.Node) {
	if n == nil {
		return
	}
	if n.Kind == ast.Str {
		rg.emitPrintString(n.StrVal)
		return
	}
	if n.Kind != ast.Form {
		rg.lowerExprToOperand(n)
		return
	}
	switch n.HeadName() {
	case "RTRUE":
		emit0OP(rg.buf, Op0Rtrue)
	case "RFALSE":
		emit0OP(rg.buf, Op0Rfalse)
	case "RETURN":
		rg.lowerReturn(n)
	case "AGAIN":
		if len(rg.loopStack) == 0 {
			rg.g.diags.Add(diag.UnsupportedForm, n.Pos, "AGAIN outside a loop")
			return
		}
		rg.emitJump(rg.loopStack[len(rg.loopStack)-1].top)
	case "COND":
		rg.lowerCond(n)
	case "REPEAT", "DO":
		rg.lowerRepeat(n)
	case "SET", "SETG":
		rg.lowerSet(n)
	case "TELL":
		rg.lowerTell(n)
	case "FSET":
		rg.lowerAttrOp(n, OpVSetAttr)
	case "FCLEAR":
		rg.lowerAttrOp(n, OpVClearAttr)
	case "PROG", "BIND":
		rg.lowerBody(n.Items)
	default:
		rg.lowerExprToOperand(n)
	}
}

// emitPrintString prints a literal string immediately, encoded inline in the
// instruction stream right after the opcode byte (§4.G TELL lowering).
func (rg *routineGen) emitPrintString(s string) {
	emit0OP(rg.buf, Op0Print)
	rg.buf.WriteBytes(ztext.Encode(s))
}

func (rg *routineGen) lowerReturn(n *ast.Node) {
	var operand Operand
	if len(n.Items) >= 1 {
		operand = rg.lowerExprToOperand(n.Items[0])
	} else {
		operand = Const(1)
	}
	if len(rg.loopStack) > 0 {
		rg.emitStoreToVar(0, operand)
		rg.emitJump(rg.loopStack[len(rg.loopStack)-1].end)
		return
	}
	emit1OP(rg, Op1Return, operand, nil)
}

func (rg *routineGen) emitStoreToVar(slot byte, value Operand) {
	emit2OP(rg.buf, OpStore, Operand{Type: OperandSmall, Value: uint16(slot)}, value, nil)
}

func (rg *routineGen) lowerSet(n *ast.Node) {
	if len(n.Items) != 2 {
		rg.g.diags.Add(diag.UnsupportedForm, n.Pos, "%s requires a variable and a value", n.HeadName())
		return
	}
	target := n.Items[0]
	value := rg.lowerExprToOperand(n.Items[1])
	slot, ok := rg.resolveVarSlot(target)
	if !ok {
		return
	}
	rg.emitStoreToVar(slot, value)
}

// resolveVarSlot resolves a local/global variable reference to its store
// slot number (0 reserved for the stack is never returned here).
func (rg *routineGen) resolveVarSlot(target *ast.Node) (byte, bool) {
	switch target.Kind {
	case ast.DotRef:
		s, ok := rg.locals[symtab.Canonical(target.AtomName)]
		if !ok {
			rg.g.diags.Add(diag.UndefinedSymbol, target.Pos, "undefined local %s", target.AtomName)
			return 0, false
		}
		return byte(s), true
	case ast.CommaRef, ast.Atom:
		num, ok := rg.g.prog.GlobalNumber(symtab.Canonical(target.AtomName))
		if !ok {
			rg.g.diags.Add(diag.UndefinedSymbol, target.Pos, "undefined global %s", target.AtomName)
			return 0, false
		}
		return byte(num), true
	}
	rg.g.diags.Add(diag.UnsupportedForm, target.Pos, "expected a variable reference")
	return 0, false
}

func (rg *routineGen) lowerCond(n *ast.Node) {
	endLabel := rg.g.newLabel("cond_end")
	for i, clause := range n.Items {
		if clause.Kind != ast.List || len(clause.Items) == 0 {
			continue
		}
		pred := clause.Items[0]
		body := clause.Items[1:]
		isLast := i == len(n.Items)-1
		nextLabel := rg.g.newLabel("cond_next")
		rg.lowerTest(pred, true, nextLabel)
		rg.lowerBody(body)
		if !isLast {
			rg.emitJump(endLabel)
		}
		rg.defineLabel(nextLabel)
	}
	rg.defineLabel(endLabel)
}

func (rg *routineGen) lowerRepeat(n *ast.Node) {
	top := rg.g.newLabel("loop_top")
	end := rg.g.newLabel("loop_end")
	rg.loopStack = append(rg.loopStack, loopCtx{top: top, end: end})
	rg.defineLabel(top)
	rg.lowerBody(n.Items)
	rg.emitJump(top)
	rg.defineLabel(end)
	rg.loopStack = rg.loopStack[:len(rg.loopStack)-1]
}

func (rg *routineGen) lowerTell(n *ast.Node) {
	items := n.Items
	for i := 0; i < len(items); i++ {
		it := items[i]
		switch {
		case it.Kind == ast.Str:
			rg.emitPrintString(it.StrVal)
		case it.Kind == ast.Atom && it.AtomName == "CR":
			emit0OP(rg.buf, Op0NewLine)
		case it.Kind == ast.Atom && (it.AtomName == "D" || it.AtomName == "T" || it.AtomName == "A") && i+1 < len(items):
			obj := rg.lowerExprToOperand(items[i+1])
			emit1OP(rg, Op1PrintObj, obj, nil)
			i++
		case it.Kind == ast.Atom && it.AtomName == "N" && i+1 < len(items):
			num := rg.lowerExprToOperand(items[i+1])
			emitVAR(rg.buf, OpVPrintNum, []Operand{num}, nil)
			i++
		default:
			rg.lowerExprToOperand(it)
		}
	}
}

func (rg *routineGen) lowerAttrOp(n *ast.Node, op Opcode) {
	if len(n.Items) != 2 {
		rg.g.diags.Add(diag.UnsupportedForm, n.Pos, "%s requires an object and an attribute", n.HeadName())
		return
	}
	obj := rg.lowerExprToOperand(n.Items[0])
	attr := rg.lowerAttrOperand(n.Items[1])
	emitVAR(rg.buf, op, []Operand{obj, attr}, nil)
}

func (rg *routineGen) lowerAttrOperand(n *ast.Node) Operand {
	if n.Kind == ast.Atom {
		if attr, ok := rg.g.prog.AttributeByName(n.AtomName); ok {
			if attr.Aux {
				// §4.E.1: attributes beyond the 32 directly-addressable
				// slots spill to an auxiliary table with no direct opcode.
				rg.g.diags.Add(diag.UnsupportedForm, n.Pos, "attribute %s (number %d) has no direct FSET/FSET? opcode in this profile", n.AtomName, attr.Number)
				return Const(0)
			}
			return Const(int64(attr.Number))
		}
	}
	return rg.lowerExprToOperand(n)
}

// lowerExprToOperand lowers n to a value-bearing operand, emitting whatever
// instructions are needed and, for computed values, leaving the result on
// the stack (operand Var(0), which conventionally reads as "pop").
func (rg *routineGen) lowerExprToOperand(n *ast.Node) Operand {
	if n == nil {
		return Const(0)
	}
	switch n.Kind {
	case ast.Int:
		return Const(n.IntVal)
	case ast.DotRef:
		if slot, ok := rg.locals[symtab.Canonical(n.AtomName)]; ok {
			return Var(byte(slot))
		}
		rg.g.diags.Add(diag.UndefinedSymbol, n.Pos, "undefined local %s", n.AtomName)
		return Const(0)
	case ast.CommaRef:
		if num, ok := rg.g.prog.GlobalNumber(symtab.Canonical(n.AtomName)); ok {
			return Var(byte(num))
		}
		rg.g.diags.Add(diag.UndefinedSymbol, n.Pos, "undefined global %s", n.AtomName)
		return Const(0)
	case ast.Str:
		sym := rg.g.strings.Intern(n.StrVal)
		return Ref(sym, layout.FixupPackedString)
	case ast.Atom:
		if obj := rg.g.prog.Object(symtab.Canonical(n.AtomName)); obj != nil {
			return Const(int64(obj.Number))
		}
		if num, ok := rg.g.prog.GlobalNumber(symtab.Canonical(n.AtomName)); ok {
			return Var(byte(num))
		}
		return Const(0)
	case ast.Form:
		return rg.lowerFormExpr(n)
	}
	return Const(0)
}

func (rg *routineGen) lowerFormExpr(n *ast.Node) Operand {
	switch n.HeadName() {
	case "+", "-", "*", "/", "MOD", "AND", "OR":
		return rg.lowerArith(n.HeadName(), n.Items)
	case "GETP":
		if len(n.Items) != 2 {
			rg.g.diags.Add(diag.UnsupportedForm, n.Pos, "GETP requires an object and a property")
			return Const(0)
		}
		obj := rg.lowerExprToOperand(n.Items[0])
		prop := rg.lowerPropOperand(n.Items[1])
		store := byte(0)
		emit2OP(rg.buf, OpGetProp, obj, prop, &store)
		return Var(0)
	default:
		return rg.lowerCall(n)
	}
}

func (rg *routineGen) lowerPropOperand(n *ast.Node) Operand {
	if n.Kind == ast.Atom {
		if num, ok := rg.g.prog.PropertyNumber(n.AtomName); ok {
			return Const(int64(num))
		}
	}
	return rg.lowerExprToOperand(n)
}

func arithOp(name string) Opcode {
	switch name {
	case "+":
		return OpAdd
	case "-":
		return OpSub
	case "*":
		return OpMul
	case "/":
		return OpDiv
	case "MOD":
		return OpMod
	case "AND":
		return OpAnd
	case "OR":
		return OpOr
	}
	return OpAdd
}

func (rg *routineGen) lowerArith(name string, items []*ast.Node) Operand {
	if len(items) == 0 {
		return Const(0)
	}
	op := arithOp(name)
	acc := rg.lowerExprToOperand(items[0])
	for _, it := range items[1:] {
		b := rg.lowerExprToOperand(it)
		store := byte(0)
		emit2OP(rg.buf, op, acc, b, &store)
		acc = Var(0)
	}
	return acc
}

// lowerCall lowers a call to a user routine: up to three value arguments,
// result left on the stack (§4.G: "if the call is at statement position
// with no consumer, store is top-of-stack and then discarded").
func (rg *routineGen) lowerCall(n *ast.Node) Operand {
	name := n.HeadName()
	operands := []Operand{Ref(symtab.Canonical(name), layout.FixupPackedRoutine)}
	for i, arg := range n.Items {
		if i >= 3 {
			rg.g.diags.Add(diag.UnsupportedForm, n.Pos, "call to %s has more than 3 arguments", name)
			break
		}
		operands = append(operands, rg.lowerExprToOperand(arg))
	}
	store := byte(0)
	emitVAR(rg.buf, OpVCall, operands, &store)
	return Var(0)
}

// lowerTest emits a comparison/branch such that control reaches label when
// pred's truth value equals branchOnFalse's complement: branchOnFalse=true
// means "branch to label when pred is false" (used by COND to skip a
// clause's body), branchOnFalse=false means "branch when pred is true".
func (rg *routineGen) lowerTest(pred *ast.Node, branchOnFalse bool, label string) {
	if pred.Kind == ast.Form {
		switch pred.HeadName() {
		case "NOT":
			if len(pred.Items) == 1 {
				rg.lowerTest(pred.Items[0], !branchOnFalse, label)
				return
			}
		case "AND":
			if branchOnFalse {
				for _, it := range pred.Items {
					rg.lowerTest(it, true, label)
				}
				return
			}
		case "OR":
			if !branchOnFalse {
				for _, it := range pred.Items {
					rg.lowerTest(it, false, label)
				}
				return
			}
		case "EQUAL?", "=?":
			if len(pred.Items) >= 2 {
				a := rg.lowerExprToOperand(pred.Items[0])
				b := rg.lowerExprToOperand(pred.Items[1])
				start := rg.buf.Len()
				emit2OP(rg.buf, OpJE, a, b, nil)
				rg.emitBranch(!branchOnFalse, label, start)
				return
			}
		case "L?", "LESS?":
			if len(pred.Items) == 2 {
				a := rg.lowerExprToOperand(pred.Items[0])
				b := rg.lowerExprToOperand(pred.Items[1])
				start := rg.buf.Len()
				emit2OP(rg.buf, OpJL, a, b, nil)
				rg.emitBranch(!branchOnFalse, label, start)
				return
			}
		case "G?", "GRTR?":
			if len(pred.Items) == 2 {
				a := rg.lowerExprToOperand(pred.Items[0])
				b := rg.lowerExprToOperand(pred.Items[1])
				start := rg.buf.Len()
				emit2OP(rg.buf, OpJG, a, b, nil)
				rg.emitBranch(!branchOnFalse, label, start)
				return
			}
		case "0?", "ZERO?":
			if len(pred.Items) == 1 {
				a := rg.lowerExprToOperand(pred.Items[0])
				start := rg.buf.Len()
				emit1OP(rg, Op1Jz, a, nil)
				rg.emitBranch(!branchOnFalse, label, start)
				return
			}
		case "1?":
			if len(pred.Items) == 1 {
				a := rg.lowerExprToOperand(pred.Items[0])
				start := rg.buf.Len()
				emit2OP(rg.buf, OpJE, a, Const(1), nil)
				rg.emitBranch(!branchOnFalse, label, start)
				return
			}
		case "FSET?":
			if len(pred.Items) == 2 {
				obj := rg.lowerExprToOperand(pred.Items[0])
				attr := rg.lowerAttrOperand(pred.Items[1])
				start := rg.buf.Len()
				emit2OP(rg.buf, OpTestAttr, obj, attr, nil)
				rg.emitBranch(!branchOnFalse, label, start)
				return
			}
		}
	}
	v := rg.lowerExprToOperand(pred)
	start := rg.buf.Len()
	emit1OP(rg, Op1Jz, v, nil)
	rg.emitBranch(branchOnFalse, label, start)
}
