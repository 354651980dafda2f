// Package codegen implements spec §4.G: lowering of routine bodies to the
// target VM's instruction encoding, with branch patching and a basic
// peephole pass (redundant push/pull, jumps to the next byte, and branches
// to a fallthrough RTRUE).
//
// Instruction encoding model. Every instruction belongs to one of four
// operand-count classes, each with its own opcode space and byte shape:
//
//	0OP   1011oooo                                   (opcode 0-15)
//	1OP   10ttoooo                                   (type tt, opcode 0-15)
//	2OP   0ab ooooo    (short: a,b in {0=small,1=var})
//	      or 11ooooo <type-byte>  (promoted to variable form)
//	VAR   111oooo <type-byte> [operands...]
//
// A following store-variable byte and/or 1-2 byte branch offset is emitted
// per instruction as the instruction requires.
package codegen

import "github.com/avwohl/zorkie-sub001/layout"

// OperandType is the shape an operand is encoded in.
type OperandType int

const (
	OperandLarge OperandType = iota // 2-byte constant
	OperandSmall                    // 1-byte constant, 0-255
	OperandVariable                 // 1-byte variable number
	OperandOmitted
)

// typeBits is the 2-bit encoding used in VAR/long-form type bytes.
func (t OperandType) typeBits() byte {
	switch t {
	case OperandLarge:
		return 0
	case OperandSmall:
		return 1
	case OperandVariable:
		return 2
	default:
		return 3
	}
}

// Operand is one instruction argument. A Symbol-bearing operand is a
// forward reference resolved later by image via a layout.Fixup; its Type is
// always OperandLarge (packed/byte addresses never fit in a small constant).
type Operand struct {
	Type   OperandType
	Value  uint16
	Symbol string
	Fixup  layout.FixupKind
}

// Const builds a literal operand, choosing small or large encoding by
// magnitude (§4.G: "Integers 0..255 -> small constant; others -> large
// constant").
func Const(v int64) Operand {
	if v >= 0 && v <= 255 {
		return Operand{Type: OperandSmall, Value: uint16(v)}
	}
	return Operand{Type: OperandLarge, Value: uint16(v)}
}

// Var builds a variable operand: 0 is the stack top, 1-15 a local, 16-255 a
// global (§4.G).
func Var(v byte) Operand { return Operand{Type: OperandVariable, Value: uint16(v)} }

// Ref builds a forward-reference operand resolved by image at layout time.
func Ref(symbol string, kind layout.FixupKind) Operand {
	return Operand{Type: OperandLarge, Symbol: symbol, Fixup: kind}
}

// Opcode identifies one instruction within its operand-count class. The
// numbering is internal to this compiler; nothing outside the image format
// depends on matching a historical machine's numbers.
type Opcode int

// 2OP opcodes.
const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpJE
	OpJL
	OpJG
	OpStore
	OpGetProp
	OpLoadw
	OpLoadb
	OpStorew
	OpStoreb
	OpTestAttr
)

// 1OP opcodes.
const (
	Op1Jz Opcode = iota
	Op1Not
	Op1Return
	Op1Jump
	Op1Push
	Op1Pull
	Op1Inc
	Op1Dec
	Op1PrintObj
)

// 0OP opcodes.
const (
	Op0Rtrue Opcode = iota
	Op0Rfalse
	Op0Print
	Op0NewLine
	Op0Nop
)

// VAR opcodes.
const (
	OpVCall Opcode = iota
	OpVPrintNum
	OpVPutProp
	OpVSetAttr
	OpVClearAttr
	OpVSRead
)

func emit2OP(buf *layout.Buffer, op Opcode, a, b Operand, store *byte) {
	if a.Type == OperandLarge || b.Type == OperandLarge {
		buf.WriteByte(0xC0 | byte(op))
		buf.WriteByte((a.typeBits() << 6) | (b.typeBits() << 4) | 0x0F)
		writeOperand(buf, a)
		writeOperand(buf, b)
	} else {
		aBit := byte(0)
		if a.Type == OperandVariable {
			aBit = 1
		}
		bBit := byte(0)
		if b.Type == OperandVariable {
			bBit = 1
		}
		buf.WriteByte((aBit << 6) | (bBit << 5) | byte(op))
		writeOperand(buf, a)
		writeOperand(buf, b)
	}
	if store != nil {
		buf.WriteByte(*store)
	}
}

func emit1OP(rg *routineGen, op Opcode, a Operand, store *byte) {
	start := rg.buf.Len()
	rg.buf.WriteByte(0x80 | (a.typeBits() << 4) | byte(op))
	writeOperand(rg.buf, a)
	if store != nil {
		rg.buf.WriteByte(*store)
	}
	if op == Op1Push || op == Op1Pull {
		rg.pushPull = append(rg.pushPull, pushPullMark{op: op, operand: a, start: start, end: rg.buf.Len()})
	}
}

func emit0OP(buf *layout.Buffer, op Opcode) {
	buf.WriteByte(0xB0 | byte(op))
}

func emitVAR(buf *layout.Buffer, op Opcode, operands []Operand, store *byte) {
	buf.WriteByte(0xE0 | byte(op))
	var typeByte byte
	for i := 0; i < 4; i++ {
		var t OperandType = OperandOmitted
		if i < len(operands) {
			t = operands[i].Type
		}
		typeByte |= t.typeBits() << uint((3-i)*2)
	}
	buf.WriteByte(typeByte)
	for _, o := range operands {
		writeOperand(buf, o)
	}
	if store != nil {
		buf.WriteByte(*store)
	}
}

func writeOperand(buf *layout.Buffer, o Operand) {
	switch o.Type {
	case OperandLarge:
		if o.Symbol != "" {
			buf.AddFixup(layout.SectionCode, o.Fixup, o.Symbol)
			return
		}
		buf.WriteWord(o.Value)
	case OperandSmall, OperandVariable:
		buf.WriteByte(byte(o.Value))
	}
}
