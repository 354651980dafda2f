package codegen

// peephole runs the basic, length-preserving optimizations of §4.G over a
// routine's fully resolved instruction stream: a push immediately undone by
// a pull of the same variable, a jump that lands on the very next byte, and
// a conditional branch whose target is an RTRUE already reached by the
// fallthrough path. Matches are overwritten with Op0Nop bytes rather than
// removed, so no label, branch, or layout.Fixup offset needs renumbering.
func (rg *routineGen) peephole() {
	rg.foldRedundantPushPull()
	rg.foldJumpToNextByte()
	rg.foldBranchToFallthroughRtrue()
}

const opcodeNop = 0xB0 | byte(Op0Nop)
const opcodeRtrue = 0xB0 | byte(Op0Rtrue)

func nopFill(b []byte, start, end int) {
	for i := start; i < end; i++ {
		b[i] = opcodeNop
	}
}

// foldRedundantPushPull collapses "push x; pull x" into nothing: pushing a
// variable's value and immediately popping it back into that same variable
// changes nothing.
func (rg *routineGen) foldRedundantPushPull() {
	for i := 0; i+1 < len(rg.pushPull); i++ {
		push, pull := rg.pushPull[i], rg.pushPull[i+1]
		if push.op != Op1Push || pull.op != Op1Pull {
			continue
		}
		if push.end != pull.start {
			continue
		}
		if push.operand.Type != OperandVariable || pull.operand.Type != OperandVariable {
			continue
		}
		if push.operand.Value != pull.operand.Value {
			continue
		}
		nopFill(rg.buf.Bytes, push.start, pull.end)
	}
}

// foldJumpToNextByte removes an unconditional jump whose target is the byte
// immediately following the jump instruction.
func (rg *routineGen) foldJumpToNextByte() {
	for _, ref := range rg.jumpRefs {
		target, ok := rg.labels[ref.label]
		if !ok || target != ref.offset+2 {
			continue
		}
		nopFill(rg.buf.Bytes, ref.offset-1, ref.offset+2)
	}
}

// foldBranchToFallthroughRtrue removes a test+branch group whose branch
// target is the very next instruction and that instruction is RTRUE: the
// test result can't change which RTRUE executes, so the test is dead.
func (rg *routineGen) foldBranchToFallthroughRtrue() {
	for _, ref := range rg.branchRefs {
		if ref.instrStart < 0 {
			continue
		}
		target, ok := rg.labels[ref.label]
		if !ok {
			continue
		}
		width := 1
		if ref.long {
			width = 2
		}
		branchEnd := ref.offset + width
		if target != branchEnd {
			continue
		}
		if target >= len(rg.buf.Bytes) || rg.buf.Bytes[target] != opcodeRtrue {
			continue
		}
		nopFill(rg.buf.Bytes, ref.instrStart, branchEnd)
	}
}
