package operand

import (
	"errors"
	"fmt"

	"github.com/avasek/functrace/pkg/disasm"
)

// ErrAddressDecode is returned when a base or index register cannot be
// resolved from an addressing encoding.
var ErrAddressDecode = errors.New("cannot decode addressing encoding")

// SIBBase returns the base register number encoded in the SIB byte,
// upconverted by REX.B in 64-bit mode.
func SIBBase(insn *disasm.Instruction, op disasm.Operand, arch disasm.Arch) int {
	base := int(op.SIB & 7)
	if arch.Is64() && insn.Insnpref&disasm.RexB != 0 {
		base |= 8
	}
	return base
}

// SIBIndex returns the index register number encoded in the SIB byte,
// upconverted by REX.X in 64-bit mode. Index 4 means "no index" and is
// handled by IndexReg.
func SIBIndex(insn *disasm.Instruction, op disasm.Operand, arch disasm.Arch) int {
	index := int((op.SIB >> 3) & 7)
	if arch.Is64() && insn.Insnpref&disasm.RexX != 0 {
		index |= 8
	}
	return index
}

// SIBScale returns the index scale factor (1, 2, 4 or 8).
func SIBScale(op disasm.Operand) int {
	return 1 << ((op.SIB >> 6) & 3)
}

// AD16 reports whether the instruction uses 16-bit addressing.
func AD16(insn *disasm.Instruction) bool {
	p := insn.Auxpref & (disasm.AuxUse16 | disasm.AuxUse32 | disasm.AuxAddrSize)
	return p == disasm.AuxAddrSize || p == disasm.AuxUse16
}

// Op16 reports whether the instruction's operand size is 16-bit.
func Op16(insn *disasm.Instruction) bool {
	p := insn.Auxpref & (disasm.AuxUse16 | disasm.AuxUse32 | disasm.AuxOpSize)
	return p == disasm.AuxOpSize ||
		p == disasm.AuxUse16 ||
		(p == disasm.AuxUse32 && insn.Insnpref&disasm.RexW == 0)
}

// Op32 reports whether the instruction's operand size is 32-bit.
func Op32(insn *disasm.Instruction) bool {
	p := insn.Auxpref & (disasm.AuxUse16 | disasm.AuxUse32 | disasm.AuxOpSize)
	return p == 0 ||
		p == disasm.AuxUse16|disasm.AuxOpSize ||
		(p == disasm.AuxUse32|disasm.AuxOpSize && insn.Insnpref&disasm.RexW == 0)
}

// Op64 reports whether the instruction's operand size is 64-bit. Always
// false outside 64-bit mode.
func Op64(insn *disasm.Instruction, arch disasm.Arch) bool {
	if !arch.Is64() {
		return false
	}
	return insn.Auxpref&disasm.AuxUse32 != 0 &&
		(insn.Insnpref&disasm.RexW != 0 ||
			(insn.Auxpref&disasm.AuxOpSize != 0 && DefaultOpSize64(insn)))
}

// IsJcc reports whether the instruction is a conditional jump.
func IsJcc(insn *disasm.Instruction) bool {
	switch insn.Itype {
	case disasm.InsnJa, disasm.InsnJae, disasm.InsnJb, disasm.InsnJbe,
		disasm.InsnJc, disasm.InsnJe, disasm.InsnJg, disasm.InsnJge,
		disasm.InsnJl, disasm.InsnJle, disasm.InsnJna, disasm.InsnJnae,
		disasm.InsnJnb, disasm.InsnJnbe, disasm.InsnJnc, disasm.InsnJne,
		disasm.InsnJng, disasm.InsnJnge, disasm.InsnJnl, disasm.InsnJnle,
		disasm.InsnJno, disasm.InsnJnp, disasm.InsnJns, disasm.InsnJnz,
		disasm.InsnJo, disasm.InsnJp, disasm.InsnJpe, disasm.InsnJpo,
		disasm.InsnJs, disasm.InsnJz:
		return true
	}
	return false
}

// DefaultOpSize64 reports whether the instruction defaults to a 64-bit
// operand size in long mode regardless of the REX.W bit.
func DefaultOpSize64(insn *disasm.Instruction) bool {
	if IsJcc(insn) {
		return true
	}
	switch insn.Itype {
	// Stack-relative instructions.
	case disasm.InsnPop, disasm.InsnPopf, disasm.InsnPopfq,
		disasm.InsnPush, disasm.InsnPushf, disasm.InsnPushfq,
		disasm.InsnRetn, disasm.InsnRetf, disasm.InsnRetnq, disasm.InsnRetfq,
		disasm.InsnCall, disasm.InsnCallfi, disasm.InsnCallni,
		disasm.InsnEnter, disasm.InsnEnterq,
		disasm.InsnLeave, disasm.InsnLeaveq:
		return true
	// Near branches.
	case disasm.InsnJcxz, disasm.InsnJecxz, disasm.InsnJrcxz,
		disasm.InsnJmp, disasm.InsnJmpni, disasm.InsnJmpshort,
		disasm.InsnLoop, disasm.InsnLoopq,
		disasm.InsnLoope, disasm.InsnLoopqe,
		disasm.InsnLoopne, disasm.InsnLoopqne:
		return true
	}
	return false
}

// BaseReg resolves the base register of a phrase/displacement operand.
// With a SIB byte present the base comes from the SIB encoding; otherwise
// the phrase number selects it, with the legacy 16-bit addressing table
// applied when the instruction uses 16-bit addressing.
//
// The 16-bit table is preserved exactly; the case split encodes hardware
// quirks and a wrong assignment here silently produces wrong addresses.
func BaseReg(insn *disasm.Instruction, op disasm.Operand, arch disasm.Arch) (int, error) {
	if op.HasSIB {
		return SIBBase(insn, op, arch), nil
	}

	if !AD16(insn) {
		return int(op.Phrase), nil
	}

	if Signed(op.Phrase, uint(arch.Bits)) == -1 {
		return disasm.RegSP, nil
	}

	switch op.Phrase {
	case 0, 1, 7: // [BX+SI], [BX+DI], [BX]
		return disasm.RegBX, nil
	case 2, 3, 6: // [BP+SI], [BP+DI], [BP]
		return disasm.RegBP, nil
	case 4: // [SI]
		return disasm.RegSI, nil
	case 5: // [DI]
		return disasm.RegDI, nil
	}
	return 0, fmt.Errorf("%w: base for phrase %d", ErrAddressDecode, op.Phrase)
}

// IndexReg resolves the index register of a phrase/displacement operand,
// or disasm.RegNone when the operand has no index register.
func IndexReg(insn *disasm.Instruction, op disasm.Operand, arch disasm.Arch) (int, error) {
	if op.HasSIB {
		idx := SIBIndex(insn, op, arch)
		if idx != 4 {
			return idx, nil
		}
		return disasm.RegNone, nil
	}

	if !AD16(insn) {
		return disasm.RegNone, nil
	}

	switch op.Phrase {
	case 0, 2: // [BX+SI], [BP+SI]
		return disasm.RegSI, nil
	case 1, 3: // [BX+DI], [BP+DI]
		return disasm.RegDI, nil
	case 4, 5, 6, 7: // [SI], [DI], [BP], [BX]
		return disasm.RegNone, nil
	}
	return 0, fmt.Errorf("%w: index for phrase %d", ErrAddressDecode, op.Phrase)
}
