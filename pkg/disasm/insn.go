package disasm

import "fmt"

// InsnType classifies an instruction by mnemonic family. The numbering is
// internal to this package; only membership in the families below matters.
type InsnType uint16

// Instruction classes. The conditional-jump block and the default-64-bit
// operand block mirror the processor module's fixed membership tables and
// must stay contiguous.
const (
	InsnNone InsnType = iota

	// Conditional jumps (Jcc family).
	InsnJa
	InsnJae
	InsnJb
	InsnJbe
	InsnJc
	InsnJe
	InsnJg
	InsnJge
	InsnJl
	InsnJle
	InsnJna
	InsnJnae
	InsnJnb
	InsnJnbe
	InsnJnc
	InsnJne
	InsnJng
	InsnJnge
	InsnJnl
	InsnJnle
	InsnJno
	InsnJnp
	InsnJns
	InsnJnz
	InsnJo
	InsnJp
	InsnJpe
	InsnJpo
	InsnJs
	InsnJz

	// Stack / call / near-branch instructions that default to 64-bit
	// operand size in long mode.
	InsnPop
	InsnPopf
	InsnPopfq
	InsnPush
	InsnPushf
	InsnPushfq
	InsnRetn
	InsnRetf
	InsnRetnq
	InsnRetfq
	InsnCall
	InsnCallfi
	InsnCallni
	InsnEnter
	InsnEnterq
	InsnLeave
	InsnLeaveq
	InsnJcxz
	InsnJecxz
	InsnJrcxz
	InsnJmp
	InsnJmpni
	InsnJmpshort
	InsnLoop
	InsnLoopq
	InsnLoope
	InsnLoopqe
	InsnLoopne
	InsnLoopqne

	// General instructions used by the reference processor step.
	InsnMov
	InsnMovzx
	InsnMovsx
	InsnLea
	InsnAdd
	InsnSub
	InsnInc
	InsnDec
	InsnXor
	InsnAnd
	InsnOr
	InsnNot
	InsnNeg
	InsnShl
	InsnShr
	InsnRol
	InsnRor
	InsnCmp
	InsnTest
	InsnXchg
	InsnNop
)

// Operand kinds, following the usual disassembler operand taxonomy.
type OpKind uint8

const (
	OpVoid   OpKind = iota // no operand
	OpReg                  // register
	OpMem                  // direct memory reference
	OpPhrase               // memory via register phrase [base+index]
	OpDispl                // memory via register phrase plus displacement
	OpImm                  // immediate
	OpFar                  // far address
	OpNear                 // near address
)

// x86 register numbers. Sub-register variants (al/ax/eax/rax) share the
// number of their full-width register.
const (
	RegAX = 0
	RegCX = 1
	RegDX = 2
	RegBX = 3
	RegSP = 4
	RegBP = 5
	RegSI = 6
	RegDI = 7
	RegR8 = 8
	// r9..r15 follow consecutively.
	RegR15 = 15

	// RegNone marks an absent index register.
	RegNone = -1
)

var regNames = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// RegName returns the canonical (64-bit) name for a register number.
func RegName(reg int) string {
	if reg < 0 || reg >= len(regNames) {
		return fmt.Sprintf("reg%d", reg)
	}
	return regNames[reg]
}

// Instruction prefix flag bits carried in Auxpref, mirroring the encoding
// the disassembler reports for x86.
const (
	AuxUse16    = 0x00000008 // 16-bit segment
	AuxUse32    = 0x00000010 // 32-bit segment
	AuxOpSize   = 0x00000800 // 66h operand-size prefix present
	AuxAddrSize = 0x00001000 // 67h address-size prefix present
)

// REX prefix bits carried in Insnpref.
const (
	RexB = 0x1 // extension of ModRM r/m, SIB base, or opcode reg
	RexX = 0x2 // extension of SIB index
	RexR = 0x4 // extension of ModRM reg
	RexW = 0x8 // 64-bit operand size
)

// Operand carries the raw encoding fields of one instruction operand.
type Operand struct {
	Kind OpKind `msgpack:"kind" yaml:"kind" json:"kind"`

	// Reg is the register number for OpReg operands.
	Reg int `msgpack:"reg" yaml:"reg" json:"reg"`

	// Phrase is the register phrase number for OpPhrase/OpDispl operands.
	// Without a SIB byte it directly selects the base register encoding.
	Phrase uint64 `msgpack:"phrase" yaml:"phrase" json:"phrase"`

	// HasSIB reports whether an explicit scale-index-base byte is present.
	HasSIB bool `msgpack:"has_sib" yaml:"has_sib" json:"has_sib"`

	// SIB is the raw scale-index-base byte, valid only when HasSIB is set.
	SIB uint8 `msgpack:"sib" yaml:"sib" json:"sib"`

	// Addr is the displacement for OpDispl or the target for OpMem/OpNear.
	Addr uint64 `msgpack:"addr" yaml:"addr" json:"addr"`

	// Value is the immediate for OpImm operands.
	Value uint64 `msgpack:"value" yaml:"value" json:"value"`

	// Width is the operand width in bytes, as decoded.
	Width int `msgpack:"width" yaml:"width" json:"width"`
}

// Instruction is one decoded instruction with its raw encoding fields.
type Instruction struct {
	EA       uint64    `msgpack:"ea" yaml:"ea" json:"ea"`
	Size     int       `msgpack:"size" yaml:"size" json:"size"`
	Itype    InsnType  `msgpack:"itype" yaml:"itype" json:"itype"`
	Mnemonic string    `msgpack:"mnemonic" yaml:"mnemonic" json:"mnemonic"`
	Auxpref  uint32    `msgpack:"auxpref" yaml:"auxpref" json:"auxpref"`
	Insnpref uint8     `msgpack:"insnpref" yaml:"insnpref" json:"insnpref"`
	Operands []Operand `msgpack:"operands" yaml:"operands" json:"operands"`
}

// Op returns the n-th operand, or a void operand when absent.
func (i *Instruction) Op(n int) Operand {
	if n < 0 || n >= len(i.Operands) {
		return Operand{Kind: OpVoid}
	}
	return i.Operands[n]
}
