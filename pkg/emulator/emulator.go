package emulator

import (
	"fmt"
	"math/bits"

	"github.com/avasek/functrace/internal/log"
	"github.com/avasek/functrace/pkg/disasm"
	"github.com/avasek/functrace/pkg/flowchart"
	"github.com/avasek/functrace/pkg/operand"
)

// Emulator is the reference Stepper. It interprets a small general-purpose
// x86 subset, enough to replay the data flow of string decoding loops.
// Instructions outside the subset advance the instruction pointer and are
// otherwise skipped, so a trace through unknown code degrades instead of
// failing.
type Emulator struct {
	prog   disasm.Program
	arch   disasm.Arch
	logger log.Logger
}

// New returns an emulator stepping over instructions of prog.
func New(prog disasm.Program) *Emulator {
	return &Emulator{
		prog:   prog,
		arch:   prog.Arch(),
		logger: log.Nop(),
	}
}

// SetLogger replaces the no-op logger. Skipped opcodes are reported at
// debug level.
func (e *Emulator) SetLogger(logger log.Logger) { e.logger = logger }

// NewContext creates a fresh processor context for the snapshot's
// byte order.
func (e *Emulator) NewContext() flowchart.Context {
	return NewContext(e.arch.ByteOrder)
}

// Step executes the instruction at ea against ctx.
func (e *Emulator) Step(ctx flowchart.Context, ea uint64) error {
	c, ok := ctx.(*Context)
	if !ok {
		return fmt.Errorf("emulator: foreign context %T", ctx)
	}
	insn, err := e.prog.InstructionAt(ea)
	if err != nil {
		return err
	}
	c.IP = insn.EA + uint64(insn.Size)

	if operand.IsJcc(insn) {
		// Branch direction is chosen by the path, not the emulator.
		return nil
	}

	switch insn.Itype {
	case disasm.InsnNop, disasm.InsnJmp, disasm.InsnJmpni, disasm.InsnJmpshort:
	case disasm.InsnMov, disasm.InsnMovzx:
		v, err := e.read(c, insn, 1)
		if err != nil {
			return err
		}
		return e.write(c, insn, 0, v)
	case disasm.InsnMovsx:
		v, err := e.read(c, insn, 1)
		if err != nil {
			return err
		}
		src := e.opWidth(insn, insn.Op(1))
		dst := e.opWidth(insn, insn.Op(0))
		return e.write(c, insn, 0, operand.SignExtend(v, src, dst))
	case disasm.InsnLea:
		addr, err := e.address(c, insn, insn.Op(1))
		if err != nil {
			return err
		}
		return e.write(c, insn, 0, addr)
	case disasm.InsnXchg:
		a, err := e.read(c, insn, 0)
		if err != nil {
			return err
		}
		b, err := e.read(c, insn, 1)
		if err != nil {
			return err
		}
		if err := e.write(c, insn, 0, b); err != nil {
			return err
		}
		return e.write(c, insn, 1, a)
	case disasm.InsnAdd:
		return e.binop(c, insn, func(a, b uint64) uint64 { return a + b })
	case disasm.InsnSub:
		return e.binop(c, insn, func(a, b uint64) uint64 { return a - b })
	case disasm.InsnXor:
		return e.binop(c, insn, func(a, b uint64) uint64 { return a ^ b })
	case disasm.InsnAnd:
		return e.binop(c, insn, func(a, b uint64) uint64 { return a & b })
	case disasm.InsnOr:
		return e.binop(c, insn, func(a, b uint64) uint64 { return a | b })
	case disasm.InsnShl:
		return e.binop(c, insn, func(a, b uint64) uint64 { return a << (b & 0x3f) })
	case disasm.InsnShr:
		return e.binop(c, insn, func(a, b uint64) uint64 { return a >> (b & 0x3f) })
	case disasm.InsnRol:
		return e.rotate(c, insn, true)
	case disasm.InsnRor:
		return e.rotate(c, insn, false)
	case disasm.InsnNot:
		return e.unop(c, insn, func(a uint64) uint64 { return ^a })
	case disasm.InsnNeg:
		return e.unop(c, insn, func(a uint64) uint64 { return -a })
	case disasm.InsnInc:
		return e.unop(c, insn, func(a uint64) uint64 { return a + 1 })
	case disasm.InsnDec:
		return e.unop(c, insn, func(a uint64) uint64 { return a - 1 })
	case disasm.InsnCmp:
		a, err := e.read(c, insn, 0)
		if err != nil {
			return err
		}
		b, err := e.read(c, insn, 1)
		if err != nil {
			return err
		}
		e.setFlags(c, a-b, e.opWidth(insn, insn.Op(0)))
		c.SetFlag(FlagCF, a < b)
		return nil
	case disasm.InsnTest:
		a, err := e.read(c, insn, 0)
		if err != nil {
			return err
		}
		b, err := e.read(c, insn, 1)
		if err != nil {
			return err
		}
		e.setFlags(c, a&b, e.opWidth(insn, insn.Op(0)))
		c.SetFlag(FlagCF, false)
		c.SetFlag(FlagOF, false)
		return nil
	case disasm.InsnPush:
		v, err := e.read(c, insn, 0)
		if err != nil {
			return err
		}
		return e.push(c, insn, v)
	case disasm.InsnPop:
		v, err := e.pop(c, insn)
		if err != nil {
			return err
		}
		return e.write(c, insn, 0, v)
	case disasm.InsnCall, disasm.InsnCallni, disasm.InsnCallfi:
		// The call is not followed; only the return address push is
		// modeled so stack offsets stay consistent.
		return e.push(c, insn, c.IP)
	case disasm.InsnRetn, disasm.InsnRetf, disasm.InsnRetnq, disasm.InsnRetfq:
		v, err := e.pop(c, insn)
		if err != nil {
			return err
		}
		c.IP = v
		return nil
	case disasm.InsnLeave, disasm.InsnLeaveq:
		width := e.stackWidth(insn)
		c.SetReg(disasm.RegSP, c.Reg(disasm.RegBP, 8), 8)
		v, err := e.pop(c, insn)
		if err != nil {
			return err
		}
		c.SetReg(disasm.RegBP, v, width)
		return nil
	default:
		e.logger.Debug("skipping unsupported instruction", "ea", fmt.Sprintf("0x%X", ea), "mnemonic", insn.Mnemonic)
	}
	return nil
}

// opWidth returns the effective operand width in bytes. Explicit operand
// widths win; otherwise the width follows the mode and prefixes.
func (e *Emulator) opWidth(insn *disasm.Instruction, op disasm.Operand) int {
	if op.Width > 0 {
		return op.Width
	}
	switch {
	case operand.Op64(insn, e.arch):
		return 8
	case operand.Op16(insn):
		return 2
	default:
		return 4
	}
}

// address resolves the effective address of a memory operand, combining
// the base register, scaled index and displacement.
func (e *Emulator) address(c *Context, insn *disasm.Instruction, op disasm.Operand) (uint64, error) {
	if op.Kind == disasm.OpMem {
		return op.Addr, nil
	}
	addrWidth := 8
	if !e.arch.Is64() {
		addrWidth = 4
		if operand.AD16(insn) {
			addrWidth = 2
		}
	}
	var addr uint64
	base, err := operand.BaseReg(insn, op, e.arch)
	if err != nil {
		return 0, err
	}
	if base != disasm.RegNone {
		addr += c.Reg(base, addrWidth)
	}
	index, err := operand.IndexReg(insn, op, e.arch)
	if err != nil {
		return 0, err
	}
	if index != disasm.RegNone {
		scale := 1
		if op.HasSIB {
			scale = operand.SIBScale(op)
		}
		addr += c.Reg(index, addrWidth) * uint64(scale)
	}
	if op.Kind == disasm.OpDispl {
		addr += op.Addr
	}
	return addr & operand.Mask(addrWidth), nil
}

// read fetches the value of operand n.
func (e *Emulator) read(c *Context, insn *disasm.Instruction, n int) (uint64, error) {
	op := insn.Op(n)
	width := e.opWidth(insn, op)
	switch op.Kind {
	case disasm.OpReg:
		return c.Reg(op.Reg, width), nil
	case disasm.OpImm, disasm.OpNear, disasm.OpFar:
		return op.Value & operand.Mask(width), nil
	case disasm.OpMem, disasm.OpPhrase, disasm.OpDispl:
		addr, err := e.address(c, insn, op)
		if err != nil {
			return 0, err
		}
		return c.ReadValue(addr, width)
	default:
		return 0, fmt.Errorf("emulator: unreadable operand %d at 0x%X", n, insn.EA)
	}
}

// write stores a value into operand n.
func (e *Emulator) write(c *Context, insn *disasm.Instruction, n int, v uint64) error {
	op := insn.Op(n)
	width := e.opWidth(insn, op)
	switch op.Kind {
	case disasm.OpReg:
		c.SetReg(op.Reg, v, width)
		return nil
	case disasm.OpMem, disasm.OpPhrase, disasm.OpDispl:
		addr, err := e.address(c, insn, op)
		if err != nil {
			return err
		}
		return c.WriteValue(addr, v, width)
	default:
		return fmt.Errorf("emulator: unwritable operand %d at 0x%X", n, insn.EA)
	}
}

func (e *Emulator) binop(c *Context, insn *disasm.Instruction, fn func(a, b uint64) uint64) error {
	a, err := e.read(c, insn, 0)
	if err != nil {
		return err
	}
	b, err := e.read(c, insn, 1)
	if err != nil {
		return err
	}
	width := e.opWidth(insn, insn.Op(0))
	result := fn(a, b) & operand.Mask(width)
	e.setFlags(c, result, width)
	return e.write(c, insn, 0, result)
}

func (e *Emulator) unop(c *Context, insn *disasm.Instruction, fn func(a uint64) uint64) error {
	a, err := e.read(c, insn, 0)
	if err != nil {
		return err
	}
	width := e.opWidth(insn, insn.Op(0))
	result := fn(a) & operand.Mask(width)
	e.setFlags(c, result, width)
	return e.write(c, insn, 0, result)
}

func (e *Emulator) rotate(c *Context, insn *disasm.Instruction, left bool) error {
	a, err := e.read(c, insn, 0)
	if err != nil {
		return err
	}
	b, err := e.read(c, insn, 1)
	if err != nil {
		return err
	}
	width := e.opWidth(insn, insn.Op(0))
	n := int(b) % (width * 8)
	if !left {
		n = -n
	}
	var result uint64
	switch width {
	case 1:
		result = uint64(bits.RotateLeft8(uint8(a), n))
	case 2:
		result = uint64(bits.RotateLeft16(uint16(a), n))
	case 4:
		result = uint64(bits.RotateLeft32(uint32(a), n))
	default:
		result = bits.RotateLeft64(a, n)
	}
	return e.write(c, insn, 0, result)
}

// setFlags updates ZF and SF from a result. CF and OF handling is left to
// the operations that need it.
func (e *Emulator) setFlags(c *Context, result uint64, width int) {
	result &= operand.Mask(width)
	c.SetFlag(FlagZF, result == 0)
	c.SetFlag(FlagSF, operand.SignBit(result, width) != 0)
}

// push writes v to the stack and moves the stack pointer down.
func (e *Emulator) push(c *Context, insn *disasm.Instruction, v uint64) error {
	width := e.stackWidth(insn)
	sp := c.Reg(disasm.RegSP, 8) - uint64(width)
	c.SetReg(disasm.RegSP, sp, 8)
	return c.WriteValue(sp, v, width)
}

// pop reads the top of the stack and moves the stack pointer up.
func (e *Emulator) pop(c *Context, insn *disasm.Instruction) (uint64, error) {
	width := e.stackWidth(insn)
	sp := c.Reg(disasm.RegSP, 8)
	v, err := c.ReadValue(sp, width)
	if err != nil {
		return 0, err
	}
	c.SetReg(disasm.RegSP, sp+uint64(width), 8)
	return v, nil
}

func (e *Emulator) stackWidth(insn *disasm.Instruction) int {
	switch {
	case e.arch.Is64():
		return 8
	case operand.Op16(insn):
		return 2
	default:
		return 4
	}
}

var _ flowchart.Stepper = (*Emulator)(nil)
