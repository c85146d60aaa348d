package emulator

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasek/functrace/pkg/disasm"
)

func regOp(r int) disasm.Operand {
	return disasm.Operand{Kind: disasm.OpReg, Reg: r, Width: 4}
}

func regOpW(r, w int) disasm.Operand {
	return disasm.Operand{Kind: disasm.OpReg, Reg: r, Width: w}
}

func immOp(v uint64) disasm.Operand {
	return disasm.Operand{Kind: disasm.OpImm, Value: v, Width: 4}
}

func memOp(addr uint64) disasm.Operand {
	return disasm.Operand{Kind: disasm.OpMem, Addr: addr, Width: 4}
}

// newEmulator loads the given instructions at consecutive 4-byte slots
// starting at 0x401000 and returns an emulator with a fresh context.
func newEmulator(t *testing.T, insns ...*disasm.Instruction) (*Emulator, *Context) {
	t.Helper()
	snap := disasm.NewSnapshot(disasm.Arch{Bits: 32, ByteOrder: binary.LittleEndian})
	ea := uint64(0x401000)
	for _, insn := range insns {
		insn.EA = ea
		insn.Size = 4
		snap.AddInstruction(insn)
		ea += 4
	}
	emu := New(snap)
	return emu, emu.NewContext().(*Context)
}

// run steps over n instructions starting at 0x401000.
func run(t *testing.T, emu *Emulator, c *Context, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, emu.Step(c, 0x401000+uint64(4*i)))
	}
}

func TestStepMov(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnMov, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(0x1234)}},
		&disasm.Instruction{Itype: disasm.InsnMov, Operands: []disasm.Operand{regOp(disasm.RegBX), regOp(disasm.RegAX)}},
	)
	run(t, emu, c, 2)

	assert.Equal(t, uint64(0x1234), c.Reg(disasm.RegAX, 4))
	assert.Equal(t, uint64(0x1234), c.Reg(disasm.RegBX, 4))
	assert.Equal(t, uint64(0x401008), c.IP)
}

func TestStepMovMemory(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnMov, Operands: []disasm.Operand{memOp(0x500000), regOp(disasm.RegAX)}},
		&disasm.Instruction{Itype: disasm.InsnMov, Operands: []disasm.Operand{regOp(disasm.RegBX), memOp(0x500000)}},
	)
	c.SetReg(disasm.RegAX, 0xCAFEBABE, 4)
	run(t, emu, c, 2)

	v, err := c.ReadValue(0x500000, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xCAFEBABE), v)
	assert.Equal(t, uint64(0xCAFEBABE), c.Reg(disasm.RegBX, 4))
}

func TestStepMovDispl(t *testing.T) {
	// mov eax, [ebx+8]
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnMov, Operands: []disasm.Operand{
			regOp(disasm.RegAX),
			{Kind: disasm.OpDispl, Phrase: uint64(disasm.RegBX), Addr: 8, Width: 4},
		}},
	)
	c.SetReg(disasm.RegBX, 0x500000, 4)
	require.NoError(t, c.WriteValue(0x500008, 0x77, 4))
	run(t, emu, c, 1)

	assert.Equal(t, uint64(0x77), c.Reg(disasm.RegAX, 4))
}

func TestStepLeaSIB(t *testing.T) {
	// lea eax, [ebx+ecx*4+0x10]
	sib := uint8(2<<6 | disasm.RegCX<<3 | disasm.RegBX)
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnLea, Operands: []disasm.Operand{
			regOp(disasm.RegAX),
			{Kind: disasm.OpDispl, HasSIB: true, SIB: sib, Addr: 0x10, Width: 4},
		}},
	)
	c.SetReg(disasm.RegBX, 0x1000, 4)
	c.SetReg(disasm.RegCX, 0x10, 4)
	run(t, emu, c, 1)

	assert.Equal(t, uint64(0x1050), c.Reg(disasm.RegAX, 4))
}

func TestStepMovsx(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnMovsx, Operands: []disasm.Operand{
			regOp(disasm.RegAX), regOpW(disasm.RegBX, 1),
		}},
	)
	c.SetReg(disasm.RegBX, 0x80, 1)
	run(t, emu, c, 1)

	assert.Equal(t, uint64(0xFFFFFF80), c.Reg(disasm.RegAX, 4))
}

func TestStepMovzx(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnMovzx, Operands: []disasm.Operand{
			regOp(disasm.RegAX), regOpW(disasm.RegBX, 1),
		}},
	)
	c.SetReg(disasm.RegAX, 0xFFFFFFFF, 4)
	c.SetReg(disasm.RegBX, 0x80, 1)
	run(t, emu, c, 1)

	assert.Equal(t, uint64(0x80), c.Reg(disasm.RegAX, 4))
}

func TestStepXchg(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnXchg, Operands: []disasm.Operand{
			regOp(disasm.RegAX), regOp(disasm.RegBX),
		}},
	)
	c.SetReg(disasm.RegAX, 1, 4)
	c.SetReg(disasm.RegBX, 2, 4)
	run(t, emu, c, 1)

	assert.Equal(t, uint64(2), c.Reg(disasm.RegAX, 4))
	assert.Equal(t, uint64(1), c.Reg(disasm.RegBX, 4))
}

func TestStepArithmetic(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnAdd, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(5)}},
		&disasm.Instruction{Itype: disasm.InsnSub, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(3)}},
		&disasm.Instruction{Itype: disasm.InsnXor, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(0xFF)}},
		&disasm.Instruction{Itype: disasm.InsnAnd, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(0x0F)}},
		&disasm.Instruction{Itype: disasm.InsnOr, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(0x30)}},
	)
	run(t, emu, c, 5)

	// 0+5-3 = 2; 2^0xFF = 0xFD; &0x0F = 0x0D; |0x30 = 0x3D.
	assert.Equal(t, uint64(0x3D), c.Reg(disasm.RegAX, 4))
	assert.False(t, c.Flag(FlagZF))
	assert.False(t, c.Flag(FlagSF))
}

func TestStepArithmeticFlags(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnSub, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(0)}},
		&disasm.Instruction{Itype: disasm.InsnDec, Operands: []disasm.Operand{regOp(disasm.RegAX)}},
	)
	run(t, emu, c, 1)
	assert.True(t, c.Flag(FlagZF))
	assert.False(t, c.Flag(FlagSF))

	require.NoError(t, emu.Step(c, 0x401004))
	assert.Equal(t, uint64(0xFFFFFFFF), c.Reg(disasm.RegAX, 4))
	assert.False(t, c.Flag(FlagZF))
	assert.True(t, c.Flag(FlagSF))
}

func TestStepShiftsAndRotates(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnShl, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(4)}},
		&disasm.Instruction{Itype: disasm.InsnShr, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(1)}},
		&disasm.Instruction{Itype: disasm.InsnRol, Operands: []disasm.Operand{regOpW(disasm.RegBX, 1), immOp(1)}},
		&disasm.Instruction{Itype: disasm.InsnRor, Operands: []disasm.Operand{regOp(disasm.RegCX), immOp(8)}},
	)
	c.SetReg(disasm.RegAX, 3, 4)
	c.SetReg(disasm.RegBX, 0x81, 1)
	c.SetReg(disasm.RegCX, 0x000000AB, 4)
	run(t, emu, c, 4)

	assert.Equal(t, uint64(0x18), c.Reg(disasm.RegAX, 4))
	assert.Equal(t, uint64(0x03), c.Reg(disasm.RegBX, 1))
	assert.Equal(t, uint64(0xAB000000), c.Reg(disasm.RegCX, 4))
}

func TestStepNotNegInc(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnNot, Operands: []disasm.Operand{regOp(disasm.RegAX)}},
		&disasm.Instruction{Itype: disasm.InsnNeg, Operands: []disasm.Operand{regOp(disasm.RegBX)}},
		&disasm.Instruction{Itype: disasm.InsnInc, Operands: []disasm.Operand{regOp(disasm.RegCX)}},
	)
	c.SetReg(disasm.RegAX, 0x0000FFFF, 4)
	c.SetReg(disasm.RegBX, 1, 4)
	c.SetReg(disasm.RegCX, 7, 4)
	run(t, emu, c, 3)

	assert.Equal(t, uint64(0xFFFF0000), c.Reg(disasm.RegAX, 4))
	assert.Equal(t, uint64(0xFFFFFFFF), c.Reg(disasm.RegBX, 4))
	assert.Equal(t, uint64(8), c.Reg(disasm.RegCX, 4))
}

func TestStepCmpTest(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnCmp, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(5)}},
		&disasm.Instruction{Itype: disasm.InsnTest, Operands: []disasm.Operand{regOp(disasm.RegAX), regOp(disasm.RegAX)}},
	)
	c.SetReg(disasm.RegAX, 2, 4)
	run(t, emu, c, 1)

	// 2 - 5 borrows and goes negative; the operands stay untouched.
	assert.True(t, c.Flag(FlagCF))
	assert.True(t, c.Flag(FlagSF))
	assert.False(t, c.Flag(FlagZF))
	assert.Equal(t, uint64(2), c.Reg(disasm.RegAX, 4))

	require.NoError(t, emu.Step(c, 0x401004))
	assert.False(t, c.Flag(FlagCF))
	assert.False(t, c.Flag(FlagZF))
}

func TestStepPushPop(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnPush, Operands: []disasm.Operand{regOp(disasm.RegAX)}},
		&disasm.Instruction{Itype: disasm.InsnPop, Operands: []disasm.Operand{regOp(disasm.RegBX)}},
	)
	c.SetReg(disasm.RegAX, 0x1234, 4)
	sp := c.Reg(disasm.RegSP, 8)

	run(t, emu, c, 1)
	assert.Equal(t, sp-4, c.Reg(disasm.RegSP, 8))

	require.NoError(t, emu.Step(c, 0x401004))
	assert.Equal(t, sp, c.Reg(disasm.RegSP, 8))
	assert.Equal(t, uint64(0x1234), c.Reg(disasm.RegBX, 4))
}

func TestStepCallRet(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnCall, Operands: []disasm.Operand{
			{Kind: disasm.OpNear, Addr: 0x402000, Width: 4},
		}},
		&disasm.Instruction{Itype: disasm.InsnRetn},
	)
	sp := c.Reg(disasm.RegSP, 8)

	// The call target is not followed, only the return address push is
	// modeled.
	run(t, emu, c, 1)
	assert.Equal(t, sp-4, c.Reg(disasm.RegSP, 8))
	v, err := c.ReadValue(c.Reg(disasm.RegSP, 8), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x401004), v)

	require.NoError(t, emu.Step(c, 0x401004))
	assert.Equal(t, sp, c.Reg(disasm.RegSP, 8))
	assert.Equal(t, uint64(0x401004), c.IP)
}

func TestStepLeave(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnLeave},
	)
	// Fake a prologue result: ebp points at the saved frame pointer.
	require.NoError(t, c.WriteValue(0x117F700, 0x117F7F0, 4))
	c.SetReg(disasm.RegBP, 0x117F700, 4)
	c.SetReg(disasm.RegSP, 0x117F6E0, 4)
	run(t, emu, c, 1)

	assert.Equal(t, uint64(0x117F704), c.Reg(disasm.RegSP, 8))
	assert.Equal(t, uint64(0x117F7F0), c.Reg(disasm.RegBP, 4))
}

func TestStepJccDoesNotBranch(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnJz, Operands: []disasm.Operand{
			{Kind: disasm.OpNear, Addr: 0x402000, Width: 4},
		}},
	)
	run(t, emu, c, 1)

	// Branch direction is the path's decision; the step only advances.
	assert.Equal(t, uint64(0x401004), c.IP)
}

func TestStepSkipsUnknown(t *testing.T) {
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnNone, Mnemonic: "cpuid"},
	)
	run(t, emu, c, 1)
	assert.Equal(t, uint64(0x401004), c.IP)
}

func TestStepNoInstruction(t *testing.T) {
	emu, c := newEmulator(t)
	err := emu.Step(c, 0x401000)
	assert.ErrorIs(t, err, disasm.ErrNoInstruction)
}

func TestStepXorDecode(t *testing.T) {
	// The common single-byte-key pattern, unrolled over one dword:
	// encoded bytes sit in emulated memory, the decode xors in place.
	emu, c := newEmulator(t,
		&disasm.Instruction{Itype: disasm.InsnMov, Operands: []disasm.Operand{regOp(disasm.RegAX), memOp(0x500000)}},
		&disasm.Instruction{Itype: disasm.InsnXor, Operands: []disasm.Operand{regOp(disasm.RegAX), immOp(0x55555555)}},
		&disasm.Instruction{Itype: disasm.InsnMov, Operands: []disasm.Operand{memOp(0x500000), regOp(disasm.RegAX)}},
	)
	c.WriteMem(0x500000, []byte{'G' ^ 0x55, 'o' ^ 0x55, '!' ^ 0x55, 0x55})
	run(t, emu, c, 3)

	assert.Equal(t, []byte("Go!"), c.ReadString(0x500000, 16))
}
