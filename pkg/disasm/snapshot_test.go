package disasm

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	s := NewSnapshot(Arch{Bits: 32, ByteOrder: binary.LittleEndian})

	// Inserted out of order on purpose; the snapshot keeps them sorted.
	s.AddFunction(&Function{
		Name:  "helper",
		Start: 0x402000,
		End:   0x402040,
		Blocks: []BlockDef{
			{Start: 0x402000, End: 0x402040},
		},
	})
	s.AddFunction(&Function{
		Name:  "decode",
		Start: 0x401000,
		End:   0x401020,
		Blocks: []BlockDef{
			{Start: 0x401000, End: 0x401020},
		},
	})

	for ea := uint64(0x401000); ea < 0x401020; ea += 4 {
		s.AddInstruction(&Instruction{EA: ea, Size: 4, Itype: InsnNop, Mnemonic: "nop"})
	}

	s.AddSegment(&Segment{
		Name:  ".text",
		Start: 0x401000,
		End:   0x403000,
		Data:  []byte{0x90, 0x90, 0xC3},
	})
	s.AddSegment(&Segment{
		Name:  ".data",
		Start: 0x500000,
		End:   0x500100,
		Data:  []byte("secret\x00key\x00"),
	})

	s.AddImport(Import{EA: 0x405000, Name: "CreateFileA", Module: "kernel32"})
	s.AddImport(Import{EA: 0x405004, Name: "WriteFile", Module: "kernel32"})
	s.AddImport(Import{EA: 0x405008, Name: "memcpy", Module: "msvcrt"})
	s.AddExport(Export{EA: 0x401000, Name: "decode", Ordinal: 1})
	return s
}

func TestFunctionAt(t *testing.T) {
	s := testSnapshot()

	fn, err := s.FunctionAt(0x401008)
	require.NoError(t, err)
	assert.Equal(t, "decode", fn.Name)

	// Exact start and last byte of the second function.
	fn, err = s.FunctionAt(0x402000)
	require.NoError(t, err)
	assert.Equal(t, "helper", fn.Name)
	fn, err = s.FunctionAt(0x40203F)
	require.NoError(t, err)
	assert.Equal(t, "helper", fn.Name)

	// Gap between the functions and an address before the first one.
	_, err = s.FunctionAt(0x401020)
	assert.ErrorIs(t, err, ErrInvalidFunction)
	_, err = s.FunctionAt(0x100)
	assert.ErrorIs(t, err, ErrInvalidFunction)
}

func TestFunctionsSorted(t *testing.T) {
	s := testSnapshot()

	fns := s.Functions()
	require.Len(t, fns, 2)
	assert.Equal(t, "decode", fns[0].Name)
	assert.Equal(t, "helper", fns[1].Name)
}

func TestInstructionAt(t *testing.T) {
	s := testSnapshot()

	insn, err := s.InstructionAt(0x401004)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x401004), insn.EA)

	// Mid-instruction addresses are not heads.
	_, err = s.InstructionAt(0x401005)
	assert.ErrorIs(t, err, ErrNoInstruction)
}

func TestHeads(t *testing.T) {
	s := testSnapshot()

	heads := s.Heads(0x401004, 0x401010)
	assert.Equal(t, []uint64{0x401004, 0x401008, 0x40100C}, heads)

	assert.Nil(t, s.Heads(0x500000, 0x500100))
	assert.Nil(t, s.Heads(0x401010, 0x401010))
}

func TestNextHead(t *testing.T) {
	s := testSnapshot()

	next, ok := s.NextHead(0x401000)
	require.True(t, ok)
	assert.Equal(t, uint64(0x401004), next)

	// NextHead is strict: a mid-instruction address still finds the
	// following head.
	next, ok = s.NextHead(0x401005)
	require.True(t, ok)
	assert.Equal(t, uint64(0x401008), next)

	_, ok = s.NextHead(0x40101C)
	assert.False(t, ok)
}

func TestAddInstructionReplaces(t *testing.T) {
	s := testSnapshot()

	s.AddInstruction(&Instruction{EA: 0x401000, Size: 4, Itype: InsnMov, Mnemonic: "mov"})

	insn, err := s.InstructionAt(0x401000)
	require.NoError(t, err)
	assert.Equal(t, InsnMov, insn.Itype)

	// The head list must not grow a duplicate entry.
	heads := s.Heads(0x401000, 0x401008)
	assert.Equal(t, []uint64{0x401000, 0x401004}, heads)
}

func TestSegmentLookup(t *testing.T) {
	s := testSnapshot()

	seg, err := s.SegmentAt(0x402FFF)
	require.NoError(t, err)
	assert.Equal(t, ".text", seg.Name)

	_, err = s.SegmentAt(0x403000)
	assert.ErrorIs(t, err, ErrNoSegment)

	seg, err = s.SegmentByName(".data")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x500000), seg.Start)

	_, err = s.SegmentByName(".bss")
	assert.ErrorIs(t, err, ErrNoSegment)
}

func TestBytes(t *testing.T) {
	s := testSnapshot()

	// Reads past the loaded data but inside the segment come back zero.
	b, err := s.Bytes(0x401001, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0xC3, 0x00, 0x00}, b)

	// Reads past the segment end are truncated to zero as well.
	b, err = s.Bytes(0x5000FE, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, b)

	_, err = s.Bytes(0x900000, 1)
	assert.ErrorIs(t, err, ErrNoSegment)
}

func TestIterImports(t *testing.T) {
	s := testSnapshot()

	all := s.IterImports("")
	assert.Len(t, all, 3)

	k32 := s.IterImports("KERNEL32")
	require.Len(t, k32, 2)
	assert.Equal(t, "CreateFileA", k32[0].Name)

	named := s.IterImports("", "WriteFile", "memcpy")
	require.Len(t, named, 2)
	assert.Equal(t, uint64(0x405004), named[0].EA)
	assert.Equal(t, uint64(0x405008), named[1].EA)
}

func TestImportExportAddr(t *testing.T) {
	s := testSnapshot()

	ea, ok := s.ImportAddr("memcpy", "")
	require.True(t, ok)
	assert.Equal(t, uint64(0x405008), ea)

	_, ok = s.ImportAddr("memcpy", "kernel32")
	assert.False(t, ok)

	ea, ok = s.ExportAddr("decode")
	require.True(t, ok)
	assert.Equal(t, uint64(0x401000), ea)

	_, ok = s.ExportAddr("missing")
	assert.False(t, ok)
}

func TestFunctionAddr(t *testing.T) {
	s := testSnapshot()

	// Defined functions take precedence over the import table.
	ea, ok := s.FunctionAddr("decode")
	require.True(t, ok)
	assert.Equal(t, uint64(0x401000), ea)

	ea, ok = s.FunctionAddr("WriteFile")
	require.True(t, ok)
	assert.Equal(t, uint64(0x405004), ea)

	_, ok = s.FunctionAddr("missing")
	assert.False(t, ok)
}

func TestIterFunctions(t *testing.T) {
	s := testSnapshot()

	assert.Len(t, s.IterFunctions(), 2)

	named := s.IterFunctions("helper")
	require.Len(t, named, 1)
	assert.Equal(t, uint64(0x402000), named[0].Start)

	assert.Empty(t, s.IterFunctions("missing"))
}

func TestFunctionByName(t *testing.T) {
	s := testSnapshot()

	fn, err := s.FunctionByName("helper")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x402000), fn.Start)

	_, err = s.FunctionByName("missing")
	assert.ErrorIs(t, err, ErrInvalidFunction)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src := testSnapshot()
	src.Functions()[0].Blocks[0].Succs = []uint64{0x401000}

	for _, name := range []string{"snap.msgpack", "snap.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, src.Save(path))

			s, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, 32, s.Arch().Bits)
			assert.Equal(t, binary.ByteOrder(binary.LittleEndian), s.Arch().ByteOrder)

			fn, err := s.FunctionAt(0x401000)
			require.NoError(t, err)
			assert.Equal(t, "decode", fn.Name)
			assert.Equal(t, []uint64{0x401000}, fn.Blocks[0].Succs)

			insn, err := s.InstructionAt(0x401004)
			require.NoError(t, err)
			assert.Equal(t, InsnNop, insn.Itype)

			b, err := s.Bytes(0x401000, 3)
			require.NoError(t, err)
			assert.Equal(t, []byte{0x90, 0x90, 0xC3}, b)

			assert.Len(t, s.Imports(), 3)
			assert.Len(t, s.Exports(), 1)
		})
	}
}

func TestSaveBigEndian(t *testing.T) {
	src := NewSnapshot(Arch{Bits: 64, ByteOrder: binary.BigEndian})
	path := filepath.Join(t.TempDir(), "snap.yml")
	require.NoError(t, src.Save(path))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, binary.ByteOrder(binary.BigEndian), s.Arch().ByteOrder)
	assert.True(t, s.Arch().Is64())
}

func TestLoadRejectsBadMetadata(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad byte order", "bits: 32\nbyte_order: middle\n"},
		{"bad bits", "bits: 48\nbyte_order: little\n"},
		{"missing bits", "byte_order: little\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snap.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.snap"))
	assert.Error(t, err)
}

func TestDefaultByteOrder(t *testing.T) {
	s := NewSnapshot(Arch{Bits: 64})
	assert.Equal(t, binary.ByteOrder(binary.LittleEndian), s.Arch().ByteOrder)
}
