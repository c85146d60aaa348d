// Package disasm defines the disassembler-facing data model consumed by the
// emulation core: function boundaries, basic block edges, the instruction
// stream, and raw operand encoding fields. It also provides Snapshot, an
// in-memory implementation fed from a file exported by a disassembler script.
package disasm

import (
	"encoding/binary"
	"errors"
)

// ErrInvalidFunction is returned when an address does not belong to any
// known function.
var ErrInvalidFunction = errors.New("address not in any known function")

// ErrNoInstruction is returned when no instruction starts at the requested
// address.
var ErrNoInstruction = errors.New("no instruction at address")

// ErrNoSegment is returned when an address is not covered by any segment.
var ErrNoSegment = errors.New("address not in any segment")

// Arch describes the architecture of the disassembled binary.
type Arch struct {
	// Bits is the address width: 16, 32 or 64.
	Bits int
	// ByteOrder is the byte order of the target, not of the host.
	ByteOrder binary.ByteOrder
}

// Is64 reports whether the binary uses 64-bit addressing.
func (a Arch) Is64() bool { return a.Bits == 64 }

// BlockDef describes one basic block as reported by the disassembler.
// Successor and predecessor blocks are referenced by their start address.
type BlockDef struct {
	Start uint64   `msgpack:"start" yaml:"start" json:"start"`
	End   uint64   `msgpack:"end" yaml:"end" json:"end"`
	Succs []uint64 `msgpack:"succs" yaml:"succs" json:"succs"`
	Preds []uint64 `msgpack:"preds" yaml:"preds" json:"preds"`
}

// Function is a function boundary plus its block graph. The first block is
// the function entry block.
type Function struct {
	Name   string     `msgpack:"name" yaml:"name" json:"name"`
	Start  uint64     `msgpack:"start" yaml:"start" json:"start"`
	End    uint64     `msgpack:"end" yaml:"end" json:"end"`
	Blocks []BlockDef `msgpack:"blocks" yaml:"blocks" json:"blocks"`
}

// Contains reports whether ea falls inside the function bounds.
func (f *Function) Contains(ea uint64) bool {
	return f.Start <= ea && ea < f.End
}

// Program is the read-only disassembly surface the emulation core consumes.
type Program interface {
	// FunctionAt returns the function containing ea, or ErrInvalidFunction.
	FunctionAt(ea uint64) (*Function, error)

	// InstructionAt returns the decoded instruction starting at ea, or
	// ErrNoInstruction.
	InstructionAt(ea uint64) (*Instruction, error)

	// Heads returns the instruction start addresses in [start, end),
	// ascending.
	Heads(start, end uint64) []uint64

	// NextHead returns the address of the instruction following ea.
	// The second return is false when ea is the last known instruction.
	NextHead(ea uint64) (uint64, bool)

	// Arch returns the architecture of the binary.
	Arch() Arch
}
