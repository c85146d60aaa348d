package disasm

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Segment is a contiguous loaded region of the binary.
type Segment struct {
	Name  string `msgpack:"name" yaml:"name" json:"name"`
	Start uint64 `msgpack:"start" yaml:"start" json:"start"`
	End   uint64 `msgpack:"end" yaml:"end" json:"end"`
	Data  []byte `msgpack:"data" yaml:"data" json:"data"`
}

// Contains reports whether ea falls inside the segment.
func (s *Segment) Contains(ea uint64) bool {
	return s.Start <= ea && ea < s.End
}

// Import is one entry of the import table, as resolved to a virtual address.
type Import struct {
	EA     uint64 `msgpack:"ea" yaml:"ea" json:"ea"`
	Name   string `msgpack:"name" yaml:"name" json:"name"`
	Module string `msgpack:"module" yaml:"module" json:"module"`
}

// Export is one entry of the export table.
type Export struct {
	EA      uint64 `msgpack:"ea" yaml:"ea" json:"ea"`
	Name    string `msgpack:"name" yaml:"name" json:"name"`
	Ordinal int    `msgpack:"ordinal" yaml:"ordinal" json:"ordinal"`
}

// Snapshot is an in-memory Program built from a disassembly export file or
// assembled programmatically (mainly by tests).
type Snapshot struct {
	arch      Arch
	functions []*Function // sorted by start address
	insns     map[uint64]*Instruction
	heads     []uint64 // sorted instruction start addresses
	segments  []*Segment
	imports   []Import
	exports   []Export
}

// NewSnapshot creates an empty snapshot for the given architecture.
func NewSnapshot(arch Arch) *Snapshot {
	if arch.ByteOrder == nil {
		arch.ByteOrder = binary.LittleEndian
	}
	return &Snapshot{
		arch:  arch,
		insns: make(map[uint64]*Instruction),
	}
}

// AddFunction registers a function and keeps the function list sorted.
func (s *Snapshot) AddFunction(fn *Function) {
	i := sort.Search(len(s.functions), func(i int) bool {
		return s.functions[i].Start >= fn.Start
	})
	s.functions = append(s.functions, nil)
	copy(s.functions[i+1:], s.functions[i:])
	s.functions[i] = fn
}

// AddInstruction registers a decoded instruction.
func (s *Snapshot) AddInstruction(insn *Instruction) {
	if _, exists := s.insns[insn.EA]; !exists {
		i := sort.Search(len(s.heads), func(i int) bool {
			return s.heads[i] >= insn.EA
		})
		s.heads = append(s.heads, 0)
		copy(s.heads[i+1:], s.heads[i:])
		s.heads[i] = insn.EA
	}
	s.insns[insn.EA] = insn
}

// AddSegment registers a loaded segment.
func (s *Snapshot) AddSegment(seg *Segment) {
	s.segments = append(s.segments, seg)
}

// AddImport registers an import table entry.
func (s *Snapshot) AddImport(imp Import) {
	s.imports = append(s.imports, imp)
}

// AddExport registers an export table entry.
func (s *Snapshot) AddExport(exp Export) {
	s.exports = append(s.exports, exp)
}

// Arch returns the snapshot architecture.
func (s *Snapshot) Arch() Arch { return s.arch }

// SetArch overrides the snapshot architecture. Used when a config or
// command line flag corrects the recorded word size or byte order.
func (s *Snapshot) SetArch(arch Arch) { s.arch = arch }

// FunctionAt returns the function containing ea.
func (s *Snapshot) FunctionAt(ea uint64) (*Function, error) {
	// First function starting after ea; the candidate is the one before.
	i := sort.Search(len(s.functions), func(i int) bool {
		return s.functions[i].Start > ea
	})
	if i == 0 {
		return nil, fmt.Errorf("0x%X: %w", ea, ErrInvalidFunction)
	}
	fn := s.functions[i-1]
	if !fn.Contains(ea) {
		return nil, fmt.Errorf("0x%X: %w", ea, ErrInvalidFunction)
	}
	return fn, nil
}

// InstructionAt returns the instruction starting at ea.
func (s *Snapshot) InstructionAt(ea uint64) (*Instruction, error) {
	insn, ok := s.insns[ea]
	if !ok {
		return nil, fmt.Errorf("0x%X: %w", ea, ErrNoInstruction)
	}
	return insn, nil
}

// Heads returns instruction start addresses in [start, end), ascending.
func (s *Snapshot) Heads(start, end uint64) []uint64 {
	lo := sort.Search(len(s.heads), func(i int) bool { return s.heads[i] >= start })
	hi := sort.Search(len(s.heads), func(i int) bool { return s.heads[i] >= end })
	if lo >= hi {
		return nil
	}
	out := make([]uint64, hi-lo)
	copy(out, s.heads[lo:hi])
	return out
}

// NextHead returns the first instruction address strictly after ea.
func (s *Snapshot) NextHead(ea uint64) (uint64, bool) {
	i := sort.Search(len(s.heads), func(i int) bool { return s.heads[i] > ea })
	if i == len(s.heads) {
		return 0, false
	}
	return s.heads[i], true
}

// Functions returns all functions, sorted by start address.
func (s *Snapshot) Functions() []*Function { return s.functions }

// Imports returns the import table.
func (s *Snapshot) Imports() []Import { return s.imports }

// Exports returns the export table.
func (s *Snapshot) Exports() []Export { return s.exports }

// SegmentAt returns the segment containing ea, or ErrNoSegment.
func (s *Snapshot) SegmentAt(ea uint64) (*Segment, error) {
	for _, seg := range s.segments {
		if seg.Contains(ea) {
			return seg, nil
		}
	}
	return nil, fmt.Errorf("0x%X: %w", ea, ErrNoSegment)
}

// SegmentByName returns a named segment, or ErrNoSegment.
func (s *Snapshot) SegmentByName(name string) (*Segment, error) {
	for _, seg := range s.segments {
		if seg.Name == name {
			return seg, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrNoSegment)
}

// SegmentsList returns all segments in load order.
func (s *Snapshot) SegmentsList() []*Segment { return s.segments }

// Bytes reads n bytes starting at ea from the containing segment. Bytes
// beyond the segment's loaded data but inside its bounds read as zero.
func (s *Snapshot) Bytes(ea uint64, n int) ([]byte, error) {
	seg, err := s.SegmentAt(ea)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	off := ea - seg.Start
	for i := 0; i < n; i++ {
		pos := off + uint64(i)
		if ea+uint64(i) >= seg.End {
			break
		}
		if pos < uint64(len(seg.Data)) {
			out[i] = seg.Data[pos]
		}
	}
	return out, nil
}

// snapshotFile is the on-disk form of a Snapshot.
type snapshotFile struct {
	Bits         int            `msgpack:"bits" yaml:"bits"`
	ByteOrder    string         `msgpack:"byte_order" yaml:"byte_order"`
	Functions    []*Function    `msgpack:"functions" yaml:"functions"`
	Instructions []*Instruction `msgpack:"instructions" yaml:"instructions"`
	Segments     []*Segment     `msgpack:"segments" yaml:"segments"`
	Imports      []Import       `msgpack:"imports" yaml:"imports"`
	Exports      []Export       `msgpack:"exports" yaml:"exports"`
}

// Load reads a snapshot file. The format is chosen by extension: .yaml/.yml
// parse as YAML, anything else as msgpack.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var file snapshotFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
		}
	default:
		if err := msgpack.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
		}
	}

	return fromFile(&file)
}

func fromFile(file *snapshotFile) (*Snapshot, error) {
	arch := Arch{Bits: file.Bits}
	switch file.ByteOrder {
	case "", "little":
		arch.ByteOrder = binary.LittleEndian
	case "big":
		arch.ByteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("unknown byte order %q", file.ByteOrder)
	}
	switch arch.Bits {
	case 16, 32, 64:
	default:
		return nil, fmt.Errorf("unsupported address width %d", arch.Bits)
	}

	s := NewSnapshot(arch)
	for _, fn := range file.Functions {
		s.AddFunction(fn)
	}
	for _, insn := range file.Instructions {
		s.AddInstruction(insn)
	}
	for _, seg := range file.Segments {
		s.AddSegment(seg)
	}
	s.imports = file.Imports
	s.exports = file.Exports
	return s, nil
}

// Save writes the snapshot to path, using the same extension rules as Load.
func (s *Snapshot) Save(path string) error {
	order := "little"
	if s.arch.ByteOrder == binary.BigEndian {
		order = "big"
	}
	insns := make([]*Instruction, 0, len(s.heads))
	for _, ea := range s.heads {
		insns = append(insns, s.insns[ea])
	}
	file := snapshotFile{
		Bits:         s.arch.Bits,
		ByteOrder:    order,
		Functions:    s.functions,
		Instructions: insns,
		Segments:     s.segments,
		Imports:      s.imports,
		Exports:      s.exports,
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(&file)
	default:
		data, err = msgpack.Marshal(&file)
	}
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return nil
}

var _ Program = (*Snapshot)(nil)
