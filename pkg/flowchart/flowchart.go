// Package flowchart models a function's control-flow graph and implements
// traversal, path enumeration, and per-path incremental CPU context
// tracking on top of a disassembly snapshot.
//
// Path enumeration is lazy and cached: completed paths are kept per block
// and a suspended enumeration can be resumed by later queries. Functions
// with heavy branching can have path counts in the tens of thousands or
// more, so callers must bound how much of a path sequence they consume.
package flowchart

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/avasek/functrace/pkg/disasm"
)

// ErrBlockNotFound is returned when an address inside the function is not
// covered by any basic block.
var ErrBlockNotFound = errors.New("address not contained in any block")

// ErrNoStepper is returned when a CPU context is requested from a
// flowchart that was built without a processor step implementation.
var ErrNoStepper = errors.New("no stepper configured")

// Context is the opaque processor state replayed along a path. The
// concrete type is supplied by the emulation layer.
type Context interface {
	// Copy returns an independent deep copy.
	Copy() Context
}

// Stepper is the processor step operation: it emulates the single
// instruction at ea, mutating ctx in place.
type Stepper interface {
	// NewContext returns a fresh default context for a function entry.
	NewContext() Context

	// Step emulates the instruction at ea against ctx.
	Step(ctx Context, ea uint64) error
}

// Block is one basic block of a function: a half-open address range with
// the disassembler's successor and predecessor edges. Identity is defined
// by the start address alone.
type Block struct {
	Start uint64
	End   uint64

	succs []*Block
	preds []*Block
}

// Succs returns the successor blocks in disassembler order.
func (b *Block) Succs() []*Block { return b.succs }

// Preds returns the predecessor blocks in disassembler order.
func (b *Block) Preds() []*Block { return b.preds }

// Contains reports whether ea falls inside the block's range.
func (b *Block) Contains(ea uint64) bool {
	return b.Start <= ea && ea < b.End
}

func (b *Block) String() string {
	return fmt.Sprintf("<Block 0x%08X..0x%08X>", b.Start, b.End)
}

// Flowchart is the control-flow graph of one function. It is immutable
// after construction apart from the two caches it owns: completed paths
// per block, and suspended path enumerations per block. Cache access is
// serialized by an internal mutex; everything else is read-only.
type Flowchart struct {
	fn   *disasm.Function
	prog disasm.Program
	step Stepper

	blocks  []*Block // block 0 is the function entry block
	byStart map[uint64]*Block

	mu        sync.Mutex
	pathCache map[uint64][]*PathBlock
	genCache  map[uint64]*pathMachine
}

// New builds the flowchart for the function containing ea. The stepper may
// be nil when only traversal or path enumeration is needed; requesting a
// CPU context then fails with ErrNoStepper.
func New(prog disasm.Program, ea uint64, step Stepper) (*Flowchart, error) {
	fn, err := prog.FunctionAt(ea)
	if err != nil {
		return nil, err
	}

	fc := &Flowchart{
		fn:        fn,
		prog:      prog,
		step:      step,
		byStart:   make(map[uint64]*Block, len(fn.Blocks)),
		pathCache: make(map[uint64][]*PathBlock),
		genCache:  make(map[uint64]*pathMachine),
	}

	fc.blocks = make([]*Block, len(fn.Blocks))
	for i, def := range fn.Blocks {
		b := &Block{Start: def.Start, End: def.End}
		fc.blocks[i] = b
		fc.byStart[b.Start] = b
	}
	for i, def := range fn.Blocks {
		b := fc.blocks[i]
		for _, ea := range def.Succs {
			if succ, ok := fc.byStart[ea]; ok {
				b.succs = append(b.succs, succ)
			}
		}
		for _, ea := range def.Preds {
			if pred, ok := fc.byStart[ea]; ok {
				b.preds = append(b.preds, pred)
			}
		}
	}
	return fc, nil
}

// Function returns the underlying function boundary record.
func (fc *Flowchart) Function() *disasm.Function { return fc.fn }

// Blocks returns the blocks in disassembler order; index 0 is the entry.
func (fc *Flowchart) Blocks() []*Block { return fc.blocks }

// FindBlock locates the block containing ea.
func (fc *Flowchart) FindBlock(ea uint64) (*Block, bool) {
	for _, b := range fc.blocks {
		if b.Contains(ea) {
			return b, true
		}
	}
	return nil, false
}

// sortedByStart returns a copy of blocks ordered by ascending start
// address, or descending when reverse is set.
func sortedByStart(blocks []*Block, reverse bool) []*Block {
	out := make([]*Block, len(blocks))
	copy(out, blocks)
	sort.Slice(out, func(i, j int) bool {
		if reverse {
			return out[i].Start > out[j].Start
		}
		return out[i].Start < out[j].Start
	})
	return out
}
