package flowchart

import (
	"fmt"
	"iter"
)

// frame states of the path enumeration machine.
const (
	frameInit = iota
	frameCache
	frameEntry
	framePreds
)

// pathFrame is one suspended level of the recursive path construction for
// a single block.
type pathFrame struct {
	block    *Block
	mode     int
	cacheIdx int
	preds    []*Block // eligible predecessors, fixed at frame init
	predIdx  int
	emitted  bool
}

// pathMachine enumerates every loop-free path from the function entry to a
// target block. It is the recursive generator of the path builder unrolled
// into an explicit frame stack so that a partially consumed enumeration
// can be parked in the flowchart's generator cache and resumed by a later
// query. Must only be advanced under the flowchart's cache mutex.
type pathMachine struct {
	fc      *Flowchart
	visited map[uint64]struct{}
	stack   []*pathFrame
}

func newPathMachine(fc *Flowchart, target *Block) *pathMachine {
	return &pathMachine{
		fc:      fc,
		visited: make(map[uint64]struct{}),
		stack:   []*pathFrame{{block: target}},
	}
}

// next produces the next undiscovered path to the target block, or false
// when the enumeration is exhausted.
func (m *pathMachine) next() (*PathBlock, bool) {
	for len(m.stack) > 0 {
		f := m.stack[len(m.stack)-1]

		switch f.mode {
		case frameInit:
			m.visited[f.block.Start] = struct{}{}
			f.preds = m.eligiblePreds(f.block)
			switch {
			case len(m.fc.pathCache[f.block.Start]) > 0:
				f.mode = frameCache
			case len(f.preds) == 0:
				f.mode = frameEntry
			default:
				f.mode = framePreds
			}

		case frameCache:
			// Paths to this block were already built by an earlier
			// query; replay them instead of recursing.
			cached := m.fc.pathCache[f.block.Start]
			if f.cacheIdx < len(cached) {
				p := cached[f.cacheIdx]
				f.cacheIdx++
				return m.emit(p), true
			}
			m.pop()

		case frameEntry:
			// No eligible predecessor: the single maximal path is the
			// block itself with no parent.
			if f.emitted {
				m.pop()
				continue
			}
			f.emitted = true
			return m.emit(m.fc.newPathBlock(f.block, nil)), true

		case framePreds:
			if f.predIdx >= len(f.preds) {
				m.pop()
				continue
			}
			child := f.preds[f.predIdx]
			f.predIdx++
			m.stack = append(m.stack, &pathFrame{block: child})
		}
	}
	return nil, false
}

// eligiblePreds filters a block's predecessors down to the ones worth
// recursing into, evaluated against the visited set at frame entry.
// Predecessors above the block's start address indicate a loop; following
// them would enumerate paths irrelevant to the one asked for, so they are
// skipped. This ordering constraint keeps the enumeration finite but
// under-approximates paths in functions whose blocks are laid out out of
// natural order.
func (m *pathMachine) eligiblePreds(block *Block) []*Block {
	out := make([]*Block, 0, len(block.preds))
	for _, pred := range block.preds {
		if pred.Start > block.Start {
			continue
		}
		if _, seen := m.visited[pred.Start]; seen {
			continue
		}
		out = append(out, pred)
	}
	return out
}

func (m *pathMachine) pop() {
	f := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	delete(m.visited, f.block.Start)
}

// emit wraps a path ending at the top frame's block with every suspended
// ancestor frame, producing a path ending at the target block.
func (m *pathMachine) emit(p *PathBlock) *PathBlock {
	for i := len(m.stack) - 2; i >= 0; i-- {
		p = m.fc.newPathBlock(m.stack[i].block, p)
	}
	return p
}

// PathIter is a lazy, restartable sequence of paths to one target block.
// Separate iterators for the same address share the flowchart's caches:
// each starts by replaying already-discovered paths and then resumes the
// block's suspended enumeration where the last consumer left off.
//
// The full set of paths can be combinatorially large. Do not drain the
// iterator on heavily branched functions; bound consumption explicitly.
type PathIter struct {
	fc       *Flowchart
	target   *Block
	cacheIdx int
	machine  *pathMachine
}

// Next returns the next path to the target block. Stopping early is safe:
// enumeration state stays cached for later resumption.
func (it *PathIter) Next() (*PathBlock, bool) {
	it.fc.mu.Lock()
	defer it.fc.mu.Unlock()

	// Serve paths discovered so far, by this or any other consumer.
	cached := it.fc.pathCache[it.target.Start]
	if it.cacheIdx < len(cached) {
		p := cached[it.cacheIdx]
		it.cacheIdx++
		return p, true
	}

	if it.machine == nil {
		machine := it.fc.genCache[it.target.Start]
		if machine == nil {
			machine = newPathMachine(it.fc, it.target)
			it.fc.genCache[it.target.Start] = machine
		}
		it.machine = machine
	}

	p, ok := it.machine.next()
	if !ok {
		return nil, false
	}
	it.fc.pathCache[p.Block.Start] = append(it.fc.pathCache[p.Block.Start], p)
	it.cacheIdx = len(it.fc.pathCache[it.target.Start])
	return p, true
}

// All adapts the iterator to a range-over-func sequence. The same
// warning applies: bound consumption on heavily branched functions.
func (it *PathIter) All() iter.Seq[*PathBlock] {
	return func(yield func(*PathBlock) bool) {
		for {
			p, ok := it.Next()
			if !ok || !yield(p) {
				return
			}
		}
	}
}

// GetPaths returns the lazy sequence of loop-free paths from the function
// entry to the block containing ea.
func (fc *Flowchart) GetPaths(ea uint64) (*PathIter, error) {
	block, ok := fc.FindBlock(ea)
	if !ok {
		return nil, fmt.Errorf("0x%X: %w", ea, ErrBlockNotFound)
	}
	return &PathIter{fc: fc, target: block}, nil
}

// ForwardPaths enumerates paths to the block containing ea by plain
// forward depth-first search from the entry, yielding each path as a
// block slice. Unlike GetPaths it does not use or populate the path
// caches. The address must lie inside the function.
func (fc *Flowchart) ForwardPaths(ea uint64) (iter.Seq[[]*Block], error) {
	if !fc.fn.Contains(ea) {
		return nil, fmt.Errorf("0x%X: %w", ea, ErrBlockNotFound)
	}
	return func(yield func([]*Block) bool) {
		if len(fc.blocks) == 0 {
			return
		}
		visited := make(map[uint64]struct{})
		var cur []*Block
		fc.forwardPaths(ea, fc.blocks[0], visited, &cur, yield)
	}, nil
}

func (fc *Flowchart) forwardPaths(ea uint64, block *Block, visited map[uint64]struct{}, cur *[]*Block, yield func([]*Block) bool) bool {
	visited[block.Start] = struct{}{}
	*cur = append(*cur, block)

	if block.Contains(ea) {
		path := make([]*Block, len(*cur))
		copy(path, *cur)
		if !yield(path) {
			return false
		}
	}

	for _, succ := range block.succs {
		if _, seen := visited[succ.Start]; seen {
			continue
		}
		if !fc.forwardPaths(ea, succ, visited, cur, yield) {
			return false
		}
	}

	*cur = (*cur)[:len(*cur)-1]
	delete(visited, block.Start)
	return true
}
