package flowchart

import (
	"errors"
	"fmt"
)

// ErrAddressOutOfRange is returned when a context is requested at an
// address outside the path node's own block.
var ErrAddressOutOfRange = errors.New("address not within block")

// PathBlock is one node of a path: a block plus a link to the path prefix
// that reaches it. Prefixes converge toward the function entry and may be
// shared by many paths; each node exclusively owns its cached CPU context.
type PathBlock struct {
	Block *Block
	Prev  *PathBlock

	fc *Flowchart

	// Canonical mutable context, filled to ctxEA (exclusive). Never
	// handed out directly: readers get a copy.
	ctx   Context
	ctxEA uint64
}

func (fc *Flowchart) newPathBlock(b *Block, prev *PathBlock) *PathBlock {
	return &PathBlock{Block: b, Prev: prev, fc: fc}
}

// Contains reports whether ea falls inside this node's block.
func (p *PathBlock) Contains(ea uint64) bool {
	return p.Block.Contains(ea)
}

// Blocks returns the path's blocks in execution order, entry first.
func (p *PathBlock) Blocks() []*Block {
	var n int
	for node := p; node != nil; node = node.Prev {
		n++
	}
	out := make([]*Block, n)
	for node := p; node != nil; node = node.Prev {
		n--
		out[n] = node.Block
	}
	return out
}

// Context returns the CPU context replayed through the end of this node's
// block (the state right after its final instruction).
func (p *PathBlock) Context() (Context, error) {
	return p.fill(p.Block.End)
}

// ContextAt returns the CPU context replayed up to and including the
// instruction at ea. The address must be inside this node's block.
func (p *PathBlock) ContextAt(ea uint64) (Context, error) {
	if !p.Block.Contains(ea) {
		return nil, fmt.Errorf("0x%X not in block (0x%X :: 0x%X): %w",
			ea, p.Block.Start, p.Block.End, ErrAddressOutOfRange)
	}

	// Stop just past the instruction of interest.
	end, ok := p.fc.prog.NextHead(ea)
	if !ok || end > p.Block.End {
		end = p.Block.End
	}
	return p.fill(end)
}

// fill brings the cached context up to end and returns a copy of it.
// State cannot be rewound once instructions have been replayed into it, so
// a fill point past end forces reinitialization from the parent's context
// (or a fresh default context at the function entry).
func (p *PathBlock) fill(end uint64) (Context, error) {
	if p.fc.step == nil {
		return nil, ErrNoStepper
	}

	if p.ctx == nil || p.ctxEA != end {
		if p.ctx == nil || p.ctxEA > end {
			if p.Prev != nil {
				ctx, err := p.Prev.Context()
				if err != nil {
					return nil, err
				}
				p.ctx = ctx
			} else {
				p.ctx = p.fc.step.NewContext()
			}
			p.ctxEA = p.Block.Start
		}

		for _, ip := range p.fc.prog.Heads(p.ctxEA, end) {
			if err := p.fc.step.Step(p.ctx, ip); err != nil {
				p.ctxEA = ip
				return nil, fmt.Errorf("stepping 0x%X: %w", ip, err)
			}
		}
		p.ctxEA = end
	}

	return p.ctx.Copy(), nil
}
