package flowchart

import "iter"

// NoAddr marks an unspecified start address for the traversal functions.
const NoAddr = ^uint64(0)

// dfs walks the graph forward depth-first from the entry block. Successors
// are explored in ascending start order; each block is visited at most
// once. When start is given, output is suppressed until the block
// containing it is reached.
func (fc *Flowchart) dfs(start uint64) iter.Seq[*Block] {
	return func(yield func(*Block) bool) {
		if len(fc.blocks) == 0 {
			return
		}
		found := start == NoAddr
		nonVisited := []*Block{fc.blocks[0]}
		visited := make(map[uint64]bool)
		for len(nonVisited) > 0 {
			cur := nonVisited[0]
			nonVisited = nonVisited[1:]
			if visited[cur.Start] {
				continue
			}
			visited[cur.Start] = true
			nonVisited = append(sortedByStart(cur.succs, false), nonVisited...)
			if !found {
				found = cur.Contains(start)
			}
			if found && !yield(cur) {
				return
			}
		}
	}
}

// bfs is dfs with level-order queue discipline: successors append to the
// back of the pending list instead of the front.
func (fc *Flowchart) bfs(start uint64) iter.Seq[*Block] {
	return func(yield func(*Block) bool) {
		if len(fc.blocks) == 0 {
			return
		}
		found := start == NoAddr
		nonVisited := []*Block{fc.blocks[0]}
		visited := make(map[uint64]bool)
		for len(nonVisited) > 0 {
			cur := nonVisited[0]
			nonVisited = nonVisited[1:]
			if visited[cur.Start] {
				continue
			}
			visited[cur.Start] = true
			nonVisited = append(nonVisited, sortedByStart(cur.succs, false)...)
			if !found {
				found = cur.Contains(start)
			}
			if found && !yield(cur) {
				return
			}
		}
	}
}

// reverseStart picks the first block of a reverse traversal: the block
// containing start, or the block with the greatest start address when no
// start is given. An unknown start yields an empty frontier.
func (fc *Flowchart) reverseStart(start uint64) []*Block {
	if start != NoAddr {
		b, ok := fc.FindBlock(start)
		if !ok {
			return nil
		}
		return []*Block{b}
	}
	if len(fc.blocks) == 0 {
		return nil
	}
	ordered := sortedByStart(fc.blocks, true)
	return ordered[:1]
}

// reverseDFS walks predecessors toward the entry, completing one path to
// the root before backtracking. Only predecessors with a start address
// strictly below the current block's are followed; back-edges in a
// structured forward graph always point at an address at or below the
// jump source, so this ordering constraint is what prevents loops.
func (fc *Flowchart) reverseDFS(start uint64) iter.Seq[*Block] {
	return func(yield func(*Block) bool) {
		nonVisited := fc.reverseStart(start)
		for len(nonVisited) > 0 {
			cur := nonVisited[0]
			nonVisited = nonVisited[1:]
			nonVisited = append(fc.earlierPreds(cur), nonVisited...)
			if !yield(cur) {
				return
			}
		}
	}
}

// reverseBFS is reverseDFS with level-order queue discipline.
func (fc *Flowchart) reverseBFS(start uint64) iter.Seq[*Block] {
	return func(yield func(*Block) bool) {
		nonVisited := fc.reverseStart(start)
		for len(nonVisited) > 0 {
			cur := nonVisited[0]
			nonVisited = nonVisited[1:]
			nonVisited = append(nonVisited, fc.earlierPreds(cur)...)
			if !yield(cur) {
				return
			}
		}
	}
}

// earlierPreds returns cur's predecessors with start addresses strictly
// below cur's, in descending start order.
func (fc *Flowchart) earlierPreds(cur *Block) []*Block {
	out := make([]*Block, 0, len(cur.preds))
	for _, pred := range sortedByStart(cur.preds, true) {
		if pred.Start < cur.Start {
			out = append(out, pred)
		}
	}
	return out
}

// DFSBlocks iterates blocks depth-first. Pass NoAddr to start at the
// function entry (forward) or the highest block (reverse).
func (fc *Flowchart) DFSBlocks(start uint64, reverse bool) iter.Seq[*Block] {
	if reverse {
		return fc.reverseDFS(start)
	}
	return fc.dfs(start)
}

// BFSBlocks iterates blocks breadth-first. Pass NoAddr to start at the
// function entry (forward) or the highest block (reverse).
func (fc *Flowchart) BFSBlocks(start uint64, reverse bool) iter.Seq[*Block] {
	if reverse {
		return fc.reverseBFS(start)
	}
	return fc.bfs(start)
}

// DFSHeads iterates instruction addresses in depth-first block order.
// Within each block addresses run start to end, or end to start in
// reverse; the requested start address trims only the first block.
func (fc *Flowchart) DFSHeads(start uint64, reverse bool) iter.Seq[uint64] {
	return fc.heads(fc.DFSBlocks(start, reverse), start, reverse)
}

// BFSHeads iterates instruction addresses in breadth-first block order.
func (fc *Flowchart) BFSHeads(start uint64, reverse bool) iter.Seq[uint64] {
	return fc.heads(fc.BFSBlocks(start, reverse), start, reverse)
}

func (fc *Flowchart) heads(blocks iter.Seq[*Block], start uint64, reverse bool) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		first := true
		for cur := range blocks {
			var heads []uint64
			if reverse {
				ea := cur.End
				if start != NoAddr && first {
					ea = start
				}
				heads = fc.prog.Heads(cur.Start, ea)
				reverseHeads(heads)
			} else {
				ea := cur.Start
				if start != NoAddr && first {
					ea = start
				}
				heads = fc.prog.Heads(ea, cur.End)
			}
			first = false

			for _, head := range heads {
				if !yield(head) {
					return
				}
			}
		}
	}
}

func reverseHeads(heads []uint64) {
	for i, j := 0, len(heads)-1; i < j; i, j = i+1, j-1 {
		heads[i], heads[j] = heads[j], heads[i]
	}
}
