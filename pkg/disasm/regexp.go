package disasm

import "regexp"

// Match is a regex match relocated to virtual addresses within a segment.
type Match struct {
	seg *Segment
	loc []int // pairs of byte offsets relative to the segment start
}

// Start returns the virtual address where group n begins (0 = whole match).
func (m *Match) Start(n int) uint64 {
	return m.seg.Start + uint64(m.loc[2*n])
}

// End returns the virtual address just past group n.
func (m *Match) End(n int) uint64 {
	return m.seg.Start + uint64(m.loc[2*n+1])
}

// Bytes returns the matched bytes of group n.
func (m *Match) Bytes(n int) []byte {
	return m.seg.Data[m.loc[2*n]:m.loc[2*n+1]]
}

// Regexp searches segment bytes and reports matches at virtual addresses.
type Regexp struct {
	re   *regexp.Regexp
	snap *Snapshot
}

// NewRegexp compiles pattern for searching snapshot segments.
func NewRegexp(snap *Snapshot, pattern string) (*Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Regexp{re: re, snap: snap}, nil
}

func (r *Regexp) segments(segname string) []*Segment {
	if segname != "" {
		seg, err := r.snap.SegmentByName(segname)
		if err != nil {
			return nil
		}
		return []*Segment{seg}
	}
	return r.snap.segments
}

// Search returns the first match across the selected segments, or nil.
// Pass an empty segname to search every segment.
func (r *Regexp) Search(segname string) *Match {
	for _, seg := range r.segments(segname) {
		if loc := r.re.FindSubmatchIndex(seg.Data); loc != nil {
			return &Match{seg: seg, loc: loc}
		}
	}
	return nil
}

// FindAll returns every match across the selected segments.
func (r *Regexp) FindAll(segname string) []*Match {
	var out []*Match
	for _, seg := range r.segments(segname) {
		for _, loc := range r.re.FindAllSubmatchIndex(seg.Data, -1) {
			out = append(out, &Match{seg: seg, loc: loc})
		}
	}
	return out
}
