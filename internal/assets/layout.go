package assets

import "sort"

// FrameIndex addresses one frame: segment position and 0-based local frame.
type FrameIndex struct {
	Segment int
	Frame   int
}

// Layout maps between FrameIndex and the global frame index used for linear
// preloading across segment boundaries. Global indices are cumulative, so
// with equal segment sizes global = segment*framesPerSegment + frame.
type Layout struct {
	counts  []int
	offsets []int
	total   int
}

func NewLayout(counts []int) *Layout {
	l := &Layout{
		counts:  append([]int(nil), counts...),
		offsets: make([]int, len(counts)),
	}
	for i, c := range counts {
		l.offsets[i] = l.total
		l.total += c
	}
	return l
}

func (l *Layout) Total() int    { return l.total }
func (l *Layout) Segments() int { return len(l.counts) }

// Count returns the number of frames in segment seg, or 0 if out of range.
func (l *Layout) Count(seg int) int {
	if seg < 0 || seg >= len(l.counts) {
		return 0
	}
	return l.counts[seg]
}

func (l *Layout) Valid(idx FrameIndex) bool {
	return idx.Frame >= 0 && idx.Frame < l.Count(idx.Segment)
}

// Global returns the linear index of idx, or -1 if idx is out of range.
func (l *Layout) Global(idx FrameIndex) int {
	if !l.Valid(idx) {
		return -1
	}
	return l.offsets[idx.Segment] + idx.Frame
}

// Local inverts Global.
func (l *Layout) Local(global int) (FrameIndex, bool) {
	if global < 0 || global >= l.total {
		return FrameIndex{}, false
	}
	// first segment whose offset is beyond global, minus one
	seg := sort.Search(len(l.offsets), func(i int) bool { return l.offsets[i] > global }) - 1
	return FrameIndex{Segment: seg, Frame: global - l.offsets[seg]}, true
}

// First and Last address the boundary frames of a segment.
func (l *Layout) First(seg int) FrameIndex { return FrameIndex{Segment: seg, Frame: 0} }
func (l *Layout) Last(seg int) FrameIndex  { return FrameIndex{Segment: seg, Frame: l.Count(seg) - 1} }
