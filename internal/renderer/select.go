package renderer

import (
	"image"

	"github.com/ivlev/framescroll/internal/assets"
	"github.com/ivlev/framescroll/internal/playback"
	"github.com/ivlev/framescroll/internal/steps"
)

// FrameSource is the read side of the frame cache.
type FrameSource interface {
	Get(idx assets.FrameIndex) (image.Image, bool)
	Layout() *assets.Layout
}

// Selector picks the image to paint for a step snapshot.
type Selector struct {
	frames FrameSource
	seq    []steps.Step
}

func NewSelector(frames FrameSource, seq []steps.Step) *Selector {
	return &Selector{frames: frames, seq: seq}
}

// Target returns the frame the snapshot asks for.
//
// Animation steps show the driver's frame. Text steps show the frame the
// neighbouring animation ends on: the first text step shows the first frame
// of the following segment, the last one the last frame of the preceding
// segment, and intermediate ones depend on the direction of arrival.
func (s *Selector) Target(snap steps.Snapshot) assets.FrameIndex {
	layout := s.frames.Layout()
	if snap.Step.Kind == steps.KindAnimation {
		return assets.FrameIndex{Segment: snap.Step.Segment, Frame: snap.Frame}
	}

	prev, hasPrev := s.segmentAt(snap.Index - 1)
	next, hasNext := s.segmentAt(snap.Index + 1)
	switch {
	case !hasPrev && !hasNext:
		return layout.First(0)
	case !hasPrev:
		return layout.First(next)
	case !hasNext:
		return layout.Last(prev)
	case snap.Direction == playback.Backward:
		return layout.First(next)
	default:
		return layout.Last(prev)
	}
}

// Select returns the image to paint and where it came from. Missing frames
// fall back to the nearest resident frame of the same segment, then to the
// boundary frames around the current step, then to the very first frame.
// ok is false only when none of those is resident.
func (s *Selector) Select(snap steps.Snapshot) (img image.Image, from assets.FrameIndex, ok bool) {
	target := s.Target(snap)
	if img, ok := s.frames.Get(target); ok {
		return img, target, true
	}

	layout := s.frames.Layout()
	count := layout.Count(target.Segment)
	for d := 1; d < count; d++ {
		// prefer frames the playhead already passed
		for _, f := range []int{target.Frame - d*snap.Direction.Sign(), target.Frame + d*snap.Direction.Sign()} {
			idx := assets.FrameIndex{Segment: target.Segment, Frame: f}
			if !layout.Valid(idx) {
				continue
			}
			if img, ok := s.frames.Get(idx); ok {
				return img, idx, true
			}
		}
	}

	for _, idx := range s.boundaries(snap) {
		if img, ok := s.frames.Get(idx); ok {
			return img, idx, true
		}
	}
	return nil, assets.FrameIndex{}, false
}

func (s *Selector) boundaries(snap steps.Snapshot) []assets.FrameIndex {
	layout := s.frames.Layout()
	var out []assets.FrameIndex

	// the step the playhead left, then the step it is heading to
	behind := snap.Index - snap.Direction.Sign()
	ahead := snap.Index + snap.Direction.Sign()
	if snap.Step.Kind == steps.KindAnimation {
		behind -= snap.Direction.Sign()
		ahead += snap.Direction.Sign()
	}

	if seg, ok := s.segmentAt(behind); ok {
		if snap.Direction == playback.Backward {
			out = append(out, layout.First(seg))
		} else {
			out = append(out, layout.Last(seg))
		}
	}
	if seg, ok := s.segmentAt(ahead); ok {
		if snap.Direction == playback.Backward {
			out = append(out, layout.Last(seg))
		} else {
			out = append(out, layout.First(seg))
		}
	}
	return append(out, layout.First(0))
}

func (s *Selector) segmentAt(i int) (int, bool) {
	if i < 0 || i >= len(s.seq) || s.seq[i].Kind != steps.KindAnimation {
		return 0, false
	}
	return s.seq[i].Segment, true
}
