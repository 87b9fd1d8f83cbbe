package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/framescroll/internal/assets"
)

// Order tells a preload which way the playhead travels through a range.
// Frames the playhead reaches first are requested first.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Report summarizes a settled batch.
type Report struct {
	Requested int
	Loaded    int
	Failed    []assets.FrameIndex
}

// Underloaded reports whether fewer than half of the requested frames loaded.
func (r Report) Underloaded() bool {
	return r.Loaded*2 < r.Requested
}

// Batch is a set of frames being fetched in priority order by the worker pool.
type Batch struct {
	done     chan struct{}
	onSettle func(idx assets.FrameIndex, err error)

	mu     sync.Mutex
	report Report
}

func (b *Batch) record(idx assets.FrameIndex, err error) {
	b.mu.Lock()
	if err == nil {
		b.report.Loaded++
	} else {
		b.report.Failed = append(b.report.Failed, idx)
	}
	b.mu.Unlock()

	if b.onSettle != nil {
		b.onSettle(idx, err)
	}
}

// Done is closed once every frame of the batch has settled.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Report returns the counters so far.
func (b *Batch) Report() Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.report
	r.Failed = append([]assets.FrameIndex(nil), b.report.Failed...)
	return r
}

// Wait blocks until the batch settles or ctx ends.
func (b *Batch) Wait(ctx context.Context) (Report, error) {
	select {
	case <-b.done:
		return b.Report(), nil
	case <-ctx.Done():
		return b.Report(), ctx.Err()
	}
}

func (c *Cache) preload(indices []assets.FrameIndex, onSettle func(assets.FrameIndex, error)) *Batch {
	b := &Batch{
		done:     make(chan struct{}),
		onSettle: onSettle,
		report:   Report{Requested: len(indices)},
	}

	go func() {
		defer close(b.done)

		var g errgroup.Group
		g.SetLimit(c.opts.Workers)
		for _, idx := range indices {
			if c.ctx.Err() != nil {
				break
			}
			idx := idx
			// Go blocks while the pool is full, so dispatch follows slice order
			g.Go(func() error {
				_, err := c.Ensure(c.ctx, idx)
				b.record(idx, err)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return b
}

// PreloadRange requests frames from..to (inclusive, clamped) of seg.
func (c *Cache) PreloadRange(seg, from, to int, order Order) *Batch {
	count := c.Layout().Count(seg)
	if from > to {
		from, to = to, from
	}
	from = max(from, 0)
	to = min(to, count-1)

	var indices []assets.FrameIndex
	for i := from; i <= to; i++ {
		indices = append(indices, assets.FrameIndex{Segment: seg, Frame: i})
	}
	if order == Descending {
		for i, j := 0, len(indices)-1; i < j; i, j = i+1, j-1 {
			indices[i], indices[j] = indices[j], indices[i]
		}
	}
	return c.preload(indices, nil)
}

// PreloadSegment requests a whole segment.
func (c *Cache) PreloadSegment(seg int, order Order) *Batch {
	return c.PreloadRange(seg, 0, c.Layout().Count(seg)-1, order)
}

// PreloadAround requests up to ahead frames in the direction of travel
// starting at center, then up to behind frames on the other side, nearest
// first. The window crosses segment boundaries.
func (c *Cache) PreloadAround(center assets.FrameIndex, ahead, behind int, order Order) *Batch {
	layout := c.Layout()
	g := layout.Global(center)
	if g < 0 {
		return c.preload(nil, nil)
	}

	step := 1
	if order == Descending {
		step = -1
	}

	var indices []assets.FrameIndex
	for i := 0; i < ahead; i++ {
		if idx, ok := layout.Local(g + i*step); ok {
			indices = append(indices, idx)
		}
	}
	for i := 1; i <= behind; i++ {
		if idx, ok := layout.Local(g - i*step); ok {
			indices = append(indices, idx)
		}
	}
	return c.preload(indices, nil)
}

// PreloadInitial requests the first n frames in global order.
func (c *Cache) PreloadInitial(n int) *Batch {
	layout := c.Layout()
	n = min(n, layout.Total())

	indices := make([]assets.FrameIndex, 0, max(n, 0))
	for g := 0; g < n; g++ {
		idx, _ := layout.Local(g)
		indices = append(indices, idx)
	}
	return c.preload(indices, nil)
}

// SegmentReport is the outcome of loading one segment.
type SegmentReport struct {
	Segment  int
	Loaded   int
	Expected int
	Failed   []assets.FrameIndex
}

func (r SegmentReport) underloaded() bool {
	return Report{Requested: r.Expected, Loaded: r.Loaded}.Underloaded()
}

// LoadSegment fetches every frame of seg and waits for them. A segment where
// fewer than half of the frames loaded is reported as *UnderloadedError.
func (c *Cache) LoadSegment(ctx context.Context, seg int) (SegmentReport, error) {
	return c.loadSegment(ctx, seg, nil)
}

func (c *Cache) loadSegment(ctx context.Context, seg int, onSettle func(assets.FrameIndex, error)) (SegmentReport, error) {
	if seg < 0 || seg >= c.Layout().Segments() {
		return SegmentReport{Segment: seg}, fmt.Errorf("%w: segment %d", assets.ErrOutOfRange, seg)
	}

	indices := make([]assets.FrameIndex, c.Layout().Count(seg))
	for i := range indices {
		indices[i] = assets.FrameIndex{Segment: seg, Frame: i}
	}

	rep, err := c.preload(indices, onSettle).Wait(ctx)
	out := SegmentReport{
		Segment:  seg,
		Loaded:   rep.Loaded,
		Expected: len(indices),
		Failed:   rep.Failed,
	}
	if err != nil {
		return out, err
	}
	if out.underloaded() {
		c.log.Warn("segment under-loaded", "segment", seg, "loaded", out.Loaded, "expected", out.Expected)
		return out, &UnderloadedError{Segment: seg, Loaded: out.Loaded, Expected: out.Expected}
	}
	return out, nil
}

// LoadProgressFunc observes LoadAll across every segment.
type LoadProgressFunc func(settled, total int)

// LoadAll loads the segments one after another. Under-loaded segments do not
// stop the walk; their errors are joined into the result. If no segment
// reached the threshold the result also matches ErrAllSegmentsFailed.
func (c *Cache) LoadAll(ctx context.Context, progress LoadProgressFunc) ([]SegmentReport, error) {
	layout := c.Layout()
	total := layout.Total()

	var (
		mu      sync.Mutex
		settled int
	)
	onSettle := func(assets.FrameIndex, error) {
		mu.Lock()
		settled++
		n := settled
		if progress != nil {
			progress(n, total)
		}
		mu.Unlock()
	}

	reports := make([]SegmentReport, 0, layout.Segments())
	var errs []error
	for seg := 0; seg < layout.Segments(); seg++ {
		rep, err := c.loadSegment(ctx, seg, onSettle)
		reports = append(reports, rep)
		if err != nil {
			if !errors.Is(err, ErrUnderloaded) {
				return reports, err
			}
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 && len(errs) == layout.Segments() {
		return reports, fmt.Errorf("%w: %w", ErrAllSegmentsFailed, errors.Join(errs...))
	}
	return reports, errors.Join(errs...)
}
