package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/framescroll/internal/assets"
	"github.com/ivlev/framescroll/internal/cache"
	"github.com/ivlev/framescroll/internal/input"
	"github.com/ivlev/framescroll/internal/manifest"
	"github.com/ivlev/framescroll/internal/source"
	"github.com/ivlev/framescroll/internal/steps"
	"github.com/ivlev/framescroll/internal/system"
)

const perSegment = 8

var segmentRed = map[string]uint8{"a": 40, "b": 80, "c": 120, "d": 160}

func testManifest(ids ...string) *manifest.Manifest {
	m := &manifest.Manifest{Version: "1"}
	for _, id := range ids {
		m.Segments = append(m.Segments, manifest.Segment{ID: id, Path: id, Count: perSegment, Pattern: "f-##.png"})
	}
	return m
}

// frameFetcher paints every frame a solid colour: red encodes the segment,
// green the 1-based frame number.
func frameFetcher(fail func(seg string) bool) source.Fetcher {
	return source.FetcherFunc(func(ctx context.Context, loc string) (image.Image, error) {
		seg := path.Base(path.Dir(loc))
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(path.Base(loc), "f-"), ".png"))
		if err != nil {
			return nil, err
		}
		if fail != nil && fail(seg) {
			return nil, fmt.Errorf("%s: %w", loc, source.ErrNotFound)
		}
		img := image.NewRGBA(image.Rect(0, 0, 16, 9))
		c := color.RGBA{R: segmentRed[seg], G: uint8(n), A: 255}
		draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
		return img, nil
	})
}

func testOptions(clock system.Clock) Options {
	return Options{
		Cache: cache.Options{
			MaxEntries: 64,
			Workers:    4,
		},
		Steps:          steps.DefaultOptions(),
		PreloadAhead:   8,
		PreloadBehind:  2,
		PreloadInitial: 4,
		Width:          32,
		Height:         18,
		Background:     color.Black,
		Clock:          clock,
	}
}

func newTestPlayer(t *testing.T, fetcher source.Fetcher) (*Player, *system.ManualClock) {
	t.Helper()
	clock := system.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p, err := New(testManifest("a", "b", "c", "d"), assets.TierHD, "assets", fetcher, testOptions(clock))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, clock
}

// center returns the pixel in the middle of the rendered canvas.
func center(img *image.RGBA) color.RGBA {
	b := img.Bounds()
	return img.RGBAAt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)
}

func step(p *Player, clock *system.ManualClock, limit time.Duration) bool {
	for spent := time.Duration(0); spent < limit; spent += 16 * time.Millisecond {
		if !p.Machine().Locked() {
			return true
		}
		clock.Advance(16 * time.Millisecond)
		p.Update()
		p.Render()
	}
	return !p.Machine().Locked()
}

func TestLoadingMessage(t *testing.T) {
	tests := []struct {
		percent int
		want    string
	}{
		{0, "Preparing your journey..."},
		{24, "Preparing your journey..."},
		{25, "Loading visuals..."},
		{60, "Almost ready..."},
		{75, "Initializing experience..."},
		{100, "Initializing experience..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LoadingMessage(tt.percent), "percent %d", tt.percent)
	}
}

func TestLoadReportsProgress(t *testing.T) {
	p, _ := newTestPlayer(t, frameFetcher(nil))

	var seen []int
	p.OnProgress(func(pr Progress) { seen = append(seen, pr.Percent) })

	require.NoError(t, p.Load(context.Background()))

	pr := p.Progress()
	assert.True(t, pr.Ready)
	assert.Equal(t, 100, pr.Percent)
	assert.Equal(t, "Initializing experience...", pr.Message)
	assert.Equal(t, "Begin", pr.Label)
	assert.NoError(t, pr.Err)
	assert.Empty(t, pr.Notice())

	require.NotEmpty(t, seen)
	assert.IsNonDecreasing(t, seen)

	stats := p.Cache().Stats()
	assert.Equal(t, 4*perSegment, stats.Resident)
	assert.Equal(t, int64(4*perSegment), stats.Fetches)
}

func TestLoadFailsWhenNothingLoads(t *testing.T) {
	p, _ := newTestPlayer(t, frameFetcher(func(string) bool { return true }))

	err := p.Load(context.Background())
	require.ErrorIs(t, err, cache.ErrAllSegmentsFailed)

	pr := p.Progress()
	assert.False(t, pr.Ready)
	assert.Error(t, pr.Err)
	assert.Contains(t, pr.Notice(), "please retry")
}

func TestLoadToleratesIncompleteSegment(t *testing.T) {
	p, _ := newTestPlayer(t, frameFetcher(func(seg string) bool { return seg == "b" }))

	err := p.Load(context.Background())
	require.ErrorIs(t, err, cache.ErrUnderloaded)
	assert.False(t, errors.Is(err, cache.ErrAllSegmentsFailed))

	pr := p.Progress()
	assert.True(t, pr.Ready)
	require.ErrorIs(t, pr.Err, cache.ErrUnderloaded)
	assert.True(t, strings.HasPrefix(pr.Notice(), "Failed to load, please retry"), pr.Notice())
}

func TestAdvanceRendersSegmentFrames(t *testing.T) {
	p, clock := newTestPlayer(t, frameFetcher(nil))
	require.NoError(t, p.Load(context.Background()))

	px := center(p.Render())
	assert.Equal(t, segmentRed["a"], px.R)
	assert.Equal(t, uint8(1), px.G, "first text step shows the first frame of segment a")

	var labels []string
	p.OnStep(func(s steps.Snapshot) {
		if len(labels) == 0 || labels[len(labels)-1] != s.Label {
			labels = append(labels, s.Label)
		}
	})

	require.Equal(t, input.ActionAdvance, p.Input().Key(input.KeyArrowDown))
	assert.Equal(t, input.ActionNone, p.Input().Key(input.KeyArrowDown), "locked while animating")
	require.True(t, step(p, clock, 5*time.Second))
	assert.Equal(t, 2, p.Machine().Current())

	px = center(p.Render())
	assert.Equal(t, segmentRed["a"], px.R)
	assert.Equal(t, uint8(perSegment), px.G, "arriving forward shows the last frame of segment a")
	assert.Equal(t, []string{"Problem"}, labels)
	assert.Equal(t, "Problem", p.Progress().Label)
}

func TestRetreatShowsFirstFrameOfNextSegment(t *testing.T) {
	p, clock := newTestPlayer(t, frameFetcher(nil))
	require.NoError(t, p.Load(context.Background()))

	require.True(t, p.Machine().SeekText(2))
	require.True(t, step(p, clock, 20*time.Second))
	require.True(t, p.Machine().Retreat())
	require.True(t, step(p, clock, 5*time.Second))
	assert.Equal(t, 2, p.Machine().Current())

	px := center(p.Render())
	assert.Equal(t, segmentRed["b"], px.R)
	assert.Equal(t, uint8(1), px.G)
}

func TestResizeKeepsCache(t *testing.T) {
	p, _ := newTestPlayer(t, frameFetcher(nil))
	require.NoError(t, p.Load(context.Background()))
	p.Render()
	before := p.Cache().Stats()

	p.Resize(64, 36)
	img := p.Render()
	assert.Equal(t, image.Rect(0, 0, 64, 36), img.Bounds())
	assert.Equal(t, uint8(1), center(img).G)

	after := p.Cache().Stats()
	assert.Equal(t, before.Fetches, after.Fetches)
	assert.Equal(t, before.Resident, after.Resident)
}

func TestRenderFallsBackWhileFrameLoads(t *testing.T) {
	gate := make(chan struct{})
	inner := frameFetcher(nil)
	fetcher := source.FetcherFunc(func(ctx context.Context, loc string) (image.Image, error) {
		if strings.Contains(loc, "/b/") {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return inner.Fetch(ctx, loc)
	})
	p, clock := newTestPlayer(t, fetcher)

	_, err := p.Cache().PreloadSegment(0, cache.Ascending).Wait(context.Background())
	require.NoError(t, err)

	require.True(t, p.Machine().SeekText(1))
	require.True(t, step(p, clock, 5*time.Second))
	require.True(t, p.Machine().Advance())

	// segment b is blocked, the last frame of a stays on screen
	clock.Advance(time.Second)
	p.Update()
	px := center(p.Render())
	assert.Equal(t, segmentRed["a"], px.R)
	assert.Equal(t, uint8(perSegment), px.G)

	close(gate)
	require.NoError(t, p.WaitFrame(context.Background()))
	px = center(p.Render())
	assert.Equal(t, segmentRed["b"], px.R)
}

func TestReloadKeepsPosition(t *testing.T) {
	p, clock := newTestPlayer(t, frameFetcher(nil))
	require.NoError(t, p.Load(context.Background()))

	require.True(t, p.Machine().Advance())
	assert.ErrorIs(t, p.Reload(testManifest("a", "b", "c")), ErrBusy)

	require.True(t, step(p, clock, 5*time.Second))
	require.NoError(t, p.Reload(testManifest("a", "b", "c")))

	assert.Equal(t, 2, p.Machine().Current())
	assert.Equal(t, 7, p.Snapshot().Total)
	assert.Equal(t, 3*perSegment, p.Resolver().Layout().Total())

	require.NoError(t, p.WaitFrame(context.Background()))
	px := center(p.Render())
	assert.Equal(t, segmentRed["a"], px.R)
	assert.Equal(t, uint8(perSegment), px.G)
}

func TestReloadRejectsBadManifest(t *testing.T) {
	p, _ := newTestPlayer(t, frameFetcher(nil))
	err := p.Reload(&manifest.Manifest{})
	assert.ErrorIs(t, err, manifest.ErrEmpty)
	assert.Equal(t, 9, p.Snapshot().Total)
}

func TestParseScript(t *testing.T) {
	cmds, err := ParseScript("advance, retreat,seek:4,text:2,wait:500ms,")
	require.NoError(t, err)
	assert.Equal(t, []Command{
		{Op: OpAdvance},
		{Op: OpRetreat},
		{Op: OpSeek, Arg: 4},
		{Op: OpText, Arg: 2},
		{Op: OpWait, Wait: 500 * time.Millisecond},
	}, cmds)

	for _, bad := range []string{"jump", "seek:x", "seek:-1", "wait:soon", "advance:2"} {
		_, err := ParseScript(bad)
		assert.Error(t, err, bad)
	}
}

// memSink keeps the centre pixel of every frame.
type memSink struct {
	pixels []color.RGBA
	closed bool
}

func (s *memSink) WriteFrame(n int, img *image.RGBA) error {
	if n != len(s.pixels) {
		return fmt.Errorf("frame %d out of order", n)
	}
	s.pixels = append(s.pixels, center(img))
	return nil
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

func exportOnce(t *testing.T, script string) (*memSink, ExportReport) {
	t.Helper()
	p, _ := newTestPlayer(t, frameFetcher(nil))
	cmds, err := ParseScript(script)
	require.NoError(t, err)

	sink := &memSink{}
	report, err := Export(context.Background(), p, sink, ExportOptions{FPS: 20, Script: cmds, Tail: 200 * time.Millisecond})
	require.NoError(t, err)
	return sink, report
}

func TestExportIsDeterministic(t *testing.T) {
	first, report := exportOnce(t, "advance")
	second, _ := exportOnce(t, "advance")

	assert.Equal(t, first.pixels, second.pixels)
	assert.Equal(t, len(first.pixels), report.Frames)
	assert.Greater(t, report.Frames, 40, "two seconds of animation at 20 fps")
	assert.GreaterOrEqual(t, report.Simulated, 2*time.Second)

	// segment a plays forward from frame 1 to frame 8
	var greens []int
	for _, px := range first.pixels {
		assert.Equal(t, segmentRed["a"], px.R)
		greens = append(greens, int(px.G))
	}
	assert.IsNonDecreasing(t, greens)
	assert.Equal(t, 1, greens[0])
	assert.Equal(t, perSegment, greens[len(greens)-1])
}

func TestExportSeekAcrossSegments(t *testing.T) {
	sink, report := exportOnce(t, "text:4,seek:0")
	assert.False(t, sink.closed, "Export leaves the sink open")
	assert.Equal(t, int64(4*perSegment), report.Fetches)

	reds := map[uint8]bool{}
	for _, px := range sink.pixels {
		reds[px.R] = true
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.True(t, reds[segmentRed[id]], "segment %s was shown", id)
	}
	last := sink.pixels[len(sink.pixels)-1]
	assert.Equal(t, segmentRed["a"], last.R)
	assert.Equal(t, uint8(1), last.G)
}

func TestExportNeedsManualClock(t *testing.T) {
	p, err := New(testManifest("a"), assets.TierHD, "assets", frameFetcher(nil), testOptions(system.RealClock()))
	require.NoError(t, err)
	defer p.Close()

	_, err = Export(context.Background(), p, &memSink{}, ExportOptions{})
	assert.ErrorIs(t, err, ErrNeedsManualClock)
}

func TestPNGSinkWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	sink, err := NewPNGSink(dir, 3, nil)
	require.NoError(t, err)

	p, _ := newTestPlayer(t, frameFetcher(nil))
	cmds, err := ParseScript("advance")
	require.NoError(t, err)

	report, err := Export(context.Background(), p, sink, ExportOptions{FPS: 10, Script: cmds})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.Equal(t, report.Frames, sink.Written())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, report.Frames)
	assert.FileExists(t, fmt.Sprintf(sink.Pattern(), 0))
	assert.FileExists(t, fmt.Sprintf(sink.Pattern(), report.Frames-1))
}
