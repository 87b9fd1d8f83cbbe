package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/ivlev/framescroll/internal/assets"
	"github.com/ivlev/framescroll/internal/cache"
	"github.com/ivlev/framescroll/internal/input"
	"github.com/ivlev/framescroll/internal/manifest"
	"github.com/ivlev/framescroll/internal/playback"
	"github.com/ivlev/framescroll/internal/renderer"
	"github.com/ivlev/framescroll/internal/source"
	"github.com/ivlev/framescroll/internal/steps"
	"github.com/ivlev/framescroll/internal/system"
)

// ErrBusy is returned by Reload while a transition is running.
var ErrBusy = errors.New("engine: navigation in progress")

var loadingMessages = []string{
	"Preparing your journey...",
	"Loading visuals...",
	"Almost ready...",
	"Initializing experience...",
}

// LoadingMessage picks the loading line for a percentage.
func LoadingMessage(percent int) string {
	switch {
	case percent < 25:
		return loadingMessages[0]
	case percent < 50:
		return loadingMessages[1]
	case percent < 75:
		return loadingMessages[2]
	default:
		return loadingMessages[3]
	}
}

// Progress is the state exposed to a loading indicator.
type Progress struct {
	Percent int
	Message string
	Label   string // текущий текстовый шаг
	Ready   bool
	Err     error
}

// Notice is the line shown when loading went wrong, empty otherwise.
func (p Progress) Notice() string {
	if p.Err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to load, please retry (%v)", p.Err)
}

func (p Progress) equal(o Progress) bool {
	return p.Percent == o.Percent && p.Message == o.Message && p.Label == o.Label &&
		p.Ready == o.Ready && (p.Err == nil) == (o.Err == nil)
}

// parts is everything that depends on the manifest.
type parts struct {
	resolver *assets.Resolver
	cache    *cache.Cache
	machine  *steps.Machine
	selector *renderer.Selector
	input    *input.Coordinator
}

// Player composes the frame cache, the step machine, the renderer and the
// input coordinator. Update, Render and the navigation calls belong to one
// goroutine (the game loop); progress observers may fire from loader goroutines.
type Player struct {
	opts    Options
	log     *slog.Logger
	fetcher source.Fetcher
	tier    assets.Tier
	base    string
	clock   system.Clock

	parts
	canvas *renderer.Canvas

	notifyMu      sync.Mutex
	mu            sync.Mutex
	progress      Progress
	progressFuncs []func(Progress)
	stepFuncs     []func(steps.Snapshot)

	lastStep     int
	lastWarm     int
	requested    assets.FrameIndex
	hasRequested bool
	drawn        assets.FrameIndex
	hasDrawn     bool
	dirty        bool
}

func New(m *manifest.Manifest, tier assets.Tier, base string, fetcher source.Fetcher, opts Options) (*Player, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = system.RealClock()
	}
	if opts.Background == nil {
		opts.Background = image.Black
	}

	p := &Player{
		opts:     opts,
		log:      logger.With("component", "player"),
		fetcher:  fetcher,
		tier:     tier,
		base:     base,
		clock:    opts.Clock,
		lastStep: -1,
		lastWarm: -1,
	}

	pt, err := p.build(m, 0)
	if err != nil {
		return nil, err
	}
	p.parts = pt
	p.canvas = renderer.NewCanvas(opts.Width, opts.Height, opts.Background, system.NewImagePool())
	if opts.Scaler != nil {
		p.canvas.SetScaler(opts.Scaler)
	}
	p.progress = Progress{Message: LoadingMessage(0), Label: p.machine.Snapshot().Label}

	p.log.Info("player ready",
		"segments", len(m.Segments),
		"frames", p.resolver.Layout().Total(),
		"tier", tier.Label(),
		"budget", opts.Cache.MaxEntries,
	)
	return p, nil
}

func (p *Player) build(m *manifest.Manifest, start int) (parts, error) {
	resolver, err := assets.NewResolver(m, p.tier, p.base)
	if err != nil {
		return parts{}, err
	}

	layout := resolver.Layout()
	counts := make([]int, layout.Segments())
	for i := range counts {
		counts[i] = layout.Count(i)
	}

	stepOpts := p.opts.Steps
	stepOpts.Start = start
	seq := steps.DefaultSequence(len(counts))
	machine, err := steps.New(seq, counts, p.clock, stepOpts)
	if err != nil {
		return parts{}, fmt.Errorf("engine: %w", err)
	}
	machine.OnChange(p.onStep)

	fc := cache.New(resolver, p.fetcher, p.opts.Cache)
	return parts{
		resolver: resolver,
		cache:    fc,
		machine:  machine,
		selector: renderer.NewSelector(fc, seq),
		input:    input.NewCoordinator(machine, p.opts.Input),
	}, nil
}

func (p *Player) Machine() *steps.Machine      { return p.machine }
func (p *Player) Cache() *cache.Cache          { return p.cache }
func (p *Player) Input() *input.Coordinator    { return p.input }
func (p *Player) Canvas() *renderer.Canvas     { return p.canvas }
func (p *Player) Resolver() *assets.Resolver   { return p.resolver }
func (p *Player) Snapshot() steps.Snapshot     { return p.machine.Snapshot() }
func (p *Player) Selector() *renderer.Selector { return p.selector }

// OnProgress registers a loading-indicator observer.
func (p *Player) OnProgress(fn func(Progress)) {
	p.mu.Lock()
	p.progressFuncs = append(p.progressFuncs, fn)
	p.mu.Unlock()
}

// OnStep registers an observer for step machine changes. It survives Reload.
func (p *Player) OnStep(fn func(steps.Snapshot)) {
	p.stepFuncs = append(p.stepFuncs, fn)
}

func (p *Player) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// updateProgress applies fn and notifies observers when something changed.
// Observers see updates in the order they were applied.
func (p *Player) updateProgress(fn func(*Progress)) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	before := p.progress
	fn(&p.progress)
	pr := p.progress
	funcs := slices.Clone(p.progressFuncs)
	p.mu.Unlock()

	if pr.equal(before) {
		return
	}
	for _, f := range funcs {
		f(pr)
	}
}

// Load fetches every segment, reporting progress, then warms the frames
// around the current position. Under-loaded segments are returned as an
// error matching cache.ErrUnderloaded while the player stays usable; an error
// matching cache.ErrAllSegmentsFailed means nothing can be shown.
func (p *Player) Load(ctx context.Context) error {
	_, err := p.cache.LoadAll(ctx, func(settled, total int) {
		percent := int(math.Round(float64(settled) / float64(total) * 100))
		p.updateProgress(func(pr *Progress) {
			if percent > pr.Percent {
				pr.Percent = percent
				pr.Message = LoadingMessage(percent)
			}
		})
	})
	if err != nil && (errors.Is(err, cache.ErrAllSegmentsFailed) || !errors.Is(err, cache.ErrUnderloaded)) {
		p.log.Error("loading failed", "error", err)
		p.updateProgress(func(pr *Progress) { pr.Err = err })
		return err
	}
	if err != nil {
		p.log.Warn("some segments are incomplete", "error", err)
	}

	if _, werr := p.warmStart().Wait(ctx); werr != nil {
		p.updateProgress(func(pr *Progress) { pr.Err = werr })
		return werr
	}

	stats := p.cache.Stats()
	p.log.Info("frames loaded", "resident", stats.Resident, "missing", stats.Missing, "fetches", stats.Fetches)
	p.updateProgress(func(pr *Progress) {
		pr.Percent = 100
		pr.Message = LoadingMessage(100)
		pr.Ready = true
		pr.Err = err
	})
	return err
}

// warmStart requests the frames needed right after (re)loading.
func (p *Player) warmStart() *cache.Batch {
	snap := p.machine.Snapshot()
	if snap.Index == 0 {
		return p.cache.PreloadInitial(p.opts.PreloadInitial)
	}
	return p.cache.PreloadAround(p.selector.Target(snap), p.opts.PreloadInitial, p.opts.PreloadBehind, orderOf(snap.Direction))
}

// Update advances the step machine and keeps the cache warm ahead of the
// playhead. It never blocks.
func (p *Player) Update() {
	p.machine.Update()

	snap := p.machine.Snapshot()
	if !snap.Animating {
		return
	}

	target := p.selector.Target(snap)
	g := p.resolver.Layout().Global(target)
	step := max(p.opts.PreloadAhead/2, 1)
	if p.lastWarm < 0 || abs(g-p.lastWarm) >= step {
		p.lastWarm = g
		p.cache.PreloadAround(target, p.opts.PreloadAhead, p.opts.PreloadBehind, orderOf(snap.Direction))
	}
}

func (p *Player) onStep(s steps.Snapshot) {
	if s.Index != p.lastStep {
		p.lastStep = s.Index
		p.lastWarm = -1
		if s.Step.Kind == steps.KindAnimation {
			p.log.Debug("entering animation", "step", s.Index, "segment", s.Step.Segment, "direction", s.Direction)
			p.cache.PreloadSegment(s.Step.Segment, orderOf(s.Direction))
		}
	}

	p.updateProgress(func(pr *Progress) { pr.Label = s.Label })
	for _, fn := range p.stepFuncs {
		fn(s)
	}
}

// Render paints the current frame, or the best resident substitute, and
// returns the canvas. The returned image is reused by the next call.
func (p *Player) Render() *image.RGBA {
	snap := p.machine.Snapshot()
	target := p.selector.Target(snap)
	img, from, ok := p.selector.Select(snap)

	if !ok || from != target {
		p.request(target)
	}
	if ok && p.hasDrawn && from == p.drawn && !p.dirty {
		return p.canvas.Image()
	}

	p.canvas.Paint(img)
	p.drawn, p.hasDrawn, p.dirty = from, ok, false
	return p.canvas.Image()
}

func (p *Player) request(idx assets.FrameIndex) {
	if p.hasRequested && p.requested == idx {
		return
	}
	p.requested, p.hasRequested = idx, true
	p.cache.PreloadRange(idx.Segment, idx.Frame, idx.Frame, cache.Ascending)
}

// WaitFrame blocks until the frame the current step asks for has settled.
// A frame that is permanently missing is not an error.
func (p *Player) WaitFrame(ctx context.Context) error {
	target := p.selector.Target(p.machine.Snapshot())
	_, err := p.cache.Ensure(ctx, target)
	if errors.Is(err, cache.ErrFrameMissing) {
		return nil
	}
	return err
}

// Resize changes the canvas size. Cached frames are untouched.
func (p *Player) Resize(width, height int) {
	if p.canvas.Resize(width, height) {
		p.dirty = true
	}
}

// Reload swaps in a new manifest, keeping the current text step. It is
// refused while a transition is running.
func (p *Player) Reload(m *manifest.Manifest) error {
	if p.machine.Locked() {
		return ErrBusy
	}

	pt, err := p.build(m, p.machine.Current())
	if err != nil {
		return err
	}

	old := p.parts
	p.parts = pt
	old.machine.Close()
	old.cache.Close()

	p.lastStep, p.lastWarm = -1, -1
	p.hasRequested, p.hasDrawn = false, false
	p.warmStart()

	p.log.Info("manifest reloaded", "segments", len(m.Segments), "frames", pt.resolver.Layout().Total(), "step", p.machine.Current())
	return nil
}

// Close stops playback and releases the cache and the canvas.
func (p *Player) Close() {
	p.machine.Close()
	p.cache.Close()
	p.canvas.Release()
}

func orderOf(d playback.Direction) cache.Order {
	if d == playback.Backward {
		return cache.Descending
	}
	return cache.Ascending
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
