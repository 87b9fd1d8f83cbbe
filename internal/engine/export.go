package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivlev/framescroll/internal/system"
)

var (
	ErrExportTimeout    = errors.New("engine: navigation did not settle")
	ErrNeedsManualClock = errors.New("engine: export needs a manual clock")
)

// Op is one scripted navigation request.
type Op string

const (
	OpAdvance Op = "advance"
	OpRetreat Op = "retreat"
	OpSeek    Op = "seek" // шаг последовательности
	OpText    Op = "text" // номер текстового шага
	OpWait    Op = "wait"
)

type Command struct {
	Op   Op
	Arg  int
	Wait time.Duration
}

func (c Command) String() string {
	switch c.Op {
	case OpSeek, OpText:
		return fmt.Sprintf("%s:%d", c.Op, c.Arg)
	case OpWait:
		return fmt.Sprintf("%s:%s", c.Op, c.Wait)
	}
	return string(c.Op)
}

// ParseScript reads a comma separated command list such as
// "advance,advance,seek:0,text:2,wait:500ms".
func ParseScript(s string) ([]Command, error) {
	var cmds []Command
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, arg, hasArg := strings.Cut(part, ":")
		cmd := Command{Op: Op(strings.ToLower(name))}

		switch cmd.Op {
		case OpAdvance, OpRetreat:
			if hasArg {
				return nil, fmt.Errorf("engine: %q takes no argument", part)
			}
		case OpSeek, OpText:
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("engine: bad step in %q", part)
			}
			cmd.Arg = n
		case OpWait:
			d, err := time.ParseDuration(arg)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("engine: bad duration in %q", part)
			}
			cmd.Wait = d
		default:
			return nil, fmt.Errorf("engine: unknown command %q", name)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// FrameSink receives exported frames in order. The image is only valid for
// the duration of the call. *video.Stream satisfies it.
type FrameSink interface {
	WriteFrame(n int, img *image.RGBA) error
	Close() error
}

type pngJob struct {
	n   int
	img *image.RGBA
}

// PNGSink writes frames as numbered PNG files using a pool of encoders.
type PNGSink struct {
	dir     string
	pool    *system.ImagePool
	jobs    chan pngJob
	wg      sync.WaitGroup
	log     *slog.Logger
	written atomic.Int64

	mu  sync.Mutex
	err error
}

// NewPNGSink creates dir and starts workers encoders.
func NewPNGSink(dir string, workers int, logger *slog.Logger) (*PNGSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create frame dir: %w", err)
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &PNGSink{
		dir:  dir,
		pool: system.NewImagePool(),
		jobs: make(chan pngJob, workers*2),
		log:  logger.With("component", "png"),
	}

	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	for w := 0; w < workers; w++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for job := range s.jobs {
				if err := s.encode(enc, job); err != nil {
					s.fail(err)
				}
				s.pool.Put(job.img)
			}
		}()
	}
	return s, nil
}

// Pattern is the printf pattern of the written files, usable as ffmpeg input.
func (s *PNGSink) Pattern() string {
	return filepath.Join(s.dir, "frame-%05d.png")
}

func (s *PNGSink) Written() int { return int(s.written.Load()) }

func (s *PNGSink) WriteFrame(n int, img *image.RGBA) error {
	if err := s.firstErr(); err != nil {
		return err
	}
	// Кадр канвы переиспользуется, отдаём воркеру копию
	cp := s.pool.Get(img.Rect)
	copy(cp.Pix, img.Pix)
	s.jobs <- pngJob{n: n, img: cp}
	return nil
}

// Close waits for pending files and reports the first write error.
func (s *PNGSink) Close() error {
	close(s.jobs)
	s.wg.Wait()
	return s.firstErr()
}

func (s *PNGSink) encode(enc *png.Encoder, job pngJob) error {
	path := fmt.Sprintf(s.Pattern(), job.n)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := enc.Encode(f, job.img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.written.Add(1)
	return nil
}

func (s *PNGSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.log.Error("frame write failed", "error", err)
		s.err = err
	}
}

func (s *PNGSink) firstErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type ExportOptions struct {
	FPS    int
	Script []Command
	Tail   time.Duration // запись после последней команды
	Limit  time.Duration // максимум симулированного времени на одну команду
}

type ExportReport struct {
	Frames    int
	Simulated time.Duration
	Elapsed   time.Duration
	Fetches   int64
	Missing   int
	FPS       float64 // кадров в секунду реального времени
}

// Export drives the player with simulated time and hands every rendered
// frame to sink. The player must run on a *system.ManualClock. Each tick
// waits for the frame it shows, so the output does not depend on network
// timing. The sink is not closed.
func Export(ctx context.Context, p *Player, sink FrameSink, opts ExportOptions) (ExportReport, error) {
	clock, ok := p.clock.(*system.ManualClock)
	if !ok {
		return ExportReport{}, ErrNeedsManualClock
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Limit <= 0 {
		opts.Limit = time.Minute
	}

	log := p.log.With("phase", "export")
	frameDur := time.Second / time.Duration(opts.FPS)
	started := time.Now()
	var report ExportReport

	emit := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.WaitFrame(ctx); err != nil {
			return err
		}
		if err := sink.WriteFrame(report.Frames, p.Render()); err != nil {
			return fmt.Errorf("engine: frame %d: %w", report.Frames, err)
		}
		report.Frames++
		return nil
	}
	tick := func() error {
		clock.Advance(frameDur)
		report.Simulated += frameDur
		p.Update()
		return emit()
	}
	settle := func() error {
		for spent := time.Duration(0); p.machine.Locked(); spent += frameDur {
			if spent > opts.Limit {
				return fmt.Errorf("%w: %s", ErrExportTimeout, p.machine.Snapshot())
			}
			if err := tick(); err != nil {
				return err
			}
		}
		return nil
	}

	if err := emit(); err != nil {
		return report, err
	}

	for _, cmd := range opts.Script {
		if err := settle(); err != nil {
			return report, err
		}

		accepted := true
		switch cmd.Op {
		case OpAdvance:
			accepted = p.machine.Advance()
		case OpRetreat:
			accepted = p.machine.Retreat()
		case OpSeek:
			accepted = p.machine.Seek(cmd.Arg)
		case OpText:
			accepted = p.machine.SeekText(cmd.Arg)
		case OpWait:
			for spent := time.Duration(0); spent < cmd.Wait; spent += frameDur {
				if err := tick(); err != nil {
					return report, err
				}
			}
		}
		if !accepted {
			log.Warn("command ignored", "command", cmd.String(), "step", p.machine.Current())
			continue
		}
		log.Debug("command", "command", cmd.String(), "step", p.machine.Current())
	}

	if err := settle(); err != nil {
		return report, err
	}
	for spent := time.Duration(0); spent < opts.Tail; spent += frameDur {
		if err := tick(); err != nil {
			return report, err
		}
	}

	stats := p.cache.Stats()
	report.Elapsed = time.Since(started)
	report.Fetches = stats.Fetches
	report.Missing = stats.Missing
	if secs := report.Elapsed.Seconds(); secs > 0 {
		report.FPS = float64(report.Frames) / secs
	}
	log.Info("export finished", "frames", report.Frames, "simulated", report.Simulated, "elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}
