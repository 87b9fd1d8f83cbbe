package steps

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ivlev/framescroll/internal/playback"
	"github.com/ivlev/framescroll/internal/system"
)

type Options struct {
	Animation    time.Duration // длительность одного сегмента
	AdvanceDelay time.Duration // пауза между концом анимации и следующим шагом
	Dwell        time.Duration // задержка разблокировки на текстовом шаге
	SeekPause    time.Duration // пауза на промежуточном текстовом шаге при seek
	Start        int           // начальный шаг (округляется до текстового)
	Easing       playback.Easing
	Logger       *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Animation:    2 * time.Second,
		AdvanceDelay: 100 * time.Millisecond,
		Dwell:        300 * time.Millisecond,
		SeekPause:    300 * time.Millisecond,
		Easing:       playback.Linear,
	}
}

// Snapshot is what observers and the renderer see after each change.
type Snapshot struct {
	Index     int
	Step      Step
	Total     int
	Direction playback.Direction
	Locked    bool
	Animating bool
	Progress  float64
	Frame     int    // local frame of Step.Segment, animation steps only
	Target    int    // -1 without a pending seek
	Label     string // label of the current or approaching text step
}

type timer struct {
	due  time.Time
	name string
	fire func(now time.Time)
}

// Machine is driven by Update from a single goroutine, like a game loop.
// At most one timer and one playback session are pending at any time.
type Machine struct {
	seq    []Step
	counts []int
	clock  system.Clock
	opts   Options
	log    *slog.Logger
	driver *playback.Driver

	current   int
	dir       playback.Direction
	locked    bool
	target    int
	pending   *timer
	observers []func(Snapshot)
	closed    bool
}

// New builds an idle machine positioned at opts.Start. counts holds the frame
// count of every segment referenced by the sequence.
func New(seq []Step, counts []int, clock system.Clock, opts Options) (*Machine, error) {
	if err := Validate(seq, len(counts)); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = system.RealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := min(max(opts.Start, 0), len(seq)-1)
	if seq[start].Kind != KindText {
		start--
	}

	return &Machine{
		seq:     append([]Step(nil), seq...),
		counts:  append([]int(nil), counts...),
		clock:   clock,
		opts:    opts,
		log:     logger.With("component", "steps"),
		driver:  playback.NewDriver(opts.Animation, opts.Easing),
		current: start,
		target:  -1,
	}, nil
}

func (m *Machine) Sequence() []Step { return m.seq }
func (m *Machine) Len() int         { return len(m.seq) }
func (m *Machine) Current() int     { return m.current }
func (m *Machine) Locked() bool     { return m.locked }

// OnChange registers an observer called after every state or progress change.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.observers = append(m.observers, fn)
}

// Advance moves one step forward. It is ignored while locked or at the end.
func (m *Machine) Advance() bool {
	return m.move(m.current+1, playback.Forward)
}

// Retreat moves one step backward. It is ignored while locked or at the start.
func (m *Machine) Retreat() bool {
	return m.move(m.current-1, playback.Backward)
}

func (m *Machine) move(next int, dir playback.Direction) bool {
	if m.closed || m.locked || next < 0 || next >= len(m.seq) {
		return false
	}

	m.locked = true
	m.dir = dir
	m.target = -1
	m.log.Debug("step", "from", m.current, "to", next, "direction", dir)
	m.enter(m.clock.Now(), next)
	m.notify()
	return true
}

// Seek starts an automatic traversal to step n, one step at a time.
func (m *Machine) Seek(n int) bool {
	if m.closed || m.locked || n < 0 || n >= len(m.seq) || n == m.current {
		return false
	}

	m.dir = playback.Forward
	if n < m.current {
		m.dir = playback.Backward
	}
	m.locked = true
	m.target = n
	m.log.Debug("seek", "from", m.current, "to", n, "direction", m.dir)
	m.enter(m.clock.Now(), m.current+m.dir.Sign())
	m.notify()
	return true
}

// SeekText seeks to the i-th text step.
func (m *Machine) SeekText(i int) bool {
	idx := TextIndices(m.seq)
	if i < 0 || i >= len(idx) {
		return false
	}
	return m.Seek(idx[i])
}

// Update advances the pending timer and the playback session to the clock's
// current time.
func (m *Machine) Update() {
	if m.closed {
		return
	}

	now := m.clock.Now()
	changed := false

	if t := m.pending; t != nil && !now.Before(t.due) {
		m.pending = nil
		t.fire(now)
		changed = true
	}

	if m.driver.Active() {
		s := m.driver.Tick(now)
		changed = true
		if s.Done {
			m.animationDone(now)
		}
	}

	if changed {
		m.notify()
	}
}

func (m *Machine) enter(now time.Time, idx int) {
	m.current = idx
	step := m.seq[idx]

	if step.Kind == KindAnimation {
		m.driver.Start(now, m.counts[step.Segment], m.dir)
		return
	}
	m.driver.Cancel()
	m.arrivedAtText(now)
}

func (m *Machine) arrivedAtText(now time.Time) {
	switch {
	case m.target < 0:
		m.schedule(now, m.opts.Dwell, "unlock", m.unlock)
	case m.current == m.target:
		m.target = -1
		m.schedule(now, m.opts.Dwell, "unlock", m.unlock)
	default:
		m.schedule(now, m.opts.SeekPause, "continue", m.continueSeek)
	}
}

func (m *Machine) animationDone(now time.Time) {
	if m.target >= 0 && m.current == m.target {
		m.target = -1
		m.schedule(now, m.opts.Dwell, "unlock", m.unlock)
		return
	}

	next := m.current + m.dir.Sign()
	if next < 0 || next >= len(m.seq) {
		m.schedule(now, m.opts.Dwell, "unlock", m.unlock)
		return
	}
	m.schedule(now, m.opts.AdvanceDelay, "advance", func(now time.Time) {
		m.enter(now, next)
	})
}

func (m *Machine) continueSeek(now time.Time) {
	next := m.current + m.dir.Sign()
	if next < 0 || next >= len(m.seq) {
		m.target = -1
		m.unlock(now)
		return
	}
	m.enter(now, next)
}

func (m *Machine) unlock(time.Time) {
	m.locked = false
	m.log.Debug("unlocked", "step", m.current)
}

func (m *Machine) schedule(now time.Time, delay time.Duration, name string, fire func(time.Time)) {
	if m.pending != nil {
		m.log.Debug("timer replaced", "old", m.pending.name, "new", name)
	}
	m.pending = &timer{due: now.Add(delay), name: name, fire: fire}
}

func (m *Machine) Snapshot() Snapshot {
	step := m.seq[m.current]
	s := Snapshot{
		Index:     m.current,
		Step:      step,
		Total:     len(m.seq),
		Direction: m.dir,
		Locked:    m.locked,
		Target:    m.target,
		Label:     step.Label,
	}

	if step.Kind == KindAnimation {
		last := m.driver.Last()
		s.Animating = m.driver.Active()
		s.Progress = last.Progress
		s.Frame = last.Frame
		if next := m.current + m.dir.Sign(); next >= 0 && next < len(m.seq) {
			s.Label = m.seq[next].Label
		}
	}
	return s
}

func (m *Machine) notify() {
	if len(m.observers) == 0 {
		return
	}
	s := m.Snapshot()
	for _, fn := range m.observers {
		fn(s)
	}
}

// Close cancels the running session and any pending timer. Update and all
// navigation requests become no-ops.
func (m *Machine) Close() {
	m.driver.Cancel()
	m.pending = nil
	m.observers = nil
	m.closed = true
}

func (s Snapshot) String() string {
	return fmt.Sprintf("step %d/%d (%s) dir=%s locked=%v progress=%.3f frame=%d", s.Index, s.Total, s.Step.Kind, s.Direction, s.Locked, s.Progress, s.Frame)
}
