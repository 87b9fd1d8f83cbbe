// Package input turns wheel, touch and keyboard events into single-step
// navigation requests. Everything arriving while the navigator is locked is
// dropped, never queued.
package input

import (
	"log/slog"
	"math"
	"time"
)

// Navigator is the request side of the step machine.
type Navigator interface {
	Advance() bool
	Retreat() bool
	Seek(n int) bool
	Locked() bool
	Len() int
}

type Key int

const (
	KeyUnknown Key = iota
	KeyArrowDown
	KeyArrowUp
	KeySpace
	KeyPageDown
	KeyPageUp
	KeyHome
	KeyEnd
)

// Action is what an event resulted in.
type Action int

const (
	ActionNone Action = iota
	ActionAdvance
	ActionRetreat
	ActionSeek
)

func (a Action) String() string {
	switch a {
	case ActionAdvance:
		return "advance"
	case ActionRetreat:
		return "retreat"
	case ActionSeek:
		return "seek"
	}
	return "none"
}

type Options struct {
	WheelThreshold float64       // накопленная дельта колеса
	WheelDebounce  time.Duration // минимальный интервал между событиями колеса
	SwipeDistance  float64       // px
	SwipeVelocity  float64       // px/ms
	Logger         *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		WheelThreshold: 50,
		WheelDebounce:  100 * time.Millisecond,
		SwipeDistance:  50,
		SwipeVelocity:  0.3,
	}
}

// Coordinator is fed from the event loop goroutine.
type Coordinator struct {
	nav  Navigator
	opts Options
	log  *slog.Logger

	wheelAcc  float64
	lastWheel time.Time

	touching   bool
	touchY     float64
	touchStart time.Time
}

func NewCoordinator(nav Navigator, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{nav: nav, opts: opts, log: logger.With("component", "input")}
}

// Wheel accumulates vertical deltas (positive = down) and fires once the
// accumulator passes the threshold. Events closer than the debounce interval
// are ignored entirely.
func (c *Coordinator) Wheel(dy float64, at time.Time) Action {
	if c.nav.Locked() {
		return ActionNone
	}
	if !c.lastWheel.IsZero() && at.Sub(c.lastWheel) < c.opts.WheelDebounce {
		return ActionNone
	}
	c.lastWheel = at

	c.wheelAcc += dy
	if math.Abs(c.wheelAcc) <= c.opts.WheelThreshold {
		return ActionNone
	}

	forward := c.wheelAcc > 0
	c.wheelAcc = 0
	if forward {
		return c.advance("wheel")
	}
	return c.retreat("wheel")
}

func (c *Coordinator) TouchStart(y float64, at time.Time) {
	c.touching = true
	c.touchY = y
	c.touchStart = at
}

// TouchEnd completes a swipe. Swiping up (finger moving toward the top of the
// screen) advances.
func (c *Coordinator) TouchEnd(y float64, at time.Time) Action {
	if !c.touching {
		return ActionNone
	}
	c.touching = false
	if c.nav.Locked() {
		return ActionNone
	}

	dy := c.touchY - y
	ms := float64(at.Sub(c.touchStart)) / float64(time.Millisecond)
	velocity := math.Inf(1)
	if ms > 0 {
		velocity = math.Abs(dy) / ms
	}

	if math.Abs(dy) <= c.opts.SwipeDistance || velocity <= c.opts.SwipeVelocity {
		return ActionNone
	}
	if dy > 0 {
		return c.advance("swipe")
	}
	return c.retreat("swipe")
}

func (c *Coordinator) Key(k Key) Action {
	if c.nav.Locked() {
		return ActionNone
	}

	switch k {
	case KeyArrowDown, KeySpace, KeyPageDown:
		return c.advance("key")
	case KeyArrowUp, KeyPageUp:
		return c.retreat("key")
	case KeyHome:
		return c.seek(0)
	case KeyEnd:
		return c.seek(c.nav.Len() - 1)
	}
	return ActionNone
}

func (c *Coordinator) advance(source string) Action {
	if !c.nav.Advance() {
		return ActionNone
	}
	c.log.Debug("advance", "source", source)
	return ActionAdvance
}

func (c *Coordinator) retreat(source string) Action {
	if !c.nav.Retreat() {
		return ActionNone
	}
	c.log.Debug("retreat", "source", source)
	return ActionRetreat
}

func (c *Coordinator) seek(n int) Action {
	if !c.nav.Seek(n) {
		return ActionNone
	}
	c.log.Debug("seek", "source", "key", "target", n)
	return ActionSeek
}
