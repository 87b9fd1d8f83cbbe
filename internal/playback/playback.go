// Package playback turns elapsed time into progress and a local frame index
// for one animation segment, in either direction.
package playback

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Sign is +1 for Forward and -1 for Backward.
func (d Direction) Sign() int {
	if d == Backward {
		return -1
	}
	return 1
}

// Easing maps linear progress in [0,1] onto [0,1]. It must be monotone.
type Easing func(t float64) float64

func Linear(t float64) float64 { return t }

// EaseInOutCubic applies smooth easing function
func EaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func ParseEasing(name string) (Easing, error) {
	switch strings.ToLower(name) {
	case "", "linear":
		return Linear, nil
	case "ease-in-out", "ease-in-out-cubic":
		return EaseInOutCubic, nil
	}
	return nil, fmt.Errorf("playback: unknown easing %q", name)
}

// Progress returns the session progress after elapsed and whether the session
// has reached its terminal bound. Forward runs 0→1, Backward 1→0.
func Progress(elapsed, duration time.Duration, dir Direction, ease Easing) (float64, bool) {
	p := 1.0
	if duration > 0 {
		p = math.Min(float64(elapsed)/float64(duration), 1)
	}
	p = math.Max(p, 0)
	done := p >= 1

	if ease != nil {
		p = ease(p)
	}
	if dir == Backward {
		p = 1 - p
	}
	return p, done
}

// FrameAt maps progress to floor(progress*frameCount) clamped to the segment.
func FrameAt(progress float64, frameCount int) int {
	if frameCount <= 0 {
		return 0
	}
	f := int(math.Floor(progress * float64(frameCount)))
	return min(max(f, 0), frameCount-1)
}

// Sample is the driver output for one tick.
type Sample struct {
	Progress float64
	Frame    int
	Done     bool
}

// Driver runs at most one playback session at a time. It is resampled on
// every tick and never blocks.
type Driver struct {
	duration time.Duration
	ease     Easing

	active bool
	start  time.Time
	frames int
	dir    Direction
	last   Sample
}

func NewDriver(duration time.Duration, ease Easing) *Driver {
	if ease == nil {
		ease = Linear
	}
	return &Driver{duration: duration, ease: ease}
}

// Start begins a session, replacing any session still running.
func (d *Driver) Start(now time.Time, frameCount int, dir Direction) Sample {
	d.Cancel()

	d.active = true
	d.start = now
	d.frames = frameCount
	d.dir = dir

	initial := 0.0
	if dir == Backward {
		initial = 1
	}
	d.last = Sample{Progress: initial, Frame: FrameAt(initial, frameCount)}
	return d.last
}

// Tick samples the session at now. Once Done has been reported the driver is
// inactive and Tick keeps returning the final sample.
func (d *Driver) Tick(now time.Time) Sample {
	if !d.active {
		return d.last
	}

	p, done := Progress(now.Sub(d.start), d.duration, d.dir, d.ease)
	d.last = Sample{Progress: p, Frame: FrameAt(p, d.frames), Done: done}
	if done {
		d.active = false
	}
	return d.last
}

// Cancel abandons the current session without reporting completion.
func (d *Driver) Cancel() {
	d.active = false
}

func (d *Driver) Active() bool         { return d.active }
func (d *Driver) Last() Sample         { return d.last }
func (d *Driver) Direction() Direction { return d.dir }
