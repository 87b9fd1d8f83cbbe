// Package steps owns the narrative position: a fixed sequence of text steps
// separated by animation steps, a direction, a re-entrancy lock and an
// optional seek target.
package steps

import (
	"errors"
	"fmt"
)

var ErrInvalidSequence = errors.New("steps: invalid sequence")

// Kind defines how a step is presented.
type Kind string

const (
	KindText      Kind = "text"      // static frame, narrative label
	KindAnimation Kind = "animation" // plays one segment
)

// Step is one element of the narrative sequence.
type Step struct {
	Kind    Kind   `yaml:"kind"`
	State   string `yaml:"state"`
	Segment int    `yaml:"segment"` // только для animation
	Label   string `yaml:"label,omitempty"`
}

// DefaultSequence builds text, animation, text, ... for the given number of
// segments, naming the narrative states after the original five-act story
// when the counts line up.
func DefaultSequence(segments int) []Step {
	states := []string{"dormant", "chaos", "organizing", "illuminated", "radiant"}
	labels := []string{"Begin", "Problem", "Solution", "Features", "Start"}
	if segments != len(states)-1 {
		states = make([]string, segments+1)
		labels = make([]string, segments+1)
		for i := range states {
			states[i] = fmt.Sprintf("state-%d", i)
			labels[i] = fmt.Sprintf("Part %d", i+1)
		}
	}

	seq := make([]Step, 0, 2*segments+1)
	seq = append(seq, Step{Kind: KindText, State: states[0], Label: labels[0]})
	for i := 0; i < segments; i++ {
		seq = append(seq,
			Step{Kind: KindAnimation, State: states[i+1], Segment: i},
			Step{Kind: KindText, State: states[i+1], Label: labels[i+1]},
		)
	}
	return seq
}

// Validate checks strict alternation: the sequence starts and ends with a
// text step and every animation step references an existing segment.
func Validate(seq []Step, segments int) error {
	if len(seq) == 0 || len(seq)%2 == 0 {
		return fmt.Errorf("%w: need an odd number of steps, got %d", ErrInvalidSequence, len(seq))
	}
	for i, s := range seq {
		want := KindText
		if i%2 == 1 {
			want = KindAnimation
		}
		if s.Kind != want {
			return fmt.Errorf("%w: step %d is %q, want %q", ErrInvalidSequence, i, s.Kind, want)
		}
		if s.Kind == KindAnimation && (s.Segment < 0 || s.Segment >= segments) {
			return fmt.Errorf("%w: step %d references segment %d of %d", ErrInvalidSequence, i, s.Segment, segments)
		}
	}
	return nil
}

// TextIndices lists the positions of text steps, in order.
func TextIndices(seq []Step) []int {
	var out []int
	for i, s := range seq {
		if s.Kind == KindText {
			out = append(out, i)
		}
	}
	return out
}
