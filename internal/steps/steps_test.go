package steps

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/framescroll/internal/playback"
	"github.com/ivlev/framescroll/internal/system"
)

const tick = 16 * time.Millisecond

func newMachine(t *testing.T) (*Machine, *system.ManualClock) {
	t.Helper()
	clock := system.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m, err := New(DefaultSequence(4), []int{96, 96, 96, 96}, clock, DefaultOptions())
	require.NoError(t, err)
	return m, clock
}

// run ticks the machine for d of simulated time.
func run(m *Machine, clock *system.ManualClock, d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += tick {
		clock.Advance(tick)
		m.Update()
	}
}

// settle ticks until the machine unlocks or limit passes.
func settle(m *Machine, clock *system.ManualClock, limit time.Duration) bool {
	for elapsed := time.Duration(0); elapsed < limit; elapsed += tick {
		if !m.Locked() {
			return true
		}
		clock.Advance(tick)
		m.Update()
	}
	return !m.Locked()
}

func TestDefaultSequence(t *testing.T) {
	seq := DefaultSequence(4)
	require.Len(t, seq, 9)
	assert.NoError(t, Validate(seq, 4))
	assert.Equal(t, "dormant", seq[0].State)
	assert.Equal(t, "Start", seq[8].Label)
	assert.Equal(t, KindAnimation, seq[3].Kind)
	assert.Equal(t, 1, seq[3].Segment)
	assert.Equal(t, []int{0, 2, 4, 6, 8}, TextIndices(seq))

	assert.Len(t, DefaultSequence(2), 5)
	assert.NoError(t, Validate(DefaultSequence(2), 2))
}

func TestValidateRejectsBrokenAlternation(t *testing.T) {
	tests := []struct {
		name string
		seq  []Step
	}{
		{"empty", nil},
		{"even length", []Step{{Kind: KindText}, {Kind: KindAnimation}}},
		{"two texts", []Step{{Kind: KindText}, {Kind: KindText}, {Kind: KindText}}},
		{"bad segment", []Step{{Kind: KindText}, {Kind: KindAnimation, Segment: 5}, {Kind: KindText}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.seq, 1)
			if !errors.Is(err, ErrInvalidSequence) {
				t.Errorf("expected ErrInvalidSequence, got %v", err)
			}
		})
	}
}

func TestAdvanceThroughAnimation(t *testing.T) {
	m, clock := newMachine(t)

	require.True(t, m.Advance())
	s := m.Snapshot()
	assert.True(t, s.Locked)
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, KindAnimation, s.Step.Kind)
	assert.Equal(t, 0, s.Step.Segment)
	assert.True(t, s.Animating)
	assert.Equal(t, "Problem", s.Label)

	run(m, clock, time.Second)
	mid := m.Snapshot()
	assert.Equal(t, 1, mid.Index)
	assert.InDelta(t, 0.5, mid.Progress, 0.02)

	run(m, clock, time.Second)
	assert.Equal(t, 1, m.Current(), "auto-advance waits for the advance delay")
	assert.Equal(t, 1.0, m.Snapshot().Progress)

	run(m, clock, 100*time.Millisecond+tick)
	assert.Equal(t, 2, m.Current())
	assert.True(t, m.Locked(), "text step dwells before unlocking")

	assert.True(t, settle(m, clock, 300*time.Millisecond+2*tick))
	assert.Equal(t, 2, m.Current())
}

func TestSeekBackwardToStart(t *testing.T) {
	m, clock := newMachine(t)
	require.True(t, m.Seek(4))
	require.True(t, settle(m, clock, 10*time.Second))
	require.Equal(t, 4, m.Current())

	var visited []int
	var frames []int
	m.OnChange(func(s Snapshot) {
		if len(visited) == 0 || visited[len(visited)-1] != s.Index {
			visited = append(visited, s.Index)
		}
		if s.Step.Kind == KindAnimation {
			assert.Equal(t, playback.Backward, s.Direction)
			frames = append(frames, s.Frame)
		}
	})

	require.True(t, m.Seek(0))
	assert.Equal(t, 0, m.Snapshot().Target)
	require.True(t, settle(m, clock, 10*time.Second))

	assert.Equal(t, []int{3, 2, 1, 0}, visited)
	assert.Equal(t, 0, m.Current())
	assert.Equal(t, -1, m.Snapshot().Target)

	// reversed playback walks frames downward
	require.NotEmpty(t, frames)
	assert.Equal(t, 95, frames[0])
	assert.Equal(t, 0, frames[len(frames)-1])
}

func TestLockRejectsInput(t *testing.T) {
	m, clock := newMachine(t)
	require.True(t, m.Advance())

	for i := 0; i < 20; i++ {
		assert.False(t, m.Advance())
		assert.False(t, m.Retreat())
		assert.False(t, m.Seek(8))
		assert.False(t, m.SeekText(4))
		run(m, clock, 50*time.Millisecond)
		if m.Current() != 1 {
			break
		}
	}
	assert.True(t, settle(m, clock, 5*time.Second))
	assert.Equal(t, 2, m.Current())
}

func TestSeekConvergesFromAnyStep(t *testing.T) {
	for from := 0; from < 9; from += 2 {
		for to := 0; to < 9; to++ {
			if from == to {
				continue
			}
			m, clock := newMachine(t)
			if from > 0 {
				require.True(t, m.Seek(from))
				require.True(t, settle(m, clock, 20*time.Second))
			}

			require.True(t, m.Seek(to), "seek %d→%d", from, to)
			require.True(t, settle(m, clock, 20*time.Second), "seek %d→%d did not unlock", from, to)
			assert.Equal(t, to, m.Current(), "seek %d→%d", from, to)
		}
	}
}

func TestBoundariesAreNoOps(t *testing.T) {
	m, clock := newMachine(t)
	assert.False(t, m.Retreat())
	assert.False(t, m.Locked())
	assert.False(t, m.Seek(0))
	assert.False(t, m.Seek(42))

	require.True(t, m.SeekText(4))
	require.True(t, settle(m, clock, 20*time.Second))
	assert.Equal(t, 8, m.Current())
	assert.False(t, m.Advance())
	assert.False(t, m.Locked())
}

func TestRetreatPlaysSegmentInReverse(t *testing.T) {
	m, clock := newMachine(t)
	require.True(t, m.SeekText(1))
	require.True(t, settle(m, clock, 10*time.Second))

	require.True(t, m.Retreat())
	s := m.Snapshot()
	assert.Equal(t, playback.Backward, s.Direction)
	assert.Equal(t, 1.0, s.Progress)
	assert.Equal(t, 95, s.Frame)
	assert.Equal(t, "Begin", s.Label)

	require.True(t, settle(m, clock, 5*time.Second))
	assert.Equal(t, 0, m.Current())
}

func TestCloseStopsUpdates(t *testing.T) {
	m, clock := newMachine(t)
	calls := 0
	m.OnChange(func(Snapshot) { calls++ })

	require.True(t, m.Advance())
	m.Close()
	before := calls
	run(m, clock, 3*time.Second)

	assert.Equal(t, before, calls)
	assert.Equal(t, 1, m.Current())
	assert.False(t, m.Advance())
}

func TestStartPosition(t *testing.T) {
	clock := system.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts := DefaultOptions()

	for _, tt := range []struct{ start, want int }{{4, 4}, {5, 4}, {42, 8}, {-3, 0}} {
		opts.Start = tt.start
		m, err := New(DefaultSequence(4), []int{8, 8, 8, 8}, clock, opts)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.Current(), "start %d", tt.start)
		assert.False(t, m.Locked())
	}
}
