package system

import (
	"bytes"
	"image"
	"strings"
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	c.Advance(16 * time.Millisecond)
	if got := c.Now().Sub(start); got != 16*time.Millisecond {
		t.Errorf("expected 16ms elapsed, got %v", got)
	}
}

func TestImagePoolSizes(t *testing.T) {
	p := NewImagePool()
	small := p.Get(image.Rect(0, 0, 4, 4))
	if small.Rect != image.Rect(0, 0, 4, 4) {
		t.Fatalf("unexpected rect %v", small.Rect)
	}
	p.Put(small)

	big := p.Get(image.Rect(0, 0, 8, 2))
	if big.Rect != image.Rect(0, 0, 8, 2) {
		t.Errorf("pool returned wrong size %v", big.Rect)
	}
	// foreign sizes are dropped silently
	p.Put(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	p.Put(nil)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", false)
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	log = NewLogger(&buf, "nonsense", true)
	log.Debug("verbose")
	if !strings.Contains(buf.String(), "verbose") {
		t.Errorf("debug flag must enable debug records, got %q", buf.String())
	}
}
