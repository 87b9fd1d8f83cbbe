package cache

import (
	"errors"
	"fmt"

	"github.com/ivlev/framescroll/internal/assets"
)

var (
	ErrFrameMissing      = errors.New("cache: frame missing")
	ErrClosed            = errors.New("cache: closed")
	ErrUnderloaded       = errors.New("cache: segment under-loaded")
	ErrAllSegmentsFailed = errors.New("cache: all segments failed")
)

// LoadError is returned by Ensure when every attempt for a frame failed.
// The frame is then considered missing until the cache is cleared.
type LoadError struct {
	Index    assets.FrameIndex
	Path     string
	Attempts int
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cache: load %s failed after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrFrameMissing, e.Err}
}

// UnderloadedError reports a segment for which fewer than half of its frames
// could be loaded.
type UnderloadedError struct {
	Segment  int
	Loaded   int
	Expected int
}

func (e *UnderloadedError) Error() string {
	return fmt.Sprintf("cache: segment %d under-loaded: %d of %d frames", e.Segment, e.Loaded, e.Expected)
}

func (e *UnderloadedError) Is(target error) bool {
	return target == ErrUnderloaded
}
