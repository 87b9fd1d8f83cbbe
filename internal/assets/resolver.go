package assets

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/ivlev/framescroll/internal/manifest"
)

var ErrOutOfRange = errors.New("assets: frame index out of range")

// Asset is the resolved location of one frame.
type Asset struct {
	URL      string // fetch location, also the cache key
	Filename string
}

// Resolver maps (segment, local frame, tier) to an asset location using the
// manifest's roots and naming patterns. Segment roots are always taken
// relative to the base, which is either a directory or an http(s) URL.
type Resolver struct {
	manifest *manifest.Manifest
	tier     Tier
	base     string
	baseURL  *url.URL
	layout   *Layout
}

func NewResolver(m *manifest.Manifest, tier Tier, base string) (*Resolver, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	r := &Resolver{
		manifest: m,
		tier:     tier,
		base:     base,
	}

	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("assets: base url: %w", err)
		}
		r.baseURL = u
	}

	counts := make([]int, len(m.Segments))
	for i, s := range m.Segments {
		counts[i] = s.Count
	}
	r.layout = NewLayout(counts)
	return r, nil
}

func (r *Resolver) Layout() *Layout              { return r.layout }
func (r *Resolver) Manifest() *manifest.Manifest { return r.manifest }
func (r *Resolver) Tier() Tier                   { return r.tier }

// Root returns the asset root of segment seg for the resolver's tier.
func (r *Resolver) Root(seg int) string {
	s := r.manifest.Segments[seg]
	if root, ok := s.Tiers[string(r.tier)]; ok && root != "" {
		return root
	}
	return s.Path
}

func (r *Resolver) Resolve(idx FrameIndex) (Asset, error) {
	if !r.layout.Valid(idx) {
		return Asset{}, fmt.Errorf("%w: segment %d frame %d", ErrOutOfRange, idx.Segment, idx.Frame)
	}

	seg := r.manifest.Segments[idx.Segment]
	name := Filename(seg.Pattern, idx.Frame+1)
	root := strings.TrimPrefix(r.Root(idx.Segment), "/")

	if r.baseURL != nil {
		return Asset{URL: r.baseURL.JoinPath(root, name).String(), Filename: name}, nil
	}
	return Asset{URL: path.Join(r.base, root, name), Filename: name}, nil
}

// Filename expands the last run of '#' in pattern into the zero-padded frame
// number. Patterns without '#' get a 4-digit number before the extension.
func Filename(pattern string, number int) string {
	end := strings.LastIndexByte(pattern, '#')
	if end < 0 {
		ext := path.Ext(pattern)
		return fmt.Sprintf("%s%04d%s", strings.TrimSuffix(pattern, ext), number, ext)
	}
	start := end
	for start > 0 && pattern[start-1] == '#' {
		start--
	}
	width := end - start + 1
	return fmt.Sprintf("%s%0*d%s", pattern[:start], width, number, pattern[end+1:])
}
