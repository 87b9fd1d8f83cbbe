package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmpty     = errors.New("manifest: no segments")
	ErrMalformed = errors.New("manifest: malformed document")
)

// DefaultPattern is used when a segment does not declare its own naming pattern.
const DefaultPattern = "frame-####.jpg"

// Manifest describes the frame assets produced by the offline extraction step.
// It is the only source of truth for frame counts.
type Manifest struct {
	Version   string    `yaml:"version"`
	Generated string    `yaml:"generated,omitempty"`
	Segments  []Segment `yaml:"segments"`
}

// Segment is one animated transition: an ordered run of numbered frames.
type Segment struct {
	ID      string            `yaml:"id"`
	Path    string            `yaml:"path"`              // asset root relative to the base
	Count   int               `yaml:"count"`             // number of frames
	Pattern string            `yaml:"pattern,omitempty"` // run of '#' = zero-padded 1-based number
	Tiers   map[string]string `yaml:"tiers,omitempty"`   // per-tier asset roots, falls back to Path
}

// Index returns the position of the segment with the given id.
func (m *Manifest) Index(id string) (int, bool) {
	for i, s := range m.Segments {
		if s.ID == id {
			return i, true
		}
	}
	return -1, false
}

// TotalFrames sums frame counts over all segments.
func (m *Manifest) TotalFrames() int {
	total := 0
	for _, s := range m.Segments {
		total += s.Count
	}
	return total
}

func (m *Manifest) Validate() error {
	if len(m.Segments) == 0 {
		return ErrEmpty
	}
	seen := make(map[string]bool, len(m.Segments))
	for i, s := range m.Segments {
		if s.ID == "" {
			return fmt.Errorf("%w: segment %d has no id", ErrMalformed, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate segment %q", ErrMalformed, s.ID)
		}
		seen[s.ID] = true
		if s.Count <= 0 {
			return fmt.Errorf("%w: segment %q has count %d", ErrMalformed, s.ID, s.Count)
		}
	}
	return nil
}

// Parse accepts the canonical form (a "segments" list) as well as the legacy
// form emitted by older extraction scripts, a mapping of segment id to
// {path, count, pattern}. JSON input works for both since yaml.v3 reads it.
// Legacy mapping order is preserved.
func Parse(data []byte) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ErrEmpty
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrMalformed)
	}

	m := &Manifest{}
	if hasKey(root, "segments") {
		if err := root.Decode(m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		m.Version = "legacy"
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, val := root.Content[i], root.Content[i+1]
			if val.Kind != yaml.MappingNode {
				continue
			}
			var s Segment
			if err := val.Decode(&s); err != nil {
				return nil, fmt.Errorf("%w: segment %q: %v", ErrMalformed, key.Value, err)
			}
			s.ID = key.Value
			m.Segments = append(m.Segments, s)
		}
	}

	for i := range m.Segments {
		if m.Segments[i].Pattern == "" {
			m.Segments[i].Pattern = DefaultPattern
		}
		if m.Segments[i].Path == "" {
			m.Segments[i].Path = m.Segments[i].ID
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Read loads a manifest from a YAML or JSON file.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Write stores a manifest in canonical YAML form.
func Write(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func hasKey(mapping *yaml.Node, key string) bool {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return true
		}
	}
	return false
}
