package manifest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

var tierDirs = []string{"4k", "hd", "sd"}

// Scan builds a manifest by listing <root>/<id>/ for image files. When ids is
// empty every subdirectory of root (except tier directories) becomes a
// segment, in name order. Tier variants found under <root>/<tier>/<id> are
// recorded as well.
func Scan(root string, ids []string) (*Manifest, error) {
	if len(ids) == 0 {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() && !isTierDir(entry.Name()) {
				ids = append(ids, entry.Name())
			}
		}
		sort.Strings(ids)
	}

	m := &Manifest{
		Version:   "scan",
		Generated: time.Now().UTC().Format(time.RFC3339),
	}

	for _, id := range ids {
		files, err := listImages(filepath.Join(root, id))
		if err != nil {
			return nil, fmt.Errorf("scan segment %q: %w", id, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: segment %q has no images", ErrMalformed, id)
		}

		seg := Segment{
			ID:      id,
			Path:    id,
			Count:   len(files),
			Pattern: patternOf(files[0]),
		}
		for _, tier := range tierDirs {
			if fi, err := os.Stat(filepath.Join(root, tier, id)); err == nil && fi.IsDir() {
				if seg.Tiers == nil {
					seg.Tiers = make(map[string]string)
				}
				seg.Tiers[tier] = path.Join(tier, id)
			}
		}
		m.Segments = append(m.Segments, seg)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// patternOf replaces the last run of digits in name with '#'.
// "frame-0001.jpg" -> "frame-####.jpg"
func patternOf(name string) string {
	runes := []rune(name)
	end := -1
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsDigit(runes[i]) {
			end = i
			break
		}
	}
	if end < 0 {
		return DefaultPattern
	}
	start := end
	for start > 0 && unicode.IsDigit(runes[start-1]) {
		start--
	}
	for i := start; i <= end; i++ {
		runes[i] = '#'
	}
	return string(runes)
}

func isTierDir(name string) bool {
	for _, t := range tierDirs {
		if name == t {
			return true
		}
	}
	return false
}
