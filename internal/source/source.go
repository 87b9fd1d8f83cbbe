package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/webp"
)

// ErrNotFound is returned when the asset does not exist at the location.
// Fetchers wrap it so callers can tell a missing file from a transient failure.
var ErrNotFound = errors.New("source: asset not found")

// Fetcher retrieves and decodes one frame image.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (image.Image, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, location string) (image.Image, error)

func (f FetcherFunc) Fetch(ctx context.Context, location string) (image.Image, error) {
	return f(ctx, location)
}

func decode(r io.Reader, location string) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", location, err)
	}
	return img, nil
}
