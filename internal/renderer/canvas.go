package renderer

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/ivlev/framescroll/internal/system"
)

// CoverFit places an imgW×imgH image over a viewW×viewH viewport so that it
// covers the viewport completely, keeping the aspect ratio and centering the
// overflow. The returned rectangle may extend beyond the viewport.
func CoverFit(imgW, imgH, viewW, viewH int) image.Rectangle {
	if imgW <= 0 || imgH <= 0 || viewW <= 0 || viewH <= 0 {
		return image.Rectangle{}
	}

	scale := math.Max(float64(viewW)/float64(imgW), float64(viewH)/float64(imgH))
	w := int(math.Round(float64(imgW) * scale))
	h := int(math.Round(float64(imgH) * scale))
	x := (viewW - w) / 2
	y := (viewH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// Canvas is the render surface: an RGBA buffer sized to the viewport.
// Resizing swaps the buffer and never touches cached frames.
type Canvas struct {
	pool   *system.ImagePool
	img    *image.RGBA
	bg     *image.Uniform
	scaler draw.Scaler
}

func NewCanvas(width, height int, bg color.Color, pool *system.ImagePool) *Canvas {
	if pool == nil {
		pool = system.NewImagePool()
	}
	c := &Canvas{
		pool:   pool,
		bg:     image.NewUniform(bg),
		scaler: draw.ApproxBiLinear,
	}
	c.Resize(width, height)
	return c
}

// SetScaler switches the interpolation. The exporter uses draw.CatmullRom.
func (c *Canvas) SetScaler(s draw.Scaler) { c.scaler = s }

// Resize reallocates the buffer when the size changed and reports whether it did.
func (c *Canvas) Resize(width, height int) bool {
	width, height = max(width, 1), max(height, 1)
	rect := image.Rect(0, 0, width, height)
	if c.img != nil && c.img.Rect == rect {
		return false
	}

	c.pool.Put(c.img)
	c.img = c.pool.Get(rect)
	draw.Draw(c.img, rect, c.bg, image.Point{}, draw.Src)
	return true
}

func (c *Canvas) Size() (int, int) {
	return c.img.Rect.Dx(), c.img.Rect.Dy()
}

// Paint clears to the background and draws src with cover-fit placement.
// A nil src leaves only the background.
func (c *Canvas) Paint(src image.Image) {
	bounds := c.img.Bounds()
	draw.Draw(c.img, bounds, c.bg, image.Point{}, draw.Src)
	if src == nil {
		return
	}

	sb := src.Bounds()
	dst := CoverFit(sb.Dx(), sb.Dy(), bounds.Dx(), bounds.Dy())
	c.scaler.Scale(c.img, dst, src, sb, draw.Over, nil)
}

// Image returns the current buffer. It is only valid until the next Resize.
func (c *Canvas) Image() *image.RGBA { return c.img }

// Release returns the buffer to the pool.
func (c *Canvas) Release() {
	c.pool.Put(c.img)
	c.img = nil
}

// ParseColor accepts #rgb and #rrggbb.
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("renderer: bad color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("renderer: bad color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
