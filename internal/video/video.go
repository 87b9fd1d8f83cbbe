// Package video encodes exported frame sequences with ffmpeg.
package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

type Options struct {
	FPS     int
	Encoder string // h264_videotoolbox, h264_nvenc, libx264
	Quality int    // 0 - по умолчанию для энкодера
}

var (
	bestOnce    sync.Once
	bestEncoder string
)

// BestH264Encoder probes ffmpeg once and picks a hardware encoder when one is
// available, falling back to libx264.
func BestH264Encoder(ctx context.Context) string {
	bestOnce.Do(func() {
		bestEncoder = "libx264"
		out, err := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
		if err != nil {
			return
		}
		// Приоритеты: VideoToolbox (macOS), затем NVENC
		for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
			if strings.Contains(string(out), name) {
				bestEncoder = name
				return
			}
		}
	})
	return bestEncoder
}

// DefaultQuality returns a sensible quality value for the encoder.
func DefaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75 // битрейт = Q*100 кбит/с
	case "h264_nvenc":
		return 28 // эквивалент CRF
	default:
		return 23 // стандартный CRF для x264
	}
}

func qualityArgs(encoder string, quality int) []string {
	if quality <= 0 {
		quality = DefaultQuality(encoder)
	}
	switch encoder {
	case "h264_videotoolbox":
		// VideoToolbox часто не поддерживает -q:v, используем битрейт
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default:
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

func normalize(opts Options) Options {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Encoder == "" {
		opts.Encoder = "libx264"
	}
	return opts
}

// FFmpegEncoder drives the ffmpeg binary found in PATH.
type FFmpegEncoder struct {
	Logger *slog.Logger
}

func (e *FFmpegEncoder) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// SequenceArgs builds the ffmpeg arguments that turn a numbered image
// sequence (printf pattern, e.g. frames/frame-%05d.png) into a video.
func SequenceArgs(pattern, out string, opts Options) []string {
	opts = normalize(opts)
	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", opts.FPS),
		"-i", pattern,
		"-r", fmt.Sprintf("%d", opts.FPS),
		"-pix_fmt", "yuv420p",
		"-c:v", opts.Encoder,
	}
	args = append(args, qualityArgs(opts.Encoder, opts.Quality)...)
	return append(args, out)
}

// EncodeSequence encodes an image sequence written by the exporter.
func (e *FFmpegEncoder) EncodeSequence(ctx context.Context, pattern, out string, opts Options) error {
	args := SequenceArgs(pattern, out, opts)
	e.logger().Debug("ffmpeg", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg sequence error: %w, output: %s", err, string(output))
	}
	return nil
}

// StreamArgs builds the arguments for raw RGBA frames piped through stdin.
func StreamArgs(width, height int, out string, opts Options) []string {
	opts = normalize(opts)
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", fmt.Sprintf("%d", opts.FPS),
		"-i", "-",
		"-pix_fmt", "yuv420p",
		"-c:v", opts.Encoder,
	}
	args = append(args, qualityArgs(opts.Encoder, opts.Quality)...)
	return append(args, out)
}

// Stream feeds frames to a running ffmpeg process without touching the disk.
type Stream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    bytes.Buffer
	width  int
	height int
	frames int
}

// OpenStream starts ffmpeg reading width×height RGBA frames from stdin.
func (e *FFmpegEncoder) OpenStream(ctx context.Context, width, height int, out string, opts Options) (*Stream, error) {
	s := &Stream{width: width, height: height}
	s.cmd = exec.CommandContext(ctx, "ffmpeg", StreamArgs(width, height, out, opts)...)
	s.cmd.Stdout = &s.out
	s.cmd.Stderr = &s.out

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	s.stdin = stdin

	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}
	e.logger().Debug("ffmpeg stream started", "size", fmt.Sprintf("%dx%d", width, height), "out", out)
	return s, nil
}

// WriteFrame writes one frame. Frames must arrive in order; n is only checked.
func (s *Stream) WriteFrame(n int, img *image.RGBA) error {
	if n != s.frames {
		return fmt.Errorf("video: frame %d out of order, expected %d", n, s.frames)
	}
	if img.Rect.Dx() != s.width || img.Rect.Dy() != s.height {
		return fmt.Errorf("video: frame %d is %dx%d, stream is %dx%d", n, img.Rect.Dx(), img.Rect.Dy(), s.width, s.height)
	}
	if err := writeRawRGBA(s.stdin, img); err != nil {
		return fmt.Errorf("write raw error: %w", err)
	}
	s.frames++
	return nil
}

// Close flushes stdin and waits for ffmpeg to finish.
func (s *Stream) Close() error {
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg wait error: %w, output: %s", err, s.out.String())
	}
	return nil
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	// Проверяем, является ли изображение уже RGBA и имеет ли стандартный шаг (stride)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Rect, img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix)
	return err
}
