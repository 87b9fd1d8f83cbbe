package engine

import (
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/ivlev/framescroll/internal/assets"
	"github.com/ivlev/framescroll/internal/cache"
	"github.com/ivlev/framescroll/internal/config"
	"github.com/ivlev/framescroll/internal/input"
	"github.com/ivlev/framescroll/internal/manifest"
	"github.com/ivlev/framescroll/internal/playback"
	"github.com/ivlev/framescroll/internal/renderer"
	"github.com/ivlev/framescroll/internal/source"
	"github.com/ivlev/framescroll/internal/steps"
	"github.com/ivlev/framescroll/internal/system"
)

// Options wires every component of the player.
type Options struct {
	Cache          cache.Options
	Steps          steps.Options
	Input          input.Options
	PreloadAhead   int
	PreloadBehind  int
	PreloadInitial int
	Width          int
	Height         int
	Background     color.Color
	Scaler         draw.Scaler // nil - ApproxBiLinear
	Clock          system.Clock
	Logger         *slog.Logger
}

// OptionsFromConfig maps the config file sections onto component options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) (Options, error) {
	ease, err := playback.ParseEasing(cfg.Timing.Easing)
	if err != nil {
		return Options{}, err
	}
	bg, err := renderer.ParseColor(cfg.Viewport.Background)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Cache: cache.Options{
			MaxEntries: cfg.Cache.MaxEntries,
			Workers:    cfg.Cache.Workers,
			MaxRetries: cfg.Cache.MaxRetries,
			RetryDelay: cfg.Cache.RetryDelay,
			Logger:     logger,
		},
		Steps: steps.Options{
			Animation:    cfg.Timing.Animation,
			AdvanceDelay: cfg.Timing.AdvanceDelay,
			Dwell:        cfg.Timing.Dwell,
			SeekPause:    cfg.Timing.SeekPause,
			Easing:       ease,
			Logger:       logger,
		},
		Input: input.Options{
			WheelThreshold: cfg.Input.WheelThreshold,
			WheelDebounce:  cfg.Input.WheelDebounce,
			SwipeDistance:  cfg.Input.SwipeDistance,
			SwipeVelocity:  cfg.Input.SwipeVelocity,
			Logger:         logger,
		},
		PreloadAhead:   cfg.Cache.PreloadAhead,
		PreloadBehind:  cfg.Cache.PreloadBehind,
		PreloadInitial: cfg.Cache.PreloadInitial,
		Width:          cfg.Viewport.Width,
		Height:         cfg.Viewport.Height,
		Background:     bg,
		Logger:         logger,
	}, nil
}

// OpenManifest reads the manifest file, or scans the asset root for segment
// directories when the file does not exist.
func OpenManifest(cfg config.AssetsConfig, logger *slog.Logger) (*manifest.Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Manifest != "" {
		m, err := manifest.Read(cfg.Manifest)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.Warn("manifest not found, scanning asset root", "manifest", cfg.Manifest, "root", cfg.Root)
	}

	if isURL(cfg.Root) {
		return nil, fmt.Errorf("engine: a manifest is required for remote assets at %s", cfg.Root)
	}
	return manifest.Scan(cfg.Root, cfg.Segments)
}

// ResolveTier turns the configured tier into a concrete one. "auto" detects
// it from the display and the host.
func ResolveTier(name string, screenWidth int, pixelRatio float64) (assets.Tier, error) {
	if name == "" || name == "auto" {
		return assets.DetectTier(assets.SystemCapabilities(screenWidth, pixelRatio)), nil
	}
	return assets.ParseTier(name)
}

// NewFetcher picks the fetcher matching the asset root.
func NewFetcher(root string, timeout time.Duration) source.Fetcher {
	if isURL(root) {
		return source.NewHTTPFetcher(timeout)
	}
	return source.NewFileFetcher()
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
