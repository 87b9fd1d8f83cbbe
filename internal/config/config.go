package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Assets   AssetsConfig   `yaml:"assets"`
	Cache    CacheConfig    `yaml:"cache"`
	Timing   TimingConfig   `yaml:"timing"`
	Viewport ViewportConfig `yaml:"viewport"`
	Input    InputConfig    `yaml:"input"`
	LogLevel string         `yaml:"log_level"`
}

type AssetsConfig struct {
	Manifest string   `yaml:"manifest"` // путь к manifest.yaml / frame-manifest.json
	Root     string   `yaml:"root"`     // каталог или базовый URL (http/https)
	Tier     string   `yaml:"tier"`     // auto, 4k, hd, sd
	Segments []string `yaml:"segments"` // для сканирования каталога без манифеста
}

type CacheConfig struct {
	MaxEntries     int           `yaml:"max_entries"`
	Workers        int           `yaml:"workers"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	PreloadAhead   int           `yaml:"preload_ahead"`
	PreloadBehind  int           `yaml:"preload_behind"`
	PreloadInitial int           `yaml:"preload_initial"`
}

type TimingConfig struct {
	Animation    time.Duration `yaml:"animation"`
	AdvanceDelay time.Duration `yaml:"advance_delay"`
	Dwell        time.Duration `yaml:"dwell"`
	SeekPause    time.Duration `yaml:"seek_pause"`
	Easing       string        `yaml:"easing"` // linear, ease-in-out
}

type ViewportConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Background string `yaml:"background"`
}

type InputConfig struct {
	WheelThreshold float64       `yaml:"wheel_threshold"`
	WheelDebounce  time.Duration `yaml:"wheel_debounce"`
	SwipeDistance  float64       `yaml:"swipe_distance"`
	SwipeVelocity  float64       `yaml:"swipe_velocity"` // px/ms
}

// Default returns the configuration the player ships with.
func Default() *Config {
	return &Config{
		Assets: AssetsConfig{
			Root: "public/frames",
			Tier: "auto",
		},
		Cache: CacheConfig{
			MaxEntries:     120,
			Workers:        6,
			MaxRetries:     3,
			RetryDelay:     500 * time.Millisecond,
			PreloadAhead:   24,
			PreloadBehind:  12,
			PreloadInitial: 48,
		},
		Timing: TimingConfig{
			Animation:    2 * time.Second,
			AdvanceDelay: 100 * time.Millisecond,
			Dwell:        300 * time.Millisecond,
			SeekPause:    300 * time.Millisecond,
			Easing:       "linear",
		},
		Viewport: ViewportConfig{
			Width:      1280,
			Height:     720,
			Background: "#050508",
		},
		Input: InputConfig{
			WheelThreshold: 50,
			WheelDebounce:  100 * time.Millisecond,
			SwipeDistance:  50,
			SwipeVelocity:  0.3,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Cache.MaxEntries < 1:
		return fmt.Errorf("%w: cache.max_entries must be >= 1, got %d", ErrInvalid, c.Cache.MaxEntries)
	case c.Cache.Workers < 1:
		return fmt.Errorf("%w: cache.workers must be >= 1, got %d", ErrInvalid, c.Cache.Workers)
	case c.Cache.MaxRetries < 0:
		return fmt.Errorf("%w: cache.max_retries must be >= 0", ErrInvalid)
	case c.Timing.Animation <= 0:
		return fmt.Errorf("%w: timing.animation must be positive", ErrInvalid)
	case c.Viewport.Width <= 0 || c.Viewport.Height <= 0:
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalid, c.Viewport.Width, c.Viewport.Height)
	}

	switch c.Timing.Easing {
	case "", "linear", "ease-in-out":
	default:
		return fmt.Errorf("%w: unknown easing %q", ErrInvalid, c.Timing.Easing)
	}

	switch c.Assets.Tier {
	case "", "auto", "4k", "hd", "sd":
	default:
		return fmt.Errorf("%w: unknown tier %q", ErrInvalid, c.Assets.Tier)
	}
	return nil
}
