package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/image/draw"

	"github.com/ivlev/framescroll/internal/cache"
	"github.com/ivlev/framescroll/internal/config"
	"github.com/ivlev/framescroll/internal/engine"
	"github.com/ivlev/framescroll/internal/system"
	"github.com/ivlev/framescroll/internal/video"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code.
func run() int {
	configPtr := flag.String("config", "", "YAML конфиг (по умолчанию встроенные значения)")
	manifestPtr := flag.String("manifest", "", "Путь к манифесту кадров")
	rootPtr := flag.String("root", "", "Каталог или базовый URL с кадрами")
	tierPtr := flag.String("tier", "", "Качество: auto, 4k, hd, sd")
	scriptPtr := flag.String("script", "text:4,seek:0", "Сценарий: advance, retreat, seek:N, text:N, wait:500ms")
	outPtr := flag.String("out", "", "Каталог для PNG кадров (если пусто, output/frames_<время>)")
	videoPtr := flag.String("video", "", "Собрать mp4 из кадров (путь к видео)")
	streamPtr := flag.Bool("stream", false, "Передавать кадры в ffmpeg напрямую, без PNG на диске (нужен -video)")
	widthPtr := flag.Int("width", 0, "Ширина (0 - из конфига)")
	heightPtr := flag.Int("height", 0, "Высота (0 - из конфига)")
	fpsPtr := flag.Int("fps", 30, "FPS")
	workersPtr := flag.Int("workers", runtime.NumCPU(), "Потоки записи PNG")
	tailPtr := flag.Duration("tail", time.Second, "Запись после последней команды")
	timeoutPtr := flag.Duration("timeout", 15*time.Second, "Таймаут HTTP запроса кадра")
	qualityPtr := flag.Int("quality", 0, "Качество видео (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с)")
	statsPtr := flag.Bool("stats", false, "Отчёт о производительности в benchmark.log")
	debugPtr := flag.Bool("debug", false, "Подробный лог")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		return fail(slog.Default(), "config", err)
	}
	logger := system.NewLogger(os.Stderr, cfg.LogLevel, *debugPtr)
	slog.SetDefault(logger)

	// Увеличиваем лимит открытых файлов для воркеров загрузки
	system.InitResourceLimits(logger, 4096)

	if *manifestPtr != "" {
		cfg.Assets.Manifest = *manifestPtr
	}
	if *rootPtr != "" {
		cfg.Assets.Root = *rootPtr
	}
	if *tierPtr != "" {
		cfg.Assets.Tier = *tierPtr
	}
	if *widthPtr > 0 {
		cfg.Viewport.Width = *widthPtr
	}
	if *heightPtr > 0 {
		cfg.Viewport.Height = *heightPtr
	}
	if err := cfg.Validate(); err != nil {
		return fail(logger, "config", err)
	}
	if *streamPtr && *videoPtr == "" {
		return fail(logger, "flags", errors.New("-stream needs -video"))
	}

	script, err := engine.ParseScript(*scriptPtr)
	if err != nil {
		return fail(logger, "script", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m, err := engine.OpenManifest(cfg.Assets, logger)
	if err != nil {
		return fail(logger, "manifest", err)
	}
	tier, err := engine.ResolveTier(cfg.Assets.Tier, cfg.Viewport.Width, 1)
	if err != nil {
		return fail(logger, "tier", err)
	}

	opts, err := engine.OptionsFromConfig(cfg, logger)
	if err != nil {
		return fail(logger, "config", err)
	}
	// Экспорт идёт в симулированном времени, качество важнее скорости
	opts.Clock = system.NewManualClock(time.Now())
	opts.Scaler = draw.CatmullRom

	player, err := engine.New(m, tier, cfg.Assets.Root, engine.NewFetcher(cfg.Assets.Root, *timeoutPtr), opts)
	if err != nil {
		return fail(logger, "player", err)
	}
	defer player.Close()

	fmt.Println("--- [PROJECT: FRAME SCROLL EXPORT] ---")
	fmt.Printf("[*] Источник: %s | Сегментов: %d | Кадров: %d\n", cfg.Assets.Root, len(m.Segments), m.TotalFrames())
	fmt.Printf("[*] Разрешение: %dx%d @ %d FPS | Качество: %s\n", cfg.Viewport.Width, cfg.Viewport.Height, *fpsPtr, tier.Label())
	fmt.Println("-----------------------------")

	startTime := time.Now()
	player.OnProgress(func(pr engine.Progress) {
		fmt.Printf("\r[>] %3d%% %s", pr.Percent, pr.Message)
	})
	loadErr := player.Load(ctx)
	fmt.Println()
	if errors.Is(loadErr, cache.ErrAllSegmentsFailed) || (loadErr != nil && !errors.Is(loadErr, cache.ErrUnderloaded)) {
		return fail(logger, "load", loadErr)
	}
	loadTime := time.Since(startTime)

	vopts := video.Options{FPS: *fpsPtr, Quality: *qualityPtr}
	if *videoPtr != "" {
		vopts.Encoder = video.BestH264Encoder(ctx)
		if vopts.Encoder != "libx264" {
			fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", vopts.Encoder)
		}
	}
	ve := &video.FFmpegEncoder{Logger: logger}

	var sink engine.FrameSink
	var pngs *engine.PNGSink
	if *streamPtr {
		stream, err := ve.OpenStream(ctx, cfg.Viewport.Width, cfg.Viewport.Height, *videoPtr, vopts)
		if err != nil {
			return fail(logger, "ffmpeg", err)
		}
		sink = stream
	} else {
		outDir := *outPtr
		if outDir == "" {
			outDir = filepath.Join("output", "frames_"+time.Now().Format("2006-01-02_15-04-05"))
		}
		pngs, err = engine.NewPNGSink(outDir, *workersPtr, logger)
		if err != nil {
			return fail(logger, "output", err)
		}
		sink = pngs
	}

	exportStart := time.Now()
	report, err := engine.Export(ctx, player, sink, engine.ExportOptions{
		FPS:    *fpsPtr,
		Script: script,
		Tail:   *tailPtr,
	})
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fail(logger, "export", err)
	}
	exportTime := time.Since(exportStart)

	var encodeTime time.Duration
	if pngs != nil {
		fmt.Printf("[+] Кадры: %s\n", filepath.Dir(pngs.Pattern()))
		if *videoPtr != "" {
			fmt.Println("[*] Сборка видео...")
			encodeStart := time.Now()
			if err := ve.EncodeSequence(ctx, pngs.Pattern(), *videoPtr, vopts); err != nil {
				return fail(logger, "ffmpeg", err)
			}
			encodeTime = time.Since(encodeStart)
		}
	}
	if *videoPtr != "" {
		fmt.Printf("[+++] Успех! Результат: %s\n", *videoPtr)
	}

	totalTime := time.Since(startTime)
	fmt.Printf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Frames: %d (%.2fs simulated)\n"+
			"Total Time: %.2fs\n"+
			"Loading: %.2fs\n"+
			"Export: %.2fs\n"+
			"Encoding: %.2fs\n"+
			"Fetches: %d | Missing: %d\n"+
			"Effective FPS: %.2f\n"+
			"----------------------------\n",
		report.Frames, report.Simulated.Seconds(), totalTime.Seconds(), loadTime.Seconds(),
		exportTime.Seconds(), encodeTime.Seconds(), report.Fetches, report.Missing, report.FPS,
	)

	if *statsPtr {
		logEntry := fmt.Sprintf("[%s] Root: %s | Tier: %s | Frames: %d | Total: %.2fs | Load: %.2fs | Export: %.2fs | FPS: %.2f\n",
			time.Now().Format("2006-01-02 15:04:05"),
			cfg.Assets.Root,
			tier,
			report.Frames,
			totalTime.Seconds(),
			loadTime.Seconds(),
			exportTime.Seconds(),
			report.FPS,
		)
		f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			f.WriteString(logEntry)
			f.Close()
		} else {
			logger.Warn("could not write benchmark.log", "error", err)
		}
	}
	return 0
}

func fail(logger *slog.Logger, stage string, err error) int {
	logger.Error("[-] "+stage+" failed", "error", err)
	return 1
}
