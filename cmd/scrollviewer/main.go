package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/ivlev/framescroll/internal/cache"
	"github.com/ivlev/framescroll/internal/config"
	"github.com/ivlev/framescroll/internal/engine"
	"github.com/ivlev/framescroll/internal/input"
	"github.com/ivlev/framescroll/internal/manifest"
	"github.com/ivlev/framescroll/internal/system"
)

// ebiten reports wheel notches, the coordinator expects pixel deltas
const wheelPixelsPerNotch = 100

var keyMap = map[ebiten.Key]input.Key{
	ebiten.KeyArrowDown: input.KeyArrowDown,
	ebiten.KeyArrowUp:   input.KeyArrowUp,
	ebiten.KeySpace:     input.KeySpace,
	ebiten.KeyPageDown:  input.KeyPageDown,
	ebiten.KeyPageUp:    input.KeyPageUp,
	ebiten.KeyHome:      input.KeyHome,
	ebiten.KeyEnd:       input.KeyEnd,
}

type Game struct {
	player  *engine.Player
	watcher *manifest.Watcher
	log     *slog.Logger
	debug   bool

	ready atomic.Bool

	pending *manifest.Manifest // ждёт окончания перехода
	frame   *ebiten.Image
	width   int
	height  int

	touchIDs []ebiten.TouchID
}

func (g *Game) Update() error {
	if ebiten.IsWindowBeingClosed() {
		return ebiten.Termination
	}
	if !g.ready.Load() {
		return nil
	}

	g.pollManifest()

	now := time.Now()
	in := g.player.Input()

	if _, dy := ebiten.Wheel(); dy != 0 {
		// ebiten: положительное значение при прокрутке вверх
		in.Wheel(-dy*wheelPixelsPerNotch, now)
	}

	for k, key := range keyMap {
		if inpututil.IsKeyJustPressed(k) {
			in.Key(key)
		}
	}

	g.touchIDs = inpututil.AppendJustPressedTouchIDs(g.touchIDs[:0])
	for _, id := range g.touchIDs {
		_, y := ebiten.TouchPosition(id)
		in.TouchStart(float64(y), now)
	}
	g.touchIDs = inpututil.AppendJustReleasedTouchIDs(g.touchIDs[:0])
	for _, id := range g.touchIDs {
		_, y := inpututil.TouchPositionInPreviousTick(id)
		in.TouchEnd(float64(y), now)
	}

	g.player.Update()
	return nil
}

func (g *Game) pollManifest() {
	if g.watcher != nil {
		select {
		case m, ok := <-g.watcher.Updates:
			if ok {
				g.pending = m
			}
		case err, ok := <-g.watcher.Errors:
			if ok {
				g.log.Warn("manifest reload skipped", "error", err)
			}
		default:
		}
	}

	if g.pending == nil {
		return
	}
	err := g.player.Reload(g.pending)
	if errors.Is(err, engine.ErrBusy) {
		return
	}
	if err != nil {
		g.log.Warn("manifest rejected", "error", err)
	}
	g.pending = nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	if !g.ready.Load() {
		pr := g.player.Progress()
		msg := fmt.Sprintf("%s %d%%", pr.Message, pr.Percent)
		if notice := pr.Notice(); notice != "" {
			msg = notice
		}
		ebitenutil.DebugPrintAt(screen, msg, 16, 16)
		return
	}

	if g.frame == nil || g.frame.Bounds().Dx() != g.width || g.frame.Bounds().Dy() != g.height {
		if g.frame != nil {
			g.frame.Deallocate()
		}
		g.frame = ebiten.NewImage(g.width, g.height)
	}
	g.frame.WritePixels(g.player.Render().Pix)
	screen.DrawImage(g.frame, nil)

	snap := g.player.Snapshot()
	ebitenutil.DebugPrintAt(screen, snap.Label, 16, g.height-32)
	// часть сегментов не догрузилась, проигрывание идёт с подменой кадров
	if notice := g.player.Progress().Notice(); notice != "" {
		ebitenutil.DebugPrintAt(screen, notice, 16, g.height-48)
	}
	if g.debug {
		stats := g.player.Cache().Stats()
		ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%s\nresident %d/%d inflight %d missing %d fetches %d | %.0f fps",
			snap, stats.Resident, stats.Total, stats.InFlight, stats.Missing, stats.Fetches, ebiten.ActualFPS()), 16, 16)
	}
}

// Layout follows the window size; the canvas is resized in place without
// touching cached frames.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != g.width || outsideHeight != g.height {
		g.width, g.height = outsideWidth, outsideHeight
		g.player.Resize(outsideWidth, outsideHeight)
	}
	return outsideWidth, outsideHeight
}

func main() {
	os.Exit(run())
}

// run returns the process exit code.
func run() int {
	configPtr := flag.String("config", "", "YAML конфиг")
	manifestPtr := flag.String("manifest", "", "Путь к манифесту кадров")
	rootPtr := flag.String("root", "", "Каталог или базовый URL с кадрами")
	tierPtr := flag.String("tier", "", "Качество: auto, 4k, hd, sd")
	watchPtr := flag.Bool("watch", true, "Перезагружать манифест при изменении")
	timeoutPtr := flag.Duration("timeout", 15*time.Second, "Таймаут HTTP запроса кадра")
	debugPtr := flag.Bool("debug", false, "Отладочный оверлей и подробный лог")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		return fail(slog.Default(), "config", err)
	}
	logger := system.NewLogger(os.Stderr, cfg.LogLevel, *debugPtr)
	slog.SetDefault(logger)
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
	if err := cfg.Validate(); err != nil {
		return fail(logger, "config", err)
	}

	m, err := engine.OpenManifest(cfg.Assets, logger)
	if err != nil {
		return fail(logger, "manifest", err)
	}

	monitor := ebiten.Monitor()
	screenW, _ := monitor.Size()
	tier, err := engine.ResolveTier(cfg.Assets.Tier, screenW, monitor.DeviceScaleFactor())
	if err != nil {
		return fail(logger, "tier", err)
	}

	opts, err := engine.OptionsFromConfig(cfg, logger)
	if err != nil {
		return fail(logger, "config", err)
	}
	player, err := engine.New(m, tier, cfg.Assets.Root, engine.NewFetcher(cfg.Assets.Root, *timeoutPtr), opts)
	if err != nil {
		return fail(logger, "player", err)
	}
	defer player.Close()

	game := &Game{player: player, log: logger, debug: *debugPtr}

	if *watchPtr && cfg.Assets.Manifest != "" {
		if _, err := os.Stat(cfg.Assets.Manifest); err == nil {
			w, err := manifest.NewWatcher(cfg.Assets.Manifest)
			if err != nil {
				logger.Warn("manifest watch disabled", "error", err)
			} else {
				game.watcher = w
				defer w.Close()
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := player.Load(ctx)
		if errors.Is(err, cache.ErrAllSegmentsFailed) || (err != nil && !errors.Is(err, cache.ErrUnderloaded)) {
			// ошибка уже в Progress, экран загрузки покажет её
			return
		}
		game.ready.Store(true)
	}()

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(cfg.Viewport.Width, cfg.Viewport.Height)
	ebiten.SetWindowTitle(fmt.Sprintf("framescroll - %s", tier.Label()))
	ebiten.SetWindowClosingHandled(true)

	if err := ebiten.RunGame(game); err != nil && !errors.Is(err, ebiten.Termination) {
		return fail(logger, "window", err)
	}
	return 0
}

func fail(logger *slog.Logger, stage string, err error) int {
	logger.Error("[-] "+stage+" failed", "error", err)
	return 1
}
