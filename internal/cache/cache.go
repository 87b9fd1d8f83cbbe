// Package cache keeps decoded frames in memory under an entry budget.
//
// Lookups (Get) never fetch. Fetching is explicit through Ensure or the
// Preload* family; concurrent requests for the same asset share one fetch.
// Entries are evicted oldest-inserted first, except the entry most recently
// handed out by Get, which is assumed to be on its way to the canvas.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ivlev/framescroll/internal/assets"
	"github.com/ivlev/framescroll/internal/source"
)

// Resolver is the part of assets.Resolver the cache needs.
type Resolver interface {
	Resolve(idx assets.FrameIndex) (assets.Asset, error)
	Layout() *assets.Layout
}

// ProgressFunc observes every successful insertion.
type ProgressFunc func(resident, total int)

type Options struct {
	MaxEntries int
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
	OnProgress ProgressFunc
}

func DefaultOptions() Options {
	return Options{
		MaxEntries: 120,
		Workers:    6,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

type entry struct {
	key string
	idx assets.FrameIndex
	img image.Image
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Resident int
	InFlight int
	Missing  int
	Total    int
	Fetches  int64
}

type Cache struct {
	resolver Resolver
	fetcher  source.Fetcher
	opts     Options
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest insertion
	missing    map[string]error
	inflight   map[string]struct{} // ключи полётов singleflight
	borrowed   string
	generation uint64
	closed     bool

	notifyMu sync.Mutex
	progress ProgressFunc

	group   singleflight.Group
	fetches atomic.Int64
}

func New(resolver Resolver, fetcher source.Fetcher, opts Options) *Cache {
	if opts.MaxEntries < 1 {
		opts.MaxEntries = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		resolver: resolver,
		fetcher:  fetcher,
		opts:     opts,
		log:      logger.With("component", "cache"),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		missing:  make(map[string]error),
		inflight: make(map[string]struct{}),
		progress: opts.OnProgress,
	}
}

// SetProgressFunc replaces the insertion observer.
func (c *Cache) SetProgressFunc(fn ProgressFunc) {
	c.notifyMu.Lock()
	c.progress = fn
	c.notifyMu.Unlock()
}

func (c *Cache) Layout() *assets.Layout { return c.resolver.Layout() }

// Get returns the resident image for idx without triggering a fetch.
func (c *Cache) Get(idx assets.FrameIndex) (image.Image, bool) {
	asset, err := c.resolver.Resolve(idx)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[asset.URL]
	if !ok {
		return nil, false
	}
	c.borrowed = asset.URL
	return el.Value.(*entry).img, true
}

// Has reports residency without marking the entry as borrowed.
func (c *Cache) Has(idx assets.FrameIndex) bool {
	asset, err := c.resolver.Resolve(idx)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[asset.URL]
	return ok
}

// Ensure returns the frame, fetching it if necessary. Concurrent calls for the
// same asset wait on the same fetch. A frame that failed every retry yields a
// *LoadError (errors.Is ErrFrameMissing) without another fetch until Clear.
// ctx only bounds this caller's wait; the shared fetch keeps running for the
// others and is cancelled by Close.
func (c *Cache) Ensure(ctx context.Context, idx assets.FrameIndex) (image.Image, error) {
	asset, err := c.resolver.Resolve(idx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if el, ok := c.entries[asset.URL]; ok {
		img := el.Value.(*entry).img
		c.mu.Unlock()
		return img, nil
	}
	if lerr, ok := c.missing[asset.URL]; ok {
		c.mu.Unlock()
		return nil, lerr
	}
	gen := c.generation
	c.mu.Unlock()

	// a flight started before Clear must not be joined after it
	flight := fmt.Sprintf("%d|%s", gen, asset.URL)
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		return c.load(idx, asset.URL, flight, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) load(idx assets.FrameIndex, key, flight string, gen uint64) (image.Image, error) {
	c.mu.Lock()
	// an earlier flight may have settled between the caller's check and now
	if el, ok := c.entries[key]; ok {
		img := el.Value.(*entry).img
		c.mu.Unlock()
		return img, nil
	}
	if lerr, ok := c.missing[key]; ok {
		c.mu.Unlock()
		return nil, lerr
	}
	c.inflight[flight] = struct{}{}
	c.mu.Unlock()

	img, attempts, err := c.fetchWithRetry(key)

	c.mu.Lock()
	delete(c.inflight, flight)
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if gen != c.generation {
		// cleared while in flight: hand the result to the waiters, keep nothing
		c.mu.Unlock()
		if err != nil {
			return nil, &LoadError{Index: idx, Path: key, Attempts: attempts, Err: err}
		}
		return img, nil
	}
	if err != nil {
		lerr := &LoadError{Index: idx, Path: key, Attempts: attempts, Err: err}
		c.missing[key] = lerr
		c.mu.Unlock()
		c.log.Warn("frame marked missing", "segment", idx.Segment, "frame", idx.Frame, "attempts", attempts, "error", err)
		return nil, lerr
	}

	el := c.order.PushBack(&entry{key: key, idx: idx, img: img})
	c.entries[key] = el
	c.evictLocked(c.opts.MaxEntries)
	resident := c.order.Len()
	c.mu.Unlock()

	c.notify(resident)
	return img, nil
}

func (c *Cache) fetchWithRetry(key string) (image.Image, int, error) {
	var err error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying frame", "path", key, "attempt", attempt+1, "error", err)
			timer := time.NewTimer(c.opts.RetryDelay)
			select {
			case <-timer.C:
			case <-c.ctx.Done():
				timer.Stop()
				return nil, attempt, c.ctx.Err()
			}
		}

		c.fetches.Add(1)
		var img image.Image
		img, err = c.fetcher.Fetch(c.ctx, key)
		if err == nil {
			return img, attempt + 1, nil
		}
		if c.ctx.Err() != nil || errors.Is(err, source.ErrNotFound) {
			return nil, attempt + 1, err
		}
	}
	return nil, c.opts.MaxRetries + 1, err
}

func (c *Cache) notify(resident int) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.progress != nil {
		c.progress(resident, c.resolver.Layout().Total())
	}
}

// EvictToBudget drops the oldest insertions until at most maxEntries remain
// and returns how many were removed.
func (c *Cache) EvictToBudget(maxEntries int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(maxEntries)
}

func (c *Cache) evictLocked(maxEntries int) int {
	evicted := 0
	for c.order.Len() > maxEntries {
		el := c.order.Front()
		for el != nil && el.Value.(*entry).key == c.borrowed {
			el = el.Next()
		}
		if el == nil {
			break
		}
		delete(c.entries, el.Value.(*entry).key)
		c.order.Remove(el)
		evicted++
	}
	return evicted
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Resident: c.order.Len(),
		InFlight: len(c.inflight),
		Missing:  len(c.missing),
		Total:    c.resolver.Layout().Total(),
		Fetches:  c.fetches.Load(),
	}
}

// Clear drops every resident entry and forgets missing frames. Fetches still
// in flight complete for the waiters that joined them before Clear but are not
// inserted; a later Ensure starts a fresh fetch.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.missing = make(map[string]error)
	c.borrowed = ""
	c.generation++
}

// Close cancels outstanding fetches and releases all entries. The cache
// rejects further Ensure calls with ErrClosed.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.missing = make(map[string]error)
	c.borrowed = ""
	c.mu.Unlock()

	c.cancel()
}
