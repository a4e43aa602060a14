package refresh

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/logging"
	"github.com/ppiankov/surfwatch/internal/metrics"
	"github.com/ppiankov/surfwatch/internal/ratelimit"
	"github.com/ppiankov/surfwatch/internal/source"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultJitterMin = time.Second
	DefaultJitterMax = 3 * time.Second
)

// Config tunes the refresh loop. Zero values select the defaults.
type Config struct {
	Interval  time.Duration
	JitterMin time.Duration
	JitterMax time.Duration
}

// Refresher re-fetches every route cache entry in the background so
// foreground requests keep hitting warm entries.
type Refresher struct {
	cache    *cache.Cache
	fetchers map[string]source.Fetcher
	cfg      Config
	sleep    ratelimit.SleepFunc

	running atomic.Bool
	wg      sync.WaitGroup
}

// New builds a refresher over the route cache. api and scraper serve keys
// tagged cache.SourceAPI and cache.SourceScraper.
func New(c *cache.Cache, api, scraper source.Fetcher, cfg Config) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.JitterMin <= 0 {
		cfg.JitterMin = DefaultJitterMin
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = max(DefaultJitterMax, cfg.JitterMin)
	}
	return &Refresher{
		cache: c,
		fetchers: map[string]source.Fetcher{
			cache.SourceAPI:     api,
			cache.SourceScraper: scraper,
		},
		cfg:   cfg,
		sleep: ratelimit.Sleep,
	}
}

// Running reports whether a cycle is in progress.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

// RunOnce refreshes every decodable key once. It returns false without
// doing anything when another cycle is already running.
func (r *Refresher) RunOnce(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		metrics.RefreshCycles.WithLabelValues("skipped").Inc()
		return false
	}
	defer r.running.Store(false)

	cycle := uuid.NewString()
	log := logger().With().Str("cycle", cycle).Logger()
	keys := r.cache.Keys()
	log.Debug().Int("keys", len(keys)).Msg("refresh cycle started")

	start := time.Now()
	refreshed := 0
	for i, raw := range keys {
		if i > 0 {
			_ = r.sleep(ctx, r.jitter())
		}
		if ctx.Err() != nil {
			metrics.RefreshCycles.WithLabelValues("cancelled").Inc()
			log.Debug().Int("refreshed", refreshed).Msg("refresh cycle cancelled")
			return true
		}
		if r.refreshKey(ctx, log, raw) {
			refreshed++
		}
	}

	metrics.RefreshCycles.WithLabelValues("completed").Inc()
	log.Info().
		Int("keys", len(keys)).
		Int("refreshed", refreshed).
		Dur("elapsed", time.Since(start)).
		Msg("refresh cycle completed")
	return true
}

func (r *Refresher) refreshKey(ctx context.Context, log zerolog.Logger, raw string) bool {
	key, err := cache.ParseKey(raw)
	if err != nil {
		log.Debug().Str("key", raw).Msg("skipping undecodable cache key")
		return false
	}
	fetcher := r.fetchers[key.Source]
	if fetcher == nil {
		log.Debug().Str("key", raw).Str("source", key.Source).Msg("skipping key with unknown source")
		return false
	}

	posts := fetcher.Fetch(ctx, source.Request{
		Community:  key.Community,
		Sort:       key.Sort,
		Window:     key.Window,
		Limit:      key.Limit,
		Background: true,
	})
	if len(posts) == 0 {
		log.Debug().Str("key", raw).Msg("refresh returned nothing, keeping entry")
		return false
	}
	r.cache.Put(raw, posts)
	return true
}

// Trigger starts a cycle in its own goroutine. The cycle outlives the
// caller's request and is bounded by the refresh interval.
func (r *Refresher) Trigger(ctx context.Context) {
	if r.running.Load() {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Interval)
		defer cancel()
		r.RunOnce(bg)
	}()
}

// Wait blocks until triggered cycles finish.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

// Run refreshes on a fixed interval until ctx ends.
func (r *Refresher) Run(ctx context.Context) error {
	logger().Info().Dur("interval", r.cfg.Interval).Msg("background refresher started")
	for {
		r.RunOnce(ctx)
		if err := r.sleep(ctx, r.cfg.Interval); err != nil {
			logger().Info().Msg("background refresher stopped")
			return nil
		}
	}
}

func (r *Refresher) jitter() time.Duration {
	span := r.cfg.JitterMax - r.cfg.JitterMin
	if span <= 0 {
		return r.cfg.JitterMin
	}
	return r.cfg.JitterMin + rand.N(span)
}

func logger() *zerolog.Logger { return logging.Component("refresh") }
