// Package redditapi fetches community posts through the official API and
// hands off to a fallback fetcher whenever the API cannot serve a request.
package redditapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/logging"
	"github.com/ppiankov/surfwatch/internal/metrics"
	"github.com/ppiankov/surfwatch/internal/ratelimit"
	"github.com/ppiankov/surfwatch/internal/source"
)

const (
	DefaultRequestsPerMinute  = 60
	DefaultMaxCalls           = 10
	DefaultBackgroundMaxCalls = 6

	breakerName = "reddit-api"
)

func logger() *zerolog.Logger { return logging.Component("redditapi") }

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	Communities        []string
	Terms              []string
	RequestsPerMinute  int
	MaxCalls           int
	BackgroundMaxCalls int
	BreakerFailures    uint32
	BreakerTimeout     time.Duration
}

// Engine is the official API fetch path.
type Engine struct {
	cfg      Config
	searcher Searcher
	fallback source.Fetcher
	cache    *cache.Cache
	limiter  *ratelimit.Window
	breaker  *gobreaker.CircuitBreaker[[]source.Post]
}

// New creates an engine. A nil searcher means no credentials: every
// request goes straight to fallback.
func New(cfg Config, searcher Searcher, fallback source.Fetcher, c *cache.Cache) *Engine {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = DefaultMaxCalls
	}
	if cfg.BackgroundMaxCalls <= 0 {
		cfg.BackgroundMaxCalls = DefaultBackgroundMaxCalls
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if c == nil {
		c = cache.New("route", cache.DefaultTTL)
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[[]source.Post](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger().Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Engine{
		cfg:      cfg,
		searcher: searcher,
		fallback: fallback,
		cache:    c,
		limiter:  ratelimit.NewWindow(cfg.RequestsPerMinute, time.Minute),
		breaker:  breaker,
	}
}

// Limiter returns the API admission window.
func (e *Engine) Limiter() *ratelimit.Window {
	return e.limiter
}

// HasCredentials reports whether the official API is configured.
func (e *Engine) HasCredentials() bool {
	return e.searcher != nil
}

// Fetch returns posts for req from the official API, or from the fallback
// when credentials are missing, the limiter rejects, the API reports a
// quota error, the breaker is open, or every call failed. It never fails.
// Background and NoCache requests skip the cache read.
func (e *Engine) Fetch(ctx context.Context, req source.Request) []source.Post {
	req = req.Normalize()
	key := cache.Key{Community: req.Community, Sort: req.Sort, Window: req.Window, Source: cache.SourceAPI, Limit: req.Limit}.String()

	if !req.Background && !req.NoCache {
		if posts, ok := e.cache.Get(key); ok {
			return posts
		}
	}

	if e.searcher == nil {
		return e.delegate(ctx, req, "no_credentials")
	}
	if !e.limiter.Admit() {
		metrics.RateLimitRejections.WithLabelValues("api").Inc()
		return e.delegate(ctx, req, "rate_limited")
	}

	communities := e.cfg.Communities
	if req.Community != "" {
		communities = []string{req.Community}
	}
	maxCalls := e.cfg.MaxCalls
	if req.Background {
		maxCalls = e.cfg.BackgroundMaxCalls
	}
	if len(communities) > maxCalls {
		communities = communities[:maxCalls]
	}

	query := CombinedQuery(e.cfg.Terms)
	opts := SearchOptions{Sort: req.Sort, Window: req.Window, Limit: req.Limit}

	var (
		posts     []source.Post
		succeeded int
	)
	start := time.Now()
	for _, community := range communities {
		res, err := e.breaker.Execute(func() ([]source.Post, error) {
			return e.searcher.Search(ctx, community, query, opts)
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrQuota):
				return e.delegate(ctx, req, "quota")
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return e.delegate(ctx, req, "breaker_open")
			}
			logger().Warn().Err(err).Str("community", community).Msg("api search failed, skipping")
			continue
		}
		succeeded++
		posts = append(posts, res...)
	}
	metrics.RecordFetch(source.TagReddit, time.Since(start))

	if succeeded == 0 {
		return e.delegate(ctx, req, "failed")
	}

	posts = source.Score(posts, source.RedditWeights)
	for i := range posts {
		posts[i].Content = source.Truncate(posts[i].Content)
		posts[i].Source = source.TagReddit
	}
	posts = source.Dedup(posts)
	source.Rank(posts)

	if !req.Background && len(posts) > 0 {
		e.cache.Put(key, posts)
	}
	logger().Info().Int("communities", succeeded).Int("posts", len(posts)).Bool("background", req.Background).Msg("api fetch complete")
	return posts
}

func (e *Engine) delegate(ctx context.Context, req source.Request, reason string) []source.Post {
	metrics.Fallbacks.WithLabelValues(reason).Inc()
	logger().Info().Str("reason", reason).Str("community", req.Community).Msg("falling back to scraper")
	if e.fallback == nil {
		return []source.Post{}
	}
	return e.fallback.Fetch(ctx, req)
}

// CombinedQuery joins terms into one OR query with each term quoted.
func CombinedQuery(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
