// Package scraper fetches community search result pages from old.reddit
// and normalizes them into posts. It is the fallback behind the official
// API and never needs credentials.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/logging"
	"github.com/ppiankov/surfwatch/internal/metrics"
	"github.com/ppiankov/surfwatch/internal/ratelimit"
	"github.com/ppiankov/surfwatch/internal/source"
	"github.com/ppiankov/surfwatch/internal/useragent"
)

const (
	DefaultBaseURL           = "https://old.reddit.com"
	DefaultRequestsPerMinute = 25
	DefaultMaxAttempts       = 5
	DefaultTimeout           = 10 * time.Second
	DefaultJitterMin         = 200 * time.Millisecond
	DefaultJitterMax         = 500 * time.Millisecond

	maxBodyBytes = 8 << 20
)

// ErrThrottled is returned when every attempt was rejected or throttled.
var ErrThrottled = errors.New("scraper: throttled, attempts exhausted")

// errTooManyRequests marks a 429 that has already been backed off.
var errTooManyRequests = errors.New("scraper: 429 too many requests")

func logger() *zerolog.Logger { return logging.Component("scraper") }

// StatusError is a non-200, non-429 response.
type StatusError struct {
	Community string
	Code      int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("r/%s: status %d", e.Community, e.Code)
}

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	BaseURL           string
	Communities       []string
	Terms             []string
	UserAgents        []string
	RequestsPerMinute int
	MaxAttempts       int
	Timeout           time.Duration
	JitterMin         time.Duration
	JitterMax         time.Duration
	BackoffFloor      time.Duration
	BackoffMax        time.Duration
}

// Query is one (community, term) search.
type Query struct {
	Community string
	Term      string
	Sort      string
	Window    string
	Limit     int
	NoCache   bool // skip the cache read
}

func (q Query) key() string {
	return strings.Join([]string{"scrape", q.Community, q.Term, q.Sort, q.Window, strconv.Itoa(q.Limit)}, ":")
}

func (q Query) url(base string) string {
	v := url.Values{}
	v.Set("q", q.Term)
	v.Set("restrict_sr", "on")
	v.Set("sort", q.Sort)
	v.Set("t", q.Window)
	return fmt.Sprintf("%s/r/%s/search?%s", strings.TrimRight(base, "/"), url.PathEscape(q.Community), v.Encode())
}

// Engine owns the scraper's limiter, backoff, identity pool and cache.
type Engine struct {
	cfg     Config
	baseURL string
	client  *http.Client
	limiter *ratelimit.Window
	backoff *ratelimit.Backoff
	agents  *useragent.Rotator
	cache   *cache.Cache
	sleep   ratelimit.SleepFunc
	now     func() time.Time
}

// New creates an engine that stores results in c.
func New(cfg Config, c *cache.Cache) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.JitterMin <= 0 {
		cfg.JitterMin = DefaultJitterMin
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}
	if c == nil {
		c = cache.New("scraper", cache.DefaultTTL)
	}
	return &Engine{
		cfg:     cfg,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.NewWindow(cfg.RequestsPerMinute, time.Minute),
		backoff: ratelimit.NewBackoff(cfg.BackoffFloor, cfg.BackoffMax),
		agents:  useragent.New(cfg.UserAgents),
		cache:   c,
		sleep:   ratelimit.Sleep,
		now:     time.Now,
	}
}

// Cache returns the engine's result cache.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Limiter returns the engine's admission window.
func (e *Engine) Limiter() *ratelimit.Window {
	return e.limiter
}

// Communities returns the configured target communities.
func (e *Engine) Communities() []string {
	return e.cfg.Communities
}

// Terms returns the configured search terms.
func (e *Engine) Terms() []string {
	return e.cfg.Terms
}

// Scrape returns posts for one (community, term) search, from cache when a
// valid entry exists. Throttling is retried with backoff up to the
// configured number of attempts. Empty pages are not cached.
func (e *Engine) Scrape(ctx context.Context, q Query) ([]source.Post, error) {
	q.Sort = source.ParseSort(q.Sort)
	q.Window = source.ParseWindow(q.Window)
	if q.Limit <= 0 {
		q.Limit = source.DefaultLimit
	}

	key := q.key()
	if !q.NoCache {
		if posts, ok := e.cache.Get(key); ok {
			logger().Debug().Str("key", key).Msg("scrape cache hit")
			return posts, nil
		}
	}

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if !e.limiter.Admit() {
			metrics.RateLimitRejections.WithLabelValues("scraper").Inc()
			if attempt == e.cfg.MaxAttempts {
				break
			}
			logger().Warn().Int("attempt", attempt).Dur("backoff", e.backoff.Current()).Msg("scraper rate limit reached, backing off")
			if err := e.backoff.OnThrottled(ctx); err != nil {
				return nil, err
			}
			continue
		}

		posts, err := e.fetch(ctx, q)
		if errors.Is(err, errTooManyRequests) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if len(posts) > 0 {
			e.cache.Put(key, posts)
		}
		return posts, nil
	}

	return nil, ErrThrottled
}

func (e *Engine) fetch(ctx context.Context, q Query) ([]source.Post, error) {
	agent := e.agents.Select()
	start := time.Now()

	status, body, err := e.get(ctx, agent, q.url(e.baseURL))
	metrics.RecordFetch(source.TagScraper, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.agents.Penalize(agent, useragent.PenaltyTransport)
		return nil, fmt.Errorf("fetch r/%s: %w", q.Community, err)
	}

	metrics.RecordScrapeResponse(status)
	switch {
	case status == http.StatusTooManyRequests:
		e.agents.Penalize(agent, useragent.PenaltyThrottled)
		logger().Warn().Str("community", q.Community).Dur("backoff", e.backoff.Current()).Msg("rate limited by upstream")
		if err := e.backoff.OnThrottled(ctx); err != nil {
			return nil, err
		}
		return nil, errTooManyRequests
	case status != http.StatusOK:
		e.agents.Penalize(agent, useragent.PenaltyHTTP)
		return nil, &StatusError{Community: q.Community, Code: status}
	}

	e.backoff.OnSuccess()
	e.agents.Reward(agent)

	posts, err := Parse(bytes.NewReader(body), q.Community, e.now())
	if err != nil {
		e.agents.Penalize(agent, useragent.PenaltyHTTP)
		return nil, fmt.Errorf("r/%s: %w", q.Community, err)
	}
	if len(posts) > q.Limit {
		posts = posts[:q.Limit]
	}

	logger().Info().Str("community", q.Community).Str("term", q.Term).Int("posts", len(posts)).Msg("scraped search page")
	return posts, nil
}

// get performs one request while holding the identity's lock.
func (e *Engine) get(ctx context.Context, agent *useragent.Agent, u string) (int, []byte, error) {
	agent.Lock()
	defer agent.Unlock()

	if err := e.sleep(ctx, e.jitter()); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", agent.Name)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (e *Engine) jitter() time.Duration {
	span := e.cfg.JitterMax - e.cfg.JitterMin
	if span <= 0 {
		return e.cfg.JitterMin
	}
	return e.cfg.JitterMin + rand.N(span)
}
