package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/classify"
	"github.com/ppiankov/surfwatch/internal/logging"
	"github.com/ppiankov/surfwatch/internal/metrics"
	"github.com/ppiankov/surfwatch/internal/ratelimit"
	"github.com/ppiankov/surfwatch/internal/source"
	"github.com/ppiankov/surfwatch/internal/store"
	"github.com/ppiankov/surfwatch/internal/summarize"
)

// Params are the caller-facing options of FetchOrCache.
type Params struct {
	Community string
	Sort      string
	Window    string
	Limit     int
	Refresh   bool   // bypass every cache read down to the engines
	Search    string // case-insensitive filter on title and content
}

// Triggerer starts a background refresh cycle.
type Triggerer interface {
	Trigger(ctx context.Context)
}

// Forum is the subset of the forum client the service uses.
type Forum interface {
	Latest(ctx context.Context, page, limit int) ([]source.Post, error)
}

// Microblog is the subset of the twitter client the service uses.
type Microblog interface {
	Configured() bool
	Search(ctx context.Context, query string, maxResults int) ([]source.Post, error)
}

// Deps wires the service's collaborators. Store, Forum, Microblog,
// Classifier and Summarizer are optional.
type Deps struct {
	Cache        *cache.Cache // route cache
	ScraperCache *cache.Cache
	API          source.Fetcher
	Scraper      source.Fetcher
	Refresher    Triggerer

	APILimiter     *ratelimit.Window
	ScraperLimiter *ratelimit.Window
	HasCredentials bool

	Communities []string
	Terms       []string

	Store      *store.Store
	Forum      Forum
	Microblog  Microblog
	Classifier classify.Classifier
	Summarizer summarize.Summarizer
}

// Service answers post queries from the cache and the fetch engines, and
// keeps the forum and microblog stores in sync.
type Service struct {
	d   Deps
	now func() time.Time
}

func New(d Deps) *Service {
	return &Service{d: d, now: time.Now}
}

// FetchOrCache returns posts for p from the route cache or, on a miss,
// from the selected data source. cached reports whether the cache served
// the request. It never fails; an unreachable upstream yields no posts.
func (s *Service) FetchOrCache(ctx context.Context, dataSource string, p Params) (posts []source.Post, cached bool) {
	req := source.Request{
		Community: p.Community,
		Sort:      p.Sort,
		Window:    p.Window,
		Limit:     p.Limit,
		NoCache:   p.Refresh,
	}.Normalize()
	dataSource = ParseDataSource(dataSource)
	key := cache.Key{Community: req.Community, Sort: req.Sort, Window: req.Window, Source: dataSource, Limit: req.Limit}.String()

	if !p.Refresh {
		if hit, ok := s.d.Cache.Get(key); ok {
			if age, ok := s.d.Cache.Age(key); ok && age > s.d.Cache.TTL()/2 && s.d.Refresher != nil {
				logger().Debug().Str("key", key).Dur("age", age).Msg("stale cache entry, triggering refresh")
				s.d.Refresher.Trigger(ctx)
			}
			return FilterSearch(hit, p.Search), true
		}
	}

	fetcher := s.d.API
	if dataSource == cache.SourceScraper {
		fetcher = s.d.Scraper
	}

	start := s.now()
	posts = fetcher.Fetch(ctx, req)
	metrics.RecordFetch(dataSource, s.now().Sub(start))
	if len(posts) > 0 {
		s.d.Cache.Put(key, posts)
	}
	logger().Info().
		Str("key", key).
		Int("posts", len(posts)).
		Bool("refresh", p.Refresh).
		Msg("fetched posts")
	return FilterSearch(posts, p.Search), false
}

// ParseDataSource maps anything but "scraper" to the API source.
func ParseDataSource(ds string) string {
	if strings.EqualFold(strings.TrimSpace(ds), cache.SourceScraper) {
		return cache.SourceScraper
	}
	return cache.SourceAPI
}

// FilterSearch keeps posts whose title or content contains term,
// ignoring case. An empty term returns posts unchanged.
func FilterSearch(posts []source.Post, term string) []source.Post {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return posts
	}
	out := make([]source.Post, 0, len(posts))
	for _, p := range posts {
		if strings.Contains(strings.ToLower(p.Title), term) || strings.Contains(strings.ToLower(p.Content), term) {
			out = append(out, p)
		}
	}
	return out
}

// Invalidate drops one route cache entry.
func (s *Service) Invalidate(key string) {
	s.d.Cache.Delete(key)
}

// InvalidateAll clears the route cache and the scraper cache.
func (s *Service) InvalidateAll() {
	s.d.Cache.Clear()
	if s.d.ScraperCache != nil {
		s.d.ScraperCache.Clear()
	}
	logger().Info().Msg("caches cleared")
}

// Sweep evicts expired entries from every cache.
func (s *Service) Sweep() int {
	n := s.d.Cache.Sweep()
	if s.d.ScraperCache != nil {
		n += s.d.ScraperCache.Sweep()
	}
	return n
}

// Communities returns a copy of the configured communities.
func (s *Service) Communities() []string {
	return append([]string(nil), s.d.Communities...)
}

// SearchTerms returns a copy of the configured search terms.
func (s *Service) SearchTerms() []string {
	return append([]string(nil), s.d.Terms...)
}

// LimiterStats describes one sliding-window limiter.
type LimiterStats struct {
	MaxRequests     int `json:"max_requests"`
	WindowSeconds   int `json:"window_seconds"`
	CurrentRequests int `json:"current_requests"`
}

// CacheStats describes the route cache.
type CacheStats struct {
	Entries        int `json:"entries"`
	ScraperEntries int `json:"scraper_entries"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Stats is the operational snapshot served by /api/stats.
type Stats struct {
	RateLimit        LimiterStats `json:"rate_limit"`
	ScraperRateLimit LimiterStats `json:"scraper_rate_limit"`
	Cache            CacheStats   `json:"cache"`
	HasCredentials   bool         `json:"has_credentials"`
	Communities      int          `json:"subreddits_count"`
	SearchTerms      int          `json:"search_terms_count"`
}

func (s *Service) Stats() Stats {
	st := Stats{
		RateLimit:        limiterStats(s.d.APILimiter),
		ScraperRateLimit: limiterStats(s.d.ScraperLimiter),
		Cache: CacheStats{
			Entries:        s.d.Cache.Len(),
			TimeoutSeconds: int(s.d.Cache.TTL().Seconds()),
		},
		HasCredentials: s.d.HasCredentials,
		Communities:    len(s.d.Communities),
		SearchTerms:    len(s.d.Terms),
	}
	if s.d.ScraperCache != nil {
		st.Cache.ScraperEntries = s.d.ScraperCache.Len()
	}
	return st
}

func limiterStats(w *ratelimit.Window) LimiterStats {
	if w == nil {
		return LimiterStats{}
	}
	return LimiterStats{
		MaxRequests:     w.Limit(),
		WindowSeconds:   int(w.Span().Seconds()),
		CurrentRequests: w.Len(),
	}
}

// Errors returned when an optional collaborator is not wired.
var (
	ErrNoStore      = errors.New("store not configured")
	ErrNoForum      = errors.New("forum source not configured")
	ErrNoClassifier = errors.New("classifier not configured")
	ErrNoSummarizer = errors.New("summarizer not configured")

	// ErrEmptyContent means a stored post has nothing to summarize.
	ErrEmptyContent = errors.New("post content is empty")
)

// StoredPosts queries persisted posts of one source.
func (s *Service) StoredPosts(ctx context.Context, src string, f store.Filter) ([]source.Post, int, error) {
	if s.d.Store == nil {
		return nil, 0, ErrNoStore
	}
	f.Source = src
	posts, err := s.d.Store.Query(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.d.Store.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// StoredPost returns one persisted post.
func (s *Service) StoredPost(ctx context.Context, src, id string) (source.Post, error) {
	if s.d.Store == nil {
		return source.Post{}, ErrNoStore
	}
	return s.d.Store.Get(ctx, src, id)
}

// Summarize shortens the stored content of one post.
func (s *Service) Summarize(ctx context.Context, src, id string) (summarize.Summary, error) {
	if s.d.Summarizer == nil {
		return summarize.Summary{}, ErrNoSummarizer
	}
	p, err := s.StoredPost(ctx, src, id)
	if err != nil {
		return summarize.Summary{}, err
	}
	if strings.TrimSpace(p.Content) == "" {
		return summarize.Summary{}, ErrEmptyContent
	}
	return s.d.Summarizer.Summarize(ctx, p.Content), nil
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// SyncForum pulls the latest forum topics into the store.
func (s *Service) SyncForum(ctx context.Context, pages, perPage int) (SyncResult, error) {
	if s.d.Store == nil {
		return SyncResult{}, ErrNoStore
	}
	if s.d.Forum == nil {
		return SyncResult{}, ErrNoForum
	}
	pages = max(pages, 1)

	var res SyncResult
	for page := range pages {
		posts, err := s.d.Forum.Latest(ctx, page, perPage)
		if err != nil {
			return res, fmt.Errorf("forum page %d: %w", page, err)
		}
		if len(posts) == 0 {
			break
		}
		s.persist(ctx, posts, &res)
	}
	logger().Info().
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Msg("forum sync complete")
	return res, nil
}

// SyncMicroblog stores recent tweets matching query. An empty query uses
// the default product query.
func (s *Service) SyncMicroblog(ctx context.Context, query string, maxResults int) (SyncResult, error) {
	if s.d.Store == nil {
		return SyncResult{}, ErrNoStore
	}
	if s.d.Microblog == nil || !s.d.Microblog.Configured() {
		return SyncResult{}, source.ErrNoCredentials
	}
	posts, err := s.d.Microblog.Search(ctx, query, maxResults)
	if err != nil {
		return SyncResult{}, err
	}
	var res SyncResult
	s.persist(ctx, posts, &res)
	logger().Info().
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Msg("microblog sync complete")
	return res, nil
}

func (s *Service) persist(ctx context.Context, posts []source.Post, res *SyncResult) {
	now := s.now()
	for _, p := range posts {
		res.Fetched++
		inserted, err := s.d.Store.Upsert(ctx, p, now)
		switch {
		case err != nil:
			res.Failed++
			logger().Warn().Err(err).Str("post", p.Key()).Msg("store upsert failed")
		case inserted:
			res.Inserted++
		default:
			res.Updated++
		}
	}
}

// Classify labels up to limit stored posts of src. When nothing is left
// unclassified, the most recent posts are classified again.
func (s *Service) Classify(ctx context.Context, src string, limit int) ([]source.Post, error) {
	if s.d.Store == nil {
		return nil, ErrNoStore
	}
	if s.d.Classifier == nil {
		return nil, ErrNoClassifier
	}

	posts, err := s.d.Store.Unclassified(ctx, src, limit)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		posts, err = s.d.Store.Query(ctx, store.Filter{Source: src, Sort: store.SortNew, Limit: limit})
		if err != nil {
			return nil, err
		}
	}

	out := make([]source.Post, 0, len(posts))
	for _, p := range posts {
		if ctx.Err() != nil {
			break
		}
		r := s.d.Classifier.Classify(ctx, p)
		if err := s.d.Store.SaveClassification(ctx, p.Source, p.ID, r.Labels, r.Method, r.Classified); err != nil {
			logger().Warn().Err(err).Str("post", p.Key()).Msg("save classification failed")
			continue
		}
		p.Classifications = r.Labels
		out = append(out, p)
	}
	logger().Info().Str("source", src).Int("classified", len(out)).Msg("classification run complete")
	return out, nil
}

func logger() *zerolog.Logger { return logging.Component("service") }
