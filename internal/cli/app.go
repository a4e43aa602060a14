package cli

import (
	"errors"
	"fmt"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/classify"
	"github.com/ppiankov/surfwatch/internal/config"
	"github.com/ppiankov/surfwatch/internal/logging"
	"github.com/ppiankov/surfwatch/internal/privacy"
	"github.com/ppiankov/surfwatch/internal/redditapi"
	"github.com/ppiankov/surfwatch/internal/refresh"
	"github.com/ppiankov/surfwatch/internal/scraper"
	"github.com/ppiankov/surfwatch/internal/service"
	"github.com/ppiankov/surfwatch/internal/source"
	"github.com/ppiankov/surfwatch/internal/store"
	"github.com/ppiankov/surfwatch/internal/summarize"
)

// app holds every collaborator built from one config. Commands build it
// once and close it on exit.
type app struct {
	cfg       *config.Config
	store     *store.Store
	scraper   *scraper.Engine
	api       *redditapi.Engine
	refresher *refresh.Refresher
	forum     *source.ForumSource
	twitter   *source.TwitterSource
	svc       *service.Service
}

// loadConfig reads the config and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{Level: level, Format: cfg.Log.Format})
	return cfg, nil
}

// newApp wires the caches, fetch engines, store and service. The store is
// opened only when withStore is set.
func newApp(cfg *config.Config, withStore bool) (*app, error) {
	a := &app{cfg: cfg}

	routeCache := cache.New("route", cfg.Cache.TTL.Duration)
	scraperCache := cache.New("scraper", cfg.Cache.TTL.Duration)

	a.scraper = scraper.New(scraper.Config{
		BaseURL:           cfg.Scraper.BaseURL,
		Communities:       cfg.Reddit.Communities,
		Terms:             cfg.Reddit.Terms,
		UserAgents:        cfg.Scraper.UserAgents,
		RequestsPerMinute: cfg.Scraper.RequestsPerMinute,
		MaxAttempts:       cfg.Scraper.MaxAttempts,
		Timeout:           cfg.Scraper.Timeout.Duration,
	}, scraperCache)

	var searcher redditapi.Searcher
	rs, err := redditapi.NewRedditSearcher(redditapi.Credentials{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		Username:     cfg.Reddit.Username,
		Password:     cfg.Reddit.Password,
	}, cfg.Reddit.UserAgent)
	switch {
	case errors.Is(err, redditapi.ErrNoCredentials):
		logging.Info().Msg("reddit api credentials not set, using the scraper only")
	case err != nil:
		logging.Warn().Err(err).Msg("reddit api client unavailable, using the scraper only")
	default:
		searcher = rs
	}

	a.api = redditapi.New(redditapi.Config{
		Communities:       cfg.Reddit.Communities,
		Terms:             cfg.Reddit.Terms,
		RequestsPerMinute: cfg.Reddit.RequestsPerMinute,
		MaxCalls:          cfg.Reddit.MaxCalls,
	}, searcher, a.scraper, routeCache)

	a.refresher = refresh.New(routeCache, a.api, a.scraper, refresh.Config{
		Interval: cfg.Cache.RefreshInterval.Duration,
	})

	a.forum, err = source.NewForum(cfg.Forum.BaseURL, cfg.Forum.RatePerSec)
	if err != nil {
		return nil, err
	}
	a.twitter = source.NewTwitter(cfg.Twitter.BearerToken, cfg.Twitter.RequestsPerMinute)

	deps := service.Deps{
		Cache:          routeCache,
		ScraperCache:   scraperCache,
		API:            a.api,
		Scraper:        a.scraper,
		Refresher:      a.refresher,
		APILimiter:     a.api.Limiter(),
		ScraperLimiter: a.scraper.Limiter(),
		HasCredentials: a.api.HasCredentials(),
		Communities:    cfg.Reddit.Communities,
		Terms:          cfg.Reddit.Terms,
		Forum:          a.forum,
		Microblog:      a.twitter,
		Classifier:     newClassifier(cfg),
		Summarizer:     newSummarizer(cfg),
	}

	if withStore {
		a.store, err = openStore(cfg)
		if err != nil {
			return nil, err
		}
		deps.Store = a.store
	}

	a.svc = service.New(deps)
	return a, nil
}

func (a *app) close() {
	a.refresher.Wait()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Warn().Err(err).Msg("close store")
		}
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Privacy.Redact.Enabled {
		r, err := privacy.New(cfg.Privacy.Redact.Patterns, cfg.Privacy.Redact.Builtin)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		db.SetRedactor(r)
		logging.Debug().Int("patterns", r.Len()).Msg("redaction enabled")
	}
	return db, nil
}

func newClassifier(cfg *config.Config) classify.Classifier {
	heuristic := classify.NewHeuristic()
	if cfg.Classify.Mode != "llm" {
		return heuristic
	}
	if cfg.Classify.APIKey == "" {
		logging.Warn().Str("env", cfg.Classify.APIKeyEnv).Msg("llm classification selected but no api key set, using keyword fallback")
	}
	return classify.NewLLM(cfg.Classify.APIKey, cfg.Classify.Model, cfg.Classify.Endpoint, heuristic)
}

// newSummarizer follows classify.mode: llm summaries share the classifier's
// key and endpoint.
func newSummarizer(cfg *config.Config) summarize.Summarizer {
	heuristic := summarize.NewHeuristic(summarize.DefaultMaxWords)
	if cfg.Classify.Mode != "llm" {
		return heuristic
	}
	return summarize.NewLLM(cfg.Classify.APIKey, cfg.Classify.SummaryModel, cfg.Classify.Endpoint, heuristic)
}
