// Package api serves the mention monitor over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ppiankov/surfwatch/internal/logging"
	"github.com/ppiankov/surfwatch/internal/service"
)

func logger() *zerolog.Logger { return logging.Component("api") }

// Config tunes the router.
type Config struct {
	AllowedOrigins    []string // empty allows any origin
	RequestsPerMinute int      // per client IP, 0 disables
	ForumPerPage      int      // topics fetched by a forum refresh
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc *service.Service, cfg Config) http.Handler {
	h := &Handler{svc: svc, cfg: cfg, now: time.Now}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.RequestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RequestsPerMinute, time.Minute))
		}

		r.Get("/posts", h.Posts)
		r.Get("/subreddits", h.Subreddits)
		r.Get("/search_terms", h.SearchTerms)
		r.Get("/stats", h.Stats)
		r.Post("/clear_cache", h.ClearCache)

		r.Get("/tweets/search", h.SearchTweets)
		r.Get("/tweets/recent", h.RecentTweets)

		r.Get("/cursor-forum", h.ForumRecent)
		r.Get("/cursor-forum/topics", h.ForumTopics)
		r.Get("/cursor-forum/topics/{id}", h.ForumTopic)
		r.Get("/cursor-forum/post/{id}", h.ForumPostContent)
		r.Get("/cursor-forum/post/{id}/classification", h.ForumPostClassification)
		r.Get("/cursor-forum/post/{id}/summary", h.ForumPostSummary)

		r.Post("/classify-posts", h.ClassifyPosts)
		r.Get("/classification-categories", h.Categories)
	})

	return r
}

// requestLogger logs one line per request with its status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger().Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
