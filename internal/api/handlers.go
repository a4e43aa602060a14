package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/classify"
	"github.com/ppiankov/surfwatch/internal/service"
	"github.com/ppiankov/surfwatch/internal/source"
	"github.com/ppiankov/surfwatch/internal/store"
	"github.com/ppiankov/surfwatch/internal/summarize"
)

const (
	defaultStoredLimit   = 20
	defaultClassifyLimit = 100
	maxClassifyLimit     = 200
	maxBodyBytes         = 1 << 20
)

// Handler holds the HTTP handlers.
type Handler struct {
	svc *service.Service
	cfg Config
	now func() time.Time
}

type postsMeta struct {
	TotalPosts int     `json:"total_posts"`
	Community  string  `json:"subreddit"`
	SearchTerm *string `json:"search_term"`
	Sort       string  `json:"sort"`
	Window     string  `json:"time_filter"`
	Timestamp  float64 `json:"timestamp"`
	FromCache  bool    `json:"from_cache"`
	Source     string  `json:"source"`
}

type postsResponse struct {
	Posts    []source.Post `json:"posts"`
	Metadata postsMeta     `json:"metadata"`
}

type storedResponse struct {
	Posts    []source.Post `json:"posts"`
	Total    int           `json:"total"`
	Source   string        `json:"source,omitempty"`
	Message  string        `json:"message,omitempty"`
	Metadata *storedMeta   `json:"metadata,omitempty"`
}

type storedMeta struct {
	FromCache bool   `json:"from_cache"`
	Source    string `json:"source"`
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Posts serves community mentions from the route cache or a fresh fetch.
func (h *Handler) Posts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := postsRequest{
		Community: strings.TrimSpace(q.Get("subreddit")),
		Search:    strings.TrimSpace(q.Get("search")),
		Limit:     intParam(r, "limit", 0),
	}
	if msg := validateRequest(&req); msg != "" {
		respondError(w, http.StatusBadRequest, "invalid request", msg, nil)
		return
	}

	dataSource := cache.SourceAPI
	if boolParam(r, "scraper") {
		dataSource = cache.SourceScraper
	}
	sort := source.ParseSort(q.Get("sort"))
	window := source.ParseWindow(q.Get("time"))

	posts, cached := h.svc.FetchOrCache(r.Context(), dataSource, service.Params{
		Community: req.Community,
		Sort:      sort,
		Window:    window,
		Limit:     req.Limit,
		Refresh:   boolParam(r, "refresh"),
		Search:    req.Search,
	})
	if posts == nil {
		posts = []source.Post{}
	}

	meta := postsMeta{
		TotalPosts: len(posts),
		Community:  req.Community,
		Sort:       sort,
		Window:     window,
		Timestamp:  float64(h.now().UnixMilli()) / 1000,
		FromCache:  cached,
		Source:     dataSource,
	}
	if meta.Community == "" {
		meta.Community = "all"
	}
	if req.Search != "" {
		term := strings.ToLower(req.Search)
		meta.SearchTerm = &term
	}
	respondJSON(w, http.StatusOK, postsResponse{Posts: posts, Metadata: meta})
}

func (h *Handler) Subreddits(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Communities())
}

func (h *Handler) SearchTerms(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.SearchTerms())
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handler) ClearCache(w http.ResponseWriter, _ *http.Request) {
	h.svc.InvalidateAll()
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Cache cleared successfully",
	})
}

// SearchTweets filters stored tweets by a substring of their content.
func (h *Handler) SearchTweets(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	req := storedRequest{
		Sort:   defaultSort(r.URL.Query().Get("sort")),
		Search: query,
		Limit:  intParam(r, "limit", 100),
	}
	if msg := validateRequest(&req); msg != "" {
		respondError(w, http.StatusBadRequest, "invalid request", msg, nil)
		return
	}

	posts, total, err := h.svc.StoredPosts(r.Context(), source.TagTwitter, store.Filter{
		Search: req.Search,
		Sort:   req.Sort,
		Limit:  req.Limit,
	})
	if err != nil {
		h.storeError(w, err)
		return
	}

	resp := storedResponse{Posts: nonNil(posts), Total: total, Source: "local_db"}
	if total == 0 && query != "" {
		resp.Message = fmt.Sprintf("No tweets found for query: '%s'", query)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) RecentTweets(w http.ResponseWriter, r *http.Request) {
	req := storedRequest{Sort: store.SortNew, Limit: intParam(r, "limit", defaultStoredLimit)}
	if msg := validateRequest(&req); msg != "" {
		respondError(w, http.StatusBadRequest, "invalid request", msg, nil)
		return
	}
	posts, _, err := h.svc.StoredPosts(r.Context(), source.TagTwitter, store.Filter{Sort: req.Sort, Limit: req.Limit})
	if err != nil {
		h.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, storedResponse{Posts: nonNil(posts), Total: len(posts)})
}

func (h *Handler) ForumRecent(w http.ResponseWriter, r *http.Request) {
	posts, _, err := h.svc.StoredPosts(r.Context(), source.TagForum, store.Filter{Sort: store.SortNew, Limit: defaultStoredLimit})
	if err != nil {
		h.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, storedResponse{Posts: nonNil(posts), Total: len(posts)})
}

// ForumTopics lists stored forum topics. refresh=true pulls the first page
// of latest topics into the store before querying.
func (h *Handler) ForumTopics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := storedRequest{
		Sort:     defaultSort(q.Get("sort")),
		Search:   strings.TrimSpace(q.Get("search")),
		Category: strings.TrimSpace(q.Get("category")),
		Limit:    intParam(r, "limit", defaultStoredLimit),
		Offset:   intParam(r, "offset", 0),
	}
	if msg := validateRequest(&req); msg != "" {
		respondError(w, http.StatusBadRequest, "invalid request", msg, nil)
		return
	}

	refresh := boolParam(r, "refresh")
	if refresh {
		if _, err := h.svc.SyncForum(r.Context(), 1, h.cfg.ForumPerPage); err != nil {
			logger().Warn().Err(err).Msg("forum refresh failed, serving stored topics")
		}
	}

	posts, total, err := h.svc.StoredPosts(r.Context(), source.TagForum, store.Filter{
		Community: req.Category,
		Search:    req.Search,
		Sort:      req.Sort,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		h.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, storedResponse{
		Posts:    nonNil(posts),
		Total:    total,
		Metadata: &storedMeta{FromCache: !refresh, Source: source.TagForum},
	})
}

func (h *Handler) ForumTopic(w http.ResponseWriter, r *http.Request) {
	p, ok := h.forumPost(w, r, "Topic not found")
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]source.Post{"post": p})
}

func (h *Handler) ForumPostContent(w http.ResponseWriter, r *http.Request) {
	p, ok := h.forumPost(w, r, "Post not found")
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"post_id": p.ID, "content": p.Content})
}

type classificationResponse struct {
	PostID          string              `json:"post_id"`
	Classifications []string            `json:"classifications"`
	Primary         string              `json:"primary_classification"`
	Categories      []classify.Category `json:"categories"`
}

func (h *Handler) ForumPostClassification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.forumPost(w, r, "Post not found")
	if !ok {
		return
	}
	res := classify.Result{Labels: p.Classifications}
	respondJSON(w, http.StatusOK, classificationResponse{
		PostID:          p.ID,
		Classifications: nonNilStrings(p.Classifications),
		Primary:         res.Primary(),
		Categories:      classify.Categories,
	})
}

type summaryResponse struct {
	PostID string `json:"post_id"`
	summarize.Summary
}

// ForumPostSummary returns a short summary of a stored forum post.
func (h *Handler) ForumPostSummary(w http.ResponseWriter, r *http.Request) {
	req := topicIDRequest{ID: chi.URLParam(r, "id")}
	if msg := validateRequest(&req); msg != "" {
		respondError(w, http.StatusBadRequest, "invalid request", msg, nil)
		return
	}
	sum, err := h.svc.Summarize(r.Context(), source.TagForum, req.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Post not found", "No post found with ID "+req.ID, nil)
	case errors.Is(err, service.ErrEmptyContent):
		respondError(w, http.StatusNotFound, "Post content is empty", "Nothing to summarize for ID "+req.ID, nil)
	case errors.Is(err, service.ErrNoSummarizer):
		respondError(w, http.StatusServiceUnavailable, "Summarizer unavailable", "summaries are not configured", err)
	case err != nil:
		h.storeError(w, err)
	default:
		respondJSON(w, http.StatusOK, summaryResponse{PostID: req.ID, Summary: sum})
	}
}

func (h *Handler) forumPost(w http.ResponseWriter, r *http.Request, notFound string) (source.Post, bool) {
	req := topicIDRequest{ID: chi.URLParam(r, "id")}
	if msg := validateRequest(&req); msg != "" {
		respondError(w, http.StatusBadRequest, "invalid request", msg, nil)
		return source.Post{}, false
	}
	p, err := h.svc.StoredPost(r.Context(), source.TagForum, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, notFound, "No post found with ID "+req.ID, nil)
		return source.Post{}, false
	}
	if err != nil {
		h.storeError(w, err)
		return source.Post{}, false
	}
	return p, true
}

type classifyResponse struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message"`
	Posts      []source.Post       `json:"posts"`
	Categories []classify.Category `json:"categories"`
}

// ClassifyPosts labels unclassified stored posts and saves the results.
func (h *Handler) ClassifyPosts(w http.ResponseWriter, r *http.Request) {
	req := classifyRequest{Limit: defaultClassifyLimit, Source: source.TagForum}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", "could not read body", err)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request", "body must be a JSON object", nil)
			return
		}
	}
	if req.Source == "" {
		req.Source = source.TagForum
	}
	if req.Limit < 1 || req.Limit > maxClassifyLimit {
		req.Limit = defaultClassifyLimit
	}
	if msg := validateRequest(&req); msg != "" {
		respondError(w, http.StatusBadRequest, "Invalid source specified", msg, nil)
		return
	}

	posts, err := h.svc.Classify(r.Context(), req.Source, req.Limit)
	switch {
	case errors.Is(err, service.ErrNoClassifier), errors.Is(err, service.ErrNoStore):
		respondError(w, http.StatusServiceUnavailable, "Classifier is not available", err.Error(), nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to classify posts", "", err)
		return
	case len(posts) == 0:
		respondError(w, http.StatusNotFound, "No posts to classify", fmt.Sprintf("No posts found for source '%s'", req.Source), nil)
		return
	}

	respondJSON(w, http.StatusOK, classifyResponse{
		Success:    true,
		Message:    fmt.Sprintf("Successfully classified %d posts", len(posts)),
		Posts:      posts,
		Categories: classify.Categories,
	})
}

func (h *Handler) Categories(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]classify.Category{"categories": classify.Categories})
}

func (h *Handler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNoStore) {
		respondError(w, http.StatusServiceUnavailable, "Storage is not configured", "", nil)
		return
	}
	respondError(w, http.StatusInternalServerError, "Failed to query stored posts", "", err)
}

func defaultSort(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return store.SortNew
	}
	return s
}

func nonNil(posts []source.Post) []source.Post {
	if posts == nil {
		return []source.Post{}
	}
	return posts
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
