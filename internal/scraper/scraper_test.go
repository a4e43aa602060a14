package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/source"
	"github.com/ppiankov/surfwatch/internal/useragent"
)

const searchPage = `<html><body>
<div class="thing" data-fullname="t3_abc123" data-timestamp="1760000000000">
  <a class="title" href="/r/golang/comments/abc123/windsurf_editor_review/">Windsurf editor review</a>
  <div class="score unvoted" title="42">42</div>
  <div class="search-result-snippet">Tried the windsurf editor for a week.</div>
  <a class="thumbnail"><img src="https://b.thumbs.redditmedia.com/thumbnail.jpg"></a>
  <a class="author">gopher</a>
  <a class="comments">17 comments</a>
</div>
<div class="thing" data-fullname="t3_def456" data-timestamp="1760000500000">
  <a class="title" href="https://example.com/codeium">Codeium plugin released</a>
  <div class="score unvoted" title="•">•</div>
  <a class="comments">comment</a>
</div>
<div class="thing" data-fullname="t3_zero">
  <a class="title" href="/r/golang/comments/zero/">Nobody cares</a>
  <div class="score unvoted" title="0">0</div>
  <a class="comments">0 comments</a>
</div>
<div class="thing">
  <a class="title" href="/r/golang/comments/noid/">Broken entry</a>
</div>
</body></html>`

func TestParse(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	posts, err := Parse(strings.NewReader(searchPage), "golang", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3", len(posts))
	}

	p := posts[0]
	if p.ID != "abc123" {
		t.Errorf("id = %q, want abc123", p.ID)
	}
	if p.Title != "Windsurf editor review" {
		t.Errorf("title = %q", p.Title)
	}
	if p.Score != 42 || p.Comments != 17 {
		t.Errorf("score/comments = %d/%d, want 42/17", p.Score, p.Comments)
	}
	if p.Permalink != "/r/golang/comments/abc123/windsurf_editor_review/" {
		t.Errorf("permalink = %q", p.Permalink)
	}
	if p.URL != "https://reddit.com/r/golang/comments/abc123/windsurf_editor_review/" {
		t.Errorf("url = %q", p.URL)
	}
	if p.CreatedUTC != 1760000000 {
		t.Errorf("created = %d, want 1760000000", p.CreatedUTC)
	}
	if p.Author != "gopher" {
		t.Errorf("author = %q", p.Author)
	}
	if p.Image != "https://b.thumbs.redditmedia.com/preview.jpg" {
		t.Errorf("image = %q", p.Image)
	}
	if p.Content != "Tried the windsurf editor for a week." {
		t.Errorf("content = %q", p.Content)
	}
	if p.Source != source.TagScraper || p.Community != "golang" {
		t.Errorf("source/community = %s/%s", p.Source, p.Community)
	}

	ext := posts[1]
	if ext.Permalink != "/r/golang/comments/def456/" {
		t.Errorf("external permalink = %q", ext.Permalink)
	}
	if ext.Score != 0 || ext.Comments != 0 {
		t.Errorf("unparseable counters = %d/%d, want 0/0", ext.Score, ext.Comments)
	}
	if ext.Author != deletedAuthor {
		t.Errorf("author = %q, want %q", ext.Author, deletedAuthor)
	}

	if posts[2].CreatedUTC != now.Unix() {
		t.Errorf("fallback created = %d, want now", posts[2].CreatedUTC)
	}
}

func TestNormalizePermalink(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"/r/golang/comments/x/", "/r/golang/comments/x/"},
		{"https://old.reddit.com/r/golang/comments/x/y/", "/r/golang/comments/x/y/"},
		{"https://example.com/blog", "/r/golang/comments/id1/"},
		{"", "/r/golang/comments/id1/"},
	}
	for _, tt := range tests {
		if got := normalizePermalink(tt.href, "golang", "id1"); got != tt.want {
			t.Errorf("normalizePermalink(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

// testEngine points an engine at srv with all sleeping disabled.
func testEngine(srv *httptest.Server, cfg Config) *Engine {
	cfg.BaseURL = srv.URL
	e := New(cfg, cache.New("scraper-test", time.Minute))
	e.sleep = noSleep
	e.backoff.WithSleep(noSleep)
	return e
}

type pageServer struct {
	mu       sync.Mutex
	requests []*http.Request
	handler  func(n int, r *http.Request) (int, string)
}

func (ps *pageServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ps.mu.Lock()
	ps.requests = append(ps.requests, r)
	n := len(ps.requests)
	ps.mu.Unlock()

	status, body := ps.handler(n, r)
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

func (ps *pageServer) count() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.requests)
}

func TestScrape_SuccessAndCache(t *testing.T) {
	ps := &pageServer{handler: func(int, *http.Request) (int, string) { return http.StatusOK, searchPage }}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{})
	q := Query{Community: "golang", Term: "windsurf editor", Sort: "new", Window: "week", Limit: 2}

	posts, err := e.Scrape(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2 (limit)", len(posts))
	}

	r := ps.requests[0]
	if r.URL.Path != "/r/golang/search" {
		t.Errorf("path = %q", r.URL.Path)
	}
	qs := r.URL.Query()
	if qs.Get("q") != "windsurf editor" || qs.Get("restrict_sr") != "on" || qs.Get("sort") != "new" || qs.Get("t") != "week" {
		t.Errorf("query = %v", qs)
	}
	if r.Header.Get("User-Agent") != useragent.Defaults[0] {
		t.Errorf("user-agent = %q", r.Header.Get("User-Agent"))
	}

	if _, err := e.Scrape(context.Background(), q); err != nil {
		t.Fatalf("second scrape: %v", err)
	}
	if ps.count() != 1 {
		t.Errorf("requests = %d, want 1 (second call cached)", ps.count())
	}
}

func TestScrape_429ThenSuccess(t *testing.T) {
	ps := &pageServer{handler: func(n int, _ *http.Request) (int, string) {
		if n == 1 {
			return http.StatusTooManyRequests, ""
		}
		return http.StatusOK, searchPage
	}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	var slept []time.Duration
	e := testEngine(srv, Config{UserAgents: []string{"ua-a", "ua-b"}})
	e.backoff.WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	posts, err := e.Scrape(context.Background(), Query{Community: "golang", Term: "codeium"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 3 {
		t.Errorf("got %d posts, want 3", len(posts))
	}

	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("backoff sleeps = %v, want [2s]", slept)
	}
	if got := ps.requests[1].Header.Get("User-Agent"); got != "ua-b" {
		t.Errorf("retry user-agent = %q, want ua-b", got)
	}
	if got := e.agents.Failures("ua-a"); got != useragent.PenaltyThrottled {
		t.Errorf("ua-a failures = %d, want %d", got, useragent.PenaltyThrottled)
	}
	if e.backoff.Current() != time.Second {
		t.Errorf("backoff = %v after success, want reset to 1s", e.backoff.Current())
	}
}

func TestScrape_ExhaustedAttempts(t *testing.T) {
	ps := &pageServer{handler: func(int, *http.Request) (int, string) { return http.StatusTooManyRequests, "" }}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{MaxAttempts: 3})
	_, err := e.Scrape(context.Background(), Query{Community: "golang", Term: "codeium"})
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("err = %v, want ErrThrottled", err)
	}
	if ps.count() != 3 {
		t.Errorf("requests = %d, want 3", ps.count())
	}
}

func TestScrape_StatusError(t *testing.T) {
	ps := &pageServer{handler: func(int, *http.Request) (int, string) { return http.StatusForbidden, "" }}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{UserAgents: []string{"ua-a"}})
	_, err := e.Scrape(context.Background(), Query{Community: "golang", Term: "codeium"})

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("err = %v, want StatusError 403", err)
	}
	if ps.count() != 1 {
		t.Errorf("requests = %d, want 1 (no retry)", ps.count())
	}
	if got := e.agents.Failures("ua-a"); got != useragent.PenaltyHTTP {
		t.Errorf("failures = %d, want %d", got, useragent.PenaltyHTTP)
	}
}

func TestScrape_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	e := testEngine(srv, Config{UserAgents: []string{"ua-a"}})
	_, err := e.Scrape(context.Background(), Query{Community: "golang", Term: "codeium"})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if got := e.agents.Failures("ua-a"); got != useragent.PenaltyTransport {
		t.Errorf("failures = %d, want %d", got, useragent.PenaltyTransport)
	}
}

func TestScrape_LimiterRejectionBacksOff(t *testing.T) {
	ps := &pageServer{handler: func(int, *http.Request) (int, string) { return http.StatusOK, searchPage }}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	var throttles int
	e := testEngine(srv, Config{RequestsPerMinute: 1, MaxAttempts: 2})
	e.backoff.WithSleep(func(context.Context, time.Duration) error {
		throttles++
		return nil
	})

	if _, err := e.Scrape(context.Background(), Query{Community: "a", Term: "x"}); err != nil {
		t.Fatalf("first scrape: %v", err)
	}
	_, err := e.Scrape(context.Background(), Query{Community: "b", Term: "x"})
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("err = %v, want ErrThrottled", err)
	}
	if throttles != 1 {
		t.Errorf("backoff waits = %d, want 1 (no wait after the last rejection)", throttles)
	}
	if ps.count() != 1 {
		t.Errorf("requests = %d, want 1", ps.count())
	}
}

func TestScrape_TransientFailureNotCached(t *testing.T) {
	ps := &pageServer{handler: func(n int, _ *http.Request) (int, string) {
		if n == 1 {
			return http.StatusServiceUnavailable, ""
		}
		return http.StatusOK, searchPage
	}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{Communities: []string{"golang"}, Terms: []string{"windsurf"}})
	ctx := context.Background()

	if first := e.Fetch(ctx, source.Request{}); len(first) != 0 {
		t.Fatalf("first fetch = %d posts, want 0", len(first))
	}
	second := e.Fetch(ctx, source.Request{})
	if len(second) == 0 {
		t.Fatal("second fetch served the failed result")
	}
	if ps.count() != 2 {
		t.Errorf("requests = %d, want 2", ps.count())
	}
	if e.cache.Len() == 0 {
		t.Error("successful result should be cached")
	}
}

func TestScrape_EmptyPageNotCached(t *testing.T) {
	ps := &pageServer{handler: func(int, *http.Request) (int, string) { return http.StatusOK, "<html></html>" }}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{})
	q := Query{Community: "golang", Term: "windsurf"}
	for range 2 {
		if _, err := e.Scrape(context.Background(), q); err != nil {
			t.Fatalf("scrape: %v", err)
		}
	}
	if ps.count() != 2 {
		t.Errorf("requests = %d, want 2", ps.count())
	}
	if e.cache.Len() != 0 {
		t.Errorf("cache entries = %d, want 0", e.cache.Len())
	}
}

func TestFetch_NoCacheScrapesAgain(t *testing.T) {
	ps := &pageServer{handler: func(int, *http.Request) (int, string) { return http.StatusOK, communityPage("golang", "n1") }}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{Communities: []string{"golang"}, Terms: []string{"windsurf"}})
	ctx := context.Background()

	e.Fetch(ctx, source.Request{})
	e.Fetch(ctx, source.Request{})
	if ps.count() != 1 {
		t.Fatalf("requests = %d, want 1 (second fetch cached)", ps.count())
	}

	posts := e.Fetch(ctx, source.Request{NoCache: true})
	if ps.count() != 2 {
		t.Errorf("requests = %d, want 2 after NoCache fetch", ps.count())
	}
	if len(posts) != 1 {
		t.Errorf("got %d posts, want 1", len(posts))
	}
}

func TestScrape_ContextCancelledDuringBackoff(t *testing.T) {
	ps := &pageServer{handler: func(int, *http.Request) (int, string) { return http.StatusTooManyRequests, "" }}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{})
	e.backoff.WithSleep(func(ctx context.Context, _ time.Duration) error { return context.Canceled })

	_, err := e.Scrape(context.Background(), Query{Community: "golang", Term: "codeium"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func communityPage(community string, ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i, id := range ids {
		fmt.Fprintf(&b, `<div class="thing" data-fullname="t3_%s" data-timestamp="%d000">`+
			`<a class="title" href="/r/%s/comments/%s/">post %s</a>`+
			`<div class="score unvoted" title="%d">x</div><a class="comments">%d comments</a></div>`,
			id, 1760000000+i*100, community, id, id, i+1, i)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestAggregate_MergesSkipsFailuresAndRanks(t *testing.T) {
	ps := &pageServer{handler: func(_ int, r *http.Request) (int, string) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/r/golang/"):
			return http.StatusOK, communityPage("golang", "g1", "shared")
		case strings.HasPrefix(r.URL.Path, "/r/rust/"):
			return http.StatusOK, communityPage("rust", "r1", "shared")
		default:
			return http.StatusInternalServerError, ""
		}
	}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{})
	posts := e.Aggregate(context.Background(), []string{"golang", "rust", "broken", "golang"}, []string{"windsurf"}, "new", "all", 10)

	if ps.count() != 3 {
		t.Errorf("requests = %d, want 3 (duplicates collapsed)", ps.count())
	}
	got := map[string]bool{}
	for _, p := range posts {
		if got[p.ID] {
			t.Errorf("duplicate post %s", p.ID)
		}
		got[p.ID] = true
		if p.Relevance <= 0 {
			t.Errorf("post %s relevance = %v", p.ID, p.Relevance)
		}
	}
	for _, id := range []string{"g1", "r1", "shared"} {
		if !got[id] {
			t.Errorf("missing post %s", id)
		}
	}
	for i := 1; i < len(posts); i++ {
		if posts[i-1].CreatedUTC < posts[i].CreatedUTC {
			t.Fatalf("posts not ordered by recency: %v", posts)
		}
	}

	before := ps.count()
	_ = e.Aggregate(context.Background(), []string{"golang", "rust", "broken"}, []string{"windsurf"}, "new", "all", 10)
	if ps.count() != before {
		t.Error("identical aggregate should be served from cache")
	}
}

func TestAggregate_CapsCombinations(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	e := testEngine(srv, Config{RequestsPerMinute: 100})
	communities := []string{"a", "b", "c", "d", "e", "f"}
	terms := []string{"x", "y", "z"}

	posts := e.Aggregate(context.Background(), communities, terms, "hot", "all", 5)
	if posts == nil {
		t.Error("aggregate should return an empty slice, not nil")
	}
	if got := hits.Load(); got != MaxCombinations {
		t.Errorf("requests = %d, want %d", got, MaxCombinations)
	}
}

func TestFetch_BackgroundReducesFanOut(t *testing.T) {
	ps := &pageServer{handler: func(int, *http.Request) (int, string) { return http.StatusOK, communityPage("golang", "b1") }}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{
		Communities: []string{"golang"},
		Terms:       []string{"t1", "t2", "t3", "t4"},
	})

	e.Fetch(context.Background(), source.Request{Background: true, Limit: 40})
	if ps.count() != backgroundTerms {
		t.Fatalf("requests = %d, want %d", ps.count(), backgroundTerms)
	}

	want := aggregateKey([]string{"golang"}, []string{"t1", "t2"}, "hot", "all", 20)
	if _, ok := e.cache.Get(want); !ok {
		t.Errorf("expected aggregate cached under %q, have %v", want, e.cache.Keys())
	}
}

func TestFetch_SingleCommunity(t *testing.T) {
	ps := &pageServer{handler: func(_ int, r *http.Request) (int, string) {
		return http.StatusOK, communityPage("programming", "p1")
	}}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	e := testEngine(srv, Config{
		Communities: []string{"golang", "rust"},
		Terms:       []string{"windsurf"},
	})

	posts := e.Fetch(context.Background(), source.Request{Community: "programming", Sort: "new"})
	if ps.count() != 1 {
		t.Fatalf("requests = %d, want 1", ps.count())
	}
	if !strings.HasPrefix(ps.requests[0].URL.Path, "/r/programming/") {
		t.Errorf("path = %q", ps.requests[0].URL.Path)
	}
	if len(posts) != 1 || posts[0].Source != source.TagScraper {
		t.Errorf("posts = %+v", posts)
	}
}
