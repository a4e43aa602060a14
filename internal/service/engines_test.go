package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/redditapi"
	"github.com/ppiankov/surfwatch/internal/scraper"
	"github.com/ppiankov/surfwatch/internal/source"
)

const resultPage = `<html><body>
<div class="thing" data-fullname="t3_w1" data-timestamp="1760000000000">
  <a class="title" href="/r/golang/comments/w1/windsurf_tips/">Windsurf tips</a>
  <div class="score unvoted" title="5">5</div>
  <a class="comments">2 comments</a>
</div>
</body></html>`

// apiSearcher returns min(limit, 5) engaged posts per community.
type apiSearcher struct {
	mu    sync.Mutex
	calls []redditapi.SearchOptions
}

func (s *apiSearcher) Search(_ context.Context, community, _ string, opts redditapi.SearchOptions) ([]source.Post, error) {
	s.mu.Lock()
	s.calls = append(s.calls, opts)
	s.mu.Unlock()

	posts := make([]source.Post, 0, 5)
	for i := range min(opts.Limit, 5) {
		posts = append(posts, source.Post{
			ID:         fmt.Sprintf("%s-%d", community, i),
			Title:      "windsurf",
			Score:      1,
			CreatedUTC: int64(i),
			Community:  community,
		})
	}
	return posts, nil
}

func (s *apiSearcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type engineFixture struct {
	svc      *Service
	searcher *apiSearcher
	pages    atomic.Int32
}

// newEngineFixture wires the real fetch engines to one route cache, as the
// application does. page answers the n-th scraper request.
func newEngineFixture(t *testing.T, page func(n int32) (int, string)) *engineFixture {
	t.Helper()
	f := &engineFixture{searcher: &apiSearcher{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status, body := page(f.pages.Add(1))
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	communities := []string{"golang"}
	terms := []string{"windsurf"}
	routeCache := cache.New("route-test", time.Hour)
	scraperCache := cache.New("scraper-test", time.Hour)

	scr := scraper.New(scraper.Config{
		BaseURL:     srv.URL,
		Communities: communities,
		Terms:       terms,
		JitterMin:   time.Millisecond,
	}, scraperCache)
	api := redditapi.New(redditapi.Config{Communities: communities, Terms: terms}, f.searcher, scr, routeCache)

	f.svc = New(Deps{
		Cache:          routeCache,
		ScraperCache:   scraperCache,
		API:            api,
		Scraper:        scr,
		APILimiter:     api.Limiter(),
		ScraperLimiter: scr.Limiter(),
		HasCredentials: true,
		Communities:    communities,
		Terms:          terms,
	})
	return f
}

func okPage(int32) (int, string) { return http.StatusOK, resultPage }

func TestFetchOrCache_RefreshReachesAPIEngine(t *testing.T) {
	f := newEngineFixture(t, okPage)
	ctx := context.Background()

	f.svc.FetchOrCache(ctx, "api", Params{})
	if _, cached := f.svc.FetchOrCache(ctx, "api", Params{}); !cached {
		t.Fatal("second call should be cached")
	}
	if f.searcher.count() != 1 {
		t.Fatalf("searcher calls = %d, want 1", f.searcher.count())
	}

	posts, cached := f.svc.FetchOrCache(ctx, "api", Params{Refresh: true})
	if cached {
		t.Error("refresh reported cached")
	}
	if f.searcher.count() != 2 {
		t.Errorf("searcher calls = %d, want 2 (refresh must reach the api)", f.searcher.count())
	}
	if len(posts) != 5 {
		t.Errorf("got %d posts, want 5", len(posts))
	}
}

func TestFetchOrCache_LimitDoesNotLeakAcrossRequests(t *testing.T) {
	f := newEngineFixture(t, okPage)
	ctx := context.Background()

	short, _ := f.svc.FetchOrCache(ctx, "api", Params{Limit: 2})
	if len(short) != 2 {
		t.Fatalf("limit 2: got %d posts", len(short))
	}

	full, cached := f.svc.FetchOrCache(ctx, "api", Params{})
	if cached {
		t.Error("default request served the limit 2 entry")
	}
	if len(full) != 5 {
		t.Errorf("default: got %d posts, want 5", len(full))
	}
	if f.searcher.count() != 2 {
		t.Errorf("searcher calls = %d, want 2", f.searcher.count())
	}

	if again, cached := f.svc.FetchOrCache(ctx, "api", Params{Limit: 2}); !cached || len(again) != 2 {
		t.Errorf("limit 2 again: cached=%v posts=%d", cached, len(again))
	}
}

func TestFetchOrCache_ScraperRecoversAfterTransientFailure(t *testing.T) {
	f := newEngineFixture(t, func(n int32) (int, string) {
		if n == 1 {
			return http.StatusServiceUnavailable, ""
		}
		return http.StatusOK, resultPage
	})
	ctx := context.Background()

	if first, _ := f.svc.FetchOrCache(ctx, "scraper", Params{}); len(first) != 0 {
		t.Fatalf("first call: got %d posts, want 0", len(first))
	}

	second, cached := f.svc.FetchOrCache(ctx, "scraper", Params{})
	if cached || len(second) != 1 {
		t.Fatalf("second call: cached=%v posts=%d, want a fresh post", cached, len(second))
	}
	if got := f.pages.Load(); got != 2 {
		t.Errorf("scraper requests = %d, want 2", got)
	}

	if _, cached := f.svc.FetchOrCache(ctx, "scraper", Params{}); !cached {
		t.Error("third call should be cached")
	}
}

func TestFetchOrCache_RefreshReachesScraper(t *testing.T) {
	f := newEngineFixture(t, okPage)
	ctx := context.Background()

	f.svc.FetchOrCache(ctx, "scraper", Params{})
	f.svc.FetchOrCache(ctx, "scraper", Params{Refresh: true})
	if got := f.pages.Load(); got != 2 {
		t.Errorf("scraper requests = %d, want 2", got)
	}
}
