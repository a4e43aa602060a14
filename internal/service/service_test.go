package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/surfwatch/internal/cache"
	"github.com/ppiankov/surfwatch/internal/classify"
	"github.com/ppiankov/surfwatch/internal/ratelimit"
	"github.com/ppiankov/surfwatch/internal/source"
	"github.com/ppiankov/surfwatch/internal/store"
)

type countingFetcher struct {
	mu       sync.Mutex
	requests []source.Request
	posts    []source.Post
}

func (f *countingFetcher) Fetch(_ context.Context, req source.Request) []source.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.posts
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type countingTrigger struct {
	mu sync.Mutex
	n  int
}

func (t *countingTrigger) Trigger(context.Context) {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
}

func (t *countingTrigger) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

var redditPosts = []source.Post{
	{ID: "1", Title: "Windsurf editor review", Content: "solid", Score: 4, Source: source.TagReddit},
	{ID: "2", Title: "Codeium in vim", Content: "works with the WINDSURF plugin", Score: 2, Source: source.TagReddit},
	{ID: "3", Title: "Unrelated", Content: "nothing here", Score: 1, Source: source.TagReddit},
}

type fixture struct {
	svc     *Service
	api     *countingFetcher
	scraper *countingFetcher
	trigger *countingTrigger
	cache   *cache.Cache
}

func newFixture(ttl time.Duration) fixture {
	f := fixture{
		api:     &countingFetcher{posts: redditPosts},
		scraper: &countingFetcher{posts: []source.Post{{ID: "s", Title: "scraped", Score: 1, Source: source.TagScraper}}},
		trigger: &countingTrigger{},
		cache:   cache.New("route-test", ttl),
	}
	f.svc = New(Deps{
		Cache:          f.cache,
		ScraperCache:   cache.New("scraper-test", ttl),
		API:            f.api,
		Scraper:        f.scraper,
		Refresher:      f.trigger,
		APILimiter:     ratelimit.NewWindow(60, time.Minute),
		ScraperLimiter: ratelimit.NewWindow(25, time.Minute),
		Communities:    []string{"programming", "golang"},
		Terms:          []string{"windsurf editor", "codeium"},
	})
	return f
}

func TestFetchOrCache_SecondCallServedFromCache(t *testing.T) {
	f := newFixture(time.Hour)
	ctx := context.Background()
	p := Params{Community: "programming", Sort: "new"}

	first, cached := f.svc.FetchOrCache(ctx, "api", p)
	if cached || len(first) != 3 {
		t.Fatalf("first call: cached=%v posts=%d", cached, len(first))
	}

	second, cached := f.svc.FetchOrCache(ctx, "api", p)
	if !cached || len(second) != 3 {
		t.Fatalf("second call: cached=%v posts=%d", cached, len(second))
	}
	if f.api.count() != 1 || f.scraper.count() != 0 {
		t.Errorf("collaborator calls api=%d scraper=%d, want 1 and 0", f.api.count(), f.scraper.count())
	}
	if f.trigger.count() != 0 {
		t.Error("fresh entry should not trigger a refresh")
	}

	if _, ok := f.cache.Get("programming:new:all:api"); !ok {
		t.Error("route key not populated")
	}
}

func TestFetchOrCache_NormalizesParams(t *testing.T) {
	f := newFixture(time.Hour)
	f.svc.FetchOrCache(context.Background(), "", Params{Sort: "bogus", Window: "decade"})

	want := source.Request{Sort: "hot", Window: "all", Limit: source.DefaultLimit}
	if f.api.requests[0] != want {
		t.Errorf("request = %+v, want %+v", f.api.requests[0], want)
	}
	if _, ok := f.cache.Get("all:hot:all:api"); !ok {
		t.Error("expected all:hot:all:api key")
	}
}

func TestFetchOrCache_ScraperOverride(t *testing.T) {
	f := newFixture(time.Hour)
	posts, _ := f.svc.FetchOrCache(context.Background(), "scraper", Params{Community: "rust"})

	if f.scraper.count() != 1 || f.api.count() != 0 {
		t.Fatalf("calls api=%d scraper=%d", f.api.count(), f.scraper.count())
	}
	if len(posts) != 1 || posts[0].Source != source.TagScraper {
		t.Errorf("posts = %+v", posts)
	}
	if _, ok := f.cache.Get("rust:hot:all:scraper"); !ok {
		t.Error("scraper key not populated")
	}
}

func TestFetchOrCache_RefreshBypassesCache(t *testing.T) {
	f := newFixture(time.Hour)
	ctx := context.Background()

	f.svc.FetchOrCache(ctx, "api", Params{})
	_, cached := f.svc.FetchOrCache(ctx, "api", Params{Refresh: true})
	if cached {
		t.Error("refresh should not report cached")
	}
	if f.api.count() != 2 {
		t.Errorf("api calls = %d, want 2", f.api.count())
	}
	if f.api.requests[0].NoCache || !f.api.requests[1].NoCache {
		t.Errorf("NoCache = %v, %v; want false, true", f.api.requests[0].NoCache, f.api.requests[1].NoCache)
	}
}

func TestFetchOrCache_EmptyResultNotCached(t *testing.T) {
	f := newFixture(time.Hour)
	f.api.posts = nil
	ctx := context.Background()

	posts, _ := f.svc.FetchOrCache(ctx, "api", Params{})
	if len(posts) != 0 {
		t.Fatalf("posts = %v", posts)
	}
	if f.cache.Len() != 0 {
		t.Error("empty result should not be cached")
	}
}

func TestFetchOrCache_SearchFilter(t *testing.T) {
	f := newFixture(time.Hour)
	ctx := context.Background()

	posts, _ := f.svc.FetchOrCache(ctx, "api", Params{Search: "Windsurf"})
	if len(posts) != 2 {
		t.Fatalf("filtered = %d posts, want 2", len(posts))
	}

	// the cache holds the unfiltered set
	all, cached := f.svc.FetchOrCache(ctx, "api", Params{})
	if !cached || len(all) != 3 {
		t.Errorf("cached=%v posts=%d", cached, len(all))
	}
}

func TestFetchOrCache_StaleEntryTriggersRefresh(t *testing.T) {
	f := newFixture(200 * time.Millisecond)
	ctx := context.Background()

	f.svc.FetchOrCache(ctx, "api", Params{})
	time.Sleep(120 * time.Millisecond)

	_, cached := f.svc.FetchOrCache(ctx, "api", Params{})
	if !cached {
		t.Fatal("entry should still be valid")
	}
	if f.trigger.count() != 1 {
		t.Errorf("triggers = %d, want 1", f.trigger.count())
	}
}

func TestInvalidate(t *testing.T) {
	f := newFixture(time.Hour)
	ctx := context.Background()
	f.svc.FetchOrCache(ctx, "api", Params{Community: "golang"})
	f.svc.FetchOrCache(ctx, "api", Params{Community: "rust"})

	f.svc.Invalidate("golang:hot:all:api")
	if f.cache.Len() != 1 {
		t.Errorf("entries = %d, want 1", f.cache.Len())
	}

	f.svc.InvalidateAll()
	if f.cache.Len() != 0 {
		t.Errorf("entries = %d after clear", f.cache.Len())
	}
}

func TestStats(t *testing.T) {
	f := newFixture(10 * time.Minute)
	f.svc.FetchOrCache(context.Background(), "api", Params{})
	f.svc.d.APILimiter.Admit()

	st := f.svc.Stats()
	if st.RateLimit.MaxRequests != 60 || st.RateLimit.WindowSeconds != 60 || st.RateLimit.CurrentRequests != 1 {
		t.Errorf("rate limit = %+v", st.RateLimit)
	}
	if st.ScraperRateLimit.MaxRequests != 25 {
		t.Errorf("scraper limit = %+v", st.ScraperRateLimit)
	}
	if st.Cache.Entries != 1 || st.Cache.TimeoutSeconds != 600 {
		t.Errorf("cache = %+v", st.Cache)
	}
	if st.Communities != 2 || st.SearchTerms != 2 {
		t.Errorf("counts = %d/%d", st.Communities, st.SearchTerms)
	}
}

func TestCommunitiesAndTermsAreCopies(t *testing.T) {
	f := newFixture(time.Hour)
	c := f.svc.Communities()
	c[0] = "mutated"
	if f.svc.Communities()[0] != "programming" {
		t.Error("Communities exposes internal slice")
	}
	if len(f.svc.SearchTerms()) != 2 {
		t.Error("SearchTerms")
	}
}

func TestParseDataSource(t *testing.T) {
	for in, want := range map[string]string{"": "api", "api": "api", "Scraper": "scraper", "mock": "api"} {
		if got := ParseDataSource(in); got != want {
			t.Errorf("ParseDataSource(%q) = %q, want %q", in, got, want)
		}
	}
}

type stubForum struct {
	pages map[int][]source.Post
	err   error
}

func (f *stubForum) Latest(_ context.Context, page, _ int) ([]source.Post, error) {
	return f.pages[page], f.err
}

type stubMicroblog struct {
	configured bool
	posts      []source.Post
}

func (m *stubMicroblog) Configured() bool { return m.configured }
func (m *stubMicroblog) Search(context.Context, string, int) ([]source.Post, error) {
	return m.posts, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "surfwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func topic(id string, created int64) source.Post {
	return source.Post{ID: id, Source: source.TagForum, Title: "Crash in " + id, CreatedUTC: created, Score: 1}
}

func TestSyncForumAndClassify(t *testing.T) {
	st := openTestStore(t)
	forum := &stubForum{pages: map[int][]source.Post{
		0: {topic("1", 100), topic("2", 200)},
		1: {topic("2", 200), topic("3", 300)},
	}}
	svc := New(Deps{Cache: cache.New("r", time.Hour), Store: st, Forum: forum, Classifier: classify.NewHeuristic()})
	ctx := context.Background()

	res, err := svc.SyncForum(ctx, 3, 30)
	if err != nil {
		t.Fatalf("SyncForum: %v", err)
	}
	if res.Fetched != 4 || res.Inserted != 3 || res.Updated != 1 {
		t.Errorf("result = %+v", res)
	}

	posts, total, err := svc.StoredPosts(ctx, source.TagForum, store.Filter{Sort: store.SortNew, Limit: 2})
	if err != nil {
		t.Fatalf("StoredPosts: %v", err)
	}
	if total != 3 || len(posts) != 2 || posts[0].ID != "3" {
		t.Errorf("stored = %d total, %+v", total, posts)
	}

	classified, err := svc.Classify(ctx, source.TagForum, 10)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(classified) != 3 || classified[0].Classifications[0] != classify.BugReport {
		t.Errorf("classified = %+v", classified)
	}

	got, err := svc.StoredPost(ctx, source.TagForum, "1")
	if err != nil || len(got.Classifications) == 0 {
		t.Errorf("stored post = %+v, %v", got, err)
	}

	// nothing left unclassified: recent posts are classified again
	again, err := svc.Classify(ctx, source.TagForum, 2)
	if err != nil || len(again) != 2 {
		t.Errorf("reclassify = %d posts, %v", len(again), err)
	}
}

func TestSyncForum_Error(t *testing.T) {
	svc := New(Deps{Cache: cache.New("r", time.Hour), Store: openTestStore(t), Forum: &stubForum{err: errors.New("down")}})
	if _, err := svc.SyncForum(context.Background(), 1, 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestSyncMicroblog(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	svc := New(Deps{Cache: cache.New("r", time.Hour), Store: st, Microblog: &stubMicroblog{}})
	if _, err := svc.SyncMicroblog(ctx, "", 10); !errors.Is(err, source.ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}

	mb := &stubMicroblog{configured: true, posts: []source.Post{{ID: "t1", Source: source.TagTwitter, Score: 3}}}
	svc = New(Deps{Cache: cache.New("r", time.Hour), Store: st, Microblog: mb})
	res, err := svc.SyncMicroblog(ctx, "", 10)
	if err != nil {
		t.Fatalf("SyncMicroblog: %v", err)
	}
	if res.Inserted != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestStoreOperationsWithoutStore(t *testing.T) {
	svc := New(Deps{Cache: cache.New("r", time.Hour)})
	ctx := context.Background()
	if _, _, err := svc.StoredPosts(ctx, source.TagForum, store.Filter{}); !errors.Is(err, ErrNoStore) {
		t.Errorf("StoredPosts err = %v", err)
	}
	if _, err := svc.SyncForum(ctx, 1, 1); !errors.Is(err, ErrNoStore) {
		t.Errorf("SyncForum err = %v", err)
	}
	if _, err := svc.Classify(ctx, source.TagForum, 1); !errors.Is(err, ErrNoStore) {
		t.Errorf("Classify err = %v", err)
	}
}
