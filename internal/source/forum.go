package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ppiankov/surfwatch/internal/logging"
)

const (
	DefaultForumURL      = "https://forum.cursor.com"
	forumTimeout         = 30 * time.Second
	forumUserAgent       = "surfwatch/1.0"
	forumDetailWorkers   = 4
	forumDefaultLimit    = 30
	unknownCategory      = "Unknown"
	popularViews         = 100
	popularLikes         = 10
	popularSearchViews   = 1000
	popularSearchReplies = 20
)

// ForumSource reads a Discourse forum's public JSON API.
type ForumSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter

	catMu      sync.Mutex
	categories map[int]string
}

// ForumTopic is one topic with its post stream.
type ForumTopic struct {
	ID         int         `json:"id"`
	Title      string      `json:"title"`
	Slug       string      `json:"slug"`
	PostsCount int         `json:"posts_count"`
	Views      int         `json:"views"`
	LikeCount  int         `json:"like_count"`
	CreatedAt  time.Time   `json:"created_at"`
	URL        string      `json:"url"`
	Posts      []ForumPost `json:"posts"`
}

// ForumPost is one reply inside a topic. Content is plain text.
type ForumPost struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Likes     int       `json:"likes"`
}

// NewForum creates a forum client. perSecond bounds outgoing requests;
// zero disables pacing.
func NewForum(baseURL string, perSecond float64) (*ForumSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultForumURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("forum: invalid base url %q: %w", baseURL, err)
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &ForumSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: forumTimeout},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func (fs *ForumSource) Name() string {
	return TagForum
}

// Latest returns the newest topics with their first post as content.
// Transport or decode failures fall back to the RSS feed; a non-200
// answer yields no topics.
func (fs *ForumSource) Latest(ctx context.Context, page, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = forumDefaultLimit
	}

	var listing struct {
		TopicList struct {
			Topics []forumTopicSummary `json:"topics"`
		} `json:"topic_list"`
	}
	ok, err := fs.getJSON(ctx, "/latest.json", url.Values{"page": {strconv.Itoa(page)}}, &listing)
	if err != nil {
		logger().Warn().Err(err).Msg("forum latest.json failed, trying rss")
		return fs.latestFromFeed(ctx, limit)
	}
	if !ok {
		return []Post{}, nil
	}

	topics := listing.TopicList.Topics
	if len(topics) > limit {
		topics = topics[:limit]
	}

	posts := make([]Post, len(topics))
	for i, t := range topics {
		posts[i] = fs.topicPost(ctx, t, false)
	}
	fs.fillContent(ctx, posts)
	return posts, nil
}

// fillContent loads first-post content for each topic with a small worker pool.
func (fs *ForumSource) fillContent(ctx context.Context, posts []Post) {
	jobs := make(chan int, len(posts))
	workers := min(forumDetailWorkers, len(posts))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				id, err := strconv.Atoi(posts[i].ID)
				if err != nil {
					continue
				}
				topic, err := fs.Topic(ctx, id)
				if err != nil {
					logger().Debug().Err(err).Int("topic", id).Msg("topic details failed")
					continue
				}
				if topic != nil && len(topic.Posts) > 0 {
					posts[i].Content = Truncate(topic.Posts[0].Content)
				}
			}
		}()
	}

	for i := range posts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// Topic returns a topic and its posts, or nil when the forum answers
// with a non-200 status.
func (fs *ForumSource) Topic(ctx context.Context, id int) (*ForumTopic, error) {
	var raw struct {
		ID         int       `json:"id"`
		Title      string    `json:"title"`
		Slug       string    `json:"slug"`
		PostsCount int       `json:"posts_count"`
		Views      int       `json:"views"`
		LikeCount  int       `json:"like_count"`
		CreatedAt  time.Time `json:"created_at"`
		PostStream struct {
			Posts []struct {
				ID        int       `json:"id"`
				Username  string    `json:"username"`
				Name      string    `json:"name"`
				Cooked    string    `json:"cooked"`
				CreatedAt time.Time `json:"created_at"`
				LikeCount int       `json:"like_count"`
			} `json:"posts"`
		} `json:"post_stream"`
	}
	ok, err := fs.getJSON(ctx, fmt.Sprintf("/t/%d.json", id), nil, &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	topic := &ForumTopic{
		ID:         raw.ID,
		Title:      raw.Title,
		Slug:       raw.Slug,
		PostsCount: raw.PostsCount,
		Views:      raw.Views,
		LikeCount:  raw.LikeCount,
		CreatedAt:  raw.CreatedAt,
		URL:        fs.topicURL(raw.Slug, raw.ID),
	}
	for _, p := range raw.PostStream.Posts {
		topic.Posts = append(topic.Posts, ForumPost{
			ID:        p.ID,
			Username:  p.Username,
			Name:      p.Name,
			Content:   htmlText(p.Cooked),
			CreatedAt: p.CreatedAt,
			Likes:     p.LikeCount,
		})
	}
	return topic, nil
}

// Categories returns the category id to name map. The first successful
// response is cached for the client's lifetime.
func (fs *ForumSource) Categories(ctx context.Context) (map[int]string, error) {
	fs.catMu.Lock()
	defer fs.catMu.Unlock()
	if fs.categories != nil {
		return fs.categories, nil
	}

	var resp struct {
		CategoryList struct {
			Categories []struct {
				ID   int    `json:"id"`
				Name string `json:"name"`
			} `json:"categories"`
		} `json:"category_list"`
	}
	ok, err := fs.getJSON(ctx, "/categories.json", nil, &resp)
	if err != nil {
		return map[int]string{}, err
	}
	if !ok {
		return map[int]string{}, nil
	}

	cats := make(map[int]string, len(resp.CategoryList.Categories))
	for _, c := range resp.CategoryList.Categories {
		cats[c.ID] = c.Name
	}
	fs.categories = cats
	return cats, nil
}

// Search runs a full-text forum search.
func (fs *ForumSource) Search(ctx context.Context, query string, page, limit int) ([]Post, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("forum: search query is required")
	}
	if limit <= 0 {
		limit = forumDefaultLimit
	}

	var resp struct {
		Posts []struct {
			TopicID int    `json:"topic_id"`
			Blurb   string `json:"blurb"`
		} `json:"posts"`
		Topics []forumTopicSummary `json:"topics"`
	}
	ok, err := fs.getJSON(ctx, "/search.json", url.Values{"q": {query}, "page": {strconv.Itoa(page)}}, &resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Post{}, nil
	}

	blurbs := make(map[int]string, len(resp.Posts))
	for _, p := range resp.Posts {
		if _, seen := blurbs[p.TopicID]; !seen {
			blurbs[p.TopicID] = p.Blurb
		}
	}

	topics := resp.Topics
	if len(topics) > limit {
		topics = topics[:limit]
	}
	posts := make([]Post, 0, len(topics))
	for _, t := range topics {
		if t.Excerpt == "" {
			t.Excerpt = blurbs[t.ID]
		}
		posts = append(posts, fs.topicPost(ctx, t, true))
	}
	return posts, nil
}

type forumTopicSummary struct {
	ID                 int       `json:"id"`
	Title              string    `json:"title"`
	Slug               string    `json:"slug"`
	PostsCount         int       `json:"posts_count"`
	ReplyCount         int       `json:"reply_count"`
	Views              int       `json:"views"`
	LikeCount          int       `json:"like_count"`
	CategoryID         int       `json:"category_id"`
	CreatedAt          time.Time `json:"created_at"`
	Excerpt            string    `json:"excerpt"`
	LastPosterUsername string    `json:"last_poster_username"`
}

func (fs *ForumSource) topicPost(ctx context.Context, t forumTopicSummary, search bool) Post {
	replies := max(t.PostsCount-1, 0)
	popular := t.Views > popularViews || t.LikeCount > popularLikes
	if search {
		replies = t.ReplyCount
		popular = t.Views > popularSearchViews || t.ReplyCount > popularSearchReplies
	}
	author := t.LastPosterUsername
	if author == "" && search {
		author = unknownCategory
	}

	p := Post{
		ID:         strconv.Itoa(t.ID),
		Title:      t.Title,
		Content:    Truncate(htmlText(t.Excerpt)),
		URL:        fs.topicURL(t.Slug, t.ID),
		Permalink:  fmt.Sprintf("/t/%s/%d", t.Slug, t.ID),
		CreatedUTC: t.CreatedAt.Unix(),
		Author:     author,
		Community:  fs.categoryName(ctx, t.CategoryID),
		Score:      t.LikeCount,
		Comments:   replies,
		Views:      t.Views,
		Popular:    popular,
		Source:     TagForum,
	}
	if t.CreatedAt.IsZero() {
		p.CreatedUTC = 0
	}
	p.Relevance = RedditWeights.Relevance(p)
	return p
}

func (fs *ForumSource) categoryName(ctx context.Context, id int) string {
	cats, err := fs.Categories(ctx)
	if err != nil {
		return unknownCategory
	}
	if name, ok := cats[id]; ok {
		return name
	}
	return unknownCategory
}

func (fs *ForumSource) topicURL(slug string, id int) string {
	return fmt.Sprintf("%s/t/%s/%d", fs.baseURL, slug, id)
}

// getJSON decodes a 200 response into v. Non-200 answers report ok=false
// without error.
func (fs *ForumSource) getJSON(ctx context.Context, path string, params url.Values, v any) (bool, error) {
	if err := fs.limiter.Wait(ctx); err != nil {
		return false, err
	}

	u := fs.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", forumUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := fs.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger().Warn().Str("path", path).Int("status", resp.StatusCode).Msg("forum request returned non-200")
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// htmlText flattens rendered HTML into plain text.
func htmlText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func logger() *zerolog.Logger { return logging.Component("source") }
