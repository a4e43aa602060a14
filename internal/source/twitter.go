package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const (
	DefaultTwitterURL   = "https://api.twitter.com"
	DefaultTwitterQuery = "(windsurf IDE) OR (windsurf editor) OR codeium OR (codeium extension) OR (codeium AI) OR (codeium plugin)"
	twitterTimeout      = 30 * time.Second
	twitterMinResults   = 10
	twitterMaxResults   = 100
	twitterTitleRunes   = 100
)

// ErrNoCredentials is returned when a source needs a token it was not given.
var ErrNoCredentials = errors.New("missing credentials")

// TwitterSource queries the v2 recent search endpoint.
type TwitterSource struct {
	token   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewTwitter creates a recent-search client. perMinute bounds outgoing
// requests; zero disables pacing.
func NewTwitter(bearerToken string, perMinute int) *TwitterSource {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &TwitterSource{
		token:   strings.TrimSpace(bearerToken),
		baseURL: DefaultTwitterURL,
		client:  &http.Client{Timeout: twitterTimeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (ts *TwitterSource) Name() string {
	return TagTwitter
}

// Configured reports whether a bearer token is set.
func (ts *TwitterSource) Configured() bool {
	return ts.token != ""
}

// Search returns recent tweets matching query, newest first, without
// zero-engagement tweets. An empty query uses DefaultTwitterQuery.
func (ts *TwitterSource) Search(ctx context.Context, query string, maxResults int) ([]Post, error) {
	if !ts.Configured() {
		return nil, fmt.Errorf("twitter: %w", ErrNoCredentials)
	}
	if strings.TrimSpace(query) == "" {
		query = DefaultTwitterQuery
	}
	maxResults = min(max(maxResults, twitterMinResults), twitterMaxResults)

	if err := ts.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"query":        {query},
		"max_results":  {strconv.Itoa(maxResults)},
		"tweet.fields": {"author_id,created_at,public_metrics,entities,attachments"},
		"user.fields":  {"username,name,profile_image_url"},
		"expansions":   {"author_id,attachments.media_keys"},
		"media.fields": {"url,preview_image_url,type"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.baseURL+"/2/tweets/search/recent?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)

	resp, err := ts.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitter search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twitter search: status %d", resp.StatusCode)
	}

	var sr twitterSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode twitter response: %w", err)
	}

	posts := postsFromTweets(sr)
	Rank(posts)
	return posts, nil
}

func postsFromTweets(sr twitterSearchResponse) []Post {
	users := make(map[string]twitterUser, len(sr.Includes.Users))
	for _, u := range sr.Includes.Users {
		users[u.ID] = u
	}
	media := make(map[string]twitterMedia, len(sr.Includes.Media))
	for _, m := range sr.Includes.Media {
		media[m.MediaKey] = m
	}

	posts := make([]Post, 0, len(sr.Data))
	for _, tw := range sr.Data {
		m := tw.PublicMetrics
		p := Post{
			ID:       tw.ID,
			Score:    m.LikeCount,
			Shares:   m.RetweetCount,
			Comments: m.ReplyCount,
			Quotes:   m.QuoteCount,
			Source:   TagTwitter,
		}
		if !HasEngagement(p) {
			continue
		}

		user, ok := users[tw.AuthorID]
		if !ok {
			user = twitterUser{Username: "unknown", Name: "Unknown"}
		}

		p.Title = firstLine(tw.Text, twitterTitleRunes)
		p.Content = Truncate(tw.Text)
		p.Author = user.Username
		p.Community = user.Name
		p.URL = fmt.Sprintf("https://twitter.com/%s/status/%s", user.Username, tw.ID)
		p.Permalink = fmt.Sprintf("/%s/status/%s", user.Username, tw.ID)
		p.CreatedUTC = tw.CreatedAt.Unix()
		p.Image = tweetImage(tw, media)
		p.Relevance = TwitterWeights.Relevance(p)
		posts = append(posts, p)
	}
	return posts
}

// tweetImage prefers attached photos, then link preview images.
func tweetImage(tw twitterTweet, media map[string]twitterMedia) string {
	for _, key := range tw.Attachments.MediaKeys {
		if m, ok := media[key]; ok && m.Type == "photo" {
			if m.URL != "" {
				return m.URL
			}
			return m.PreviewImageURL
		}
	}
	for _, u := range tw.Entities.URLs {
		if len(u.Images) > 0 && u.Images[0].URL != "" {
			return u.Images[0].URL
		}
	}
	return ""
}

func firstLine(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

type twitterSearchResponse struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Users []twitterUser  `json:"users"`
		Media []twitterMedia `json:"media"`
	} `json:"includes"`
}

type twitterTweet struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
	PublicMetrics struct {
		LikeCount    int `json:"like_count"`
		RetweetCount int `json:"retweet_count"`
		ReplyCount   int `json:"reply_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
	Entities struct {
		URLs []struct {
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"urls"`
	} `json:"entities"`
}

type twitterUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type twitterMedia struct {
	MediaKey        string `json:"media_key"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
}
