package redditapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/loganintech/go-reddit/v2/reddit"

	"github.com/ppiankov/surfwatch/internal/source"
)

const DefaultUserAgent = "surfwatch/1.0 (mention monitor)"

var (
	// ErrNoCredentials means the official API cannot be used at all.
	ErrNoCredentials = errors.New("reddit api: missing client credentials")

	// ErrQuota means the API refused the call for rate or quota reasons.
	ErrQuota = errors.New("reddit api: quota exceeded")
)

// SearchOptions narrows one community search.
type SearchOptions struct {
	Sort   string
	Window string
	Limit  int
}

// Searcher runs a search inside one community.
type Searcher interface {
	Search(ctx context.Context, community, query string, opts SearchOptions) ([]source.Post, error)
}

// Credentials for a script-type application.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Valid reports whether the application credentials are present.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// RedditSearcher is the go-reddit backed Searcher.
type RedditSearcher struct {
	client *reddit.Client
}

// NewRedditSearcher builds an authenticated client. It returns
// ErrNoCredentials when the application credentials are missing.
func NewRedditSearcher(creds Credentials, userAgent string) (*RedditSearcher, error) {
	if !creds.Valid() {
		return nil, ErrNoCredentials
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	client, err := reddit.NewClient(reddit.Credentials{
		ID:       creds.ClientID,
		Secret:   creds.ClientSecret,
		Username: creds.Username,
		Password: creds.Password,
	}, reddit.WithUserAgent(userAgent))
	if err != nil {
		return nil, fmt.Errorf("create reddit client: %w", err)
	}
	return &RedditSearcher{client: client}, nil
}

func (rs *RedditSearcher) Search(ctx context.Context, community, query string, opts SearchOptions) ([]source.Post, error) {
	posts, _, err := rs.client.Subreddit.SearchPosts(ctx, query, community, &reddit.ListPostSearchOptions{
		ListPostOptions: reddit.ListPostOptions{
			ListOptions: reddit.ListOptions{Limit: opts.Limit},
			Time:        opts.Window,
		},
		Sort: opts.Sort,
	})
	if err != nil {
		if isQuota(err) {
			return nil, fmt.Errorf("search r/%s: %w", community, ErrQuota)
		}
		return nil, fmt.Errorf("search r/%s: %w", community, err)
	}

	out := make([]source.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, convertPost(p, community))
	}
	return out, nil
}

func isQuota(err error) bool {
	var rle *reddit.RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var er *reddit.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func convertPost(p *reddit.Post, community string) source.Post {
	var created int64
	if p.Created != nil {
		created = p.Created.Time.Unix()
	}
	if p.SubredditName != "" {
		community = p.SubredditName
	}
	return source.Post{
		ID:         p.ID,
		Title:      p.Title,
		Content:    p.Body,
		URL:        p.URL,
		Permalink:  p.Permalink,
		CreatedUTC: created,
		Author:     p.Author,
		Community:  community,
		Score:      p.Score,
		Comments:   p.NumberOfComments,
		Source:     source.TagReddit,
	}
}
