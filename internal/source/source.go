package source

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Source tags carried by every normalized post.
const (
	TagReddit  = "reddit"
	TagScraper = "scraper"
	TagTwitter = "twitter"
	TagForum   = "cursor_forum"
)

const (
	DefaultSort   = "hot"
	DefaultWindow = "all"
	DefaultLimit  = 100

	// MaxContentLen caps post bodies; longer content is cut and marked with "...".
	MaxContentLen = 500
)

var (
	validSorts   = []string{"hot", "new", "top", "relevance"}
	validWindows = []string{"all", "day", "week", "month", "year"}
)

// Post is the normalized shape shared by every data source.
type Post struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	URL             string   `json:"url"`
	Permalink       string   `json:"permalink"`
	CreatedUTC      int64    `json:"created_utc"`
	Author          string   `json:"author"`
	Community       string   `json:"subreddit"`
	Score           int      `json:"score"`
	Comments        int      `json:"num_comments"`
	Shares          int      `json:"shares,omitempty"`
	Quotes          int      `json:"quotes,omitempty"`
	Views           int      `json:"views,omitempty"`
	Image           string   `json:"image,omitempty"`
	Popular         bool     `json:"popular,omitempty"`
	Relevance       float64  `json:"relevance_score"`
	Source          string   `json:"source"`
	Classifications []string `json:"classifications,omitempty"`
}

// Key identifies a post across sources.
func (p Post) Key() string {
	return p.Source + ":" + p.ID
}

// Request describes one fetch against a community-based source.
type Request struct {
	Community  string // empty means every configured community
	Sort       string
	Window     string
	Limit      int
	Background bool // reduced fan-out for the refresher
	NoCache    bool // skip cache reads; fresh results are still stored
}

// Normalize fills defaults for empty or unknown sort, window and limit values.
func (r Request) Normalize() Request {
	r.Community = strings.TrimSpace(r.Community)
	r.Sort = ParseSort(r.Sort)
	r.Window = ParseWindow(r.Window)
	if r.Limit <= 0 {
		r.Limit = DefaultLimit
	}
	return r
}

// Fetcher returns posts for a request. Implementations never fail; an
// unreachable source yields an empty slice.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) []Post
}

// ParseSort returns s when it is a known sort order and DefaultSort otherwise.
func ParseSort(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, v := range validSorts {
		if s == v {
			return s
		}
	}
	return DefaultSort
}

// ParseWindow returns w when it is a known time window and DefaultWindow otherwise.
func ParseWindow(w string) string {
	w = strings.ToLower(strings.TrimSpace(w))
	for _, v := range validWindows {
		if w == v {
			return w
		}
	}
	return DefaultWindow
}

// Truncate cuts s to MaxContentLen runes, appending "..." when it was cut.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxContentLen {
		return s
	}
	count := 0
	for i := range s {
		if count == MaxContentLen {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
