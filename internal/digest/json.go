package digest

import (
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/ppiankov/surfwatch/internal/source"
)

type jsonDigest struct {
	Posts    []source.Post `json:"posts"`
	Metadata jsonMeta      `json:"metadata"`
}

type jsonMeta struct {
	TotalPosts int    `json:"total_posts"`
	Community  string `json:"subreddit"`
	SearchTerm string `json:"search_term"`
	Sort       string `json:"sort"`
	Window     string `json:"time_filter"`
	Timestamp  string `json:"timestamp"`
	FromCache  bool   `json:"from_cache"`
	Source     string `json:"source"`
}

// JSONFormatter formats a digest as JSON, in the same shape the
// posts endpoint serves.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the digest as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, input Input) error {
	posts := input.Posts
	if posts == nil {
		posts = []source.Post{}
	}
	generated := input.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	out := jsonDigest{
		Posts: posts,
		Metadata: jsonMeta{
			TotalPosts: len(posts),
			Community:  communityLabel(input.Community),
			SearchTerm: input.Search,
			Sort:       input.Sort,
			Window:     input.Window,
			Timestamp:  generated.UTC().Format(time.RFC3339),
			FromCache:  input.Cached,
			Source:     input.Source,
		},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
