package digest

import (
	"io"
	"time"

	"github.com/ppiankov/surfwatch/internal/source"
)

// Input is the full input for a digest formatter.
type Input struct {
	Posts       []source.Post
	Source      string // "api", "scraper", "twitter", "cursor_forum"
	Community   string // empty means every configured community
	Sort        string
	Window      string
	Search      string
	Cached      bool
	GeneratedAt time.Time
}

// Formatter writes a formatted digest to w.
type Formatter interface {
	Format(w io.Writer, input Input) error
}

// splitPopular separates posts flagged popular from the rest, keeping order.
func splitPopular(posts []source.Post) (popular, rest []source.Post) {
	for _, p := range posts {
		if p.Popular {
			popular = append(popular, p)
		} else {
			rest = append(rest, p)
		}
	}
	return
}

func communityLabel(c string) string {
	if c == "" {
		return "all"
	}
	return c
}
