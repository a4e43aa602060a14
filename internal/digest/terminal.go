package digest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/surfwatch/internal/classify"
	"github.com/ppiankov/surfwatch/internal/source"
)

// TerminalFormatter formats a digest for terminal output.
type TerminalFormatter struct {
	color bool
	now   func() time.Time
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color, now: time.Now}
}

// Format writes the digest to w, popular posts first.
func (f *TerminalFormatter) Format(w io.Writer, input Input) error {
	popular, rest := splitPopular(input.Posts)

	header := fmt.Sprintf("surfwatch: %s, community %s, %d posts, sort %s/%s",
		input.Source, communityLabel(input.Community), len(input.Posts), input.Sort, input.Window)
	if input.Cached {
		header += " (cached)"
	}
	fmt.Fprintln(w, f.bold(header))
	if input.Search != "" {
		fmt.Fprintln(w, f.dim(fmt.Sprintf("filter: %q", input.Search)))
	}
	fmt.Fprintln(w)

	if len(input.Posts) == 0 {
		fmt.Fprintln(w, "No posts found.")
		return nil
	}

	if len(popular) > 0 {
		fmt.Fprintln(w, f.green(f.bold(fmt.Sprintf("--- Popular (%d) ---", len(popular)))))
		fmt.Fprintln(w)
		for _, p := range popular {
			f.writeItem(w, p)
		}
	}

	if len(rest) > 0 {
		fmt.Fprintln(w, f.yellow(f.bold(fmt.Sprintf("--- Mentions (%d) ---", len(rest)))))
		fmt.Fprintln(w)
		for _, p := range rest {
			f.writeItem(w, p)
		}
	}

	return nil
}

func (f *TerminalFormatter) writeItem(w io.Writer, p source.Post) {
	labels := ""
	if len(p.Classifications) > 0 {
		names := make([]string, 0, len(p.Classifications))
		for _, id := range p.Classifications {
			names = append(names, classify.Label(id))
		}
		labels = " [" + strings.Join(names, ", ") + "]"
	}

	fmt.Fprintf(w, "  %s %s%s\n",
		f.bold(fmt.Sprintf("[%s]", humanize.Comma(int64(p.Relevance)))),
		p.Title,
		f.dim(labels),
	)

	meta := []string{p.Community}
	if p.Author != "" {
		meta = append(meta, "by "+p.Author)
	}
	if p.CreatedUTC > 0 {
		meta = append(meta, humanize.RelTime(time.Unix(p.CreatedUTC, 0), f.now(), "ago", "from now"))
	}
	meta = append(meta, fmt.Sprintf("%s points, %s comments", humanize.Comma(int64(p.Score)), humanize.Comma(int64(p.Comments))))
	fmt.Fprintf(w, "      %s\n", f.dim(strings.Join(meta, " · ")))

	link := p.Permalink
	if link == "" {
		link = p.URL
	}
	if link != "" {
		fmt.Fprintf(w, "      %s\n", f.dim(link))
	}
	fmt.Fprintln(w)
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
