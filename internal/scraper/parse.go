package scraper

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ppiankov/surfwatch/internal/source"
)

const (
	postBaseURL   = "https://reddit.com"
	deletedAuthor = "[deleted]"
	untitled      = "No title"
)

var digitsRe = regexp.MustCompile(`\d+`)

// Parse extracts posts from an old-style search results page. Entries
// without an identifier are skipped. now stamps posts whose page carries
// no timestamp.
func Parse(r io.Reader, community string, now time.Time) ([]source.Post, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var posts []source.Post
	doc.Find("div.thing, div.search-result-link").Each(func(_ int, s *goquery.Selection) {
		p, ok := parseThing(s, community, now)
		if !ok {
			logger().Debug().Str("community", community).Msg("skipping result without id")
			return
		}
		posts = append(posts, p)
	})
	return posts, nil
}

func parseThing(s *goquery.Selection, community string, now time.Time) (source.Post, bool) {
	id := strings.TrimPrefix(s.AttrOr("data-fullname", ""), "t3_")
	if id == "" {
		return source.Post{}, false
	}

	titleSel := s.Find("a.title, a.search-title").First()
	title := strings.TrimSpace(titleSel.Text())
	if title == "" {
		title = untitled
	}

	permalink := normalizePermalink(titleSel.AttrOr("href", ""), community, id)

	author := strings.TrimSpace(s.Find("a.author").First().Text())
	if author == "" {
		author = deletedAuthor
	}

	return source.Post{
		ID:         id,
		Title:      title,
		Content:    source.Truncate(strings.TrimSpace(s.Find("div.search-result-snippet, div.md").First().Text())),
		URL:        postBaseURL + permalink,
		Permalink:  permalink,
		CreatedUTC: parseCreated(s, now),
		Author:     author,
		Community:  community,
		Score:      parseScore(s),
		Comments:   parseComments(s),
		Image:      parseImage(s),
		Source:     source.TagScraper,
	}, true
}

// normalizePermalink turns a result href into a site-relative path.
// External links get a synthetic comments path.
func normalizePermalink(href, community, id string) string {
	switch {
	case strings.HasPrefix(href, "/r/"):
		return href
	case strings.HasPrefix(href, "http"):
		if _, rest, ok := strings.Cut(href, "reddit.com"); ok && rest != "" {
			return rest
		}
	}
	return fmt.Sprintf("/r/%s/comments/%s/", community, id)
}

func parseScore(s *goquery.Selection) int {
	if v, ok := s.Attr("data-score"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v, ok := s.Find("div.score.unvoted").First().Attr("title"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	if m := digitsRe.FindString(s.Find("span.search-score").First().Text()); m != "" {
		n, _ := strconv.Atoi(m)
		return n
	}
	return 0
}

func parseComments(s *goquery.Selection) int {
	if v, ok := s.Attr("data-comments-count"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	text := s.Find("a.comments, a.search-comments").First().Text()
	if m := digitsRe.FindString(strings.ReplaceAll(text, ",", "")); m != "" {
		n, _ := strconv.Atoi(m)
		return n
	}
	return 0
}

func parseCreated(s *goquery.Selection, now time.Time) int64 {
	if v, ok := s.Attr("data-timestamp"); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			return ms / 1000
		}
	}
	if v, ok := s.Find("time").First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts.Unix()
		}
	}
	return now.Unix()
}

func parseImage(s *goquery.Selection) string {
	src, ok := s.Find("a.thumbnail img").First().Attr("src")
	if !ok || src == "" || src == "self" || src == "default" {
		return ""
	}
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	return strings.Replace(src, "thumbnail", "preview", 1)
}
