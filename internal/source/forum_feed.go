package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/surfwatch/internal/ratelimit"
)

const feedMaxRetries = 3

// feedSleepFunc is the delay between feed retries. Tests override it.
var feedSleepFunc ratelimit.SleepFunc = ratelimit.Sleep

// latestFromFeed reads /latest.rss when the JSON listing cannot be used.
func (fs *ForumSource) latestFromFeed(ctx context.Context, limit int) ([]Post, error) {
	var lastErr error
	for attempt := range feedMaxRetries {
		feed, err := fs.fetchFeed(ctx)
		if err == nil {
			return fs.postsFromFeed(feed, limit), nil
		}
		lastErr = err
		if attempt == feedMaxRetries-1 {
			break
		}
		if err := feedSleepFunc(ctx, time.Duration(1<<uint(attempt))*time.Second); err != nil {
			break
		}
	}
	return nil, fmt.Errorf("forum feed: %w", lastErr)
}

func (fs *ForumSource) fetchFeed(ctx context.Context) (*gofeed.Feed, error) {
	if err := fs.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	fp := gofeed.NewParser()
	fp.Client = fs.client
	fp.UserAgent = forumUserAgent
	feed, err := fp.ParseURLWithContext(fs.baseURL+"/latest.rss", ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch latest.rss: %w", err)
	}
	return feed, nil
}

func (fs *ForumSource) postsFromFeed(feed *gofeed.Feed, limit int) []Post {
	posts := make([]Post, 0, min(limit, len(feed.Items)))
	for _, item := range feed.Items {
		if len(posts) == limit {
			break
		}
		id, slug := topicRef(item.Link)
		if id == 0 {
			continue
		}

		var created int64
		if t := itemPublishedTime(item); !t.IsZero() {
			created = t.Unix()
		}
		author := ""
		if item.Author != nil {
			author = item.Author.Name
		}
		if author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			author = item.Authors[0].Name
		}
		category := unknownCategory
		if len(item.Categories) > 0 {
			category = item.Categories[0]
		}

		posts = append(posts, Post{
			ID:         strconv.Itoa(id),
			Title:      strings.TrimSpace(item.Title),
			Content:    Truncate(htmlText(item.Description)),
			URL:        fs.topicURL(slug, id),
			Permalink:  fmt.Sprintf("/t/%s/%d", slug, id),
			CreatedUTC: created,
			Author:     strings.TrimPrefix(author, "@"),
			Community:  category,
			Source:     TagForum,
		})
	}
	return posts
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

// topicRef extracts the numeric id and slug from a /t/{slug}/{id} link.
func topicRef(link string) (int, string) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "t" {
		return 0, ""
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, ""
	}
	return id, parts[1]
}
