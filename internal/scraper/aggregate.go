package scraper

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/ppiankov/surfwatch/internal/source"
)

const (
	// MaxCombinations caps the (community, term) pairs one aggregate scrapes.
	MaxCombinations = 10

	backgroundCommunities = 10
	backgroundTerms       = 2
)

type combo struct {
	community string
	term      string
}

// Aggregate scrapes a shuffled, capped sample of every (community, term)
// pair and merges the results. Failed pairs are skipped. The merged list
// keeps the first occurrence of each post, drops posts without engagement
// and is ranked newest first. An empty merge is not cached.
func (e *Engine) Aggregate(ctx context.Context, communities, terms []string, sort, window string, limit int) []source.Post {
	return e.aggregate(ctx, communities, terms, sort, window, limit, false)
}

func (e *Engine) aggregate(ctx context.Context, communities, terms []string, sort, window string, limit int, noCache bool) []source.Post {
	communities = unique(communities)
	terms = unique(terms)
	sort = source.ParseSort(sort)
	window = source.ParseWindow(window)
	if limit <= 0 {
		limit = source.DefaultLimit
	}

	key := aggregateKey(communities, terms, sort, window, limit)
	if !noCache {
		if posts, ok := e.cache.Get(key); ok {
			return posts
		}
	}

	combos := make([]combo, 0, len(communities)*len(terms))
	for _, c := range communities {
		for _, t := range terms {
			combos = append(combos, combo{community: c, term: t})
		}
	}
	rand.Shuffle(len(combos), func(i, j int) { combos[i], combos[j] = combos[j], combos[i] })
	if len(combos) > MaxCombinations {
		combos = combos[:MaxCombinations]
	}

	var merged []source.Post
	for _, cb := range combos {
		if ctx.Err() != nil {
			break
		}
		posts, err := e.Scrape(ctx, Query{
			Community: cb.community,
			Term:      cb.term,
			Sort:      sort,
			Window:    window,
			Limit:     limit,
			NoCache:   noCache,
		})
		if err != nil {
			logger().Warn().Err(err).Str("community", cb.community).Str("term", cb.term).Msg("scrape failed, skipping")
			continue
		}
		merged = append(merged, source.Score(posts, source.RedditWeights)...)
	}

	merged = source.Dedup(merged)
	source.Rank(merged)

	if len(merged) > 0 {
		e.cache.Put(key, merged)
	}
	logger().Info().Int("combinations", len(combos)).Int("posts", len(merged)).Msg("aggregate complete")
	return merged
}

// Fetch scrapes the requested community, or every configured community,
// for all configured terms. Background requests use a reduced fan-out and
// half the limit. NoCache requests scrape every pair afresh. It never fails.
func (e *Engine) Fetch(ctx context.Context, req source.Request) []source.Post {
	req = req.Normalize()

	communities := e.cfg.Communities
	if req.Community != "" {
		communities = []string{req.Community}
	}
	terms := e.cfg.Terms
	limit := req.Limit

	if req.Background {
		if len(communities) > backgroundCommunities {
			communities = communities[:backgroundCommunities]
		}
		if len(terms) > backgroundTerms {
			terms = terms[:backgroundTerms]
		}
		limit = max(limit/2, 1)
	}

	if len(communities) == 0 || len(terms) == 0 {
		return []source.Post{}
	}

	return e.aggregate(ctx, communities, terms, req.Sort, req.Window, limit, req.NoCache)
}

func aggregateKey(communities, terms []string, sort, window string, limit int) string {
	return strings.Join([]string{
		"multiple",
		strings.Join(communities, ","),
		strings.Join(terms, ","),
		sort,
		window,
		strconv.Itoa(limit),
	}, ":")
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
