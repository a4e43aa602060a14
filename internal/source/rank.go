package source

import "sort"

// Weights turns engagement counters into a relevance score.
type Weights struct {
	Score    float64
	Comments float64
	Shares   float64
	Quotes   float64
}

var (
	// RedditWeights: score + 2*comments.
	RedditWeights = Weights{Score: 1, Comments: 2}

	// TwitterWeights: likes + 2*retweets + 1.5*replies + 1.5*quotes.
	TwitterWeights = Weights{Score: 1, Shares: 2, Comments: 1.5, Quotes: 1.5}
)

// Relevance computes the weighted engagement of p, floored at zero.
func (w Weights) Relevance(p Post) float64 {
	r := float64(p.Score)*w.Score +
		float64(p.Comments)*w.Comments +
		float64(p.Shares)*w.Shares +
		float64(p.Quotes)*w.Quotes
	if r < 0 {
		return 0
	}
	return r
}

// HasEngagement reports whether any engagement counter is positive.
// A downvoted post with no other activity has none.
func HasEngagement(p Post) bool {
	return p.Score > 0 || p.Comments > 0 || p.Shares > 0 || p.Quotes > 0
}

// Score drops posts without engagement and sets Relevance on the rest.
func Score(posts []Post, w Weights) []Post {
	out := posts[:0:0]
	for _, p := range posts {
		if !HasEngagement(p) {
			continue
		}
		p.Relevance = w.Relevance(p)
		out = append(out, p)
	}
	return out
}

// Rank orders posts newest first, breaking ties by relevance.
func Rank(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedUTC != posts[j].CreatedUTC {
			return posts[i].CreatedUTC > posts[j].CreatedUTC
		}
		return posts[i].Relevance > posts[j].Relevance
	})
}

// Dedup keeps the first occurrence of every post key.
func Dedup(posts []Post) []Post {
	seen := make(map[string]struct{}, len(posts))
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
