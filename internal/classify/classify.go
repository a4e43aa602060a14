package classify

import (
	"context"
	"time"

	"github.com/ppiankov/surfwatch/internal/metrics"
	"github.com/ppiankov/surfwatch/internal/source"
)

// Category identifiers.
const (
	PositiveFeedback  = "positive_feedback"
	Frustration       = "frustration"
	BugReport         = "bug_report"
	FeatureSuggestion = "feature_suggestion"
	TrendingTopic     = "trending_topic"
	Question          = "question"
	Neutral           = "neutral"
)

// Classification methods.
const (
	MethodLLM      = "llm"
	MethodFallback = "fallback"
)

// Category pairs an identifier with its display label.
type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Categories lists every known category in display order.
var Categories = []Category{
	{PositiveFeedback, "🟢 Positive Feedback"},
	{Frustration, "🔴 Frustration"},
	{BugReport, "🐛 Bug Report"},
	{FeatureSuggestion, "🎯 Feature Suggestion"},
	{TrendingTopic, "🔥 Trending Topic"},
	{Question, "❓ Question"},
	{Neutral, "⚪ Neutral"},
}

// Result is the outcome of classifying one post.
type Result struct {
	Labels     []string
	Method     string
	Classified time.Time
}

// Primary returns the most relevant label.
func (r Result) Primary() string {
	if len(r.Labels) == 0 {
		return Neutral
	}
	return r.Labels[0]
}

// Classifier assigns categories to a post.
type Classifier interface {
	Classify(ctx context.Context, p source.Post) Result
}

// Label returns the display label for id, or id itself when unknown.
func Label(id string) string {
	for _, c := range Categories {
		if c.ID == id {
			return c.Label
		}
	}
	return id
}

// Known reports whether id is a known category.
func Known(id string) bool {
	for _, c := range Categories {
		if c.ID == id {
			return true
		}
	}
	return false
}

// filterKnown keeps known categories in order without duplicates and
// defaults to neutral.
func filterKnown(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if Known(l) && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return []string{Neutral}
	}
	return out
}

func record(r Result) Result {
	metrics.Classifications.WithLabelValues(r.Method).Inc()
	return r
}
