package classify

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/ppiankov/surfwatch/internal/source"
)

var keywordRules = []struct {
	category string
	keywords []string
}{
	{BugReport, []string{"bug", "crash", "error", "broken", "doesn't work", "not working", "stopped working", "fails", "regression"}},
	{Frustration, []string{"frustrat", "annoying", "terrible", "worst", "useless", "hate", "disappointed", "waste of"}},
	{FeatureSuggestion, []string{"feature request", "would be nice", "please add", "suggestion", "it would be great", "wish it"}},
	{PositiveFeedback, []string{"love", "awesome", "amazing", "great job", "thank you", "thanks", "impressed", "game changer"}},
	{Question, []string{"how do i", "how to", "is there a way", "anyone know", "can i ", "why does"}},
}

// Heuristic classifies posts by keyword matching on title and content.
type Heuristic struct {
	now func() time.Time
}

func NewHeuristic() *Heuristic {
	return &Heuristic{now: time.Now}
}

// Classify never fails. Popular posts are also tagged trending_topic.
func (h *Heuristic) Classify(_ context.Context, p source.Post) Result {
	return record(Result{
		Labels:     Keywords(p),
		Method:     MethodFallback,
		Classified: h.now().UTC(),
	})
}

// Keywords returns the keyword-derived labels for p.
func Keywords(p source.Post) []string {
	text := strings.ToLower(p.Title + "\n" + p.Content)

	var labels []string
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				labels = append(labels, rule.category)
				break
			}
		}
	}
	if strings.HasSuffix(strings.TrimSpace(p.Title), "?") && !slices.Contains(labels, Question) {
		labels = append(labels, Question)
	}
	if p.Popular {
		labels = append(labels, TrendingTopic)
	}
	return filterKnown(labels)
}
