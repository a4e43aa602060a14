package classify

import (
	"context"
	"strings"
	"testing"

	"github.com/ppiankov/surfwatch/internal/source"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		post source.Post
		want string
	}{
		{"bug", source.Post{Title: "Autocomplete stopped working after update"}, "bug_report"},
		{"frustration", source.Post{Title: "This is so annoying"}, "frustration"},
		{"feature", source.Post{Title: "Feature request: vim bindings"}, "feature_suggestion"},
		{"positive", source.Post{Content: "I love the new agent mode"}, "positive_feedback"},
		{"question mark", source.Post{Title: "Windsurf or Cursor?"}, "question"},
		{"how to", source.Post{Title: "How to reset settings"}, "question"},
		{"nothing", source.Post{Title: "Release notes 1.2"}, "neutral"},
		{"popular", source.Post{Title: "Release notes 1.2", Popular: true}, "trending_topic"},
		{"several", source.Post{Title: "Crash on start, terrible", Popular: true}, "bug_report,frustration,trending_topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(Keywords(tt.post), ",")
			if got != tt.want {
				t.Errorf("Keywords = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeuristic_Classify(t *testing.T) {
	r := NewHeuristic().Classify(context.Background(), source.Post{Title: "Thanks for the fix"})
	if r.Method != MethodFallback || r.Primary() != PositiveFeedback {
		t.Errorf("result = %+v", r)
	}
}

func TestKnown(t *testing.T) {
	for _, c := range Categories {
		if !Known(c.ID) {
			t.Errorf("%s not known", c.ID)
		}
	}
	if Known("spam") {
		t.Error("spam should not be known")
	}
	if (Result{}).Primary() != Neutral {
		t.Error("empty result primary should be neutral")
	}
}

func TestLabel(t *testing.T) {
	if got := Label(BugReport); got != "🐛 Bug Report" {
		t.Errorf("Label(bug_report) = %q", got)
	}
	if got := Label("spam"); got != "spam" {
		t.Errorf("Label(spam) = %q, want spam", got)
	}
}
