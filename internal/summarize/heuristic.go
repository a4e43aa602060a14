package summarize

import (
	"context"
	"strings"
)

// Heuristic keeps leading sentences until the word budget runs out.
type Heuristic struct {
	maxWords int
}

// NewHeuristic creates a heuristic summarizer. maxWords <= 0 selects
// DefaultMaxWords.
func NewHeuristic(maxWords int) *Heuristic {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	return &Heuristic{maxWords: maxWords}
}

func (h *Heuristic) Summarize(_ context.Context, text string) Summary {
	text = strings.TrimSpace(text)
	return Summary{
		Text:   leadingSentences(text, h.maxWords),
		Links:  urlRe.FindAllString(text, -1),
		Method: MethodFallback,
	}
}

// leadingSentences joins whole sentences while they fit in maxWords. A first
// sentence longer than the budget is cut at a word boundary.
func leadingSentences(text string, maxWords int) string {
	var (
		out   []string
		words int
	)
	for _, sent := range splitSentences(urlRe.ReplaceAllString(text, "")) {
		n := len(strings.Fields(sent))
		if n == 0 {
			continue
		}
		if words+n > maxWords {
			if len(out) == 0 {
				return strings.Join(strings.Fields(sent)[:maxWords], " ") + "..."
			}
			break
		}
		out = append(out, strings.Join(strings.Fields(sent), " "))
		words += n
	}
	return strings.Join(out, " ")
}

// splitSentences splits text into sentences at ". ", "! ", "? " or newline
// boundaries.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\n' {
			flush()
			continue
		}
		current.WriteByte(c)
		if (c == '.' || c == '!' || c == '?') && i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n') {
			flush()
		}
	}
	flush()

	return sentences
}
