// Package summarize shortens stored post content for the post summary
// endpoint, through an OpenAI-compatible API or a sentence heuristic.
package summarize

import (
	"context"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/ppiankov/surfwatch/internal/logging"
)

const (
	MethodLLM      = "llm"
	MethodFallback = "fallback"

	// DefaultMaxWords bounds a summary's length.
	DefaultMaxWords = 50
)

var urlRe = regexp.MustCompile(`https?://\S+`)

// Summary holds the result of summarizing a post's text.
type Summary struct {
	Text   string   `json:"summary"`
	Links  []string `json:"links,omitempty"`
	Method string   `json:"method"`
}

// Summarizer produces a summary from post text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) Summary
}

func logger() *zerolog.Logger { return logging.Component("summarize") }
