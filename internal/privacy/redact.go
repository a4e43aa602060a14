// Package privacy scrubs credentials and contact details from post text
// before it reaches the store.
package privacy

import (
	"fmt"
	"regexp"

	"github.com/ppiankov/surfwatch/internal/source"
)

const Placeholder = "[REDACTED]"

// Builtin matches secrets users commonly paste into bug reports.
var Builtin = []string{
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
	`\bsk-[A-Za-z0-9_-]{20,}`,
	`\bgh[pousr]_[A-Za-z0-9]{36,}`,
	`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{16,}`,
	`\bAKIA[0-9A-Z]{16}\b`,
}

// Redactor replaces every match of its patterns. A nil Redactor passes text
// through unchanged.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New compiles patterns, prefixed with Builtin when builtin is set.
func New(patterns []string, builtin bool) (*Redactor, error) {
	all := patterns
	if builtin {
		all = append(append([]string(nil), Builtin...), patterns...)
	}
	compiled := make([]*regexp.Regexp, 0, len(all))
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Redactor{patterns: compiled}, nil
}

// Len returns the number of compiled patterns.
func (r *Redactor) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patterns)
}

// Apply replaces all matches in text with Placeholder.
func (r *Redactor) Apply(text string) string {
	if r == nil {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, Placeholder)
	}
	return text
}

// Post returns p with its title and content redacted.
func (r *Redactor) Post(p source.Post) source.Post {
	p.Title = r.Apply(p.Title)
	p.Content = r.Apply(p.Content)
	return p
}
