// Package useragent rotates browser identities for the HTML scraper,
// preferring the identity that has failed least.
package useragent

import (
	"sync"
)

// Failure penalties by outcome.
const (
	PenaltyThrottled = 5
	PenaltyTransport = 3
	PenaltyHTTP      = 1
)

// Defaults is the built-in identity pool.
var Defaults = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36 Edg/91.0.864.59",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (Android 11; Mobile; rv:68.0) Gecko/68.0 Firefox/89.0",
}

// Agent is one identity. Hold its lock for the duration of a request.
type Agent struct {
	Name string

	mu       sync.Mutex
	failures int
}

// Lock reserves the identity for one request.
func (a *Agent) Lock() { a.mu.Lock() }

// Unlock releases the identity.
func (a *Agent) Unlock() { a.mu.Unlock() }

// Rotator selects identities by failure count.
type Rotator struct {
	mu     sync.Mutex
	agents []*Agent
}

// New creates a rotator over names, or over Defaults when names is empty.
func New(names []string) *Rotator {
	if len(names) == 0 {
		names = Defaults
	}
	agents := make([]*Agent, 0, len(names))
	for _, n := range names {
		agents = append(agents, &Agent{Name: n})
	}
	return &Rotator{agents: agents}
}

// Select returns the identity with the fewest failures. Ties go to the
// earlier entry in the pool.
func (r *Rotator) Select() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := r.agents[0]
	for _, a := range r.agents[1:] {
		if a.failures < best.failures {
			best = a
		}
	}
	return best
}

// Penalize adds n failures to a.
func (r *Rotator) Penalize(a *Agent, n int) {
	r.mu.Lock()
	a.failures += n
	r.mu.Unlock()
}

// Reward removes one failure from a, never going below zero.
func (r *Rotator) Reward(a *Agent) {
	r.mu.Lock()
	if a.failures > 0 {
		a.failures--
	}
	r.mu.Unlock()
}

// Failures returns the counter for the named identity, or -1 when unknown.
func (r *Rotator) Failures(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.Name == name {
			return a.failures
		}
	}
	return -1
}

// Len returns the pool size.
func (r *Rotator) Len() int {
	return len(r.agents)
}
