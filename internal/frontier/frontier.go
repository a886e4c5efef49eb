// Package frontier owns the set of admitted URLs and the breadth-first queue
// of URLs waiting to be processed.
package frontier

import (
	"net/url"

	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/logger"
)

// Budget bounds a crawl. It is fixed when the crawl starts.
type Budget struct {
	MaxDepth int `json:"max_depth"`
	MaxPages int `json:"max_pages"`
}

// Entry is a URL waiting to be processed at a depth.
type Entry struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// Snapshot is the persisted form of a frontier.
type Snapshot struct {
	Visited []string `json:"visited"`
	Pending []Entry  `json:"pending"`
}

// Frontier admits URLs at most once and hands them out one depth level at a
// time. URLs are marked visited when admitted, not when processed, so a URL
// discovered twice within a level is queued once.
//
// Frontier is driven by a single traversal loop.
type Frontier struct {
	budget  Budget
	start   string
	host    string
	visited *VisitedSet
	pending []Entry
	log     *logger.Logger
}

// New creates a frontier scoped to the host of startURL. The start URL is
// not admitted; callers seed it with Admit(start, 0).
func New(startURL string, budget Budget, log *logger.Logger) (*Frontier, error) {
	start, err := Normalize(startURL)
	if err != nil {
		return nil, crawlerrors.NewConfigurationError("start_url", "start URL must be an absolute http(s) URL", err)
	}
	if budget.MaxPages < 1 {
		return nil, crawlerrors.NewConfigurationError("max_pages", "max pages must be at least 1", nil)
	}
	if budget.MaxDepth < 0 {
		return nil, crawlerrors.NewConfigurationError("max_depth", "max depth must not be negative", nil)
	}

	u, _ := url.Parse(start)
	return &Frontier{
		budget:  budget,
		start:   start,
		host:    u.Host,
		visited: NewVisitedSet(budget.MaxPages),
		log:     logger.OrNop(log),
	}, nil
}

// Restore rebuilds a frontier from a snapshot.
func Restore(startURL string, budget Budget, snap Snapshot, log *logger.Logger) (*Frontier, error) {
	f, err := New(startURL, budget, log)
	if err != nil {
		return nil, err
	}
	for _, u := range snap.Visited {
		f.visited.Add(u)
	}
	f.pending = append(f.pending, snap.Pending...)
	return f, nil
}

// Start returns the normalized start URL.
func (f *Frontier) Start() string {
	return f.start
}

// Budget returns the crawl budget.
func (f *Frontier) Budget() Budget {
	return f.budget
}

func (f *Frontier) inScope(normalized string) bool {
	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	return u.Host == f.host
}

// Admit queues rawURL at depth unless it is out of scope, already visited,
// deeper than the budget allows, or the page budget is used up. An admitted
// URL is marked visited immediately.
func (f *Frontier) Admit(rawURL string, depth int) bool {
	n, err := Normalize(rawURL)
	if err != nil {
		f.log.Debugf("Dropping %s: %v", rawURL, err)
		return false
	}
	if !f.inScope(n) {
		f.log.Debugf("Dropping out-of-scope %s", n)
		return false
	}
	if depth > f.budget.MaxDepth {
		return false
	}
	if f.visited.Contains(n) {
		return false
	}
	if f.visited.Len() >= f.budget.MaxPages {
		return false
	}

	f.visited.Add(n)
	f.pending = append(f.pending, Entry{URL: n, Depth: depth})
	return true
}

// NextLevel drains and returns the pending entries of the shallowest queued
// depth, in admission order.
func (f *Frontier) NextLevel() []Entry {
	if len(f.pending) == 0 {
		return nil
	}

	depth := f.pending[0].Depth
	n := 0
	for n < len(f.pending) && f.pending[n].Depth == depth {
		n++
	}

	level := make([]Entry, n)
	copy(level, f.pending[:n])
	f.pending = append(f.pending[:0:0], f.pending[n:]...)
	return level
}

// Visited reports whether rawURL has been admitted.
func (f *Frontier) Visited(rawURL string) bool {
	n, err := Normalize(rawURL)
	if err != nil {
		return false
	}
	return f.visited.Contains(n)
}

// VisitedCount returns the number of admitted URLs.
func (f *Frontier) VisitedCount() int {
	return f.visited.Len()
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	return len(f.pending)
}

// Exhausted reports whether the page budget is fully admitted.
func (f *Frontier) Exhausted() bool {
	return f.visited.Len() >= f.budget.MaxPages
}

// Snapshot captures the visited set and the queued entries. Entries handed
// out by NextLevel but not yet processed are passed as unfinished and queued
// ahead of the pending ones.
func (f *Frontier) Snapshot(unfinished []Entry) Snapshot {
	pending := make([]Entry, 0, len(unfinished)+len(f.pending))
	pending = append(pending, unfinished...)
	pending = append(pending, f.pending...)
	return Snapshot{
		Visited: f.visited.All(),
		Pending: pending,
	}
}
