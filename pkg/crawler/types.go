// Package crawler provides the breadth-first browser crawler: configuration,
// functional options and the orchestrator that drives a crawl.
package crawler

import (
	"time"

	"github.com/PentesterFlow/webcrawler/internal/metrics"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// Result represents the outcome of a crawl session.
type Result struct {
	StartURL    string        `json:"start_url"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Records     []page.Record `json:"records"`
	Stats       CrawlStats    `json:"stats"`
	Errors      []CrawlError  `json:"errors,omitempty"`
	// OutputPath is where the report was written.
	OutputPath string `json:"output_path,omitempty"`
	// Interrupted is set when the crawl was cancelled before finishing.
	Interrupted bool `json:"interrupted,omitempty"`
	// Resumable is set when a checkpoint with pending work was saved.
	Resumable bool `json:"resumable,omitempty"`

	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
}

// Duration returns how long the crawl ran.
func (r *Result) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// CrawlStats contains statistics about the crawl.
type CrawlStats struct {
	// Visited is the number of admitted URLs, processed or still queued.
	Visited int `json:"visited"`
	// Processed counts pages that were navigated, failed ones included.
	Processed     int `json:"processed"`
	Failed        int `json:"failed"`
	RobotsBlocked int `json:"robots_blocked"`
	Rotations     int `json:"rotations"`
	// Depth is the deepest level reached.
	Depth int `json:"depth"`
	// Pending is the number of admitted URLs left unprocessed.
	Pending int `json:"pending"`
}

// CrawlError represents an error encountered during crawling.
type CrawlError struct {
	URL       string    `json:"url"`
	Depth     int       `json:"depth"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}
