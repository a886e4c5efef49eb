// Package metrics collects counters for a crawl run.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates metrics.
type Collector struct {
	// Counters
	pagesProcessed     atomic.Int64
	pagesSucceeded     atomic.Int64
	navigationFailures atomic.Int64
	extractionFailures atomic.Int64
	pagesSkipped       atomic.Int64
	robotsBlocked      atomic.Int64
	linksDiscovered    atomic.Int64
	linksAdmitted      atomic.Int64
	screenshots        atomic.Int64
	rotations          atomic.Int64
	rotationFailures   atomic.Int64

	// Navigation time tracking
	pageTimeSum atomic.Int64
	pageTimeNum atomic.Int64

	// Histogram buckets for page times in ms: <250, <500, <1000, <2500, <5000, <10000, <30000, >=30000
	pageTimeBuckets [8]atomic.Int64

	// Depth breakdown
	depthCounts map[int]*atomic.Int64
	depthMu     sync.RWMutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		depthCounts: make(map[int]*atomic.Int64),
		startTime:   time.Now(),
	}
}

// RecordPage records a processed page at depth and how long it took.
func (c *Collector) RecordPage(depth int, d time.Duration) {
	c.pagesProcessed.Add(1)

	ms := d.Milliseconds()
	c.pageTimeSum.Add(ms)
	c.pageTimeNum.Add(1)
	c.pageTimeBuckets[getBucket(ms)].Add(1)

	c.depthMu.Lock()
	if c.depthCounts[depth] == nil {
		c.depthCounts[depth] = &atomic.Int64{}
	}
	c.depthCounts[depth].Add(1)
	c.depthMu.Unlock()
}

// getBucket returns the histogram bucket for a given page time.
func getBucket(ms int64) int {
	switch {
	case ms < 250:
		return 0
	case ms < 500:
		return 1
	case ms < 1000:
		return 2
	case ms < 2500:
		return 3
	case ms < 5000:
		return 4
	case ms < 10000:
		return 5
	case ms < 30000:
		return 6
	default:
		return 7
	}
}

// RecordSuccess increments fully processed pages.
func (c *Collector) RecordSuccess() {
	c.pagesSucceeded.Add(1)
}

// RecordNavigationFailure increments pages that failed to load.
func (c *Collector) RecordNavigationFailure() {
	c.navigationFailures.Add(1)
}

// RecordExtractionFailure increments pages whose extractor failed.
func (c *Collector) RecordExtractionFailure() {
	c.extractionFailures.Add(1)
}

// RecordSkipped increments pages refused by the processor guard.
func (c *Collector) RecordSkipped() {
	c.pagesSkipped.Add(1)
}

// RecordRobotsBlocked increments URLs disallowed by robots.txt.
func (c *Collector) RecordRobotsBlocked() {
	c.robotsBlocked.Add(1)
}

// RecordLinks records discovered candidate links and how many were admitted.
func (c *Collector) RecordLinks(discovered, admitted int) {
	c.linksDiscovered.Add(int64(discovered))
	c.linksAdmitted.Add(int64(admitted))
}

// RecordScreenshot increments saved screenshots.
func (c *Collector) RecordScreenshot() {
	c.screenshots.Add(1)
}

// RecordRotation records a rotation attempt.
func (c *Collector) RecordRotation(ok bool) {
	if ok {
		c.rotations.Add(1)
		return
	}
	c.rotationFailures.Add(1)
}

// AveragePageTime returns the average time spent per page.
func (c *Collector) AveragePageTime() time.Duration {
	sum := c.pageTimeSum.Load()
	num := c.pageTimeNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(c.startTime),
		PagesProcessed:     c.pagesProcessed.Load(),
		PagesSucceeded:     c.pagesSucceeded.Load(),
		NavigationFailures: c.navigationFailures.Load(),
		ExtractionFailures: c.extractionFailures.Load(),
		PagesSkipped:       c.pagesSkipped.Load(),
		RobotsBlocked:      c.robotsBlocked.Load(),
		LinksDiscovered:    c.linksDiscovered.Load(),
		LinksAdmitted:      c.linksAdmitted.Load(),
		Screenshots:        c.screenshots.Load(),
		Rotations:          c.rotations.Load(),
		RotationFailures:   c.rotationFailures.Load(),
		AveragePageTime:    c.AveragePageTime(),
		PagesByDepth:       make(map[int]int64),
		PageTimeHist:       make([]int64, len(c.pageTimeBuckets)),
	}

	c.depthMu.RLock()
	for k, v := range c.depthCounts {
		s.PagesByDepth[k] = v.Load()
	}
	c.depthMu.RUnlock()

	for i := range c.pageTimeBuckets {
		s.PageTimeHist[i] = c.pageTimeBuckets[i].Load()
	}

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp          time.Time     `json:"timestamp"`
	Uptime             time.Duration `json:"uptime"`
	PagesProcessed     int64         `json:"pages_processed"`
	PagesSucceeded     int64         `json:"pages_succeeded"`
	NavigationFailures int64         `json:"navigation_failures"`
	ExtractionFailures int64         `json:"extraction_failures"`
	PagesSkipped       int64         `json:"pages_skipped"`
	RobotsBlocked      int64         `json:"robots_blocked"`
	LinksDiscovered    int64         `json:"links_discovered"`
	LinksAdmitted      int64         `json:"links_admitted"`
	Screenshots        int64         `json:"screenshots"`
	Rotations          int64         `json:"rotations"`
	RotationFailures   int64         `json:"rotation_failures"`
	AveragePageTime    time.Duration `json:"average_page_time"`
	PagesByDepth       map[int]int64 `json:"pages_by_depth"`
	PageTimeHist       []int64       `json:"page_time_histogram"`
}

// Failures returns the number of pages that ended in the failed state.
func (s *Snapshot) Failures() int64 {
	return s.NavigationFailures + s.ExtractionFailures
}

// FailureRate returns failed pages over processed pages.
func (s *Snapshot) FailureRate() float64 {
	if s.PagesProcessed == 0 {
		return 0
	}
	return float64(s.Failures()) / float64(s.PagesProcessed)
}

// Summary returns a flat map suitable for structured logging.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":              s.Uptime.String(),
		"pages_processed":     s.PagesProcessed,
		"pages_succeeded":     s.PagesSucceeded,
		"navigation_failures": s.NavigationFailures,
		"extraction_failures": s.ExtractionFailures,
		"failure_rate":        s.FailureRate(),
		"robots_blocked":      s.RobotsBlocked,
		"links_discovered":    s.LinksDiscovered,
		"links_admitted":      s.LinksAdmitted,
		"rotations":           s.Rotations,
		"avg_page_time_ms":    s.AveragePageTime.Milliseconds(),
	}
}
