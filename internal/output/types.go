package output

import (
	"time"

	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// Metadata describes a crawl run.
type Metadata struct {
	URLsCrawled int    `json:"urls_crawled"`
	MaxDepth    int    `json:"max_depth"`
	Timestamp   string `json:"timestamp"`
	StartURL    string `json:"start_url,omitempty"`
	Records     int    `json:"records,omitempty"`
	Failed      int    `json:"failed,omitempty"`
	Rotations   int    `json:"rotations,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// Report is the persisted result of a crawl.
type Report struct {
	Metadata Metadata      `json:"metadata"`
	Data     []page.Record `json:"data"`
}

// NewReport creates a report stamped with now.
func NewReport(startURL string, urlsCrawled, maxDepth int, records []page.Record, now time.Time) *Report {
	if records == nil {
		records = []page.Record{}
	}
	return &Report{
		Metadata: Metadata{
			URLsCrawled: urlsCrawled,
			MaxDepth:    maxDepth,
			Timestamp:   now.Format(time.RFC3339Nano),
			StartURL:    startURL,
			Records:     len(records),
		},
		Data: records,
	}
}
