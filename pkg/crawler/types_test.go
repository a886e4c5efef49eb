package crawler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/PentesterFlow/webcrawler/pkg/page"
)

func TestResult_Duration(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	r := &Result{StartedAt: start, CompletedAt: start.Add(90 * time.Second)}
	if r.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", r.Duration())
	}

	running := &Result{StartedAt: time.Now().Add(-time.Minute)}
	if running.Duration() < time.Minute {
		t.Errorf("Duration() of running crawl = %v, want >= 1m", running.Duration())
	}
}

func TestResult_JSON(t *testing.T) {
	r := Result{
		StartURL: "https://example.com/",
		Records:  []page.Record{{"url": "https://example.com/", "title": "Home"}},
		Stats:    CrawlStats{Visited: 3, Processed: 1, Pending: 2},
		Errors: []CrawlError{
			{URL: "https://example.com/broken", Depth: 1, Kind: "navigation", Error: "timeout"},
		},
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["start_url"] != "https://example.com/" {
		t.Errorf("start_url = %v", decoded["start_url"])
	}
	if _, ok := decoded["interrupted"]; ok {
		t.Error("interrupted should be omitted when false")
	}
	stats, _ := decoded["stats"].(map[string]interface{})
	if stats["pending"] != float64(2) {
		t.Errorf("stats.pending = %v, want 2", stats["pending"])
	}
}
