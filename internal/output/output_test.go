package output

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// mockWriter records writes and can fail them.
type mockWriter struct {
	location string
	err      error
	writes   int
	closed   bool
}

func (m *mockWriter) Write(context.Context, *Report) (string, error) {
	m.writes++
	return m.location, m.err
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func sampleReport() *Report {
	records := []page.Record{
		{page.KeyURL: "https://example.com/", page.KeyTitle: "Café <Home>", "description": "naïve"},
		{page.KeyURL: "https://example.com/a", page.KeyTitle: "A"},
	}
	return NewReport("https://example.com/", 3, 2, records,
		time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC))
}

// =============================================================================
// Report Tests
// =============================================================================

func TestNewReport(t *testing.T) {
	r := sampleReport()

	if r.Metadata.URLsCrawled != 3 {
		t.Errorf("URLsCrawled = %d, want 3", r.Metadata.URLsCrawled)
	}
	if r.Metadata.MaxDepth != 2 {
		t.Errorf("MaxDepth = %d, want 2", r.Metadata.MaxDepth)
	}
	if r.Metadata.Records != 2 {
		t.Errorf("Records = %d, want 2", r.Metadata.Records)
	}
	if !strings.HasPrefix(r.Metadata.Timestamp, "2024-03-05T14:07:09") {
		t.Errorf("Timestamp = %s, want ISO 8601", r.Metadata.Timestamp)
	}

	empty := NewReport("", 0, 0, nil, time.Now())
	if empty.Data == nil {
		t.Error("Data should be an empty list, not null")
	}
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleReport()); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	out := buf.String()

	tests := []struct {
		name string
		want string
	}{
		{"metadata key", `"metadata": {`},
		{"urls_crawled", `"urls_crawled": 3`},
		{"max_depth", `"max_depth": 2`},
		{"data key", `"data": [`},
		{"non-ascii kept", "Café"},
		{"html kept", "<Home>"},
		{"indent", "\n  \"data\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

// =============================================================================
// JSONWriter Tests
// =============================================================================

func TestJSONWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewJSONWriter(dir)
	w.now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local) }

	path, err := w.Write(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if filepath.Base(path) != "crawl_data_20240305_140709.json" {
		t.Errorf("file = %s, want crawl_data_20240305_140709.json", filepath.Base(path))
	}

	report, err := ReadReport(path)
	if err != nil {
		t.Fatalf("ReadReport() error = %v", err)
	}
	if len(report.Data) != 2 || report.Data[0].Title() != "Café <Home>" {
		t.Errorf("round trip data = %v", report.Data)
	}

	// A second report in the same second must not overwrite the first.
	second, err := w.Write(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("second Write() error = %v", err)
	}
	if second == path {
		t.Error("second report overwrote the first")
	}
}

func TestJSONWriter_CancelledContext(t *testing.T) {
	w := NewJSONWriter(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.Write(ctx, sampleReport()); err == nil {
		t.Error("Write() should fail on a cancelled context")
	}
}

// =============================================================================
// MultiWriter Tests
// =============================================================================

func TestMultiWriter(t *testing.T) {
	first := &mockWriter{location: "first.json"}
	failing := &mockWriter{err: errors.New("disk full")}
	last := &mockWriter{location: "db#1"}

	m := NewMultiWriter(first, nil, failing, last)

	loc, err := m.Write(context.Background(), sampleReport())
	if loc != "first.json" {
		t.Errorf("location = %s, want first.json", loc)
	}
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error = %v, want disk full", err)
	}
	if last.writes != 1 {
		t.Error("writers after a failure must still run")
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !first.closed || !last.closed {
		t.Error("Close() must close every writer")
	}
}

// =============================================================================
// SQLiteWriter Tests
// =============================================================================

func TestSQLiteWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "crawl.db")
	w, err := NewSQLiteWriter(path)
	if err != nil {
		t.Fatalf("NewSQLiteWriter() error = %v", err)
	}
	defer w.Close()

	ctx := context.Background()
	loc, err := w.Write(ctx, sampleReport())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	idx := strings.LastIndex(loc, "#")
	if idx < 0 || loc[:idx] != path {
		t.Fatalf("location = %s, want %s#<id>", loc, path)
	}
	id, err := strconv.ParseInt(loc[idx+1:], 10, 64)
	if err != nil {
		t.Fatalf("crawl id: %v", err)
	}

	var n int
	if err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages WHERE crawl_id = ?`, id).Scan(&n); err != nil {
		t.Fatalf("count pages: %v", err)
	}
	if n != 2 {
		t.Errorf("stored pages = %d, want 2", n)
	}
}

// =============================================================================
// ScreenshotDir Tests
// =============================================================================

func TestScreenshotDir(t *testing.T) {
	root := t.TempDir()
	s := NewScreenshotDir(root)

	path, err := s.SaveScreenshot(7, []byte("png"))
	if err != nil {
		t.Fatalf("SaveScreenshot() error = %v", err)
	}
	if path != filepath.Join(root, "screenshots", "7.png") {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "png" {
		t.Errorf("file content = %q, %v", data, err)
	}
}
