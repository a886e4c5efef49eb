package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONWriter writes each report to a timestamp-named file in a directory.
type JSONWriter struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewJSONWriter creates a writer for dir.
func NewJSONWriter(dir string) *JSONWriter {
	return &JSONWriter{dir: dir, now: time.Now}
}

// Write writes report to crawl_data_YYYYMMDD_HHMMSS.json and returns the
// file path.
func (j *JSONWriter) Write(ctx context.Context, report *Report) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := j.nextPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}

	if err := Encode(f, report); err != nil {
		f.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// nextPath returns an unused report path for the current second.
func (j *JSONWriter) nextPath() string {
	stamp := j.now().Format("20060102_150405")
	path := filepath.Join(j.dir, fmt.Sprintf("crawl_data_%s.json", stamp))
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(j.dir, fmt.Sprintf("crawl_data_%s_%d.json", stamp, i))
	}
	return path
}

// Close implements Writer.
func (j *JSONWriter) Close() error {
	return nil
}

// Encode writes report as indented JSON with non-ASCII and HTML characters
// kept as is.
func Encode(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(report)
}

// ReadReport loads a report written by JSONWriter.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &report, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
