// Package progress provides progress bar display for the crawler.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Stats is what the display shows.
type Stats struct {
	Processed int
	MaxPages  int
	Queued    int
	Failed    int
	Records   int
	Depth     int
	Rotations int
}

// Display manages progress bar display during crawling. Its total is the
// page budget, so the bar fills as processed pages approach it.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	stats Stats

	startTime time.Time
	target    string
	lastLine  string
}

// New creates a progress display writing to stderr.
func New() *Display {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a progress display writing to w.
func NewWithWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the progress display.
func (d *Display) Start(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
}

// Update redraws the bar with s.
func (d *Display) Update(s Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats = s
	if !d.started || d.stopped {
		return
	}

	progress := Percent(s.Processed, s.MaxPages)

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(s.Processed) / elapsed.Seconds()
	}

	barWidth := 30
	filled := progress * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Pages: %d/%d | Depth: %d | Queue: %d | Failed: %d | %.2f p/s | %s",
		bar, progress, s.Processed, s.MaxPages, s.Depth, s.Queued, s.Failed, speed, formatDuration(elapsed))

	// Clear previous line and print new one
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop stops the progress display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	fmt.Fprintln(d.out)
}

// Stats returns the last stats shown.
func (d *Display) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Summary is the final report printed after a crawl.
type Summary struct {
	Target      string
	Duration    time.Duration
	Visited     int
	Processed   int
	Records     int
	Failed      int
	Rotations   int
	OutputPath  string
	Interrupted bool
}

// PrintSummary prints a final summary after crawling.
func PrintSummary(w io.Writer, s Summary) {
	title := "                       Crawl Complete                         "
	if s.Interrupted {
		title = "                      Crawl Interrupted                       "
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(w, "║%s║\n", title)
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Target:              %s\n", truncateURL(s.Target, 50))
	fmt.Fprintf(w, "  Duration:            %s\n", formatDuration(s.Duration))
	fmt.Fprintf(w, "  URLs Visited:        %d\n", s.Visited)
	fmt.Fprintf(w, "  Pages Processed:     %d\n", s.Processed)
	fmt.Fprintf(w, "  Records:             %d\n", s.Records)
	fmt.Fprintf(w, "  Failed Pages:        %d\n", s.Failed)
	fmt.Fprintf(w, "  Identity Rotations:  %d\n", s.Rotations)
	if s.OutputPath != "" {
		fmt.Fprintf(w, "  Output:              %s\n", s.OutputPath)
	}
	fmt.Fprintln(w)

	if s.Duration.Seconds() > 0 {
		fmt.Fprintf(w, "  Average Speed:       %.2f pages/sec\n", float64(s.Processed)/s.Duration.Seconds())
		fmt.Fprintln(w)
	}
}

// Percent returns done as a percentage of total, clamped to 0..100.
func Percent(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return done * 100 / total
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
