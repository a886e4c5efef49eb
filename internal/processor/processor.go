// Package processor runs the per-URL crawl state machine: navigate, settle,
// extract, discover links, pace. Failures are contained to the URL.
package processor

import (
	"context"
	"errors"
	"time"

	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/frontier"
	"github.com/PentesterFlow/webcrawler/internal/logger"
	"github.com/PentesterFlow/webcrawler/internal/ratelimit"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// State is a step of the per-URL state machine.
type State int

const (
	Pending State = iota
	Navigating
	Extracting
	LinkDiscovering
	Done
	// Failed is reached from Navigating or Extracting.
	Failed
	// Skipped means the entry guard refused the URL.
	Skipped
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Navigating:
		return "navigating"
	case Extracting:
		return "extracting"
	case LinkDiscovering:
		return "link_discovering"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Waiter blocks for a pacing or rate-limit delay.
type Waiter interface {
	Wait(ctx context.Context) error
}

// VisitedChecker reports whether a URL has already been admitted.
type VisitedChecker interface {
	Visited(url string) bool
}

// ScreenshotSaver stores a page screenshot under an ordinal and returns
// where it went.
type ScreenshotSaver interface {
	SaveScreenshot(ordinal int, png []byte) (string, error)
}

// Config configures a Processor.
type Config struct {
	Budget      frontier.Budget
	SettleDelay time.Duration
	Readiness   page.Readiness

	Extractor page.Extractor
	Links     page.LinkExtractor
	// Visited filters discovered links. Optional.
	Visited VisitedChecker
	// Screenshots is optional; nil disables screenshots.
	Screenshots ScreenshotSaver
	// Pacer runs after every processed URL. Optional.
	Pacer Waiter
	// Limiter runs before every navigation. Optional.
	Limiter Waiter

	Logger *logger.Logger
}

// Outcome is the result of processing one URL.
type Outcome struct {
	URL        string
	Depth      int
	State      State
	Record     page.Record
	Links      []string
	Screenshot string
	Err        error
	Duration   time.Duration
}

// Processor processes URLs one at a time against a rendered page.
type Processor struct {
	cfg       Config
	log       *logger.Logger
	processed int
	done      map[string]struct{}
}

// New creates a processor. An extractor and a link extractor are required.
func New(cfg Config) (*Processor, error) {
	if cfg.Extractor == nil {
		return nil, crawlerrors.NewConfigurationError("extractor", "an extractor is required", nil)
	}
	if cfg.Links == nil {
		return nil, crawlerrors.NewConfigurationError("link_extractor", "a link extractor is required", nil)
	}
	return &Processor{
		cfg:  cfg,
		log:  logger.OrNop(cfg.Logger),
		done: make(map[string]struct{}),
	}, nil
}

// Processed returns how many URLs passed the entry guard.
func (p *Processor) Processed() int {
	return p.processed
}

// Restore marks urls as already processed, for resumed crawls.
func (p *Processor) Restore(urls []string) {
	for _, u := range urls {
		if _, ok := p.done[u]; !ok {
			p.done[u] = struct{}{}
			p.processed++
		}
	}
}

// ProcessedURLs returns the URLs that passed the entry guard.
func (p *Processor) ProcessedURLs() []string {
	urls := make([]string, 0, len(p.done))
	for u := range p.done {
		urls = append(urls, u)
	}
	return urls
}

// Process runs entry through the state machine on rp. It never returns a
// per-page error to the caller: failures are reported in the Outcome.
func (p *Processor) Process(ctx context.Context, rp page.RenderedPage, entry frontier.Entry) Outcome {
	out := Outcome{URL: entry.URL, Depth: entry.Depth, State: Pending}

	if reason := p.guard(entry); reason != "" {
		p.log.PageEvent(logger.DebugLevel, entry.URL, entry.Depth).Str("reason", reason).Msg("Skipping")
		out.State = Skipped
		return out
	}

	start := time.Now()
	p.processed++
	p.done[entry.URL] = struct{}{}

	p.run(ctx, rp, entry, &out)
	out.Duration = time.Since(start)

	if p.cfg.Pacer != nil {
		if err := p.cfg.Pacer.Wait(ctx); err != nil && out.Err == nil && ctx.Err() != nil {
			out.Err = crawlerrors.NewCancelledError(entry.URL, "pace")
		}
	}
	return out
}

func (p *Processor) guard(entry frontier.Entry) string {
	if _, seen := p.done[entry.URL]; seen {
		return "already processed"
	}
	if entry.Depth > p.cfg.Budget.MaxDepth {
		return "beyond max depth"
	}
	if p.processed >= p.cfg.Budget.MaxPages {
		return "page budget exhausted"
	}
	return ""
}

func (p *Processor) run(ctx context.Context, rp page.RenderedPage, entry frontier.Entry, out *Outcome) {
	log := p.log.WithURL(entry.URL).WithDepth(entry.Depth)

	// Navigating
	out.State = Navigating
	log.Event(logger.InfoLevel).Msg("Crawling")

	if p.cfg.Limiter != nil {
		if err := p.cfg.Limiter.Wait(ctx); err != nil {
			p.fail(out, crawlerrors.NewCancelledError(entry.URL, "rate limit"), log)
			return
		}
	}

	if err := rp.Navigate(ctx, entry.URL, p.cfg.Readiness); err != nil {
		var crawlErr *crawlerrors.CrawlError
		if !errors.As(err, &crawlErr) {
			err = crawlerrors.NewNavigationError(entry.URL, err)
		}
		p.fail(out, err, log)
		return
	}

	if err := ratelimit.Sleep(ctx, p.cfg.SettleDelay); err != nil {
		p.fail(out, crawlerrors.NewCancelledError(entry.URL, "settle"), log)
		return
	}

	// Extracting
	out.State = Extracting
	record, err := p.cfg.Extractor.Extract(ctx, rp)
	if err != nil {
		out.Record = p.partialRecord(ctx, rp, entry.URL, err)
		p.fail(out, crawlerrors.NewExtractionError(entry.URL, err), log)
		return
	}
	if record == nil {
		record = page.Record{}
	}
	if record.URL() == "" {
		record[page.KeyURL] = entry.URL
	}
	if _, ok := record[page.KeyTimestamp]; !ok {
		record[page.KeyTimestamp] = timestamp()
	}
	out.Record = record

	if p.cfg.Screenshots != nil {
		out.Screenshot = p.screenshot(ctx, rp, log)
	}

	// LinkDiscovering
	if entry.Depth < p.cfg.Budget.MaxDepth {
		out.State = LinkDiscovering
		out.Links = p.discover(ctx, rp, entry.URL, log)
	}

	out.State = Done
	log.Event(logger.DebugLevel).Int("links", len(out.Links)).Msg("Processed")
}

func (p *Processor) fail(out *Outcome, err error, log *logger.Logger) {
	out.State = Failed
	out.Err = err
	out.Links = nil
	log.WithError(err).Warn("Page failed")
}

// partialRecord keeps the cheaply available identification of a page whose
// extractor failed.
func (p *Processor) partialRecord(ctx context.Context, rp page.RenderedPage, url string, cause error) page.Record {
	title, _ := rp.Title(ctx)
	return page.Record{
		page.KeyURL:             url,
		page.KeyTitle:           title,
		page.KeyTimestamp:       timestamp(),
		page.KeyExtractionError: cause.Error(),
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (p *Processor) screenshot(ctx context.Context, rp page.RenderedPage, log *logger.Logger) string {
	png, err := rp.Screenshot(ctx)
	if err != nil {
		log.WithError(err).Warn("Screenshot failed")
		return ""
	}
	path, err := p.cfg.Screenshots.SaveScreenshot(p.processed, png)
	if err != nil {
		log.WithError(err).Warn("Saving screenshot failed")
		return ""
	}
	return path
}

func (p *Processor) discover(ctx context.Context, rp page.RenderedPage, url string, log *logger.Logger) []string {
	base, err := rp.CurrentURL(ctx)
	if err != nil || base == "" {
		base = url
	}

	links, err := p.cfg.Links.Links(ctx, rp, base)
	if err != nil {
		log.WithError(err).Warn("Link discovery failed")
		return nil
	}

	seen := make(map[string]struct{}, len(links))
	candidates := make([]string, 0, len(links))
	for _, link := range links {
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		if p.cfg.Visited != nil && p.cfg.Visited.Visited(link) {
			continue
		}
		candidates = append(candidates, link)
	}
	return candidates
}
