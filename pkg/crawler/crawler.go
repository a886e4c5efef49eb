package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/webcrawler/internal/browser"
	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/frontier"
	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/internal/logger"
	"github.com/PentesterFlow/webcrawler/internal/metrics"
	"github.com/PentesterFlow/webcrawler/internal/output"
	"github.com/PentesterFlow/webcrawler/internal/processor"
	"github.com/PentesterFlow/webcrawler/internal/progress"
	"github.com/PentesterFlow/webcrawler/internal/ratelimit"
	"github.com/PentesterFlow/webcrawler/internal/rotation"
	"github.com/PentesterFlow/webcrawler/internal/state"
	"github.com/PentesterFlow/webcrawler/pkg/extract"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// defaultRobotsAgent is the product token matched against robots.txt groups
// when no user agent is pinned.
const defaultRobotsAgent = "webcrawler"

// Crawler is the main crawler orchestrator. It owns one browsing session at
// a time and processes URLs strictly sequentially, level by level.
type Crawler struct {
	config *Config

	opener     browser.Opener
	extractor  page.Extractor
	links      page.LinkExtractor
	proxies    []identity.Proxy
	userAgents []string
	robots     ratelimit.RobotsPolicy
	writer     output.Writer
	store      state.Store

	logger       *logger.Logger
	metrics      *metrics.Collector
	showProgress bool
	progressOut  io.Writer

	now     func() time.Time
	running atomic.Bool
}

// New creates a new crawler with the given options.
func New(opts ...Option) (*Crawler, error) {
	c := &Crawler{
		config: DefaultConfig(),
		now:    time.Now,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Validate config
	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger based on config
	if c.logger == nil {
		c.logger = logger.New(logger.Config{
			Level:     logger.LevelFor(c.config.Verbose, c.config.Debug),
			Pretty:    true,
			Component: "crawler",
		})
	}

	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	// Validate has already accepted both names.
	if c.extractor == nil {
		c.extractor, _ = extract.ByName(c.config.Extraction.Extractor)
	}
	if c.links == nil {
		c.links, _ = extract.LinksByName(c.config.Extraction.Links, c.config.Extraction.PriorityPatterns)
	}

	return c, nil
}

// Config returns a copy of the crawler's configuration.
func (c *Crawler) Config() *Config {
	return c.config.Clone()
}

// Metrics returns the metrics collector for external access.
func (c *Crawler) Metrics() *metrics.Collector {
	return c.metrics
}

// IsRunning reports whether a crawl is in progress.
func (c *Crawler) IsRunning() bool {
	return c.running.Load()
}

// Run crawls breadth-first from startURL until the frontier is empty, the
// page budget is spent, the depth bound is passed or ctx is cancelled.
//
// Per-page failures never abort the crawl. Run returns an error only for
// configuration problems, a browsing session that cannot be opened, or a
// report that cannot be written; in the last case the result is returned too.
func (c *Crawler) Run(ctx context.Context, startURL string) (*Result, error) {
	fr, err := frontier.New(startURL, c.config.Budget(), c.logger.WithComponent("frontier"))
	if err != nil {
		return nil, err
	}
	fr.Admit(fr.Start(), 0)

	store, closeStore, err := c.openStore()
	if err != nil {
		return nil, err
	}
	defer closeStore()

	return c.crawl(ctx, fr, store, nil)
}

// Resume continues the crawl recorded in the checkpoint store. The budget
// and start URL come from the checkpoint.
func (c *Crawler) Resume(ctx context.Context) (*Result, error) {
	store, closeStore, err := c.openStore()
	if err != nil {
		return nil, err
	}
	defer closeStore()

	if store == nil {
		return nil, crawlerrors.NewConfigurationError("state.file_path", "resume requires a state file", nil)
	}

	cp, err := store.Load()
	if err != nil {
		return nil, crawlerrors.NewConfigurationError("state", "cannot load checkpoint", err)
	}
	if cp == nil {
		return nil, crawlerrors.NewConfigurationError("state", "no checkpoint to resume", nil)
	}
	if !cp.Resumable() {
		return nil, crawlerrors.NewConfigurationError("state", "checkpoint has no pending work", nil)
	}

	fr, err := frontier.Restore(cp.StartURL, cp.Budget, cp.Snapshot(), c.logger.WithComponent("frontier"))
	if err != nil {
		return nil, err
	}

	c.logger.Event(logger.InfoLevel).
		Str("start_url", cp.StartURL).
		Int("processed", len(cp.Processed)).
		Int("pending", len(cp.Pending)).
		Msg("Resuming crawl")

	return c.crawl(ctx, fr, store, cp)
}

// crawlRun is the mutable state of one crawl. It is only touched by the
// traversal loop.
type crawlRun struct {
	frontier  *frontier.Frontier
	processor *processor.Processor
	policy    *rotation.Policy
	session   browser.Session
	robots    ratelimit.RobotsPolicy
	store     state.Store
	progress  *progress.Display
	budget    frontier.Budget
	log       *logger.Logger

	depth           int
	records         []page.Record
	errors          []CrawlError
	failed          int
	blocked         int
	priorRotations  int
	startedAt       time.Time
	unfinished      []frontier.Entry
	cancelledURL    string
	interrupted     bool
	sinceCheckpoint int
}

func (r *crawlRun) rotations() int {
	return r.priorRotations + r.policy.Rotations()
}

// processedURLs excludes a page whose processing was cut short by
// cancellation; it is still pending.
func (r *crawlRun) processedURLs() []string {
	all := r.processor.ProcessedURLs()
	if r.cancelledURL == "" {
		return all
	}
	urls := all[:0:0]
	for _, u := range all {
		if u != r.cancelledURL {
			urls = append(urls, u)
		}
	}
	return urls
}

func (r *crawlRun) processed() int {
	n := r.processor.Processed()
	if r.cancelledURL != "" {
		n--
	}
	return n
}

func (c *Crawler) crawl(ctx context.Context, fr *frontier.Frontier, store state.Store, cp *state.Checkpoint) (*Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler is already running")
	}
	defer c.running.Store(false)

	log := c.logger
	run := &crawlRun{
		frontier:  fr,
		store:     store,
		budget:    fr.Budget(),
		log:       log,
		startedAt: c.now(),
	}

	// Everything that can be misconfigured is checked before a browser starts.
	pool, err := c.identityPool()
	if err != nil {
		return nil, err
	}

	writer, closeWriter, err := c.reportWriter()
	if err != nil {
		return nil, err
	}
	defer closeWriter()

	run.robots = c.robotsPolicy(log)

	var shots processor.ScreenshotSaver
	if c.config.Screenshots {
		shots = output.NewScreenshotDir(c.config.OutputDir)
	}

	pacer := ratelimit.NewPacer(ratelimit.SecondsToDuration(c.config.RequestInterval))
	if delays, ok := run.robots.(ratelimit.DelaySource); ok {
		pacer = pacer.WithCrawlDelay(delays, frontier.Host(fr.Start()))
	}

	procCfg := processor.Config{
		Budget:      run.budget,
		SettleDelay: c.config.SettleDelay(),
		Readiness:   page.DOMContentLoaded,
		Extractor:   c.extractor,
		Links:       c.links,
		Visited:     fr,
		Screenshots: shots,
		Pacer:       pacer,
		Logger:      log.WithComponent("processor"),
	}
	if limiter := ratelimit.NewLimiter(c.config.RateLimit.RequestsPerSecond, c.config.RateLimit.Burst); limiter != nil {
		procCfg.Limiter = limiter
	}
	run.processor, err = processor.New(procCfg)
	if err != nil {
		return nil, err
	}

	if cp != nil {
		run.processor.Restore(cp.Processed)
		run.records = append(run.records, cp.Records...)
		run.failed = cp.Failed
		run.priorRotations = cp.Rotations
		run.depth = cp.Depth
		run.startedAt = cp.StartedAt
	}

	// Acquire the engine and the first session. Both are released before the
	// report is persisted, and on every early return.
	opener := c.opener
	var engine *browser.Engine
	if opener == nil {
		engine, err = browser.Launch(ctx, c.config.Browser, log.WithComponent("browser"))
		if err != nil {
			return nil, err
		}
		opener = engine
	}

	run.policy = rotation.New(pool, opener, c.config.Identity.RotateEvery, log.WithComponent("rotation"))

	release := sync.OnceFunc(func() {
		if run.session != nil {
			if err := run.session.Close(); err != nil {
				log.Warnf("Closing session: %v", err)
			}
		}
		if engine != nil {
			if err := engine.Close(); err != nil {
				log.Warnf("Closing browser: %v", err)
			}
		}
	})
	defer release()

	run.session, err = run.policy.Open(ctx)
	if err != nil {
		return nil, err
	}

	if c.showProgress {
		out := c.progressOut
		if out == nil {
			out = os.Stderr
		}
		run.progress = progress.NewWithWriter(out)
		run.progress.Start(fr.Start())
	}

	log.Event(logger.InfoLevel).
		Str("start_url", fr.Start()).
		Int("max_depth", run.budget.MaxDepth).
		Int("max_pages", run.budget.MaxPages).
		Bool("rotation", pool.HasProxies()).
		Int("rotate_every", run.policy.Threshold()).
		Msg("Starting crawl")

	c.traverse(ctx, run)

	release()
	if run.progress != nil {
		run.progress.Stop()
	}

	return c.finalize(ctx, run, writer)
}

// traverse processes the frontier level by level. All URLs of one depth are
// finished before the next depth starts.
func (c *Crawler) traverse(ctx context.Context, run *crawlRun) {
	for {
		if ctx.Err() != nil {
			run.interrupted = true
			return
		}
		if run.processor.Processed() >= run.budget.MaxPages {
			run.log.Debug("Page budget reached")
			return
		}

		level := run.frontier.NextLevel()
		if len(level) == 0 {
			return
		}
		if level[0].Depth > run.budget.MaxDepth {
			return
		}

		run.depth = level[0].Depth
		run.log.Event(logger.InfoLevel).
			Int("depth", run.depth).
			Int("urls", len(level)).
			Msg("Processing level")

		for i, entry := range level {
			run.unfinished = level[i:]
			if ctx.Err() != nil {
				run.interrupted = true
				return
			}
			if run.processor.Processed() >= run.budget.MaxPages {
				run.unfinished = nil
				return
			}

			if cancelled := c.visit(ctx, run, entry); cancelled {
				run.interrupted = true
				return
			}

			run.unfinished = level[i+1:]
			c.maybeCheckpoint(run)
		}
		run.unfinished = nil
	}
}

// visit runs one URL through robots, rotation and the processor and admits
// its links. It reports whether the page was cut short by cancellation.
func (c *Crawler) visit(ctx context.Context, run *crawlRun, entry frontier.Entry) bool {
	if !run.robots.Allowed(ctx, entry.URL) {
		run.blocked++
		c.metrics.RecordRobotsBlocked()
		run.log.PageEvent(logger.InfoLevel, entry.URL, entry.Depth).Msg("Disallowed by robots.txt")
		return false
	}

	if run.policy.ShouldRotate() {
		next, err := run.policy.Rotate(ctx, run.session)
		run.session = next
		c.metrics.RecordRotation(err == nil)
		if err != nil {
			run.log.ErrorEvent(err, entry.URL, "rotate")
		}
	}
	run.policy.Record()

	out := run.processor.Process(ctx, run.session, entry)

	if out.State == processor.Skipped {
		c.metrics.RecordSkipped()
		return false
	}
	if out.State == processor.Failed && ctx.Err() != nil {
		run.cancelledURL = entry.URL
		return true
	}

	c.metrics.RecordPage(entry.Depth, out.Duration)
	if out.Record != nil {
		run.records = append(run.records, out.Record)
	}

	if out.State == processor.Failed {
		run.failed++
		run.errors = append(run.errors, CrawlError{
			URL:       entry.URL,
			Depth:     entry.Depth,
			Kind:      crawlerrors.KindOf(out.Err).String(),
			Error:     out.Err.Error(),
			Timestamp: c.now(),
		})
		if crawlerrors.KindOf(out.Err) == crawlerrors.Extraction {
			c.metrics.RecordExtractionFailure()
		} else {
			c.metrics.RecordNavigationFailure()
		}
	} else {
		c.metrics.RecordSuccess()
	}
	if out.Screenshot != "" {
		c.metrics.RecordScreenshot()
	}

	admitted := 0
	for _, link := range out.Links {
		if run.frontier.Admit(link, entry.Depth+1) {
			admitted++
		}
	}
	c.metrics.RecordLinks(len(out.Links), admitted)
	run.sinceCheckpoint++

	if run.progress != nil {
		run.progress.Update(progress.Stats{
			Processed: run.processor.Processed(),
			MaxPages:  run.budget.MaxPages,
			Queued:    run.frontier.Len(),
			Failed:    run.failed,
			Records:   len(run.records),
			Depth:     run.depth,
			Rotations: run.rotations(),
		})
	}
	return false
}

func (c *Crawler) maybeCheckpoint(run *crawlRun) {
	if run.store == nil || c.config.State.Interval <= 0 {
		return
	}
	if run.sinceCheckpoint < c.config.State.Interval {
		return
	}
	run.sinceCheckpoint = 0
	if _, err := c.saveCheckpoint(run, false); err != nil {
		run.log.Warnf("Saving checkpoint: %v", err)
	}
}

func (c *Crawler) saveCheckpoint(run *crawlRun, final bool) (*state.Checkpoint, error) {
	snap := run.frontier.Snapshot(run.unfinished)
	cfg, _ := json.Marshal(c.config)

	cp := &state.Checkpoint{
		StartURL:  run.frontier.Start(),
		Budget:    run.budget,
		Config:    cfg,
		Depth:     run.depth,
		Visited:   snap.Visited,
		Pending:   snap.Pending,
		Processed: run.processedURLs(),
		Records:   run.records,
		Failed:    run.failed,
		Rotations: run.rotations(),
		StartedAt: run.startedAt,
		SavedAt:   c.now(),
		Completed: final && !run.interrupted,
	}
	if err := run.store.Save(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// finalize checkpoints and persists the report. Persistence runs even when
// ctx is cancelled.
func (c *Crawler) finalize(ctx context.Context, run *crawlRun, writer output.Writer) (*Result, error) {
	persistCtx := context.WithoutCancel(ctx)
	completedAt := c.now()
	snap := run.frontier.Snapshot(run.unfinished)

	result := &Result{
		StartURL:    run.frontier.Start(),
		StartedAt:   run.startedAt,
		CompletedAt: completedAt,
		Records:     run.records,
		Errors:      run.errors,
		Interrupted: run.interrupted,
		Stats: CrawlStats{
			Visited:       run.frontier.VisitedCount(),
			Processed:     run.processed(),
			Failed:        run.failed,
			RobotsBlocked: run.blocked,
			Rotations:     run.rotations(),
			Depth:         run.depth,
			Pending:       len(snap.Pending),
		},
		Metrics: c.metrics.Snapshot(),
	}
	if result.Records == nil {
		result.Records = []page.Record{}
	}

	if run.store != nil {
		cp, err := c.saveCheckpoint(run, true)
		if err != nil {
			run.log.Warnf("Saving checkpoint: %v", err)
		} else {
			result.Resumable = cp.Resumable()
		}
	}

	report := output.NewReport(result.StartURL, result.Stats.Processed, run.budget.MaxDepth, result.Records, completedAt)
	report.Metadata.Records = len(result.Records)
	report.Metadata.Failed = run.failed
	report.Metadata.Rotations = result.Stats.Rotations
	report.Metadata.Interrupted = run.interrupted

	location, err := writer.Write(persistCtx, report)
	result.OutputPath = location

	run.log.StatsEvent(result.Metrics.Summary())
	if err != nil {
		return result, fmt.Errorf("failed to write output: %w", err)
	}

	run.log.Event(logger.InfoLevel).
		Str("path", location).
		Int("records", len(result.Records)).
		Int("processed", result.Stats.Processed).
		Bool("interrupted", run.interrupted).
		Msg("Crawl finished")
	return result, nil
}

func (c *Crawler) identityPool() (*identity.Pool, error) {
	cfg := c.config.Identity

	proxies := c.proxies
	if proxies == nil && cfg.ProxyFile != "" {
		loaded, err := identity.LoadProxies(cfg.ProxyFile)
		if err != nil {
			return nil, err
		}
		proxies = loaded
	}

	userAgents := c.userAgents
	if userAgents == nil {
		loaded, err := identity.LoadUserAgents(cfg.UserAgentFile)
		if err != nil {
			return nil, err
		}
		userAgents = loaded
	}

	return identity.NewPool(identity.Config{
		Proxies:      proxies,
		UserAgents:   userAgents,
		StaticProxy:  cfg.Proxy,
		UserAgent:    cfg.UserAgent,
		ExtraHeaders: cfg.ExtraHeaders,
	}), nil
}

func (c *Crawler) robotsPolicy(log *logger.Logger) ratelimit.RobotsPolicy {
	if c.robots != nil {
		return c.robots
	}
	if !c.config.RespectRobotsTxt {
		return ratelimit.AllowAll{}
	}
	ua := c.config.Identity.UserAgent
	if ua == "" {
		ua = defaultRobotsAgent
	}
	return ratelimit.NewRobotsAgent(ua, nil, log.WithComponent("robots"))
}

// reportWriter returns the injected writer, or the JSON writer plus the
// optional SQLite writer. Only writers created here are closed.
func (c *Crawler) reportWriter() (output.Writer, func(), error) {
	if c.writer != nil {
		return c.writer, func() {}, nil
	}

	writers := []output.Writer{output.NewJSONWriter(c.config.OutputDir)}
	if path := c.config.Output.SQLitePath; path != "" {
		sqlite, err := output.NewSQLiteWriter(path)
		if err != nil {
			return nil, nil, crawlerrors.NewConfigurationError("output.sqlite_path", "cannot open report database", err)
		}
		writers = append(writers, sqlite)
	}

	w := output.NewMultiWriter(writers...)
	return w, func() {
		if err := w.Close(); err != nil {
			c.logger.Warnf("Closing report writers: %v", err)
		}
	}, nil
}

// openStore returns the injected store, or a bbolt store when a state file
// is configured. A nil store disables checkpointing.
func (c *Crawler) openStore() (state.Store, func(), error) {
	if c.store != nil {
		return c.store, func() {}, nil
	}
	if c.config.State.FilePath == "" {
		return nil, func() {}, nil
	}

	store, err := state.NewBoltStore(c.config.State.FilePath)
	if err != nil {
		return nil, nil, crawlerrors.NewConfigurationError("state.file_path", "cannot open state file", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			c.logger.Warnf("Closing state file: %v", err)
		}
	}, nil
}
