package crawler

import (
	"io"
	"time"

	"github.com/PentesterFlow/webcrawler/internal/browser"
	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/internal/logger"
	"github.com/PentesterFlow/webcrawler/internal/metrics"
	"github.com/PentesterFlow/webcrawler/internal/output"
	"github.com/PentesterFlow/webcrawler/internal/ratelimit"
	"github.com/PentesterFlow/webcrawler/internal/state"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler) error

// WithConfig sets the entire configuration. Options after it modify the
// given config.
func WithConfig(config *Config) Option {
	return func(c *Crawler) error {
		c.config = config.Clone()
		return nil
	}
}

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) Option {
	return func(c *Crawler) error {
		if depth < 0 {
			depth = 0
		}
		c.config.MaxDepth = depth
		return nil
	}
}

// WithMaxPages sets the page budget.
func WithMaxPages(n int) Option {
	return func(c *Crawler) error {
		if n < 1 {
			n = 1
		}
		c.config.MaxPages = n
		return nil
	}
}

// WithRequestInterval sets the pause after every processed page.
func WithRequestInterval(d time.Duration) Option {
	return func(c *Crawler) error {
		if d < 0 {
			d = 0
		}
		c.config.RequestInterval = d.Seconds()
		return nil
	}
}

// WithSettleDelay sets the wait after navigation.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Crawler) error {
		if d < 0 {
			d = 0
		}
		c.config.SettleDelayMs = int(d / time.Millisecond)
		return nil
	}
}

// WithOutputDir sets the directory for reports and screenshots.
func WithOutputDir(dir string) Option {
	return func(c *Crawler) error {
		c.config.OutputDir = dir
		return nil
	}
}

// WithScreenshots enables/disables page screenshots.
func WithScreenshots(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.Screenshots = enabled
		return nil
	}
}

// WithExtractor sets the extraction strategy.
func WithExtractor(e page.Extractor) Option {
	return func(c *Crawler) error {
		c.extractor = e
		return nil
	}
}

// WithLinkExtractor sets the link discovery strategy.
func WithLinkExtractor(le page.LinkExtractor) Option {
	return func(c *Crawler) error {
		c.links = le
		return nil
	}
}

// WithOpener sets the session opener. No browser is launched when set.
func WithOpener(o browser.Opener) Option {
	return func(c *Crawler) error {
		c.opener = o
		return nil
	}
}

// WithProxies sets the proxies to rotate through. It takes precedence over
// the configured proxy file.
func WithProxies(proxies ...identity.Proxy) Option {
	return func(c *Crawler) error {
		c.proxies = append([]identity.Proxy(nil), proxies...)
		return nil
	}
}

// WithUserAgents sets the user agents to draw from. It takes precedence over
// the configured user-agent file.
func WithUserAgents(uas ...string) Option {
	return func(c *Crawler) error {
		c.userAgents = append([]string(nil), uas...)
		return nil
	}
}

// WithRotateEvery sets how many pages one identity serves.
func WithRotateEvery(n int) Option {
	return func(c *Crawler) error {
		c.config.Identity.RotateEvery = n
		return nil
	}
}

// WithRobots sets the robots.txt policy. It replaces the built-in policy
// selected by RespectRobotsTxt.
func WithRobots(p ratelimit.RobotsPolicy) Option {
	return func(c *Crawler) error {
		c.robots = p
		return nil
	}
}

// WithWriter sets the report writer. The caller keeps ownership and closes it.
func WithWriter(w output.Writer) Option {
	return func(c *Crawler) error {
		c.writer = w
		return nil
	}
}

// WithStateStore sets the checkpoint store. The caller keeps ownership and
// closes it.
func WithStateStore(s state.Store) Option {
	return func(c *Crawler) error {
		c.store = s
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Crawler) error {
		c.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) error {
		c.metrics = m
		return nil
	}
}

// WithProgress enables/disables progress bar display.
func WithProgress(enabled bool) Option {
	return func(c *Crawler) error {
		c.showProgress = enabled
		return nil
	}
}

// WithProgressWriter sends the progress bar to w instead of stderr.
func WithProgressWriter(w io.Writer) Option {
	return func(c *Crawler) error {
		c.progressOut = w
		return nil
	}
}

// WithVerbose enables/disables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(c *Crawler) error {
		c.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables/disables debug mode.
func WithDebug(debug bool) Option {
	return func(c *Crawler) error {
		c.config.Debug = debug
		return nil
	}
}
