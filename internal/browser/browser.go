// Package browser provides headless Chrome integration via Rod.
//
// One Engine owns one browser process for the whole crawl. Each Session is
// a separate browser context (so it can carry its own proxy) with a single
// page in it.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/internal/logger"
)

// Supported engine names.
const (
	EngineChromium = "chromium"
	EngineFirefox  = "firefox"
	EngineWebKit   = "webkit"
)

// Config defines browser configuration.
type Config struct {
	Engine            string  `json:"engine" yaml:"engine"`
	Headless          bool    `json:"headless" yaml:"headless"`
	SlowMoMs          int     `json:"slow_mo_ms" yaml:"slow_mo_ms"`
	// Navigation timeout in seconds. Zero disables it.
	TimeoutSeconds    float64 `json:"timeout" yaml:"timeout"`
	ViewportWidth     int     `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int     `json:"viewport_height" yaml:"viewport_height"`
	IgnoreHTTPSErrors bool    `json:"ignore_https_errors" yaml:"ignore_https_errors"`
	Stealth           bool    `json:"stealth" yaml:"stealth"`
	BinPath           string  `json:"bin_path,omitempty" yaml:"bin_path,omitempty"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Engine:         EngineChromium,
		Headless:       true,
		TimeoutSeconds: 30,
		ViewportWidth:  1280,
		ViewportHeight: 800,
	}
}

// Validate checks the engine and numeric settings.
func (c Config) Validate() error {
	switch strings.ToLower(c.Engine) {
	case "", EngineChromium, "chrome":
	case EngineFirefox, EngineWebKit:
		return crawlerrors.NewConfigurationError("browser.engine",
			fmt.Sprintf("unsupported browser engine %q: only %s is available", c.Engine, EngineChromium), nil)
	default:
		return crawlerrors.NewConfigurationError("browser.engine",
			fmt.Sprintf("unknown browser engine %q", c.Engine), nil)
	}
	if c.SlowMoMs < 0 {
		return crawlerrors.NewConfigurationError("browser.slow_mo_ms", "slow motion must not be negative", nil)
	}
	if c.TimeoutSeconds < 0 {
		return crawlerrors.NewConfigurationError("browser.timeout", "timeout must not be negative", nil)
	}
	return nil
}

// NavigationTimeout returns the per-navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Engine wraps a Rod browser instance.
type Engine struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	config   Config
	log      *logger.Logger

	mu     sync.Mutex
	closed bool
}

// Launch starts a browser process and connects to it. Failed launches are
// retried with backoff before the session error is returned.
func Launch(ctx context.Context, config Config, log *logger.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)

	retrier := crawlerrors.NewRetrier(crawlerrors.DefaultRetryConfig())
	engine, result := crawlerrors.DoWithResult(ctx, retrier, "launch", func(ctx context.Context) (*Engine, error) {
		return launch(ctx, config, log)
	})
	if !result.Success() {
		return nil, result.LastError
	}
	if result.Attempts > 1 {
		log.Warnf("Browser started after %d attempts", result.Attempts)
	}
	return engine, nil
}

func launch(ctx context.Context, config Config, log *logger.Logger) (*Engine, error) {
	l := launcher.New().Context(ctx).Headless(config.Headless)
	if config.BinPath != "" {
		l = l.Bin(config.BinPath)
	}
	if config.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors", "true")
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, crawlerrors.NewSessionError("launch", err)
	}

	b := rod.New().ControlURL(controlURL)
	if config.SlowMoMs > 0 {
		b = b.SlowMotion(time.Duration(config.SlowMoMs) * time.Millisecond)
	}
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, crawlerrors.NewSessionError("connect", err)
	}

	log.Debugf("Browser connected at %s", controlURL)

	return &Engine{
		browser:  b,
		launcher: l,
		config:   config,
		log:      log,
	}, nil
}

// Open creates a browser context bound to id and opens a page in it.
func (e *Engine) Open(ctx context.Context, id identity.Identity) (Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, crawlerrors.NewSessionError("open", fmt.Errorf("browser is closed"))
	}
	e.mu.Unlock()

	b := e.browser.Context(ctx)

	req := proto.TargetCreateBrowserContext{DisposeOnDetach: true}
	if id.Proxy != nil {
		req.ProxyServer = id.Proxy.Server
	}
	res, err := req.Call(b)
	if err != nil {
		return nil, crawlerrors.NewSessionError("create context", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: res.BrowserContextID,
	})
	if err != nil {
		_ = proto.TargetDisposeBrowserContext{BrowserContextID: res.BrowserContextID}.Call(e.browser)
		return nil, crawlerrors.NewSessionError("create page", err)
	}

	stopAuth := func() {}
	if id.Proxy != nil && id.Proxy.HasCredentials() {
		stopAuth, err = answerProxyAuth(page, *id.Proxy)
		if err != nil {
			_ = page.Close()
			_ = proto.TargetDisposeBrowserContext{BrowserContextID: res.BrowserContextID}.Call(e.browser)
			return nil, crawlerrors.NewSessionError("proxy auth", err)
		}
	}

	if err := e.prepare(page, id); err != nil {
		stopAuth()
		_ = page.Close()
		_ = proto.TargetDisposeBrowserContext{BrowserContextID: res.BrowserContextID}.Call(e.browser)
		return nil, crawlerrors.NewSessionError("prepare page", err)
	}

	return &rodSession{
		engine:    e,
		page:      page,
		contextID: res.BrowserContextID,
		timeout:   e.config.NavigationTimeout(),
		stopAuth:  stopAuth,
	}, nil
}

// prepare applies the identity and page settings before first navigation.
func (e *Engine) prepare(page *rod.Page, id identity.Identity) error {
	if e.config.Stealth {
		if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
			return fmt.Errorf("stealth: %w", err)
		}
	}

	// Set viewport (ignore errors, not critical)
	if e.config.ViewportWidth > 0 && e.config.ViewportHeight > 0 {
		_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             e.config.ViewportWidth,
			Height:            e.config.ViewportHeight,
			DeviceScaleFactor: 1,
		})
	}

	if id.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: id.UserAgent}).Call(page); err != nil {
			return fmt.Errorf("user agent: %w", err)
		}
	}

	if headers := networkHeaders(id.Headers); len(headers) > 0 {
		if err := (proto.NetworkEnable{}).Call(page); err != nil {
			return fmt.Errorf("network enable: %w", err)
		}
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: headers}).Call(page); err != nil {
			return fmt.Errorf("extra headers: %w", err)
		}
	}

	return nil
}

// Close closes the browser and removes its profile directory.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.browser.Close()
	e.launcher.Cleanup()
	return err
}
