package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/PentesterFlow/webcrawler/internal/logger"
)

// RobotsPolicy decides whether a URL may be crawled.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// AllowAll permits every URL.
type AllowAll struct{}

// Allowed always returns true.
func (AllowAll) Allowed(context.Context, string) bool { return true }

// RobotsAgent evaluates robots.txt rules with a per-host cache. Fetch and
// parse failures allow the URL.
type RobotsAgent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	log       *logger.Logger

	mu    sync.RWMutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
}

// NewRobotsAgent creates an agent that identifies as userAgent when
// matching groups. A nil client gets a 10 second timeout.
func NewRobotsAgent(userAgent string, client *http.Client, log *logger.Logger) *RobotsAgent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsAgent{
		client:    client,
		userAgent: userAgent,
		ttl:       time.Hour,
		log:       logger.OrNop(log),
		cache:     make(map[string]robotsEntry),
	}
}

// Allowed reports whether rawURL is permitted for the agent.
func (a *RobotsAgent) Allowed(ctx context.Context, rawURL string) bool {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() {
		return false
	}

	rules, err := a.rules(ctx, target)
	if err != nil {
		a.log.Debugf("robots.txt for %s unavailable, allowing: %v", target.Host, err)
		return true
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return rules.TestAgent(path, a.userAgent)
}

// CrawlDelay returns the Crawl-delay for the agent on host, if cached.
func (a *RobotsAgent) CrawlDelay(host string) time.Duration {
	a.mu.RLock()
	entry, ok := a.cache[strings.ToLower(host)]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	if group := entry.rules.FindGroup(a.userAgent); group != nil {
		return group.CrawlDelay
	}
	return 0
}

func (a *RobotsAgent) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	a.mu.RLock()
	entry, ok := a.cache[host]
	a.mu.RUnlock()
	if ok && time.Since(entry.fetched) < a.ttl {
		return entry.rules, nil
	}

	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	a.mu.Lock()
	a.cache[host] = robotsEntry{fetched: time.Now(), rules: data}
	a.mu.Unlock()

	return data, nil
}
