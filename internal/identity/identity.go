// Package identity manages the user agents and proxies a crawl presents to
// the sites it visits.
package identity

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// Proxy is an upstream proxy for a browser context.
type Proxy struct {
	Server   string `json:"server" yaml:"server"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// HasCredentials reports whether the proxy requires authentication.
func (p Proxy) HasCredentials() bool {
	return p.Username != "" || p.Password != ""
}

// Identity is the user agent and optional proxy bound to a browsing session.
type Identity struct {
	UserAgent string
	Proxy     *Proxy
	Headers   map[string]string
}

// ProxyServer returns the proxy server or "direct".
func (i Identity) ProxyServer() string {
	if i.Proxy == nil {
		return "direct"
	}
	return i.Proxy.Server
}

// Pool holds the rotation candidates. Proxies rotate round-robin while user
// agents are drawn at random, independently of each other.
type Pool struct {
	mu         sync.Mutex
	proxies    []Proxy
	userAgents []string
	static     *Proxy
	userAgent  string
	headers    map[string]string
	cursor     int
	rng        *rand.Rand
}

// Config configures a Pool.
type Config struct {
	// Proxies are the rotation candidates. Rotation is disabled when empty.
	Proxies []Proxy
	// UserAgents defaults to DefaultUserAgents.
	UserAgents []string
	// StaticProxy is used for the whole crawl when Proxies is empty.
	StaticProxy *Proxy
	// UserAgent pins the first identity's user agent.
	UserAgent string
	// ExtraHeaders are merged into every identity's request headers.
	ExtraHeaders map[string]string
	// Seed makes user-agent selection reproducible when non-zero.
	Seed uint64
}

// NewPool creates a pool.
func NewPool(cfg Config) *Pool {
	uas := make([]string, 0, len(cfg.UserAgents))
	for _, ua := range cfg.UserAgents {
		if ua = strings.TrimSpace(ua); ua != "" {
			uas = append(uas, ua)
		}
	}
	if len(uas) == 0 {
		uas = DefaultUserAgents()
	}

	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Pool{
		proxies:    append([]Proxy(nil), cfg.Proxies...),
		userAgents: uas,
		static:     cfg.StaticProxy,
		userAgent:  cfg.UserAgent,
		headers:    cfg.ExtraHeaders,
		cursor:     -1,
		rng:        rng,
	}
}

// HasProxies reports whether a proxy rotation list is configured.
func (p *Pool) HasProxies() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies) > 0
}

// Proxies returns a copy of the rotation list.
func (p *Pool) Proxies() []Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Proxy(nil), p.proxies...)
}

// UserAgents returns a copy of the user-agent candidates.
func (p *Pool) UserAgents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.userAgents...)
}

// Initial returns the identity for the first session: the first rotation
// proxy (or the static proxy) and the pinned or a random user agent.
func (p *Pool) Initial() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	ua := p.userAgent
	if ua == "" {
		ua = p.randomUserAgent()
	}

	id := Identity{UserAgent: ua}
	switch {
	case len(p.proxies) > 0:
		p.cursor = 0
		proxy := p.proxies[0]
		id.Proxy = &proxy
	case p.static != nil:
		proxy := *p.static
		id.Proxy = &proxy
	}
	id.Headers = RequestHeaders(p.headers)
	return id
}

// Next returns the identity that follows current: the proxy after current's
// in list order (wrapping), or the first one if current's proxy is not in the
// list, and a freshly drawn user agent.
func (p *Pool) Next(current Identity) Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := Identity{
		UserAgent: p.randomUserAgent(),
		Headers:   RequestHeaders(p.headers),
	}

	if len(p.proxies) == 0 {
		if p.static != nil {
			proxy := *p.static
			id.Proxy = &proxy
		}
		return id
	}

	next := 0
	if idx := p.indexOf(current.Proxy); idx >= 0 {
		next = (idx + 1) % len(p.proxies)
	}
	p.cursor = next
	proxy := p.proxies[next]
	id.Proxy = &proxy
	return id
}

func (p *Pool) indexOf(proxy *Proxy) int {
	if proxy == nil {
		return -1
	}
	for i, candidate := range p.proxies {
		if candidate == *proxy {
			return i
		}
	}
	return -1
}

func (p *Pool) randomUserAgent() string {
	return p.userAgents[p.rng.IntN(len(p.userAgents))]
}
