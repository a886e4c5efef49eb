// Package rotation decides when the crawl's browsing identity is replaced
// and performs the replacement.
package rotation

import (
	"context"
	"sync"

	"github.com/PentesterFlow/webcrawler/internal/browser"
	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/internal/logger"
)

// DefaultThreshold is the number of requests served by one identity before
// it is rotated.
const DefaultThreshold = 10

// Policy counts requests per session and swaps the session for one bound
// to the pool's next identity once the threshold is reached. Rotation only
// happens when the pool has a proxy list.
type Policy struct {
	pool      *identity.Pool
	opener    browser.Opener
	threshold int
	log       *logger.Logger

	mu        sync.Mutex
	count     int
	active    identity.Identity
	opened    bool
	rotations int
}

// New creates a policy. A threshold below 1 selects DefaultThreshold.
func New(pool *identity.Pool, opener browser.Opener, threshold int, log *logger.Logger) *Policy {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Policy{
		pool:      pool,
		opener:    opener,
		threshold: threshold,
		log:       logger.OrNop(log),
	}
}

// Open acquires the first session with the pool's initial identity.
func (p *Policy) Open(ctx context.Context) (browser.Session, error) {
	id := p.pool.Initial()

	session, err := p.opener.Open(ctx, id)
	if err != nil {
		return nil, crawlerrors.NewSessionError("open initial session", err)
	}

	p.mu.Lock()
	p.active = id
	p.opened = true
	p.count = 0
	p.mu.Unlock()

	p.log.Event(logger.DebugLevel).
		Str("proxy", id.ProxyServer()).
		Str("user_agent", id.UserAgent).
		Msg("Opened browsing session")
	return session, nil
}

// ShouldRotate reports whether the next request should use a new identity.
func (p *Policy) ShouldRotate() bool {
	if !p.pool.HasProxies() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened && p.count >= p.threshold
}

// Rotate opens a session bound to the next identity, then closes current.
// The counter resets on success. On failure current stays open and is
// returned together with the error; the counter is reset as well so the
// next attempt waits for another full threshold.
func (p *Policy) Rotate(ctx context.Context, current browser.Session) (browser.Session, error) {
	p.mu.Lock()
	active := p.active
	served := p.count
	p.mu.Unlock()

	next := p.pool.Next(active)

	session, err := p.opener.Open(ctx, next)
	if err != nil {
		p.mu.Lock()
		p.count = 0
		p.mu.Unlock()
		return current, crawlerrors.NewSessionError("rotate", err)
	}

	if current != nil {
		if err := current.Close(); err != nil {
			p.log.Warnf("Closing previous session: %v", err)
		}
	}

	p.mu.Lock()
	p.active = next
	p.count = 0
	p.rotations++
	p.mu.Unlock()

	p.log.RotationEvent(next.ProxyServer(), next.UserAgent, served)
	return session, nil
}

// Record counts one request against the active session.
func (p *Policy) Record() {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
}

// Count returns the requests served by the active session.
func (p *Policy) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Active returns the identity bound to the active session.
func (p *Policy) Active() identity.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Rotations returns how many rotations succeeded.
func (p *Policy) Rotations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}

// Threshold returns the rotation threshold.
func (p *Policy) Threshold() int {
	return p.threshold
}
