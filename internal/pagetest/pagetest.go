// Package pagetest provides an in-memory site and browser sessions for
// testing code that drives a page.RenderedPage without launching a browser.
package pagetest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/webcrawler/internal/browser"
	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// ErrNotFound is returned when navigating to a URL the site does not serve.
var ErrNotFound = errors.New("net::ERR_NAME_NOT_RESOLVED")

// Page is one document served by a Site.
type Page struct {
	URL   string
	Title string
	Body  string
	Links []string
	Meta  map[string]string

	// Markup replaces the generated HTML when set.
	Markup string
	// RedirectTo makes CurrentURL report a different URL after navigation.
	RedirectTo string

	// NavErr fails every navigation to this page.
	NavErr error
	// EvalErr fails every script evaluation on this page.
	EvalErr error
	// ShotErr fails screenshots of this page.
	ShotErr error
	// Delay holds navigation until it elapses or the context ends.
	Delay time.Duration
}

// HTML returns the page markup.
func (p *Page) HTML() string {
	if p.Markup != "" {
		return p.Markup
	}

	var b strings.Builder
	b.WriteString("<html><head><title>")
	b.WriteString(html.EscapeString(p.Title))
	b.WriteString("</title>")
	for name, content := range p.Meta {
		fmt.Fprintf(&b, `<meta name="%s" content="%s">`, html.EscapeString(name), html.EscapeString(content))
	}
	b.WriteString("</head><body><p>")
	b.WriteString(html.EscapeString(p.Body))
	b.WriteString("</p>")
	for _, href := range p.Links {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, html.EscapeString(href))
	}
	b.WriteString("</body></html>")
	return b.String()
}

// Visit is one navigation recorded by a Site.
type Visit struct {
	URL      string
	Identity identity.Identity
}

// Site is a set of pages keyed by URL.
type Site struct {
	mu     sync.Mutex
	pages  map[string]*Page
	visits []Visit
}

// NewSite creates an empty site.
func NewSite() *Site {
	return &Site{pages: make(map[string]*Page)}
}

// Add registers a page with the given title and links and returns it for
// further setup.
func (s *Site) Add(url, title string, links ...string) *Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &Page{
		URL:   url,
		Title: title,
		Body:  "Content of " + title,
		Links: links,
	}
	s.pages[url] = p
	return p
}

// Lookup returns the page served at url.
func (s *Site) Lookup(url string) (*Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[url]
	return p, ok
}

// Visits returns every navigation in order.
func (s *Site) Visits() []Visit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Visit(nil), s.visits...)
}

// VisitedURLs returns the navigated URLs in order.
func (s *Site) VisitedURLs() []string {
	visits := s.Visits()
	urls := make([]string, len(visits))
	for i, v := range visits {
		urls[i] = v.URL
	}
	return urls
}

func (s *Site) record(url string, id identity.Identity) {
	s.mu.Lock()
	s.visits = append(s.visits, Visit{URL: url, Identity: id})
	s.mu.Unlock()
}

// NewTab opens a tab on the site bound to id.
func (s *Site) NewTab(id identity.Identity) *Tab {
	return &Tab{site: s, identity: id}
}

// Tab is a browsing session on a Site. It implements browser.Session.
type Tab struct {
	site     *Site
	identity identity.Identity

	mu      sync.Mutex
	current *Page
	url     string
	closed  bool
}

var _ browser.Session = (*Tab)(nil)

// Identity returns the identity the tab was opened with.
func (t *Tab) Identity() identity.Identity {
	return t.identity
}

// Closed reports whether Close has been called.
func (t *Tab) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Navigate loads url from the site.
func (t *Tab) Navigate(ctx context.Context, url string, _ page.Readiness) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return crawlerrors.NewNavigationError(url, errors.New("session closed"))
	}

	t.site.record(url, t.identity)

	p, ok := t.site.Lookup(url)
	if !ok {
		return crawlerrors.NewNavigationError(url, ErrNotFound)
	}

	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return crawlerrors.NewNavigationError(url, ctx.Err())
		case <-timer.C:
		}
	}
	if p.NavErr != nil {
		return crawlerrors.NewNavigationError(url, p.NavErr)
	}

	t.mu.Lock()
	t.current = p
	t.url = url
	if p.RedirectTo != "" {
		t.url = p.RedirectTo
	}
	t.mu.Unlock()
	return nil
}

func (t *Tab) page() (*Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil, errors.New("no document loaded")
	}
	return t.current, nil
}

// Evaluate answers the scripts the extractors use by recognizing the DOM
// API they touch.
func (t *Tab) Evaluate(_ context.Context, script string) (interface{}, error) {
	p, err := t.page()
	if err != nil {
		return nil, err
	}
	if p.EvalErr != nil {
		return nil, p.EvalErr
	}

	switch {
	case strings.Contains(script, "a[href]"):
		links := make([]interface{}, len(p.Links))
		for i, l := range p.Links {
			links[i] = l
		}
		return links, nil
	case strings.Contains(script, "meta"):
		meta := make(map[string]interface{}, len(p.Meta))
		for k, v := range p.Meta {
			meta[k] = v
		}
		return meta, nil
	case strings.Contains(script, "innerText"):
		return p.Body, nil
	case strings.Contains(script, "document.title"):
		return p.Title, nil
	}
	return nil, fmt.Errorf("pagetest: unsupported script %q", script)
}

// CurrentURL returns the URL of the loaded document.
func (t *Tab) CurrentURL(context.Context) (string, error) {
	if _, err := t.page(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url, nil
}

// Title returns the loaded document's title.
func (t *Tab) Title(context.Context) (string, error) {
	p, err := t.page()
	if err != nil {
		return "", err
	}
	return p.Title, nil
}

// HTML returns the loaded document's markup.
func (t *Tab) HTML(context.Context) (string, error) {
	p, err := t.page()
	if err != nil {
		return "", err
	}
	return p.HTML(), nil
}

// Screenshot returns a fake image naming the loaded URL.
func (t *Tab) Screenshot(context.Context) ([]byte, error) {
	p, err := t.page()
	if err != nil {
		return nil, err
	}
	if p.ShotErr != nil {
		return nil, p.ShotErr
	}
	return []byte("PNG " + p.URL), nil
}

// Close marks the tab closed.
func (t *Tab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Opener opens tabs on a Site and records the identities used. It
// implements browser.Opener.
type Opener struct {
	Site *Site
	// Err fails every Open when set.
	Err error
	// FailAt fails only the n-th Open (1-based).
	FailAt int

	mu         sync.Mutex
	opens      int
	tabs       []*Tab
	identities []identity.Identity
}

var _ browser.Opener = (*Opener)(nil)

// NewOpener creates an opener for site.
func NewOpener(site *Site) *Opener {
	return &Opener{Site: site}
}

// Open returns a new tab bound to id.
func (o *Opener) Open(ctx context.Context, id identity.Identity) (browser.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opens++
	if err := ctx.Err(); err != nil {
		return nil, crawlerrors.NewSessionError("open", err)
	}
	if o.Err != nil {
		return nil, crawlerrors.NewSessionError("open", o.Err)
	}
	if o.FailAt > 0 && o.opens == o.FailAt {
		return nil, crawlerrors.NewSessionError("open", errors.New("context creation failed"))
	}

	tab := o.Site.NewTab(id)
	o.tabs = append(o.tabs, tab)
	o.identities = append(o.identities, id)
	return tab, nil
}

// Tabs returns the tabs opened so far.
func (o *Opener) Tabs() []*Tab {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Tab(nil), o.tabs...)
}

// Identities returns the identity of every successful Open.
func (o *Opener) Identities() []identity.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]identity.Identity(nil), o.identities...)
}

// OpenTabs returns how many tabs are still open.
func (o *Opener) OpenTabs() int {
	n := 0
	for _, t := range o.Tabs() {
		if !t.Closed() {
			n++
		}
	}
	return n
}
