package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/PentesterFlow/webcrawler/internal/frontier"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

const anchorsScript = `() => Array.from(document.querySelectorAll('a[href]'))
	.map(a => a.href)
	.filter(href => href && !href.startsWith('javascript:') && !href.startsWith('mailto:'))`

// skippedSchemes are href prefixes that never lead to a crawlable page.
var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// ScriptLinks reads anchors from the live DOM, so links inserted by
// client-side rendering are included.
type ScriptLinks struct{}

var _ page.LinkExtractor = ScriptLinks{}

// Links implements page.LinkExtractor.
func (ScriptLinks) Links(ctx context.Context, p page.RenderedPage, baseURL string) ([]string, error) {
	raw, err := p.Evaluate(ctx, anchorsScript)
	if err != nil {
		return nil, fmt.Errorf("collect anchors: %w", err)
	}
	return Absolute(baseURL, stringSlice(raw)), nil
}

// HTMLLinks parses the serialized DOM with goquery.
type HTMLLinks struct{}

var _ page.LinkExtractor = HTMLLinks{}

// Links implements page.LinkExtractor.
func (HTMLLinks) Links(ctx context.Context, p page.RenderedPage, baseURL string) ([]string, error) {
	markup, err := p.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	// A <base href> changes what relative links resolve against.
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := resolveAny(baseURL, href); err == nil {
			baseURL = b
		}
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, exists := s.Attr("href"); exists {
			hrefs = append(hrefs, href)
		}
	})
	return Absolute(baseURL, hrefs), nil
}

// Absolute resolves hrefs against base and returns the normalized http(s)
// URLs in first-seen order without duplicates.
func Absolute(base string, hrefs []string) []string {
	seen := make(map[string]bool, len(hrefs))
	out := make([]string, 0, len(hrefs))

	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || skipped(href) {
			continue
		}
		abs, err := frontier.Resolve(base, href)
		if err != nil {
			continue
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out
}

func skipped(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range skippedSchemes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func resolveAny(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// DefaultPriorityPatterns mark links to product listings.
var DefaultPriorityPatterns = []string{"/product/", "/category/", "/collection/"}

// Prioritized orders the links of another extractor so that those containing
// any of Patterns come first. Relative order within each group is kept.
type Prioritized struct {
	Next     page.LinkExtractor
	Patterns []string
}

var _ page.LinkExtractor = (*Prioritized)(nil)

// NewPrioritized wraps next. Empty patterns select DefaultPriorityPatterns.
func NewPrioritized(next page.LinkExtractor, patterns ...string) *Prioritized {
	if len(patterns) == 0 {
		patterns = DefaultPriorityPatterns
	}
	return &Prioritized{Next: next, Patterns: patterns}
}

// Links implements page.LinkExtractor.
func (p *Prioritized) Links(ctx context.Context, rp page.RenderedPage, baseURL string) ([]string, error) {
	links, err := p.Next.Links(ctx, rp, baseURL)
	if err != nil {
		return nil, err
	}
	return Prioritize(links, p.Patterns), nil
}

// Prioritize returns links with the ones matching patterns moved to the front.
func Prioritize(links, patterns []string) []string {
	first := make([]string, 0, len(links))
	rest := make([]string, 0, len(links))
	for _, link := range links {
		if matchesAny(link, patterns) {
			first = append(first, link)
		} else {
			rest = append(rest, link)
		}
	}
	return append(first, rest...)
}

func matchesAny(link string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(link, p) {
			return true
		}
	}
	return false
}

// ByName returns the extractor registered under name: "default" or "product".
func ByName(name string) (page.Extractor, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return Default{}, nil
	case "product":
		return NewProduct(), nil
	}
	return nil, fmt.Errorf("unknown extractor %q", name)
}

// LinksByName returns the link extractor registered under name: "script" or
// "html". Non-empty patterns wrap it in Prioritized.
func LinksByName(name string, patterns []string) (page.LinkExtractor, error) {
	var le page.LinkExtractor
	switch strings.ToLower(name) {
	case "", "script":
		le = ScriptLinks{}
	case "html":
		le = HTMLLinks{}
	default:
		return nil, fmt.Errorf("unknown link extractor %q", name)
	}
	if len(patterns) > 0 {
		le = NewPrioritized(le, patterns...)
	}
	return le, nil
}
