// Package page defines the capabilities the crawl engine needs from a
// rendered page and from pluggable extraction strategies.
package page

import "context"

// Readiness is the condition a navigation waits for before returning.
type Readiness int

const (
	// DOMContentLoaded waits for the initial document to be parsed.
	DOMContentLoaded Readiness = iota
	// Load waits for the load event.
	Load
	// NetworkIdle waits until the network has been quiet.
	NetworkIdle
)

// String returns the string representation of Readiness.
func (r Readiness) String() string {
	switch r {
	case Load:
		return "load"
	case NetworkIdle:
		return "networkidle"
	default:
		return "domcontentloaded"
	}
}

// RenderedPage is a browser tab that can be driven by the crawler.
type RenderedPage interface {
	// Navigate loads url and blocks until ready is reached.
	Navigate(ctx context.Context, url string, ready Readiness) error
	// Evaluate runs a JavaScript function expression, e.g. "() => document.title",
	// and returns its JSON-decoded result.
	Evaluate(ctx context.Context, script string) (interface{}, error)
	// CurrentURL returns the URL after redirects.
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// HTML returns the serialized DOM.
	HTML(ctx context.Context) (string, error)
	// Screenshot returns a PNG of the viewport.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Record is one structured extraction result. Keys are extractor-defined;
// the default extractor always sets "url", "title" and "timestamp".
type Record map[string]interface{}

// Common record keys.
const (
	KeyURL             = "url"
	KeyTitle           = "title"
	KeyTimestamp       = "timestamp"
	KeyExtractionError = "extraction_error"
)

// URL returns the record's url field.
func (r Record) URL() string {
	s, _ := r[KeyURL].(string)
	return s
}

// Title returns the record's title field.
func (r Record) Title() string {
	s, _ := r[KeyTitle].(string)
	return s
}

// Extractor turns a loaded page into a record.
type Extractor interface {
	Extract(ctx context.Context, p RenderedPage) (Record, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, p RenderedPage) (Record, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, p RenderedPage) (Record, error) {
	return f(ctx, p)
}

// LinkExtractor returns the absolute URLs a page links to. Implementations
// resolve against baseURL and drop non-navigable schemes; scope filtering is
// left to the caller.
type LinkExtractor interface {
	Links(ctx context.Context, p RenderedPage, baseURL string) ([]string, error)
}

// LinkExtractorFunc adapts a function to LinkExtractor.
type LinkExtractorFunc func(ctx context.Context, p RenderedPage, baseURL string) ([]string, error)

// Links calls f.
func (f LinkExtractorFunc) Links(ctx context.Context, p RenderedPage, baseURL string) ([]string, error) {
	return f(ctx, p, baseURL)
}
