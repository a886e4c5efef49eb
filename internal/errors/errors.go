// Package errors provides the error taxonomy for the crawler.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind categorizes errors for handling decisions.
type Kind int

const (
	// Unknown is an uncategorized error.
	Unknown Kind = iota
	// Configuration represents a malformed proxy list, user-agent list or config value.
	Configuration
	// Navigation represents a page that failed to load.
	Navigation
	// Extraction represents an extractor failure on a loaded page.
	Extraction
	// Session represents a failure to open or replace a browsing session.
	Session
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Navigation:
		return "navigation"
	case Extraction:
		return "extraction"
	case Session:
		return "session"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsFatal reports whether errors of this kind abort a crawl.
func (k Kind) IsFatal() bool {
	switch k {
	case Configuration, Session:
		return true
	default:
		return false
	}
}

// CrawlError represents a categorized crawl error.
type CrawlError struct {
	Kind    Kind
	URL     string
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.URL != "" {
		b.WriteString(" on ")
		b.WriteString(e.URL)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *CrawlError) Unwrap() error {
	return e.Cause
}

// Is matches another CrawlError of the same kind.
func (e *CrawlError) Is(target error) bool {
	t, ok := target.(*CrawlError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Timeout reports whether the underlying cause is a timeout.
func (e *CrawlError) Timeout() bool {
	return IsTimeout(e.Cause)
}

// New creates a new CrawlError.
func New(kind Kind, url, op, message string, cause error) *CrawlError {
	return &CrawlError{
		Kind:    kind,
		URL:     url,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates a configuration error. Source names the
// file or option that was rejected.
func NewConfigurationError(source, message string, cause error) *CrawlError {
	return New(Configuration, "", source, message, cause)
}

// NewNavigationError creates a navigation error.
func NewNavigationError(url string, cause error) *CrawlError {
	msg := "page failed to load"
	if IsTimeout(cause) {
		msg = "navigation timed out"
	}
	return New(Navigation, url, "navigate", msg, cause)
}

// NewExtractionError creates an extraction error.
func NewExtractionError(url string, cause error) *CrawlError {
	return New(Extraction, url, "extract", "extractor failed", cause)
}

// NewSessionError creates a session error.
func NewSessionError(op string, cause error) *CrawlError {
	return New(Session, "", op, "browsing session unavailable", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, op string) *CrawlError {
	return New(Cancelled, url, op, "operation cancelled", context.Canceled)
}

// Categorize wraps a generic error observed while handling url.
// CrawlErrors pass through unchanged.
func Categorize(err error, url string) *CrawlError {
	if err == nil {
		return nil
	}

	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "crawl")
	}

	return New(Unknown, url, "crawl", err.Error(), err)
}

// KindOf extracts the kind from an error.
func KindOf(err error) Kind {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Unknown
}

// IsFatal reports whether err must abort the crawl.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).IsFatal()
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return KindOf(err) == Configuration
}

// IsTimeout checks if an error is a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}
