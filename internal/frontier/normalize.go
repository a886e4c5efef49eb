package frontier

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Normalize returns the canonical form of an absolute http(s) URL: lowercase
// scheme, lowercase ASCII host without default port, "/" for an empty path,
// query kept verbatim, fragment removed. Normalize is idempotent.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	return normalizeURL(u)
}

// Resolve resolves href against base and normalizes the result.
func Resolve(base, href string) (string, error) {
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("invalid href %q: %w", href, err)
	}
	return normalizeURL(b.ResolveReference(ref))
}

// Host returns the normalized host[:port] of a URL, or "" when it cannot be
// normalized.
func Host(rawURL string) string {
	n, err := Normalize(rawURL)
	if err != nil {
		return ""
	}
	u, _ := url.Parse(n)
	return u.Host
}

func normalizeURL(u *url.URL) (string, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("URL %q has no host", u.String())
	}

	host, err := idna.Lookup.ToASCII(strings.ToLower(u.Hostname()))
	if err != nil {
		// Not every reachable host is IDNA-valid (underscores, for one).
		host = strings.ToLower(u.Hostname())
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	n := &url.URL{
		Scheme:   scheme,
		User:     u.User,
		Host:     host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}
	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return n.String(), nil
}
