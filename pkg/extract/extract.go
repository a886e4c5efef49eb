// Package extract provides the extraction strategies the crawler ships with:
// a script-driven default extractor, a selector-driven product extractor and
// link extractors that read anchors from the live DOM or from its markup.
package extract

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// Scripts evaluated by the default extractor.
const (
	bodyTextScript = `() => document.body ? document.body.innerText : ""`
	metaScript     = `() => {
	const tags = {};
	document.querySelectorAll('meta').forEach(meta => {
		if (meta.name) tags[meta.name] = meta.content;
		else if (meta.getAttribute('property')) tags[meta.getAttribute('property')] = meta.content;
	});
	return tags;
}`
)

// MaxBodyText is the number of characters of body text kept in a record.
const MaxBodyText = 1000

// Record keys set by Default.
const (
	KeyBodyText = "body_text"
	KeyMetaTags = "meta_tags"
)

// Default extracts url, title, timestamp, truncated body text and meta tags.
type Default struct {
	// Now is used for the timestamp; time.Now when nil.
	Now func() time.Time
}

var _ page.Extractor = Default{}

// Extract implements page.Extractor.
func (d Default) Extract(ctx context.Context, p page.RenderedPage) (page.Record, error) {
	current, err := p.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("current url: %w", err)
	}
	title, err := p.Title(ctx)
	if err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}

	body, err := evalString(ctx, p, bodyTextScript)
	if err != nil {
		return nil, fmt.Errorf("body text: %w", err)
	}

	raw, err := p.Evaluate(ctx, metaScript)
	if err != nil {
		return nil, fmt.Errorf("meta tags: %w", err)
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	return page.Record{
		page.KeyURL:       current,
		page.KeyTitle:     title,
		page.KeyTimestamp: now().Format(time.RFC3339Nano),
		KeyBodyText:       Truncate(body, MaxBodyText),
		KeyMetaTags:       stringMap(raw),
	}, nil
}

// Truncate cuts s to max characters and appends "..." when it was longer.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

func evalString(ctx context.Context, p page.RenderedPage, script string) (string, error) {
	v, err := p.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	default:
		return fmt.Sprint(s), nil
	}
}

func stringMap(v interface{}) map[string]string {
	out := make(map[string]string)
	m, ok := v.(map[string]interface{})
	if !ok {
		return out
	}
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		} else if val != nil {
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
