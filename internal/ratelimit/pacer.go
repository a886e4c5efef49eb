package ratelimit

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DelaySource reports a minimum delay between requests to host, such as a
// robots.txt Crawl-delay.
type DelaySource interface {
	CrawlDelay(host string) time.Duration
}

// Pacer applies a fixed delay after every processed URL, whatever its
// outcome.
type Pacer struct {
	interval time.Duration
	sleep    func(context.Context, time.Duration) error

	delays DelaySource
	host   string
}

// NewPacer creates a pacer. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval, sleep: Sleep}
}

// WithCrawlDelay makes Wait honor the delay src reports for host whenever
// it is longer than the interval.
func (p *Pacer) WithCrawlDelay(src DelaySource, host string) *Pacer {
	p.delays = src
	p.host = host
	return p
}

func (p *Pacer) delay() time.Duration {
	d := p.interval
	if p.delays != nil {
		if cd := p.delays.CrawlDelay(p.host); cd > d {
			d = cd
		}
	}
	return d
}

// Wait blocks for the interval, or the crawl delay when that is longer.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	d := p.delay()
	if d <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, d)
}

// SecondsToDuration converts a fractional number of seconds.
func SecondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
