// Package output persists crawl reports and page screenshots.
package output

import (
	"context"
	"errors"
)

// Writer persists a report and returns where it was written.
type Writer interface {
	Write(ctx context.Context, report *Report) (string, error)
	Close() error
}

// MultiWriter writes a report to several writers. The location returned is
// the first writer's.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter combines writers, skipping nil ones.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// Write writes report to every writer and joins their errors.
func (m *MultiWriter) Write(ctx context.Context, report *Report) (string, error) {
	var (
		location string
		errs     []error
	)
	for i, w := range m.writers {
		loc, err := w.Write(ctx, report)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 {
			location = loc
		}
	}
	return location, errors.Join(errs...)
}

// Close closes every writer.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
