// Package state persists crawl checkpoints so an interrupted crawl can be
// resumed or inspected.
package state

import (
	"encoding/json"
	"time"

	"github.com/PentesterFlow/webcrawler/internal/frontier"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

// CheckpointVersion is the current checkpoint format.
const CheckpointVersion = 1

// Checkpoint is the resumable state of a crawl.
type Checkpoint struct {
	Version  int             `json:"version"`
	StartURL string          `json:"start_url"`
	Budget   frontier.Budget `json:"budget"`
	// Config is the crawler configuration the run was started with.
	Config json.RawMessage `json:"config,omitempty"`

	Depth     int              `json:"depth"`
	Visited   []string         `json:"visited"`
	Pending   []frontier.Entry `json:"pending"`
	Processed []string         `json:"processed"`
	Records   []page.Record    `json:"records"`

	Failed    int `json:"failed"`
	Rotations int `json:"rotations"`

	StartedAt time.Time `json:"started_at"`
	SavedAt   time.Time `json:"saved_at"`
	Completed bool      `json:"completed"`
}

// Snapshot returns the frontier part of the checkpoint.
func (c *Checkpoint) Snapshot() frontier.Snapshot {
	return frontier.Snapshot{Visited: c.Visited, Pending: c.Pending}
}

// Resumable reports whether there is work left.
func (c *Checkpoint) Resumable() bool {
	return !c.Completed && len(c.Pending) > 0 && len(c.Processed) < c.Budget.MaxPages
}

// Summary is a short description of a checkpoint for status output.
type Summary struct {
	StartURL  string    `json:"start_url"`
	Depth     int       `json:"depth"`
	Visited   int       `json:"visited"`
	Processed int       `json:"processed"`
	Pending   int       `json:"pending"`
	Records   int       `json:"records"`
	Failed    int       `json:"failed"`
	Completed bool      `json:"completed"`
	SavedAt   time.Time `json:"saved_at"`
}

// Summarize returns the checkpoint's summary.
func (c *Checkpoint) Summarize() Summary {
	return Summary{
		StartURL:  c.StartURL,
		Depth:     c.Depth,
		Visited:   len(c.Visited),
		Processed: len(c.Processed),
		Pending:   len(c.Pending),
		Records:   len(c.Records),
		Failed:    c.Failed,
		Completed: c.Completed,
		SavedAt:   c.SavedAt,
	}
}

// Store persists checkpoints. Load returns nil, nil when nothing is stored.
type Store interface {
	Save(cp *Checkpoint) error
	Load() (*Checkpoint, error)
	Close() error
}
