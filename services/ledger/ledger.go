package ledger

import (
	"context"
	"fmt"
	"time"
)

// Status of a scrape run
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusPartial marks runs that finished but skipped some listings
	StatusPartial Status = "partial"
)

// ErrorEntry is one error recorded during a run
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Context string    `json:"context"`
	Message string    `json:"message"`
}

// Counts aggregates per-run record outcomes
type Counts struct {
	Found       int `json:"found"`
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Unchanged   int `json:"unchanged"`
	Deactivated int `json:"deactivated"`
}

// Entry is the ledger row for a single run of a source
type Entry struct {
	ID         int64
	SourceID   string
	Status     Status
	StartedAt  time.Time
	FinishedAt *time.Time
	Counts     Counts
	Errors     []ErrorEntry
	Message    string
}

// Duration returns the run duration, zero while the run is open
func (e *Entry) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// FormatDuration renders a duration as "1h 23m 45s", dropping leading
// zero units
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// Stats summarizes recent runs of one source
type Stats struct {
	SourceID    string
	TotalRuns   int
	Completed   int
	Failed      int
	SuccessRate float64
	AvgDuration time.Duration
}

// Store persists the run ledger. A run moves from started to exactly one
// terminal status; implementations reject a second finalization.
type Store interface {
	// Start opens a ledger entry and returns its id
	Start(ctx context.Context, sourceID string) (int64, error)

	// RecordError appends an error to the run's trail; stage names where
	// in the run it happened (for example "page 3")
	RecordError(ctx context.Context, runID int64, stage string, err error) error

	// Complete finalizes the run as completed (or partial when skipped
	// listings were reported alongside successes)
	Complete(ctx context.Context, runID int64, counts Counts, status Status) error

	// Fail finalizes the run as failed with a terminal message, keeping
	// whatever counts were collected before the failure
	Fail(ctx context.Context, runID int64, counts Counts, message string) error

	// Get returns the entry or nil when absent
	Get(ctx context.Context, runID int64) (*Entry, error)

	// Recent returns the latest runs of a source, newest first
	Recent(ctx context.Context, sourceID string, limit int) ([]*Entry, error)

	// StatsFor aggregates the source's finished runs over the window
	StatsFor(ctx context.Context, sourceID string, since time.Time) (*Stats, error)

	// Cleanup deletes finished entries older than cutoff and returns how
	// many were removed
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}
