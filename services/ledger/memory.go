package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	apperr "priceowl/scrapeworker/pkg/errors"
)

// MemoryStore keeps ledger entries in process memory for tests and
// database-free runs
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[int64]*Entry),
		nextID:  1,
		now:     time.Now,
	}
}

// Start implements Store
func (m *MemoryStore) Start(ctx context.Context, sourceID string) (int64, error) {
	if sourceID == "" {
		return 0, apperr.NewValidation("", "source id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.entries[id] = &Entry{
		ID:        id,
		SourceID:  sourceID,
		Status:    StatusStarted,
		StartedAt: m.now(),
	}
	return id, nil
}

// RecordError implements Store
func (m *MemoryStore) RecordError(ctx context.Context, runID int64, stage string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[runID]
	if !ok {
		return apperr.NewStorage("", "unknown run id", nil)
	}
	entry.Errors = append(entry.Errors, ErrorEntry{
		Time:    m.now(),
		Context: stage,
		Message: err.Error(),
	})
	return nil
}

// Complete implements Store
func (m *MemoryStore) Complete(ctx context.Context, runID int64, counts Counts, status Status) error {
	if status != StatusCompleted && status != StatusPartial {
		return apperr.NewValidation("", "complete requires a completed or partial status")
	}
	return m.finalize(runID, status, counts, "")
}

// Fail implements Store
func (m *MemoryStore) Fail(ctx context.Context, runID int64, counts Counts, message string) error {
	return m.finalize(runID, StatusFailed, counts, message)
}

func (m *MemoryStore) finalize(runID int64, status Status, counts Counts, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[runID]
	if !ok {
		return apperr.NewStorage("", "unknown run id", nil)
	}
	if entry.Status != StatusStarted {
		return apperr.NewStorage(entry.SourceID, "run already finalized", nil)
	}
	now := m.now()
	entry.Status = status
	entry.FinishedAt = &now
	entry.Counts = counts
	entry.Message = message
	return nil
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, runID int64) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[runID]
	if !ok {
		return nil, nil
	}
	cp := *entry
	cp.Errors = append([]ErrorEntry(nil), entry.Errors...)
	return &cp, nil
}

// Recent implements Store
func (m *MemoryStore) Recent(ctx context.Context, sourceID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, entry := range m.entries {
		if entry.SourceID != sourceID {
			continue
		}
		cp := *entry
		cp.Errors = append([]ErrorEntry(nil), entry.Errors...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// StatsFor implements Store
func (m *MemoryStore) StatsFor(ctx context.Context, sourceID string, since time.Time) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{SourceID: sourceID}
	var total time.Duration
	for _, entry := range m.entries {
		if entry.SourceID != sourceID || entry.FinishedAt == nil || entry.StartedAt.Before(since) {
			continue
		}
		stats.TotalRuns++
		total += entry.Duration()
		switch entry.Status {
		case StatusCompleted, StatusPartial:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.TotalRuns)
		stats.AvgDuration = total / time.Duration(stats.TotalRuns)
	}
	return stats, nil
}

// Cleanup implements Store
func (m *MemoryStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for id, entry := range m.entries {
		if entry.FinishedAt != nil && entry.FinishedAt.Before(cutoff) {
			delete(m.entries, id)
			count++
		}
	}
	return count, nil
}

// SetClock overrides the time source for tests
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.now = now
}
