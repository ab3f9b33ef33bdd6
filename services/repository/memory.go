package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps records in process memory. It backs tests and
// local runs without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func memKey(sourceID, naturalKey string) string {
	return sourceID + "\x00" + naturalKey
}

// Upsert implements Repository
func (m *MemoryRepository) Upsert(ctx context.Context, sourceID, naturalKey string, fields map[string]any) (Action, error) {
	candidate, err := recordFromFields(sourceID, naturalKey, fields, m.now())
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(sourceID, naturalKey)
	existing, ok := m.records[key]
	if !ok {
		m.records[key] = candidate
		return ActionCreated, nil
	}

	if recordChanged(existing, candidate) {
		m.records[key] = candidate
		return ActionUpdated, nil
	}

	existing.IsActive = true
	existing.LastSeenAt = candidate.LastSeenAt
	return ActionUnchanged, nil
}

// FindByNaturalKey implements Repository
func (m *MemoryRepository) FindByNaturalKey(ctx context.Context, sourceID, naturalKey string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[memKey(sourceID, naturalKey)]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// DeactivateStale implements Repository
func (m *MemoryRepository) DeactivateStale(ctx context.Context, sourceID string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, rec := range m.records {
		if rec.SourceID != sourceID || !rec.IsActive {
			continue
		}
		if rec.LastSeenAt.Before(cutoff) {
			rec.IsActive = false
			count++
		}
	}
	return count, nil
}

// CountActive implements Repository
func (m *MemoryRepository) CountActive(ctx context.Context, sourceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, rec := range m.records {
		if rec.SourceID == sourceID && rec.IsActive {
			count++
		}
	}
	return count, nil
}

// SetClock overrides the time source for tests
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.now = now
}
