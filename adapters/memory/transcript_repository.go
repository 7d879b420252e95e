// Package memory keeps transcript records in process memory.
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

// DefaultCapacity bounds how many records are kept before the oldest are evicted
const DefaultCapacity = 1000

// TranscriptRepository is an in-memory implementation of repositories.TranscriptRepository
type TranscriptRepository struct {
	mu       sync.RWMutex
	records  map[string]entities.TranscriptRecord // recording key -> record
	order    []string                             // insertion order, oldest first
	capacity int
}

// NewTranscriptRepository creates a repository holding at most capacity records
func NewTranscriptRepository(capacity int) *TranscriptRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TranscriptRepository{
		records:  make(map[string]entities.TranscriptRecord),
		capacity: capacity,
	}
}

// Save stores the record. Saving the same recording again replaces it, a
// later recording under a reused session id is kept alongside.
func (m *TranscriptRepository) Save(ctx context.Context, record entities.TranscriptRecord) error {
	if record.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	key := recordingKey(record)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[key]; !exists {
		m.order = append(m.order, key)
	}
	m.records[key] = record

	for len(m.order) > m.capacity {
		delete(m.records, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// GetBySessionID returns the latest recording made under sessionID
func (m *TranscriptRepository) GetBySessionID(ctx context.Context, sessionID string) (*entities.TranscriptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *entities.TranscriptRecord
	for _, r := range m.records {
		if r.SessionID != sessionID {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			record := r
			latest = &record
		}
	}
	if latest == nil {
		return nil, repositories.ErrTranscriptNotFound
	}
	return latest, nil
}

func recordingKey(r entities.TranscriptRecord) string {
	return r.SessionID + "@" + strconv.FormatInt(r.StartedAt.UnixNano(), 10)
}

// ListRecent returns up to limit records ordered by end time, newest first
func (m *TranscriptRepository) ListRecent(ctx context.Context, limit int) ([]entities.TranscriptRecord, error) {
	m.mu.RLock()
	list := make([]entities.TranscriptRecord, 0, len(m.records))
	for _, r := range m.records {
		list = append(list, r)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].EndedAt.After(list[j].EndedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
