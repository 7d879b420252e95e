package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/speechgate/domain/entities"
)

// ErrTranscriptNotFound is returned when no record exists for a session
var ErrTranscriptNotFound = errors.New("transcript not found")

// TranscriptRepository stores the outcome of finished streaming sessions
type TranscriptRepository interface {
	Save(ctx context.Context, record entities.TranscriptRecord) error
	GetBySessionID(ctx context.Context, sessionID string) (*entities.TranscriptRecord, error)
	ListRecent(ctx context.Context, limit int) ([]entities.TranscriptRecord, error)
}

// TranscriptPublisher fans transcript events out to downstream consumers
type TranscriptPublisher interface {
	Publish(ctx context.Context, sessionID string, event entities.TranscriptEvent) error
	Close() error
}
