package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const (
	archiveQueueSize = 1024
	archiveTimeout   = 5 * time.Second
	maxListLimit     = 100
)

type archiveJob struct {
	sessionID string
	event     *entities.TranscriptEvent
	record    *entities.TranscriptRecord
}

// TranscriptArchive stores finished sessions and publishes transcript events.
// Work is done on a single background goroutine so sessions never wait on storage.
type TranscriptArchive struct {
	repo      repositories.TranscriptRepository
	publisher repositories.TranscriptPublisher
	logger    *zap.Logger

	queue     chan archiveJob
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTranscriptArchive creates the archive and starts its worker. publisher may be nil.
func NewTranscriptArchive(repo repositories.TranscriptRepository, publisher repositories.TranscriptPublisher, logger *zap.Logger) *TranscriptArchive {
	a := &TranscriptArchive{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		queue:     make(chan archiveJob, archiveQueueSize),
		done:      make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// TranscriptEmitted queues the event for publishing
func (a *TranscriptArchive) TranscriptEmitted(sessionID string, event entities.TranscriptEvent) {
	if a.publisher == nil {
		return
	}
	a.enqueue(archiveJob{sessionID: sessionID, event: &event})
}

// SessionFinished queues the record for storage
func (a *TranscriptArchive) SessionFinished(record entities.TranscriptRecord) {
	a.enqueue(archiveJob{sessionID: record.SessionID, record: &record})
}

// Get returns the archived record of a session
func (a *TranscriptArchive) Get(ctx context.Context, sessionID string) (*entities.TranscriptRecord, error) {
	return a.repo.GetBySessionID(ctx, sessionID)
}

// List returns the most recent records, newest first
func (a *TranscriptArchive) List(ctx context.Context, limit int) ([]entities.TranscriptRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return a.repo.ListRecent(ctx, limit)
}

// Close drains what is already queued and stops the worker
func (a *TranscriptArchive) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	a.wg.Wait()
	if a.publisher != nil {
		return a.publisher.Close()
	}
	return nil
}

func (a *TranscriptArchive) enqueue(job archiveJob) {
	select {
	case <-a.done:
		a.logger.Warn("Archive closed, dropping job", zap.String("sessionID", job.sessionID))
		return
	default:
	}
	select {
	case a.queue <- job:
	default:
		a.logger.Warn("Archive queue full, dropping job", zap.String("sessionID", job.sessionID))
	}
}

func (a *TranscriptArchive) run() {
	defer a.wg.Done()
	for {
		select {
		case job := <-a.queue:
			a.handle(job)
		case <-a.done:
			for {
				select {
				case job := <-a.queue:
					a.handle(job)
				default:
					return
				}
			}
		}
	}
}

func (a *TranscriptArchive) handle(job archiveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	switch {
	case job.event != nil:
		if err := a.publisher.Publish(ctx, job.sessionID, *job.event); err != nil {
			a.logger.Error("Failed to publish transcript event",
				zap.String("sessionID", job.sessionID),
				zap.Int64("sequence", job.event.Sequence),
				zap.Error(err))
		}
	case job.record != nil:
		if err := a.repo.Save(ctx, *job.record); err != nil {
			a.logger.Error("Failed to archive transcript",
				zap.String("sessionID", job.sessionID),
				zap.Error(err))
			return
		}
		a.logger.Debug("Transcript archived",
			zap.String("sessionID", job.sessionID),
			zap.String("status", string(job.record.Status)))
	}
}

// IsNotFound reports whether err means the archive has no such session
func IsNotFound(err error) bool {
	return errors.Is(err, repositories.ErrTranscriptNotFound)
}
