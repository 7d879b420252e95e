package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const transcriptsCollection = "transcripts"

type TranscriptRepository struct {
	collection *mongo.Collection
}

// NewTranscriptRepository creates a new MongoDB transcript repository
func NewTranscriptRepository(db *mongo.Database) *TranscriptRepository {
	return &TranscriptRepository{
		collection: db.Collection(transcriptsCollection),
	}
}

// EnsureIndexes creates the unique recording index and the recency index
func (r *TranscriptRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "started_at", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "ended_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create transcript indexes: %w", err)
	}
	return nil
}

// Save implements repositories.TranscriptRepository. Recordings are keyed by
// session id and start time, so a reused session id does not replace an earlier one.
func (r *TranscriptRepository) Save(ctx context.Context, record entities.TranscriptRecord) error {
	if record.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"session_id": record.SessionID, "started_at": record.StartedAt},
		record,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript %s: %w", record.SessionID, err)
	}
	return nil
}

// GetBySessionID returns the latest recording made under sessionID
func (r *TranscriptRepository) GetBySessionID(ctx context.Context, sessionID string) (*entities.TranscriptRecord, error) {
	var record entities.TranscriptRecord
	err := r.collection.FindOne(ctx,
		bson.M{"session_id": sessionID},
		options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}}),
	).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("failed to get transcript %s: %w", sessionID, err)
	}
	return &record, nil
}

// ListRecent implements repositories.TranscriptRepository
func (r *TranscriptRepository) ListRecent(ctx context.Context, limit int) ([]entities.TranscriptRecord, error) {
	opts := options.Find().SetSort(bson.M{"ended_at": -1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer cursor.Close(ctx)

	var records []entities.TranscriptRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode transcripts: %w", err)
	}
	return records, nil
}
