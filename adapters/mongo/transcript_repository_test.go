package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

var _ repositories.TranscriptRepository = &TranscriptRepository{}

// TestTranscriptRepository_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestTranscriptRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, mongoURI, "speechgate_test", zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		client.Database.Drop(ctx)
		client.Close(ctx)
	}()

	repo := NewTranscriptRepository(client.Database)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes() error = %v", err)
	}

	now := time.Now().UTC()
	t.Run("SaveAndGet", func(t *testing.T) {
		record := entities.TranscriptRecord{
			SessionID: "session-001",
			Provider:  entities.ProviderGoogleV2,
			Text:      "hello world",
			Status:    entities.TranscriptStatusCompleted,
			StartedAt: now.Add(-time.Minute),
			EndedAt:   now,
		}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		record.Text = "hello world again"
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("Save() upsert error = %v", err)
		}

		got, err := repo.GetBySessionID(ctx, "session-001")
		if err != nil {
			t.Fatalf("GetBySessionID() error = %v", err)
		}
		if got.Text != "hello world again" || got.Provider != entities.ProviderGoogleV2 {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("ReusedSessionID", func(t *testing.T) {
		first := entities.TranscriptRecord{SessionID: "session-reused", Text: "first", Status: entities.TranscriptStatusCompleted,
			StartedAt: now.Add(-2 * time.Minute), EndedAt: now.Add(-time.Minute)}
		second := first
		second.Text = "second"
		second.StartedAt = now.Add(-30 * time.Second)
		second.EndedAt = now.Add(-20 * time.Second)
		for _, r := range []entities.TranscriptRecord{first, second} {
			if err := repo.Save(ctx, r); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
		}

		got, err := repo.GetBySessionID(ctx, "session-reused")
		if err != nil {
			t.Fatalf("GetBySessionID() error = %v", err)
		}
		if got.Text != "second" {
			t.Errorf("Text = %q, want second", got.Text)
		}
		count, err := client.Database.Collection(transcriptsCollection).CountDocuments(ctx, bson.M{"session_id": "session-reused"})
		if err != nil {
			t.Fatalf("CountDocuments() error = %v", err)
		}
		if count != 2 {
			t.Errorf("stored recordings = %d, want 2", count)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetBySessionID(ctx, "missing")
		if !errors.Is(err, repositories.ErrTranscriptNotFound) {
			t.Errorf("error = %v, want ErrTranscriptNotFound", err)
		}
	})

	t.Run("ListRecent", func(t *testing.T) {
		older := entities.TranscriptRecord{SessionID: "session-000", Status: entities.TranscriptStatusFailed, EndedAt: now.Add(-time.Hour)}
		if err := repo.Save(ctx, older); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		list, err := repo.ListRecent(ctx, 1)
		if err != nil {
			t.Fatalf("ListRecent() error = %v", err)
		}
		if len(list) != 1 || list[0].SessionID != "session-001" {
			t.Errorf("ListRecent() = %+v", list)
		}
	})
}
