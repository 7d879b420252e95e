// Package postgres stores transcript records in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const connectTimeout = 15 * time.Second

const selectColumns = `session_id, connection_id, provider, language, text, final_count,
	last_sequence, status, error, started_at, ended_at`

type TranscriptRepository struct {
	pool *pgxpool.Pool
}

func NewTranscriptRepository(pool *pgxpool.Pool) *TranscriptRepository {
	return &TranscriptRepository{pool: pool}
}

// Connect opens a pool, pings it and applies the schema
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return p, nil
}

// Save stores one recording. A session id reused after its session closed
// gets its own row, keyed by start time.
func (r *TranscriptRepository) Save(ctx context.Context, record entities.TranscriptRecord) error {
	if record.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcripts (session_id, connection_id, provider, language, text, final_count,
			last_sequence, status, error, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id, started_at) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			provider = EXCLUDED.provider,
			language = EXCLUDED.language,
			text = EXCLUDED.text,
			final_count = EXCLUDED.final_count,
			last_sequence = EXCLUDED.last_sequence,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			ended_at = EXCLUDED.ended_at`,
		record.SessionID, record.ConnectionID, string(record.Provider), record.Language, record.Text,
		record.FinalCount, record.LastSequence, string(record.Status), record.Error,
		record.StartedAt, record.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to save transcript %s: %w", record.SessionID, err)
	}
	return nil
}

// GetBySessionID returns the latest recording made under sessionID
func (r *TranscriptRepository) GetBySessionID(ctx context.Context, sessionID string) (*entities.TranscriptRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM transcripts WHERE session_id = $1 ORDER BY started_at DESC LIMIT 1`,
		sessionID)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repositories.ErrTranscriptNotFound
		}
		return nil, err
	}
	return record, nil
}

func (r *TranscriptRepository) ListRecent(ctx context.Context, limit int) ([]entities.TranscriptRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM transcripts ORDER BY ended_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []entities.TranscriptRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *record)
	}
	return list, rows.Err()
}

func scanRecord(row pgx.Row) (*entities.TranscriptRecord, error) {
	var (
		r        entities.TranscriptRecord
		provider string
		status   string
	)
	err := row.Scan(&r.SessionID, &r.ConnectionID, &provider, &r.Language, &r.Text, &r.FinalCount,
		&r.LastSequence, &status, &r.Error, &r.StartedAt, &r.EndedAt)
	if err != nil {
		return nil, err
	}
	r.Provider = entities.Provider(provider)
	r.Status = entities.TranscriptStatus(status)
	return &r, nil
}
