package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE transcript_status AS ENUM ('completed', 'failed', 'aborted'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		session_id TEXT NOT NULL,
		connection_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		final_count INTEGER NOT NULL DEFAULT 0,
		last_sequence BIGINT NOT NULL DEFAULT 0,
		status transcript_status NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, started_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_ended_at ON transcripts (ended_at DESC)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
