package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied at startup. Every statement is idempotent so restarts
// are safe without a separate migration runner.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS admin_registry (
		subject_id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS role_assignments (
		subject_id TEXT PRIMARY KEY,
		role       TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS user_profiles (
		subject_id       TEXT PRIMARY KEY,
		display_name     TEXT,
		avatar_ref       TEXT,
		organizer_status TEXT,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS organizer_verifications (
		id         TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		doc1_ref   TEXT NOT NULL,
		doc2_ref   TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// One pending application per subject, enforced at the database even if
	// two submissions race past the application-level check.
	`CREATE UNIQUE INDEX IF NOT EXISTS organizer_verifications_one_pending
		ON organizer_verifications (subject_id)
		WHERE status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS organizer_verifications_subject_created
		ON organizer_verifications (subject_id, created_at DESC)`,

	`CREATE INDEX IF NOT EXISTS organizer_verifications_status
		ON organizer_verifications (status)`,
}

// EnsureSchema creates the tables and indexes if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
