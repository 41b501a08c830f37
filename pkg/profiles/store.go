// Package profiles manages the profile projection: subject-owned display
// data plus the denormalized organizer status mirror.
package profiles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pennygo/gatekeeper/pkg/identity"
)

// Store persists profile projections in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a profile projection store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ProfileFor reads the projection for a subject. Returns (nil, nil) when no
// row exists yet; callers fall back to provider metadata.
func (s *Store) ProfileFor(ctx context.Context, subjectID string) (*identity.Profile, error) {
	query := `
		SELECT display_name, avatar_ref, organizer_status
		FROM user_profiles
		WHERE subject_id = $1
	`
	var displayName, avatarRef, organizerStatus sql.NullString
	err := s.db.QueryRowContext(ctx, query, subjectID).Scan(&displayName, &avatarRef, &organizerStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	return &identity.Profile{
		DisplayName:     displayName.String,
		AvatarRef:       avatarRef.String,
		OrganizerStatus: organizerStatus.String,
	}, nil
}

// Ensure creates the projection row for a subject if it does not exist.
// Called on signup so later mirror updates always have a row to hit.
func (s *Store) Ensure(ctx context.Context, subjectID string) error {
	query := `
		INSERT INTO user_profiles (subject_id)
		VALUES ($1)
		ON CONFLICT (subject_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, subjectID); err != nil {
		return fmt.Errorf("failed to ensure profile row: %w", err)
	}
	return nil
}

// UpdateDisplay mutates the subject-owned display fields
func (s *Store) UpdateDisplay(ctx context.Context, subjectID, displayName, avatarRef string) error {
	query := `
		INSERT INTO user_profiles (subject_id, display_name, avatar_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE
		SET display_name = EXCLUDED.display_name, avatar_ref = EXCLUDED.avatar_ref
	`
	if _, err := s.db.ExecContext(ctx, query, subjectID, displayName, avatarRef); err != nil {
		return fmt.Errorf("failed to update profile display: %w", err)
	}
	return nil
}

// SetOrganizerStatus writes the status mirror directly. The workflow keeps
// the mirror in step transactionally; this path exists for repair.
func (s *Store) SetOrganizerStatus(ctx context.Context, subjectID, status string) error {
	query := `
		INSERT INTO user_profiles (subject_id, organizer_status)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE SET organizer_status = EXCLUDED.organizer_status
	`
	if _, err := s.db.ExecContext(ctx, query, subjectID, status); err != nil {
		return fmt.Errorf("failed to set organizer status mirror: %w", err)
	}
	return nil
}

// OrganizerStatusFor reads only the status mirror. Returns "" when no row
// exists.
func (s *Store) OrganizerStatusFor(ctx context.Context, subjectID string) (string, error) {
	var status sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT organizer_status FROM user_profiles WHERE subject_id = $1`, subjectID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read organizer status mirror: %w", err)
	}
	return status.String, nil
}
