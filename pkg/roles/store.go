// Package roles reads and aggregates the independent role sources: the
// administrator registry and the role-assignment registry.
package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Role names stored in the role-assignment registry
const (
	RoleTraveler  = "traveler"
	RoleOrganizer = "organizer"
)

// ErrAdministratorNotFound means the subject has no administrator registry
// entry to remove
var ErrAdministratorNotFound = errors.New("administrator not found")

// Store persists the administrator registry and the role-assignment
// registry. They are independent data sources: presence in one never
// implies anything about the other.
type Store struct {
	db *sql.DB
}

// NewStore creates a role registry store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsAdministrator tests for a subject's entry in the administrator registry
func (s *Store) IsAdministrator(ctx context.Context, subjectID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM admin_registry WHERE subject_id = $1)`, subjectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check admin registry: %w", err)
	}
	return exists, nil
}

// AssignmentFor returns the subject's role-assignment row, or "" when the
// subject has no assignment. At most one row exists per subject.
func (s *Store) AssignmentFor(ctx context.Context, subjectID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM role_assignments WHERE subject_id = $1`, subjectID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read role assignment: %w", err)
	}
	return role, nil
}

// UpsertAssignment writes a role assignment with last-write-wins semantics.
// Writes are idempotent by design: repeating a grant changes nothing.
func (s *Store) UpsertAssignment(ctx context.Context, subjectID, role string) error {
	query := `
		INSERT INTO role_assignments (subject_id, role)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := s.db.ExecContext(ctx, query, subjectID, role); err != nil {
		return fmt.Errorf("failed to upsert role assignment: %w", err)
	}
	return nil
}

// AddAdministrator inserts a subject into the administrator registry.
// Only reachable through an existing administrator; never self-service.
func (s *Store) AddAdministrator(ctx context.Context, subjectID string) error {
	query := `
		INSERT INTO admin_registry (subject_id)
		VALUES ($1)
		ON CONFLICT (subject_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, subjectID); err != nil {
		return fmt.Errorf("failed to add administrator: %w", err)
	}
	return nil
}

// RemoveAdministrator deletes a subject from the administrator registry.
// Returns ErrAdministratorNotFound when no registry entry exists; any other
// error is a store failure.
func (s *Store) RemoveAdministrator(ctx context.Context, subjectID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM admin_registry WHERE subject_id = $1`, subjectID)
	if err != nil {
		return fmt.Errorf("failed to remove administrator: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAdministratorNotFound
	}

	return nil
}
