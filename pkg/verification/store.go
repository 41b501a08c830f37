package verification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/roles"
)

// Store persists verification applications in PostgreSQL. All multi-row
// state changes run inside a single transaction so the application status,
// the role grant, and the profile mirror never diverge on a crash.
type Store struct {
	db *sql.DB
}

// NewStore creates a verification application store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Submit records a new application and marks the profile mirror pending.
// At most one pending application may exist per subject: the pending row is
// locked before the insert, and a partial unique index on
// (subject_id) WHERE status = 'pending' backstops concurrent submitters.
func (s *Store) Submit(ctx context.Context, subjectID, doc1Ref, doc2Ref string) (*Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM organizer_verifications WHERE subject_id = $1 AND status = 'pending' FOR UPDATE`,
		subjectID,
	).Scan(&existingID)
	if err == nil {
		return nil, identity.ErrApplicationAlreadyPending
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check pending applications: %w", err)
	}

	app := &Application{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Doc1Ref:   doc1Ref,
		Doc2Ref:   doc2Ref,
		Status:    StatusPending,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO organizer_verifications (id, subject_id, doc1_ref, doc2_ref, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, app.ID, app.SubjectID, app.Doc1Ref, app.Doc2Ref, app.Status).Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, identity.ErrApplicationAlreadyPending
		}
		return nil, fmt.Errorf("failed to insert application: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_profiles (subject_id, organizer_status)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE SET organizer_status = EXCLUDED.organizer_status
	`, subjectID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to update status mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit application: %w", err)
	}
	return app, nil
}

// Decide rules on a pending application. The row is locked for the duration
// of the transaction; any status other than pending fails with
// ErrInvalidTransition and leaves all state untouched. On approval the
// application status is written first, then the organizer grant and the
// mirror, all in the same transaction.
func (s *Store) Decide(ctx context.Context, applicationID string, decision Decision) (*Application, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: unknown decision %q", identity.ErrInvalidTransition, decision)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	app := &Application{ID: applicationID}
	err = tx.QueryRowContext(ctx, `
		SELECT subject_id, doc1_ref, doc2_ref, status, created_at
		FROM organizer_verifications
		WHERE id = $1
		FOR UPDATE
	`, applicationID).Scan(&app.SubjectID, &app.Doc1Ref, &app.Doc2Ref, &app.Status, &app.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: application %s not found", identity.ErrInvalidTransition, applicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read application: %w", err)
	}

	if app.Status != StatusPending {
		return nil, fmt.Errorf("%w: application is %s, expected pending", identity.ErrInvalidTransition, app.Status)
	}

	newStatus := StatusRejected
	if decision == DecisionApproved {
		newStatus = StatusApproved
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE organizer_verifications
		SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING updated_at
	`, newStatus, applicationID).Scan(&app.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update application status: %w", err)
	}
	app.Status = newStatus

	if decision == DecisionApproved {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO role_assignments (subject_id, role)
			VALUES ($1, $2)
			ON CONFLICT (subject_id) DO UPDATE SET role = EXCLUDED.role
		`, app.SubjectID, roles.RoleOrganizer)
		if err != nil {
			return nil, fmt.Errorf("failed to grant organizer role: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_profiles (subject_id, organizer_status)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE SET organizer_status = EXCLUDED.organizer_status
	`, app.SubjectID, newStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to update status mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit decision: %w", err)
	}
	return app, nil
}

// Get reads a single application by ID
func (s *Store) Get(ctx context.Context, applicationID string) (*Application, error) {
	app := &Application{ID: applicationID}
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_id, doc1_ref, doc2_ref, status, created_at, updated_at
		FROM organizer_verifications
		WHERE id = $1
	`, applicationID).Scan(&app.SubjectID, &app.Doc1Ref, &app.Doc2Ref, &app.Status, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read application: %w", err)
	}
	return app, nil
}

// LatestFor returns the subject's most recent application, or nil when the
// subject has never applied
func (s *Store) LatestFor(ctx context.Context, subjectID string) (*Application, error) {
	app := &Application{SubjectID: subjectID}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, doc1_ref, doc2_ref, status, created_at, updated_at
		FROM organizer_verifications
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, subjectID).Scan(&app.ID, &app.Doc1Ref, &app.Doc2Ref, &app.Status, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest application: %w", err)
	}
	return app, nil
}

// List returns applications most recent first, optionally filtered by status
func (s *Store) List(ctx context.Context, status Status, limit, offset int) ([]*Application, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT id, subject_id, doc1_ref, doc2_ref, status, created_at, updated_at
		FROM organizer_verifications
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		app := &Application{}
		if err := rows.Scan(&app.ID, &app.SubjectID, &app.Doc1Ref, &app.Doc2Ref, &app.Status, &app.CreatedAt, &app.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ApprovedWithoutGrant finds subjects whose latest application is approved
// but who hold no organizer assignment. These are repair targets for the
// reconciler; a healthy system returns none.
func (s *Store) ApprovedWithoutGrant(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT v.subject_id
		FROM organizer_verifications v
		LEFT JOIN role_assignments a ON a.subject_id = v.subject_id AND a.role = $1
		WHERE v.status = 'approved' AND a.subject_id IS NULL
	`, roles.RoleOrganizer)
	if err != nil {
		return nil, fmt.Errorf("failed to find approved applications without grants: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, id)
	}
	return subjects, rows.Err()
}

// MirrorDrift finds subjects whose profile mirror disagrees with the status
// of their latest application
func (s *Store) MirrorDrift(ctx context.Context) (map[string]Status, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.subject_id, v.status
		FROM organizer_verifications v
		JOIN (
			SELECT subject_id, MAX(created_at) AS created_at
			FROM organizer_verifications
			GROUP BY subject_id
		) latest ON latest.subject_id = v.subject_id AND latest.created_at = v.created_at
		JOIN user_profiles p ON p.subject_id = v.subject_id
		WHERE p.organizer_status IS DISTINCT FROM v.status::text
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to find mirror drift: %w", err)
	}
	defer rows.Close()

	drift := make(map[string]Status)
	for rows.Next() {
		var id string
		var status Status
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan drift row: %w", err)
		}
		drift[id] = status
	}
	return drift, rows.Err()
}

// isUniqueViolation matches the postgres unique_violation error class
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
