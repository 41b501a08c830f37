package verification

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/roles"
)

func TestSubmitBlockedByPendingApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM organizer_verifications`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-app"))
	mock.ExpectRollback()

	store := NewStore(db)
	app, err := store.Submit(context.Background(), "u1", "u1/a.png", "u1/b.png")
	assert.Nil(t, app)
	assert.ErrorIs(t, err, identity.ErrApplicationAlreadyPending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitCreatesApplicationAndMirror(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM organizer_verifications`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO organizer_verifications`).
		WithArgs(sqlmock.AnyArg(), "u1", "u1/a.png", "u1/b.png", StatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`INSERT INTO user_profiles`).
		WithArgs("u1", StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	app, err := store.Submit(context.Background(), "u1", "u1/a.png", "u1/b.png")
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, StatusPending, app.Status)
	assert.NotEmpty(t, app.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideRejectsNonPendingApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT subject_id, doc1_ref, doc2_ref, status, created_at`).
		WithArgs("app1").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "doc1_ref", "doc2_ref", "status", "created_at"}).
			AddRow("u1", "u1/a.png", "u1/b.png", StatusApproved, time.Now()))
	mock.ExpectRollback()

	store := NewStore(db)
	app, err := store.Decide(context.Background(), "app1", DecisionApproved)
	assert.Nil(t, app)
	assert.ErrorIs(t, err, identity.ErrInvalidTransition,
		"deciding an already decided application must fail and change nothing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideUnknownApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT subject_id, doc1_ref, doc2_ref, status, created_at`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "doc1_ref", "doc2_ref", "status", "created_at"}))
	mock.ExpectRollback()

	store := NewStore(db)
	_, err = store.Decide(context.Background(), "ghost", DecisionRejected)
	assert.ErrorIs(t, err, identity.ErrInvalidTransition)
}

func TestDecideInvalidDecision(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	_, err = store.Decide(context.Background(), "app1", Decision("maybe"))
	assert.ErrorIs(t, err, identity.ErrInvalidTransition)
}

func TestDecideApprovalGrantsOrganizerInSameTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT subject_id, doc1_ref, doc2_ref, status, created_at`).
		WithArgs("app1").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "doc1_ref", "doc2_ref", "status", "created_at"}).
			AddRow("u1", "u1/a.png", "u1/b.png", StatusPending, now))
	// Status write comes first, then the grant, then the mirror.
	mock.ExpectQuery(`UPDATE organizer_verifications`).
		WithArgs(StatusApproved, "app1").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectExec(`INSERT INTO role_assignments`).
		WithArgs("u1", roles.RoleOrganizer).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO user_profiles`).
		WithArgs("u1", StatusApproved).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	app, err := store.Decide(context.Background(), "app1", DecisionApproved)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, app.Status)
	assert.Equal(t, "u1", app.SubjectID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideRejectionGrantsNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT subject_id, doc1_ref, doc2_ref, status, created_at`).
		WithArgs("app1").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "doc1_ref", "doc2_ref", "status", "created_at"}).
			AddRow("u1", "u1/a.png", "u1/b.png", StatusPending, now))
	mock.ExpectQuery(`UPDATE organizer_verifications`).
		WithArgs(StatusRejected, "app1").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectExec(`INSERT INTO user_profiles`).
		WithArgs("u1", StatusRejected).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	app, err := store.Decide(context.Background(), "app1", DecisionRejected)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, app.Status)
	assert.NoError(t, mock.ExpectationsWereMet(),
		"rejection must not touch role_assignments")
}

func TestLatestForNoApplications(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, doc1_ref, doc2_ref, status, created_at, updated_at`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "doc1_ref", "doc2_ref", "status", "created_at", "updated_at"}))

	store := NewStore(db)
	app, err := store.LatestFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, app)
}

func TestApprovedWithoutGrant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT v.subject_id`).
		WithArgs(roles.RoleOrganizer).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id"}).AddRow("u1").AddRow("u2"))

	store := NewStore(db)
	subjects, err := store.ApprovedWithoutGrant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, subjects)
}
